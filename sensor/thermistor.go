package sensor

import "math"

const kelvinOffset = 273.15

// ThermistorModel converts NTC resistance in ohms to degrees Celsius.
type ThermistorModel interface {
	TempC(resistance float64) float64
}

// SteinhartHart is the three coefficient model 1/T = A + B ln R + C (ln R)^3.
type SteinhartHart struct {
	A, B, C float64
}

// DefaultSteinhartHart are the coefficients of a 10k Murata NTC.
var DefaultSteinhartHart = SteinhartHart{A: 8.688e-4, B: 2.547e-4, C: 1.781e-7}

func (s SteinhartHart) TempC(r float64) float64 {
	if r <= 0 || math.IsNaN(r) || math.IsInf(r, 0) {
		return math.NaN()
	}
	l := math.Log(r)
	inv := s.A + s.B*l + s.C*l*l*l
	return 1/inv - kelvinOffset
}

// Beta is the simplified model 1/T = 1/T0 + ln(R/R0)/beta.
type Beta struct {
	R0    float64
	T0C   float64
	Coeff float64
}

var DefaultBeta = Beta{R0: 10000, T0C: 25, Coeff: 3950}

func (b Beta) TempC(r float64) float64 {
	if r <= 0 || math.IsNaN(r) || math.IsInf(r, 0) {
		return math.NaN()
	}
	inv := 1/(b.T0C+kelvinOffset) + math.Log(r/b.R0)/b.Coeff
	return 1/inv - kelvinOffset
}

// DividerResistance solves Vs - seriesR - Vpin - Rntc - GND for Rntc.
func DividerResistance(seriesR, vpin, vs float64) float64 {
	if vpin <= 0.001 || vs <= 0.001 || vpin >= vs {
		return math.NaN()
	}
	return seriesR * vpin / (vs - vpin)
}

// Range is an inclusive plausibility window.
type Range struct {
	Min, Max float64
}

var DefaultTempRange = Range{Min: -40, Max: 125}

func (r Range) Contains(v float64) bool {
	return !math.IsNaN(v) && !math.IsInf(v, 0) && v >= r.Min && v <= r.Max
}
