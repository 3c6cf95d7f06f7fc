package sensor

import "fmt"

// TempHumidity is a combined temperature and relative humidity reading.
type TempHumidity struct {
	TempC         float64
	Humidity      float64
	TempValid     bool
	HumidityValid bool
}

// Temperature is a temperature-only reading.
type Temperature struct {
	TempC float64
	Valid bool
}

// Power is a bus voltage, current and power reading from a shunt monitor.
type Power struct {
	BusVolts         float64
	ShuntMillivolts  float64
	CurrentMilliamps float64
	PowerMilliwatts  float64
	Overflow         bool
	Valid            bool
}

// Voltages holds raw channel voltages from a multi-channel converter.
type Voltages struct {
	Volts []float64
	Valid []bool
}

func FormatTempHumidity(r TempHumidity) Fields {
	f := Fields{}
	f.SetFloatIf(r.TempValid, "temp_c", r.TempC)
	f.SetFloatIf(r.HumidityValid, "humidity", r.Humidity)
	return f
}

func FormatTemperature(r Temperature) Fields {
	f := Fields{}
	f.SetFloatIf(r.Valid, "temp_c", r.TempC)
	return f
}

// FormatPower reports current in A and power in W.
func FormatPower(r Power) Fields {
	f := Fields{}
	if !r.Valid {
		return f
	}
	f.SetFloat("v_in", r.BusVolts)
	f.SetFloat("i_in", r.CurrentMilliamps/1000)
	f.SetFloat("v_shunt", r.ShuntMillivolts)
	f.SetFloat("p_in", r.PowerMilliwatts/1000)
	f.SetBool("overflow", r.Overflow)
	return f
}

// Light is an ambient light reading.
type Light struct {
	Lux   float64
	Valid bool
}

func FormatLight(r Light) Fields {
	f := Fields{}
	f.SetFloatIf(r.Valid, "lux", r.Lux)
	return f
}

// FormatVoltages reports every valid channel as ch{n}_v.
func FormatVoltages(r Voltages) Fields {
	f := Fields{}
	for i, v := range r.Volts {
		if i < len(r.Valid) && r.Valid[i] {
			f.SetFloat(fmt.Sprintf("ch%d_v", i), v)
		}
	}
	return f
}
