package environment

import (
	"fmt"

	"github.com/mklimuk/fanmon"
	"github.com/mklimuk/fanmon/sensor"
)

// ErrNotReady is returned while a conversion has not produced data yet.
var ErrNotReady = fmt.Errorf("conversion not ready: %w", fanmon.ErrSensorTimeout)

// Atmospheric is a combined temperature, humidity, pressure and gas reading.
type Atmospheric struct {
	sensor.TempHumidity
	PressurePa    float64
	PressureValid bool
	// GasOhms is the gas sensing plate resistance.
	GasOhms  float64
	GasValid bool
}

func FormatAtmospheric(r Atmospheric) sensor.Fields {
	f := sensor.FormatTempHumidity(r.TempHumidity)
	f.SetFloatIf(r.PressureValid, "pressure_pa", r.PressurePa)
	f.SetFloatIf(r.GasValid, "gas_resistance", r.GasOhms)
	return f
}
