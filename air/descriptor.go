package air

import (
	"github.com/mklimuk/fanmon"
	"github.com/mklimuk/fanmon/sensor"
)

func AGS02MADescriptor(opts ...AGS02MAOpt) sensor.Descriptor {
	return sensor.Describe("AGS02MA", MeasurementAirQuality, []byte{ags02maAddress},
		func(t fanmon.I2CBus, _ byte) sensor.Driver[TVOC] { return NewAGS02MA(t, opts...) },
		FormatTVOC)
}

func ZMOD4510Descriptor() sensor.Descriptor {
	return sensor.Describe("ZMOD4510", MeasurementAirQuality, []byte{zmod4510Address},
		func(t fanmon.I2CBus, a byte) sensor.Driver[Ozone] { return NewZMOD4510(t, a) },
		FormatOzone)
}
