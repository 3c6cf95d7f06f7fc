package power

import (
	"github.com/mklimuk/fanmon"
	"github.com/mklimuk/fanmon/sensor"
)

const MeasurementPower = "power"

// INA226Addresses are the strap options populated on our boards.
var INA226Addresses = []byte{0x40, 0x41, 0x44, 0x45}

func INA226Descriptor(opts ...INA226Opt) sensor.Descriptor {
	return sensor.Describe("INA226", MeasurementPower, INA226Addresses,
		func(t fanmon.I2CBus, a byte) sensor.Driver[sensor.Power] { return NewINA226(t, a, opts...) },
		sensor.FormatPower)
}
