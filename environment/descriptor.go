package environment

import (
	"github.com/mklimuk/fanmon"
	"github.com/mklimuk/fanmon/sensor"
)

const (
	MeasurementEnvironment = "environment"
	MeasurementTemperature = "temperature"
	MeasurementLight       = "light"
)

func SHTC3Descriptor() sensor.Descriptor {
	return sensor.Describe("SHTC3", MeasurementEnvironment, []byte{shtc3Address},
		func(t fanmon.I2CBus, _ byte) sensor.Driver[sensor.TempHumidity] { return NewSHTC3(t) },
		sensor.FormatTempHumidity)
}

func HIH6021Descriptor() sensor.Descriptor {
	return sensor.Describe("HIH6021", MeasurementEnvironment, []byte{hih6021Address},
		func(t fanmon.I2CBus, _ byte) sensor.Driver[sensor.TempHumidity] { return NewHIH6021(t) },
		sensor.FormatTempHumidity)
}

func AHT20Descriptor() sensor.Descriptor {
	return sensor.Describe("AHT20", MeasurementEnvironment, []byte{aht20Address},
		func(t fanmon.I2CBus, a byte) sensor.Driver[sensor.TempHumidity] { return NewAHT20(t, a) },
		sensor.FormatTempHumidity)
}

func Si7021Descriptor() sensor.Descriptor {
	return sensor.Describe("Si7021", MeasurementEnvironment, []byte{si7021Address},
		func(t fanmon.I2CBus, a byte) sensor.Driver[sensor.TempHumidity] { return NewSi7021(t, a) },
		sensor.FormatTempHumidity)
}

func BME688Descriptor() sensor.Descriptor {
	return sensor.Describe("BME688", MeasurementEnvironment, []byte{0x76, 0x77},
		func(t fanmon.I2CBus, a byte) sensor.Driver[Atmospheric] { return NewBME688(t, a) },
		FormatAtmospheric)
}

func BME280Descriptor() sensor.Descriptor {
	return sensor.Describe("BME280", MeasurementEnvironment, []byte{0x76, 0x77},
		func(t fanmon.I2CBus, a byte) sensor.Driver[Atmospheric] { return NewBME280(t, a) },
		FormatAtmospheric)
}

func TC74Descriptor() sensor.Descriptor {
	return sensor.Describe("TC74", MeasurementTemperature, []byte{0x48, 0x49, 0x4A, 0x4B, 0x4C, 0x4D, 0x4E, 0x4F},
		func(t fanmon.I2CBus, a byte) sensor.Driver[sensor.Temperature] { return NewTC74(t, WithAddress(a)) },
		sensor.FormatTemperature)
}

func BH1750Descriptor() sensor.Descriptor {
	return sensor.Describe("BH1750", MeasurementLight, []byte{BH1750AddrLow, BH1750AddrHigh},
		func(t fanmon.I2CBus, a byte) sensor.Driver[sensor.Light] { return NewBH1750(t, a) },
		sensor.FormatLight)
}
