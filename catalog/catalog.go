// Package catalog holds the build-time list of supported sensor types.
package catalog

import (
	"github.com/mklimuk/fanmon/accel"
	"github.com/mklimuk/fanmon/adc"
	"github.com/mklimuk/fanmon/air"
	"github.com/mklimuk/fanmon/environment"
	"github.com/mklimuk/fanmon/gpio"
	"github.com/mklimuk/fanmon/power"
	"github.com/mklimuk/fanmon/sensor"
)

// Options tune descriptors that take board specific parameters.
type Options struct {
	Expansion sensor.Expansion
	INA226    []power.INA226Opt
	AGS02MA   []air.AGS02MAOpt
}

func DefaultOptions() Options {
	return Options{Expansion: sensor.DefaultExpansion}
}

// Descriptors returns every supported type in registration order. Where
// two types share an address the one listed first is tried first, so
// INA226 precedes Si7021 and ADS1115 precedes TC74.
func Descriptors(o Options) []sensor.Descriptor {
	return []sensor.Descriptor{
		power.INA226Descriptor(o.INA226...),
		environment.Si7021Descriptor(),
		environment.SHTC3Descriptor(),
		environment.HIH6021Descriptor(),
		environment.AHT20Descriptor(),
		environment.BME688Descriptor(),
		environment.BME280Descriptor(),
		adc.ADS1115Descriptor(o.Expansion),
		environment.TC74Descriptor(),
		environment.BH1750Descriptor(),
		air.ZMOD4510Descriptor(),
		air.AGS02MADescriptor(o.AGS02MA...),
		accel.BMA220Descriptor(),
		gpio.MCP23017Descriptor(),
	}
}

// NewRegistry builds a registry filled with Descriptors(o).
func NewRegistry(o Options) *sensor.Registry {
	return sensor.NewRegistry(Descriptors(o)...)
}
