package adc

import (
	"context"

	"github.com/mklimuk/fanmon"
	"github.com/mklimuk/fanmon/sensor"
)

const MeasurementADC = "adc"

var _ sensor.ChannelSource = &Instance{}

// Instance is a discovered ADS1115. Besides its own channel voltages it
// spawns the virtual sensors of its expansion.
type Instance struct {
	*sensor.Concrete[sensor.Voltages]
	adc       *ADS1115
	expansion sensor.Expansion
}

func (i *Instance) ReadChannel(ctx context.Context, channel int) (float64, error) {
	return i.adc.ReadChannel(ctx, channel)
}

func (i *Instance) NeedsPostProcessing() bool {
	return i.expansion.Size() > 0
}

// CreatePostProcessedSensors builds new virtual sensors on every call.
func (i *Instance) CreatePostProcessedSensors() []sensor.Instance {
	return i.expansion.Build(i)
}

var ADS1115Addresses = []byte{0x48, 0x49, 0x4A, 0x4B}

// ADS1115Descriptor creates ADS1115 instances that expand into the virtual
// sensors described by expansion.
func ADS1115Descriptor(expansion sensor.Expansion) sensor.Descriptor {
	d := sensor.Descriptor{
		TypeName:       "ADS1115",
		Measurement:    MeasurementADC,
		Addresses:      ADS1115Addresses,
		PostProcessing: expansion.Size() > 0,
	}
	d.Factory = func(ctx context.Context, bus fanmon.Bus, address byte) (sensor.Instance, error) {
		transport, err := bus.Select(ctx)
		if err != nil {
			return nil, err
		}
		drv := NewADS1115(transport, address)
		c, err := sensor.Start(ctx, d.Info(bus, address), sensor.Driver[sensor.Voltages](drv), sensor.FormatVoltages)
		if err != nil {
			return nil, err
		}
		return &Instance{Concrete: c, adc: drv, expansion: expansion}, nil
	}
	return d
}
