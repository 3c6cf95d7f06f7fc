package i2c

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/mklimuk/fanmon"
	"periph.io/x/conn/v3/i2c"
	"periph.io/x/conn/v3/i2c/i2creg"
	"periph.io/x/conn/v3/physic"
	"periph.io/x/host/v3"
)

var _ fanmon.I2CBus = &GenericBus{}
var _ fanmon.Transactor = &GenericBus{}

// GenericBus is a host I2C bus opened through periph.
type GenericBus struct {
	name string
	bus  i2c.BusCloser
}

func NewGenericBus(dev string) (*GenericBus, error) {
	state, err := host.Init()
	if err != nil {
		return nil, fmt.Errorf("could not init host: %w", err)
	}
	for _, driver := range state.Loaded {
		slog.Debug("periph driver loaded", "driver", driver.String())
	}
	bus, err := i2creg.Open(dev)
	if err != nil {
		return nil, fmt.Errorf("could not open i2c bus %q: %w", dev, fanmon.ErrBusNotFound)
	}
	return &GenericBus{
		name: dev,
		bus:  bus,
	}, nil
}

// SetFrequency changes the bus clock if the host driver allows it.
func (b *GenericBus) SetFrequency(hz int64) error {
	if hz <= 0 {
		return nil
	}
	err := b.bus.SetSpeed(physic.Frequency(hz) * physic.Hertz)
	if err != nil {
		return fmt.Errorf("could not set i2c bus %s speed: %w", b.name, err)
	}
	return nil
}

func (b *GenericBus) ReadFromAddr(ctx context.Context, address byte, buffer []byte) error {
	err := b.bus.Tx(uint16(address), nil, buffer)
	if err != nil {
		return fmt.Errorf("could not read from i2c bus %x: %w: %w", address, fanmon.ErrBusNack, err)
	}
	return nil
}

func (b *GenericBus) WriteToAddr(ctx context.Context, address byte, buffer []byte) error {
	err := b.bus.Tx(uint16(address), buffer, nil)
	if err != nil {
		return fmt.Errorf("could not write to i2c bus %x: %w: %w", address, fanmon.ErrBusNack, err)
	}
	return nil
}

func (b *GenericBus) Tx(ctx context.Context, address byte, w, r []byte) error {
	err := b.bus.Tx(uint16(address), w, r)
	if err != nil {
		return fmt.Errorf("i2c transaction with %x failed: %w: %w", address, fanmon.ErrBusNack, err)
	}
	return nil
}

// Probe does a single byte read, like i2cdetect -r.
func (b *GenericBus) Probe(ctx context.Context, address byte) bool {
	return b.bus.Tx(uint16(address), nil, []byte{0}) == nil
}

func (b *GenericBus) Release(ctx context.Context) error {
	return nil
}

func (b *GenericBus) String() string {
	return b.name
}

func (b *GenericBus) Close() error {
	return b.bus.Close()
}
