package i2c

import (
	"context"
	"fmt"
	"sync"

	"github.com/mklimuk/fanmon"
	"go.uber.org/multierr"
	gobot "gobot.io/x/gobot/v2/drivers/i2c"
)

var _ fanmon.I2CBus = &GobotBus{}

// GobotBus talks to an I2C bus through a gobot platform adaptor
// (e.g. nanopi.NewNeoAdaptor()). Connections are opened lazily per address.
type GobotBus struct {
	mx        sync.Mutex
	connector gobot.Connector
	busNr     int
	conns     map[byte]gobot.Connection
}

func NewGobotBus(connector gobot.Connector, busNr int) *GobotBus {
	return &GobotBus{connector: connector, busNr: busNr, conns: map[byte]gobot.Connection{}}
}

func (b *GobotBus) conn(address byte) (gobot.Connection, error) {
	if c, ok := b.conns[address]; ok {
		return c, nil
	}
	c, err := b.connector.GetI2cConnection(int(address), b.busNr)
	if err != nil {
		return nil, fmt.Errorf("could not open gobot i2c connection to %x on bus %d: %w", address, b.busNr, err)
	}
	b.conns[address] = c
	return c, nil
}

func (b *GobotBus) ReadFromAddr(ctx context.Context, address byte, buffer []byte) error {
	b.mx.Lock()
	defer b.mx.Unlock()
	c, err := b.conn(address)
	if err != nil {
		return err
	}
	n, err := c.Read(buffer)
	if err != nil {
		return fmt.Errorf("could not read from i2c bus %x: %w: %w", address, fanmon.ErrBusNack, err)
	}
	if n != len(buffer) {
		return fmt.Errorf("short read from %x (%d of %d bytes): %w", address, n, len(buffer), fanmon.ErrBusTimeout)
	}
	return nil
}

func (b *GobotBus) WriteToAddr(ctx context.Context, address byte, buffer []byte) error {
	b.mx.Lock()
	defer b.mx.Unlock()
	c, err := b.conn(address)
	if err != nil {
		return err
	}
	_, err = c.Write(buffer)
	if err != nil {
		return fmt.Errorf("could not write to i2c bus %x: %w: %w", address, fanmon.ErrBusNack, err)
	}
	return nil
}

func (b *GobotBus) Release(ctx context.Context) error {
	return nil
}

func (b *GobotBus) Close() error {
	b.mx.Lock()
	defer b.mx.Unlock()
	var err error
	for addr, c := range b.conns {
		err = multierr.Append(err, c.Close())
		delete(b.conns, addr)
	}
	return err
}
