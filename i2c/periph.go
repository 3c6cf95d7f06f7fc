package i2c

import (
	"context"
	"fmt"

	"github.com/mklimuk/fanmon"
	"periph.io/x/conn/v3/i2c"
	"periph.io/x/conn/v3/physic"
)

var _ i2c.Bus = &PeriphBus{}

// PeriphBus exposes a fanmon.I2CBus as a periph i2c.Bus so periph device
// drivers can run on any of our transports, including switched ones.
type PeriphBus struct {
	ctx  context.Context
	name string
	bus  fanmon.I2CBus
}

func NewPeriphBus(ctx context.Context, name string, bus fanmon.I2CBus) *PeriphBus {
	return &PeriphBus{ctx: ctx, name: name, bus: bus}
}

// Bind sets the context used by subsequent transactions.
func (p *PeriphBus) Bind(ctx context.Context) {
	p.ctx = ctx
}

func (p *PeriphBus) String() string {
	return p.name
}

func (p *PeriphBus) Tx(addr uint16, w, r []byte) error {
	if addr > 0x7F {
		return fmt.Errorf("10-bit address %#x not supported: %w", addr, fanmon.ErrBusNotFound)
	}
	a := byte(addr)
	if tx, ok := p.bus.(fanmon.Transactor); ok {
		return tx.Tx(p.ctx, a, w, r)
	}
	if len(w) > 0 {
		if err := p.bus.WriteToAddr(p.ctx, a, w); err != nil {
			return err
		}
	}
	if len(r) > 0 {
		return p.bus.ReadFromAddr(p.ctx, a, r)
	}
	return nil
}

func (p *PeriphBus) SetSpeed(f physic.Frequency) error {
	return nil
}
