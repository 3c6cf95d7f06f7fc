package i2c

import (
	"context"
	"fmt"

	"github.com/mklimuk/fanmon"
)

// Prober is implemented by transports with a cheaper presence check than a read.
type Prober interface {
	Probe(ctx context.Context, address byte) bool
}

// SelectFunc routes the shared transport to logical bus id.
type SelectFunc func(ctx context.Context, transport fanmon.I2CBus, id uint8) error

// Switcher multiplexes several logical buses over one physical transport.
// Handles returned by its buses select their bus before every transaction.
type Switcher struct {
	transport fanmon.I2CBus
	selectBus SelectFunc
	active    int
}

func NewSwitcher(transport fanmon.I2CBus, selectBus SelectFunc) *Switcher {
	return &Switcher{transport: transport, selectBus: selectBus, active: -1}
}

// NewBus wraps a transport that carries a single logical bus.
func NewBus(id uint8, transport fanmon.I2CBus) *Bus {
	return NewSwitcher(transport, nil).Bus(id)
}

// Use makes id the active bus on the shared transport. Selection is never
// cached.
func (s *Switcher) Use(ctx context.Context, id uint8) error {
	if s.selectBus == nil {
		s.active = int(id)
		return nil
	}
	err := s.selectBus(ctx, s.transport, id)
	if err != nil {
		s.active = -1
		return fmt.Errorf("could not select bus %d: %w", id, err)
	}
	s.active = int(id)
	return nil
}

// Active returns the currently selected bus id or -1.
func (s *Switcher) Active() int {
	return s.active
}

func (s *Switcher) Transport() fanmon.I2CBus {
	return s.transport
}

func (s *Switcher) Bus(id uint8) *Bus {
	return &Bus{id: id, sw: s}
}

// MuxSelect returns a SelectFunc driving a TCA9548A style multiplexer at
// address. channels maps a logical bus id to the mux channel.
func MuxSelect(address byte, channels map[uint8]uint8) SelectFunc {
	return func(ctx context.Context, transport fanmon.I2CBus, id uint8) error {
		ch, ok := channels[id]
		if !ok {
			return fmt.Errorf("no mux channel for bus %d: %w", id, fanmon.ErrBusNotFound)
		}
		return transport.WriteToAddr(ctx, address, []byte{1 << ch})
	}
}

var _ fanmon.Bus = &Bus{}

// Bus is a logical bus on a Switcher.
type Bus struct {
	id uint8
	sw *Switcher
}

func (b *Bus) ID() uint8 {
	return b.id
}

func (b *Bus) Select(ctx context.Context) (fanmon.I2CBus, error) {
	err := b.sw.Use(ctx, b.id)
	if err != nil {
		return nil, err
	}
	return &handle{id: b.id, sw: b.sw}, nil
}

func (b *Bus) Probe(ctx context.Context, address byte) bool {
	if b.sw.Use(ctx, b.id) != nil {
		return false
	}
	if p, ok := b.sw.transport.(Prober); ok {
		return p.Probe(ctx, address)
	}
	return b.sw.transport.ReadFromAddr(ctx, address, []byte{0}) == nil
}

func (b *Bus) Scan(ctx context.Context) ([]byte, error) {
	err := b.sw.Use(ctx, b.id)
	if err != nil {
		return nil, err
	}
	var found []byte
	for addr := fanmon.MinAddress; addr <= fanmon.MaxAddress; addr++ {
		if ctx.Err() != nil {
			return found, ctx.Err()
		}
		if b.Probe(ctx, addr) {
			found = append(found, addr)
		}
	}
	return found, nil
}

var _ fanmon.I2CBus = &handle{}
var _ fanmon.Transactor = &handle{}

type handle struct {
	id uint8
	sw *Switcher
}

func (h *handle) ReadFromAddr(ctx context.Context, address byte, buffer []byte) error {
	if err := h.sw.Use(ctx, h.id); err != nil {
		return err
	}
	return h.sw.transport.ReadFromAddr(ctx, address, buffer)
}

func (h *handle) WriteToAddr(ctx context.Context, address byte, buffer []byte) error {
	if err := h.sw.Use(ctx, h.id); err != nil {
		return err
	}
	return h.sw.transport.WriteToAddr(ctx, address, buffer)
}

func (h *handle) Tx(ctx context.Context, address byte, w, r []byte) error {
	if err := h.sw.Use(ctx, h.id); err != nil {
		return err
	}
	if tx, ok := h.sw.transport.(fanmon.Transactor); ok {
		return tx.Tx(ctx, address, w, r)
	}
	if len(w) > 0 {
		if err := h.sw.transport.WriteToAddr(ctx, address, w); err != nil {
			return err
		}
	}
	if len(r) > 0 {
		return h.sw.transport.ReadFromAddr(ctx, address, r)
	}
	return nil
}

func (h *handle) Release(ctx context.Context) error {
	return h.sw.transport.Release(ctx)
}
