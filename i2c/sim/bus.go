// Package sim provides an in-memory I2C bus with scripted devices. It backs
// the simulated bus backend and the discovery tests.
package sim

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/mklimuk/fanmon"
)

// Device is a simulated chip attached to a Bus.
type Device interface {
	Write(w []byte) error
	Read(r []byte) error
}

// Txn records one bus operation for assertions.
type Txn struct {
	Address byte
	Write   []byte
	Read    int
}

var _ fanmon.I2CBus = &Bus{}
var _ fanmon.Transactor = &Bus{}

type Bus struct {
	mx      sync.Mutex
	devices map[byte]Device
	log     []Txn
}

func NewBus() *Bus {
	return &Bus{devices: map[byte]Device{}}
}

func (b *Bus) Attach(address byte, dev Device) *Bus {
	b.mx.Lock()
	defer b.mx.Unlock()
	b.devices[address] = dev
	return b
}

func (b *Bus) Detach(address byte) {
	b.mx.Lock()
	defer b.mx.Unlock()
	delete(b.devices, address)
}

// Addresses lists attached device addresses in ascending order.
func (b *Bus) Addresses() []byte {
	b.mx.Lock()
	defer b.mx.Unlock()
	res := make([]byte, 0, len(b.devices))
	for a := range b.devices {
		res = append(res, a)
	}
	sort.Slice(res, func(i, j int) bool { return res[i] < res[j] })
	return res
}

func (b *Bus) Log() []Txn {
	b.mx.Lock()
	defer b.mx.Unlock()
	return append([]Txn(nil), b.log...)
}

func (b *Bus) device(address byte) (Device, error) {
	dev, ok := b.devices[address]
	if !ok {
		return nil, fmt.Errorf("no device at %#x: %w", address, fanmon.ErrBusNack)
	}
	return dev, nil
}

func (b *Bus) WriteToAddr(ctx context.Context, address byte, buffer []byte) error {
	b.mx.Lock()
	defer b.mx.Unlock()
	b.log = append(b.log, Txn{Address: address, Write: append([]byte(nil), buffer...)})
	dev, err := b.device(address)
	if err != nil {
		return err
	}
	return dev.Write(buffer)
}

func (b *Bus) ReadFromAddr(ctx context.Context, address byte, buffer []byte) error {
	b.mx.Lock()
	defer b.mx.Unlock()
	b.log = append(b.log, Txn{Address: address, Read: len(buffer)})
	dev, err := b.device(address)
	if err != nil {
		return err
	}
	return dev.Read(buffer)
}

func (b *Bus) Tx(ctx context.Context, address byte, w, r []byte) error {
	if len(w) > 0 {
		if err := b.WriteToAddr(ctx, address, w); err != nil {
			return err
		}
	}
	if len(r) > 0 {
		return b.ReadFromAddr(ctx, address, r)
	}
	return nil
}

func (b *Bus) Probe(ctx context.Context, address byte) bool {
	b.mx.Lock()
	defer b.mx.Unlock()
	_, ok := b.devices[address]
	return ok
}

func (b *Bus) Release(ctx context.Context) error {
	return nil
}

// Registers is a register-mapped device: the first written byte sets the
// register pointer, further bytes are stored at that register.
type Registers struct {
	mx      sync.Mutex
	Regs    map[byte][]byte
	pointer byte
	// OnWrite runs after a register write with the pointer and stored data.
	OnWrite func(r *Registers, reg byte, data []byte)
}

func NewRegisters(regs map[byte][]byte) *Registers {
	if regs == nil {
		regs = map[byte][]byte{}
	}
	return &Registers{Regs: regs}
}

func (r *Registers) Write(w []byte) error {
	if len(w) == 0 {
		return nil
	}
	r.mx.Lock()
	r.pointer = w[0]
	var hook func(*Registers, byte, []byte)
	if len(w) > 1 {
		r.Regs[w[0]] = append([]byte(nil), w[1:]...)
		hook = r.OnWrite
	}
	r.mx.Unlock()
	if hook != nil {
		hook(r, w[0], w[1:])
	}
	return nil
}

func (r *Registers) Read(buf []byte) error {
	r.mx.Lock()
	defer r.mx.Unlock()
	data, ok := r.Regs[r.pointer]
	if !ok {
		return fmt.Errorf("register %#x not mapped: %w", r.pointer, fanmon.ErrBusNack)
	}
	copy(buf, data)
	return nil
}

// Set stores a register value without triggering OnWrite.
func (r *Registers) Set(reg byte, data ...byte) {
	r.mx.Lock()
	defer r.mx.Unlock()
	r.Regs[reg] = data
}

// Get returns a copy of a register value.
func (r *Registers) Get(reg byte) []byte {
	r.mx.Lock()
	defer r.mx.Unlock()
	return append([]byte(nil), r.Regs[reg]...)
}

// Func is a device built from two behaviour functions.
type Func struct {
	OnWrite func(w []byte) error
	OnRead  func(r []byte) error
}

func (f *Func) Write(w []byte) error {
	if f.OnWrite == nil {
		return nil
	}
	return f.OnWrite(w)
}

func (f *Func) Read(r []byte) error {
	if f.OnRead == nil {
		return fmt.Errorf("device not readable: %w", fanmon.ErrBusNack)
	}
	return f.OnRead(r)
}
