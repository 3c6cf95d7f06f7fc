package fanmon

import (
	"context"
	"fmt"
)

var ErrBusBusy = fmt.Errorf("I2C engine is busy (command not completed): %w", ErrBusTimeout)

// MinAddress and MaxAddress bound the 7-bit address range walked by a bus scan.
const (
	MinAddress byte = 0x01
	MaxAddress byte = 0x7E
)

type BusReader interface {
	Read(ctx context.Context, buffer []byte) error
}

type BusWriter interface {
	Write(ctx context.Context, buffer []byte) error
}

type AddressableReader interface {
	ReadFromAddr(ctx context.Context, address byte, buffer []byte) error
}

type AddressableWriter interface {
	WriteToAddr(ctx context.Context, address byte, buffer []byte) error
	Release(ctx context.Context) error
}

// I2CBus is the transport every driver talks to.
type I2CBus interface {
	AddressableReader
	AddressableWriter
}

type I2CDevice interface {
	BusReader
	BusWriter
}

// Transactor is implemented by transports able to do a combined write/read
// with a repeated start. Drivers fall back to separate write and read calls.
type Transactor interface {
	Tx(ctx context.Context, address byte, w, r []byte) error
}

// Bus is one logical bus as seen by discovery.
type Bus interface {
	// ID is the configured bus id used for tagging.
	ID() uint8
	// Scan returns responding addresses in ascending order.
	Scan(ctx context.Context) ([]byte, error)
	// Probe reports whether a device acknowledges at address.
	Probe(ctx context.Context, address byte) bool
	// Select activates this bus and returns its transport handle.
	Select(ctx context.Context) (I2CBus, error)
}

// ReadRegister writes the register pointer and reads len(buffer) bytes back.
// A repeated start is used when the transport supports it.
func ReadRegister(ctx context.Context, bus I2CBus, address byte, reg byte, buffer []byte) error {
	if tx, ok := bus.(Transactor); ok {
		return tx.Tx(ctx, address, []byte{reg}, buffer)
	}
	err := bus.WriteToAddr(ctx, address, []byte{reg})
	if err != nil {
		return fmt.Errorf("could not set register pointer %#x: %w", reg, err)
	}
	return bus.ReadFromAddr(ctx, address, buffer)
}
