// Package eeprom drives the Microchip 25AA1024 1-Mbit SPI EEPROM used as the
// persisted device config store.
//
// Datasheet reference: Microchip 25AA1024 Serial EEPROM (Table 3-1 Instruction
// Set, page size 256 bytes).
//
// Example usage:
//
//	e, err := eeprom.Open(nanopi.NewNeoAdaptor())
//	if err != nil { return err }
//	defer e.Close()
//	data, _ := e.Read(0x0000, 16)
package eeprom

import (
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/mklimuk/fanmon"
	"gobot.io/x/gobot/v2/drivers/spi"
)

// device constants (datasheet Table 3-1)
const (
	cmdRead  = 0x03 // READ
	cmdWrite = 0x02 // WRITE
	cmdWREN  = 0x06 // WREN (Write-Enable Latch set)
	cmdRDSR  = 0x05 // Read STATUS Register

	statusWIP = 0x01 // STATUS bit 0, write in progress

	PageSize = 256
	Capacity = 131072 // 128 KiB

	// internal write cycle is 6 ms max
	writeTimeout = 10 * time.Millisecond
	pollInterval = 500 * time.Microsecond
)

var ErrOutOfRange = fmt.Errorf("eeprom: address out of range: %w", fanmon.ErrInvalidValue)

// Conn is the subset of a gobot SPI connection the driver needs.
type Conn interface {
	// ReadCommandData writes command and clocks len(data) bytes in.
	ReadCommandData(command []byte, data []byte) error
	WriteBytes(data []byte) error
}

type Opts struct {
	Clock clock.Clock
}

type Opt func(*Opts)

func WithClock(clk clock.Clock) Opt {
	return func(o *Opts) { o.Clock = clk }
}

// EEPROM25AA1024 is safe for concurrent use.
type EEPROM25AA1024 struct {
	mx    sync.Mutex
	conn  Conn
	clock clock.Clock
	close func() error
}

func New(conn Conn, opts ...Opt) *EEPROM25AA1024 {
	o := Opts{Clock: clock.New()}
	for _, opt := range opts {
		opt(&o)
	}
	return &EEPROM25AA1024{conn: conn, clock: o.Clock, close: func() error { return nil }}
}

// Open starts a gobot SPI driver on adaptor in mode 0 and binds the device
// to its connection. Additional driver options (bus, chip select, speed) are
// passed as in other gobot SPI drivers.
func Open(adaptor spi.Connector, opts ...func(spi.Config)) (*EEPROM25AA1024, error) {
	d := spi.NewDriver(adaptor, "25AA1024", opts...)
	// mode 0 (CPOL=0, CPHA=0) up to 20 MHz
	d.SetMode(0)
	if d.GetSpeedOrDefault(0) == 0 {
		d.SetSpeed(5_000_000)
	}
	if err := d.Start(); err != nil {
		return nil, fmt.Errorf("spi start error: %w: %w", fanmon.ErrBusNotFound, err)
	}
	conn, ok := d.Connection().(Conn)
	if !ok {
		_ = d.Halt()
		return nil, errors.New("spi connection does not support required operations")
	}
	e := New(conn)
	e.close = d.Halt
	return e, nil
}

// Close releases the SPI bus when the device was opened by Open.
func (e *EEPROM25AA1024) Close() error {
	return e.close()
}

// Read returns length bytes starting at address.
func (e *EEPROM25AA1024) Read(address uint32, length int) ([]byte, error) {
	if length < 0 || address+uint32(length) > Capacity {
		return nil, ErrOutOfRange
	}
	e.mx.Lock()
	defer e.mx.Unlock()
	// only A16..A0 are used
	header := []byte{cmdRead, byte(address >> 16), byte(address >> 8), byte(address)}
	data := make([]byte, length)
	if err := e.conn.ReadCommandData(header, data); err != nil {
		return nil, fmt.Errorf("eeprom read at %#05x: %w: %w", address, fanmon.ErrReadFailed, err)
	}
	return data, nil
}

// Write splits data into page writes and polls the status register until
// each internal write cycle completes.
func (e *EEPROM25AA1024) Write(address uint32, data []byte) error {
	if address+uint32(len(data)) > Capacity {
		return ErrOutOfRange
	}
	e.mx.Lock()
	defer e.mx.Unlock()
	for offset := 0; offset < len(data); {
		space := PageSize - int(address%PageSize)
		chunk := data[offset:]
		if len(chunk) > space {
			chunk = chunk[:space]
		}
		if err := e.pageWrite(address, chunk); err != nil {
			return err
		}
		offset += len(chunk)
		address += uint32(len(chunk))
	}
	return nil
}

func (e *EEPROM25AA1024) pageWrite(address uint32, data []byte) error {
	if err := e.conn.WriteBytes([]byte{cmdWREN}); err != nil {
		return fmt.Errorf("eeprom write enable: %w", err)
	}
	tx := append([]byte{cmdWrite, byte(address >> 16), byte(address >> 8), byte(address)}, data...)
	if err := e.conn.WriteBytes(tx); err != nil {
		return fmt.Errorf("eeprom write at %#05x: %w", address, err)
	}
	return e.waitUntilReady()
}

func (e *EEPROM25AA1024) readStatus() (byte, error) {
	st := make([]byte, 1)
	if err := e.conn.ReadCommandData([]byte{cmdRDSR}, st); err != nil {
		return 0, err
	}
	return st[0], nil
}

func (e *EEPROM25AA1024) waitUntilReady() error {
	deadline := e.clock.Now().Add(writeTimeout)
	for {
		st, err := e.readStatus()
		if err != nil {
			return fmt.Errorf("eeprom status: %w", err)
		}
		if st&statusWIP == 0 {
			return nil
		}
		if !e.clock.Now().Before(deadline) {
			return fmt.Errorf("timeout waiting for write completion: %w", fanmon.ErrSensorTimeout)
		}
		e.clock.Sleep(pollInterval)
	}
}
