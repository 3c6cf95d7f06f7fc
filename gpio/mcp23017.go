package gpio

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/mklimuk/fanmon"
	"github.com/mklimuk/fanmon/sensor"
)

type registry int

const DefaultMCP23017Address = 0x21

// BRegistries
const (
	IODIRA registry = iota
	IOPOLA
	GPINTENA
	DEFVALA
	INTCONA
	IOCONA
	GPPUA
	INTFA
	INTCAPA
	GPIOA
	IODIRB
	IOPOLB
	GPINTENB
	DEFVALB
	INTCONB
	IOCONB
	GPPUB
	INTFB
	INTCAPB
	GPIOB
	OLATB
)

var (
	BankAddr = []map[registry]byte{
		{
			IODIRA:   0x00,
			IOPOLA:   0x02,
			GPINTENA: 0x04,
			DEFVALA:  0x06,
			INTCONA:  0x08,
			IOCONA:   0x0A,
			GPPUA:    0x0C,
			INTFA:    0x0E,
			INTCAPA:  0x10,
			GPIOA:    0x12,
			IODIRB:   0x01,
			IOPOLB:   0x03,
			GPINTENB: 0x05,
			DEFVALB:  0x07,
			INTCONB:  0x09,
			IOCONB:   0x0B,
			GPPUB:    0x0D,
			INTFB:    0x0F,
			INTCAPB:  0x11,
			GPIOB:    0x13,
			OLATB:    0x15,
		},
		{
			IODIRA:   0x00,
			IOPOLA:   0x01,
			GPINTENA: 0x02,
			DEFVALA:  0x03,
			INTCONA:  0x04,
			IOCONA:   0x05,
			GPPUA:    0x06,
			INTFA:    0x07,
			INTCAPA:  0x08,
			GPIOA:    0x09,
			IODIRB:   0x10,
			IOPOLB:   0x11,
			GPINTENB: 0x12,
			DEFVALB:  0x13,
			INTCONB:  0x14,
			IOCONB:   0x15,
			GPPUB:    0x16,
			INTFB:    0x17,
			INTCAPB:  0x18,
			GPIOB:    0x19,
			OLATB:    0x1A,
		},
	}
)

const MeasurementDigitalInputs = "digital_inputs"

// Addresses is the full A2..A0 strap range.
var Addresses = []byte{0x20, 0x21, 0x22, 0x23, 0x24, 0x25, 0x26, 0x27}

// Inputs is the state of the 16 pins, port A in the low byte.
type Inputs struct {
	Bits  uint16
	Valid bool
}

func (i Inputs) Pin(n int) bool {
	return i.Bits&(1<<n) != 0
}

func FormatInputs(i Inputs) sensor.Fields {
	f := sensor.Fields{}
	if !i.Valid {
		return f
	}
	for n := range 16 {
		f.SetBool(fmt.Sprintf("in%d", n), i.Pin(n))
	}
	return f
}

var _ sensor.Driver[Inputs] = &MCP23017{}

/*
	Steps to read GPIO:

1. Set 0xFF to IODIR registry (all inputs) - 0x00(A)/0x01(B)
2. Configure pull-up? 0x06
3. Read port register 0x09
*/
type MCP23017 struct {
	mx         sync.Mutex
	transport  fanmon.I2CBus
	bank       int
	address    byte
	retryLimit int
}

func NewMCP23017(bus fanmon.I2CBus, address byte) *MCP23017 {
	return &MCP23017{retryLimit: 1, transport: bus, address: address}
}

// Begin configures both ports as inputs with pull-ups and reads the
// direction register back to make sure an expander answered.
func (m *MCP23017) Begin(ctx context.Context) error {
	if err := m.InitA(ctx, 0xFF); err != nil {
		return err
	}
	if err := m.InitB(ctx, 0xFF); err != nil {
		return err
	}
	dir, err := m.retryRead(ctx, BankAddr[m.bank][IODIRA], "direction A")
	if err != nil {
		return err
	}
	if dir != 0xFF {
		return fmt.Errorf("mcp23017: direction readback %#02x: %w", dir, fanmon.ErrInvalidData)
	}
	if err := m.PullUpA(ctx, 0xFF); err != nil {
		return err
	}
	return m.PullUpB(ctx, 0xFF)
}

func (m *MCP23017) IsConnected(ctx context.Context) bool {
	_, err := m.ReadSettingsA(ctx)
	return err == nil
}

// InitA sets IODIR registry to inout on I/O pool A
func (m *MCP23017) InitA(ctx context.Context, inout byte) error {
	return m.retryWrite(ctx, BankAddr[m.bank][IODIRA], inout, "initialize gpio A set")
}

// InitB sets IODIR registry to inout on I/O pool B
func (m *MCP23017) InitB(ctx context.Context, inout byte) error {
	return m.retryWrite(ctx, BankAddr[m.bank][IODIRB], inout, "initialize gpio B set")
}

// PullUpA sets up pull up resistors on set A
func (m *MCP23017) PullUpA(ctx context.Context, settings byte) error {
	return m.retryWrite(ctx, BankAddr[m.bank][GPPUA], settings, "set pull-up on gpio A set")
}

// PullUpB sets up pull up resistors on set B
func (m *MCP23017) PullUpB(ctx context.Context, settings byte) error {
	return m.retryWrite(ctx, BankAddr[m.bank][GPPUB], settings, "set pull-up on gpio B set")
}

// Read reads both ports.
func (m *MCP23017) Read(ctx context.Context) (Inputs, error) {
	ports, err := m.ReadPorts(ctx)
	if err != nil {
		return Inputs{}, err
	}
	return Inputs{Bits: uint16(ports[1])<<8 | uint16(ports[0]), Valid: true}, nil
}

func (m *MCP23017) ReadPorts(ctx context.Context) ([]byte, error) {
	res := make([]byte, 2)
	var err error
	res[0], err = m.ReadA(ctx)
	if err != nil {
		return nil, err
	}
	res[1], err = m.ReadB(ctx)
	if err != nil {
		return nil, err
	}
	return res, nil
}

// ReadA reads gpio A set values
func (m *MCP23017) ReadA(ctx context.Context) (byte, error) {
	return m.retryRead(ctx, BankAddr[m.bank][GPIOA], "gpio A set")
}

// ReadB reads gpio B set values
func (m *MCP23017) ReadB(ctx context.Context) (byte, error) {
	return m.retryRead(ctx, BankAddr[m.bank][GPIOB], "gpio B set")
}

// ReadSettingsA reads contents of IOCON registry
func (m *MCP23017) ReadSettingsA(ctx context.Context) (byte, error) {
	return m.retryRead(ctx, BankAddr[m.bank][IOCONA], "settings A")
}

// WriteSettingsA writes the IOCON registry. Changing the BANK bit switches
// the register map used for later calls.
func (m *MCP23017) WriteSettingsA(ctx context.Context, settings byte) error {
	err := m.retryWrite(ctx, BankAddr[m.bank][IOCONA], settings, "write settings on gpio A set")
	if err == nil {
		m.bank = int(settings>>7) & 0x01
	}
	return err
}

// ReadSettingsB reads contents of IOCON registry
func (m *MCP23017) ReadSettingsB(ctx context.Context) (byte, error) {
	return m.retryRead(ctx, BankAddr[m.bank][IOCONB], "settings B")
}

func (m *MCP23017) WriteSettingsB(ctx context.Context, settings byte) error {
	err := m.retryWrite(ctx, BankAddr[m.bank][IOCONB], settings, "write settings on gpio B set")
	if err == nil {
		m.bank = int(settings>>7) & 0x01
	}
	return err
}

func (m *MCP23017) retryWrite(ctx context.Context, reg, value byte, what string) error {
	var err error
	for i := m.retryLimit; i > 0; i-- {
		err = m.writeRegistry(ctx, reg, value)
		if err == nil {
			return nil
		}
		if !errors.Is(err, fanmon.ErrBusBusy) {
			return fmt.Errorf("could not %s: %w", what, err)
		}
		// try to release the bus
		_ = m.transport.Release(ctx)
	}
	return fmt.Errorf("could not %s (retry limit reached): %w", what, err)
}

func (m *MCP23017) retryRead(ctx context.Context, reg byte, what string) (byte, error) {
	var err error
	var res byte
	for i := m.retryLimit; i > 0; i-- {
		res, err = m.readRegistry(ctx, reg)
		if err == nil {
			return res, nil
		}
		if !errors.Is(err, fanmon.ErrBusBusy) {
			return res, fmt.Errorf("could not read %s: %w", what, err)
		}
		// try to release the bus
		_ = m.transport.Release(ctx)
	}
	return res, fmt.Errorf("could not read %s (retry limit reached): %w", what, err)
}

func (m *MCP23017) writeRegistry(ctx context.Context, reg, value byte) error {
	m.mx.Lock()
	defer m.mx.Unlock()
	return m.transport.WriteToAddr(ctx, m.address, []byte{reg, value})
}

func (m *MCP23017) readRegistry(ctx context.Context, addr byte) (byte, error) {
	m.mx.Lock()
	defer m.mx.Unlock()
	buf := make([]byte, 1)
	err := fanmon.ReadRegister(ctx, m.transport, m.address, addr, buf)
	if err != nil {
		return 0x00, fmt.Errorf("could not read gpio data: %w", err)
	}
	return buf[0], nil
}

func MCP23017Descriptor() sensor.Descriptor {
	return sensor.Describe("MCP23017", MeasurementDigitalInputs, Addresses,
		func(t fanmon.I2CBus, a byte) sensor.Driver[Inputs] { return NewMCP23017(t, a) },
		FormatInputs)
}
