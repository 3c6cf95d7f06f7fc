package gpio

import (
	"context"
	"testing"

	"github.com/mklimuk/fanmon"
	"github.com/mklimuk/fanmon/i2c"
	"github.com/mklimuk/fanmon/i2c/sim"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

type mockBus struct {
	mock.Mock
}

func (m *mockBus) WriteToAddr(ctx context.Context, address byte, buffer []byte) error {
	return m.Called(ctx, address, buffer).Error(0)
}

func (m *mockBus) ReadFromAddr(ctx context.Context, address byte, buffer []byte) error {
	args := m.Called(ctx, address, buffer)
	if data, ok := args.Get(0).([]byte); ok {
		copy(buffer, data)
	}
	return args.Error(1)
}

func (m *mockBus) Release(ctx context.Context) error {
	return m.Called(ctx).Error(0)
}

func newExpander() *sim.Registers {
	return sim.NewRegisters(map[byte][]byte{
		0x00: {0xFF}, 0x01: {0xFF},
		0x0A: {0x00}, 0x0B: {0x00},
		0x12: {0x00}, 0x13: {0x00},
	})
}

func TestMCP23017_Begin(t *testing.T) {
	chip := newExpander()
	m := NewMCP23017(sim.NewBus().Attach(DefaultMCP23017Address, chip), DefaultMCP23017Address)
	require.NoError(t, m.Begin(context.Background()))
	assert.Equal(t, []byte{0xFF}, chip.Get(0x0C))
	assert.Equal(t, []byte{0xFF}, chip.Get(0x0D))
}

func TestMCP23017_InitBWritesPortB(t *testing.T) {
	chip := newExpander()
	m := NewMCP23017(sim.NewBus().Attach(0x20, chip), 0x20)
	require.NoError(t, m.InitB(context.Background(), 0x0F))
	assert.Equal(t, []byte{0x0F}, chip.Get(0x01))
	assert.Equal(t, []byte{0xFF}, chip.Get(0x00))
}

func TestMCP23017_Read(t *testing.T) {
	chip := newExpander()
	m := NewMCP23017(sim.NewBus().Attach(0x20, chip), 0x20)
	chip.Set(0x12, 0b00000101)
	chip.Set(0x13, 0b10000000)

	in, err := m.Read(context.Background())
	require.NoError(t, err)
	assert.True(t, in.Pin(0))
	assert.False(t, in.Pin(1))
	assert.True(t, in.Pin(2))
	assert.True(t, in.Pin(15))

	f := FormatInputs(in)
	assert.Len(t, f, 16)
	assert.Equal(t, true, f["in15"])
	assert.Equal(t, false, f["in8"])
}

func TestMCP23017_BankSwitch(t *testing.T) {
	chip := newExpander()
	m := NewMCP23017(sim.NewBus().Attach(0x20, chip), 0x20)
	require.NoError(t, m.WriteSettingsA(context.Background(), 0x80))
	chip.Set(0x09, 0xAA)
	v, err := m.ReadA(context.Background())
	require.NoError(t, err)
	assert.Equal(t, byte(0xAA), v)
}

func TestMCP23017_BusyReleasesBus(t *testing.T) {
	bus := new(mockBus)
	m := NewMCP23017(bus, 0x20)
	m.retryLimit = 2
	ctx := context.Background()

	bus.On("WriteToAddr", ctx, byte(0x20), []byte{0x0C, 0xFF}).Return(fanmon.ErrBusBusy).Twice()
	bus.On("Release", ctx).Return(nil).Twice()

	err := m.PullUpA(ctx, 0xFF)
	assert.ErrorIs(t, err, fanmon.ErrBusBusy)
	assert.ErrorContains(t, err, "retry limit reached")
	bus.AssertExpectations(t)
}

func TestMCP23017_Descriptor(t *testing.T) {
	bus := i2c.NewBus(0, sim.NewBus().Attach(0x24, newExpander()))
	d := MCP23017Descriptor()
	assert.Equal(t, MeasurementDigitalInputs, d.Measurement)
	inst, err := d.Factory(context.Background(), bus, 0x24)
	require.NoError(t, err)
	f, err := inst.ReadFields(context.Background())
	require.NoError(t, err)
	assert.Len(t, f, 16)
}
