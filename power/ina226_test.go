package power

import (
	"context"
	"testing"

	"github.com/mklimuk/fanmon"
	"github.com/mklimuk/fanmon/i2c"
	"github.com/mklimuk/fanmon/i2c/sim"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestINA226_Calibration(t *testing.T) {
	tests := []struct {
		name     string
		opts     []INA226Opt
		expected uint16
	}{
		{"default 1mOhm 30A", nil, 5592},
		{"10mOhm 8A", []INA226Opt{WithShunt(0.01, 8)}, 2097},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			assert.Equal(t, tc.expected, NewINA226(nil, 0x40, tc.opts...).Calibration())
		})
	}
}

func TestINA226_Read(t *testing.T) {
	chip := sim.NewINA226(12, 10)
	s := NewINA226(sim.NewBus().Attach(0x40, chip), 0x40)
	ctx := context.Background()

	require.NoError(t, s.Begin(ctx))
	assert.Equal(t, []byte{0x45, 0x27}, chip.Get(regConfig))
	assert.Equal(t, []byte{0x15, 0xD8}, chip.Get(regCalibration))

	r, err := s.Read(ctx)
	require.NoError(t, err)
	assert.True(t, r.Valid)
	assert.InDelta(t, 12, r.BusVolts, 0.001)
	assert.InDelta(t, 10, r.ShuntMillivolts, 0.001)
	assert.InDelta(t, 10000, r.CurrentMilliamps, 5)
	assert.InDelta(t, 120000, r.PowerMilliwatts, 100)
	assert.False(t, r.Overflow)

	chip.SetOverflow(true)
	r, err = s.Read(ctx)
	require.NoError(t, err)
	assert.True(t, r.Overflow)
}

func TestINA226_RejectsOtherManufacturer(t *testing.T) {
	regs := sim.NewRegisters(map[byte][]byte{regManufacturer: {0x12, 0x34}})
	s := NewINA226(sim.NewBus().Attach(0x40, regs), 0x40)
	assert.ErrorIs(t, s.Begin(context.Background()), fanmon.ErrInvalidData)
	assert.False(t, s.IsConnected(context.Background()))
}

func TestINA226_Descriptor(t *testing.T) {
	ctx := context.Background()
	bus := i2c.NewBus(0, sim.NewBus().Attach(0x44, sim.NewINA226(24.5, -2)))

	inst, err := INA226Descriptor().Factory(ctx, bus, 0x44)
	require.NoError(t, err)
	assert.Equal(t, MeasurementPower, inst.Measurement())

	f, err := inst.ReadFields(ctx)
	require.NoError(t, err)
	v, ok := f.Float("v_in")
	require.True(t, ok)
	assert.InDelta(t, 24.5, v, 0.001)
	i, _ := f.Float("i_in")
	assert.InDelta(t, -2, i, 0.01)
	p, _ := f.Float("p_in")
	assert.InDelta(t, 49, p, 0.1)
	assert.Equal(t, false, f["overflow"])
}
