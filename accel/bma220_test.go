package accel

import (
	"context"
	"errors"
	"testing"

	"github.com/mklimuk/fanmon"
	"github.com/mklimuk/fanmon/i2c"
	"github.com/mklimuk/fanmon/i2c/sim"
	"github.com/mklimuk/fanmon/sensor"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newChip() *sim.Registers {
	return sim.NewRegisters(map[byte][]byte{
		regChipID:     {chipID},
		regInterrupts: {0x00},
	})
}

func TestBMA220_Begin(t *testing.T) {
	chip := newChip()
	b := NewBMA220(sim.NewBus().Attach(AddrLow, chip), AddrLow)
	require.NoError(t, b.Begin(context.Background()))

	assert.Equal(t, []byte{0x03}, chip.Get(regRange))
	assert.Equal(t, []byte{0b01110000}, chip.Get(regLatch))
	assert.Equal(t, []byte{0b00111000}, chip.Get(regSlopeDet))
	assert.Equal(t, []byte{0x45}, chip.Get(regSlopeSettings))
	assert.Equal(t, []byte{0x06}, chip.Get(regWatchdog))
}

func TestBMA220_WrongChip(t *testing.T) {
	chip := sim.NewRegisters(map[byte][]byte{regChipID: {0x12}})
	b := NewBMA220(sim.NewBus().Attach(AddrHigh, chip), AddrHigh)
	assert.ErrorIs(t, b.Begin(context.Background()), fanmon.ErrInvalidData)
	assert.False(t, b.IsConnected(context.Background()))
}

func TestBMA220_ReadClearsLatch(t *testing.T) {
	chip := newChip()
	b := NewBMA220(sim.NewBus().Attach(AddrLow, chip), AddrLow)
	ctx := context.Background()
	require.NoError(t, b.Begin(ctx))

	m, err := b.Read(ctx)
	require.NoError(t, err)
	assert.Equal(t, Motion{Detected: false, Valid: true}, m)

	chip.Set(regInterrupts, 0x01)
	m, err = b.Read(ctx)
	require.NoError(t, err)
	assert.True(t, m.Detected)
	assert.Equal(t, []byte{0b11110000}, chip.Get(regLatch))
}

func TestBMA220_WriteFailure(t *testing.T) {
	dev := &sim.Func{
		OnWrite: func(w []byte) error {
			if len(w) > 1 && w[0] == regSlopeDet {
				return errors.New("nack")
			}
			return nil
		},
		OnRead: func(r []byte) error {
			r[0] = chipID
			return nil
		},
	}
	b := NewBMA220(sim.NewBus().Attach(AddrLow, dev), AddrLow)
	err := b.Begin(context.Background())
	assert.ErrorContains(t, err, "could not set slope detection")
}

func TestBMA220_Descriptor(t *testing.T) {
	bus := i2c.NewBus(0, sim.NewBus().Attach(AddrHigh, newChip()))
	inst, err := BMA220Descriptor().Factory(context.Background(), bus, AddrHigh)
	require.NoError(t, err)
	f, err := inst.ReadFields(context.Background())
	require.NoError(t, err)
	assert.Equal(t, sensor.Fields{"motion": false}, f)
}
