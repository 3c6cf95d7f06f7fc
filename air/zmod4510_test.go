package air

import (
	"context"
	"testing"

	"github.com/mklimuk/fanmon"
	"github.com/mklimuk/fanmon/i2c"
	"github.com/mklimuk/fanmon/i2c/sim"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestZMOD4510(t *testing.T) {
	ctx := context.Background()

	t.Run("begin", func(t *testing.T) {
		regs := sim.NewRegisters(map[byte][]byte{
			zmodRegPID:    {0x63, 0x20},
			zmodRegConfig: {0x01, 0x02, 0x03, 0x04, 0x05, 0x06},
		})
		s := NewZMOD4510(sim.NewBus().Attach(zmod4510Address, regs), zmod4510Address)
		assert.False(t, s.IsConnected(ctx))
		_, err := s.Read(ctx)
		assert.ErrorIs(t, err, fanmon.ErrNotInitialized)

		require.NoError(t, s.Begin(ctx))
		assert.Equal(t, []byte{0x01, 0x02, 0x03, 0x04, 0x05, 0x06}, s.config)
		assert.True(t, s.IsConnected(ctx))

		r, err := s.Read(ctx)
		require.NoError(t, err)
		assert.Empty(t, FormatOzone(r))
	})

	t.Run("wrong product", func(t *testing.T) {
		regs := sim.NewRegisters(map[byte][]byte{zmodRegPID: {0x63, 0x10}})
		s := NewZMOD4510(sim.NewBus().Attach(zmod4510Address, regs), zmod4510Address)
		assert.ErrorIs(t, s.Begin(ctx), fanmon.ErrInvalidData)
	})

	t.Run("descriptor", func(t *testing.T) {
		regs := sim.NewRegisters(map[byte][]byte{zmodRegPID: {0x63, 0x20}, zmodRegConfig: make([]byte, 6)})
		bus := i2c.NewBus(2, sim.NewBus().Attach(zmod4510Address, regs))
		inst, err := ZMOD4510Descriptor().Factory(ctx, bus, zmod4510Address)
		require.NoError(t, err)
		assert.Equal(t, uint8(2), inst.BusID())
		assert.Equal(t, "ZMOD4510", inst.TypeName())
	})
}
