package motor

import (
	"testing"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"periph.io/x/conn/v3/gpio"
	"periph.io/x/conn/v3/gpio/gpiotest"
)

type board struct {
	pwm, inA, inB, enA, enB *gpiotest.Pin
}

func newBoard() *board {
	return &board{
		pwm: &gpiotest.Pin{N: "PWM"},
		inA: &gpiotest.Pin{N: "IN_A"},
		inB: &gpiotest.Pin{N: "IN_B"},
		enA: &gpiotest.Pin{N: "EN_A"},
		enB: &gpiotest.Pin{N: "EN_B"},
	}
}

func (b *board) pins() Pins {
	return Pins{PWM: b.pwm, InA: b.inA, InB: b.inB, EnA: b.enA, EnB: b.enB}
}

func duty(f float64) gpio.Duty {
	return gpio.Duty(f * float64(gpio.DutyMax))
}

func TestSetPower(t *testing.T) {
	tests := []struct {
		name    string
		minDuty float64
		power   float64
		duty    float64
	}{
		{"zero", 0, 0, 0},
		{"half", 0, 0.5, 0.5},
		{"clamp high", 0, 1.7, 1},
		{"clamp low", 0, -0.2, 0},
		{"baseline", 0.2, 0.5, 0.6},
		{"baseline keeps zero", 0.2, 0, 0},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			b := newBoard()
			c := New(b.pins(), WithClock(clock.NewMock()), WithMinDuty(tc.minDuty))
			require.NoError(t, c.Begin())
			require.NoError(t, c.SetPower(tc.power))
			assert.InDelta(t, tc.duty, c.Status().DutyCycle, 1e-9)
			assert.InDelta(t, float64(duty(tc.duty)), float64(b.pwm.D), 1)
			assert.Equal(t, DefaultFrequency, b.pwm.F)
		})
	}
}

func TestSetDirection_Deadtime(t *testing.T) {
	clk := clock.NewMock()
	b := newBoard()
	c := New(b.pins(), WithClock(clk))
	require.NoError(t, c.Begin())
	assert.Equal(t, gpio.High, b.inA.L)
	assert.Equal(t, gpio.Low, b.inB.L)

	require.NoError(t, c.SetPower(0.8))
	require.NoError(t, c.SetDirection(false))
	assert.Equal(t, gpio.Duty(0), b.pwm.D)
	// still forward until the deadtime elapses
	assert.Equal(t, gpio.High, b.inA.L)

	// power requested during the deadtime is remembered
	require.NoError(t, c.SetPower(0.4))
	assert.Equal(t, gpio.Duty(0), b.pwm.D)

	clk.Add(time.Millisecond)
	require.NoError(t, c.Update())
	assert.Equal(t, gpio.High, b.inA.L)

	clk.Add(time.Millisecond)
	require.NoError(t, c.Update())
	assert.Equal(t, gpio.Low, b.inA.L)
	assert.Equal(t, gpio.High, b.inB.L)
	assert.InDelta(t, 0.4, c.Status().DutyCycle, 1e-9)
	assert.False(t, c.Status().Forward)
}

func TestSetDirection_Same(t *testing.T) {
	b := newBoard()
	c := New(b.pins(), WithClock(clock.NewMock()))
	require.NoError(t, c.Begin())
	require.NoError(t, c.SetPower(1))
	require.NoError(t, c.SetDirection(true))
	assert.InDelta(t, 1.0, c.Status().DutyCycle, 1e-9)
}

func TestStatus_Fault(t *testing.T) {
	b := newBoard()
	c := New(b.pins(), WithClock(clock.NewMock()))
	require.NoError(t, c.Begin())
	b.enA.L, b.enB.L = gpio.High, gpio.High
	assert.False(t, c.Status().Fault)

	b.enB.L = gpio.Low
	s := c.Status()
	assert.True(t, s.Fault)
	assert.True(t, s.EnA)
	assert.False(t, s.EnB)

	f := c.Fields()
	assert.Equal(t, true, f["fault"])
	assert.Equal(t, true, f["direction_forward"])
}

func TestNoPins(t *testing.T) {
	c := New(Pins{}, WithClock(clock.NewMock()))
	require.NoError(t, c.Begin())
	require.NoError(t, c.SetPower(0.3))
	assert.False(t, c.Status().Fault)
	require.NoError(t, c.Halt())
	assert.Equal(t, 0.0, c.Power())
}
