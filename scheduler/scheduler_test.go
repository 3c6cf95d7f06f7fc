package scheduler

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTick_RunsDueTasksInOrder(t *testing.T) {
	clk := clock.NewMock()
	s := New(WithClock(clk))
	var order []string
	record := func(name string) func(context.Context) error {
		return func(context.Context) error {
			order = append(order, name)
			return nil
		}
	}
	s.Add("heartbeat", time.Second, record("heartbeat"))
	s.Add("health", 5*time.Second, record("health"))
	s.Add("motor", 0, record("motor"))
	ctx := context.Background()

	assert.Equal(t, 1, s.Tick(ctx))
	assert.Equal(t, []string{"motor"}, order)

	order = nil
	clk.Add(5 * time.Second)
	assert.Equal(t, 3, s.Tick(ctx))
	assert.Equal(t, []string{"heartbeat", "health", "motor"}, order)
}

func TestTick_NoCatchUp(t *testing.T) {
	clk := clock.NewMock()
	s := New(WithClock(clk))
	s.Add("read", 5*time.Second, func(context.Context) error { return nil })
	ctx := context.Background()

	// the loop stalled for 17 s
	clk.Add(17 * time.Second)
	assert.Equal(t, 1, s.Tick(ctx))
	assert.Equal(t, 0, s.Tick(ctx))

	clk.Add(4999 * time.Millisecond)
	assert.Equal(t, 0, s.Tick(ctx))
	clk.Add(time.Millisecond)
	assert.Equal(t, 1, s.Tick(ctx))
	assert.Equal(t, 2, s.Runs("read"))
}

func TestTick_FailureDoesNotStopOthers(t *testing.T) {
	clk := clock.NewMock()
	s := New(WithClock(clk))
	s.AddNow("bad", time.Second, func(context.Context) error { return errors.New("boom") })
	ok := 0
	s.AddNow("good", time.Second, func(context.Context) error { ok++; return nil })

	assert.Equal(t, 2, s.Tick(context.Background()))
	assert.Equal(t, 1, ok)
	assert.Equal(t, []string{"bad", "good"}, s.Tasks())
}

func TestRun_StopsOnCancel(t *testing.T) {
	clk := clock.NewMock()
	s := New(WithClock(clk), WithPeriod(10*time.Millisecond))
	ticks := make(chan struct{}, 100)
	s.AddNow("loop", 0, func(context.Context) error {
		ticks <- struct{}{}
		return nil
	})
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error)
	go func() { done <- s.Run(ctx) }()

	<-ticks
	cancel()
	require.ErrorIs(t, <-done, context.Canceled)
}
