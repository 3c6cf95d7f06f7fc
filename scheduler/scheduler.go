// Package scheduler runs periodic tasks cooperatively from a single loop.
package scheduler

import (
	"context"
	"log/slog"
	"time"

	"github.com/benbjohnson/clock"
)

// Task is run by the loop when due. A zero interval runs on every tick.
type Task struct {
	Name     string
	Interval time.Duration
	Run      func(ctx context.Context) error
	next     time.Time
	runs     int
}

type Opts struct {
	Clock  clock.Clock
	Logger *slog.Logger
	// Period is the loop sleep between ticks.
	Period time.Duration
}

type Opt func(*Opts)

func WithClock(clk clock.Clock) Opt {
	return func(o *Opts) { o.Clock = clk }
}

func WithLogger(l *slog.Logger) Opt {
	return func(o *Opts) { o.Logger = l }
}

func WithPeriod(d time.Duration) Opt {
	return func(o *Opts) { o.Period = d }
}

// Scheduler is not safe for concurrent use; Add, Tick and Run belong to
// the loop goroutine.
type Scheduler struct {
	tasks  []*Task
	clock  clock.Clock
	log    *slog.Logger
	period time.Duration
}

func New(opts ...Opt) *Scheduler {
	o := Opts{Clock: clock.New(), Logger: slog.Default(), Period: 10 * time.Millisecond}
	for _, opt := range opts {
		opt(&o)
	}
	return &Scheduler{clock: o.Clock, log: o.Logger.With("component", "scheduler"), period: o.Period}
}

// Add registers a task. Its first run is due one interval from now.
func (s *Scheduler) Add(name string, interval time.Duration, run func(ctx context.Context) error) {
	s.tasks = append(s.tasks, &Task{Name: name, Interval: interval, Run: run, next: s.clock.Now().Add(interval)})
}

// AddNow registers a task that is due on the next tick.
func (s *Scheduler) AddNow(name string, interval time.Duration, run func(ctx context.Context) error) {
	s.tasks = append(s.tasks, &Task{Name: name, Interval: interval, Run: run, next: s.clock.Now()})
}

// Tick runs each due task once, in registration order. The next deadline
// is now plus the interval, so a late task never runs twice in a row to
// catch up. It returns the number of tasks run.
func (s *Scheduler) Tick(ctx context.Context) int {
	ran := 0
	for _, t := range s.tasks {
		now := s.clock.Now()
		if now.Before(t.next) {
			continue
		}
		t.next = now.Add(t.Interval)
		t.runs++
		ran++
		if err := t.Run(ctx); err != nil {
			s.log.Warn("task failed", "task", t.Name, "error", err)
		}
	}
	return ran
}

// Runs returns how many times the named task ran.
func (s *Scheduler) Runs(name string) int {
	for _, t := range s.tasks {
		if t.Name == name {
			return t.runs
		}
	}
	return 0
}

func (s *Scheduler) Tasks() []string {
	names := make([]string, len(s.tasks))
	for i, t := range s.tasks {
		names[i] = t.Name
	}
	return names
}

// Run ticks until ctx is cancelled.
func (s *Scheduler) Run(ctx context.Context) error {
	ticker := s.clock.Ticker(s.period)
	defer ticker.Stop()
	for {
		s.Tick(ctx)
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}
	}
}
