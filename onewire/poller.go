package onewire

import (
	"fmt"
	"log/slog"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/go-git/go-billy/v5"
	"github.com/go-git/go-billy/v5/osfs"
	"github.com/samber/lo"
)

// State of the conversion cycle.
type State int

const (
	Idle State = iota
	Requested
	Ready
)

func (s State) String() string {
	switch s {
	case Idle:
		return "idle"
	case Requested:
		return "requested"
	case Ready:
		return "ready"
	}
	return fmt.Sprintf("state(%d)", int(s))
}

// ConversionTime covers a 12 bit DS18B20 conversion.
const ConversionTime = 800 * time.Millisecond

type Opts struct {
	FS             billy.Filesystem
	Clock          clock.Clock
	ConversionTime time.Duration
	Logger         *slog.Logger
}

type Opt func(*Opts)

func WithFS(fs billy.Filesystem) Opt {
	return func(o *Opts) { o.FS = fs }
}

func WithClock(clk clock.Clock) Opt {
	return func(o *Opts) { o.Clock = clk }
}

func WithConversionTime(d time.Duration) Opt {
	return func(o *Opts) { o.ConversionTime = d }
}

func WithLogger(l *slog.Logger) Opt {
	return func(o *Opts) { o.Logger = l }
}

// Poller drives the Idle, Requested, Ready cycle across all bus masters.
// It is meant to be ticked from a single loop and is not safe for
// concurrent use.
type Poller struct {
	opts     Opts
	masters  []master
	state    State
	deadline time.Time
	log      *slog.Logger
}

func NewPoller(opts ...Opt) *Poller {
	o := Opts{ConversionTime: ConversionTime}
	for _, opt := range opts {
		opt(&o)
	}
	if o.FS == nil {
		o.FS = osfs.New(DefaultRoot)
	}
	if o.Clock == nil {
		o.Clock = clock.New()
	}
	if o.Logger == nil {
		o.Logger = slog.Default()
	}
	return &Poller{opts: o, log: o.Logger.With("component", "onewire")}
}

// Begin enumerates masters and probes. A host without the w1 subsystem
// yields an error and an empty poller that never produces readings.
func (p *Poller) Begin() error {
	masters, err := scanMasters(p.opts.FS)
	if err != nil {
		return err
	}
	p.masters = masters
	for _, m := range masters {
		p.log.Info("onewire bus", "bus", m.id, "devices", len(m.devices))
	}
	return nil
}

func (p *Poller) State() State {
	return p.state
}

func (p *Poller) BusCount() int {
	return len(p.masters)
}

// Devices lists every probe found by Begin.
func (p *Poller) Devices() []Device {
	return lo.FlatMap(p.masters, func(m master, _ int) []Device { return m.devices })
}

// Tick advances the state machine and never sleeps. Readings are returned
// only on the tick that completes a cycle; invalid readings are left out.
func (p *Poller) Tick() []Reading {
	if len(p.masters) == 0 {
		return nil
	}
	now := p.opts.Clock.Now()
	switch p.state {
	case Idle:
		for _, m := range p.masters {
			if err := m.trigger(p.opts.FS); err != nil {
				p.log.Warn("conversion request failed", "bus", m.id, "error", err)
			}
		}
		p.deadline = now.Add(p.opts.ConversionTime)
		p.state = Requested
		return nil
	case Requested:
		if now.Before(p.deadline) {
			return nil
		}
		p.state = Ready
		fallthrough
	case Ready:
		res := p.collect()
		p.state = Idle
		return res
	}
	return nil
}

func (p *Poller) collect() []Reading {
	var res []Reading
	for _, m := range p.masters {
		for _, d := range m.devices {
			t, err := readDevice(p.opts.FS, m.dir, d)
			if err != nil {
				p.log.Debug("probe read failed", "bus", d.BusID, "address", d.Address(), "error", err)
				continue
			}
			r := Reading{Device: d, TempC: t, Valid: validTemp(t)}
			if !r.Valid {
				p.log.Debug("probe value out of range", "bus", d.BusID, "address", d.Address(), "temp_c", t)
				continue
			}
			res = append(res, r)
		}
	}
	return res
}
