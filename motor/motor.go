// Package motor drives a brushed fan motor through an H-bridge: one PWM
// pin, two direction pins and two open-drain diagnostic pins.
package motor

import (
	"fmt"
	"log/slog"
	"math"
	"sync"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/mklimuk/fanmon"
	"github.com/mklimuk/fanmon/sensor"
	"periph.io/x/conn/v3/gpio"
	"periph.io/x/conn/v3/gpio/gpioreg"
	"periph.io/x/conn/v3/physic"
	"periph.io/x/host/v3"
)

const (
	DefaultFrequency = 20 * physic.KiloHertz
	DefaultDeadtime  = 2 * time.Millisecond
)

// Pins are the bridge connections. A nil pin is skipped; a nil diagnostic
// pin reads as healthy.
type Pins struct {
	PWM gpio.PinOut
	InA gpio.PinOut
	InB gpio.PinOut
	EnA gpio.PinIn
	EnB gpio.PinIn
}

// OpenPins looks the pins up by name in the periph registry.
func OpenPins(pwm, inA, inB, enA, enB string) (Pins, error) {
	if _, err := host.Init(); err != nil {
		return Pins{}, fmt.Errorf("could not initialize periph host: %w", err)
	}
	var p Pins
	var err error
	lookup := func(name string) gpio.PinIO {
		if name == "" || err != nil {
			return nil
		}
		pin := gpioreg.ByName(name)
		if pin == nil {
			err = fmt.Errorf("gpio %s not found: %w", name, fanmon.ErrInvalidValue)
		}
		return pin
	}
	// unset names leave the interface nil
	if pin := lookup(pwm); pin != nil {
		p.PWM = pin
	}
	if pin := lookup(inA); pin != nil {
		p.InA = pin
	}
	if pin := lookup(inB); pin != nil {
		p.InB = pin
	}
	if pin := lookup(enA); pin != nil {
		p.EnA = pin
	}
	if pin := lookup(enB); pin != nil {
		p.EnB = pin
	}
	return p, err
}

type Opts struct {
	Clock     clock.Clock
	Frequency physic.Frequency
	// MinDuty is the static friction baseline; non-zero power maps into
	// [MinDuty..1].
	MinDuty  float64
	Deadtime time.Duration
	Logger   *slog.Logger
}

type Opt func(*Opts)

func WithClock(clk clock.Clock) Opt {
	return func(o *Opts) { o.Clock = clk }
}

func WithFrequency(f physic.Frequency) Opt {
	return func(o *Opts) { o.Frequency = f }
}

func WithMinDuty(d float64) Opt {
	return func(o *Opts) { o.MinDuty = d }
}

func WithDeadtime(d time.Duration) Opt {
	return func(o *Opts) { o.Deadtime = d }
}

func WithLogger(l *slog.Logger) Opt {
	return func(o *Opts) { o.Logger = l }
}

// Status is a snapshot of the controller.
type Status struct {
	Power     float64 `json:"power"`
	DutyCycle float64 `json:"duty_cycle"`
	Forward   bool    `json:"direction_forward"`
	EnA       bool    `json:"en_a"`
	EnB       bool    `json:"en_b"`
	Fault     bool    `json:"fault"`
}

// Fields formats the status for the health report.
func (s Status) Fields() sensor.Fields {
	f := sensor.Fields{}
	f.SetFloat("motor_power", s.Power)
	f.SetFloat("duty_cycle", s.DutyCycle)
	f.SetBool("direction_forward", s.Forward)
	f.SetBool("en_a", s.EnA)
	f.SetBool("en_b", s.EnB)
	f.SetBool("fault", s.Fault)
	return f
}

// Controller owns the bridge. A direction change first drops the output to
// zero and applies the new direction on the first Update after the
// deadtime; power requested meanwhile is applied with it.
type Controller struct {
	mx       sync.Mutex
	pins     Pins
	clock    clock.Clock
	freq     physic.Frequency
	minDuty  float64
	deadtime time.Duration
	log      *slog.Logger

	power    float64
	duty     float64
	forward  bool
	pending  bool
	target   bool
	switchAt time.Time
}

func New(pins Pins, opts ...Opt) *Controller {
	o := Opts{Clock: clock.New(), Frequency: DefaultFrequency, Deadtime: DefaultDeadtime, Logger: slog.Default()}
	for _, opt := range opts {
		opt(&o)
	}
	return &Controller{
		pins:     pins,
		clock:    o.Clock,
		freq:     o.Frequency,
		minDuty:  clamp(o.MinDuty),
		deadtime: o.Deadtime,
		log:      o.Logger.With("component", "motor"),
		forward:  true,
	}
}

func clamp(p float64) float64 {
	if math.IsNaN(p) {
		return 0
	}
	return math.Max(0, math.Min(1, p))
}

// Begin drives the bridge to a stopped, forward state.
func (c *Controller) Begin() error {
	c.mx.Lock()
	defer c.mx.Unlock()
	for _, in := range []gpio.PinIn{c.pins.EnA, c.pins.EnB} {
		if in == nil {
			continue
		}
		if err := in.In(gpio.PullUp, gpio.NoEdge); err != nil {
			return fmt.Errorf("could not configure diagnostic pin %s: %w", in, err)
		}
	}
	if err := c.setDirection(true); err != nil {
		return err
	}
	return c.setDuty(0)
}

// SetPower clamps p to 0..1 and applies it unless a direction change is
// pending.
func (c *Controller) SetPower(p float64) error {
	c.mx.Lock()
	defer c.mx.Unlock()
	c.power = clamp(p)
	if c.pending {
		return nil
	}
	return c.setDuty(c.dutyFor(c.power))
}

func (c *Controller) dutyFor(p float64) float64 {
	if p == 0 {
		return 0
	}
	return c.minDuty + p*(1-c.minDuty)
}

func (c *Controller) SetDirection(forward bool) error {
	c.mx.Lock()
	defer c.mx.Unlock()
	if c.pending {
		c.target = forward
		return nil
	}
	if forward == c.forward {
		return nil
	}
	c.pending = true
	c.target = forward
	c.switchAt = c.clock.Now().Add(c.deadtime)
	c.log.Debug("direction change scheduled", "forward", forward)
	return c.setDuty(0)
}

// Update completes a pending direction change once the deadtime elapsed.
// It is called on every loop iteration.
func (c *Controller) Update() error {
	c.mx.Lock()
	defer c.mx.Unlock()
	if !c.pending || c.clock.Now().Before(c.switchAt) {
		return nil
	}
	c.pending = false
	if c.target != c.forward {
		if err := c.setDirection(c.target); err != nil {
			return err
		}
	}
	return c.setDuty(c.dutyFor(c.power))
}

func (c *Controller) Power() float64 {
	c.mx.Lock()
	defer c.mx.Unlock()
	return c.power
}

func (c *Controller) Status() Status {
	c.mx.Lock()
	defer c.mx.Unlock()
	enA, enB := read(c.pins.EnA), read(c.pins.EnB)
	return Status{
		Power:     c.power,
		DutyCycle: c.duty,
		Forward:   c.forward,
		EnA:       enA,
		EnB:       enB,
		Fault:     !enA || !enB,
	}
}

// Fields implements the motor part of the health report.
func (c *Controller) Fields() sensor.Fields {
	return c.Status().Fields()
}

// Halt stops the output.
func (c *Controller) Halt() error {
	c.mx.Lock()
	defer c.mx.Unlock()
	c.power = 0
	c.pending = false
	return c.setDuty(0)
}

func read(p gpio.PinIn) bool {
	if p == nil {
		return true
	}
	return p.Read() == gpio.High
}

func (c *Controller) setDirection(forward bool) error {
	a, b := gpio.High, gpio.Low
	if !forward {
		a, b = gpio.Low, gpio.High
	}
	if c.pins.InA != nil {
		if err := c.pins.InA.Out(a); err != nil {
			return fmt.Errorf("could not set IN_A: %w", err)
		}
	}
	if c.pins.InB != nil {
		if err := c.pins.InB.Out(b); err != nil {
			return fmt.Errorf("could not set IN_B: %w", err)
		}
	}
	c.forward = forward
	return nil
}

func (c *Controller) setDuty(d float64) error {
	if c.pins.PWM != nil {
		if err := c.pins.PWM.PWM(gpio.Duty(math.Round(d*float64(gpio.DutyMax))), c.freq); err != nil {
			return fmt.Errorf("could not set pwm duty: %w", err)
		}
	}
	c.duty = d
	return nil
}
