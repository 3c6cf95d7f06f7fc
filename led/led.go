// Package led drives the status LEDs.
package led

import (
	"fmt"
	"sync"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/stianeikeland/go-rpio/v4"
)

type Color int

const (
	Green Color = iota
	Red
	Orange
	Blue
)

func (c Color) String() string {
	switch c {
	case Green:
		return "green"
	case Red:
		return "red"
	case Orange:
		return "orange"
	case Blue:
		return "blue"
	}
	return fmt.Sprintf("color(%d)", int(c))
}

const (
	HeartbeatFlash = 100 * time.Millisecond
	FaultFlash     = 500 * time.Millisecond
)

type Pin interface {
	Set(on bool)
}

type Backend interface {
	Pin(bcm int) Pin
	Close() error
}

// RPIO maps the BCM numbered pins through /dev/gpiomem.
type RPIO struct{}

func OpenRPIO() (*RPIO, error) {
	if err := rpio.Open(); err != nil {
		return nil, fmt.Errorf("could not open gpio memory: %w", err)
	}
	return &RPIO{}, nil
}

func (*RPIO) Pin(bcm int) Pin {
	p := rpio.Pin(bcm)
	p.Output()
	p.Low()
	return rpioPin{p}
}

func (*RPIO) Close() error {
	return rpio.Close()
}

type rpioPin struct {
	rpio.Pin
}

func (p rpioPin) Set(on bool) {
	if on {
		p.High()
		return
	}
	p.Low()
}

// Noop is used when the board has no LEDs.
type Noop struct{}

func (Noop) Pin(int) Pin  { return noopPin{} }
func (Noop) Close() error { return nil }

type noopPin struct{}

func (noopPin) Set(bool) {}

// Controller derives the LED outputs from the device state. Update is
// called from the loop and only changes pins whose level changed.
type Controller struct {
	mx    sync.Mutex
	clock clock.Clock
	pins  map[Color]Pin
	level map[Color]bool

	greenOff     time.Time
	fault        bool
	disconnected bool
	flashSince   time.Time
	update       bool
	motor        bool
}

// Wiring maps colors to BCM pin numbers.
type Wiring map[Color]int

func New(b Backend, w Wiring, clk clock.Clock) *Controller {
	if clk == nil {
		clk = clock.New()
	}
	c := &Controller{clock: clk, pins: map[Color]Pin{}, level: map[Color]bool{}}
	for color, bcm := range w {
		c.pins[color] = b.Pin(bcm)
	}
	return c
}

// Heartbeat flashes green once.
func (c *Controller) Heartbeat() {
	c.mx.Lock()
	defer c.mx.Unlock()
	c.greenOff = c.clock.Now().Add(HeartbeatFlash)
	c.apply()
}

// SetFault latches red on. Used for bus failures at boot and telemetry
// failures; cleared by a later successful flush.
func (c *Controller) SetFault(on bool) {
	c.mx.Lock()
	defer c.mx.Unlock()
	c.fault = on
	c.apply()
}

// SetConnected flashes red while the broker connection is down.
func (c *Controller) SetConnected(connected bool) {
	c.mx.Lock()
	defer c.mx.Unlock()
	if !connected && !c.disconnected {
		c.flashSince = c.clock.Now()
	}
	c.disconnected = !connected
	c.apply()
}

func (c *Controller) SetUpdateAvailable(on bool) {
	c.mx.Lock()
	defer c.mx.Unlock()
	c.update = on
	c.apply()
}

func (c *Controller) SetMotor(on bool) {
	c.mx.Lock()
	defer c.mx.Unlock()
	c.motor = on
	c.apply()
}

func (c *Controller) Update() {
	c.mx.Lock()
	defer c.mx.Unlock()
	c.apply()
}

// Level reports the last level written for color.
func (c *Controller) Level(color Color) bool {
	c.mx.Lock()
	defer c.mx.Unlock()
	return c.level[color]
}

func (c *Controller) apply() {
	now := c.clock.Now()
	red := c.fault
	if !red && c.disconnected {
		red = (now.Sub(c.flashSince)/FaultFlash)%2 == 0
	}
	c.set(Green, now.Before(c.greenOff))
	c.set(Red, red)
	c.set(Orange, c.update)
	c.set(Blue, c.motor)
}

func (c *Controller) set(color Color, on bool) {
	if prev, ok := c.level[color]; ok && prev == on {
		return
	}
	c.level[color] = on
	if p, ok := c.pins[color]; ok {
		p.Set(on)
	}
}

// Off turns every LED off.
func (c *Controller) Off() {
	c.mx.Lock()
	defer c.mx.Unlock()
	for color := range c.pins {
		c.set(color, false)
	}
}
