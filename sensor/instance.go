package sensor

import (
	"context"
	"errors"
	"fmt"

	"github.com/mklimuk/fanmon"
)

// Instance is the uniform handle the discovery and report pipeline works with.
type Instance interface {
	TypeName() string
	Measurement() string
	// Name is a human name for synthesized sensors, empty otherwise.
	Name() string
	BusID() uint8
	Address() byte
	// Serial returns a factory programmed unique id when the part has one.
	Serial() (uint64, bool)
	IsConnected(ctx context.Context) bool
	// ReadFields triggers exactly one read of the underlying driver.
	ReadFields(ctx context.Context) (Fields, error)
	NeedsPostProcessing() bool
	CreatePostProcessedSensors() []Instance
}

// Driver is a physical sensor driver producing readings of type R.
type Driver[R any] interface {
	Begin(ctx context.Context) error
	Read(ctx context.Context) (R, error)
	IsConnected(ctx context.Context) bool
}

// Serialer is implemented by drivers exposing a unique id.
type Serialer interface {
	Serial(ctx context.Context) (uint64, error)
}

// Formatter converts a typed reading into fields, omitting invalid values.
type Formatter[R any] func(R) Fields

// Info is the identity of an instance.
type Info struct {
	TypeName    string
	Measurement string
	BusID       uint8
	Address     byte
}

var _ Instance = &Concrete[TempHumidity]{}

// Concrete adapts a driver and its formatter to Instance.
type Concrete[R any] struct {
	info      Info
	driver    Driver[R]
	format    Formatter[R]
	serial    uint64
	hasSerial bool
}

func Adapt[R any](info Info, driver Driver[R], format Formatter[R]) *Concrete[R] {
	return &Concrete[R]{info: info, driver: driver, format: format}
}

// Start runs the driver handshake and wraps it. The serial number is read
// once here; failing to read it is not an error.
func Start[R any](ctx context.Context, info Info, driver Driver[R], format Formatter[R]) (*Concrete[R], error) {
	err := driver.Begin(ctx)
	if err != nil {
		return nil, fmt.Errorf("%s begin at %#x: %w", info.TypeName, info.Address, err)
	}
	c := Adapt(info, driver, format)
	if s, ok := driver.(Serialer); ok {
		serial, err := s.Serial(ctx)
		if err == nil {
			c.serial = serial
			c.hasSerial = true
		}
	}
	return c, nil
}

func (c *Concrete[R]) TypeName() string    { return c.info.TypeName }
func (c *Concrete[R]) Measurement() string { return c.info.Measurement }
func (c *Concrete[R]) Name() string        { return "" }
func (c *Concrete[R]) BusID() uint8        { return c.info.BusID }
func (c *Concrete[R]) Address() byte       { return c.info.Address }

func (c *Concrete[R]) Serial() (uint64, bool) {
	return c.serial, c.hasSerial
}

func (c *Concrete[R]) Driver() Driver[R] {
	return c.driver
}

func (c *Concrete[R]) IsConnected(ctx context.Context) bool {
	return c.driver != nil && c.driver.IsConnected(ctx)
}

func (c *Concrete[R]) ReadFields(ctx context.Context) (Fields, error) {
	if c.driver == nil {
		return nil, fanmon.ErrNotInitialized
	}
	r, err := c.driver.Read(ctx)
	if err != nil {
		return nil, readError(c.info, err)
	}
	return c.format(r), nil
}

func (c *Concrete[R]) NeedsPostProcessing() bool {
	return false
}

func (c *Concrete[R]) CreatePostProcessedSensors() []Instance {
	return nil
}

func readError(info Info, err error) error {
	if fanmon.IsSensorError(err) || errors.Is(err, context.Canceled) {
		return fmt.Errorf("%s read at bus %d %#x: %w", info.TypeName, info.BusID, info.Address, err)
	}
	return fmt.Errorf("%s read at bus %d %#x: %w: %w", info.TypeName, info.BusID, info.Address, fanmon.ErrReadFailed, err)
}
