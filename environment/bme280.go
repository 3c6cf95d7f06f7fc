package environment

import (
	"context"
	"fmt"

	"github.com/mklimuk/fanmon"
	"github.com/mklimuk/fanmon/i2c"
	"github.com/mklimuk/fanmon/sensor"
	"periph.io/x/conn/v3/physic"
	"periph.io/x/devices/v3/bmxx80"
)

var _ sensor.Driver[Atmospheric] = &BME280{}

// BME280 runs the periph bmxx80 driver on top of any of our transports.
// The periph driver checks the chip id, so a BME688 at the same address
// is refused.
type BME280 struct {
	bus     *i2c.PeriphBus
	address byte
	opts    bmxx80.Opts
	dev     *bmxx80.Dev
}

func NewBME280(transport fanmon.I2CBus, address byte) *BME280 {
	return &BME280{
		bus:     i2c.NewPeriphBus(context.Background(), fmt.Sprintf("bme280@%#02x", address), transport),
		address: address,
		opts:    bmxx80.DefaultOpts,
	}
}

func (s *BME280) Begin(ctx context.Context) error {
	s.bus.Bind(ctx)
	dev, err := bmxx80.NewI2C(s.bus, uint16(s.address), &s.opts)
	if err != nil {
		return fmt.Errorf("bme280: %w: %w", fanmon.ErrNotInitialized, err)
	}
	s.dev = dev
	return nil
}

func (s *BME280) IsConnected(ctx context.Context) bool {
	s.bus.Bind(ctx)
	resp := make([]byte, 1)
	// chip id register
	return s.bus.Tx(uint16(s.address), []byte{0xD0}, resp) == nil && resp[0] != 0
}

func (s *BME280) Read(ctx context.Context) (Atmospheric, error) {
	var r Atmospheric
	if s.dev == nil {
		return r, fanmon.ErrNotInitialized
	}
	s.bus.Bind(ctx)
	var env physic.Env
	if err := s.dev.Sense(&env); err != nil {
		return r, fmt.Errorf("bme280: sense failed: %w", err)
	}
	r.TempC = env.Temperature.Celsius()
	r.TempValid = true
	r.PressurePa = float64(env.Pressure) / float64(physic.Pascal)
	r.PressureValid = r.PressurePa > 0
	r.Humidity = float64(env.Humidity) / float64(physic.PercentRH)
	// BMP280 parts answer with the same driver but have no humidity sensor
	r.HumidityValid = env.Humidity > 0
	return r, nil
}

// Halt puts the sensor into sleep mode.
func (s *BME280) Halt() error {
	if s.dev == nil {
		return nil
	}
	return s.dev.Halt()
}
