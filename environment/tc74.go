package environment

import (
	"context"
	"fmt"

	"github.com/mklimuk/fanmon"
	"github.com/mklimuk/fanmon/sensor"
)

const tc74DefaultAddress = 0x4D
const tc74TempRegister = 0x00
const tc74ConfigRegister = 0x01

const (
	tc74ConfigStandby  = 0x80
	tc74ConfigDataRdy  = 0x40
	tc74ConfigReserved = 0x3F
)

var _ sensor.Driver[sensor.Temperature] = &TC74{}

// TC74 represents a Microchip TC74 Digital Temperature Sensor
// See: https://ww1.microchip.com/downloads/en/DeviceDoc/21462D.pdf
//
// Usage: Instantiate with NewTC74, call Begin(ctx), then Read(ctx)
type TC74 struct {
	transport fanmon.I2CBus
	address   byte
	lastTemp  float64
	hasTemp   bool
}

type TC74Config struct {
	Address byte
}

type TC74ConfigOption func(*TC74Config)

func WithAddress(address byte) TC74ConfigOption {
	return func(c *TC74Config) {
		c.Address = address
	}
}

// NewTC74 creates a new TC74 sensor connector with the given I2CBus transport and optional address.
// If no address option is given, the default 0x4D is used.
func NewTC74(trans fanmon.I2CBus, opts ...TC74ConfigOption) *TC74 {
	config := &TC74Config{
		Address: tc74DefaultAddress,
	}
	for _, opt := range opts {
		opt(config)
	}
	return &TC74{transport: trans, address: config.Address}
}

// Begin validates the config register and leaves standby if needed. The
// reserved bits are always zero on a real TC74, which tells it apart from
// other parts answering in the 0x48..0x4F range.
func (s *TC74) Begin(ctx context.Context) error {
	config, err := s.GetConfig(ctx)
	if err != nil {
		return err
	}
	if config&tc74ConfigReserved != 0 {
		return fmt.Errorf("tc74: unexpected config %#02x: %w", config, fanmon.ErrInvalidData)
	}
	if config&tc74ConfigStandby != 0 {
		err = s.transport.WriteToAddr(ctx, s.address, []byte{tc74ConfigRegister, 0x00})
		if err != nil {
			return fmt.Errorf("tc74: could not leave standby: %w", err)
		}
	}
	return nil
}

func (s *TC74) IsConnected(ctx context.Context) bool {
	_, err := s.GetConfig(ctx)
	return err == nil
}

// GetConfig reads the configuration register (0x01) and returns its value.
func (s *TC74) GetConfig(ctx context.Context) (byte, error) {
	resp := make([]byte, 1)
	err := fanmon.ReadRegister(ctx, s.transport, s.address, tc74ConfigRegister, resp)
	if err != nil {
		return 0, fmt.Errorf("tc74: could not read config register: %w", err)
	}
	return resp[0], nil
}

// Read returns the current temperature in Celsius.
// It checks the DATA_RDY bit in the config register before reading temperature
// and falls back to the previous value while a conversion is pending.
func (s *TC74) Read(ctx context.Context) (sensor.Temperature, error) {
	config, err := s.GetConfig(ctx)
	if err != nil {
		return sensor.Temperature{}, fmt.Errorf("tc74: could not get config: %w", err)
	}
	if (config & tc74ConfigDataRdy) == 0 {
		if !s.hasTemp {
			return sensor.Temperature{}, fmt.Errorf("tc74: %w", ErrNotReady)
		}
		return sensor.Temperature{TempC: s.lastTemp, Valid: true}, nil
	}
	resp := make([]byte, 1)
	err = fanmon.ReadRegister(ctx, s.transport, s.address, tc74TempRegister, resp)
	if err != nil {
		return sensor.Temperature{}, fmt.Errorf("tc74: could not read temp register: %w", err)
	}
	// Convert 2's complement 8-bit value to int8
	s.lastTemp = float64(int8(resp[0]))
	s.hasTemp = true
	return sensor.Temperature{TempC: s.lastTemp, Valid: true}, nil
}
