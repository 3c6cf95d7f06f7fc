package environment

import (
	"context"
	"encoding/binary"
	"fmt"
	"time"

	"github.com/mklimuk/fanmon"
	"github.com/mklimuk/fanmon/sensor"
)

const BH1750AddrHigh = 0b1011100
const BH1750AddrLow = 0b0100011

const (
	opCodePowerOn             = 0b00000001
	opCodeReset               = 0b00000111
	opCodeSingleLowResolution = 0b00100011
)

var _ sensor.Driver[sensor.Light] = &BH1750{}

type BH1750 struct {
	transport fanmon.I2CBus
	addr      byte
	buf       []byte
}

func NewBH1750(transport fanmon.I2CBus, addr byte) *BH1750 {
	return &BH1750{
		addr:      addr,
		transport: transport,
		buf:       make([]byte, 2),
	}
}

// Begin powers the sensor on and clears the data register.
func (s *BH1750) Begin(ctx context.Context) error {
	err := s.transport.WriteToAddr(ctx, s.addr, []byte{opCodePowerOn})
	if err != nil {
		return fmt.Errorf("could not power on: %w", err)
	}
	err = s.transport.WriteToAddr(ctx, s.addr, []byte{opCodeReset})
	if err != nil {
		return fmt.Errorf("could not reset: %w", err)
	}
	return nil
}

func (s *BH1750) IsConnected(ctx context.Context) bool {
	return s.transport.WriteToAddr(ctx, s.addr, []byte{opCodePowerOn}) == nil
}

func (s *BH1750) Read(ctx context.Context) (sensor.Light, error) {
	lux, err := s.GetLux(ctx)
	if err != nil {
		return sensor.Light{}, err
	}
	return sensor.Light{Lux: lux, Valid: true}, nil
}

func (s *BH1750) GetLux(ctx context.Context) (float64, error) {
	err := s.transport.WriteToAddr(ctx, s.addr, []byte{opCodeSingleLowResolution})
	if err != nil {
		return 0, fmt.Errorf("could not write command: %w", err)
	}
	// measurement cycle takes typically 16ms, max time is 24ms, we will wait for 25ms
	if err := fanmon.Wait(ctx, 25*time.Millisecond); err != nil {
		return 0, err
	}
	err = s.transport.ReadFromAddr(ctx, s.addr, s.buf)
	if err != nil {
		return 0, fmt.Errorf("could not read data: %w", err)
	}
	return float64(binary.BigEndian.Uint16(s.buf)) / 1.2, nil
}
