package environment

import (
	"context"
	"encoding/binary"
	"fmt"
	"time"

	"github.com/mklimuk/fanmon"
	"github.com/mklimuk/fanmon/sensor"
)

// SHTC3 I2C address (7-bit)
const shtc3Address = 0x70

// Commands (Big Endian on the wire)
const (
	shtc3CmdWake  uint16 = 0x3517
	shtc3CmdSleep uint16 = 0xB098
	shtc3CmdID    uint16 = 0xEFC8

	// Normal power, clock stretching disabled
	// Measure T first, then RH
	shtc3CmdMeasureTFirstNoCS uint16 = 0x7866
)

const (
	shtc3IDMask  uint16 = 0x083F
	shtc3IDValue uint16 = 0x0807
)

var _ sensor.Driver[sensor.TempHumidity] = &SHTC3{}

// SHTC3 represents Sensirion SHTC3 Temperature/Humidity sensor
// Typical usage:
//
//	s := NewSHTC3(bus)
//	err := s.Begin(ctx)
//	r, err := s.Read(ctx)
type SHTC3 struct {
	transport fanmon.I2CBus
}

func NewSHTC3(trans fanmon.I2CBus) *SHTC3 {
	return &SHTC3{transport: trans}
}

// Begin wakes the sensor and checks its id register.
func (s *SHTC3) Begin(ctx context.Context) error {
	if err := s.writeCmd(ctx, shtc3CmdWake); err != nil {
		return fmt.Errorf("shtc3: wake failed: %w", err)
	}
	if err := fanmon.Wait(ctx, time.Millisecond); err != nil {
		return err
	}
	if err := s.writeCmd(ctx, shtc3CmdID); err != nil {
		return fmt.Errorf("shtc3: id command failed: %w", err)
	}
	buf := make([]byte, 3)
	if err := s.transport.ReadFromAddr(ctx, shtc3Address, buf); err != nil {
		return fmt.Errorf("shtc3: id read failed: %w", err)
	}
	if !shtCRC8Check(buf[0:2], buf[2]) {
		return fmt.Errorf("shtc3: id CRC mismatch: %w", fanmon.ErrInvalidData)
	}
	id := binary.BigEndian.Uint16(buf[0:2])
	if id&shtc3IDMask != shtc3IDValue {
		return fmt.Errorf("shtc3: unexpected id %#04x: %w", id, fanmon.ErrInvalidData)
	}
	return s.writeCmd(ctx, shtc3CmdSleep)
}

// IsConnected checks that the sensor acknowledges a wake command.
func (s *SHTC3) IsConnected(ctx context.Context) bool {
	return s.writeCmd(ctx, shtc3CmdWake) == nil
}

// Read performs a single measurement.
func (s *SHTC3) Read(ctx context.Context) (sensor.TempHumidity, error) {
	var r sensor.TempHumidity
	// Wake up from sleep
	if err := s.writeCmd(ctx, shtc3CmdWake); err != nil {
		return r, fmt.Errorf("shtc3: wake failed: %w", err)
	}
	// Typical wake time is very short (< 240us), small delay to be safe
	if err := fanmon.Wait(ctx, time.Millisecond); err != nil {
		return r, err
	}

	// Trigger measurement (normal power, no clock stretching, T first)
	if err := s.writeCmd(ctx, shtc3CmdMeasureTFirstNoCS); err != nil {
		return r, fmt.Errorf("shtc3: measure command failed: %w", err)
	}
	// Typical measurement time ~12.1 ms (normal mode). Wait conservatively.
	if err := fanmon.Wait(ctx, 15*time.Millisecond); err != nil {
		return r, err
	}

	// Read 6 bytes: T[0:2], CRC, RH[3:5]
	buf := make([]byte, 6)
	if err := s.transport.ReadFromAddr(ctx, shtc3Address, buf); err != nil {
		return r, fmt.Errorf("shtc3: read failed: %w", err)
	}

	// A CRC mismatch invalidates only the affected word
	if shtCRC8Check(buf[0:2], buf[2]) {
		r.TempC = shtc3Temperature(binary.BigEndian.Uint16(buf[0:2]))
		r.TempValid = true
	}
	if shtCRC8Check(buf[3:5], buf[5]) {
		r.Humidity = shtc3Humidity(binary.BigEndian.Uint16(buf[3:5]))
		r.HumidityValid = true
	}
	if !r.TempValid && !r.HumidityValid {
		return r, fmt.Errorf("shtc3: CRC mismatch: %w", fanmon.ErrInvalidData)
	}

	// Go back to sleep to save power
	if err := s.writeCmd(ctx, shtc3CmdSleep); err != nil {
		return r, fmt.Errorf("shtc3: sleep failed: %w", err)
	}
	return r, nil
}

// Conversion formulas from datasheet
// T(C) = -45 + 175 * rawT / 65535
// RH(%) = 100 * rawRH / 65535
func shtc3Temperature(raw uint16) float64 {
	return -45.0 + 175.0*float64(raw)/65535.0
}

func shtc3Humidity(raw uint16) float64 {
	return 100.0 * float64(raw) / 65535.0
}

func (s *SHTC3) writeCmd(ctx context.Context, cmd uint16) error {
	var out [2]byte
	binary.BigEndian.PutUint16(out[:], cmd)
	return s.transport.WriteToAddr(ctx, shtc3Address, out[:])
}

func shtCRC8Check(data []byte, expected byte) bool {
	return crc8(0xFF, data) == expected
}
