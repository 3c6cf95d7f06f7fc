package environment

import (
	"context"
	"fmt"
	"time"

	"github.com/mklimuk/fanmon"
	"github.com/mklimuk/fanmon/sensor"
)

const aht20Address = 0x38

const (
	aht20CmdStatus  = 0x71
	aht20CmdInit    = 0xBE
	aht20CmdTrigger = 0xAC

	aht20StatusBusy       = 0x80
	aht20StatusCalibrated = 0x08
)

var _ sensor.Driver[sensor.TempHumidity] = &AHT20{}

// AHT20 is the Aosong AHT20 temperature and humidity sensor.
type AHT20 struct {
	transport fanmon.I2CBus
	address   byte
	// pollTimeout bounds the busy-flag wait after the fixed conversion delay.
	pollTimeout time.Duration
}

func NewAHT20(transport fanmon.I2CBus, address byte) *AHT20 {
	return &AHT20{transport: transport, address: address, pollTimeout: 200 * time.Millisecond}
}

// Begin waits out the power-on time, reads the status and calibrates the
// sensor when the calibration bit is clear.
func (s *AHT20) Begin(ctx context.Context) error {
	if err := fanmon.Wait(ctx, 40*time.Millisecond); err != nil {
		return err
	}
	status, err := s.status(ctx)
	if err != nil {
		return fmt.Errorf("aht20: status check failed: %w", err)
	}
	if status&aht20StatusCalibrated != 0 {
		return nil
	}
	err = s.transport.WriteToAddr(ctx, s.address, []byte{aht20CmdInit, 0x08, 0x00})
	if err != nil {
		return fmt.Errorf("aht20: initialization failed: %w", err)
	}
	return fanmon.Wait(ctx, 10*time.Millisecond)
}

func (s *AHT20) IsConnected(ctx context.Context) bool {
	return s.transport.WriteToAddr(ctx, s.address, []byte{aht20CmdStatus}) == nil
}

func (s *AHT20) Read(ctx context.Context) (sensor.TempHumidity, error) {
	var r sensor.TempHumidity
	err := s.transport.WriteToAddr(ctx, s.address, []byte{aht20CmdTrigger, 0x33, 0x00})
	if err != nil {
		return r, fmt.Errorf("aht20: trigger failed: %w", err)
	}
	// conversion takes 80ms typically
	if err := fanmon.Wait(ctx, 80*time.Millisecond); err != nil {
		return r, err
	}
	deadline := time.Now().Add(s.pollTimeout)
	for {
		status, err := s.status(ctx)
		if err == nil && status&aht20StatusBusy == 0 {
			break
		}
		if time.Now().After(deadline) {
			break
		}
		if err := fanmon.Wait(ctx, 10*time.Millisecond); err != nil {
			return r, err
		}
	}
	data := make([]byte, 6)
	if err := s.transport.ReadFromAddr(ctx, s.address, data); err != nil {
		return r, fmt.Errorf("aht20: read data failed: %w", err)
	}
	if data[0]&aht20StatusBusy != 0 {
		return r, fmt.Errorf("aht20: still busy: %w", fanmon.ErrSensorTimeout)
	}
	r.Humidity, r.TempC = aht20Convert(data)
	r.HumidityValid = true
	r.TempValid = true
	return r, nil
}

func (s *AHT20) status(ctx context.Context) (byte, error) {
	resp := make([]byte, 1)
	err := fanmon.ReadRegister(ctx, s.transport, s.address, aht20CmdStatus, resp)
	if err != nil {
		return 0, err
	}
	return resp[0], nil
}

// aht20Convert extracts the two 20-bit values packed in bytes 1..5.
// RH% = raw / 2^20 * 100, T = raw / 2^20 * 200 - 50
func aht20Convert(data []byte) (humidity, tempC float64) {
	rawHum := uint32(data[1])<<12 | uint32(data[2])<<4 | uint32(data[3])>>4
	rawTemp := uint32(data[3]&0x0F)<<16 | uint32(data[4])<<8 | uint32(data[5])
	humidity = float64(rawHum) * 100 / 1048576
	tempC = float64(rawTemp)*200/1048576 - 50
	humidity = min(max(humidity, 0), 100)
	return humidity, tempC
}
