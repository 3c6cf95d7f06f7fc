package power

import (
	"context"
	"encoding/binary"
	"fmt"
	"math"

	"github.com/mklimuk/fanmon"
	"github.com/mklimuk/fanmon/sensor"
)

const (
	regConfig       = 0x00
	regShunt        = 0x01
	regBus          = 0x02
	regPower        = 0x03
	regCurrent      = 0x04
	regCalibration  = 0x05
	regMaskEnable   = 0x06
	regManufacturer = 0xFE
	regDieID        = 0xFF
)

const (
	manufacturerTI = 0x5449
	// 16 averages, 1.1 ms conversion times, shunt and bus continuous
	defaultConfig = 0x4527
	maskOverflow  = 0x0004

	shuntLSB = 0.0025  // mV
	busLSB   = 0.00125 // V
)

type INA226Opts struct {
	ShuntOhms  float64
	MaxCurrent float64
}

type INA226Opt func(*INA226Opts)

// WithShunt sets the shunt resistance and the largest current expected.
func WithShunt(ohms, maxAmps float64) INA226Opt {
	return func(o *INA226Opts) {
		o.ShuntOhms = ohms
		o.MaxCurrent = maxAmps
	}
}

var _ sensor.Driver[sensor.Power] = &INA226{}

// INA226 is the TI bidirectional current and power monitor.
type INA226 struct {
	transport  fanmon.I2CBus
	address    byte
	opts       INA226Opts
	currentLSB float64 // A per bit
	cal        uint16
}

func NewINA226(transport fanmon.I2CBus, address byte, opts ...INA226Opt) *INA226 {
	o := INA226Opts{ShuntOhms: 0.001, MaxCurrent: 30}
	for _, opt := range opts {
		opt(&o)
	}
	lsb := o.MaxCurrent / 32768
	return &INA226{
		transport:  transport,
		address:    address,
		opts:       o,
		currentLSB: lsb,
		cal:        uint16(math.Round(0.00512 / (lsb * o.ShuntOhms))),
	}
}

// Calibration returns the value written to the calibration register.
func (s *INA226) Calibration() uint16 {
	return s.cal
}

// Begin checks the manufacturer id, then programs configuration and calibration.
func (s *INA226) Begin(ctx context.Context) error {
	id, err := s.readRegister(ctx, regManufacturer)
	if err != nil {
		return fmt.Errorf("ina226: could not read manufacturer id: %w", err)
	}
	if id != manufacturerTI {
		return fmt.Errorf("ina226: unexpected manufacturer id %#04x: %w", id, fanmon.ErrInvalidData)
	}
	if err := s.writeRegister(ctx, regConfig, defaultConfig); err != nil {
		return fmt.Errorf("ina226: could not write configuration: %w", err)
	}
	if err := s.writeRegister(ctx, regCalibration, s.cal); err != nil {
		return fmt.Errorf("ina226: could not write calibration: %w", err)
	}
	return nil
}

func (s *INA226) IsConnected(ctx context.Context) bool {
	id, err := s.readRegister(ctx, regManufacturer)
	return err == nil && id == manufacturerTI
}

func (s *INA226) Read(ctx context.Context) (sensor.Power, error) {
	var r sensor.Power
	regs := []byte{regShunt, regBus, regCurrent, regPower, regMaskEnable}
	vals := make(map[byte]uint16, len(regs))
	for _, reg := range regs {
		v, err := s.readRegister(ctx, reg)
		if err != nil {
			return r, fmt.Errorf("ina226: could not read register %#02x: %w", reg, err)
		}
		vals[reg] = v
	}
	r.ShuntMillivolts = float64(int16(vals[regShunt])) * shuntLSB
	r.BusVolts = float64(vals[regBus]) * busLSB
	r.CurrentMilliamps = float64(int16(vals[regCurrent])) * s.currentLSB * 1000
	r.PowerMilliwatts = float64(vals[regPower]) * 25 * s.currentLSB * 1000
	r.Overflow = vals[regMaskEnable]&maskOverflow != 0
	r.Valid = true
	return r, nil
}

// DieID returns the device and revision id register.
func (s *INA226) DieID(ctx context.Context) (uint16, error) {
	return s.readRegister(ctx, regDieID)
}

func (s *INA226) readRegister(ctx context.Context, reg byte) (uint16, error) {
	buf := make([]byte, 2)
	if err := fanmon.ReadRegister(ctx, s.transport, s.address, reg, buf); err != nil {
		return 0, err
	}
	return binary.BigEndian.Uint16(buf), nil
}

func (s *INA226) writeRegister(ctx context.Context, reg byte, v uint16) error {
	return s.transport.WriteToAddr(ctx, s.address, []byte{reg, byte(v >> 8), byte(v)})
}
