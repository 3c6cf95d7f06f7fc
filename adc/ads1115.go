package adc

import (
	"context"
	"encoding/binary"
	"fmt"
	"sync"
	"time"

	"github.com/mklimuk/fanmon"
	"github.com/mklimuk/fanmon/sensor"
)

const (
	regConversion = 0x00
	regConfig     = 0x01
	regLoThresh   = 0x02
	regHiThresh   = 0x03
)

// config register fields
const (
	cfgOS       = 0x8000
	cfgMuxBase  = 4 // AINx against GND
	cfgPGA4V    = 0x0200
	cfgSingle   = 0x0100
	cfgRate128  = 0x0080
	cfgCompNone = 0x0003
)

const (
	Channels = 4
	// LSB in volts at the +-4.096 V range.
	lsb = 0.000125
	// inputs are referenced to a 5 V supply
	maxVolts = 5.0

	conversionTime = 9 * time.Millisecond
	pollLimit      = 5
)

var _ sensor.Driver[sensor.Voltages] = &ADS1115{}

// ADS1115 is the TI 16 bit four channel ADC used in single-shot mode.
type ADS1115 struct {
	mx        sync.Mutex
	transport fanmon.I2CBus
	address   byte
}

func NewADS1115(transport fanmon.I2CBus, address byte) *ADS1115 {
	return &ADS1115{transport: transport, address: address}
}

func singleShot(ch int) uint16 {
	return cfgOS | uint16(cfgMuxBase+ch)<<12 | cfgPGA4V | cfgSingle | cfgRate128 | cfgCompNone
}

// Begin verifies the comparator threshold reset values, then writes a
// configuration and expects it back. Nothing is written to a part that
// does not have the threshold registers.
func (a *ADS1115) Begin(ctx context.Context) error {
	a.mx.Lock()
	defer a.mx.Unlock()
	lo, err := a.readRegister(ctx, regLoThresh)
	if err != nil {
		return fmt.Errorf("ads1115: could not read threshold: %w", err)
	}
	hi, err := a.readRegister(ctx, regHiThresh)
	if err != nil {
		return fmt.Errorf("ads1115: could not read threshold: %w", err)
	}
	if lo != 0x8000 || hi != 0x7FFF {
		return fmt.Errorf("ads1115: unexpected thresholds %#04x/%#04x: %w", lo, hi, fanmon.ErrInvalidData)
	}
	cfg := singleShot(0)
	if err := a.writeRegister(ctx, regConfig, cfg); err != nil {
		return fmt.Errorf("ads1115: could not write config: %w", err)
	}
	back, err := a.readRegister(ctx, regConfig)
	if err != nil {
		return fmt.Errorf("ads1115: could not read config: %w", err)
	}
	if back&^cfgOS != cfg&^cfgOS {
		return fmt.Errorf("ads1115: config readback %#04x: %w", back, fanmon.ErrInvalidData)
	}
	return nil
}

func (a *ADS1115) IsConnected(ctx context.Context) bool {
	a.mx.Lock()
	defer a.mx.Unlock()
	_, err := a.readRegister(ctx, regConfig)
	return err == nil
}

// ReadChannel runs one single-shot conversion of channel against ground.
func (a *ADS1115) ReadChannel(ctx context.Context, channel int) (float64, error) {
	if channel < 0 || channel >= Channels {
		return 0, fmt.Errorf("ads1115: channel %d: %w", channel, fanmon.ErrInvalidValue)
	}
	a.mx.Lock()
	defer a.mx.Unlock()
	if err := a.writeRegister(ctx, regConfig, singleShot(channel)); err != nil {
		return 0, fmt.Errorf("ads1115: could not start conversion: %w", err)
	}
	if err := fanmon.Wait(ctx, conversionTime); err != nil {
		return 0, err
	}
	done := false
	for range pollLimit {
		cfg, err := a.readRegister(ctx, regConfig)
		if err != nil {
			return 0, fmt.Errorf("ads1115: could not read config: %w", err)
		}
		if cfg&cfgOS != 0 {
			done = true
			break
		}
		if err := fanmon.Wait(ctx, time.Millisecond); err != nil {
			return 0, err
		}
	}
	if !done {
		return 0, fmt.Errorf("ads1115: conversion on channel %d: %w", channel, fanmon.ErrSensorTimeout)
	}
	raw, err := a.readRegister(ctx, regConversion)
	if err != nil {
		return 0, fmt.Errorf("ads1115: could not read conversion: %w", err)
	}
	return float64(int16(raw)) * lsb, nil
}

// Read converts all channels. A channel outside 0..5 V is marked invalid;
// a bus failure on any channel fails the read.
func (a *ADS1115) Read(ctx context.Context) (sensor.Voltages, error) {
	r := sensor.Voltages{Volts: make([]float64, Channels), Valid: make([]bool, Channels)}
	for ch := range Channels {
		v, err := a.ReadChannel(ctx, ch)
		if err != nil {
			return sensor.Voltages{}, err
		}
		r.Volts[ch] = v
		r.Valid[ch] = v >= 0 && v <= maxVolts
	}
	return r, nil
}

func (a *ADS1115) readRegister(ctx context.Context, reg byte) (uint16, error) {
	buf := make([]byte, 2)
	if err := fanmon.ReadRegister(ctx, a.transport, a.address, reg, buf); err != nil {
		return 0, err
	}
	return binary.BigEndian.Uint16(buf), nil
}

func (a *ADS1115) writeRegister(ctx context.Context, reg byte, v uint16) error {
	return a.transport.WriteToAddr(ctx, a.address, []byte{reg, byte(v >> 8), byte(v)})
}
