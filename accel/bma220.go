package accel

import (
	"context"
	"fmt"
	"sync"

	"github.com/mklimuk/fanmon"
	"github.com/mklimuk/fanmon/sensor"
)

const (
	regChipID        = 0x00
	regRange         = 0x22
	regLatch         = 0x1C
	regSlopeSettings = 0x12
	regSlopeDet      = 0x1A
	regWatchdog      = 0x2E
	regInterrupts    = 0x18
)

const (
	chipID = 0xDD

	AddrLow  = 0x0A
	AddrHigh = 0x0B
)

const MeasurementVibration = "vibration"

// Motion is the latched slope interrupt state.
type Motion struct {
	Detected bool
	Valid    bool
}

func FormatMotion(m Motion) sensor.Fields {
	f := sensor.Fields{}
	if m.Valid {
		f.SetBool("motion", m.Detected)
	}
	return f
}

var _ sensor.Driver[Motion] = &BMA220{}

// BMA220 represents Bosh BMA220 accelerometer used as a vibration detector
// on the fan housing.
type BMA220 struct {
	mx        sync.Mutex
	transport fanmon.I2CBus
	address   byte
}

func NewBMA220(trans fanmon.I2CBus, address byte) *BMA220 {
	return &BMA220{transport: trans, address: address}
}

// Begin checks the chip id and arms slope detection.
func (b *BMA220) Begin(ctx context.Context) error {
	id, err := b.readRegister(ctx, regChipID)
	if err != nil {
		return fmt.Errorf("bma220: could not read chip id: %w", err)
	}
	if id != chipID {
		return fmt.Errorf("bma220: unexpected chip id %#02x: %w", id, fanmon.ErrInvalidData)
	}
	return b.InitMotionDetection(ctx)
}

func (b *BMA220) IsConnected(ctx context.Context) bool {
	id, err := b.readRegister(ctx, regChipID)
	return err == nil && id == chipID
}

/*
en_slope_x (0x1A.5) enable slope detection on x-axis
en_slope_y (0x1A.4) enable slope detection on y-axis
en_slope_z (0x1A.3) enable slope detection on z-axis
slope_th (0x12[5:2]) define the threshold level of the slope 1 LSB threshold is 1 LSB of acc_data
slope_dur (0x12[1:0]) define the number of consecutive slope data points above slope_th which are required to set the interrupt (“00” = 1,”01” = 2,”10” = 3, “11” = 4)
slope_filt (0x12.6) defines whether filtered or unfiltered acceleration data should be used (evaluated) (‘0’=unfiltered, ‘1’=filtered)
slope_int (0x0C.0) whether slope interrupt has been triggered
*/
func (b *BMA220) InitMotionDetection(ctx context.Context) error {
	steps := []struct {
		reg, value byte
		what       string
	}{
		{regRange, 0x03, "detection sensitivity"},
		// permanent interrupt latch lat_int[2:0] = 111
		{regLatch, 0b01110000, "interrupt settings"},
		{regSlopeDet, 0b00111000, "slope detection"},
		// default 0x45
		{regSlopeSettings, 0x45, "slope detection settings"},
		{regWatchdog, 0x06, "watchdog settings"},
	}
	b.mx.Lock()
	defer b.mx.Unlock()
	for _, s := range steps {
		err := b.transport.WriteToAddr(ctx, b.address, []byte{s.reg, s.value})
		if err != nil {
			return fmt.Errorf("bma220: could not set %s: %w", s.what, err)
		}
	}
	return nil
}

// CheckMotionInterrupt reports whether the slope interrupt is latched.
func (b *BMA220) CheckMotionInterrupt(ctx context.Context) (bool, error) {
	v, err := b.readRegister(ctx, regInterrupts)
	if err != nil {
		return false, fmt.Errorf("bma220: could not read interrupt status: %w", err)
	}
	// slope detection is on bit 0
	return v&0x01 != 0, nil
}

func (b *BMA220) ResetMotionInterrupt(ctx context.Context) error {
	b.mx.Lock()
	defer b.mx.Unlock()
	err := b.transport.WriteToAddr(ctx, b.address, []byte{regLatch, 0b11110000})
	if err != nil {
		return fmt.Errorf("bma220: could not reset interrupt latch: %w", err)
	}
	return nil
}

// Read reports motion since the previous read and clears the latch.
func (b *BMA220) Read(ctx context.Context) (Motion, error) {
	detected, err := b.CheckMotionInterrupt(ctx)
	if err != nil {
		return Motion{}, err
	}
	if detected {
		if err := b.ResetMotionInterrupt(ctx); err != nil {
			return Motion{}, err
		}
	}
	return Motion{Detected: detected, Valid: true}, nil
}

func (b *BMA220) readRegister(ctx context.Context, reg byte) (byte, error) {
	b.mx.Lock()
	defer b.mx.Unlock()
	buf := []byte{0x00}
	if err := fanmon.ReadRegister(ctx, b.transport, b.address, reg, buf); err != nil {
		return 0, err
	}
	return buf[0], nil
}

func BMA220Descriptor() sensor.Descriptor {
	return sensor.Describe("BMA220", MeasurementVibration, []byte{AddrLow, AddrHigh},
		func(t fanmon.I2CBus, a byte) sensor.Driver[Motion] { return NewBMA220(t, a) },
		FormatMotion)
}
