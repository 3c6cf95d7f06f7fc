package air

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/mklimuk/fanmon"
	"github.com/mklimuk/fanmon/sensor"
)

// AGS02MA default 7-bit I2C address is 0x1A.
// Datasheet also mentions write/read instructions 0x34/0x35 which are the
// 8-bit bus addresses (0x1A<<1 | 0 for write, | 1 for read) used on the wire.
const ags02maAddress = 0x1A

// Register/command map (per datasheet)
//
//	0x00: TVOC readout (first byte is status, next three bytes are TVOC ppb)
const (
	regTVOC       byte = 0x00
	regVersion    byte = 0x11
	regResistance byte = 0x20
	regCalibrate  byte = 0x01
)

// Status byte bit definitions (Data1):
// Bit0: RDY (0 = ready, 1 = not ready or pre-heat)
// Bit3..1: CI[2:0] data type (000 => TVOC in ppb after power-on)
// Bit7..4: Reserved (0)
const (
	statusBitRDY = 0x01
)

var ErrNotReady = fmt.Errorf("ags02ma: data not ready or sensor in pre-heat stage: %w", fanmon.ErrSensorTimeout)

// ErrQuiet is returned when an operation is attempted before the quiet
// period that follows the previous one has elapsed.
var ErrQuiet = fmt.Errorf("ags02ma: quiet period after last operation: %w", fanmon.ErrSensorTimeout)

const (
	TVOCModeDirectRead    byte = 0x00
	TVOCModeRegisterWrite byte = 0x01
)

type AGS02MAOpts struct {
	ConfigureDelay time.Duration
	ReadDelay      time.Duration
	TxDelay        time.Duration
	TVOCMode       byte
	Clock          clock.Clock
}

type AGS02MAOpt func(*AGS02MAOpts)

func WithConfigureDelay(delay time.Duration) AGS02MAOpt {
	return func(o *AGS02MAOpts) {
		o.ConfigureDelay = delay
	}
}

func WithReadDelay(delay time.Duration) AGS02MAOpt {
	return func(o *AGS02MAOpts) {
		o.ReadDelay = delay
	}
}

func WithTxDelay(delay time.Duration) AGS02MAOpt {
	return func(o *AGS02MAOpts) {
		o.TxDelay = delay
	}
}

func WithTVOCMode(mode byte) AGS02MAOpt {
	return func(o *AGS02MAOpts) {
		o.TVOCMode = mode
	}
}

func WithClock(clk clock.Clock) AGS02MAOpt {
	return func(o *AGS02MAOpts) {
		o.Clock = clk
	}
}

var _ sensor.Driver[TVOC] = &AGS02MA{}

// AGS02MA represents Aosong AGS02MA TVOC sensor.
// Typical usage:
//
//	s := NewAGS02MA(bus)
//	v, err := s.GetTVOC(ctx)
//
// Value is returned in parts-per-billion (ppb) as integer.
// Note: The sensor requires a slow I2C clock (<= 30 kHz). Ensure adapter supports it.
//
// The sensor needs a quiet period after configuration and after each read.
// Instead of waiting, the driver records a deadline and refuses operations
// with ErrQuiet until it has passed, so a caller on a superloop never blocks.
type AGS02MA struct {
	mx      sync.Mutex
	readyAt time.Time

	config AGS02MAOpts

	transport fanmon.I2CBus
	addr      byte
	buf       []byte
}

func NewAGS02MA(transport fanmon.I2CBus, opts ...AGS02MAOpt) *AGS02MA {
	config := AGS02MAOpts{
		ConfigureDelay: 2 * time.Second,
		ReadDelay:      1500 * time.Millisecond,
		TxDelay:        100 * time.Millisecond,
		TVOCMode:       TVOCModeRegisterWrite,
		Clock:          clock.New(),
	}
	for _, opt := range opts {
		opt(&config)
	}
	return &AGS02MA{
		config:    config,
		transport: transport,
		addr:      ags02maAddress,
		buf:       make([]byte, 5),
	}
}

// Quiet reports whether the sensor is still in its quiet period.
func (s *AGS02MA) Quiet() bool {
	s.mx.Lock()
	defer s.mx.Unlock()
	return s.quiet()
}

func (s *AGS02MA) quiet() bool {
	return s.config.Clock.Now().Before(s.readyAt)
}

func (s *AGS02MA) hold(d time.Duration) {
	s.readyAt = s.config.Clock.Now().Add(d)
}

// Begin checks that the part answers the version register with a valid CRC.
func (s *AGS02MA) Begin(ctx context.Context) error {
	_, err := s.ReadVersion(ctx)
	return err
}

// IsConnected is true while the sensor is in a quiet period after a
// successful operation; otherwise the address is probed.
func (s *AGS02MA) IsConnected(ctx context.Context) bool {
	s.mx.Lock()
	defer s.mx.Unlock()
	if s.quiet() {
		return true
	}
	return s.transport.ReadFromAddr(ctx, s.addr, make([]byte, 1)) == nil
}

// Read measures TVOC. During the quiet period it fails with ErrQuiet and
// the cycle skips the sensor.
func (s *AGS02MA) Read(ctx context.Context) (TVOC, error) {
	ppb, err := s.GetTVOC(ctx)
	if err != nil {
		return TVOC{}, err
	}
	return TVOC{PPB: float64(ppb), Valid: true}, nil
}

func (s *AGS02MA) Configure(ctx context.Context) error {
	s.mx.Lock()
	defer s.mx.Unlock()
	if s.quiet() {
		return ErrQuiet
	}
	err := s.transport.WriteToAddr(ctx, s.addr, []byte{regTVOC, 0x00, 0xFF, 0x00, 0xFF, 0x30})
	if err != nil {
		return fmt.Errorf("ags02ma: configuration write failed: %w", err)
	}
	// Recommended 2 second delay after configuration
	s.hold(s.config.ConfigureDelay)
	return nil
}

// GetTVOC performs a "master direct read" or "register write" as described in the datasheet.
// The mode is determined by the TVOCMode configuration option.
func (s *AGS02MA) GetTVOC(ctx context.Context) (uint32, error) {
	if s.config.TVOCMode == TVOCModeDirectRead {
		return s.GetTVOCDirectRead(ctx)
	}
	return s.GetTVOCWithRegisterWrite(ctx)
}

// GetTVOCDirectRead performs a "master direct read" as described in the datasheet.
// This does NOT write the register first and simply reads 4 bytes.
// The first byte is status; the remaining three make a 24-bit big-endian ppb value.
func (s *AGS02MA) GetTVOCDirectRead(ctx context.Context) (uint32, error) {
	s.mx.Lock()
	defer s.mx.Unlock()
	if s.quiet() {
		return 0, ErrQuiet
	}
	err := s.transport.ReadFromAddr(ctx, s.addr, s.buf)
	if err != nil {
		return 0, fmt.Errorf("ags02ma: read failed: %w", err)
	}
	return s.tvoc()
}

// GetTVOCWithRegisterWrite explicitly writes register 0x00 and then reads.
// Some hosts or sequences may prefer this form. A small wait can be added to
// allow the device to update data, but the RDY bit is authoritative.
func (s *AGS02MA) GetTVOCWithRegisterWrite(ctx context.Context) (uint32, error) {
	s.mx.Lock()
	defer s.mx.Unlock()
	if s.quiet() {
		return 0, ErrQuiet
	}
	if err := s.command(ctx, regTVOC); err != nil {
		return 0, err
	}
	return s.tvoc()
}

func (s *AGS02MA) tvoc() (uint32, error) {
	status := s.buf[0]
	if status&statusBitRDY != 0 {
		return 0, ErrNotReady
	}
	ppb := (uint32(s.buf[1]) << 16) | (uint32(s.buf[2]) << 8) | uint32(s.buf[3])
	// Recommended 1.5 second delay after TVOC read
	s.hold(s.config.ReadDelay)
	return ppb, nil
}

func (s *AGS02MA) ReadVersion(ctx context.Context) (int, error) {
	s.mx.Lock()
	defer s.mx.Unlock()
	if s.quiet() {
		return 0, ErrQuiet
	}
	if err := s.command(ctx, regVersion); err != nil {
		return 0, err
	}
	return int(s.buf[3]), nil
}

func (s *AGS02MA) ReadResistance(ctx context.Context) (int, error) {
	s.mx.Lock()
	defer s.mx.Unlock()
	if s.quiet() {
		return 0, ErrQuiet
	}
	if err := s.command(ctx, regResistance); err != nil {
		return 0, err
	}
	// Recommended 1.5 second delay after resistance read
	s.hold(s.config.ReadDelay)
	return int(s.buf[3]), nil
}

func (s *AGS02MA) Calibrate(ctx context.Context) error {
	s.mx.Lock()
	defer s.mx.Unlock()
	if s.quiet() {
		return ErrQuiet
	}
	if err := s.command(ctx, regCalibrate); err != nil {
		return err
	}
	// Recommended 1.5 second delay after calibrate
	s.hold(s.config.ReadDelay)
	return nil
}

// command writes reg, waits the short guard delay and reads a CRC checked
// frame into buf. Callers hold mx.
func (s *AGS02MA) command(ctx context.Context, reg byte) error {
	err := s.transport.WriteToAddr(ctx, s.addr, []byte{reg})
	if err != nil {
		return fmt.Errorf("ags02ma: write reg %#02x failed: %w", reg, err)
	}
	// Small guard delay; part of the operation sequence, so we wait synchronously.
	if err := fanmon.Wait(ctx, s.config.TxDelay); err != nil {
		return err
	}
	err = s.transport.ReadFromAddr(ctx, s.addr, s.buf)
	if err != nil {
		return fmt.Errorf("ags02ma: read failed: %w", err)
	}
	crc := checkCRC(s.buf[:4])
	if crc != s.buf[4] {
		return fmt.Errorf("ags02ma: crc mismatch: expected %#x, got %#x: %w", s.buf[4], crc, fanmon.ErrInvalidData)
	}
	return nil
}

// checkCRC calculates CRC8 checksum with initial value 0xFF and polynomial 0x31.
// This implements the algorithm from AGS02MA datasheet (x8 + x5 + x4 + 1).
func checkCRC(data []byte) byte {
	crc := byte(0xFF)
	for _, b := range data {
		crc ^= b
		for range 8 {
			if crc&0x80 != 0 {
				crc = (crc << 1) ^ 0x31
			} else {
				crc = crc << 1
			}
		}
	}
	return crc
}
