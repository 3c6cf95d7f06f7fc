package air

import (
	"context"
	"encoding/binary"
	"fmt"

	"github.com/mklimuk/fanmon"
	"github.com/mklimuk/fanmon/sensor"
)

const zmod4510Address = 0x32

const (
	zmodRegPID    = 0x00
	zmod4510PID   = 0x6320
	zmodRegConfig = 0x20
)

var _ sensor.Driver[Ozone] = &ZMOD4510{}

// ZMOD4510 is the Renesas outdoor air quality sensor. Presence and product
// id are verified; readings stay empty until the vendor algorithm is wired.
type ZMOD4510 struct {
	transport   fanmon.I2CBus
	address     byte
	initialized bool
	config      []byte
}

func NewZMOD4510(transport fanmon.I2CBus, address byte) *ZMOD4510 {
	return &ZMOD4510{transport: transport, address: address}
}

func (s *ZMOD4510) Begin(ctx context.Context) error {
	pid, err := s.ProductID(ctx)
	if err != nil {
		return fmt.Errorf("zmod4510: product id read failed: %w", err)
	}
	if pid != zmod4510PID {
		return fmt.Errorf("zmod4510: unexpected product id %#04x: %w", pid, fanmon.ErrInvalidData)
	}
	s.config = make([]byte, 6)
	if err := fanmon.ReadRegister(ctx, s.transport, s.address, zmodRegConfig, s.config); err != nil {
		return fmt.Errorf("zmod4510: config read failed: %w", err)
	}
	s.initialized = true
	return nil
}

func (s *ZMOD4510) ProductID(ctx context.Context) (uint16, error) {
	buf := make([]byte, 2)
	if err := fanmon.ReadRegister(ctx, s.transport, s.address, zmodRegPID, buf); err != nil {
		return 0, err
	}
	return binary.BigEndian.Uint16(buf), nil
}

func (s *ZMOD4510) IsConnected(ctx context.Context) bool {
	if !s.initialized {
		return false
	}
	_, err := s.ProductID(ctx)
	return err == nil
}

// Read returns an invalid reading: the measurement sequence and the ozone
// and NO2 calculation need the Renesas OAQ 2nd gen library.
// TODO: run the OAQ 2nd gen algorithm on the raw ADC results once the
// library is available for the target.
func (s *ZMOD4510) Read(ctx context.Context) (Ozone, error) {
	if !s.initialized {
		return Ozone{}, fanmon.ErrNotInitialized
	}
	return Ozone{}, nil
}
