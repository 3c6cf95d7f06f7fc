package environment

import (
	"context"
	"encoding/binary"
	"fmt"
	"time"

	"github.com/mklimuk/fanmon"
	"github.com/mklimuk/fanmon/sensor"
)

const si7021Address = 0x40

const (
	si7021CmdMeasureRH   = 0xF5
	si7021CmdTempFromRH  = 0xE0
	si7021CmdReadUserReg = 0xE7
	si7021CmdReset       = 0xFE

	si7021DeviceID = 0x15
)

var (
	si7021CmdID1 = []byte{0xFA, 0x0F}
	si7021CmdID2 = []byte{0xFC, 0xC9}
)

var (
	_ sensor.Driver[sensor.TempHumidity] = &Si7021{}
	_ sensor.Serialer                    = &Si7021{}
)

// Si7021 is the Silicon Labs Si7021 humidity and temperature sensor. It shares
// address 0x40 with the INA226 whose probe writes register 0xFE, the Si7021
// reset command, so Begin first waits out the reset.
type Si7021 struct {
	transport fanmon.I2CBus
	address   byte
}

func NewSi7021(transport fanmon.I2CBus, address byte) *Si7021 {
	return &Si7021{transport: transport, address: address}
}

// Begin checks the device id byte of the electronic serial number.
func (s *Si7021) Begin(ctx context.Context) error {
	if err := fanmon.Wait(ctx, 15*time.Millisecond); err != nil {
		return err
	}
	snb, err := s.readID2(ctx)
	if err != nil {
		return fmt.Errorf("si7021: id read failed: %w", err)
	}
	if snb[0] != si7021DeviceID {
		return fmt.Errorf("si7021: unexpected device id %#02x: %w", snb[0], fanmon.ErrInvalidData)
	}
	return nil
}

// Serial returns the 64-bit electronic serial number SNA:SNB.
func (s *Si7021) Serial(ctx context.Context) (uint64, error) {
	if err := s.transport.WriteToAddr(ctx, s.address, si7021CmdID1); err != nil {
		return 0, err
	}
	// SNA_3 CRC SNA_2 CRC SNA_1 CRC SNA_0 CRC
	resp := make([]byte, 8)
	if err := s.transport.ReadFromAddr(ctx, s.address, resp); err != nil {
		return 0, err
	}
	sna := uint32(resp[0])<<24 | uint32(resp[2])<<16 | uint32(resp[4])<<8 | uint32(resp[6])
	snb, err := s.readID2(ctx)
	if err != nil {
		return 0, err
	}
	return uint64(sna)<<32 | uint64(binary.BigEndian.Uint32(snb)), nil
}

// readID2 returns SNB_3..SNB_0 from the second id access.
func (s *Si7021) readID2(ctx context.Context) ([]byte, error) {
	if err := s.transport.WriteToAddr(ctx, s.address, si7021CmdID2); err != nil {
		return nil, err
	}
	// SNB_3 SNB_2 CRC SNB_1 SNB_0 CRC
	resp := make([]byte, 6)
	if err := s.transport.ReadFromAddr(ctx, s.address, resp); err != nil {
		return nil, err
	}
	return []byte{resp[0], resp[1], resp[3], resp[4]}, nil
}

func (s *Si7021) IsConnected(ctx context.Context) bool {
	resp := make([]byte, 1)
	return fanmon.ReadRegister(ctx, s.transport, s.address, si7021CmdReadUserReg, resp) == nil
}

// Read measures humidity and then fetches the temperature taken during the
// same conversion.
func (s *Si7021) Read(ctx context.Context) (sensor.TempHumidity, error) {
	var r sensor.TempHumidity
	if err := s.transport.WriteToAddr(ctx, s.address, []byte{si7021CmdMeasureRH}); err != nil {
		return r, fmt.Errorf("si7021: measure command failed: %w", err)
	}
	// RH 12 bit takes 12ms plus 10.8ms for the temperature
	if err := fanmon.Wait(ctx, 25*time.Millisecond); err != nil {
		return r, err
	}
	resp := make([]byte, 3)
	if err := s.transport.ReadFromAddr(ctx, s.address, resp); err != nil {
		return r, fmt.Errorf("si7021: humidity read failed: %w", err)
	}
	if crc8(0x00, resp[0:2]) != resp[2] {
		return r, fmt.Errorf("si7021: humidity CRC mismatch: %w", fanmon.ErrInvalidData)
	}
	r.Humidity = si7021Humidity(binary.BigEndian.Uint16(resp[0:2]))
	r.HumidityValid = true

	temp := make([]byte, 2)
	if err := fanmon.ReadRegister(ctx, s.transport, s.address, si7021CmdTempFromRH, temp); err != nil {
		return r, fmt.Errorf("si7021: temperature read failed: %w", err)
	}
	r.TempC = si7021Temperature(binary.BigEndian.Uint16(temp))
	r.TempValid = true
	return r, nil
}

// RH = 125 * raw / 65536 - 6, clamped to 0..100
func si7021Humidity(raw uint16) float64 {
	rh := 125*float64(raw)/65536 - 6
	return min(max(rh, 0), 100)
}

// T = 175.72 * raw / 65536 - 46.85
func si7021Temperature(raw uint16) float64 {
	return 175.72*float64(raw)/65536 - 46.85
}
