package environment

import (
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"time"

	"github.com/mklimuk/fanmon"
	"github.com/mklimuk/fanmon/sensor"
)

const hih6021Address = 0x27

var divider = float64(1<<14 - 2)

var ErrStaleData = fmt.Errorf("stale data: %w", fanmon.ErrInvalidData)
var ErrCommandMode = fmt.Errorf("device in command mode: %w", fanmon.ErrNotInitialized)

var _ sensor.Driver[sensor.TempHumidity] = &HIH6021{}

// HIH6021 represents Honywell HumidIcon Digital Humidity/Temperature sensor
type HIH6021 struct {
	transport fanmon.I2CBus
	address   byte
}

func NewHIH6021(trans fanmon.I2CBus) *HIH6021 {
	return &HIH6021{transport: trans, address: hih6021Address}
}

// Begin runs one measurement cycle. Stale data is expected on the first
// fetch; command mode means the part is not usable.
func (h *HIH6021) Begin(ctx context.Context) error {
	_, err := h.measure(ctx)
	if err != nil && !errors.Is(err, ErrStaleData) {
		return err
	}
	return nil
}

func (h *HIH6021) IsConnected(ctx context.Context) bool {
	return h.transport.WriteToAddr(ctx, h.address, []byte{}) == nil
}

func (h *HIH6021) Read(ctx context.Context) (sensor.TempHumidity, error) {
	return h.measure(ctx)
}

func (h *HIH6021) measure(ctx context.Context) (sensor.TempHumidity, error) {
	var r sensor.TempHumidity
	err := h.transport.WriteToAddr(ctx, h.address, []byte{})
	if err != nil {
		return r, fmt.Errorf("could not write measurement request to device: %w", err)
	}
	// measurement cycle takes typically 36.65ms
	if err := fanmon.Wait(ctx, 50*time.Millisecond); err != nil {
		return r, err
	}
	resp := make([]byte, 4)
	err = h.transport.ReadFromAddr(ctx, h.address, resp)
	if err != nil {
		return r, fmt.Errorf("could not read measurement from device: %w", err)
	}
	// check the oldest bit
	if resp[0]&0x80 > 0 {
		return r, ErrCommandMode
	}
	// check the second oldest bit
	if resp[0]&0x40 > 0 {
		// data has already been fetched since last measurement ot data fetched before the first measurement
		// has been completed
		return r, ErrStaleData
	}
	r.Humidity = convertHumidity(resp[0:2])
	r.TempC = convertTemperature(resp[2:4])
	r.HumidityValid = true
	r.TempValid = true
	return r, nil
}

func convertHumidity(resp []byte) float64 {
	raw := binary.BigEndian.Uint16(resp) & 0x3FFF
	hum := float64(raw) / divider * 100
	if hum > 100.00 {
		return 100.00
	}
	return hum
}

func convertTemperature(resp []byte) float64 {
	raw := binary.BigEndian.Uint16(resp) >> 2
	return float64(raw)/divider*165 - 40
}
