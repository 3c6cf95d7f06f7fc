package sim

import (
	"encoding/binary"
	"math"
	"sync"
)

// Chip emulators answer the handshakes and conversions our drivers use.
// Values are exported so tests and the demo board can change them between
// reads.

// SHTC3 emulates the Sensirion SHTC3 command interface.
type SHTC3 struct {
	mx       sync.Mutex
	TempC    float64
	Humidity float64
	// CorruptHumidity breaks the humidity CRC.
	CorruptHumidity bool
	last            uint16
}

func (s *SHTC3) Write(w []byte) error {
	if len(w) < 2 {
		return nil
	}
	s.mx.Lock()
	defer s.mx.Unlock()
	s.last = binary.BigEndian.Uint16(w)
	return nil
}

func (s *SHTC3) Read(r []byte) error {
	s.mx.Lock()
	defer s.mx.Unlock()
	var out []byte
	switch s.last {
	case 0xEFC8:
		out = sensirionWord(nil, 0x0887)
	default:
		t := uint16(math.Round((s.TempC + 45) * 65535 / 175))
		h := uint16(math.Round(s.Humidity * 65535 / 100))
		out = sensirionWord(nil, t)
		out = sensirionWord(out, h)
		if s.CorruptHumidity {
			out[5] ^= 0xFF
		}
	}
	copy(r, out)
	return nil
}

func sensirionWord(dst []byte, v uint16) []byte {
	b := []byte{byte(v >> 8), byte(v)}
	return append(dst, b[0], b[1], CRC8(0xFF, b))
}

// CRC8 is the polynomial 0x31 checksum used by Sensirion and Silicon Labs parts.
func CRC8(init byte, data []byte) byte {
	crc := init
	for _, b := range data {
		crc ^= b
		for i := 0; i < 8; i++ {
			if crc&0x80 != 0 {
				crc = crc<<1 ^ 0x31
			} else {
				crc <<= 1
			}
		}
	}
	return crc
}

// AHT20 emulates the Aosong AHT20.
type AHT20 struct {
	mx       sync.Mutex
	TempC    float64
	Humidity float64
	// Uncalibrated clears the calibration bit until an init command arrives.
	Uncalibrated bool
	Inits        int
	last         byte
}

func (a *AHT20) Write(w []byte) error {
	if len(w) == 0 {
		return nil
	}
	a.mx.Lock()
	defer a.mx.Unlock()
	a.last = w[0]
	if w[0] == 0xBE {
		a.Uncalibrated = false
		a.Inits++
	}
	return nil
}

func (a *AHT20) Read(r []byte) error {
	a.mx.Lock()
	defer a.mx.Unlock()
	status := byte(0x18)
	if a.Uncalibrated {
		status = 0x10
	}
	if len(r) == 1 {
		r[0] = status
		return nil
	}
	h := uint32(math.Round(a.Humidity * 1048576 / 100))
	t := uint32(math.Round((a.TempC + 50) * 1048576 / 200))
	out := []byte{
		status,
		byte(h >> 12),
		byte(h >> 4),
		byte(h<<4) | byte(t>>16)&0x0F,
		byte(t >> 8),
		byte(t),
		0,
	}
	copy(r, out)
	return nil
}

// Si7021 emulates the Silicon Labs Si7021 no-hold commands.
type Si7021 struct {
	mx       sync.Mutex
	TempC    float64
	Humidity float64
	SerialA  uint32
	SerialB  uint32
	last     []byte
}

func (s *Si7021) Write(w []byte) error {
	s.mx.Lock()
	defer s.mx.Unlock()
	s.last = append([]byte(nil), w...)
	return nil
}

func (s *Si7021) Read(r []byte) error {
	s.mx.Lock()
	defer s.mx.Unlock()
	if len(s.last) == 0 {
		return nil
	}
	var out []byte
	switch {
	case s.last[0] == 0xFA:
		for i := 3; i >= 0; i-- {
			b := byte(s.SerialA >> (8 * i))
			out = append(out, b, CRC8(0x00, []byte{b}))
		}
	case s.last[0] == 0xFC:
		b := make([]byte, 4)
		binary.BigEndian.PutUint32(b, s.SerialB)
		out = []byte{b[0], b[1], CRC8(0x00, b[0:2]), b[2], b[3], CRC8(0x00, b[2:4])}
	case s.last[0] == 0xF5:
		raw := uint16(math.Round((s.Humidity + 6) * 65536 / 125))
		b := []byte{byte(raw >> 8), byte(raw)}
		out = append(b, CRC8(0x00, b))
	case s.last[0] == 0xE0:
		raw := uint16(math.Round((s.TempC + 46.85) * 65536 / 175.72))
		out = []byte{byte(raw >> 8), byte(raw)}
	case s.last[0] == 0xE7:
		out = []byte{0x3A}
	}
	copy(r, out)
	return nil
}

// HIH6021 emulates the Honeywell HumidIcon measurement request and fetch.
type HIH6021 struct {
	mx       sync.Mutex
	TempC    float64
	Humidity float64
	Stale    bool
}

func (h *HIH6021) Write(w []byte) error {
	return nil
}

func (h *HIH6021) Read(r []byte) error {
	h.mx.Lock()
	defer h.mx.Unlock()
	hum := uint16(math.Round(h.Humidity * 16382 / 100))
	t := uint16(math.Round((h.TempC + 40) * 16382 / 165))
	status := byte(0)
	if h.Stale {
		status = 0x40
	}
	out := []byte{status | byte(hum>>8)&0x3F, byte(hum), byte(t >> 6), byte(t << 2)}
	copy(r, out)
	return nil
}

// BH1750 emulates the ambient light sensor one-time measurement.
type BH1750 struct {
	Lux float64
}

func (b *BH1750) Write(w []byte) error {
	return nil
}

func (b *BH1750) Read(r []byte) error {
	raw := uint16(math.Round(b.Lux * 1.2))
	if len(r) >= 2 {
		binary.BigEndian.PutUint16(r, raw)
	}
	return nil
}

// NewTC74 returns a register map of a TC74 with data ready.
func NewTC74(tempC int8) *Registers {
	return NewRegisters(map[byte][]byte{
		0x00: {byte(tempC)},
		0x01: {0x40},
	})
}

// ADS1115 emulates single-shot conversions of the four single-ended inputs.
type ADS1115 struct {
	*Registers
	mx    sync.Mutex
	Volts [4]float64
}

func NewADS1115() *ADS1115 {
	a := &ADS1115{Registers: NewRegisters(map[byte][]byte{
		0x00: {0x00, 0x00},
		0x01: {0x85, 0x83},
		0x02: {0x80, 0x00},
		0x03: {0x7F, 0xFF},
	})}
	a.OnWrite = a.convert
	return a
}

// SetVolts changes one input.
func (a *ADS1115) SetVolts(ch int, v float64) {
	a.mx.Lock()
	defer a.mx.Unlock()
	a.Volts[ch] = v
}

func (a *ADS1115) convert(r *Registers, reg byte, data []byte) {
	if reg != 0x01 || len(data) < 2 {
		return
	}
	cfg := binary.BigEndian.Uint16(data)
	mux := int(cfg>>12) & 0x07
	a.mx.Lock()
	v := 0.0
	if mux >= 4 {
		v = a.Volts[mux-4]
	}
	a.mx.Unlock()
	raw := int16(math.Max(math.Min(math.Round(v/0.000125), math.MaxInt16), math.MinInt16))
	out := make([]byte, 2)
	binary.BigEndian.PutUint16(out, uint16(raw))
	r.Set(0x00, out...)
	// conversion done immediately, OS bit reads back as 1
	r.Set(0x01, byte(cfg>>8)|0x80, byte(cfg))
}

// INA226 emulates the shunt monitor registers. Current and power registers
// are derived from the shunt and bus values through the calibration register
// the way the chip does it.
type INA226 struct {
	*Registers
	mx       sync.Mutex
	shuntRaw int16
	busRaw   uint16
}

// NewINA226 returns an INA226 measuring busVolts and shuntMillivolts.
func NewINA226(busVolts, shuntMillivolts float64) *INA226 {
	i := &INA226{Registers: NewRegisters(map[byte][]byte{
		0x00: {0x41, 0x27},
		0x05: {0x00, 0x00},
		0x06: {0x00, 0x00},
		0xFE: {0x54, 0x49},
		0xFF: {0x22, 0x60},
	})}
	i.OnWrite = func(r *Registers, reg byte, data []byte) {
		if reg == 0x05 {
			i.derive()
		}
	}
	i.SetMeasurement(busVolts, shuntMillivolts)
	return i
}

// SetMeasurement updates the shunt and bus voltage registers.
func (i *INA226) SetMeasurement(busVolts, shuntMillivolts float64) {
	i.mx.Lock()
	i.shuntRaw = int16(math.Round(shuntMillivolts / 0.0025))
	i.busRaw = uint16(math.Round(busVolts / 0.00125))
	i.mx.Unlock()
	i.Set(0x01, byte(uint16(i.shuntRaw)>>8), byte(i.shuntRaw))
	i.Set(0x02, byte(i.busRaw>>8), byte(i.busRaw))
	i.derive()
}

// SetOverflow sets the math overflow flag of the mask/enable register.
func (i *INA226) SetOverflow(ovf bool) {
	if ovf {
		i.Set(0x06, 0x00, 0x04)
		return
	}
	i.Set(0x06, 0x00, 0x00)
}

func (i *INA226) derive() {
	i.mx.Lock()
	shunt, bus := i.shuntRaw, i.busRaw
	i.mx.Unlock()
	cal := binary.BigEndian.Uint16(append(i.Get(0x05), 0, 0))
	current := int16(int32(shunt) * int32(cal) / 2048)
	power := uint16(int64(abs16(current)) * int64(bus) / 20000)
	i.Set(0x04, byte(uint16(current)>>8), byte(current))
	i.Set(0x03, byte(power>>8), byte(power))
}

func abs16(v int16) int16 {
	if v < 0 {
		return -v
	}
	return v
}
