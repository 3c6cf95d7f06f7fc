package environment

import (
	"context"
	"encoding/binary"
	"fmt"
	"time"

	"github.com/mklimuk/fanmon"
	"github.com/mklimuk/fanmon/sensor"
)

const (
	bme688RegChipID   = 0xD0
	bme688RegReset    = 0xE0
	bme688RegVariant  = 0xF0
	bme688RegCtrlGas0 = 0x70
	bme688RegCtrlGas1 = 0x71
	bme688RegCtrlHum  = 0x72
	bme688RegCtrlMeas = 0x74
	bme688RegConfig   = 0x75
	bme688RegResHeat0 = 0x5A
	bme688RegGasWait0 = 0x64
	bme688RegField0   = 0x1D
	bme688RegCoeff1   = 0x8A
	bme688RegCoeff2   = 0xE1
	bme688RegCoeff3   = 0x00

	bme688ChipID      = 0x61
	bme688SoftReset   = 0xB6
	bme688VariantHigh = 0x01

	bme688LenField  = 17
	bme688LenCoeff1 = 23
	bme688LenCoeff2 = 14
	bme688LenCoeff3 = 5

	bme688ModeForced = 0x01
	bme688NewData    = 0x80
	bme688GasValid   = 0x20
	bme688HeatStab   = 0x10
)

// oversampling settings: 1x=1 2x=2 4x=3 8x=4 16x=5
const (
	bme688OSTemp     = 4
	bme688OSPress    = 3
	bme688OSHum      = 2
	bme688FilterSize = 2
)

var (
	bme688GasLowK1 = [16]float64{0, 0, 0, 0, 0, -1, 0, -0.8, 0, 0, -0.2, -0.5, 0, -1, 0, 0}
	bme688GasLowK2 = [16]float64{0, 0, 0, 0, 0.1, 0.7, 0, -0.8, -0.1, 0, 0, 0, 0, 0, 0, 0}
)

var _ sensor.Driver[Atmospheric] = &BME688{}

// bme688Calib holds the factory trimming parameters.
type bme688Calib struct {
	t1         uint16
	t2         int16
	t3         int8
	p1         uint16
	p2         int16
	p3         int8
	p4         int16
	p5         int16
	p6         int8
	p7         int8
	p8         int16
	p9         int16
	p10        uint8
	h1         uint16
	h2         uint16
	h3         int8
	h4         int8
	h5         int8
	h6         uint8
	h7         int8
	gh1        int8
	gh2        int16
	gh3        int8
	heatRange  uint8
	heatVal    int8
	rangeSwErr int8
}

// BME688 is the Bosch BME680/BME688 gas sensor run in forced mode with one
// heater step. Compensation follows the floating point variant of the vendor
// formulas.
type BME688 struct {
	transport fanmon.I2CBus
	address   byte
	calib     bme688Calib
	variant   byte
	// HeaterTempC and HeaterDuration configure heater step 0.
	HeaterTempC    float64
	HeaterDuration time.Duration
	// AmbientC is used for the heater resistance calculation.
	AmbientC float64
}

func NewBME688(transport fanmon.I2CBus, address byte) *BME688 {
	return &BME688{
		transport:      transport,
		address:        address,
		HeaterTempC:    320,
		HeaterDuration: 150 * time.Millisecond,
		AmbientC:       25,
	}
}

func (s *BME688) Begin(ctx context.Context) error {
	id, err := s.readReg(ctx, bme688RegChipID)
	if err != nil {
		return fmt.Errorf("bme688: chip id read failed: %w", err)
	}
	if id != bme688ChipID {
		return fmt.Errorf("bme688: unexpected chip id %#02x: %w", id, fanmon.ErrInvalidData)
	}
	if err := s.writeRegs(ctx, bme688RegReset, bme688SoftReset); err != nil {
		return fmt.Errorf("bme688: soft reset failed: %w", err)
	}
	if err := fanmon.Wait(ctx, 10*time.Millisecond); err != nil {
		return err
	}
	s.variant, err = s.readReg(ctx, bme688RegVariant)
	if err != nil {
		return fmt.Errorf("bme688: variant read failed: %w", err)
	}
	if err := s.readCalibration(ctx); err != nil {
		return fmt.Errorf("bme688: calibration read failed: %w", err)
	}
	return s.configure(ctx)
}

func (s *BME688) IsConnected(ctx context.Context) bool {
	id, err := s.readReg(ctx, bme688RegChipID)
	return err == nil && id == bme688ChipID
}

func (s *BME688) configure(ctx context.Context) error {
	runGas := byte(0x10)
	if s.variant == bme688VariantHigh {
		runGas = 0x20
	}
	steps := [][2]byte{
		{bme688RegCtrlHum, bme688OSHum},
		{bme688RegConfig, bme688FilterSize << 2},
		{bme688RegResHeat0, s.heaterResistance(s.HeaterTempC)},
		{bme688RegGasWait0, gasWait(s.HeaterDuration)},
		{bme688RegCtrlGas0, 0x00},
		{bme688RegCtrlGas1, runGas},
		{bme688RegCtrlMeas, bme688OSTemp<<5 | bme688OSPress<<2},
	}
	for _, st := range steps {
		if err := s.writeRegs(ctx, st[0], st[1]); err != nil {
			return fmt.Errorf("bme688: could not write register %#02x: %w", st[0], err)
		}
	}
	return nil
}

// Read triggers one forced mode conversion including the gas measurement.
func (s *BME688) Read(ctx context.Context) (Atmospheric, error) {
	var r Atmospheric
	err := s.writeRegs(ctx, bme688RegCtrlMeas, bme688OSTemp<<5|bme688OSPress<<2|bme688ModeForced)
	if err != nil {
		return r, fmt.Errorf("bme688: could not trigger measurement: %w", err)
	}
	if err := fanmon.Wait(ctx, s.measureDuration()+s.HeaterDuration); err != nil {
		return r, err
	}
	buf := make([]byte, bme688LenField)
	if err := fanmon.ReadRegister(ctx, s.transport, s.address, bme688RegField0, buf); err != nil {
		return r, fmt.Errorf("bme688: data read failed: %w", err)
	}
	if buf[0]&bme688NewData == 0 {
		return r, fmt.Errorf("bme688: %w", ErrNotReady)
	}
	return s.compensate(buf), nil
}

func (s *BME688) compensate(buf []byte) Atmospheric {
	var r Atmospheric
	adcPress := uint32(buf[2])<<12 | uint32(buf[3])<<4 | uint32(buf[4])>>4
	adcTemp := uint32(buf[5])<<12 | uint32(buf[6])<<4 | uint32(buf[7])>>4
	adcHum := uint16(buf[8])<<8 | uint16(buf[9])

	tFine := s.calib.tFine(adcTemp)
	r.TempC = tFine / 5120.0
	r.TempValid = true
	r.PressurePa = s.calib.pressure(tFine, adcPress)
	r.PressureValid = r.PressurePa > 0
	r.Humidity = s.calib.humidity(tFine, adcHum)
	r.HumidityValid = true

	gasMSB, gasLSB := buf[13], buf[14]
	if s.variant == bme688VariantHigh {
		gasMSB, gasLSB = buf[15], buf[16]
	}
	if gasLSB&bme688GasValid != 0 && gasLSB&bme688HeatStab != 0 {
		adcGas := uint32(gasMSB)<<2 | uint32(gasLSB)>>6
		gasRange := gasLSB & 0x0F
		if s.variant == bme688VariantHigh {
			r.GasOhms = gasHigh(adcGas, gasRange)
		} else {
			r.GasOhms = s.calib.gasLow(adcGas, gasRange)
		}
		r.GasValid = true
	}
	return r
}

func (c *bme688Calib) tFine(adc uint32) float64 {
	t := float64(adc)
	var1 := (t/16384.0 - float64(c.t1)/1024.0) * float64(c.t2)
	d := t/131072.0 - float64(c.t1)/8192.0
	var2 := d * d * float64(c.t3) * 16.0
	return var1 + var2
}

func (c *bme688Calib) pressure(tFine float64, adc uint32) float64 {
	var1 := tFine/2.0 - 64000.0
	var2 := var1 * var1 * (float64(c.p6) / 131072.0)
	var2 = var2 + var1*float64(c.p5)*2.0
	var2 = var2/4.0 + float64(c.p4)*65536.0
	var1 = (float64(c.p3)*var1*var1/16384.0 + float64(c.p2)*var1) / 524288.0
	var1 = (1.0 + var1/32768.0) * float64(c.p1)
	if var1 == 0 {
		return 0
	}
	p := 1048576.0 - float64(adc)
	p = (p - var2/4096.0) * 6250.0 / var1
	var1 = float64(c.p9) * p * p / 2147483648.0
	var2 = p * (float64(c.p8) / 32768.0)
	q := p / 256.0
	var3 := q * q * q * (float64(c.p10) / 131072.0)
	return p + (var1+var2+var3+float64(c.p7)*128.0)/16.0
}

func (c *bme688Calib) humidity(tFine float64, adc uint16) float64 {
	temp := tFine / 5120.0
	var1 := float64(adc) - (float64(c.h1)*16.0 + float64(c.h3)/2.0*temp)
	var2 := var1 * (float64(c.h2) / 262144.0 * (1.0 + float64(c.h4)/16384.0*temp + float64(c.h5)/1048576.0*temp*temp))
	var3 := float64(c.h6) / 16384.0
	var4 := float64(c.h7) / 2097152.0
	h := var2 + (var3+var4*temp)*var2*var2
	return min(max(h, 0), 100)
}

func (c *bme688Calib) gasLow(adc uint32, gasRange byte) float64 {
	var1 := 1340.0 + 5.0*float64(c.rangeSwErr)
	var2 := var1 * (1.0 + bme688GasLowK1[gasRange]/100.0)
	var3 := 1.0 + bme688GasLowK2[gasRange]/100.0
	return 1.0 / (var3 * 0.000000125 * float64(uint32(1)<<gasRange) * ((float64(adc)-512.0)/var2 + 1.0))
}

func gasHigh(adc uint32, gasRange byte) float64 {
	var1 := uint32(262144) >> gasRange
	var2 := int32(adc) - 512
	var2 *= 3
	var2 = 4096 + var2
	return 1000000.0 * float64(var1) / float64(var2)
}

// heaterResistance converts a heater target temperature to the res_heat register value.
func (s *BME688) heaterResistance(target float64) byte {
	c := s.calib
	target = min(target, 400)
	var1 := float64(c.gh1)/16.0 + 49.0
	var2 := float64(c.gh2)/32768.0*0.0005 + 0.00235
	var3 := float64(c.gh3) / 1024.0
	var4 := var1 * (1.0 + var2*target)
	var5 := var4 + var3*s.AmbientC
	res := 3.4 * (var5*(4.0/(4.0+float64(c.heatRange)))*(1.0/(1.0+float64(c.heatVal)*0.002)) - 25)
	return byte(min(max(res, 0), 255))
}

// gasWait encodes a heater duration as 6 bit value with a 4^n multiplier.
func gasWait(d time.Duration) byte {
	ms := uint16(d.Milliseconds())
	if ms >= 0xFC0 {
		return 0xFF
	}
	var factor byte
	for ms > 0x3F {
		ms /= 4
		factor++
	}
	return byte(ms) + factor*64
}

// measureDuration is the TPH conversion time for the configured oversampling.
func (s *BME688) measureDuration() time.Duration {
	cycles := [6]uint32{0, 1, 2, 4, 8, 16}
	n := cycles[bme688OSTemp] + cycles[bme688OSPress] + cycles[bme688OSHum]
	us := n*1963 + 477*4 + 477*5 + 500 + 1000
	return time.Duration(us) * time.Microsecond
}

func (s *BME688) readCalibration(ctx context.Context) error {
	coeff := make([]byte, 0, bme688LenCoeff1+bme688LenCoeff2+bme688LenCoeff3)
	for _, blk := range []struct {
		reg byte
		n   int
	}{{bme688RegCoeff1, bme688LenCoeff1}, {bme688RegCoeff2, bme688LenCoeff2}, {bme688RegCoeff3, bme688LenCoeff3}} {
		buf := make([]byte, blk.n)
		if err := fanmon.ReadRegister(ctx, s.transport, s.address, blk.reg, buf); err != nil {
			return err
		}
		coeff = append(coeff, buf...)
	}
	s.calib = parseBME688Calib(coeff)
	return nil
}

func parseBME688Calib(c []byte) bme688Calib {
	le := binary.LittleEndian
	return bme688Calib{
		t1:         le.Uint16(c[31:33]),
		t2:         int16(le.Uint16(c[0:2])),
		t3:         int8(c[2]),
		p1:         le.Uint16(c[4:6]),
		p2:         int16(le.Uint16(c[6:8])),
		p3:         int8(c[8]),
		p4:         int16(le.Uint16(c[10:12])),
		p5:         int16(le.Uint16(c[12:14])),
		p6:         int8(c[15]),
		p7:         int8(c[14]),
		p8:         int16(le.Uint16(c[18:20])),
		p9:         int16(le.Uint16(c[20:22])),
		p10:        c[22],
		h1:         uint16(c[25])<<4 | uint16(c[24]&0x0F),
		h2:         uint16(c[23])<<4 | uint16(c[24]>>4),
		h3:         int8(c[26]),
		h4:         int8(c[27]),
		h5:         int8(c[28]),
		h6:         c[29],
		h7:         int8(c[30]),
		gh1:        int8(c[35]),
		gh2:        int16(le.Uint16(c[33:35])),
		gh3:        int8(c[36]),
		heatVal:    int8(c[37]),
		heatRange:  (c[39] & 0x30) >> 4,
		rangeSwErr: int8(c[41]&0xF0) >> 4,
	}
}

func (s *BME688) readReg(ctx context.Context, reg byte) (byte, error) {
	buf := make([]byte, 1)
	if err := fanmon.ReadRegister(ctx, s.transport, s.address, reg, buf); err != nil {
		return 0, err
	}
	return buf[0], nil
}

func (s *BME688) writeRegs(ctx context.Context, reg byte, value byte) error {
	return s.transport.WriteToAddr(ctx, s.address, []byte{reg, value})
}
