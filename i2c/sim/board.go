package sim

// Board is the reference hardware populated with simulated chips: the
// power/expansion bus and the environment bus.
type Board struct {
	Power       *Bus
	Environment *Bus

	INA226  *INA226
	ADS1115 *ADS1115
	SHTC3   *SHTC3
	Si7021  *Si7021
	BH1750  *BH1750
	AHT20   *AHT20
}

// NewBoard returns a board with plausible readings: 12 V input, both
// thermistors near 25 C, rails at 3.3 V and 5 V behind 1:2 dividers.
func NewBoard() *Board {
	b := &Board{
		INA226:  NewINA226(12, 5),
		ADS1115: NewADS1115(),
		SHTC3:   &SHTC3{TempC: 22.5, Humidity: 41},
		Si7021:  &Si7021{TempC: 21.8, Humidity: 47, SerialA: 0x00000001, SerialB: 0x15000000},
		BH1750:  &BH1750{Lux: 120},
		AHT20:   &AHT20{TempC: 23.1, Humidity: 44},
	}
	b.ADS1115.SetVolts(0, 1.65)
	b.ADS1115.SetVolts(1, 1.60)
	b.ADS1115.SetVolts(2, 1.65)
	b.ADS1115.SetVolts(3, 2.5)
	b.Power = NewBus().
		Attach(0x40, b.INA226).
		Attach(0x48, b.ADS1115).
		Attach(0x4D, NewTC74(27)).
		Attach(0x70, b.SHTC3)
	b.Environment = NewBus().
		Attach(0x40, b.Si7021).
		Attach(0x23, b.BH1750).
		Attach(0x38, b.AHT20)
	return b
}

// Buses returns the board buses in bus id order.
func (b *Board) Buses() []*Bus {
	return []*Bus{b.Power, b.Environment}
}
