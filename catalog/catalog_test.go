package catalog

import (
	"context"
	"testing"

	"github.com/mklimuk/fanmon"
	"github.com/mklimuk/fanmon/i2c"
	"github.com/mklimuk/fanmon/i2c/sim"
	"github.com/mklimuk/fanmon/sensor"
	"github.com/samber/lo"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDescriptors_Order(t *testing.T) {
	names := lo.Map(Descriptors(DefaultOptions()), func(d sensor.Descriptor, _ int) string { return d.TypeName })
	assert.Equal(t, []string{
		"INA226", "Si7021", "SHTC3", "HIH6021", "AHT20", "BME688", "BME280",
		"ADS1115", "TC74", "BH1750", "ZMOD4510", "AGS02MA", "BMA220", "MCP23017",
	}, names)
}

func TestRegistry_SharedAddresses(t *testing.T) {
	reg := NewRegistry(DefaultOptions())
	tests := []struct {
		addr     byte
		expected []string
	}{
		{0x40, []string{"INA226", "Si7021"}},
		{0x48, []string{"ADS1115", "TC74"}},
		{0x4C, []string{"TC74"}},
		{0x76, []string{"BME688", "BME280"}},
		{0x27, []string{"HIH6021", "MCP23017"}},
		{0x10, nil},
	}
	for _, tc := range tests {
		got := lo.Map(reg.FindByAddress(tc.addr), func(d sensor.Descriptor, _ int) string { return d.TypeName })
		if tc.expected == nil {
			assert.Empty(t, got, "%#x", tc.addr)
			continue
		}
		assert.Equal(t, tc.expected, got, "%#x", tc.addr)
	}
}

func TestDiscovery_Board(t *testing.T) {
	board := sim.NewBus().
		Attach(0x40, sim.NewINA226(12, 5)).
		Attach(0x48, sim.NewADS1115()).
		Attach(0x4D, sim.NewTC74(25)).
		Attach(0x70, &sim.SHTC3{TempC: 22, Humidity: 40})
	shadow := sim.NewBus().
		Attach(0x40, &sim.Si7021{TempC: 21, Humidity: 50, SerialB: 0x15000000}).
		Attach(0x23, &sim.BH1750{Lux: 80})

	res := sensor.NewDiscoverer(NewRegistry(DefaultOptions()), nil).Discover(context.Background(), []fanmon.Bus{
		i2c.NewBus(0, board),
		i2c.NewBus(1, shadow),
	})

	types := lo.Map(res.Sensors.All(), func(i sensor.Instance, _ int) string { return i.TypeName() })
	assert.Equal(t, []string{
		"INA226",
		"ADS1115", "Thermistor", "Thermistor", "VoltageRail", "VoltageRail",
		"TC74", "SHTC3",
		"BH1750", "Si7021",
	}, types)
	require.Len(t, res.Buses, 2)
	assert.Empty(t, res.Buses[0].Failed)
	assert.Empty(t, res.Buses[1].Unknown)
	assert.True(t, res.Sensors.Frozen())
}
