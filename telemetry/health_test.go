package telemetry

import (
	"context"
	"testing"

	"github.com/benbjohnson/clock"
	"github.com/mklimuk/fanmon/sensor"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type staticHost sensor.Fields

func (s staticHost) Stats(ctx context.Context) (sensor.Fields, error) {
	return sensor.Fields(s), nil
}

func TestCycleHealthFields(t *testing.T) {
	records := []Record{
		{Measurement: "thermistor", Tags: map[string]string{"name": "mcu_ntc"}, Fields: sensor.Fields{"temp_c": 41.0}},
		{Measurement: "thermistor", Tags: map[string]string{"name": "motor_ntc"}, Fields: sensor.Fields{"temp_c": 55.5}},
		{Measurement: "voltage_rail", Tags: map[string]string{"name": "3v3_rail"}, Fields: sensor.Fields{"voltage": 3.29}},
		{Measurement: "power", Fields: sensor.Fields{"v_in": 12.1, "i_in": 0.8, "p_in": 9.68}},
		{Measurement: "power", Fields: sensor.Fields{"v_in": 5.0}},
	}
	assert.Equal(t, sensor.Fields{
		"motor_temp_c":        55.5,
		"mcu_external_temp_c": 41.0,
		"rail_3v3":            3.29,
		"v_in":                12.1,
		"i_in":                0.8,
		"p_in":                9.68,
	}, CycleHealthFields(records))
}

func TestHealth_Record(t *testing.T) {
	r := NewReporter(nil, nil, Identity{Device: "fan", ChipID: "c0ffee"}, WithClock(clock.NewMock()))
	h := &Health{
		Reporter:  r,
		Host:      staticHost{"free_heap": int64(1024)},
		Motor:     func() sensor.Fields { return sensor.Fields{"duty_cycle": 0.5, "fault": false} },
		Connected: func() bool { return true },
	}
	rec := h.Record(context.Background())
	assert.Equal(t, MeasurementHealth, rec.Measurement)
	assert.Equal(t, "c0ffee", rec.Tag("chip_id"))
	assert.Equal(t, sensor.Fields{
		"free_heap":      int64(1024),
		"duty_cycle":     0.5,
		"fault":          false,
		"mqtt_connected": true,
	}, rec.Fields)
}

func TestBoot_Record(t *testing.T) {
	b := NewBoot("1.2.0")
	b.SensorCount, b.BusCount, b.OneWireCount = 7, 2, 3
	rec := b.Record(Identity{Device: "fan", ChipID: "c"})
	require.NotEmpty(t, rec.Tag("boot_id"))
	assert.Equal(t, "1.2.0", rec.Tag("firmware_version"))
	assert.Equal(t, int64(7), rec.Fields["sensor_count"])
	assert.Equal(t, MeasurementBoot, rec.Measurement)
}
