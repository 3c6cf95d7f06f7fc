package telemetry

import (
	"math"
	"testing"

	"github.com/mklimuk/fanmon/sensor"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAppendRecord_FloatsStayFractional(t *testing.T) {
	r := Record{
		Measurement: "environment",
		Tags:        map[string]string{"bus_id": "0", "address": "0x70"},
		Fields: sensor.Fields{
			"temp_c":   0.0,
			"humidity": 45.25,
			"count":    int64(3),
			"big":      64000000.0,
			"ok":       true,
			"nan":      math.NaN(),
		},
	}
	assert.Equal(t,
		`{"measurement":"environment","tags":{"address":"0x70","bus_id":"0"},"fields":{"big":64000000.000000,"count":3,"humidity":45.25,"ok":true,"temp_c":0.000000}}`,
		string(AppendRecord(nil, r)))
}

func TestDecode_RecoversFloatZero(t *testing.T) {
	in := []Record{{
		Measurement: "light",
		Tags:        map[string]string{"device": "fan"},
		Fields:      sensor.Fields{"lux": 0.0, FieldUptime: int64(1500)},
	}}
	out, err := Decode(Encode(in))
	require.NoError(t, err)
	require.Len(t, out, 1)
	assert.IsType(t, float64(0), out[0].Fields["lux"])
	assert.IsType(t, int64(0), out[0].Fields[FieldUptime])
	assert.Equal(t, in[0].Fields, out[0].Fields)
}

func TestDecode_Invalid(t *testing.T) {
	_, err := Decode([]byte(`{"measurement":`))
	assert.Error(t, err)
}

func TestEncode_Empty(t *testing.T) {
	assert.Equal(t, "[]", string(Encode(nil)))
}
