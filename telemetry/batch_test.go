package telemetry

import (
	"encoding/json"
	"strings"
	"testing"

	"github.com/mklimuk/fanmon/sensor"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func rec(n int) Record {
	return Record{Measurement: "m", Tags: map[string]string{"i": strings.Repeat("x", n)}, Fields: sensor.Fields{"v": 1.5}}
}

func TestBatch_Full(t *testing.T) {
	one := len(AppendRecord(nil, rec(10)))
	b := NewBatch(2*one + 3)

	require.NoError(t, b.Add(rec(10)))
	require.NoError(t, b.Add(rec(10)))
	assert.Equal(t, 2*one+3, b.Size())
	assert.ErrorIs(t, b.Add(rec(10)), ErrBatchFull)
	assert.Equal(t, 2, b.Len())

	var decoded []map[string]any
	require.NoError(t, json.Unmarshal(b.Bytes(), &decoded))
	assert.Len(t, decoded, 2)

	b.Reset()
	assert.Equal(t, 0, b.Len())
	assert.Equal(t, "[]", string(b.Bytes()))
}

func TestBatch_OversizedRecordIsSentAlone(t *testing.T) {
	b := NewBatch(64)
	require.NoError(t, b.Add(rec(200)))
	assert.Greater(t, b.Size(), 64)
	assert.ErrorIs(t, b.Add(rec(1)), ErrBatchFull)
}

func TestBatch_DefaultLimit(t *testing.T) {
	b := NewBatch(0)
	assert.Equal(t, DefaultBatchLimit, b.limit)
}
