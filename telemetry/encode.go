package telemetry

import (
	"bytes"
	"encoding/json"
	"fmt"
	"math"
	"slices"
	"strconv"
	"strings"

	"github.com/mklimuk/fanmon"
	"github.com/mklimuk/fanmon/sensor"
	"github.com/samber/lo"
)

// AppendRecord encodes r as a JSON object. Keys are sorted. float64 fields
// always carry a decimal point so that a receiver keeps the column type:
// 0 is written as 0.000000. NaN and infinities are dropped.
func AppendRecord(dst []byte, r Record) []byte {
	dst = append(dst, `{"measurement":`...)
	dst = appendString(dst, r.Measurement)
	dst = append(dst, `,"tags":{`...)
	for i, k := range sortedKeys(r.Tags) {
		if i > 0 {
			dst = append(dst, ',')
		}
		dst = appendString(dst, k)
		dst = append(dst, ':')
		dst = appendString(dst, r.Tags[k])
	}
	dst = append(dst, `},"fields":{`...)
	first := true
	for _, k := range sortedKeys(r.Fields) {
		v, ok := appendValue(nil, r.Fields[k])
		if !ok {
			continue
		}
		if !first {
			dst = append(dst, ',')
		}
		first = false
		dst = appendString(dst, k)
		dst = append(dst, ':')
		dst = append(dst, v...)
	}
	return append(dst, "}}"...)
}

// Encode writes records as a JSON array.
func Encode(records []Record) []byte {
	buf := []byte{'['}
	for i, r := range records {
		if i > 0 {
			buf = append(buf, ',')
		}
		buf = AppendRecord(buf, r)
	}
	return append(buf, ']')
}

func sortedKeys[V any](m map[string]V) []string {
	keys := lo.Keys(m)
	slices.Sort(keys)
	return keys
}

func appendString(dst []byte, s string) []byte {
	b, _ := json.Marshal(s)
	return append(dst, b...)
}

func appendValue(dst []byte, v any) ([]byte, bool) {
	switch t := v.(type) {
	case float64:
		return appendFloat(dst, t)
	case float32:
		return appendFloat(dst, float64(t))
	case int64:
		return strconv.AppendInt(dst, t, 10), true
	case int:
		return strconv.AppendInt(dst, int64(t), 10), true
	case uint64:
		return strconv.AppendUint(dst, t, 10), true
	case bool:
		return strconv.AppendBool(dst, t), true
	case string:
		return appendString(dst, t), true
	}
	return dst, false
}

func appendFloat(dst []byte, f float64) ([]byte, bool) {
	if math.IsNaN(f) || math.IsInf(f, 0) {
		return dst, false
	}
	if f == math.Trunc(f) {
		return strconv.AppendFloat(dst, f, 'f', 6, 64), true
	}
	return strconv.AppendFloat(dst, f, 'f', -1, 64), true
}

type wireRecord struct {
	Measurement string                     `json:"measurement"`
	Tags        map[string]string          `json:"tags"`
	Fields      map[string]json.RawMessage `json:"fields"`
}

// Decode parses a JSON array written by Encode. Numbers with a decimal
// point or exponent become float64, others int64.
func Decode(data []byte) ([]Record, error) {
	var wire []wireRecord
	if err := json.Unmarshal(data, &wire); err != nil {
		return nil, fmt.Errorf("could not decode records: %w: %w", fanmon.ErrInvalidData, err)
	}
	res := make([]Record, 0, len(wire))
	for _, w := range wire {
		r := Record{Measurement: w.Measurement, Tags: w.Tags, Fields: sensor.Fields{}}
		for k, raw := range w.Fields {
			v, err := decodeValue(raw)
			if err != nil {
				return nil, fmt.Errorf("field %s of %s: %w", k, w.Measurement, err)
			}
			r.Fields[k] = v
		}
		res = append(res, r)
	}
	return res, nil
}

func decodeValue(raw json.RawMessage) (any, error) {
	d := json.NewDecoder(bytes.NewReader(raw))
	d.UseNumber()
	var v any
	if err := d.Decode(&v); err != nil {
		return nil, fmt.Errorf("%w: %w", fanmon.ErrInvalidData, err)
	}
	n, ok := v.(json.Number)
	if !ok {
		return v, nil
	}
	if strings.ContainsAny(n.String(), ".eE") {
		return n.Float64()
	}
	return n.Int64()
}
