package sensor

import (
	"math"

	"github.com/samber/lo"
)

// Fields is the flat key to value map produced by one read. Values are
// float64, int64 or bool. Floating point quantities must be stored as float64
// so that the encoder keeps them fractional.
type Fields map[string]any

// SetFloat stores v unless it is NaN or infinite.
func (f Fields) SetFloat(key string, v float64) {
	if math.IsNaN(v) || math.IsInf(v, 0) {
		return
	}
	f[key] = v
}

// SetFloatIf stores v only when valid is true.
func (f Fields) SetFloatIf(valid bool, key string, v float64) {
	if !valid {
		return
	}
	f.SetFloat(key, v)
}

func (f Fields) SetInt(key string, v int64) {
	f[key] = v
}

func (f Fields) SetBool(key string, v bool) {
	f[key] = v
}

// Merge copies every entry of o into f.
func (f Fields) Merge(o Fields) Fields {
	for k, v := range o {
		f[k] = v
	}
	return f
}

// Keys returns the field names in no particular order.
func (f Fields) Keys() []string {
	return lo.Keys(f)
}

// Float returns a float field if present.
func (f Fields) Float(key string) (float64, bool) {
	v, ok := f[key].(float64)
	return v, ok
}
