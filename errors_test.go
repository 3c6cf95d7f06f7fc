package fanmon

import (
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestErrorKinds(t *testing.T) {
	tests := []struct {
		name    string
		err     error
		bus     bool
		sensor  bool
		network bool
		config  bool
	}{
		{"nack", fmt.Errorf("write failed: %w", ErrBusNack), true, false, false, false},
		{"busy", ErrBusBusy, true, false, false, false},
		{"invalid data", fmt.Errorf("crc: %w", ErrInvalidData), false, true, false, false},
		{"request failed", ErrRequestFailed, false, false, true, false},
		{"store", fmt.Errorf("open: %w", ErrStoreOpen), false, false, false, true},
		{"plain", fmt.Errorf("boom"), false, false, false, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.bus, IsBusError(tt.err))
			assert.Equal(t, tt.sensor, IsSensorError(tt.err))
			assert.Equal(t, tt.network, IsNetworkError(tt.err))
			assert.Equal(t, tt.config, IsConfigError(tt.err))
		})
	}
}
