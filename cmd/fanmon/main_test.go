package main

import (
	"bytes"
	"os"
	"path/filepath"
	"testing"

	"github.com/mklimuk/fanmon/cmd/fanmon/console"
	"github.com/mklimuk/fanmon/config"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func capture(t *testing.T) *bytes.Buffer {
	t.Helper()
	var out bytes.Buffer
	console.SetOutput(&out, &out)
	t.Cleanup(func() { console.SetOutput(os.Stdout, os.Stderr) })
	return &out
}

func TestScan_Simulated(t *testing.T) {
	out := capture(t)
	assert.Equal(t, 0, run([]string{"fanmon", "--simulate", "scan"}))
	assert.Contains(t, out.String(), "INA226")
	assert.Contains(t, out.String(), "0x48")
}

func TestRead_Simulated(t *testing.T) {
	out := capture(t)
	assert.Equal(t, 0, run([]string{"fanmon", "--simulate", "read", "-n", "1"}))
	assert.Contains(t, out.String(), "cycle 1")
}

func TestConfigShow_Simulated(t *testing.T) {
	out := capture(t)
	assert.Equal(t, 0, run([]string{"fanmon", "--simulate", "config", "show"}))
	assert.Contains(t, out.String(), "ESP32-Fan")
	assert.NotContains(t, out.String(), "YourPassword")
}

func TestConfigApply(t *testing.T) {
	tests := []struct {
		name     string
		payload  string
		code     int
		expected string
	}{
		{"accepted", `{"cmd":"set_device_name","name":"attic"}`, 0, "OK: device name set to attic"},
		{"rejected", `{"cmd":"launch"}`, console.ExitConfig, "ERROR: unknown command"},
		{"malformed", `{`, console.ExitConfig, "ERROR: invalid JSON"},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			out := capture(t)
			assert.Equal(t, tc.code, run([]string{"fanmon", "--simulate", "config", "apply", tc.payload}))
			assert.Contains(t, out.String(), tc.expected)
		})
	}
}

func TestInvalidConfigFile(t *testing.T) {
	capture(t)
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte("store:\n  kind: floppy\n"), 0o600))
	assert.Equal(t, console.ExitConfig, run([]string{"fanmon", "--config", path, "scan"}))
	assert.Equal(t, console.ExitConfig, run([]string{"fanmon", "--config", filepath.Join(t.TempDir(), "missing.yaml"), "scan"}))
}

func TestSimulated(t *testing.T) {
	cfg := config.Default()
	cfg.OneWire.Enabled = true
	cfg.Motor.Enabled = true
	s := simulated(cfg)
	assert.Equal(t, config.StoreMemory, s.Store.Kind)
	assert.False(t, s.OneWire.Enabled)
	assert.False(t, s.Motor.Enabled)
	for _, b := range s.Buses {
		assert.Equal(t, config.BackendSim, b.Backend)
	}
}
