package onewire

import (
	"testing"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/go-git/go-billy/v5"
	"github.com/go-git/go-billy/v5/memfs"
	"github.com/go-git/go-billy/v5/util"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeFile(t *testing.T, fs billy.Filesystem, name, content string) {
	t.Helper()
	require.NoError(t, util.WriteFile(fs, name, []byte(content), 0o644))
}

func newSysfs(t *testing.T) billy.Filesystem {
	fs := memfs.New()
	writeFile(t, fs, "/w1_bus_master1/therm_bulk_read", "0\n")
	writeFile(t, fs, "/w1_bus_master1/28-00000a1b2c3d/temperature", "21500\n")
	writeFile(t, fs, "/w1_bus_master1/28-000001020304/temperature", "85000\n")
	writeFile(t, fs, "/w1_bus_master1/10-000000000001/temperature", "20000\n")
	writeFile(t, fs, "/w1_bus_master2/therm_bulk_read", "0\n")
	writeFile(t, fs, "/w1_bus_master2/28-0000ffee0011/temperature", "-5250\n")
	return fs
}

func TestPoller_Begin(t *testing.T) {
	p := NewPoller(WithFS(newSysfs(t)), WithClock(clock.NewMock()))
	require.NoError(t, p.Begin())
	assert.Equal(t, 2, p.BusCount())
	assert.Equal(t, []Device{
		{BusID: 0, ID: "28-000001020304"},
		{BusID: 0, ID: "28-00000a1b2c3d"},
		{BusID: 1, ID: "28-0000ffee0011"},
	}, p.Devices())
}

func TestPoller_StateMachine(t *testing.T) {
	fs := newSysfs(t)
	clk := clock.NewMock()
	p := NewPoller(WithFS(fs), WithClock(clk))
	require.NoError(t, p.Begin())

	assert.Equal(t, Idle, p.State())
	assert.Nil(t, p.Tick())
	assert.Equal(t, Requested, p.State())
	b, err := util.ReadFile(fs, "/w1_bus_master2/therm_bulk_read")
	require.NoError(t, err)
	assert.Equal(t, "trigger\n", string(b))

	clk.Add(799 * time.Millisecond)
	assert.Nil(t, p.Tick())
	assert.Equal(t, Requested, p.State())

	clk.Add(time.Millisecond)
	readings := p.Tick()
	assert.Equal(t, Idle, p.State())
	// the 85.0 power-on value is dropped
	require.Len(t, readings, 2)
	assert.Equal(t, "00000a1b2c3d", readings[0].Address())
	assert.Equal(t, 21.5, readings[0].TempC)
	assert.Equal(t, map[string]string{"bus_id": "1", "address": "0000ffee0011"}, readings[1].Tags())
	assert.Equal(t, -5.25, readings[1].Fields()["temp_c"])
}

func TestPoller_NoSubsystem(t *testing.T) {
	p := NewPoller(WithFS(memfs.New()), WithClock(clock.NewMock()))
	// an empty tree may or may not list; either way there is nothing to poll
	_ = p.Begin()
	assert.Equal(t, 0, p.BusCount())
	assert.Nil(t, p.Tick())
	assert.Equal(t, Idle, p.State())
}

func TestValidTemp(t *testing.T) {
	tests := []struct {
		t     float64
		valid bool
	}{
		{-40, false},
		{-39.9, true},
		{85, false},
		{84.9375, true},
		{124.9, true},
		{125, false},
	}
	for _, tc := range tests {
		assert.Equal(t, tc.valid, validTemp(tc.t), "%v", tc.t)
	}
}

func TestState_String(t *testing.T) {
	assert.Equal(t, "requested", Requested.String())
	assert.Equal(t, "state(7)", State(7).String())
}
