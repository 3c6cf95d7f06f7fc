package statusapi

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/mklimuk/fanmon/config"
	"github.com/mklimuk/fanmon/motor"
	"github.com/mklimuk/fanmon/sensor"
	"github.com/mklimuk/fanmon/telemetry"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type stubInstance struct {
	name      string
	serial    uint64
	hasSerial bool
}

func (s stubInstance) TypeName() string { return "Si7021" }
func (s stubInstance) Measurement() string { return "environment" }
func (s stubInstance) Name() string { return s.name }
func (s stubInstance) BusID() uint8 { return 1 }
func (s stubInstance) Address() byte { return 0x40 }
func (s stubInstance) Serial() (uint64, bool) { return s.serial, s.hasSerial }
func (s stubInstance) IsConnected(context.Context) bool { return true }
func (s stubInstance) ReadFields(context.Context) (sensor.Fields, error) { return nil, nil }
func (s stubInstance) NeedsPostProcessing() bool { return false }
func (s stubInstance) CreatePostProcessedSensors() []sensor.Instance { return nil }

func get(t *testing.T, h http.Handler, path string) *httptest.ResponseRecorder {
	t.Helper()
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, path, nil))
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "application/json", rec.Header().Get("Content-Type"))
	return rec
}

func TestSensors(t *testing.T) {
	c := sensor.NewCollection()
	c.Append(stubInstance{serial: 0x15ab, hasSerial: true})
	c.Append(stubInstance{name: "motor_ntc"})
	c.Freeze()

	s := &State{}
	h := Router(s)
	assert.JSONEq(t, `[]`, get(t, h, "/sensors").Body.String())

	s.SetSensors(SensorsFrom(context.Background(), c))
	assert.JSONEq(t, `[
		{"type":"Si7021","measurement":"environment","bus":1,"address":"0x40","serial":"15ab","connected":true},
		{"type":"Si7021","measurement":"environment","bus":1,"address":"0x40","name":"motor_ntc","connected":true}
	]`, get(t, h, "/sensors").Body.String())
}

func TestReadings_KeepFloats(t *testing.T) {
	s := &State{}
	f := sensor.Fields{}
	f.SetFloat("temp_c", 21)
	s.SetReadings([]telemetry.Record{{Measurement: "environment", Tags: map[string]string{"bus_id": "1"}, Fields: f}})

	body := get(t, Router(s), "/readings").Body.String()
	assert.Contains(t, body, `"temp_c":21.000000`)
}

func TestConfig_Masked(t *testing.T) {
	s := &State{}
	c := config.DefaultDeviceConfig()
	c.WiFi[0].Password = "supersecret"
	s.SetConfig(c)

	var got config.DeviceConfig
	require.NoError(t, json.Unmarshal(get(t, Router(s), "/config").Body.Bytes(), &got))
	assert.Equal(t, "su****et", got.WiFi[0].Password)
	assert.Equal(t, "supersecret", c.WiFi[0].Password)
}

func TestHealth(t *testing.T) {
	s := &State{}
	s.SetHealth(Health{Uptime: 1500 * time.Millisecond, Motor: motor.Status{Power: 0.5, DutyCycle: 0.5, Forward: true}, MQTTConnected: true})

	var got map[string]any
	require.NoError(t, json.Unmarshal(get(t, Router(s), "/health").Body.Bytes(), &got))
	assert.Equal(t, 1500.0, got["uptime_ms"])
	assert.Equal(t, true, got["mqtt_connected"])
	assert.Equal(t, 0.5, got["motor"].(map[string]any)["duty_cycle"])
}

func TestUnknownRoute(t *testing.T) {
	rec := httptest.NewRecorder()
	Router(&State{}).ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/nope", nil))
	assert.Equal(t, http.StatusNotFound, rec.Code)
}
