package command

import (
	"context"
	"encoding/json"
	"errors"
	"testing"

	"github.com/mklimuk/fanmon"
	"github.com/mklimuk/fanmon/config"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

type MockPublisher struct {
	mock.Mock
}

func (m *MockPublisher) Publish(ctx context.Context, topic string, payload []byte) error {
	args := m.Called(ctx, topic, string(payload))
	return args.Error(0)
}

type fakeMotor struct {
	power float64
	err   error
}

func (m *fakeMotor) SetPower(p float64) error {
	if m.err != nil {
		return m.err
	}
	m.power = p
	return nil
}

func (m *fakeMotor) Power() float64 { return m.power }

func newHandler(t *testing.T) (*Handler, *config.Manager, *fakeMotor, *MockPublisher) {
	t.Helper()
	mgr := config.NewManager(config.NewMemoryStore(), nil)
	require.NoError(t, mgr.Begin())
	motor := &fakeMotor{}
	pub := &MockPublisher{}
	return NewHandler(mgr, motor, pub, TopicsFor(mgr.Get()), nil), mgr, motor, pub
}

func TestTopicsFor(t *testing.T) {
	topics := TopicsFor(config.DefaultDeviceConfig())
	assert.Equal(t, Topics{
		Power:        "device/fan/power",
		PowerStatus:  "device/fan/power/status",
		Config:       "device/fan1/config",
		ConfigStatus: "device/fan1/config/status",
		Log:          "device/fan/power/status/log",
	}, topics)
	assert.Equal(t, []string{"device/fan/power", "device/fan1/config"}, topics.Subscriptions())

	c := config.DefaultDeviceConfig()
	c.MQTTCommandTopic = "power"
	assert.Equal(t, "power/fan1/config", TopicsFor(c).Config)
}

func TestParsePower(t *testing.T) {
	tests := []struct {
		in   string
		want float64
		err  bool
	}{
		{"0.5", 0.5, false},
		{" 0.25\n", 0.25, false},
		{"1.7", 1, false},
		{"-3", 0, false},
		{"1", 1, false},
		{"abc", 0, true},
		{"", 0, true},
		{"NaN", 0, true},
	}
	for _, tc := range tests {
		t.Run(tc.in, func(t *testing.T) {
			p, err := ParsePower(tc.in)
			if tc.err {
				assert.ErrorIs(t, err, fanmon.ErrInvalidValue)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tc.want, p)
		})
	}
	assert.Equal(t, "0.500", FormatPower(0.5))
	assert.Equal(t, "1.000", FormatPower(1))
}

func TestHandle_Power(t *testing.T) {
	h, _, motor, pub := newHandler(t)
	ctx := context.Background()
	pub.On("Publish", ctx, "device/fan/power/status", "0.750").Return(nil).Once()

	h.Handle(ctx, Message{Topic: "device/fan/power", Payload: []byte("0.75")})
	assert.Equal(t, 0.75, motor.power)
	pub.AssertExpectations(t)

	// invalid setpoints leave the motor alone
	h.Handle(ctx, Message{Topic: "device/fan/power", Payload: []byte("fast")})
	assert.Equal(t, 0.75, motor.power)
	pub.AssertNumberOfCalls(t, "Publish", 1)
}

func TestHandle_PowerMotorFailure(t *testing.T) {
	h, _, motor, pub := newHandler(t)
	motor.err = errors.New("pwm")
	h.Handle(context.Background(), Message{Topic: "device/fan/power", Payload: []byte("0.2")})
	pub.AssertNotCalled(t, "Publish", mock.Anything, mock.Anything, mock.Anything)
}

func TestHandle_ConfigAck(t *testing.T) {
	h, mgr, _, pub := newHandler(t)
	ctx := context.Background()
	pub.On("Publish", ctx, "device/fan1/config/status", "OK: device name set to attic").Return(nil).Once()

	h.Handle(ctx, Message{Topic: "device/fan1/config", Payload: []byte(`{"cmd":"set_device_name","name":"attic"}`)})
	pub.AssertExpectations(t)
	assert.Equal(t, "attic", mgr.Get().DeviceName)
}

func TestConfigure(t *testing.T) {
	tests := []struct {
		name    string
		payload string
		ack     string
	}{
		{"wifi", `{"cmd":"set_wifi","index":1,"ssid":"home","password":"secret123"}`, "OK: wifi 1 set to home (restart required)"},
		{"wifi without index", `{"cmd":"set_wifi","ssid":"home","password":"secret123"}`, "ERROR: index: missing field"},
		{"wifi short password", `{"cmd":"set_wifi","index":0,"ssid":"home","password":"short"}`, "ERROR: password must be 8..64 characters: config: invalid value"},
		{"wifi index out of range", `{"cmd":"set_wifi","index":5,"ssid":"home","password":"secret123"}`, "ERROR: wifi index must be 0..4: config: invalid value"},
		{"mqtt server", `{"cmd":"set_mqtt_server","server":"10.0.0.2","port":8883}`, "OK: mqtt server set to 10.0.0.2:8883 (restart required)"},
		{"mqtt server default port", `{"cmd":"set_mqtt_server","server":"10.0.0.2"}`, "OK: mqtt server set to 10.0.0.2:1883 (restart required)"},
		{"mqtt port out of range", `{"cmd":"set_mqtt_server","server":"10.0.0.2","port":70000}`, "ERROR: port must be 1..65535: config: invalid value"},
		{"mqtt topics", `{"cmd":"set_mqtt_topics","command":"a/b","status":"a/b/s"}`, "OK: mqtt topics set to a/b, a/b/s (restart required)"},
		{"api endpoints", `{"cmd":"set_api_endpoints","influxdb":"http://x/log","firmware":"http://x/fw"}`, "OK: api endpoints set"},
		{"api endpoints empty", `{"cmd":"set_api_endpoints","influxdb":"","firmware":"http://x/fw"}`, "ERROR: influxdb url must be 1..128 characters: config: invalid value"},
		{"reset", `{"cmd":"reset_config"}`, "OK: config reset to defaults (restart required)"},
		{"unknown", `{"cmd":"reboot"}`, `ERROR: unknown command "reboot"`},
		{"no cmd", `{}`, "ERROR: cmd: missing field"},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			h, _, _, _ := newHandler(t)
			assert.Equal(t, tc.ack, h.Configure([]byte(tc.payload)))
		})
	}
}

func TestConfigure_MalformedJSON(t *testing.T) {
	h, _, _, _ := newHandler(t)
	assert.Contains(t, h.Configure([]byte(`{"cmd":`)), "ERROR: invalid JSON")
}

func TestConfigure_PrintMasksPasswords(t *testing.T) {
	h, mgr, _, _ := newHandler(t)
	require.NoError(t, mgr.SetWiFi(0, "home", "supersecret"))
	ack := h.Configure([]byte(`{"cmd":"print_config"}`))
	require.Regexp(t, "^OK: ", ack)

	var c config.DeviceConfig
	require.NoError(t, json.Unmarshal([]byte(ack[len("OK: "):]), &c))
	assert.Equal(t, "su****et", c.WiFi[0].Password)
	assert.Equal(t, "ESP32-Fan", c.DeviceName)
}

func TestConfigure_ResetRestoresDefaults(t *testing.T) {
	h, mgr, _, _ := newHandler(t)
	require.NoError(t, mgr.SetDeviceName("attic"))
	h.Configure([]byte(`{"cmd":"reset_config"}`))
	assert.Equal(t, config.DefaultDeviceConfig(), mgr.Get())
}

func TestQueue(t *testing.T) {
	q := NewQueue(2)
	assert.True(t, q.Push(Message{Topic: "a"}))
	assert.True(t, q.Push(Message{Topic: "b"}))
	assert.False(t, q.Push(Message{Topic: "c"}))
	assert.Equal(t, int64(1), q.Dropped())

	var topics []string
	n := q.Drain(func(m Message) { topics = append(topics, m.Topic) })
	assert.Equal(t, 2, n)
	assert.Equal(t, []string{"a", "b"}, topics)
	assert.Equal(t, 0, q.Drain(func(Message) {}))
}
