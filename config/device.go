package config

import (
	"fmt"
	"io"
	"log/slog"
	"strconv"
	"sync"

	"github.com/mklimuk/fanmon"
)

// MaxWiFi is the number of WiFi credential slots.
const MaxWiFi = 5

const (
	keyDeviceName    = "deviceName"
	keyWiFiCount     = "wifiCount"
	keyMQTTServer    = "mqttServer"
	keyMQTTPort      = "mqttPort"
	keyMQTTCmdTopic  = "mqttCmdTopic"
	keyMQTTStatTopic = "mqttStatTopic"
	keyAPIInflux     = "apiInflux"
	keyAPIFwUpdate   = "apiFwUpdate"
	keyInitialized   = "initialized"
)

func wifiSSIDKey(i int) string { return "wifi" + strconv.Itoa(i) + "ssid" }
func wifiPassKey(i int) string { return "wifi" + strconv.Itoa(i) + "pass" }

type WiFiCredential struct {
	SSID     string `json:"ssid" yaml:"ssid"`
	Password string `json:"password" yaml:"password"`
}

// DeviceConfig is the user editable configuration persisted on the device.
type DeviceConfig struct {
	DeviceName       string           `json:"device_name" yaml:"device_name"`
	WiFi             []WiFiCredential `json:"wifi" yaml:"wifi"`
	MQTTServer       string           `json:"mqtt_server" yaml:"mqtt_server"`
	MQTTPort         int              `json:"mqtt_port" yaml:"mqtt_port"`
	MQTTCommandTopic string           `json:"mqtt_command_topic" yaml:"mqtt_command_topic"`
	MQTTStatusTopic  string           `json:"mqtt_status_topic" yaml:"mqtt_status_topic"`
	APIInflux        string           `json:"api_influx" yaml:"api_influx"`
	APIFirmware      string           `json:"api_firmware" yaml:"api_firmware"`
}

func DefaultDeviceConfig() DeviceConfig {
	return DeviceConfig{
		DeviceName:       "ESP32-Fan",
		WiFi:             []WiFiCredential{{SSID: "YourSSID", Password: "YourPassword"}},
		MQTTServer:       "192.168.1.1",
		MQTTPort:         1883,
		MQTTCommandTopic: "device/fan/power",
		MQTTStatusTopic:  "device/fan/power/status",
		APIInflux:        "https://data.example.com/particle/log",
		APIFirmware:      "https://data.example.com/particle/fw/update",
	}
}

// Masked returns a copy with passwords masked for display.
func (c DeviceConfig) Masked() DeviceConfig {
	m := c.clone()
	for i := range m.WiFi {
		m.WiFi[i].Password = MaskPassword(m.WiFi[i].Password)
	}
	return m
}

func (c DeviceConfig) clone() DeviceConfig {
	c.WiFi = append([]WiFiCredential(nil), c.WiFi...)
	return c
}

func (c DeviceConfig) values() map[string]string {
	v := map[string]string{
		keyDeviceName:    c.DeviceName,
		keyMQTTServer:    c.MQTTServer,
		keyMQTTPort:      strconv.Itoa(c.MQTTPort),
		keyMQTTCmdTopic:  c.MQTTCommandTopic,
		keyMQTTStatTopic: c.MQTTStatusTopic,
		keyAPIInflux:     c.APIInflux,
		keyAPIFwUpdate:   c.APIFirmware,
		keyInitialized:   "true",
	}
	n := min(len(c.WiFi), MaxWiFi)
	v[keyWiFiCount] = strconv.Itoa(n)
	for i := range n {
		v[wifiSSIDKey(i)] = c.WiFi[i].SSID
		v[wifiPassKey(i)] = c.WiFi[i].Password
	}
	return v
}

// fromValues reads stored values, falling back to defaults for missing
// keys. Slots with an empty SSID are skipped.
func fromValues(v map[string]string) DeviceConfig {
	d := DefaultDeviceConfig()
	get := func(key, def string) string {
		if s, ok := v[key]; ok {
			return s
		}
		return def
	}
	c := DeviceConfig{
		DeviceName:       get(keyDeviceName, d.DeviceName),
		MQTTServer:       get(keyMQTTServer, d.MQTTServer),
		MQTTCommandTopic: get(keyMQTTCmdTopic, d.MQTTCommandTopic),
		MQTTStatusTopic:  get(keyMQTTStatTopic, d.MQTTStatusTopic),
		APIInflux:        get(keyAPIInflux, d.APIInflux),
		APIFirmware:      get(keyAPIFwUpdate, d.APIFirmware),
	}
	c.MQTTPort = d.MQTTPort
	if p, err := strconv.Atoi(v[keyMQTTPort]); err == nil {
		c.MQTTPort = p
	}
	count, _ := strconv.Atoi(v[keyWiFiCount])
	for i := 0; i < count && i < MaxWiFi; i++ {
		ssid := v[wifiSSIDKey(i)]
		if ssid == "" {
			continue
		}
		c.WiFi = append(c.WiFi, WiFiCredential{SSID: ssid, Password: v[wifiPassKey(i)]})
	}
	return c
}

// Manager owns the persisted device configuration. Every mutation rewrites
// all keys.
type Manager struct {
	mx    sync.Mutex
	store Store
	cfg   DeviceConfig
	log   *slog.Logger
}

func NewManager(store Store, logger *slog.Logger) *Manager {
	if logger == nil {
		logger = slog.Default()
	}
	return &Manager{store: store, cfg: DefaultDeviceConfig(), log: logger.With("component", "config")}
}

// Begin opens the store and loads the configuration. A store that was
// never initialized gets the defaults written. A store that cannot be
// opened fails with ErrStoreOpen.
func (m *Manager) Begin() error {
	m.mx.Lock()
	defer m.mx.Unlock()
	if err := m.store.Open(); err != nil {
		return fmt.Errorf("%w: %w", fanmon.ErrStoreOpen, err)
	}
	values, err := m.store.Load()
	if err != nil {
		return fmt.Errorf("%w: %w", fanmon.ErrStoreOpen, err)
	}
	if values[keyInitialized] != "true" {
		m.log.Info("first boot detected, creating default configuration")
		m.cfg = DefaultDeviceConfig()
		return m.save()
	}
	m.cfg = fromValues(values)
	m.log.Debug("configuration loaded", "device", m.cfg.DeviceName)
	return nil
}

// Get returns a copy of the current configuration.
func (m *Manager) Get() DeviceConfig {
	m.mx.Lock()
	defer m.mx.Unlock()
	return m.cfg.clone()
}

func (m *Manager) save() error {
	if err := m.store.Save(m.cfg.values()); err != nil {
		return fmt.Errorf("could not save configuration: %w", err)
	}
	return nil
}

func (m *Manager) update(fn func(c *DeviceConfig)) error {
	m.mx.Lock()
	defer m.mx.Unlock()
	fn(&m.cfg)
	return m.save()
}

func checkLen(name, v string, lo, hi int) error {
	if len(v) < lo || len(v) > hi {
		return fmt.Errorf("%s must be %d..%d characters: %w", name, lo, hi, fanmon.ErrInvalidValue)
	}
	return nil
}

func (m *Manager) SetDeviceName(name string) error {
	if err := checkLen("device name", name, 1, 32); err != nil {
		return err
	}
	return m.update(func(c *DeviceConfig) { c.DeviceName = name })
}

// SetWiFi sets the credential in slot index, growing the list with empty
// slots when needed.
func (m *Manager) SetWiFi(index int, ssid, password string) error {
	if index < 0 || index >= MaxWiFi {
		return fmt.Errorf("wifi index must be 0..%d: %w", MaxWiFi-1, fanmon.ErrInvalidValue)
	}
	if err := checkLen("ssid", ssid, 1, 32); err != nil {
		return err
	}
	if err := checkLen("password", password, 8, 64); err != nil {
		return err
	}
	return m.update(func(c *DeviceConfig) {
		for len(c.WiFi) <= index {
			c.WiFi = append(c.WiFi, WiFiCredential{})
		}
		c.WiFi[index] = WiFiCredential{SSID: ssid, Password: password}
	})
}

func (m *Manager) SetMQTTServer(server string, port int) error {
	if err := checkLen("server", server, 1, 64); err != nil {
		return err
	}
	if port < 1 || port > 65535 {
		return fmt.Errorf("port must be 1..65535: %w", fanmon.ErrInvalidValue)
	}
	return m.update(func(c *DeviceConfig) {
		c.MQTTServer = server
		c.MQTTPort = port
	})
}

func (m *Manager) SetMQTTTopics(command, status string) error {
	if err := checkLen("command topic", command, 1, 64); err != nil {
		return err
	}
	if err := checkLen("status topic", status, 1, 64); err != nil {
		return err
	}
	return m.update(func(c *DeviceConfig) {
		c.MQTTCommandTopic = command
		c.MQTTStatusTopic = status
	})
}

func (m *Manager) SetAPIEndpoints(influx, firmware string) error {
	if err := checkLen("influxdb url", influx, 1, 128); err != nil {
		return err
	}
	if err := checkLen("firmware url", firmware, 1, 128); err != nil {
		return err
	}
	return m.update(func(c *DeviceConfig) {
		c.APIInflux = influx
		c.APIFirmware = firmware
	})
}

// Reset restores and persists the defaults.
func (m *Manager) Reset() error {
	return m.update(func(c *DeviceConfig) { *c = DefaultDeviceConfig() })
}

// Print writes the configuration with passwords masked.
func (m *Manager) Print(w io.Writer) {
	c := m.Get()
	_, _ = fmt.Fprintln(w, "========== Device Configuration ==========")
	_, _ = fmt.Fprintf(w, "Device Name: %s\n", c.DeviceName)
	_, _ = fmt.Fprintf(w, "\nWiFi Networks (%d):\n", len(c.WiFi))
	for i, cred := range c.WiFi {
		_, _ = fmt.Fprintf(w, "  %d: %s / %s\n", i, cred.SSID, MaskPassword(cred.Password))
	}
	_, _ = fmt.Fprintf(w, "\nMQTT:\n  Server: %s:%d\n", c.MQTTServer, c.MQTTPort)
	_, _ = fmt.Fprintf(w, "  Command Topic: %s\n  Status Topic: %s\n", c.MQTTCommandTopic, c.MQTTStatusTopic)
	_, _ = fmt.Fprintf(w, "\nAPI Endpoints:\n  InfluxDB: %s\n  FW Update: %s\n", c.APIInflux, c.APIFirmware)
	_, _ = fmt.Fprintln(w, "==========================================")
}

// MaskPassword keeps the first and last two characters.
func MaskPassword(p string) string {
	if len(p) <= 4 {
		return "****"
	}
	return p[:2] + "****" + p[len(p)-2:]
}
