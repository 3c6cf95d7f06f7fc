// Package config holds the build-time firmware configuration read from YAML
// and the persisted device configuration edited at runtime.
package config

import (
	"fmt"
	"os"
	"time"

	"github.com/mklimuk/fanmon"
	"github.com/mklimuk/fanmon/sensor"
	"gopkg.in/yaml.v3"
)

// Bus backends.
const (
	BackendPeriph  = "periph"
	BackendGobot   = "gobot"
	BackendMCP2221 = "mcp2221"
	BackendSim     = "sim"
)

// Store kinds.
const (
	StoreFile   = "file"
	StoreEEPROM = "eeprom"
	StoreMemory = "memory"
)

type Config struct {
	Device      Device      `yaml:"device"`
	Buses       []Bus       `yaml:"buses"`
	OneWire     OneWire     `yaml:"onewire"`
	Calibration Calibration `yaml:"calibration"`
	Intervals   Intervals   `yaml:"intervals"`
	Telemetry   Telemetry   `yaml:"telemetry"`
	Motor       Motor       `yaml:"motor"`
	LEDs        LEDs        `yaml:"leds"`
	Store       StoreConfig `yaml:"store"`
	Logging     Logging     `yaml:"logging"`
	StatusAPI   StatusAPI   `yaml:"status_api"`
	Firmware    Firmware    `yaml:"firmware"`
}

type Device struct {
	// ChipID overrides the host id used as the chip_id tag.
	ChipID string `yaml:"chip_id"`
}

// Bus is one logical I2C bus. Buses sharing a device are multiplexed over
// one transport.
type Bus struct {
	ID          uint8  `yaml:"id"`
	Backend     string `yaml:"backend"`
	Device      string `yaml:"device"`
	SDA         string `yaml:"sda"`
	SCL         string `yaml:"scl"`
	FrequencyHz int    `yaml:"frequency_hz"`
	// MuxAddress is the multiplexer selecting this bus on a shared device.
	MuxAddress uint8 `yaml:"mux_address"`
	MuxChannel uint8 `yaml:"mux_channel"`
}

type OneWire struct {
	Enabled bool   `yaml:"enabled"`
	Root    string `yaml:"root"`
}

type Thermistor struct {
	Name    string  `yaml:"name"`
	Channel int     `yaml:"channel"`
	SeriesR float64 `yaml:"series_ohms"`
	// Model is steinhart or beta.
	Model string  `yaml:"model"`
	A     float64 `yaml:"a"`
	B     float64 `yaml:"b"`
	C     float64 `yaml:"c"`
	R0    float64 `yaml:"r0"`
	T0C   float64 `yaml:"t0_c"`
	Beta  float64 `yaml:"beta"`
}

type Rail struct {
	Name    string  `yaml:"name"`
	Channel int     `yaml:"channel"`
	Ratio   float64 `yaml:"ratio"`
}

type Calibration struct {
	Thermistors   []Thermistor `yaml:"thermistors"`
	Rails         []Rail       `yaml:"rails"`
	SupplyChannel int          `yaml:"supply_channel"`
	SupplyRatio   float64      `yaml:"supply_ratio"`
	SupplyVolts   float64      `yaml:"supply_fallback_v"`
	ShuntOhms     float64      `yaml:"shunt_ohms"`
	MaxCurrentA   float64      `yaml:"max_current_a"`
}

type Intervals struct {
	Heartbeat     time.Duration `yaml:"heartbeat"`
	HealthReport  time.Duration `yaml:"health_report"`
	MQTTPublish   time.Duration `yaml:"mqtt_publish"`
	SensorRead    time.Duration `yaml:"sensor_read"`
	FirmwareCheck time.Duration `yaml:"fw_check"`
	Loop          time.Duration `yaml:"loop"`
}

type Telemetry struct {
	BatchLimit int `yaml:"batch_limit"`
	// Influx forwards records to an InfluxDB bucket besides the HTTP endpoint.
	Influx Influx `yaml:"influx"`
}

type Influx struct {
	URL    string `yaml:"url"`
	Token  string `yaml:"token"`
	Org    string `yaml:"org"`
	Bucket string `yaml:"bucket"`
}

type Motor struct {
	Enabled     bool          `yaml:"enabled"`
	PWMPin      string        `yaml:"pwm_pin"`
	InAPin      string        `yaml:"in_a_pin"`
	InBPin      string        `yaml:"in_b_pin"`
	EnAPin      string        `yaml:"en_a_pin"`
	EnBPin      string        `yaml:"en_b_pin"`
	FrequencyHz int           `yaml:"frequency_hz"`
	MinDuty     float64       `yaml:"min_duty"`
	Deadtime    time.Duration `yaml:"deadtime"`
}

type LEDs struct {
	Enabled bool `yaml:"enabled"`
	Green   int  `yaml:"green"`
	Red     int  `yaml:"red"`
	Orange  int  `yaml:"orange"`
	Blue    int  `yaml:"blue"`
}

type StoreConfig struct {
	Kind string `yaml:"kind"`
	Path string `yaml:"path"`
	// Offset is the EEPROM address of the config blob.
	Offset uint32 `yaml:"offset"`
}

type Logging struct {
	Level      string `yaml:"level"`
	File       string `yaml:"file"`
	MaxSizeMB  int    `yaml:"max_size_mb"`
	MaxBackups int    `yaml:"max_backups"`
	MaxAgeDays int    `yaml:"max_age_days"`
}

type StatusAPI struct {
	Listen string `yaml:"listen"`
}

type Firmware struct {
	Version string `yaml:"version"`
}

// Default is the configuration of the reference board.
func Default() Config {
	return Config{
		Buses: []Bus{
			{ID: 0, Backend: BackendPeriph, Device: "/dev/i2c-0"},
			{ID: 1, Backend: BackendPeriph, Device: "/dev/i2c-1"},
		},
		OneWire: OneWire{Enabled: true, Root: "/sys/bus/w1/devices"},
		Calibration: Calibration{
			Thermistors: []Thermistor{
				{Name: "motor_ntc", Channel: 0},
				{Name: "mcu_ntc", Channel: 1},
			},
			Rails: []Rail{
				{Name: "3v3_rail", Channel: 2, Ratio: 2.0},
				{Name: "5v_rail", Channel: 3, Ratio: 2.0},
			},
			SupplyChannel: sensor.DefaultSupplyReference.Channel,
			SupplyRatio:   sensor.DefaultSupplyReference.Ratio,
			SupplyVolts:   sensor.DefaultSupplyReference.Fallback,
		},
		Intervals: Intervals{
			Heartbeat:     time.Second,
			HealthReport:  5 * time.Second,
			MQTTPublish:   10 * time.Second,
			SensorRead:    5 * time.Second,
			FirmwareCheck: time.Hour,
			Loop:          10 * time.Millisecond,
		},
		Telemetry: Telemetry{BatchLimit: 8192},
		Motor: Motor{
			PWMPin:      "GPIO18",
			InAPin:      "GPIO23",
			InBPin:      "GPIO24",
			EnAPin:      "GPIO25",
			EnBPin:      "GPIO8",
			FrequencyHz: 20000,
			Deadtime:    2 * time.Millisecond,
		},
		LEDs:      LEDs{Green: 5, Red: 6, Orange: 13, Blue: 19},
		Store:     StoreConfig{Kind: StoreFile, Path: "/var/lib/fanmon/device.yaml"},
		Logging:   Logging{Level: "info", MaxSizeMB: 10, MaxBackups: 3, MaxAgeDays: 28},
		StatusAPI: StatusAPI{Listen: ":8080"},
	}
}

// Load reads path over the defaults. Keys missing from the file keep their
// default values.
func Load(path string) (Config, error) {
	c := Default()
	data, err := os.ReadFile(path)
	if err != nil {
		return c, fmt.Errorf("could not read config file %s: %w", path, err)
	}
	if err := yaml.Unmarshal(data, &c); err != nil {
		return c, fmt.Errorf("could not parse config file %s: %w: %w", path, fanmon.ErrInvalidValue, err)
	}
	return c, c.Validate()
}

// Validate checks what cannot be fixed by defaults.
func (c Config) Validate() error {
	seen := map[uint8]bool{}
	for _, b := range c.Buses {
		if seen[b.ID] {
			return fmt.Errorf("duplicate bus id %d: %w", b.ID, fanmon.ErrInvalidValue)
		}
		seen[b.ID] = true
		switch b.Backend {
		case BackendPeriph, BackendGobot, BackendMCP2221, BackendSim:
		default:
			return fmt.Errorf("bus %d: unknown backend %q: %w", b.ID, b.Backend, fanmon.ErrInvalidValue)
		}
	}
	switch c.Store.Kind {
	case StoreFile, StoreEEPROM, StoreMemory:
	default:
		return fmt.Errorf("unknown store kind %q: %w", c.Store.Kind, fanmon.ErrInvalidValue)
	}
	for _, t := range c.Calibration.Thermistors {
		if t.Model != "" && t.Model != "steinhart" && t.Model != "beta" {
			return fmt.Errorf("thermistor %s: unknown model %q: %w", t.Name, t.Model, fanmon.ErrInvalidValue)
		}
	}
	return nil
}

// Expansion converts the calibration section into the virtual sensors an
// ADS1115 spawns.
func (c Calibration) Expansion() sensor.Expansion {
	supply := sensor.SupplyReference{Channel: c.SupplyChannel, Ratio: c.SupplyRatio, Fallback: c.SupplyVolts}
	var e sensor.Expansion
	for _, t := range c.Thermistors {
		tc := sensor.ThermistorConfig{Name: t.Name, Channel: t.Channel, SeriesR: t.SeriesR, Supply: supply}
		switch t.Model {
		case "beta":
			b := sensor.DefaultBeta
			if t.R0 > 0 {
				b.R0 = t.R0
			}
			if t.T0C != 0 {
				b.T0C = t.T0C
			}
			if t.Beta > 0 {
				b.Coeff = t.Beta
			}
			tc.Model = b
		default:
			if t.A != 0 || t.B != 0 || t.C != 0 {
				tc.Model = sensor.SteinhartHart{A: t.A, B: t.B, C: t.C}
			}
		}
		e.Thermistors = append(e.Thermistors, tc)
	}
	for _, r := range c.Rails {
		e.Rails = append(e.Rails, sensor.RailConfig{Name: r.Name, Channel: r.Channel, Ratio: r.Ratio})
	}
	return e
}
