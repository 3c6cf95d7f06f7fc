package sensor

import (
	"context"
	"fmt"

	"github.com/mklimuk/fanmon"
)

// ChannelSource is a multi-channel converter instance virtual sensors read from.
type ChannelSource interface {
	Instance
	ReadChannel(ctx context.Context, channel int) (float64, error)
}

// SupplyReference tells a thermistor where to measure the divider supply.
type SupplyReference struct {
	Channel  int
	Ratio    float64
	Fallback float64
}

var DefaultSupplyReference = SupplyReference{Channel: 2, Ratio: 2.0, Fallback: 3.3}

// ThermistorConfig describes one NTC on a converter channel.
type ThermistorConfig struct {
	Name    string
	Channel int
	SeriesR float64
	Model   ThermistorModel
	Supply  SupplyReference
	Range   Range
}

// RailConfig describes one divided-down voltage rail on a converter channel.
type RailConfig struct {
	Name    string
	Channel int
	Ratio   float64
}

// virtual holds what both virtual kinds share: a reference to the parent
// instance that owns the converter. The parent is appended to the collection
// before its children and is never removed.
type virtual struct {
	parent  ChannelSource
	channel int
	name    string
}

func (v *virtual) Name() string           { return v.name }
func (v *virtual) BusID() uint8           { return v.parent.BusID() }
func (v *virtual) Address() byte          { return v.parent.Address() }
func (v *virtual) Serial() (uint64, bool) { return 0, false }
func (v *virtual) Channel() int           { return v.channel }

func (v *virtual) IsConnected(ctx context.Context) bool {
	return v.parent != nil && v.parent.IsConnected(ctx)
}

func (v *virtual) NeedsPostProcessing() bool              { return false }
func (v *virtual) CreatePostProcessedSensors() []Instance { return nil }

func (v *virtual) readChannel(ctx context.Context, ch int) (float64, error) {
	if v.parent == nil {
		return 0, fanmon.ErrNotInitialized
	}
	volts, err := v.parent.ReadChannel(ctx, ch)
	if err != nil {
		return 0, fmt.Errorf("%s channel %d: %w: %w", v.name, ch, fanmon.ErrReadFailed, err)
	}
	return volts, nil
}

var _ Instance = &Thermistor{}

// Thermistor computes temperature from an NTC divider on a converter channel.
type Thermistor struct {
	virtual
	cfg ThermistorConfig
}

func NewThermistor(parent ChannelSource, cfg ThermistorConfig) *Thermistor {
	if cfg.Model == nil {
		cfg.Model = DefaultSteinhartHart
	}
	if cfg.SeriesR == 0 {
		cfg.SeriesR = 10000
	}
	if cfg.Supply.Ratio == 0 {
		cfg.Supply = DefaultSupplyReference
	}
	if cfg.Range == (Range{}) {
		cfg.Range = DefaultTempRange
	}
	return &Thermistor{
		virtual: virtual{parent: parent, channel: cfg.Channel, name: cfg.Name},
		cfg:     cfg,
	}
}

func (t *Thermistor) TypeName() string    { return "Thermistor" }
func (t *Thermistor) Measurement() string { return "thermistor" }

func (t *Thermistor) ReadFields(ctx context.Context) (Fields, error) {
	volts, err := t.readChannel(ctx, t.channel)
	if err != nil {
		return nil, err
	}
	supply := t.cfg.Supply.Fallback
	ref, err := t.readChannel(ctx, t.cfg.Supply.Channel)
	if err == nil {
		supply = ref * t.cfg.Supply.Ratio
	}
	resistance := DividerResistance(t.cfg.SeriesR, volts, supply)
	tempC := t.cfg.Model.TempC(resistance)

	f := Fields{}
	f.SetFloat("temp_c", tempC)
	f.SetFloat("resistance", resistance)
	f.SetFloat("voltage", volts)
	f.SetBool("in_range", t.cfg.Range.Contains(tempC))
	return f, nil
}

var _ Instance = &VoltageRail{}

// VoltageRail reports a rail voltage measured through a resistor divider.
type VoltageRail struct {
	virtual
	ratio float64
}

func NewVoltageRail(parent ChannelSource, cfg RailConfig) *VoltageRail {
	if cfg.Ratio == 0 {
		cfg.Ratio = 1
	}
	return &VoltageRail{
		virtual: virtual{parent: parent, channel: cfg.Channel, name: cfg.Name},
		ratio:   cfg.Ratio,
	}
}

func (r *VoltageRail) TypeName() string    { return "VoltageRail" }
func (r *VoltageRail) Measurement() string { return "voltage_rail" }

func (r *VoltageRail) ReadFields(ctx context.Context) (Fields, error) {
	volts, err := r.readChannel(ctx, r.channel)
	if err != nil {
		return nil, err
	}
	f := Fields{}
	f.SetFloat("voltage", volts*r.ratio)
	return f, nil
}

// Expansion lists the virtual sensors a converter spawns after detection.
type Expansion struct {
	Thermistors []ThermistorConfig
	Rails       []RailConfig
}

// DefaultExpansion is the board wiring: two NTCs and two rails behind 2:1 dividers.
var DefaultExpansion = Expansion{
	Thermistors: []ThermistorConfig{
		{Name: "motor_ntc", Channel: 0},
		{Name: "mcu_ntc", Channel: 1},
	},
	Rails: []RailConfig{
		{Name: "3v3_rail", Channel: 2, Ratio: 2.0},
		{Name: "5v_rail", Channel: 3, Ratio: 2.0},
	},
}

func (e Expansion) Size() int {
	return len(e.Thermistors) + len(e.Rails)
}

// Build creates the virtual sensors, thermistors first, bound to parent.
func (e Expansion) Build(parent ChannelSource) []Instance {
	res := make([]Instance, 0, e.Size())
	for _, t := range e.Thermistors {
		res = append(res, NewThermistor(parent, t))
	}
	for _, r := range e.Rails {
		res = append(res, NewVoltageRail(parent, r))
	}
	return res
}
