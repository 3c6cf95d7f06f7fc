package telemetry

import (
	"context"
	"fmt"

	"github.com/mklimuk/fanmon/sensor"
	"github.com/samber/lo"
	"github.com/shirou/gopsutil/v3/host"
	"github.com/shirou/gopsutil/v3/load"
	"github.com/shirou/gopsutil/v3/mem"
)

// HostStats reports host level health fields.
type HostStats interface {
	Stats(ctx context.Context) (sensor.Fields, error)
}

var _ HostStats = PSUtil{}

// PSUtil reads memory, load and temperatures of the host.
type PSUtil struct{}

func (PSUtil) Stats(ctx context.Context) (sensor.Fields, error) {
	f := sensor.Fields{}
	vm, err := mem.VirtualMemoryWithContext(ctx)
	if err != nil {
		return f, fmt.Errorf("could not read memory stats: %w", err)
	}
	f.SetInt("free_heap", int64(vm.Available))
	f.SetFloat("mem_used_percent", vm.UsedPercent)
	if avg, err := load.AvgWithContext(ctx); err == nil {
		f.SetFloat("load1", avg.Load1)
	}
	// sensor enumeration fails partially on many boards; keep what was read
	temps, _ := host.SensorsTemperaturesWithContext(ctx)
	if len(temps) > 0 {
		hottest := lo.MaxBy(temps, func(a, b host.TemperatureStat) bool { return a.Temperature > b.Temperature })
		f.SetFloat("mcu_internal_temp_c", hottest.Temperature)
	}
	return f, nil
}

// ChipID returns the host id used as the chip_id tag.
func ChipID(ctx context.Context) string {
	id, err := host.HostIDWithContext(ctx)
	if err != nil || id == "" {
		return "unknown"
	}
	return id
}

// copied maps a field of the latest cycle to a health field.
type copied struct {
	measurement string
	name        string
	field       string
	to          string
}

var healthCopies = []copied{
	{measurement: "thermistor", name: "motor_ntc", field: "temp_c", to: "motor_temp_c"},
	{measurement: "thermistor", name: "mcu_ntc", field: "temp_c", to: "mcu_external_temp_c"},
	{measurement: "voltage_rail", name: "3v3_rail", field: "voltage", to: "rail_3v3"},
	{measurement: "voltage_rail", name: "5v_rail", field: "voltage", to: "rail_5v"},
	{measurement: "power", field: "v_in", to: "v_in"},
	{measurement: "power", field: "i_in", to: "i_in"},
	{measurement: "power", field: "p_in", to: "p_in"},
}

// CycleHealthFields picks the board level values out of the latest cycle.
// The first matching record wins.
func CycleHealthFields(records []Record) sensor.Fields {
	f := sensor.Fields{}
	for _, c := range healthCopies {
		rec, ok := lo.Find(records, func(r Record) bool {
			if r.Measurement != c.measurement {
				return false
			}
			if c.name != "" && r.Tag("name") != c.name {
				return false
			}
			_, has := r.Fields[c.field]
			return has
		})
		if ok {
			f[c.to] = rec.Fields[c.field]
		}
	}
	return f
}

// Health builds the periodic health record.
type Health struct {
	Reporter *Reporter
	Host     HostStats
	// Motor returns the motor status fields.
	Motor func() sensor.Fields
	// Connected reports the MQTT session state.
	Connected func() bool
}

func (h *Health) Record(ctx context.Context) Record {
	f := sensor.Fields{}
	if h.Motor != nil {
		f.Merge(h.Motor())
	}
	if h.Host != nil {
		stats, err := h.Host.Stats(ctx)
		if err != nil {
			h.Reporter.log.Debug("host stats unavailable", "error", err)
		}
		f.Merge(stats)
	}
	if h.Connected != nil {
		f.SetBool("mqtt_connected", h.Connected())
	}
	f.Merge(CycleHealthFields(h.Reporter.Last()))
	return Record{Measurement: MeasurementHealth, Tags: h.Reporter.Tags(), Fields: f, Time: h.Reporter.clock.Now()}
}

// Report sends the health record on its own batch.
func (h *Health) Report(ctx context.Context) error {
	return h.Reporter.Report(ctx, h.Record(ctx))
}
