package sensor

import (
	"context"
	"fmt"
	"log/slog"
	"slices"

	"github.com/mklimuk/fanmon"
)

// BusResult records what discovery saw on one bus.
type BusResult struct {
	BusID     uint8
	Addresses []byte
	// Unknown addresses matched no descriptor.
	Unknown []byte
	// Failed addresses had candidates but every factory failed.
	Failed []byte
	Err    error
}

// Discovery is the outcome of a discovery run.
type Discovery struct {
	Sensors *Collection
	Buses   []BusResult
}

// Discoverer scans buses and builds the sensor collection.
type Discoverer struct {
	registry *Registry
	logger   *slog.Logger
}

func NewDiscoverer(registry *Registry, logger *slog.Logger) *Discoverer {
	if logger == nil {
		logger = slog.Default()
	}
	return &Discoverer{registry: registry, logger: logger.With("component", "discovery")}
}

// Discover walks buses in the given order. Per-bus and per-device failures
// are logged and never abort the run. The returned collection is frozen.
func (d *Discoverer) Discover(ctx context.Context, buses []fanmon.Bus) Discovery {
	d.registry.Seal()
	res := Discovery{Sensors: NewCollection()}
	for _, bus := range buses {
		if ctx.Err() != nil {
			break
		}
		res.Buses = append(res.Buses, d.discoverBus(ctx, bus, res.Sensors))
	}
	res.Sensors.Freeze()
	d.logSummary(res)
	return res
}

func (d *Discoverer) discoverBus(ctx context.Context, bus fanmon.Bus, sensors *Collection) BusResult {
	log := d.logger.With("bus", bus.ID())
	br := BusResult{BusID: bus.ID()}
	_, err := bus.Select(ctx)
	if err != nil {
		log.Error("could not select bus", "error", err)
		br.Err = err
		return br
	}
	addrs, err := bus.Scan(ctx)
	if err != nil {
		log.Error("bus scan failed", "error", err)
		br.Err = err
		return br
	}
	addrs = slices.Clone(addrs)
	slices.Sort(addrs)
	br.Addresses = addrs
	log.Info("bus scanned", "devices", len(addrs))

	for _, addr := range addrs {
		candidates := d.registry.FindByAddress(addr)
		if len(candidates) == 0 {
			log.Info("unknown device", "address", hexAddr(addr))
			br.Unknown = append(br.Unknown, addr)
			continue
		}
		inst := d.trial(ctx, log, bus, addr, candidates)
		if inst == nil {
			log.Warn("all attempts failed", "address", hexAddr(addr), "candidates", len(candidates))
			br.Failed = append(br.Failed, addr)
			continue
		}
		sensors.Append(inst)
		log.Info("sensor detected", "type", inst.TypeName(), "address", hexAddr(addr))
		if !inst.NeedsPostProcessing() {
			continue
		}
		children := inst.CreatePostProcessedSensors()
		for _, child := range children {
			sensors.Append(child)
		}
		log.Info("post-processed sensors created", "type", inst.TypeName(), "address", hexAddr(addr), "count", len(children))
	}
	return br
}

// trial runs candidate factories in registration order; the first success wins.
func (d *Discoverer) trial(ctx context.Context, log *slog.Logger, bus fanmon.Bus, addr byte, candidates []Descriptor) Instance {
	for _, desc := range candidates {
		inst, err := desc.Factory(ctx, bus, addr)
		if err != nil || inst == nil {
			log.Debug("factory failed", "type", desc.TypeName, "address", hexAddr(addr), "error", err)
			continue
		}
		return inst
	}
	return nil
}

func (d *Discoverer) logSummary(res Discovery) {
	d.logger.Info("discovery complete", "sensors", res.Sensors.Len(), "buses", len(res.Buses))
	for _, row := range res.Sensors.Summary() {
		d.logger.Info("discovered", "type", row.TypeName, "count", row.Count)
	}
}

func hexAddr(addr byte) string {
	return fmt.Sprintf("0x%02x", addr)
}
