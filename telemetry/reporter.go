package telemetry

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"sync"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/mklimuk/fanmon/sensor"
	"go.uber.org/multierr"
)

// Identity is attached to every record as the device and chip_id tags.
type Identity struct {
	Device string
	ChipID string
}

type ReporterOpts struct {
	Clock      clock.Clock
	BatchLimit int
	Logger     *slog.Logger
}

type ReporterOpt func(*ReporterOpts)

func WithClock(clk clock.Clock) ReporterOpt {
	return func(o *ReporterOpts) { o.Clock = clk }
}

func WithBatchLimit(limit int) ReporterOpt {
	return func(o *ReporterOpts) { o.BatchLimit = limit }
}

func WithLogger(l *slog.Logger) ReporterOpt {
	return func(o *ReporterOpts) { o.Logger = l }
}

// CycleResult summarizes one read/report cycle.
type CycleResult struct {
	Records []Record
	// Failed counts instances whose read returned an error.
	Failed int
	// Skipped counts instances that reported not connected.
	Skipped int
	Flushes int
}

// Reporter runs the read/report cycle over a frozen collection.
type Reporter struct {
	mx      sync.Mutex
	sensors *sensor.Collection
	sink    Sink
	id      Identity
	clock   clock.Clock
	started time.Time
	batch   *Batch
	log     *slog.Logger
	last    []Record
	lastErr error
	flushes int
}

func NewReporter(sensors *sensor.Collection, sink Sink, id Identity, opts ...ReporterOpt) *Reporter {
	o := ReporterOpts{BatchLimit: DefaultBatchLimit}
	for _, opt := range opts {
		opt(&o)
	}
	if o.Clock == nil {
		o.Clock = clock.New()
	}
	if o.Logger == nil {
		o.Logger = slog.Default()
	}
	if sensors == nil {
		sensors = sensor.NewCollection()
	}
	return &Reporter{
		sensors: sensors,
		sink:    sink,
		id:      id,
		clock:   o.Clock,
		started: o.Clock.Now(),
		batch:   NewBatch(o.BatchLimit),
		log:     o.Logger.With("component", "telemetry"),
	}
}

func (r *Reporter) Identity() Identity {
	return r.id
}

// Uptime is the time since the reporter was created.
func (r *Reporter) Uptime() time.Duration {
	return r.clock.Since(r.started)
}

// Tags returns the identity tags shared by all records.
func (r *Reporter) Tags() map[string]string {
	return map[string]string{"device": r.id.Device, "chip_id": r.id.ChipID}
}

// InstanceRecord builds the record of one instance read.
func (r *Reporter) InstanceRecord(inst sensor.Instance, fields sensor.Fields) Record {
	tags := r.Tags()
	tags["bus_id"] = strconv.Itoa(int(inst.BusID()))
	tags["address"] = fmt.Sprintf("0x%02x", inst.Address())
	if serial, ok := inst.Serial(); ok {
		tags["serial"] = strconv.FormatUint(serial, 16)
	}
	if name := inst.Name(); name != "" {
		tags["name"] = name
	}
	return Record{Measurement: inst.Measurement(), Tags: tags, Fields: fields, Time: r.clock.Now()}
}

// Cycle reads every connected instance once, in collection order, appends
// extra records gathered elsewhere during the same tick and flushes once at
// the end. Read failures are logged and skipped. The returned error is the
// sink failure, if any. A cancelled cycle drops what it batched.
func (r *Reporter) Cycle(ctx context.Context, extra ...Record) (CycleResult, error) {
	var res CycleResult
	var err error
	for _, inst := range r.sensors.All() {
		if ctx.Err() != nil {
			r.batch.Reset()
			r.finish(res.Records, ctx.Err())
			return res, ctx.Err()
		}
		if !inst.IsConnected(ctx) {
			res.Skipped++
			r.log.Debug("sensor not connected", "type", inst.TypeName(), "bus", inst.BusID(), "address", fmt.Sprintf("0x%02x", inst.Address()))
			continue
		}
		fields, rerr := inst.ReadFields(ctx)
		if rerr != nil {
			res.Failed++
			r.log.Warn("sensor read failed", "type", inst.TypeName(), "bus", inst.BusID(), "address", fmt.Sprintf("0x%02x", inst.Address()), "error", rerr)
			continue
		}
		if len(fields) == 0 {
			continue
		}
		rec := r.InstanceRecord(inst, fields)
		err = multierr.Append(err, r.add(ctx, rec, &res.Flushes))
		res.Records = append(res.Records, rec)
	}
	for _, rec := range extra {
		if rec.Tags == nil {
			rec.Tags = r.Tags()
		}
		err = multierr.Append(err, r.add(ctx, rec, &res.Flushes))
		res.Records = append(res.Records, rec)
	}
	err = multierr.Append(err, r.flush(ctx, &res.Flushes))
	r.finish(res.Records, err)
	return res, err
}

func (r *Reporter) finish(records []Record, err error) {
	r.mx.Lock()
	defer r.mx.Unlock()
	r.last = records
	r.lastErr = err
}

// Report adds records built elsewhere and flushes them.
func (r *Reporter) Report(ctx context.Context, records ...Record) error {
	var err error
	var flushes int
	for _, rec := range records {
		if rec.Tags == nil {
			rec.Tags = r.Tags()
		}
		err = multierr.Append(err, r.add(ctx, rec, &flushes))
	}
	return multierr.Append(err, r.flush(ctx, &flushes))
}

// Last returns the records of the latest cycle.
func (r *Reporter) Last() []Record {
	r.mx.Lock()
	defer r.mx.Unlock()
	return append([]Record(nil), r.last...)
}

// LastError is the sink error of the latest cycle.
func (r *Reporter) LastError() error {
	r.mx.Lock()
	defer r.mx.Unlock()
	return r.lastErr
}

// Flushes counts batches sent since start.
func (r *Reporter) Flushes() int {
	r.mx.Lock()
	defer r.mx.Unlock()
	return r.flushes
}

func (r *Reporter) add(ctx context.Context, rec Record, flushes *int) error {
	if rec.Fields == nil {
		rec.Fields = sensor.Fields{}
	} else {
		rec.Fields = sensor.Fields{}.Merge(rec.Fields)
	}
	rec.Fields.SetInt(FieldUptime, r.Uptime().Milliseconds())
	err := r.batch.Add(rec)
	if !errors.Is(err, ErrBatchFull) {
		return err
	}
	ferr := r.flush(ctx, flushes)
	return multierr.Append(ferr, r.batch.Add(rec))
}

// flush sends the pending batch. The batch is dropped on failure.
func (r *Reporter) flush(ctx context.Context, flushes *int) error {
	if r.batch.Len() == 0 {
		return nil
	}
	defer r.batch.Reset()
	*flushes++
	r.mx.Lock()
	r.flushes++
	r.mx.Unlock()
	if r.sink == nil {
		return nil
	}
	err := r.sink.Send(ctx, r.batch)
	if err != nil {
		r.log.Warn("telemetry flush failed", "records", r.batch.Len(), "bytes", r.batch.Size(), "error", err)
	}
	return err
}
