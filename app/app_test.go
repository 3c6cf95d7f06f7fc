package app

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/go-git/go-billy/v5/memfs"
	"github.com/go-git/go-billy/v5/util"
	"github.com/mklimuk/fanmon"
	"github.com/mklimuk/fanmon/config"
	"github.com/mklimuk/fanmon/i2c/sim"
	"github.com/mklimuk/fanmon/led"
	"github.com/mklimuk/fanmon/mqtt"
	"github.com/mklimuk/fanmon/onewire"
	"github.com/mklimuk/fanmon/sensor"
	"github.com/mklimuk/fanmon/telemetry"
	"github.com/samber/lo"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type recordingSink struct {
	mx      sync.Mutex
	err     error
	batches [][]telemetry.Record
}

func (s *recordingSink) Send(ctx context.Context, b *telemetry.Batch) error {
	s.mx.Lock()
	defer s.mx.Unlock()
	s.batches = append(s.batches, append([]telemetry.Record(nil), b.Records()...))
	return s.err
}

func (s *recordingSink) fail(err error) {
	s.mx.Lock()
	s.err = err
	s.mx.Unlock()
}

func (s *recordingSink) count() int {
	s.mx.Lock()
	defer s.mx.Unlock()
	return len(s.batches)
}

func (s *recordingSink) batch(i int) []telemetry.Record {
	s.mx.Lock()
	defer s.mx.Unlock()
	return s.batches[i]
}

func (s *recordingSink) measurements() []string {
	s.mx.Lock()
	defer s.mx.Unlock()
	var res []string
	for _, b := range s.batches {
		for _, r := range b {
			res = append(res, r.Measurement)
		}
	}
	return res
}

type fakeSession struct {
	opts      mqtt.Options
	connected bool
	published map[string][]string
}

func (f *fakeSession) Connect(ctx context.Context) error {
	f.connected = true
	return nil
}

func (f *fakeSession) Connected() bool { return f.connected }

func (f *fakeSession) Publish(ctx context.Context, topic string, payload []byte) error {
	f.published[topic] = append(f.published[topic], string(payload))
	return nil
}

func (f *fakeSession) Close(ctx context.Context) error {
	f.connected = false
	return nil
}

type staticHost sensor.Fields

func (s staticHost) Stats(ctx context.Context) (sensor.Fields, error) {
	return sensor.Fields(s), nil
}

type fakePin struct{ on bool }

func (p *fakePin) Set(on bool) { p.on = on }

type fakeLEDs map[int]*fakePin

func (f fakeLEDs) Pin(bcm int) led.Pin {
	p := &fakePin{}
	f[bcm] = p
	return p
}

func (fakeLEDs) Close() error { return nil }

type fixture struct {
	app     *App
	clock   *clock.Mock
	sink    *recordingSink
	session *fakeSession
	store   *config.MemoryStore
}

func testConfig() config.Config {
	cfg := config.Default()
	cfg.Buses = SimulatedBuses(cfg.Buses)
	cfg.OneWire.Enabled = false
	cfg.StatusAPI.Listen = ""
	cfg.Store = config.StoreConfig{Kind: config.StoreMemory}
	cfg.Firmware.Version = "1.2.3"
	return cfg
}

func newFixture(t *testing.T, cfg config.Config) *fixture {
	t.Helper()
	f := &fixture{
		clock:   clock.NewMock(),
		sink:    &recordingSink{},
		session: &fakeSession{published: map[string][]string{}},
		store:   config.NewMemoryStore(),
	}
	f.app = New(cfg, Deps{
		Clock:  f.clock,
		Store:  f.store,
		Board:  sim.NewBoard(),
		LEDs:   fakeLEDs{},
		Sink:   f.sink,
		Host:   staticHost{"free_heap": 1024.0},
		ChipID: "c0ffee",
		NewSession: func(o mqtt.Options) (Session, error) {
			f.session.opts = o
			return f.session, nil
		},
	})
	return f
}

func (f *fixture) boot(t *testing.T) {
	t.Helper()
	require.NoError(t, f.app.Boot(context.Background()))
	t.Cleanup(func() { _ = f.app.Close(context.Background()) })
}

func TestBoot_SimulatedBoard(t *testing.T) {
	f := newFixture(t, testConfig())
	f.boot(t)

	types := lo.Map(f.app.Discovery().Sensors.All(), func(i sensor.Instance, _ int) string { return i.TypeName() })
	assert.Contains(t, types, "INA226")
	assert.Contains(t, types, "Thermistor")
	assert.Contains(t, types, "AHT20")
	assert.True(t, f.app.Discovery().Sensors.Frozen())

	require.NotEmpty(t, f.sink.batches)
	boot := f.sink.batches[0][0]
	assert.Equal(t, telemetry.MeasurementBoot, boot.Measurement)
	assert.Equal(t, "c0ffee", boot.Tag("chip_id"))

	assert.Equal(t, []string{
		TaskHeartbeat, TaskCommands, TaskMotor,
		TaskSensors, TaskHealth, TaskStatus, TaskFirmware,
	}, f.app.Scheduler().Tasks())
	assert.Equal(t, []string{"device/fan/power", "device/fan1/config"}, f.session.opts.Topics)
	assert.False(t, f.app.LEDs().Level(led.Red))
}

func TestBoot_StoreFailure(t *testing.T) {
	cfg := testConfig()
	f := newFixture(t, cfg)
	f.store.OpenErr = errors.New("no flash")
	err := f.app.Boot(context.Background())
	assert.Error(t, err)
	assert.Nil(t, f.app.Scheduler())
}

func TestBoot_BusFailureLatchesFault(t *testing.T) {
	cfg := testConfig()
	cfg.Buses = append(cfg.Buses, config.Bus{ID: 7, Backend: config.BackendGobot, Device: "not-a-number"})
	f := newFixture(t, cfg)
	f.boot(t)

	assert.True(t, f.app.LEDs().Level(led.Red))
	assert.True(t, f.app.State().Health().Fault)
	assert.Contains(t, f.app.Discovery().Sensors.All()[0].TypeName(), "INA226")
}

func TestLoop_SensorCycleAndHealth(t *testing.T) {
	f := newFixture(t, testConfig())
	f.boot(t)
	ctx := context.Background()

	f.clock.Add(5 * time.Second)
	f.app.Scheduler().Tick(ctx)

	assert.Equal(t, 1, f.app.Scheduler().Runs(TaskSensors))
	assert.Equal(t, 1, f.app.Scheduler().Runs(TaskHealth))
	measurements := f.sink.measurements()
	assert.Contains(t, measurements, "power")
	assert.Contains(t, measurements, telemetry.MeasurementHealth)
	assert.NotEmpty(t, f.app.State().Readings())
	assert.EqualValues(t, 5000, f.app.State().Health().UptimeMS)
	assert.True(t, f.app.State().Health().MQTTConnected)
}

func TestLoop_SinkFailureSetsFault(t *testing.T) {
	f := newFixture(t, testConfig())
	f.boot(t)
	ctx := context.Background()

	f.sink.fail(fanmon.ErrConnectionFailed)
	f.clock.Add(5 * time.Second)
	f.app.Scheduler().Tick(ctx)
	assert.True(t, f.app.LEDs().Level(led.Red))
	assert.True(t, f.app.State().Health().Fault)

	f.sink.fail(nil)
	f.clock.Add(5 * time.Second)
	f.app.Scheduler().Tick(ctx)
	assert.False(t, f.app.LEDs().Level(led.Red))
	assert.False(t, f.app.State().Health().Fault)
}

func TestLoop_PowerCommand(t *testing.T) {
	f := newFixture(t, testConfig())
	f.boot(t)

	f.session.opts.Handler("device/fan/power", []byte("0.5"))
	assert.Zero(t, f.app.Motor().Power(), "handled on the loop only")

	f.app.Scheduler().Tick(context.Background())
	assert.InDelta(t, 0.5, f.app.Motor().Power(), 1e-9)
	assert.Equal(t, []string{"0.500"}, f.session.published["device/fan/power/status"])
	assert.True(t, f.app.LEDs().Level(led.Blue))
}

func TestLoop_ConfigCommandUpdatesState(t *testing.T) {
	f := newFixture(t, testConfig())
	f.boot(t)

	f.session.opts.Handler("device/fan1/config", []byte(`{"cmd":"set_device_name","name":"attic"}`))
	f.app.Scheduler().Tick(context.Background())

	assert.Equal(t, []string{"OK: device name set to attic"}, f.session.published["device/fan1/config/status"])
	assert.Equal(t, "attic", f.app.State().Config().DeviceName)
}

func TestLoop_DisconnectedFlashesRed(t *testing.T) {
	f := newFixture(t, testConfig())
	f.boot(t)
	ctx := context.Background()

	f.session.connected = false
	f.app.Scheduler().Tick(ctx)
	assert.True(t, f.app.LEDs().Level(led.Red))
	f.clock.Add(led.FaultFlash)
	f.app.Scheduler().Tick(ctx)
	assert.False(t, f.app.LEDs().Level(led.Red))
}

func TestCatalogOptions(t *testing.T) {
	cfg := config.Default()
	cfg.Calibration.ShuntOhms = 0.01
	cfg.Calibration.MaxCurrentA = 8
	o := CatalogOptions(cfg)
	assert.Len(t, o.INA226, 1)
	assert.Len(t, o.Expansion.Thermistors, 2)
}

func TestSimulatedBuses(t *testing.T) {
	got := SimulatedBuses([]config.Bus{{ID: 1, Backend: config.BackendPeriph, Device: "/dev/i2c-1", MuxAddress: 0x70}})
	assert.Equal(t, []config.Bus{{ID: 1, Backend: config.BackendSim, Device: "sim1"}}, got)
}

func TestLoop_OneWireJoinsSensorCycle(t *testing.T) {
	fs := memfs.New()
	require.NoError(t, util.WriteFile(fs, "/w1_bus_master1/therm_bulk_read", []byte("0\n"), 0o644))
	require.NoError(t, util.WriteFile(fs, "/w1_bus_master1/28-00000a1b2c3d/temperature", []byte("21500\n"), 0o644))

	cfg := testConfig()
	cfg.OneWire.Enabled = true
	cfg.Intervals.HealthReport = time.Hour
	f := newFixture(t, cfg)
	f.app.deps.OneWireFS = fs
	f.boot(t)
	ctx := context.Background()
	assert.NotContains(t, f.app.Scheduler().Tasks(), "onewire")

	// loop ticks between cycles never touch the sink
	before := f.sink.count()
	for range 10 {
		f.clock.Add(100 * time.Millisecond)
		f.app.Scheduler().Tick(ctx)
	}
	assert.Equal(t, before, f.sink.count())

	// first cycle requests the conversion
	f.clock.Add(4 * time.Second)
	f.app.Scheduler().Tick(ctx)
	require.Equal(t, before+1, f.sink.count())
	assert.NotContains(t, f.sink.measurements(), onewire.MeasurementOneWire)
	assert.Equal(t, onewire.Requested, f.app.onewire.State())

	// next cycle collects it into the same flush as the bus sensors
	f.clock.Add(5 * time.Second)
	f.app.Scheduler().Tick(ctx)
	require.Equal(t, before+2, f.sink.count())
	measurements := lo.Map(f.sink.batch(before+1), func(r telemetry.Record, _ int) string { return r.Measurement })
	assert.Contains(t, measurements, "power")
	assert.Contains(t, measurements, onewire.MeasurementOneWire)
	assert.Equal(t, onewire.Idle, f.app.onewire.State())
}
