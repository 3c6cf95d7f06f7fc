// Package app wires the monitor together: the boot sequence, the periodic
// tasks and the superloop that runs them.
package app

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"

	"github.com/benbjohnson/clock"
	"github.com/go-git/go-billy/v5"
	"github.com/go-git/go-billy/v5/osfs"
	"github.com/mklimuk/fanmon/catalog"
	"github.com/mklimuk/fanmon/command"
	"github.com/mklimuk/fanmon/config"
	"github.com/mklimuk/fanmon/i2c/sim"
	"github.com/mklimuk/fanmon/led"
	"github.com/mklimuk/fanmon/logging"
	"github.com/mklimuk/fanmon/motor"
	"github.com/mklimuk/fanmon/mqtt"
	"github.com/mklimuk/fanmon/onewire"
	"github.com/mklimuk/fanmon/ota"
	"github.com/mklimuk/fanmon/power"
	"github.com/mklimuk/fanmon/scheduler"
	"github.com/mklimuk/fanmon/sensor"
	"github.com/mklimuk/fanmon/statusapi"
	"github.com/mklimuk/fanmon/telemetry"
	"go.uber.org/multierr"
	"periph.io/x/conn/v3/physic"
)

// Session is the broker connection used by the command channel.
type Session interface {
	Connect(ctx context.Context) error
	Connected() bool
	Publish(ctx context.Context, topic string, payload []byte) error
	Close(ctx context.Context) error
}

// Deps replace hardware and network collaborators. Zero values select the
// real implementations.
type Deps struct {
	Clock  clock.Clock
	Logger *slog.Logger
	// Mirror receives the session once connected so WARN+ logs reach the
	// status topic.
	Mirror *logging.MirrorHandler
	Store  config.Store
	// Board backs the sim bus backend.
	Board      *sim.Board
	LEDs       led.Backend
	MotorPins  *motor.Pins
	Sink       telemetry.Sink
	Host       telemetry.HostStats
	HTTPClient *http.Client
	ChipID     string
	NewSession func(mqtt.Options) (Session, error)
	// OneWireFS replaces the w1 sysfs tree.
	OneWireFS billy.Filesystem
}

type App struct {
	cfg   config.Config
	deps  Deps
	log   *slog.Logger
	clock clock.Clock

	device    *config.Manager
	leds      *led.Controller
	motor     *motor.Controller
	buses     *Buses
	discovery sensor.Discovery
	onewire   *onewire.Poller
	reporter  *telemetry.Reporter
	health    *telemetry.Health
	influx    *telemetry.InfluxSink
	session   Session
	queue     *command.Queue
	commands  *command.Handler
	ota       *ota.Checker
	state     *statusapi.State
	api       *statusapi.Server
	sched     *scheduler.Scheduler
	boot      telemetry.Boot
	closers   []io.Closer

	busFault       bool
	telemetryFault bool
}

func New(cfg config.Config, deps Deps) *App {
	if deps.Clock == nil {
		deps.Clock = clock.New()
	}
	if deps.Logger == nil {
		deps.Logger = slog.Default()
	}
	return &App{
		cfg:   cfg,
		deps:  deps,
		log:   deps.Logger.With("component", "app"),
		clock: deps.Clock,
		state: &statusapi.State{},
	}
}

// Boot brings the device up. Only a store that cannot be opened is fatal;
// every other failure is logged and the device runs degraded.
func (a *App) Boot(ctx context.Context) error {
	a.log.Info("booting", "version", a.cfg.Firmware.Version)
	if err := a.openStore(); err != nil {
		return err
	}
	a.openOutputs()
	a.buses = OpenBuses(ctx, a.cfg.Buses, a.deps.Board, a.deps.Logger)
	if len(a.buses.Failed) > 0 {
		a.busFault = true
		a.leds.SetFault(true)
	}
	a.discovery = Discover(ctx, a.cfg, a.buses, a.deps.Logger)
	a.openOneWire()
	a.openTelemetry(ctx)
	a.openCommands(ctx)
	a.reportBoot(ctx)
	a.openStatusAPI(ctx)
	a.registerTasks()
	a.log.Info("boot complete", "sensors", a.discovery.Sensors.Len(), "tasks", a.sched.Tasks())
	return nil
}

func (a *App) openStore() error {
	store := a.deps.Store
	if store == nil {
		var closer io.Closer
		var err error
		store, closer, err = OpenStore(a.cfg.Store)
		if err != nil {
			return err
		}
		if closer != nil {
			a.closers = append(a.closers, closer)
		}
	}
	a.device = config.NewManager(store, a.deps.Logger)
	if err := a.device.Begin(); err != nil {
		return fmt.Errorf("could not open device config: %w", err)
	}
	return nil
}

func (a *App) openOutputs() {
	backend := a.deps.LEDs
	if backend == nil {
		backend = led.Noop{}
		if a.cfg.LEDs.Enabled {
			rp, err := led.OpenRPIO()
			if err != nil {
				a.log.Warn("leds disabled", "error", err)
			} else {
				backend = rp
			}
		}
		a.deps.LEDs = backend
	}
	a.leds = led.New(backend, led.Wiring{
		led.Green:  a.cfg.LEDs.Green,
		led.Red:    a.cfg.LEDs.Red,
		led.Orange: a.cfg.LEDs.Orange,
		led.Blue:   a.cfg.LEDs.Blue,
	}, a.clock)

	var pins motor.Pins
	switch {
	case a.deps.MotorPins != nil:
		pins = *a.deps.MotorPins
	case a.cfg.Motor.Enabled:
		m := a.cfg.Motor
		p, err := motor.OpenPins(m.PWMPin, m.InAPin, m.InBPin, m.EnAPin, m.EnBPin)
		if err != nil {
			a.log.Error("motor pins unavailable, running without motor", "error", err)
		} else {
			pins = p
		}
	}
	opts := []motor.Opt{motor.WithClock(a.clock), motor.WithLogger(a.deps.Logger), motor.WithMinDuty(a.cfg.Motor.MinDuty)}
	if a.cfg.Motor.FrequencyHz > 0 {
		opts = append(opts, motor.WithFrequency(physic.Frequency(a.cfg.Motor.FrequencyHz)*physic.Hertz))
	}
	if a.cfg.Motor.Deadtime > 0 {
		opts = append(opts, motor.WithDeadtime(a.cfg.Motor.Deadtime))
	}
	a.motor = motor.New(pins, opts...)
	if err := a.motor.Begin(); err != nil {
		a.log.Error("motor init failed", "error", err)
	}
}

// Discover runs discovery over opened buses with the configured catalog.
func Discover(ctx context.Context, cfg config.Config, buses *Buses, logger *slog.Logger) sensor.Discovery {
	return sensor.NewDiscoverer(catalog.NewRegistry(CatalogOptions(cfg)), logger).Discover(ctx, buses.List)
}

// CatalogOptions maps the calibration section to descriptor options.
func CatalogOptions(cfg config.Config) catalog.Options {
	o := catalog.DefaultOptions()
	o.Expansion = cfg.Calibration.Expansion()
	if cfg.Calibration.ShuntOhms > 0 {
		o.INA226 = append(o.INA226, power.WithShunt(cfg.Calibration.ShuntOhms, cfg.Calibration.MaxCurrentA))
	}
	return o
}

func (a *App) openOneWire() {
	if !a.cfg.OneWire.Enabled {
		return
	}
	root := a.cfg.OneWire.Root
	fs := a.deps.OneWireFS
	if fs == nil {
		fs = osfs.New(root)
	}
	a.onewire = onewire.NewPoller(
		onewire.WithFS(fs),
		onewire.WithClock(a.clock),
		onewire.WithLogger(a.deps.Logger),
	)
	if err := a.onewire.Begin(); err != nil {
		a.log.Warn("onewire unavailable", "root", root, "error", err)
	}
}

func (a *App) chipID(ctx context.Context) string {
	switch {
	case a.deps.ChipID != "":
		return a.deps.ChipID
	case a.cfg.Device.ChipID != "":
		return a.cfg.Device.ChipID
	}
	return telemetry.ChipID(ctx)
}

func (a *App) openTelemetry(ctx context.Context) {
	dc := a.device.Get()
	sink := a.deps.Sink
	if sink == nil {
		sinks := telemetry.MultiSink{telemetry.NewHTTPSink(dc.APIInflux, a.deps.HTTPClient)}
		if in := a.cfg.Telemetry.Influx; in.URL != "" {
			a.influx = telemetry.NewInfluxSink(in.URL, in.Token, in.Org, in.Bucket)
			sinks = append(sinks, a.influx)
		}
		sink = sinks
	}
	id := telemetry.Identity{Device: dc.DeviceName, ChipID: a.chipID(ctx)}
	a.reporter = telemetry.NewReporter(a.discovery.Sensors, sink, id,
		telemetry.WithClock(a.clock),
		telemetry.WithBatchLimit(a.cfg.Telemetry.BatchLimit),
		telemetry.WithLogger(a.deps.Logger),
	)
	host := a.deps.Host
	if host == nil {
		host = telemetry.PSUtil{}
	}
	a.health = &telemetry.Health{
		Reporter:  a.reporter,
		Host:      host,
		Motor:     a.motor.Fields,
		Connected: a.connected,
	}
	a.ota = ota.NewChecker(dc.APIFirmware, id.ChipID, a.cfg.Firmware.Version, a.deps.HTTPClient, a.deps.Logger)
	a.ota.OnAvailable = func() { a.leds.SetUpdateAvailable(true) }
}

func (a *App) connected() bool {
	return a.session != nil && a.session.Connected()
}

func (a *App) openCommands(ctx context.Context) {
	dc := a.device.Get()
	topics := command.TopicsFor(dc)
	a.queue = command.NewQueue(command.DefaultQueueSize)
	newSession := a.deps.NewSession
	if newSession == nil {
		newSession = func(o mqtt.Options) (Session, error) { return mqtt.New(o) }
	}
	session, err := newSession(mqtt.Options{
		Server:   dc.MQTTServer,
		Port:     dc.MQTTPort,
		ClientID: mqtt.ClientID(dc.DeviceName),
		Topics:   topics.Subscriptions(),
		Handler: func(topic string, payload []byte) {
			if !a.queue.Push(command.Message{Topic: topic, Payload: payload}) {
				a.log.Warn("command queue full, message dropped", "topic", topic)
			}
		},
		Logger: a.deps.Logger,
	})
	if err != nil {
		a.log.Error("mqtt disabled", "error", err)
	} else {
		a.session = session
		if err := session.Connect(ctx); err != nil {
			a.log.Warn("mqtt not connected yet, retrying in background", "server", dc.MQTTServer, "error", err)
		}
	}
	var pub command.Publisher
	if a.session != nil {
		pub = a.session
		if a.deps.Mirror != nil {
			a.deps.Mirror.SetTopic(topics.Log)
			a.deps.Mirror.SetPublisher(a.session)
		}
	}
	a.commands = command.NewHandler(a.device, a.motor, pub, topics, a.deps.Logger)
}

func (a *App) reportBoot(ctx context.Context) {
	a.boot = telemetry.NewBoot(a.cfg.Firmware.Version)
	a.boot.SensorCount = a.discovery.Sensors.Len()
	a.boot.BusCount = len(a.buses.List)
	if a.onewire != nil {
		a.boot.OneWireCount = len(a.onewire.Devices())
	}
	if err := a.reporter.Report(ctx, a.boot.Record(a.reporter.Identity())); err != nil {
		a.log.Warn("boot report not delivered", "error", err)
	}
}

func (a *App) openStatusAPI(ctx context.Context) {
	a.state.SetSensors(statusapi.SensorsFrom(ctx, a.discovery.Sensors))
	a.state.SetConfig(a.device.Get())
	a.publishHealth()
	if a.cfg.StatusAPI.Listen == "" {
		return
	}
	a.api = statusapi.NewServer(a.cfg.StatusAPI.Listen, a.state, a.deps.Logger)
	a.api.Start()
}

func (a *App) publishHealth() {
	st := a.motor.Status()
	a.state.SetHealth(statusapi.Health{
		Uptime:        a.reporter.Uptime(),
		Motor:         st,
		MQTTConnected: a.connected(),
		Fault:         a.busFault || a.telemetryFault,
	})
}

// Close stops outputs and releases every resource.
func (a *App) Close(ctx context.Context) error {
	var err error
	if a.motor != nil {
		err = multierr.Append(err, a.motor.Halt())
	}
	if a.leds != nil {
		a.leds.Off()
		err = multierr.Append(err, a.deps.LEDs.Close())
	}
	if a.api != nil {
		err = multierr.Append(err, a.api.Shutdown(ctx))
	}
	if a.deps.Mirror != nil {
		a.deps.Mirror.SetPublisher(nil)
	}
	if a.session != nil {
		err = multierr.Append(err, a.session.Close(ctx))
	}
	if a.influx != nil {
		a.influx.Close()
	}
	if a.buses != nil {
		err = multierr.Append(err, a.buses.Close())
	}
	for _, c := range a.closers {
		err = multierr.Append(err, c.Close())
	}
	return err
}

// Run ticks the scheduler until ctx is cancelled.
func (a *App) Run(ctx context.Context) error {
	return a.sched.Run(ctx)
}

func (a *App) Scheduler() *scheduler.Scheduler {
	return a.sched
}

func (a *App) Discovery() sensor.Discovery {
	return a.discovery
}

func (a *App) State() *statusapi.State {
	return a.state
}

func (a *App) Motor() *motor.Controller {
	return a.motor
}

func (a *App) LEDs() *led.Controller {
	return a.leds
}

func (a *App) Reporter() *telemetry.Reporter {
	return a.reporter
}

func (a *App) Queue() *command.Queue {
	return a.queue
}
