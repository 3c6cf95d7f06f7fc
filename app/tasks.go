package app

import (
	"context"

	"github.com/mklimuk/fanmon/command"
	"github.com/mklimuk/fanmon/onewire"
	"github.com/mklimuk/fanmon/scheduler"
	"github.com/mklimuk/fanmon/telemetry"
	"github.com/samber/lo"
)

// Task names.
const (
	TaskHeartbeat = "heartbeat"
	TaskCommands  = "commands"
	TaskMotor     = "motor"
	TaskSensors   = "sensor_read"
	TaskHealth    = "health_report"
	TaskStatus    = "mqtt_publish"
	TaskFirmware  = "fw_check"
)

func (a *App) registerTasks() {
	iv := a.cfg.Intervals
	a.sched = scheduler.New(
		scheduler.WithClock(a.clock),
		scheduler.WithLogger(a.deps.Logger),
		scheduler.WithPeriod(iv.Loop),
	)
	a.sched.AddNow(TaskHeartbeat, iv.Heartbeat, a.heartbeat)
	a.sched.AddNow(TaskCommands, 0, a.drainCommands)
	a.sched.AddNow(TaskMotor, 0, a.updateOutputs)
	a.sched.Add(TaskSensors, iv.SensorRead, a.readSensors)
	a.sched.Add(TaskHealth, iv.HealthReport, a.reportHealth)
	a.sched.Add(TaskStatus, iv.MQTTPublish, a.publishStatus)
	a.sched.Add(TaskFirmware, iv.FirmwareCheck, a.ota.Run)
}

func (a *App) heartbeat(context.Context) error {
	a.leds.Heartbeat()
	return nil
}

// drainCommands handles queued broker messages on the loop goroutine.
func (a *App) drainCommands(ctx context.Context) error {
	n := a.queue.Drain(func(m command.Message) { a.commands.Handle(ctx, m) })
	if n > 0 {
		a.state.SetConfig(a.device.Get())
	}
	return nil
}

func (a *App) updateOutputs(context.Context) error {
	err := a.motor.Update()
	a.leds.SetMotor(a.motor.Power() > 0)
	a.leds.SetConnected(a.session == nil || a.connected())
	a.leds.Update()
	return err
}

// oneWireRecords advances the conversion once per sensor cycle: one cycle
// requests it, a later one collects the result.
func (a *App) oneWireRecords() []telemetry.Record {
	if a.onewire == nil {
		return nil
	}
	readings := a.onewire.Tick()
	if len(readings) == 0 {
		return nil
	}
	now := a.clock.Now()
	return lo.Map(readings, func(r onewire.Reading, _ int) telemetry.Record {
		return telemetry.Record{
			Measurement: onewire.MeasurementOneWire,
			Tags:        lo.Assign(a.reporter.Tags(), r.Tags()),
			Fields:      r.Fields(),
			Time:        now,
		}
	})
}

func (a *App) readSensors(ctx context.Context) error {
	res, err := a.reporter.Cycle(ctx, a.oneWireRecords()...)
	a.telemetryFault = err != nil
	a.leds.SetFault(a.busFault || a.telemetryFault)
	a.state.SetReadings(res.Records)
	if res.Failed > 0 || res.Skipped > 0 {
		a.log.Debug("sensor cycle incomplete", "records", len(res.Records), "failed", res.Failed, "skipped", res.Skipped)
	}
	return err
}

func (a *App) reportHealth(ctx context.Context) error {
	err := a.health.Report(ctx)
	a.publishHealth()
	return err
}

func (a *App) publishStatus(ctx context.Context) error {
	a.commands.PublishStatus(ctx)
	return nil
}
