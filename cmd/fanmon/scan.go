package main

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/mklimuk/fanmon/app"
	"github.com/mklimuk/fanmon/cmd/fanmon/console"
	"github.com/mklimuk/fanmon/i2c/sim"
	"github.com/mklimuk/fanmon/sensor"
	"github.com/mklimuk/fanmon/statusapi"
	"github.com/mklimuk/fanmon/telemetry"
	"github.com/samber/lo"
	"github.com/urfave/cli/v2"
)

var scanCmd = &cli.Command{
	Name:  "scan",
	Usage: "scan the configured buses and list the discovered sensors",
	Action: func(c *cli.Context) error {
		buses, disc := discover(c)
		defer buses.Close()
		for _, b := range disc.Buses {
			if b.Err != nil {
				console.Warnf("bus %d: %v", b.BusID, b.Err)
				continue
			}
			console.PInfof(console.PictoBus, "bus %s: %d responding, unknown [%s], failed [%s]",
				console.White(b.BusID), len(b.Addresses), hexList(b.Unknown), hexList(b.Failed))
		}
		rows := lo.Map(statusapi.SensorsFrom(c.Context, disc.Sensors), func(s statusapi.SensorInfo, _ int) string {
			return fmt.Sprintf("%d\t%s\t%s\t%s\t%s\t%s", s.Bus, s.Address, s.Type, s.Measurement, s.Name, console.Status(s.Connected))
		})
		console.Table("BUS\tADDRESS\tTYPE\tMEASUREMENT\tNAME\tSTATUS", rows...)
		if len(buses.Failed) > 0 {
			return console.Exit(console.ExitBus, "buses not opened: %v", buses.Failed)
		}
		return nil
	},
}

var readCmd = &cli.Command{
	Name:  "read",
	Usage: "discover sensors and print readings",
	Flags: []cli.Flag{
		&cli.IntFlag{Name: "count", Aliases: []string{"n"}, Usage: "number of read cycles", Value: 1},
		&cli.DurationFlag{Name: "interval", Usage: "delay between cycles", Value: 5 * time.Second},
	},
	Action: func(c *cli.Context) error {
		buses, disc := discover(c)
		defer buses.Close()
		if disc.Sensors.Len() == 0 {
			return console.Exit(console.ExitBus, "no sensors found")
		}
		reporter := telemetry.NewReporter(disc.Sensors, telemetry.NewLogSink(console.Writer(), env.logger),
			telemetry.Identity{Device: "cli", ChipID: telemetry.ChipID(c.Context)},
			telemetry.WithLogger(env.logger),
		)
		for i := 0; i < c.Int("count"); i++ {
			if i > 0 {
				select {
				case <-c.Context.Done():
					return nil
				case <-time.After(c.Duration("interval")):
				}
			}
			res, err := reporter.Cycle(c.Context)
			if err != nil {
				return wrapBusError("read cycle failed", err)
			}
			console.PInfof(console.PictoThermometer, "cycle %d: %d records, %d failed", i+1, len(res.Records), res.Failed)
		}
		return nil
	},
}

func discover(c *cli.Context) (*app.Buses, sensor.Discovery) {
	var board *sim.Board
	if c.Bool("simulate") {
		board = sim.NewBoard()
	}
	ctx, cancel := context.WithTimeout(c.Context, time.Minute)
	defer cancel()
	buses := app.OpenBuses(ctx, env.cfg.Buses, board, env.logger)
	return buses, app.Discover(ctx, env.cfg, buses, env.logger)
}

func hexList(addrs []byte) string {
	return strings.Join(lo.Map(addrs, func(a byte, _ int) string { return fmt.Sprintf("0x%02x", a) }), " ")
}
