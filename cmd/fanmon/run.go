package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/mklimuk/fanmon"
	"github.com/mklimuk/fanmon/app"
	"github.com/mklimuk/fanmon/cmd/fanmon/console"
	"github.com/mklimuk/fanmon/i2c/sim"
	"github.com/urfave/cli/v2"
)

const shutdownTimeout = 5 * time.Second

var runCmd = &cli.Command{
	Name:  "run",
	Usage: "boot the device and run the control loop",
	Action: func(c *cli.Context) error {
		ctx, stop := signal.NotifyContext(c.Context, os.Interrupt, syscall.SIGTERM)
		defer stop()

		a := app.New(env.cfg, deps(c))
		if err := a.Boot(ctx); err != nil {
			return console.Exit(console.ExitConfig, "boot failed: %v", err)
		}
		defer func() {
			sctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
			defer cancel()
			if err := a.Close(sctx); err != nil {
				env.logger.Warn("shutdown incomplete", "error", err)
			}
		}()
		err := a.Run(ctx)
		if err != nil && ctx.Err() == nil {
			return console.Exit(console.ExitError, "loop stopped: %v", err)
		}
		env.logger.Info("stopped")
		return nil
	},
}

func deps(c *cli.Context) app.Deps {
	d := app.Deps{
		Logger: env.logger,
		Mirror: env.mirror,
	}
	if c.Bool("simulate") {
		d.Board = sim.NewBoard()
		d.ChipID = "sim"
	}
	return d
}

// wrapBusError maps bus failures to their own exit code.
func wrapBusError(msg string, err error) error {
	if fanmon.IsBusError(err) {
		return console.Exit(console.ExitBus, "%s: %v", msg, err)
	}
	return console.Exit(console.ExitError, "%s: %v", msg, err)
}
