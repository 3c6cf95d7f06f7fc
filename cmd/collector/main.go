package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/mklimuk/fanmon/cmd/collector/server"
	"github.com/mklimuk/fanmon/logging"
	"github.com/mklimuk/fanmon/telemetry"
	"github.com/urfave/cli/v2"
)

var version string

func main() {
	a := cli.NewApp()
	a.Name = "collector"
	a.Version = version
	a.Usage = "development telemetry and firmware update endpoint"
	a.Flags = []cli.Flag{
		&cli.StringFlag{Name: "listen", Value: ":8086", Usage: "address to listen on"},
		&cli.StringFlag{Name: "latest", Usage: "firmware version devices should run", EnvVars: []string{"COLLECTOR_LATEST"}},
		&cli.IntFlag{Name: "retain", Value: server.DefaultRetain, Usage: "records kept in memory"},
		&cli.StringFlag{Name: "influx-url", EnvVars: []string{"INFLUX_URL"}},
		&cli.StringFlag{Name: "influx-token", EnvVars: []string{"INFLUX_TOKEN"}},
		&cli.StringFlag{Name: "influx-org", EnvVars: []string{"INFLUX_ORG"}},
		&cli.StringFlag{Name: "influx-bucket", Value: "fanmon", EnvVars: []string{"INFLUX_BUCKET"}},
		&cli.BoolFlag{Name: "verbose", Usage: "log every request"},
	}
	a.Action = serve
	if err := a.Run(os.Args); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func serve(c *cli.Context) error {
	logger, closer := logging.Setup(logging.Options{Verbose: c.Bool("verbose"), Prefix: "collector"})
	defer closer.Close()

	opts := server.Options{
		Latest:    c.String("latest"),
		Retain:    c.Int("retain"),
		Logger:    logger,
		AccessLog: c.Bool("verbose"),
	}
	if url := c.String("influx-url"); url != "" {
		influx := telemetry.NewInfluxSink(url, c.String("influx-token"), c.String("influx-org"), c.String("influx-bucket"))
		defer influx.Close()
		opts.Forward = influx
		logger.Info("forwarding to influxdb", "url", url, "bucket", c.String("influx-bucket"))
	}
	s := server.New(opts)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	errs := make(chan error, 1)
	go func() { errs <- s.Start(c.String("listen")) }()
	logger.Info("collector listening", "addr", c.String("listen"), "latest", opts.Latest)
	select {
	case err := <-errs:
		return err
	case <-ctx.Done():
	}
	if err := s.Shutdown(); err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	return nil
}
