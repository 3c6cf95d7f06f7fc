package main

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"

	"github.com/mklimuk/fanmon/app"
	"github.com/mklimuk/fanmon/cmd/fanmon/console"
	"github.com/mklimuk/fanmon/config"
	"github.com/mklimuk/fanmon/logging"
	"github.com/urfave/cli/v2"
)

var version string
var commit string
var date string

const defaultConfigPath = "/etc/fanmon/config.yaml"

// env is filled by the Before hook and shared by every command.
var env struct {
	cfg       config.Config
	logger    *slog.Logger
	mirror    *logging.MirrorHandler
	logCloser io.Closer
}

func main() {
	os.Exit(run(os.Args))
}

func run(args []string) int {
	a := cli.NewApp()
	a.Name = "fanmon"
	a.EnableBashCompletion = true
	a.Version = fmt.Sprintf("%s-%s-%s", version, date, commit)
	a.Usage = "fan controller and environmental monitor"
	a.Flags = []cli.Flag{
		&cli.StringFlag{
			Name:    "config",
			Aliases: []string{"c"},
			Usage:   "path to the firmware config file",
			EnvVars: []string{"FANMON_CONFIG"},
		},
		&cli.BoolFlag{
			Name:  "verbose",
			Usage: "enable verbose logging",
		},
		&cli.BoolFlag{
			Name:  "simulate",
			Usage: "replace every bus with the simulated reference board",
		},
	}
	a.Before = setup
	// exit codes are mapped below instead of exiting inside the cli
	a.ExitErrHandler = func(*cli.Context, error) {}
	a.After = func(*cli.Context) error {
		if env.logCloser != nil {
			return env.logCloser.Close()
		}
		return nil
	}
	a.Commands = cli.Commands{
		runCmd,
		scanCmd,
		readCmd,
		configCmd,
		eepromCmd,
		mcp2221Cmd,
		usbCmd,
	}
	err := a.Run(args)
	if err != nil {
		var exerr cli.ExitCoder
		if errors.As(err, &exerr) {
			console.Errorf("%v", err)
			return exerr.ExitCode()
		}
		console.Errorf("unexpected error: %v", err)
		return console.ExitError
	}
	return 0
}

func setup(c *cli.Context) error {
	cfg, err := loadConfig(c.String("config"))
	if err != nil {
		return console.Exit(console.ExitConfig, "invalid configuration: %v", err)
	}
	if c.Bool("simulate") {
		cfg = simulated(cfg)
	}
	if v := version; v != "" {
		cfg.Firmware.Version = v
	}
	logger, closer := logging.Setup(logging.Options{
		Level:      cfg.Logging.Level,
		Verbose:    c.Bool("verbose"),
		File:       cfg.Logging.File,
		MaxSizeMB:  cfg.Logging.MaxSizeMB,
		MaxBackups: cfg.Logging.MaxBackups,
		MaxAgeDays: cfg.Logging.MaxAgeDays,
	})
	env.mirror = logging.NewMirrorHandler(logger.Handler(), "")
	env.logger = slog.New(env.mirror)
	slog.SetDefault(env.logger)
	env.logCloser = closer
	env.cfg = cfg
	return nil
}

// loadConfig reads path, falling back to the default location and then to
// the built-in defaults when no path was given.
func loadConfig(path string) (config.Config, error) {
	if path != "" {
		return config.Load(path)
	}
	if _, err := os.Stat(defaultConfigPath); err == nil {
		return config.Load(defaultConfigPath)
	}
	return config.Default(), nil
}

// simulated swaps hardware for the simulated board and an in-memory store.
func simulated(cfg config.Config) config.Config {
	cfg.Buses = app.SimulatedBuses(cfg.Buses)
	cfg.Store = config.StoreConfig{Kind: config.StoreMemory}
	cfg.OneWire.Enabled = false
	cfg.Motor.Enabled = false
	cfg.LEDs.Enabled = false
	return cfg
}
