package main

import (
	"io"
	"strings"

	"github.com/mklimuk/fanmon/app"
	"github.com/mklimuk/fanmon/cmd/fanmon/console"
	"github.com/mklimuk/fanmon/command"
	"github.com/mklimuk/fanmon/config"
	"github.com/urfave/cli/v2"
)

var configCmd = &cli.Command{
	Name:  "config",
	Usage: "inspect and edit the persisted device config",
	Subcommands: []*cli.Command{
		{
			Name:  "show",
			Usage: "print the config with passwords masked",
			Action: func(c *cli.Context) error {
				return withManager(func(m *config.Manager) error {
					m.Print(console.Writer())
					return nil
				})
			},
		},
		{
			Name:  "reset",
			Usage: "restore the factory defaults",
			Flags: []cli.Flag{
				&cli.BoolFlag{Name: "yes", Aliases: []string{"y"}, Usage: "do not ask for confirmation"},
			},
			Action: func(c *cli.Context) error {
				if !c.Bool("yes") {
					ok, err := console.Confirm("reset the device config to defaults?")
					if err != nil {
						return console.Exit(console.ExitError, "could not read answer: %v", err)
					}
					if !ok {
						return nil
					}
				}
				return withManager(func(m *config.Manager) error {
					if err := m.Reset(); err != nil {
						return console.Exit(console.ExitConfig, "reset failed: %v", err)
					}
					console.PInfof(console.PictoFinish, "config reset to defaults")
					return nil
				})
			},
		},
		{
			Name:      "apply",
			Usage:     "apply a config command as sent on the broker config topic",
			ArgsUsage: `'{"cmd":"set_device_name","name":"attic"}'`,
			Action: func(c *cli.Context) error {
				if c.NArg() != 1 {
					return console.Exit(console.ExitError, "expected 1 argument, got %d", c.NArg())
				}
				return withManager(func(m *config.Manager) error {
					h := command.NewHandler(m, nil, nil, command.TopicsFor(m.Get()), env.logger)
					ack := h.Configure([]byte(c.Args().First()))
					console.Printf("%s\n", ack)
					if strings.HasPrefix(ack, "ERROR") {
						return console.Exit(console.ExitConfig, "command rejected")
					}
					return nil
				})
			},
		},
	},
}

func withManager(fn func(m *config.Manager) error) error {
	store, closer, err := app.OpenStore(env.cfg.Store)
	if err != nil {
		return console.Exit(console.ExitConfig, "could not open config store: %v", err)
	}
	if closer != nil {
		defer closeQuietly(closer)
	}
	m := config.NewManager(store, env.logger)
	if err := m.Begin(); err != nil {
		return console.Exit(console.ExitConfig, "could not load device config: %v", err)
	}
	return fn(m)
}

func closeQuietly(c io.Closer) {
	if err := c.Close(); err != nil {
		env.logger.Debug("close failed", "error", err)
	}
}
