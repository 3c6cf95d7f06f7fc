package main

import (
	"context"
	"fmt"
	"time"

	"github.com/karalabe/hid"
	"github.com/mklimuk/fanmon/adapter"
	"github.com/mklimuk/fanmon/cmd/fanmon/console"
	"github.com/urfave/cli/v2"
	"gopkg.in/yaml.v3"
)

const adapterTimeout = 5 * time.Second

var mcp2221Cmd = &cli.Command{
	Name:  "mcp2221",
	Usage: "USB to I2C bridge diagnostics",
	Flags: []cli.Flag{
		&cli.BoolFlag{Name: "dump", Usage: "hex dump every report"},
	},
	Subcommands: []*cli.Command{
		{
			Name:  "status",
			Usage: "print the bridge I2C engine state",
			Action: mcp2221Action(func(ctx context.Context, a *adapter.MCP2221) (any, error) {
				return a.Status(ctx)
			}),
		},
		{
			Name:  "release",
			Usage: "cancel a stuck transfer and release the bus",
			Action: mcp2221Action(func(ctx context.Context, a *adapter.MCP2221) (any, error) {
				return a.ReleaseBus(ctx)
			}),
		},
		{
			Name:  "gpio",
			Usage: "read the bridge GPIO pins",
			Action: mcp2221Action(func(ctx context.Context, a *adapter.MCP2221) (any, error) {
				return a.ReadGPIO(ctx)
			}),
		},
	},
}

func mcp2221Action(fn func(ctx context.Context, a *adapter.MCP2221) (any, error)) cli.ActionFunc {
	return func(c *cli.Context) error {
		ctx, cancel := context.WithTimeout(c.Context, adapterTimeout)
		defer cancel()
		ctx = adapter.WithDump(ctx, c.Bool("dump"))
		a := adapter.NewMCP2221(adapter.WithLogger(env.logger))
		res, err := fn(ctx, a)
		if err != nil {
			return wrapBusError("adapter communication error", err)
		}
		enc := yaml.NewEncoder(console.Writer())
		defer enc.Close()
		if err := enc.Encode(res); err != nil {
			return console.Exit(console.ExitError, "encoding error: %v", err)
		}
		return nil
	}
}

var usbCmd = &cli.Command{
	Name:  "usb",
	Usage: "list HID devices",
	Flags: []cli.Flag{
		&cli.BoolFlag{Name: "known", Usage: "only list supported bridges"},
	},
	Action: func(c *cli.Context) error {
		var rows []string
		for _, dev := range hid.Enumerate(0, 0) {
			name := knownBridge(dev.VendorID, dev.ProductID)
			if c.Bool("known") && name == "" {
				continue
			}
			rows = append(rows, fmt.Sprintf("%s\t%s\t%#x\t%#x\t%s\t%s",
				dev.Path, dev.Serial, dev.VendorID, dev.ProductID, dev.Product, console.Green(name)))
		}
		console.Table("PATH\tSERIAL\tVENDOR\tPRODUCT ID\tPRODUCT\tBRIDGE", rows...)
		return nil
	},
}

func knownBridge(vendor, product uint16) string {
	if vendor == adapter.VendorID && product == adapter.ProductID {
		return "MCP2221"
	}
	return ""
}
