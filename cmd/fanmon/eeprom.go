package main

import (
	"encoding/hex"
	"strings"

	"github.com/mklimuk/fanmon/cmd/fanmon/console"
	eeprom "github.com/mklimuk/fanmon/memory/25aa1024"
	"github.com/urfave/cli/v2"
	"gobot.io/x/gobot/v2/platforms/friendlyelec/nanopi"
)

var eepromReadCmd = &cli.Command{
	Name:  "read",
	Usage: "dump config EEPROM contents",
	Flags: []cli.Flag{
		&cli.UintFlag{Name: "address", Usage: "start address", Value: 0},
		&cli.IntFlag{Name: "length", Usage: "number of bytes to read", Value: 64},
	},
	Action: func(c *cli.Context) error {
		length := c.Int("length")
		if length <= 0 || length > eeprom.PageSize*16 {
			return console.Exit(console.ExitError, "length out of range: %d", length)
		}
		mem, err := eeprom.Open(nanopi.NewNeoAdaptor())
		if err != nil {
			return wrapBusError("could not open eeprom", err)
		}
		defer closeQuietly(mem)
		data, err := mem.Read(uint32(c.Uint("address")), length)
		if err != nil {
			return wrapBusError("read failed", err)
		}
		console.Printf("%s", hex.Dump(data))
		return nil
	},
}

var eepromWriteCmd = &cli.Command{
	Name:  "write",
	Usage: "write hex bytes to the config EEPROM",
	Flags: []cli.Flag{
		&cli.UintFlag{Name: "address", Usage: "start address", Required: true},
		&cli.StringFlag{Name: "data", Usage: "hex bytes to write (e.g. '01FF23')", Required: true},
	},
	Action: func(c *cli.Context) error {
		data, err := hex.DecodeString(strings.ReplaceAll(c.String("data"), " ", ""))
		if err != nil {
			return console.Exit(console.ExitError, "invalid data hex string: %v", err)
		}
		mem, err := eeprom.Open(nanopi.NewNeoAdaptor())
		if err != nil {
			return wrapBusError("could not open eeprom", err)
		}
		defer closeQuietly(mem)
		addr := uint32(c.Uint("address"))
		if err := mem.Write(addr, data); err != nil {
			return wrapBusError("write failed", err)
		}
		console.Infof("wrote %d bytes at %#05x", len(data), addr)
		return nil
	},
}

var eepromCmd = &cli.Command{
	Name:    "eeprom",
	Aliases: []string{"mem"},
	Usage:   "25AA1024 config memory operations",
	Subcommands: []*cli.Command{
		eepromReadCmd,
		eepromWriteCmd,
	},
}
