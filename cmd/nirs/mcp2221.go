package main

import (
	"strconv"

	"github.com/mklimuk/nirs/adapter"
	"github.com/mklimuk/nirs/cmd/nirs/console"
	"github.com/urfave/cli/v2"
	"gopkg.in/yaml.v3"
)

var mcp2221Cmd = cli.Command{
	Name:  "mcp2221",
	Usage: "USB bridge maintenance",
	Subcommands: cli.Commands{
		&mcp2221StatusCmd,
		&mcp2221ReleaseCmd,
		&mcp2221GPIOCmd,
	},
}

func openMCP2221(c *cli.Context) *adapter.MCP2221 {
	return adapter.NewMCP2221(adapter.WithIndex(loadedConfig(c).Bus.AdapterIndex))
}

func encode(v interface{}) error {
	if err := yaml.NewEncoder(console.Writer()).Encode(v); err != nil {
		return console.Exit(1, "encoding error: %s", console.Red(err))
	}
	return nil
}

var mcp2221StatusCmd = cli.Command{
	Name:  "status",
	Usage: "show the bridge I2C engine status",
	Action: func(c *cli.Context) error {
		a := openMCP2221(c)
		defer func() { _ = a.Close() }()
		status, err := a.Status(c.Context)
		if err != nil {
			return console.Exit(1, "adapter communication error: %s", console.Red(err))
		}
		return encode(status)
	},
}

var mcp2221ReleaseCmd = cli.Command{
	Name:  "release",
	Usage: "cancel a stuck transfer and release the bus",
	Action: func(c *cli.Context) error {
		a := openMCP2221(c)
		defer func() { _ = a.Close() }()
		status, err := a.ReleaseBus(c.Context)
		if err != nil {
			return console.Exit(1, "adapter communication error: %s", console.Red(err))
		}
		return encode(status)
	},
}

var mcp2221GPIOCmd = cli.Command{
	Name:  "gpio",
	Usage: "inspect and drive the bridge GP pins",
	Subcommands: cli.Commands{
		{
			Name:  "params",
			Usage: "show the pin designations stored in flash",
			Action: func(c *cli.Context) error {
				a := openMCP2221(c)
				defer func() { _ = a.Close() }()
				params, err := a.GetGPIOParameters(c.Context)
				if err != nil {
					return console.Exit(1, "adapter communication error: %s", console.Red(err))
				}
				return encode(params)
			},
		},
		{
			Name:  "read",
			Usage: "show the pin directions and levels",
			Action: func(c *cli.Context) error {
				a := openMCP2221(c)
				defer func() { _ = a.Close() }()
				values, err := a.ReadGPIO(c.Context)
				if err != nil {
					return console.Exit(1, "adapter communication error: %s", console.Red(err))
				}
				return encode(values)
			},
		},
		{
			Name:      "set",
			Usage:     "drive a GP output pin",
			ArgsUsage: "<pin 0-3> <0|1>",
			Action: func(c *cli.Context) error {
				if c.NArg() != 2 {
					return console.Exit(1, "expected 2 arguments, got %d", c.NArg())
				}
				pin, err := strconv.Atoi(c.Args().Get(0))
				if err != nil || pin < 0 || pin > 3 {
					return console.Exit(1, "invalid pin %q", c.Args().Get(0))
				}
				value, err := strconv.ParseBool(c.Args().Get(1))
				if err != nil {
					return console.Exit(1, "invalid level %q", c.Args().Get(1))
				}
				a := openMCP2221(c)
				defer func() { _ = a.Close() }()
				if err := a.SetGPIO(c.Context, pin, value); err != nil {
					return console.Exit(1, "could not set GP%d: %s", pin, console.Red(err))
				}
				console.PInfof(console.PictoPlug, "GP%d set to %t", pin, value)
				return nil
			},
		},
	},
}
