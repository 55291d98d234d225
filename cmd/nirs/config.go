package main

import (
	"errors"
	"os"

	"github.com/mklimuk/nirs/cmd/nirs/console"
	"github.com/mklimuk/nirs/config"
	"github.com/urfave/cli/v2"
	"gopkg.in/yaml.v3"
)

var configCmd = cli.Command{
	Name:  "config",
	Usage: "inspect and create configuration files",
	Subcommands: cli.Commands{
		&configDumpCmd,
		&configInitCmd,
	},
}

var configDumpCmd = cli.Command{
	Name:  "dump",
	Usage: "print the effective configuration",
	Action: func(c *cli.Context) error {
		cfg := loadedConfig(c)
		if err := cfg.Validate(); err != nil {
			console.Warnf("%s", err)
		}
		if err := yaml.NewEncoder(console.Writer()).Encode(cfg); err != nil {
			return console.Exit(1, "encoding error: %s", console.Red(err))
		}
		return nil
	},
}

var configInitCmd = cli.Command{
	Name:      "init",
	Usage:     "write the default configuration",
	ArgsUsage: "[file]",
	Action: func(c *cli.Context) error {
		path := c.String("config")
		if c.NArg() > 0 {
			path = c.Args().First()
		}
		if _, err := os.Stat(path); err == nil {
			answer, err := console.YesOrNo(path + " exists, overwrite?")
			if err != nil {
				return console.Exit(1, "could not read answer: %s", console.Red(err))
			}
			if answer != console.Yes {
				return nil
			}
		} else if !errors.Is(err, os.ErrNotExist) {
			return console.Exit(1, "%s", console.Red(err))
		}
		if err := config.Default().Save(path); err != nil {
			return console.Exit(1, "%s", console.Red(err))
		}
		console.Infof("configuration written to %s", console.White(path))
		return nil
	},
}
