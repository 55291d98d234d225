package main

import (
	"errors"
	"fmt"
	"log"
	"log/slog"
	"os"
	"time"

	chlog "github.com/charmbracelet/log"
	"github.com/mklimuk/nirs/cmd/nirs/console"
	"github.com/mklimuk/nirs/config"
	"github.com/mklimuk/nirs/snsctx"
	"github.com/muesli/termenv"
	"github.com/urfave/cli/v2"
)

const configKey = "config"

func main() {
	os.Exit(run())
}

func run() int {
	app := cli.NewApp()
	app.Name = "nirs"
	app.EnableBashCompletion = true
	app.Version = fmt.Sprintf("%s-%s-%s", config.Version, config.BuildDate, config.Commit)
	app.Usage = "optical biosensor acquisition cli"
	app.Flags = []cli.Flag{
		&cli.BoolFlag{
			Name:  "verbose",
			Usage: "enable verbose logging",
		},
		&cli.StringFlag{
			Name:    "config",
			Aliases: []string{"c"},
			Value:   "nirs.yaml",
			Usage:   "configuration file; defaults are used when it does not exist",
		},
		&cli.StringFlag{
			Name:    "adapter",
			Aliases: []string{"a"},
			Usage:   "bus adapter: periph, gobot, smbus, mcp2221, bitbang or sim",
		},
		&cli.StringFlag{
			Name:  "device",
			Usage: "periph i2c bus name",
		},
		&cli.IntFlag{
			Name:  "bus",
			Usage: "i2c bus number for smbus and gobot",
		},
		&cli.UintFlag{
			Name:  "address",
			Usage: "sensor 7-bit address",
		},
	}
	app.Before = func(c *cli.Context) error {
		charm := chlog.NewWithOptions(os.Stdout, chlog.Options{
			ReportCaller:    true,
			ReportTimestamp: true,
			TimeFormat:      time.DateTime,
		})
		charm.SetColorProfile(termenv.TrueColor)
		charm.SetLevel(chlog.InfoLevel)
		if c.Bool("verbose") {
			charm.SetLevel(chlog.DebugLevel)
		}
		slog.SetDefault(slog.New(charm))
		cfg, err := config.Load(c.String("config"))
		if err != nil {
			return console.Exit(1, "could not load configuration: %s", console.Red(err))
		}
		if err := applyGlobalFlags(c, cfg); err != nil {
			return console.Exit(1, "invalid flags: %s", console.Red(err))
		}
		c.App.Metadata = map[string]interface{}{configKey: cfg}
		c.Context = snsctx.SetVerbose(c.Context, c.Bool("verbose"))
		return nil
	}
	app.Commands = cli.Commands{
		&runCmd,
		&configureCmd,
		&fifoCmd,
		&readCmd,
		&tempCmd,
		&probeCmd,
		&configCmd,
		&usbCmd,
		&mcp2221Cmd,
	}
	err := app.Run(os.Args)
	if err != nil {
		var exerr cli.ExitCoder
		if errors.As(err, &exerr) {
			log.Printf("unexpected error: %v", err)
			return exerr.ExitCode()
		}
		return 1
	}
	return 0
}

func applyGlobalFlags(c *cli.Context, cfg *config.Config) error {
	if c.IsSet("adapter") {
		cfg.Bus.Adapter = c.String("adapter")
	}
	if c.IsSet("device") {
		cfg.Bus.Device = c.String("device")
	}
	if c.IsSet("bus") {
		cfg.Bus.Number = c.Int("bus")
	}
	if c.IsSet("address") {
		address := c.Uint("address")
		if address == 0 || address > 0x7F {
			return fmt.Errorf("%w: sensor address %#x is not a 7-bit address", config.ErrInvalid, address)
		}
		cfg.Sensor.Address = uint8(address)
	}
	return nil
}

func loadedConfig(c *cli.Context) *config.Config {
	if cfg, ok := c.App.Metadata[configKey].(*config.Config); ok {
		return cfg
	}
	return config.Default()
}
