package main

import (
	"context"
	"errors"
	"io"
	"os"
	"os/signal"
	"syscall"

	"github.com/mklimuk/nirs/acquire"
	"github.com/mklimuk/nirs/cmd/nirs/console"
	"github.com/mklimuk/nirs/config"
	"github.com/mklimuk/nirs/max30101"
	"github.com/mklimuk/nirs/sink"
	"github.com/urfave/cli/v2"
	"golang.org/x/sync/errgroup"
	"gopkg.in/yaml.v3"
)

var profileFlags = []cli.Flag{
	&cli.StringFlag{
		Name:    "profile",
		Aliases: []string{"p"},
		Usage:   "operating profile: dual-low-power or triple-high-penetration",
	},
	&cli.IntFlag{
		Name:    "drive",
		Aliases: []string{"d"},
		Usage:   "LED drive code of the triple channel profile",
	},
	&cli.BoolFlag{
		Name:    "yes",
		Aliases: []string{"y"},
		Usage:   "accept a drive code above the configured limit without asking",
	},
}

func applyProfileFlags(c *cli.Context, cfg *config.Config) {
	if c.IsSet("profile") {
		cfg.Sensor.Profile = c.String("profile")
	}
	if c.IsSet("drive") {
		cfg.Sensor.Drive = c.Int("drive")
	}
}

// validate checks cfg and asks before driving the LEDs above the limit. An
// accepted drive raises the limit for this run only.
func validate(c *cli.Context, cfg *config.Config) error {
	err := cfg.Validate()
	if err == nil {
		return nil
	}
	if !errors.Is(err, config.ErrDriveAboveLimit) {
		return console.Exit(1, "invalid configuration: %s", console.Red(err))
	}
	ok := c.Bool("yes")
	if !ok {
		console.Warnf("%s", err)
		ok, err = console.Confirm("drive the LEDs above the limit?")
		if err != nil {
			return console.Exit(1, "could not read answer: %s", console.Red(err))
		}
	}
	if !ok {
		return console.Exit(1, "aborted")
	}
	cfg.Sensor.DriveLimit = cfg.Sensor.Drive
	return nil
}

func configure(ctx context.Context, cfg *config.Config, d *max30101.Device) (max30101.State, error) {
	profile, err := cfg.Profile()
	if err != nil {
		return max30101.State{}, err
	}
	drive, _, err := cfg.Drive()
	if err != nil {
		return max30101.State{}, err
	}
	return d.Configure(ctx, profile, drive)
}

var runCmd = cli.Command{
	Name:  "run",
	Usage: "configure the sensor and acquire until interrupted",
	Flags: append([]cli.Flag{
		&cli.DurationFlag{Name: "period", Usage: "trigger period; 0 derives it from the profile"},
		&cli.IntFlag{Name: "capacity", Usage: "samples kept per period"},
		&cli.StringFlag{Name: "format", Aliases: []string{"f"}, Usage: "output format: text or yaml"},
		&cli.StringFlag{Name: "serial", Usage: "write records to this serial port instead of stdout"},
		&cli.IntFlag{Name: "baud", Usage: "serial baud rate"},
		&cli.BoolFlag{Name: "summary", Aliases: []string{"s"}, Usage: "append per-channel statistics to every record"},
		&cli.BoolFlag{Name: "mlock", Usage: "lock process memory"},
	}, profileFlags...),
	Action: func(c *cli.Context) error {
		cfg := loadedConfig(c)
		applyProfileFlags(c, cfg)
		if c.IsSet("period") {
			cfg.Acquisition.Period = c.Duration("period")
		}
		if c.IsSet("capacity") {
			cfg.Acquisition.Capacity = c.Int("capacity")
		}
		if c.IsSet("format") {
			cfg.Output.Format = c.String("format")
		}
		if c.IsSet("serial") {
			cfg.Output.Serial = c.String("serial")
		}
		if c.IsSet("baud") {
			cfg.Output.BaudRate = c.Int("baud")
		}
		if c.IsSet("summary") {
			cfg.Output.Summary = c.Bool("summary")
		}
		if c.IsSet("mlock") {
			cfg.Acquisition.Mlock = c.Bool("mlock")
		}
		if err := validate(c, cfg); err != nil {
			return err
		}
		period, err := cfg.Period()
		if err != nil {
			return console.Exit(1, "invalid period: %s", console.Red(err))
		}
		if cfg.Acquisition.Mlock {
			if err := lockMemory(); err != nil {
				return console.Exit(1, "%s", console.Red(err))
			}
		}

		ctx, stop := signal.NotifyContext(c.Context, os.Interrupt, syscall.SIGTERM)
		defer stop()

		d, b, err := openDevice(cfg)
		if err != nil {
			return console.Exit(1, "could not open bus: %s", console.Red(err))
		}
		defer func() { _ = b.Close() }()

		rev, err := d.Probe(ctx)
		if err != nil {
			return console.Exit(1, "sensor not found: %s", console.Red(err))
		}
		st, err := configure(ctx, cfg, d)
		if err != nil {
			return console.Exit(1, "sensor configuration failed: %s", console.Red(err))
		}
		console.PInfof(console.PictoPin, "MAX30101 rev %#02x at %#02x configured: %s", rev, d.Address(), console.Green(st))

		ind, err := openIndicator(ctx, cfg, b)
		if err != nil {
			return console.Exit(1, "could not set up indicator: %s", console.Red(err))
		}

		var out io.Writer = console.Writer()
		if cfg.Output.Serial != "" {
			port, err := sink.OpenSerial(cfg.Output.Serial, cfg.Output.BaudRate)
			if err != nil {
				return console.Exit(1, "%s", console.Red(err))
			}
			defer func() { _ = port.Close() }()
			out = port
		}

		trig := acquire.NewTrigger(d, st, acquire.NewResultBuffer(cfg.Acquisition.Capacity),
			acquire.WithIndicator(ind), acquire.WithObserver(acquire.LogObserver{}))
		snk, err := sink.New(trig.Buffer(), out,
			sink.WithFormat(sink.Format(cfg.Output.Format)),
			sink.WithInterval(cfg.Output.Interval),
			sink.WithSummary(cfg.Output.Summary))
		if err != nil {
			return console.Exit(1, "%s", console.Red(err))
		}
		defer func() { _ = snk.Close() }()

		console.Infof("acquiring every %s, %d samples per period", period, cfg.Acquisition.Capacity)
		g, gctx := errgroup.WithContext(ctx)
		if b.feed != nil {
			g.Go(func() error { return b.feed(gctx) })
		}
		g.Go(func() error { return trig.Run(gctx, period) })
		g.Go(func() error { return snk.Run(gctx) })
		err = g.Wait()

		stats := trig.Stats()
		console.PInfof(console.PictoFinish, "%d periods, %d published, %d skipped, %d overruns", stats.Periods, stats.Published, stats.Skipped, stats.Overruns)
		if err != nil && !errors.Is(err, context.Canceled) {
			return console.Exit(1, "acquisition stopped: %s", console.Red(err))
		}
		return nil
	},
}

var configureCmd = cli.Command{
	Name:  "configure",
	Usage: "apply an operating profile and exit",
	Flags: profileFlags,
	Action: func(c *cli.Context) error {
		cfg := loadedConfig(c)
		applyProfileFlags(c, cfg)
		if err := validate(c, cfg); err != nil {
			return err
		}
		d, b, err := openDevice(cfg)
		if err != nil {
			return console.Exit(1, "could not open bus: %s", console.Red(err))
		}
		defer func() { _ = b.Close() }()
		st, err := configure(c.Context, cfg, d)
		if err != nil {
			return console.Exit(1, "sensor configuration failed: %s", console.Red(err))
		}
		console.PInfof(console.PictoPin, "configured: %s", console.Green(st))
		return yaml.NewEncoder(console.Writer()).Encode(cfg.Sensor)
	},
}
