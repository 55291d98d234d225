package main

import (
	"fmt"

	"github.com/mklimuk/nirs/cmd/nirs/console"
	"github.com/mklimuk/nirs/max30101"
	"github.com/mklimuk/nirs/sink"
	"github.com/urfave/cli/v2"
	"gopkg.in/yaml.v3"
)

type fifoReport struct {
	max30101.FIFOStatus `yaml:",inline"`
	Available           int  `yaml:"available"`
	MaybeFull           bool `yaml:"maybe_full"`
}

var fifoCmd = cli.Command{
	Name:  "fifo",
	Usage: "show the FIFO pointers and the number of unread samples",
	Action: func(c *cli.Context) error {
		d, b, err := openDevice(loadedConfig(c))
		if err != nil {
			return console.Exit(1, "could not open bus: %s", console.Red(err))
		}
		defer func() { _ = b.Close() }()
		st, err := d.FIFOStatus(c.Context)
		if err != nil {
			return console.Exit(1, "could not read FIFO status: %s", console.Red(err))
		}
		report := fifoReport{FIFOStatus: st, Available: st.Available(), MaybeFull: st.MaybeFull()}
		if err := yaml.NewEncoder(console.Writer()).Encode(report); err != nil {
			return console.Exit(1, "encoding error: %s", console.Red(err))
		}
		return nil
	},
}

var readCmd = cli.Command{
	Name:  "read",
	Usage: "drain pending samples once; the sensor must already run the given profile",
	Flags: []cli.Flag{
		&cli.StringFlag{
			Name:    "profile",
			Aliases: []string{"p"},
			Usage:   "profile the sensor was configured with",
		},
		&cli.IntFlag{
			Name:    "count",
			Aliases: []string{"n"},
			Value:   max30101.FIFODepth,
			Usage:   "read at most this many samples",
		},
	},
	Action: func(c *cli.Context) error {
		cfg := loadedConfig(c)
		if c.IsSet("profile") {
			cfg.Sensor.Profile = c.String("profile")
		}
		profile, err := cfg.Profile()
		if err != nil {
			return console.Exit(1, "%s", console.Red(err))
		}
		drive, _, err := cfg.Drive()
		if err != nil {
			return console.Exit(1, "%s", console.Red(err))
		}
		d, b, err := openDevice(cfg)
		if err != nil {
			return console.Exit(1, "could not open bus: %s", console.Red(err))
		}
		defer func() { _ = b.Close() }()

		n, err := d.Available(c.Context)
		if err != nil {
			return console.Exit(1, "could not read FIFO status: %s", console.Red(err))
		}
		n = min(n, c.Int("count"))
		st := max30101.State{Profile: profile, Drive: drive}
		samples, err := d.ReadAndConvert(c.Context, st, make([]max30101.SampleCurrent, max30101.FIFODepth), n)
		if err != nil {
			return console.Exit(1, "could not read samples: %s", console.Red(err))
		}
		console.Print(sink.FormatRecord(sink.Record{
			Channels: st.Channels(),
			Samples:  recordSamples(samples),
			Summary:  sink.Summarize(samples),
		}))
		return nil
	},
}

func recordSamples(samples []max30101.SampleCurrent) [][]float32 {
	out := make([][]float32, len(samples))
	for i, s := range samples {
		out[i] = s.Values[:s.Channels]
	}
	return out
}

var tempCmd = cli.Command{
	Name:    "temperature",
	Aliases: []string{"temp"},
	Usage:   "read the sensor die temperature",
	Action: func(c *cli.Context) error {
		d, b, err := openDevice(loadedConfig(c))
		if err != nil {
			return console.Exit(1, "could not open bus: %s", console.Red(err))
		}
		defer func() { _ = b.Close() }()
		temp, err := d.Temperature(c.Context)
		if err != nil {
			return console.Exit(1, "error getting temperature read: %s", console.Red(err))
		}
		console.Printf("%s %s\n", console.PictoThermometer, console.White(fmt.Sprintf("%.4f°C", temp)))
		return nil
	},
}

var probeCmd = cli.Command{
	Name:  "probe",
	Usage: "check that a MAX30101 answers at the configured address",
	Action: func(c *cli.Context) error {
		d, b, err := openDevice(loadedConfig(c))
		if err != nil {
			return console.Exit(1, "could not open bus: %s", console.Red(err))
		}
		defer func() { _ = b.Close() }()
		rev, err := d.Probe(c.Context)
		if err != nil {
			return console.Exit(1, "%s probe failed: %s", console.PictoStop, console.Red(err))
		}
		console.PInfof(console.PictoPulse, "MAX30101 at %#02x, revision %#02x", d.Address(), rev)
		return nil
	},
}
