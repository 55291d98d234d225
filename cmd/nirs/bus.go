package main

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/mklimuk/nirs"
	"github.com/mklimuk/nirs/acquire"
	"github.com/mklimuk/nirs/adapter"
	"github.com/mklimuk/nirs/config"
	"github.com/mklimuk/nirs/gpio"
	"github.com/mklimuk/nirs/i2c"
	"github.com/mklimuk/nirs/max30101"
	"github.com/mklimuk/nirs/sim"
	"github.com/mklimuk/nirs/twowire"
	"gobot.io/x/gobot/v2/platforms/friendlyelec/nanopi"
	"periph.io/x/conn/v3/gpio/gpioreg"
	"periph.io/x/conn/v3/physic"
	"periph.io/x/host/v3"
)

// bus is an opened backend. feed is set for the simulator only and must run
// alongside the acquisition.
type bus struct {
	nirs.RegisterBus
	close func() error
	feed  func(ctx context.Context) error
}

func (b *bus) Close() error {
	if b.close == nil {
		return nil
	}
	return b.close()
}

func speed(cfg *config.Config) physic.Frequency {
	return physic.Frequency(cfg.Bus.SpeedKHz) * physic.KiloHertz
}

func openBus(cfg *config.Config) (*bus, error) {
	switch cfg.Bus.Adapter {
	case config.AdapterPeriph:
		b, err := i2c.NewGenericBus(cfg.Bus.Device)
		if err != nil {
			return nil, err
		}
		if err := b.SetSpeed(speed(cfg)); err != nil {
			slog.Warn("keeping default bus speed", "error", err)
		}
		return &bus{RegisterBus: b, close: b.Close}, nil
	case config.AdapterGobot:
		npi := nanopi.NewNeoAdaptor()
		if err := npi.I2cBusAdaptor.Connect(); err != nil {
			return nil, fmt.Errorf("adaptor connect error: %w", err)
		}
		b := i2c.NewGobotBus(npi, cfg.Bus.Number)
		return &bus{RegisterBus: b, close: func() error {
			if err := b.Close(); err != nil {
				return err
			}
			return npi.I2cBusAdaptor.Finalize()
		}}, nil
	case config.AdapterSMBus:
		return openSMBus(cfg)
	case config.AdapterMCP2221:
		a := adapter.NewMCP2221(adapter.WithIndex(cfg.Bus.AdapterIndex))
		return &bus{RegisterBus: a, close: a.Close}, nil
	case config.AdapterBitBang:
		if _, err := host.Init(); err != nil {
			return nil, fmt.Errorf("could not init host: %w", err)
		}
		sda := gpioreg.ByName(cfg.Bus.SDA)
		if sda == nil {
			return nil, fmt.Errorf("unknown sda pin %q", cfg.Bus.SDA)
		}
		scl := gpioreg.ByName(cfg.Bus.SCL)
		if scl == nil {
			return nil, fmt.Errorf("unknown scl pin %q", cfg.Bus.SCL)
		}
		lines := gpio.NewBitBang(sda, scl, gpio.WithFrequency(speed(cfg)))
		return &bus{RegisterBus: twowire.New(lines, twowire.WithTimeout(cfg.Bus.Timeout))}, nil
	case config.AdapterSim:
		dev := sim.NewMAX30101(sim.WithAddress(cfg.Sensor.Address))
		profile, err := cfg.Profile()
		if err != nil {
			return nil, err
		}
		return &bus{
			RegisterBus: twowire.New(dev, twowire.WithTimeout(cfg.Bus.Timeout)),
			feed: func(ctx context.Context) error {
				return dev.Feed(ctx, profile.SamplePeriod(), sim.Pulse)
			},
		}, nil
	}
	return nil, fmt.Errorf("%w: unknown bus adapter %q", config.ErrInvalid, cfg.Bus.Adapter)
}

func openDevice(cfg *config.Config) (*max30101.Device, *bus, error) {
	b, err := openBus(cfg)
	if err != nil {
		return nil, nil, err
	}
	_, limit, err := cfg.Drive()
	if err != nil {
		_ = b.Close()
		return nil, nil, err
	}
	d := max30101.New(b, max30101.WithAddress(cfg.Sensor.Address), max30101.WithDriveLimit(limit))
	return d, b, nil
}

func openIndicator(ctx context.Context, cfg *config.Config, b *bus) (acquire.Indicator, error) {
	ind := cfg.Indicator
	switch ind.Kind {
	case config.IndicatorNone:
		return gpio.NopIndicator{}, nil
	case config.IndicatorPin:
		if _, err := host.Init(); err != nil {
			return nil, fmt.Errorf("could not init host: %w", err)
		}
		pin := gpioreg.ByName(ind.Pin)
		if pin == nil {
			return nil, fmt.Errorf("unknown indicator pin %q", ind.Pin)
		}
		return gpio.NewPinIndicator(pin), nil
	case config.IndicatorExpander:
		port := gpio.PortA
		if ind.Port == "B" {
			port = gpio.PortB
		}
		address := ind.Address
		if address == 0 {
			address = gpio.DefaultMCP23017Address
		}
		exp := gpio.NewExpanderIndicator(gpio.NewMCP23017(b, address), port, ind.Bit)
		if err := exp.Init(ctx); err != nil {
			return nil, err
		}
		return exp, nil
	case config.IndicatorMCP2221:
		dev, ok := b.RegisterBus.(*adapter.MCP2221)
		if !ok {
			return nil, fmt.Errorf("%w: mcp2221 indicator needs the mcp2221 bus adapter", config.ErrInvalid)
		}
		return adapter.NewGPIOIndicator(dev, int(ind.Bit)), nil
	}
	return nil, fmt.Errorf("%w: unknown indicator %q", config.ErrInvalid, ind.Kind)
}
