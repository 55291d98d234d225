// Package i2c adapts host-side two-wire drivers to nirs.RegisterBus.
package i2c

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/mklimuk/nirs"
	"periph.io/x/conn/v3/i2c"
	"periph.io/x/conn/v3/i2c/i2creg"
	"periph.io/x/conn/v3/physic"
	"periph.io/x/host/v3"
)

var _ nirs.RegisterBus = &GenericBus{}

// GenericBus talks to a kernel (or periph host driver) I2C bus. Register reads
// are a single combined transfer, so the repeated START is issued by the
// driver.
type GenericBus struct {
	bus i2c.BusCloser
}

func NewGenericBus(dev string) (*GenericBus, error) {
	state, err := host.Init()
	if err != nil {
		return nil, fmt.Errorf("could not init host: %w", err)
	}
	for _, driver := range state.Loaded {
		slog.Debug("host driver loaded", "driver", driver.String())
	}
	bus, err := i2creg.Open(dev)
	if err != nil {
		return nil, fmt.Errorf("could not open i2c bus: %w", err)
	}
	return &GenericBus{
		bus: bus,
	}, nil
}

// SetSpeed changes the bus clock where the driver allows it.
func (b *GenericBus) SetSpeed(f physic.Frequency) error {
	if err := b.bus.SetSpeed(f); err != nil {
		return fmt.Errorf("could not set i2c bus speed to %s: %w", f, err)
	}
	return nil
}

func (b *GenericBus) WriteRegister(ctx context.Context, address, register, value byte) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	err := b.bus.Tx(uint16(address), []byte{register, value}, nil)
	if err != nil {
		return fmt.Errorf("could not write register %#02x@%#02x: %w", register, address, classify(err))
	}
	return nil
}

func (b *GenericBus) ReadRegisters(ctx context.Context, address, register byte, buffer []byte) error {
	if len(buffer) == 0 {
		return nil
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	err := b.bus.Tx(uint16(address), []byte{register}, buffer)
	if err != nil {
		return fmt.Errorf("could not read register %#02x@%#02x: %w", register, address, classify(err))
	}
	return nil
}

func (b *GenericBus) Close() error {
	return b.bus.Close()
}

// classify maps driver errors onto the bus error kinds. Kernel drivers only
// report errno text, so matching is done on the message.
func classify(err error) error {
	msg := err.Error()
	switch {
	case strings.Contains(msg, "remote I/O error"), strings.Contains(msg, "no such device or address"):
		return fmt.Errorf("%w: %w", nirs.ErrSlaveNack, err)
	case strings.Contains(msg, "device or resource busy"):
		return fmt.Errorf("%w: %w", nirs.ErrBusBusy, err)
	case strings.Contains(msg, "timed out"):
		return fmt.Errorf("%w: %w", nirs.ErrTimeout, err)
	}
	return err
}
