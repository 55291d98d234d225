package gpio

import (
	"context"
	"fmt"
	"sync"

	"periph.io/x/conn/v3/gpio"
)

// PinIndicator flips a host GPIO output, typically an LED, once per call.
type PinIndicator struct {
	mx    sync.Mutex
	pin   gpio.PinOut
	level gpio.Level
}

func NewPinIndicator(pin gpio.PinOut) *PinIndicator {
	return &PinIndicator{pin: pin}
}

func (i *PinIndicator) Toggle(ctx context.Context) error {
	i.mx.Lock()
	defer i.mx.Unlock()
	next := !i.level
	if err := i.pin.Out(next); err != nil {
		return fmt.Errorf("gpio: toggle %s: %w", i.pin, err)
	}
	i.level = next
	return nil
}

// ExpanderIndicator flips one output pin of an MCP23017 sharing the sensor
// bus. Each toggle is a single latch write; the other pins of the port are
// driven low.
type ExpanderIndicator struct {
	mx    sync.Mutex
	exp   *MCP23017
	port  Port
	mask  byte
	latch byte
}

func NewExpanderIndicator(exp *MCP23017, port Port, pin uint8) *ExpanderIndicator {
	return &ExpanderIndicator{exp: exp, port: port, mask: 1 << (pin & 0x07)}
}

// Init makes the indicator pin an output and switches it off.
func (i *ExpanderIndicator) Init(ctx context.Context) error {
	i.mx.Lock()
	defer i.mx.Unlock()
	if err := i.exp.Init(ctx, i.port, ^i.mask); err != nil {
		return err
	}
	i.latch = 0
	return i.exp.Write(ctx, i.port, i.latch)
}

func (i *ExpanderIndicator) Toggle(ctx context.Context) error {
	i.mx.Lock()
	defer i.mx.Unlock()
	next := i.latch ^ i.mask
	if err := i.exp.Write(ctx, i.port, next); err != nil {
		return err
	}
	i.latch = next
	return nil
}

// NopIndicator is used when no indicator is configured.
type NopIndicator struct{}

func (NopIndicator) Toggle(context.Context) error { return nil }
