package adapter

import (
	"context"
	"fmt"
	"sync"
)

type GPIOMode byte

const (
	GPIOModeOut         GPIOMode = 0b00000000
	GPIOModeIn          GPIOMode = 0b00001000
	GPIOModeNoOperation GPIOMode = 0xEF
)

func (m GPIOMode) String() string {
	switch m {
	case GPIOModeIn:
		return "INPUT"
	case GPIOModeOut:
		return "OUTPUT"
	default:
		return "NOOP"
	}
}

type GPIODesignation byte

const (
	GPIOOperation GPIODesignation = 0b00000000
	// This is alternate function of GPIO0
	GPIO0LedUartRx GPIODesignation = 0b00000001
	// This is the dedicated function operation of GPIO0
	GPIO0SSPND GPIODesignation = 0b00000010
	// This is the dedicated function of GPIO1
	GPIO1ClockOutput GPIODesignation = 0b00000001
	// This is the alternate function 0 of GPIO1
	GPIO1ADC1 GPIODesignation = 0b00000010
	// This is the alternate function 1 of GPIO1
	GPIO1LedUartTx GPIODesignation = 0b00000011
	// This is the alternate function 2 of GPIO1
	GPIO1InterruptDetection GPIODesignation = 0b00000100
	// This is the dedicated function of GPIO2
	GPIO2ClockOutput GPIODesignation = 0b00000001
	// This is the alternate function 0 of GPIO2
	GPIO2ADC2 GPIODesignation = 0b00000010
	// This is the alternate function 1 of GPIO2
	GPIO2DAC1 GPIODesignation = 0b00000011
	// This is the dedicated function of GPIO3
	GPIO3LEDI2C GPIODesignation = 0b00000001
	// This is the alternate function 0 of GPIO3
	GPIO3ADC3 GPIODesignation = 0b00000010
	// This is the alternate function 1 of GPIO3
	GPIO3DAC2 GPIODesignation = 0b00000011
)

const gpioModeMask = 0b00001000
const gpioOperationMask = 0b00000111

// reported in place of the output value of a pin not designated as GPIO
const gpioNotOutput = 0xEE

type MCP2221GPIOValues struct {
	GPIO0Mode  GPIOMode `yaml:"GP0_mode"`
	GPIO0Value byte     `yaml:"GPIO0"`
	GPIO1Mode  GPIOMode `yaml:"GP1_mode"`
	GPIO1Value byte     `yaml:"GPIO1"`
	GPIO2Mode  GPIOMode `yaml:"GP2_mode"`
	GPIO2Value byte     `yaml:"GPIO2"`
	GPIO3Mode  GPIOMode `yaml:"GP3_mode"`
	GPIO3Value byte     `yaml:"GPIO3"`
}

type MCP2221GPIOParameters struct {
	GPIO0Mode        GPIOMode        `yaml:"GP0_mode"`
	GPIO0Designation GPIODesignation `yaml:"GP0_designation"`
	GPIO1Mode        GPIOMode        `yaml:"GP1_mode"`
	GPIO1Designation GPIODesignation `yaml:"GP1_designation"`
	GPIO2Mode        GPIOMode        `yaml:"GP2_mode"`
	GPIO2Designation GPIODesignation `yaml:"GP2_designation"`
	GPIO3Mode        GPIOMode        `yaml:"GP3_mode"`
	GPIO3Designation GPIODesignation `yaml:"GP3_designation"`
}

// SetGPIOParameters stores the pin designations in flash; they apply after
// the next power cycle.
func (d *MCP2221) SetGPIOParameters(ctx context.Context, params MCP2221GPIOParameters) error {
	d.mx.Lock()
	defer d.mx.Unlock()
	d.resetBuffers()
	d.request[0] = cmdWriteFlash
	d.request[1] = 0x01
	d.request[2] = byte(params.GPIO0Designation) | byte(params.GPIO0Mode)
	d.request[3] = byte(params.GPIO1Designation) | byte(params.GPIO1Mode)
	d.request[4] = byte(params.GPIO2Designation) | byte(params.GPIO2Mode)
	d.request[5] = byte(params.GPIO3Designation) | byte(params.GPIO3Mode)
	err := d.send(ctx)
	if err != nil {
		return fmt.Errorf("set GP parameters command write failed: %w", err)
	}
	// write could not be performed
	if d.response[1] != 0x00 {
		return ErrCommandFailed
	}
	return nil
}

func (d *MCP2221) GetGPIOParameters(ctx context.Context) (MCP2221GPIOParameters, error) {
	d.mx.Lock()
	defer d.mx.Unlock()
	d.resetBuffers()
	d.request[0] = cmdReadFlash
	d.request[1] = 0x01
	err := d.send(ctx)
	if err != nil {
		return MCP2221GPIOParameters{}, fmt.Errorf("get GP parameters command write failed: %w", err)
	}
	// read could not be performed
	if d.response[1] == 0x01 {
		return MCP2221GPIOParameters{}, ErrCommandUnsupported
	}
	return MCP2221GPIOParameters{
		GPIO0Mode:        GPIOMode(d.response[4] & gpioModeMask),
		GPIO0Designation: GPIODesignation(d.response[4] & gpioOperationMask),
		GPIO1Mode:        GPIOMode(d.response[5] & gpioModeMask),
		GPIO1Designation: GPIODesignation(d.response[5] & gpioOperationMask),
		GPIO2Mode:        GPIOMode(d.response[6] & gpioModeMask),
		GPIO2Designation: GPIODesignation(d.response[6] & gpioOperationMask),
		GPIO3Mode:        GPIOMode(d.response[7] & gpioModeMask),
		GPIO3Designation: GPIODesignation(d.response[7] & gpioOperationMask),
	}, nil
}

func (d *MCP2221) ReadGPIO(ctx context.Context) (MCP2221GPIOValues, error) {
	d.mx.Lock()
	defer d.mx.Unlock()
	d.resetBuffers()
	d.request[0] = cmdGetGPIOValues
	err := d.send(ctx)
	var res MCP2221GPIOValues
	if err != nil {
		return res, fmt.Errorf("read GPIO values command write failed: %w", err)
	}
	// read could not be performed
	if d.response[1] == 0x01 {
		return res, ErrCommandFailed
	}
	modes := []*GPIOMode{&res.GPIO0Mode, &res.GPIO1Mode, &res.GPIO2Mode, &res.GPIO3Mode}
	values := []*byte{&res.GPIO0Value, &res.GPIO1Value, &res.GPIO2Value, &res.GPIO3Value}
	for pin := range modes {
		*values[pin] = d.response[2+2*pin]
		*modes[pin] = GPIOModeNoOperation
		if dir := d.response[3+2*pin]; dir != byte(GPIOModeNoOperation) {
			*modes[pin] = GPIOMode(dir << 3)
		}
	}
	return res, nil
}

// SetGPIO drives output pin (0-3) to value. The pin must be designated as a
// GPIO output.
func (d *MCP2221) SetGPIO(ctx context.Context, pin int, value bool) error {
	if pin < 0 || pin > 3 {
		return fmt.Errorf("invalid GPIO pin %d", pin)
	}
	d.mx.Lock()
	defer d.mx.Unlock()
	d.resetBuffers()
	d.request[0] = cmdSetGPIOValues
	// per pin: alter output, output value, alter direction, direction
	offset := 2 + 4*pin
	d.request[offset] = 0x01
	if value {
		d.request[offset+1] = 0x01
	}
	if err := d.send(ctx); err != nil {
		return fmt.Errorf("set GPIO values command write failed: %w", err)
	}
	if d.response[1] != 0x00 || d.response[offset+1] == gpioNotOutput {
		return fmt.Errorf("GP%d is not a GPIO output: %w", pin, ErrCommandFailed)
	}
	return nil
}

// GPIOIndicator flips one adapter GPIO output once per call.
type GPIOIndicator struct {
	mx    sync.Mutex
	dev   *MCP2221
	pin   int
	level bool
}

func NewGPIOIndicator(dev *MCP2221, pin int) *GPIOIndicator {
	return &GPIOIndicator{dev: dev, pin: pin}
}

func (i *GPIOIndicator) Toggle(ctx context.Context) error {
	i.mx.Lock()
	defer i.mx.Unlock()
	if err := i.dev.SetGPIO(ctx, i.pin, !i.level); err != nil {
		return err
	}
	i.level = !i.level
	return nil
}
