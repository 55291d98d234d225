package gpio

import (
	"context"
	"fmt"
	"time"

	"github.com/mklimuk/nirs"
	"github.com/mklimuk/nirs/twowire"
	"periph.io/x/conn/v3/gpio"
	"periph.io/x/conn/v3/physic"
)

// Line is the part of a GPIO pin the bit-banged bus needs. Any periph
// gpio.PinIO satisfies it.
type Line interface {
	In(pull gpio.Pull, edge gpio.Edge) error
	Read() gpio.Level
	Out(l gpio.Level) error
}

var _ twowire.Lines = &BitBang{}

const DefaultFrequency = 400 * physic.KiloHertz

type BitBangOpts struct {
	Frequency physic.Frequency
}

type BitBangOpt func(*BitBangOpts)

func WithFrequency(f physic.Frequency) BitBangOpt {
	return func(o *BitBangOpts) {
		o.Frequency = f
	}
}

// BitBang drives SDA and SCL as open-drain lines: a line is pulled low by
// switching the pin to output low and released by switching it to an input
// with pull-up. External pull-ups are still expected on real hardware.
type BitBang struct {
	sda, scl Line
	config   BitBangOpts
	half     time.Duration
	held     bool
}

func NewBitBang(sda, scl Line, opts ...BitBangOpt) *BitBang {
	config := BitBangOpts{
		Frequency: DefaultFrequency,
	}
	for _, opt := range opts {
		opt(&config)
	}
	return &BitBang{
		sda:    sda,
		scl:    scl,
		config: config,
		half:   config.Frequency.Period() / 2,
	}
}

func release(l Line) error {
	return l.In(gpio.PullUp, gpio.NoEdge)
}

func pull(l Line) error {
	return l.Out(gpio.Low)
}

// delay spins for half a clock period; sleeping is far coarser than that.
func (b *BitBang) delay() {
	for start := time.Now(); time.Since(start) < b.half; {
	}
}

// sclHigh releases the clock and waits while a slave stretches it.
func (b *BitBang) sclHigh(ctx context.Context) error {
	if err := release(b.scl); err != nil {
		return fmt.Errorf("gpio: release SCL: %w", err)
	}
	for b.scl.Read() == gpio.Low {
		if err := ctx.Err(); err != nil {
			return fmt.Errorf("gpio: SCL held low: %w", err)
		}
	}
	return nil
}

func (b *BitBang) sclLow() error {
	if err := pull(b.scl); err != nil {
		return fmt.Errorf("gpio: pull SCL: %w", err)
	}
	return nil
}

func (b *BitBang) setSDA(level gpio.Level) error {
	var err error
	if level == gpio.High {
		err = release(b.sda)
	} else {
		err = pull(b.sda)
	}
	if err != nil {
		return fmt.Errorf("gpio: set SDA %s: %w", level, err)
	}
	return nil
}

// Start implements twowire.Lines. A first START waits for both lines to be
// released by any other party and reports nirs.ErrBusBusy if they are not
// before ctx expires.
func (b *BitBang) Start(ctx context.Context) error {
	if b.held {
		if err := b.setSDA(gpio.High); err != nil {
			return err
		}
		b.delay()
		if err := b.sclHigh(ctx); err != nil {
			return err
		}
		b.delay()
	} else {
		if err := release(b.sda); err != nil {
			return fmt.Errorf("gpio: release SDA: %w", err)
		}
		if err := release(b.scl); err != nil {
			return fmt.Errorf("gpio: release SCL: %w", err)
		}
		for b.sda.Read() == gpio.Low || b.scl.Read() == gpio.Low {
			if ctx.Err() != nil {
				return fmt.Errorf("gpio: lines not idle: %w", nirs.ErrBusBusy)
			}
		}
	}
	if err := b.setSDA(gpio.Low); err != nil {
		return err
	}
	b.delay()
	if err := b.sclLow(); err != nil {
		return err
	}
	b.held = true
	return nil
}

// Stop implements twowire.Lines.
func (b *BitBang) Stop(ctx context.Context) error {
	b.held = false
	if err := b.setSDA(gpio.Low); err != nil {
		return err
	}
	b.delay()
	if err := b.sclHigh(ctx); err != nil {
		return err
	}
	b.delay()
	if err := b.setSDA(gpio.High); err != nil {
		return err
	}
	b.delay()
	return nil
}

// clock runs one SCL pulse with SDA at level and returns SDA as sampled while
// SCL was high.
func (b *BitBang) clock(ctx context.Context, level gpio.Level) (gpio.Level, error) {
	if err := b.setSDA(level); err != nil {
		return gpio.Low, err
	}
	b.delay()
	if err := b.sclHigh(ctx); err != nil {
		return gpio.Low, err
	}
	sampled := b.sda.Read()
	b.delay()
	if err := b.sclLow(); err != nil {
		return gpio.Low, err
	}
	return sampled, nil
}

// Send implements twowire.Lines.
func (b *BitBang) Send(ctx context.Context, v byte) (bool, error) {
	for i := 7; i >= 0; i-- {
		if _, err := b.clock(ctx, v&(1<<i) != 0); err != nil {
			return false, err
		}
	}
	ack, err := b.clock(ctx, gpio.High)
	if err != nil {
		return false, err
	}
	return ack == gpio.Low, nil
}

// Receive implements twowire.Lines.
func (b *BitBang) Receive(ctx context.Context, ack bool) (byte, error) {
	var v byte
	for i := 0; i < 8; i++ {
		level, err := b.clock(ctx, gpio.High)
		if err != nil {
			return 0, err
		}
		v <<= 1
		if level == gpio.High {
			v |= 1
		}
	}
	if _, err := b.clock(ctx, gpio.Level(!ack)); err != nil {
		return 0, err
	}
	return v, nil
}
