// Package twowire implements the master side of the two-wire (I2C) protocol on
// top of a byte-level primitive layer.
//
// Typical usage:
//
//	e := twowire.New(lines, twowire.WithTimeout(2*time.Millisecond))
//	err := e.WriteRegister(ctx, 0x57, 0x09, 0x03)
//	buf := make([]byte, 6)
//	err = e.ReadRegisters(ctx, 0x57, 0x07, buf)
package twowire

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/mklimuk/nirs"
	"github.com/mklimuk/nirs/snsctx"
)

// Lines is the byte-level primitive layer the engine drives. Every call blocks
// until the lines settle or ctx expires.
type Lines interface {
	// Start issues a START condition, or a repeated START when the bus is
	// already held by a previous Start without Stop. It returns
	// nirs.ErrBusBusy when the bus could not be acquired.
	Start(ctx context.Context) error
	// Stop issues a STOP condition and releases the bus.
	Stop(ctx context.Context) error
	// Send clocks out one byte and reports whether the slave acknowledged it.
	Send(ctx context.Context, b byte) (bool, error)
	// Receive clocks in one byte and answers with ACK when ack is true.
	Receive(ctx context.Context, ack bool) (byte, error)
}

const (
	writeBit = 0x00
	readBit  = 0x01
)

const DefaultTimeout = 5 * time.Millisecond

type EngineOpts struct {
	// Timeout bounds every single primitive (one START, one byte, one STOP).
	Timeout time.Duration
}

type EngineOpt func(*EngineOpts)

func WithTimeout(timeout time.Duration) EngineOpt {
	return func(o *EngineOpts) {
		o.Timeout = timeout
	}
}

var _ nirs.RegisterBus = &Engine{}

// Engine is a stateless two-wire master. Calls are serialised; nothing is
// retained between transactions.
type Engine struct {
	mx     sync.Mutex
	lines  Lines
	config EngineOpts
}

func New(lines Lines, opts ...EngineOpt) *Engine {
	config := EngineOpts{
		Timeout: DefaultTimeout,
	}
	for _, opt := range opts {
		opt(&config)
	}
	return &Engine{lines: lines, config: config}
}

// WriteRegister issues START, address+W, register, value, STOP.
func (e *Engine) WriteRegister(ctx context.Context, address, register, value byte) error {
	e.mx.Lock()
	defer e.mx.Unlock()
	if err := e.start(ctx); err != nil {
		return fmt.Errorf("twowire: write %#02x@%#02x: %w", register, address, err)
	}
	for i, b := range []byte{address<<1 | writeBit, register, value} {
		if err := e.send(ctx, b); err != nil {
			e.abort(ctx)
			return fmt.Errorf("twowire: write %#02x@%#02x byte %d: %w", register, address, i, err)
		}
	}
	if err := e.stop(ctx); err != nil {
		return fmt.Errorf("twowire: write %#02x@%#02x stop: %w", register, address, err)
	}
	return nil
}

// ReadRegisters issues START, address+W, register, repeated START, address+R,
// then clocks len(buffer) bytes acknowledging all but the last one, and STOP.
func (e *Engine) ReadRegisters(ctx context.Context, address, register byte, buffer []byte) error {
	if len(buffer) == 0 {
		return nil
	}
	e.mx.Lock()
	defer e.mx.Unlock()
	if err := e.start(ctx); err != nil {
		return fmt.Errorf("twowire: read %#02x@%#02x: %w", register, address, err)
	}
	for i, b := range []byte{address<<1 | writeBit, register} {
		if err := e.send(ctx, b); err != nil {
			e.abort(ctx)
			return fmt.Errorf("twowire: read %#02x@%#02x header byte %d: %w", register, address, i, err)
		}
	}
	if err := e.start(ctx); err != nil {
		e.abort(ctx)
		return fmt.Errorf("twowire: read %#02x@%#02x repeated start: %w", register, address, err)
	}
	if err := e.send(ctx, address<<1|readBit); err != nil {
		e.abort(ctx)
		return fmt.Errorf("twowire: read %#02x@%#02x address: %w", register, address, err)
	}
	last := len(buffer) - 1
	for i := range buffer {
		b, err := e.receive(ctx, i < last)
		if err != nil {
			e.abort(ctx)
			return fmt.Errorf("twowire: read %#02x@%#02x data byte %d: %w", register, address, i, err)
		}
		buffer[i] = b
	}
	if err := e.stop(ctx); err != nil {
		return fmt.Errorf("twowire: read %#02x@%#02x stop: %w", register, address, err)
	}
	return nil
}

func (e *Engine) start(ctx context.Context) error {
	return e.bounded(ctx, func(ctx context.Context) error {
		return e.lines.Start(ctx)
	})
}

func (e *Engine) stop(ctx context.Context) error {
	return e.bounded(ctx, func(ctx context.Context) error {
		return e.lines.Stop(ctx)
	})
}

func (e *Engine) send(ctx context.Context, b byte) error {
	return e.bounded(ctx, func(ctx context.Context) error {
		ack, err := e.lines.Send(ctx, b)
		if err != nil {
			return err
		}
		if !ack {
			return nirs.ErrSlaveNack
		}
		return nil
	})
}

func (e *Engine) receive(ctx context.Context, ack bool) (byte, error) {
	var b byte
	err := e.bounded(ctx, func(ctx context.Context) error {
		var err error
		b, err = e.lines.Receive(ctx, ack)
		return err
	})
	return b, err
}

// bounded runs a primitive under its own deadline. Expiry of that deadline is
// reported as nirs.ErrTimeout; cancellation of the parent is passed through.
func (e *Engine) bounded(ctx context.Context, fn func(ctx context.Context) error) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	pctx, cancel := context.WithTimeout(ctx, e.config.Timeout)
	defer cancel()
	err := fn(pctx)
	if err == nil {
		return nil
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return fmt.Errorf("%w after %s: %w", nirs.ErrTimeout, e.config.Timeout, err)
	}
	return err
}

// abort releases the bus after a failed byte. The STOP gets a fresh deadline
// so it is attempted even when the failure was a timeout.
func (e *Engine) abort(ctx context.Context) {
	sctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), e.config.Timeout)
	defer cancel()
	if err := e.lines.Stop(sctx); err != nil {
		attrs := []any{"error", err}
		if period, ok := snsctx.Period(ctx); ok {
			attrs = append(attrs, "period", period)
		}
		slog.Debug("twowire: could not release bus after failure", attrs...)
	}
}
