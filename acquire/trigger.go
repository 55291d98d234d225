// Package acquire runs the periodic acquisition: once per period it drains the
// sensor FIFO into a double-buffered result buffer that a foreground consumer
// reads without ever seeing a mix of two periods.
package acquire

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/mklimuk/nirs/max30101"
	"github.com/mklimuk/nirs/snsctx"
)

var ErrOverrun = errors.New("acquire: previous period still in progress")

// Source is the sensor side of a period. *max30101.Device implements it.
type Source interface {
	FIFOStatus(ctx context.Context) (max30101.FIFOStatus, error)
	ReadAndConvert(ctx context.Context, st max30101.State, dst []max30101.SampleCurrent, n int) ([]max30101.SampleCurrent, error)
}

// Indicator is toggled once per period, whatever its outcome.
type Indicator interface {
	Toggle(ctx context.Context) error
}

// ConfigureFunc applies a device configuration and returns the resulting state.
type ConfigureFunc func(ctx context.Context) (max30101.State, error)

type TriggerOpts struct {
	Indicator Indicator
	Observer  Observer
}

type TriggerOpt func(*TriggerOpts)

func WithIndicator(indicator Indicator) TriggerOpt {
	return func(o *TriggerOpts) {
		o.Indicator = indicator
	}
}

func WithObserver(observer Observer) TriggerOpt {
	return func(o *TriggerOpts) {
		o.Observer = observer
	}
}

type nopIndicator struct{}

func (nopIndicator) Toggle(context.Context) error { return nil }

// Trigger owns the sensor bus for the duration of each period. Ticks never
// overlap: a tick arriving while another runs is dropped as an overrun.
type Trigger struct {
	mx       sync.Mutex
	source   Source
	state    max30101.State
	buffer   *ResultBuffer
	config   TriggerOpts
	counters counters
	now      func() time.Time
}

// NewTrigger prepares a trigger for a source configured as st. The zero state
// is accepted; every period then fails until Reconfigure succeeds.
func NewTrigger(source Source, st max30101.State, buffer *ResultBuffer, opts ...TriggerOpt) *Trigger {
	config := TriggerOpts{
		Indicator: nopIndicator{},
		Observer:  LogObserver{},
	}
	for _, opt := range opts {
		opt(&config)
	}
	return &Trigger{
		source: source,
		state:  st,
		buffer: buffer,
		config: config,
		now:    time.Now,
	}
}

// Tick runs one acquisition period: read the FIFO status, drain up to the
// buffer capacity, publish, toggle the indicator. A failure skips the period
// and leaves the previously published samples in place.
func (t *Trigger) Tick(ctx context.Context) error {
	period := t.counters.periods.Add(1)
	if !t.mx.TryLock() {
		t.counters.overruns.Add(1)
		t.config.Observer.PeriodSkipped(period, ErrOverrun)
		return ErrOverrun
	}
	defer t.mx.Unlock()
	ctx = snsctx.SetPeriod(ctx, period)

	n, err := t.acquire(ctx, period)
	if terr := t.config.Indicator.Toggle(ctx); terr != nil {
		slog.Warn("could not toggle indicator", "period", period, "error", terr)
	}
	if err != nil {
		t.counters.skipped.Add(1)
		t.config.Observer.PeriodSkipped(period, err)
		return fmt.Errorf("acquire: period %d: %w", period, err)
	}
	t.config.Observer.PeriodCompleted(period, n)
	return nil
}

func (t *Trigger) acquire(ctx context.Context, period uint64) (int, error) {
	status, err := t.source.FIFOStatus(ctx)
	if err != nil {
		return 0, err
	}
	available := status.Available()
	if status.MaybeFull() {
		// pops clear the overflow counter, so equal pointers with overflow
		// mean a wrapped FIFO; draining it restarts the pointer distance
		t.counters.ambiguous.Add(1)
		t.config.Observer.FIFOAmbiguous(period, status)
		available = max30101.FIFODepth
	}
	n := min(available, t.buffer.Capacity())
	if n == 0 {
		t.counters.empty.Add(1)
		return 0, nil
	}
	out, err := t.source.ReadAndConvert(ctx, t.state, t.buffer.back(), n)
	if err != nil {
		return 0, err
	}
	t.buffer.publish(period, len(out), t.now())
	t.counters.published.Add(1)
	return len(out), nil
}

// Run ticks every period until ctx is done. Each tick is bounded by a deadline
// of one period so a stalled bus cannot delay the following ones. Tick errors
// are reported to the observer and do not stop the loop.
func (t *Trigger) Run(ctx context.Context, period time.Duration) error {
	if period <= 0 {
		return fmt.Errorf("acquire: invalid period %s", period)
	}
	ticker := time.NewTicker(period)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			tctx, cancel := context.WithTimeout(ctx, period)
			_ = t.Tick(tctx)
			cancel()
		}
	}
}

// Reconfigure applies fn while no period is running and threads the new state
// into the following periods. Published samples are kept; they become stale
// until the next successful period. On failure the trigger is left
// unconfigured so periods fail instead of reading with a wrong layout.
func (t *Trigger) Reconfigure(ctx context.Context, fn ConfigureFunc) (max30101.State, error) {
	t.mx.Lock()
	defer t.mx.Unlock()
	st, err := fn(ctx)
	if err != nil {
		t.state = max30101.State{}
		return st, fmt.Errorf("acquire: reconfigure: %w", err)
	}
	t.state = st
	return st, nil
}

func (t *Trigger) State() max30101.State {
	t.mx.Lock()
	defer t.mx.Unlock()
	return t.state
}

// Periods returns the number of ticks so far, including skipped ones.
func (t *Trigger) Periods() uint64 {
	return t.counters.periods.Load()
}

// Staleness returns how many periods passed since the published samples were
// acquired. ok is false when nothing has been published yet.
func (t *Trigger) Staleness() (uint64, bool) {
	last, ok := t.buffer.Period()
	if !ok {
		return 0, false
	}
	return t.Periods() - last, true
}

func (t *Trigger) Stats() Stats {
	return t.counters.snapshot()
}

func (t *Trigger) Buffer() *ResultBuffer {
	return t.buffer
}
