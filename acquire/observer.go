package acquire

import (
	"log/slog"
	"sync/atomic"

	"github.com/mklimuk/nirs/max30101"
)

// Observer is told about the outcome of every period. Calls are made from the
// trigger context and must not block.
type Observer interface {
	PeriodCompleted(period uint64, samples int)
	PeriodSkipped(period uint64, err error)
	// FIFOAmbiguous reports equal FIFO pointers with a non-zero overflow
	// counter: the FIFO may hold 32 samples although 0 are reported.
	FIFOAmbiguous(period uint64, status max30101.FIFOStatus)
}

// LogObserver reports through log/slog.
type LogObserver struct {
	Logger *slog.Logger
}

func (o LogObserver) logger() *slog.Logger {
	if o.Logger == nil {
		return slog.Default()
	}
	return o.Logger
}

func (o LogObserver) PeriodCompleted(period uint64, samples int) {
	o.logger().Debug("period completed", "period", period, "samples", samples)
}

func (o LogObserver) PeriodSkipped(period uint64, err error) {
	o.logger().Warn("period skipped", "period", period, "error", err)
}

func (o LogObserver) FIFOAmbiguous(period uint64, status max30101.FIFOStatus) {
	o.logger().Warn("FIFO may be full, samples lost", "period", period, "write_ptr", status.Write, "read_ptr", status.Read, "overflow", status.Overflow)
}

// Stats is a snapshot of the trigger counters.
type Stats struct {
	Periods   uint64 `yaml:"periods"`
	Published uint64 `yaml:"published"`
	Empty     uint64 `yaml:"empty"`
	Skipped   uint64 `yaml:"skipped"`
	Overruns  uint64 `yaml:"overruns"`
	Ambiguous uint64 `yaml:"ambiguous"`
}

type counters struct {
	periods   atomic.Uint64
	published atomic.Uint64
	empty     atomic.Uint64
	skipped   atomic.Uint64
	overruns  atomic.Uint64
	ambiguous atomic.Uint64
}

func (c *counters) snapshot() Stats {
	return Stats{
		Periods:   c.periods.Load(),
		Published: c.published.Load(),
		Empty:     c.empty.Load(),
		Skipped:   c.skipped.Load(),
		Overruns:  c.overruns.Load(),
		Ambiguous: c.ambiguous.Load(),
	}
}
