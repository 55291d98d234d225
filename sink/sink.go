// Package sink is the foreground side of the acquisition: it polls the result
// buffer and writes every newly published period to an output stream.
package sink

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/mklimuk/nirs/acquire"
	"github.com/mklimuk/nirs/max30101"
	"gopkg.in/yaml.v3"
)

type Format string

const (
	FormatText Format = "text"
	FormatYAML Format = "yaml"
)

var ErrUnknownFormat = errors.New("sink: unknown output format")

const DefaultInterval = 100 * time.Millisecond

type SinkOpts struct {
	Format   Format
	Interval time.Duration
	Summary  bool
}

type SinkOpt func(*SinkOpts)

func WithFormat(format Format) SinkOpt {
	return func(o *SinkOpts) {
		o.Format = format
	}
}

// WithInterval sets how often the result buffer is polled. It should be
// shorter than the acquisition period or periods will be missed.
func WithInterval(interval time.Duration) SinkOpt {
	return func(o *SinkOpts) {
		o.Interval = interval
	}
}

func WithSummary(summary bool) SinkOpt {
	return func(o *SinkOpts) {
		o.Summary = summary
	}
}

// Sink writes published periods to out. It is not safe for concurrent use.
type Sink struct {
	buffer  *acquire.ResultBuffer
	out     io.Writer
	config  SinkOpts
	enc     *yaml.Encoder
	scratch []max30101.SampleCurrent
	last    uint64
	written uint64
}

func New(buffer *acquire.ResultBuffer, out io.Writer, opts ...SinkOpt) (*Sink, error) {
	config := SinkOpts{
		Format:   FormatText,
		Interval: DefaultInterval,
	}
	for _, opt := range opts {
		opt(&config)
	}
	s := &Sink{
		buffer:  buffer,
		out:     out,
		config:  config,
		scratch: make([]max30101.SampleCurrent, buffer.Capacity()),
	}
	switch config.Format {
	case FormatText:
	case FormatYAML:
		s.enc = yaml.NewEncoder(out)
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownFormat, config.Format)
	}
	return s, nil
}

// Poll writes the latest period if it was not written before. It reports
// whether a record was written.
func (s *Sink) Poll() (bool, error) {
	snap, ok := s.buffer.CopyTo(s.scratch)
	if !ok || snap.Period == s.last {
		return false, nil
	}
	s.last = snap.Period
	if err := s.write(NewRecord(snap, s.config.Summary)); err != nil {
		return false, err
	}
	s.written++
	return true, nil
}

// Run polls until ctx is done. A write error stops it.
func (s *Sink) Run(ctx context.Context) error {
	ticker := time.NewTicker(s.config.Interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			if _, err := s.Poll(); err != nil {
				return err
			}
		}
	}
}

// Written returns the number of records written so far.
func (s *Sink) Written() uint64 {
	return s.written
}

func (s *Sink) Close() error {
	if s.enc != nil {
		return s.enc.Close()
	}
	return nil
}

func (s *Sink) write(rec Record) error {
	if s.enc != nil {
		if err := s.enc.Encode(rec); err != nil {
			return fmt.Errorf("sink: could not encode period %d: %w", rec.Period, err)
		}
		return nil
	}
	if _, err := io.WriteString(s.out, FormatRecord(rec)); err != nil {
		return fmt.Errorf("sink: could not write period %d: %w", rec.Period, err)
	}
	return nil
}

// FormatRecord renders rec as text, one line per sample followed by one line
// per channel summary.
func FormatRecord(rec Record) string {
	var b strings.Builder
	fmt.Fprintf(&b, "period %d at %s: %d samples\n", rec.Period, rec.At.Format(time.RFC3339Nano), len(rec.Samples))
	for i, values := range rec.Samples {
		fmt.Fprintf(&b, "%3d", i)
		for ch, v := range values {
			fmt.Fprintf(&b, " %s=%.4f", channelNames[ch], v)
		}
		b.WriteByte('\n')
	}
	for _, sum := range rec.Summary {
		fmt.Fprintf(&b, "    %s min=%.4f max=%.4f mean=%.4f sd=%.4f\n", sum.Channel, sum.Min, sum.Max, sum.Mean, sum.StdDev)
	}
	return b.String()
}
