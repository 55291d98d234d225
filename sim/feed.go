package sim

import (
	"context"
	"math"
	"time"
)

// Generator returns the counts of the n-th sample for the given number of
// channels.
type Generator func(n uint64, channels int) []uint16

// Pulse produces a slow sine per channel around 1024 counts, loosely resembling
// a perfusion signal.
func Pulse(n uint64, channels int) []uint16 {
	out := make([]uint16, channels)
	for ch := range out {
		phase := float64(n)/50*2*math.Pi + float64(ch)
		out[ch] = uint16(1024 + 400*math.Sin(phase) + 100*float64(ch))
	}
	return out
}

// Feed pushes one generated sample every tick until ctx is done. Nothing is
// pushed while the mode register selects no channels.
func (s *MAX30101) Feed(ctx context.Context, every time.Duration, gen Generator) error {
	ticker := time.NewTicker(every)
	defer ticker.Stop()
	var n uint64
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			s.mx.Lock()
			channels := s.channels()
			if channels > 0 {
				s.push(Sample(gen(n, channels)...))
				n++
			}
			s.mx.Unlock()
		}
	}
}
