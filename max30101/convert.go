package max30101

import (
	"context"
	"fmt"
)

// MaxChannels is the largest number of channels a profile samples.
const MaxChannels = 3

// ADC scaling
const (
	// CurrentLSB is the photodiode current of one ADC count, in nanoamps (7.81 pA).
	CurrentLSB float32 = 0.00781
	// FullScale is the ADC full-scale current in nanoamps.
	FullScale float32 = 2048
)

// Channel order on the wire.
const (
	Red = iota
	IR
	Green
)

// RawSample holds the big-endian byte pair of every channel as read from the
// data port.
type RawSample struct {
	Channels int
	Pairs    [MaxChannels][2]byte
}

// SampleCounts holds the 16-bit ADC count of every channel.
type SampleCounts struct {
	Channels int
	Values   [MaxChannels]uint16
}

// SampleCurrent holds the photodiode current of every channel in nanoamps.
type SampleCurrent struct {
	Channels int
	Values   [MaxChannels]float32
}

func (s SampleCurrent) Red() float32   { return s.Values[Red] }
func (s SampleCurrent) IR() float32    { return s.Values[IR] }
func (s SampleCurrent) Green() float32 { return s.Values[Green] }

// ToCounts combines each channel byte pair into its ADC count.
func ToCounts(raw RawSample) SampleCounts {
	out := SampleCounts{Channels: raw.Channels}
	for ch := 0; ch < raw.Channels; ch++ {
		out.Values[ch] = uint16(raw.Pairs[ch][0])<<8 | uint16(raw.Pairs[ch][1])
	}
	return out
}

// ToCurrent scales ADC counts to nanoamps.
func ToCurrent(counts SampleCounts) SampleCurrent {
	out := SampleCurrent{Channels: counts.Channels}
	for ch := 0; ch < counts.Channels; ch++ {
		out.Values[ch] = countToCurrent(counts.Values[ch])
	}
	return out
}

// countToCurrent is the single scaling operation shared by the two-stage and
// the fused path; both must produce identical bits.
func countToCurrent(count uint16) float32 {
	return float32(count) * CurrentLSB
}

// ReadAndConvert reads n samples and converts them straight to nanoamps into
// dst, returning dst[:n]. No intermediate RawSample or SampleCounts is built.
// It performs no bus transaction when n is 0.
func (d *Device) ReadAndConvert(ctx context.Context, st State, dst []SampleCurrent, n int) ([]SampleCurrent, error) {
	if err := d.checkRead(st, n, len(dst)); err != nil {
		return nil, err
	}
	channels := st.Channels()
	for i := 0; i < n; i++ {
		buf := d.scratch[:channels*2]
		if err := d.read(ctx, RegFIFOData, buf); err != nil {
			return dst[:i], fmt.Errorf("max30101: could not read sample %d/%d: %w", i+1, n, err)
		}
		d.pending--
		dst[i].Channels = channels
		for ch := 0; ch < MaxChannels; ch++ {
			if ch >= channels {
				dst[i].Values[ch] = 0
				continue
			}
			dst[i].Values[ch] = countToCurrent(uint16(buf[2*ch])<<8 | uint16(buf[2*ch+1]))
		}
	}
	return dst[:n], nil
}
