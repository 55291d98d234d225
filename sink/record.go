package sink

import (
	"time"

	"github.com/chewxy/math32"
	"github.com/mklimuk/nirs/acquire"
	"github.com/mklimuk/nirs/max30101"
)

var channelNames = [max30101.MaxChannels]string{"red", "ir", "green"}

// Record is one published period as written to the output.
type Record struct {
	Period   uint64           `yaml:"period"`
	At       time.Time        `yaml:"at"`
	Channels int              `yaml:"channels"`
	Samples  [][]float32      `yaml:"samples,flow"`
	Summary  []ChannelSummary `yaml:"summary,omitempty"`
}

// ChannelSummary describes one channel over a period, in nanoamps.
type ChannelSummary struct {
	Channel string  `yaml:"channel"`
	Min     float32 `yaml:"min"`
	Max     float32 `yaml:"max"`
	Mean    float32 `yaml:"mean"`
	StdDev  float32 `yaml:"stddev"`
}

func NewRecord(snap acquire.Snapshot, summary bool) Record {
	rec := Record{
		Period:  snap.Period,
		At:      snap.At,
		Samples: make([][]float32, len(snap.Samples)),
	}
	for i, s := range snap.Samples {
		rec.Channels = s.Channels
		rec.Samples[i] = append([]float32(nil), s.Values[:s.Channels]...)
	}
	if summary {
		rec.Summary = Summarize(snap.Samples)
	}
	return rec
}

// Summarize computes per-channel statistics. It returns nil for no samples.
func Summarize(samples []max30101.SampleCurrent) []ChannelSummary {
	if len(samples) == 0 {
		return nil
	}
	channels := samples[0].Channels
	out := make([]ChannelSummary, channels)
	for ch := range out {
		sum := ChannelSummary{
			Channel: channelNames[ch],
			Min:     math32.Inf(1),
			Max:     math32.Inf(-1),
		}
		var total float32
		for _, s := range samples {
			v := s.Values[ch]
			sum.Min = math32.Min(sum.Min, v)
			sum.Max = math32.Max(sum.Max, v)
			total += v
		}
		sum.Mean = total / float32(len(samples))
		var sq float32
		for _, s := range samples {
			d := s.Values[ch] - sum.Mean
			sq += d * d
		}
		sum.StdDev = math32.Sqrt(sq / float32(len(samples)))
		out[ch] = sum
	}
	return out
}
