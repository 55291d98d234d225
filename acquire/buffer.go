package acquire

import (
	"sync"
	"time"

	"github.com/mklimuk/nirs/max30101"
)

const DefaultCapacity = 8

// Snapshot is the content of one published period.
type Snapshot struct {
	Period  uint64                   `yaml:"period"`
	At      time.Time                `yaml:"at"`
	Samples []max30101.SampleCurrent `yaml:"-"`
}

type slotMeta struct {
	period uint64
	at     time.Time
	n      int
}

// ResultBuffer hands converted samples from the trigger to the foreground.
// The trigger fills the back slot without holding the lock and publishes it by
// swapping slots; readers copy the front slot under the same lock, so a reader
// sees either the previous period or the new one, never a mix.
type ResultBuffer struct {
	mx        sync.Mutex
	slots     [2][]max30101.SampleCurrent
	meta      [2]slotMeta
	front     int
	published bool
}

// NewResultBuffer allocates both slots up front. A capacity outside
// [1, FIFODepth] is replaced by DefaultCapacity or clamped to the FIFO depth.
func NewResultBuffer(capacity int) *ResultBuffer {
	if capacity <= 0 {
		capacity = DefaultCapacity
	}
	if capacity > max30101.FIFODepth {
		capacity = max30101.FIFODepth
	}
	b := &ResultBuffer{}
	for i := range b.slots {
		b.slots[i] = make([]max30101.SampleCurrent, capacity)
	}
	return b
}

func (b *ResultBuffer) Capacity() int {
	return len(b.slots[0])
}

// back returns the slot the writer may fill. Only one writer may use it at a
// time.
func (b *ResultBuffer) back() []max30101.SampleCurrent {
	b.mx.Lock()
	defer b.mx.Unlock()
	return b.slots[1-b.front]
}

// publish makes the first n samples of the back slot the current content.
func (b *ResultBuffer) publish(period uint64, n int, at time.Time) {
	b.mx.Lock()
	defer b.mx.Unlock()
	next := 1 - b.front
	b.meta[next] = slotMeta{period: period, at: at, n: n}
	b.front = next
	b.published = true
}

// CopyTo copies the latest published samples into dst and returns the
// snapshot with Samples pointing into dst. Samples beyond len(dst) are
// dropped. ok is false until a first period has been published.
func (b *ResultBuffer) CopyTo(dst []max30101.SampleCurrent) (Snapshot, bool) {
	b.mx.Lock()
	defer b.mx.Unlock()
	if !b.published {
		return Snapshot{}, false
	}
	meta := b.meta[b.front]
	n := copy(dst, b.slots[b.front][:meta.n])
	return Snapshot{Period: meta.period, At: meta.at, Samples: dst[:n]}, true
}

// Latest returns a copy of the latest published period.
func (b *ResultBuffer) Latest() (Snapshot, bool) {
	return b.CopyTo(make([]max30101.SampleCurrent, b.Capacity()))
}

// Period returns the period number of the latest published content.
func (b *ResultBuffer) Period() (uint64, bool) {
	b.mx.Lock()
	defer b.mx.Unlock()
	return b.meta[b.front].period, b.published
}
