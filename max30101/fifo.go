package max30101

import (
	"context"
	"fmt"
)

// FIFOStatus is a snapshot of the FIFO pointer registers taken in one burst.
type FIFOStatus struct {
	Write    uint8 `yaml:"write_ptr"`
	Overflow uint8 `yaml:"overflow"`
	Read     uint8 `yaml:"read_ptr"`
}

// Available returns the number of unread samples, (write - read) mod 32.
//
// Equal pointers yield 0 although the FIFO may be exactly full; the two
// pointers alone cannot tell these apart. See MaybeFull.
func (s FIFOStatus) Available() int {
	return Available(s.Write, s.Read)
}

// MaybeFull reports equal pointers together with a non-zero overflow counter,
// the one case where Available reports 0 but 32 samples may be waiting.
func (s FIFOStatus) MaybeFull() bool {
	return s.Write&pointerMask == s.Read&pointerMask && s.Overflow > 0
}

// Available computes the pending sample count from raw pointer register values.
func Available(writePtr, readPtr uint8) int {
	return int((writePtr - readPtr) & pointerMask)
}

// FIFOStatus reads the write pointer, overflow counter and read pointer. A
// status that is MaybeFull allows a following read of up to FIFODepth
// samples even though Available reports 0.
func (d *Device) FIFOStatus(ctx context.Context) (FIFOStatus, error) {
	buf := d.scratch[:3]
	if err := d.read(ctx, RegFIFOWritePtr, buf); err != nil {
		return FIFOStatus{}, fmt.Errorf("max30101: could not read FIFO pointers: %w", err)
	}
	st := FIFOStatus{
		Write:    buf[0] & pointerMask,
		Overflow: buf[1] & pointerMask,
		Read:     buf[2] & pointerMask,
	}
	d.pending = st.Available()
	if st.MaybeFull() {
		// reading any sample clears the counter, so it is only non-zero
		// here when the FIFO wrapped and holds FIFODepth samples
		d.pending = FIFODepth
	}
	return st, nil
}

// Available returns the number of complete samples waiting in the FIFO.
func (d *Device) Available(ctx context.Context) (int, error) {
	st, err := d.FIFOStatus(ctx)
	if err != nil {
		return 0, err
	}
	return st.Available(), nil
}

// ReadRaw streams n samples out of the data port into dst and returns dst[:n].
// n must not exceed the count reported by the latest Available call, nor the
// capacity of dst; both are checked before touching the bus.
func (d *Device) ReadRaw(ctx context.Context, st State, dst []RawSample, n int) ([]RawSample, error) {
	if err := d.checkRead(st, n, len(dst)); err != nil {
		return nil, err
	}
	size := st.SampleBytes()
	for i := 0; i < n; i++ {
		buf := d.scratch[:size]
		if err := d.read(ctx, RegFIFOData, buf); err != nil {
			return dst[:i], fmt.Errorf("max30101: could not read sample %d/%d: %w", i+1, n, err)
		}
		d.pending--
		dst[i] = RawSample{Channels: st.Channels()}
		for ch := 0; ch < st.Channels(); ch++ {
			dst[i].Pairs[ch] = [2]byte{buf[2*ch], buf[2*ch+1]}
		}
	}
	return dst[:n], nil
}

func (d *Device) checkRead(st State, n, capacity int) error {
	if !st.Configured() {
		return ErrNotConfigured
	}
	if n < 0 || n > FIFODepth {
		return fmt.Errorf("%w: %d not in [0, %d]", ErrInvalidSampleCount, n, FIFODepth)
	}
	if n > capacity {
		return fmt.Errorf("%w: %d samples requested, room for %d", ErrBufferOverflow, n, capacity)
	}
	if n > d.pending {
		return fmt.Errorf("%w: %d samples requested, %d available", ErrInvalidSampleCount, n, d.pending)
	}
	return nil
}
