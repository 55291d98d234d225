package acquire

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/mklimuk/nirs"
	"github.com/mklimuk/nirs/max30101"
	"github.com/mklimuk/nirs/sim"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

type MockIndicator struct {
	mock.Mock
}

func (m *MockIndicator) Toggle(ctx context.Context) error {
	args := m.Called(ctx)
	return args.Error(0)
}

type MockObserver struct {
	mock.Mock
}

func (m *MockObserver) PeriodCompleted(period uint64, samples int) {
	m.Called(period, samples)
}

func (m *MockObserver) PeriodSkipped(period uint64, err error) {
	m.Called(period, err)
}

func (m *MockObserver) FIFOAmbiguous(period uint64, status max30101.FIFOStatus) {
	m.Called(period, status)
}

func setup(t *testing.T, capacity int) (*sim.MAX30101, *max30101.Device, *Trigger, *MockIndicator, *MockObserver) {
	t.Helper()
	dev := sim.NewMAX30101()
	d := max30101.New(dev)
	st, err := d.ConfigureDualChannelLowPower(context.Background())
	require.NoError(t, err)
	ind := &MockIndicator{}
	ind.On("Toggle", mock.Anything).Return(nil)
	obs := &MockObserver{}
	trig := NewTrigger(d, st, NewResultBuffer(capacity), WithIndicator(ind), WithObserver(obs))
	return dev, d, trig, ind, obs
}

func push(dev *sim.MAX30101, n int, base uint16) {
	for i := 0; i < n; i++ {
		dev.Push(sim.Sample(base+uint16(i), base+uint16(i)+0x100))
	}
}

func TestTick_PublishesSamples(t *testing.T) {
	dev, _, trig, ind, obs := setup(t, 8)
	obs.On("PeriodCompleted", uint64(1), 3).Once()
	push(dev, 3, 0x1000)

	require.NoError(t, trig.Tick(context.Background()))

	snap, ok := trig.Buffer().Latest()
	require.True(t, ok)
	assert.Equal(t, uint64(1), snap.Period)
	require.Len(t, snap.Samples, 3)
	for i, s := range snap.Samples {
		assert.Equal(t, 2, s.Channels)
		assert.Equal(t, float32(0x1000+i)*max30101.CurrentLSB, s.Red())
		assert.Equal(t, float32(0x1100+i)*max30101.CurrentLSB, s.IR())
	}
	assert.Equal(t, 0, dev.Pending())
	ind.AssertNumberOfCalls(t, "Toggle", 1)
	obs.AssertExpectations(t)
	assert.Equal(t, Stats{Periods: 1, Published: 1}, trig.Stats())
}

func TestTick_CapacityLimitsDrain(t *testing.T) {
	dev, _, trig, _, obs := setup(t, 8)
	obs.On("PeriodCompleted", uint64(1), 8).Once()
	obs.On("PeriodCompleted", uint64(2), 4).Once()
	push(dev, 12, 0)

	require.NoError(t, trig.Tick(context.Background()))
	assert.Equal(t, 4, dev.Pending())
	snap, _ := trig.Buffer().Latest()
	assert.Len(t, snap.Samples, 8)

	require.NoError(t, trig.Tick(context.Background()))
	assert.Equal(t, 0, dev.Pending())
	snap, _ = trig.Buffer().Latest()
	require.Len(t, snap.Samples, 4)
	assert.Equal(t, float32(8)*max30101.CurrentLSB, snap.Samples[0].Red())
	obs.AssertExpectations(t)
}

func TestTick_EmptyFIFO(t *testing.T) {
	_, _, trig, ind, obs := setup(t, 8)
	obs.On("PeriodCompleted", uint64(1), 0).Once()

	require.NoError(t, trig.Tick(context.Background()))

	_, ok := trig.Buffer().Latest()
	assert.False(t, ok)
	ind.AssertNumberOfCalls(t, "Toggle", 1)
	assert.Equal(t, Stats{Periods: 1, Empty: 1}, trig.Stats())
}

func TestTick_FailureKeepsPreviousResult(t *testing.T) {
	tests := []struct {
		name  string
		fault func() sim.Fault
	}{
		{
			name: "status read fails",
			fault: func() sim.Fault {
				return sim.FailReads(fmt.Errorf("sim: %w", nirs.ErrTimeout))
			},
		},
		{
			name: "second sample read fails",
			fault: func() sim.Fault {
				reads := 0
				return func(op sim.Op) error {
					if op.Kind != sim.OpRead || op.Register != byte(max30101.RegFIFOData) {
						return nil
					}
					reads++
					if reads == 2 {
						return fmt.Errorf("sim: %w", nirs.ErrTimeout)
					}
					return nil
				}
			},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			dev, _, trig, ind, obs := setup(t, 8)
			obs.On("PeriodCompleted", uint64(1), 2).Once()
			obs.On("PeriodSkipped", uint64(2), mock.Anything).Once()
			push(dev, 2, 0x0A00)
			require.NoError(t, trig.Tick(context.Background()))
			before, _ := trig.Buffer().Latest()

			push(dev, 4, 0x0B00)
			dev.SetFault(tt.fault())
			err := trig.Tick(context.Background())
			require.Error(t, err)
			assert.ErrorIs(t, err, nirs.ErrTimeout)

			after, ok := trig.Buffer().Latest()
			require.True(t, ok)
			assert.Equal(t, before, after)
			assert.Equal(t, uint64(2), trig.Periods())
			staleness, ok := trig.Staleness()
			require.True(t, ok)
			assert.Equal(t, uint64(1), staleness)
			ind.AssertNumberOfCalls(t, "Toggle", 2)
			obs.AssertExpectations(t)
			assert.Equal(t, uint64(1), trig.Stats().Skipped)
		})
	}
}

func TestTick_IndicatorFailureDoesNotSkip(t *testing.T) {
	dev := sim.NewMAX30101()
	d := max30101.New(dev)
	st, err := d.ConfigureDualChannelLowPower(context.Background())
	require.NoError(t, err)
	ind := &MockIndicator{}
	ind.On("Toggle", mock.Anything).Return(errors.New("led gone"))
	obs := &MockObserver{}
	obs.On("PeriodCompleted", uint64(1), 1).Once()
	trig := NewTrigger(d, st, NewResultBuffer(4), WithIndicator(ind), WithObserver(obs))
	push(dev, 1, 1)

	require.NoError(t, trig.Tick(context.Background()))
	_, ok := trig.Buffer().Latest()
	assert.True(t, ok)
	obs.AssertExpectations(t)
}

type blockingSource struct {
	entered chan struct{}
	release chan struct{}
	calls   int
}

func (s *blockingSource) FIFOStatus(ctx context.Context) (max30101.FIFOStatus, error) {
	s.calls++
	s.entered <- struct{}{}
	<-s.release
	return max30101.FIFOStatus{}, nil
}

func (s *blockingSource) ReadAndConvert(ctx context.Context, st max30101.State, dst []max30101.SampleCurrent, n int) ([]max30101.SampleCurrent, error) {
	return dst[:n], nil
}

func TestTick_Overrun(t *testing.T) {
	src := &blockingSource{entered: make(chan struct{}), release: make(chan struct{})}
	obs := &MockObserver{}
	obs.On("PeriodSkipped", uint64(2), ErrOverrun).Once()
	obs.On("PeriodCompleted", uint64(1), 0).Once()
	trig := NewTrigger(src, max30101.State{Profile: max30101.DualChannelLowPower}, NewResultBuffer(8), WithObserver(obs))

	done := make(chan error)
	go func() {
		done <- trig.Tick(context.Background())
	}()
	<-src.entered

	err := trig.Tick(context.Background())
	assert.ErrorIs(t, err, ErrOverrun)

	close(src.release)
	require.NoError(t, <-done)
	assert.Equal(t, 1, src.calls)
	assert.Equal(t, uint64(1), trig.Stats().Overruns)
	assert.Equal(t, uint64(2), trig.Periods())
	obs.AssertExpectations(t)
}

type statusSource struct {
	status max30101.FIFOStatus
}

func (s statusSource) FIFOStatus(ctx context.Context) (max30101.FIFOStatus, error) {
	return s.status, nil
}

func (s statusSource) ReadAndConvert(ctx context.Context, st max30101.State, dst []max30101.SampleCurrent, n int) ([]max30101.SampleCurrent, error) {
	for i := range dst[:n] {
		dst[i] = max30101.SampleCurrent{Channels: st.Channels()}
	}
	return dst[:n], nil
}

func TestTick_AmbiguousFIFO(t *testing.T) {
	status := max30101.FIFOStatus{Write: 5, Read: 5, Overflow: 3}
	obs := &MockObserver{}
	obs.On("FIFOAmbiguous", uint64(1), status).Once()
	// a wrapped FIFO holds more than the buffer takes
	obs.On("PeriodCompleted", uint64(1), 8).Once()
	trig := NewTrigger(statusSource{status: status}, max30101.State{Profile: max30101.DualChannelLowPower}, NewResultBuffer(8), WithObserver(obs))

	require.NoError(t, trig.Tick(context.Background()))
	obs.AssertExpectations(t)
	stats := trig.Stats()
	assert.Equal(t, uint64(1), stats.Ambiguous)
	assert.Equal(t, uint64(1), stats.Published)
}

func TestTick_RecoversAfterSkippedPeriods(t *testing.T) {
	tests := []struct {
		name      string
		failed    int
		ambiguous uint64
	}{
		{"backlog below depth", 4, 0},
		{"FIFO wrapped", 12, 1},
	}
	for _, test := range tests {
		t.Run(test.name, func(t *testing.T) {
			dev, _, trig, _, obs := setup(t, 8)
			obs.On("PeriodSkipped", mock.Anything, mock.Anything)
			obs.On("PeriodCompleted", mock.Anything, mock.Anything)
			obs.On("FIFOAmbiguous", mock.Anything, mock.Anything)
			ctx := context.Background()
			// samples arriving per period with the derived trigger period
			perPeriod := trig.Buffer().Capacity() / 2

			dev.SetFault(sim.FailReads(nirs.ErrBusBusy))
			for i := 0; i < test.failed; i++ {
				push(dev, perPeriod, uint16(i*perPeriod))
				require.Error(t, trig.Tick(ctx))
			}
			dev.SetFault(nil)

			for i := 0; i < 10; i++ {
				push(dev, perPeriod, 0x4000)
				require.NoError(t, trig.Tick(ctx))
				snap, ok := trig.Buffer().Latest()
				require.True(t, ok)
				assert.Equal(t, trig.Periods(), snap.Period, "healthy period %d", i)
			}
			stats := trig.Stats()
			assert.Equal(t, uint64(test.failed), stats.Skipped)
			assert.Equal(t, uint64(10), stats.Published)
			assert.Equal(t, test.ambiguous, stats.Ambiguous)
			assert.Equal(t, 0, dev.Pending())
		})
	}
}

func TestReconfigure_LeavesResultStale(t *testing.T) {
	dev, d, trig, _, obs := setup(t, 8)
	obs.On("PeriodCompleted", mock.Anything, mock.Anything)
	push(dev, 3, 0x2000)
	require.NoError(t, trig.Tick(context.Background()))
	before, _ := trig.Buffer().Latest()

	st, err := trig.Reconfigure(context.Background(), func(ctx context.Context) (max30101.State, error) {
		return d.ConfigureTripleChannelHighPenetration(ctx, max30101.DefaultDrive)
	})
	require.NoError(t, err)
	assert.Equal(t, 3, st.Channels())
	assert.Equal(t, st, trig.State())

	after, ok := trig.Buffer().Latest()
	require.True(t, ok)
	assert.Equal(t, before, after)

	require.NoError(t, trig.Tick(context.Background()))
	staleness, _ := trig.Staleness()
	assert.Equal(t, uint64(1), staleness)

	dev.Push(sim.Sample(1, 2, 3))
	require.NoError(t, trig.Tick(context.Background()))
	snap, _ := trig.Buffer().Latest()
	require.Len(t, snap.Samples, 1)
	assert.Equal(t, 3, snap.Samples[0].Channels)
	assert.Equal(t, uint64(3), snap.Period)
}

func TestReconfigure_FailureLeavesTriggerUnconfigured(t *testing.T) {
	dev, d, trig, _, obs := setup(t, 8)
	obs.On("PeriodSkipped", uint64(1), mock.Anything).Once()
	dev.SetFault(sim.NackOnWrite(len(dev.Writes())))

	_, err := trig.Reconfigure(context.Background(), func(ctx context.Context) (max30101.State, error) {
		return d.ConfigureTripleChannelHighPenetration(ctx, max30101.DefaultDrive)
	})
	require.ErrorIs(t, err, nirs.ErrSlaveNack)
	assert.False(t, trig.State().Configured())

	dev.SetFault(nil)
	push(dev, 2, 0)
	err = trig.Tick(context.Background())
	assert.ErrorIs(t, err, max30101.ErrNotConfigured)
	obs.AssertExpectations(t)
}

func TestRun(t *testing.T) {
	status := max30101.FIFOStatus{Write: 2}
	obs := &MockObserver{}
	obs.On("PeriodCompleted", mock.Anything, 2)
	trig := NewTrigger(statusSource{status: status}, max30101.State{Profile: max30101.TripleChannelHighPenetration}, NewResultBuffer(8), WithObserver(obs))

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error)
	go func() {
		done <- trig.Run(ctx, 2*time.Millisecond)
	}()
	require.Eventually(t, func() bool {
		return trig.Stats().Published >= 3
	}, time.Second, time.Millisecond)
	cancel()
	assert.ErrorIs(t, <-done, context.Canceled)

	snap, ok := trig.Buffer().Latest()
	require.True(t, ok)
	assert.Len(t, snap.Samples, 2)
	assert.Equal(t, 3, snap.Samples[0].Channels)
}

func TestRun_InvalidPeriod(t *testing.T) {
	trig := NewTrigger(statusSource{}, max30101.State{}, NewResultBuffer(8))
	assert.Error(t, trig.Run(context.Background(), 0))
}

func TestTick_ConcurrentCallers(t *testing.T) {
	status := max30101.FIFOStatus{Write: 1}
	obs := &MockObserver{}
	obs.On("PeriodCompleted", mock.Anything, mock.Anything)
	obs.On("PeriodSkipped", mock.Anything, ErrOverrun)
	trig := NewTrigger(statusSource{status: status}, max30101.State{Profile: max30101.DualChannelLowPower}, NewResultBuffer(8), WithObserver(obs))

	var wg sync.WaitGroup
	for i := 0; i < 16; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_ = trig.Tick(context.Background())
		}()
	}
	wg.Wait()
	stats := trig.Stats()
	assert.Equal(t, uint64(16), stats.Periods)
	assert.Equal(t, stats.Periods, stats.Published+stats.Overruns)
}
