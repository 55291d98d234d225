package twowire_test

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/mklimuk/nirs"
	"github.com/mklimuk/nirs/sim"
	"github.com/mklimuk/nirs/twowire"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEngine_WriteRegister(t *testing.T) {
	dev := sim.NewMAX30101()
	e := twowire.New(dev)
	require.NoError(t, e.WriteRegister(context.Background(), 0x57, 0x09, 0x03))
	assert.Equal(t, []string{"S", "W ae A", "W 09 A", "W 03 A", "P"}, dev.Trace())
	assert.Equal(t, []sim.Write{{Register: 0x09, Value: 0x03}}, dev.Writes())
}

func TestEngine_ReadRegisters(t *testing.T) {
	dev := sim.NewMAX30101()
	e := twowire.New(dev)
	buf := make([]byte, 2)
	require.NoError(t, e.ReadRegisters(context.Background(), 0x57, 0xFE, buf))
	assert.Equal(t, []byte{0x03, 0x15}, buf)
	assert.Equal(t, []string{"S", "W ae A", "W fe A", "Sr", "W af A", "R 03 A", "R 15 N", "P"}, dev.Trace())
}

func TestEngine_ReadNothing(t *testing.T) {
	dev := sim.NewMAX30101()
	require.NoError(t, twowire.New(dev).ReadRegisters(context.Background(), 0x57, 0x07, nil))
	assert.Empty(t, dev.Trace())
}

func TestEngine_Failures(t *testing.T) {
	tests := []struct {
		name     string
		address  byte
		setup    func(dev *sim.MAX30101)
		expected error
		trace    []string
	}{
		{
			name:     "address nack",
			address:  0x50,
			setup:    func(dev *sim.MAX30101) {},
			expected: nirs.ErrSlaveNack,
			trace:    []string{"S", "W a0 N", "P"},
		},
		{
			name:     "data nack",
			address:  0x57,
			setup:    func(dev *sim.MAX30101) { dev.SetFault(sim.NackOnWrite(0)) },
			expected: nirs.ErrSlaveNack,
			trace:    []string{"S", "W ae A", "W 09 A", "W 03 N", "P"},
		},
		{
			name:     "bus busy",
			address:  0x57,
			setup:    func(dev *sim.MAX30101) { dev.SetBusy(true) },
			expected: nirs.ErrBusBusy,
			trace:    nil,
		},
		{
			name:     "clock stretched",
			address:  0x57,
			setup:    func(dev *sim.MAX30101) { dev.SetStall(true) },
			expected: nirs.ErrTimeout,
			trace:    []string{"S", "P"},
		},
	}
	for _, test := range tests {
		t.Run(test.name, func(t *testing.T) {
			dev := sim.NewMAX30101()
			test.setup(dev)
			e := twowire.New(dev, twowire.WithTimeout(time.Millisecond))
			err := e.WriteRegister(context.Background(), test.address, 0x09, 0x03)
			assert.ErrorIs(t, err, test.expected)
			assert.Equal(t, test.trace, dev.Trace())
			assert.Empty(t, dev.Writes())
		})
	}
}

func TestEngine_TimeoutWrapsDeadline(t *testing.T) {
	dev := sim.NewMAX30101()
	dev.SetStall(true)
	e := twowire.New(dev, twowire.WithTimeout(time.Millisecond))
	err := e.ReadRegisters(context.Background(), 0x57, 0x07, make([]byte, 6))
	assert.ErrorIs(t, err, nirs.ErrTimeout)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestEngine_CancelledIsNotTimeout(t *testing.T) {
	dev := sim.NewMAX30101()
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	err := twowire.New(dev).WriteRegister(ctx, 0x57, 0x09, 0x03)
	assert.ErrorIs(t, err, context.Canceled)
	assert.False(t, errors.Is(err, nirs.ErrTimeout))
	assert.Empty(t, dev.Trace())
}

func TestEngine_Serialised(t *testing.T) {
	dev := sim.NewMAX30101()
	e := twowire.New(dev)
	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func(v byte) {
			defer wg.Done()
			assert.NoError(t, e.WriteRegister(context.Background(), 0x57, 0x0C, v))
		}(byte(i))
	}
	wg.Wait()
	trace := dev.Trace()
	require.Len(t, trace, 8*5)
	for i := 0; i < len(trace); i += 5 {
		assert.Equal(t, "S", trace[i])
		assert.Equal(t, "W ae A", trace[i+1])
		assert.Equal(t, "W 0c A", trace[i+2])
		assert.Equal(t, "P", trace[i+4])
	}
}
