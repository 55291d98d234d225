package i2c

import (
	"context"
	"errors"
	"testing"

	"github.com/mklimuk/nirs"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gobot.io/x/gobot/v2/drivers/i2c"
)

func TestClassify(t *testing.T) {
	tests := []struct {
		given    error
		expected error
	}{
		{errors.New("sysfs-i2c: remote I/O error"), nirs.ErrSlaveNack},
		{errors.New("ioctl: no such device or address"), nirs.ErrSlaveNack},
		{errors.New("device or resource busy"), nirs.ErrBusBusy},
		{errors.New("connection timed out"), nirs.ErrTimeout},
	}
	for _, test := range tests {
		t.Run(test.given.Error(), func(t *testing.T) {
			err := classify(test.given)
			assert.ErrorIs(t, err, test.expected)
			assert.ErrorIs(t, err, test.given)
		})
	}
	other := errors.New("bad file descriptor")
	assert.Equal(t, other, classify(other))
}

type fakeConnection struct {
	i2c.Connection
	regs   [256]byte
	closed bool
	fail   error
}

func (c *fakeConnection) WriteByteData(reg uint8, val uint8) error {
	if c.fail != nil {
		return c.fail
	}
	c.regs[reg] = val
	return nil
}

func (c *fakeConnection) ReadBlockData(reg uint8, b []byte) error {
	if c.fail != nil {
		return c.fail
	}
	copy(b, c.regs[reg:])
	return nil
}

func (c *fakeConnection) Close() error {
	c.closed = true
	return nil
}

type fakeConnector struct {
	opened map[int]*fakeConnection
	busNr  []int
}

func (f *fakeConnector) GetI2cConnection(address int, busNr int) (i2c.Connection, error) {
	if address == 0x00 {
		return nil, errors.New("general call not supported")
	}
	f.busNr = append(f.busNr, busNr)
	c := &fakeConnection{}
	f.opened[address] = c
	return c, nil
}

func (f *fakeConnector) DefaultI2cBus() int { return 2 }

func TestGobotBus(t *testing.T) {
	connector := &fakeConnector{opened: map[int]*fakeConnection{}}
	bus := NewGobotBus(connector, -1)
	ctx := context.Background()

	require.NoError(t, bus.WriteRegister(ctx, 0x57, 0x0C, 0x4B))
	require.NoError(t, bus.WriteRegister(ctx, 0x57, 0x0D, 0x4C))
	buf := make([]byte, 2)
	require.NoError(t, bus.ReadRegisters(ctx, 0x57, 0x0C, buf))
	assert.Equal(t, []byte{0x4B, 0x4C}, buf)
	assert.Equal(t, []int{2}, connector.busNr)

	err := bus.WriteRegister(ctx, 0x00, 0x00, 0x00)
	assert.Error(t, err)

	connector.opened[0x57].fail = errors.New("remote I/O error")
	assert.ErrorIs(t, bus.ReadRegisters(ctx, 0x57, 0x0C, buf), nirs.ErrSlaveNack)

	require.NoError(t, bus.Close())
	assert.True(t, connector.opened[0x57].closed)
}

func TestGobotBus_CancelledContext(t *testing.T) {
	connector := &fakeConnector{opened: map[int]*fakeConnection{}}
	bus := NewGobotBus(connector, 1)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	assert.ErrorIs(t, bus.WriteRegister(ctx, 0x57, 0x0C, 0x4B), context.Canceled)
	assert.Empty(t, connector.opened)
}
