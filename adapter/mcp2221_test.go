package adapter

import (
	"context"
	"encoding/binary"
	"errors"
	"io"
	"sync"
	"testing"
	"time"

	"github.com/mklimuk/nirs"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakePort emulates the adapter firmware with one register based slave behind
// it.
type fakePort struct {
	mx       sync.Mutex
	address  byte
	regs     [256]byte
	pointer  byte
	pending  int
	nack     bool
	busy     bool
	gpio     [4]byte
	response []byte
	commands []byte
	closed   bool
}

func newFakePort(address byte) *fakePort {
	return &fakePort{address: address}
}

func (f *fakePort) Write(p []byte) (int, error) {
	f.mx.Lock()
	defer f.mx.Unlock()
	f.commands = append(f.commands, p[0])
	resp := make([]byte, reportSize)
	resp[0] = p[0]
	n := int(binary.LittleEndian.Uint16(p[1:3]))
	switch p[0] {
	case cmdWrite, cmdWriteNoStop:
		if f.busy {
			resp[1] = 0x01
			break
		}
		if p[3]>>1 != f.address {
			f.nack = true
			break
		}
		f.pointer = p[4]
		for i := 1; i < n; i++ {
			f.regs[f.pointer] = p[4+i]
			f.pointer++
		}
	case cmdReadRepeated:
		if p[3]>>1 != f.address {
			f.nack = true
		}
		f.pending = n
	case cmdGetData:
		if f.nack {
			resp[1] = getDataFailed
			resp[3] = 127
			break
		}
		resp[3] = byte(f.pending)
		copy(resp[4:], f.regs[f.pointer:int(f.pointer)+f.pending])
		f.pending = 0
	case cmdStatus:
		if f.nack {
			resp[20] = statusNackBit
		}
		if p[2] == statusCancelTransfer {
			f.nack = false
		}
		resp[13] = 0x02
		resp[14] = 0x1D
		resp[16] = f.address << 1
	case cmdSetGPIOValues:
		for pin := 0; pin < 4; pin++ {
			offset := 2 + 4*pin
			if pin == 3 {
				resp[offset+1] = gpioNotOutput
				continue
			}
			if p[offset] == 0x01 {
				f.gpio[pin] = p[offset+1]
			}
			resp[offset+1] = f.gpio[pin]
		}
	case cmdGetGPIOValues:
		for pin := 0; pin < 4; pin++ {
			resp[2+2*pin] = f.gpio[pin]
		}
		resp[9] = byte(GPIOModeNoOperation)
	default:
		resp[1] = 0x01
	}
	f.response = resp
	return len(p), nil
}

func (f *fakePort) Read(p []byte) (int, error) {
	f.mx.Lock()
	defer f.mx.Unlock()
	return copy(p, f.response), nil
}

func (f *fakePort) Close() error {
	f.closed = true
	return nil
}

func newTestAdapter(port *fakePort) *MCP2221 {
	return NewMCP2221(WithOpener(func(index int) (Port, error) {
		return port, nil
	}))
}

func TestMCP2221_Registers(t *testing.T) {
	port := newFakePort(0x57)
	d := newTestAdapter(port)
	ctx := context.Background()
	require.NoError(t, d.WriteRegister(ctx, 0x57, 0x0C, 0x4B))
	require.NoError(t, d.WriteRegister(ctx, 0x57, 0x0D, 0x4C))
	buf := make([]byte, 2)
	require.NoError(t, d.ReadRegisters(ctx, 0x57, 0x0C, buf))
	assert.Equal(t, []byte{0x4B, 0x4C}, buf)
	assert.Equal(t, []byte{
		cmdWrite, cmdStatus,
		cmdWrite, cmdStatus,
		cmdWriteNoStop, cmdStatus, cmdReadRepeated, cmdGetData,
	}, port.commands)
	require.NoError(t, d.Close())
	assert.True(t, port.closed)
}

func TestMCP2221_Nack(t *testing.T) {
	port := newFakePort(0x57)
	d := newTestAdapter(port)
	ctx := context.Background()
	assert.ErrorIs(t, d.WriteRegister(ctx, 0x50, 0x0C, 0x4B), nirs.ErrSlaveNack)
	// the failed transfer was cancelled
	assert.False(t, port.nack)
	assert.ErrorIs(t, d.ReadRegisters(ctx, 0x50, 0xFF, make([]byte, 1)), nirs.ErrSlaveNack)
}

func TestMCP2221_Busy(t *testing.T) {
	port := newFakePort(0x57)
	port.busy = true
	d := newTestAdapter(port)
	assert.ErrorIs(t, d.WriteRegister(context.Background(), 0x57, 0x0C, 0x4B), nirs.ErrBusBusy)
}

func TestMCP2221_ReadLimits(t *testing.T) {
	port := newFakePort(0x57)
	d := newTestAdapter(port)
	require.NoError(t, d.ReadRegisters(context.Background(), 0x57, 0x07, nil))
	assert.Error(t, d.ReadRegisters(context.Background(), 0x57, 0x07, make([]byte, 61)))
	assert.Empty(t, port.commands)
}

func TestMCP2221_NotFound(t *testing.T) {
	d := NewMCP2221(WithOpener(func(int) (Port, error) {
		return nil, ErrDeviceNotFound
	}))
	assert.ErrorIs(t, d.WriteRegister(context.Background(), 0x57, 0x0C, 0x4B), ErrDeviceNotFound)
}

func TestMCP2221_CancelledContext(t *testing.T) {
	port := newFakePort(0x57)
	d := newTestAdapter(port)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	assert.ErrorIs(t, d.WriteRegister(ctx, 0x57, 0x0C, 0x4B), context.Canceled)
	assert.Empty(t, port.commands)
}

func TestMCP2221_Status(t *testing.T) {
	port := newFakePort(0x57)
	d := newTestAdapter(port)
	status, err := d.Status(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 2, status.I2CDataBufferCounter)
	assert.Equal(t, 0x1D, status.I2CSpeedDivider)
	assert.Equal(t, "ae00", status.CurrentAddress)
	assert.False(t, status.Nack)
}

func TestGPIOIndicator(t *testing.T) {
	port := newFakePort(0x57)
	d := newTestAdapter(port)
	ind := NewGPIOIndicator(d, 1)
	ctx := context.Background()
	require.NoError(t, ind.Toggle(ctx))
	assert.Equal(t, byte(0x01), port.gpio[1])
	require.NoError(t, ind.Toggle(ctx))
	assert.Equal(t, byte(0x00), port.gpio[1])

	values, err := d.ReadGPIO(ctx)
	require.NoError(t, err)
	assert.Equal(t, GPIOModeOut, values.GPIO1Mode)
	assert.Equal(t, GPIOModeNoOperation, values.GPIO3Mode)

	err = NewGPIOIndicator(d, 3).Toggle(ctx)
	assert.True(t, errors.Is(err, ErrCommandFailed))
	assert.Error(t, NewGPIOIndicator(d, 4).Toggle(ctx))
}

// stalledPort accepts requests and never answers until it is closed.
type stalledPort struct {
	once   sync.Once
	closed chan struct{}
	writes int
	mx     sync.Mutex
}

func newStalledPort() *stalledPort {
	return &stalledPort{closed: make(chan struct{})}
}

func (p *stalledPort) Write(b []byte) (int, error) {
	p.mx.Lock()
	defer p.mx.Unlock()
	p.writes++
	return len(b), nil
}

func (p *stalledPort) Read(b []byte) (int, error) {
	<-p.closed
	return 0, io.ErrClosedPipe
}

func (p *stalledPort) Close() error {
	p.once.Do(func() { close(p.closed) })
	return nil
}

func TestMCP2221_StalledAdapter(t *testing.T) {
	tests := []struct {
		name    string
		timeout time.Duration
		ctx     func() (context.Context, context.CancelFunc)
	}{
		{
			name:    "caller deadline",
			timeout: time.Minute,
			ctx: func() (context.Context, context.CancelFunc) {
				return context.WithTimeout(context.Background(), 20*time.Millisecond)
			},
		},
		{
			name:    "adapter timeout",
			timeout: 20 * time.Millisecond,
			ctx: func() (context.Context, context.CancelFunc) {
				return context.WithCancel(context.Background())
			},
		},
	}
	for _, test := range tests {
		t.Run(test.name, func(t *testing.T) {
			port := newStalledPort()
			opened := 0
			d := NewMCP2221(WithTimeout(test.timeout), WithOpener(func(int) (Port, error) {
				opened++
				return port, nil
			}))
			ctx, cancel := test.ctx()
			defer cancel()

			start := time.Now()
			err := d.ReadRegisters(ctx, 0x57, 0x04, make([]byte, 3))
			assert.ErrorIs(t, err, nirs.ErrTimeout)
			assert.Less(t, time.Since(start), time.Second)
			// the hung adapter was released
			select {
			case <-port.closed:
			default:
				t.Fatal("port left open after timeout")
			}

			// the next command reopens the adapter
			err = d.WriteRegister(context.Background(), 0x57, 0x0C, 0x4B)
			assert.Error(t, err)
			assert.Equal(t, 2, opened)
		})
	}
}
