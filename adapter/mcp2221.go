// Package adapter drives the Microchip MCP2221 USB to I2C bridge so the sensor
// can be reached from a workstation.
package adapter

import (
	"context"
	"encoding/binary"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"slices"
	"sync"
	"time"

	"github.com/karalabe/hid"
	"github.com/mklimuk/nirs"
	"github.com/mklimuk/nirs/snsctx"
)

const VendorID = 0x04D8
const ProductID = 0x00DD

const reportSize = 64

// largest payload a single Get I2C Data report carries
const maxReadSize = 60

// DefaultTimeout bounds one request/response exchange with the adapter.
const DefaultTimeout = 500 * time.Millisecond

var ErrCommandUnsupported = errors.New("unsupported command")
var ErrCommandFailed = errors.New("command failed")
var ErrDeviceNotFound = errors.New("MCP2221 device not found")

// commands
const (
	cmdStatus        = 0x10
	cmdWrite         = 0x90
	cmdWriteNoStop   = 0x94
	cmdReadRepeated  = 0x93
	cmdGetData       = 0x40
	cmdSetGPIOValues = 0x50
	cmdGetGPIOValues = 0x51
	cmdReadFlash     = 0xB0
	cmdWriteFlash    = 0xB1
)

const (
	statusCancelTransfer = 0x10
	getDataFailed        = 0x41
	// status report byte 20, set when the slave did not acknowledge
	statusNackBit = 1 << 6
)

// Port is a raw HID endpoint exchanging 64 byte reports.
type Port interface {
	io.ReadWriteCloser
}

// Opener returns the HID endpoint of the adapter with the given index.
type Opener func(index int) (Port, error)

// OpenHID enumerates MCP2221 adapters on the USB bus.
func OpenHID(index int) (Port, error) {
	devs := hid.Enumerate(VendorID, ProductID)
	if len(devs) == 0 {
		return nil, ErrDeviceNotFound
	}
	if index < 0 {
		if len(devs) > 1 {
			return nil, fmt.Errorf("ambiguous device identification: %d adapters found", len(devs))
		}
		index = 0
	}
	if index >= len(devs) {
		return nil, fmt.Errorf("no device with id %d", index)
	}
	dev, err := devs[index].Open()
	if err != nil {
		return nil, fmt.Errorf("error opening device: %w", err)
	}
	return dev, nil
}

type MCP2221Opts struct {
	// Index selects an adapter when several are plugged in; -1 requires
	// exactly one.
	Index        int
	Opener       Opener
	ResponseWait time.Duration
	// Timeout bounds every report exchange when the caller's context carries
	// no earlier deadline.
	Timeout time.Duration
}

type MCP2221Opt func(*MCP2221Opts)

func WithIndex(index int) MCP2221Opt {
	return func(o *MCP2221Opts) {
		o.Index = index
	}
}

func WithOpener(opener Opener) MCP2221Opt {
	return func(o *MCP2221Opts) {
		o.Opener = opener
	}
}

func WithTimeout(timeout time.Duration) MCP2221Opt {
	return func(o *MCP2221Opts) {
		o.Timeout = timeout
	}
}

// WithResponseWait sets a pause between a request and reading its response.
func WithResponseWait(wait time.Duration) MCP2221Opt {
	return func(o *MCP2221Opts) {
		o.ResponseWait = wait
	}
}

var _ nirs.RegisterBus = &MCP2221{}

type MCP2221 struct {
	mx       sync.Mutex
	config   MCP2221Opts
	port     Port
	request  []byte
	response []byte
}

type MCP2221Status struct {
	I2CDataBufferCounter   int    `yaml:"data_buffer_counter"`
	I2CSpeedDivider        int    `yaml:"speed_divider"`
	I2CTimeout             int    `yaml:"timeout"`
	CurrentAddress         string `yaml:"current_address"`
	LastWriteRequestedSize uint16 `yaml:"last_write_requested"`
	LastWriteSentSize      uint16 `yaml:"last_write_sent"`
	ReadPending            int    `yaml:"read_pending"`
	Nack                   bool   `yaml:"nack"`
}

func NewMCP2221(opts ...MCP2221Opt) *MCP2221 {
	config := MCP2221Opts{
		Index:   -1,
		Opener:  OpenHID,
		Timeout: DefaultTimeout,
	}
	for _, opt := range opts {
		opt(&config)
	}
	return &MCP2221{
		config:   config,
		request:  make([]byte, reportSize),
		response: make([]byte, reportSize),
	}
}

// WriteRegister sends START, address+W, register, value, STOP in one
// I2C Write Data command.
func (d *MCP2221) WriteRegister(ctx context.Context, address, register, value byte) error {
	d.mx.Lock()
	defer d.mx.Unlock()
	if err := d.write(ctx, cmdWrite, address, []byte{register, value}); err != nil {
		return fmt.Errorf("write register %#02x@%#02x failed: %w", register, address, err)
	}
	return nil
}

// ReadRegisters sets the register pointer without a STOP, then reads with a
// repeated START and fetches the data from the adapter buffer.
func (d *MCP2221) ReadRegisters(ctx context.Context, address, register byte, buffer []byte) error {
	if len(buffer) == 0 {
		return nil
	}
	if len(buffer) > maxReadSize {
		return fmt.Errorf("read of %d bytes exceeds adapter report size %d", len(buffer), maxReadSize)
	}
	d.mx.Lock()
	defer d.mx.Unlock()
	if err := d.write(ctx, cmdWriteNoStop, address, []byte{register}); err != nil {
		return fmt.Errorf("read register %#02x@%#02x failed: %w", register, address, err)
	}
	d.resetBuffers()
	d.request[0] = cmdReadRepeated
	binary.LittleEndian.PutUint16(d.request[1:3], uint16(len(buffer)))
	d.request[3] = address<<1 | 1
	if err := d.send(ctx); err != nil {
		return fmt.Errorf("bus read from %#02x failed: %w", address, err)
	}
	if d.response[1] != 0x00 {
		_ = d.cancelTransfer(ctx)
		return fmt.Errorf("bus read from %#02x refused: %w", address, nirs.ErrBusBusy)
	}
	d.resetBuffers()
	d.request[0] = cmdGetData
	if err := d.send(ctx); err != nil {
		return fmt.Errorf("error getting read data from adapter: %w", err)
	}
	if d.response[1] == getDataFailed || d.response[3] == 127 {
		return fmt.Errorf("error reading the I2C slave data from the I2C engine: %w", d.cancelTransfer(ctx))
	}
	if int(d.response[3]) != len(buffer) {
		return fmt.Errorf("invalid data size byte; expected %d, got %d", len(buffer), d.response[3])
	}
	copy(buffer, d.response[4:4+len(buffer)])
	return nil
}

func (d *MCP2221) write(ctx context.Context, cmd byte, address byte, payload []byte) error {
	d.resetBuffers()
	d.request[0] = cmd
	binary.LittleEndian.PutUint16(d.request[1:3], uint16(len(payload)))
	d.request[3] = address << 1
	copy(d.request[4:], payload)
	if err := d.send(ctx); err != nil {
		return err
	}
	if d.response[1] == 0x01 {
		slog.Debug("adapter busy", "address", address)
		_ = d.cancelTransfer(ctx)
		return nirs.ErrBusBusy
	}
	// the engine reports a missing ACK only through the status report
	status, err := d.status(ctx, false)
	if err != nil {
		return err
	}
	if status.Nack {
		_ = d.cancelTransfer(ctx)
		return nirs.ErrSlaveNack
	}
	return nil
}

// cancelTransfer cancels the pending transfer and classifies the failure.
func (d *MCP2221) cancelTransfer(ctx context.Context) error {
	status, err := d.status(ctx, true)
	if err != nil {
		return err
	}
	if status.Nack {
		return nirs.ErrSlaveNack
	}
	return ErrCommandFailed
}

func (d *MCP2221) Status(ctx context.Context) (*MCP2221Status, error) {
	d.mx.Lock()
	defer d.mx.Unlock()
	return d.status(ctx, false)
}

// ReleaseBus cancels the current transfer, freeing SDA/SCL if a previous
// command left them held.
func (d *MCP2221) ReleaseBus(ctx context.Context) (*MCP2221Status, error) {
	d.mx.Lock()
	defer d.mx.Unlock()
	return d.status(ctx, true)
}

func (d *MCP2221) status(ctx context.Context, cancel bool) (*MCP2221Status, error) {
	d.resetBuffers()
	d.request[0] = cmdStatus
	if cancel {
		d.request[2] = statusCancelTransfer
	}
	if err := d.send(ctx); err != nil {
		return nil, fmt.Errorf("status request failed: %w", err)
	}
	return bufferToStatus(d.response), nil
}

func bufferToStatus(buffer []byte) *MCP2221Status {
	/*
		9: Lower byte (16-bit value) of the requested I2C transfer length
		10: Higher byte (16-bit value) of the requested I2C transfer length
		11:	Lower byte (16-bit value) of the already transferred (through I2C) number of bytes
		12:	Higher byte (16-bit value) of the already transferred (through I2C) number of bytes
		13:	Internal I2C data buffer counter
		14: Current I2C communication speed divider value
		15: Current I2C timeout value
		16:	Lower byte (16-bit value) of the I2C address being used
		17:	Higher byte (16-bit value) of the I2C address being used
		20: I2C ACK status, bit 6 set on NACK
	*/
	status := &MCP2221Status{
		I2CDataBufferCounter: int(buffer[13]),
		I2CSpeedDivider:      int(buffer[14]),
		I2CTimeout:           int(buffer[15]),
		ReadPending:          int(buffer[25]),
		CurrentAddress:       hex.EncodeToString(buffer[16:18]),
		Nack:                 buffer[20]&statusNackBit != 0,
	}
	status.LastWriteRequestedSize = binary.LittleEndian.Uint16(buffer[9:11])
	status.LastWriteSentSize = binary.LittleEndian.Uint16(buffer[11:13])
	return status
}

func (d *MCP2221) open() (Port, error) {
	if d.port != nil {
		return d.port, nil
	}
	port, err := d.config.Opener(d.config.Index)
	if err != nil {
		return nil, err
	}
	d.port = port
	return port, nil
}

// send writes the request report and reads the matching response. Both
// transfers are bounded; an adapter that does not answer in time is dropped
// and the command fails with nirs.ErrTimeout.
func (d *MCP2221) send(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	port, err := d.open()
	if err != nil {
		return err
	}
	if d.config.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, d.config.Timeout)
		defer cancel()
	}
	verbose := snsctx.IsVerbose(ctx)
	if verbose {
		slog.Debug("sending message to adapter", "request", hex.EncodeToString(d.request))
	}
	request := slices.Clone(d.request)
	n, err := transfer(ctx, func() (int, error) {
		return port.Write(request)
	})
	if err != nil {
		d.drop()
		return fmt.Errorf("could not write request: %w", err)
	}
	if n != reportSize {
		return fmt.Errorf("short write: %d", n)
	}
	if d.config.ResponseWait > 0 {
		time.Sleep(d.config.ResponseWait)
	}
	response := make([]byte, reportSize)
	n, err = transfer(ctx, func() (int, error) {
		return port.Read(response)
	})
	if err != nil {
		d.drop()
		return fmt.Errorf("could not read response: %w", err)
	}
	if n != reportSize {
		return fmt.Errorf("short read: %d", n)
	}
	copy(d.response, response)
	if verbose {
		slog.Debug("read message from adapter", "response", hex.EncodeToString(d.response))
	}
	if d.response[0] != d.request[0] {
		return fmt.Errorf("response to command %#02x answers %#02x: %w", d.request[0], d.response[0], ErrCommandUnsupported)
	}
	return nil
}

type transferResult struct {
	n   int
	err error
}

// transfer runs one blocking port operation until it completes or ctx is
// done. The operation owns its buffer, so a late completion after a timeout
// never touches the next command.
func transfer(ctx context.Context, op func() (int, error)) (int, error) {
	done := make(chan transferResult, 1)
	go func() {
		n, err := op()
		done <- transferResult{n: n, err: err}
	}()
	select {
	case res := <-done:
		return res.n, res.err
	case <-ctx.Done():
		err := ctx.Err()
		if errors.Is(err, context.DeadlineExceeded) {
			return 0, fmt.Errorf("%w: adapter did not answer: %w", nirs.ErrTimeout, err)
		}
		return 0, err
	}
}

// drop forgets a port that failed so the next command reopens the adapter.
func (d *MCP2221) drop() {
	if d.port == nil {
		return
	}
	if err := d.port.Close(); err != nil {
		slog.Debug("could not close adapter", "error", err)
	}
	d.port = nil
}

func (d *MCP2221) Close() error {
	d.mx.Lock()
	defer d.mx.Unlock()
	if d.port == nil {
		return nil
	}
	err := d.port.Close()
	d.port = nil
	return err
}

func (d *MCP2221) resetBuffers() {
	resetBuffer(d.request)
	resetBuffer(d.response)
}

func resetBuffer(buf []byte) {
	for i := range buf {
		buf[i] = 0x00
	}
}
