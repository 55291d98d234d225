// Package max30101 drives the Maxim MAX30101 optical biosensor: operating
// profile configuration, FIFO acquisition and conversion of photodiode counts
// into nanoamps.
//
// Typical usage:
//
//	d := max30101.New(bus)
//	st, err := d.ConfigureTripleChannelHighPenetration(ctx, max30101.DefaultDrive)
//	n, err := d.Available(ctx)
//	samples, err := d.ReadAndConvert(ctx, st, buf, min(n, len(buf)))
//
// A Device is meant to be owned by a single acquisition context and is not safe
// for concurrent use.
package max30101

import (
	"context"
	"errors"
	"fmt"

	"github.com/mklimuk/nirs"
)

var (
	ErrInvalidSampleCount = errors.New("max30101: invalid sample count")
	ErrBufferOverflow     = errors.New("max30101: destination buffer too small")
	ErrNotConfigured      = errors.New("max30101: device not configured")
	ErrNotDevice          = errors.New("max30101: part ID does not match")
)

type Opts struct {
	Address    byte
	DriveLimit DriveCode
}

type Opt func(*Opts)

func WithAddress(address byte) Opt {
	return func(o *Opts) {
		o.Address = address
	}
}

// WithDriveLimit raises or lowers the highest drive code Configure accepts.
func WithDriveLimit(limit DriveCode) Opt {
	return func(o *Opts) {
		o.DriveLimit = limit
	}
}

type Device struct {
	transport nirs.RegisterBus
	config    Opts

	// samples known to be in the FIFO since the last availability check
	pending int
	scratch [MaxChannels * 2]byte
}

func New(transport nirs.RegisterBus, opts ...Opt) *Device {
	config := Opts{
		Address:    DefaultAddress,
		DriveLimit: DefaultDriveLimit,
	}
	for _, opt := range opts {
		opt(&config)
	}
	return &Device{transport: transport, config: config}
}

func (d *Device) Address() byte {
	return d.config.Address
}

func (d *Device) write(ctx context.Context, reg Register, value byte) error {
	return d.transport.WriteRegister(ctx, d.config.Address, byte(reg), value)
}

func (d *Device) read(ctx context.Context, reg Register, buf []byte) error {
	return d.transport.ReadRegisters(ctx, d.config.Address, byte(reg), buf)
}

func (d *Device) readByte(ctx context.Context, reg Register) (byte, error) {
	buf := d.scratch[:1]
	if err := d.read(ctx, reg, buf); err != nil {
		return 0, err
	}
	return buf[0], nil
}

// Probe checks the part ID register and returns the revision ID.
func (d *Device) Probe(ctx context.Context) (byte, error) {
	part, err := d.readByte(ctx, RegPartID)
	if err != nil {
		return 0, fmt.Errorf("max30101: could not read part ID: %w", err)
	}
	if part != PartID {
		return 0, fmt.Errorf("%w: expected %#02x, got %#02x", ErrNotDevice, PartID, part)
	}
	rev, err := d.readByte(ctx, RegRevID)
	if err != nil {
		return 0, fmt.Errorf("max30101: could not read revision ID: %w", err)
	}
	return rev, nil
}
