//go:build linux

package i2c

import (
	"context"
	"fmt"
	"sync"

	"github.com/go-daq/smbus"
	"github.com/mklimuk/nirs"
)

var _ nirs.RegisterBus = &SMBus{}

// SMBus uses the kernel SMBus interface of /dev/i2c-N. Block reads are limited
// to 32 bytes, which covers a FIFO sample of every profile.
type SMBus struct {
	mx   sync.Mutex
	conn *smbus.Conn
}

func NewSMBus(bus int, address byte) (*SMBus, error) {
	conn, err := smbus.Open(bus, address)
	if err != nil {
		return nil, fmt.Errorf("could not open smbus %d: %w", bus, err)
	}
	return &SMBus{conn: conn}, nil
}

func (b *SMBus) WriteRegister(ctx context.Context, address, register, value byte) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	b.mx.Lock()
	defer b.mx.Unlock()
	if err := b.conn.WriteReg(address, register, value); err != nil {
		return fmt.Errorf("could not write register %#02x@%#02x: %w", register, address, classify(err))
	}
	return nil
}

func (b *SMBus) ReadRegisters(ctx context.Context, address, register byte, buffer []byte) error {
	if len(buffer) == 0 {
		return nil
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	b.mx.Lock()
	defer b.mx.Unlock()
	if err := b.conn.ReadBlockData(address, register, buffer); err != nil {
		return fmt.Errorf("could not read register %#02x@%#02x: %w", register, address, classify(err))
	}
	return nil
}

func (b *SMBus) Close() error {
	return b.conn.Close()
}
