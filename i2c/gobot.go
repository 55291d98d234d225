package i2c

import (
	"context"
	"fmt"
	"sync"

	"github.com/mklimuk/nirs"
	"gobot.io/x/gobot/v2/drivers/i2c"
)

var _ nirs.RegisterBus = &GobotBus{}

// GobotBus reaches the sensor through a gobot platform adaptor, e.g. the
// NanoPi NEO adaptor. One connection is opened per slave address and kept
// until Close.
type GobotBus struct {
	mx        sync.Mutex
	connector i2c.Connector
	bus       int
	conns     map[byte]i2c.Connection
}

// NewGobotBus uses bus number busNr of the adaptor; a negative number selects
// the adaptor default.
func NewGobotBus(connector i2c.Connector, busNr int) *GobotBus {
	if busNr < 0 {
		busNr = connector.DefaultI2cBus()
	}
	return &GobotBus{connector: connector, bus: busNr, conns: map[byte]i2c.Connection{}}
}

func (b *GobotBus) conn(address byte) (i2c.Connection, error) {
	if c, ok := b.conns[address]; ok {
		return c, nil
	}
	c, err := b.connector.GetI2cConnection(int(address), b.bus)
	if err != nil {
		return nil, fmt.Errorf("could not open connection to %#02x on bus %d: %w", address, b.bus, err)
	}
	b.conns[address] = c
	return c, nil
}

func (b *GobotBus) WriteRegister(ctx context.Context, address, register, value byte) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	b.mx.Lock()
	defer b.mx.Unlock()
	c, err := b.conn(address)
	if err != nil {
		return err
	}
	if err := c.WriteByteData(register, value); err != nil {
		return fmt.Errorf("could not write register %#02x@%#02x: %w", register, address, classify(err))
	}
	return nil
}

func (b *GobotBus) ReadRegisters(ctx context.Context, address, register byte, buffer []byte) error {
	if len(buffer) == 0 {
		return nil
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	b.mx.Lock()
	defer b.mx.Unlock()
	c, err := b.conn(address)
	if err != nil {
		return err
	}
	if err := c.ReadBlockData(register, buffer); err != nil {
		return fmt.Errorf("could not read register %#02x@%#02x: %w", register, address, classify(err))
	}
	return nil
}

func (b *GobotBus) Close() error {
	b.mx.Lock()
	defer b.mx.Unlock()
	var first error
	for address, c := range b.conns {
		if err := c.Close(); err != nil && first == nil {
			first = fmt.Errorf("could not close connection to %#02x: %w", address, err)
		}
		delete(b.conns, address)
	}
	return first
}
