package gpio

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/mklimuk/nirs"
)

type registry int

const DefaultMCP23017Address = 0x21

// BRegistries
const (
	IODIRA registry = iota
	IOPOLA
	GPINTENA
	DEFVALA
	INTCONA
	IOCONA
	GPPUA
	INTFA
	INTCAPA
	GPIOA
	OLATA
	IODIRB
	IOPOLB
	GPINTENB
	DEFVALB
	INTCONB
	IOCONB
	GPPUB
	INTFB
	INTCAPB
	GPIOB
	OLATB
)

var (
	BankAddr = []map[registry]byte{
		{
			IODIRA:   0x00,
			IOPOLA:   0x02,
			GPINTENA: 0x04,
			DEFVALA:  0x06,
			INTCONA:  0x08,
			IOCONA:   0x0A,
			GPPUA:    0x0C,
			INTFA:    0x0E,
			INTCAPA:  0x10,
			GPIOA:    0x12,
			OLATA:    0x14,
			IODIRB:   0x01,
			IOPOLB:   0x03,
			GPINTENB: 0x05,
			DEFVALB:  0x07,
			INTCONB:  0x09,
			IOCONB:   0x0B,
			GPPUB:    0x0D,
			INTFB:    0x0F,
			INTCAPB:  0x11,
			GPIOB:    0x13,
			OLATB:    0x15,
		},
		{
			IODIRA:   0x00,
			IOPOLA:   0x01,
			GPINTENA: 0x02,
			DEFVALA:  0x03,
			INTCONA:  0x04,
			IOCONA:   0x05,
			GPPUA:    0x06,
			INTFA:    0x07,
			INTCAPA:  0x08,
			GPIOA:    0x09,
			OLATA:    0x0A,
			IODIRB:   0x10,
			IOPOLB:   0x11,
			GPINTENB: 0x12,
			DEFVALB:  0x13,
			INTCONB:  0x14,
			IOCONB:   0x15,
			GPPUB:    0x16,
			INTFB:    0x17,
			INTCAPB:  0x18,
			GPIOB:    0x19,
			OLATB:    0x1A,
		},
	}
)

// Port selects one of the two 8-bit I/O ports of the expander.
type Port int

const (
	PortA Port = iota
	PortB
)

func (p Port) String() string {
	if p == PortB {
		return "B"
	}
	return "A"
}

func (p Port) reg(a, b registry) registry {
	if p == PortB {
		return b
	}
	return a
}

/*
	Steps to drive an output:

1. Clear the pin bit in the IODIR registry (0 = output) - 0x00(A)/0x01(B)
2. Write the latch registry OLAT - 0x14(A)/0x15(B)
3. Read back through the port registry GPIO - 0x12(A)/0x13(B)
*/
type MCP23017 struct {
	mx         sync.Mutex
	transport  nirs.RegisterBus
	bank       int
	address    byte
	retryLimit int
}

func NewMCP23017(bus nirs.RegisterBus, address byte) *MCP23017 {
	return &MCP23017{retryLimit: 2, transport: bus, address: address}
}

// retry repeats op while the bus reports busy, up to the retry limit.
func (m *MCP23017) retry(what string, op func() error) error {
	var err error
	for i := m.retryLimit; i > 0; i-- {
		err = op()
		if err == nil {
			return nil
		}
		if !errors.Is(err, nirs.ErrBusBusy) {
			return fmt.Errorf("could not %s: %w", what, err)
		}
	}
	return fmt.Errorf("could not %s (retry limit reached): %w", what, err)
}

func (m *MCP23017) writeRegistry(ctx context.Context, reg registry, value byte) error {
	m.mx.Lock()
	defer m.mx.Unlock()
	return m.transport.WriteRegister(ctx, m.address, BankAddr[m.bank][reg], value)
}

func (m *MCP23017) readRegistry(ctx context.Context, reg registry) (byte, error) {
	m.mx.Lock()
	defer m.mx.Unlock()
	buf := make([]byte, 1)
	err := m.transport.ReadRegisters(ctx, m.address, BankAddr[m.bank][reg], buf)
	if err != nil {
		return 0x00, fmt.Errorf("could not read registry %#02x: %w", BankAddr[m.bank][reg], err)
	}
	return buf[0], nil
}

// Init sets the IODIR registry of port p; a set bit makes the pin an input.
func (m *MCP23017) Init(ctx context.Context, p Port, inout byte) error {
	return m.retry(fmt.Sprintf("initialize gpio %s set", p), func() error {
		return m.writeRegistry(ctx, p.reg(IODIRA, IODIRB), inout)
	})
}

// PullUp sets up pull up resistors on port p
func (m *MCP23017) PullUp(ctx context.Context, p Port, settings byte) error {
	return m.retry(fmt.Sprintf("set pull-up on gpio %s set", p), func() error {
		return m.writeRegistry(ctx, p.reg(GPPUA, GPPUB), settings)
	})
}

// Write sets the output latch of port p
func (m *MCP23017) Write(ctx context.Context, p Port, value byte) error {
	return m.retry(fmt.Sprintf("write gpio %s set", p), func() error {
		return m.writeRegistry(ctx, p.reg(OLATA, OLATB), value)
	})
}

// ReadPort reads the pin levels of port p
func (m *MCP23017) ReadPort(ctx context.Context, p Port) (byte, error) {
	var res byte
	err := m.retry(fmt.Sprintf("read gpio %s set", p), func() error {
		var err error
		res, err = m.readRegistry(ctx, p.reg(GPIOA, GPIOB))
		return err
	})
	return res, err
}

func (m *MCP23017) Read(ctx context.Context) ([]byte, error) {
	res := make([]byte, 2)
	var err error
	res[0], err = m.ReadPort(ctx, PortA)
	if err != nil {
		return nil, err
	}
	res[1], err = m.ReadPort(ctx, PortB)
	if err != nil {
		return nil, err
	}
	return res, nil
}
