package nirs

import (
	"context"
	"errors"
)

// Bus level failures. Every backend wraps one of these so callers can classify
// a failure with errors.Is regardless of the transport in use.
var (
	ErrBusBusy   = errors.New("two-wire bus is busy (could not be acquired)")
	ErrSlaveNack = errors.New("slave did not acknowledge")
	ErrTimeout   = errors.New("two-wire bus wait timed out")
)

// RegisterWriter writes a single byte into a device register.
type RegisterWriter interface {
	WriteRegister(ctx context.Context, address, register, value byte) error
}

// RegisterReader reads len(buffer) bytes starting at register. The register
// address is sent once and the bytes are clocked out after a repeated START.
type RegisterReader interface {
	ReadRegisters(ctx context.Context, address, register byte, buffer []byte) error
}

// RegisterBus is a two-wire master able to address registers of a 7-bit slave.
type RegisterBus interface {
	RegisterWriter
	RegisterReader
}
