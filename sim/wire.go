package sim

import (
	"context"
	"errors"
	"fmt"

	"github.com/mklimuk/nirs"
	"github.com/mklimuk/nirs/max30101"
)

type wirePhase int

const (
	phaseIdle wirePhase = iota
	phaseAddress
	phaseRegister
	phaseWrite
	phaseRead
	phaseIgnore
)

type wireState struct {
	held    bool
	phase   wirePhase
	pointer byte
	busy    bool
	stall   bool
	trace   []string
}

// SetBusy makes every subsequent START fail as if another master held the bus.
func (s *MAX30101) SetBusy(busy bool) {
	s.mx.Lock()
	defer s.mx.Unlock()
	s.wire.busy = busy
}

// SetStall makes the slave hold the clock on every byte until the caller's
// context expires.
func (s *MAX30101) SetStall(stall bool) {
	s.mx.Lock()
	defer s.mx.Unlock()
	s.wire.stall = stall
}

// Trace returns the bus conditions seen at byte level: "S" for START, "Sr"
// for repeated START, "P" for STOP, "W xx A|N" for a byte sent by the master
// and "R xx A|N" for a byte received by it.
func (s *MAX30101) Trace() []string {
	s.mx.Lock()
	defer s.mx.Unlock()
	return append([]string(nil), s.wire.trace...)
}

func (s *MAX30101) stalled(ctx context.Context) error {
	s.mx.Lock()
	stall := s.wire.stall
	s.mx.Unlock()
	if !stall {
		return ctx.Err()
	}
	<-ctx.Done()
	return ctx.Err()
}

// Start implements twowire.Lines.
func (s *MAX30101) Start(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mx.Lock()
	defer s.mx.Unlock()
	if s.wire.busy {
		return fmt.Errorf("sim: start: %w", nirs.ErrBusBusy)
	}
	if s.wire.held {
		s.wire.trace = append(s.wire.trace, "Sr")
	} else {
		s.wire.trace = append(s.wire.trace, "S")
	}
	s.wire.held = true
	s.wire.phase = phaseAddress
	return nil
}

// Stop implements twowire.Lines.
func (s *MAX30101) Stop(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mx.Lock()
	defer s.mx.Unlock()
	s.wire.trace = append(s.wire.trace, "P")
	s.wire.held = false
	s.wire.phase = phaseIdle
	return nil
}

// Send implements twowire.Lines.
func (s *MAX30101) Send(ctx context.Context, b byte) (bool, error) {
	if err := s.stalled(ctx); err != nil {
		return false, err
	}
	s.mx.Lock()
	defer s.mx.Unlock()
	ack, err := s.send(b)
	mark := "N"
	if ack {
		mark = "A"
	}
	s.wire.trace = append(s.wire.trace, fmt.Sprintf("W %02x %s", b, mark))
	return ack, err
}

func (s *MAX30101) send(b byte) (bool, error) {
	switch s.wire.phase {
	case phaseAddress:
		if b>>1 != s.config.Address {
			s.wire.phase = phaseIgnore
			return false, nil
		}
		if b&0x01 == 0 {
			s.wire.phase = phaseRegister
			return true, nil
		}
		s.transactions++
		if err := s.check(OpRead, s.wire.pointer); err != nil {
			s.wire.phase = phaseIgnore
			return nackOrError(err)
		}
		s.reads++
		s.wire.phase = phaseRead
		return true, nil
	case phaseRegister:
		s.wire.pointer = b
		s.wire.phase = phaseWrite
		return true, nil
	case phaseWrite:
		s.transactions++
		if err := s.check(OpWrite, s.wire.pointer); err != nil {
			s.wire.phase = phaseIgnore
			return nackOrError(err)
		}
		s.store(s.wire.pointer, b)
		s.wire.pointer++
		return true, nil
	default:
		return false, nil
	}
}

func nackOrError(err error) (bool, error) {
	if errors.Is(err, nirs.ErrSlaveNack) {
		return false, nil
	}
	return false, err
}

// Receive implements twowire.Lines.
func (s *MAX30101) Receive(ctx context.Context, ack bool) (byte, error) {
	if err := s.stalled(ctx); err != nil {
		return 0, err
	}
	s.mx.Lock()
	defer s.mx.Unlock()
	var b byte = 0xFF
	if s.wire.phase == phaseRead {
		b = s.load(s.wire.pointer)
		if s.wire.pointer != byte(max30101.RegFIFOData) {
			s.wire.pointer++
		}
		if !ack {
			s.wire.phase = phaseIgnore
		}
	}
	mark := "N"
	if ack {
		mark = "A"
	}
	s.wire.trace = append(s.wire.trace, fmt.Sprintf("R %02x %s", b, mark))
	return b, nil
}
