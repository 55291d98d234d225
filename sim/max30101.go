// Package sim provides a simulated MAX30101 that can stand in for hardware in
// tests and in dry runs of the acquisition pipeline.
//
// The simulator answers both at register level (nirs.RegisterBus) and at byte
// level (twowire.Lines), so it can sit directly under a max30101.Device or
// under a twowire.Engine.
//
//	dev := sim.NewMAX30101()
//	dev.Push(sim.Sample(1000, 2000, 3000))
//	d := max30101.New(dev)
package sim

import (
	"context"
	"fmt"
	"sync"

	"github.com/mklimuk/nirs"
	"github.com/mklimuk/nirs/max30101"
	"github.com/mklimuk/nirs/twowire"
)

var _ nirs.RegisterBus = &MAX30101{}
var _ twowire.Lines = &MAX30101{}

// OpKind distinguishes register accesses passed to a Fault hook.
type OpKind int

const (
	OpWrite OpKind = iota
	OpRead
)

// Op describes one register access. Index counts accesses of the same kind
// since the simulator was created (or Reset), starting at 0.
type Op struct {
	Kind     OpKind
	Register byte
	Index    int
}

// Fault is consulted before every register access; a non-nil error aborts the
// access and is returned to the caller.
type Fault func(op Op) error

// NackOnWrite returns a Fault that refuses the write with the given index.
func NackOnWrite(index int) Fault {
	return func(op Op) error {
		if op.Kind == OpWrite && op.Index == index {
			return fmt.Errorf("sim: write %d: %w", index, nirs.ErrSlaveNack)
		}
		return nil
	}
}

// FailReads returns a Fault that fails every read with err.
func FailReads(err error) Fault {
	return func(op Op) error {
		if op.Kind == OpRead {
			return err
		}
		return nil
	}
}

// Write is a register write observed by the simulator.
type Write struct {
	Register byte
	Value    byte
}

type MAX30101Opts struct {
	Address     byte
	Temperature float32
}

type MAX30101Opt func(*MAX30101Opts)

func WithAddress(address byte) MAX30101Opt {
	return func(o *MAX30101Opts) {
		o.Address = address
	}
}

// WithTemperature sets the die temperature reported after a conversion.
func WithTemperature(celsius float32) MAX30101Opt {
	return func(o *MAX30101Opts) {
		o.Temperature = celsius
	}
}

type MAX30101 struct {
	mx     sync.Mutex
	config MAX30101Opts
	fault  Fault

	regs  [256]byte
	fifo  [max30101.FIFODepth][max30101.MaxChannels * 2]byte
	count int // true number of unread samples, invisible through the pointers
	// byte offset inside the sample at the read pointer
	cursor int

	writes       []Write
	reads        int
	writeIndex   int
	readIndex    int
	transactions int

	wire wireState
}

func NewMAX30101(opts ...MAX30101Opt) *MAX30101 {
	config := MAX30101Opts{
		Address:     max30101.DefaultAddress,
		Temperature: 31.5,
	}
	for _, opt := range opts {
		opt(&config)
	}
	s := &MAX30101{config: config}
	s.powerOn()
	return s
}

func (s *MAX30101) powerOn() {
	s.regs = [256]byte{}
	s.regs[max30101.RegPartID] = max30101.PartID
	s.regs[max30101.RegRevID] = 0x03
	s.count = 0
	s.cursor = 0
}

// SetFault installs (or with nil removes) a fault hook.
func (s *MAX30101) SetFault(f Fault) {
	s.mx.Lock()
	defer s.mx.Unlock()
	s.fault = f
}

// Reset returns the simulator to power-on state and clears its history.
func (s *MAX30101) Reset() {
	s.mx.Lock()
	defer s.mx.Unlock()
	s.powerOn()
	s.writes = nil
	s.reads = 0
	s.writeIndex = 0
	s.readIndex = 0
	s.transactions = 0
	s.wire = wireState{}
}

// Writes returns the register writes seen so far, in order.
func (s *MAX30101) Writes() []Write {
	s.mx.Lock()
	defer s.mx.Unlock()
	return append([]Write(nil), s.writes...)
}

// Transactions returns the number of register accesses (reads and writes)
// served so far, failed ones included.
func (s *MAX30101) Transactions() int {
	s.mx.Lock()
	defer s.mx.Unlock()
	return s.transactions
}

// Register returns the current content of a register.
func (s *MAX30101) Register(reg max30101.Register) byte {
	s.mx.Lock()
	defer s.mx.Unlock()
	return s.regs[reg]
}

// Pending returns the true number of unread samples in the FIFO, which the
// device itself only exposes through the ambiguous pointer pair.
func (s *MAX30101) Pending() int {
	s.mx.Lock()
	defer s.mx.Unlock()
	return s.count
}

// Channels returns the channel count implied by the current mode register.
func (s *MAX30101) Channels() int {
	s.mx.Lock()
	defer s.mx.Unlock()
	return s.channels()
}

func (s *MAX30101) channels() int {
	switch s.regs[max30101.RegModeConfig] & 0x07 {
	case max30101.ModeHeartRate:
		return 1
	case max30101.ModeSpO2:
		return 2
	case max30101.ModeMultiLED:
		return 3
	default:
		return 0
	}
}

// Sample encodes ADC counts into the on-wire byte layout, big-endian per channel.
func Sample(counts ...uint16) []byte {
	out := make([]byte, 0, len(counts)*2)
	for _, c := range counts {
		out = append(out, byte(c>>8), byte(c))
	}
	return out
}

// Push appends samples to the FIFO as the ADC would. When the FIFO is full the
// overflow counter is incremented and, with rollover enabled, the oldest
// sample is overwritten; otherwise the new sample is dropped.
func (s *MAX30101) Push(samples ...[]byte) {
	s.mx.Lock()
	defer s.mx.Unlock()
	for _, sample := range samples {
		s.push(sample)
	}
}

func (s *MAX30101) push(sample []byte) {
	wr := s.regs[max30101.RegFIFOWritePtr] & 0x1F
	if s.count == max30101.FIFODepth {
		if s.regs[max30101.RegOverflowCnt] < 0x1F {
			s.regs[max30101.RegOverflowCnt]++
		}
		if s.regs[max30101.RegFIFOConfig]&0x10 == 0 {
			return
		}
		s.regs[max30101.RegFIFOReadPtr] = (s.regs[max30101.RegFIFOReadPtr] + 1) & 0x1F
		s.cursor = 0
		s.count--
	}
	s.fifo[wr] = [max30101.MaxChannels * 2]byte{}
	copy(s.fifo[wr][:], sample)
	s.regs[max30101.RegFIFOWritePtr] = (wr + 1) & 0x1F
	s.count++
}

// WriteRegister implements nirs.RegisterBus.
func (s *MAX30101) WriteRegister(ctx context.Context, address, register, value byte) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mx.Lock()
	defer s.mx.Unlock()
	s.transactions++
	if address != s.config.Address {
		return fmt.Errorf("sim: address %#02x: %w", address, nirs.ErrSlaveNack)
	}
	if err := s.check(OpWrite, register); err != nil {
		return err
	}
	s.store(register, value)
	return nil
}

// ReadRegisters implements nirs.RegisterBus. The register pointer
// auto-increments after every byte except on the FIFO data port.
func (s *MAX30101) ReadRegisters(ctx context.Context, address, register byte, buffer []byte) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if len(buffer) == 0 {
		return nil
	}
	s.mx.Lock()
	defer s.mx.Unlock()
	s.transactions++
	if address != s.config.Address {
		return fmt.Errorf("sim: address %#02x: %w", address, nirs.ErrSlaveNack)
	}
	if err := s.check(OpRead, register); err != nil {
		return err
	}
	reg := register
	for i := range buffer {
		buffer[i] = s.load(reg)
		if reg != byte(max30101.RegFIFOData) {
			reg++
		}
	}
	s.reads++
	return nil
}

func (s *MAX30101) check(kind OpKind, register byte) error {
	op := Op{Kind: kind, Register: register}
	if kind == OpWrite {
		op.Index = s.writeIndex
		s.writeIndex++
	} else {
		op.Index = s.readIndex
		s.readIndex++
	}
	if s.fault == nil {
		return nil
	}
	return s.fault(op)
}

func (s *MAX30101) store(register, value byte) {
	s.writes = append(s.writes, Write{Register: register, Value: value})
	switch max30101.Register(register) {
	case max30101.RegFIFOWritePtr, max30101.RegFIFOReadPtr:
		s.regs[register] = value & 0x1F
		s.count = int((s.regs[max30101.RegFIFOWritePtr] - s.regs[max30101.RegFIFOReadPtr]) & 0x1F)
		s.cursor = 0
	case max30101.RegOverflowCnt:
		s.regs[register] = value & 0x1F
	case max30101.RegModeConfig:
		if value&0x40 != 0 {
			s.powerOn()
			return
		}
		s.regs[register] = value
	case max30101.RegDieTempCfg:
		if value&0x01 != 0 {
			s.convertTemperature()
			return
		}
		s.regs[register] = value
	case max30101.RegIntrStatus1, max30101.RegIntrStatus2, max30101.RegPartID, max30101.RegRevID, max30101.RegFIFOData:
		// read only
	default:
		s.regs[register] = value
	}
}

func (s *MAX30101) convertTemperature() {
	t := s.config.Temperature
	integer := int8(t)
	if float32(integer) > t {
		integer--
	}
	frac := byte((t - float32(integer)) / 0.0625)
	s.regs[max30101.RegDieTempInt] = byte(integer)
	s.regs[max30101.RegDieTempFrac] = frac & 0x0F
	s.regs[max30101.RegDieTempCfg] = 0x00
	s.regs[max30101.RegIntrStatus2] |= 1 << 1
}

func (s *MAX30101) load(register byte) byte {
	switch max30101.Register(register) {
	case max30101.RegFIFOData:
		return s.popByte()
	case max30101.RegIntrStatus1, max30101.RegIntrStatus2:
		v := s.regs[register]
		s.regs[register] = 0
		return v
	default:
		return s.regs[register]
	}
}

// popByte returns the next byte of the sample at the read pointer. The read
// pointer advances once all bytes of that sample have been clocked out, which
// also clears the overflow counter. An empty FIFO returns zeros without moving
// the pointer.
func (s *MAX30101) popByte() byte {
	size := s.channels() * 2
	if s.count == 0 || size == 0 {
		return 0
	}
	rd := s.regs[max30101.RegFIFOReadPtr] & 0x1F
	b := s.fifo[rd][s.cursor]
	s.cursor++
	if s.cursor == size {
		s.cursor = 0
		s.regs[max30101.RegFIFOReadPtr] = (rd + 1) & 0x1F
		s.regs[max30101.RegOverflowCnt] = 0
		s.count--
	}
	return b
}
