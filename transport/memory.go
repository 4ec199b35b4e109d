package transport

import (
	"context"
	"fmt"
	"sync"

	"github.com/timzifer/modspec/schema"
)

const (
	memoryBits      = 1 << 16
	memoryRegisters = 1 << 16
)

// Call records one operation served by Memory.
type Call struct {
	Op    string
	Table schema.Table
	Start uint16
	Bytes int
}

// Memory is a simulated device holding all four tables in memory. Coils and
// discrete inputs are packed LSB first, registers are stored as transmitted.
type Memory struct {
	mu       sync.Mutex
	coils    []byte
	discrete []byte
	holding  []byte
	input    []byte
	calls    []Call
	failure  error
}

var _ Client = (*Memory)(nil)

// NewMemory returns a device with every register and bit cleared.
func NewMemory() *Memory {
	return &Memory{
		coils:    make([]byte, memoryBits/8),
		discrete: make([]byte, memoryBits/8),
		holding:  make([]byte, memoryRegisters*2),
		input:    make([]byte, memoryRegisters*2),
	}
}

// Fail makes every following operation return err until Fail(nil) is called.
func (m *Memory) Fail(err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.failure = err
}

// Calls returns the operations served so far.
func (m *Memory) Calls() []Call {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]Call(nil), m.calls...)
}

// Writes returns how many write operations reached the device.
func (m *Memory) Writes() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	count := 0
	for _, c := range m.calls {
		if c.Op == "write" {
			count++
		}
	}
	return count
}

// SetBit sets a coil or discrete input.
func (m *Memory) SetBit(table schema.Table, address uint16, value bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if bits := m.bits(table); bits != nil {
		setBit(bits, int(address), value)
	}
}

// Bit returns a coil or discrete input.
func (m *Memory) Bit(table schema.Table, address uint16) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	bits := m.bits(table)
	return bits != nil && bits[address/8]&(1<<(address%8)) != 0
}

// SetRegisters stores raw register bytes into a word table.
func (m *Memory) SetRegisters(table schema.Table, start uint16, src []byte) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	words := m.words(table)
	if words == nil {
		return fmt.Errorf("%s is not a register table", table)
	}
	if int(start)*2+len(src) > len(words) {
		return fmt.Errorf("%d bytes at %d exceed the address space", len(src), start)
	}
	copy(words[int(start)*2:], src)
	return nil
}

// Registers returns a copy of count registers of a word table.
func (m *Memory) Registers(table schema.Table, start, count uint16) []byte {
	m.mu.Lock()
	defer m.mu.Unlock()
	words := m.words(table)
	if words == nil || int(start)*2 >= len(words) {
		return nil
	}
	end := min(int(start)*2+int(count)*2, len(words))
	out := make([]byte, end-int(start)*2)
	copy(out, words[int(start)*2:end])
	return out
}

func (m *Memory) ReadCoils(start uint16, dst []byte) error {
	return m.read(schema.Coils, start, dst)
}

func (m *Memory) ReadDiscreteInputs(start uint16, dst []byte) error {
	return m.read(schema.DiscreteInputs, start, dst)
}

func (m *Memory) ReadHoldingRegisters(start uint16, dst []byte) error {
	return m.read(schema.HoldingRegisters, start, dst)
}

func (m *Memory) ReadInputRegisters(start uint16, dst []byte) error {
	return m.read(schema.InputRegisters, start, dst)
}

func (m *Memory) ReadCoilsContext(ctx context.Context, start uint16, dst []byte) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	return m.read(schema.Coils, start, dst)
}

func (m *Memory) ReadDiscreteInputsContext(ctx context.Context, start uint16, dst []byte) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	return m.read(schema.DiscreteInputs, start, dst)
}

func (m *Memory) ReadHoldingRegistersContext(ctx context.Context, start uint16, dst []byte) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	return m.read(schema.HoldingRegisters, start, dst)
}

func (m *Memory) ReadInputRegistersContext(ctx context.Context, start uint16, dst []byte) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	return m.read(schema.InputRegisters, start, dst)
}

func (m *Memory) WriteSingleCoil(ctx context.Context, address uint16, value bool) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.calls = append(m.calls, Call{Op: "write", Table: schema.Coils, Start: address, Bytes: 1})
	if m.failure != nil {
		return m.failure
	}
	setBit(m.coils, int(address), value)
	return nil
}

func (m *Memory) WriteHoldingRegisters(ctx context.Context, start uint16, src []byte) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.calls = append(m.calls, Call{Op: "write", Table: schema.HoldingRegisters, Start: start, Bytes: len(src)})
	if m.failure != nil {
		return m.failure
	}
	if int(start)*2+len(src) > len(m.holding) {
		return fmt.Errorf("write %d bytes at %d exceeds the address space", len(src), start)
	}
	copy(m.holding[int(start)*2:], src)
	return nil
}

func (m *Memory) read(table schema.Table, start uint16, dst []byte) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.calls = append(m.calls, Call{Op: "read", Table: table, Start: start, Bytes: len(dst)})
	if m.failure != nil {
		return m.failure
	}
	if err := checkSpan(start, Quantity(table, len(dst))); err != nil {
		return err
	}
	if bits := m.bits(table); bits != nil {
		clear(dst)
		for i := 0; i < len(dst)*8; i++ {
			address := int(start) + i
			if bits[address/8]&(1<<(address%8)) != 0 {
				dst[i/8] |= 1 << (i % 8)
			}
		}
		return nil
	}
	words := m.words(table)
	if words == nil {
		return fmt.Errorf("read: unknown table %s", table)
	}
	copy(dst, words[int(start)*2:])
	return nil
}

func (m *Memory) bits(table schema.Table) []byte {
	switch table {
	case schema.Coils:
		return m.coils
	case schema.DiscreteInputs:
		return m.discrete
	}
	return nil
}

func (m *Memory) words(table schema.Table) []byte {
	switch table {
	case schema.HoldingRegisters:
		return m.holding
	case schema.InputRegisters:
		return m.input
	}
	return nil
}

func setBit(bits []byte, address int, value bool) {
	if value {
		bits[address/8] |= 1 << (address % 8)
	} else {
		bits[address/8] &^= 1 << (address % 8)
	}
}
