// Package transport defines the register-table operations the binding engine
// consumes, a pager that splits requests at the protocol quantity limit and
// an in-memory device.
package transport

import (
	"context"
	"fmt"

	"github.com/timzifer/modspec/schema"
)

// Reader reads register tables into byte buffers. The buffer length defines
// the quantity: eight bits per byte for coils and discrete inputs, two bytes
// per register for holding and input registers.
type Reader interface {
	ReadCoils(start uint16, dst []byte) error
	ReadDiscreteInputs(start uint16, dst []byte) error
	ReadHoldingRegisters(start uint16, dst []byte) error
	ReadInputRegisters(start uint16, dst []byte) error
}

// ContextReader is the cancellable variant of Reader.
type ContextReader interface {
	ReadCoilsContext(ctx context.Context, start uint16, dst []byte) error
	ReadDiscreteInputsContext(ctx context.Context, start uint16, dst []byte) error
	ReadHoldingRegistersContext(ctx context.Context, start uint16, dst []byte) error
	ReadInputRegistersContext(ctx context.Context, start uint16, dst []byte) error
}

// Writer commits values to the device.
type Writer interface {
	WriteSingleCoil(ctx context.Context, address uint16, value bool) error
	WriteHoldingRegisters(ctx context.Context, start uint16, src []byte) error
}

// Client is the full transport surface.
type Client interface {
	Reader
	ContextReader
	Writer
}

// ReadTable dispatches a blocking read on table.
func ReadTable(c Reader, table schema.Table, start uint16, dst []byte) error {
	switch table {
	case schema.Coils:
		return c.ReadCoils(start, dst)
	case schema.DiscreteInputs:
		return c.ReadDiscreteInputs(start, dst)
	case schema.HoldingRegisters:
		return c.ReadHoldingRegisters(start, dst)
	case schema.InputRegisters:
		return c.ReadInputRegisters(start, dst)
	}
	return fmt.Errorf("read: unknown table %s", table)
}

// ReadTableContext dispatches a cancellable read on table.
func ReadTableContext(ctx context.Context, c ContextReader, table schema.Table, start uint16, dst []byte) error {
	switch table {
	case schema.Coils:
		return c.ReadCoilsContext(ctx, start, dst)
	case schema.DiscreteInputs:
		return c.ReadDiscreteInputsContext(ctx, start, dst)
	case schema.HoldingRegisters:
		return c.ReadHoldingRegistersContext(ctx, start, dst)
	case schema.InputRegisters:
		return c.ReadInputRegistersContext(ctx, start, dst)
	}
	return fmt.Errorf("read: unknown table %s", table)
}

// Quantity returns the number of registers, or bits for coil tables, that a
// buffer of n bytes covers. Odd word buffers round up to a whole register.
func Quantity(table schema.Table, n int) int {
	if table.BitAddressed() {
		return n * 8
	}
	return (n + 1) / 2
}
