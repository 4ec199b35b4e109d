package transport

import (
	"context"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/rs/zerolog"

	"github.com/timzifer/modspec/schema"
	"github.com/timzifer/modspec/telemetry"
)

// DefaultPageWidth is the Modbus limit on registers per read request.
const DefaultPageWidth = 125

// PageClient issues single protocol requests. The method set matches
// github.com/goburrow/modbus.Client, so its clients can be used directly.
type PageClient interface {
	ReadCoils(address, quantity uint16) ([]byte, error)
	ReadDiscreteInputs(address, quantity uint16) ([]byte, error)
	ReadHoldingRegisters(address, quantity uint16) ([]byte, error)
	ReadInputRegisters(address, quantity uint16) ([]byte, error)
	WriteSingleCoil(address, value uint16) ([]byte, error)
	WriteMultipleRegisters(address, quantity uint16, value []byte) ([]byte, error)
}

// Pager presents a PageClient as a Client without a quantity limit. Requests
// wider than the page width are issued as consecutive pages in ascending
// address order.
type Pager struct {
	client    PageClient
	width     int
	logger    zerolog.Logger
	collector telemetry.Collector
}

// Option configures a Pager.
type Option func(*Pager)

// WithPageWidth sets the registers per page. Coil tables page at sixteen
// times the width in bits. Values outside 1..125 are ignored.
func WithPageWidth(width int) Option {
	return func(p *Pager) {
		if width > 0 && width <= DefaultPageWidth {
			p.width = width
		}
	}
}

func WithLogger(logger zerolog.Logger) Option {
	return func(p *Pager) { p.logger = logger }
}

func WithCollector(collector telemetry.Collector) Option {
	return func(p *Pager) {
		if collector != nil {
			p.collector = collector
		}
	}
}

// NewPager wraps client.
func NewPager(client PageClient, opts ...Option) *Pager {
	p := &Pager{
		client:    client,
		width:     DefaultPageWidth,
		logger:    zerolog.Nop(),
		collector: telemetry.Noop(),
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// PageWidth returns the configured registers per page.
func (p *Pager) PageWidth() int { return p.width }

func (p *Pager) ReadCoils(start uint16, dst []byte) error {
	return p.readBits(context.Background(), schema.Coils, start, dst)
}

func (p *Pager) ReadDiscreteInputs(start uint16, dst []byte) error {
	return p.readBits(context.Background(), schema.DiscreteInputs, start, dst)
}

func (p *Pager) ReadHoldingRegisters(start uint16, dst []byte) error {
	return p.readWords(context.Background(), schema.HoldingRegisters, start, dst)
}

func (p *Pager) ReadInputRegisters(start uint16, dst []byte) error {
	return p.readWords(context.Background(), schema.InputRegisters, start, dst)
}

func (p *Pager) ReadCoilsContext(ctx context.Context, start uint16, dst []byte) error {
	return p.readBits(ctx, schema.Coils, start, dst)
}

func (p *Pager) ReadDiscreteInputsContext(ctx context.Context, start uint16, dst []byte) error {
	return p.readBits(ctx, schema.DiscreteInputs, start, dst)
}

func (p *Pager) ReadHoldingRegistersContext(ctx context.Context, start uint16, dst []byte) error {
	return p.readWords(ctx, schema.HoldingRegisters, start, dst)
}

func (p *Pager) ReadInputRegistersContext(ctx context.Context, start uint16, dst []byte) error {
	return p.readWords(ctx, schema.InputRegisters, start, dst)
}

// WriteSingleCoil writes one coil using the 0xFF00/0x0000 encoding.
func (p *Pager) WriteSingleCoil(ctx context.Context, address uint16, value bool) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	var raw uint16
	if value {
		raw = 0xFF00
	}
	started := time.Now()
	if _, err := p.client.WriteSingleCoil(address, raw); err != nil {
		p.collector.IncTransportError(schema.Coils.String())
		return fmt.Errorf("write coil %d: %w", address, err)
	}
	p.collector.ObservePage(schema.Coils.String(), 1, time.Since(started))
	return nil
}

// WriteHoldingRegisters writes src starting at start. An odd trailing byte is
// padded with zero to a whole register.
func (p *Pager) WriteHoldingRegisters(ctx context.Context, start uint16, src []byte) error {
	registers := Quantity(schema.HoldingRegisters, len(src))
	if err := checkSpan(start, registers); err != nil {
		return err
	}
	if len(src)%2 != 0 {
		padded := make([]byte, registers*2)
		copy(padded, src)
		src = padded
	}
	table := schema.HoldingRegisters.String()
	for done := 0; done < registers; {
		if err := ctx.Err(); err != nil {
			return err
		}
		n := min(p.width, registers-done)
		address := start + uint16(done)
		p.logger.Trace().Str("table", table).Uint16("start", address).Int("registers", n).Msg("write page")
		started := time.Now()
		if _, err := p.client.WriteMultipleRegisters(address, uint16(n), src[done*2:(done+n)*2]); err != nil {
			p.collector.IncTransportError(table)
			return fmt.Errorf("write %s %d+%d: %w", table, address, n, err)
		}
		p.collector.ObservePage(table, n, time.Since(started))
		done += n
	}
	return nil
}

// Close closes the wrapped client when it holds a connection.
func (p *Pager) Close() error {
	if closer, ok := p.client.(io.Closer); ok {
		return closer.Close()
	}
	return nil
}

func (p *Pager) readWords(ctx context.Context, table schema.Table, start uint16, dst []byte) error {
	registers := Quantity(table, len(dst))
	if err := checkSpan(start, registers); err != nil {
		return err
	}
	name := table.String()
	for done := 0; done < registers; {
		if err := ctx.Err(); err != nil {
			return err
		}
		n := min(p.width, registers-done)
		address := start + uint16(done)
		p.logger.Trace().Str("table", name).Uint16("start", address).Int("registers", n).Msg("read page")
		started := time.Now()
		data, err := p.page(table, address, uint16(n))
		if err != nil {
			p.collector.IncTransportError(name)
			return fmt.Errorf("read %s %d+%d: %w", name, address, n, err)
		}
		if len(data) < n*2 {
			p.collector.IncTransportError(name)
			return fmt.Errorf("read %s %d+%d: short response of %d bytes", name, address, n, len(data))
		}
		p.collector.ObservePage(name, n, time.Since(started))
		copy(dst[done*2:], data[:n*2])
		done += n
	}
	return nil
}

func (p *Pager) readBits(ctx context.Context, table schema.Table, start uint16, dst []byte) error {
	bits := Quantity(table, len(dst))
	if err := checkSpan(start, bits); err != nil {
		return err
	}
	name := table.String()
	width := p.width * 16
	for done := 0; done < bits; {
		if err := ctx.Err(); err != nil {
			return err
		}
		n := min(width, bits-done)
		address := start + uint16(done)
		p.logger.Trace().Str("table", name).Uint16("start", address).Int("bits", n).Msg("read page")
		started := time.Now()
		data, err := p.page(table, address, uint16(n))
		if err != nil {
			p.collector.IncTransportError(name)
			return fmt.Errorf("read %s %d+%d: %w", name, address, n, err)
		}
		size := (n + 7) / 8
		if len(data) < size {
			p.collector.IncTransportError(name)
			return fmt.Errorf("read %s %d+%d: short response of %d bytes", name, address, n, len(data))
		}
		p.collector.ObservePage(name, n, time.Since(started))
		copy(dst[done/8:], data[:size])
		done += n
	}
	return nil
}

func (p *Pager) page(table schema.Table, address, quantity uint16) ([]byte, error) {
	switch table {
	case schema.Coils:
		return p.client.ReadCoils(address, quantity)
	case schema.DiscreteInputs:
		return p.client.ReadDiscreteInputs(address, quantity)
	case schema.HoldingRegisters:
		return p.client.ReadHoldingRegisters(address, quantity)
	case schema.InputRegisters:
		return p.client.ReadInputRegisters(address, quantity)
	}
	return nil, errors.New("unknown table " + table.String())
}

// checkSpan rejects requests that would run past the 16-bit address space.
func checkSpan(start uint16, quantity int) error {
	if int(start)+quantity > 1<<16 {
		return fmt.Errorf("request of %d at %d exceeds the address space", quantity, start)
	}
	return nil
}
