// Package binding lays a schema out over a register transport. Every group
// gets its own buffer filled by explicit reads; values are typed views into
// those buffers and are indexed by their device register identifier.
package binding

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sort"

	"github.com/rs/zerolog"

	"github.com/timzifer/modspec/codec"
	"github.com/timzifer/modspec/schema"
	"github.com/timzifer/modspec/telemetry"
	"github.com/timzifer/modspec/transport"
)

var (
	// ErrReadOnly is returned when writing a value outside the holding register
	// and coil tables.
	ErrReadOnly = errors.New("value is read-only")
	// ErrArrayWrite is returned when writing an array point.
	ErrArrayWrite = errors.New("array values cannot be written")
	// ErrCoilWrite is returned by every coil commit.
	ErrCoilWrite = errors.New("coil writes are not supported")
	// ErrDuplicateRegister reports two points bound to the same register.
	ErrDuplicateRegister = errors.New("duplicate register")
	// ErrAddressSpace reports a group running past the last register of its
	// table.
	ErrAddressSpace = errors.New("group exceeds the address space")
)

// tableStride separates the tables in the register identifier space.
const tableStride = 100000

// RegisterID returns the device register identifier of address in table.
func RegisterID(table schema.Table, address int) int {
	return tableStride*int(table) + address
}

// Binding is a schema bound to a transport.
type Binding struct {
	client    transport.Client
	order     codec.ByteOrder
	schema    *schema.Schema
	logger    zerolog.Logger
	collector telemetry.Collector

	groups    []*Group
	repeating []*RepeatingGroup
	index     map[int]Value
}

// Option configures a Binding.
type Option func(*Binding)

// WithLogger sets the logger used for reads and writes.
func WithLogger(logger zerolog.Logger) Option {
	return func(b *Binding) { b.logger = logger }
}

// WithCollector records writes and rejected writes.
func WithCollector(collector telemetry.Collector) Option {
	return func(b *Binding) {
		if collector != nil {
			b.collector = collector
		}
	}
}

// Bind lays out every group and repeating group of s. Word tables use order,
// coil and discrete input tables are always little endian.
func Bind(client transport.Client, order codec.ByteOrder, s *schema.Schema, opts ...Option) (*Binding, error) {
	if client == nil {
		return nil, errors.New("bind: transport is required")
	}
	if s == nil {
		return nil, errors.New("bind: schema is required")
	}
	b := &Binding{
		client:    client,
		order:     order,
		schema:    s,
		logger:    zerolog.Nop(),
		collector: telemetry.Noop(),
		index:     make(map[int]Value),
	}
	for _, opt := range opts {
		opt(b)
	}

	for _, g := range s.Groups {
		group, err := b.bindGroup(g, 0, b.index)
		if err != nil {
			return nil, err
		}
		b.groups = append(b.groups, group)
	}
	for _, rg := range s.RepeatingGroups {
		repeating, err := b.bindRepeating(rg)
		if err != nil {
			return nil, err
		}
		b.repeating = append(b.repeating, repeating)
	}
	b.logger.Debug().
		Str("schema", s.Name).
		Int("groups", len(b.groups)).
		Int("repeating_groups", len(b.repeating)).
		Int("registers", len(b.index)).
		Msg("schema bound")
	return b, nil
}

func (b *Binding) bindRepeating(rg *schema.RepeatingGroup) (*RepeatingGroup, error) {
	if rg.Count == nil {
		return nil, fmt.Errorf("bind repeating group %q: count is required", rg.Name)
	}
	repeating := &RepeatingGroup{name: rg.Name, def: rg}
	for i := 0; i < rg.Entries(); i++ {
		entry := &Entry{index: i, offset: int(rg.Every) * i}
		for _, g := range rg.Groups {
			group, err := b.bindGroup(g, entry.offset, b.index)
			if err != nil {
				return nil, fmt.Errorf("bind repeating group %q entry %d: %w", rg.Name, i, err)
			}
			group.entry = entry
			entry.groups = append(entry.groups, group)
		}
		repeating.entries = append(repeating.entries, entry)
	}
	return repeating, nil
}

// bindGroup builds the buffer and values of g shifted by offset registers and
// records every value in index.
func (b *Binding) bindGroup(g *schema.Group, offset int, index map[int]Value) (*Group, error) {
	if !g.Table.Valid() {
		return nil, fmt.Errorf("bind group %q: invalid table %d", g.Name, int(g.Table))
	}
	start := int(g.BaseRegister) + offset
	if end := start + registerSpan(g); end > 1<<16 {
		return nil, fmt.Errorf("%w: group %q covers %d..%d", ErrAddressSpace, g.Name, start, end-1)
	}
	order := b.order
	if g.Table.BitAddressed() {
		order = codec.LittleEndian
	}
	group := &Group{
		binding: b,
		def:     g,
		start:   uint16(start),
		order:   order,
		buf:     make([]byte, g.SizeInBytes()),
		byName:  make(map[string]Value),
	}

	byteOffset, registerOffset := 0, 0
	for _, p := range g.Points {
		span := p.SpanInBytes()
		if p.Type != schema.TypePadding {
			plan, err := codec.Compile(p, order)
			if err != nil {
				return nil, fmt.Errorf("bind group %q point %q: %w", g.Name, p.Name, err)
			}
			id := RegisterID(g.Table, start+registerOffset)
			lens := &view{group: group, plan: plan, offset: byteOffset, id: id}
			var v Value = lens
			if writable(g.Table, p) {
				v = &writableView{view: lens}
			}
			if existing, ok := index[id]; ok {
				return nil, fmt.Errorf("%w: %d claimed by %q and %q", ErrDuplicateRegister, id, existing.Name(), p.Name)
			}
			index[id] = v
			group.values = append(group.values, v)
			group.byName[p.Name] = v
		}
		byteOffset += span
		registerOffset += registerStep(g.Table, p)
	}
	return group, nil
}

// registerStep is the register offset a point advances within its group.
func registerStep(table schema.Table, p *schema.Point) int {
	if table.BitAddressed() {
		return p.SizeInBytes() * 4
	}
	return p.SizeInBytes() / 2
}

// registerSpan is the number of registers or bits covered by g: the larger of
// the laid out register offsets and the quantity read into its buffer.
func registerSpan(g *schema.Group) int {
	span := 0
	for _, p := range g.Points {
		span += registerStep(g.Table, p)
	}
	return max(span, transport.Quantity(g.Table, g.SizeInBytes()))
}

// writable reports whether a point may be committed. Only scalar points of
// the holding register and coil tables qualify.
func writable(table schema.Table, p *schema.Point) bool {
	if p.IsArray() {
		return false
	}
	return table == schema.HoldingRegisters || table == schema.Coils
}

// Schema returns the bound schema.
func (b *Binding) Schema() *schema.Schema { return b.schema }

// Order returns the byte order of the word tables.
func (b *Binding) Order() codec.ByteOrder { return b.order }

// Groups returns the plain groups in declaration order.
func (b *Binding) Groups() []*Group { return b.groups }

// RepeatingGroups returns the repeating groups in declaration order.
func (b *Binding) RepeatingGroups() []*RepeatingGroup { return b.repeating }

// Group returns the plain group called name.
func (b *Binding) Group(name string) (*Group, bool) {
	for _, g := range b.groups {
		if g.def.Name == name {
			return g, true
		}
	}
	return nil, false
}

// RepeatingGroup returns the repeating group called name.
func (b *Binding) RepeatingGroup(name string) (*RepeatingGroup, bool) {
	for _, rg := range b.repeating {
		if rg.name == name {
			return rg, true
		}
	}
	return nil, false
}

// Lookup returns the value bound to a device register identifier.
func (b *Binding) Lookup(id int) (Value, bool) {
	v, ok := b.index[id]
	return v, ok
}

// Len returns the number of indexed values.
func (b *Binding) Len() int { return len(b.index) }

// Values returns every bound value ordered by register identifier.
func (b *Binding) Values() []Value {
	ids := make([]int, 0, len(b.index))
	for id := range b.index {
		ids = append(ids, id)
	}
	sort.Ints(ids)
	out := make([]Value, len(ids))
	for i, id := range ids {
		out[i] = b.index[id]
	}
	return out
}

// ReadAll refreshes every plain group in declaration order.
func (b *Binding) ReadAll(ctx context.Context) error {
	for _, g := range b.groups {
		if err := g.ReadContext(ctx); err != nil {
			return err
		}
	}
	return nil
}

// Close closes the transport when it holds a connection.
func (b *Binding) Close() error {
	if closer, ok := b.client.(io.Closer); ok {
		return closer.Close()
	}
	return nil
}
