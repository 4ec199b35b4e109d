package binding

import (
	"context"
	"fmt"
	"time"

	"github.com/timzifer/modspec/codec"
	"github.com/timzifer/modspec/schema"
	"github.com/timzifer/modspec/transport"
)

// Group is a bound schema group. It owns the buffer its values decode from;
// the buffer only changes on Read, ReadContext and successful writes.
type Group struct {
	binding *Binding
	def     *schema.Group
	entry   *Entry
	start   uint16
	order   codec.ByteOrder
	buf     []byte
	values  []Value
	byName  map[string]Value
}

func (g *Group) Name() string { return g.def.Name }

func (g *Group) Table() schema.Table { return g.def.Table }

// Start is the first register or bit of the group, repeat offset included.
func (g *Group) Start() uint16 { return g.start }

// Order is the byte order values of the group are decoded with.
func (g *Group) Order() codec.ByteOrder { return g.order }

// Entry returns the repeating group entry owning the group, nil for plain
// groups.
func (g *Group) Entry() *Entry { return g.entry }

// Values returns the non-padding values in declaration order.
func (g *Group) Values() []Value { return g.values }

// Value returns the value of the point called name.
func (g *Group) Value(name string) (Value, bool) {
	v, ok := g.byName[name]
	return v, ok
}

// Bytes returns a copy of the group buffer.
func (g *Group) Bytes() []byte {
	return append([]byte(nil), g.buf...)
}

// Read fills the buffer from the device.
func (g *Group) Read() error {
	return g.read(context.Background(), false)
}

// ReadContext fills the buffer from the device using the context aware
// transport operations.
func (g *Group) ReadContext(ctx context.Context) error {
	return g.read(ctx, true)
}

func (g *Group) read(ctx context.Context, withContext bool) error {
	if len(g.buf) == 0 {
		return nil
	}
	logger := g.binding.logger
	started := time.Now()
	var err error
	if withContext {
		err = transport.ReadTableContext(ctx, g.binding.client, g.def.Table, g.start, g.buf)
	} else {
		err = transport.ReadTable(g.binding.client, g.def.Table, g.start, g.buf)
	}
	if err != nil {
		return fmt.Errorf("read group %q: %w", g.def.Name, err)
	}
	logger.Trace().
		Str("group", g.def.Name).
		Str("table", g.def.Table.String()).
		Uint16("start", g.start).
		Int("bytes", len(g.buf)).
		Dur("duration", time.Since(started)).
		Msg("group read")
	return nil
}

// RepeatingGroup is a bound repeating group.
type RepeatingGroup struct {
	name    string
	def     *schema.RepeatingGroup
	entries []*Entry
}

func (r *RepeatingGroup) Name() string { return r.name }

// Every is the register stride between two entries.
func (r *RepeatingGroup) Every() uint16 { return r.def.Every }

// Entries returns one entry per replica.
func (r *RepeatingGroup) Entries() []*Entry { return r.entries }

// Entry returns the replica at index i.
func (r *RepeatingGroup) Entry(i int) (*Entry, bool) {
	if i < 0 || i >= len(r.entries) {
		return nil, false
	}
	return r.entries[i], true
}

// ReadAll reads every entry in index order.
func (r *RepeatingGroup) ReadAll(ctx context.Context) error {
	for _, e := range r.entries {
		if err := e.ReadAll(ctx); err != nil {
			return fmt.Errorf("repeating group %q: %w", r.name, err)
		}
	}
	return nil
}

// Entry is one replica of a repeating group with its own buffers.
type Entry struct {
	index  int
	offset int
	groups []*Group
}

func (e *Entry) Index() int { return e.index }

// Offset is the register offset of the entry, every times index.
func (e *Entry) Offset() int { return e.offset }

func (e *Entry) Groups() []*Group { return e.groups }

// Group returns the replica of the template group called name.
func (e *Entry) Group(name string) (*Group, bool) {
	for _, g := range e.groups {
		if g.def.Name == name {
			return g, true
		}
	}
	return nil, false
}

// ReadAll reads the groups of the entry.
func (e *Entry) ReadAll(ctx context.Context) error {
	for _, g := range e.groups {
		if err := g.ReadContext(ctx); err != nil {
			return fmt.Errorf("entry %d: %w", e.index, err)
		}
	}
	return nil
}
