package binding

import (
	"context"
	"errors"
	"fmt"

	"github.com/timzifer/modspec/codec"
	"github.com/timzifer/modspec/schema"
)

// Value is a typed view over a point of a bound group. Get decodes the bytes
// currently held by the group and never touches the transport.
type Value interface {
	Name() string
	RegisterID() int
	Point() *schema.Point
	Group() *Group
	Writable() bool
	Get() (codec.Value, error)
	// Level is the severity of the current enum or bitfield value.
	Level() schema.Level
	// Set validates, encodes and commits v, then mirrors it into the group
	// buffer. Read-only values fail with ErrReadOnly or ErrArrayWrite.
	Set(ctx context.Context, v interface{}) error
}

type view struct {
	group  *Group
	plan   *codec.Plan
	offset int
	id     int
}

func (v *view) Name() string         { return v.plan.Point().Name }
func (v *view) RegisterID() int      { return v.id }
func (v *view) Point() *schema.Point { return v.plan.Point() }
func (v *view) Group() *Group        { return v.group }
func (v *view) Writable() bool       { return false }
func (v *view) bytes() []byte        { return v.group.buf[v.offset : v.offset+v.plan.Size()] }
func (v *view) table() schema.Table  { return v.group.def.Table }

func (v *view) Get() (codec.Value, error) {
	return v.plan.Decode(v.bytes())
}

func (v *view) Level() schema.Level {
	p := v.plan.Point()
	if !p.Type.IsEnumOrBitfield() {
		return schema.LevelNone
	}
	value, err := v.Get()
	if err != nil {
		return schema.LevelNone
	}
	if elems, ok := value.Elements(); ok {
		level := schema.LevelNone
		for _, e := range elems {
			if raw, ok := e.Uint(); ok {
				level = max(level, p.LevelOfRaw(raw))
			}
		}
		return level
	}
	raw, _ := value.Uint()
	return p.LevelOfRaw(raw)
}

func (v *view) Set(context.Context, interface{}) error {
	reason, err := "read_only", ErrReadOnly
	if v.plan.Point().IsArray() {
		reason, err = "array", ErrArrayWrite
	}
	v.group.binding.collector.IncRejectedWrite(reason)
	return fmt.Errorf("write %q: %w", v.Name(), err)
}

func (v *view) String() string {
	value, err := v.Get()
	if err != nil {
		return v.Name() + "=<" + err.Error() + ">"
	}
	return v.Name() + "=" + value.String()
}

type writableView struct {
	*view
}

func (w *writableView) Writable() bool { return true }

func (w *writableView) Set(ctx context.Context, value interface{}) error {
	if w.plan.Point().IsArray() {
		return w.reject("array", ErrArrayWrite)
	}
	if value == nil {
		return nil
	}
	if err := w.plan.CheckBounds(value); err != nil {
		return w.reject(reason(err), err)
	}
	scratch := make([]byte, w.plan.Size())
	if err := w.plan.Encode(value, scratch); err != nil {
		return w.reject(reason(err), err)
	}
	if err := w.commit(ctx, scratch); err != nil {
		return err
	}
	copy(w.bytes(), scratch)
	w.group.binding.collector.IncWrite(w.table().String())
	return nil
}

func (w *writableView) commit(ctx context.Context, data []byte) error {
	b := w.group.binding
	switch w.table() {
	case schema.Coils:
		return w.reject("coil", ErrCoilWrite)
	case schema.HoldingRegisters:
		register := w.group.start + uint16(w.offset/2)
		b.logger.Trace().Str("point", w.Name()).Int("register", w.id).Uint16("address", register).Int("bytes", len(data)).Msg("write value")
		if err := b.client.WriteHoldingRegisters(ctx, register, data); err != nil {
			return fmt.Errorf("write %q at %d: %w", w.Name(), register, err)
		}
		return nil
	}
	return w.reject("read_only", ErrReadOnly)
}

func (w *writableView) reject(reason string, err error) error {
	w.group.binding.collector.IncRejectedWrite(reason)
	return fmt.Errorf("write %q: %w", w.Name(), err)
}

func reason(err error) string {
	switch {
	case errors.Is(err, codec.ErrOutOfRange):
		return "out_of_range"
	case errors.Is(err, codec.ErrUnsupportedType):
		return "unsupported"
	}
	return "invalid"
}
