package codec

import (
	"encoding/binary"
	"fmt"
	"math"
	"math/big"
	"reflect"
	"strings"
	"unicode/utf8"

	"github.com/shopspring/decimal"

	"github.com/timzifer/modspec/schema"
)

// Plan decodes and encodes one point at a fixed byte order. The dispatch on
// point type, scaling and symbols is settled by Compile.
type Plan struct {
	point    *schema.Point
	order    binary.ByteOrder
	size     int
	elements int
	bits     int
	signed   bool
	lin      *linear

	// Integer bounds, hi exclusive.
	lo, hi   *big.Int
	loF, hiF float64
}

// Compile prepares the codec of p. Padding has no codec and yields
// ErrUnsupportedType.
func Compile(p *schema.Point, order ByteOrder) (*Plan, error) {
	if p == nil {
		return nil, fmt.Errorf("%w: nil point", ErrInvalidArgument)
	}
	if p.Type == schema.TypePadding || !p.Type.Valid() {
		return nil, fmt.Errorf("%w: %s (point %q)", ErrUnsupportedType, p.Type, p.Name)
	}
	plan := &Plan{
		point:    p,
		order:    order.Binary(),
		size:     p.SizeInBytes(),
		elements: p.Elements(),
		bits:     p.Type.Bits(),
		signed:   p.Type.IsSigned(),
	}
	integral := p.Type.IsSigned() || p.Type.IsUnsigned()
	if integral {
		if plan.signed {
			plan.lo = new(big.Int).Neg(new(big.Int).Lsh(big.NewInt(1), uint(plan.bits-1)))
			plan.hi = new(big.Int).Lsh(big.NewInt(1), uint(plan.bits-1))
			plan.loF = -math.Ldexp(1, plan.bits-1)
			plan.hiF = math.Ldexp(1, plan.bits-1)
		} else {
			plan.lo = big.NewInt(0)
			plan.hi = new(big.Int).Lsh(big.NewInt(1), uint(plan.bits))
			plan.hiF = math.Ldexp(1, plan.bits)
		}
	}
	if integral && !p.Type.IsEnumOrBitfield() && p.Scaled() {
		lin := &linear{scale: decimal.NewFromInt(1), offset: decimal.Zero}
		if p.ScaleFactor != nil {
			lin.scale = decimal.NewFromFloat(*p.ScaleFactor)
		}
		if p.Offset != nil {
			lin.offset = decimal.NewFromFloat(*p.Offset)
		}
		plan.lin = lin
	}
	return plan, nil
}

// Decode is a one-shot Compile followed by Plan.Decode.
func Decode(p *schema.Point, order ByteOrder, buf []byte) (Value, error) {
	plan, err := Compile(p, order)
	if err != nil {
		return Value{}, err
	}
	return plan.Decode(buf)
}

// Encode is a one-shot Compile followed by Plan.Encode.
func Encode(p *schema.Point, order ByteOrder, value interface{}, dst []byte) error {
	plan, err := Compile(p, order)
	if err != nil {
		return err
	}
	return plan.Encode(value, dst)
}

func (p *Plan) Point() *schema.Point { return p.point }

// Size is the number of buffer bytes covered by the point, all elements included.
func (p *Plan) Size() int { return p.size * p.elements }

// ElementSize is the size of a single element.
func (p *Plan) ElementSize() int { return p.size }

// Decode reads the point from the start of buf.
func (p *Plan) Decode(buf []byte) (Value, error) {
	if len(buf) < p.Size() {
		return Value{}, fmt.Errorf("%w: point %q needs %d bytes, got %d", ErrInvalidArgument, p.point.Name, p.Size(), len(buf))
	}
	if !p.point.IsArray() {
		return p.decodeElement(buf[:p.size]), nil
	}
	elems := make([]Value, p.elements)
	for i := range elems {
		offset := i * p.size
		elems[i] = p.decodeElement(buf[offset : offset+p.size])
	}
	return ArrayValue(elems), nil
}

func (p *Plan) decodeElement(b []byte) Value {
	t := p.point.Type
	switch {
	case t == schema.TypeString:
		return StringValue(decodeUTF8(b))
	case t.IsFloat():
		var f float64
		if p.bits == 32 {
			f = float64(math.Float32frombits(p.order.Uint32(b)))
		} else {
			f = math.Float64frombits(p.order.Uint64(b))
		}
		if p.point.Scaled() {
			return FloatValue(p.point.Scale(f), 64)
		}
		return FloatValue(f, p.bits)
	case t.IsEnum():
		raw := p.raw(b)
		for _, s := range p.point.Symbols {
			if s.Value >= 0 && uint64(s.Value) == raw {
				return SymbolValue(s.Name, raw, p.bits)
			}
		}
		return UintValue(raw, p.bits)
	case t.IsBitfield():
		raw := p.raw(b)
		if len(p.point.Symbols) == 0 {
			return UintValue(raw, p.bits)
		}
		names := make([]string, 0, len(p.point.Symbols))
		for _, s := range p.point.Symbols {
			if s.Value < 0 || s.Value >= 64 {
				continue
			}
			if raw&(uint64(1)<<uint(s.Value)) != 0 {
				names = append(names, s.Name)
			}
		}
		return SymbolsValue(names, raw, p.bits)
	case p.signed:
		v := signExtend(p.raw(b), p.bits)
		if p.lin != nil {
			return Value{kind: KindFloat, bits: 64, f: p.point.Scale(float64(v)), i: v, rawSigned: true, lin: p.lin}
		}
		return IntValue(v, p.bits)
	default:
		raw := p.raw(b)
		if p.lin != nil {
			return Value{kind: KindFloat, bits: 64, f: p.point.Scale(float64(raw)), u: raw, lin: p.lin}
		}
		return UintValue(raw, p.bits)
	}
}

// Encode writes value into the start of dst. Arrays take a slice holding
// exactly one value per element.
func (p *Plan) Encode(value interface{}, dst []byte) error {
	if len(dst) < p.Size() {
		return fmt.Errorf("%w: point %q needs %d bytes, got %d", ErrInvalidArgument, p.point.Name, p.Size(), len(dst))
	}
	if value == nil {
		return fmt.Errorf("%w: nil value for point %q", ErrInvalidArgument, p.point.Name)
	}
	if !p.point.IsArray() {
		return p.encodeElement(value, dst[:p.size])
	}
	elems, err := p.arrayElements(value)
	if err != nil {
		return err
	}
	for i, elem := range elems {
		offset := i * p.size
		if err := p.encodeElement(elem, dst[offset:offset+p.size]); err != nil {
			return fmt.Errorf("element %d: %w", i, err)
		}
	}
	return nil
}

func (p *Plan) arrayElements(value interface{}) ([]interface{}, error) {
	if v, ok := value.(Value); ok {
		elems, isArray := v.Elements()
		if !isArray {
			return nil, fmt.Errorf("%w: array point %q needs %d elements, got %s", ErrInvalidArgument, p.point.Name, p.elements, v.Kind())
		}
		out := make([]interface{}, len(elems))
		for i, e := range elems {
			out[i] = e
		}
		value = out
	}
	rv := reflect.ValueOf(value)
	if rv.Kind() != reflect.Slice && rv.Kind() != reflect.Array {
		return nil, fmt.Errorf("%w: array point %q needs a slice, got %T", ErrInvalidArgument, p.point.Name, value)
	}
	if rv.Len() != p.elements {
		return nil, fmt.Errorf("%w: array point %q needs %d elements, got %d", ErrInvalidArgument, p.point.Name, p.elements, rv.Len())
	}
	out := make([]interface{}, rv.Len())
	for i := range out {
		out[i] = rv.Index(i).Interface()
	}
	return out, nil
}

func (p *Plan) encodeElement(value interface{}, dst []byte) error {
	t := p.point.Type
	switch {
	case t == schema.TypeString:
		var s string
		switch v := value.(type) {
		case string:
			s = v
		case []byte:
			s = string(v)
		case Value:
			text, ok := v.Text()
			if !ok {
				return fmt.Errorf("%w: string point %q cannot hold %s", ErrInvalidArgument, p.point.Name, v.Kind())
			}
			s = text
		default:
			return fmt.Errorf("%w: string point %q cannot hold %T", ErrInvalidArgument, p.point.Name, value)
		}
		if len(s) > p.size {
			return fmt.Errorf("%w: %d bytes exceed length %d of point %q", ErrInvalidArgument, len(s), p.size, p.point.Name)
		}
		n := copy(dst, s)
		clear(dst[n:])
		return nil
	case t.IsFloat():
		f, ok := ToFloat(value)
		if !ok {
			return fmt.Errorf("%w: %s point %q cannot hold %v", ErrInvalidArgument, t, p.point.Name, value)
		}
		if p.point.Scaled() {
			f = p.point.Descale(f)
		}
		if math.IsInf(f, 0) || math.IsNaN(f) {
			return fmt.Errorf("%w: %v for point %q", ErrOutOfRange, value, p.point.Name)
		}
		if p.bits == 32 {
			if math.Abs(f) > math.MaxFloat32 {
				return fmt.Errorf("%w: %v does not fit %s", ErrOutOfRange, value, t)
			}
			p.order.PutUint32(dst, math.Float32bits(float32(f)))
			return nil
		}
		p.order.PutUint64(dst, math.Float64bits(f))
		return nil
	case t.IsEnumOrBitfield():
		if name, isName := value.(string); isName {
			return fmt.Errorf("%w: symbol %q of point %q must be written as its integer value", ErrInvalidArgument, name, p.point.Name)
		}
		n, ok := toInteger(value)
		if !ok {
			return fmt.Errorf("%w: %s point %q needs an integer, got %v", ErrInvalidArgument, t, p.point.Name, value)
		}
		return p.putInteger(n, value, dst)
	}

	if !p.point.Scaled() {
		n, ok := toInteger(value)
		if !ok {
			return fmt.Errorf("%w: %s point %q needs an integer, got %v", ErrInvalidArgument, t, p.point.Name, value)
		}
		return p.putInteger(n, value, dst)
	}
	f, ok := ToFloat(value)
	if !ok {
		return fmt.Errorf("%w: %s point %q cannot hold %v", ErrInvalidArgument, t, p.point.Name, value)
	}
	r := math.Round(p.point.Descale(f))
	if math.IsNaN(r) || r < p.loF || r >= p.hiF {
		return fmt.Errorf("%w: %v does not fit %s (point %q)", ErrOutOfRange, value, t, p.point.Name)
	}
	if p.signed {
		p.put(dst, uint64(int64(r)))
	} else {
		p.put(dst, uint64(r))
	}
	return nil
}

func (p *Plan) putInteger(n *big.Int, value interface{}, dst []byte) error {
	if n.Cmp(p.lo) < 0 || n.Cmp(p.hi) >= 0 {
		return fmt.Errorf("%w: %v does not fit %s (point %q)", ErrOutOfRange, value, p.point.Type, p.point.Name)
	}
	if p.signed {
		p.put(dst, uint64(n.Int64()))
	} else {
		p.put(dst, n.Uint64())
	}
	return nil
}

// CheckBounds validates value against the declared minValue and maxValue.
func (p *Plan) CheckBounds(value interface{}) error {
	pt := p.point
	if pt.MinValue == nil && pt.MaxValue == nil {
		return nil
	}
	f, ok := ToFloat(value)
	if !ok {
		return fmt.Errorf("%w: point %q declares bounds, %v is not numeric", ErrInvalidArgument, pt.Name, value)
	}
	if pt.MinValue != nil && f < *pt.MinValue {
		return fmt.Errorf("%w: %v below minimum %v of point %q", ErrOutOfRange, value, *pt.MinValue, pt.Name)
	}
	if pt.MaxValue != nil && f > *pt.MaxValue {
		return fmt.Errorf("%w: %v above maximum %v of point %q", ErrOutOfRange, value, *pt.MaxValue, pt.Name)
	}
	return nil
}

func (p *Plan) raw(b []byte) uint64 {
	switch p.bits {
	case 16:
		return uint64(p.order.Uint16(b))
	case 32:
		return uint64(p.order.Uint32(b))
	}
	return p.order.Uint64(b)
}

func (p *Plan) put(dst []byte, raw uint64) {
	switch p.bits {
	case 16:
		p.order.PutUint16(dst, uint16(raw))
	case 32:
		p.order.PutUint32(dst, uint32(raw))
	default:
		p.order.PutUint64(dst, raw)
	}
}

func signExtend(raw uint64, bits int) int64 {
	switch bits {
	case 16:
		return int64(int16(raw))
	case 32:
		return int64(int32(raw))
	}
	return int64(raw)
}

// decodeUTF8 converts b to text, replacing every maximal invalid subsequence
// with one U+FFFD.
func decodeUTF8(b []byte) string {
	if utf8.Valid(b) {
		return string(b)
	}
	var sb strings.Builder
	sb.Grow(len(b) + 2)
	for len(b) > 0 {
		r, n := utf8.DecodeRune(b)
		if r == utf8.RuneError && n <= 1 {
			n = invalidPrefix(b)
		}
		sb.WriteRune(r)
		b = b[n:]
	}
	return sb.String()
}

// invalidPrefix returns the length of the maximal subpart of an ill-formed
// sequence at the start of b: a lead byte followed by the continuation bytes
// that are still in range for it.
func invalidPrefix(b []byte) int {
	var first [2]byte
	need := 0
	switch lead := b[0]; {
	case lead >= 0xC2 && lead <= 0xDF:
		first, need = [2]byte{0x80, 0xBF}, 1
	case lead == 0xE0:
		first, need = [2]byte{0xA0, 0xBF}, 2
	case lead == 0xED:
		first, need = [2]byte{0x80, 0x9F}, 2
	case lead >= 0xE1 && lead <= 0xEF:
		first, need = [2]byte{0x80, 0xBF}, 2
	case lead == 0xF0:
		first, need = [2]byte{0x90, 0xBF}, 3
	case lead >= 0xF1 && lead <= 0xF3:
		first, need = [2]byte{0x80, 0xBF}, 3
	case lead == 0xF4:
		first, need = [2]byte{0x80, 0x8F}, 3
	default:
		return 1
	}
	n := 1
	for i := 1; i <= need && i < len(b); i++ {
		lo, hi := byte(0x80), byte(0xBF)
		if i == 1 {
			lo, hi = first[0], first[1]
		}
		if b[i] < lo || b[i] > hi {
			break
		}
		n++
	}
	return n
}
