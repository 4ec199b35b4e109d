package codec

import (
	"math/big"
	"strconv"
	"strings"

	"github.com/shopspring/decimal"

	"github.com/timzifer/modspec/schema"
)

// Kind is the shape of a decoded Value.
type Kind uint8

const (
	KindNone Kind = iota
	KindInt
	KindUint
	KindFloat
	KindString
	KindSymbol
	KindSymbols
	KindArray
)

var kindNames = [...]string{"none", "int", "uint", "float", "string", "symbol", "symbols", "array"}

func (k Kind) String() string {
	if int(k) < len(kindNames) {
		return kindNames[k]
	}
	return "kind(" + strconv.Itoa(int(k)) + ")"
}

// Value is a decoded point value. The zero Value has KindNone.
type Value struct {
	kind  Kind
	bits  int
	i     int64
	u     uint64
	f     float64
	s     string
	names []string
	elems []Value
	// lin is set on floats produced by scaling an integer; i or u then
	// carries the raw register value.
	lin       *linear
	rawSigned bool
}

// linear holds the exact scale and offset of a point for decimal rendering.
type linear struct {
	scale  decimal.Decimal
	offset decimal.Decimal
}

func IntValue(v int64, bits int) Value     { return Value{kind: KindInt, bits: bits, i: v} }
func UintValue(v uint64, bits int) Value   { return Value{kind: KindUint, bits: bits, u: v} }
func FloatValue(v float64, bits int) Value { return Value{kind: KindFloat, bits: bits, f: v} }
func StringValue(s string) Value           { return Value{kind: KindString, s: s} }

// SymbolValue is an enum member together with the raw value it was decoded from.
func SymbolValue(name string, raw uint64, bits int) Value {
	return Value{kind: KindSymbol, bits: bits, s: name, u: raw}
}

// SymbolsValue is the ordered list of set bitfield members.
func SymbolsValue(names []string, raw uint64, bits int) Value {
	if names == nil {
		names = []string{}
	}
	return Value{kind: KindSymbols, bits: bits, names: names, u: raw}
}

// ArrayValue wraps the decoded elements of an array point.
func ArrayValue(elems []Value) Value {
	return Value{kind: KindArray, elems: elems}
}

func (v Value) Kind() Kind { return v.kind }

// Bits is the width of numeric values; 0 for strings and arrays.
func (v Value) Bits() int { return v.bits }

// IsNone reports whether v carries no value.
func (v Value) IsNone() bool { return v.kind == KindNone }

// Int returns signed integer values.
func (v Value) Int() (int64, bool) {
	if v.kind != KindInt {
		return 0, false
	}
	return v.i, true
}

// Uint returns unsigned integer values and the raw value of symbols.
func (v Value) Uint() (uint64, bool) {
	switch v.kind {
	case KindUint, KindSymbol, KindSymbols:
		return v.u, true
	}
	return 0, false
}

// Float64 converts numeric values, including the raw value of symbols.
func (v Value) Float64() (float64, bool) {
	switch v.kind {
	case KindInt:
		return float64(v.i), true
	case KindUint, KindSymbol, KindSymbols:
		return float64(v.u), true
	case KindFloat:
		return v.f, true
	}
	return 0, false
}

// Decimal returns an exact decimal rendering. Scaled integers are computed
// as raw*scale+offset in decimal arithmetic, avoiding binary float noise.
func (v Value) Decimal() (decimal.Decimal, bool) {
	switch v.kind {
	case KindInt:
		return decimal.NewFromInt(v.i), true
	case KindUint, KindSymbol, KindSymbols:
		return decimal.NewFromBigInt(new(big.Int).SetUint64(v.u), 0), true
	case KindFloat:
		if v.lin != nil {
			raw := decimal.NewFromBigInt(new(big.Int).SetUint64(v.u), 0)
			if v.rawSigned {
				raw = decimal.NewFromInt(v.i)
			}
			return raw.Mul(v.lin.scale).Add(v.lin.offset), true
		}
		if v.bits == 32 {
			return decimal.NewFromFloat32(float32(v.f)), true
		}
		return decimal.NewFromFloat(v.f), true
	}
	return decimal.Zero, false
}

// Text returns string values and the name of enum symbols.
func (v Value) Text() (string, bool) {
	if v.kind == KindString || v.kind == KindSymbol {
		return v.s, true
	}
	return "", false
}

// TrimmedString returns a string value cut at the first NUL byte.
func (v Value) TrimmedString() (string, bool) {
	if v.kind != KindString {
		return "", false
	}
	return schema.ReadNullTerminatedString([]byte(v.s)), true
}

// Symbols returns the set members of a bitfield.
func (v Value) Symbols() ([]string, bool) {
	if v.kind != KindSymbols {
		return nil, false
	}
	return v.names, true
}

// Elements returns the members of an array.
func (v Value) Elements() ([]Value, bool) {
	if v.kind != KindArray {
		return nil, false
	}
	return v.elems, true
}

// Interface returns the value as a native Go value: int16..int64,
// uint16..uint64, float32 or float64 at the decoded width, string, []string
// for bitfields and []interface{} for arrays.
func (v Value) Interface() interface{} {
	switch v.kind {
	case KindInt:
		switch v.bits {
		case 16:
			return int16(v.i)
		case 32:
			return int32(v.i)
		}
		return v.i
	case KindUint:
		switch v.bits {
		case 16:
			return uint16(v.u)
		case 32:
			return uint32(v.u)
		}
		return v.u
	case KindFloat:
		if v.bits == 32 {
			return float32(v.f)
		}
		return v.f
	case KindString, KindSymbol:
		return v.s
	case KindSymbols:
		out := make([]string, len(v.names))
		copy(out, v.names)
		return out
	case KindArray:
		out := make([]interface{}, len(v.elems))
		for i, e := range v.elems {
			out[i] = e.Interface()
		}
		return out
	}
	return nil
}

func (v Value) String() string {
	switch v.kind {
	case KindInt:
		return strconv.FormatInt(v.i, 10)
	case KindUint:
		return strconv.FormatUint(v.u, 10)
	case KindFloat:
		if v.lin != nil {
			d, _ := v.Decimal()
			return d.String()
		}
		bits := 64
		if v.bits == 32 {
			bits = 32
		}
		return strconv.FormatFloat(v.f, 'g', -1, bits)
	case KindString:
		return schema.ReadNullTerminatedString([]byte(v.s))
	case KindSymbol:
		return v.s
	case KindSymbols:
		return "[" + strings.Join(v.names, " ") + "]"
	case KindArray:
		parts := make([]string, len(v.elems))
		for i, e := range v.elems {
			parts[i] = e.String()
		}
		return "[" + strings.Join(parts, " ") + "]"
	}
	return "<none>"
}
