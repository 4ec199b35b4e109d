package schema

import (
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
)

// Table identifies the Modbus register space a group lives in. The numeric
// values match the read function codes and feed into register identifiers.
type Table int

const (
	Coils            Table = 1
	DiscreteInputs   Table = 2
	HoldingRegisters Table = 3
	InputRegisters   Table = 4
)

var tableNames = map[Table]string{
	Coils:            "Coils",
	DiscreteInputs:   "DiscreteInputs",
	HoldingRegisters: "HoldingRegisters",
	InputRegisters:   "InputRegisters",
}

func (t Table) String() string {
	if name, ok := tableNames[t]; ok {
		return name
	}
	return "Table(" + strconv.Itoa(int(t)) + ")"
}

// Valid reports whether t is one of the four Modbus tables.
func (t Table) Valid() bool {
	_, ok := tableNames[t]
	return ok
}

// BitAddressed reports whether registers in the table are single bits.
func (t Table) BitAddressed() bool {
	return t == Coils || t == DiscreteInputs
}

// ParseTable resolves a table name case-insensitively.
func ParseTable(name string) (Table, error) {
	for t, n := range tableNames {
		if strings.EqualFold(n, strings.TrimSpace(name)) {
			return t, nil
		}
	}
	return 0, fmt.Errorf("unknown table %q", name)
}

func (t Table) MarshalJSON() ([]byte, error) {
	if !t.Valid() {
		return json.Marshal(int(t))
	}
	return json.Marshal(t.String())
}

func (t *Table) UnmarshalJSON(data []byte) error {
	return unmarshalEnum(data, "table", func(name string) error {
		parsed, err := ParseTable(name)
		if err != nil {
			return err
		}
		*t = parsed
		return nil
	}, func(n int) { *t = Table(n) })
}

// PointType is the encoded type of a point.
type PointType int

const (
	TypeInt16 PointType = iota
	TypeInt32
	TypeInt64
	TypeUInt16
	TypeUInt32
	TypeUInt64
	TypeAcc16
	TypeAcc32
	TypeAcc64
	TypeBitfield16
	TypeBitfield32
	TypeBitfield64
	TypeEnum16
	TypeEnum32
	TypeEnum64
	TypeFloat32
	TypeFloat64
	TypeString
	TypePadding
)

var pointTypeNames = [...]string{
	TypeInt16:      "Int16",
	TypeInt32:      "Int32",
	TypeInt64:      "Int64",
	TypeUInt16:     "UInt16",
	TypeUInt32:     "UInt32",
	TypeUInt64:     "UInt64",
	TypeAcc16:      "Acc16",
	TypeAcc32:      "Acc32",
	TypeAcc64:      "Acc64",
	TypeBitfield16: "Bitfield16",
	TypeBitfield32: "Bitfield32",
	TypeBitfield64: "Bitfield64",
	TypeEnum16:     "Enum16",
	TypeEnum32:     "Enum32",
	TypeEnum64:     "Enum64",
	TypeFloat32:    "Float32",
	TypeFloat64:    "Float64",
	TypeString:     "String",
	TypePadding:    "Padding",
}

func (p PointType) String() string {
	if p.Valid() {
		return pointTypeNames[p]
	}
	return "PointType(" + strconv.Itoa(int(p)) + ")"
}

// Valid reports whether p is a known point type.
func (p PointType) Valid() bool {
	return p >= 0 && int(p) < len(pointTypeNames)
}

// IsEnum reports whether p is one of the enum widths.
func (p PointType) IsEnum() bool {
	return p == TypeEnum16 || p == TypeEnum32 || p == TypeEnum64
}

// IsBitfield reports whether p is one of the bitfield widths.
func (p PointType) IsBitfield() bool {
	return p == TypeBitfield16 || p == TypeBitfield32 || p == TypeBitfield64
}

// IsEnumOrBitfield reports whether p carries symbols.
func (p PointType) IsEnumOrBitfield() bool {
	return p.IsEnum() || p.IsBitfield()
}

// IsSigned reports whether p decodes to a two's complement integer.
func (p PointType) IsSigned() bool {
	return p == TypeInt16 || p == TypeInt32 || p == TypeInt64
}

// IsUnsigned reports whether p decodes to an unsigned integer, including
// accumulators, enums and bitfields.
func (p PointType) IsUnsigned() bool {
	switch p {
	case TypeUInt16, TypeUInt32, TypeUInt64, TypeAcc16, TypeAcc32, TypeAcc64:
		return true
	}
	return p.IsEnumOrBitfield()
}

// IsFloat reports whether p is an IEEE 754 type.
func (p PointType) IsFloat() bool {
	return p == TypeFloat32 || p == TypeFloat64
}

// Bits returns the width of numeric types and 0 for strings and padding.
func (p PointType) Bits() int {
	switch p {
	case TypeInt16, TypeUInt16, TypeAcc16, TypeBitfield16, TypeEnum16:
		return 16
	case TypeInt32, TypeUInt32, TypeAcc32, TypeBitfield32, TypeEnum32, TypeFloat32:
		return 32
	case TypeInt64, TypeUInt64, TypeAcc64, TypeBitfield64, TypeEnum64, TypeFloat64:
		return 64
	}
	return 0
}

// ParsePointType resolves a point type name case-insensitively.
func ParsePointType(name string) (PointType, error) {
	trimmed := strings.TrimSpace(name)
	for i, n := range pointTypeNames {
		if strings.EqualFold(n, trimmed) {
			return PointType(i), nil
		}
	}
	return 0, fmt.Errorf("unknown point type %q", name)
}

func (p PointType) MarshalJSON() ([]byte, error) {
	if !p.Valid() {
		return json.Marshal(int(p))
	}
	return json.Marshal(p.String())
}

func (p *PointType) UnmarshalJSON(data []byte) error {
	return unmarshalEnum(data, "type", func(name string) error {
		parsed, err := ParsePointType(name)
		if err != nil {
			return err
		}
		*p = parsed
		return nil
	}, func(n int) { *p = PointType(n) })
}

// Level is the severity attached to a symbol.
type Level int

const (
	LevelNone Level = iota
	LevelWarning
	LevelError
	LevelEmergency
)

var levelNames = [...]string{
	LevelNone:      "None",
	LevelWarning:   "Warning",
	LevelError:     "Error",
	LevelEmergency: "Emergency",
}

func (l Level) String() string {
	if l >= 0 && int(l) < len(levelNames) {
		return levelNames[l]
	}
	return "Level(" + strconv.Itoa(int(l)) + ")"
}

// ParseLevel resolves a level name case-insensitively.
func ParseLevel(name string) (Level, error) {
	trimmed := strings.TrimSpace(name)
	for i, n := range levelNames {
		if strings.EqualFold(n, trimmed) {
			return Level(i), nil
		}
	}
	return 0, fmt.Errorf("unknown level %q", name)
}

func (l Level) MarshalJSON() ([]byte, error) {
	if l < 0 || int(l) >= len(levelNames) {
		return json.Marshal(int(l))
	}
	return json.Marshal(l.String())
}

func (l *Level) UnmarshalJSON(data []byte) error {
	return unmarshalEnum(data, "level", func(name string) error {
		parsed, err := ParseLevel(name)
		if err != nil {
			return err
		}
		*l = parsed
		return nil
	}, func(n int) { *l = Level(n) })
}

// unmarshalEnum accepts either the symbolic name or the integer value of an
// enumeration, mirroring string enum converters that also read numbers.
func unmarshalEnum(data []byte, field string, byName func(string) error, byNumber func(int)) error {
	var name string
	if err := json.Unmarshal(data, &name); err == nil {
		if err := byName(name); err != nil {
			return fmt.Errorf("%s: %w", field, err)
		}
		return nil
	}
	var number int
	if err := json.Unmarshal(data, &number); err != nil {
		return fmt.Errorf("%s: expected string or integer, got %s", field, string(data))
	}
	byNumber(number)
	return nil
}
