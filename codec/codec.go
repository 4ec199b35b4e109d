// Package codec converts between the raw bytes of a register buffer and typed
// point values. A Plan is compiled once per point and byte order and then
// reused for every access.
package codec

import (
	"encoding/binary"
	"errors"
	"fmt"
	"strings"
)

var (
	// ErrUnsupportedType is returned for point types without a codec rule.
	ErrUnsupportedType = errors.New("unsupported point type")
	// ErrInvalidArgument is returned when a value has the wrong shape for the point.
	ErrInvalidArgument = errors.New("invalid argument")
	// ErrOutOfRange is returned when a value cannot be represented or violates declared bounds.
	ErrOutOfRange = errors.New("value out of range")
)

// ByteOrder selects how multi-byte values are laid out in a register buffer.
type ByteOrder int

const (
	BigEndian ByteOrder = iota
	LittleEndian
)

func (o ByteOrder) String() string {
	if o == LittleEndian {
		return "little"
	}
	return "big"
}

// Binary returns the encoding/binary implementation of o.
func (o ByteOrder) Binary() binary.ByteOrder {
	if o == LittleEndian {
		return binary.LittleEndian
	}
	return binary.BigEndian
}

// ParseByteOrder accepts "big", "little" and their "_endian" spellings.
// An empty string selects BigEndian.
func ParseByteOrder(s string) (ByteOrder, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "big", "big_endian", "bigendian":
		return BigEndian, nil
	case "little", "little_endian", "littleendian":
		return LittleEndian, nil
	default:
		return BigEndian, fmt.Errorf("unknown byte order %q", s)
	}
}
