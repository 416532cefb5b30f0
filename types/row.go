package types

import (
	"encoding/binary"
	"math"

	"github.com/pkg/errors"
)

// ColumnType tags a value's on-disk encoding, per §6 row encoding.
type ColumnType uint8

const (
	TypeNull   ColumnType = 0
	TypeInt    ColumnType = 1
	TypeFloat  ColumnType = 2
	TypeString ColumnType = 3
	TypeBool   ColumnType = 4
)

// Value is a single column value tagged with its on-disk type.
type Value struct {
	Type ColumnType
	Int  int64
	Flt  float64
	Str  string
	Bool bool
}

func NewNull() Value           { return Value{Type: TypeNull} }
func NewInt(v int64) Value     { return Value{Type: TypeInt, Int: v} }
func NewFloat(v float64) Value { return Value{Type: TypeFloat, Flt: v} }
func NewString(v string) Value { return Value{Type: TypeString, Str: v} }
func NewBool(v bool) Value     { return Value{Type: TypeBool, Bool: v} }

func (v Value) IsNull() bool { return v.Type == TypeNull }

// EncodeRow concatenates the per-column tag+value encoding of §6 in
// schema order.
func EncodeRow(values []Value) []byte {
	buf := make([]byte, 0, len(values)*9)
	for _, v := range values {
		buf = append(buf, byte(v.Type))
		switch v.Type {
		case TypeNull:
			// no payload
		case TypeInt:
			var b [8]byte
			binary.LittleEndian.PutUint64(b[:], uint64(v.Int))
			buf = append(buf, b[:]...)
		case TypeFloat:
			var b [8]byte
			binary.LittleEndian.PutUint64(b[:], math.Float64bits(v.Flt))
			buf = append(buf, b[:]...)
		case TypeString:
			var lb [2]byte
			binary.LittleEndian.PutUint16(lb[:], uint16(len(v.Str)))
			buf = append(buf, lb[:]...)
			buf = append(buf, v.Str...)
		case TypeBool:
			if v.Bool {
				buf = append(buf, 1)
			} else {
				buf = append(buf, 0)
			}
		}
	}
	return buf
}

// DecodeRow decodes exactly columnCount values from data, stopping at
// that count even if trailing bytes remain.
func DecodeRow(data []byte, columnCount int) ([]Value, error) {
	values := make([]Value, 0, columnCount)
	offset := 0
	for i := 0; i < columnCount; i++ {
		if offset >= len(data) {
			return nil, errors.Errorf("row encoding truncated at column %d", i)
		}
		tag := ColumnType(data[offset])
		offset++
		switch tag {
		case TypeNull:
			values = append(values, NewNull())
		case TypeInt:
			if offset+8 > len(data) {
				return nil, errors.Errorf("row encoding truncated reading int at column %d", i)
			}
			v := int64(binary.LittleEndian.Uint64(data[offset : offset+8]))
			offset += 8
			values = append(values, NewInt(v))
		case TypeFloat:
			if offset+8 > len(data) {
				return nil, errors.Errorf("row encoding truncated reading float at column %d", i)
			}
			bits := binary.LittleEndian.Uint64(data[offset : offset+8])
			offset += 8
			values = append(values, NewFloat(math.Float64frombits(bits)))
		case TypeString:
			if offset+2 > len(data) {
				return nil, errors.Errorf("row encoding truncated reading string length at column %d", i)
			}
			n := int(binary.LittleEndian.Uint16(data[offset : offset+2]))
			offset += 2
			if offset+n > len(data) {
				return nil, errors.Errorf("row encoding truncated reading string body at column %d", i)
			}
			values = append(values, NewString(string(data[offset:offset+n])))
			offset += n
		case TypeBool:
			if offset+1 > len(data) {
				return nil, errors.Errorf("row encoding truncated reading bool at column %d", i)
			}
			values = append(values, NewBool(data[offset] != 0))
			offset++
		default:
			return nil, errors.Errorf("row encoding: unknown type tag %d at column %d", tag, i)
		}
	}
	return values, nil
}
