package vector

import (
	"encoding/binary"
	"fmt"
	"iter"
	"math"
	"strconv"
	"strings"
)

// Type identifies the element type of a Vector.
type Type uint8

const (
	TypeFloat32 Type = iota + 1
	TypeInt8
	TypeBit
)

// String returns the canonical type name as reported by vec_type().
func (t Type) String() string {
	switch t {
	case TypeFloat32:
		return "float32"
	case TypeInt8:
		return "int8"
	case TypeBit:
		return "bit"
	}
	return "unknown(" + strconv.Itoa(int(t)) + ")"
}

// ParseType maps a column declaration token to a Type. It accepts the same
// tokens as the vec0 DDL grammar: float, float32, int8, bit.
func ParseType(token string) (Type, bool) {
	switch strings.ToLower(token) {
	case "float", "float32":
		return TypeFloat32, true
	case "int8":
		return TypeInt8, true
	case "bit":
		return TypeBit, true
	}
	return 0, false
}

// Vector is an immutable fixed-dimension vector value. The zero Vector is
// invalid; construct one with the From* functions.
type Vector struct {
	typ  Type
	dims int
	data []byte
}

// FromFloat32s builds a float32 vector from values.
func FromFloat32s(values []float32) (Vector, error) {
	if len(values) == 0 {
		return Vector{}, fmt.Errorf("%w: zero-length vectors are not supported", ErrMalformed)
	}
	data := make([]byte, len(values)*4)
	for i, v := range values {
		binary.LittleEndian.PutUint32(data[i*4:], math.Float32bits(v))
	}
	return Vector{typ: TypeFloat32, dims: len(values), data: data}, nil
}

// FromInt8s builds an int8 vector from values.
func FromInt8s(values []int8) (Vector, error) {
	if len(values) == 0 {
		return Vector{}, fmt.Errorf("%w: zero-length vectors are not supported", ErrMalformed)
	}
	data := make([]byte, len(values))
	for i, v := range values {
		data[i] = byte(v)
	}
	return Vector{typ: TypeInt8, dims: len(values), data: data}, nil
}

// FromBits builds a bit vector of the given dimension from a packed payload.
// Bit i lives at payload[i/8] bit (i%8), least significant first.
func FromBits(payload []byte, dims int) (Vector, error) {
	if dims <= 0 {
		return Vector{}, fmt.Errorf("%w: zero-length vectors are not supported", ErrMalformed)
	}
	if want := PayloadSize(TypeBit, dims); len(payload) != want {
		return Vector{}, fmt.Errorf("%w: bit vector of %d dimensions needs %d payload bytes, got %d", ErrMalformed, dims, want, len(payload))
	}
	return Vector{typ: TypeBit, dims: dims, data: append([]byte(nil), payload...)}, nil
}

// Type returns the element type.
func (v Vector) Type() Type { return v.typ }

// Dimensions returns the element count.
func (v Vector) Dimensions() int { return v.dims }

// IsZero reports whether v is the invalid zero Vector.
func (v Vector) IsZero() bool { return v.typ == 0 }

// Bytes returns the raw element payload. The slice is shared with the vector;
// callers must not modify it.
func (v Vector) Bytes() []byte { return v.data }

// Float32s decodes the payload of a float32 vector; it returns nil for other
// types.
func (v Vector) Float32s() []float32 {
	if v.typ != TypeFloat32 {
		return nil
	}
	out := make([]float32, v.dims)
	for i := range out {
		out[i] = v.float32At(i)
	}
	return out
}

// Int8s decodes the payload of an int8 vector; it returns nil for other
// types.
func (v Vector) Int8s() []int8 {
	if v.typ != TypeInt8 {
		return nil
	}
	out := make([]int8, v.dims)
	for i := range out {
		out[i] = v.int8At(i)
	}
	return out
}

func (v Vector) float32At(i int) float32 {
	return math.Float32frombits(binary.LittleEndian.Uint32(v.data[i*4:]))
}

func (v Vector) int8At(i int) int8 { return int8(v.data[i]) }

func (v Vector) bitAt(i int) int64 {
	return int64(v.data[i/8]>>(i%8)) & 1
}

// Element returns the i-th element as a SQL-facing value: float64 for float32
// vectors, int64 for int8 and bit vectors.
func (v Vector) Element(i int) any {
	switch v.typ {
	case TypeFloat32:
		return float64(v.float32At(i))
	case TypeInt8:
		return int64(v.int8At(i))
	case TypeBit:
		return v.bitAt(i)
	}
	return nil
}

// All iterates over (index, element) pairs in index order. The sequence is
// lazy and can be ranged over multiple times.
func (v Vector) All() iter.Seq2[int, any] {
	return func(yield func(int, any) bool) {
		for i := 0; i < v.dims; i++ {
			if !yield(i, v.Element(i)) {
				return
			}
		}
	}
}

// JSON renders the vector as a JSON array. Bit vectors render as 0/1
// elements.
func (v Vector) JSON() string {
	var sb strings.Builder
	sb.WriteByte('[')
	for i := 0; i < v.dims; i++ {
		if i > 0 {
			sb.WriteByte(',')
		}
		switch v.typ {
		case TypeFloat32:
			sb.WriteString(strconv.FormatFloat(float64(v.float32At(i)), 'g', -1, 32))
		case TypeInt8:
			sb.WriteString(strconv.FormatInt(int64(v.int8At(i)), 10))
		case TypeBit:
			sb.WriteString(strconv.FormatInt(v.bitAt(i), 10))
		}
	}
	sb.WriteByte(']')
	return sb.String()
}

// String renders the type and dimension, e.g. "float32[3]".
func (v Vector) String() string {
	return v.typ.String() + "[" + strconv.Itoa(v.dims) + "]"
}
