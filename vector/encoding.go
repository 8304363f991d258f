package vector

import (
	"encoding/binary"
	"fmt"
)

// PayloadSize returns the number of payload bytes a vector of the given type
// and dimension occupies, or -1 for an unknown type.
func PayloadSize(t Type, dims int) int {
	switch t {
	case TypeFloat32:
		return dims * 4
	case TypeInt8:
		return dims
	case TypeBit:
		return (dims + 7) / 8
	}
	return -1
}

// Tagged blob layout: "v0", a format version byte, the element type byte, a
// little-endian uint32 dimension, then the raw payload. Raw float32 payloads
// (length divisible by 4) stay headerless for compatibility with plain
// embedding blobs; int8 and bit vectors are ambiguous as raw bytes and travel
// tagged between SQL expressions.
const (
	tagMagic0     = 'v'
	tagMagic1     = '0'
	tagVersion    = 1
	tagHeaderSize = 8
)

// FromBlob validates and decodes a stored payload against a declared element
// type and dimension. A payload of exactly the declared size is taken as raw;
// otherwise a tagged blob is accepted when its header agrees with the
// declaration.
func FromBlob(b []byte, typ Type, dims int) (Vector, error) {
	if b == nil {
		return Vector{}, ErrNull
	}
	if dims <= 0 {
		return Vector{}, fmt.Errorf("%w: dimension must be positive, got %d", ErrMalformed, dims)
	}
	want := PayloadSize(typ, dims)
	if want < 0 {
		return Vector{}, fmt.Errorf("%w: unknown vector type %s", ErrMalformed, typ)
	}
	if len(b) == want {
		return Vector{typ: typ, dims: dims, data: append([]byte(nil), b...)}, nil
	}
	if v, ok := decodeTagged(b); ok {
		if v.typ != typ {
			return Vector{}, fmt.Errorf("%w: expected a %s vector, got %s", ErrTypeMismatch, typ, v.typ)
		}
		if v.dims != dims {
			return Vector{}, fmt.Errorf("%w: expected %d dimensions, got %d", ErrTypeMismatch, dims, v.dims)
		}
		return v, nil
	}
	var got int
	switch typ {
	case TypeFloat32:
		if len(b)%4 != 0 {
			return Vector{}, fmt.Errorf("%w: invalid float32 vector blob length %d (not divisible by 4)", ErrMalformed, len(b))
		}
		got = len(b) / 4
	case TypeInt8:
		got = len(b)
	default:
		got = len(b) * 8
	}
	return Vector{}, fmt.Errorf("%w: expected %d dimensions, got %d", ErrTypeMismatch, dims, got)
}

func decodeTagged(b []byte) (Vector, bool) {
	if len(b) < tagHeaderSize {
		return Vector{}, false
	}
	if b[0] != tagMagic0 || b[1] != tagMagic1 || b[2] != tagVersion {
		return Vector{}, false
	}
	typ := Type(b[3])
	if typ != TypeFloat32 && typ != TypeInt8 && typ != TypeBit {
		return Vector{}, false
	}
	dims := int(binary.LittleEndian.Uint32(b[4:8]))
	if dims <= 0 {
		return Vector{}, false
	}
	payload := b[tagHeaderSize:]
	if len(payload) != PayloadSize(typ, dims) {
		return Vector{}, false
	}
	return Vector{typ: typ, dims: dims, data: append([]byte(nil), payload...)}, true
}

// Encode returns the blob form used on the SQL surface: the raw payload for
// float32 vectors, the tagged form for int8 and bit vectors. The result
// round-trips through FromBlob and FromValue.
func (v Vector) Encode() []byte {
	if v.typ == TypeFloat32 {
		return append([]byte(nil), v.data...)
	}
	out := make([]byte, tagHeaderSize+len(v.data))
	out[0], out[1], out[2], out[3] = tagMagic0, tagMagic1, tagVersion, byte(v.typ)
	binary.LittleEndian.PutUint32(out[4:], uint32(v.dims))
	copy(out[tagHeaderSize:], v.data)
	return out
}
