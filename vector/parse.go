package vector

import (
	"encoding/json"
	"fmt"
	"math"
)

// FromJSON parses a JSON array of numbers into a vector of the declared
// element type. Bit vectors have no JSON form. Null elements, non-numeric
// elements, and empty arrays are malformed.
func FromJSON(text string, typ Type) (Vector, error) {
	switch typ {
	case TypeFloat32, TypeInt8:
	default:
		return Vector{}, fmt.Errorf("%w: %s vectors cannot be parsed from JSON", ErrMalformed, typ)
	}
	var raw []*float64
	if err := json.Unmarshal([]byte(text), &raw); err != nil {
		return Vector{}, fmt.Errorf("%w: %v", ErrMalformed, err)
	}
	if len(raw) == 0 {
		return Vector{}, fmt.Errorf("%w: zero-length vectors are not supported", ErrMalformed)
	}
	if typ == TypeFloat32 {
		values := make([]float32, len(raw))
		for i, p := range raw {
			if p == nil {
				return Vector{}, fmt.Errorf("%w: element %d is null", ErrMalformed, i)
			}
			values[i] = float32(*p)
		}
		return FromFloat32s(values)
	}
	values := make([]int8, len(raw))
	for i, p := range raw {
		if p == nil {
			return Vector{}, fmt.Errorf("%w: element %d is null", ErrMalformed, i)
		}
		if *p != math.Trunc(*p) {
			return Vector{}, fmt.Errorf("%w: element %d (%g) is not an integer", ErrMalformed, i, *p)
		}
		if *p < math.MinInt8 || *p > math.MaxInt8 {
			return Vector{}, fmt.Errorf("%w: element %d (%g) is out of int8 range [-128, 127]", ErrMalformed, i, *p)
		}
		values[i] = int8(*p)
	}
	return FromInt8s(values)
}

// FromValue decodes a SQL argument into a vector. NULL is rejected with
// ErrNull; text parses as a float32 JSON array; blobs decode as tagged
// vectors of any type or as raw float32 payloads.
func FromValue(arg any) (Vector, error) {
	switch v := arg.(type) {
	case nil:
		return Vector{}, ErrNull
	case string:
		return FromJSON(v, TypeFloat32)
	case []byte:
		if v == nil {
			return Vector{}, ErrNull
		}
		if tv, ok := decodeTagged(v); ok {
			return tv, nil
		}
		if len(v) == 0 {
			return Vector{}, fmt.Errorf("%w: zero-length vectors are not supported", ErrMalformed)
		}
		if len(v)%4 != 0 {
			return Vector{}, fmt.Errorf("%w: invalid float32 vector blob length %d (not divisible by 4)", ErrMalformed, len(v))
		}
		return Vector{typ: TypeFloat32, dims: len(v) / 4, data: append([]byte(nil), v...)}, nil
	default:
		return Vector{}, fmt.Errorf("%w: value of type %T is not a vector", ErrMalformed, arg)
	}
}

// Int8FromValue decodes the argument of vec_int8: a JSON array of integers,
// a raw int8 payload (one byte per element), or a tagged int8 blob.
func Int8FromValue(arg any) (Vector, error) {
	switch v := arg.(type) {
	case nil:
		return Vector{}, ErrNull
	case string:
		return FromJSON(v, TypeInt8)
	case []byte:
		if v == nil {
			return Vector{}, ErrNull
		}
		if tv, ok := decodeTagged(v); ok {
			if tv.typ != TypeInt8 {
				return Vector{}, fmt.Errorf("%w: expected an int8 vector, got %s", ErrTypeMismatch, tv.typ)
			}
			return tv, nil
		}
		if len(v) == 0 {
			return Vector{}, fmt.Errorf("%w: zero-length vectors are not supported", ErrMalformed)
		}
		return Vector{typ: TypeInt8, dims: len(v), data: append([]byte(nil), v...)}, nil
	default:
		return Vector{}, fmt.Errorf("%w: value of type %T is not a vector", ErrMalformed, arg)
	}
}

// BitFromValue decodes the argument of vec_bit: a raw packed payload whose
// dimension is eight times its length, or a tagged bit blob.
func BitFromValue(arg any) (Vector, error) {
	switch v := arg.(type) {
	case nil:
		return Vector{}, ErrNull
	case []byte:
		if v == nil {
			return Vector{}, ErrNull
		}
		if tv, ok := decodeTagged(v); ok {
			if tv.typ != TypeBit {
				return Vector{}, fmt.Errorf("%w: expected a bit vector, got %s", ErrTypeMismatch, tv.typ)
			}
			return tv, nil
		}
		if len(v) == 0 {
			return Vector{}, fmt.Errorf("%w: zero-length vectors are not supported", ErrMalformed)
		}
		return Vector{typ: TypeBit, dims: len(v) * 8, data: append([]byte(nil), v...)}, nil
	default:
		return Vector{}, fmt.Errorf("%w: bit vectors accept blob input only, got %T", ErrMalformed, arg)
	}
}
