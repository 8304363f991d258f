package vector

import (
	"fmt"
	"math"

	"github.com/viant/vec/search"
)

// Add returns the elementwise sum of two compatible float32 or int8 vectors.
// Int8 addition saturates to [-128, 127].
func Add(a, b Vector) (Vector, error) {
	return arith(a, b, "add", func(x, y float32) float32 { return x + y }, addInt8)
}

// Sub returns the elementwise difference of two compatible float32 or int8
// vectors. Int8 subtraction saturates to [-128, 127].
func Sub(a, b Vector) (Vector, error) {
	return arith(a, b, "subtract", func(x, y float32) float32 { return x - y }, subInt8)
}

func arith(a, b Vector, verb string, f32 func(x, y float32) float32, i8 func(x, y int8) int8) (Vector, error) {
	if err := compatible(a, b); err != nil {
		return Vector{}, err
	}
	switch a.typ {
	case TypeFloat32:
		out := make([]float32, a.dims)
		for i := range out {
			out[i] = f32(a.float32At(i), b.float32At(i))
		}
		return FromFloat32s(out)
	case TypeInt8:
		out := make([]int8, a.dims)
		for i := range out {
			out[i] = i8(a.int8At(i), b.int8At(i))
		}
		return FromInt8s(out)
	}
	return Vector{}, fmt.Errorf("%w: cannot %s bit vectors", ErrTypeMismatch, verb)
}

func addInt8(x, y int8) int8 { return clampInt8(int16(x) + int16(y)) }

func subInt8(x, y int8) int8 { return clampInt8(int16(x) - int16(y)) }

func clampInt8(v int16) int8 {
	if v > math.MaxInt8 {
		return math.MaxInt8
	}
	if v < math.MinInt8 {
		return math.MinInt8
	}
	return int8(v)
}

// Normalize returns the L2-normalized copy of a float32 vector. Zero
// magnitude is an error.
func Normalize(v Vector) (Vector, error) {
	if v.IsZero() {
		return Vector{}, ErrNull
	}
	if v.typ != TypeFloat32 {
		return Vector{}, fmt.Errorf("%w: normalize supports float32 vectors only, got %s", ErrTypeMismatch, v.typ)
	}
	values := v.Float32s()
	mag := search.Float32s(values).Magnitude()
	if mag == 0 {
		return Vector{}, fmt.Errorf("%w: cannot normalize a zero-magnitude vector", ErrMalformed)
	}
	out := make([]float32, len(values))
	for i := range values {
		out[i] = values[i] / mag
	}
	return FromFloat32s(out)
}

// QuantizeBinary maps a float32 or int8 vector to a bit vector by sign:
// strictly positive elements become 1. The dimension must be divisible by 8.
func QuantizeBinary(v Vector) (Vector, error) {
	if v.IsZero() {
		return Vector{}, ErrNull
	}
	if v.typ == TypeBit {
		return Vector{}, fmt.Errorf("%w: vector is already a bit vector", ErrTypeMismatch)
	}
	if v.dims%8 != 0 {
		return Vector{}, fmt.Errorf("%w: binary quantization requires a dimension divisible by 8, got %d", ErrMalformed, v.dims)
	}
	payload := make([]byte, v.dims/8)
	for i := 0; i < v.dims; i++ {
		var positive bool
		if v.typ == TypeFloat32 {
			positive = v.float32At(i) > 0
		} else {
			positive = v.int8At(i) > 0
		}
		if positive {
			payload[i/8] |= 1 << (i % 8)
		}
	}
	return FromBits(payload, v.dims)
}

// QuantizeInt8 linearly maps a float32 vector in the unit range [-1, 1] to an
// int8 vector. Out-of-range elements clamp to the nearest bound.
func QuantizeInt8(v Vector) (Vector, error) {
	if v.IsZero() {
		return Vector{}, ErrNull
	}
	if v.typ != TypeFloat32 {
		return Vector{}, fmt.Errorf("%w: int8 quantization supports float32 vectors only, got %s", ErrTypeMismatch, v.typ)
	}
	out := make([]int8, v.dims)
	for i := range out {
		x := float64(v.float32At(i))
		if x > 1 {
			x = 1
		} else if x < -1 {
			x = -1
		}
		out[i] = int8(math.Round(x * 127))
	}
	return FromInt8s(out)
}
