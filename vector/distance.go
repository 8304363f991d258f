package vector

import (
	"fmt"
	"math"
	"math/bits"
)

// compatible reports whether two vectors may participate in a binary
// operation: same element type and same dimension. There is no implicit
// conversion between element types.
func compatible(a, b Vector) error {
	if a.typ != b.typ {
		return fmt.Errorf("%w: cannot operate on %s and %s vectors", ErrTypeMismatch, a.typ, b.typ)
	}
	if a.dims != b.dims {
		return fmt.Errorf("%w: dimensions %d and %d differ", ErrTypeMismatch, a.dims, b.dims)
	}
	return nil
}

// L2Distance computes the Euclidean (L2) distance between two compatible
// float32 or int8 vectors. Accumulation is in float64 regardless of storage
// width. Bit vectors are not supported.
func L2Distance(a, b Vector) (float64, error) {
	if err := compatible(a, b); err != nil {
		return 0, err
	}
	if a.typ == TypeBit {
		return 0, fmt.Errorf("%w: cannot compute L2 distance between bit vectors", ErrTypeMismatch)
	}
	var sum float64
	for i := 0; i < a.dims; i++ {
		var d float64
		if a.typ == TypeFloat32 {
			d = float64(a.float32At(i)) - float64(b.float32At(i))
		} else {
			d = float64(a.int8At(i)) - float64(b.int8At(i))
		}
		sum += d * d
	}
	return math.Sqrt(sum), nil
}

// CosineDistance computes 1 - cosine similarity between two compatible
// float32 or int8 vectors. It returns an error if either vector has zero
// magnitude.
func CosineDistance(a, b Vector) (float64, error) {
	if err := compatible(a, b); err != nil {
		return 0, err
	}
	if a.typ == TypeBit {
		return 0, fmt.Errorf("%w: cannot compute cosine distance between bit vectors", ErrTypeMismatch)
	}
	var dot, na2, nb2 float64
	for i := 0; i < a.dims; i++ {
		var va, vb float64
		if a.typ == TypeFloat32 {
			va = float64(a.float32At(i))
			vb = float64(b.float32At(i))
		} else {
			va = float64(a.int8At(i))
			vb = float64(b.int8At(i))
		}
		dot += va * vb
		na2 += va * va
		nb2 += vb * vb
	}
	if na2 == 0 || nb2 == 0 {
		return 0, fmt.Errorf("%w: cosine distance with zero-magnitude vector", ErrMalformed)
	}
	return 1 - dot/(math.Sqrt(na2)*math.Sqrt(nb2)), nil
}

// HammingDistance computes the number of differing elements between two
// compatible bit vectors: the popcount of the XOR of their payloads.
func HammingDistance(a, b Vector) (float64, error) {
	if err := compatible(a, b); err != nil {
		return 0, err
	}
	if a.typ != TypeBit {
		return 0, fmt.Errorf("%w: hamming distance requires bit vectors, got %s", ErrTypeMismatch, a.typ)
	}
	var count int
	for i := range a.data {
		x := a.data[i] ^ b.data[i]
		if i == len(a.data)-1 && a.dims%8 != 0 {
			// Mask padding bits beyond the declared dimension.
			x &= byte(1<<(a.dims%8)) - 1
		}
		count += bits.OnesCount8(x)
	}
	return float64(count), nil
}
