package vector

// Slice returns a new vector holding the half-open element range
// [start, end) of v. Validation runs in a fixed order and each failure
// carries its fixed message (see the ErrSlice* sentinels); for bit vectors
// both bounds must additionally land on byte boundaries.
func Slice(v Vector, start, end int) (Vector, error) {
	if v.IsZero() {
		return Vector{}, ErrNull
	}
	if start < 0 {
		return Vector{}, ErrSliceStartNegative
	}
	if end < 0 {
		return Vector{}, ErrSliceEndNegative
	}
	if start > end {
		return Vector{}, ErrSliceStartAfterEnd
	}
	if start == end {
		return Vector{}, ErrSliceEmpty
	}
	if end > v.dims {
		return Vector{}, ErrSliceEndTooLarge
	}
	if v.typ == TypeBit {
		if start%8 != 0 {
			return Vector{}, ErrSliceStartUnaligned
		}
		if end%8 != 0 {
			return Vector{}, ErrSliceEndUnaligned
		}
	}
	var sub []byte
	switch v.typ {
	case TypeFloat32:
		sub = v.data[start*4 : end*4]
	case TypeInt8:
		sub = v.data[start:end]
	case TypeBit:
		sub = v.data[start/8 : end/8]
	}
	return Vector{typ: v.typ, dims: end - start, data: append([]byte(nil), sub...)}, nil
}
