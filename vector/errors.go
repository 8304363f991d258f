package vector

import "errors"

// Classification sentinels. Concrete errors returned by this package wrap one
// of these, so callers can classify failures with errors.Is while the message
// text stays descriptive.
var (
	// ErrTypeMismatch reports incompatible operand types or dimensions.
	ErrTypeMismatch = errors.New("type mismatch")

	// ErrMalformed reports unparsable textual or binary vector input.
	ErrMalformed = errors.New("malformed vector input")

	// ErrRange reports slice bounds that are out of order or out of bounds.
	ErrRange = errors.New("index out of range")

	// ErrAlignment reports bit-vector slice bounds not divisible by 8.
	ErrAlignment = errors.New("index not byte aligned")

	// ErrNull reports a NULL value where a vector is required.
	ErrNull = errors.New("missing vector")
)

// Slice validation errors. The message text is stable and part of the public
// contract, including the 'postive' spelling; keep it byte for byte.
var (
	ErrSliceStartNegative  = &sliceError{msg: "slice 'start' index must be a postive number.", class: ErrRange}
	ErrSliceEndNegative    = &sliceError{msg: "slice 'end' index must be a postive number.", class: ErrRange}
	ErrSliceStartAfterEnd  = &sliceError{msg: "slice 'start' index is greater than 'end' index", class: ErrRange}
	ErrSliceEmpty          = &sliceError{msg: "slice 'start' index is equal to the 'end' index, vectors must have non-zero length", class: ErrRange}
	ErrSliceEndTooLarge    = &sliceError{msg: "slice 'end' index is greater than the number of dimensions", class: ErrRange}
	ErrSliceStartUnaligned = &sliceError{msg: "start index must be divisible by 8.", class: ErrAlignment}
	ErrSliceEndUnaligned   = &sliceError{msg: "end index must be divisible by 8.", class: ErrAlignment}
)

// sliceError is a fixed-message error that also matches its taxonomy class
// under errors.Is.
type sliceError struct {
	msg   string
	class error
}

func (e *sliceError) Error() string { return e.msg }

func (e *sliceError) Is(target error) bool { return target == e.class }
