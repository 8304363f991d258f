package vector

import (
	"bytes"
	"errors"
	"testing"
)

func TestEncodeFromBlob_RoundTrip(t *testing.T) {
	vectors := []Vector{
		mustF32(t, 0.0, 1.5, -2.25, 3.75),
		mustI8(t, -128, -1, 0, 1, 127),
		mustBit(t, 16, 0xAA, 0x0F),
	}
	for _, orig := range vectors {
		blob := orig.Encode()
		decoded, err := FromBlob(blob, orig.Type(), orig.Dimensions())
		if err != nil {
			t.Fatalf("FromBlob(%s) failed: %v", orig, err)
		}
		if decoded.Type() != orig.Type() || decoded.Dimensions() != orig.Dimensions() {
			t.Fatalf("round trip changed shape: %s -> %s", orig, decoded)
		}
		if !bytes.Equal(decoded.Bytes(), orig.Bytes()) {
			t.Fatalf("round trip changed payload for %s", orig)
		}
	}
}

func TestEncode_Float32Raw(t *testing.T) {
	v := mustF32(t, 1, 2, 3)
	blob := v.Encode()
	if len(blob) != 12 {
		t.Fatalf("float32 encode length = %d, want 12", len(blob))
	}
	if !bytes.Equal(blob, v.Bytes()) {
		t.Fatal("float32 encode should be the raw payload")
	}
}

func TestEncode_TaggedForms(t *testing.T) {
	v := mustI8(t, 1, 2, 3)
	blob := v.Encode()
	if len(blob) != tagHeaderSize+3 {
		t.Fatalf("int8 encode length = %d, want %d", len(blob), tagHeaderSize+3)
	}
	decoded, err := FromValue(blob)
	if err != nil {
		t.Fatalf("FromValue(tagged int8) failed: %v", err)
	}
	if decoded.Type() != TypeInt8 || decoded.Dimensions() != 3 {
		t.Fatalf("tagged decode = %s, want int8[3]", decoded)
	}
}

func TestFromBlob_Mismatches(t *testing.T) {
	// Dimension mismatch on a raw float32 payload.
	four := mustF32(t, 1, 2, 3, 4)
	if _, err := FromBlob(four.Encode(), TypeFloat32, 3); !errors.Is(err, ErrTypeMismatch) {
		t.Fatalf("dim mismatch: got %v, want ErrTypeMismatch", err)
	}

	// Type mismatch between a tagged blob and the declared column type.
	i8 := mustI8(t, 1, 2, 3)
	if _, err := FromBlob(i8.Encode(), TypeFloat32, 3); !errors.Is(err, ErrTypeMismatch) {
		t.Fatalf("type mismatch: got %v, want ErrTypeMismatch", err)
	}

	// Ragged blob length for float32.
	if _, err := FromBlob([]byte{1, 2, 3}, TypeFloat32, 3); !errors.Is(err, ErrMalformed) {
		t.Fatalf("ragged length: got %v, want ErrMalformed", err)
	}

	// NULL payload.
	if _, err := FromBlob(nil, TypeFloat32, 3); !errors.Is(err, ErrNull) {
		t.Fatalf("nil blob: got %v, want ErrNull", err)
	}
}
