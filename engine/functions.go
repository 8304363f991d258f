package engine

import (
	"database/sql"
	"database/sql/driver"
	"fmt"

	sqlite "modernc.org/sqlite"

	"github.com/viant/vec0/vector"
)

// Version identifies the vector engine release reported by vec_version().
const Version = "v0.3.1"

// RegisterVectorFunctions registers the vec_* scalar functions with the
// driver so they are available on new connections opened after this call.
// Note: existing open connections will not see new functions.
func RegisterVectorFunctions(_ *sql.DB) error {
	// Idempotent registration; driver rejects duplicates but we ignore errors silently here.
	_ = sqlite.RegisterDeterministicScalarFunction("vec_version", 0, vecVersionImpl)
	_ = sqlite.RegisterDeterministicScalarFunction("vec_f32", 1, vecF32Impl)
	_ = sqlite.RegisterDeterministicScalarFunction("vec_int8", 1, vecInt8Impl)
	_ = sqlite.RegisterDeterministicScalarFunction("vec_bit", 1, vecBitImpl)
	_ = sqlite.RegisterDeterministicScalarFunction("vec_length", 1, vecLengthImpl)
	_ = sqlite.RegisterDeterministicScalarFunction("vec_type", 1, vecTypeImpl)
	_ = sqlite.RegisterDeterministicScalarFunction("vec_to_json", 1, vecToJSONImpl)
	_ = sqlite.RegisterDeterministicScalarFunction("vec_normalize", 1, vecNormalizeImpl)
	_ = sqlite.RegisterDeterministicScalarFunction("vec_quantize_int8", 1, vecQuantizeInt8Impl)
	_ = sqlite.RegisterDeterministicScalarFunction("vec_quantize_binary", 1, vecQuantizeBinaryImpl)
	_ = sqlite.RegisterDeterministicScalarFunction("vec_add", 2, vecAddImpl)
	_ = sqlite.RegisterDeterministicScalarFunction("vec_sub", 2, vecSubImpl)
	_ = sqlite.RegisterDeterministicScalarFunction("vec_slice", 3, vecSliceImpl)
	_ = sqlite.RegisterDeterministicScalarFunction("vec_distance_l2", 2, vecDistanceL2Impl)
	_ = sqlite.RegisterDeterministicScalarFunction("vec_distance_cosine", 2, vecDistanceCosineImpl)
	_ = sqlite.RegisterDeterministicScalarFunction("vec_distance_hamming", 2, vecDistanceHammingImpl)
	return nil
}

func vecVersionImpl(_ *sqlite.FunctionContext, _ []driver.Value) (driver.Value, error) {
	return Version, nil
}

// Constructors. Each accepts a JSON text or blob argument and returns the
// vector in its blob encoding: raw little-endian for float32, the tagged
// form for int8 and bit.

func vecF32Impl(_ *sqlite.FunctionContext, args []driver.Value) (driver.Value, error) {
	if len(args) != 1 {
		return nil, fmt.Errorf("vec_f32: expected 1 argument, got %d", len(args))
	}
	v, err := vector.FromValue(args[0])
	if err != nil {
		return nil, err
	}
	if v.Type() != vector.TypeFloat32 {
		return nil, fmt.Errorf("vec_f32: expected a float32 vector, got %s", v.Type())
	}
	return v.Encode(), nil
}

func vecInt8Impl(_ *sqlite.FunctionContext, args []driver.Value) (driver.Value, error) {
	if len(args) != 1 {
		return nil, fmt.Errorf("vec_int8: expected 1 argument, got %d", len(args))
	}
	v, err := vector.Int8FromValue(args[0])
	if err != nil {
		return nil, err
	}
	return v.Encode(), nil
}

func vecBitImpl(_ *sqlite.FunctionContext, args []driver.Value) (driver.Value, error) {
	if len(args) != 1 {
		return nil, fmt.Errorf("vec_bit: expected 1 argument, got %d", len(args))
	}
	v, err := vector.BitFromValue(args[0])
	if err != nil {
		return nil, err
	}
	return v.Encode(), nil
}

// Inspection.

func vecLengthImpl(_ *sqlite.FunctionContext, args []driver.Value) (driver.Value, error) {
	if len(args) != 1 {
		return nil, fmt.Errorf("vec_length: expected 1 argument, got %d", len(args))
	}
	v, err := vector.FromValue(args[0])
	if err != nil {
		return nil, err
	}
	return int64(v.Dimensions()), nil
}

func vecTypeImpl(_ *sqlite.FunctionContext, args []driver.Value) (driver.Value, error) {
	if len(args) != 1 {
		return nil, fmt.Errorf("vec_type: expected 1 argument, got %d", len(args))
	}
	v, err := vector.FromValue(args[0])
	if err != nil {
		return nil, err
	}
	return v.Type().String(), nil
}

func vecToJSONImpl(_ *sqlite.FunctionContext, args []driver.Value) (driver.Value, error) {
	if len(args) != 1 {
		return nil, fmt.Errorf("vec_to_json: expected 1 argument, got %d", len(args))
	}
	v, err := vector.FromValue(args[0])
	if err != nil {
		return nil, err
	}
	return v.JSON(), nil
}

// Transforms.

func vecNormalizeImpl(_ *sqlite.FunctionContext, args []driver.Value) (driver.Value, error) {
	if len(args) != 1 {
		return nil, fmt.Errorf("vec_normalize: expected 1 argument, got %d", len(args))
	}
	v, err := vector.FromValue(args[0])
	if err != nil {
		return nil, err
	}
	out, err := vector.Normalize(v)
	if err != nil {
		return nil, err
	}
	return out.Encode(), nil
}

func vecQuantizeInt8Impl(_ *sqlite.FunctionContext, args []driver.Value) (driver.Value, error) {
	if len(args) != 1 {
		return nil, fmt.Errorf("vec_quantize_int8: expected 1 argument, got %d", len(args))
	}
	v, err := vector.FromValue(args[0])
	if err != nil {
		return nil, err
	}
	out, err := vector.QuantizeInt8(v)
	if err != nil {
		return nil, err
	}
	return out.Encode(), nil
}

func vecQuantizeBinaryImpl(_ *sqlite.FunctionContext, args []driver.Value) (driver.Value, error) {
	if len(args) != 1 {
		return nil, fmt.Errorf("vec_quantize_binary: expected 1 argument, got %d", len(args))
	}
	v, err := vector.FromValue(args[0])
	if err != nil {
		return nil, err
	}
	out, err := vector.QuantizeBinary(v)
	if err != nil {
		return nil, err
	}
	return out.Encode(), nil
}

// Arithmetic.

func vecAddImpl(_ *sqlite.FunctionContext, args []driver.Value) (driver.Value, error) {
	if len(args) != 2 {
		return nil, fmt.Errorf("vec_add: expected 2 arguments, got %d", len(args))
	}
	a, b, err := vectorPair(args)
	if err != nil {
		return nil, err
	}
	out, err := vector.Add(a, b)
	if err != nil {
		return nil, err
	}
	return out.Encode(), nil
}

func vecSubImpl(_ *sqlite.FunctionContext, args []driver.Value) (driver.Value, error) {
	if len(args) != 2 {
		return nil, fmt.Errorf("vec_sub: expected 2 arguments, got %d", len(args))
	}
	a, b, err := vectorPair(args)
	if err != nil {
		return nil, err
	}
	out, err := vector.Sub(a, b)
	if err != nil {
		return nil, err
	}
	return out.Encode(), nil
}

func vecSliceImpl(_ *sqlite.FunctionContext, args []driver.Value) (driver.Value, error) {
	if len(args) != 3 {
		return nil, fmt.Errorf("vec_slice: expected 3 arguments, got %d", len(args))
	}
	v, err := vector.FromValue(args[0])
	if err != nil {
		return nil, err
	}
	start, ok := intArg(args[1])
	if !ok {
		return nil, fmt.Errorf("vec_slice: expected an integer for the start argument")
	}
	end, ok := intArg(args[2])
	if !ok {
		return nil, fmt.Errorf("vec_slice: expected an integer for the end argument")
	}
	out, err := vector.Slice(v, int(start), int(end))
	if err != nil {
		return nil, err
	}
	return out.Encode(), nil
}

// Distances.

func vecDistanceL2Impl(_ *sqlite.FunctionContext, args []driver.Value) (driver.Value, error) {
	if len(args) != 2 {
		return nil, fmt.Errorf("vec_distance_l2: expected 2 arguments, got %d", len(args))
	}
	a, b, err := vectorPair(args)
	if err != nil {
		return nil, err
	}
	return vector.L2Distance(a, b)
}

func vecDistanceCosineImpl(_ *sqlite.FunctionContext, args []driver.Value) (driver.Value, error) {
	if len(args) != 2 {
		return nil, fmt.Errorf("vec_distance_cosine: expected 2 arguments, got %d", len(args))
	}
	a, b, err := vectorPair(args)
	if err != nil {
		return nil, err
	}
	return vector.CosineDistance(a, b)
}

func vecDistanceHammingImpl(_ *sqlite.FunctionContext, args []driver.Value) (driver.Value, error) {
	if len(args) != 2 {
		return nil, fmt.Errorf("vec_distance_hamming: expected 2 arguments, got %d", len(args))
	}
	a, b, err := vectorPair(args)
	if err != nil {
		return nil, err
	}
	return vector.HammingDistance(a, b)
}

func vectorPair(args []driver.Value) (vector.Vector, vector.Vector, error) {
	a, err := vector.FromValue(args[0])
	if err != nil {
		return vector.Vector{}, vector.Vector{}, err
	}
	b, err := vector.FromValue(args[1])
	if err != nil {
		return vector.Vector{}, vector.Vector{}, err
	}
	return a, b, nil
}

func intArg(v driver.Value) (int64, bool) {
	if x, ok := v.(int64); ok {
		return x, true
	}
	return 0, false
}
