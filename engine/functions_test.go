package engine

import (
	"database/sql"
	"math"
	"strings"
	"testing"

	"github.com/viant/vec0/vector"
)

func openFunctionDB(t *testing.T) *sql.DB {
	t.Helper()
	// Register globally before first connection so functions are available.
	if err := RegisterVectorFunctions(nil); err != nil {
		t.Fatalf("RegisterVectorFunctions failed: %v", err)
	}
	db, err := Open(":memory:")
	if err != nil {
		t.Fatalf("Open(:memory:) failed: %v", err)
	}
	t.Cleanup(func() { db.Close() })
	return db
}

func f32Blob(t *testing.T, values ...float32) []byte {
	t.Helper()
	v, err := vector.FromFloat32s(values)
	if err != nil {
		t.Fatalf("FromFloat32s failed: %v", err)
	}
	return v.Encode()
}

func TestRegisterVectorFunctionsAndUse(t *testing.T) {
	db := openFunctionDB(t)

	if err := RegisterVectorFunctions(db); err != nil {
		t.Fatalf("RegisterVectorFunctions failed: %v", err)
	}

	aBlob := f32Blob(t, 1, 0)
	bBlob := f32Blob(t, 0, 1)
	cBlob := f32Blob(t, 1, 0)

	// vec_distance_cosine orthogonal -> 1
	var dist float64
	if err := db.QueryRow(`SELECT vec_distance_cosine(?, ?)`, aBlob, bBlob).Scan(&dist); err != nil {
		t.Fatalf("vec_distance_cosine(a,b) query failed: %v", err)
	}
	if math.Abs(dist-1) > 1e-9 {
		t.Fatalf("vec_distance_cosine(a,b) = %v, want 1", dist)
	}

	// vec_distance_cosine identical -> 0
	if err := db.QueryRow(`SELECT vec_distance_cosine(?, ?)`, aBlob, cBlob).Scan(&dist); err != nil {
		t.Fatalf("vec_distance_cosine(a,c) query failed: %v", err)
	}
	if math.Abs(dist) > 1e-9 {
		t.Fatalf("vec_distance_cosine(a,c) = %v, want 0", dist)
	}

	// vec_distance_l2 between (0,0) and (3,4) -> 5
	if err := db.QueryRow(`SELECT vec_distance_l2(?, ?)`, f32Blob(t, 0, 0), f32Blob(t, 3, 4)).Scan(&dist); err != nil {
		t.Fatalf("vec_distance_l2 query failed: %v", err)
	}
	if math.Abs(dist-5) > 1e-9 {
		t.Fatalf("vec_distance_l2 = %v, want 5", dist)
	}

	// vec_distance_hamming over fully opposed bit vectors -> 8
	if err := db.QueryRow(`SELECT vec_distance_hamming(vec_bit(X'FF'), vec_bit(X'00'))`).Scan(&dist); err != nil {
		t.Fatalf("vec_distance_hamming query failed: %v", err)
	}
	if dist != 8 {
		t.Fatalf("vec_distance_hamming = %v, want 8", dist)
	}
}

func TestVectorConstructors(t *testing.T) {
	db := openFunctionDB(t)

	var blob []byte
	if err := db.QueryRow(`SELECT vec_f32('[1, 2, 3]')`).Scan(&blob); err != nil {
		t.Fatalf("vec_f32 query failed: %v", err)
	}
	if len(blob) != 12 {
		t.Fatalf("vec_f32 blob length = %d, want 12", len(blob))
	}

	var length int64
	if err := db.QueryRow(`SELECT vec_length(vec_f32('[1, 2, 3]'))`).Scan(&length); err != nil {
		t.Fatalf("vec_length query failed: %v", err)
	}
	if length != 3 {
		t.Fatalf("vec_length = %d, want 3", length)
	}

	var typ string
	for _, tc := range []struct {
		expr string
		want string
		dims int64
	}{
		{`vec_f32('[1,2,3]')`, "float32", 3},
		{`vec_int8('[1,2,3]')`, "int8", 3},
		{`vec_bit(X'AA')`, "bit", 8},
	} {
		if err := db.QueryRow(`SELECT vec_type(` + tc.expr + `)`).Scan(&typ); err != nil {
			t.Fatalf("vec_type(%s) query failed: %v", tc.expr, err)
		}
		if typ != tc.want {
			t.Fatalf("vec_type(%s) = %q, want %q", tc.expr, typ, tc.want)
		}
		if err := db.QueryRow(`SELECT vec_length(` + tc.expr + `)`).Scan(&length); err != nil {
			t.Fatalf("vec_length(%s) query failed: %v", tc.expr, err)
		}
		if length != tc.dims {
			t.Fatalf("vec_length(%s) = %d, want %d", tc.expr, length, tc.dims)
		}
	}

	var rendered string
	if err := db.QueryRow(`SELECT vec_to_json(vec_f32('[1, 2.5, -3]'))`).Scan(&rendered); err != nil {
		t.Fatalf("vec_to_json query failed: %v", err)
	}
	if rendered != "[1,2.5,-3]" {
		t.Fatalf("vec_to_json = %q, want [1,2.5,-3]", rendered)
	}

	var version string
	if err := db.QueryRow(`SELECT vec_version()`).Scan(&version); err != nil {
		t.Fatalf("vec_version query failed: %v", err)
	}
	if !strings.HasPrefix(version, "v") {
		t.Fatalf("vec_version = %q, want a v-prefixed version", version)
	}
}

func TestVecSliceErrors(t *testing.T) {
	db := openFunctionDB(t)

	var blob []byte
	err := db.QueryRow(`SELECT vec_slice(vec_f32('[1,2,3]'), 1, 1)`).Scan(&blob)
	if err == nil || !strings.Contains(err.Error(),
		"slice 'start' index is equal to the 'end' index, vectors must have non-zero length") {
		t.Fatalf("vec_slice(v,1,1) error = %v, want equal-index message", err)
	}

	err = db.QueryRow(`SELECT vec_slice(vec_bit(X'AABBCCDD'), 4, 16)`).Scan(&blob)
	if err == nil || !strings.Contains(err.Error(), "start index must be divisible by 8.") {
		t.Fatalf("vec_slice(bit,4,16) error = %v, want divisibility message", err)
	}

	// A valid slice works and reports the narrowed length.
	var length int64
	if err := db.QueryRow(`SELECT vec_length(vec_slice(vec_f32('[1,2,3,4]'), 1, 3))`).Scan(&length); err != nil {
		t.Fatalf("vec_slice success query failed: %v", err)
	}
	if length != 2 {
		t.Fatalf("sliced length = %d, want 2", length)
	}
}

// TestRepeatedErrorPaths drives the same failing call many times and then a
// succeeding one; failures must not wedge the connection or leak into later
// calls.
func TestRepeatedErrorPaths(t *testing.T) {
	db := openFunctionDB(t)

	var out []byte
	for i := 0; i < 50; i++ {
		err := db.QueryRow(`SELECT vec_slice(vec_f32('[1,2,3]'), 1, 1)`).Scan(&out)
		if err == nil {
			t.Fatalf("iteration %d: vec_slice(v,1,1) unexpectedly succeeded", i)
		}
	}
	var length int64
	if err := db.QueryRow(`SELECT vec_length(vec_f32('[1,2,3]'))`).Scan(&length); err != nil {
		t.Fatalf("follow-up query failed after repeated errors: %v", err)
	}
	if length != 3 {
		t.Fatalf("follow-up vec_length = %d, want 3", length)
	}
}

func TestVecArithmetic(t *testing.T) {
	db := openFunctionDB(t)

	var rendered string
	if err := db.QueryRow(`SELECT vec_to_json(vec_add(vec_f32('[1,2,3]'), vec_f32('[10,20,30]')))`).Scan(&rendered); err != nil {
		t.Fatalf("vec_add query failed: %v", err)
	}
	if rendered != "[11,22,33]" {
		t.Fatalf("vec_add = %q, want [11,22,33]", rendered)
	}

	if err := db.QueryRow(`SELECT vec_to_json(vec_sub(vec_f32('[1,2,3]'), vec_f32('[10,20,30]')))`).Scan(&rendered); err != nil {
		t.Fatalf("vec_sub query failed: %v", err)
	}
	if rendered != "[-9,-18,-27]" {
		t.Fatalf("vec_sub = %q, want [-9,-18,-27]", rendered)
	}

	// int8 arithmetic saturates instead of wrapping.
	if err := db.QueryRow(`SELECT vec_to_json(vec_add(vec_int8('[120,-120,1]'), vec_int8('[100,-100,2]')))`).Scan(&rendered); err != nil {
		t.Fatalf("vec_add int8 query failed: %v", err)
	}
	if rendered != "[127,-128,3]" {
		t.Fatalf("vec_add int8 = %q, want [127,-128,3]", rendered)
	}

	var out []byte
	err := db.QueryRow(`SELECT vec_add(vec_f32('[1,2]'), vec_f32('[1,2,3]'))`).Scan(&out)
	if err == nil || !strings.Contains(err.Error(), "dimensions") {
		t.Fatalf("vec_add dimension mismatch error = %v, want dimension message", err)
	}
	err = db.QueryRow(`SELECT vec_add(vec_f32('[1,2]'), vec_int8('[1,2]'))`).Scan(&out)
	if err == nil {
		t.Fatal("vec_add across types unexpectedly succeeded")
	}
}

func TestVecTransforms(t *testing.T) {
	db := openFunctionDB(t)

	var blob []byte
	if err := db.QueryRow(`SELECT vec_normalize(vec_f32('[3,4]'))`).Scan(&blob); err != nil {
		t.Fatalf("vec_normalize query failed: %v", err)
	}
	normalized, err := vector.FromBlob(blob, vector.TypeFloat32, 2)
	if err != nil {
		t.Fatalf("decoding normalized blob failed: %v", err)
	}
	got := normalized.Float32s()
	if math.Abs(float64(got[0])-0.6) > 1e-6 || math.Abs(float64(got[1])-0.8) > 1e-6 {
		t.Fatalf("vec_normalize([3,4]) = %v, want [0.6,0.8]", got)
	}

	var rendered string
	if err := db.QueryRow(`SELECT vec_to_json(vec_quantize_int8(vec_f32('[1,-1,0]')))`).Scan(&rendered); err != nil {
		t.Fatalf("vec_quantize_int8 query failed: %v", err)
	}
	if rendered != "[127,-127,0]" {
		t.Fatalf("vec_quantize_int8 = %q, want [127,-127,0]", rendered)
	}

	var typ string
	if err := db.QueryRow(`SELECT vec_type(vec_quantize_binary(vec_f32('[1,-1,1,-1,1,-1,1,-1]')))`).Scan(&typ); err != nil {
		t.Fatalf("vec_quantize_binary query failed: %v", err)
	}
	if typ != "bit" {
		t.Fatalf("vec_quantize_binary type = %q, want bit", typ)
	}
}

// TestOrderByDistanceOverTable stores encoded vectors in an ordinary table
// and ranks it with vec_distance_l2, the way applications order rows without
// a virtual table.
func TestOrderByDistanceOverTable(t *testing.T) {
	db := openFunctionDB(t)

	if _, err := db.Exec(`CREATE TABLE notes (id TEXT PRIMARY KEY, embedding BLOB)`); err != nil {
		t.Fatalf("create table failed: %v", err)
	}
	if _, err := db.Exec(`INSERT INTO notes(id, embedding) VALUES ('far', ?), ('near', ?)`,
		f32Blob(t, 0, 1), f32Blob(t, 1, 0)); err != nil {
		t.Fatalf("insert failed: %v", err)
	}

	rows, err := db.Query(`SELECT id FROM notes ORDER BY vec_distance_l2(embedding, ?)`, f32Blob(t, 1, 0))
	if err != nil {
		t.Fatalf("ORDER BY vec_distance_l2 query failed: %v", err)
	}
	defer rows.Close()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			t.Fatalf("scan id failed: %v", err)
		}
		ids = append(ids, id)
	}
	if err := rows.Err(); err != nil {
		t.Fatalf("rows.Err: %v", err)
	}
	if len(ids) != 2 || ids[0] != "near" || ids[1] != "far" {
		t.Fatalf("ORDER BY vec_distance_l2 returned %v, want [near far]", ids)
	}
}

func TestNullAndMalformedArguments(t *testing.T) {
	db := openFunctionDB(t)

	var out []byte
	err := db.QueryRow(`SELECT vec_length(NULL)`).Scan(&out)
	if err == nil || !strings.Contains(err.Error(), "missing vector") {
		t.Fatalf("vec_length(NULL) error = %v, want missing vector", err)
	}

	err = db.QueryRow(`SELECT vec_distance_l2(NULL, vec_f32('[1,2]'))`).Scan(&out)
	if err == nil || !strings.Contains(err.Error(), "missing vector") {
		t.Fatalf("vec_distance_l2(NULL, v) error = %v, want missing vector", err)
	}

	err = db.QueryRow(`SELECT vec_f32('[1, 2')`).Scan(&out)
	if err == nil {
		t.Fatal("vec_f32 on truncated JSON unexpectedly succeeded")
	}

	err = db.QueryRow(`SELECT vec_f32('[]')`).Scan(&out)
	if err == nil || !strings.Contains(err.Error(), "zero-length vectors are not supported") {
		t.Fatalf("vec_f32('[]') error = %v, want zero-length message", err)
	}

	err = db.QueryRow(`SELECT vec_f32(42)`).Scan(&out)
	if err == nil {
		t.Fatal("vec_f32(42) unexpectedly succeeded")
	}
}
