package vec0

import (
	"context"
	"database/sql"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/viant/vec0/engine"
	"github.com/viant/vec0/vector"
)

func newTestTable(t *testing.T, decls ...string) (*sql.DB, *Table) {
	t.Helper()
	db, err := engine.Open(filepath.Join(t.TempDir(), "vec0.sqlite"))
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	schema, err := ParseSchema("", "items", decls)
	require.NoError(t, err)
	return db, NewTable(db, schema)
}

func mustF32(t *testing.T, values ...float32) vector.Vector {
	t.Helper()
	v, err := vector.FromFloat32s(values)
	require.NoError(t, err)
	return v
}

func TestInsertAndRow(t *testing.T) {
	ctx := context.Background()
	_, table := newTestTable(t, "v float[3]", "score integer", "+note text")

	rowid, err := table.Insert(ctx, map[string]any{
		"v":     mustF32(t, 1, 2, 3),
		"score": 100,
		"note":  "first",
	})
	require.NoError(t, err)
	assert.Equal(t, int64(1), rowid)

	row, err := table.Row(ctx, rowid)
	require.NoError(t, err)
	assert.Equal(t, []float32{1, 2, 3}, row.Vectors["v"].Float32s())
	assert.Equal(t, int64(100), row.Values["score"])
	assert.Equal(t, "first", row.Values["note"])

	count, err := table.Count(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(1), count)
}

func TestInsertAcceptsBlobAndJSON(t *testing.T) {
	ctx := context.Background()
	_, table := newTestTable(t, "v float[3]", "score integer")

	_, err := table.Insert(ctx, map[string]any{
		"v":     mustF32(t, 1, 2, 3).Encode(),
		"score": 1,
	})
	require.NoError(t, err)

	_, err = table.Insert(ctx, map[string]any{
		"v":     "[4, 5, 6]",
		"score": 2,
	})
	require.NoError(t, err)

	count, err := table.Count(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(2), count)
}

// A four-dimensional value against a float[3] column must be rejected without
// storing anything.
func TestInsertDimensionMismatch(t *testing.T) {
	ctx := context.Background()
	_, table := newTestTable(t, "v float[3]")

	_, err := table.Insert(ctx, map[string]any{"v": mustF32(t, 1, 2, 3, 4)})
	require.Error(t, err)
	assert.ErrorIs(t, err, vector.ErrTypeMismatch)

	count, err := table.Count(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(0), count, "failed insert must not store a row")
}

// NULL for a metadata column must be rejected without storing anything.
func TestInsertNullMetadata(t *testing.T) {
	ctx := context.Background()
	_, table := newTestTable(t, "v float[3]", "score integer")

	_, err := table.Insert(ctx, map[string]any{"v": mustF32(t, 1, 2, 3), "score": nil})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "NULL is not allowed")

	_, err = table.Insert(ctx, map[string]any{"v": mustF32(t, 1, 2, 3)})
	require.Error(t, err, "omitting a metadata column is the same as NULL")

	count, err := table.Count(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(0), count)
}

func TestInsertValidation(t *testing.T) {
	ctx := context.Background()
	_, table := newTestTable(t, "v float[3]", "score integer")

	for _, tc := range []struct {
		name   string
		values map[string]any
		want   string
	}{
		{"null vector", map[string]any{"v": nil, "score": 1}, "missing vector"},
		{"missing vector column", map[string]any{"score": 1}, "missing vector"},
		{"unknown column", map[string]any{"v": mustF32(t, 1, 2, 3), "score": 1, "extra": 9}, "no such column"},
		{"type mismatch scalar", map[string]any{"v": mustF32(t, 1, 2, 3), "score": "high"}, "expects a integer value"},
		{"malformed json", map[string]any{"v": "[1, 2", "score": 1}, "malformed"},
		{"not a vector", map[string]any{"v": 42, "score": 1}, "not a vector"},
	} {
		t.Run(tc.name, func(t *testing.T) {
			_, err := table.Insert(ctx, tc.values)
			require.Error(t, err)
			assert.Contains(t, err.Error(), tc.want)
		})
	}

	count, err := table.Count(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(0), count)
}

func TestInsertWithRowid(t *testing.T) {
	ctx := context.Background()
	_, table := newTestTable(t, "v float[2]")

	require.NoError(t, table.InsertWithRowid(ctx, 42, map[string]any{"v": mustF32(t, 1, 2)}))

	err := table.InsertWithRowid(ctx, 42, map[string]any{"v": mustF32(t, 3, 4)})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "rowid 42 already exists")

	// The auto-assigned rowid continues past explicit ones.
	rowid, err := table.Insert(ctx, map[string]any{"v": mustF32(t, 5, 6)})
	require.NoError(t, err)
	assert.Equal(t, int64(43), rowid)

	rowids, err := table.Rowids(ctx)
	require.NoError(t, err)
	assert.Equal(t, []int64{42, 43}, rowids)
}

func TestUpdate(t *testing.T) {
	ctx := context.Background()
	_, table := newTestTable(t, "v float[2]", "score integer", "+note text")

	rowid, err := table.Insert(ctx, map[string]any{
		"v": mustF32(t, 1, 0), "score": 1, "note": "old",
	})
	require.NoError(t, err)

	require.NoError(t, table.Update(ctx, rowid, map[string]any{
		"v": mustF32(t, 0, 1), "score": 2, "note": "new",
	}))

	row, err := table.Row(ctx, rowid)
	require.NoError(t, err)
	assert.Equal(t, []float32{0, 1}, row.Vectors["v"].Float32s())
	assert.Equal(t, int64(2), row.Values["score"])
	assert.Equal(t, "new", row.Values["note"])

	// Partial updates leave other columns alone.
	require.NoError(t, table.Update(ctx, rowid, map[string]any{"score": 3}))
	row, err = table.Row(ctx, rowid)
	require.NoError(t, err)
	assert.Equal(t, []float32{0, 1}, row.Vectors["v"].Float32s())
	assert.Equal(t, int64(3), row.Values["score"])
}

func TestUpdateUnknownRowid(t *testing.T) {
	ctx := context.Background()
	_, table := newTestTable(t, "v float[2]")

	require.NoError(t, table.InsertWithRowid(ctx, 1, map[string]any{"v": mustF32(t, 1, 2)}))

	err := table.Update(ctx, 99, map[string]any{"v": mustF32(t, 3, 4)})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "no row with rowid 99")

	// A rejected update leaves a validation error before touching storage.
	err = table.Update(ctx, 1, map[string]any{"v": mustF32(t, 1, 2, 3)})
	require.Error(t, err)
	assert.ErrorIs(t, err, vector.ErrTypeMismatch)
	row, err := table.Row(ctx, 1)
	require.NoError(t, err)
	assert.Equal(t, []float32{1, 2}, row.Vectors["v"].Float32s())
}

func TestDelete(t *testing.T) {
	ctx := context.Background()
	_, table := newTestTable(t, "v float[2]", "score integer")

	rowid, err := table.Insert(ctx, map[string]any{"v": mustF32(t, 1, 2), "score": 1})
	require.NoError(t, err)

	require.NoError(t, table.Delete(ctx, rowid))
	count, err := table.Count(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(0), count)

	_, err = table.Row(ctx, rowid)
	require.Error(t, err)

	// Deleting an absent rowid is a no-op.
	require.NoError(t, table.Delete(ctx, 12345))
}

func TestAuxiliaryNullable(t *testing.T) {
	ctx := context.Background()
	_, table := newTestTable(t, "v float[2]", "+note text")

	rowid, err := table.Insert(ctx, map[string]any{"v": mustF32(t, 1, 2)})
	require.NoError(t, err)

	row, err := table.Row(ctx, rowid)
	require.NoError(t, err)
	assert.Nil(t, row.Values["note"])

	require.NoError(t, table.Update(ctx, rowid, map[string]any{"note": "set"}))
	row, err = table.Row(ctx, rowid)
	require.NoError(t, err)
	assert.Equal(t, "set", row.Values["note"])

	require.NoError(t, table.Update(ctx, rowid, map[string]any{"note": nil}))
	row, err = table.Row(ctx, rowid)
	require.NoError(t, err)
	assert.Nil(t, row.Values["note"])
}

func TestCountOnFreshTable(t *testing.T) {
	ctx := context.Background()
	_, table := newTestTable(t, "v float[2]")

	// No shadow tables exist until the first write; reads treat that as empty.
	count, err := table.Count(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(0), count)

	rowids, err := table.Rowids(ctx)
	require.NoError(t, err)
	assert.Empty(t, rowids)
}
