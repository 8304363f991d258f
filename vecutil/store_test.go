package vecutil

import (
	"context"
	"database/sql"
	"fmt"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/viant/vec0/engine"
	"github.com/viant/vec0/vec0"
)

var vocab = map[string][]float32{
	"red":     {1, 0, 0},
	"crimson": {0.9, 0.1, 0},
	"blue":    {0, 0, 1},
	"sky":     {0, 0.1, 0.9},
	"scarlet": {0.97, 0.03, 0},
}

func vocabEmbed(_ context.Context, text string) ([]float32, error) {
	if v, ok := vocab[text]; ok {
		return v, nil
	}
	return nil, fmt.Errorf("no embedding for %q", text)
}

func openDB(t *testing.T) *sql.DB {
	t.Helper()
	db, err := engine.Open(filepath.Join(t.TempDir(), "store.sqlite"))
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	return db
}

func newStore(t *testing.T, decls []string, opts ...StoreOption) *Store {
	t.Helper()
	schema, err := vec0.ParseSchema("", "docs", decls)
	require.NoError(t, err)
	store, err := New(vec0.NewTable(openDB(t), schema), vocabEmbed, opts...)
	require.NoError(t, err)
	return store
}

func TestStoreUpsertAndGet(t *testing.T) {
	ctx := context.Background()
	store := newStore(t, []string{"v float[3]", "+body text"})

	require.NoError(t, store.Upsert(ctx, Document{Rowid: 1, Text: "red"}))
	doc, err := store.Get(ctx, 1)
	require.NoError(t, err)
	assert.Equal(t, "red", doc.Text)
	assert.Empty(t, doc.Fields)

	// Upserting the same rowid takes the update path.
	require.NoError(t, store.Upsert(ctx, Document{Rowid: 1, Text: "blue"}))
	doc, err = store.Get(ctx, 1)
	require.NoError(t, err)
	assert.Equal(t, "blue", doc.Text)

	n, err := store.Table().Count(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)

	row, err := store.Table().Row(ctx, 1)
	require.NoError(t, err)
	assert.Equal(t, []float32{0, 0, 1}, row.Vectors["v"].Float32s())
}

func TestStoreAdd(t *testing.T) {
	ctx := context.Background()
	store := newStore(t, []string{"v float[3]", "+body text"})

	first, err := store.Add(ctx, Document{Text: "red"})
	require.NoError(t, err)
	second, err := store.Add(ctx, Document{Text: "blue"})
	require.NoError(t, err)
	assert.Positive(t, first)
	assert.NotEqual(t, first, second)

	n, err := store.Table().Count(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(2), n)
}

func TestStoreTextColumnSelection(t *testing.T) {
	ctx := context.Background()

	t.Run("default is the first text column", func(t *testing.T) {
		store := newStore(t, []string{"v float[3]", "genre text", "+body text"})
		require.NoError(t, store.Upsert(ctx, Document{
			Rowid: 1, Text: "red", Fields: map[string]any{"body": "note"},
		}))
		doc, err := store.Get(ctx, 1)
		require.NoError(t, err)
		assert.Equal(t, "red", doc.Text)
		assert.Equal(t, map[string]any{"body": "note"}, doc.Fields)
	})

	t.Run("override", func(t *testing.T) {
		store := newStore(t, []string{"v float[3]", "genre text", "+body text"},
			WithTextColumn("body"))
		require.NoError(t, store.Upsert(ctx, Document{
			Rowid: 2, Text: "blue", Fields: map[string]any{"genre": "colors"},
		}))
		doc, err := store.Get(ctx, 2)
		require.NoError(t, err)
		assert.Equal(t, "blue", doc.Text)
		assert.Equal(t, map[string]any{"genre": "colors"}, doc.Fields)
	})

	t.Run("disabled", func(t *testing.T) {
		store := newStore(t, []string{"v float[3]", "genre text"}, WithTextColumn(""))
		require.NoError(t, store.Upsert(ctx, Document{
			Rowid: 3, Text: "red", Fields: map[string]any{"genre": "colors"},
		}))
		doc, err := store.Get(ctx, 3)
		require.NoError(t, err)
		assert.Empty(t, doc.Text)
		assert.Equal(t, map[string]any{"genre": "colors"}, doc.Fields)
	})
}

func TestStoreSearch(t *testing.T) {
	ctx := context.Background()
	store := newStore(t, []string{"v float[3]", "label text"})

	for rowid, word := range map[int64]string{1: "red", 2: "crimson", 3: "blue", 4: "sky"} {
		require.NoError(t, store.Upsert(ctx, Document{Rowid: rowid, Text: word}))
	}

	matches, err := store.Search(ctx, "scarlet", 2)
	require.NoError(t, err)
	require.Len(t, matches, 2)
	assert.Equal(t, int64(1), matches[0].Rowid)
	assert.Equal(t, "red", matches[0].Text)
	assert.Equal(t, int64(2), matches[1].Rowid)
	assert.Equal(t, "crimson", matches[1].Text)
	assert.Less(t, matches[0].Distance, matches[1].Distance)
}

func TestStoreSearchWithFilter(t *testing.T) {
	ctx := context.Background()
	store := newStore(t, []string{"v float[3]", "label text"})

	for rowid, word := range map[int64]string{1: "red", 2: "crimson", 3: "blue"} {
		require.NoError(t, store.Upsert(ctx, Document{Rowid: rowid, Text: word}))
	}

	matches, err := store.Search(ctx, "scarlet", 3,
		vec0.Filter{Column: "label", Op: vec0.FilterEq, Value: "blue"})
	require.NoError(t, err)
	require.Len(t, matches, 1)
	assert.Equal(t, int64(3), matches[0].Rowid)
	assert.Equal(t, "blue", matches[0].Text)
}

func TestStoreDelete(t *testing.T) {
	ctx := context.Background()
	store := newStore(t, []string{"v float[3]", "label text"})

	require.NoError(t, store.Upsert(ctx,
		Document{Rowid: 1, Text: "red"},
		Document{Rowid: 2, Text: "blue"}))
	require.NoError(t, store.Delete(ctx, 1, 99))

	n, err := store.Table().Count(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)

	_, err = store.Get(ctx, 1)
	assert.ErrorContains(t, err, "no row with rowid 1")
	_, err = store.Get(ctx, 2)
	assert.NoError(t, err)
}

func TestStoreConstructorValidation(t *testing.T) {
	schema, err := vec0.ParseSchema("", "docs", []string{"v float[3]", "label text"})
	require.NoError(t, err)
	table := vec0.NewTable(openDB(t), schema)

	_, err = New(nil, vocabEmbed)
	assert.ErrorContains(t, err, "table is nil")
	_, err = New(table, nil)
	assert.ErrorContains(t, err, "EmbedFunc is nil")
	_, err = New(table, vocabEmbed, WithVectorColumn("label"))
	assert.ErrorContains(t, err, `column "label" cannot hold float32 embeddings`)
	_, err = New(table, vocabEmbed, WithVectorColumn("missing"))
	assert.ErrorContains(t, err, "no such column: missing")
	_, err = New(table, vocabEmbed, WithTextColumn("v"))
	assert.ErrorContains(t, err, `column "v" cannot hold document text`)
	_, err = New(table, vocabEmbed, WithTextColumn("missing"))
	assert.ErrorContains(t, err, "no such column: missing")

	bits, err := vec0.ParseSchema("", "hashes", []string{"b bit[8]"})
	require.NoError(t, err)
	_, err = New(vec0.NewTable(openDB(t), bits), vocabEmbed)
	assert.ErrorContains(t, err, `table "hashes" has no float32 vector column`)
}

func TestStoreFieldCollision(t *testing.T) {
	ctx := context.Background()
	store := newStore(t, []string{"v float[3]", "label text"})

	err := store.Upsert(ctx, Document{
		Rowid: 1, Text: "red", Fields: map[string]any{"v": "x"},
	})
	assert.ErrorContains(t, err, `field "v" collides with a store column`)
}

func TestStoreEmbedError(t *testing.T) {
	ctx := context.Background()
	store := newStore(t, []string{"v float[3]", "label text"})

	err := store.Upsert(ctx, Document{Rowid: 1, Text: "chartreuse"})
	assert.ErrorContains(t, err, `no embedding for "chartreuse"`)
	_, err = store.Search(ctx, "chartreuse", 1)
	assert.ErrorContains(t, err, `no embedding for "chartreuse"`)
}

func TestStoreOpenThroughVirtualTable(t *testing.T) {
	ctx := context.Background()
	db := openDB(t)
	db.SetMaxOpenConns(1)
	require.NoError(t, vec0.Register(db))

	_, err := db.ExecContext(ctx, "CREATE VIRTUAL TABLE docs USING vec0(v float[3], label text)")
	if err != nil && strings.Contains(err.Error(), "no such module") {
		t.Skipf("virtual table support unavailable: %v", err)
	}
	require.NoError(t, err)

	store, err := Open(ctx, db, "docs", vocabEmbed)
	require.NoError(t, err)
	require.NoError(t, store.Upsert(ctx, Document{Rowid: 1, Text: "red"}))

	matches, err := store.Search(ctx, "scarlet", 1)
	require.NoError(t, err)
	require.Len(t, matches, 1)
	assert.Equal(t, int64(1), matches[0].Rowid)
	assert.Equal(t, "red", matches[0].Text)
}
