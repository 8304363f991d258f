// Package vecutil layers a small document store on top of a vec0 table for
// retrieval-style workloads. Documents are identified by rowid; their text is
// embedded through a caller-supplied EmbedFunc and stored in one float32
// vector column, so the core vec0 packages stay embedding-agnostic.
package vecutil

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/viant/vec0/vec0"
	"github.com/viant/vec0/vector"
)

// EmbedFunc converts free-form text into an embedding.
//
// Implementations can call any embedding provider (OpenAI, a local model,
// another cloud API) as long as they return a slice of float32 values.
type EmbedFunc func(ctx context.Context, text string) ([]float32, error)

// Store wraps a vec0 table with text-level document operations.
type Store struct {
	table   *vec0.Table
	embed   EmbedFunc
	column  string // vector column receiving embeddings
	text    string // scalar column holding the raw text, "" when not stored
	textSet bool
}

// StoreOption configures a Store.
type StoreOption func(*Store)

// WithVectorColumn selects the vector column that receives embeddings. The
// default is the first float32 vector column in the declaration.
func WithVectorColumn(name string) StoreOption {
	return func(s *Store) { s.column = name }
}

// WithTextColumn selects the metadata or auxiliary column that stores the
// document text. The default is the first text column in the declaration;
// WithTextColumn("") disables text storage entirely.
func WithTextColumn(name string) StoreOption {
	return func(s *Store) { s.text = name; s.textSet = true }
}

// New builds a Store over an open table handle.
func New(t *vec0.Table, embed EmbedFunc, opts ...StoreOption) (*Store, error) {
	if t == nil {
		return nil, fmt.Errorf("vecutil: table is nil")
	}
	if embed == nil {
		return nil, fmt.Errorf("vecutil: EmbedFunc is nil")
	}
	s := &Store{table: t, embed: embed}
	for _, opt := range opts {
		opt(s)
	}
	schema := t.Schema()
	if s.column == "" {
		s.column = firstFloat32Column(schema)
		if s.column == "" {
			return nil, fmt.Errorf("vecutil: table %q has no float32 vector column", schema.Name)
		}
	} else if err := checkVectorColumn(schema, s.column); err != nil {
		return nil, err
	}
	if !s.textSet {
		s.text = firstTextColumn(schema)
	} else if s.text != "" {
		if err := checkTextColumn(schema, s.text); err != nil {
			return nil, err
		}
	}
	return s, nil
}

// Open opens the named vec0 virtual table and builds a Store over it.
func Open(ctx context.Context, db *sql.DB, table string, embed EmbedFunc, opts ...StoreOption) (*Store, error) {
	if db == nil {
		return nil, fmt.Errorf("vecutil: db is nil")
	}
	t, err := vec0.OpenTable(ctx, db, table)
	if err != nil {
		return nil, err
	}
	return New(t, embed, opts...)
}

// Table exposes the underlying handle for operations beyond the document
// surface.
func (s *Store) Table() *vec0.Table { return s.table }

// Document is one stored text with its rowid and any extra column values.
type Document struct {
	Rowid  int64
	Text   string
	Fields map[string]any
}

// Match is one similarity hit: the stored document and its distance to the
// query under the vector column's declared metric.
type Match struct {
	Document
	Distance float64
}

// Add embeds a document's text and inserts it under a fresh rowid, which is
// returned. The document's own Rowid is ignored.
func (s *Store) Add(ctx context.Context, doc Document) (int64, error) {
	values, err := s.rowValues(ctx, doc)
	if err != nil {
		return 0, err
	}
	return s.table.Insert(ctx, values)
}

// Upsert embeds each document's text and writes it under its rowid. On an
// existing row the vector, the text, and every supplied field are replaced;
// columns not named keep their values.
func (s *Store) Upsert(ctx context.Context, docs ...Document) error {
	for _, d := range docs {
		values, err := s.rowValues(ctx, d)
		if err != nil {
			return err
		}
		exists, err := s.table.Exists(ctx, d.Rowid)
		if err != nil {
			return err
		}
		if exists {
			err = s.table.Update(ctx, d.Rowid, values)
		} else {
			err = s.table.InsertWithRowid(ctx, d.Rowid, values)
		}
		if err != nil {
			return err
		}
	}
	return nil
}

// Delete removes documents by rowid. Unknown rowids are ignored.
func (s *Store) Delete(ctx context.Context, rowids ...int64) error {
	for _, rowid := range rowids {
		if err := s.table.Delete(ctx, rowid); err != nil {
			return err
		}
	}
	return nil
}

// Get reads one document back by rowid.
func (s *Store) Get(ctx context.Context, rowid int64) (Document, error) {
	row, err := s.table.Row(ctx, rowid)
	if err != nil {
		return Document{}, err
	}
	return s.document(row), nil
}

// Search embeds the query text and returns the k nearest documents, closest
// first. Filters narrow the candidate set the same way they do on
// Table.Search.
func (s *Store) Search(ctx context.Context, query string, k int, filters ...vec0.Filter) ([]Match, error) {
	emb, err := s.embed(ctx, query)
	if err != nil {
		return nil, err
	}
	vec, err := vector.FromFloat32s(emb)
	if err != nil {
		return nil, err
	}
	matches, err := s.table.Search(ctx, s.column, vec, k, filters...)
	if err != nil {
		return nil, err
	}
	out := make([]Match, 0, len(matches))
	for _, m := range matches {
		row, err := s.table.Row(ctx, m.Rowid)
		if err != nil {
			return nil, err
		}
		out = append(out, Match{Document: s.document(row), Distance: m.Distance})
	}
	return out, nil
}

// rowValues assembles the column values for one document, embedding its text.
func (s *Store) rowValues(ctx context.Context, d Document) (map[string]any, error) {
	emb, err := s.embed(ctx, d.Text)
	if err != nil {
		return nil, err
	}
	vec, err := vector.FromFloat32s(emb)
	if err != nil {
		return nil, err
	}
	values := make(map[string]any, len(d.Fields)+2)
	for name, v := range d.Fields {
		if name == s.column || (s.text != "" && name == s.text) {
			return nil, fmt.Errorf("vecutil: field %q collides with a store column", name)
		}
		values[name] = v
	}
	values[s.column] = vec
	if s.text != "" {
		values[s.text] = d.Text
	}
	return values, nil
}

func (s *Store) document(row *vec0.Row) Document {
	doc := Document{Rowid: row.Rowid, Fields: make(map[string]any, len(row.Values))}
	for name, v := range row.Values {
		if s.text != "" && name == s.text {
			if text, ok := v.(string); ok {
				doc.Text = text
			}
			continue
		}
		doc.Fields[name] = v
	}
	return doc
}

func firstFloat32Column(s *vec0.Schema) string {
	for _, c := range s.Columns {
		if c.Kind == vec0.KindVector && c.Type == vector.TypeFloat32 {
			return c.Name
		}
	}
	return ""
}

func checkVectorColumn(s *vec0.Schema, name string) error {
	idx := s.ColumnIndex(name)
	if idx < 0 {
		return fmt.Errorf("vecutil: no such column: %s", name)
	}
	c := s.Columns[idx]
	if c.Kind != vec0.KindVector || c.Type != vector.TypeFloat32 {
		return fmt.Errorf("vecutil: column %q cannot hold float32 embeddings", name)
	}
	return nil
}

// firstTextColumn skips partition keys: they label shards, not documents.
func firstTextColumn(s *vec0.Schema) string {
	for _, c := range s.Columns {
		if (c.Kind == vec0.KindMetadata || c.Kind == vec0.KindAuxiliary) && c.Scalar == vec0.ScalarText {
			return c.Name
		}
	}
	return ""
}

func checkTextColumn(s *vec0.Schema, name string) error {
	idx := s.ColumnIndex(name)
	if idx < 0 {
		return fmt.Errorf("vecutil: no such column: %s", name)
	}
	c := s.Columns[idx]
	if (c.Kind != vec0.KindMetadata && c.Kind != vec0.KindAuxiliary) || c.Scalar != vec0.ScalarText {
		return fmt.Errorf("vecutil: column %q cannot hold document text", name)
	}
	return nil
}
