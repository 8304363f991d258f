package vec0

import (
	"container/heap"
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/RoaringBitmap/roaring/v2/roaring64"
	"github.com/viant/vec0/vector"
)

// FilterOp is a comparison applied to a partition or metadata column during a
// KNN query.
type FilterOp uint8

const (
	FilterEq FilterOp = iota + 1
	FilterNe
	FilterGt
	FilterGe
	FilterLt
	FilterLe
	FilterIn
)

func (op FilterOp) sql() (string, error) {
	switch op {
	case FilterEq:
		return "=", nil
	case FilterNe:
		return "<>", nil
	case FilterGt:
		return ">", nil
	case FilterGe:
		return ">=", nil
	case FilterLt:
		return "<", nil
	case FilterLe:
		return "<=", nil
	}
	return "", fmt.Errorf("vec0: unsupported filter operator %d", op)
}

// Filter restricts a KNN query to rows whose column satisfies the
// comparison. FilterIn matches any of Values; the other operators use Value.
type Filter struct {
	Column string
	Op     FilterOp
	Value  any
	Values []any
}

// Match is one KNN result.
type Match struct {
	Rowid    int64
	Distance float64
}

const errKNonPositive = "k value in knn queries must be greater than 0."

// Search returns the k nearest stored vectors to query under the column's
// declared distance metric, ordered by ascending distance with ties broken by
// ascending rowid. Filters narrow the candidate set before any distance is
// computed; when they match nothing the result is empty, never an error.
func (t *Table) Search(ctx context.Context, column string, query vector.Vector, k int, filters ...Filter) ([]Match, error) {
	if k <= 0 {
		return nil, errors.New(errKNonPositive)
	}
	idx := t.schema.ColumnIndex(column)
	if idx < 0 {
		return nil, fmt.Errorf("vec0: no such column: %s", column)
	}
	col := t.schema.Columns[idx]
	if col.Kind != KindVector {
		return nil, fmt.Errorf("vec0: %q is not a vector column", column)
	}
	if query.IsZero() {
		return nil, fmt.Errorf("%w for knn query on column %q", vector.ErrNull, column)
	}
	if query.Type() != col.Type {
		return nil, fmt.Errorf("%w: knn query on column %q expects a %s vector, got %s",
			vector.ErrTypeMismatch, column, col.Type, query.Type())
	}
	if query.Dimensions() != col.Dims {
		return nil, fmt.Errorf("%w: knn query on column %q expects %d dimensions, got %d",
			vector.ErrTypeMismatch, column, col.Dims, query.Dimensions())
	}

	started := time.Now()
	allowed, err := t.filterBitmap(ctx, filters)
	if err != nil {
		return nil, err
	}
	if allowed != nil && allowed.IsEmpty() {
		return nil, nil
	}

	ordinal := t.vectorOrdinal(idx)
	candidates := make(neighborHeap, 0, k)
	scanned := 0
	err = t.scanVectors(ctx, ordinal, func(rowid int64, raw []byte) error {
		if allowed != nil && !allowed.Contains(uint64(rowid)) {
			return nil
		}
		candidate, err := vector.FromBlob(raw, col.Type, col.Dims)
		if err != nil {
			return fmt.Errorf("vec0: stored vector for rowid %d column %q: %w", rowid, column, err)
		}
		dist, err := metricDistance(col.Metric, query, candidate)
		if err != nil {
			return fmt.Errorf("vec0: rowid %d: %w", rowid, err)
		}
		scanned++
		candidates.consider(k, neighbor{rowid: rowid, distance: dist})
		return nil
	})
	if err != nil {
		return nil, err
	}

	matches := make([]Match, len(candidates))
	for i, n := range candidates {
		matches[i] = Match{Rowid: n.rowid, Distance: n.distance}
	}
	sort.Slice(matches, func(i, j int) bool {
		if matches[i].Distance != matches[j].Distance {
			return matches[i].Distance < matches[j].Distance
		}
		return matches[i].Rowid < matches[j].Rowid
	})
	t.log.Debug("vec0 knn",
		"table", t.schema.Name, "column", column, "k", k,
		"filters", len(filters), "scanned", scanned,
		"matches", len(matches), "elapsed", time.Since(started))
	return matches, nil
}

func (t *Table) vectorOrdinal(schemaIdx int) int {
	for ordinal, idx := range t.schema.VectorColumns() {
		if idx == schemaIdx {
			return ordinal
		}
	}
	return -1
}

func metricDistance(m Metric, query, candidate vector.Vector) (float64, error) {
	switch m {
	case MetricCosine:
		return vector.CosineDistance(query, candidate)
	case MetricHamming:
		return vector.HammingDistance(query, candidate)
	}
	return vector.L2Distance(query, candidate)
}

// scanVectors walks one vector shadow table in rowid order, chunk_size rows
// per batch, handing raw payloads to fn. Missing shadow tables scan as empty.
func (t *Table) scanVectors(ctx context.Context, ordinal int, fn func(rowid int64, raw []byte) error) error {
	table := t.schema.VectorTable(ordinal)
	chunk := t.schema.ChunkSize
	firstQuery := fmt.Sprintf("SELECT rowid, vector FROM %s ORDER BY rowid LIMIT %d", table, chunk)
	contQuery := fmt.Sprintf("SELECT rowid, vector FROM %s WHERE rowid > ? ORDER BY rowid LIMIT %d", table, chunk)

	var last int64
	first := true
	for {
		var query string
		var args []any
		if first {
			query = firstQuery
		} else {
			query = contQuery
			args = []any{last}
		}
		n, err := t.scanVectorBatch(ctx, query, args, &last, fn)
		if err != nil {
			return err
		}
		if first && n == 0 {
			return nil
		}
		first = false
		if n < chunk {
			return nil
		}
	}
}

func (t *Table) scanVectorBatch(ctx context.Context, query string, args []any, last *int64, fn func(rowid int64, raw []byte) error) (int, error) {
	rows, err := t.db.QueryContext(ctx, query, args...)
	if isMissingShadow(err) {
		return 0, nil
	}
	if err != nil {
		return 0, err
	}
	defer rows.Close()
	n := 0
	for rows.Next() {
		var rowid int64
		var raw []byte
		if err := rows.Scan(&rowid, &raw); err != nil {
			return n, err
		}
		n++
		*last = rowid
		if err := fn(rowid, raw); err != nil {
			return n, err
		}
	}
	return n, rows.Err()
}

// filterBitmap evaluates metadata filters against the metadata shadow table
// and collects the surviving rowids. A nil bitmap means no filters were
// given; an empty bitmap means the filters matched nothing.
func (t *Table) filterBitmap(ctx context.Context, filters []Filter) (*roaring64.Bitmap, error) {
	if len(filters) == 0 {
		return nil, nil
	}
	s := t.schema
	var conds []string
	var args []any
	for _, f := range filters {
		idx := s.ColumnIndex(f.Column)
		if idx < 0 {
			return nil, fmt.Errorf("vec0: no such column: %s", f.Column)
		}
		col := s.Columns[idx]
		if col.Kind != KindPartition && col.Kind != KindMetadata {
			return nil, fmt.Errorf("vec0: column %q cannot be used in a knn filter", f.Column)
		}
		if f.Op == FilterIn {
			if len(f.Values) == 0 {
				return roaring64.New(), nil
			}
			coerced := make([]any, len(f.Values))
			for i, v := range f.Values {
				cv, err := coerceScalar(col, v)
				if err != nil {
					return nil, err
				}
				coerced[i] = cv
			}
			conds = append(conds, fmt.Sprintf("%s IN (%s)", quoteIdent(col.Name), placeholders(len(coerced))))
			args = append(args, coerced...)
			continue
		}
		op, err := f.Op.sql()
		if err != nil {
			return nil, err
		}
		value, err := coerceScalar(col, f.Value)
		if err != nil {
			return nil, err
		}
		conds = append(conds, fmt.Sprintf("%s %s ?", quoteIdent(col.Name), op))
		args = append(args, value)
	}

	bitmap := roaring64.New()
	query := fmt.Sprintf("SELECT rowid FROM %s WHERE %s", s.MetadataTable(), strings.Join(conds, " AND "))
	rows, err := t.db.QueryContext(ctx, query, args...)
	if isMissingShadow(err) {
		return bitmap, nil
	}
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	for rows.Next() {
		var rowid int64
		if err := rows.Scan(&rowid); err != nil {
			return nil, err
		}
		bitmap.Add(uint64(rowid))
	}
	return bitmap, rows.Err()
}

// neighbor heap: a bounded max-heap keyed by distance with rowid as the tie
// break, so the root is always the candidate to evict.

type neighbor struct {
	rowid    int64
	distance float64
}

type neighborHeap []neighbor

func (h neighborHeap) Len() int { return len(h) }

func (h neighborHeap) Less(i, j int) bool {
	if h[i].distance != h[j].distance {
		return h[i].distance > h[j].distance
	}
	return h[i].rowid > h[j].rowid
}

func (h neighborHeap) Swap(i, j int) { h[i], h[j] = h[j], h[i] }

func (h *neighborHeap) Push(x any) { *h = append(*h, x.(neighbor)) }

func (h *neighborHeap) Pop() any {
	old := *h
	n := len(old)
	x := old[n-1]
	*h = old[:n-1]
	return x
}

// consider keeps the k best neighbors seen so far.
func (h *neighborHeap) consider(k int, n neighbor) {
	if h.Len() < k {
		heap.Push(h, n)
		return
	}
	top := (*h)[0]
	if n.distance < top.distance || (n.distance == top.distance && n.rowid < top.rowid) {
		(*h)[0] = n
		heap.Fix(h, 0)
	}
}
