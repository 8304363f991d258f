package vec0

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"math"
	"sort"
	"strings"

	"modernc.org/sqlite/vtab"

	"github.com/viant/vec0/vector"
)

const moduleName = "vec0"

// Module implements the vec0 virtual-table module. One instance serves every
// vec0 table declared on the registered handle.
type Module struct {
	db   *sql.DB
	opts []Option
}

// Register installs the vec0 module on db. Registering twice on the same
// handle is harmless.
func Register(db *sql.DB, opts ...Option) error {
	m := &Module{db: db, opts: opts}
	if err := vtab.RegisterModule(db, moduleName, m); err != nil {
		if strings.Contains(err.Error(), "already registered") {
			return nil
		}
		return err
	}
	return nil
}

// Create handles CREATE VIRTUAL TABLE ... USING vec0(...). Shadow tables are
// created lazily on first write, not here: the declaring connection holds the
// schema lock for the duration of this callback.
func (m *Module) Create(ctx vtab.Context, args []string) (vtab.Table, error) {
	if len(args) < 3 {
		return nil, errors.New("vec0: malformed module arguments")
	}
	schema, err := ParseSchema(args[1], args[2], args[3:])
	if err != nil {
		return nil, err
	}
	if err := ctx.EnableConstraintSupport(); err != nil {
		return nil, err
	}
	if err := ctx.Declare(schema.DeclareSQL()); err != nil {
		return nil, err
	}
	return NewTable(m.db, schema, m.opts...), nil
}

// Connect re-attaches to an existing declaration.
func (m *Module) Connect(ctx vtab.Context, args []string) (vtab.Table, error) {
	return m.Create(ctx, args)
}

// Query plans. IdxNum carries the whole plan: bit 0 selects KNN, bits 1-7
// name the matched vector column by ordinal, and bits from filterMaskShift up
// flag pushed-down equality filters by filterable ordinal.
const (
	planScan           = 0
	planKNN            = 1
	vectorOrdinalShift = 1
	vectorOrdinalMask  = 0x7f
	filterMaskShift    = 8
)

// filterableOrdinal maps a schema column index to its position among the
// filterable columns, or -1.
func (s *Schema) filterableOrdinal(schemaIdx int) int {
	for ordinal, idx := range s.FilterableColumns() {
		if idx == schemaIdx {
			return ordinal
		}
	}
	return -1
}

// BestIndex selects between a KNN plan (vector MATCH ? AND k = ?) and a full
// scan, consuming equality constraints on partition and metadata columns in
// either case. Arguments are ordered match vector, k, then filter values by
// ascending filterable ordinal.
func (t *Table) BestIndex(info *vtab.IndexInfo) error {
	s := t.schema
	var match, kCons *vtab.Constraint
	type pushdown struct {
		cons    *vtab.Constraint
		ordinal int
	}
	var pushed []pushdown
	for i := range info.Constraints {
		c := &info.Constraints[i]
		if !c.Usable || c.Column < 0 {
			continue
		}
		switch {
		case c.Op == vtab.OpMATCH && c.Column < len(s.Columns) && s.Columns[c.Column].Kind == KindVector:
			if match != nil {
				return errors.New("vec0: only one MATCH constraint is allowed per query")
			}
			match = c
		case c.Op == vtab.OpEQ && c.Column == s.kColumn():
			kCons = c
		case c.Op == vtab.OpEQ && c.Column < len(s.Columns):
			if ordinal := s.filterableOrdinal(c.Column); ordinal >= 0 {
				pushed = append(pushed, pushdown{cons: c, ordinal: ordinal})
			}
		}
	}

	nextArg := 0
	idxNum := planScan
	if match != nil {
		if kCons == nil {
			return errors.New("vec0: a k = ? constraint is required for knn queries")
		}
		match.ArgIndex = nextArg
		match.Omit = true
		nextArg++
		kCons.ArgIndex = nextArg
		kCons.Omit = true
		nextArg++
		idxNum = planKNN | t.vectorOrdinal(match.Column)<<vectorOrdinalShift
	}
	sort.Slice(pushed, func(i, j int) bool { return pushed[i].ordinal < pushed[j].ordinal })
	for _, p := range pushed {
		p.cons.ArgIndex = nextArg
		p.cons.Omit = true
		nextArg++
		idxNum |= 1 << (filterMaskShift + p.ordinal)
	}
	info.IdxNum = idxNum
	return nil
}

// Open starts a new cursor over the table.
func (t *Table) Open() (vtab.Cursor, error) {
	return &Cursor{table: t}, nil
}

// Disconnect detaches the in-memory handle; shadow data stays.
func (t *Table) Disconnect() error { return nil }

// Destroy runs inside the host's DROP TABLE transaction, which holds the
// schema lock; dropping the shadow tables from a second connection here would
// block against it. CleanupShadowTables removes them once the drop commits.
func (t *Table) Destroy() error { return nil }

// Cursor iterates rows materialized by Filter. KNN results keep their
// distance order; scans run in rowid order.
type Cursor struct {
	table *Table
	rows  []cursorRow
	pos   int
	knn   bool
	k     int64
}

type cursorRow struct {
	rowid       int64
	values      []any
	distance    float64
	hasDistance bool
}

// Filter executes the plan encoded by BestIndex and materializes the result
// rows.
func (c *Cursor) Filter(idxNum int, _ string, vals []vtab.Value) error {
	ctx := context.Background()
	c.rows = nil
	c.pos = 0
	c.knn = idxNum&planKNN != 0
	c.k = 0

	next := 0
	if c.knn {
		if len(vals) < 2 {
			return errors.New("vec0: knn plan requires a query vector and k")
		}
		next = 2
	}
	filters, err := c.table.filtersFromMask(idxNum>>filterMaskShift, vals[next:])
	if err != nil {
		return err
	}
	if c.knn {
		return c.filterKNN(ctx, idxNum, vals, filters)
	}
	return c.filterScan(ctx, filters)
}

func (c *Cursor) filterKNN(ctx context.Context, idxNum int, vals []vtab.Value, filters []Filter) error {
	s := c.table.schema
	vectors := s.VectorColumns()
	ordinal := (idxNum >> vectorOrdinalShift) & vectorOrdinalMask
	if ordinal >= len(vectors) {
		return fmt.Errorf("vec0: invalid knn plan %#x", idxNum)
	}
	col := s.Columns[vectors[ordinal]]
	query, err := decodeColumnValue(col, any(vals[0]))
	if err != nil {
		return err
	}
	k, _ := asInt64(vals[1])
	matches, err := c.table.Search(ctx, col.Name, query, int(k), filters...)
	if err != nil {
		return err
	}
	c.k = k
	rowids := make([]int64, len(matches))
	distances := make(map[int64]float64, len(matches))
	for i, m := range matches {
		rowids[i] = m.Rowid
		distances[m.Rowid] = m.Distance
	}
	return c.materialize(ctx, rowids, distances)
}

func (c *Cursor) filterScan(ctx context.Context, filters []Filter) error {
	rowids, err := c.table.Rowids(ctx)
	if err != nil {
		return err
	}
	if len(filters) > 0 {
		allowed, err := c.table.filterBitmap(ctx, filters)
		if err != nil {
			return err
		}
		kept := rowids[:0]
		for _, rowid := range rowids {
			if allowed.Contains(uint64(rowid)) {
				kept = append(kept, rowid)
			}
		}
		rowids = kept
	}
	return c.materialize(ctx, rowids, nil)
}

// materialize loads full rows for rowids, preserving their order. Rows
// deleted between planning and fetch are skipped.
func (c *Cursor) materialize(ctx context.Context, rowids []int64, distances map[int64]float64) error {
	t := c.table
	fetched := make(map[int64][]any, len(rowids))
	for start := 0; start < len(rowids); start += t.schema.ChunkSize {
		end := min(start+t.schema.ChunkSize, len(rowids))
		batch, err := t.fetchRows(ctx, rowids[start:end])
		if err != nil {
			return err
		}
		for rowid, values := range batch {
			fetched[rowid] = values
		}
	}
	for _, rowid := range rowids {
		values, ok := fetched[rowid]
		if !ok {
			continue
		}
		row := cursorRow{rowid: rowid, values: values}
		if distances != nil {
			if d, ok := distances[rowid]; ok {
				row.distance = d
				row.hasDistance = true
			}
		}
		c.rows = append(c.rows, row)
	}
	return nil
}

// filtersFromMask rebuilds the pushed-down filters from the plan mask and the
// trailing Filter arguments.
func (t *Table) filtersFromMask(mask int, vals []vtab.Value) ([]Filter, error) {
	if mask == 0 {
		return nil, nil
	}
	s := t.schema
	filterable := s.FilterableColumns()
	var filters []Filter
	next := 0
	for ordinal := 0; ordinal < maxFilterableColumns; ordinal++ {
		if mask&(1<<ordinal) == 0 {
			continue
		}
		if ordinal >= len(filterable) || next >= len(vals) {
			return nil, fmt.Errorf("vec0: invalid filter plan %#x", mask)
		}
		filters = append(filters, Filter{
			Column: s.Columns[filterable[ordinal]].Name,
			Op:     FilterEq,
			Value:  any(vals[next]),
		})
		next++
	}
	return filters, nil
}

func (c *Cursor) Next() error {
	c.pos++
	return nil
}

func (c *Cursor) Eof() bool {
	return c.pos >= len(c.rows)
}

// Column serves the declared columns plus the hidden distance and k columns.
// Vector values are returned in their blob encodings; distance and k are NULL
// outside KNN queries.
func (c *Cursor) Column(col int) (vtab.Value, error) {
	if c.pos >= len(c.rows) {
		return nil, errors.New("vec0: cursor is exhausted")
	}
	row := c.rows[c.pos]
	s := c.table.schema
	switch {
	case col >= 0 && col < len(s.Columns):
		value := row.values[col]
		if vec, ok := value.(vector.Vector); ok {
			return vec.Encode(), nil
		}
		return value, nil
	case col == s.distanceColumn():
		if row.hasDistance {
			return row.distance, nil
		}
		return nil, nil
	case col == s.kColumn():
		if c.knn {
			return c.k, nil
		}
		return nil, nil
	}
	return nil, fmt.Errorf("vec0: column index %d out of range", col)
}

func (c *Cursor) Rowid() (int64, error) {
	if c.pos >= len(c.rows) {
		return 0, errors.New("vec0: cursor is exhausted")
	}
	return c.rows[c.pos].rowid, nil
}

func (c *Cursor) Close() error {
	c.rows = nil
	return nil
}

func asInt64(v vtab.Value) (int64, bool) {
	switch x := v.(type) {
	case int64:
		return x, true
	case int:
		return int64(x), true
	case float64:
		if x == math.Trunc(x) {
			return int64(x), true
		}
	}
	return 0, false
}
