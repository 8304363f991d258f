// Package vecadmin exposes maintenance commands for vec0 virtual tables
// through an administrative virtual table:
//
//	CREATE VIRTUAL TABLE admin USING vec0_admin();
//	SELECT op, detail FROM admin WHERE op MATCH 'check:items';
//	SELECT op, detail FROM admin WHERE op MATCH 'stats:items';
//
// check walks the shadow tables of the named vec0 table and reports one row
// per inconsistency (a registry rowid with no vector, an orphaned shadow row,
// a payload whose size disagrees with the declared column), or a single ok
// row. stats reports row counts and payload sizes per shadow table.
package vecadmin

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"

	"modernc.org/sqlite/vtab"

	"github.com/viant/vec0/vec0"
	"github.com/viant/vec0/vector"
)

const moduleName = "vec0_admin"

const (
	colOp     = 0
	colDetail = 1
)

// Module implements the vec0_admin virtual-table module.
type Module struct {
	db *sql.DB
}

// Register installs the vec0_admin module on db. Registering twice on the
// same handle is harmless.
func Register(db *sql.DB) error {
	if err := vtab.RegisterModule(db, moduleName, &Module{db: db}); err != nil {
		if strings.Contains(err.Error(), "already registered") {
			return nil
		}
		return err
	}
	return nil
}

// Create declares the two-column command surface. The table owns no shadow
// state of its own.
func (m *Module) Create(ctx vtab.Context, args []string) (vtab.Table, error) {
	if len(args) < 3 {
		return nil, errors.New("vec0_admin: malformed module arguments")
	}
	if err := ctx.EnableConstraintSupport(); err != nil {
		return nil, err
	}
	if err := ctx.Declare("CREATE TABLE x(op TEXT, detail TEXT)"); err != nil {
		return nil, err
	}
	return &Table{db: m.db}, nil
}

// Connect re-attaches to an existing declaration.
func (m *Module) Connect(ctx vtab.Context, args []string) (vtab.Table, error) {
	return m.Create(ctx, args)
}

// Table dispatches admin commands against the registered handle.
type Table struct {
	db *sql.DB
}

// BestIndex consumes a MATCH constraint on the op column as the command
// string. Without one the scan yields no rows.
func (t *Table) BestIndex(info *vtab.IndexInfo) error {
	for i := range info.Constraints {
		c := &info.Constraints[i]
		if !c.Usable || c.Column != colOp || c.Op != vtab.OpMATCH {
			continue
		}
		c.ArgIndex = 0
		c.Omit = true
		info.IdxNum = 1
		break
	}
	return nil
}

func (t *Table) Open() (vtab.Cursor, error) { return &Cursor{table: t}, nil }

func (t *Table) Disconnect() error { return nil }

func (t *Table) Destroy() error { return nil }

// Cursor iterates the result rows of one admin command.
type Cursor struct {
	table *Table
	rows  []adminRow
	pos   int
}

type adminRow struct {
	op     string
	detail string
}

// Filter parses and runs the command bound by BestIndex.
func (c *Cursor) Filter(idxNum int, _ string, vals []vtab.Value) error {
	c.rows = nil
	c.pos = 0
	if idxNum != 1 || len(vals) == 0 {
		return nil
	}
	cmd, ok := vals[0].(string)
	if !ok {
		return fmt.Errorf("vec0_admin: expected a command string, got %T", vals[0])
	}
	verb, table, ok := strings.Cut(cmd, ":")
	if !ok || table == "" {
		return fmt.Errorf("vec0_admin: malformed command %q, want check:<table> or stats:<table>", cmd)
	}
	ctx := context.Background()
	var (
		rows []adminRow
		err  error
	)
	switch verb {
	case "check":
		rows, err = runCheck(ctx, c.table.db, table)
	case "stats":
		rows, err = runStats(ctx, c.table.db, table)
	default:
		return fmt.Errorf("vec0_admin: unknown command %q", verb)
	}
	if err != nil {
		return err
	}
	c.rows = rows
	return nil
}

func (c *Cursor) Next() error {
	c.pos++
	return nil
}

func (c *Cursor) Eof() bool {
	return c.pos >= len(c.rows)
}

func (c *Cursor) Column(col int) (vtab.Value, error) {
	if c.pos >= len(c.rows) {
		return nil, errors.New("vec0_admin: cursor is exhausted")
	}
	switch col {
	case colOp:
		return c.rows[c.pos].op, nil
	case colDetail:
		return c.rows[c.pos].detail, nil
	}
	return nil, fmt.Errorf("vec0_admin: column index %d out of range", col)
}

func (c *Cursor) Rowid() (int64, error) {
	if c.pos >= len(c.rows) {
		return 0, errors.New("vec0_admin: cursor is exhausted")
	}
	return int64(c.pos), nil
}

func (c *Cursor) Close() error {
	c.rows = nil
	c.pos = 0
	return nil
}

// runCheck cross-references the shadow tables of a vec0 table. The rowid
// registry is the source of truth: every registry rowid needs a payload of
// the declared size in every vector shadow, and no shadow may hold rowids
// the registry does not know.
func runCheck(ctx context.Context, db *sql.DB, name string) ([]adminRow, error) {
	schema, err := vec0.LoadSchema(ctx, db, name)
	if err != nil {
		return nil, err
	}
	registry, err := shadowRowids(ctx, db, schema.RowidsTable())
	if err != nil {
		return nil, err
	}
	present := make(map[int64]bool, len(registry))
	for _, rowid := range registry {
		present[rowid] = true
	}

	var findings []adminRow
	for ordinal, idx := range schema.VectorColumns() {
		col := schema.Columns[idx]
		want := vector.PayloadSize(col.Type, col.Dims)
		shadow := schema.VectorTable(ordinal)
		seen, malformed, orphans, err := scanVectorShadow(ctx, db, shadow, want, present)
		if err != nil {
			return nil, err
		}
		findings = append(findings, orphans...)
		findings = append(findings, malformed...)
		for _, rowid := range registry {
			if !seen[rowid] {
				findings = append(findings, adminRow{
					op:     "missing",
					detail: fmt.Sprintf("rowid %d has no %q vector", rowid, col.Name),
				})
			}
		}
	}
	if len(schema.FilterableColumns()) > 0 {
		orphans, err := orphanFindings(ctx, db, schema.MetadataTable(), present)
		if err != nil {
			return nil, err
		}
		findings = append(findings, orphans...)
	}
	if len(schema.AuxiliaryColumns()) > 0 {
		orphans, err := orphanFindings(ctx, db, schema.AuxiliaryTable(), present)
		if err != nil {
			return nil, err
		}
		findings = append(findings, orphans...)
	}
	if len(findings) == 0 {
		return []adminRow{{op: "ok", detail: fmt.Sprintf("%d rows", len(registry))}}, nil
	}
	return findings, nil
}

// scanVectorShadow reads one vector shadow table and classifies its rows.
func scanVectorShadow(ctx context.Context, db *sql.DB, shadow string, want int, present map[int64]bool) (seen map[int64]bool, malformed, orphans []adminRow, err error) {
	seen = make(map[int64]bool)
	rows, err := db.QueryContext(ctx, fmt.Sprintf("SELECT rowid, vector FROM %s ORDER BY rowid", shadow))
	if err != nil {
		if missingTable(err) {
			return seen, nil, nil, nil
		}
		return nil, nil, nil, err
	}
	defer rows.Close()
	for rows.Next() {
		var rowid int64
		var payload []byte
		if err := rows.Scan(&rowid, &payload); err != nil {
			return nil, nil, nil, err
		}
		seen[rowid] = true
		if !present[rowid] {
			orphans = append(orphans, adminRow{
				op:     "orphan",
				detail: fmt.Sprintf("%s rowid %d is not in the rowid registry", shadow, rowid),
			})
		}
		if len(payload) != want {
			malformed = append(malformed, adminRow{
				op:     "malformed",
				detail: fmt.Sprintf("%s rowid %d holds %d bytes, want %d", shadow, rowid, len(payload), want),
			})
		}
	}
	if err := rows.Err(); err != nil {
		return nil, nil, nil, err
	}
	return seen, malformed, orphans, nil
}

// orphanFindings reports shadow rowids missing from the registry.
func orphanFindings(ctx context.Context, db *sql.DB, shadow string, present map[int64]bool) ([]adminRow, error) {
	rowids, err := shadowRowids(ctx, db, shadow)
	if err != nil {
		return nil, err
	}
	var findings []adminRow
	for _, rowid := range rowids {
		if !present[rowid] {
			findings = append(findings, adminRow{
				op:     "orphan",
				detail: fmt.Sprintf("%s rowid %d is not in the rowid registry", shadow, rowid),
			})
		}
	}
	return findings, nil
}

// runStats reports per-shadow row counts. Vector shadows add the declared
// element layout and the stored payload volume.
func runStats(ctx context.Context, db *sql.DB, name string) ([]adminRow, error) {
	schema, err := vec0.LoadSchema(ctx, db, name)
	if err != nil {
		return nil, err
	}
	total, err := shadowCount(ctx, db, schema.RowidsTable())
	if err != nil {
		return nil, err
	}
	out := []adminRow{{op: "rowids", detail: fmt.Sprintf("%d rows", total)}}
	for ordinal, idx := range schema.VectorColumns() {
		col := schema.Columns[idx]
		count, bytes, err := vectorShadowStats(ctx, db, schema.VectorTable(ordinal))
		if err != nil {
			return nil, err
		}
		out = append(out, adminRow{
			op:     fmt.Sprintf("vector%02d", ordinal),
			detail: fmt.Sprintf("%q %s[%d], %d rows, %d payload bytes", col.Name, col.Type, col.Dims, count, bytes),
		})
	}
	if len(schema.FilterableColumns()) > 0 {
		count, err := shadowCount(ctx, db, schema.MetadataTable())
		if err != nil {
			return nil, err
		}
		out = append(out, adminRow{op: "metadata", detail: fmt.Sprintf("%d rows", count)})
	}
	if len(schema.AuxiliaryColumns()) > 0 {
		count, err := shadowCount(ctx, db, schema.AuxiliaryTable())
		if err != nil {
			return nil, err
		}
		out = append(out, adminRow{op: "auxiliary", detail: fmt.Sprintf("%d rows", count)})
	}
	out = append(out, adminRow{op: "chunk_size", detail: fmt.Sprintf("%d", schema.ChunkSize)})
	return out, nil
}

// shadowRowids returns the rowids of a shadow table in ascending order.
// Shadows are created on first write, so a missing table reads as empty.
func shadowRowids(ctx context.Context, db *sql.DB, shadow string) ([]int64, error) {
	rows, err := db.QueryContext(ctx, fmt.Sprintf("SELECT rowid FROM %s ORDER BY rowid", shadow))
	if err != nil {
		if missingTable(err) {
			return nil, nil
		}
		return nil, err
	}
	defer rows.Close()
	var out []int64
	for rows.Next() {
		var rowid int64
		if err := rows.Scan(&rowid); err != nil {
			return nil, err
		}
		out = append(out, rowid)
	}
	return out, rows.Err()
}

func shadowCount(ctx context.Context, db *sql.DB, shadow string) (int64, error) {
	var count int64
	err := db.QueryRowContext(ctx, fmt.Sprintf("SELECT COUNT(*) FROM %s", shadow)).Scan(&count)
	if err != nil && missingTable(err) {
		return 0, nil
	}
	return count, err
}

func vectorShadowStats(ctx context.Context, db *sql.DB, shadow string) (count, bytes int64, err error) {
	err = db.QueryRowContext(ctx,
		fmt.Sprintf("SELECT COUNT(*), COALESCE(SUM(LENGTH(vector)), 0) FROM %s", shadow)).Scan(&count, &bytes)
	if err != nil && missingTable(err) {
		return 0, 0, nil
	}
	return count, bytes, err
}

func missingTable(err error) bool {
	return err != nil && strings.Contains(err.Error(), "no such table")
}
