package vec0

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"strings"

	"github.com/viant/vec0/vector"
)

// Table is a handle over one vec0 virtual table. It serves both sides of the
// module: the host dispatches virtual-table callbacks to it, and Go callers
// use its Insert, Update, Delete, Row, and Search methods directly. All row
// data lives in shadow tables owned by the handle.
type Table struct {
	db     *sql.DB
	schema *Schema
	log    *slog.Logger
}

// NewTable builds a handle from an already parsed schema. Most callers want
// OpenTable instead.
func NewTable(db *sql.DB, schema *Schema, opts ...Option) *Table {
	t := &Table{db: db, schema: schema, log: slog.New(slog.DiscardHandler)}
	for _, opt := range opts {
		opt(t)
	}
	return t
}

// OpenTable attaches to an existing vec0 virtual table by reading its
// declaration back from sqlite_master.
func OpenTable(ctx context.Context, db *sql.DB, name string, opts ...Option) (*Table, error) {
	schema, err := LoadSchema(ctx, db, name)
	if err != nil {
		return nil, err
	}
	return NewTable(db, schema, opts...), nil
}

// Schema returns the parsed table declaration.
func (t *Table) Schema() *Schema { return t.schema }

// ensureShadowTables creates the shadow tables on first use. Creation is
// deferred out of the xCreate callback because the declaring connection holds
// the schema lock while the callback runs.
func (t *Table) ensureShadowTables(ctx context.Context) error {
	tx, err := t.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()
	for _, ddl := range t.shadowTableDDL() {
		if _, err := tx.ExecContext(ctx, ddl); err != nil {
			return fmt.Errorf("vec0: create shadow tables: %w", err)
		}
	}
	return tx.Commit()
}

func (t *Table) shadowTableDDL() []string {
	s := t.schema
	ddl := []string{
		fmt.Sprintf("CREATE TABLE IF NOT EXISTS %s (rowid INTEGER PRIMARY KEY)", s.RowidsTable()),
	}
	for ordinal := range s.VectorColumns() {
		ddl = append(ddl, fmt.Sprintf(
			"CREATE TABLE IF NOT EXISTS %s (rowid INTEGER PRIMARY KEY, vector BLOB NOT NULL)",
			s.VectorTable(ordinal)))
	}
	if cols := s.FilterableColumns(); len(cols) > 0 {
		ddl = append(ddl, shadowRowTableDDL(s.MetadataTable(), s, cols))
	}
	if cols := s.AuxiliaryColumns(); len(cols) > 0 {
		ddl = append(ddl, shadowRowTableDDL(s.AuxiliaryTable(), s, cols))
	}
	return ddl
}

func shadowRowTableDDL(table string, s *Schema, cols []int) string {
	var sb strings.Builder
	fmt.Fprintf(&sb, "CREATE TABLE IF NOT EXISTS %s (rowid INTEGER PRIMARY KEY", table)
	for _, i := range cols {
		c := s.Columns[i]
		fmt.Fprintf(&sb, ", %s %s", quoteIdent(c.Name), c.Scalar.sqlType())
	}
	sb.WriteByte(')')
	return sb.String()
}

// CleanupShadowTables drops the shadow tables left behind by DROP TABLE on a
// vec0 virtual table. The drop statement holds the schema lock while the
// module is torn down, so the shadows cannot be removed from inside that
// callback; call this afterwards.
func CleanupShadowTables(ctx context.Context, db *sql.DB, name string) error {
	rows, err := db.QueryContext(ctx,
		`SELECT name FROM sqlite_master WHERE type = 'table' AND name GLOB ?`, name+"_*")
	if err != nil {
		return err
	}
	defer rows.Close()
	var targets []string
	for rows.Next() {
		var shadow string
		if err := rows.Scan(&shadow); err != nil {
			return err
		}
		if isShadowName(name, shadow) {
			targets = append(targets, shadow)
		}
	}
	if err := rows.Err(); err != nil {
		return err
	}
	for _, shadow := range targets {
		if _, err := db.ExecContext(ctx, "DROP TABLE IF EXISTS "+quoteIdent(shadow)); err != nil {
			return fmt.Errorf("vec0: drop shadow table %s: %w", shadow, err)
		}
	}
	return nil
}

func isShadowName(base, candidate string) bool {
	suffix := strings.TrimPrefix(candidate, base+"_")
	if suffix == candidate {
		return false
	}
	switch suffix {
	case "rowids", "metadata", "auxiliary":
		return true
	}
	if strings.HasPrefix(suffix, "vector") && len(suffix) == len("vector")+2 {
		for _, r := range suffix[len("vector"):] {
			if r < '0' || r > '9' {
				return false
			}
		}
		return true
	}
	return false
}

// decodeColumnValue coerces an inserted value into the declared vector column
// shape. Blobs follow the raw and tagged encodings, text is parsed as JSON,
// and vector.Vector values pass through after a compatibility check.
func decodeColumnValue(col Column, value any) (vector.Vector, error) {
	switch v := value.(type) {
	case nil:
		return vector.Vector{}, fmt.Errorf("%w for column %q", vector.ErrNull, col.Name)
	case vector.Vector:
		if v.IsZero() {
			return vector.Vector{}, fmt.Errorf("%w for column %q", vector.ErrNull, col.Name)
		}
		if v.Type() != col.Type {
			return vector.Vector{}, fmt.Errorf("%w: column %q expects a %s vector, got %s",
				vector.ErrTypeMismatch, col.Name, col.Type, v.Type())
		}
		if v.Dimensions() != col.Dims {
			return vector.Vector{}, fmt.Errorf("%w: column %q expects %d dimensions, got %d",
				vector.ErrTypeMismatch, col.Name, col.Dims, v.Dimensions())
		}
		return v, nil
	case []byte:
		vec, err := vector.FromBlob(v, col.Type, col.Dims)
		if err != nil {
			return vector.Vector{}, fmt.Errorf("column %q: %w", col.Name, err)
		}
		return vec, nil
	case string:
		vec, err := vector.FromJSON(v, col.Type)
		if err != nil {
			return vector.Vector{}, fmt.Errorf("column %q: %w", col.Name, err)
		}
		if vec.Dimensions() != col.Dims {
			return vector.Vector{}, fmt.Errorf("%w: column %q expects %d dimensions, got %d",
				vector.ErrTypeMismatch, col.Name, col.Dims, vec.Dimensions())
		}
		return vec, nil
	}
	return vector.Vector{}, fmt.Errorf("%w: column %q: value of type %T is not a vector",
		vector.ErrMalformed, col.Name, value)
}

// coerceScalar normalizes a metadata or partition value to its storage
// representation and rejects type mismatches.
func coerceScalar(col Column, value any) (any, error) {
	if value == nil {
		return nil, fmt.Errorf("vec0: column %q: NULL is not allowed for %s columns",
			col.Name, kindNoun(col.Kind))
	}
	switch col.Scalar {
	case ScalarInteger:
		switch v := value.(type) {
		case int64:
			return v, nil
		case int:
			return int64(v), nil
		case int32:
			return int64(v), nil
		case uint32:
			return int64(v), nil
		}
	case ScalarFloat:
		switch v := value.(type) {
		case float64:
			return v, nil
		case float32:
			return float64(v), nil
		case int64:
			return float64(v), nil
		case int:
			return float64(v), nil
		}
	case ScalarText:
		if v, ok := value.(string); ok {
			return v, nil
		}
	case ScalarBoolean:
		switch v := value.(type) {
		case bool:
			if v {
				return int64(1), nil
			}
			return int64(0), nil
		case int64:
			if v == 0 || v == 1 {
				return v, nil
			}
		case int:
			if v == 0 || v == 1 {
				return int64(v), nil
			}
		}
	case ScalarBlob:
		if v, ok := value.([]byte); ok {
			return v, nil
		}
	}
	return nil, fmt.Errorf("vec0: column %q expects a %s value, got %T", col.Name, col.Scalar, value)
}

func kindNoun(k ColumnKind) string {
	switch k {
	case KindPartition:
		return "partition key"
	case KindMetadata:
		return "metadata"
	case KindAuxiliary:
		return "auxiliary"
	}
	return "vector"
}

// preparedRow holds fully validated column values ready to write. Nothing is
// written until every provided value has passed validation.
type preparedRow struct {
	vectors    map[int]vector.Vector
	scalars    map[int]any
	hasVector  map[int]bool
	hasScalar  map[int]bool
	auxPresent map[int]bool
}

func (t *Table) prepareRow(values map[string]any, requireVectors bool) (*preparedRow, error) {
	s := t.schema
	row := &preparedRow{
		vectors:    make(map[int]vector.Vector),
		scalars:    make(map[int]any),
		hasVector:  make(map[int]bool),
		hasScalar:  make(map[int]bool),
		auxPresent: make(map[int]bool),
	}
	for name, value := range values {
		idx := s.ColumnIndex(name)
		if idx < 0 {
			return nil, fmt.Errorf("vec0: no such column: %s", name)
		}
		col := s.Columns[idx]
		switch col.Kind {
		case KindVector:
			vec, err := decodeColumnValue(col, value)
			if err != nil {
				return nil, err
			}
			row.vectors[idx] = vec
			row.hasVector[idx] = true
		case KindAuxiliary:
			row.auxPresent[idx] = true
			if value == nil {
				row.scalars[idx] = nil
				row.hasScalar[idx] = true
				continue
			}
			coerced, err := coerceScalar(col, value)
			if err != nil {
				return nil, err
			}
			row.scalars[idx] = coerced
			row.hasScalar[idx] = true
		default:
			coerced, err := coerceScalar(col, value)
			if err != nil {
				return nil, err
			}
			row.scalars[idx] = coerced
			row.hasScalar[idx] = true
		}
	}
	if requireVectors {
		for _, idx := range s.VectorColumns() {
			if !row.hasVector[idx] {
				return nil, fmt.Errorf("%w for column %q", vector.ErrNull, s.Columns[idx].Name)
			}
		}
		for _, idx := range s.FilterableColumns() {
			if !row.hasScalar[idx] {
				return nil, fmt.Errorf("vec0: column %q: NULL is not allowed for %s columns",
					s.Columns[idx].Name, kindNoun(s.Columns[idx].Kind))
			}
		}
	}
	return row, nil
}

// Insert adds a row with an auto-assigned rowid and returns it. Every vector,
// partition, and metadata column must be present; auxiliary columns may be
// omitted or nil.
func (t *Table) Insert(ctx context.Context, values map[string]any) (int64, error) {
	row, err := t.prepareRow(values, true)
	if err != nil {
		return 0, err
	}
	if err := t.ensureShadowTables(ctx); err != nil {
		return 0, err
	}
	tx, err := t.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, err
	}
	defer tx.Rollback()
	res, err := tx.ExecContext(ctx, fmt.Sprintf("INSERT INTO %s DEFAULT VALUES", t.schema.RowidsTable()))
	if err != nil {
		return 0, err
	}
	rowid, err := res.LastInsertId()
	if err != nil {
		return 0, err
	}
	if err := t.writeRow(ctx, tx, rowid, row); err != nil {
		return 0, err
	}
	if err := tx.Commit(); err != nil {
		return 0, err
	}
	t.log.Debug("vec0 insert", "table", t.schema.Name, "rowid", rowid)
	return rowid, nil
}

// InsertWithRowid adds a row under a caller-chosen rowid. Reusing a live
// rowid is an error and leaves the table unchanged.
func (t *Table) InsertWithRowid(ctx context.Context, rowid int64, values map[string]any) error {
	row, err := t.prepareRow(values, true)
	if err != nil {
		return err
	}
	if err := t.ensureShadowTables(ctx); err != nil {
		return err
	}
	tx, err := t.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()
	var exists int
	err = tx.QueryRowContext(ctx,
		fmt.Sprintf("SELECT 1 FROM %s WHERE rowid = ?", t.schema.RowidsTable()), rowid).Scan(&exists)
	if err == nil {
		return fmt.Errorf("vec0: rowid %d already exists in %s", rowid, t.schema.Name)
	}
	if err != sql.ErrNoRows {
		return err
	}
	if _, err := tx.ExecContext(ctx,
		fmt.Sprintf("INSERT INTO %s (rowid) VALUES (?)", t.schema.RowidsTable()), rowid); err != nil {
		return err
	}
	if err := t.writeRow(ctx, tx, rowid, row); err != nil {
		return err
	}
	if err := tx.Commit(); err != nil {
		return err
	}
	t.log.Debug("vec0 insert", "table", t.schema.Name, "rowid", rowid)
	return nil
}

func (t *Table) writeRow(ctx context.Context, tx *sql.Tx, rowid int64, row *preparedRow) error {
	s := t.schema
	for ordinal, idx := range s.VectorColumns() {
		vec := row.vectors[idx]
		if _, err := tx.ExecContext(ctx,
			fmt.Sprintf("INSERT INTO %s (rowid, vector) VALUES (?, ?)", s.VectorTable(ordinal)),
			rowid, vec.Bytes()); err != nil {
			return err
		}
	}
	if cols := s.FilterableColumns(); len(cols) > 0 {
		if err := insertShadowRow(ctx, tx, s.MetadataTable(), s, cols, rowid, row.scalars); err != nil {
			return err
		}
	}
	if cols := s.AuxiliaryColumns(); len(cols) > 0 {
		if err := insertShadowRow(ctx, tx, s.AuxiliaryTable(), s, cols, rowid, row.scalars); err != nil {
			return err
		}
	}
	return nil
}

func insertShadowRow(ctx context.Context, tx *sql.Tx, table string, s *Schema, cols []int, rowid int64, scalars map[int]any) error {
	names := []string{"rowid"}
	args := []any{rowid}
	for _, idx := range cols {
		names = append(names, quoteIdent(s.Columns[idx].Name))
		args = append(args, scalars[idx])
	}
	query := fmt.Sprintf("INSERT INTO %s (%s) VALUES (%s)",
		table, strings.Join(names, ", "), placeholders(len(args)))
	_, err := tx.ExecContext(ctx, query, args...)
	return err
}

func placeholders(n int) string {
	if n == 0 {
		return ""
	}
	return strings.TrimSuffix(strings.Repeat("?, ", n), ", ")
}

// Update rewrites the named columns of an existing row. Updating an unknown
// rowid is an error. Values are validated before anything is written.
func (t *Table) Update(ctx context.Context, rowid int64, changes map[string]any) error {
	if len(changes) == 0 {
		return nil
	}
	row, err := t.prepareRow(changes, false)
	if err != nil {
		return err
	}
	if err := t.ensureShadowTables(ctx); err != nil {
		return err
	}
	tx, err := t.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()
	var exists int
	err = tx.QueryRowContext(ctx,
		fmt.Sprintf("SELECT 1 FROM %s WHERE rowid = ?", t.schema.RowidsTable()), rowid).Scan(&exists)
	if err == sql.ErrNoRows {
		return fmt.Errorf("vec0: no row with rowid %d in %s", rowid, t.schema.Name)
	}
	if err != nil {
		return err
	}
	s := t.schema
	for ordinal, idx := range s.VectorColumns() {
		if !row.hasVector[idx] {
			continue
		}
		if _, err := tx.ExecContext(ctx,
			fmt.Sprintf("UPDATE %s SET vector = ? WHERE rowid = ?", s.VectorTable(ordinal)),
			row.vectors[idx].Bytes(), rowid); err != nil {
			return err
		}
	}
	for _, idx := range s.FilterableColumns() {
		if !row.hasScalar[idx] {
			continue
		}
		if err := updateShadowColumn(ctx, tx, s.MetadataTable(), s.Columns[idx].Name, row.scalars[idx], rowid); err != nil {
			return err
		}
	}
	for _, idx := range s.AuxiliaryColumns() {
		if !row.auxPresent[idx] {
			continue
		}
		if err := updateShadowColumn(ctx, tx, s.AuxiliaryTable(), s.Columns[idx].Name, row.scalars[idx], rowid); err != nil {
			return err
		}
	}
	if err := tx.Commit(); err != nil {
		return err
	}
	t.log.Debug("vec0 update", "table", t.schema.Name, "rowid", rowid)
	return nil
}

func updateShadowColumn(ctx context.Context, tx *sql.Tx, table, column string, value any, rowid int64) error {
	_, err := tx.ExecContext(ctx,
		fmt.Sprintf("UPDATE %s SET %s = ? WHERE rowid = ?", table, quoteIdent(column)), value, rowid)
	return err
}

// Delete removes a row. Deleting a rowid that does not exist is a no-op,
// matching how the host only dispatches deletes for rows it has seen.
func (t *Table) Delete(ctx context.Context, rowid int64) error {
	if err := t.ensureShadowTables(ctx); err != nil {
		return err
	}
	tx, err := t.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()
	s := t.schema
	tables := []string{s.RowidsTable()}
	for ordinal := range s.VectorColumns() {
		tables = append(tables, s.VectorTable(ordinal))
	}
	if len(s.FilterableColumns()) > 0 {
		tables = append(tables, s.MetadataTable())
	}
	if len(s.AuxiliaryColumns()) > 0 {
		tables = append(tables, s.AuxiliaryTable())
	}
	for _, table := range tables {
		if _, err := tx.ExecContext(ctx,
			fmt.Sprintf("DELETE FROM %s WHERE rowid = ?", table), rowid); err != nil {
			return err
		}
	}
	if err := tx.Commit(); err != nil {
		return err
	}
	t.log.Debug("vec0 delete", "table", t.schema.Name, "rowid", rowid)
	return nil
}

// Row is one stored row read back from the shadow tables.
type Row struct {
	Rowid   int64
	Vectors map[string]vector.Vector
	Values  map[string]any
}

// Row reads a single row by rowid, or reports that it does not exist.
func (t *Table) Row(ctx context.Context, rowid int64) (*Row, error) {
	rows, err := t.fetchRows(ctx, []int64{rowid})
	if err != nil {
		return nil, err
	}
	values, ok := rows[rowid]
	if !ok {
		return nil, fmt.Errorf("vec0: no row with rowid %d in %s", rowid, t.schema.Name)
	}
	return t.buildRow(rowid, values), nil
}

func (t *Table) buildRow(rowid int64, values []any) *Row {
	s := t.schema
	row := &Row{
		Rowid:   rowid,
		Vectors: make(map[string]vector.Vector),
		Values:  make(map[string]any),
	}
	for i, c := range s.Columns {
		if c.Kind == KindVector {
			if vec, ok := values[i].(vector.Vector); ok {
				row.Vectors[c.Name] = vec
			}
			continue
		}
		row.Values[c.Name] = values[i]
	}
	return row
}

// Exists reports whether a rowid is registered.
func (t *Table) Exists(ctx context.Context, rowid int64) (bool, error) {
	var one int
	err := t.db.QueryRowContext(ctx,
		fmt.Sprintf("SELECT 1 FROM %s WHERE rowid = ?", t.schema.RowidsTable()), rowid).Scan(&one)
	if err == sql.ErrNoRows || isMissingShadow(err) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return true, nil
}

// Count reports the number of live rows.
func (t *Table) Count(ctx context.Context) (int64, error) {
	var n int64
	err := t.db.QueryRowContext(ctx,
		fmt.Sprintf("SELECT COUNT(*) FROM %s", t.schema.RowidsTable())).Scan(&n)
	if isMissingShadow(err) {
		return 0, nil
	}
	if err != nil {
		return 0, err
	}
	return n, nil
}

// Rowids returns live rowids in ascending order.
func (t *Table) Rowids(ctx context.Context) ([]int64, error) {
	rows, err := t.db.QueryContext(ctx,
		fmt.Sprintf("SELECT rowid FROM %s ORDER BY rowid", t.schema.RowidsTable()))
	if isMissingShadow(err) {
		return nil, nil
	}
	if err != nil {
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

// Scan streams every live row through fn in ascending rowid order, fetching
// in chunk-size batches. An error from fn stops the scan and is returned.
func (t *Table) Scan(ctx context.Context, fn func(*Row) error) error {
	rowids, err := t.Rowids(ctx)
	if err != nil {
		return err
	}
	for start := 0; start < len(rowids); start += t.schema.ChunkSize {
		end := min(start+t.schema.ChunkSize, len(rowids))
		batch, err := t.fetchRows(ctx, rowids[start:end])
		if err != nil {
			return err
		}
		for _, rowid := range rowids[start:end] {
			values, ok := batch[rowid]
			if !ok {
				continue
			}
			if err := fn(t.buildRow(rowid, values)); err != nil {
				return err
			}
		}
	}
	return nil
}

// InsertBatch writes rows with caller-chosen rowids in one transaction. Every
// row is validated before anything is written; any failure rolls the whole
// batch back. Row values follow the Row shape: vectors keyed by column name
// in Vectors, scalars in Values.
func (t *Table) InsertBatch(ctx context.Context, rows []Row) error {
	if len(rows) == 0 {
		return nil
	}
	prepared := make([]*preparedRow, len(rows))
	for i := range rows {
		values := make(map[string]any, len(rows[i].Vectors)+len(rows[i].Values))
		for name, vec := range rows[i].Vectors {
			values[name] = vec
		}
		for name, v := range rows[i].Values {
			values[name] = v
		}
		row, err := t.prepareRow(values, true)
		if err != nil {
			return err
		}
		prepared[i] = row
	}
	if err := t.ensureShadowTables(ctx); err != nil {
		return err
	}
	tx, err := t.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()
	for i := range rows {
		rowid := rows[i].Rowid
		var exists int
		err = tx.QueryRowContext(ctx,
			fmt.Sprintf("SELECT 1 FROM %s WHERE rowid = ?", t.schema.RowidsTable()), rowid).Scan(&exists)
		if err == nil {
			return fmt.Errorf("vec0: rowid %d already exists in %s", rowid, t.schema.Name)
		}
		if err != sql.ErrNoRows {
			return err
		}
		if _, err := tx.ExecContext(ctx,
			fmt.Sprintf("INSERT INTO %s (rowid) VALUES (?)", t.schema.RowidsTable()), rowid); err != nil {
			return err
		}
		if err := t.writeRow(ctx, tx, rowid, prepared[i]); err != nil {
			return err
		}
	}
	if err := tx.Commit(); err != nil {
		return err
	}
	t.log.Debug("vec0 batch insert", "table", t.schema.Name, "rows", len(rows))
	return nil
}

// fetchRows loads full column values for the given rowids. Vector columns are
// decoded into vector.Vector; missing shadow rows leave nil values.
func (t *Table) fetchRows(ctx context.Context, rowids []int64) (map[int64][]any, error) {
	s := t.schema
	out := make(map[int64][]any, len(rowids))
	if len(rowids) == 0 {
		return out, nil
	}
	inClause, args := rowidArgs(rowids)

	present, err := t.presentRowids(ctx, inClause, args)
	if err != nil {
		return nil, err
	}
	for _, rowid := range rowids {
		if present[rowid] {
			out[rowid] = make([]any, len(s.Columns))
		}
	}
	if len(out) == 0 {
		return out, nil
	}

	for ordinal, idx := range s.VectorColumns() {
		col := s.Columns[idx]
		query := fmt.Sprintf("SELECT rowid, vector FROM %s WHERE rowid IN (%s)",
			s.VectorTable(ordinal), inClause)
		if err := t.scanShadow(ctx, query, args, func(rowid int64, scanned []any) error {
			raw, _ := scanned[0].([]byte)
			vec, err := vector.FromBlob(raw, col.Type, col.Dims)
			if err != nil {
				return fmt.Errorf("vec0: stored vector for rowid %d column %q: %w", rowid, col.Name, err)
			}
			if values, ok := out[rowid]; ok {
				values[idx] = vec
			}
			return nil
		}, 1); err != nil {
			return nil, err
		}
	}
	if err := t.fetchScalarColumns(ctx, s.MetadataTable(), s.FilterableColumns(), inClause, args, out); err != nil {
		return nil, err
	}
	if err := t.fetchScalarColumns(ctx, s.AuxiliaryTable(), s.AuxiliaryColumns(), inClause, args, out); err != nil {
		return nil, err
	}
	return out, nil
}

func (t *Table) presentRowids(ctx context.Context, inClause string, args []any) (map[int64]bool, error) {
	present := make(map[int64]bool)
	query := fmt.Sprintf("SELECT rowid FROM %s WHERE rowid IN (%s)", t.schema.RowidsTable(), inClause)
	rows, err := t.db.QueryContext(ctx, query, args...)
	if isMissingShadow(err) {
		return present, nil
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
		present[rowid] = true
	}
	return present, rows.Err()
}

func (t *Table) fetchScalarColumns(ctx context.Context, table string, cols []int, inClause string, args []any, out map[int64][]any) error {
	if len(cols) == 0 {
		return nil
	}
	s := t.schema
	names := make([]string, 0, len(cols))
	for _, idx := range cols {
		names = append(names, quoteIdent(s.Columns[idx].Name))
	}
	query := fmt.Sprintf("SELECT rowid, %s FROM %s WHERE rowid IN (%s)",
		strings.Join(names, ", "), table, inClause)
	return t.scanShadow(ctx, query, args, func(rowid int64, scanned []any) error {
		values, ok := out[rowid]
		if !ok {
			return nil
		}
		for i, idx := range cols {
			values[idx] = normalizeScanned(scanned[i])
		}
		return nil
	}, len(cols))
}

// scanShadow runs a rowid-keyed query and hands each row to fn. The first
// selected column must be rowid.
func (t *Table) scanShadow(ctx context.Context, query string, args []any, fn func(rowid int64, scanned []any) error, width int) error {
	rows, err := t.db.QueryContext(ctx, query, args...)
	if isMissingShadow(err) {
		return nil
	}
	if err != nil {
		return err
	}
	defer rows.Close()
	for rows.Next() {
		var rowid int64
		scanned := make([]any, width)
		dest := make([]any, 0, width+1)
		dest = append(dest, &rowid)
		for i := range scanned {
			dest = append(dest, &scanned[i])
		}
		if err := rows.Scan(dest...); err != nil {
			return err
		}
		if err := fn(rowid, scanned); err != nil {
			return err
		}
	}
	return rows.Err()
}

func normalizeScanned(v any) any {
	if b, ok := v.([]byte); ok {
		out := make([]byte, len(b))
		copy(out, b)
		return out
	}
	return v
}

func rowidArgs(rowids []int64) (string, []any) {
	args := make([]any, len(rowids))
	for i, r := range rowids {
		args[i] = r
	}
	return placeholders(len(rowids)), args
}

// isMissingShadow reports whether err is a query against shadow tables that
// have not been created yet. A freshly declared table with no inserts behaves
// as empty.
func isMissingShadow(err error) bool {
	return err != nil && strings.Contains(err.Error(), "no such table")
}
