package vec0

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/viant/vec0/vector"
)

// Metric selects the KNN distance function for a vector column.
type Metric uint8

const (
	MetricL2 Metric = iota
	MetricCosine
	MetricHamming
)

func (m Metric) String() string {
	switch m {
	case MetricL2:
		return "l2"
	case MetricCosine:
		return "cosine"
	case MetricHamming:
		return "hamming"
	}
	return "unknown"
}

// ColumnKind classifies a declared vec0 column.
type ColumnKind uint8

const (
	KindVector ColumnKind = iota + 1
	KindPartition
	KindMetadata
	KindAuxiliary
)

// ScalarType enumerates the SQL types accepted for non-vector columns.
type ScalarType uint8

const (
	ScalarInteger ScalarType = iota + 1
	ScalarFloat
	ScalarText
	ScalarBoolean
	ScalarBlob
)

func (s ScalarType) String() string {
	switch s {
	case ScalarInteger:
		return "integer"
	case ScalarFloat:
		return "float"
	case ScalarText:
		return "text"
	case ScalarBoolean:
		return "boolean"
	case ScalarBlob:
		return "blob"
	}
	return "unknown"
}

// sqlType returns the SQLite column type used in shadow table DDL.
func (s ScalarType) sqlType() string {
	switch s {
	case ScalarInteger, ScalarBoolean:
		return "INTEGER"
	case ScalarFloat:
		return "REAL"
	case ScalarText:
		return "TEXT"
	default:
		return "BLOB"
	}
}

func parseScalarType(token string) (ScalarType, bool) {
	switch strings.ToLower(token) {
	case "integer", "int":
		return ScalarInteger, true
	case "float", "real", "double":
		return ScalarFloat, true
	case "text":
		return ScalarText, true
	case "boolean", "bool":
		return ScalarBoolean, true
	case "blob":
		return ScalarBlob, true
	}
	return 0, false
}

// Column describes one declared column of a vec0 table.
type Column struct {
	Name   string
	Kind   ColumnKind
	Type   vector.Type // vector columns
	Dims   int         // vector columns
	Metric Metric      // vector columns
	Scalar ScalarType  // partition, metadata, and auxiliary columns
}

// Schema is the parsed declaration of a vec0 virtual table. Column order
// matches the declaration; the hidden distance and k columns follow the
// declared columns in the virtual-table schema.
type Schema struct {
	DBName    string
	Name      string
	Columns   []Column
	ChunkSize int
}

const (
	defaultChunkSize     = 1024
	maxFilterableColumns = 16
)

// ParseSchema parses the argument list of a vec0 declaration. Each argument
// is either a column declaration (`name float[4] distance_metric=cosine`,
// `name text partition key`, `+name text`) or a table option (`chunk_size=N`).
func ParseSchema(dbName, tableName string, args []string) (*Schema, error) {
	s := &Schema{DBName: dbName, Name: tableName, ChunkSize: defaultChunkSize}
	seen := make(map[string]bool)
	for _, raw := range args {
		arg := strings.TrimSpace(raw)
		if arg == "" {
			continue
		}
		fields := strings.Fields(arg)
		if len(fields) == 1 && strings.Contains(fields[0], "=") {
			if err := s.applyOption(fields[0]); err != nil {
				return nil, err
			}
			continue
		}
		col, err := parseColumn(fields)
		if err != nil {
			return nil, err
		}
		if seen[col.Name] {
			return nil, fmt.Errorf("vec0: duplicate column name %q", col.Name)
		}
		seen[col.Name] = true
		s.Columns = append(s.Columns, col)
	}
	if len(s.VectorColumns()) == 0 {
		return nil, errors.New("vec0: at least one vector column is required")
	}
	if n := len(s.FilterableColumns()); n > maxFilterableColumns {
		return nil, fmt.Errorf("vec0: at most %d partition and metadata columns are supported, got %d", maxFilterableColumns, n)
	}
	return s, nil
}

func (s *Schema) applyOption(opt string) error {
	key, val, _ := strings.Cut(opt, "=")
	switch strings.ToLower(strings.TrimSpace(key)) {
	case "chunk_size":
		n, err := strconv.Atoi(strings.TrimSpace(val))
		if err != nil || n <= 0 {
			return fmt.Errorf("vec0: chunk_size must be a positive integer, got %q", val)
		}
		if n%8 != 0 {
			return fmt.Errorf("vec0: chunk_size must be divisible by 8, got %d", n)
		}
		s.ChunkSize = n
		return nil
	}
	return fmt.Errorf("vec0: unknown table option %q", key)
}

func parseColumn(fields []string) (Column, error) {
	if len(fields) < 2 {
		return Column{}, fmt.Errorf("vec0: invalid column declaration %q", strings.Join(fields, " "))
	}
	name := fields[0]
	aux := strings.HasPrefix(name, "+")
	if aux {
		name = name[1:]
	}
	if !validIdentifier(name) {
		return Column{}, fmt.Errorf("vec0: invalid column name %q", name)
	}

	typeTok := fields[1]
	rest := fields[2:]
	if base, dims, ok := splitVectorType(typeTok); ok {
		if aux {
			return Column{}, fmt.Errorf("vec0: auxiliary column %q cannot be a vector column", name)
		}
		vt, ok := vector.ParseType(base)
		if !ok {
			return Column{}, fmt.Errorf("vec0: column %q: unknown type %q", name, base)
		}
		col := Column{Name: name, Kind: KindVector, Type: vt, Dims: dims, Metric: MetricL2}
		if vt == vector.TypeBit {
			col.Metric = MetricHamming
		}
		if dims <= 0 {
			return Column{}, fmt.Errorf("vec0: column %q: dimension must be a positive integer", name)
		}
		if vt == vector.TypeBit && dims%8 != 0 {
			return Column{}, fmt.Errorf("vec0: column %q: bit vectors require a dimension divisible by 8", name)
		}
		for _, opt := range rest {
			key, val, found := strings.Cut(opt, "=")
			if !found || strings.ToLower(key) != "distance_metric" {
				return Column{}, fmt.Errorf("vec0: column %q: unexpected token %q", name, opt)
			}
			if vt == vector.TypeBit {
				return Column{}, fmt.Errorf("vec0: column %q: bit vectors always use hamming distance", name)
			}
			switch strings.ToLower(val) {
			case "l2", "euclidean":
				col.Metric = MetricL2
			case "cosine":
				col.Metric = MetricCosine
			default:
				return Column{}, fmt.Errorf("vec0: column %q: unknown distance metric %q", name, val)
			}
		}
		return col, nil
	}

	st, ok := parseScalarType(typeTok)
	if !ok {
		return Column{}, fmt.Errorf("vec0: column %q: unknown type %q", name, typeTok)
	}
	col := Column{Name: name, Scalar: st}
	switch {
	case aux:
		if len(rest) != 0 {
			return Column{}, fmt.Errorf("vec0: auxiliary column %q: unexpected token %q", name, rest[0])
		}
		col.Kind = KindAuxiliary
	case len(rest) == 2 && strings.EqualFold(rest[0], "partition") && strings.EqualFold(rest[1], "key"):
		if st != ScalarInteger && st != ScalarText {
			return Column{}, fmt.Errorf("vec0: partition key column %q must be integer or text", name)
		}
		col.Kind = KindPartition
	case len(rest) == 0:
		if st == ScalarBlob {
			return Column{}, fmt.Errorf("vec0: column %q: blob metadata is not supported, declare it auxiliary with a + prefix", name)
		}
		col.Kind = KindMetadata
	default:
		return Column{}, fmt.Errorf("vec0: column %q: unexpected token %q", name, rest[0])
	}
	return col, nil
}

// splitVectorType splits a token like "float[768]" into its base type and
// dimension.
func splitVectorType(token string) (base string, dims int, ok bool) {
	open := strings.IndexByte(token, '[')
	if open <= 0 || !strings.HasSuffix(token, "]") {
		return "", 0, false
	}
	base = token[:open]
	n, err := strconv.Atoi(token[open+1 : len(token)-1])
	if err != nil {
		return "", 0, false
	}
	return base, n, true
}

func validIdentifier(name string) bool {
	if name == "" {
		return false
	}
	for i, r := range name {
		switch {
		case r == '_', r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z':
		case r >= '0' && r <= '9':
			if i == 0 {
				return false
			}
		default:
			return false
		}
	}
	return true
}

// VectorColumns returns the schema indexes of vector columns in declaration
// order.
func (s *Schema) VectorColumns() []int {
	var out []int
	for i, c := range s.Columns {
		if c.Kind == KindVector {
			out = append(out, i)
		}
	}
	return out
}

// FilterableColumns returns the schema indexes of partition and metadata
// columns in declaration order.
func (s *Schema) FilterableColumns() []int {
	var out []int
	for i, c := range s.Columns {
		if c.Kind == KindPartition || c.Kind == KindMetadata {
			out = append(out, i)
		}
	}
	return out
}

// AuxiliaryColumns returns the schema indexes of auxiliary columns.
func (s *Schema) AuxiliaryColumns() []int {
	var out []int
	for i, c := range s.Columns {
		if c.Kind == KindAuxiliary {
			out = append(out, i)
		}
	}
	return out
}

// ColumnIndex returns the schema index of the named column, or -1.
func (s *Schema) ColumnIndex(name string) int {
	for i, c := range s.Columns {
		if c.Name == name {
			return i
		}
	}
	return -1
}

// distanceColumn and kColumn are the hidden virtual-table column positions.
func (s *Schema) distanceColumn() int { return len(s.Columns) }

func (s *Schema) kColumn() int { return len(s.Columns) + 1 }

// DeclareSQL renders the schema declared to the host for this virtual table.
// Vector columns surface as blobs; distance and k are hidden.
func (s *Schema) DeclareSQL() string {
	var sb strings.Builder
	sb.WriteString("CREATE TABLE ")
	sb.WriteString(quoteIdent(s.Name))
	sb.WriteByte('(')
	for i, c := range s.Columns {
		if i > 0 {
			sb.WriteString(", ")
		}
		sb.WriteString(quoteIdent(c.Name))
		if c.Kind == KindVector {
			sb.WriteString(" BLOB")
		} else {
			sb.WriteByte(' ')
			sb.WriteString(c.Scalar.sqlType())
		}
	}
	sb.WriteString(", distance REAL HIDDEN, k INTEGER HIDDEN)")
	return sb.String()
}

// DeclarationArgs renders the schema back to a canonical vec0 argument list.
// Parsing the result reproduces an equivalent schema.
func (s *Schema) DeclarationArgs() []string {
	args := make([]string, 0, len(s.Columns)+1)
	for _, c := range s.Columns {
		var sb strings.Builder
		switch c.Kind {
		case KindVector:
			fmt.Fprintf(&sb, "%s %s[%d]", c.Name, c.Type, c.Dims)
			if c.Type != vector.TypeBit && c.Metric != MetricL2 {
				fmt.Fprintf(&sb, " distance_metric=%s", c.Metric)
			}
		case KindPartition:
			fmt.Fprintf(&sb, "%s %s partition key", c.Name, c.Scalar)
		case KindAuxiliary:
			fmt.Fprintf(&sb, "+%s %s", c.Name, c.Scalar)
		default:
			fmt.Fprintf(&sb, "%s %s", c.Name, c.Scalar)
		}
		args = append(args, sb.String())
	}
	args = append(args, fmt.Sprintf("chunk_size=%d", s.ChunkSize))
	return args
}

// Shadow table naming. Vector shadows are numbered by position among vector
// columns, matching the declaration order.

func (s *Schema) RowidsTable() string { return s.qualify(s.Name + "_rowids") }

func (s *Schema) VectorTable(ordinal int) string {
	return s.qualify(fmt.Sprintf("%s_vector%02d", s.Name, ordinal))
}

func (s *Schema) MetadataTable() string { return s.qualify(s.Name + "_metadata") }

func (s *Schema) AuxiliaryTable() string { return s.qualify(s.Name + "_auxiliary") }

func (s *Schema) qualify(base string) string {
	if strings.TrimSpace(s.DBName) == "" {
		return quoteIdent(base)
	}
	return quoteIdent(s.DBName) + "." + quoteIdent(base)
}

// quoteIdent quotes an identifier for safe embedding in SQL.
func quoteIdent(s string) string {
	return `"` + strings.ReplaceAll(s, `"`, `""`) + `"`
}

// LoadSchema reads the declaration of an existing vec0 virtual table back
// from sqlite_master and re-parses it.
func LoadSchema(ctx context.Context, db *sql.DB, name string) (*Schema, error) {
	var ddl string
	err := db.QueryRowContext(ctx, `SELECT sql FROM sqlite_master WHERE type = 'table' AND name = ?`, name).Scan(&ddl)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("vec0: no such table: %s", name)
	}
	if err != nil {
		return nil, err
	}
	args, err := declarationArgs(ddl)
	if err != nil {
		return nil, fmt.Errorf("vec0: table %s: %w", name, err)
	}
	return ParseSchema("", name, args)
}

// declarationArgs extracts the argument list of a CREATE VIRTUAL TABLE ...
// USING vec0(...) statement.
func declarationArgs(ddl string) ([]string, error) {
	lower := strings.ToLower(ddl)
	using := strings.Index(lower, "using")
	if using < 0 || !strings.Contains(lower[using:], moduleName) {
		return nil, errors.New("not a vec0 virtual table")
	}
	open := strings.IndexByte(ddl[using:], '(')
	if open < 0 {
		return nil, errors.New("missing column declarations")
	}
	open += using
	end := strings.LastIndexByte(ddl, ')')
	if end <= open {
		return nil, errors.New("missing column declarations")
	}
	var args []string
	for _, part := range strings.Split(ddl[open+1:end], ",") {
		args = append(args, strings.TrimSpace(part))
	}
	return args, nil
}
