// Package veceach provides the vec_each virtual-table module, which expands
// one vector into a row per element:
//
//	CREATE VIRTUAL TABLE ve USING vec_each();
//	SELECT rowid, value FROM ve WHERE vector = vec_f32('[1,2,3]');
//
// rowid is the element index. Float32 elements surface as REAL, int8 and bit
// elements as INTEGER.
package veceach

import (
	"database/sql"
	"errors"
	"fmt"
	"strings"

	"modernc.org/sqlite/vtab"

	"github.com/viant/vec0/vector"
)

const moduleName = "vec_each"

// Declared column positions.
const (
	colValue  = 0
	colVector = 1
)

// Module implements the vec_each virtual-table module.
type Module struct{}

// Register installs the vec_each module on db. Registering twice on the same
// handle is harmless.
func Register(db *sql.DB) error {
	if err := vtab.RegisterModule(db, moduleName, &Module{}); err != nil {
		if strings.Contains(err.Error(), "already registered") {
			return nil
		}
		return err
	}
	return nil
}

func (m *Module) Create(ctx vtab.Context, _ []string) (vtab.Table, error) {
	if err := ctx.EnableConstraintSupport(); err != nil {
		return nil, err
	}
	if err := ctx.Declare("CREATE TABLE x(value, vector HIDDEN)"); err != nil {
		return nil, err
	}
	return &Table{}, nil
}

func (m *Module) Connect(ctx vtab.Context, args []string) (vtab.Table, error) {
	return m.Create(ctx, args)
}

// Table carries no state; the vector to expand arrives per query through the
// hidden column constraint.
type Table struct{}

// BestIndex requires an equality or MATCH constraint on the hidden vector
// column and hands its value to Filter as the only argument.
func (t *Table) BestIndex(info *vtab.IndexInfo) error {
	for i := range info.Constraints {
		c := &info.Constraints[i]
		if !c.Usable || c.Column != colVector {
			continue
		}
		if c.Op == vtab.OpEQ || c.Op == vtab.OpMATCH {
			c.ArgIndex = 0
			c.Omit = true
			info.IdxNum = 1
			return nil
		}
	}
	return errors.New("vec_each: a vector argument is required")
}

func (t *Table) Open() (vtab.Cursor, error) { return &Cursor{}, nil }

func (t *Table) Disconnect() error { return nil }

func (t *Table) Destroy() error { return nil }

// Cursor walks the elements of one vector. Elements are read straight from
// the decoded payload; nothing per element is materialized up front.
type Cursor struct {
	vec vector.Vector
	pos int
}

func (c *Cursor) Filter(idxNum int, _ string, vals []vtab.Value) error {
	c.pos = 0
	c.vec = vector.Vector{}
	if idxNum != 1 || len(vals) < 1 {
		return errors.New("vec_each: a vector argument is required")
	}
	v, err := vector.FromValue(any(vals[0]))
	if err != nil {
		return err
	}
	c.vec = v
	return nil
}

func (c *Cursor) Next() error {
	c.pos++
	return nil
}

func (c *Cursor) Eof() bool {
	return c.pos >= c.vec.Dimensions()
}

func (c *Cursor) Column(col int) (vtab.Value, error) {
	if c.pos >= c.vec.Dimensions() {
		return nil, errors.New("vec_each: cursor is exhausted")
	}
	switch col {
	case colValue:
		return c.vec.Element(c.pos), nil
	case colVector:
		return c.vec.Encode(), nil
	}
	return nil, fmt.Errorf("vec_each: column index %d out of range", col)
}

func (c *Cursor) Rowid() (int64, error) {
	if c.pos >= c.vec.Dimensions() {
		return 0, errors.New("vec_each: cursor is exhausted")
	}
	return int64(c.pos), nil
}

func (c *Cursor) Close() error {
	c.vec = vector.Vector{}
	return nil
}
