// Package columnar provides a schema-typed vectorized row store with
// bitmap-mask filtering and masked aggregates.
//
// A table holds one flat, dense slice per column; rows are appended in
// lockstep via BulkInsert and referenced only by row index. Full-column
// aggregates scan a single column's slice in one pass and never touch
// unrelated columns. Predicates produce read-only bit-per-row masks that can
// be combined with And/Or to express conjunctions and disjunctions across
// columns; neither masks nor aggregates ever mutate the table.
package columnar

import (
	"fmt"
	"math"

	"github.com/c360/deltastream/errors"
)

// ColumnType enumerates the supported column storage types.
type ColumnType int

const (
	// TypeInt32 stores 32-bit signed integers.
	TypeInt32 ColumnType = iota
	// TypeFloat64 stores 64-bit floats.
	TypeFloat64
	// TypeString stores strings.
	TypeString
)

// String returns a human-readable representation of the column type.
func (t ColumnType) String() string {
	switch t {
	case TypeInt32:
		return "int32"
	case TypeFloat64:
		return "float64"
	case TypeString:
		return "string"
	default:
		return "unknown"
	}
}

// Column declares one column of a table schema.
type Column struct {
	Name string
	Type ColumnType
}

// Schema is the ordered list of columns a table is created with.
type Schema []Column

// Row is a single input row keyed by column name. Numeric values may be
// supplied as any Go integer or float type that fits the declared column.
type Row map[string]any

// column is the storage for a single declared column. Exactly one of the
// slices is in use, matching def.Type.
type column struct {
	def Column
	i32 []int32
	f64 []float64
	str []string
}

// Table is a fixed-schema set of parallel dense column arrays.
// Concurrent readers are safe once loading is done; BulkInsert must not run
// concurrently with queries.
type Table struct {
	schema  Schema
	columns []*column
	byName  map[string]*column
	rows    int
}

// NewTable creates a table for the given schema, pre-sizing every column
// array for capacity rows.
func NewTable(schema Schema, capacity int) (*Table, error) {
	if len(schema) == 0 {
		return nil, errors.WrapInvalid(errors.ErrInvalidConfig,
			"Table", "NewTable", "empty schema")
	}
	if capacity < 0 {
		capacity = 0
	}

	t := &Table{
		schema:  schema,
		columns: make([]*column, 0, len(schema)),
		byName:  make(map[string]*column, len(schema)),
	}

	for _, def := range schema {
		if _, exists := t.byName[def.Name]; exists {
			return nil, errors.WrapInvalid(
				fmt.Errorf("duplicate column %q", def.Name),
				"Table", "NewTable", "schema validation")
		}

		c := &column{def: def}
		switch def.Type {
		case TypeInt32:
			c.i32 = make([]int32, 0, capacity)
		case TypeFloat64:
			c.f64 = make([]float64, 0, capacity)
		case TypeString:
			c.str = make([]string, 0, capacity)
		default:
			return nil, errors.WrapInvalid(errors.ErrColumnType,
				"Table", "NewTable", fmt.Sprintf("column %q type", def.Name))
		}

		t.columns = append(t.columns, c)
		t.byName[def.Name] = c
	}

	return t, nil
}

// Schema returns the table's schema.
func (t *Table) Schema() Schema {
	return t.schema
}

// Rows returns the current row count.
func (t *Table) Rows() int {
	return t.rows
}

// BulkInsert appends rows to every column array in lockstep. All rows are
// validated against the schema before any value is appended, so a
// mismatched row leaves the table untouched.
func (t *Table) BulkInsert(rows []Row) error {
	// Validate first: the append below must be all-or-nothing.
	for i, row := range rows {
		for _, c := range t.columns {
			raw, ok := row[c.def.Name]
			if !ok {
				return errors.WrapInvalid(errors.ErrSchemaMismatch, "Table", "BulkInsert",
					fmt.Sprintf("row %d missing column %q", i, c.def.Name))
			}
			if err := checkValue(c.def, raw); err != nil {
				return errors.WrapInvalid(err, "Table", "BulkInsert",
					fmt.Sprintf("row %d column %q", i, c.def.Name))
			}
		}
		if len(row) > len(t.columns) {
			for name := range row {
				if _, ok := t.byName[name]; !ok {
					return errors.WrapInvalid(errors.ErrSchemaMismatch, "Table", "BulkInsert",
						fmt.Sprintf("row %d has unknown column %q", i, name))
				}
			}
		}
	}

	for _, row := range rows {
		for _, c := range t.columns {
			c.append(row[c.def.Name])
		}
	}
	t.rows += len(rows)
	return nil
}

// checkValue verifies raw can be stored in a column of the given definition.
func checkValue(def Column, raw any) error {
	switch def.Type {
	case TypeInt32:
		if _, ok := asInt32(raw); !ok {
			return fmt.Errorf("%w: value %v (%T) for int32 column", errors.ErrSchemaMismatch, raw, raw)
		}
	case TypeFloat64:
		if _, ok := asFloat64(raw); !ok {
			return fmt.Errorf("%w: value %v (%T) for float64 column", errors.ErrSchemaMismatch, raw, raw)
		}
	case TypeString:
		if _, ok := raw.(string); !ok {
			return fmt.Errorf("%w: value %v (%T) for string column", errors.ErrSchemaMismatch, raw, raw)
		}
	}
	return nil
}

// append stores raw, which checkValue has already accepted.
func (c *column) append(raw any) {
	switch c.def.Type {
	case TypeInt32:
		v, _ := asInt32(raw)
		c.i32 = append(c.i32, v)
	case TypeFloat64:
		v, _ := asFloat64(raw)
		c.f64 = append(c.f64, v)
	case TypeString:
		c.str = append(c.str, raw.(string))
	}
}

// asInt32 accepts the integer shapes callers realistically hand us.
// Values outside the int32 range are rejected, never truncated.
func asInt32(raw any) (int32, bool) {
	switch v := raw.(type) {
	case int32:
		return v, true
	case int:
		if v < math.MinInt32 || v > math.MaxInt32 {
			return 0, false
		}
		return int32(v), true
	case int64:
		if v < math.MinInt32 || v > math.MaxInt32 {
			return 0, false
		}
		return int32(v), true
	case float64:
		// Allow whole floats: decoded JSON numbers arrive as float64
		if v == float64(int32(v)) {
			return int32(v), true
		}
		return 0, false
	default:
		return 0, false
	}
}

func asFloat64(raw any) (float64, bool) {
	switch v := raw.(type) {
	case float64:
		return v, true
	case float32:
		return float64(v), true
	case int:
		return float64(v), true
	case int32:
		return float64(v), true
	case int64:
		return float64(v), true
	default:
		return 0, false
	}
}

// numericColumn resolves name to a numeric column or reports why it cannot
// be aggregated.
func (t *Table) numericColumn(name, method string) (*column, error) {
	c, ok := t.byName[name]
	if !ok {
		return nil, errors.WrapInvalid(errors.ErrUnknownColumn, "Table", method, fmt.Sprintf("column %q", name))
	}
	if c.def.Type == TypeString {
		return nil, errors.WrapInvalid(errors.ErrColumnType, "Table", method,
			fmt.Sprintf("numeric aggregate over string column %q", name))
	}
	return c, nil
}

// numericAt returns the value of a numeric column at row i as float64.
func (c *column) numericAt(i int) float64 {
	if c.def.Type == TypeInt32 {
		return float64(c.i32[i])
	}
	return c.f64[i]
}
