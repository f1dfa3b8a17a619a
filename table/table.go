package table

import "fmt"

// Column describes one column of a Table.
type Column struct {
	Name string `cbor:"1,keyasint"`
	Kind Kind   `cbor:"2,keyasint"`
}

// Table is a small rectangular result set. Every row has len(Columns) cells;
// a cell is either Null or a Value of its column's Kind.
type Table struct {
	Columns []Column  `cbor:"1,keyasint"`
	Rows    [][]Value `cbor:"2,keyasint"`
}

// New builds an empty table with the given columns.
func New(cols ...Column) *Table {
	return &Table{Columns: cols}
}

// Of is a one-column, one-row table.
func Of(name string, v Value) *Table {
	t := New(Column{Name: name, Kind: v.Kind()})
	t.Rows = append(t.Rows, []Value{v})
	return t
}

// Append adds a row. It panics when the row width does not match the
// column count, which is always a programming error.
func (t *Table) Append(row ...Value) {
	if len(row) != len(t.Columns) {
		panic(fmt.Sprintf("table: row has %d cells, want %d", len(row), len(t.Columns)))
	}
	t.Rows = append(t.Rows, row)
}

func (t *Table) Len() int {
	if t == nil {
		return 0
	}
	return len(t.Rows)
}

// Scalar returns column 0 of row 0, or ok=false when the table is empty.
func (t *Table) Scalar() (Value, bool) {
	if t == nil || len(t.Rows) == 0 || len(t.Rows[0]) == 0 {
		return Value{}, false
	}
	return t.Rows[0][0], true
}

// ColumnIndex returns the position of the named column or -1.
func (t *Table) ColumnIndex(name string) int {
	for i, c := range t.Columns {
		if c.Name == name {
			return i
		}
	}
	return -1
}

// Strings flattens column 0 into strings, skipping non-text cells.
// Handy for single-column diagnostic tables.
func (t *Table) Strings() []string {
	if t == nil {
		return nil
	}
	out := make([]string, 0, len(t.Rows))
	for _, r := range t.Rows {
		if len(r) == 0 {
			continue
		}
		if s, ok := r[0].AsText(); ok {
			out = append(out, s)
		}
	}
	return out
}
