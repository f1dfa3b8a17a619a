// Package param converts ordered, heterogeneous argument lists to and from
// the fixed five-column parameter table understood by the engine.
//
// Each argument occupies one row. Exactly one cell of the row is non-null and
// its column identifies the argument's kind; an all-null row is a null
// argument. Rows are decoded by testing the columns in priority order
// int, float, timestamp, string, bytes.
package param

import (
	"errors"
	"fmt"
	"math"
	"reflect"
	"time"

	"github.com/unkn0wn-root/rpccache/table"
)

// Column names of the parameter table, in wire order.
const (
	ColInt       = "BIGINT_COL"
	ColFloat     = "FLOAT_COL"
	ColTimestamp = "TIMESTAMP_COL"
	ColString    = "STRING_COL"
	ColBytes     = "VARBINARY_COL"
)

var columns = []table.Column{
	{Name: ColInt, Kind: table.KindInt},
	{Name: ColFloat, Kind: table.KindFloat},
	{Name: ColTimestamp, Kind: table.KindTime},
	{Name: ColString, Kind: table.KindText},
	{Name: ColBytes, Kind: table.KindBytes},
}

var (
	ErrMalformedTable          = errors.New("param: malformed parameter table")
	ErrUnsupportedArgumentType = errors.New("param: unsupported argument type")
)

// UnsupportedArgumentTypeError names the offending argument.
type UnsupportedArgumentTypeError struct {
	Index int
	Type  string
}

func (e *UnsupportedArgumentTypeError) Error() string {
	return fmt.Sprintf("param: argument %d has unsupported type %s", e.Index, e.Type)
}

func (e *UnsupportedArgumentTypeError) Unwrap() error { return ErrUnsupportedArgumentType }

// Encode builds the parameter table for args. A nil list means "no
// parameters" and yields nil; an empty non-nil list yields an empty table.
func Encode(args []table.Value) *table.Table {
	if args == nil {
		return nil
	}
	t := table.New(columns...)
	t.Rows = make([][]table.Value, 0, len(args))
	for _, a := range args {
		row := make([]table.Value, len(columns))
		switch a.Kind() {
		case table.KindInt:
			row[0] = a
		case table.KindFloat:
			row[1] = a
		case table.KindTime:
			row[2] = a
		case table.KindText:
			row[3] = a
		case table.KindBytes:
			row[4] = a
		}
		t.Rows = append(t.Rows, row)
	}
	return t
}

// Decode is the inverse of Encode. A nil table yields a nil list.
func Decode(t *table.Table) ([]table.Value, error) {
	if t == nil {
		return nil, nil
	}
	if len(t.Columns) != len(columns) {
		return nil, fmt.Errorf("%w: %d columns", ErrMalformedTable, len(t.Columns))
	}
	for i, c := range t.Columns {
		if c != columns[i] {
			return nil, fmt.Errorf("%w: column %d is %s/%s", ErrMalformedTable, i, c.Name, c.Kind)
		}
	}
	out := make([]table.Value, 0, len(t.Rows))
	for r, row := range t.Rows {
		if len(row) != len(columns) {
			return nil, fmt.Errorf("%w: row %d has %d cells", ErrMalformedTable, r, len(row))
		}
		v := table.Null()
		for i, cell := range row {
			if cell.IsNull() {
				continue
			}
			if cell.Kind() != columns[i].Kind {
				return nil, fmt.Errorf("%w: row %d column %s holds %s", ErrMalformedTable, r, columns[i].Name, cell.Kind())
			}
			v = cell
			break
		}
		out = append(out, v)
	}
	return out, nil
}

// FromAny converts Go arguments to Values. Supported: nil, every signed and
// unsigned integer width, float32/64, bool (as 0/1), time.Time, string,
// []byte and table.Value. Anything else fails fast.
func FromAny(args ...any) ([]table.Value, error) {
	if args == nil {
		return nil, nil
	}
	out := make([]table.Value, len(args))
	for i, a := range args {
		v, err := valueOf(a)
		if err != nil {
			return nil, &UnsupportedArgumentTypeError{Index: i, Type: typeName(a)}
		}
		out[i] = v
	}
	return out, nil
}

func valueOf(a any) (table.Value, error) {
	switch x := a.(type) {
	case nil:
		return table.Null(), nil
	case table.Value:
		return x, nil
	case int:
		return table.Int(int64(x)), nil
	case int8:
		return table.Int(int64(x)), nil
	case int16:
		return table.Int(int64(x)), nil
	case int32:
		return table.Int(int64(x)), nil
	case int64:
		return table.Int(x), nil
	case uint:
		return uintValue(uint64(x))
	case uint8:
		return table.Int(int64(x)), nil
	case uint16:
		return table.Int(int64(x)), nil
	case uint32:
		return table.Int(int64(x)), nil
	case uint64:
		return uintValue(x)
	case bool:
		if x {
			return table.Int(1), nil
		}
		return table.Int(0), nil
	case float32:
		return table.Float(float64(x)), nil
	case float64:
		return table.Float(x), nil
	case time.Time:
		return table.Time(x), nil
	case *time.Time:
		if x == nil {
			return table.Null(), nil
		}
		return table.Time(*x), nil
	case string:
		return table.Text(x), nil
	case []byte:
		return table.Bytes(x), nil
	}
	return table.Value{}, ErrUnsupportedArgumentType
}

func uintValue(u uint64) (table.Value, error) {
	if u > math.MaxInt64 {
		return table.Value{}, ErrUnsupportedArgumentType
	}
	return table.Int(int64(u)), nil
}

func typeName(a any) string {
	if a == nil {
		return "nil"
	}
	return reflect.TypeOf(a).String()
}
