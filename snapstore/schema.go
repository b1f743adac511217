package snapstore

import (
	"fmt"
	"sort"
	"strconv"
	"strings"
	"time"
	"unicode/utf8"

	jsoniter "github.com/json-iterator/go"
)

var jsonCodec = jsoniter.ConfigCompatibleWithStandardLibrary

// -----------------------------------------------------------------------------
// Column types and schema
// -----------------------------------------------------------------------------

// ColumnType enumerates the semantic types a snapshot column can carry.
type ColumnType int

// Column type constants for schema definitions.
const (
	TypeString ColumnType = iota
	TypeInt64
	TypeFloat64
	TypeBool
	TypeTimestamp
	TypeBytes
	TypeJSON // nested values stored as JSON text
	columnTypeMax
)

// String returns the type name used in error messages.
func (t ColumnType) String() string {
	switch t {
	case TypeString:
		return "string"
	case TypeInt64:
		return "int64"
	case TypeFloat64:
		return "float64"
	case TypeBool:
		return "bool"
	case TypeTimestamp:
		return "timestamp"
	case TypeBytes:
		return "bytes"
	case TypeJSON:
		return "json"
	default:
		return fmt.Sprintf("ColumnType(%d)", int(t))
	}
}

// Column defines a single column in a snapshot schema.
type Column struct {
	Name     string
	Type     ColumnType
	Nullable bool
}

// Schema defines the column structure for Parquet encoding.
type Schema struct {
	Columns []Column
}

// InferSchema derives a Schema from a table's values.
//
// The first non-nil value in each column decides the type; a column that
// mixes integers and floats widens to float64. Columns containing any nil
// or missing value are nullable. A column with no values at all becomes a
// nullable string.
func InferSchema(tbl *Table) *Schema {
	schema := &Schema{Columns: make([]Column, 0, len(tbl.Columns))}
	for _, name := range tbl.Columns {
		col := Column{Name: name, Type: TypeString, Nullable: true}
		typed := false
		sawNull := false
		for _, row := range tbl.Rows {
			v, ok := row[name]
			if !ok || v == nil {
				sawNull = true
				continue
			}
			t := typeOf(v)
			if !typed {
				col.Type = t
				typed = true
				continue
			}
			if col.Type != t {
				col.Type = widen(col.Type, t)
			}
		}
		if typed {
			col.Nullable = sawNull
		}
		schema.Columns = append(schema.Columns, col)
	}
	return schema
}

func typeOf(v any) ColumnType {
	switch x := v.(type) {
	case string:
		return TypeString
	case bool:
		return TypeBool
	case int, int32, int64:
		return TypeInt64
	case float32:
		return TypeFloat64
	case float64:
		// JSON numbers arrive as float64; keep integral values as int64.
		if x == float64(int64(x)) {
			return TypeInt64
		}
		return TypeFloat64
	case time.Time:
		return TypeTimestamp
	case []byte:
		return TypeBytes
	case map[string]any, []any:
		return TypeJSON
	default:
		return TypeString
	}
}

// widen resolves a type conflict within a column.
func widen(a, b ColumnType) ColumnType {
	if a == b {
		return a
	}
	if (a == TypeInt64 && b == TypeFloat64) || (a == TypeFloat64 && b == TypeInt64) {
		return TypeFloat64
	}
	return TypeString
}

// -----------------------------------------------------------------------------
// Per-dataset descriptors
// -----------------------------------------------------------------------------

// Rule specifies the target semantic type and optional rename for one
// column.
type Rule struct {
	Type   ColumnType
	Rename string
}

// Descriptor is a per-dataset schema descriptor: column name to coercion
// rule. It replaces ad hoc per-column fixups with one uniform pass whose
// failures are enumerable.
type Descriptor struct {
	Dataset string
	Rules   map[string]Rule
}

// CoercionError records a single value that could not be coerced.
type CoercionError struct {
	Column string
	Row    int
	Value  any
	Err    error
}

func (e CoercionError) Error() string {
	return fmt.Sprintf("column %q row %d: cannot coerce %v: %v", e.Column, e.Row, e.Value, e.Err)
}

// CoercionErrors aggregates every coercion failure from one Apply pass.
type CoercionErrors []CoercionError

func (e CoercionErrors) Error() string {
	msgs := make([]string, 0, len(e))
	for _, ce := range e {
		msgs = append(msgs, ce.Error())
	}
	return fmt.Sprintf("%d coercion failure(s): %s", len(e), strings.Join(msgs, "; "))
}

// Apply renames and coerces a table according to the descriptor.
//
// Columns without a rule keep their name and are normalized for columnar
// storage (nested values become JSON text, raw bytes become UTF-8 text).
// All coercion failures are collected and returned together; a failed
// apply returns no table.
func (d *Descriptor) Apply(tbl *Table) (*Table, error) {
	out := &Table{
		Columns: make([]string, len(tbl.Columns)),
		Rows:    make([]Row, 0, len(tbl.Rows)),
	}
	for i, name := range tbl.Columns {
		if rule, ok := d.Rules[name]; ok && rule.Rename != "" {
			out.Columns[i] = rule.Rename
		} else {
			out.Columns[i] = name
		}
	}

	var failures CoercionErrors
	for i, row := range tbl.Rows {
		newRow := make(Row, len(row))
		for j, name := range tbl.Columns {
			v, ok := row[name]
			if !ok || v == nil {
				continue
			}
			rule, ruled := d.Rules[name]
			if !ruled {
				newRow[out.Columns[j]] = columnSafe(v)
				continue
			}
			coerced, err := Coerce(v, rule.Type)
			if err != nil {
				failures = append(failures, CoercionError{Column: name, Row: i, Value: v, Err: err})
				continue
			}
			newRow[out.Columns[j]] = coerced
		}
		out.Rows = append(out.Rows, newRow)
	}

	if len(failures) > 0 {
		return nil, failures
	}
	return out, nil
}

// SortedRuleColumns returns the ruled column names in stable order, useful
// for logging which columns a descriptor touches.
func (d *Descriptor) SortedRuleColumns() []string {
	names := make([]string, 0, len(d.Rules))
	for name := range d.Rules {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// columnSafe normalizes a value for columnar storage: nested structures
// become JSON text, raw bytes become UTF-8 text.
func columnSafe(v any) any {
	switch x := v.(type) {
	case map[string]any, []any:
		s, err := jsonCodec.MarshalToString(x)
		if err != nil {
			return fmt.Sprintf("%v", x)
		}
		return s
	case []byte:
		if utf8.Valid(x) {
			return string(x)
		}
		return x
	default:
		return v
	}
}

// timestampFormats are the accepted textual timestamp forms, tried in
// order.
var timestampFormats = []string{
	time.RFC3339Nano,
	time.RFC3339,
	"2006-01-02 15:04:05",
	"2006-01-02",
}

// Coerce converts a value to the target column type.
func Coerce(v any, target ColumnType) (any, error) {
	switch target {
	case TypeString:
		switch x := v.(type) {
		case string:
			return x, nil
		case []byte:
			return string(x), nil
		case bool:
			return strconv.FormatBool(x), nil
		case int:
			return strconv.FormatInt(int64(x), 10), nil
		case int32:
			return strconv.FormatInt(int64(x), 10), nil
		case int64:
			return strconv.FormatInt(x, 10), nil
		case float64:
			return strconv.FormatFloat(x, 'g', -1, 64), nil
		case time.Time:
			return x.UTC().Format(time.RFC3339Nano), nil
		}

	case TypeInt64:
		switch x := v.(type) {
		case int:
			return int64(x), nil
		case int32:
			return int64(x), nil
		case int64:
			return x, nil
		case float64:
			if x != float64(int64(x)) {
				return nil, fmt.Errorf("%v is not an integer", x)
			}
			return int64(x), nil
		case string:
			n, err := strconv.ParseInt(strings.TrimSpace(x), 10, 64)
			if err != nil {
				return nil, err
			}
			return n, nil
		}

	case TypeFloat64:
		switch x := v.(type) {
		case int:
			return float64(x), nil
		case int32:
			return float64(x), nil
		case int64:
			return float64(x), nil
		case float32:
			return float64(x), nil
		case float64:
			return x, nil
		case string:
			f, err := strconv.ParseFloat(strings.TrimSpace(x), 64)
			if err != nil {
				return nil, err
			}
			return f, nil
		}

	case TypeBool:
		switch x := v.(type) {
		case bool:
			return x, nil
		case string:
			b, err := strconv.ParseBool(strings.TrimSpace(x))
			if err != nil {
				return nil, err
			}
			return b, nil
		}

	case TypeTimestamp:
		switch x := v.(type) {
		case time.Time:
			return x.UTC(), nil
		case string:
			s := strings.TrimSpace(x)
			for _, layout := range timestampFormats {
				if t, err := time.Parse(layout, s); err == nil {
					return t.UTC(), nil
				}
			}
			return nil, fmt.Errorf("unrecognized timestamp %q", x)
		}

	case TypeBytes:
		switch x := v.(type) {
		case []byte:
			return x, nil
		case string:
			return []byte(x), nil
		}

	case TypeJSON:
		switch x := v.(type) {
		case string:
			return x, nil
		default:
			s, err := jsonCodec.MarshalToString(x)
			if err != nil {
				return nil, err
			}
			return s, nil
		}
	}

	return nil, fmt.Errorf("cannot convert %T to %s", v, target)
}
