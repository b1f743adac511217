package snapstore

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"math"
	"time"

	"github.com/parquet-go/parquet-go"
)

// -----------------------------------------------------------------------------
// Parquet payload codec
// -----------------------------------------------------------------------------
//
// Snapshot payloads are serialized as Parquet: typed columns, nested values
// as JSON text, internal compression. Readers must decode the identical
// format, including legacy flat snapshots written before the partition
// layout existed, so Decode derives the column set from the file footer
// rather than from a manifest.

// Compression specifies internal Parquet page compression.
type Compression int

// Compression options for snapshot payloads.
const (
	CompressionSnappy Compression = iota
	CompressionGzip
	CompressionZstd
	CompressionNone
)

// maxSafeInt64 is the largest integer exactly representable in a float64.
const maxSafeInt64 = 1 << 53

func (c Compression) writerOption() parquet.WriterOption {
	switch c {
	case CompressionGzip:
		return parquet.Compression(&parquet.Gzip)
	case CompressionZstd:
		return parquet.Compression(&parquet.Zstd)
	case CompressionNone:
		return parquet.Compression(&parquet.Uncompressed)
	default:
		return parquet.Compression(&parquet.Snappy)
	}
}

// EncodeParquet serializes a table to Parquet.
//
// A nil schema is inferred from the table's values. Column order inside the
// file follows parquet-go's canonical (sorted) field order; the produced
// column order is preserved in the manifest, not the file.
func EncodeParquet(w io.Writer, tbl *Table, schema *Schema, comp Compression) error {
	if schema == nil {
		schema = InferSchema(tbl)
	}
	if err := validateSchema(schema); err != nil {
		return err
	}

	pqSchema, err := buildParquetSchema(schema)
	if err != nil {
		return err
	}

	// Ordered field names matching the built schema's column positions.
	fieldOrder := make([]string, len(pqSchema.Fields()))
	for i, f := range pqSchema.Fields() {
		fieldOrder[i] = f.Name()
	}
	byName := make(map[string]Column, len(schema.Columns))
	for _, col := range schema.Columns {
		byName[col.Name] = col
	}

	rowBuf := parquet.NewBuffer(pqSchema)
	for i, record := range tbl.Rows {
		row, err := recordToRow(record, i, fieldOrder, byName)
		if err != nil {
			return err
		}
		if _, err := rowBuf.WriteRows([]parquet.Row{row}); err != nil {
			return fmt.Errorf("parquet: write row %d: %w", i, err)
		}
	}

	var buf bytes.Buffer
	pqWriter := parquet.NewWriter(&buf, pqSchema, comp.writerOption())
	if _, err := pqWriter.WriteRowGroup(rowBuf); err != nil {
		_ = pqWriter.Close()
		return fmt.Errorf("parquet: write row group: %w", err)
	}
	if err := pqWriter.Close(); err != nil {
		return fmt.Errorf("parquet: close writer: %w", err)
	}

	_, err = io.Copy(w, &buf)
	return err
}

// DecodeParquet reads a Parquet payload back into a table.
//
// Columns follow the file's field order. Column types are recovered from
// the file footer, so payloads decode without a manifest.
func DecodeParquet(r io.Reader) (*Table, error) {
	data, err := io.ReadAll(r)
	if err != nil {
		return nil, fmt.Errorf("parquet: read file: %w", err)
	}
	if len(data) == 0 {
		return nil, ErrInvalidFormat
	}

	file, err := parquet.OpenFile(bytes.NewReader(data), int64(len(data)))
	if err != nil {
		if errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF) {
			return nil, ErrInvalidFormat
		}
		return nil, fmt.Errorf("%w: %w", ErrInvalidFormat, err)
	}

	fields := file.Schema().Fields()
	tbl := &Table{Columns: make([]string, len(fields))}
	types := make([]ColumnType, len(fields))
	for i, f := range fields {
		tbl.Columns[i] = f.Name()
		types[i] = fieldColumnType(f)
	}

	if file.NumRows() == 0 {
		return tbl, nil
	}

	reader := parquet.NewReader(file)
	defer func() { _ = reader.Close() }()

	rows := make([]parquet.Row, 100)
	for {
		n, err := reader.ReadRows(rows)
		for i := 0; i < n; i++ {
			record := make(Row, len(fields))
			for j, name := range tbl.Columns {
				if j >= len(rows[i]) {
					continue
				}
				val := rows[i][j]
				if val.IsNull() {
					record[name] = nil
					continue
				}
				record[name] = valueToGo(val, types[j])
			}
			tbl.Rows = append(tbl.Rows, record)
		}
		if err != nil {
			if errors.Is(err, io.EOF) {
				break
			}
			return nil, fmt.Errorf("%w: read rows: %w", ErrInvalidFormat, err)
		}
	}

	return tbl, nil
}

func validateSchema(schema *Schema) error {
	seen := make(map[string]bool, len(schema.Columns))
	for _, col := range schema.Columns {
		if col.Type < 0 || col.Type >= columnTypeMax {
			return fmt.Errorf("%w: invalid ColumnType %d for column %q", ErrSchemaViolation, col.Type, col.Name)
		}
		if col.Name == "" {
			return fmt.Errorf("%w: column name cannot be empty", ErrSchemaViolation)
		}
		if seen[col.Name] {
			return fmt.Errorf("%w: duplicate column name %q", ErrSchemaViolation, col.Name)
		}
		seen[col.Name] = true
	}
	return nil
}

// buildParquetSchema creates a parquet-go schema from a column schema.
func buildParquetSchema(schema *Schema) (*parquet.Schema, error) {
	group := make(parquet.Group, len(schema.Columns))
	for _, col := range schema.Columns {
		node, err := buildColumnNode(col)
		if err != nil {
			return nil, err
		}
		group[col.Name] = node
	}
	return parquet.NewSchema("snapshot", group), nil
}

func buildColumnNode(col Column) (parquet.Node, error) {
	var node parquet.Node

	switch col.Type {
	case TypeString, TypeJSON:
		node = parquet.String()
	case TypeInt64:
		node = parquet.Int(64)
	case TypeFloat64:
		node = parquet.Leaf(parquet.DoubleType)
	case TypeBool:
		node = parquet.Leaf(parquet.BooleanType)
	case TypeTimestamp:
		node = parquet.Timestamp(parquet.Nanosecond)
	case TypeBytes:
		node = parquet.Leaf(parquet.ByteArrayType)
	default:
		return nil, fmt.Errorf("%w: invalid ColumnType %d for column %q", ErrSchemaViolation, col.Type, col.Name)
	}

	if col.Nullable {
		node = parquet.Optional(node)
	}
	return node, nil
}

// fieldColumnType recovers the semantic column type from a parquet field.
func fieldColumnType(f parquet.Field) ColumnType {
	if lt := f.Type().LogicalType(); lt != nil {
		switch {
		case lt.Timestamp != nil:
			return TypeTimestamp
		case lt.UTF8 != nil, lt.Json != nil:
			return TypeString
		}
	}
	switch f.Type().Kind() {
	case parquet.Boolean:
		return TypeBool
	case parquet.Int32, parquet.Int64:
		return TypeInt64
	case parquet.Float, parquet.Double:
		return TypeFloat64
	case parquet.ByteArray, parquet.FixedLenByteArray:
		return TypeBytes
	default:
		return TypeString
	}
}

// recordToRow converts a Row to a parquet Row in schema field order.
func recordToRow(record Row, index int, fieldOrder []string, byName map[string]Column) (parquet.Row, error) {
	row := make(parquet.Row, len(fieldOrder))
	for i, name := range fieldOrder {
		col := byName[name]

		val, exists := record[name]
		if !exists || val == nil {
			if !col.Nullable {
				return nil, fmt.Errorf("%w: row %d missing required column %q", ErrSchemaViolation, index, name)
			}
			row[i] = parquet.NullValue().Level(0, 0, i)
			continue
		}

		pqVal, err := toParquetValue(val, col, index)
		if err != nil {
			return nil, err
		}
		defLevel := 0
		if col.Nullable {
			defLevel = 1
		}
		row[i] = pqVal.Level(0, defLevel, i)
	}
	return row, nil
}

// toParquetValue converts a Go value to a parquet Value.
//
//nolint:gocyclo // Type switch with validation for each column type is inherently complex.
func toParquetValue(val any, col Column, index int) (parquet.Value, error) {
	switch col.Type {
	case TypeString, TypeJSON:
		switch v := val.(type) {
		case string:
			return parquet.ByteArrayValue([]byte(v)), nil
		default:
			if col.Type == TypeJSON {
				s, err := jsonCodec.MarshalToString(v)
				if err != nil {
					return parquet.Value{}, fmt.Errorf("%w: row %d column %q: %v", ErrSchemaViolation, index, col.Name, err)
				}
				return parquet.ByteArrayValue([]byte(s)), nil
			}
			return parquet.Value{}, fmt.Errorf("%w: row %d column %q: expected string, got %T", ErrSchemaViolation, index, col.Name, val)
		}

	case TypeInt64:
		switch v := val.(type) {
		case int:
			return parquet.Int64Value(int64(v)), nil
		case int32:
			return parquet.Int64Value(int64(v)), nil
		case int64:
			return parquet.Int64Value(v), nil
		case float64: // JSON numbers
			if math.Trunc(v) != v {
				return parquet.Value{}, fmt.Errorf("%w: row %d column %q: float64 %v is not an integer", ErrSchemaViolation, index, col.Name, v)
			}
			if v < -maxSafeInt64 || v > maxSafeInt64 {
				return parquet.Value{}, fmt.Errorf("%w: row %d column %q: value %v exceeds safe integer range for float64", ErrSchemaViolation, index, col.Name, v)
			}
			return parquet.Int64Value(int64(v)), nil
		default:
			return parquet.Value{}, fmt.Errorf("%w: row %d column %q: expected int64, got %T", ErrSchemaViolation, index, col.Name, val)
		}

	case TypeFloat64:
		switch v := val.(type) {
		case int:
			return parquet.DoubleValue(float64(v)), nil
		case int64:
			return parquet.DoubleValue(float64(v)), nil
		case float32:
			return parquet.DoubleValue(float64(v)), nil
		case float64:
			return parquet.DoubleValue(v), nil
		default:
			return parquet.Value{}, fmt.Errorf("%w: row %d column %q: expected float64, got %T", ErrSchemaViolation, index, col.Name, val)
		}

	case TypeBool:
		switch v := val.(type) {
		case bool:
			return parquet.BooleanValue(v), nil
		default:
			return parquet.Value{}, fmt.Errorf("%w: row %d column %q: expected bool, got %T", ErrSchemaViolation, index, col.Name, val)
		}

	case TypeTimestamp:
		switch v := val.(type) {
		case time.Time:
			return parquet.Int64Value(v.UnixNano()), nil
		case string:
			t, err := time.Parse(time.RFC3339Nano, v)
			if err != nil {
				return parquet.Value{}, fmt.Errorf("%w: row %d column %q: invalid timestamp: %w", ErrSchemaViolation, index, col.Name, err)
			}
			return parquet.Int64Value(t.UnixNano()), nil
		default:
			return parquet.Value{}, fmt.Errorf("%w: row %d column %q: expected time.Time, got %T", ErrSchemaViolation, index, col.Name, val)
		}

	case TypeBytes:
		switch v := val.(type) {
		case []byte:
			return parquet.ByteArrayValue(v), nil
		case string:
			return parquet.ByteArrayValue([]byte(v)), nil
		default:
			return parquet.Value{}, fmt.Errorf("%w: row %d column %q: expected []byte, got %T", ErrSchemaViolation, index, col.Name, val)
		}

	default:
		return parquet.Value{}, fmt.Errorf("%w: row %d column %q: unknown type %d", ErrSchemaViolation, index, col.Name, col.Type)
	}
}

// valueToGo converts a parquet Value back to a Go value.
func valueToGo(val parquet.Value, t ColumnType) any {
	switch t {
	case TypeInt64:
		if val.Kind() == parquet.Int32 {
			return int64(val.Int32())
		}
		return val.Int64()
	case TypeFloat64:
		if val.Kind() == parquet.Float {
			return float64(val.Float())
		}
		return val.Double()
	case TypeBool:
		return val.Boolean()
	case TypeTimestamp:
		return time.Unix(0, val.Int64()).UTC()
	case TypeBytes:
		return val.ByteArray()
	default:
		return string(val.ByteArray())
	}
}
