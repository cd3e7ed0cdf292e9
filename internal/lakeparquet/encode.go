package lakeparquet

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/parquet-go/parquet-go"

	"github.com/lakesync/lakesync/internal/deltamodel"
	"github.com/lakesync/lakesync/internal/hlc"
)

// EncodeSnapshot writes deltas as a Parquet file whose schema is derived
// from table. Column order is system columns first, then table.Columns
// order (SPEC_FULL §4.7). Returns the encoded file bytes.
func EncodeSnapshot(table deltamodel.TableSchema, deltas []deltamodel.RowDelta) ([]byte, error) {
	fs, err := buildSchema(table)
	if err != nil {
		return nil, err
	}

	var buf bytes.Buffer

	opts := []parquet.WriterOption{fs.schema}
	if csv := fs.boolColumnsCSV(); csv != "" {
		opts = append(opts, parquet.KeyValueMetadata(BoolColumnsMetaKey, csv))
	}

	w := parquet.NewWriter(&buf, opts...)

	for _, d := range deltas {
		row, err := encodeRow(fs, d)
		if err != nil {
			return nil, err
		}

		if _, err := w.WriteRows([]parquet.Row{row}); err != nil {
			return nil, fmt.Errorf("lakeparquet: write row for delta %q: %w", d.DeltaID, err)
		}
	}

	if err := w.Close(); err != nil {
		return nil, fmt.Errorf("lakeparquet: close writer: %w", err)
	}

	return buf.Bytes(), nil
}

// DecodeSnapshot reads back a Parquet file produced by EncodeSnapshot,
// restoring RowDeltas for the given table. The file's own
// BoolColumnsMetaKey metadata, not the passed-in schema, is authoritative
// for which columns decode as Boolean (SPEC_FULL §4.7): the table's
// column types may have evolved since this file was flushed.
func DecodeSnapshot(table deltamodel.TableSchema, data []byte) ([]deltamodel.RowDelta, error) {
	fs, err := buildSchema(table)
	if err != nil {
		return nil, err
	}

	pf, err := parquet.OpenFile(bytes.NewReader(data), int64(len(data)))
	if err != nil {
		return nil, fmt.Errorf("lakeparquet: open file: %w", err)
	}

	if csv, ok := pf.Lookup(BoolColumnsMetaKey); ok {
		fs.applyBoolColumnsCSV(csv)
	}

	r := parquet.NewReader(bytes.NewReader(data), fs.schema)
	defer r.Close()

	var out []deltamodel.RowDelta

	for {
		rows := make([]parquet.Row, 64)

		n, err := r.ReadRows(rows)
		for i := 0; i < n; i++ {
			d, decodeErr := decodeRow(fs, rows[i])
			if decodeErr != nil {
				return nil, decodeErr
			}

			out = append(out, d)
		}

		if err != nil {
			break
		}
	}

	return out, nil
}

func encodeRow(fs *fileSchema, d deltamodel.RowDelta) (parquet.Row, error) {
	byName := map[string]deltamodel.ColumnValue{}
	present := make([]string, 0, len(d.Columns))

	for _, c := range d.Columns {
		byName[c.Column] = c.Value
		present = append(present, c.Column)
	}

	presenceCSV := strings.Join(present, ",")

	row := make(parquet.Row, 0, len(fs.columnNames))

	for i, name := range fs.columnNames {
		switch name {
		case "op":
			row = append(row, parquet.ValueOf(string(d.Op)).Level(0, 0, i))
		case "table":
			row = append(row, parquet.ValueOf(d.Table).Level(0, 0, i))
		case "rowId":
			row = append(row, parquet.ValueOf(d.RowID).Level(0, 0, i))
		case "clientId":
			row = append(row, parquet.ValueOf(d.ClientID).Level(0, 0, i))
		case "hlc":
			row = append(row, parquet.ValueOf(int64(d.HLC)).Level(0, 0, i))
		case "deltaId":
			row = append(row, parquet.ValueOf(d.DeltaID).Level(0, 0, i))
		case presenceColumn:
			row = append(row, parquet.ValueOf(presenceCSV).Level(0, 0, i))
		default:
			v, ok := byName[name]
			if !ok {
				row = append(row, parquet.ValueOf(nil).Level(0, 0, i))
				continue
			}

			if v.Kind == deltamodel.KindNull {
				row = append(row, parquet.ValueOf(nil).Level(0, 0, i))
				continue
			}

			val, err := encodeColumnValue(v, fs.boolColumns[name])
			if err != nil {
				return nil, fmt.Errorf("lakeparquet: encode column %q: %w", name, err)
			}

			row = append(row, val.Level(0, 1, i))
		}
	}

	return row, nil
}

func encodeColumnValue(v deltamodel.ColumnValue, isBool bool) (parquet.Value, error) {
	switch v.Kind {
	case deltamodel.KindString:
		return parquet.ValueOf(v.Str), nil
	case deltamodel.KindNumber:
		return parquet.ValueOf(v.Num), nil
	case deltamodel.KindBool:
		if isBool {
			if v.Bool {
				return parquet.ValueOf(int32(1)), nil
			}

			return parquet.ValueOf(int32(0)), nil
		}

		return parquet.ValueOf(v.Bool), nil
	case deltamodel.KindJSON:
		b, err := json.Marshal(v.JSON)
		if err != nil {
			return parquet.Value{}, fmt.Errorf("marshal json column: %w", err)
		}

		return parquet.ValueOf(string(b)), nil
	default:
		return parquet.Value{}, fmt.Errorf("unknown column value kind %d", v.Kind)
	}
}

func decodeRow(fs *fileSchema, row parquet.Row) (deltamodel.RowDelta, error) {
	d := deltamodel.RowDelta{}
	present := presentColumnSet(fs, row)

	for i, name := range fs.columnNames {
		if i >= len(row) {
			break
		}

		val := row[i]

		switch name {
		case "op":
			d.Op = deltamodel.Op(val.String())
		case "table":
			d.Table = val.String()
		case "rowId":
			d.RowID = val.String()
		case "clientId":
			d.ClientID = val.String()
		case "hlc":
			d.HLC = hlc.Timestamp(val.Int64())
		case "deltaId":
			d.DeltaID = val.String()
		case presenceColumn:
			continue
		default:
			if !present[name] {
				continue
			}

			if val.IsNull() {
				d.Columns = append(d.Columns, deltamodel.ColumnDelta{Column: name, Value: deltamodel.NullValue()})
				continue
			}

			cv, err := decodeColumnValue(val, fs.boolColumns[name], fs.jsonColumns[name])
			if err != nil {
				return deltamodel.RowDelta{}, fmt.Errorf("lakeparquet: decode column %q: %w", name, err)
			}

			d.Columns = append(d.Columns, deltamodel.ColumnDelta{Column: name, Value: cv})
		}
	}

	return d, nil
}

// presentColumnSet reads row's presenceColumn value, recorded at encode
// time from the source RowDelta's Columns, and returns the set of user
// columns that were actually present (as opposed to untouched by that
// delta). Looked up before the main decode loop since presenceColumn
// sits after the user columns in schema order.
func presentColumnSet(fs *fileSchema, row parquet.Row) map[string]bool {
	present := map[string]bool{}

	for i, name := range fs.columnNames {
		if name != presenceColumn || i >= len(row) {
			continue
		}

		for _, col := range strings.Split(row[i].String(), ",") {
			if col != "" {
				present[col] = true
			}
		}

		break
	}

	return present
}

func decodeColumnValue(val parquet.Value, isBool, isJSON bool) (deltamodel.ColumnValue, error) {
	if isBool {
		return deltamodel.BoolValue(val.Int32() != 0), nil
	}

	if isJSON {
		var v any
		if err := json.Unmarshal([]byte(val.String()), &v); err != nil {
			return deltamodel.ColumnValue{}, fmt.Errorf("unmarshal json column: %w", err)
		}

		return deltamodel.JSONValue(v), nil
	}

	switch val.Kind() {
	case parquet.ByteArray, parquet.FixedLenByteArray:
		return deltamodel.StringValue(val.String()), nil
	case parquet.Double, parquet.Float:
		return deltamodel.NumberValue(val.Double()), nil
	case parquet.Boolean:
		return deltamodel.BoolValue(val.Boolean()), nil
	default:
		return deltamodel.StringValue(val.String()), nil
	}
}
