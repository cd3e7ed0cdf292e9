// Package lakeparquet implements the Parquet flush format described in
// SPEC_FULL.md §4.7: a dynamic per-table Parquet schema derived from a
// TableSchema, Snappy-compressed row groups, and struct-free row writing
// via parquet-go's low-level Row/Value API (no fixed Go struct can model
// an arbitrary user table).
package lakeparquet

import (
	"fmt"
	"strings"

	"github.com/golang/snappy"
	"github.com/parquet-go/parquet-go"
	"github.com/parquet-go/parquet-go/compress"
	"github.com/parquet-go/parquet-go/format"

	"github.com/lakesync/lakesync/internal/deltamodel"
)

// BoolColumnsMetaKey is the Parquet file metadata key listing columns
// that are logically Boolean but physically encoded as Int8, comma
// separated. Readers consult this key to restore Boolean values.
const BoolColumnsMetaKey = "lakesync:bool_columns"

// presenceColumn is an internal bookkeeping column, written after the
// user columns, holding a comma-separated list of the user columns that
// were actually present on the source RowDelta. A column can be present
// with an explicit null (DELETE, or a null-setting UPDATE) or absent
// entirely (untouched by that delta); the optional Parquet encoding
// alone can't tell the two apart on read, so this column disambiguates
// them (SPEC_FULL.md flush round-trip property).
const presenceColumn = "__lakesync_present__"

// systemColumns precede every table's user columns, in this fixed order.
var systemColumns = []string{"op", "table", "rowId", "clientId", "hlc", "deltaId"}

// snappyCodec adapts golang/snappy's block codec to parquet-go's
// compress.Codec interface so the dependency drives page compression
// directly rather than relying on parquet-go's own bundled codec.
type snappyCodec struct{}

func (snappyCodec) String() string { return "LAKESYNC_SNAPPY" }

func (snappyCodec) CompressionCodec() format.CompressionCodec { return format.Snappy }

func (snappyCodec) Encode(dst, src []byte) ([]byte, error) {
	return snappy.Encode(dst, src), nil
}

func (snappyCodec) Decode(dst, src []byte) ([]byte, error) {
	return snappy.Decode(dst, src)
}

var snappyCompression compress.Codec = snappyCodec{}

// fileSchema is a built per-table Parquet schema plus the bookkeeping
// needed to encode/decode rows against it.
type fileSchema struct {
	schema      *parquet.Schema
	columnNames []string // system columns then user columns, schema order
	boolColumns map[string]bool
	jsonColumns map[string]bool
}

// buildSchema derives a Parquet schema from a table's column definitions,
// placing system columns first and user columns in schema order.
func buildSchema(table deltamodel.TableSchema) (*fileSchema, error) {
	group := parquet.Group{}
	names := make([]string, 0, len(systemColumns)+len(table.Columns))
	boolCols := map[string]bool{}
	jsonCols := map[string]bool{}

	for _, name := range systemColumns {
		group[name] = parquet.Compressed(parquet.String(), snappyCompression)
		names = append(names, name)
	}

	group["hlc"] = parquet.Compressed(parquet.Int64(), snappyCompression)

	for _, col := range table.Columns {
		node, err := columnNode(col.Type)
		if err != nil {
			return nil, fmt.Errorf("lakeparquet: table %q column %q: %w", table.Table, col.Name, err)
		}

		group[col.Name] = parquet.Optional(node)
		names = append(names, col.Name)

		if col.Type == deltamodel.ColumnBool {
			boolCols[col.Name] = true
		}

		if col.Type == deltamodel.ColumnJSON {
			jsonCols[col.Name] = true
		}
	}

	group[presenceColumn] = parquet.Compressed(parquet.String(), snappyCompression)
	names = append(names, presenceColumn)

	schema := parquet.NewSchema(table.Table, group)

	return &fileSchema{schema: schema, columnNames: names, boolColumns: boolCols, jsonColumns: jsonCols}, nil
}

func columnNode(t deltamodel.ColumnType) (parquet.Node, error) {
	switch t {
	case deltamodel.ColumnString, deltamodel.ColumnJSON:
		return parquet.Compressed(parquet.String(), snappyCompression), nil
	case deltamodel.ColumnNumber:
		return parquet.Compressed(parquet.Double(), snappyCompression), nil
	case deltamodel.ColumnBool:
		// Recorded as Int8 (SPEC_FULL §4.7); BoolColumnsMetaKey tells the
		// reader to translate it back to a Boolean.
		return parquet.Compressed(parquet.Int(8), snappyCompression), nil
	case deltamodel.ColumnNull:
		return parquet.Compressed(parquet.String(), snappyCompression), nil
	default:
		return nil, fmt.Errorf("unknown column type %d", t)
	}
}

// applyBoolColumnsCSV replaces fs.boolColumns with the set named in csv,
// as read from a file's BoolColumnsMetaKey metadata. The metadata is
// authoritative over the schema-derived set passed to buildSchema: a
// table's column types may have evolved between the flush that produced
// this file and the schema now supplied to DecodeSnapshot.
func (fs *fileSchema) applyBoolColumnsCSV(csv string) {
	boolCols := map[string]bool{}

	for _, name := range strings.Split(csv, ",") {
		if name != "" {
			boolCols[name] = true
		}
	}

	fs.boolColumns = boolCols
}

func (fs *fileSchema) boolColumnsCSV() string {
	if len(fs.boolColumns) == 0 {
		return ""
	}

	names := make([]string, 0, len(fs.boolColumns))
	for name := range fs.boolColumns {
		names = append(names, name)
	}

	out := names[0]
	for _, n := range names[1:] {
		out += "," + n
	}

	return out
}
