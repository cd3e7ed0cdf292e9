package dbadapter

import (
	"encoding/json"
	"fmt"
	"strconv"

	"github.com/lakesync/lakesync/internal/deltamodel"
)

// storedColumn is the on-disk tagged-union shape for a ColumnDelta, stored
// as JSON inside the deltas.columns_json blob. Numbers are kept as decimal
// strings so NaN/Infinity survive round-trips through SQLite.
type storedColumn struct {
	Column string `json:"column"`
	Type   string `json:"type"`
	S      string `json:"s,omitempty"`
	N      string `json:"n,omitempty"`
	B      *bool  `json:"b,omitempty"`
	J      any    `json:"j,omitempty"`
}

func encodeColumns(cols []deltamodel.ColumnDelta) ([]byte, error) {
	stored := make([]storedColumn, len(cols))

	for i, c := range cols {
		sc, err := encodeColumn(c)
		if err != nil {
			return nil, err
		}

		stored[i] = sc
	}

	b, err := json.Marshal(stored)
	if err != nil {
		return nil, fmt.Errorf("dbadapter: marshal columns: %w", err)
	}

	return b, nil
}

func decodeColumns(data []byte) ([]deltamodel.ColumnDelta, error) {
	var stored []storedColumn
	if err := json.Unmarshal(data, &stored); err != nil {
		return nil, fmt.Errorf("dbadapter: unmarshal columns: %w", err)
	}

	cols := make([]deltamodel.ColumnDelta, len(stored))

	for i, sc := range stored {
		v, err := decodeColumn(sc)
		if err != nil {
			return nil, err
		}

		cols[i] = v
	}

	return cols, nil
}

func encodeColumn(c deltamodel.ColumnDelta) (storedColumn, error) {
	switch c.Value.Kind {
	case deltamodel.KindNull:
		return storedColumn{Column: c.Column, Type: "null"}, nil
	case deltamodel.KindString:
		return storedColumn{Column: c.Column, Type: "string", S: c.Value.Str}, nil
	case deltamodel.KindNumber:
		return storedColumn{Column: c.Column, Type: "number", N: strconv.FormatFloat(c.Value.Num, 'g', -1, 64)}, nil
	case deltamodel.KindBool:
		b := c.Value.Bool
		return storedColumn{Column: c.Column, Type: "boolean", B: &b}, nil
	case deltamodel.KindJSON:
		return storedColumn{Column: c.Column, Type: "json", J: c.Value.JSON}, nil
	default:
		return storedColumn{}, fmt.Errorf("dbadapter: unknown column value kind %d", c.Value.Kind)
	}
}

func decodeColumn(sc storedColumn) (deltamodel.ColumnDelta, error) {
	var v deltamodel.ColumnValue

	switch sc.Type {
	case "null":
		v = deltamodel.NullValue()
	case "string":
		v = deltamodel.StringValue(sc.S)
	case "number":
		n, err := strconv.ParseFloat(sc.N, 64)
		if err != nil {
			return deltamodel.ColumnDelta{}, fmt.Errorf("dbadapter: parse number column %q: %w", sc.Column, err)
		}

		v = deltamodel.NumberValue(n)
	case "boolean":
		if sc.B == nil {
			return deltamodel.ColumnDelta{}, fmt.Errorf("dbadapter: boolean column %q missing value", sc.Column)
		}

		v = deltamodel.BoolValue(*sc.B)
	case "json":
		v = deltamodel.JSONValue(sc.J)
	default:
		return deltamodel.ColumnDelta{}, fmt.Errorf("dbadapter: unknown stored column type %q", sc.Type)
	}

	return deltamodel.ColumnDelta{Column: sc.Column, Value: v}, nil
}
