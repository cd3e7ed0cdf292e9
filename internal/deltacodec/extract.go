// Package deltacodec diffs row states into RowDeltas, assigns
// deterministic content-addressed delta IDs, and encodes/decodes the
// wire frames clients use to push and pull deltas (SPEC_FULL.md §4.2).
package deltacodec

import (
	"sort"

	"github.com/lakesync/lakesync/internal/deltamodel"
	"github.com/lakesync/lakesync/internal/hlc"
)

// ExtractContext carries the identity and clock fields that accompany a
// row-state diff but aren't part of either row state itself.
type ExtractContext struct {
	Table    string
	RowID    string
	ClientID string
	HLC      hlc.Timestamp
	Schema   *deltamodel.TableSchema // optional; filters INSERT columns when set
}

// Extract diffs before and after, returning the RowDelta that captures
// the change, or (nil, nil) if there is no observable difference. Row
// states are represented as column-name → ColumnValue maps; a nil map
// means "row does not exist".
//
//   - both nil            -> no delta
//   - before nil, after set -> INSERT with all defined columns
//   - before set, after nil -> DELETE (empty columns)
//   - both set             -> UPDATE with only changed columns, or no
//     delta if every column compares equal
func Extract(before, after map[string]deltamodel.ColumnValue, ctx ExtractContext) (*deltamodel.RowDelta, error) {
	switch {
	case before == nil && after == nil:
		return nil, nil

	case before == nil:
		return build(deltamodel.OpInsert, filteredColumns(after, ctx.Schema), ctx)

	case after == nil:
		return build(deltamodel.OpDelete, nil, ctx)

	default:
		changed := diffColumns(before, after)
		if len(changed) == 0 {
			return nil, nil
		}

		return build(deltamodel.OpUpdate, changed, ctx)
	}
}

// filteredColumns converts a row-state map into a deterministically
// ordered []ColumnDelta, restricted to schema columns when schema is
// non-nil.
func filteredColumns(row map[string]deltamodel.ColumnValue, schema *deltamodel.TableSchema) []deltamodel.ColumnDelta {
	if schema != nil {
		out := make([]deltamodel.ColumnDelta, 0, len(schema.Columns))
		for _, col := range schema.Columns {
			if v, ok := row[col.Name]; ok {
				out = append(out, deltamodel.ColumnDelta{Column: col.Name, Value: v})
			}
		}

		return out
	}

	out := make([]deltamodel.ColumnDelta, 0, len(row))
	for name, v := range row {
		out = append(out, deltamodel.ColumnDelta{Column: name, Value: v})
	}

	sort.Slice(out, func(i, j int) bool { return out[i].Column < out[j].Column })

	return out
}

// diffColumns returns the columns present in after whose value differs
// from (or is absent from) before.
func diffColumns(before, after map[string]deltamodel.ColumnValue) []deltamodel.ColumnDelta {
	out := make([]deltamodel.ColumnDelta, 0, len(after))

	for name, newVal := range after {
		oldVal, existed := before[name]
		if !existed || !oldVal.Equal(newVal) {
			out = append(out, deltamodel.ColumnDelta{Column: name, Value: newVal})
		}
	}

	return out
}

func build(op deltamodel.Op, columns []deltamodel.ColumnDelta, ctx ExtractContext) (*deltamodel.RowDelta, error) {
	id, err := CanonicalID(ctx.ClientID, ctx.HLC, ctx.Table, ctx.RowID, columns)
	if err != nil {
		return nil, err
	}

	return &deltamodel.RowDelta{
		DeltaID:  id,
		Op:       op,
		Table:    ctx.Table,
		RowID:    ctx.RowID,
		ClientID: ctx.ClientID,
		HLC:      ctx.HLC,
		Columns:  columns,
	}, nil
}
