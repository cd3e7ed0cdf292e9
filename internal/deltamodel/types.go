// Package deltamodel holds the data types shared by every other package:
// column values, row deltas, and table schemas (SPEC_FULL.md §3).
package deltamodel

import "github.com/lakesync/lakesync/internal/hlc"

// Op identifies the kind of row-level change a RowDelta represents.
type Op string

const (
	OpInsert Op = "INSERT"
	OpUpdate Op = "UPDATE"
	OpDelete Op = "DELETE"
)

// ValueKind tags which variant of ColumnValue is populated.
type ValueKind int

const (
	KindNull ValueKind = iota
	KindString
	KindNumber
	KindBool
	KindJSON
)

// ColumnValue is a tagged union over string | number | boolean | null |
// json, mirroring the dynamic column values the original system carried
// at runtime (SPEC_FULL.md §9).
type ColumnValue struct {
	Kind ValueKind
	Str  string
	Num  float64
	Bool bool
	JSON any // arbitrary JSON-shaped value: map[string]any, []any, etc.
}

// NullValue constructs a ColumnValue representing SQL/JSON null.
func NullValue() ColumnValue { return ColumnValue{Kind: KindNull} }

// StringValue constructs a string-valued ColumnValue.
func StringValue(s string) ColumnValue { return ColumnValue{Kind: KindString, Str: s} }

// NumberValue constructs a number-valued ColumnValue.
func NumberValue(n float64) ColumnValue { return ColumnValue{Kind: KindNumber, Num: n} }

// BoolValue constructs a boolean-valued ColumnValue.
func BoolValue(b bool) ColumnValue { return ColumnValue{Kind: KindBool, Bool: b} }

// JSONValue constructs a ColumnValue wrapping an arbitrary JSON-shaped
// value (object, array, or scalar serialized as JSON).
func JSONValue(v any) ColumnValue { return ColumnValue{Kind: KindJSON, JSON: v} }

// Equal reports whether a and b are the same logical value, using IEEE
// Object-is semantics for numbers (NaN equals NaN, +0 equals +0) and
// deep structural equality for JSON, per SPEC_FULL.md §4.2.
func (a ColumnValue) Equal(b ColumnValue) bool {
	if a.Kind != b.Kind {
		return false
	}

	switch a.Kind {
	case KindNull:
		return true
	case KindString:
		return a.Str == b.Str
	case KindNumber:
		return sameNumber(a.Num, b.Num)
	case KindBool:
		return a.Bool == b.Bool
	case KindJSON:
		return deepEqual(a.JSON, b.JSON)
	default:
		return false
	}
}

// sameNumber implements Object.is-style equality: NaN equals NaN, and
// +0/-0 are treated as equal (ordinary IEEE 754 comparison already
// treats +0 == -0, so only the NaN case needs special handling).
func sameNumber(a, b float64) bool {
	if a != a && b != b { // both NaN
		return true
	}

	return a == b
}

// ColumnDelta is a single column's new value within a RowDelta.
type ColumnDelta struct {
	Column string
	Value  ColumnValue
}

// RowDelta is an immutable, content-addressed row-level change record.
type RowDelta struct {
	DeltaID  string
	Op       Op
	Table    string
	RowID    string
	ClientID string
	HLC      hlc.Timestamp
	Columns  []ColumnDelta
}

// ColumnType enumerates the schema-declared types a TableSchema column
// may take.
type ColumnType string

const (
	ColumnString  ColumnType = "string"
	ColumnNumber  ColumnType = "number"
	ColumnBool    ColumnType = "boolean"
	ColumnJSON    ColumnType = "json"
	ColumnNull    ColumnType = "null"
)

// ColumnDef declares one column of a TableSchema.
type ColumnDef struct {
	Name string
	Type ColumnType
}

// TableSchema is an append-only column list for one table. Column
// removal is not supported; evolving a schema only ever appends new
// ColumnDefs.
type TableSchema struct {
	Table   string
	Columns []ColumnDef
}

// ColumnNames returns the schema's column names in declared order.
func (s TableSchema) ColumnNames() []string {
	names := make([]string, len(s.Columns))
	for i, c := range s.Columns {
		names[i] = c.Name
	}

	return names
}

// HasColumn reports whether name is declared in the schema.
func (s TableSchema) HasColumn(name string) bool {
	for _, c := range s.Columns {
		if c.Name == name {
			return true
		}
	}

	return false
}
