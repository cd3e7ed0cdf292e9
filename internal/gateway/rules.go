package gateway

import (
	"fmt"
	"strings"

	"github.com/lakesync/lakesync/internal/deltamodel"
)

// FilterOp is a comparison operator a rule bucket evaluates a column
// against (SPEC_FULL §4.5).
type FilterOp string

const (
	OpEq       FilterOp = "eq"
	OpNeq      FilterOp = "neq"
	OpLt       FilterOp = "lt"
	OpLte      FilterOp = "lte"
	OpGt       FilterOp = "gt"
	OpGte      FilterOp = "gte"
	OpIn       FilterOp = "in"
	OpContains FilterOp = "contains"
)

// Filter is one column predicate within a Bucket.
type Filter struct {
	Column string
	Op     FilterOp
	Value  deltamodel.ColumnValue
	Values []deltamodel.ColumnValue // populated for OpIn
}

// Bucket names a set of tables a claim is entitled to pull, each gated
// by zero or more column filters (all filters must match, i.e. AND).
type Bucket struct {
	Name    string
	Tables  []string
	Filters []Filter
}

// Rules is a claim-bearing client's full sync-rule document.
type Rules struct {
	Version int
	Buckets []Bucket
}

// RulesContext is the evaluated-at-pull-time view of a client's rules:
// the caller's verified claims plus the rules document they resolve to.
type RulesContext struct {
	Claims map[string]any
	Rules  Rules
}

// Matches reports whether d is visible to this client under any bucket
// whose Tables list includes d.Table and whose Filters all match.
func (rc *RulesContext) Matches(d deltamodel.RowDelta) bool {
	for _, bucket := range rc.Rules.Buckets {
		if !containsTable(bucket.Tables, d.Table) {
			continue
		}

		if bucketMatches(bucket, d) {
			return true
		}
	}

	return false
}

func containsTable(tables []string, table string) bool {
	for _, t := range tables {
		if t == table {
			return true
		}
	}

	return false
}

func bucketMatches(bucket Bucket, d deltamodel.RowDelta) bool {
	for _, f := range bucket.Filters {
		col, ok := findColumn(d, f.Column)
		if !ok {
			return false
		}

		if !evaluateFilter(f, col) {
			return false
		}
	}

	return true
}

func findColumn(d deltamodel.RowDelta, name string) (deltamodel.ColumnValue, bool) {
	for _, c := range d.Columns {
		if c.Column == name {
			return c.Value, true
		}
	}

	return deltamodel.ColumnValue{}, false
}

func evaluateFilter(f Filter, actual deltamodel.ColumnValue) bool {
	switch f.Op {
	case OpEq:
		return actual.Equal(f.Value)
	case OpNeq:
		return !actual.Equal(f.Value)
	case OpLt:
		return compareNumeric(actual, f.Value, func(a, b float64) bool { return a < b })
	case OpLte:
		return compareNumeric(actual, f.Value, func(a, b float64) bool { return a <= b })
	case OpGt:
		return compareNumeric(actual, f.Value, func(a, b float64) bool { return a > b })
	case OpGte:
		return compareNumeric(actual, f.Value, func(a, b float64) bool { return a >= b })
	case OpIn:
		for _, v := range f.Values {
			if actual.Equal(v) {
				return true
			}
		}

		return false
	case OpContains:
		return actual.Kind == deltamodel.KindString && f.Value.Kind == deltamodel.KindString &&
			strings.Contains(actual.Str, f.Value.Str)
	default:
		return false
	}
}

func compareNumeric(a, b deltamodel.ColumnValue, cmp func(x, y float64) bool) bool {
	if a.Kind != deltamodel.KindNumber || b.Kind != deltamodel.KindNumber {
		return false
	}

	return cmp(a.Num, b.Num)
}

// validateRules rejects a rules document referencing an unsupported
// operator, catching config errors at load time rather than at first
// pull.
func validateRules(r Rules) error {
	for _, b := range r.Buckets {
		for _, f := range b.Filters {
			switch f.Op {
			case OpEq, OpNeq, OpLt, OpLte, OpGt, OpGte, OpIn, OpContains:
			default:
				return fmt.Errorf("gateway: bucket %q: unsupported filter op %q", b.Name, f.Op)
			}
		}
	}

	return nil
}
