package deltacodec

import (
	"bytes"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"math"
	"sort"
	"strconv"

	"golang.org/x/text/unicode/norm"

	"github.com/lakesync/lakesync/internal/deltamodel"
	"github.com/lakesync/lakesync/internal/hlc"
)

// CanonicalID computes the SHA-256 hex delta ID for a logical change,
// per SPEC_FULL.md §4.2: stable-stringify of
// {clientId, hlc as decimal, table, rowId, columns} with keys sorted
// lexicographically at every depth, UTF-8 encoded, hashed, hex-lower.
//
// Columns are hashed in column-name order regardless of the order
// passed in, so the same logical change always produces the same ID
// whether it arrived as a Go map iteration or a wire frame.
func CanonicalID(clientID string, ts hlc.Timestamp, table, rowID string, columns []deltamodel.ColumnDelta) (string, error) {
	sorted := make([]deltamodel.ColumnDelta, len(columns))
	copy(sorted, columns)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].Column < sorted[j].Column })

	columnsValue := make([]any, len(sorted))
	for i, c := range sorted {
		v, err := canonicalColumnValue(c.Value)
		if err != nil {
			return "", fmt.Errorf("deltacodec: canonicalize column %q: %w", c.Column, err)
		}

		columnsValue[i] = map[string]any{"column": c.Column, "value": v}
	}

	payload := map[string]any{
		"clientId": clientID,
		"hlc":      strconv.FormatUint(uint64(ts), 10),
		"table":    table,
		"rowId":    rowID,
		"columns":  columnsValue,
	}

	var buf bytes.Buffer
	if err := writeCanonical(&buf, payload); err != nil {
		return "", err
	}

	sum := sha256.Sum256(buf.Bytes())

	return hex.EncodeToString(sum[:]), nil
}

// canonicalColumnValue maps a ColumnValue to a plain-Go value for
// canonicalization, NFC-normalizing strings so equivalent Unicode
// sequences hash identically.
func canonicalColumnValue(v deltamodel.ColumnValue) (any, error) {
	switch v.Kind {
	case deltamodel.KindNull:
		return nil, nil
	case deltamodel.KindString:
		return norm.NFC.String(v.Str), nil
	case deltamodel.KindNumber:
		return v.Num, nil
	case deltamodel.KindBool:
		return v.Bool, nil
	case deltamodel.KindJSON:
		return normalizeJSON(v.JSON), nil
	default:
		return nil, fmt.Errorf("deltacodec: unknown column value kind %d", v.Kind)
	}
}

// normalizeJSON walks an arbitrary JSON-shaped value NFC-normalizing any
// strings found within it (objects/arrays pass through unchanged apart
// from their string leaves).
func normalizeJSON(v any) any {
	switch t := v.(type) {
	case string:
		return norm.NFC.String(t)
	case map[string]any:
		out := make(map[string]any, len(t))
		for k, val := range t {
			out[k] = normalizeJSON(val)
		}

		return out
	case []any:
		out := make([]any, len(t))
		for i, val := range t {
			out[i] = normalizeJSON(val)
		}

		return out
	default:
		return v
	}
}

// writeCanonical serializes v into buf as deterministic JSON: object
// keys sorted lexicographically at every depth, floats formatted with
// explicit NaN/Infinity tokens (not valid JSON, but this output is
// hashed, never parsed), and signed zero normalized to positive zero so
// +0 and -0 hash identically per the IEEE Object-is equality rule.
func writeCanonical(buf *bytes.Buffer, v any) error {
	switch t := v.(type) {
	case nil:
		buf.WriteString("null")

	case string:
		enc, err := json.Marshal(t)
		if err != nil {
			return fmt.Errorf("deltacodec: marshal string: %w", err)
		}

		buf.Write(enc)

	case bool:
		if t {
			buf.WriteString("true")
		} else {
			buf.WriteString("false")
		}

	case float64:
		writeCanonicalFloat(buf, t)

	case map[string]any:
		keys := make([]string, 0, len(t))
		for k := range t {
			keys = append(keys, k)
		}

		sort.Strings(keys)

		buf.WriteByte('{')

		for i, k := range keys {
			if i > 0 {
				buf.WriteByte(',')
			}

			keyEnc, err := json.Marshal(k)
			if err != nil {
				return fmt.Errorf("deltacodec: marshal key: %w", err)
			}

			buf.Write(keyEnc)
			buf.WriteByte(':')

			if err := writeCanonical(buf, t[k]); err != nil {
				return err
			}
		}

		buf.WriteByte('}')

	case []any:
		buf.WriteByte('[')

		for i, elem := range t {
			if i > 0 {
				buf.WriteByte(',')
			}

			if err := writeCanonical(buf, elem); err != nil {
				return err
			}
		}

		buf.WriteByte(']')

	default:
		return fmt.Errorf("deltacodec: unsupported canonical value type %T", v)
	}

	return nil
}

func writeCanonicalFloat(buf *bytes.Buffer, f float64) {
	switch {
	case math.IsNaN(f):
		buf.WriteString(`"NaN"`)
	case math.IsInf(f, 1):
		buf.WriteString(`"Infinity"`)
	case math.IsInf(f, -1):
		buf.WriteString(`"-Infinity"`)
	default:
		if f == 0 {
			f = 0 // normalize -0 to +0
		}

		buf.WriteString(strconv.FormatFloat(f, 'g', -1, 64))
	}
}
