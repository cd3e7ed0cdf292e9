package deltacodec

import (
	"encoding/json"
	"fmt"
	"strconv"

	"github.com/lakesync/lakesync/internal/deltamodel"
	"github.com/lakesync/lakesync/internal/hlc"
)

// FrameKind tags the three wire encodings a gateway exchanges with
// clients (SPEC_FULL.md §4.2).
type FrameKind string

const (
	FrameSyncPush  FrameKind = "SYNC_PUSH"
	FrameSyncPull  FrameKind = "SYNC_PULL"
	FrameBroadcast FrameKind = "BROADCAST"
)

// Frame is the envelope carried over the wire for all three frame
// kinds. LastSeenHLC is populated for SYNC_PUSH only.
type Frame struct {
	Kind        FrameKind          `json:"kind"`
	ClientID    string             `json:"clientId,omitempty"`
	Deltas      []deltamodel.RowDelta `json:"deltas"`
	Cursor      hlc.Timestamp      `json:"cursor"`
	LastSeenHLC *hlc.Timestamp     `json:"lastSeenHlc,omitempty"`
}

// wireColumnValue is the JSON-transport shape of a ColumnValue: exactly
// one of the typed fields is set, mirroring a tagged union on the wire.
type wireColumnValue struct {
	Type string `json:"type"`
	S    string `json:"s,omitempty"`
	N    string `json:"n,omitempty"` // decimal string to survive IEEE edge cases (NaN/Inf) across JSON
	B    *bool  `json:"b,omitempty"`
	J    any    `json:"j,omitempty"`
}

type wireColumnDelta struct {
	Column string          `json:"column"`
	Value  wireColumnValue `json:"value"`
}

type wireRowDelta struct {
	DeltaID  string            `json:"deltaId"`
	Op       deltamodel.Op     `json:"op"`
	Table    string            `json:"table"`
	RowID    string            `json:"rowId"`
	ClientID string            `json:"clientId"`
	HLC      string            `json:"hlc"` // stringified: 64-bit fields are stringified on JSON boundaries
	Columns  []wireColumnDelta `json:"columns"`
}

type wireFrame struct {
	Kind        FrameKind      `json:"kind"`
	ClientID    string         `json:"clientId,omitempty"`
	Deltas      []wireRowDelta `json:"deltas"`
	Cursor      string         `json:"cursor"`
	LastSeenHLC *string        `json:"lastSeenHlc,omitempty"`
}

// EncodeFrame serializes a Frame to its JSON wire form.
func EncodeFrame(f Frame) ([]byte, error) {
	wf := wireFrame{
		Kind:     f.Kind,
		ClientID: f.ClientID,
		Cursor:   strconv.FormatUint(uint64(f.Cursor), 10),
	}

	if f.LastSeenHLC != nil {
		s := strconv.FormatUint(uint64(*f.LastSeenHLC), 10)
		wf.LastSeenHLC = &s
	}

	wf.Deltas = make([]wireRowDelta, len(f.Deltas))
	for i, d := range f.Deltas {
		wd, err := encodeRowDelta(d)
		if err != nil {
			return nil, err
		}

		wf.Deltas[i] = wd
	}

	b, err := json.Marshal(wf)
	if err != nil {
		return nil, fmt.Errorf("deltacodec: encode frame: %w", err)
	}

	return b, nil
}

// DecodeFrame parses a JSON wire frame back into a Frame.
func DecodeFrame(data []byte) (Frame, error) {
	var wf wireFrame
	if err := json.Unmarshal(data, &wf); err != nil {
		return Frame{}, fmt.Errorf("deltacodec: decode frame: %w", err)
	}

	cursor, err := strconv.ParseUint(wf.Cursor, 10, 64)
	if err != nil {
		return Frame{}, fmt.Errorf("deltacodec: parse cursor: %w", err)
	}

	f := Frame{
		Kind:     wf.Kind,
		ClientID: wf.ClientID,
		Cursor:   hlc.Timestamp(cursor),
	}

	if wf.LastSeenHLC != nil {
		v, err := strconv.ParseUint(*wf.LastSeenHLC, 10, 64)
		if err != nil {
			return Frame{}, fmt.Errorf("deltacodec: parse lastSeenHlc: %w", err)
		}

		ts := hlc.Timestamp(v)
		f.LastSeenHLC = &ts
	}

	f.Deltas = make([]deltamodel.RowDelta, len(wf.Deltas))
	for i, wd := range wf.Deltas {
		d, err := decodeRowDelta(wd)
		if err != nil {
			return Frame{}, err
		}

		f.Deltas[i] = d
	}

	return f, nil
}

// EncodeDeltas serializes deltas using the same wire shape as a Frame's
// Deltas field, for callers that transport a delta list without a full
// Frame envelope (e.g. the sync-HTTP pull response).
func EncodeDeltas(deltas []deltamodel.RowDelta) ([]byte, error) {
	wd := make([]wireRowDelta, len(deltas))

	for i, d := range deltas {
		w, err := encodeRowDelta(d)
		if err != nil {
			return nil, err
		}

		wd[i] = w
	}

	b, err := json.Marshal(wd)
	if err != nil {
		return nil, fmt.Errorf("deltacodec: encode deltas: %w", err)
	}

	return b, nil
}

// DecodeDeltas parses a delta list produced by EncodeDeltas.
func DecodeDeltas(data []byte) ([]deltamodel.RowDelta, error) {
	var wd []wireRowDelta
	if err := json.Unmarshal(data, &wd); err != nil {
		return nil, fmt.Errorf("deltacodec: decode deltas: %w", err)
	}

	out := make([]deltamodel.RowDelta, len(wd))

	for i, w := range wd {
		d, err := decodeRowDelta(w)
		if err != nil {
			return nil, err
		}

		out[i] = d
	}

	return out, nil
}

func encodeRowDelta(d deltamodel.RowDelta) (wireRowDelta, error) {
	wd := wireRowDelta{
		DeltaID:  d.DeltaID,
		Op:       d.Op,
		Table:    d.Table,
		RowID:    d.RowID,
		ClientID: d.ClientID,
		HLC:      strconv.FormatUint(uint64(d.HLC), 10),
		Columns:  make([]wireColumnDelta, len(d.Columns)),
	}

	for i, c := range d.Columns {
		wv, err := encodeColumnValue(c.Value)
		if err != nil {
			return wireRowDelta{}, fmt.Errorf("deltacodec: encode column %q: %w", c.Column, err)
		}

		wd.Columns[i] = wireColumnDelta{Column: c.Column, Value: wv}
	}

	return wd, nil
}

func decodeRowDelta(wd wireRowDelta) (deltamodel.RowDelta, error) {
	tsRaw, err := strconv.ParseUint(wd.HLC, 10, 64)
	if err != nil {
		return deltamodel.RowDelta{}, fmt.Errorf("deltacodec: parse delta hlc: %w", err)
	}

	columns := make([]deltamodel.ColumnDelta, len(wd.Columns))
	for i, wc := range wd.Columns {
		v, err := decodeColumnValue(wc.Value)
		if err != nil {
			return deltamodel.RowDelta{}, fmt.Errorf("deltacodec: decode column %q: %w", wc.Column, err)
		}

		columns[i] = deltamodel.ColumnDelta{Column: wc.Column, Value: v}
	}

	return deltamodel.RowDelta{
		DeltaID:  wd.DeltaID,
		Op:       wd.Op,
		Table:    wd.Table,
		RowID:    wd.RowID,
		ClientID: wd.ClientID,
		HLC:      hlc.Timestamp(tsRaw),
		Columns:  columns,
	}, nil
}

func encodeColumnValue(v deltamodel.ColumnValue) (wireColumnValue, error) {
	switch v.Kind {
	case deltamodel.KindNull:
		return wireColumnValue{Type: "null"}, nil
	case deltamodel.KindString:
		return wireColumnValue{Type: "string", S: v.Str}, nil
	case deltamodel.KindNumber:
		return wireColumnValue{Type: "number", N: strconv.FormatFloat(v.Num, 'g', -1, 64)}, nil
	case deltamodel.KindBool:
		b := v.Bool
		return wireColumnValue{Type: "boolean", B: &b}, nil
	case deltamodel.KindJSON:
		return wireColumnValue{Type: "json", J: v.JSON}, nil
	default:
		return wireColumnValue{}, fmt.Errorf("deltacodec: unknown column value kind %d", v.Kind)
	}
}

func decodeColumnValue(wv wireColumnValue) (deltamodel.ColumnValue, error) {
	switch wv.Type {
	case "null":
		return deltamodel.NullValue(), nil
	case "string":
		return deltamodel.StringValue(wv.S), nil
	case "number":
		n, err := strconv.ParseFloat(wv.N, 64)
		if err != nil {
			return deltamodel.ColumnValue{}, fmt.Errorf("deltacodec: parse number: %w", err)
		}

		return deltamodel.NumberValue(n), nil
	case "boolean":
		if wv.B == nil {
			return deltamodel.ColumnValue{}, fmt.Errorf("deltacodec: boolean value missing")
		}

		return deltamodel.BoolValue(*wv.B), nil
	case "json":
		return deltamodel.JSONValue(wv.J), nil
	default:
		return deltamodel.ColumnValue{}, fmt.Errorf("deltacodec: unknown wire value type %q", wv.Type)
	}
}
