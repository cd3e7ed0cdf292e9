package deltacodec

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lakesync/lakesync/internal/deltamodel"
	"github.com/lakesync/lakesync/internal/hlc"
)

func TestFrameRoundTrip(t *testing.T) {
	last := hlc.Timestamp(500)
	f := Frame{
		Kind:     FrameSyncPush,
		ClientID: "c1",
		Cursor:   hlc.Timestamp(2000),
		Deltas: []deltamodel.RowDelta{
			{
				DeltaID:  "abc123",
				Op:       deltamodel.OpUpdate,
				Table:    "todos",
				RowID:    "r1",
				ClientID: "c1",
				HLC:      hlc.Timestamp(1000),
				Columns: []deltamodel.ColumnDelta{
					{Column: "title", Value: deltamodel.StringValue("hello")},
					{Column: "priority", Value: deltamodel.NumberValue(math.NaN())},
					{Column: "done", Value: deltamodel.BoolValue(true)},
					{Column: "tags", Value: deltamodel.JSONValue([]any{"a", "b"})},
					{Column: "archived_at", Value: deltamodel.NullValue()},
				},
			},
		},
		LastSeenHLC: &last,
	}

	encoded, err := EncodeFrame(f)
	require.NoError(t, err)

	decoded, err := DecodeFrame(encoded)
	require.NoError(t, err)

	require.Equal(t, f.Kind, decoded.Kind)
	require.Equal(t, f.ClientID, decoded.ClientID)
	require.Equal(t, f.Cursor, decoded.Cursor)
	require.NotNil(t, decoded.LastSeenHLC)
	assert.Equal(t, *f.LastSeenHLC, *decoded.LastSeenHLC)

	require.Len(t, decoded.Deltas, 1)
	got := decoded.Deltas[0]
	assert.Equal(t, f.Deltas[0].DeltaID, got.DeltaID)
	assert.Equal(t, f.Deltas[0].HLC, got.HLC)
	require.Len(t, got.Columns, 5)

	byName := map[string]deltamodel.ColumnValue{}
	for _, c := range got.Columns {
		byName[c.Column] = c.Value
	}

	assert.Equal(t, "hello", byName["title"].Str)
	assert.True(t, math.IsNaN(byName["priority"].Num))
	assert.Equal(t, true, byName["done"].Bool)
	assert.Equal(t, deltamodel.KindNull, byName["archived_at"].Kind)
	assert.Equal(t, deltamodel.KindJSON, byName["tags"].Kind)
}

func TestFrameRoundTripEmptyDeltas(t *testing.T) {
	f := Frame{Kind: FrameSyncPull, Cursor: hlc.Timestamp(0)}

	encoded, err := EncodeFrame(f)
	require.NoError(t, err)

	decoded, err := DecodeFrame(encoded)
	require.NoError(t, err)

	assert.Equal(t, FrameSyncPull, decoded.Kind)
	assert.Empty(t, decoded.Deltas)
	assert.Nil(t, decoded.LastSeenHLC)
}
