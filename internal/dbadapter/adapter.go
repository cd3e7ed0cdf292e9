// Package dbadapter defines the database-adapter contract used by the
// gateway and flush pipeline (SPEC_FULL.md §4.3) and ships a SQLite
// reference implementation.
package dbadapter

import (
	"context"
	"errors"

	"github.com/lakesync/lakesync/internal/deltamodel"
	"github.com/lakesync/lakesync/internal/hlc"
)

// ErrRowNotFound is returned by GetLatestState when the row has no
// surviving state (never existed, or its most recent delta is a DELETE).
var ErrRowNotFound = errors.New("dbadapter: row not found")

// Adapter is implemented once per supported engine family. InsertDeltas
// must be idempotent on RowDelta.DeltaID: re-inserting a delta that was
// already recorded is a no-op, not an error.
type Adapter interface {
	EnsureSchema(ctx context.Context, schema deltamodel.TableSchema) error
	InsertDeltas(ctx context.Context, deltas []deltamodel.RowDelta) error
	QueryDeltasSince(ctx context.Context, since hlc.Timestamp, tables []string) ([]deltamodel.RowDelta, error)
	GetLatestState(ctx context.Context, table, rowID string) (map[string]deltamodel.ColumnValue, error)
	Close() error
}
