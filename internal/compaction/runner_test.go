package compaction

import (
	"context"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lakesync/lakesync/internal/deltamodel"
	"github.com/lakesync/lakesync/internal/hlc"
	"github.com/lakesync/lakesync/internal/lakeparquet"
	"github.com/lakesync/lakesync/internal/objectstore"
)

var testSchema = deltamodel.TableSchema{
	Table: "widgets",
	Columns: []deltamodel.ColumnDef{
		{Name: "name", Type: deltamodel.ColumnString},
	},
}

func testSchemaLookup(table string) (deltamodel.TableSchema, bool) {
	if table != testSchema.Table {
		return deltamodel.TableSchema{}, false
	}

	return testSchema, true
}

func mkRowDelta(deltaID string, op deltamodel.Op, rowID string) deltamodel.RowDelta {
	return deltamodel.RowDelta{
		DeltaID:  deltaID,
		Op:       op,
		Table:    testSchema.Table,
		RowID:    rowID,
		ClientID: "client-1",
		HLC:      hlc.Encode(1000, 0),
		Columns: []deltamodel.ColumnDelta{
			{Column: "name", Value: deltamodel.StringValue(rowID)},
		},
	}
}

func seedDeltaFile(t *testing.T, store objectstore.Store, key string, deltas []deltamodel.RowDelta) DeltaFileRef {
	t.Helper()

	body, err := lakeparquet.EncodeSnapshot(testSchema, deltas)
	require.NoError(t, err)
	require.NoError(t, store.PutObject(context.Background(), key, body, "application/octet-stream"))

	return DeltaFileRef{Key: key, Table: testSchema.Table}
}

func TestDefaultRunnerWritesBaseAndEqualityDeleteFiles(t *testing.T) {
	store := objectstore.NewMemoryStore()

	ref := seedDeltaFile(t, store, "deltas/file-1.parquet", []deltamodel.RowDelta{
		mkRowDelta("d1", deltamodel.OpInsert, "row-1"),
		mkRowDelta("d2", deltamodel.OpUpdate, "row-2"),
		mkRowDelta("d3", deltamodel.OpDelete, "row-3"),
	})

	runner := NewDefaultRunner(store, testSchemaLookup)

	task := MaintenanceTask{
		DeltaFiles:    []DeltaFileRef{ref},
		OutputPrefix:  "compacted",
		StoragePrefix: "lakesync",
	}

	report, err := runner.Run(context.Background(), task)
	require.NoError(t, err)

	assert.Equal(t, 1, report.Compaction.BaseFilesWritten)
	assert.Equal(t, 1, report.Compaction.DeleteFilesWritten)
	assert.Equal(t, 1, report.Compaction.DeltaFilesCompacted)
	assert.Positive(t, report.Compaction.BytesRead)
	assert.Positive(t, report.Compaction.BytesWritten)

	objs, err := store.ListObjects(context.Background(), "compacted/base-")
	require.NoError(t, err)
	require.Len(t, objs, 1)

	base, err := store.GetObject(context.Background(), objs[0].Key)
	require.NoError(t, err)

	rows, err := lakeparquet.DecodeSnapshot(testSchema, base.Body)
	require.NoError(t, err)
	assert.Len(t, rows, 3)

	deleteObjs, err := store.ListObjects(context.Background(), "compacted/eq-delete-")
	require.NoError(t, err)
	require.Len(t, deleteObjs, 1)

	deleteFile, err := store.GetObject(context.Background(), deleteObjs[0].Key)
	require.NoError(t, err)

	pairs, err := lakeparquet.DecodeEqualityDeletes(deleteFile.Body)
	require.NoError(t, err)
	require.Len(t, pairs, 1)
	assert.Equal(t, lakeparquet.EqualityDeletePair{Table: testSchema.Table, RowID: "row-3"}, pairs[0])
}

func TestEqualityDeletesForDeduplicatesByRowID(t *testing.T) {
	rows := []deltamodel.RowDelta{
		mkRowDelta("d1", deltamodel.OpDelete, "row-1"),
		mkRowDelta("d2", deltamodel.OpDelete, "row-1"),
		mkRowDelta("d3", deltamodel.OpInsert, "row-2"),
	}

	pairs := equalityDeletesFor(testSchema.Table, rows)
	require.Len(t, pairs, 1)
	assert.Equal(t, "row-1", pairs[0].RowID)
}

func TestEqualityDeletesForEmptyWhenNoDeletes(t *testing.T) {
	rows := []deltamodel.RowDelta{
		mkRowDelta("d1", deltamodel.OpInsert, "row-1"),
		mkRowDelta("d2", deltamodel.OpUpdate, "row-2"),
	}

	pairs := equalityDeletesFor(testSchema.Table, rows)
	assert.Empty(t, pairs)

	encoded := lakeparquet.EncodeEqualityDeletes(pairs)
	assert.Empty(t, encoded)
}

func TestDefaultRunnerEqualityDeleteCounts(t *testing.T) {
	for _, n := range []int{0, 5, 100} {
		t.Run(fmt.Sprintf("n=%d", n), func(t *testing.T) {
			store := objectstore.NewMemoryStore()

			deltas := make([]deltamodel.RowDelta, 0, n)
			for i := 0; i < n; i++ {
				deltas = append(deltas, mkRowDelta(fmt.Sprintf("d%d", i), deltamodel.OpDelete, fmt.Sprintf("row-%d", i)))
			}

			ref := seedDeltaFile(t, store, "deltas/file.parquet", deltas)
			runner := NewDefaultRunner(store, testSchemaLookup)

			task := MaintenanceTask{
				DeltaFiles:   []DeltaFileRef{ref},
				OutputPrefix: "compacted",
			}

			report, err := runner.Run(context.Background(), task)
			require.NoError(t, err)

			if n == 0 {
				assert.Equal(t, 0, report.Compaction.BaseFilesWritten)
				assert.Equal(t, 0, report.Compaction.DeleteFilesWritten)
				return
			}

			deleteObjs, err := store.ListObjects(context.Background(), "compacted/eq-delete-")
			require.NoError(t, err)
			require.Len(t, deleteObjs, 1)

			deleteFile, err := store.GetObject(context.Background(), deleteObjs[0].Key)
			require.NoError(t, err)

			pairs, err := lakeparquet.DecodeEqualityDeletes(deleteFile.Body)
			require.NoError(t, err)
			assert.Len(t, pairs, n)
		})
	}
}

func TestDefaultRunnerSkipsUnknownTable(t *testing.T) {
	store := objectstore.NewMemoryStore()

	ref := DeltaFileRef{Key: "deltas/unknown.parquet", Table: "ghost"}
	runner := NewDefaultRunner(store, testSchemaLookup)

	task := MaintenanceTask{
		DeltaFiles:   []DeltaFileRef{ref},
		OutputPrefix: "compacted",
	}

	report, err := runner.Run(context.Background(), task)
	require.NoError(t, err)
	assert.Equal(t, 0, report.Compaction.BaseFilesWritten)
	assert.Equal(t, 0, report.Compaction.DeleteFilesWritten)
}

func TestDefaultRunnerGroupsMultipleFilesByTable(t *testing.T) {
	store := objectstore.NewMemoryStore()

	ref1 := seedDeltaFile(t, store, "deltas/a.parquet", []deltamodel.RowDelta{
		mkRowDelta("d1", deltamodel.OpInsert, "row-1"),
	})
	ref2 := seedDeltaFile(t, store, "deltas/b.parquet", []deltamodel.RowDelta{
		mkRowDelta("d2", deltamodel.OpInsert, "row-2"),
	})

	runner := NewDefaultRunner(store, testSchemaLookup)

	task := MaintenanceTask{
		DeltaFiles:   []DeltaFileRef{ref1, ref2},
		OutputPrefix: "compacted",
	}

	report, err := runner.Run(context.Background(), task)
	require.NoError(t, err)
	assert.Equal(t, 1, report.Compaction.BaseFilesWritten)
	assert.Equal(t, 2, report.Compaction.DeltaFilesCompacted)
}
