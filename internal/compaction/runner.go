package compaction

import (
	"context"
	"fmt"

	"github.com/google/uuid"

	"github.com/lakesync/lakesync/internal/deltamodel"
	"github.com/lakesync/lakesync/internal/lakeparquet"
	"github.com/lakesync/lakesync/internal/objectstore"
)

// SchemaLookup resolves a table's schema for Parquet encoding during
// compaction. Tables with no registered schema are skipped.
type SchemaLookup func(table string) (deltamodel.TableSchema, bool)

// DefaultRunner is the reference MaintenanceRunner: it reads each of a
// task's delta files, groups their rows by table, and writes one base
// Parquet file plus one equality-delete file per table under
// task.OutputPrefix.
type DefaultRunner struct {
	store        objectstore.Store
	schemaLookup SchemaLookup
}

// NewDefaultRunner constructs a DefaultRunner reading/writing through
// store.
func NewDefaultRunner(store objectstore.Store, schemaLookup SchemaLookup) *DefaultRunner {
	return &DefaultRunner{store: store, schemaLookup: schemaLookup}
}

// Run implements MaintenanceRunner.
func (r *DefaultRunner) Run(ctx context.Context, task MaintenanceTask) (MaintenanceReport, error) {
	byTable := make(map[string][]deltamodel.RowDelta)

	var bytesRead int64

	for _, ref := range task.DeltaFiles {
		schema, ok := r.schemaLookup(ref.Table)
		if !ok {
			continue
		}

		obj, err := r.store.GetObject(ctx, ref.Key)
		if err != nil {
			return MaintenanceReport{}, fmt.Errorf("compaction: read delta file %q: %w", ref.Key, err)
		}

		bytesRead += obj.Size

		rows, err := lakeparquet.DecodeSnapshot(schema, obj.Body)
		if err != nil {
			return MaintenanceReport{}, fmt.Errorf("compaction: decode delta file %q: %w", ref.Key, err)
		}

		byTable[ref.Table] = append(byTable[ref.Table], rows...)
	}

	report := MaintenanceReport{}
	var bytesWritten int64

	for table, rows := range byTable {
		if len(rows) == 0 {
			continue
		}

		schema, ok := r.schemaLookup(table)
		if !ok {
			continue
		}

		baseBytes, err := lakeparquet.EncodeSnapshot(schema, rows)
		if err != nil {
			return MaintenanceReport{}, fmt.Errorf("compaction: encode base file for %q: %w", table, err)
		}

		baseKey := fmt.Sprintf("%s/base-%s.parquet", task.OutputPrefix, uuid.NewString())
		if err := r.store.PutObject(ctx, baseKey, baseBytes, "application/octet-stream"); err != nil {
			return MaintenanceReport{}, fmt.Errorf("compaction: write base file for %q: %w", table, err)
		}

		report.Compaction.BaseFilesWritten++
		bytesWritten += int64(len(baseBytes))

		deleteBytes := lakeparquet.EncodeEqualityDeletes(equalityDeletesFor(table, rows))

		deleteKey := fmt.Sprintf("%s/eq-delete-%s.parquet", task.OutputPrefix, uuid.NewString())
		if err := r.store.PutObject(ctx, deleteKey, deleteBytes, "application/octet-stream"); err != nil {
			return MaintenanceReport{}, fmt.Errorf("compaction: write equality-delete file for %q: %w", table, err)
		}

		report.Compaction.DeleteFilesWritten++
		bytesWritten += int64(len(deleteBytes))
	}

	report.Compaction.DeltaFilesCompacted = len(task.DeltaFiles)
	report.Compaction.BytesRead = bytesRead
	report.Compaction.BytesWritten = bytesWritten

	return report, nil
}

func equalityDeletesFor(table string, rows []deltamodel.RowDelta) []lakeparquet.EqualityDeletePair {
	seen := make(map[string]struct{}, len(rows))
	out := make([]lakeparquet.EqualityDeletePair, 0, len(rows))

	for _, row := range rows {
		if row.Op != deltamodel.OpDelete {
			continue
		}

		if _, ok := seen[row.RowID]; ok {
			continue
		}

		seen[row.RowID] = struct{}{}
		out = append(out, lakeparquet.EqualityDeletePair{Table: table, RowID: row.RowID})
	}

	return out
}
