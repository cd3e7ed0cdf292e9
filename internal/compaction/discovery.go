package compaction

import (
	"context"
	"fmt"
	"strings"

	"github.com/lakesync/lakesync/internal/objectstore"
)

// NewStoreTaskProvider builds a MaintenanceTaskProvider that lists the
// pending delta files under prefix/gatewayID/deltas/ and assigns them
// all to table (LakeSync gateways register one TableSchema at a time,
// per SPEC_FULL §6). Only ".parquet" delta files are eligible: compaction
// decodes via lakeparquet, so a gateway flushing FlushJSON has nothing
// for this provider to pick up until it flushes a Parquet snapshot.
// Returns a nil task when there is nothing pending, which the
// scheduler/RunOnce treat as a no-op tick.
func NewStoreTaskProvider(store objectstore.Store, prefix, gatewayID, table string) MaintenanceTaskProvider {
	deltaPrefix := fmt.Sprintf("%s/%s/deltas/", prefix, gatewayID)
	outputPrefix := fmt.Sprintf("%s/%s/compacted", prefix, gatewayID)

	return func(ctx context.Context) (*MaintenanceTask, error) {
		metas, err := store.ListObjects(ctx, deltaPrefix)
		if err != nil {
			return nil, fmt.Errorf("compaction: list delta files: %w", err)
		}

		var refs []DeltaFileRef

		for _, m := range metas {
			if !strings.HasSuffix(m.Key, ".parquet") {
				continue
			}

			refs = append(refs, DeltaFileRef{Key: m.Key, Table: table})
		}

		if len(refs) == 0 {
			return nil, nil
		}

		return &MaintenanceTask{
			DeltaFiles:    refs,
			OutputPrefix:  outputPrefix,
			StoragePrefix: deltaPrefix,
		}, nil
	}
}
