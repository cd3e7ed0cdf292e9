// Package buffer implements the gateway's shared in-memory delta log
// (SPEC_FULL.md §4.4): a bounded, HLC-sorted, deltaId-deduplicated buffer
// with Eventual and Strong write-through consistency modes.
package buffer

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"sync"

	"github.com/lakesync/lakesync/internal/dbadapter"
	"github.com/lakesync/lakesync/internal/deltamodel"
	"github.com/lakesync/lakesync/internal/hlc"
	"github.com/lakesync/lakesync/internal/lakeerr"
)

// Mode selects how WriteThroughPush treats a failing backing-store write.
type Mode int

const (
	// Eventual tolerates a failed write-through: the delta stays only in
	// memory and is recovered by the next successful flush.
	Eventual Mode = iota
	// Strong surfaces a failed write-through to the caller as
	// lakeerr.ErrSharedWriteFailed.
	Strong
)

// entry is one buffered delta plus its admission-time bookkeeping.
type entry struct {
	delta deltamodel.RowDelta
	size  int
}

// Buffer is a bounded, sorted, deduplicated log of accepted deltas sitting
// between Push and Flush. All methods are safe for concurrent use.
type Buffer struct {
	mu      sync.Mutex
	pending map[string]entry // keyed by DeltaID
	minHLC  hlc.Timestamp
	hasMin  bool
	bytes   int

	mode    Mode
	adapter dbadapter.Adapter
	logger  *slog.Logger
}

// New creates an empty Buffer. adapter is the backing store used by
// WriteThroughPush; it may be nil if the caller never calls that method.
func New(mode Mode, adapter dbadapter.Adapter, logger *slog.Logger) *Buffer {
	return &Buffer{
		pending: make(map[string]entry),
		mode:    mode,
		adapter: adapter,
		logger:  logger,
	}
}

// Add admits deltas into the buffer, deduplicating by DeltaID. Already-seen
// deltas are silently dropped (idempotent admission). Updates the running
// byte-size counter and minimum-HLC age marker.
func (b *Buffer) Add(deltas []deltamodel.RowDelta) {
	b.mu.Lock()
	defer b.mu.Unlock()

	for _, d := range deltas {
		if _, exists := b.pending[d.DeltaID]; exists {
			continue
		}

		sz := approxSize(d)
		b.pending[d.DeltaID] = entry{delta: d, size: sz}
		b.bytes += sz

		if !b.hasMin || d.HLC < b.minHLC {
			b.minHLC = d.HLC
			b.hasMin = true
		}
	}
}

// WriteThroughPush admits deltas and attempts to persist them to the
// backing adapter. In Eventual mode a failed write is logged and treated
// as success (the deltas remain admitted in memory). In Strong mode a
// failed write returns lakeerr.ErrSharedWriteFailed.
func (b *Buffer) WriteThroughPush(ctx context.Context, deltas []deltamodel.RowDelta) error {
	b.Add(deltas)

	if b.adapter == nil {
		return nil
	}

	if err := b.adapter.InsertDeltas(ctx, deltas); err != nil {
		if b.mode == Strong {
			return fmt.Errorf("%w: %w", lakeerr.ErrSharedWriteFailed, err)
		}

		b.logger.Warn("write-through insert failed, deferring to next flush",
			slog.String("error", err.Error()),
		)
	}

	return nil
}

// Drain removes and returns every buffered delta, sorted ascending by HLC
// with DeltaID as a tiebreak for deltas sharing an HLC. The returned
// snapshot is immutable; the buffer is empty after this call. Returns nil
// for an empty buffer.
func (b *Buffer) Drain() []deltamodel.RowDelta {
	b.mu.Lock()
	defer b.mu.Unlock()

	if len(b.pending) == 0 {
		return nil
	}

	out := make([]deltamodel.RowDelta, 0, len(b.pending))
	for _, e := range b.pending {
		out = append(out, e.delta)
	}

	sort.Slice(out, func(i, j int) bool {
		if out[i].HLC != out[j].HLC {
			return out[i].HLC < out[j].HLC
		}

		return out[i].DeltaID < out[j].DeltaID
	})

	b.pending = make(map[string]entry)
	b.bytes = 0
	b.hasMin = false

	return out
}

// Snapshot returns every buffered delta, sorted ascending by HLC with
// DeltaID as a tiebreak, without removing them. Unlike Drain, repeated
// calls observe the same entries until the next Add/Drain.
func (b *Buffer) Snapshot() []deltamodel.RowDelta {
	b.mu.Lock()
	defer b.mu.Unlock()

	if len(b.pending) == 0 {
		return nil
	}

	out := make([]deltamodel.RowDelta, 0, len(b.pending))
	for _, e := range b.pending {
		out = append(out, e.delta)
	}

	sort.Slice(out, func(i, j int) bool {
		if out[i].HLC != out[j].HLC {
			return out[i].HLC < out[j].HLC
		}

		return out[i].DeltaID < out[j].DeltaID
	})

	return out
}

// Requeue re-inserts deltas into the buffer, used when a flush attempt
// fails after draining (SPEC_FULL.md §4.5 step 4).
func (b *Buffer) Requeue(deltas []deltamodel.RowDelta) {
	b.Add(deltas)
}

// Len returns the number of distinct deltas currently buffered.
func (b *Buffer) Len() int {
	b.mu.Lock()
	defer b.mu.Unlock()

	return len(b.pending)
}

// Bytes returns the running byte-size estimate of the buffered deltas.
func (b *Buffer) Bytes() int {
	b.mu.Lock()
	defer b.mu.Unlock()

	return b.bytes
}

// OldestHLC returns the minimum HLC currently buffered and whether the
// buffer is non-empty.
func (b *Buffer) OldestHLC() (hlc.Timestamp, bool) {
	b.mu.Lock()
	defer b.mu.Unlock()

	return b.minHLC, b.hasMin
}

// approxSize estimates a delta's footprint for the running byte counter:
// fixed overhead plus each column's string/JSON payload length.
func approxSize(d deltamodel.RowDelta) int {
	const baseOverhead = 64

	size := baseOverhead + len(d.DeltaID) + len(d.Table) + len(d.RowID) + len(d.ClientID)

	for _, c := range d.Columns {
		size += len(c.Column) + 16

		switch c.Value.Kind {
		case deltamodel.KindString:
			size += len(c.Value.Str)
		case deltamodel.KindJSON:
			size += jsonApproxSize(c.Value.JSON)
		}
	}

	return size
}

func jsonApproxSize(v any) int {
	switch t := v.(type) {
	case string:
		return len(t)
	case map[string]any:
		total := 0
		for k, val := range t {
			total += len(k) + jsonApproxSize(val)
		}

		return total
	case []any:
		total := 0
		for _, val := range t {
			total += jsonApproxSize(val)
		}

		return total
	default:
		return 8
	}
}
