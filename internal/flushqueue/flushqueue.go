// Package flushqueue implements the claim-check materialisation queue
// described in SPEC_FULL.md §4.6: a Publisher writes the full flush
// payload to object storage and enqueues a lightweight reference row; a
// Consumer claims the reference, fetches the payload, and hands it to
// configured materialisers.
package flushqueue

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/lakesync/lakesync/internal/deltamodel"
	"github.com/lakesync/lakesync/internal/lakeerr"
	"github.com/lakesync/lakesync/internal/objectstore"
)

// Status values for MaterialiseJobRecord.Status.
const (
	StatusPending  = "pending"
	StatusClaimed  = "claimed"
	StatusDone     = "done"
	StatusFailed   = "failed"
	StatusCanceled = "canceled"
)

// ErrJobNotFound is returned when a transition is attempted on a job ID
// that does not exist.
var ErrJobNotFound = errors.New("flushqueue: job not found")

// MaterialiseJobRecord is the claim-check reference row persisted by the
// queue, modeled on the teacher's action_queue/LedgerRow.
type MaterialiseJobRecord struct {
	ID         int64
	ObjectKey  string
	GatewayID  string
	DeltaCount int
	Status     string
	Attempts   int
	LastError  string
	CreatedAt  time.Time
	ClaimedAt  *time.Time
}

// Payload is the full flush payload written to object storage at publish
// time; the reference row only ever carries ObjectKey/GatewayID/DeltaCount.
type Payload struct {
	Entries []deltamodel.RowDelta    `json:"entries"`
	Schemas []deltamodel.TableSchema `json:"schemas"`
}

// Materialiser consumes a decoded payload for one flush. A non-nil error
// marks the job Failed; a Failed job is not returned to pending, so it is
// not retried automatically. OnFailure is invoked per affected table
// regardless, so callers can surface partial failures without the
// processor ever panicking.
type Materialiser func(ctx context.Context, entries []deltamodel.RowDelta, schemas []deltamodel.TableSchema) error

// OnFailure is invoked once per affected table when a materialiser run
// fails, after the job has been marked Failed.
type OnFailure func(table string, deltaCount int, err error)

// Publisher writes flush payloads to object storage and enqueues a
// reference row in the ledger.
type Publisher struct {
	store  objectstore.Store
	ledger *Ledger
	logger *slog.Logger
}

// NewPublisher constructs a Publisher over the given object store and
// ledger.
func NewPublisher(store objectstore.Store, ledger *Ledger, logger *slog.Logger) *Publisher {
	return &Publisher{store: store, ledger: ledger, logger: logger}
}

// Publish writes payload to object storage at
// materialise-jobs/${gatewayId}/${ts}-${uuid}.json, then enqueues a
// pending MaterialiseJobRecord referencing it.
func (p *Publisher) Publish(ctx context.Context, gatewayID string, payload Payload) (*MaterialiseJobRecord, error) {
	b, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("flushqueue: marshal payload: %w", err)
	}

	key := fmt.Sprintf("materialise-jobs/%s/%d-%s.json", gatewayID, time.Now().UTC().UnixMilli(), uuid.NewString())

	if err := p.store.PutObject(ctx, key, b, "application/json"); err != nil {
		return nil, fmt.Errorf("%w: put payload: %w", lakeerr.ErrFlushQueueError, err)
	}

	rec, err := p.ledger.Enqueue(ctx, key, gatewayID, len(payload.Entries))
	if err != nil {
		return nil, fmt.Errorf("%w: enqueue reference: %w", lakeerr.ErrFlushQueueError, err)
	}

	p.logger.Info("flushqueue: published",
		slog.String("object_key", key),
		slog.String("gateway_id", gatewayID),
		slog.Int("delta_count", len(payload.Entries)),
	)

	return rec, nil
}

// Consumer pulls pending references, fetches their payloads, and drives
// materialisers. It is total: no error or panic from a materialiser
// escapes ProcessOne.
type Consumer struct {
	store         objectstore.Store
	ledger        *Ledger
	materialisers []Materialiser
	onFailure     OnFailure
	logger        *slog.Logger
}

// NewConsumer constructs a Consumer. onFailure may be nil.
func NewConsumer(store objectstore.Store, ledger *Ledger, materialisers []Materialiser, onFailure OnFailure, logger *slog.Logger) *Consumer {
	if onFailure == nil {
		onFailure = func(string, int, error) {}
	}

	return &Consumer{store: store, ledger: ledger, materialisers: materialisers, onFailure: onFailure, logger: logger}
}

// ProcessOne claims the oldest pending job (if any) and processes it.
// Returns (false, nil) when there is no pending work.
func (c *Consumer) ProcessOne(ctx context.Context) (processed bool, err error) {
	rec, ok, err := c.ledger.ClaimOldestPending(ctx)
	if err != nil {
		return false, fmt.Errorf("flushqueue: claim pending: %w", err)
	}

	if !ok {
		return false, nil
	}

	c.process(ctx, rec)

	return true, nil
}

// process fetches the payload and runs every materialiser, recovering
// from panics so a single broken materialiser never takes the processor
// down.
func (c *Consumer) process(ctx context.Context, rec *MaterialiseJobRecord) {
	payload, err := c.fetch(ctx, rec.ObjectKey)
	if err != nil {
		c.fail(ctx, rec, err, nil)
		return
	}

	if err := c.runMaterialisers(ctx, payload); err != nil {
		c.fail(ctx, rec, err, payload.Entries)
		return
	}

	if err := c.store.DeleteObject(ctx, rec.ObjectKey); err != nil {
		c.logger.Warn("flushqueue: delete materialised object failed",
			slog.String("object_key", rec.ObjectKey), slog.String("error", err.Error()))
	}

	if err := c.ledger.Complete(ctx, rec.ID); err != nil {
		c.logger.Error("flushqueue: mark complete failed",
			slog.Int64("job_id", rec.ID), slog.String("error", err.Error()))
	}
}

func (c *Consumer) fetch(ctx context.Context, key string) (Payload, error) {
	obj, err := c.store.GetObject(ctx, key)
	if err != nil {
		return Payload{}, fmt.Errorf("fetch payload %q: %w", key, err)
	}

	var payload Payload
	if err := json.Unmarshal(obj.Body, &payload); err != nil {
		return Payload{}, fmt.Errorf("decode payload %q: %w", key, err)
	}

	return payload, nil
}

// runMaterialisers invokes the configured materialisers in order,
// stopping at the first error and recovering from panics and converting them into plain errors so the processor
// stays total per SPEC_FULL §4.6.
func (c *Consumer) runMaterialisers(ctx context.Context, payload Payload) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("materialiser panic: %v", r)
		}
	}()

	for _, m := range c.materialisers {
		if mErr := m(ctx, payload.Entries, payload.Schemas); mErr != nil {
			return mErr
		}
	}

	return nil
}

// fail marks rec Failed and emits one OnFailure event per table touched
// by entries. When entries is nil (the payload itself could not be
// fetched), it emits a single event with an empty table name — the
// reference row alone carries no per-table breakdown.
func (c *Consumer) fail(ctx context.Context, rec *MaterialiseJobRecord, cause error, entries []deltamodel.RowDelta) {
	if err := c.ledger.Fail(ctx, rec.ID, cause.Error()); err != nil {
		c.logger.Error("flushqueue: mark failed failed",
			slog.Int64("job_id", rec.ID), slog.String("error", err.Error()))
	}

	counts := map[string]int{}
	for _, e := range entries {
		counts[e.Table]++
	}

	if len(counts) == 0 {
		c.onFailure("", rec.DeltaCount, cause)
		return
	}

	for table, count := range counts {
		c.onFailure(table, count, cause)
	}
}
