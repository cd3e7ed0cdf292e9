// Package gateway implements the sync gateway described in
// SPEC_FULL.md §4.5: push/pull/flush over a shared Buffer, rule-based
// pull filtering, and per-flow orchestration state.
package gateway

import (
	"context"
	"fmt"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/singleflight"

	"github.com/lakesync/lakesync/internal/buffer"
	"github.com/lakesync/lakesync/internal/catalogue"
	"github.com/lakesync/lakesync/internal/dbadapter"
	"github.com/lakesync/lakesync/internal/deltacodec"
	"github.com/lakesync/lakesync/internal/deltamodel"
	"github.com/lakesync/lakesync/internal/hlc"
	"github.com/lakesync/lakesync/internal/lakeerr"
	"github.com/lakesync/lakesync/internal/lakeparquet"
	"github.com/lakesync/lakesync/internal/objectstore"
)

// FlushFormat selects the on-disk encoding a Flush writes.
type FlushFormat string

const (
	FlushJSON    FlushFormat = "json"
	FlushParquet FlushFormat = "parquet"
)

// catalogueNamespace is the fixed Iceberg namespace every flushed table
// is committed under (SPEC_FULL §8 scenario 3).
const catalogueNamespace = "lakesync"

// Config is a gateway's static configuration (SPEC_FULL §4.5, §6).
type Config struct {
	GatewayID        string
	MaxBufferBytes   int
	MaxBufferAgeMs   int64
	FlushFormat      FlushFormat
	ConsistencyMode  buffer.Mode
	TableSchema      *deltamodel.TableSchema
	Catalogue        catalogue.Catalogue // nil disables catalogue commits
	SourceAdapters   map[string]dbadapter.Adapter
	StorePrefix      string
	ExcludeOwnClient bool // zero value false; the config package defaults it to true; see SPEC_FULL §9
}

// PushRequest is the input to Push.
type PushRequest struct {
	ClientID    string
	Deltas      []deltamodel.RowDelta
	LastSeenHLC *hlc.Timestamp
}

// PushResult is the output of Push.
type PushResult struct {
	AcceptedCount int
	RejectedIDs   []string
	ServerHLC     hlc.Timestamp
}

// PullRequest is the input to PullFromBuffer/PullFromAdapter.
type PullRequest struct {
	ClientID  string
	SinceHLC  hlc.Timestamp
	MaxDeltas int
	Rules     *RulesContext
}

// PullResult is the output of PullFromBuffer/PullFromAdapter.
type PullResult struct {
	Deltas     []deltamodel.RowDelta
	NextCursor hlc.Timestamp
	HasMore    bool
}

// FlushResult is the output of Flush.
type FlushResult struct {
	ObjectKey   string
	RecordCount int
}

// Gateway coordinates push/pull/flush for one logical gateway instance.
type Gateway struct {
	cfg    Config
	clock  *hlc.Clock
	buf    *buffer.Buffer
	store  objectstore.Store
	logger *slog.Logger

	flushGroup singleflight.Group

	flows *flowTable

	tableSchema atomic.Pointer[deltamodel.TableSchema]
}

// New constructs a Gateway. adapter backs the shared buffer's
// write-through path (may be nil to disable write-through). store backs
// object persistence for Flush (required unless the caller never calls
// Flush).
func New(cfg Config, clock *hlc.Clock, adapter dbadapter.Adapter, store objectstore.Store, logger *slog.Logger) *Gateway {
	g := &Gateway{
		cfg:    cfg,
		clock:  clock,
		buf:    buffer.New(cfg.ConsistencyMode, adapter, logger),
		store:  store,
		logger: logger,
		flows:  newFlowTable(),
	}

	if cfg.TableSchema != nil {
		g.tableSchema.Store(cfg.TableSchema)
	}

	return g
}

// SetTableSchema registers or replaces the table schema used by Parquet
// encoding and catalogue commits (the `POST /admin/schema/:gatewayId`
// route in SPEC_FULL §6). Safe to call concurrently with Flush.
func (g *Gateway) SetTableSchema(schema deltamodel.TableSchema) {
	g.tableSchema.Store(&schema)
}

// TableSchema returns the currently registered schema, if any.
func (g *Gateway) TableSchema() *deltamodel.TableSchema {
	return g.tableSchema.Load()
}

// Push advances the clock per delta, rejects clock-drift or mismatched
// clientId deltas, and admits the rest into the shared buffer
// (SPEC_FULL §4.5).
func (g *Gateway) Push(ctx context.Context, req PushRequest) (PushResult, error) {
	if g.bufferFull() {
		// Default backpressure policy (SPEC_FULL §5): synchronously flush
		// and retry once before rejecting.
		if _, err := g.Flush(ctx); err != nil {
			g.logger.Warn("gateway: synchronous backpressure flush failed", slog.String("error", err.Error()))
		}

		if g.bufferFull() {
			return PushResult{}, lakeerr.ErrBufferFull
		}
	}

	accepted := make([]deltamodel.RowDelta, 0, len(req.Deltas))
	rejected := make([]string, 0)

	for _, d := range req.Deltas {
		if _, err := g.clock.Recv(d.HLC); err != nil {
			rejected = append(rejected, d.DeltaID)
			continue
		}

		if d.ClientID != req.ClientID {
			rejected = append(rejected, d.DeltaID)
			continue
		}

		accepted = append(accepted, d)
	}

	if len(accepted) > 0 {
		if err := g.buf.WriteThroughPush(ctx, accepted); err != nil {
			return PushResult{}, err
		}
	}

	if g.overThreshold() {
		go func() {
			flushCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
			defer cancel()

			if _, err := g.Flush(flushCtx); err != nil {
				g.logger.Warn("gateway: background flush failed", slog.String("error", err.Error()))
			}
		}()
	}

	return PushResult{
		AcceptedCount: len(accepted),
		RejectedIDs:   rejected,
		ServerHLC:     g.clock.Now(),
	}, nil
}

// bufferFull reports whether the buffer has reached its configured byte
// cap, the trigger for the backpressure policy in Push.
func (g *Gateway) bufferFull() bool {
	return g.cfg.MaxBufferBytes > 0 && g.buf.Bytes() >= g.cfg.MaxBufferBytes
}

// overThreshold reports whether the buffer has crossed its size or age
// trigger for a flush.
func (g *Gateway) overThreshold() bool {
	if g.cfg.MaxBufferBytes > 0 && g.buf.Bytes() >= g.cfg.MaxBufferBytes {
		return true
	}

	if g.cfg.MaxBufferAgeMs <= 0 {
		return false
	}

	oldest, ok := g.buf.OldestHLC()
	if !ok {
		return false
	}

	wallMS, _ := hlc.Decode(oldest)
	nowWallMS, _ := hlc.Decode(g.clock.Now())

	return nowWallMS-wallMS >= g.cfg.MaxBufferAgeMs
}

// PullFromBuffer returns a stable, HLC-ascending page of buffered deltas
// matching req (SPEC_FULL §4.5).
func (g *Gateway) PullFromBuffer(_ context.Context, req PullRequest) (PullResult, error) {
	snapshot := g.buf.Snapshot()

	return g.paginate(snapshot, req), nil
}

// PullFromAdapter returns a page of deltas queried from a registered
// source adapter (SPEC_FULL §4.5).
func (g *Gateway) PullFromAdapter(ctx context.Context, sourceName string, req PullRequest) (PullResult, error) {
	adapter, ok := g.cfg.SourceAdapters[sourceName]
	if !ok {
		return PullResult{}, fmt.Errorf("gateway: pull from %q: %w", sourceName, lakeerr.ErrAdapterNotFound)
	}

	deltas, err := adapter.QueryDeltasSince(ctx, req.SinceHLC, nil)
	if err != nil {
		return PullResult{}, fmt.Errorf("gateway: pull from %q: %w", sourceName, lakeerr.ErrAdapterError)
	}

	return g.paginate(deltas, req), nil
}

// paginate applies the since-cursor, the own-client loopback policy, rule
// filtering, and the page size cap, in that order.
func (g *Gateway) paginate(deltas []deltamodel.RowDelta, req PullRequest) PullResult {
	filtered := make([]deltamodel.RowDelta, 0, len(deltas))

	for _, d := range deltas {
		if d.HLC <= req.SinceHLC {
			continue
		}

		if g.cfg.ExcludeOwnClient && d.ClientID == req.ClientID {
			continue
		}

		if req.Rules != nil && !req.Rules.Matches(d) {
			continue
		}

		filtered = append(filtered, d)
	}

	maxDeltas := req.MaxDeltas
	if maxDeltas <= 0 || maxDeltas > len(filtered) {
		maxDeltas = len(filtered)
	}

	page := filtered[:maxDeltas]

	result := PullResult{Deltas: page, HasMore: maxDeltas < len(filtered)}
	if len(page) > 0 {
		result.NextCursor = page[len(page)-1].HLC
	} else {
		result.NextCursor = req.SinceHLC
	}

	return result
}

// Flush drains the buffer, encodes the snapshot in the configured
// format, persists it to object storage, and (if configured) commits it
// to the catalogue. Flush calls for the same gateway collapse into one
// in-flight run via singleflight (SPEC_FULL §5).
func (g *Gateway) Flush(ctx context.Context) (FlushResult, error) {
	v, err, _ := g.flushGroup.Do(g.cfg.GatewayID, func() (any, error) {
		return g.flushOnce(ctx)
	})
	if err != nil {
		return FlushResult{}, err
	}

	return v.(FlushResult), nil
}

func (g *Gateway) flushOnce(ctx context.Context) (FlushResult, error) {
	snapshot := g.buf.Drain()
	if len(snapshot) == 0 {
		return FlushResult{}, nil
	}

	var (
		encoded   []byte
		ensureErr error
	)

	grp, gctx := errgroup.WithContext(ctx)

	grp.Go(func() error {
		b, err := g.encode(snapshot)
		if err != nil {
			return err
		}

		encoded = b

		return nil
	})

	if g.cfg.Catalogue != nil {
		grp.Go(func() error {
			ensureErr = g.cfg.Catalogue.CreateNamespace(gctx, catalogueNamespace)
			return nil // namespace-ensure failures are surfaced at commit time, not here
		})
	}

	if err := grp.Wait(); err != nil {
		g.buf.Requeue(snapshot)
		return FlushResult{}, fmt.Errorf("%w: %w", lakeerr.ErrFlushError, err)
	}

	key := g.objectKey(snapshot)

	contentType := "application/json"
	if g.cfg.FlushFormat == FlushParquet {
		contentType = "application/octet-stream"
	}

	if err := g.store.PutObject(ctx, key, encoded, contentType); err != nil {
		g.buf.Requeue(snapshot)
		return FlushResult{}, fmt.Errorf("%w: put object: %w", lakeerr.ErrFlushError, err)
	}

	if g.cfg.Catalogue != nil {
		if ensureErr != nil {
			return FlushResult{}, fmt.Errorf("%w: ensure namespace: %w", lakeerr.ErrCatalogueError, ensureErr)
		}

		if err := g.commitCatalogue(ctx, key, len(snapshot), len(encoded)); err != nil {
			return FlushResult{}, fmt.Errorf("%w: %w", lakeerr.ErrCatalogueError, err)
		}
	}

	return FlushResult{ObjectKey: key, RecordCount: len(snapshot)}, nil
}

func (g *Gateway) encode(snapshot []deltamodel.RowDelta) ([]byte, error) {
	if g.cfg.FlushFormat == FlushParquet {
		schema := g.tableSchema.Load()
		if schema == nil {
			return nil, fmt.Errorf("gateway: parquet flush requires a tableSchema")
		}

		return lakeparquet.EncodeSnapshot(*schema, snapshot)
	}

	frame := deltacodec.Frame{Kind: deltacodec.FrameSyncPull, Deltas: snapshot, Cursor: maxHLC(snapshot)}

	return deltacodec.EncodeFrame(frame)
}

func (g *Gateway) commitCatalogue(ctx context.Context, objectKey string, recordCount, byteSize int) error {
	tableName := "deltas"
	schema := deltamodel.TableSchema{}

	if ts := g.tableSchema.Load(); ts != nil {
		tableName = ts.Table
		schema = *ts
	}

	if _, err := g.cfg.Catalogue.CreateTable(ctx, catalogueNamespace, tableName, schema); err != nil {
		return fmt.Errorf("create table: %w", err)
	}

	format := "JSON"
	if g.cfg.FlushFormat == FlushParquet {
		format = "PARQUET"
	}

	file := catalogue.DataFile{
		Path:          objectKey,
		FileFormat:    format,
		RecordCount:   int64(recordCount),
		FileSizeBytes: int64(byteSize),
	}

	if err := g.cfg.Catalogue.AppendFiles(ctx, catalogueNamespace, tableName, []catalogue.DataFile{file}); err != nil {
		return fmt.Errorf("append files: %w", err)
	}

	return nil
}

// AddFlow registers a named sync flow in the idle state.
func (g *Gateway) AddFlow(name, source, store string, runner Runner) error {
	return g.flows.AddFlow(name, source, store, runner)
}

// StartFlow transitions a flow to running.
func (g *Gateway) StartFlow(name string) error { return g.flows.Start(name) }

// StopFlow cancels a running flow and awaits its exit.
func (g *Gateway) StopFlow(name string) error { return g.flows.Stop(name) }

// StartAllFlows starts every registered flow.
func (g *Gateway) StartAllFlows() error { return g.flows.StartAll() }

// StopAllFlows stops every registered flow.
func (g *Gateway) StopAllFlows() error { return g.flows.StopAll() }

// FlowState returns a flow's current lifecycle state.
func (g *Gateway) FlowState(name string) (FlowState, error) { return g.flows.State(name) }

func (g *Gateway) objectKey(snapshot []deltamodel.RowDelta) string {
	ext := "json"
	if g.cfg.FlushFormat == FlushParquet {
		ext = "parquet"
	}

	return fmt.Sprintf("%s/%s/deltas/%d-%d-%s.%s",
		g.cfg.StorePrefix, g.cfg.GatewayID, minHLC(snapshot), maxHLC(snapshot), uuid.NewString(), ext)
}

func minHLC(deltas []deltamodel.RowDelta) hlc.Timestamp {
	if len(deltas) == 0 {
		return 0
	}

	m := deltas[0].HLC
	for _, d := range deltas[1:] {
		if d.HLC < m {
			m = d.HLC
		}
	}

	return m
}

func maxHLC(deltas []deltamodel.RowDelta) hlc.Timestamp {
	var m hlc.Timestamp

	for _, d := range deltas {
		if d.HLC > m {
			m = d.HLC
		}
	}

	return m
}
