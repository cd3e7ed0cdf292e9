package gateway

import (
	"context"
	"io"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lakesync/lakesync/internal/buffer"
	"github.com/lakesync/lakesync/internal/catalogue"
	"github.com/lakesync/lakesync/internal/dbadapter"
	"github.com/lakesync/lakesync/internal/deltamodel"
	"github.com/lakesync/lakesync/internal/hlc"
	"github.com/lakesync/lakesync/internal/lakeerr"
	"github.com/lakesync/lakesync/internal/lakeparquet"
	"github.com/lakesync/lakesync/internal/objectstore"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// fakeWall lets tests drive the HLC's wall-clock reading deterministically.
type fakeWall struct{ ms int64 }

func (f *fakeWall) NowMS() int64 { return f.ms }

func mkDelta(id, clientID string, ts hlc.Timestamp, col, val string) deltamodel.RowDelta {
	return deltamodel.RowDelta{
		DeltaID: id, Op: deltamodel.OpInsert, Table: "todos", RowID: "r1",
		ClientID: clientID, HLC: ts,
		Columns: []deltamodel.ColumnDelta{{Column: col, Value: deltamodel.StringValue(val)}},
	}
}

func newTestGateway(cfg Config) *Gateway {
	cfg.ConsistencyMode = buffer.Eventual

	return New(cfg, hlc.NewSystem(), nil, objectstore.NewMemoryStore(), testLogger())
}

func TestPushAcceptsValidDeltasAndAdvancesClock(t *testing.T) {
	gw := newTestGateway(Config{GatewayID: "gw1", StorePrefix: "lake"})

	clock := hlc.NewSystem()
	h := clock.Now()

	res, err := gw.Push(context.Background(), PushRequest{
		ClientID: "c1",
		Deltas:   []deltamodel.RowDelta{mkDelta("d1", "c1", h, "title", "A")},
	})
	require.NoError(t, err)
	assert.Equal(t, 1, res.AcceptedCount)
	assert.Empty(t, res.RejectedIDs)
}

func TestPushRejectsMismatchedClientID(t *testing.T) {
	gw := newTestGateway(Config{GatewayID: "gw1", StorePrefix: "lake"})

	res, err := gw.Push(context.Background(), PushRequest{
		ClientID: "c1",
		Deltas:   []deltamodel.RowDelta{mkDelta("d1", "other-client", hlc.Timestamp(1000), "title", "A")},
	})
	require.NoError(t, err)
	assert.Equal(t, 0, res.AcceptedCount)
	assert.Equal(t, []string{"d1"}, res.RejectedIDs)
}

func TestPushRejectsClockDrift(t *testing.T) {
	gw := New(Config{GatewayID: "gw1", StorePrefix: "lake", ConsistencyMode: buffer.Eventual},
		hlc.New(&fakeWall{ms: 1000000}), nil, objectstore.NewMemoryStore(), testLogger())

	farFuture := hlc.Encode(1000000+hlc.MaxDriftMS+1, 0)

	res, err := gw.Push(context.Background(), PushRequest{
		ClientID: "c1",
		Deltas:   []deltamodel.RowDelta{mkDelta("d1", "c1", farFuture, "title", "A")},
	})
	require.NoError(t, err)
	assert.Equal(t, 0, res.AcceptedCount)
	assert.Equal(t, []string{"d1"}, res.RejectedIDs)
}

func TestPushDeduplicatesByDeltaID(t *testing.T) {
	gw := newTestGateway(Config{GatewayID: "gw1", StorePrefix: "lake"})
	d := mkDelta("d1", "c1", hlc.Timestamp(1000), "title", "A")

	_, err := gw.Push(context.Background(), PushRequest{ClientID: "c1", Deltas: []deltamodel.RowDelta{d}})
	require.NoError(t, err)
	_, err = gw.Push(context.Background(), PushRequest{ClientID: "c1", Deltas: []deltamodel.RowDelta{d}})
	require.NoError(t, err)

	assert.Equal(t, 1, gw.buf.Len())
}

func TestPushBackpressureFlushesAndRetriesOnce(t *testing.T) {
	store := objectstore.NewMemoryStore()
	gw := New(Config{GatewayID: "gw1", StorePrefix: "lake", MaxBufferBytes: 1, ConsistencyMode: buffer.Eventual},
		hlc.NewSystem(), nil, store, testLogger())

	// First push fills the (tiny) buffer past the threshold, triggering a
	// synchronous flush on the second push before admission.
	_, err := gw.Push(context.Background(), PushRequest{
		ClientID: "c1",
		Deltas:   []deltamodel.RowDelta{mkDelta("d1", "c1", hlc.Timestamp(1000), "title", "A")},
	})
	require.NoError(t, err)
	assert.Positive(t, gw.buf.Bytes())

	res, err := gw.Push(context.Background(), PushRequest{
		ClientID: "c1",
		Deltas:   []deltamodel.RowDelta{mkDelta("d2", "c1", hlc.Timestamp(2000), "title", "B")},
	})
	require.NoError(t, err)
	assert.Equal(t, 1, res.AcceptedCount)

	objs, err := store.ListObjects(context.Background(), "lake/gw1/deltas/")
	require.NoError(t, err)
	assert.Len(t, objs, 1)
}

func TestPullFromBufferOrdersByHLCThenDeltaID(t *testing.T) {
	gw := newTestGateway(Config{GatewayID: "gw1", StorePrefix: "lake"})
	gw.buf.Add([]deltamodel.RowDelta{
		mkDelta("z", "c1", hlc.Timestamp(500), "title", "Z"),
		mkDelta("b", "c1", hlc.Timestamp(100), "title", "B"),
		mkDelta("a", "c1", hlc.Timestamp(100), "title", "A"),
	})

	res, err := gw.PullFromBuffer(context.Background(), PullRequest{ClientID: "other", SinceHLC: 0})
	require.NoError(t, err)
	require.Len(t, res.Deltas, 3)
	assert.Equal(t, "a", res.Deltas[0].DeltaID)
	assert.Equal(t, "b", res.Deltas[1].DeltaID)
	assert.Equal(t, "z", res.Deltas[2].DeltaID)
	assert.False(t, res.HasMore)
	assert.Equal(t, hlc.Timestamp(500), res.NextCursor)
}

func TestPullFromBufferExcludesOwnClientByDefault(t *testing.T) {
	gw := newTestGateway(Config{GatewayID: "gw1", StorePrefix: "lake", ExcludeOwnClient: true})
	gw.buf.Add([]deltamodel.RowDelta{
		mkDelta("a", "c1", hlc.Timestamp(100), "title", "A"),
		mkDelta("b", "c2", hlc.Timestamp(200), "title", "B"),
	})

	res, err := gw.PullFromBuffer(context.Background(), PullRequest{ClientID: "c1", SinceHLC: 0})
	require.NoError(t, err)
	require.Len(t, res.Deltas, 1)
	assert.Equal(t, "b", res.Deltas[0].DeltaID)
}

// Scenario 4 (SPEC_FULL §8): rule-bucket filtering restricts a pull to
// matching deltas only.
func TestPullAppliesRuleBucketFilters(t *testing.T) {
	gw := newTestGateway(Config{GatewayID: "gw1", StorePrefix: "lake"})
	gw.buf.Add([]deltamodel.RowDelta{
		{DeltaID: "e1", Op: deltamodel.OpInsert, Table: "logs", RowID: "r1", ClientID: "c1", HLC: 100,
			Columns: []deltamodel.ColumnDelta{{Column: "level", Value: deltamodel.StringValue("error")}}},
		{DeltaID: "e2", Op: deltamodel.OpInsert, Table: "logs", RowID: "r2", ClientID: "c1", HLC: 200,
			Columns: []deltamodel.ColumnDelta{{Column: "level", Value: deltamodel.StringValue("info")}}},
	})

	rules := &RulesContext{
		Rules: Rules{Buckets: []Bucket{{
			Name:   "errors",
			Tables: []string{"logs"},
			Filters: []Filter{{Column: "level", Op: OpEq, Value: deltamodel.StringValue("error")}},
		}}},
	}

	res, err := gw.PullFromBuffer(context.Background(), PullRequest{ClientID: "other", SinceHLC: 0, Rules: rules})
	require.NoError(t, err)
	require.Len(t, res.Deltas, 1)
	assert.Equal(t, "e1", res.Deltas[0].DeltaID)
}

// Scenario 5 (SPEC_FULL §8): pagination over an adapter source.
func TestPullFromAdapterPaginates(t *testing.T) {
	var deltas []deltamodel.RowDelta
	for i := 0; i < 10; i++ {
		deltas = append(deltas, mkDelta(string(rune('a'+i)), "c1", hlc.Timestamp(100*(i+1)), "title", "x"))
	}

	adapter := &stubAdapter{deltas: deltas}
	gw := newTestGateway(Config{
		GatewayID:      "gw1",
		StorePrefix:    "lake",
		SourceAdapters: map[string]dbadapter.Adapter{"bigquery": adapter},
	})

	page1, err := gw.PullFromAdapter(context.Background(), "bigquery", PullRequest{ClientID: "other", SinceHLC: 0, MaxDeltas: 5})
	require.NoError(t, err)
	require.Len(t, page1.Deltas, 5)
	assert.True(t, page1.HasMore)

	page2, err := gw.PullFromAdapter(context.Background(), "bigquery", PullRequest{ClientID: "other", SinceHLC: page1.NextCursor, MaxDeltas: 5})
	require.NoError(t, err)
	require.Len(t, page2.Deltas, 5)
	assert.False(t, page2.HasMore)
}

type stubAdapter struct {
	deltas []deltamodel.RowDelta
}

func (s *stubAdapter) EnsureSchema(context.Context, deltamodel.TableSchema) error { return nil }
func (s *stubAdapter) InsertDeltas(context.Context, []deltamodel.RowDelta) error  { return nil }
func (s *stubAdapter) QueryDeltasSince(_ context.Context, since hlc.Timestamp, _ []string) ([]deltamodel.RowDelta, error) {
	var out []deltamodel.RowDelta
	for _, d := range s.deltas {
		if d.HLC > since {
			out = append(out, d)
		}
	}

	return out, nil
}
func (s *stubAdapter) GetLatestState(context.Context, string, string) (map[string]deltamodel.ColumnValue, error) {
	return nil, nil
}
func (s *stubAdapter) Close() error { return nil }

func TestPullFromAdapterUnknownSourceReturnsError(t *testing.T) {
	gw := newTestGateway(Config{GatewayID: "gw1", StorePrefix: "lake"})

	_, err := gw.PullFromAdapter(context.Background(), "missing", PullRequest{ClientID: "c1"})
	assert.ErrorIs(t, err, lakeerr.ErrAdapterNotFound)
}

func TestFlushEmptyBufferIsNoop(t *testing.T) {
	gw := newTestGateway(Config{GatewayID: "gw1", StorePrefix: "lake"})

	res, err := gw.Flush(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 0, res.RecordCount)
}

func TestFlushJSONRoundTrips(t *testing.T) {
	store := objectstore.NewMemoryStore()
	gw := New(Config{GatewayID: "gw1", StorePrefix: "lake", FlushFormat: FlushJSON, ConsistencyMode: buffer.Eventual},
		hlc.NewSystem(), nil, store, testLogger())

	gw.buf.Add([]deltamodel.RowDelta{mkDelta("d1", "c1", hlc.Timestamp(1000), "title", "A")})

	res, err := gw.Flush(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, res.RecordCount)

	obj, err := store.GetObject(context.Background(), res.ObjectKey)
	require.NoError(t, err)
	assert.NotEmpty(t, obj.Body)
	assert.Equal(t, 0, gw.buf.Len())
}

// Scenario 3 (SPEC_FULL §8): a Parquet flush with a catalogue commits
// exactly one object and one set of catalogue RPCs.
func TestFlushParquetCommitsToCatalogue(t *testing.T) {
	store := objectstore.NewMemoryStore()
	cat := catalogue.NewMemoryCatalogue()
	schema := deltamodel.TableSchema{Table: "todos", Columns: []deltamodel.ColumnDef{{Name: "title", Type: deltamodel.ColumnString}}}

	gw := New(Config{
		GatewayID: "gw1", StorePrefix: "lake",
		FlushFormat:     FlushParquet,
		TableSchema:     &schema,
		Catalogue:       cat,
		ConsistencyMode: buffer.Eventual,
	}, hlc.NewSystem(), nil, store, testLogger())

	for i := 0; i < 20; i++ {
		gw.buf.Add([]deltamodel.RowDelta{
			mkDelta(string(rune('a'+i)), "c1", hlc.Timestamp(100*(i+1)), "title", "x"),
		})
	}

	gw.buf.Add([]deltamodel.RowDelta{{
		DeltaID: "null-update", Op: deltamodel.OpUpdate, Table: "todos", RowID: "r1",
		ClientID: "c1", HLC: hlc.Timestamp(5000),
		Columns: []deltamodel.ColumnDelta{{Column: "title", Value: deltamodel.NullValue()}},
	}})

	res, err := gw.Flush(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 21, res.RecordCount)

	objs, err := store.ListObjects(context.Background(), "lake/gw1/deltas/")
	require.NoError(t, err)
	assert.Len(t, objs, 1)

	snap, err := cat.CurrentSnapshot(context.Background(), "lakesync", "todos")
	require.NoError(t, err)
	require.NotNil(t, snap)
	require.Len(t, snap.DataFiles, 1)
	assert.Equal(t, int64(21), snap.DataFiles[0].RecordCount)
	assert.Equal(t, "PARQUET", snap.DataFiles[0].FileFormat)

	obj, err := store.GetObject(context.Background(), res.ObjectKey)
	require.NoError(t, err)

	decoded, err := lakeparquet.DecodeSnapshot(schema, obj.Body)
	require.NoError(t, err)
	assert.Len(t, decoded, 21)

	last := decoded[len(decoded)-1]
	require.Len(t, last.Columns, 1)
	assert.Equal(t, "title", last.Columns[0].Column)
	assert.Equal(t, deltamodel.KindNull, last.Columns[0].Value.Kind)
}

func TestFlushReinsertsSnapshotOnPutObjectFailure(t *testing.T) {
	gw := New(Config{GatewayID: "gw1", StorePrefix: "lake", FlushFormat: FlushJSON, ConsistencyMode: buffer.Eventual},
		hlc.NewSystem(), nil, failingStore{}, testLogger())

	gw.buf.Add([]deltamodel.RowDelta{mkDelta("d1", "c1", hlc.Timestamp(1000), "title", "A")})

	_, err := gw.Flush(context.Background())
	require.Error(t, err)
	assert.ErrorIs(t, err, lakeerr.ErrFlushError)
	assert.Equal(t, 1, gw.buf.Len())
}

type failingStore struct{ objectstore.Store }

func (failingStore) PutObject(context.Context, string, []byte, string) error {
	return assert.AnError
}

func TestFlowLifecycle(t *testing.T) {
	gw := newTestGateway(Config{GatewayID: "gw1", StorePrefix: "lake"})

	started := make(chan struct{})
	runner := func(ctx context.Context, name string) error {
		close(started)
		<-ctx.Done()
		return nil
	}

	require.NoError(t, gw.AddFlow("ingest", "bigquery", "lake", runner))

	state, err := gw.FlowState("ingest")
	require.NoError(t, err)
	assert.Equal(t, FlowIdle, state)

	require.NoError(t, gw.StartFlow("ingest"))
	<-started

	state, err = gw.FlowState("ingest")
	require.NoError(t, err)
	assert.Equal(t, FlowRunning, state)

	require.NoError(t, gw.StopFlow("ingest"))

	state, err = gw.FlowState("ingest")
	require.NoError(t, err)
	assert.Equal(t, FlowStopped, state)
}

func TestAddFlowRejectsDuplicateAndEmptyFields(t *testing.T) {
	gw := newTestGateway(Config{GatewayID: "gw1", StorePrefix: "lake"})
	noop := func(context.Context, string) error { return nil }

	require.NoError(t, gw.AddFlow("ingest", "bigquery", "lake", noop))
	assert.ErrorIs(t, gw.AddFlow("ingest", "bigquery", "lake", noop), ErrFlowExists)
	assert.ErrorIs(t, gw.AddFlow("other", "", "lake", noop), ErrFlowInvalid)
}
