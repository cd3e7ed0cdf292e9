package schemawatch

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lakesync/lakesync/internal/deltamodel"
)

// mockFsWatcher implements FsWatcher with injectable channels for testing.
type mockFsWatcher struct {
	events chan fsnotify.Event
	errs   chan error
	closed bool
}

func newMockFsWatcher() *mockFsWatcher {
	return &mockFsWatcher{
		events: make(chan fsnotify.Event, 4),
		errs:   make(chan error, 4),
	}
}

func (m *mockFsWatcher) Add(string) error              { return nil }
func (m *mockFsWatcher) Events() <-chan fsnotify.Event { return m.events }
func (m *mockFsWatcher) Errors() <-chan error          { return m.errs }

func (m *mockFsWatcher) Close() error {
	if !m.closed {
		m.closed = true
		close(m.events)
		close(m.errs)
	}

	return nil
}

type fakeGateway struct {
	schema *deltamodel.TableSchema
}

func (g *fakeGateway) SetTableSchema(schema deltamodel.TableSchema) {
	g.schema = &schema
}

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func writeSchemaFile(t *testing.T, dir, name string, doc tableSchemaDoc) string {
	t.Helper()

	path := filepath.Join(dir, name)

	body, err := json.Marshal(doc)
	require.NoError(t, err)
	require.NoError(t, os.WriteFile(path, body, 0o600))

	return path
}

func TestRunLoadsExistingSchemaFiles(t *testing.T) {
	dir := t.TempDir()
	writeSchemaFile(t, dir, "todos.json", tableSchemaDoc{
		Table:   "todos",
		Columns: []columnDefDoc{{Name: "title", Type: "string"}},
	})

	gw := &fakeGateway{}
	w := New(dir, gw, testLogger())

	watcher := newMockFsWatcher()
	w.watcherFactory = func() (FsWatcher, error) { return watcher, nil }

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	require.NoError(t, w.Run(ctx))
	require.NotNil(t, gw.schema)
	assert.Equal(t, "todos", gw.schema.Table)
	assert.Equal(t, []deltamodel.ColumnDef{{Name: "title", Type: deltamodel.ColumnString}}, gw.schema.Columns)
}

func TestRunAppliesCreateEvent(t *testing.T) {
	dir := t.TempDir()
	gw := &fakeGateway{}
	w := New(dir, gw, testLogger())

	watcher := newMockFsWatcher()
	w.watcherFactory = func() (FsWatcher, error) { return watcher, nil }

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	done := make(chan error, 1)
	go func() { done <- w.Run(ctx) }()

	path := writeSchemaFile(t, dir, "orders.json", tableSchemaDoc{
		Table:   "orders",
		Columns: []columnDefDoc{{Name: "status", Type: "string"}},
	})
	watcher.events <- fsnotify.Event{Name: path, Op: fsnotify.Create}

	require.Eventually(t, func() bool { return gw.schema != nil }, time.Second, time.Millisecond)
	assert.Equal(t, "orders", gw.schema.Table)

	cancel()
	require.NoError(t, <-done)
}

func TestRunIgnoresNonJSONFiles(t *testing.T) {
	assert.False(t, isSchemaFile("README.md"))
	assert.True(t, isSchemaFile("Orders.JSON"))
}
