// Package schemawatch watches a directory for dropped-in TableSchema JSON
// files and registers each one with a gateway, the filesystem-driven
// counterpart to POST /admin/schema/:gatewayId (SPEC_FULL.md §2.2).
package schemawatch

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/lakesync/lakesync/internal/deltamodel"
)

const (
	errInitBackoff = 1 * time.Second
	errMaxBackoff  = 30 * time.Second
	errBackoffMult = 2
)

// SchemaSetter is the subset of *gateway.Gateway this package depends on.
type SchemaSetter interface {
	SetTableSchema(schema deltamodel.TableSchema)
}

// FsWatcher abstracts filesystem event monitoring. Satisfied by
// *fsnotify.Watcher; tests inject a fake.
type FsWatcher interface {
	Add(name string) error
	Close() error
	Events() <-chan fsnotify.Event
	Errors() <-chan error
}

type fsnotifyWrapper struct{ w *fsnotify.Watcher }

func (fw *fsnotifyWrapper) Add(name string) error         { return fw.w.Add(name) }
func (fw *fsnotifyWrapper) Close() error                  { return fw.w.Close() }
func (fw *fsnotifyWrapper) Events() <-chan fsnotify.Event { return fw.w.Events }
func (fw *fsnotifyWrapper) Errors() <-chan error          { return fw.w.Errors }

// Watcher applies every JSON TableSchema document dropped into dir to gw.
type Watcher struct {
	dir            string
	gw             SchemaSetter
	logger         *slog.Logger
	watcherFactory func() (FsWatcher, error)
}

// New returns a Watcher that will register schemas dropped into dir with
// gw once Run is called.
func New(dir string, gw SchemaSetter, logger *slog.Logger) *Watcher {
	return &Watcher{
		dir:    dir,
		gw:     gw,
		logger: logger,
		watcherFactory: func() (FsWatcher, error) {
			w, err := fsnotify.NewWatcher()
			if err != nil {
				return nil, err
			}

			return &fsnotifyWrapper{w: w}, nil
		},
	}
}

// Run processes every existing schema file in dir, then blocks watching
// for new ones until ctx is canceled. It returns nil on cancellation.
func (w *Watcher) Run(ctx context.Context) error {
	w.loadExisting()

	watcher, err := w.watcherFactory()
	if err != nil {
		return fmt.Errorf("schemawatch: creating filesystem watcher: %w", err)
	}
	defer watcher.Close()

	if err := watcher.Add(w.dir); err != nil {
		return fmt.Errorf("schemawatch: watching %s: %w", w.dir, err)
	}

	return w.loop(ctx, watcher)
}

func (w *Watcher) loadExisting() {
	entries, err := os.ReadDir(w.dir)
	if err != nil {
		w.logger.Warn("schemawatch: reading watch dir failed", slog.String("dir", w.dir), slog.String("error", err.Error()))
		return
	}

	for _, entry := range entries {
		if entry.IsDir() || !isSchemaFile(entry.Name()) {
			continue
		}

		w.apply(filepath.Join(w.dir, entry.Name()))
	}
}

func (w *Watcher) loop(ctx context.Context, watcher FsWatcher) error {
	backoff := errInitBackoff

	for {
		select {
		case <-ctx.Done():
			return nil

		case ev, ok := <-watcher.Events():
			if !ok {
				return nil
			}

			if (ev.Has(fsnotify.Create) || ev.Has(fsnotify.Write)) && isSchemaFile(ev.Name) {
				w.apply(ev.Name)
			}

			backoff = errInitBackoff

		case watchErr, ok := <-watcher.Errors():
			if !ok {
				return nil
			}

			w.logger.Warn("schemawatch: watcher error", slog.String("error", watchErr.Error()), slog.Duration("backoff", backoff))

			select {
			case <-time.After(backoff):
			case <-ctx.Done():
				return nil
			}

			backoff *= errBackoffMult
			if backoff > errMaxBackoff {
				backoff = errMaxBackoff
			}
		}
	}
}

func isSchemaFile(name string) bool {
	return strings.HasSuffix(strings.ToLower(name), ".json")
}

type columnDefDoc struct {
	Name string `json:"name"`
	Type string `json:"type"`
}

type tableSchemaDoc struct {
	Table   string         `json:"table"`
	Columns []columnDefDoc `json:"columns"`
}

func (w *Watcher) apply(path string) {
	raw, err := os.ReadFile(path)
	if err != nil {
		w.logger.Warn("schemawatch: reading schema file failed", slog.String("path", path), slog.String("error", err.Error()))
		return
	}

	var doc tableSchemaDoc
	if err := json.Unmarshal(raw, &doc); err != nil {
		w.logger.Warn("schemawatch: invalid schema file", slog.String("path", path), slog.String("error", err.Error()))
		return
	}

	if doc.Table == "" {
		w.logger.Warn("schemawatch: schema file missing table name", slog.String("path", path))
		return
	}

	columns := make([]deltamodel.ColumnDef, len(doc.Columns))
	for i, c := range doc.Columns {
		columns[i] = deltamodel.ColumnDef{Name: c.Name, Type: deltamodel.ColumnType(c.Type)}
	}

	w.gw.SetTableSchema(deltamodel.TableSchema{Table: doc.Table, Columns: columns})

	w.logger.Info("schemawatch: registered table schema", slog.String("path", path), slog.String("table", doc.Table))
}
