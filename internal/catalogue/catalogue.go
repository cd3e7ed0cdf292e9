// Package catalogue implements the Iceberg-style table catalogue
// described in SPEC_FULL.md §4.7: namespace/table metadata tracking and
// idempotent-by-path data-file commits. No Iceberg client library appears
// anywhere in the retrieval pack, so both shipped implementations are
// narrow Go types behind the Catalogue interface (see DESIGN.md).
package catalogue

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"

	"github.com/lakesync/lakesync/internal/deltamodel"
)

// ErrNamespaceNotFound is returned by CreateTable/LoadTable/AppendFiles
// when the namespace has not been created.
var ErrNamespaceNotFound = errors.New("catalogue: namespace not found")

// ErrTableNotFound is returned by LoadTable/AppendFiles/CurrentSnapshot
// when the table does not exist in its namespace.
var ErrTableNotFound = errors.New("catalogue: table not found")

// DataFile describes one committed Parquet (or JSON) snapshot file.
type DataFile struct {
	Path            string
	FileFormat      string
	RecordCount     int64
	FileSizeBytes   int64
}

// Snapshot is the catalogue's view of a table's current committed state:
// the cumulative set of data files known to it.
type Snapshot struct {
	SnapshotID int64
	DataFiles  []DataFile
}

// TableMetadata is returned by CreateTable/LoadTable.
type TableMetadata struct {
	Namespace string
	Name      string
	Schema    deltamodel.TableSchema
}

// Catalogue is the narrow Iceberg-style RPC surface the gateway's Flush
// path commits snapshots through.
type Catalogue interface {
	CreateNamespace(ctx context.Context, namespace string) error
	CreateTable(ctx context.Context, namespace, name string, schema deltamodel.TableSchema) (TableMetadata, error)
	LoadTable(ctx context.Context, namespace, name string) (TableMetadata, error)
	AppendFiles(ctx context.Context, namespace, name string, files []DataFile) error
	CurrentSnapshot(ctx context.Context, namespace, name string) (*Snapshot, error)
	ListNamespaces(ctx context.Context) ([]string, error)
}

type tableState struct {
	meta  TableMetadata
	files map[string]DataFile // keyed by DataFile.Path, dedups AppendFiles retries
}

// MemoryCatalogue is an in-process Catalogue for tests and single-node
// deployments. Safe for concurrent use.
type MemoryCatalogue struct {
	mu         sync.Mutex
	namespaces map[string]struct{}
	tables     map[string]map[string]*tableState // namespace -> table name -> state
	nextSnapID int64
}

// NewMemoryCatalogue returns an empty MemoryCatalogue.
func NewMemoryCatalogue() *MemoryCatalogue {
	return &MemoryCatalogue{
		namespaces: make(map[string]struct{}),
		tables:     make(map[string]map[string]*tableState),
	}
}

func (c *MemoryCatalogue) CreateNamespace(_ context.Context, namespace string) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.namespaces[namespace] = struct{}{}

	if c.tables[namespace] == nil {
		c.tables[namespace] = make(map[string]*tableState)
	}

	return nil
}

func (c *MemoryCatalogue) CreateTable(_ context.Context, namespace, name string, schema deltamodel.TableSchema) (TableMetadata, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if _, ok := c.namespaces[namespace]; !ok {
		return TableMetadata{}, fmt.Errorf("catalogue: create table %q: %w", name, ErrNamespaceNotFound)
	}

	tables := c.tables[namespace]
	if existing, ok := tables[name]; ok {
		return existing.meta, nil
	}

	meta := TableMetadata{Namespace: namespace, Name: name, Schema: schema}
	tables[name] = &tableState{meta: meta, files: make(map[string]DataFile)}

	return meta, nil
}

func (c *MemoryCatalogue) LoadTable(_ context.Context, namespace, name string) (TableMetadata, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	st, err := c.lookupLocked(namespace, name)
	if err != nil {
		return TableMetadata{}, err
	}

	return st.meta, nil
}

// AppendFiles is idempotent on DataFile.Path: a file whose path was already
// committed replaces the earlier entry instead of adding a second one, so a
// retried commit after a successful upload but failed first commit attempt
// is safe.
func (c *MemoryCatalogue) AppendFiles(_ context.Context, namespace, name string, files []DataFile) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	st, err := c.lookupLocked(namespace, name)
	if err != nil {
		return err
	}

	for _, f := range files {
		st.files[f.Path] = f
	}

	return nil
}

func (c *MemoryCatalogue) CurrentSnapshot(_ context.Context, namespace, name string) (*Snapshot, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	st, err := c.lookupLocked(namespace, name)
	if err != nil {
		return nil, err
	}

	if len(st.files) == 0 {
		return nil, nil
	}

	files := make([]DataFile, 0, len(st.files))
	for _, f := range st.files {
		files = append(files, f)
	}

	sort.Slice(files, func(i, j int) bool { return files[i].Path < files[j].Path })

	c.nextSnapID++

	return &Snapshot{SnapshotID: c.nextSnapID, DataFiles: files}, nil
}

func (c *MemoryCatalogue) ListNamespaces(_ context.Context) ([]string, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	out := make([]string, 0, len(c.namespaces))
	for ns := range c.namespaces {
		out = append(out, ns)
	}

	sort.Strings(out)

	return out, nil
}

func (c *MemoryCatalogue) lookupLocked(namespace, name string) (*tableState, error) {
	tables, ok := c.tables[namespace]
	if !ok {
		return nil, fmt.Errorf("catalogue: namespace %q: %w", namespace, ErrNamespaceNotFound)
	}

	st, ok := tables[name]
	if !ok {
		return nil, fmt.Errorf("catalogue: table %q: %w", name, ErrTableNotFound)
	}

	return st, nil
}
