package catalogue

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"sync"

	"github.com/lakesync/lakesync/internal/deltamodel"
)

// onDisk is the JSON shape persisted for one table, one file per
// namespace/table pair under the store root.
type onDisk struct {
	Namespace  string                 `json:"namespace"`
	Name       string                 `json:"name"`
	Schema     deltamodel.TableSchema `json:"schema"`
	Files      map[string]DataFile    `json:"files"`
	SnapshotID int64                  `json:"snapshot_id"`
}

// LocalCatalogue persists catalogue state as one JSON file per table
// under a root directory, using the same atomic write-then-rename
// discipline as objectstore.LocalStore so a crash mid-commit never leaves
// a half-written metadata file.
type LocalCatalogue struct {
	root string

	mu         sync.Mutex
	namespaces map[string]struct{}
}

// NewLocalCatalogue returns a LocalCatalogue rooted at dir, scanning any
// previously-committed namespace metadata.
func NewLocalCatalogue(dir string) (*LocalCatalogue, error) {
	c := &LocalCatalogue{root: dir, namespaces: make(map[string]struct{})}

	entries, err := os.ReadDir(dir)
	if err != nil {
		if os.IsNotExist(err) {
			return c, nil
		}

		return nil, fmt.Errorf("catalogue: scan root: %w", err)
	}

	for _, e := range entries {
		if e.IsDir() {
			c.namespaces[e.Name()] = struct{}{}
		}
	}

	return c, nil
}

func (c *LocalCatalogue) CreateNamespace(_ context.Context, namespace string) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if err := os.MkdirAll(filepath.Join(c.root, namespace), 0o700); err != nil {
		return fmt.Errorf("catalogue: create namespace %q: %w", namespace, err)
	}

	c.namespaces[namespace] = struct{}{}

	return nil
}

func (c *LocalCatalogue) CreateTable(_ context.Context, namespace, name string, schema deltamodel.TableSchema) (TableMetadata, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if _, ok := c.namespaces[namespace]; !ok {
		return TableMetadata{}, fmt.Errorf("catalogue: create table %q: %w", name, ErrNamespaceNotFound)
	}

	existing, err := c.readLocked(namespace, name)
	if err == nil {
		return TableMetadata{Namespace: namespace, Name: name, Schema: existing.Schema}, nil
	}

	if err := c.writeLocked(onDisk{
		Namespace: namespace,
		Name:      name,
		Schema:    schema,
		Files:     make(map[string]DataFile),
	}); err != nil {
		return TableMetadata{}, err
	}

	return TableMetadata{Namespace: namespace, Name: name, Schema: schema}, nil
}

func (c *LocalCatalogue) LoadTable(_ context.Context, namespace, name string) (TableMetadata, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	od, err := c.readLocked(namespace, name)
	if err != nil {
		return TableMetadata{}, err
	}

	return TableMetadata{Namespace: namespace, Name: name, Schema: od.Schema}, nil
}

// AppendFiles is idempotent on DataFile.Path, same guarantee as
// MemoryCatalogue.
func (c *LocalCatalogue) AppendFiles(_ context.Context, namespace, name string, files []DataFile) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	od, err := c.readLocked(namespace, name)
	if err != nil {
		return err
	}

	for _, f := range files {
		od.Files[f.Path] = f
	}

	od.SnapshotID++

	return c.writeLocked(od)
}

func (c *LocalCatalogue) CurrentSnapshot(_ context.Context, namespace, name string) (*Snapshot, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	od, err := c.readLocked(namespace, name)
	if err != nil {
		return nil, err
	}

	if len(od.Files) == 0 {
		return nil, nil
	}

	files := make([]DataFile, 0, len(od.Files))
	for _, f := range od.Files {
		files = append(files, f)
	}

	sort.Slice(files, func(i, j int) bool { return files[i].Path < files[j].Path })

	return &Snapshot{SnapshotID: od.SnapshotID, DataFiles: files}, nil
}

func (c *LocalCatalogue) ListNamespaces(_ context.Context) ([]string, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	out := make([]string, 0, len(c.namespaces))
	for ns := range c.namespaces {
		out = append(out, ns)
	}

	sort.Strings(out)

	return out, nil
}

func (c *LocalCatalogue) tablePath(namespace, name string) string {
	return filepath.Join(c.root, namespace, name+".json")
}

func (c *LocalCatalogue) readLocked(namespace, name string) (onDisk, error) {
	data, err := os.ReadFile(c.tablePath(namespace, name))
	if err != nil {
		if os.IsNotExist(err) {
			return onDisk{}, fmt.Errorf("catalogue: table %q: %w", name, ErrTableNotFound)
		}

		return onDisk{}, fmt.Errorf("catalogue: read table %q: %w", name, err)
	}

	var od onDisk
	if err := json.Unmarshal(data, &od); err != nil {
		return onDisk{}, fmt.Errorf("catalogue: parse table %q: %w", name, err)
	}

	if od.Files == nil {
		od.Files = make(map[string]DataFile)
	}

	return od, nil
}

func (c *LocalCatalogue) writeLocked(od onDisk) error {
	path := c.tablePath(od.Namespace, od.Name)

	if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
		return fmt.Errorf("catalogue: create table dir: %w", err)
	}

	data, err := json.Marshal(od)
	if err != nil {
		return fmt.Errorf("catalogue: marshal table %q: %w", od.Name, err)
	}

	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o600); err != nil {
		return fmt.Errorf("catalogue: write table %q: %w", od.Name, err)
	}

	if err := os.Rename(tmp, path); err != nil {
		os.Remove(tmp)
		return fmt.Errorf("catalogue: rename table %q: %w", od.Name, err)
	}

	return nil
}
