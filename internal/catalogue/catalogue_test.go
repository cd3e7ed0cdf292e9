package catalogue

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lakesync/lakesync/internal/deltamodel"
)

func catalogues(t *testing.T) map[string]Catalogue {
	t.Helper()

	local, err := NewLocalCatalogue(t.TempDir())
	require.NoError(t, err)

	return map[string]Catalogue{
		"memory": NewMemoryCatalogue(),
		"local":  local,
	}
}

func schema() deltamodel.TableSchema {
	return deltamodel.TableSchema{Table: "todos", Columns: []deltamodel.ColumnDef{
		{Name: "title", Type: deltamodel.ColumnString},
	}}
}

func TestCreateTableWithoutNamespaceFails(t *testing.T) {
	for name, c := range catalogues(t) {
		t.Run(name, func(t *testing.T) {
			_, err := c.CreateTable(context.Background(), "ns", "todos", schema())
			require.Error(t, err)
			assert.True(t, errors.Is(err, ErrNamespaceNotFound))
		})
	}
}

func TestCreateTableIsIdempotent(t *testing.T) {
	for name, c := range catalogues(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			require.NoError(t, c.CreateNamespace(ctx, "ns"))

			m1, err := c.CreateTable(ctx, "ns", "todos", schema())
			require.NoError(t, err)

			m2, err := c.CreateTable(ctx, "ns", "todos", schema())
			require.NoError(t, err)

			assert.Equal(t, m1, m2)
		})
	}
}

func TestAppendFilesIdempotentOnPath(t *testing.T) {
	for name, c := range catalogues(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			require.NoError(t, c.CreateNamespace(ctx, "ns"))
			_, err := c.CreateTable(ctx, "ns", "todos", schema())
			require.NoError(t, err)

			file := DataFile{Path: "lakesync/gw1/1-2-abc.parquet", FileFormat: "parquet", RecordCount: 10, FileSizeBytes: 2048}

			require.NoError(t, c.AppendFiles(ctx, "ns", "todos", []DataFile{file}))
			require.NoError(t, c.AppendFiles(ctx, "ns", "todos", []DataFile{file})) // retried commit

			snap, err := c.CurrentSnapshot(ctx, "ns", "todos")
			require.NoError(t, err)
			require.NotNil(t, snap)
			require.Len(t, snap.DataFiles, 1)
			assert.Equal(t, file.Path, snap.DataFiles[0].Path)
		})
	}
}

func TestCurrentSnapshotNilWhenNoFiles(t *testing.T) {
	for name, c := range catalogues(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			require.NoError(t, c.CreateNamespace(ctx, "ns"))
			_, err := c.CreateTable(ctx, "ns", "todos", schema())
			require.NoError(t, err)

			snap, err := c.CurrentSnapshot(ctx, "ns", "todos")
			require.NoError(t, err)
			assert.Nil(t, snap)
		})
	}
}

func TestListNamespaces(t *testing.T) {
	for name, c := range catalogues(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			require.NoError(t, c.CreateNamespace(ctx, "b"))
			require.NoError(t, c.CreateNamespace(ctx, "a"))

			got, err := c.ListNamespaces(ctx)
			require.NoError(t, err)
			assert.Equal(t, []string{"a", "b"}, got)
		})
	}
}

func TestAppendFilesUnknownTableFails(t *testing.T) {
	for name, c := range catalogues(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			require.NoError(t, c.CreateNamespace(ctx, "ns"))

			err := c.AppendFiles(ctx, "ns", "missing", []DataFile{{Path: "x"}})
			require.Error(t, err)
			assert.True(t, errors.Is(err, ErrTableNotFound))
		})
	}
}
