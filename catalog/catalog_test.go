package catalog

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/whatnick/parquetlake/merge"
)

func TestOpenCreatesSchema(t *testing.T) {
	dir := t.TempDir()
	c, err := Open(DefaultPath(dir))
	require.NoError(t, err)
	defer c.Close()

	stale, err := c.IsStale(context.Background())
	require.NoError(t, err)
	require.True(t, stale)
}

func TestReplaceFilesAndFiles(t *testing.T) {
	dir := t.TempDir()
	c, err := Open(DefaultPath(dir))
	require.NoError(t, err)
	defer c.Close()

	entries := []FileEntry{
		{Path: "root/day=2024-01-01/part-0.parquet", RowCount: 2, ByteSize: 128, Partitions: map[string]string{"day": "2024-01-01"}},
		{Path: "root/day=2024-01-02/part-0.parquet", RowCount: 1, ByteSize: 64, Partitions: map[string]string{"day": "2024-01-02"}},
	}
	require.NoError(t, c.ReplaceFiles(context.Background(), entries))

	stale, err := c.IsStale(context.Background())
	require.NoError(t, err)
	require.False(t, stale)

	got, err := c.Files(context.Background())
	require.NoError(t, err)
	require.Len(t, got, 2)
	require.Equal(t, "root/day=2024-01-01/part-0.parquet", got[0].Path)
	require.Equal(t, "2024-01-01", got[0].Partitions["day"])

	require.NoError(t, c.ReplaceFiles(context.Background(), entries[:1]))
	got, err = c.Files(context.Background())
	require.NoError(t, err)
	require.Len(t, got, 1)
}

func TestRecordRunUpsertsByRunID(t *testing.T) {
	dir := t.TempDir()
	c, err := Open(DefaultPath(dir))
	require.NoError(t, err)
	defer c.Close()

	res := merge.Result{
		Strategy:    merge.Upsert,
		SourceCount: 2,
		Inserted:    1,
		Updated:     1,
		Files: []merge.FileResult{
			{Path: "root/a.parquet", Operation: merge.OpRewritten},
			{Path: "root/b.parquet", Operation: merge.OpInserted},
			{Path: "root/c.parquet", Operation: merge.OpPreserved},
		},
	}
	started := time.Now().UTC()
	rec := RecordResultFromMerge("run-1", "root", res, started, started.Add(time.Second), "done")
	require.Equal(t, 1, rec.RewrittenFileCount)
	require.Equal(t, 1, rec.NewFileCount)
	require.Equal(t, 1, rec.PreservedFileCount)

	require.NoError(t, c.RecordRun(context.Background(), rec))

	var status string
	require.NoError(t, c.db.QueryRow("SELECT status FROM runs WHERE run_id = ?", "run-1").Scan(&status))
	require.Equal(t, "done", status)

	rec.Status = "done-again"
	require.NoError(t, c.RecordRun(context.Background(), rec))
	require.NoError(t, c.db.QueryRow("SELECT status FROM runs WHERE run_id = ?", "run-1").Scan(&status))
	require.Equal(t, "done-again", status)
}

func TestDefaultPathJoinsCatalogFilename(t *testing.T) {
	require.Equal(t, filepath.Join("some", "dir", "catalog.sqlite"), DefaultPath(filepath.Join("some", "dir")))
}
