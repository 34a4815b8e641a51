// Package catalog is CLI-only bookkeeping: a local SQLite index of a
// dataset's file inventory and a log of past merge runs. The merge engine
// itself never reads or writes it; it exists purely so the command line
// driver can answer "what's in this dataset" without re-walking and
// re-reading every file's footer on every invocation.
package catalog

import (
	"context"
	"database/sql"
	"errors"
	"path/filepath"
	"time"

	_ "modernc.org/sqlite"

	"github.com/whatnick/parquetlake/merge"
)

// Catalog wraps a SQLite connection holding the file inventory and run log
// for one dataset root.
type Catalog struct {
	dbPath string
	db     *sql.DB
}

// Open opens (creating if needed) the catalog database at path, ensuring
// its schema exists.
func Open(path string) (*Catalog, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, err
	}
	c := &Catalog{dbPath: path, db: db}
	if err := c.ensureSchema(); err != nil {
		_ = db.Close()
		return nil, err
	}
	return c, nil
}

// DefaultPath returns catalog.sqlite under dir, mirroring the teacher's
// baseDir/catalog.sqlite layout.
func DefaultPath(dir string) string {
	return filepath.Join(dir, "catalog.sqlite")
}

func (c *Catalog) Close() error {
	if c.db == nil {
		return nil
	}
	return c.db.Close()
}

func (c *Catalog) ensureSchema() error {
	const schema = `
	CREATE TABLE IF NOT EXISTS files (
		path TEXT PRIMARY KEY,
		row_count INTEGER NOT NULL,
		byte_size INTEGER NOT NULL,
		partitions TEXT NOT NULL,
		indexed_at TEXT NOT NULL
	);
	CREATE TABLE IF NOT EXISTS runs (
		run_id TEXT PRIMARY KEY,
		target_root TEXT NOT NULL,
		strategy TEXT NOT NULL,
		source_count INTEGER NOT NULL,
		inserted INTEGER NOT NULL,
		updated INTEGER NOT NULL,
		preserved_file_count INTEGER NOT NULL,
		rewritten_file_count INTEGER NOT NULL,
		new_file_count INTEGER NOT NULL,
		started_at TEXT NOT NULL,
		finished_at TEXT NOT NULL,
		status TEXT NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_runs_target ON runs(target_root);
	`
	_, err := c.db.Exec(schema)
	return err
}

// RunRecord is one row of the merge run history (§3a, "Run catalog
// record").
type RunRecord struct {
	RunID              string
	TargetRoot         string
	Strategy           merge.Strategy
	SourceCount        int64
	Inserted           int64
	Updated            int64
	PreservedFileCount int
	RewrittenFileCount int
	NewFileCount       int
	StartedAt          time.Time
	FinishedAt         time.Time
	Status             string
}

// RecordRun persists one completed (or failed) merge run.
func (c *Catalog) RecordRun(ctx context.Context, r RunRecord) error {
	_, err := c.db.ExecContext(ctx, `
		INSERT INTO runs(run_id, target_root, strategy, source_count, inserted, updated,
			preserved_file_count, rewritten_file_count, new_file_count, started_at, finished_at, status)
		VALUES(?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(run_id) DO UPDATE SET
			inserted = excluded.inserted, updated = excluded.updated,
			preserved_file_count = excluded.preserved_file_count,
			rewritten_file_count = excluded.rewritten_file_count,
			new_file_count = excluded.new_file_count,
			finished_at = excluded.finished_at, status = excluded.status`,
		r.RunID, r.TargetRoot, string(r.Strategy), r.SourceCount, r.Inserted, r.Updated,
		r.PreservedFileCount, r.RewrittenFileCount, r.NewFileCount,
		r.StartedAt.UTC().Format(time.RFC3339), r.FinishedAt.UTC().Format(time.RFC3339), r.Status)
	return err
}

// RecordResultFromMerge fills in a RunRecord's file-operation counts from a
// merge.Result, grounded on the teacher's cacheManager pattern of deriving
// persisted bookkeeping directly from the operation it just ran.
func RecordResultFromMerge(runID, targetRoot string, res merge.Result, started, finished time.Time, status string) RunRecord {
	rec := RunRecord{
		RunID:       runID,
		TargetRoot:  targetRoot,
		Strategy:    res.Strategy,
		SourceCount: res.SourceCount,
		Inserted:    res.Inserted,
		Updated:     res.Updated,
		StartedAt:   started,
		FinishedAt:  finished,
		Status:      status,
	}
	for _, f := range res.Files {
		switch f.Operation {
		case merge.OpPreserved:
			rec.PreservedFileCount++
		case merge.OpRewritten:
			rec.RewrittenFileCount++
		case merge.OpInserted:
			rec.NewFileCount++
		}
	}
	return rec
}

// FileEntry is one row of the file-inventory index.
type FileEntry struct {
	Path       string
	RowCount   int64
	ByteSize   int64
	Partitions map[string]string
}

// ReplaceFiles atomically swaps the file index for a fresh listing, used by
// reindex. A merge run records only its run row, so the index goes stale
// after a merge until the next reindex.
func (c *Catalog) ReplaceFiles(ctx context.Context, entries []FileEntry) error {
	tx, err := c.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	if _, err := tx.ExecContext(ctx, "DELETE FROM files"); err != nil {
		_ = tx.Rollback()
		return err
	}
	stmt, err := tx.PrepareContext(ctx, "INSERT INTO files(path, row_count, byte_size, partitions, indexed_at) VALUES(?, ?, ?, ?, ?)")
	if err != nil {
		_ = tx.Rollback()
		return err
	}
	defer stmt.Close()
	now := time.Now().UTC().Format(time.RFC3339)
	for _, e := range entries {
		if _, err := stmt.ExecContext(ctx, e.Path, e.RowCount, e.ByteSize, encodePartitions(e.Partitions), now); err != nil {
			_ = tx.Rollback()
			return err
		}
	}
	return tx.Commit()
}

// Files returns the current file inventory.
func (c *Catalog) Files(ctx context.Context) ([]FileEntry, error) {
	rows, err := c.db.QueryContext(ctx, "SELECT path, row_count, byte_size, partitions FROM files ORDER BY path")
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []FileEntry
	for rows.Next() {
		var e FileEntry
		var partitions string
		if err := rows.Scan(&e.Path, &e.RowCount, &e.ByteSize, &partitions); err != nil {
			return nil, err
		}
		e.Partitions = decodePartitions(partitions)
		out = append(out, e)
	}
	return out, rows.Err()
}

// RunCount reports how many merge runs have been recorded.
func (c *Catalog) RunCount(ctx context.Context) (int, error) {
	row := c.db.QueryRowContext(ctx, "SELECT COUNT(1) FROM runs")
	var n int
	if err := row.Scan(&n); err != nil {
		return 0, err
	}
	return n, nil
}

// IsStale reports whether the catalog has never been populated, so callers
// can fall back to a live walk (grounded on the teacher's queryTotals
// falling back when its index has no matching rows).
func (c *Catalog) IsStale(ctx context.Context) (bool, error) {
	row := c.db.QueryRowContext(ctx, "SELECT COUNT(1) FROM files")
	var n int
	if err := row.Scan(&n); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return true, nil
		}
		return false, err
	}
	return n == 0, nil
}

func encodePartitions(m map[string]string) string {
	if len(m) == 0 {
		return ""
	}
	var b []byte
	first := true
	for k, v := range m {
		if !first {
			b = append(b, ',')
		}
		first = false
		b = append(b, k...)
		b = append(b, '=')
		b = append(b, v...)
	}
	return string(b)
}

func decodePartitions(s string) map[string]string {
	out := map[string]string{}
	if s == "" {
		return out
	}
	start := 0
	for i := 0; i <= len(s); i++ {
		if i == len(s) || s[i] == ',' {
			seg := s[start:i]
			for j := 0; j < len(seg); j++ {
				if seg[j] == '=' {
					out[seg[:j]] = seg[j+1:]
					break
				}
			}
			start = i + 1
		}
	}
	return out
}
