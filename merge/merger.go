package merge

import (
	"context"
	"fmt"
	"io"
	"path"
	"runtime/debug"
	"strings"

	"github.com/cespare/xxhash/v2"
	"github.com/parquet-go/parquet-go"

	"github.com/whatnick/parquetlake/fsx"
	"github.com/whatnick/parquetlake/memprobe"
)

// stagingPathFor maps a target dataset file to its staging location: rewrite
// outputs live directly in the staging root keyed by their intended target
// path (§4.9, "rewrite outputs live directly in the staging root keyed by
// their intended target path").
func stagingPathFor(targetRoot, stagingRoot, targetPath string) string {
	rel := strings.TrimPrefix(targetPath, strings.TrimSuffix(targetRoot, "/")+"/")
	return path.Join(stagingRoot, rel)
}

// RewriteAffectedFiles streams each affected file through a single shared
// key tracker built from toRewrite, substituting matched rows for update and
// upsert, passing every row through unchanged for insert (§4.7, "Streaming
// Merger"). Batch size adapts to memory pressure reported by probe between
// batches; emergency pressure aborts with MemoryBudgetExceededError. The
// tracker itself is returned so the caller can surface its real Tier() and
// Evictions() on the merge result (§4.8) instead of discarding it.
func RewriteAffectedFiles(ctx context.Context, fs fsx.FS, probe memprobe.Probe, targetRoot, stagingRoot string, schema Schema, keyIdx []int, strategy Strategy, affected []FileDescriptor, toRewrite []Row, totalUnits int64, processed *int64, opts Options) ([]FileResult, int64, KeyTracker, error) {
	codec := newSchemaCodec(schema)
	tracker := NewKeyTracker(len(toRewrite), opts)
	for i, row := range toRewrite {
		tracker.Add(EncodeKey(schema, keyIdx, row), i)
	}

	var results []FileResult
	var updated int64

	for _, fd := range affected {
		if opts.CancelToken != nil && opts.CancelToken.Cancelled() {
			return nil, 0, tracker, ErrCancelled
		}

		n, fileUpdated, err := rewriteOneFile(ctx, fs, probe, targetRoot, stagingRoot, codec, keyIdx, strategy, fd, toRewrite, tracker, totalUnits, processed, opts)
		if err != nil {
			return nil, 0, tracker, err
		}
		updated += fileUpdated

		stagingPath := stagingPathFor(targetRoot, stagingRoot, fd.Path)
		size, _ := fs.Stat(ctx, stagingPath)
		results = append(results, FileResult{
			Path:      fd.Path,
			RowCount:  n,
			Operation: OpRewritten,
			ByteSize:  size,
		})
	}
	return results, updated, tracker, nil
}

func rewriteOneFile(ctx context.Context, fs fsx.FS, probe memprobe.Probe, targetRoot, stagingRoot string, codec *schemaCodec, keyIdx []int, strategy Strategy, fd FileDescriptor, toRewrite []Row, tracker KeyTracker, totalUnits int64, processed *int64, opts Options) (rowCount int64, updated int64, err error) {
	r, size, err := readAllSeeker(ctx, fs, fd.Path)
	if err != nil {
		return 0, 0, err
	}
	pf, err := parquet.OpenFile(r, size)
	if err != nil {
		return 0, 0, &CorruptParquetError{Path: fd.Path, Err: err}
	}
	pr := parquet.NewReader(pf, codec.parquet)
	defer pr.Close()

	stagingPath := stagingPathFor(targetRoot, stagingRoot, fd.Path)
	w, err := fs.OpenWrite(ctx, stagingPath)
	if err != nil {
		return 0, 0, &FilesystemError{Op: "open_write", Path: stagingPath, Err: err}
	}
	pw := parquet.NewWriter(w, codec.parquet, parquet.Compression(compressionCodec(opts.Compression)), parquet.MaxRowsPerRowGroup(opts.RowGroupSize))

	batchSize := opts.MergeChunkSizeRows
	if batchSize <= 0 {
		batchSize = 8192
	}
	buf := make([]parquet.Row, batchSize)

	for {
		n, readErr := pr.ReadRows(buf)
		if n > 0 {
			out := make([]parquet.Row, 0, n)
			for i := 0; i < n; i++ {
				row := codec.ParquetToRow(buf[i])
				key := EncodeKey(codec.logical, keyIdx, row)
				idx, found := tracker.Lookup(key)
				if found && idx < 0 {
					idx = resolveAmbiguousMatch(codec.logical, keyIdx, key, toRewrite)
					found = idx >= 0
				}
				if found && strategy != Insert {
					out = append(out, codec.RowToParquet(toRewrite[idx]))
					updated++
				} else {
					out = append(out, buf[i])
				}
			}
			if _, werr := pw.WriteRows(out); werr != nil {
				pw.Close()
				w.Close()
				return 0, 0, &FilesystemError{Op: "write", Path: stagingPath, Err: werr}
			}
			rowCount += int64(n)
			if processed != nil {
				*processed += int64(n)
				reportProgress(opts, *processed, totalUnits)
			}
		}
		if readErr == io.EOF {
			break
		}
		if readErr != nil {
			pw.Close()
			w.Close()
			return 0, 0, &CorruptParquetError{Path: fd.Path, Err: readErr}
		}

		newSize, err := adaptBatchSize(ctx, probe, len(buf), opts)
		if err != nil {
			pw.Close()
			w.Close()
			return 0, 0, err
		}
		if newSize != len(buf) {
			buf = make([]parquet.Row, newSize)
		}
		if opts.CancelToken != nil && opts.CancelToken.Cancelled() {
			pw.Close()
			w.Close()
			return 0, 0, ErrCancelled
		}
	}

	if err := pw.Close(); err != nil {
		w.Close()
		return 0, 0, &FilesystemError{Op: "write", Path: stagingPath, Err: err}
	}
	if err := w.Close(); err != nil {
		return 0, 0, &FilesystemError{Op: "write", Path: stagingPath, Err: err}
	}
	return rowCount, updated, nil
}

// resolveAmbiguousMatch runs the bloom tier's required second-pass
// confirmation (§4.8): a positive bloom test that misses the tracker's
// bounded exact fallback is never accepted blind, so the actual toRewrite
// slice is re-scanned for the true row, and -1 is returned when none
// matches. This path is reached for keys evicted from the fallback cache
// and for bloom false positives, and only at the bloom tier, which is used
// above Options.LRUKeyTrackerCeiling source keys.
func resolveAmbiguousMatch(schema Schema, keyIdx []int, key Key128, toRewrite []Row) int {
	for i, row := range toRewrite {
		if EncodeKey(schema, keyIdx, row) == key {
			return i
		}
	}
	return -1
}

// adaptBatchSize applies §4.7's memory-pressure policy between batches:
// warning halves the batch, critical halves it again and asks the runtime to
// return freed memory to the OS, emergency aborts.
func adaptBatchSize(ctx context.Context, probe memprobe.Probe, current int, opts Options) (int, error) {
	if probe == nil {
		return current, nil
	}
	p, err := probe.Pressure(ctx)
	if err != nil {
		return current, nil
	}
	switch p {
	case memprobe.Emergency:
		return 0, &MemoryBudgetExceededError{Reason: "memory probe reported emergency pressure"}
	case memprobe.Critical:
		debug.FreeOSMemory()
		return maxInt(current/4, 64), nil
	case memprobe.Warning:
		return maxInt(current/2, 64), nil
	default:
		return current, nil
	}
}

func maxInt(a, b int) int {
	if a > b {
		return a
	}
	return b
}

func reportProgress(opts Options, processed, total int64) {
	if opts.ProgressCallback != nil {
		opts.ProgressCallback(processed, total)
	}
}

// EmitNewFiles groups toEmitNew rows by their partition tuple (when
// partition columns are declared) and writes them as brand new files under
// the staging root's matching Hive subdirectory, named deterministically
// from a zero-padded index and a content hash of the file's row keys
// (§4.7, "File naming is deterministic").
func EmitNewFiles(ctx context.Context, fs fsx.FS, stagingRoot string, schema Schema, keyIdx []int, partitionColumns []string, partitionIdx []int, rows []Row, totalUnits int64, processed *int64, opts Options) ([]FileResult, error) {
	if len(rows) == 0 {
		return nil, nil
	}
	groups := groupByPartition(schema, partitionColumns, partitionIdx, rows)
	codec := newSchemaCodec(schema)

	var out []FileResult
	for _, g := range groups {
		maxRows := opts.MaxRowsPerFile
		if maxRows <= 0 {
			maxRows = 1_000_000
		}
		for start := 0; start < len(g.rows); start += int(maxRows) {
			if opts.CancelToken != nil && opts.CancelToken.Cancelled() {
				return nil, ErrCancelled
			}
			end := start + int(maxRows)
			if end > len(g.rows) {
				end = len(g.rows)
			}
			chunk := g.rows[start:end]
			idx := start / int(maxRows)
			name := newFileName(idx, schema, keyIdx, chunk)
			relPath := path.Join(g.dir, name)
			stagingPath := path.Join(stagingRoot, relPath)

			w, err := fs.OpenWrite(ctx, stagingPath)
			if err != nil {
				return nil, &FilesystemError{Op: "open_write", Path: stagingPath, Err: err}
			}
			if err := writeParquetFile(w, codec, chunk, opts); err != nil {
				return nil, &FilesystemError{Op: "write", Path: stagingPath, Err: err}
			}
			size, _ := fs.Stat(ctx, stagingPath)
			out = append(out, FileResult{
				Path:      relPath,
				RowCount:  int64(len(chunk)),
				Operation: OpInserted,
				ByteSize:  size,
			})
			if processed != nil {
				*processed += int64(len(chunk))
				reportProgress(opts, *processed, totalUnits)
			}
		}
	}
	return out, nil
}

type partitionGroup struct {
	dir  string
	rows []Row
}

// groupByPartition buckets rows by Hive directory segment; rows are kept in
// relative order within each bucket.
func groupByPartition(schema Schema, partitionColumns []string, partitionIdx []int, rows []Row) []partitionGroup {
	if len(partitionColumns) == 0 {
		return []partitionGroup{{dir: "", rows: rows}}
	}
	order := make([]string, 0)
	byDir := make(map[string][]Row)
	for _, row := range rows {
		dir := hiveDir(schema, partitionColumns, partitionIdx, row)
		if _, ok := byDir[dir]; !ok {
			order = append(order, dir)
		}
		byDir[dir] = append(byDir[dir], row)
	}
	groups := make([]partitionGroup, len(order))
	for i, dir := range order {
		groups[i] = partitionGroup{dir: dir, rows: byDir[dir]}
	}
	return groups
}

func hiveDir(schema Schema, partitionColumns []string, partitionIdx []int, row Row) string {
	var b strings.Builder
	for i, col := range partitionColumns {
		if i > 0 {
			b.WriteByte('/')
		}
		var v Value
		if i < len(partitionIdx) && partitionIdx[i] >= 0 {
			v = row[partitionIdx[i]]
		}
		var t LogicalType
		if idx := schema.IndexOf(col); idx >= 0 {
			t = schema.Fields[idx].Type
		} else {
			t = TypeString
		}
		fmt.Fprintf(&b, "%s=%s", col, valueToPartitionString(t, v))
	}
	return b.String()
}

// newFileName builds "part-<zero-padded index>-<content-hash-prefix>.parquet"
// where the hash prefix is the first 8 hex characters of an xxhash digest of
// the chunk's encoded row keys, so file names are deterministic across runs
// given the same input rather than random.
func newFileName(index int, schema Schema, keyIdx []int, rows []Row) string {
	h := xxhash.New()
	for _, row := range rows {
		k := EncodeKey(schema, keyIdx, row)
		h.Write(k[:])
	}
	return fmt.Sprintf("part-%05d-%08x.parquet", index, h.Sum64()>>32)
}
