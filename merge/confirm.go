package merge

import (
	"context"
	"io"

	"github.com/parquet-go/parquet-go"
	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/semaphore"

	"github.com/whatnick/parquetlake/fsx"
)

// keyOnlySchema builds the projection schema the confirmation scanner reads
// candidate files with, carrying only the declared key columns in the
// caller's canonical order so EncodeKey produces the same Key128 whether
// it's run against a full source row or one of these key-only rows.
func keyOnlySchema(schema Schema, keyColumns []string) Schema {
	fields := make([]Field, len(keyColumns))
	for i, name := range keyColumns {
		idx := schema.IndexOf(name)
		fields[i] = schema.Fields[idx]
	}
	return Schema{Fields: fields}
}

// ConfirmAffected reads only the key columns of each candidate file (§4.5,
// "Confirmation Scanner") and intersects them with the source key set. It
// returns the affected/preserved split plus the set of source keys actually
// found present in the target, which the rewrite planner (C6) needs to
// route rows without a second full scan.
//
// Classification happens in bounded batches of opts.MergeChunkSizeRows via
// scanFileForHit, which stops reading a candidate the instant any row's key
// intersects the source set (§4.5, "a file short-circuits as soon as any
// match is found"); an affected file is read only up to the batch holding
// its first match, while a preserved file is read to EOF, since only a full
// read can show it holds no source key. Only the resulting, typically
// much smaller, affected subset is read a second time — still in the same
// bounded batches, but to exhaustion — to build the per-key matchedKeys and
// keyPartitions maps the planner and partition-move validator need; a
// file's own partition is constant for every row in it, so that second pass
// costs nothing the caller wasn't already going to pay to rewrite the file.
func ConfirmAffected(ctx context.Context, fs fsx.FS, schema Schema, candidates []FileDescriptor, sourceKeys map[Key128]struct{}, keyColumns []string, opts Options) (affected, preserved []FileDescriptor, matchedKeys map[Key128]struct{}, keyPartitions map[Key128]map[string]string, err error) {
	workers := opts.AnalyzerWorkers
	if workers <= 0 {
		workers = defaultWorkerCount()
	}
	batchSize := int(opts.MergeChunkSizeRows)
	if batchSize <= 0 {
		batchSize = 8192
	}
	keyCodec := newSchemaCodec(keyOnlySchema(schema, keyColumns))

	hits := make([]bool, len(candidates))
	sem := semaphore.NewWeighted(int64(workers))
	g, gctx := errgroup.WithContext(ctx)
	for i, fd := range candidates {
		i, fd := i, fd
		if err := sem.Acquire(gctx, 1); err != nil {
			return nil, nil, nil, nil, err
		}
		g.Go(func() error {
			defer sem.Release(1)
			hit, err := scanFileForHit(gctx, fs, fd.Path, keyCodec, sourceKeys, batchSize)
			if err != nil {
				return err
			}
			hits[i] = hit
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, nil, nil, nil, err
	}

	var toConfirm []FileDescriptor
	for i, fd := range candidates {
		if hits[i] {
			affected = append(affected, fd)
			toConfirm = append(toConfirm, fd)
		} else {
			preserved = append(preserved, fd)
		}
	}

	matchedKeys = make(map[Key128]struct{})
	keyPartitions = make(map[Key128]map[string]string)
	if len(toConfirm) == 0 {
		return affected, preserved, matchedKeys, keyPartitions, nil
	}

	type fileMatches struct {
		keys []Key128
	}
	results := make([]fileMatches, len(toConfirm))
	sem2 := semaphore.NewWeighted(int64(workers))
	g2, gctx2 := errgroup.WithContext(ctx)
	for i, fd := range toConfirm {
		i, fd := i, fd
		if err := sem2.Acquire(gctx2, 1); err != nil {
			return nil, nil, nil, nil, err
		}
		g2.Go(func() error {
			defer sem2.Release(1)
			keys, err := fileMatchedKeys(gctx2, fs, fd.Path, keyCodec, sourceKeys, batchSize)
			if err != nil {
				return err
			}
			results[i] = fileMatches{keys: keys}
			return nil
		})
	}
	if err := g2.Wait(); err != nil {
		return nil, nil, nil, nil, err
	}

	for i, fd := range toConfirm {
		for _, k := range results[i].keys {
			matchedKeys[k] = struct{}{}
			keyPartitions[k] = fd.Partition
		}
	}
	return affected, preserved, matchedKeys, keyPartitions, nil
}

// keyIdentityIdx returns {0,1,...,n-1}, used to encode a key-only projected
// row (whose columns are already exactly the key columns in order) with
// EncodeKey.
func keyIdentityIdx(n int) []int {
	idx := make([]int, n)
	for i := range idx {
		idx[i] = i
	}
	return idx
}

// scanFileForHit streams path's key-only projection in batches of batchSize
// rows, returning true the moment any row's key intersects sourceKeys
// without reading the rest of the file (§4.5).
func scanFileForHit(ctx context.Context, fs fsx.FS, path string, keyCodec *schemaCodec, sourceKeys map[Key128]struct{}, batchSize int) (bool, error) {
	pr, closeFn, err := openKeyReader(ctx, fs, path, keyCodec)
	if err != nil {
		return false, err
	}
	defer closeFn()

	idx := keyIdentityIdx(len(keyCodec.logical.Fields))
	buf := make([]parquet.Row, batchSize)
	for {
		n, readErr := pr.ReadRows(buf)
		for i := 0; i < n; i++ {
			row := keyCodec.ParquetToRow(buf[i])
			if _, ok := sourceKeys[EncodeKey(keyCodec.logical, idx, row)]; ok {
				return true, nil
			}
		}
		if readErr == io.EOF {
			return false, nil
		}
		if readErr != nil {
			return false, &CorruptParquetError{Path: path, Err: readErr}
		}
	}
}

// fileMatchedKeys streams path's key-only projection in batches of
// batchSize rows to exhaustion, returning every key that intersects
// sourceKeys. Only called for files scanFileForHit has already confirmed
// affected, so the exhaustive read is required work, not wasted IO.
func fileMatchedKeys(ctx context.Context, fs fsx.FS, path string, keyCodec *schemaCodec, sourceKeys map[Key128]struct{}, batchSize int) ([]Key128, error) {
	pr, closeFn, err := openKeyReader(ctx, fs, path, keyCodec)
	if err != nil {
		return nil, err
	}
	defer closeFn()

	idx := keyIdentityIdx(len(keyCodec.logical.Fields))
	var matched []Key128
	buf := make([]parquet.Row, batchSize)
	for {
		n, readErr := pr.ReadRows(buf)
		for i := 0; i < n; i++ {
			row := keyCodec.ParquetToRow(buf[i])
			key := EncodeKey(keyCodec.logical, idx, row)
			if _, ok := sourceKeys[key]; ok {
				matched = append(matched, key)
			}
		}
		if readErr == io.EOF {
			break
		}
		if readErr != nil {
			return nil, &CorruptParquetError{Path: path, Err: readErr}
		}
	}
	return matched, nil
}

// openKeyReader opens path and returns a parquet.Reader projected onto
// keyCodec's key-only schema, plus a close func covering both the reader
// and the underlying file handle.
func openKeyReader(ctx context.Context, fs fsx.FS, path string, keyCodec *schemaCodec) (*parquet.Reader, func(), error) {
	r, size, err := readAllSeeker(ctx, fs, path)
	if err != nil {
		return nil, nil, err
	}
	pf, err := parquet.OpenFile(r, size)
	if err != nil {
		return nil, nil, &CorruptParquetError{Path: path, Err: err}
	}
	pr := parquet.NewReader(pf, keyCodec.parquet)
	return pr, func() { pr.Close() }, nil
}

// SourceKeySet builds the hash set the confirmation scanner and rewrite
// planner intersect candidate files' keys against.
func SourceKeySet(schema Schema, keyIdx []int, rows []Row) map[Key128]struct{} {
	out := make(map[Key128]struct{}, len(rows))
	for _, row := range rows {
		out[EncodeKey(schema, keyIdx, row)] = struct{}{}
	}
	return out
}
