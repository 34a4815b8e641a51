package merge

import (
	"context"
	"log"

	"github.com/parquet-go/parquet-go"
	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/semaphore"

	"github.com/whatnick/parquetlake/fsx"
)

// AnalyzeFiles reads the footer of every path and returns a FileDescriptor
// carrying per-column min/max/null-count statistics, fanned out over a
// bounded worker pool (§4.2, "Metadata Analyzer"). A file whose footer
// cannot be decoded is not a fatal error: it is logged and returned with
// HasStats=false on every column, so the pruner conservatively treats it as
// a hit rather than skip it.
func AnalyzeFiles(ctx context.Context, fs fsx.FS, root string, paths []string, schema Schema, workers int) ([]FileDescriptor, error) {
	if workers <= 0 {
		workers = defaultWorkerCount()
	}
	codec := newSchemaCodec(schema)
	sem := semaphore.NewWeighted(int64(workers))
	g, gctx := errgroup.WithContext(ctx)

	out := make([]FileDescriptor, len(paths))
	for i, p := range paths {
		i, p := i, p
		if err := sem.Acquire(gctx, 1); err != nil {
			return nil, err
		}
		g.Go(func() error {
			defer sem.Release(1)
			fd, err := analyzeOne(gctx, fs, root, p, schema, codec)
			if err != nil {
				return err
			}
			out[i] = fd
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return out, nil
}

func analyzeOne(ctx context.Context, fs fsx.FS, root, path string, schema Schema, codec *schemaCodec) (FileDescriptor, error) {
	fd := FileDescriptor{
		Path:      path,
		Partition: ParsePartitions(root, path),
		Stats:     make(map[string]ColumnStats, len(schema.Fields)),
		ByteSize:  -1,
	}

	r, size, err := readAllSeeker(ctx, fs, path)
	if err != nil {
		return FileDescriptor{}, err
	}
	fd.ByteSize = size

	pf, err := parquet.OpenFile(r, size)
	if err != nil {
		log.Printf("merge: footer unreadable for %s, treating as affected: %v", path, err)
		return conservativeDescriptor(fd, schema), nil
	}
	fd.RowCount = pf.NumRows()

	merged := make(map[string]*ColumnStats, len(schema.Fields))
	for _, f := range schema.Fields {
		merged[f.Name] = &ColumnStats{}
	}
	// A column whose index is missing in any row group has no reliable
	// file-level range, even if other row groups carry one.
	noIndex := make(map[string]bool, len(schema.Fields))

	for _, rg := range pf.RowGroups() {
		for _, cc := range rg.ColumnChunks() {
			pos := cc.Column()
			if pos < 0 || pos >= len(codec.order) {
				continue
			}
			field := codec.order[pos]
			agg, ok := merged[field.Name]
			if !ok {
				continue
			}
			idx, err := cc.ColumnIndex()
			if err != nil || idx == nil {
				noIndex[field.Name] = true
				continue
			}
			mergeColumnIndex(agg, field, idx)
		}
	}

	anyMissing := false
	for _, f := range schema.Fields {
		agg := merged[f.Name]
		if noIndex[f.Name] || (agg.Min == nil && agg.Max == nil && agg.NullCount == 0) {
			agg.HasStats = false
		}
		if !agg.HasStats {
			anyMissing = true
		}
		fd.Stats[f.Name] = *agg
	}
	if anyMissing {
		log.Printf("merge: %s missing statistics for one or more columns, those columns cannot be pruned", path)
	}
	return fd, nil
}

// mergeColumnIndex folds a column chunk's per-page min/max/null-count into
// the file-level aggregate for that column.
func mergeColumnIndex(agg *ColumnStats, field Field, idx parquet.ColumnIndex) {
	agg.HasStats = true
	n := idx.NumPages()
	for i := 0; i < n; i++ {
		agg.NullCount += idx.NullCount(i)
		if idx.NullPage(i) {
			continue
		}
		minV := parquetToValue(field, idx.MinValue(i))
		maxV := parquetToValue(field, idx.MaxValue(i))
		if agg.Min == nil || compareValues(field.Type, minV, agg.Min) < 0 {
			agg.Min = minV
		}
		if agg.Max == nil || compareValues(field.Type, maxV, agg.Max) > 0 {
			agg.Max = maxV
		}
	}
}

// conservativeDescriptor marks every column of fd as statistics-less, so
// downstream pruners keep the file as a hit rather than eliminate it.
func conservativeDescriptor(fd FileDescriptor, schema Schema) FileDescriptor {
	fd.RowCount = -1
	for _, f := range schema.Fields {
		fd.Stats[f.Name] = ColumnStats{HasStats: false}
	}
	return fd
}
