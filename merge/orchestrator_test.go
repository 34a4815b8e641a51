package merge

import (
	"context"
	"io"
	"strings"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/whatnick/parquetlake/fsx"
)

func dayVSchema() Schema {
	return Schema{Fields: []Field{
		{Name: "id", Type: TypeInt64},
		{Name: "day", Type: TypeString},
		{Name: "v", Type: TypeString},
	}}
}

func seedTwoDayDataset(t *testing.T, fs *fsx.MemFS) {
	t.Helper()
	schema := dayVSchema()
	writeTestFile(t, fs, "root/day=2024-01-01/part-0.parquet", schema, []Row{
		{int64(1), "2024-01-01", "a"},
		{int64(2), "2024-01-01", "b"},
	})
	writeTestFile(t, fs, "root/day=2024-01-02/part-0.parquet", schema, []Row{
		{int64(3), "2024-01-02", "c"},
	})
}

func readRows(t *testing.T, fs fsx.FS, schema Schema, path string) []Row {
	t.Helper()
	codec := newSchemaCodec(schema)
	rows, err := readAllRows(context.Background(), fs, path, codec)
	require.NoError(t, err)
	return rows
}

func TestMergeUpsertScenarioOne(t *testing.T) {
	fs := fsx.NewMemFS()
	seedTwoDayDataset(t, fs)
	schema := dayVSchema()
	source := Batch{
		Schema: schema,
		Rows: []Row{
			{int64(2), "2024-01-01", "B"},
			{int64(4), "2024-01-02", "D"},
		},
	}

	res, err := Merge(context.Background(), fs, nil, source, "root", Upsert, []string{"id"}, []string{"day"}, Options{})
	require.NoError(t, err)
	require.EqualValues(t, 1, res.Inserted)
	require.EqualValues(t, 1, res.Updated)
	require.EqualValues(t, 0, res.Deleted)
	require.EqualValues(t, 3, res.TargetCountBefore)
	require.EqualValues(t, 4, res.TargetCountAfter)

	rewritten := readRows(t, fs, schema, "root/day=2024-01-01/part-0.parquet")
	require.ElementsMatch(t, []Row{
		{int64(1), "2024-01-01", "a"},
		{int64(2), "2024-01-01", "B"},
	}, rewritten)

	preservedDay2 := readRows(t, fs, schema, "root/day=2024-01-02/part-0.parquet")
	require.ElementsMatch(t, []Row{{int64(3), "2024-01-02", "c"}}, preservedDay2)

	var newFilePath string
	for _, f := range res.Files {
		if f.Operation == OpInserted {
			newFilePath = f.Path
		}
	}
	require.NotEmpty(t, newFilePath)
	newRows := readRows(t, fs, schema, newFilePath)
	require.ElementsMatch(t, []Row{{int64(4), "2024-01-02", "D"}}, newRows)
}

func TestMergeUpsertRejectsPartitionMove(t *testing.T) {
	fs := fsx.NewMemFS()
	seedTwoDayDataset(t, fs)
	schema := dayVSchema()
	source := Batch{
		Schema: schema,
		Rows:   []Row{{int64(2), "2024-01-02", "X"}},
	}

	_, err := Merge(context.Background(), fs, nil, source, "root", Upsert, []string{"id"}, []string{"day"}, Options{})
	var moveErr *PartitionMoveError
	require.ErrorAs(t, err, &moveErr)

	unchanged := readRows(t, fs, schema, "root/day=2024-01-01/part-0.parquet")
	require.ElementsMatch(t, []Row{
		{int64(1), "2024-01-01", "a"},
		{int64(2), "2024-01-01", "b"},
	}, unchanged)
}

func TestMergeRejectsNullKey(t *testing.T) {
	fs := fsx.NewMemFS()
	seedTwoDayDataset(t, fs)
	schema := dayVSchema()
	source := Batch{
		Schema: schema,
		Rows:   []Row{{int64(1), nil, "z"}},
	}

	_, err := Merge(context.Background(), fs, nil, source, "root", Upsert, []string{"id"}, nil, Options{})
	var nullErr *NullKeyError
	require.ErrorAs(t, err, &nullErr)
}

func TestMergeUpdateOnlyTouchesMatchedKeys(t *testing.T) {
	fs := fsx.NewMemFS()
	schema := Schema{Fields: []Field{{Name: "id", Type: TypeInt64}}}
	rows := make([]Row, 1_000)
	for i := 0; i < 1_000; i++ {
		rows[i] = Row{int64(i + 1)}
	}
	writeTestFile(t, fs, "root/part-0.parquet", schema, rows)

	source := Batch{
		Schema: schema,
		Rows:   []Row{{int64(500)}, {int64(501)}},
	}
	res, err := Merge(context.Background(), fs, nil, source, "root", Update, []string{"id"}, nil, Options{})
	require.NoError(t, err)
	require.EqualValues(t, 0, res.Inserted)
	require.EqualValues(t, 2, res.Updated)
	require.EqualValues(t, 1000, res.TargetCountAfter)
}

func TestMergeEmptySourceIsNoOp(t *testing.T) {
	fs := fsx.NewMemFS()
	seedTwoDayDataset(t, fs)
	schema := dayVSchema()
	source := Batch{Schema: schema}

	res, err := Merge(context.Background(), fs, nil, source, "root", Upsert, []string{"id"}, []string{"day"}, Options{})
	require.NoError(t, err)
	require.EqualValues(t, 0, res.Inserted)
	require.EqualValues(t, 0, res.Updated)
	require.Empty(t, res.Files)
}

func TestMergeInsertIntoEmptyTargetDedupsLastWriteWins(t *testing.T) {
	fs := fsx.NewMemFS()
	schema := testSchema()
	source := Batch{
		Schema: schema,
		Rows: []Row{
			{int64(1), "a"},
			{int64(1), "b"},
		},
	}

	res, err := Merge(context.Background(), fs, nil, source, "root", Upsert, []string{"id"}, nil, Options{})
	require.NoError(t, err)
	require.EqualValues(t, 1, res.Inserted)
	require.EqualValues(t, 0, res.Updated)

	var newFilePath string
	for _, f := range res.Files {
		if f.Operation == OpInserted {
			newFilePath = f.Path
		}
	}
	rows := readRows(t, fs, schema, newFilePath)
	require.Equal(t, []Row{{int64(1), "b"}}, rows)
}

func TestMergeRejectsIncompatibleSchema(t *testing.T) {
	fs := fsx.NewMemFS()
	targetSchema := Schema{Fields: []Field{{Name: "id", Type: TypeInt64}, {Name: "v", Type: TypeString}}}
	writeTestFile(t, fs, "root/part-0.parquet", targetSchema, []Row{{int64(1), "a"}})

	// source declares "v" as a float where the target has it as a string
	source := Batch{
		Schema: Schema{Fields: []Field{{Name: "id", Type: TypeInt64}, {Name: "v", Type: TypeFloat64}}},
		Rows:   []Row{{int64(1), 1.5}},
	}

	_, err := Merge(context.Background(), fs, nil, source, "root", Upsert, []string{"id"}, nil, Options{})
	var schemaErr *SchemaError
	require.ErrorAs(t, err, &schemaErr)

	unchanged := readRows(t, fs, targetSchema, "root/part-0.parquet")
	require.Equal(t, []Row{{int64(1), "a"}}, unchanged)
}

type fakeCancelToken struct {
	calls       int
	cancelAfter int
}

func (f *fakeCancelToken) Cancelled() bool {
	f.calls++
	return f.calls > f.cancelAfter
}

func TestMergeCancellationLeavesDatasetUnchanged(t *testing.T) {
	fs := fsx.NewMemFS()
	schema := Schema{Fields: []Field{{Name: "id", Type: TypeInt64}}}
	writeTestFile(t, fs, "root/a.parquet", schema, []Row{{int64(1)}})
	writeTestFile(t, fs, "root/b.parquet", schema, []Row{{int64(2)}})

	source := Batch{
		Schema: schema,
		Rows:   []Row{{int64(1)}, {int64(2)}},
	}
	token := &fakeCancelToken{cancelAfter: 1}

	_, err := Merge(context.Background(), fs, nil, source, "root", Update, []string{"id"}, nil, Options{CancelToken: token})
	require.ErrorIs(t, err, ErrCancelled)

	a := readRows(t, fs, schema, "root/a.parquet")
	require.Equal(t, []Row{{int64(1)}}, a)
	b := readRows(t, fs, schema, "root/b.parquet")
	require.Equal(t, []Row{{int64(2)}}, b)

	entries, errc := fs.List(context.Background(), "root")
	var remaining []string
	for p := range entries {
		remaining = append(remaining, p)
	}
	require.NoError(t, <-errc)
	require.ElementsMatch(t, []string{"root/a.parquet", "root/b.parquet"}, remaining)
}

// closeNotifyWriter fires onClose once the underlying staging write has
// fully landed, so a test's cancel token can flip true at exactly that
// moment rather than guessing which Cancelled() call lands where.
type closeNotifyWriter struct {
	io.WriteCloser
	onClose func()
}

func (w *closeNotifyWriter) Close() error {
	err := w.WriteCloser.Close()
	w.onClose()
	return err
}

// stagingWatchFS wraps an fsx.FS and flips staged true the instant a write
// to a path under a ".staging-" directory closes.
type stagingWatchFS struct {
	fsx.FS
	staged *atomic.Bool
}

func (w *stagingWatchFS) OpenWrite(ctx context.Context, p string) (io.WriteCloser, error) {
	wc, err := w.FS.OpenWrite(ctx, p)
	if err != nil {
		return nil, err
	}
	if !strings.Contains(p, "/.staging-") {
		return wc, nil
	}
	return &closeNotifyWriter{WriteCloser: wc, onClose: func() { w.staged.Store(true) }}, nil
}

// stagingCancelToken fires as soon as a rewrite output has landed in
// staging, modeling §8 scenario 6 precisely instead of guessing a
// Cancelled()-call count that depends on parquet-go's ReadRows batching.
type stagingCancelToken struct {
	staged *atomic.Bool
}

func (t *stagingCancelToken) Cancelled() bool {
	return t.staged.Load()
}

func TestMergeCancellationAfterStagingWriteBeforePromotionIsCaught(t *testing.T) {
	fs := fsx.NewMemFS()
	schema := Schema{Fields: []Field{{Name: "id", Type: TypeInt64}}}
	writeTestFile(t, fs, "root/a.parquet", schema, []Row{{int64(1)}})

	source := Batch{Schema: schema, Rows: []Row{{int64(1)}}}

	var staged atomic.Bool
	watched := &stagingWatchFS{FS: fs, staged: &staged}
	token := &stagingCancelToken{staged: &staged}

	_, err := Merge(context.Background(), watched, nil, source, "root", Update, []string{"id"}, nil, Options{CancelToken: token})
	require.ErrorIs(t, err, ErrCancelled)

	a := readRows(t, fs, schema, "root/a.parquet")
	require.Equal(t, []Row{{int64(1)}}, a)

	entries, errc := fs.List(context.Background(), "root")
	var remaining []string
	for p := range entries {
		remaining = append(remaining, p)
	}
	require.NoError(t, <-errc)
	require.ElementsMatch(t, []string{"root/a.parquet"}, remaining)
}
