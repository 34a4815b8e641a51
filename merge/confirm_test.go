package merge

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/whatnick/parquetlake/fsx"
)

func TestConfirmAffectedSplitsByKeyIntersection(t *testing.T) {
	fs := fsx.NewMemFS()
	schema := testSchema()
	writeTestFile(t, fs, "root/a.parquet", schema, []Row{{int64(1), "a"}, {int64(2), "b"}})
	writeTestFile(t, fs, "root/b.parquet", schema, []Row{{int64(3), "c"}})

	candidates := []FileDescriptor{
		{Path: "root/a.parquet"},
		{Path: "root/b.parquet"},
	}
	sourceKeys := map[Key128]struct{}{
		EncodeKey(schema, []int{0}, Row{int64(2), nil}): {},
	}

	affected, preserved, matched, keyParts, err := ConfirmAffected(context.Background(), fs, schema, candidates, sourceKeys, []string{"id"}, Options{AnalyzerWorkers: 2}.WithDefaults())
	require.NoError(t, err)
	require.Len(t, affected, 1)
	require.Equal(t, "root/a.parquet", affected[0].Path)
	require.Len(t, preserved, 1)
	require.Equal(t, "root/b.parquet", preserved[0].Path)
	require.Len(t, matched, 1)
	require.Contains(t, keyParts, EncodeKey(schema, []int{0}, Row{int64(2), nil}))
}

func TestConfirmAffectedNoMatchIsAllPreserved(t *testing.T) {
	fs := fsx.NewMemFS()
	schema := testSchema()
	writeTestFile(t, fs, "root/a.parquet", schema, []Row{{int64(1), "a"}})

	candidates := []FileDescriptor{{Path: "root/a.parquet"}}
	sourceKeys := map[Key128]struct{}{
		EncodeKey(schema, []int{0}, Row{int64(99), nil}): {},
	}

	affected, preserved, matched, _, err := ConfirmAffected(context.Background(), fs, schema, candidates, sourceKeys, []string{"id"}, Options{AnalyzerWorkers: 1}.WithDefaults())
	require.NoError(t, err)
	require.Empty(t, affected)
	require.Len(t, preserved, 1)
	require.Empty(t, matched)
}

func TestConfirmAffectedFindsEveryMatchedKeyPastTheShortCircuitPoint(t *testing.T) {
	// The classification pass short-circuits on the first hit (§4.5), but
	// an affected file can still hold several matched keys beyond that
	// point; the exhaustive second pass over affected-only files must
	// still surface all of them so the planner and partition-move
	// validator see every one, not just the first.
	fs := fsx.NewMemFS()
	schema := Schema{Fields: []Field{{Name: "id", Type: TypeInt64}}}
	rows := make([]Row, 20)
	for i := range rows {
		rows[i] = Row{int64(i + 1)}
	}
	writeTestFile(t, fs, "root/a.parquet", schema, rows)

	candidates := []FileDescriptor{{Path: "root/a.parquet"}}
	sourceKeys := map[Key128]struct{}{
		EncodeKey(schema, []int{0}, Row{int64(1)}):  {},
		EncodeKey(schema, []int{0}, Row{int64(10)}): {},
		EncodeKey(schema, []int{0}, Row{int64(20)}): {},
	}

	affected, _, matched, _, err := ConfirmAffected(context.Background(), fs, schema, candidates, sourceKeys, []string{"id"}, Options{MergeChunkSizeRows: 4}.WithDefaults())
	require.NoError(t, err)
	require.Len(t, affected, 1)
	require.Len(t, matched, 3)
	for _, k := range []int64{1, 10, 20} {
		require.Contains(t, matched, EncodeKey(schema, []int{0}, Row{k}))
	}
}

func TestConfirmAffectedStreamsSmallerThanFileSizeBatches(t *testing.T) {
	// Exercises the bounded-batch path itself (batch size smaller than the
	// file's row count, on both the classification and confirmation pass)
	// rather than relying on a single ReadRows call covering the file.
	fs := fsx.NewMemFS()
	schema := testSchema()
	rows := []Row{{int64(1), "a"}, {int64(2), "b"}, {int64(3), "c"}, {int64(4), "d"}}
	writeTestFile(t, fs, "root/a.parquet", schema, rows)

	candidates := []FileDescriptor{{Path: "root/a.parquet"}}
	sourceKeys := map[Key128]struct{}{
		EncodeKey(schema, []int{0}, Row{int64(4), nil}): {},
	}

	affected, preserved, matched, _, err := ConfirmAffected(context.Background(), fs, schema, candidates, sourceKeys, []string{"id"}, Options{MergeChunkSizeRows: 1}.WithDefaults())
	require.NoError(t, err)
	require.Len(t, affected, 1)
	require.Empty(t, preserved)
	require.Len(t, matched, 1)
}
