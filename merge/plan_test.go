package merge

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestDedupSourceRowsLastWriteWins(t *testing.T) {
	schema := testSchema()
	rows := []Row{
		{int64(1), "a"},
		{int64(1), "b"},
		{int64(2), "c"},
	}
	out := DedupSourceRows(schema, []int{0}, rows)
	require.Len(t, out, 2)
	require.Equal(t, Row{int64(1), "b"}, out[0])
	require.Equal(t, Row{int64(2), "c"}, out[1])
}

func TestBuildPlanUpsertRoutesByTargetMembership(t *testing.T) {
	schema := testSchema()
	keyIdx := []int{0}
	rows := []Row{{int64(1), "x"}, {int64(2), "y"}}
	matched := map[Key128]struct{}{
		EncodeKey(schema, keyIdx, rows[0]): {},
	}
	affected := []FileDescriptor{{Path: "a.parquet", RowCount: 10}}

	plan := BuildPlan(Upsert, schema, keyIdx, rows, affected, nil, matched)
	require.Len(t, plan.ToRewrite, 1)
	require.Equal(t, rows[0], plan.ToRewrite[0])
	require.Len(t, plan.ToEmitNew, 1)
	require.Equal(t, rows[1], plan.ToEmitNew[0])
	require.Equal(t, 0, plan.Discarded)
	require.EqualValues(t, 10, plan.AffectedRowCount)
}

func TestBuildPlanInsertDiscardsExistingKeys(t *testing.T) {
	schema := testSchema()
	keyIdx := []int{0}
	rows := []Row{{int64(1), "x"}, {int64(2), "y"}}
	matched := map[Key128]struct{}{
		EncodeKey(schema, keyIdx, rows[0]): {},
	}

	plan := BuildPlan(Insert, schema, keyIdx, rows, nil, nil, matched)
	require.Empty(t, plan.ToRewrite)
	require.Len(t, plan.ToEmitNew, 1)
	require.Equal(t, rows[1], plan.ToEmitNew[0])
	require.Equal(t, 1, plan.Discarded)
}

func TestBuildPlanUpdateDiscardsUnknownKeys(t *testing.T) {
	schema := testSchema()
	keyIdx := []int{0}
	rows := []Row{{int64(1), "x"}, {int64(2), "y"}}
	matched := map[Key128]struct{}{
		EncodeKey(schema, keyIdx, rows[0]): {},
	}

	plan := BuildPlan(Update, schema, keyIdx, rows, nil, nil, matched)
	require.Len(t, plan.ToRewrite, 1)
	require.Equal(t, rows[0], plan.ToRewrite[0])
	require.Empty(t, plan.ToEmitNew)
	require.Equal(t, 1, plan.Discarded)
}
