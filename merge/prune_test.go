package merge

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestPrunePartitionsKeepsOnlyMatchingTuples(t *testing.T) {
	schema := Schema{Fields: []Field{
		{Name: "id", Type: TypeInt64},
		{Name: "region", Type: TypeString},
	}}
	source := Batch{
		Schema:           schema,
		Rows:             []Row{{int64(1), "au"}},
		PartitionColumns: []string{"region"},
	}
	files := []FileDescriptor{
		{Path: "root/region=au/a.parquet", Partition: map[string]string{"region": "au"}},
		{Path: "root/region=us/b.parquet", Partition: map[string]string{"region": "us"}},
		{Path: "root/legacy/c.parquet", Partition: map[string]string{}},
	}
	kept := PrunePartitions(files, source)
	var paths []string
	for _, fd := range kept {
		paths = append(paths, fd.Path)
	}
	require.ElementsMatch(t, []string{"root/region=au/a.parquet", "root/legacy/c.parquet"}, paths)
}

func TestPruneByStatisticsEliminatesDisjointRanges(t *testing.T) {
	schema := Schema{Fields: []Field{{Name: "id", Type: TypeInt64}}}
	source := Batch{
		Schema:     schema,
		Rows:       []Row{{int64(100)}, {int64(105)}},
		KeyColumns: []string{"id"},
	}
	files := []FileDescriptor{
		{Path: "a.parquet", Stats: map[string]ColumnStats{"id": {Min: int64(0), Max: int64(50), HasStats: true}}},
		{Path: "b.parquet", Stats: map[string]ColumnStats{"id": {Min: int64(90), Max: int64(110), HasStats: true}}},
		{Path: "c.parquet", Stats: map[string]ColumnStats{"id": {HasStats: false}}},
	}
	kept := PruneByStatistics(files, source)
	var paths []string
	for _, fd := range kept {
		paths = append(paths, fd.Path)
	}
	require.ElementsMatch(t, []string{"b.parquet", "c.parquet"}, paths)
}
