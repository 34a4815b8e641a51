package merge

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/whatnick/parquetlake/fsx"
)

func TestInferSchemaAndReadBatchRoundTrip(t *testing.T) {
	fs := fsx.NewMemFS()
	schema := testSchema()
	rows := []Row{{int64(1), "alice"}, {int64(2), "bob"}}
	writeTestFile(t, fs, "source.parquet", schema, rows)

	inferred, err := InferSchema(context.Background(), fs, "source.parquet")
	require.NoError(t, err)
	require.ElementsMatch(t, []string{"id", "name"}, inferred.Names())
	require.Equal(t, TypeInt64, inferred.Fields[inferred.IndexOf("id")].Type)
	require.Equal(t, TypeString, inferred.Fields[inferred.IndexOf("name")].Type)

	batch, err := ReadBatch(context.Background(), fs, "source.parquet")
	require.NoError(t, err)
	require.ElementsMatch(t, rows, batch.Rows)
}
