package merge

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestValidateRejectsNullKey(t *testing.T) {
	schema := testSchema()
	source := Batch{Schema: schema, KeyColumns: []string{"id"}, Rows: []Row{{nil, "z"}}}
	err := Validate(source, Upsert, nil)
	var nullErr *NullKeyError
	require.ErrorAs(t, err, &nullErr)
	require.Equal(t, "id", nullErr.Column)
}

func TestValidateRejectsEmptyKeyColumnsForUpsert(t *testing.T) {
	schema := testSchema()
	source := Batch{Schema: schema, Rows: []Row{{int64(1), "a"}}}
	err := Validate(source, Upsert, nil)
	require.Error(t, err)
}

func TestValidateDetectsPartitionMove(t *testing.T) {
	schema := Schema{Fields: []Field{
		{Name: "id", Type: TypeInt64},
		{Name: "day", Type: TypeString},
	}}
	keyIdx := []int{0}
	source := Batch{
		Schema:           schema,
		KeyColumns:       []string{"id"},
		PartitionColumns: []string{"day"},
		Rows:             []Row{{int64(2), "2024-01-02"}},
	}
	key := EncodeKey(schema, keyIdx, source.Rows[0])
	targetPartitions := map[Key128]map[string]string{
		key: {"day": "2024-01-01"},
	}
	err := Validate(source, Upsert, targetPartitions)
	var moveErr *PartitionMoveError
	require.ErrorAs(t, err, &moveErr)
	require.Equal(t, "day", moveErr.PartitionColumn)
}

func TestValidatePassesWithNoConflicts(t *testing.T) {
	schema := testSchema()
	source := Batch{Schema: schema, KeyColumns: []string{"id"}, Rows: []Row{{int64(1), "a"}}}
	require.NoError(t, Validate(source, Upsert, nil))
}

func TestValidateSchemaCompatibleRejectsMissingColumn(t *testing.T) {
	source := Schema{Fields: []Field{{Name: "id", Type: TypeInt64}}}
	target := Schema{Fields: []Field{{Name: "id", Type: TypeInt64}, {Name: "v", Type: TypeString}}}
	err := ValidateSchemaCompatible(source, target, nil)
	var schemaErr *SchemaError
	require.ErrorAs(t, err, &schemaErr)
}

func TestValidateSchemaCompatibleRejectsTypeMismatch(t *testing.T) {
	source := Schema{Fields: []Field{{Name: "id", Type: TypeInt64}, {Name: "v", Type: TypeString}}}
	target := Schema{Fields: []Field{{Name: "id", Type: TypeInt64}, {Name: "v", Type: TypeFloat64}}}
	err := ValidateSchemaCompatible(source, target, nil)
	var schemaErr *SchemaError
	require.ErrorAs(t, err, &schemaErr)
}

func TestValidateSchemaCompatibleIgnoresPathOnlyPartitionColumn(t *testing.T) {
	source := Schema{Fields: []Field{{Name: "id", Type: TypeInt64}}}
	target := Schema{Fields: []Field{{Name: "id", Type: TypeInt64}}}
	require.NoError(t, ValidateSchemaCompatible(source, target, []string{"day"}))
}

func TestValidateSchemaCompatibleWidensDecimalAndTimestampAgainstInt64(t *testing.T) {
	// A target schema recovered from a file's own footer (InferSchema)
	// cannot tell a decimal- or timestamp-scaled int64 column from a plain
	// one and always reports TypeInt64 for it.
	source := Schema{Fields: []Field{
		{Name: "amount", Type: TypeDecimal},
		{Name: "ts", Type: TypeTimestamp},
	}}
	target := Schema{Fields: []Field{
		{Name: "amount", Type: TypeInt64},
		{Name: "ts", Type: TypeInt64},
	}}
	require.NoError(t, ValidateSchemaCompatible(source, target, nil))
}
