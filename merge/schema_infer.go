package merge

import (
	"context"

	"github.com/parquet-go/parquet-go"

	"github.com/whatnick/parquetlake/fsx"
)

// InferSchema reads the Parquet schema embedded in a file's own footer and
// converts it to a Schema. The engine always takes the source's Schema
// from its Batch (§3); Merge uses this only to read the target dataset's
// schema for the compatibility check, and the CLI uses it so a file-backed
// source batch doesn't require the caller to redeclare a schema the file
// already carries.
func InferSchema(ctx context.Context, fs fsx.FS, path string) (Schema, error) {
	r, size, err := readAllSeeker(ctx, fs, path)
	if err != nil {
		return Schema{}, err
	}
	pf, err := parquet.OpenFile(r, size)
	if err != nil {
		return Schema{}, &CorruptParquetError{Path: path, Err: err}
	}

	pfields := pf.Schema().Fields()
	fields := make([]Field, len(pfields))
	for i, f := range pfields {
		fields[i] = Field{Name: f.Name(), Type: logicalTypeFromParquet(f), Optional: f.Optional()}
	}
	return Schema{Fields: fields}, nil
}

// logicalTypeFromParquet maps a stored column back to our LogicalType by
// its physical kind. Decimal and timestamp columns round-trip through
// TypeInt64 here rather than their original logical annotation: without a
// caller-supplied schema there is no way to tell a decimal-scaled int64
// from a genuine int64, so CLI-loaded sources should declare those columns
// explicitly via schema metadata rather than relying on inference.
func logicalTypeFromParquet(f parquet.Field) LogicalType {
	switch f.Type().Kind() {
	case parquet.Boolean:
		return TypeBool
	case parquet.Int32, parquet.Int64:
		return TypeInt64
	case parquet.Float, parquet.Double:
		return TypeFloat64
	case parquet.ByteArray, parquet.FixedLenByteArray:
		return TypeString
	default:
		return TypeString
	}
}

// ReadBatch reads every row of a Parquet file at path into a Batch, using
// the file's own schema. Used by the CLI's merge subcommand to load
// --source without requiring a separately-declared schema.
func ReadBatch(ctx context.Context, fs fsx.FS, path string) (Batch, error) {
	schema, err := InferSchema(ctx, fs, path)
	if err != nil {
		return Batch{}, err
	}
	codec := newSchemaCodec(schema)
	rows, err := readAllRows(ctx, fs, path, codec)
	if err != nil {
		return Batch{}, err
	}
	return Batch{Schema: schema, Rows: rows}, nil
}

// WriteBatch writes a Batch to a single Parquet file at path, the inverse
// of ReadBatch. Not used by the engine itself (which only ever writes into
// staging via C7); exported for building CLI fixtures and tests.
func WriteBatch(ctx context.Context, fs fsx.FS, path string, batch Batch, opts Options) error {
	codec := newSchemaCodec(batch.Schema)
	w, err := fs.OpenWrite(ctx, path)
	if err != nil {
		return &FilesystemError{Op: "open_write", Path: path, Err: err}
	}
	return writeParquetFile(w, codec, batch.Rows, opts.WithDefaults())
}
