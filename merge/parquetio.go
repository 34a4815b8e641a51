package merge

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"runtime"
	"time"

	"github.com/parquet-go/parquet-go"
	"github.com/parquet-go/parquet-go/compress/gzip"
	"github.com/parquet-go/parquet-go/compress/snappy"
	"github.com/parquet-go/parquet-go/compress/zstd"
	"github.com/shopspring/decimal"

	"github.com/whatnick/parquetlake/fsx"
)

func defaultWorkerCount() int {
	n := runtime.NumCPU()
	if n > 8 {
		return 8
	}
	if n < 1 {
		return 1
	}
	return n
}

func leafNode(t LogicalType) parquet.Node {
	switch t {
	case TypeBool:
		return parquet.Leaf(parquet.BooleanType)
	case TypeInt64:
		return parquet.Leaf(parquet.Int64Type)
	case TypeFloat64:
		return parquet.Leaf(parquet.DoubleType)
	case TypeDecimal:
		return parquet.Decimal(0, 18, parquet.Int64Type)
	case TypeString:
		return parquet.String()
	case TypeTimestamp:
		return parquet.Timestamp(parquet.Millisecond)
	default:
		return parquet.String()
	}
}

func compressionCodec(c Compression) parquet.Compression {
	switch c {
	case CompressionGzip:
		return &gzip.Codec{}
	case CompressionZstd:
		return &zstd.Codec{}
	case CompressionUncompressed:
		return parquet.Uncompressed
	default:
		return &snappy.Codec{}
	}
}

// schemaCodec pins down the column order parquet-go actually assigns a
// dynamically built schema (a parquet.Group is logically a set, so its
// serialized field order is not the caller's map insertion order) and
// translates Row values in and out of parquet.Row using that order, keyed
// back to our own Schema by name rather than position.
type schemaCodec struct {
	logical      Schema
	parquet      *parquet.Schema
	order        []Field
	logicalIndex []int
}

func newSchemaCodec(schema Schema) *schemaCodec {
	group := make(parquet.Group, len(schema.Fields))
	for _, f := range schema.Fields {
		node := leafNode(f.Type)
		if f.Optional {
			node = parquet.Optional(node)
		}
		group[f.Name] = node
	}
	ps := parquet.NewSchema("row", group)

	pfields := ps.Fields()
	order := make([]Field, len(pfields))
	logicalIndex := make([]int, len(pfields))
	for i, pf := range pfields {
		li := schema.IndexOf(pf.Name())
		order[i] = schema.Fields[li]
		logicalIndex[i] = li
	}
	return &schemaCodec{logical: schema, parquet: ps, order: order, logicalIndex: logicalIndex}
}

func (c *schemaCodec) RowToParquet(row Row) parquet.Row {
	out := make(parquet.Row, len(c.order))
	for i, f := range c.order {
		out[i] = valueToParquet(f, row[c.logicalIndex[i]])
	}
	return out
}

func (c *schemaCodec) ParquetToRow(pr parquet.Row) Row {
	out := make(Row, len(c.logical.Fields))
	for i, f := range c.order {
		li := c.logicalIndex[i]
		if i >= len(pr) || pr[i].IsNull() {
			out[li] = nil
			continue
		}
		out[li] = parquetToValue(f, pr[i])
	}
	return out
}

// columnPosition returns the parquet column index for a logical field name,
// or -1.
func (c *schemaCodec) columnPosition(name string) int {
	for i, f := range c.order {
		if f.Name == name {
			return i
		}
	}
	return -1
}

func valueToParquet(f Field, v Value) parquet.Value {
	if v == nil {
		return parquet.NullValue()
	}
	switch f.Type {
	case TypeBool:
		return parquet.ValueOf(v.(bool))
	case TypeInt64:
		return parquet.ValueOf(v.(int64))
	case TypeFloat64:
		return parquet.ValueOf(v.(float64))
	case TypeDecimal:
		d := decimalValue(v)
		return parquet.ValueOf(d.Shift(18).IntPart())
	case TypeString:
		return parquet.ValueOf(v.(string))
	case TypeTimestamp:
		return parquet.ValueOf(timestampValue(v).UnixMilli())
	default:
		return parquet.ValueOf(fmt.Sprint(v))
	}
}

func parquetToValue(f Field, pv parquet.Value) Value {
	switch f.Type {
	case TypeBool:
		return pv.Boolean()
	case TypeInt64:
		return pv.Int64()
	case TypeFloat64:
		return pv.Double()
	case TypeDecimal:
		return decimal.New(pv.Int64(), -18)
	case TypeString:
		return string(pv.ByteArray())
	case TypeTimestamp:
		return time.UnixMilli(pv.Int64()).UTC()
	default:
		return string(pv.ByteArray())
	}
}

// writeParquetFile serializes rows to w under codec's schema using opts'
// compression and row-group size, in the teacher's snappy-by-default style
// (collector/cmd/datalake.go), generalized from a compile-time struct to a
// runtime-built schema.
func writeParquetFile(w io.WriteCloser, codec *schemaCodec, rows []Row, opts Options) error {
	pw := parquet.NewWriter(w, codec.parquet,
		parquet.Compression(compressionCodec(opts.Compression)),
		parquet.MaxRowsPerRowGroup(opts.RowGroupSize),
	)
	prows := make([]parquet.Row, len(rows))
	for i, r := range rows {
		prows[i] = codec.RowToParquet(r)
	}
	if len(prows) > 0 {
		if _, err := pw.WriteRows(prows); err != nil {
			pw.Close()
			w.Close()
			return err
		}
	}
	if err := pw.Close(); err != nil {
		w.Close()
		return err
	}
	return w.Close()
}

// readAllRows decodes every row of a Parquet file at path under codec's
// schema, fully materializing it. Used by ReadBatch to load a whole source
// file; the confirmation scanner and streaming merger read in bounded
// batches instead. The file's bytes are still read whole because the narrow
// FS collaborator (§6) exposes no range reads (see readAllSeeker).
func readAllRows(ctx context.Context, fs fsx.FS, path string, codec *schemaCodec) ([]Row, error) {
	r, size, err := readAllSeeker(ctx, fs, path)
	if err != nil {
		return nil, err
	}
	pf, err := parquet.OpenFile(r, size)
	if err != nil {
		return nil, &CorruptParquetError{Path: path, Err: err}
	}
	pr := parquet.NewReader(pf, codec.parquet)
	defer pr.Close()

	var out []Row
	buf := make([]parquet.Row, 256)
	for {
		n, err := pr.ReadRows(buf)
		for i := 0; i < n; i++ {
			out = append(out, codec.ParquetToRow(buf[i]))
		}
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, &CorruptParquetError{Path: path, Err: err}
		}
	}
	return out, nil
}

// readAllSeeker materializes an FS file into a ReaderAt, since the narrow FS
// interface only exposes io.ReadCloser. A remote-store FS implementation
// that wants to avoid this should expose a range-read path of its own;
// that is an FS-collaborator concern, outside the engine's design (§1).
func readAllSeeker(ctx context.Context, fs fsx.FS, path string) (*bytes.Reader, int64, error) {
	rc, _, err := fs.OpenRead(ctx, path)
	if err != nil {
		return nil, 0, &FilesystemError{Op: "open_read", Path: path, Err: err}
	}
	defer rc.Close()
	data, err := io.ReadAll(rc)
	if err != nil {
		return nil, 0, &FilesystemError{Op: "read", Path: path, Err: err}
	}
	return bytes.NewReader(data), int64(len(data)), nil
}
