package cmd

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/fatih/color"
	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"github.com/whatnick/parquetlake/catalog"
	"github.com/whatnick/parquetlake/fsx"
	"github.com/whatnick/parquetlake/memprobe"
	"github.com/whatnick/parquetlake/merge"
)

// mergeCmd is the CLI front door onto merge.Merge, grounded on the
// teacher's cacheCmd: read flags, run one operation, persist a bookkeeping
// record of what happened.
var mergeCmd = &cobra.Command{
	Use:   "merge",
	Short: "Merge a source Parquet file into a Hive-partitioned target dataset",
	RunE: func(cmd *cobra.Command, args []string) error {
		target, _ := cmd.Flags().GetString("target")
		source, _ := cmd.Flags().GetString("source")
		strategyFlag, _ := cmd.Flags().GetString("strategy")
		keyFlag, _ := cmd.Flags().GetString("key")
		partitionFlag, _ := cmd.Flags().GetString("partition")
		compressionFlag, _ := cmd.Flags().GetString("compression")
		maxRowsPerFile, _ := cmd.Flags().GetInt64("max-rows-per-file")
		rowGroupSize, _ := cmd.Flags().GetInt64("row-group-size")
		chunkRows, _ := cmd.Flags().GetInt64("chunk-rows")
		maxAllocatorBytes, _ := cmd.Flags().GetUint64("max-allocator-bytes")
		catalogPath, _ := cmd.Flags().GetString("catalog")

		if target == "" || source == "" {
			return fmt.Errorf("--target and --source are required")
		}
		strategy := merge.Strategy(strategyFlag)
		keyColumns := splitCSV(keyFlag)
		partitionColumns := splitCSV(partitionFlag)

		ctx := context.Background()
		fs := fsx.NewLocalFS()

		batch, err := merge.ReadBatch(ctx, fs, source)
		if err != nil {
			return fmt.Errorf("load source: %w", err)
		}

		opts := merge.Options{
			Compression:        merge.Compression(compressionFlag),
			MaxRowsPerFile:     maxRowsPerFile,
			RowGroupSize:       rowGroupSize,
			MergeChunkSizeRows: chunkRows,
			MaxAllocatorBytes:  maxAllocatorBytes,
		}

		var probe memprobe.Probe
		if p, err := memprobe.NewGopsutilProbe(memprobe.Limits{MaxAllocatorBytes: maxAllocatorBytes}); err == nil {
			probe = p
		}

		started := time.Now().UTC()
		res, mergeErr := merge.Merge(ctx, fs, probe, batch, target, strategy, keyColumns, partitionColumns, opts)
		finished := time.Now().UTC()

		if catalogPath == "" {
			catalogPath = catalog.DefaultPath(defaultCatalogDir())
		}
		if cat, catErr := catalog.Open(catalogPath); catErr == nil {
			status := "done"
			if mergeErr != nil {
				status = "failed"
			}
			rec := catalog.RecordResultFromMerge(uuid.NewString(), target, res, started, finished, status)
			_ = cat.RecordRun(ctx, rec)
			_ = cat.Close()
		}

		if mergeErr != nil {
			return mergeErr
		}

		successStyle := color.New(color.FgGreen, color.Bold)
		fmt.Printf("%s inserted=%d updated=%d preserved=%d rewritten=%d new=%d\n",
			successStyle.Sprint("merge complete"), res.Inserted, res.Updated,
			countOp(res.Files, merge.OpPreserved), countOp(res.Files, merge.OpRewritten), countOp(res.Files, merge.OpInserted))
		return nil
	},
}

func countOp(files []merge.FileResult, op merge.FileOperation) int {
	n := 0
	for _, f := range files {
		if f.Operation == op {
			n++
		}
	}
	return n
}

func splitCSV(s string) []string {
	if strings.TrimSpace(s) == "" {
		return nil
	}
	parts := strings.Split(s, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		p = strings.TrimSpace(p)
		if p != "" {
			out = append(out, p)
		}
	}
	return out
}

func init() {
	rootCmd.AddCommand(mergeCmd)
	mergeCmd.Flags().String("target", "", "Target dataset root (required)")
	mergeCmd.Flags().String("source", "", "Source Parquet file (required)")
	mergeCmd.Flags().String("strategy", "upsert", "insert, update, or upsert")
	mergeCmd.Flags().String("key", "", "Comma-separated key column names")
	mergeCmd.Flags().String("partition", "", "Comma-separated partition column names")
	mergeCmd.Flags().String("compression", "snappy", "snappy, uncompressed, gzip, or zstd")
	mergeCmd.Flags().Int64("max-rows-per-file", 1_000_000, "Maximum rows per emitted file")
	mergeCmd.Flags().Int64("row-group-size", 128*1024, "Target row-group size in rows")
	mergeCmd.Flags().Int64("chunk-rows", 8192, "Streaming merge batch size in rows")
	mergeCmd.Flags().Uint64("max-allocator-bytes", 0, "Memory budget hint for the adaptive probe (0 disables)")
	mergeCmd.Flags().String("catalog", "", "Catalog database path (default PARQUETLAKE_CATALOG_DIR/catalog.sqlite)")
}
