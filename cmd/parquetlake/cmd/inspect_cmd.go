package cmd

import (
	"context"
	"fmt"
	"sort"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"

	"github.com/whatnick/parquetlake/catalog"
	"github.com/whatnick/parquetlake/fsx"
	"github.com/whatnick/parquetlake/merge"
)

// inspectCmd prints a human-readable dataset summary from the catalog,
// falling back to a live walk when the catalog is stale or missing,
// grounded on the teacher's datalake.go queryTotals/hasMonthPartition
// reporting style.
var inspectCmd = &cobra.Command{
	Use:   "inspect",
	Short: "Summarize a dataset's file count, row count, size, and partitions",
	RunE: func(cmd *cobra.Command, args []string) error {
		target, _ := cmd.Flags().GetString("target")
		catalogPath, _ := cmd.Flags().GetString("catalog")
		if target == "" {
			return fmt.Errorf("--target is required")
		}
		if catalogPath == "" {
			catalogPath = catalog.DefaultPath(defaultCatalogDir())
		}

		ctx := context.Background()
		entries, err := loadInventory(ctx, target, catalogPath)
		if err != nil {
			return err
		}

		var rowCount, byteSize int64
		partitions := map[string]struct{}{}
		for _, e := range entries {
			rowCount += e.RowCount
			if e.ByteSize > 0 {
				byteSize += e.ByteSize
			}
			for k, v := range e.Partitions {
				partitions[fmt.Sprintf("%s=%s", k, v)] = struct{}{}
			}
		}

		fmt.Printf("target:    %s\n", target)
		fmt.Printf("files:     %d\n", len(entries))
		fmt.Printf("rows:      %s\n", humanize.Comma(rowCount))
		fmt.Printf("size:      %s\n", humanize.Bytes(uint64(byteSize)))
		fmt.Printf("partitions: %d\n", len(partitions))

		names := make([]string, 0, len(partitions))
		for p := range partitions {
			names = append(names, p)
		}
		sort.Strings(names)
		for _, p := range names {
			fmt.Printf("  %s\n", p)
		}
		return nil
	},
}

// loadInventory prefers the catalog's index; if it's stale or missing, it
// falls back to a live walk+analyze pass, mirroring the teacher's
// hasMonthPartition fallback-to-disk behavior.
func loadInventory(ctx context.Context, target, catalogPath string) ([]catalog.FileEntry, error) {
	cat, err := catalog.Open(catalogPath)
	if err == nil {
		defer cat.Close()
		stale, staleErr := cat.IsStale(ctx)
		if staleErr == nil && !stale {
			return cat.Files(ctx)
		}
	}

	fs := fsx.NewLocalFS()
	paths, err := merge.EnumerateFiles(ctx, fs, target)
	if err != nil {
		return nil, err
	}
	schema, err := inferDatasetSchema(ctx, fs, target, paths)
	if err != nil {
		return nil, err
	}
	descriptors, err := merge.AnalyzeFiles(ctx, fs, target, paths, schema, 0)
	if err != nil {
		return nil, err
	}
	entries := make([]catalog.FileEntry, len(descriptors))
	for i, fd := range descriptors {
		entries[i] = catalog.FileEntry{Path: fd.Path, RowCount: fd.RowCount, ByteSize: fd.ByteSize, Partitions: fd.Partition}
	}
	return entries, nil
}

func init() {
	rootCmd.AddCommand(inspectCmd)
	inspectCmd.Flags().String("target", "", "Target dataset root (required)")
	inspectCmd.Flags().String("catalog", "", "Catalog database path (default PARQUETLAKE_CATALOG_DIR/catalog.sqlite)")
}
