package cmd

import (
	"context"
	"fmt"
	"log"

	"github.com/spf13/cobra"

	"github.com/whatnick/parquetlake/catalog"
	"github.com/whatnick/parquetlake/fsx"
	"github.com/whatnick/parquetlake/merge"
)

// reindexCmd rebuilds the file-inventory catalog by walking the dataset and
// re-reading footers, grounded on the teacher's reindexLakeCmd and
// dataLake.rebuildIndex.
var reindexCmd = &cobra.Command{
	Use:   "reindex",
	Short: "Rebuild the file-inventory catalog from the files on disk",
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
		fs := fsx.NewLocalFS()

		paths, err := merge.EnumerateFiles(ctx, fs, target)
		if err != nil {
			return err
		}
		schema, err := inferDatasetSchema(ctx, fs, target, paths)
		if err != nil {
			return err
		}
		descriptors, err := merge.AnalyzeFiles(ctx, fs, target, paths, schema, 0)
		if err != nil {
			return err
		}

		entries := make([]catalog.FileEntry, len(descriptors))
		for i, fd := range descriptors {
			entries[i] = catalog.FileEntry{Path: fd.Path, RowCount: fd.RowCount, ByteSize: fd.ByteSize, Partitions: fd.Partition}
		}

		cat, err := catalog.Open(catalogPath)
		if err != nil {
			return err
		}
		defer cat.Close()
		if err := cat.ReplaceFiles(ctx, entries); err != nil {
			return err
		}

		log.Printf("reindexed %d files under %s", len(entries), target)
		return nil
	},
}

// inferDatasetSchema infers the dataset schema from its first file, since
// the whole dataset shares one schema by invariant.
func inferDatasetSchema(ctx context.Context, fs fsx.FS, target string, paths []string) (merge.Schema, error) {
	if len(paths) == 0 {
		return merge.Schema{}, nil
	}
	return merge.InferSchema(ctx, fs, paths[0])
}

func init() {
	rootCmd.AddCommand(reindexCmd)
	reindexCmd.Flags().String("target", "", "Target dataset root (required)")
	reindexCmd.Flags().String("catalog", "", "Catalog database path (default PARQUETLAKE_CATALOG_DIR/catalog.sqlite)")
}
