// Package cmd wires the parquetlake command line driver, the thin
// operational front door around the merge engine (grounded on the teacher's
// collector/cmd package and its rootCmd/cacheCmd/reindexLakeCmd layout).
package cmd

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"
)

var rootCmd = &cobra.Command{
	Use:   "parquetlake",
	Short: "Incremental merge engine for Hive-partitioned Parquet datasets",
	Long:  `parquetlake merges a source batch into an existing Hive-partitioned Parquet dataset by insert, update, or upsert, and inspects or reindexes the resulting dataset.`,
}

func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Println(err)
		os.Exit(1)
	}
}

// defaultCatalogDir mirrors the teacher's AUSTENDER_CACHE_DIR convention:
// an environment variable default, never consulted by the engine itself.
func defaultCatalogDir() string {
	if dir := os.Getenv("PARQUETLAKE_CATALOG_DIR"); dir != "" {
		return dir
	}
	if home, err := os.UserHomeDir(); err == nil && home != "" {
		return filepath.Join(home, ".cache", "parquetlake")
	}
	return filepath.Join(".cache", "parquetlake")
}
