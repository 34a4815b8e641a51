package merge

import (
	"context"
	"fmt"
	"path"

	"github.com/google/uuid"

	"github.com/whatnick/parquetlake/fsx"
)

// NewStagingRoot returns a fresh staging directory name under root, using a
// random UUID so concurrent merges (outside this engine's single-writer
// assumption, e.g. manual recovery tooling) never collide (§4.9, §6
// "<root>/.staging-<uuid>/").
func NewStagingRoot(root string) string {
	return path.Join(root, ".staging-"+uuid.NewString())
}

// promoteOp is one planned rename from staging to its final location.
type promoteOp struct {
	staging string
	final   string
}

// Promote executes the two-phase promotion of §4.9: every rewrite output
// first replaces its source file at the same full path, then every new file
// is renamed into its final Hive-partitioned location, then the staging
// directory is removed. If any rename after the first has begun fails, the
// engine keeps promoting the rest (rename is not assumed atomic across an
// object store) and returns a PartialPromotionError describing exactly
// which renames completed and which are still pending; it never removes a
// target file before its replacement exists, since Rename itself performs
// the replace-in-place.
func Promote(ctx context.Context, fs fsx.FS, stagingRoot string, rewrites, newFiles []promoteOp) error {
	ops := make([]promoteOp, 0, len(rewrites)+len(newFiles))
	ops = append(ops, rewrites...)
	ops = append(ops, newFiles...)

	var completed, pending []string
	var firstErr error
	for _, op := range ops {
		if err := fs.Rename(ctx, op.staging, op.final); err != nil {
			if firstErr == nil {
				firstErr = fmt.Errorf("rename %s -> %s: %w", op.staging, op.final, err)
			}
			pending = append(pending, op.final)
			continue
		}
		completed = append(completed, op.final)
	}

	if firstErr != nil {
		return &PartialPromotionError{Completed: completed, Pending: pending, Err: firstErr}
	}

	if err := fs.RemoveTree(ctx, stagingRoot); err != nil {
		return &FilesystemError{Op: "remove_tree", Path: stagingRoot, Err: err}
	}
	return nil
}

// CleanupStaging removes the entire staging tree; used when the merge fails
// before any promotion rename has begun.
func CleanupStaging(ctx context.Context, fs fsx.FS, stagingRoot string) error {
	return fs.RemoveTree(ctx, stagingRoot)
}
