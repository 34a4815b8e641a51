package merge

import (
	"context"

	"github.com/whatnick/parquetlake/fsx"
	"github.com/whatnick/parquetlake/memprobe"
)

// state is the orchestrator's linear state machine (§4.11, "Merge
// Orchestrator"): Planning -> Validating -> Rewriting -> Promoting -> Done,
// with Failed reachable from any non-terminal state. Entering Failed from
// Rewriting removes the staging tree; a failure during Promoting leaves it
// in place, and failures before Rewriting have no staging tree yet.
type state int

const (
	statePlanning state = iota
	stateValidating
	stateRewriting
	statePromoting
	stateDone
	stateFailed
)

// orchestrator carries the state enum plus the collaborators and options
// shared across one Merge call's C1-C10 drive.
type orchestrator struct {
	state       state
	fs          fsx.FS
	probe       memprobe.Probe
	opts        Options
	stagingRoot string
}

// Merge drives C1 through C10 against one target dataset and produces a
// Result on success (§4.11). fs and probe are the external collaborators
// (§6); probe may be nil to disable memory-pressure adaptation.
func Merge(ctx context.Context, fs fsx.FS, probe memprobe.Probe, source Batch, targetRoot string, strategy Strategy, keyColumns, partitionColumns []string, opts Options) (Result, error) {
	o := &orchestrator{state: statePlanning, fs: fs, probe: probe, opts: opts.WithDefaults()}
	return o.run(ctx, source, targetRoot, strategy, keyColumns, partitionColumns)
}

func (o *orchestrator) run(ctx context.Context, source Batch, targetRoot string, strategy Strategy, keyColumns, partitionColumns []string) (Result, error) {
	source.KeyColumns = keyColumns
	source.PartitionColumns = partitionColumns
	opts := o.opts

	if !strategy.valid() {
		return Result{}, &InvalidArgumentError{Reason: "unknown strategy " + string(strategy)}
	}
	if (strategy == Update || strategy == Upsert) && len(keyColumns) == 0 {
		return Result{}, &InvalidArgumentError{Reason: ErrEmptyKeyColumns.Error()}
	}

	keyIdx, err := source.KeyColumnIndexes()
	if err != nil {
		o.state = stateFailed
		return Result{}, err
	}
	for rowNum, row := range source.Rows {
		for _, idx := range keyIdx {
			if row[idx] == nil {
				o.state = stateFailed
				return Result{}, &NullKeyError{Column: source.Schema.Fields[idx].Name, Row: rowNum}
			}
		}
	}

	if source.RowCount() == 0 {
		o.state = stateDone
		return Result{Strategy: strategy}, nil
	}

	o.state = stateValidating

	paths, err := EnumerateFiles(ctx, o.fs, targetRoot)
	if err != nil {
		o.state = stateFailed
		return Result{}, err
	}
	descriptors, err := AnalyzeFiles(ctx, o.fs, targetRoot, paths, source.Schema, opts.AnalyzerWorkers)
	if err != nil {
		o.state = stateFailed
		return Result{}, err
	}

	var targetCountBefore int64
	for _, fd := range descriptors {
		if fd.RowCount > 0 {
			targetCountBefore += fd.RowCount
		}
	}

	// All dataset files share one logical schema (§3), so checking the
	// first file's own footer schema against the source is sufficient to
	// catch field-name or type drift before any rewrite begins (§4.10,
	// SchemaError). An empty target has nothing to compare against.
	if len(paths) > 0 {
		targetSchema, err := InferSchema(ctx, o.fs, paths[0])
		if err != nil {
			o.state = stateFailed
			return Result{}, err
		}
		if err := ValidateSchemaCompatible(source.Schema, targetSchema, partitionColumns); err != nil {
			o.state = stateFailed
			return Result{}, err
		}
	}

	// Partition pruning (C3) is deliberately not chained ahead of the
	// confirmation scan: it excludes a file using the source's own declared
	// partition value, which is exactly the value a partition-move violation
	// gets wrong. Chaining it here would make the file holding a moved key's
	// true (old) partition unreachable, so PartitionMoveError could never
	// fire. Statistics pruning (C4) reasons from the file's actual column
	// range instead of a caller-supplied tuple, so it stays safe to chain.
	candidates := PruneByStatistics(descriptors, source)

	sourceKeys := SourceKeySet(source.Schema, keyIdx, source.Rows)
	affected, preserved, matchedKeys, keyPartitions, err := ConfirmAffected(ctx, o.fs, source.Schema, candidates, sourceKeys, keyColumns, opts)
	if err != nil {
		o.state = stateFailed
		return Result{}, err
	}

	// Files eliminated by pruning never reach confirmation; conservative
	// pruning guarantees they hold no source key, so they are preserved by
	// construction.
	preserved = append(preserved, subtractByPath(descriptors, candidates)...)

	if err := Validate(source, strategy, keyPartitions); err != nil {
		o.state = stateFailed
		return Result{}, err
	}

	dedup := DedupSourceRows(source.Schema, keyIdx, source.Rows)
	plan := BuildPlan(strategy, source.Schema, keyIdx, dedup, affected, preserved, matchedKeys)

	o.state = stateRewriting
	o.stagingRoot = NewStagingRoot(targetRoot)

	totalUnits := plan.AffectedRowCount + int64(len(plan.ToEmitNew))
	var processed int64

	if opts.CancelToken != nil && opts.CancelToken.Cancelled() {
		return o.cancelled(ctx)
	}

	rewriteResults, updated, tracker, err := RewriteAffectedFiles(ctx, o.fs, o.probe, targetRoot, o.stagingRoot, source.Schema, keyIdx, strategy, plan.Affected, plan.ToRewrite, totalUnits, &processed, opts)
	if err != nil {
		return o.fail(ctx, err)
	}

	partitionIdx := resolvePartitionIdx(source.Schema, partitionColumns)
	newFileResults, err := EmitNewFiles(ctx, o.fs, o.stagingRoot, source.Schema, keyIdx, partitionColumns, partitionIdx, plan.ToEmitNew, totalUnits, &processed, opts)
	if err != nil {
		return o.fail(ctx, err)
	}

	// Neither RewriteAffectedFiles nor EmitNewFiles re-checks the token
	// after their last unit of work lands in staging, so a cancellation
	// set right after the last file (rewritten or new) is written, but
	// before promotion begins, would otherwise go unnoticed and the merge
	// would proceed to Promote and succeed (§8 scenario 6).
	if opts.CancelToken != nil && opts.CancelToken.Cancelled() {
		return o.cancelled(ctx)
	}

	o.state = statePromoting

	var rewriteOps, newOps []promoteOp
	for _, fr := range rewriteResults {
		rewriteOps = append(rewriteOps, promoteOp{staging: stagingPathFor(targetRoot, o.stagingRoot, fr.Path), final: fr.Path})
	}
	for _, fr := range newFileResults {
		newOps = append(newOps, promoteOp{staging: joinRoot(o.stagingRoot, fr.Path), final: joinRoot(targetRoot, fr.Path)})
	}

	if err := Promote(ctx, o.fs, o.stagingRoot, rewriteOps, newOps); err != nil {
		// PartialPromotionError is non-cleanable by the engine (§7) — the
		// state still moves to Failed, but no further staging cleanup is
		// attempted since some targets may already reference it.
		o.state = stateFailed
		return Result{}, err
	}

	o.state = stateDone
	return o.buildResult(strategy, source, targetCountBefore, plan, rewriteResults, newFileResults, updated, targetRoot, tracker), nil
}

func (o *orchestrator) fail(ctx context.Context, err error) (Result, error) {
	o.state = stateFailed
	_ = CleanupStaging(ctx, o.fs, o.stagingRoot)
	return Result{}, err
}

func (o *orchestrator) cancelled(ctx context.Context) (Result, error) {
	o.state = stateFailed
	_ = CleanupStaging(ctx, o.fs, o.stagingRoot)
	return Result{}, ErrCancelled
}

func (o *orchestrator) buildResult(strategy Strategy, source Batch, targetCountBefore int64, plan Plan, rewriteResults, newFileResults []FileResult, updated int64, targetRoot string, tracker KeyTracker) Result {
	files := make([]FileResult, 0, len(rewriteResults)+len(newFileResults)+len(plan.Preserved))
	files = append(files, rewriteResults...)

	var inserted int64
	for _, fr := range newFileResults {
		fr.Path = joinRoot(targetRoot, fr.Path)
		files = append(files, fr)
		inserted += fr.RowCount
	}
	for _, fd := range plan.Preserved {
		files = append(files, FileResult{Path: fd.Path, RowCount: fd.RowCount, Operation: OpPreserved, ByteSize: fd.ByteSize})
	}

	return Result{
		Strategy:            strategy,
		SourceCount:         int64(len(source.Rows)),
		TargetCountBefore:   targetCountBefore,
		TargetCountAfter:    targetCountBefore + inserted,
		Inserted:            inserted,
		Updated:             updated,
		Deleted:             0,
		Files:               files,
		KeyTrackerTier:      tracker.Tier(),
		KeyTrackerEvictions: tracker.Evictions(),
	}
}

func subtractByPath(all, subset []FileDescriptor) []FileDescriptor {
	keep := make(map[string]struct{}, len(subset))
	for _, fd := range subset {
		keep[fd.Path] = struct{}{}
	}
	var out []FileDescriptor
	for _, fd := range all {
		if _, ok := keep[fd.Path]; !ok {
			out = append(out, fd)
		}
	}
	return out
}

func resolvePartitionIdx(schema Schema, partitionColumns []string) []int {
	idx := make([]int, len(partitionColumns))
	for i, c := range partitionColumns {
		idx[i] = schema.IndexOf(c)
	}
	return idx
}

func joinRoot(root, rel string) string {
	if rel == "" {
		return root
	}
	return root + "/" + rel
}
