package merge

// Plan is the rewrite plan C6 produces: the file-set partition plus the
// source row partition the streaming merger (C7) consumes.
type Plan struct {
	Affected         []FileDescriptor
	Preserved        []FileDescriptor
	AffectedRowCount int64

	// ToRewrite holds deduplicated source rows whose key is already present
	// in the target (in one of the Affected files); update and upsert
	// stream these into the matching rewritten file.
	ToRewrite []Row

	// ToEmitNew holds deduplicated source rows whose key is not present in
	// the target anywhere; insert and upsert write these into brand new
	// files, never appended into a rewritten file (§9, Open Question 1).
	ToEmitNew []Row

	Discarded int
}

// DedupSourceRows collapses rows sharing a key to the last-seen row for
// that key (last-write-wins), preserving the order of each key's first
// appearance so output ordering stays deterministic for a stable input.
func DedupSourceRows(schema Schema, keyIdx []int, rows []Row) []Row {
	latest := make(map[Key128]Row, len(rows))
	var order []Key128
	for _, row := range rows {
		k := EncodeKey(schema, keyIdx, row)
		if _, seen := latest[k]; !seen {
			order = append(order, k)
		}
		latest[k] = row
	}
	out := make([]Row, len(order))
	for i, k := range order {
		out[i] = latest[k]
	}
	return out
}

// BuildPlan partitions a deduplicated source against matchedKeys (the
// source keys the confirmation scanner found present in some affected
// file) per strategy's routing rules (§4.6, "Rewrite Planner").
func BuildPlan(strategy Strategy, schema Schema, keyIdx []int, dedupedRows []Row, affected, preserved []FileDescriptor, matchedKeys map[Key128]struct{}) Plan {
	p := Plan{Affected: affected, Preserved: preserved}
	for _, fd := range affected {
		if fd.RowCount > 0 {
			p.AffectedRowCount += fd.RowCount
		}
	}

	for _, row := range dedupedRows {
		k := EncodeKey(schema, keyIdx, row)
		_, inTarget := matchedKeys[k]

		switch strategy {
		case Update:
			if inTarget {
				p.ToRewrite = append(p.ToRewrite, row)
			} else {
				p.Discarded++
			}
		case Insert:
			if inTarget {
				p.Discarded++
			} else {
				p.ToEmitNew = append(p.ToEmitNew, row)
			}
		case Upsert:
			if inTarget {
				p.ToRewrite = append(p.ToRewrite, row)
			} else {
				p.ToEmitNew = append(p.ToEmitNew, row)
			}
		}
	}
	return p
}
