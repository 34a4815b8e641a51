package merge

// PruneByStatistics eliminates target files whose footer statistics prove no
// source row's key could possibly be present (§4.4, "Statistics Pruner"). A
// composite key only matches a file if every key column's value falls
// inside that file's [min, max] range, so a file is eliminated as soon as
// one key column's source range and file range are provably disjoint. A
// file missing statistics for a key column is never eliminated on that
// column's account; it must go on to the confirmation scanner.
func PruneByStatistics(files []FileDescriptor, source Batch) []FileDescriptor {
	idx, err := source.KeyColumnIndexes()
	if err != nil || len(idx) == 0 {
		return files
	}

	type bound struct {
		min, max Value
		typ      LogicalType
	}
	bounds := make(map[string]bound, len(idx))
	for _, fieldIdx := range idx {
		f := source.Schema.Fields[fieldIdx]
		b := bound{typ: f.Type}
		for _, row := range source.Rows {
			v := row[fieldIdx]
			if v == nil {
				continue
			}
			if b.min == nil || compareValues(f.Type, v, b.min) < 0 {
				b.min = v
			}
			if b.max == nil || compareValues(f.Type, v, b.max) > 0 {
				b.max = v
			}
		}
		bounds[f.Name] = b
	}

	var out []FileDescriptor
	for _, fd := range files {
		eliminated := false
		for name, b := range bounds {
			stats, ok := fd.Stats[name]
			if !ok || !stats.HasStats || stats.Min == nil || stats.Max == nil || b.min == nil {
				continue
			}
			disjoint := compareValues(b.typ, b.max, stats.Min) < 0 || compareValues(b.typ, b.min, stats.Max) > 0
			if disjoint {
				eliminated = true
				break
			}
		}
		if !eliminated {
			out = append(out, fd)
		}
	}
	return out
}
