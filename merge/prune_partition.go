package merge

import (
	"fmt"
	"strings"
)

// PrunePartitions eliminates target files whose Hive partition tuple cannot
// match any row in the source batch (§4.3, "Partition Pruner"). A file is
// only eliminated when every declared partition column is present in its
// own partition directory; files missing one (an unpartitioned legacy
// layout, or a partial migration) are kept, since the pruner must never
// discard a file it cannot be certain about.
func PrunePartitions(files []FileDescriptor, source Batch) []FileDescriptor {
	cols := source.PartitionColumns
	if len(cols) == 0 {
		return files
	}

	sourceTuples := make(map[string]struct{})
	idx := source.PartitionColumnIndexes()
	colNames := make([]string, len(idx))
	for i, fieldIdx := range idx {
		colNames[i] = source.Schema.Fields[fieldIdx].Name
	}
	for _, row := range source.Rows {
		values := make([]string, len(idx))
		for i, fieldIdx := range idx {
			values[i] = valueToPartitionString(source.Schema.Fields[fieldIdx].Type, row[fieldIdx])
		}
		sourceTuples[partitionTupleKey(colNames, values)] = struct{}{}
	}

	var out []FileDescriptor
	for _, fd := range files {
		values := make([]string, len(cols))
		complete := true
		for i, c := range cols {
			v, ok := fd.Partition[c]
			if !ok {
				complete = false
				break
			}
			values[i] = v
		}
		if !complete {
			out = append(out, fd)
			continue
		}
		if _, hit := sourceTuples[partitionTupleKey(cols, values)]; hit {
			out = append(out, fd)
		}
	}
	return out
}

func partitionTupleKey(cols, values []string) string {
	var b strings.Builder
	for i, c := range cols {
		if i > 0 {
			b.WriteByte('\x1f')
		}
		fmt.Fprintf(&b, "%s=%s", c, values[i])
	}
	return b.String()
}

// valueToPartitionString renders a typed Value the same way it would appear
// as a Hive partition directory segment.
func valueToPartitionString(t LogicalType, v Value) string {
	if v == nil {
		return ""
	}
	switch t {
	case TypeString:
		return v.(string)
	case TypeInt64:
		return fmt.Sprintf("%d", v.(int64))
	case TypeBool:
		return fmt.Sprintf("%t", v.(bool))
	case TypeFloat64:
		return fmt.Sprintf("%v", v.(float64))
	case TypeDecimal:
		return decimalValue(v).String()
	case TypeTimestamp:
		return timestampValue(v).Format("2006-01-02")
	default:
		return fmt.Sprintf("%v", v)
	}
}
