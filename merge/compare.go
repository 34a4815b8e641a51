package merge

import "strings"

// compareValues orders two non-nil Values of the same logical type, used by
// the metadata analyzer to fold min/max across pages and row groups, and by
// the statistics pruner to test containment in a [min, max] range.
func compareValues(t LogicalType, a, b Value) int {
	switch t {
	case TypeBool:
		av, bv := a.(bool), b.(bool)
		if av == bv {
			return 0
		}
		if !av && bv {
			return -1
		}
		return 1
	case TypeInt64:
		av, bv := a.(int64), b.(int64)
		switch {
		case av < bv:
			return -1
		case av > bv:
			return 1
		default:
			return 0
		}
	case TypeFloat64:
		av, bv := a.(float64), b.(float64)
		switch {
		case av < bv:
			return -1
		case av > bv:
			return 1
		default:
			return 0
		}
	case TypeDecimal:
		return decimalValue(a).Cmp(decimalValue(b))
	case TypeString:
		return strings.Compare(a.(string), b.(string))
	case TypeTimestamp:
		at, bt := timestampValue(a), timestampValue(b)
		switch {
		case at.Before(bt):
			return -1
		case at.After(bt):
			return 1
		default:
			return 0
		}
	default:
		return 0
	}
}
