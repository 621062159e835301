package store

import (
	"fmt"
	"sort"
)

// SortOrder is the direction used to compare sort values within a view.
type SortOrder string

const (
	SortAsc  SortOrder = "asc"
	SortDesc SortOrder = "desc"
)

// SortConfig binds a sorted view to a field path and direction. It is set at
// most once per view; spec.md's first-subscribed-frame-wins rule is
// enforced by Adapter.SetViewConfig, not by this type.
type SortConfig struct {
	Field []string
	Order SortOrder
}

// sortValueAt walks value along the dotted field path, returning nil if any
// segment is missing or the value isn't a traversable map.
func sortValueAt(value any, path []string) any {
	cur := value
	for _, segment := range path {
		m, ok := cur.(map[string]any)
		if !ok {
			return nil
		}
		cur = m[segment]
	}
	return cur
}

// compareValues implements spec.md §4.2's comparator: numbers by numeric
// difference, strings lexicographically, booleans false < true, nil before
// any concrete value, mixed types falling back to string conversion.
func compareValues(a, b any) int {
	if a == nil && b == nil {
		return 0
	}
	if a == nil {
		return -1
	}
	if b == nil {
		return 1
	}

	af, aIsNum := asFloat(a)
	bf, bIsNum := asFloat(b)
	if aIsNum && bIsNum {
		switch {
		case af < bf:
			return -1
		case af > bf:
			return 1
		default:
			return 0
		}
	}

	as, aIsStr := a.(string)
	bs, bIsStr := b.(string)
	if aIsStr && bIsStr {
		return stringCompare(as, bs)
	}

	ab, aIsBool := a.(bool)
	bb, bIsBool := b.(bool)
	if aIsBool && bIsBool {
		switch {
		case ab == bb:
			return 0
		case !ab:
			return -1
		default:
			return 1
		}
	}

	// Mixed types: fall back to string conversion.
	return stringCompare(fmt.Sprint(a), fmt.Sprint(b))
}

func stringCompare(a, b string) int {
	switch {
	case a < b:
		return -1
	case a > b:
		return 1
	default:
		return 0
	}
}

func asFloat(v any) (float64, bool) {
	switch n := v.(type) {
	case float64:
		return n, true
	case float32:
		return float64(n), true
	case int:
		return float64(n), true
	case int32:
		return float64(n), true
	case int64:
		return float64(n), true
	case string:
		// Numeric strings do not count as numbers for comparison purposes;
		// only native numeric types take the numeric path.
		return 0, false
	default:
		return 0, false
	}
}

// sortRank is the (sortValue, key) pair a sorted view orders by. lessRank
// folds the configured direction in, so one binary search in insertSorted
// serves both ascending and descending views.
type sortRank struct {
	value any
	key   string
}

func lessRank(a, b sortRank, order SortOrder) bool {
	c := compareValues(a.value, b.value)
	if c == 0 {
		return stringCompare(a.key, b.key) < 0
	}
	if order == SortDesc {
		return c > 0
	}
	return c < 0
}

// insertSorted inserts key into keys (already ordered per order/ranks) at
// its binary-search position, mutating and returning the slice.
func insertSorted(keys []string, ranks map[string]sortRank, key string, order SortOrder) []string {
	r := ranks[key]
	idx := sort.Search(len(keys), func(i int) bool {
		return !lessRank(ranks[keys[i]], r, order)
	})
	keys = append(keys, "")
	copy(keys[idx+1:], keys[idx:])
	keys[idx] = key
	return keys
}

func removeFromSlice(keys []string, key string) []string {
	for i, k := range keys {
		if k == key {
			return append(keys[:i], keys[i+1:]...)
		}
	}
	return keys
}
