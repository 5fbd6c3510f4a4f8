package inventory

import (
	"fmt"
	"reflect"
)

// Merge deep-merges b into a, in place, and returns a. Where both trees
// define the same key with the same (matching) scalar type, a wins;
// nested maps are merged recursively instead of being replaced outright.
// A mismatched type for the same key is a programmer error in a caller
// that merged two unrelated documents, and panics rather than silently
// picking one side.
func Merge(a, b map[string]interface{}) map[string]interface{} {
	if a == nil {
		return b
	}
	if b == nil {
		return a
	}
	for k, bv := range b {
		av, exists := a[k]
		if !exists {
			a[k] = bv
			continue
		}
		amap, aIsMap := av.(map[string]interface{})
		bmap, bIsMap := bv.(map[string]interface{})
		switch {
		case aIsMap && bIsMap:
			a[k] = Merge(amap, bmap)
		case aIsMap != bIsMap:
			panic(fmt.Sprintf("inventory: merge type mismatch at key %q", k))
		default:
			// both scalars (or slices): a keeps priority, matching the
			// "primary wins on conflict" rule.
			if reflect.TypeOf(av) != reflect.TypeOf(bv) {
				panic(fmt.Sprintf("inventory: merge type mismatch at key %q", k))
			}
		}
	}
	return a
}
