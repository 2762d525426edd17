// Package merge folds processing-metadata fragments into a master document.
package merge

import "github.com/c360studio/madcsync/jsontree"

// Into merges incoming into original and returns original.
//
// For every key of incoming:
//   - a key missing from original is inserted as is;
//   - two objects are merged recursively;
//   - two arrays are concatenated, incoming items appended after the
//     existing ones without de-duplication;
//   - anything else is overwritten by the incoming value.
//
// Keys only present in original are left untouched. Values are inserted by
// reference, not copied. The operation mutates original, is order dependent
// and is not idempotent when arrays are involved: merging the same fragment
// twice appends its array items twice.
func Into(original, incoming *jsontree.Object) *jsontree.Object {
	for key, value := range incoming.All() {
		current, ok := original.Get(key)
		if !ok {
			original.Set(key, value)
			continue
		}

		switch cur := current.(type) {
		case *jsontree.Object:
			if in, ok := value.(*jsontree.Object); ok {
				Into(cur, in)
				continue
			}
		case *jsontree.Array:
			if in, ok := value.(*jsontree.Array); ok {
				cur.Append(in.Items...)
				continue
			}
		}

		original.Set(key, value)
	}
	return original
}
