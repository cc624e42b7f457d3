// Package idgen generates lexicographically sortable identifiers.
package idgen

import "github.com/oklog/ulid/v2"

// SortableID returns a new ULID. IDs generated later sort after IDs
// generated earlier, which keeps subscriber registries and log output in
// creation order.
func SortableID() string {
	return ulid.Make().String()
}
