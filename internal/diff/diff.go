// Package diff classifies a document's new segment set against its old one so
// re-ingestion only re-extracts chunks whose content actually changed.
package diff

import (
	"github.com/quarrylabs/quarry/internal/store"
)

// Result partitions segments by content-hash set membership. It is ephemeral:
// computed once per re-ingestion and never persisted.
type Result struct {
	Added     []store.Segment
	Removed   []store.Segment
	Unchanged []store.Segment
}

// Counts returns the partition sizes (added, removed, unchanged).
func (r Result) Counts() (int, int, int) {
	return len(r.Added), len(r.Removed), len(r.Unchanged)
}

// Diff compares two ordered segment sets by content hash. A chunk present in
// both sets is unchanged; present only in the new set is added; present only
// in the old set is removed. Hashes cover content only: a byte-identical
// chunk whose position or section path moved is still unchanged. That is a
// deliberate policy, since re-extraction cost depends on content, not layout.
func Diff(oldSegments, newSegments []store.Segment) Result {
	oldByHash := make(map[string]struct{}, len(oldSegments))
	for _, seg := range oldSegments {
		oldByHash[seg.ContentHash] = struct{}{}
	}
	newByHash := make(map[string]struct{}, len(newSegments))
	for _, seg := range newSegments {
		newByHash[seg.ContentHash] = struct{}{}
	}

	var res Result
	for _, seg := range newSegments {
		if _, ok := oldByHash[seg.ContentHash]; ok {
			res.Unchanged = append(res.Unchanged, seg)
		} else {
			res.Added = append(res.Added, seg)
		}
	}
	for _, seg := range oldSegments {
		if _, ok := newByHash[seg.ContentHash]; !ok {
			res.Removed = append(res.Removed, seg)
		}
	}
	return res
}
