package diff

import (
	"testing"

	"github.com/quarrylabs/quarry/internal/store"
)

func seg(id, hash string, pos int) store.Segment {
	return store.Segment{ID: id, ContentHash: hash, Position: pos}
}

func TestDiffFirstIngestionIsAllAdded(t *testing.T) {
	res := Diff(nil, []store.Segment{seg("a", "h1", 0), seg("b", "h2", 1)})
	added, removed, unchanged := res.Counts()
	if added != 2 || removed != 0 || unchanged != 0 {
		t.Fatalf("unexpected counts: %d/%d/%d", added, removed, unchanged)
	}
}

func TestDiffOneChangedOfThree(t *testing.T) {
	old := []store.Segment{seg("a", "h1", 0), seg("b", "h2", 1), seg("c", "h3", 2)}
	updated := []store.Segment{seg("a2", "h1", 0), seg("b2", "h2-edited", 1), seg("c2", "h3", 2)}

	res := Diff(old, updated)
	added, removed, unchanged := res.Counts()
	if added != 1 || removed != 1 || unchanged != 2 {
		t.Fatalf("editing one of three chunks should yield 1 added, 1 removed, 2 unchanged; got %d/%d/%d",
			added, removed, unchanged)
	}
	if res.Added[0].ContentHash != "h2-edited" {
		t.Fatalf("wrong added chunk: %s", res.Added[0].ContentHash)
	}
	if res.Removed[0].ContentHash != "h2" {
		t.Fatalf("wrong removed chunk: %s", res.Removed[0].ContentHash)
	}
}

func TestDiffPositionMoveIsUnchanged(t *testing.T) {
	old := []store.Segment{seg("a", "h1", 0), seg("b", "h2", 1)}
	reordered := []store.Segment{seg("b2", "h2", 0), seg("a2", "h1", 1)}

	res := Diff(old, reordered)
	added, removed, unchanged := res.Counts()
	if added != 0 || removed != 0 || unchanged != 2 {
		t.Fatalf("reordering identical content must be a no-op diff; got %d/%d/%d", added, removed, unchanged)
	}
}

func TestDiffDisjointSets(t *testing.T) {
	old := []store.Segment{seg("a", "h1", 0)}
	updated := []store.Segment{seg("b", "h9", 0)}

	res := Diff(old, updated)
	added, removed, unchanged := res.Counts()
	if added != 1 || removed != 1 || unchanged != 0 {
		t.Fatalf("unexpected counts: %d/%d/%d", added, removed, unchanged)
	}
}
