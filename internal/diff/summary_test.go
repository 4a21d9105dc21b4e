package diff

import (
	"context"
	"fmt"
	"testing"

	"github.com/quarrylabs/quarry/internal/graph"
	"github.com/quarrylabs/quarry/internal/store"
)

type fakeRefs struct {
	counts map[string]int
	err    error
	asked  []string
}

func (f *fakeRefs) EntityReferences(ctx context.Context, names []string) (map[string]int, error) {
	f.asked = append(f.asked, names...)
	return f.counts, f.err
}

func TestBuildSummaryFieldChanges(t *testing.T) {
	old := []graph.Entity{{Name: "Quarry", Type: "Project", Attributes: map[string]interface{}{"version": "1.0", "license": "MIT"}}}
	updated := []graph.Entity{{Name: "Quarry", Type: "Project", Attributes: map[string]interface{}{"version": "2.0", "license": "MIT"}}}

	summary, err := BuildSummary(context.Background(), &fakeRefs{}, Result{}, old, updated)
	if err != nil {
		t.Fatalf("BuildSummary: %v", err)
	}
	if len(summary.FieldChanges) != 1 {
		t.Fatalf("expected one field change, got %+v", summary.FieldChanges)
	}
	fc := summary.FieldChanges[0]
	if fc.Entity != "Quarry" || fc.Field != "version" {
		t.Fatalf("unexpected change: %+v", fc)
	}
	if fmt.Sprint(fc.OldValue) != "1.0" || fmt.Sprint(fc.NewValue) != "2.0" {
		t.Fatalf("unexpected values: %+v", fc)
	}
}

func TestBuildSummaryClassifiesRemovedEntities(t *testing.T) {
	old := []graph.Entity{
		{Name: "SharedEntity"},
		{Name: "OrphanEntity"},
		{Name: "Survivor"},
	}
	updated := []graph.Entity{{Name: "Survivor"}}
	refs := &fakeRefs{counts: map[string]int{"SharedEntity": 2, "OrphanEntity": 0}}

	summary, err := BuildSummary(context.Background(), refs, Result{}, old, updated)
	if err != nil {
		t.Fatalf("BuildSummary: %v", err)
	}
	if len(summary.RemovedEntities) != 2 {
		t.Fatalf("expected 2 removed entities, got %+v", summary.RemovedEntities)
	}
	byName := map[string]bool{}
	for _, re := range summary.RemovedEntities {
		byName[re.Name] = re.FromGraph
	}
	if byName["SharedEntity"] {
		t.Fatalf("entity with surviving references must not be removed from graph")
	}
	if !byName["OrphanEntity"] {
		t.Fatalf("entity with zero references must be flagged removed from graph")
	}
}

func TestBuildSummaryCountsChunks(t *testing.T) {
	res := Result{
		Added:     []store.Segment{{ID: "a"}},
		Removed:   []store.Segment{{ID: "b"}, {ID: "c"}},
		Unchanged: []store.Segment{{ID: "d"}, {ID: "e"}, {ID: "f"}},
	}
	summary, err := BuildSummary(context.Background(), nil, res, nil, nil)
	if err != nil {
		t.Fatalf("BuildSummary: %v", err)
	}
	if summary.ChunksAdded != 1 || summary.ChunksRemoved != 2 || summary.ChunksUnchanged != 3 {
		t.Fatalf("unexpected counts: %+v", summary)
	}
}

func TestBuildSummaryPropagatesReferenceErrors(t *testing.T) {
	refs := &fakeRefs{err: fmt.Errorf("graph down")}
	old := []graph.Entity{{Name: "Gone"}}
	if _, err := BuildSummary(context.Background(), refs, Result{}, old, nil); err == nil {
		t.Fatalf("expected error from failing reference counter")
	}
}
