package graphsync

import (
	"context"
	"testing"

	"github.com/quarrylabs/quarry/internal/store"
)

func TestSweepRepairsUnsyncedDocuments(t *testing.T) {
	st := newFakeSyncStore()
	st.unsynced = []store.Document{
		{ID: "doc-1", Title: "A", GraphSyncRetries: 1},
		{ID: "doc-2", Title: "B", GraphSyncRetries: 0},
	}
	st.segments["doc-1"] = []store.Segment{{ID: "seg-1", Content: "a"}}
	st.segments["doc-2"] = []store.Segment{{ID: "seg-2", Content: "b"}}

	eng := &fakeEngine{}
	s, err := New(st, eng, []string{"Concept"}, quietLogger())
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	r, err := NewReconciler(s, st, 5)
	if err != nil {
		t.Fatalf("NewReconciler: %v", err)
	}

	res, err := r.Sweep(context.Background(), 0)
	if err != nil {
		t.Fatalf("Sweep: %v", err)
	}
	if len(res.Synced) != 2 || len(res.Failed) != 0 {
		t.Fatalf("expected both documents repaired, got %+v", res)
	}
	if len(st.synced) != 2 {
		t.Fatalf("sync flags not flipped: %v", st.synced)
	}
	if res.Remaining != 0 {
		t.Fatalf("expected no remaining, got %d", res.Remaining)
	}
}

func TestSweepIsolatesPerDocumentFailures(t *testing.T) {
	st := newFakeSyncStore()
	st.unsynced = []store.Document{
		{ID: "doc-1", Title: "A"},
		{ID: "doc-2", Title: "B"},
	}
	st.segments["doc-1"] = []store.Segment{{ID: "seg-1", Content: "a"}}
	st.segments["doc-2"] = []store.Segment{{ID: "seg-2", Content: "b"}}

	// First AddEpisode call fails, so doc-1 fails and doc-2 succeeds.
	eng := &fakeEngine{failAt: 1}
	s, err := New(st, eng, []string{"Concept"}, quietLogger())
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	r, err := NewReconciler(s, st, 5)
	if err != nil {
		t.Fatalf("NewReconciler: %v", err)
	}

	res, err := r.Sweep(context.Background(), 0)
	if err != nil {
		t.Fatalf("Sweep: %v", err)
	}
	if len(res.Failed) != 1 || res.Failed[0].DocID != "doc-1" {
		t.Fatalf("expected doc-1 in failures, got %+v", res.Failed)
	}
	if len(res.Synced) != 1 || res.Synced[0].DocID != "doc-2" {
		t.Fatalf("expected doc-2 repaired, got %+v", res.Synced)
	}
	if len(st.failed) != 1 || st.failed[0] != "doc-1" {
		t.Fatalf("retry counter not bumped for doc-1: %v", st.failed)
	}
}

func TestSweepSkipsSegmentsWithEpisodeTrace(t *testing.T) {
	st := newFakeSyncStore()
	st.unsynced = []store.Document{{ID: "doc-1", Title: "A"}}
	st.segments["doc-1"] = []store.Segment{
		{ID: "seg-1", Content: "a", Metadata: map[string]interface{}{store.MetaEpisodeID: "ep-old"}},
		{ID: "seg-2", Content: "b"},
	}

	eng := &fakeEngine{}
	s, err := New(st, eng, []string{"Concept"}, quietLogger())
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	r, err := NewReconciler(s, st, 5)
	if err != nil {
		t.Fatalf("NewReconciler: %v", err)
	}

	if _, err := r.Sweep(context.Background(), 0); err != nil {
		t.Fatalf("Sweep: %v", err)
	}
	if len(eng.added) != 1 {
		t.Fatalf("only the traceless segment should be re-extracted, got %d calls", len(eng.added))
	}
	if eng.added[0].Body != "b" {
		t.Fatalf("wrong segment re-extracted: %q", eng.added[0].Body)
	}
}

func TestSweepReextractsChunksClearedByRollback(t *testing.T) {
	st := newFakeSyncStore()
	st.unsynced = []store.Document{{ID: "doc-1", Title: "A"}}
	st.segments["doc-1"] = []store.Segment{
		{ID: "seg-1", Content: "a"},
		{ID: "seg-2", Content: "b"},
		{ID: "seg-3", Content: "c"},
	}

	// The third extraction fails, so the run rolls back after two chunks
	// already had episode traces persisted.
	eng := &fakeEngine{failAt: 3}
	s, err := New(st, eng, []string{"Concept"}, quietLogger())
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	r, err := NewReconciler(s, st, 5)
	if err != nil {
		t.Fatalf("NewReconciler: %v", err)
	}

	res, err := r.Sweep(context.Background(), 0)
	if err != nil {
		t.Fatalf("Sweep: %v", err)
	}
	if len(res.Failed) != 1 || res.Failed[0].DocID != "doc-1" {
		t.Fatalf("expected doc-1 to fail the first sweep, got %+v", res)
	}
	for _, id := range []string{"seg-1", "seg-2"} {
		if meta := st.metadata[id]; meta != nil {
			t.Fatalf("segment %s still carries a trace for a retracted episode: %+v", id, meta)
		}
	}

	// The next sweep must re-extract all three chunks, not just the one
	// whose extraction failed.
	eng.failAt = 0
	res, err = r.Sweep(context.Background(), 0)
	if err != nil {
		t.Fatalf("second Sweep: %v", err)
	}
	if len(res.Synced) != 1 || res.Synced[0].DocID != "doc-1" {
		t.Fatalf("expected doc-1 repaired, got %+v", res)
	}
	reextracted := map[string]bool{}
	for _, in := range eng.added {
		reextracted[in.Body] = true
	}
	for _, body := range []string{"a", "b", "c"} {
		if !reextracted[body] {
			t.Fatalf("chunk %q never re-extracted after rollback", body)
		}
	}
}

func TestStateOf(t *testing.T) {
	cases := []struct {
		doc  store.Document
		want State
	}{
		{store.Document{GraphSynced: true}, StateSynced},
		{store.Document{GraphSynced: false, GraphSyncRetries: 0}, StateUnsynced},
		{store.Document{GraphSynced: false, GraphSyncRetries: 4}, StateUnsynced},
		{store.Document{GraphSynced: false, GraphSyncRetries: 5}, StatePermanentlyFailed},
		{store.Document{GraphSynced: false, GraphSyncRetries: 9}, StatePermanentlyFailed},
	}
	for _, tc := range cases {
		if got := StateOf(tc.doc, 5); got != tc.want {
			t.Fatalf("StateOf(retries=%d, synced=%v) = %s, want %s",
				tc.doc.GraphSyncRetries, tc.doc.GraphSynced, got, tc.want)
		}
	}
}
