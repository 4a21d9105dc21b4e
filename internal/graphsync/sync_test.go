package graphsync

import (
	"context"
	"fmt"
	"io"
	"log"
	"testing"
	"time"

	"github.com/quarrylabs/quarry/internal/diff"
	"github.com/quarrylabs/quarry/internal/graph"
	"github.com/quarrylabs/quarry/internal/store"
)

type fakeEngine struct {
	added    []graph.EpisodeInput
	removed  []string
	failAt   int // fail the Nth AddEpisode call (1-based), 0 disables
	seq      int
	entities []graph.Entity
}

func (f *fakeEngine) AddEpisode(ctx context.Context, in graph.EpisodeInput) (graph.EpisodeResult, error) {
	f.seq++
	if f.failAt > 0 && f.seq == f.failAt {
		return graph.EpisodeResult{}, fmt.Errorf("extraction backend down")
	}
	f.added = append(f.added, in)
	return graph.EpisodeResult{
		EpisodeID: fmt.Sprintf("ep-%d", f.seq),
		Entities:  f.entities,
		EdgeCount: len(f.entities),
	}, nil
}

func (f *fakeEngine) RemoveEpisode(ctx context.Context, episodeID string) error {
	f.removed = append(f.removed, episodeID)
	return nil
}

func (f *fakeEngine) EntityReferences(ctx context.Context, names []string) (map[string]int, error) {
	return map[string]int{}, nil
}

func (f *fakeEngine) Query(ctx context.Context, query string, groupIDs []string) (graph.QueryResult, error) {
	return graph.QueryResult{}, nil
}

type fakeSyncStore struct {
	segments map[string][]store.Segment
	metadata map[string]map[string]interface{}
	synced   []string
	failed   []string
	logs     []string
	unsynced []store.Document
}

func newFakeSyncStore() *fakeSyncStore {
	return &fakeSyncStore{
		segments: map[string][]store.Segment{},
		metadata: map[string]map[string]interface{}{},
	}
}

func (f *fakeSyncStore) ListSegments(ctx context.Context, documentID string) ([]store.Segment, error) {
	segs := f.segments[documentID]
	out := make([]store.Segment, len(segs))
	for i, seg := range segs {
		if meta, ok := f.metadata[seg.ID]; ok {
			seg.Metadata = meta
		}
		out[i] = seg
	}
	return out, nil
}

func (f *fakeSyncStore) UpdateSegmentMetadata(ctx context.Context, segmentID string, metadata map[string]interface{}) error {
	f.metadata[segmentID] = metadata
	return nil
}

func (f *fakeSyncStore) MarkGraphSynced(ctx context.Context, documentID string) error {
	f.synced = append(f.synced, documentID)
	return nil
}

func (f *fakeSyncStore) MarkGraphSyncFailed(ctx context.Context, documentID string) (int, error) {
	f.failed = append(f.failed, documentID)
	return len(f.failed), nil
}

func (f *fakeSyncStore) ListGraphUnsynced(ctx context.Context, ceiling, limit int) ([]store.Document, error) {
	return f.unsynced, nil
}

func (f *fakeSyncStore) CountGraphUnsynced(ctx context.Context, ceiling int) (int, error) {
	return len(f.unsynced) - len(f.synced), nil
}

func (f *fakeSyncStore) AppendSyncLog(ctx context.Context, documentID, event string, payload map[string]interface{}) error {
	f.logs = append(f.logs, event)
	return nil
}

func quietLogger() *log.Logger {
	return log.New(io.Discard, "", 0)
}

func TestSyncExtractsAddedAndRecordsTrace(t *testing.T) {
	st := newFakeSyncStore()
	eng := &fakeEngine{entities: []graph.Entity{{Name: "Postgres", Type: "Technology"}}}
	s, err := New(st, eng, []string{"Technology"}, quietLogger())
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	doc := store.Document{ID: "doc-1", Title: "Notes"}
	d := diff.Result{Added: []store.Segment{
		{ID: "seg-1", Position: 0, SectionPath: "Intro", Content: "Postgres stores facts."},
		{ID: "seg-2", Position: 1, Content: "More facts."},
	}}

	res, err := s.Sync(context.Background(), doc, d, doc.Title, time.Now())
	if err != nil {
		t.Fatalf("Sync: %v", err)
	}
	if res.EpisodesCreated != 2 {
		t.Fatalf("expected 2 episodes, got %d", res.EpisodesCreated)
	}
	if res.EntitiesExtracted != 2 {
		t.Fatalf("expected 2 extracted entities, got %d", res.EntitiesExtracted)
	}
	for _, in := range eng.added {
		if in.GroupID != "doc:doc-1" {
			t.Fatalf("episode outside document namespace: %s", in.GroupID)
		}
	}
	meta := st.metadata["seg-1"]
	if meta == nil || meta[store.MetaEpisodeID] != "ep-1" {
		t.Fatalf("segment metadata missing episode trace: %+v", meta)
	}
}

func TestSyncRollsBackCreatedEpisodesOnFailure(t *testing.T) {
	st := newFakeSyncStore()
	eng := &fakeEngine{failAt: 3}
	s, err := New(st, eng, []string{"Concept"}, quietLogger())
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	d := diff.Result{Added: []store.Segment{
		{ID: "seg-1", Position: 0, Content: "a"},
		{ID: "seg-2", Position: 1, Content: "b"},
		{ID: "seg-3", Position: 2, Content: "c"},
	}}

	_, err = s.Sync(context.Background(), store.Document{ID: "doc-1"}, d, "T", time.Now())
	if err == nil {
		t.Fatalf("expected sync failure")
	}
	if len(eng.removed) != 2 {
		t.Fatalf("rollback must retract exactly the episodes created this run, got %v", eng.removed)
	}
	for _, id := range eng.removed {
		if id != "ep-1" && id != "ep-2" {
			t.Fatalf("rolled back unexpected episode %s", id)
		}
	}
	for _, id := range []string{"seg-1", "seg-2"} {
		if meta := st.metadata[id]; meta != nil {
			t.Fatalf("rollback left an episode trace on %s: %+v", id, meta)
		}
	}
}

func TestSyncRetractsRemovedChunksBestEffort(t *testing.T) {
	st := newFakeSyncStore()
	eng := &fakeEngine{}
	s, err := New(st, eng, []string{"Concept"}, quietLogger())
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	d := diff.Result{Removed: []store.Segment{
		{ID: "seg-1", Metadata: map[string]interface{}{store.MetaEpisodeID: "ep-old"}},
		{ID: "seg-2"}, // never extracted, nothing to retract
	}}

	res, err := s.Sync(context.Background(), store.Document{ID: "doc-1"}, d, "T", time.Now())
	if err != nil {
		t.Fatalf("Sync: %v", err)
	}
	if res.EpisodesRetracted != 1 {
		t.Fatalf("expected 1 retraction, got %d", res.EpisodesRetracted)
	}
	if len(eng.removed) != 1 || eng.removed[0] != "ep-old" {
		t.Fatalf("unexpected retractions: %v", eng.removed)
	}
}
