package retrieval

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log"
	"testing"

	"github.com/quarrylabs/quarry/config"
	"github.com/quarrylabs/quarry/internal/cache"
	"github.com/quarrylabs/quarry/internal/core"
	"github.com/quarrylabs/quarry/internal/searchindex"
	"github.com/quarrylabs/quarry/internal/store"
)

type fakeLexical struct {
	hits  []searchindex.Hit
	err   error
	calls int
}

func (f *fakeLexical) Search(query string, limit int) ([]searchindex.Hit, error) {
	f.calls++
	return f.hits, f.err
}

type fakeVector struct {
	rows  []store.SegmentSearchResult
	err   error
	calls int
}

func (f *fakeVector) SearchSegmentsByVector(ctx context.Context, vector []float32, topK int, sourceType string) ([]store.SegmentSearchResult, error) {
	f.calls++
	return f.rows, f.err
}

func (f *fakeVector) GetSegmentResults(ctx context.Context, segmentIDs []string) (map[string]store.SegmentSearchResult, error) {
	out := map[string]store.SegmentSearchResult{}
	for _, row := range f.rows {
		out[row.SegmentID] = row
	}
	return out, nil
}

type fakeEmbedder struct {
	err error
}

func (f *fakeEmbedder) CreateEmbedding(ctx context.Context, texts []string) ([][]float32, error) {
	if f.err != nil {
		return nil, f.err
	}
	out := make([][]float32, len(texts))
	for i := range texts {
		out[i] = []float32{0.1, 0.2, 0.3}
	}
	return out, nil
}

type fakeReranker struct {
	scores []float64
	err    error
}

func (f *fakeReranker) Rerank(ctx context.Context, query string, passages []string) ([]float64, error) {
	return f.scores, f.err
}

func row(segID, docID string) store.SegmentSearchResult {
	return store.SegmentSearchResult{
		SegmentID:  segID,
		DocumentID: docID,
		SourceType: "fs",
		Title:      "T",
		Content:    "content " + segID,
		Distance:   0.2,
	}
}

func newTestService(t *testing.T, lex *fakeLexical, vec *fakeVector, c cache.Cache) *Service {
	t.Helper()
	svc, err := New(lex, vec, &fakeEmbedder{}, c, nil,
		config.RetrievalConfig{TopK: 10, CandidateCap: 3}, log.New(io.Discard, "", 0))
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	return svc
}

func TestSearchEmptyQueryIsValidationError(t *testing.T) {
	svc := newTestService(t, &fakeLexical{}, &fakeVector{}, nil)
	if _, err := svc.Search(context.Background(), "   ", 5, Filters{}); !errors.Is(err, core.ErrValidation) {
		t.Fatalf("expected validation error, got %v", err)
	}
}

func TestSearchFusesBothCandidateLists(t *testing.T) {
	lex := &fakeLexical{hits: []searchindex.Hit{{SegmentID: "s1", Score: 2.0}, {SegmentID: "s2", Score: 1.0}}}
	vec := &fakeVector{rows: []store.SegmentSearchResult{row("s1", "d1"), row("s3", "d2")}}
	svc := newTestService(t, lex, vec, nil)

	out, err := svc.Search(context.Background(), "graph sync", 5, Filters{})
	if err != nil {
		t.Fatalf("Search: %v", err)
	}
	if len(out) != 3 {
		t.Fatalf("expected 3 results, got %d", len(out))
	}
	if out[0].SegmentID != "s1" {
		t.Fatalf("s1 appears in both lists and must rank first, got %s", out[0].SegmentID)
	}
}

func TestSearchDegradesWhenOneBackendFails(t *testing.T) {
	lex := &fakeLexical{err: fmt.Errorf("index corrupted")}
	vec := &fakeVector{rows: []store.SegmentSearchResult{row("s1", "d1")}}
	svc := newTestService(t, lex, vec, nil)

	out, err := svc.Search(context.Background(), "graph sync", 5, Filters{})
	if err != nil {
		t.Fatalf("one failing backend must degrade, not fail: %v", err)
	}
	if len(out) != 1 || out[0].SegmentID != "s1" {
		t.Fatalf("expected vector-only results, got %+v", out)
	}
}

func TestSearchFailsWhenBothBackendsFail(t *testing.T) {
	lex := &fakeLexical{err: fmt.Errorf("index corrupted")}
	vec := &fakeVector{err: fmt.Errorf("pg down")}
	svc := newTestService(t, lex, vec, nil)

	if _, err := svc.Search(context.Background(), "graph sync", 5, Filters{}); err == nil {
		t.Fatalf("expected error when both backends fail")
	}
}

func TestSearchUsesCacheOnRepeat(t *testing.T) {
	lex := &fakeLexical{hits: []searchindex.Hit{{SegmentID: "s1"}}}
	vec := &fakeVector{rows: []store.SegmentSearchResult{row("s1", "d1")}}
	c := cache.NewInMemory()
	svc := newTestService(t, lex, vec, c)

	ctx := context.Background()
	if _, err := svc.Search(ctx, "graph sync", 5, Filters{}); err != nil {
		t.Fatalf("first search: %v", err)
	}
	firstLex, firstVec := lex.calls, vec.calls

	out, err := svc.Search(ctx, "Graph  Sync", 5, Filters{})
	if err != nil {
		t.Fatalf("second search: %v", err)
	}
	if lex.calls != firstLex || vec.calls != firstVec {
		t.Fatalf("repeat search must be served from cache")
	}
	if len(out) != 1 || out[0].SegmentID != "s1" {
		t.Fatalf("unexpected cached results: %+v", out)
	}
}

func TestSearchKeepsFusedOrderOnShortRerankResponse(t *testing.T) {
	lex := &fakeLexical{hits: []searchindex.Hit{
		{SegmentID: "s1", Score: 3.0},
		{SegmentID: "s2", Score: 2.0},
		{SegmentID: "s3", Score: 1.0},
	}}
	vec := &fakeVector{rows: []store.SegmentSearchResult{row("s1", "d1"), row("s2", "d1"), row("s3", "d2")}}

	// Two passages get sent but only one score comes back.
	rr := &fakeReranker{scores: []float64{0.9}}
	svc, err := New(lex, vec, &fakeEmbedder{}, nil, rr,
		config.RetrievalConfig{TopK: 10, CandidateCap: 3, RerankTopN: 2}, log.New(io.Discard, "", 0))
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	out, err := svc.Search(context.Background(), "graph sync", 5, Filters{})
	if err != nil {
		t.Fatalf("Search: %v", err)
	}
	if len(out) != 3 {
		t.Fatalf("expected 3 results, got %d", len(out))
	}
	for i, want := range []string{"s1", "s2", "s3"} {
		if out[i].SegmentID != want {
			t.Fatalf("short rerank response must keep fused order, got %s at %d", out[i].SegmentID, i)
		}
	}
}

func TestSearchCacheInvalidatedByDocument(t *testing.T) {
	lex := &fakeLexical{hits: []searchindex.Hit{{SegmentID: "s1"}}}
	vec := &fakeVector{rows: []store.SegmentSearchResult{row("s1", "d1")}}
	c := cache.NewInMemory()
	svc := newTestService(t, lex, vec, c)

	ctx := context.Background()
	if _, err := svc.Search(ctx, "graph sync", 5, Filters{}); err != nil {
		t.Fatalf("first search: %v", err)
	}
	if err := c.InvalidateDocument(ctx, "d1"); err != nil {
		t.Fatalf("InvalidateDocument: %v", err)
	}
	before := vec.calls
	if _, err := svc.Search(ctx, "graph sync", 5, Filters{}); err != nil {
		t.Fatalf("search after invalidation: %v", err)
	}
	if vec.calls == before {
		t.Fatalf("invalidation must force a fresh search")
	}
}
