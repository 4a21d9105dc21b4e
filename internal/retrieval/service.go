// Package retrieval fuses lexical and vector candidate retrieval into one
// ranked result list, with optional caching and reranking. It is a pure read
// path: it never touches the ingestion write path except through the
// cache-invalidation signal.
package retrieval

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"strings"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/quarrylabs/quarry/config"
	"github.com/quarrylabs/quarry/internal/cache"
	"github.com/quarrylabs/quarry/internal/core"
	"github.com/quarrylabs/quarry/internal/provider"
	"github.com/quarrylabs/quarry/internal/searchindex"
	"github.com/quarrylabs/quarry/internal/store"
)

// rrfK is the reciprocal-rank-fusion constant.
const rrfK = 60

// SearchResult is a read-only projection constructed fresh per query.
type SearchResult struct {
	SegmentID   string  `json:"segment_id"`
	DocumentID  string  `json:"document_id"`
	SourceType  string  `json:"source_type"`
	SourceID    string  `json:"source_id"`
	Title       string  `json:"title"`
	SectionPath string  `json:"section_path"`
	Content     string  `json:"content"`
	Score       float64 `json:"score"`
}

// Filters constrains a search.
type Filters struct {
	SourceType string `json:"source_type,omitempty"`
}

// VectorSearcher is the vector candidate retrieval dependency; *store.Store
// satisfies it.
type VectorSearcher interface {
	SearchSegmentsByVector(ctx context.Context, vector []float32, topK int, sourceType string) ([]store.SegmentSearchResult, error)
	GetSegmentResults(ctx context.Context, segmentIDs []string) (map[string]store.SegmentSearchResult, error)
}

// LexicalSearcher is the term-frequency candidate retrieval dependency;
// *searchindex.Index satisfies it.
type LexicalSearcher interface {
	Search(query string, limit int) ([]searchindex.Hit, error)
}

var (
	searchesTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "quarry_searches_total",
		Help: "Hybrid searches served.",
	})
	cacheHitsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "quarry_search_cache_hits_total",
		Help: "Searches answered from the result cache.",
	})
)

// Service is the hybrid retrieval entry point. Cache and reranker are
// optional collaborators; their absence degrades gracefully to fused-only
// results with no caching.
type Service struct {
	index    LexicalSearcher
	segments VectorSearcher
	embedder provider.Embedder
	cache    cache.Cache
	reranker provider.Reranker
	cfg      config.RetrievalConfig
	logger   *log.Logger
}

// New builds a retrieval service. cache and reranker may be nil.
func New(index LexicalSearcher, segments VectorSearcher, embedder provider.Embedder,
	resultCache cache.Cache, reranker provider.Reranker, cfg config.RetrievalConfig, logger *log.Logger) (*Service, error) {
	if index == nil || segments == nil || embedder == nil {
		return nil, fmt.Errorf("retrieval requires index, segment store, and embedder")
	}
	if cfg.CandidateCap <= 0 {
		cfg.CandidateCap = 3
	}
	if logger == nil {
		logger = log.New(log.Writer(), "[RETRIEVAL] ", log.LstdFlags)
	}
	return &Service{
		index:    index,
		segments: segments,
		embedder: embedder,
		cache:    resultCache,
		reranker: reranker,
		cfg:      cfg,
		logger:   logger,
	}, nil
}

// Search runs cache-accelerated hybrid retrieval and returns topK results in
// deterministic order.
func (s *Service) Search(ctx context.Context, query string, topK int, filters Filters) ([]SearchResult, error) {
	query = strings.TrimSpace(query)
	if query == "" {
		return nil, core.Validationf("query must not be empty")
	}
	if topK <= 0 {
		topK = s.cfg.TopK
	}
	if topK <= 0 {
		topK = 10
	}

	key := CacheKey(query, topK, filters)
	if s.cache != nil {
		if payload, ok, err := s.cache.Get(ctx, key); err != nil {
			s.logger.Printf("warn: cache get failed, continuing uncached: %v", err)
		} else if ok {
			var cached []SearchResult
			if err := json.Unmarshal(payload, &cached); err == nil {
				cacheHitsTotal.Inc()
				searchesTotal.Inc()
				return cached, nil
			}
			s.logger.Printf("warn: discarding undecodable cache entry %s", key)
		}
	}

	candidates := topK * s.cfg.CandidateCap
	lexical, lexErr := s.lexicalCandidates(ctx, query, candidates)
	vector, vecErr := s.vectorCandidates(ctx, query, candidates, filters)
	if lexErr != nil && vecErr != nil {
		return nil, fmt.Errorf("hybrid search: lexical=%v, vector=%w", lexErr, vecErr)
	}
	if lexErr != nil {
		s.logger.Printf("warn: lexical search failed, using vector results only: %v", lexErr)
	}
	if vecErr != nil {
		s.logger.Printf("warn: vector search failed, using lexical results only: %v", vecErr)
	}

	fused := fuseRRF(lexical, vector)
	if len(fused) > topK {
		fused = fused[:topK]
	}

	if s.reranker != nil && s.cfg.RerankTopN > 0 {
		fused = s.rerank(ctx, query, fused)
	}

	// Counts are reported after reranking so they reflect the final list.
	searchesTotal.Inc()
	s.logger.Printf("search %q: %d lexical, %d vector, %d returned", query, len(lexical), len(vector), len(fused))

	if s.cache != nil {
		if payload, err := json.Marshal(fused); err == nil {
			docIDs := contributingDocuments(fused)
			if err := s.cache.Set(ctx, key, payload, s.cfg.CacheTTL, docIDs); err != nil {
				s.logger.Printf("warn: cache set failed: %v", err)
			}
		}
	}
	return fused, nil
}

func (s *Service) lexicalCandidates(ctx context.Context, query string, limit int) ([]SearchResult, error) {
	hits, err := s.index.Search(query, limit)
	if err != nil {
		return nil, err
	}
	if len(hits) == 0 {
		return nil, nil
	}
	ids := make([]string, 0, len(hits))
	for _, h := range hits {
		ids = append(ids, h.SegmentID)
	}
	rows, err := s.segments.GetSegmentResults(ctx, ids)
	if err != nil {
		return nil, err
	}
	out := make([]SearchResult, 0, len(hits))
	for _, h := range hits {
		row, ok := rows[h.SegmentID]
		if !ok {
			// deleted by a concurrent re-ingestion; the index lags the store
			continue
		}
		out = append(out, resultFromRow(row, h.Score))
	}
	return out, nil
}

func (s *Service) vectorCandidates(ctx context.Context, query string, limit int, filters Filters) ([]SearchResult, error) {
	vectors, err := s.embedder.CreateEmbedding(ctx, []string{query})
	if err != nil {
		return nil, err
	}
	if len(vectors) == 0 {
		return nil, fmt.Errorf("embedder returned no vectors")
	}
	rows, err := s.segments.SearchSegmentsByVector(ctx, vectors[0], limit, filters.SourceType)
	if err != nil {
		return nil, err
	}
	out := make([]SearchResult, 0, len(rows))
	for _, row := range rows {
		out = append(out, resultFromRow(row, 1.0-row.Distance))
	}
	return out, nil
}

// rerank re-scores the top-N fused candidates against the raw query and
// re-sorts them; candidates past N keep their fused order below the reranked
// block. A reranker failure degrades to the fused order.
func (s *Service) rerank(ctx context.Context, query string, fused []SearchResult) []SearchResult {
	n := s.cfg.RerankTopN
	if n > len(fused) {
		n = len(fused)
	}
	passages := make([]string, n)
	for i := 0; i < n; i++ {
		passages[i] = fused[i].Content
	}
	scores, err := s.reranker.Rerank(ctx, query, passages)
	if err != nil {
		s.logger.Printf("warn: rerank failed, keeping fused order: %v", err)
		return fused
	}
	if len(scores) != n {
		s.logger.Printf("warn: reranker returned %d scores for %d passages, keeping fused order", len(scores), n)
		return fused
	}
	head := make([]SearchResult, n)
	copy(head, fused[:n])
	for i := range head {
		head[i].Score = scores[i]
	}
	sortStableByScore(head)
	return append(head, fused[n:]...)
}

func resultFromRow(row store.SegmentSearchResult, score float64) SearchResult {
	return SearchResult{
		SegmentID:   row.SegmentID,
		DocumentID:  row.DocumentID,
		SourceType:  row.SourceType,
		SourceID:    row.SourceID,
		Title:       row.Title,
		SectionPath: row.SectionPath,
		Content:     row.Content,
		Score:       score,
	}
}

func contributingDocuments(results []SearchResult) []string {
	seen := map[string]struct{}{}
	var out []string
	for _, r := range results {
		if _, ok := seen[r.DocumentID]; ok {
			continue
		}
		seen[r.DocumentID] = struct{}{}
		out = append(out, r.DocumentID)
	}
	return out
}
