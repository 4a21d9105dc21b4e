// Package ingest drives a document through fetch, parse, chunk, embed,
// persist, index, and graph synchronization. The relational commit is the
// authoritative checkpoint; the search index and graph store are best-effort
// downstream projections.
package ingest

import (
	"context"
	"fmt"
	"log"
	"time"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/quarrylabs/quarry/internal/cache"
	"github.com/quarrylabs/quarry/internal/core"
	"github.com/quarrylabs/quarry/internal/diff"
	"github.com/quarrylabs/quarry/internal/graph"
	"github.com/quarrylabs/quarry/internal/graphsync"
	"github.com/quarrylabs/quarry/internal/parse"
	"github.com/quarrylabs/quarry/internal/provider"
	"github.com/quarrylabs/quarry/internal/searchindex"
	"github.com/quarrylabs/quarry/internal/source"
	"github.com/quarrylabs/quarry/internal/store"
)

// StoreAPI captures the store methods required by the pipeline.
type StoreAPI interface {
	GetDocumentBySource(ctx context.Context, sourceType, sourceID string) (store.Document, bool, error)
	ReplaceDocumentSegments(ctx context.Context, doc store.Document, segments []store.Segment) (store.Document, error)
	ListSegments(ctx context.Context, documentID string) ([]store.Segment, error)
	MarkGraphSynced(ctx context.Context, documentID string) error
	MarkGraphSyncFailed(ctx context.Context, documentID string) (int, error)
	AppendSyncLog(ctx context.Context, documentID, event string, payload map[string]interface{}) error
}

// Indexer is the search index dependency; *searchindex.Index satisfies it.
type Indexer interface {
	IndexSegments(docs []searchindex.Doc) error
	DeleteSegments(segmentIDs []string) error
}

// GraphSyncer is the graph synchronization dependency; *graphsync.Synchronizer
// satisfies it.
type GraphSyncer interface {
	Sync(ctx context.Context, doc store.Document, d diff.Result, title string, validTime time.Time) (graphsync.Result, error)
}

// Request identifies one document to ingest.
type Request struct {
	SourceType string `json:"source_type"`
	SourceID   string `json:"source_id"`
	SkipGraph  bool   `json:"skip_graph,omitempty"`
}

// Result reports one document's ingestion outcome. In batch calls Error
// carries the per-document failure instead of aborting siblings.
type Result struct {
	SourceType      string        `json:"source_type"`
	SourceID        string        `json:"source_id"`
	DocumentID      string        `json:"document_id,omitempty"`
	Skipped         bool          `json:"skipped"`
	SegmentsWritten int           `json:"segments_written"`
	GraphSynced     bool          `json:"graph_synced"`
	DiffSummary     *diff.Summary `json:"diff_summary,omitempty"`
	Error           string        `json:"error,omitempty"`
}

// Map converts the result to a generic payload for task records.
func (r Result) Map() map[string]interface{} {
	out := map[string]interface{}{
		"source_type":      r.SourceType,
		"source_id":        r.SourceID,
		"document_id":      r.DocumentID,
		"skipped":          r.Skipped,
		"segments_written": r.SegmentsWritten,
		"graph_synced":     r.GraphSynced,
	}
	if r.DiffSummary != nil {
		out["diff_summary"] = r.DiffSummary.Map()
	}
	if r.Error != "" {
		out["error"] = r.Error
	}
	return out
}

var (
	ingestsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "quarry_ingests_total",
		Help: "Ingestion calls by outcome.",
	}, []string{"outcome"})
	graphSyncFailures = promauto.NewCounter(prometheus.CounterOpts{
		Name: "quarry_graph_sync_failures_total",
		Help: "Graph synchronization failures contained by the pipeline.",
	})
)

// Pipeline orchestrates ingestion. The graph syncer, reference counter, and
// cache are optional; their absence narrows the pipeline without failing it.
type Pipeline struct {
	store      StoreAPI
	index      Indexer
	graphSync  GraphSyncer
	refs       diff.ReferenceCounter
	connectors map[string]source.Connector
	parser     parse.Parser
	embedder   provider.Embedder
	cache      cache.Cache
	batchSize  int
	logger     *log.Logger
}

// New builds a Pipeline.
func New(st StoreAPI, index Indexer, graphSync GraphSyncer, refs diff.ReferenceCounter,
	connectors []source.Connector, parser parse.Parser, embedder provider.Embedder,
	resultCache cache.Cache, embedBatchSize int, logger *log.Logger) (*Pipeline, error) {
	if st == nil || index == nil || parser == nil || embedder == nil {
		return nil, fmt.Errorf("pipeline requires store, index, parser, and embedder")
	}
	if len(connectors) == 0 {
		return nil, fmt.Errorf("pipeline requires at least one source connector")
	}
	byType := make(map[string]source.Connector, len(connectors))
	for _, c := range connectors {
		byType[c.Type()] = c
	}
	if embedBatchSize <= 0 {
		embedBatchSize = 32
	}
	if logger == nil {
		logger = log.New(log.Writer(), "[INGEST] ", log.LstdFlags)
	}
	return &Pipeline{
		store:      st,
		index:      index,
		graphSync:  graphSync,
		refs:       refs,
		connectors: byType,
		parser:     parser,
		embedder:   embedder,
		cache:      resultCache,
		batchSize:  embedBatchSize,
		logger:     logger,
	}, nil
}

// Ingest runs the full pipeline for one document. A graph synchronization
// failure is contained: the relational and search-index writes stand, the
// document is flagged unsynced, and the call still succeeds.
func (p *Pipeline) Ingest(ctx context.Context, req Request) (Result, error) {
	result := Result{SourceType: req.SourceType, SourceID: req.SourceID}

	conn, ok := p.connectors[req.SourceType]
	if !ok {
		return result, core.Validationf("unknown source type %q", req.SourceType)
	}

	raw, err := conn.FetchDocument(ctx, req.SourceID)
	if err != nil {
		ingestsTotal.WithLabelValues("fetch_failed").Inc()
		return result, fmt.Errorf("fetch document: %w", err)
	}
	contentHash := conn.ContentHash(raw.Content)

	existing, found, err := p.store.GetDocumentBySource(ctx, req.SourceType, req.SourceID)
	if err != nil {
		return result, fmt.Errorf("lookup document: %w", err)
	}

	// Dedup fast path: identical bytes skip parsing, embedding, and
	// extraction entirely.
	if found && existing.ContentHash == contentHash {
		_ = p.store.AppendSyncLog(ctx, existing.ID, "skipped", map[string]interface{}{
			"content_hash": contentHash,
		})
		ingestsTotal.WithLabelValues("skipped").Inc()
		result.DocumentID = existing.ID
		result.Skipped = true
		result.GraphSynced = existing.GraphSynced
		return result, nil
	}

	title, chunks, err := p.parser.Parse(ctx, raw)
	if err != nil {
		ingestsTotal.WithLabelValues("parse_failed").Inc()
		return result, fmt.Errorf("parse document: %w", err)
	}
	if title == "" {
		title = raw.Title
	}

	embeddings, err := p.embedChunks(ctx, chunks)
	if err != nil {
		ingestsTotal.WithLabelValues("embed_failed").Inc()
		return result, err
	}

	// The current segment set must be read before replacement: it feeds the
	// diff and is deleted by the commit below.
	var oldSegments []store.Segment
	if found {
		oldSegments, err = p.store.ListSegments(ctx, existing.ID)
		if err != nil {
			return result, fmt.Errorf("list current segments: %w", err)
		}
	}

	newSegments := buildSegments(chunks, embeddings, oldSegments)

	doc := store.Document{
		SourceType:  req.SourceType,
		SourceID:    req.SourceID,
		Title:       title,
		ContentHash: contentHash,
		ModifiedAt:  raw.ModifiedAt,
	}
	doc, err = p.store.ReplaceDocumentSegments(ctx, doc, newSegments)
	if err != nil {
		ingestsTotal.WithLabelValues("commit_failed").Inc()
		return result, fmt.Errorf("commit document: %w", err)
	}
	result.DocumentID = doc.ID
	result.SegmentsWritten = len(newSegments)
	_ = p.store.AppendSyncLog(ctx, doc.ID, "committed", map[string]interface{}{
		"content_hash": contentHash,
		"fetch_bytes":  len(raw.Content),
		"segments":     len(newSegments),
	})

	p.refreshIndex(ctx, doc, oldSegments, newSegments)
	p.invalidateCache(ctx, doc.ID)

	chunkDiff := diff.Diff(oldSegments, newSegments)
	result.GraphSynced = p.syncGraph(ctx, doc, chunkDiff, title, raw.ModifiedAt, req.SkipGraph, found, &result)

	ingestsTotal.WithLabelValues("ok").Inc()
	return result, nil
}

// IngestBatch ingests many documents, isolating failures per document: one
// document's error lands in its own result and never aborts the batch.
func (p *Pipeline) IngestBatch(ctx context.Context, reqs []Request) []Result {
	results := make([]Result, 0, len(reqs))
	for _, req := range reqs {
		res, err := p.Ingest(ctx, req)
		if err != nil {
			res.Error = err.Error()
			p.logger.Printf("warn: ingest %s/%s failed: %v", req.SourceType, req.SourceID, err)
		}
		results = append(results, res)
	}
	return results
}

func (p *Pipeline) embedChunks(ctx context.Context, chunks []parse.Chunk) ([][]float32, error) {
	inputs := make([]string, len(chunks))
	for i, c := range chunks {
		inputs[i] = c.Content
	}
	vectors := make([][]float32, 0, len(inputs))
	for start := 0; start < len(inputs); start += p.batchSize {
		end := start + p.batchSize
		if end > len(inputs) {
			end = len(inputs)
		}
		batch := inputs[start:end]
		resp, err := p.embedder.CreateEmbedding(ctx, batch)
		if err != nil {
			return nil, fmt.Errorf("embed chunks: %w", err)
		}
		if len(resp) != len(batch) {
			return nil, fmt.Errorf("embed chunks: expected %d vectors, got %d", len(batch), len(resp))
		}
		vectors = append(vectors, resp...)
	}
	return vectors, nil
}

// buildSegments assembles the replacement segment set. Segments whose content
// hash survives from the old set carry their prior metadata forward, keeping
// the graph episode identifiers of unchanged chunks durable across the
// wholesale delete+recreate.
func buildSegments(chunks []parse.Chunk, embeddings [][]float32, oldSegments []store.Segment) []store.Segment {
	oldMetaByHash := make(map[string]map[string]interface{}, len(oldSegments))
	for _, seg := range oldSegments {
		if _, ok := oldMetaByHash[seg.ContentHash]; !ok && seg.Metadata != nil {
			oldMetaByHash[seg.ContentHash] = seg.Metadata
		}
	}
	out := make([]store.Segment, len(chunks))
	for i, c := range chunks {
		seg := store.Segment{
			ID:          uuid.NewString(),
			Position:    c.Position,
			SectionPath: c.SectionPath,
			Content:     c.Content,
			ContentHash: c.ContentHash,
		}
		if i < len(embeddings) {
			seg.Embedding = embeddings[i]
		}
		if meta, ok := oldMetaByHash[c.ContentHash]; ok {
			seg.Metadata = meta
		}
		out[i] = seg
	}
	return out
}

// refreshIndex deletes the document's old entries and bulk-indexes the new
// ones. The index is a recoverable projection, so failures are logged and
// never fail the call.
func (p *Pipeline) refreshIndex(ctx context.Context, doc store.Document, oldSegments, newSegments []store.Segment) {
	if len(oldSegments) > 0 {
		ids := make([]string, len(oldSegments))
		for i, seg := range oldSegments {
			ids[i] = seg.ID
		}
		if err := p.index.DeleteSegments(ids); err != nil {
			p.logger.Printf("warn: delete stale index entries for %s: %v", doc.ID, err)
		}
	}
	docs := make([]searchindex.Doc, len(newSegments))
	for i, seg := range newSegments {
		docs[i] = searchindex.Doc{
			SegmentID:   seg.ID,
			DocumentID:  doc.ID,
			SourceType:  doc.SourceType,
			SourceID:    doc.SourceID,
			Title:       doc.Title,
			SectionPath: seg.SectionPath,
			Content:     seg.Content,
		}
	}
	if err := p.index.IndexSegments(docs); err != nil {
		p.logger.Printf("warn: index document %s: %v", doc.ID, err)
		_ = p.store.AppendSyncLog(ctx, doc.ID, "index_failed", map[string]interface{}{
			"error": err.Error(),
		})
	}
}

func (p *Pipeline) invalidateCache(ctx context.Context, documentID string) {
	if p.cache == nil {
		return
	}
	if err := p.cache.InvalidateDocument(ctx, documentID); err != nil {
		p.logger.Printf("warn: invalidate cache for %s: %v", documentID, err)
	}
}

// syncGraph runs graph synchronization and contains any failure: the document
// is flagged unsynced with its retry counter bumped, and the ingestion call
// still succeeds. Returns the resulting graph_synced state.
func (p *Pipeline) syncGraph(ctx context.Context, doc store.Document, chunkDiff diff.Result,
	title string, modifiedAt *time.Time, skip, reingestion bool, result *Result) bool {
	if p.graphSync == nil || skip {
		return doc.GraphSynced
	}

	validTime := time.Now().UTC()
	if modifiedAt != nil {
		validTime = *modifiedAt
	}
	syncRes, err := p.graphSync.Sync(ctx, doc, chunkDiff, title, validTime)
	if err != nil {
		graphSyncFailures.Inc()
		retries, markErr := p.store.MarkGraphSyncFailed(ctx, doc.ID)
		if markErr != nil {
			p.logger.Printf("warn: mark graph sync failure for %s: %v", doc.ID, markErr)
		}
		_ = p.store.AppendSyncLog(ctx, doc.ID, "graph_sync_failed", map[string]interface{}{
			"error":   err.Error(),
			"retries": retries,
		})
		p.logger.Printf("warn: graph sync for %s failed (retry %d): %v", doc.ID, retries, err)
		if reingestion {
			result.DiffSummary = p.buildSummary(ctx, chunkDiff, chunkDiff.Unchanged, nil)
		}
		return false
	}

	if err := p.store.MarkGraphSynced(ctx, doc.ID); err != nil {
		p.logger.Printf("warn: mark graph synced for %s: %v", doc.ID, err)
	}
	if reingestion {
		result.DiffSummary = p.buildSummary(ctx, chunkDiff, chunkDiff.Unchanged, syncRes.Entities)
	}
	_ = p.store.AppendSyncLog(ctx, doc.ID, "graph_synced", map[string]interface{}{
		"episodes_created":   syncRes.EpisodesCreated,
		"episodes_retracted": syncRes.EpisodesRetracted,
		"entities_extracted": syncRes.EntitiesExtracted,
		"diff":               chunkDiffPayload(chunkDiff),
	})
	return true
}

// buildSummary assembles the structured diff for re-ingestions. Old entities
// come from removed and unchanged segments' durable metadata; new entities
// combine this run's extractions with those carried by unchanged chunks.
func (p *Pipeline) buildSummary(ctx context.Context, chunkDiff diff.Result,
	unchanged []store.Segment, extracted []graph.Entity) *diff.Summary {
	oldEntities := entitiesFromSegments(append(chunkDiff.Removed, chunkDiff.Unchanged...))
	newEntities := append(entitiesFromSegments(unchanged), extracted...)

	summary, err := diff.BuildSummary(ctx, p.refs, chunkDiff, oldEntities, newEntities)
	if err != nil {
		p.logger.Printf("warn: diff summary degraded to chunk counts: %v", err)
		added, removed, same := chunkDiff.Counts()
		summary = diff.Summary{ChunksAdded: added, ChunksRemoved: removed, ChunksUnchanged: same}
	}
	return &summary
}

func entitiesFromSegments(segments []store.Segment) []graph.Entity {
	var out []graph.Entity
	for _, seg := range segments {
		if seg.Metadata == nil {
			continue
		}
		names, ok := seg.Metadata[store.MetaEntities].([]interface{})
		if !ok {
			if strs, ok := seg.Metadata[store.MetaEntities].([]string); ok {
				for _, name := range strs {
					out = append(out, graph.Entity{Name: name})
				}
			}
			continue
		}
		for _, raw := range names {
			if name, ok := raw.(string); ok {
				out = append(out, graph.Entity{Name: name})
			}
		}
	}
	return out
}

func chunkDiffPayload(d diff.Result) map[string]interface{} {
	added, removed, unchanged := d.Counts()
	return map[string]interface{}{
		"added":     added,
		"removed":   removed,
		"unchanged": unchanged,
	}
}
