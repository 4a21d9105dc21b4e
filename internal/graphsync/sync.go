// Package graphsync drives per-chunk temporal fact extraction against the
// external graph engine and keeps the relational store's sync flags honest.
package graphsync

import (
	"context"
	"fmt"
	"log"
	"time"

	"github.com/quarrylabs/quarry/internal/diff"
	"github.com/quarrylabs/quarry/internal/graph"
	"github.com/quarrylabs/quarry/internal/store"
)

// StoreAPI captures the store methods required by graph synchronization.
type StoreAPI interface {
	ListSegments(ctx context.Context, documentID string) ([]store.Segment, error)
	UpdateSegmentMetadata(ctx context.Context, segmentID string, metadata map[string]interface{}) error
	MarkGraphSynced(ctx context.Context, documentID string) error
	MarkGraphSyncFailed(ctx context.Context, documentID string) (int, error)
	ListGraphUnsynced(ctx context.Context, ceiling, limit int) ([]store.Document, error)
	CountGraphUnsynced(ctx context.Context, ceiling int) (int, error)
	AppendSyncLog(ctx context.Context, documentID, event string, payload map[string]interface{}) error
}

// Result reports one sync run's outcome.
type Result struct {
	EpisodesCreated   int
	EpisodesRetracted int
	EntitiesExtracted int
	// Entities aggregates every entity extracted during this run, used by the
	// diff summary builder.
	Entities []graph.Entity
}

// Synchronizer creates and retracts episodes for one document at a time.
// Episode calls against the engine are issued sequentially: the engine's
// per-call session is not safe for concurrent use of a shared handle.
type Synchronizer struct {
	store       StoreAPI
	engine      graph.Engine
	entityTypes []string
	logger      *log.Logger
}

// New builds a Synchronizer. entityTypes is the bounded taxonomy passed to
// every extraction call; the engine must not invent types outside it.
func New(st StoreAPI, engine graph.Engine, entityTypes []string, logger *log.Logger) (*Synchronizer, error) {
	if st == nil {
		return nil, fmt.Errorf("graphsync requires a store")
	}
	if engine == nil {
		return nil, fmt.Errorf("graphsync requires a graph engine")
	}
	if len(entityTypes) == 0 {
		return nil, fmt.Errorf("graphsync requires a bounded entity type taxonomy")
	}
	if logger == nil {
		logger = log.New(log.Writer(), "[GRAPHSYNC] ", log.LstdFlags)
	}
	return &Synchronizer{store: st, engine: engine, entityTypes: entityTypes, logger: logger}, nil
}

// GroupID returns the document-scoped namespace identifier. Every episode for
// a document lives under it, so cleanup never touches other documents.
func GroupID(documentID string) string {
	return "doc:" + documentID
}

// Sync retracts episodes for removed chunks and extracts episodes for added
// chunks. Changed chunks arrive as a removed/added pair, which realizes the
// retract-then-recreate policy. If any step fails, every episode created
// during this run is retracted best-effort before the error returns; episodes
// from prior successful runs are untouched.
func (s *Synchronizer) Sync(ctx context.Context, doc store.Document, d diff.Result, title string, validTime time.Time) (Result, error) {
	var (
		res     Result
		created []string
		traced  []tracedSegment
	)

	for _, seg := range d.Removed {
		episodeID := seg.EpisodeID()
		if episodeID == "" {
			continue
		}
		if err := s.engine.RemoveEpisode(ctx, episodeID); err != nil {
			// Individual retraction failures never abort the sync; the
			// episode becomes orphaned in the graph but the document stays
			// consistent.
			s.logger.Printf("warn: retract episode %s for document %s failed: %v", episodeID, doc.ID, err)
			continue
		}
		res.EpisodesRetracted++
	}

	groupID := GroupID(doc.ID)
	for _, seg := range d.Added {
		episode, err := s.engine.AddEpisode(ctx, graph.EpisodeInput{
			GroupID:     groupID,
			Name:        episodeName(title, seg),
			Body:        seg.Content,
			ValidAt:     validTime,
			EntityTypes: s.entityTypes,
		})
		if err != nil {
			s.rollback(ctx, doc.ID, created, traced)
			return Result{}, fmt.Errorf("extract chunk %d: %w", seg.Position, err)
		}
		created = append(created, episode.EpisodeID)

		metadata := segmentSyncMetadata(seg.Metadata, episode)
		if err := s.store.UpdateSegmentMetadata(ctx, seg.ID, metadata); err != nil {
			s.rollback(ctx, doc.ID, created, traced)
			return Result{}, fmt.Errorf("persist episode trace for chunk %d: %w", seg.Position, err)
		}
		traced = append(traced, tracedSegment{segmentID: seg.ID, prior: seg.Metadata})

		res.EpisodesCreated++
		res.EntitiesExtracted += len(episode.Entities)
		res.Entities = append(res.Entities, episode.Entities...)
	}
	return res, nil
}

// tracedSegment remembers a segment's metadata as it was before this run
// wrote an episode trace into it.
type tracedSegment struct {
	segmentID string
	prior     map[string]interface{}
}

// rollback retracts every episode created during the current run and restores
// the prior metadata of every segment whose trace was persisted, so the
// reconciliation sweep sees those chunks as pending rather than extracted.
// It is best-effort, not atomic: the engine has no multi-episode transaction
// primitive, so individual failures are logged and swallowed.
func (s *Synchronizer) rollback(ctx context.Context, documentID string, created []string, traced []tracedSegment) {
	for _, episodeID := range created {
		if err := s.engine.RemoveEpisode(ctx, episodeID); err != nil {
			s.logger.Printf("warn: rollback episode %s for document %s failed: %v", episodeID, documentID, err)
		}
	}
	for _, t := range traced {
		if err := s.store.UpdateSegmentMetadata(ctx, t.segmentID, t.prior); err != nil {
			s.logger.Printf("warn: clear episode trace on segment %s for document %s failed: %v", t.segmentID, documentID, err)
		}
	}
	if len(created) > 0 {
		s.logger.Printf("rolled back %d episode(s) for document %s", len(created), documentID)
	}
}

func episodeName(title string, seg store.Segment) string {
	name := title
	if seg.SectionPath != "" {
		name += " / " + seg.SectionPath
	}
	return fmt.Sprintf("%s #%d", name, seg.Position)
}

func segmentSyncMetadata(existing map[string]interface{}, episode graph.EpisodeResult) map[string]interface{} {
	metadata := make(map[string]interface{}, len(existing)+4)
	for k, v := range existing {
		metadata[k] = v
	}
	metadata[store.MetaEpisodeID] = episode.EpisodeID
	metadata[store.MetaEntityCount] = len(episode.Entities)
	metadata[store.MetaEdgeCount] = episode.EdgeCount
	names := make([]string, 0, len(episode.Entities))
	for _, e := range episode.Entities {
		names = append(names, e.Name)
	}
	metadata[store.MetaEntities] = names
	return metadata
}
