// Package graph defines the client contract for the external bi-temporal
// fact-extraction engine. Episodes are the unit of extraction: one per chunk,
// scoped to a document namespace so cleanup never touches other documents.
package graph

import (
	"context"
	"time"
)

// Entity is one extracted entity with its typed attributes.
type Entity struct {
	Name       string                 `json:"name"`
	Type       string                 `json:"type"`
	Attributes map[string]interface{} `json:"attributes,omitempty"`
}

// EpisodeInput submits one chunk for temporal fact extraction.
type EpisodeInput struct {
	// GroupID is the document-scoped namespace. It never spans documents.
	GroupID string `json:"group_id"`
	Name    string `json:"name"`
	Body    string `json:"body"`
	// ValidAt is the valid time for extracted facts: the document's reported
	// modified time, or the extraction time when the source reports none.
	// Transaction time is implicit (episode creation instant).
	ValidAt time.Time `json:"valid_at"`
	// EntityTypes is the bounded taxonomy the engine must not extend.
	EntityTypes []string `json:"entity_types"`
}

// EpisodeResult reports a created episode and what it extracted.
type EpisodeResult struct {
	EpisodeID string   `json:"episode_id"`
	Entities  []Entity `json:"entities"`
	EdgeCount int      `json:"edge_count"`
}

// Node is one graph node returned from a query.
type Node struct {
	ID      string                 `json:"id"`
	Name    string                 `json:"name"`
	Type    string                 `json:"type"`
	Summary string                 `json:"summary,omitempty"`
	Attrs   map[string]interface{} `json:"attributes,omitempty"`
}

// Edge is one temporal fact between two nodes.
type Edge struct {
	ID        string     `json:"id"`
	SourceID  string     `json:"source_id"`
	TargetID  string     `json:"target_id"`
	Fact      string     `json:"fact"`
	ValidAt   *time.Time `json:"valid_at,omitempty"`
	InvalidAt *time.Time `json:"invalid_at,omitempty"`
}

// QueryResult holds a capped subgraph for a downstream consumer.
type QueryResult struct {
	Nodes []Node `json:"nodes"`
	Edges []Edge `json:"edges"`
}

// Engine is the fact-extraction engine contract. Implementations are not safe
// for concurrent use of one handle across documents; callers issue episode
// calls for a single document sequentially.
type Engine interface {
	// AddEpisode submits one chunk as a temporal extraction unit.
	AddEpisode(ctx context.Context, in EpisodeInput) (EpisodeResult, error)

	// RemoveEpisode retracts a previously created episode and the facts it
	// introduced.
	RemoveEpisode(ctx context.Context, episodeID string) error

	// EntityReferences reports how many surviving references each named
	// entity still has anywhere in the graph.
	EntityReferences(ctx context.Context, names []string) (map[string]int, error)

	// Query returns a subgraph relevant to the question, capped in size.
	Query(ctx context.Context, query string, groupIDs []string) (QueryResult, error)
}
