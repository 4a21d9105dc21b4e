package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/lib/pq"

	"github.com/quarrylabs/quarry/internal/core"
)

// Store wraps the authoritative Postgres database. Document and segment rows
// here are the single source of truth; the search index and graph store are
// derived projections.
type Store struct {
	DB *sql.DB
}

// DefaultEmbeddingDimensions indicates the expected length of semantic vectors stored in pgvector columns.
const DefaultEmbeddingDimensions = 1536

// Segment metadata keys written by graph synchronization.
const (
	MetaEpisodeID   = "episode_id"
	MetaEntityCount = "entity_count"
	MetaEdgeCount   = "edge_count"
	MetaEntities    = "entities"
)

// Document is the authoritative record for one source artifact.
type Document struct {
	ID               string
	SourceType       string
	SourceID         string
	Title            string
	ContentHash      string
	ModifiedAt       *time.Time
	GraphSynced      bool
	GraphSyncRetries int
	CreatedAt        time.Time
	UpdatedAt        time.Time
}

// Segment is one chunk of a parsed document, owned exclusively by its Document.
type Segment struct {
	ID          string
	DocumentID  string
	Position    int
	SectionPath string
	Content     string
	ContentHash string
	Embedding   []float32
	Metadata    map[string]interface{}
	CreatedAt   time.Time
}

// EpisodeID returns the graph episode identifier recorded in segment metadata,
// or "" when the segment was never extracted.
func (s Segment) EpisodeID() string {
	if s.Metadata == nil {
		return ""
	}
	if v, ok := s.Metadata[MetaEpisodeID].(string); ok {
		return v
	}
	return ""
}

// SegmentSearchResult is a vector search hit joined with document attribution.
type SegmentSearchResult struct {
	SegmentID   string
	DocumentID  string
	SourceType  string
	SourceID    string
	Title       string
	SectionPath string
	Content     string
	Distance    float64
}

// SyncLog is one append-only audit entry for a document.
type SyncLog struct {
	ID         int64
	DocumentID string
	Event      string
	Payload    map[string]interface{}
	CreatedAt  time.Time
}

// New wraps an existing database handle.
func New(db *sql.DB) *Store {
	return &Store{DB: db}
}

// NewWithDSN opens and pings a Postgres connection.
func NewWithDSN(ctx context.Context, dsn string) (*Store, error) {
	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, err
	}
	if err := db.PingContext(ctx); err != nil {
		return nil, fmt.Errorf("ping postgres: %w", err)
	}
	return &Store{DB: db}, nil
}

// mapConstraintErr converts unique-violation errors into core.ErrConflict so
// concurrent duplicate writes surface as a specific condition.
func mapConstraintErr(err error) error {
	if err == nil {
		return nil
	}
	var pqErr *pq.Error
	if errors.As(err, &pqErr) && pqErr.Code == "23505" {
		return fmt.Errorf("%w: %s", core.ErrConflict, pqErr.Constraint)
	}
	return err
}

func encodeVectorLiteral(vec []float32) (string, error) {
	if len(vec) == 0 {
		return "", fmt.Errorf("vector must not be empty")
	}
	var builder strings.Builder
	builder.WriteByte('[')
	for i, f := range vec {
		if i > 0 {
			builder.WriteByte(',')
		}
		builder.WriteString(strconv.FormatFloat(float64(f), 'f', -1, 32))
	}
	builder.WriteByte(']')
	return builder.String(), nil
}

func decodeVectorLiteral(lit string) ([]float32, error) {
	lit = strings.TrimSpace(lit)
	if lit == "" {
		return nil, fmt.Errorf("empty vector literal")
	}
	lit = strings.TrimPrefix(lit, "[")
	lit = strings.TrimSuffix(lit, "]")
	if lit == "" {
		return nil, nil
	}
	parts := strings.Split(lit, ",")
	out := make([]float32, 0, len(parts))
	for _, p := range parts {
		f, err := strconv.ParseFloat(strings.TrimSpace(p), 32)
		if err != nil {
			return nil, fmt.Errorf("parse vector component: %w", err)
		}
		out = append(out, float32(f))
	}
	return out, nil
}

func nullableTime(t *time.Time) interface{} {
	if t == nil {
		return nil
	}
	return *t
}
