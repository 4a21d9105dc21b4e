package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"

	"github.com/lib/pq"
)

// ListSegments returns a document's current segment set ordered by position.
// The ingestion pipeline reads this before replacing segments so the diff
// engine can compare old and new chunk sets.
func (s *Store) ListSegments(ctx context.Context, documentID string) ([]Segment, error) {
	if documentID == "" {
		return nil, fmt.Errorf("document id required")
	}
	rows, err := s.DB.QueryContext(ctx, `
SELECT id, document_id, position, section_path, content, content_hash, embedding::text, metadata, created_at
FROM segments
WHERE document_id=$1
ORDER BY position ASC
`, documentID)
	if err != nil {
		return nil, fmt.Errorf("select segments: %w", err)
	}
	defer rows.Close()

	var out []Segment
	for rows.Next() {
		var (
			seg        Segment
			vecLiteral sql.NullString
			metaBytes  []byte
		)
		if err := rows.Scan(&seg.ID, &seg.DocumentID, &seg.Position, &seg.SectionPath,
			&seg.Content, &seg.ContentHash, &vecLiteral, &metaBytes, &seg.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan segment: %w", err)
		}
		if vecLiteral.Valid && vecLiteral.String != "" {
			vec, decErr := decodeVectorLiteral(vecLiteral.String)
			if decErr != nil {
				return nil, fmt.Errorf("decode segment embedding: %w", decErr)
			}
			seg.Embedding = vec
		}
		if len(metaBytes) > 0 {
			_ = json.Unmarshal(metaBytes, &seg.Metadata)
		}
		out = append(out, seg)
	}
	return out, rows.Err()
}

// UpdateSegmentMetadata overwrites one segment's metadata map. Graph sync uses
// this to persist the episode identifier and extraction counts, which are the
// only durable trace enabling future rollback or re-diffing.
func (s *Store) UpdateSegmentMetadata(ctx context.Context, segmentID string, metadata map[string]interface{}) error {
	if segmentID == "" {
		return fmt.Errorf("segment id required")
	}
	metaBytes, err := json.Marshal(metadata)
	if err != nil {
		return fmt.Errorf("marshal segment metadata: %w", err)
	}
	res, err := s.DB.ExecContext(ctx, `
UPDATE segments SET metadata=$2 WHERE id=$1
`, segmentID, metaBytes)
	if err != nil {
		return fmt.Errorf("update segment metadata: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("update segment metadata: segment %s not found", segmentID)
	}
	return nil
}

// GetSegmentResults hydrates search hits: it returns attribution-joined rows
// for the given segment ids. Missing ids are skipped silently, since a hit
// may reference a segment deleted by a concurrent re-ingestion.
func (s *Store) GetSegmentResults(ctx context.Context, segmentIDs []string) (map[string]SegmentSearchResult, error) {
	if len(segmentIDs) == 0 {
		return map[string]SegmentSearchResult{}, nil
	}
	rows, err := s.DB.QueryContext(ctx, `
SELECT s.id, s.document_id, d.source_type, d.source_id, d.title, s.section_path, s.content
FROM segments s
JOIN documents d ON d.id = s.document_id
WHERE s.id = ANY($1)
`, pq.Array(segmentIDs))
	if err != nil {
		return nil, fmt.Errorf("hydrate segments: %w", err)
	}
	defer rows.Close()

	out := make(map[string]SegmentSearchResult, len(segmentIDs))
	for rows.Next() {
		var res SegmentSearchResult
		if err := rows.Scan(&res.SegmentID, &res.DocumentID, &res.SourceType, &res.SourceID,
			&res.Title, &res.SectionPath, &res.Content); err != nil {
			return nil, fmt.Errorf("scan hydrated segment: %w", err)
		}
		out[res.SegmentID] = res
	}
	return out, rows.Err()
}

// SearchSegmentsByVector returns the closest segments for the supplied query
// vector, joined with document attribution. sourceType optionally restricts
// hits to one connector.
func (s *Store) SearchSegmentsByVector(ctx context.Context, vector []float32, topK int, sourceType string) ([]SegmentSearchResult, error) {
	if len(vector) == 0 {
		return nil, fmt.Errorf("vector must not be empty")
	}
	if topK <= 0 {
		topK = 10
	}
	vecLiteral, err := encodeVectorLiteral(vector)
	if err != nil {
		return nil, err
	}
	rows, err := s.DB.QueryContext(ctx, `
SELECT s.id, s.document_id, d.source_type, d.source_id, d.title, s.section_path, s.content, s.embedding <=> $1::vector AS distance
FROM segments s
JOIN documents d ON d.id = s.document_id
WHERE s.embedding IS NOT NULL AND ($2 = '' OR d.source_type = $2)
ORDER BY s.embedding <=> $1::vector
LIMIT $3
`, vecLiteral, sourceType, topK)
	if err != nil {
		return nil, fmt.Errorf("vector search segments: %w", err)
	}
	defer rows.Close()

	var results []SegmentSearchResult
	for rows.Next() {
		var res SegmentSearchResult
		if err := rows.Scan(&res.SegmentID, &res.DocumentID, &res.SourceType, &res.SourceID,
			&res.Title, &res.SectionPath, &res.Content, &res.Distance); err != nil {
			return nil, fmt.Errorf("scan vector hit: %w", err)
		}
		results = append(results, res)
	}
	return results, rows.Err()
}
