package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"

	"github.com/google/uuid"
)

// GetDocumentBySource fetches the document for a stable source identity.
func (s *Store) GetDocumentBySource(ctx context.Context, sourceType, sourceID string) (Document, bool, error) {
	if sourceType == "" || sourceID == "" {
		return Document{}, false, fmt.Errorf("source_type and source_id required")
	}
	row := s.DB.QueryRowContext(ctx, `
SELECT id, source_type, source_id, title, content_hash, modified_at, graph_synced, graph_sync_retries, created_at, updated_at
FROM documents
WHERE source_type=$1 AND source_id=$2
`, sourceType, sourceID)
	return scanDocument(row)
}

// GetDocument fetches a document by primary key.
func (s *Store) GetDocument(ctx context.Context, id string) (Document, bool, error) {
	if id == "" {
		return Document{}, false, fmt.Errorf("document id required")
	}
	row := s.DB.QueryRowContext(ctx, `
SELECT id, source_type, source_id, title, content_hash, modified_at, graph_synced, graph_sync_retries, created_at, updated_at
FROM documents
WHERE id=$1
`, id)
	return scanDocument(row)
}

func scanDocument(row *sql.Row) (Document, bool, error) {
	var (
		doc      Document
		modified sql.NullTime
	)
	err := row.Scan(&doc.ID, &doc.SourceType, &doc.SourceID, &doc.Title, &doc.ContentHash,
		&modified, &doc.GraphSynced, &doc.GraphSyncRetries, &doc.CreatedAt, &doc.UpdatedAt)
	if err == sql.ErrNoRows {
		return Document{}, false, nil
	}
	if err != nil {
		return Document{}, false, fmt.Errorf("select documents: %w", err)
	}
	if modified.Valid {
		t := modified.Time
		doc.ModifiedAt = &t
	}
	return doc, true, nil
}

// ReplaceDocumentSegments upserts the document row and replaces its segment
// set in a single transaction. This commit is the authoritative checkpoint:
// once it returns, the document is durably queryable regardless of what the
// search index or graph store do afterwards.
func (s *Store) ReplaceDocumentSegments(ctx context.Context, doc Document, segments []Segment) (_ Document, err error) {
	if doc.SourceType == "" || doc.SourceID == "" {
		return Document{}, fmt.Errorf("source_type and source_id required")
	}
	tx, err := s.DB.BeginTx(ctx, nil)
	if err != nil {
		return Document{}, fmt.Errorf("begin tx: %w", err)
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback()
		}
	}()

	row := tx.QueryRowContext(ctx, `
INSERT INTO documents (source_type, source_id, title, content_hash, modified_at)
VALUES ($1,$2,$3,$4,$5)
ON CONFLICT (source_type, source_id) DO UPDATE SET
  title = EXCLUDED.title,
  content_hash = EXCLUDED.content_hash,
  modified_at = EXCLUDED.modified_at,
  updated_at = NOW()
RETURNING id, graph_synced, graph_sync_retries, created_at, updated_at
`, doc.SourceType, doc.SourceID, doc.Title, doc.ContentHash, nullableTime(doc.ModifiedAt))
	if err = row.Scan(&doc.ID, &doc.GraphSynced, &doc.GraphSyncRetries, &doc.CreatedAt, &doc.UpdatedAt); err != nil {
		return Document{}, mapConstraintErr(fmt.Errorf("upsert documents: %w", err))
	}

	if _, err = tx.ExecContext(ctx, `DELETE FROM segments WHERE document_id=$1`, doc.ID); err != nil {
		return Document{}, fmt.Errorf("delete segments: %w", err)
	}

	for _, seg := range segments {
		if seg.ID == "" {
			seg.ID = uuid.NewString()
		}
		var vecLiteral interface{}
		if len(seg.Embedding) > 0 {
			lit, encErr := encodeVectorLiteral(seg.Embedding)
			if encErr != nil {
				err = encErr
				return Document{}, err
			}
			vecLiteral = lit
		}
		metaBytes, mErr := json.Marshal(seg.Metadata)
		if mErr != nil {
			err = fmt.Errorf("marshal segment metadata: %w", mErr)
			return Document{}, err
		}
		if _, err = tx.ExecContext(ctx, `
INSERT INTO segments (id, document_id, position, section_path, content, content_hash, embedding, metadata)
VALUES ($1,$2,$3,$4,$5,$6,$7::vector,$8)
`, seg.ID, doc.ID, seg.Position, seg.SectionPath, seg.Content, seg.ContentHash, vecLiteral, metaBytes); err != nil {
			return Document{}, fmt.Errorf("insert segment %d: %w", seg.Position, err)
		}
	}

	if err = tx.Commit(); err != nil {
		return Document{}, fmt.Errorf("commit tx: %w", err)
	}
	return doc, nil
}

// MarkGraphSynced flips the sync flag back to true after a successful (re)sync.
func (s *Store) MarkGraphSynced(ctx context.Context, documentID string) error {
	res, err := s.DB.ExecContext(ctx, `
UPDATE documents SET graph_synced=TRUE, updated_at=NOW() WHERE id=$1
`, documentID)
	if err != nil {
		return fmt.Errorf("mark graph synced: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("mark graph synced: document %s not found", documentID)
	}
	return nil
}

// MarkGraphSyncFailed clears the sync flag and increments the bounded retry
// counter, returning the new count.
func (s *Store) MarkGraphSyncFailed(ctx context.Context, documentID string) (int, error) {
	var retries int
	err := s.DB.QueryRowContext(ctx, `
UPDATE documents SET graph_synced=FALSE, graph_sync_retries=graph_sync_retries+1, updated_at=NOW()
WHERE id=$1
RETURNING graph_sync_retries
`, documentID).Scan(&retries)
	if err != nil {
		return 0, fmt.Errorf("mark graph sync failed: %w", err)
	}
	return retries, nil
}

// ListGraphUnsynced returns documents eligible for the reconciliation sweep:
// unsynced and still under the retry ceiling. Documents at or past the
// ceiling are excluded and must be handled out-of-band.
func (s *Store) ListGraphUnsynced(ctx context.Context, ceiling, limit int) ([]Document, error) {
	if ceiling <= 0 {
		return nil, fmt.Errorf("retry ceiling must be positive")
	}
	q := `
SELECT id, source_type, source_id, title, content_hash, modified_at, graph_synced, graph_sync_retries, created_at, updated_at
FROM documents
WHERE graph_synced=FALSE AND graph_sync_retries < $1
ORDER BY updated_at ASC
`
	args := []interface{}{ceiling}
	if limit > 0 {
		q += `LIMIT $2`
		args = append(args, limit)
	}
	rows, err := s.DB.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, fmt.Errorf("select unsynced documents: %w", err)
	}
	defer rows.Close()
	var out []Document
	for rows.Next() {
		var (
			doc      Document
			modified sql.NullTime
		)
		if err := rows.Scan(&doc.ID, &doc.SourceType, &doc.SourceID, &doc.Title, &doc.ContentHash,
			&modified, &doc.GraphSynced, &doc.GraphSyncRetries, &doc.CreatedAt, &doc.UpdatedAt); err != nil {
			return nil, fmt.Errorf("scan unsynced document: %w", err)
		}
		if modified.Valid {
			t := modified.Time
			doc.ModifiedAt = &t
		}
		out = append(out, doc)
	}
	return out, rows.Err()
}

// CountGraphUnsynced counts documents still eligible for reconciliation.
func (s *Store) CountGraphUnsynced(ctx context.Context, ceiling int) (int, error) {
	var n int
	err := s.DB.QueryRowContext(ctx, `
SELECT COUNT(*) FROM documents WHERE graph_synced=FALSE AND graph_sync_retries < $1
`, ceiling).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("count unsynced documents: %w", err)
	}
	return n, nil
}

// ListDocuments pages documents newest-first using an opaque keyset cursor.
func (s *Store) ListDocuments(ctx context.Context, cursor string, limit int) ([]Document, int, string, error) {
	if limit <= 0 {
		limit = DefaultPageSize
	}
	cur, err := DecodeCursor(cursor)
	if err != nil {
		return nil, 0, "", err
	}

	var total int
	if err := s.DB.QueryRowContext(ctx, `SELECT COUNT(*) FROM documents`).Scan(&total); err != nil {
		return nil, 0, "", fmt.Errorf("count documents: %w", err)
	}

	var lastID, lastSort interface{}
	if cur.LastID != "" {
		lastID = cur.LastID
		lastSort = cur.SortKey
	}
	rows, err := s.DB.QueryContext(ctx, `
SELECT id, source_type, source_id, title, content_hash, modified_at, graph_synced, graph_sync_retries, created_at, updated_at
FROM documents
WHERE ($1::uuid IS NULL OR (created_at, id) < ($2::timestamptz, $1::uuid))
ORDER BY created_at DESC, id DESC
LIMIT $3
`, lastID, lastSort, limit+1)
	if err != nil {
		return nil, 0, "", fmt.Errorf("select documents page: %w", err)
	}
	defer rows.Close()

	var out []Document
	for rows.Next() {
		var (
			doc      Document
			modified sql.NullTime
		)
		if err := rows.Scan(&doc.ID, &doc.SourceType, &doc.SourceID, &doc.Title, &doc.ContentHash,
			&modified, &doc.GraphSynced, &doc.GraphSyncRetries, &doc.CreatedAt, &doc.UpdatedAt); err != nil {
			return nil, 0, "", fmt.Errorf("scan document: %w", err)
		}
		if modified.Valid {
			t := modified.Time
			doc.ModifiedAt = &t
		}
		out = append(out, doc)
	}
	if err := rows.Err(); err != nil {
		return nil, 0, "", err
	}

	next := ""
	if len(out) > limit {
		out = out[:limit]
		last := out[len(out)-1]
		next = Cursor{LastID: last.ID, SortKey: last.CreatedAt}.Encode()
	}
	return out, total, next, nil
}
