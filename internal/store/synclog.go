package store

import (
	"context"
	"encoding/json"
	"fmt"
)

// AppendSyncLog writes one append-only audit entry for a document. Entries
// are write-once per event and never mutated.
func (s *Store) AppendSyncLog(ctx context.Context, documentID, event string, payload map[string]interface{}) error {
	if documentID == "" || event == "" {
		return fmt.Errorf("document id and event required")
	}
	payloadBytes, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshal sync log payload: %w", err)
	}
	if _, err := s.DB.ExecContext(ctx, `
INSERT INTO sync_logs (document_id, event, payload) VALUES ($1,$2,$3)
`, documentID, event, payloadBytes); err != nil {
		return fmt.Errorf("insert sync log: %w", err)
	}
	return nil
}

// ListSyncLogs returns the newest audit entries for a document.
func (s *Store) ListSyncLogs(ctx context.Context, documentID string, limit int) ([]SyncLog, error) {
	if documentID == "" {
		return nil, fmt.Errorf("document id required")
	}
	if limit <= 0 {
		limit = 100
	}
	rows, err := s.DB.QueryContext(ctx, `
SELECT id, document_id, event, payload, created_at
FROM sync_logs
WHERE document_id=$1
ORDER BY id DESC
LIMIT $2
`, documentID, limit)
	if err != nil {
		return nil, fmt.Errorf("select sync logs: %w", err)
	}
	defer rows.Close()

	var out []SyncLog
	for rows.Next() {
		var (
			entry        SyncLog
			payloadBytes []byte
		)
		if err := rows.Scan(&entry.ID, &entry.DocumentID, &entry.Event, &payloadBytes, &entry.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan sync log: %w", err)
		}
		if len(payloadBytes) > 0 {
			_ = json.Unmarshal(payloadBytes, &entry.Payload)
		}
		out = append(out, entry)
	}
	return out, rows.Err()
}
