package graphsync

import (
	"context"
	"fmt"
	"time"

	"github.com/quarrylabs/quarry/internal/diff"
	"github.com/quarrylabs/quarry/internal/store"
)

// SyncedDoc reports one document repaired by the sweep.
type SyncedDoc struct {
	DocID         string `json:"docId"`
	Status        string `json:"status"`
	EntitiesAdded int    `json:"entitiesAdded"`
}

// FailedDoc reports one document that failed again during the sweep.
type FailedDoc struct {
	DocID string `json:"docId"`
	Error string `json:"error"`
}

// SweepResult summarizes one reconciliation pass.
type SweepResult struct {
	Synced    []SyncedDoc `json:"synced"`
	Failed    []FailedDoc `json:"failed"`
	Remaining int         `json:"remaining"`
}

// Reconciler retries graph synchronization for documents whose sync flag is
// down, bounded by the retry ceiling. Documents at or past the ceiling are
// excluded and must be handled out-of-band.
type Reconciler struct {
	sync    *Synchronizer
	store   StoreAPI
	ceiling int
}

// NewReconciler builds a sweep runner over an existing Synchronizer.
func NewReconciler(sync *Synchronizer, st StoreAPI, ceiling int) (*Reconciler, error) {
	if sync == nil {
		return nil, fmt.Errorf("reconciler requires a synchronizer")
	}
	if ceiling <= 0 {
		return nil, fmt.Errorf("reconciler requires a positive retry ceiling")
	}
	return &Reconciler{sync: sync, store: st, ceiling: ceiling}, nil
}

// Sweep retries sync for up to limit eligible documents (0 means no bound).
// Each document's failure is isolated: it lands in the failure list, bumps
// the retry counter, and never aborts the rest of the sweep.
func (r *Reconciler) Sweep(ctx context.Context, limit int) (SweepResult, error) {
	docs, err := r.store.ListGraphUnsynced(ctx, r.ceiling, limit)
	if err != nil {
		return SweepResult{}, fmt.Errorf("list unsynced documents: %w", err)
	}

	result := SweepResult{Synced: []SyncedDoc{}, Failed: []FailedDoc{}}
	for _, doc := range docs {
		outcome, syncErr := r.resync(ctx, doc)
		if syncErr != nil {
			retries, markErr := r.store.MarkGraphSyncFailed(ctx, doc.ID)
			if markErr != nil {
				r.sync.logger.Printf("warn: mark sync failure for document %s failed: %v", doc.ID, markErr)
			}
			_ = r.store.AppendSyncLog(ctx, doc.ID, "graph_resync_failed", map[string]interface{}{
				"error":   syncErr.Error(),
				"retries": retries,
			})
			result.Failed = append(result.Failed, FailedDoc{DocID: doc.ID, Error: syncErr.Error()})
			continue
		}
		if err := r.store.MarkGraphSynced(ctx, doc.ID); err != nil {
			result.Failed = append(result.Failed, FailedDoc{DocID: doc.ID, Error: err.Error()})
			continue
		}
		_ = r.store.AppendSyncLog(ctx, doc.ID, "graph_resynced", map[string]interface{}{
			"episodes_created": outcome.EpisodesCreated,
			"entities":         outcome.EntitiesExtracted,
		})
		result.Synced = append(result.Synced, SyncedDoc{
			DocID:         doc.ID,
			Status:        string(StateSynced),
			EntitiesAdded: outcome.EntitiesExtracted,
		})
	}

	remaining, err := r.store.CountGraphUnsynced(ctx, r.ceiling)
	if err != nil {
		return SweepResult{}, fmt.Errorf("count remaining unsynced: %w", err)
	}
	result.Remaining = remaining
	return result, nil
}

// resync re-extracts every segment that lacks a durable episode trace.
// Segments already carrying an episode id were extracted by a prior
// successful run and are left alone.
func (r *Reconciler) resync(ctx context.Context, doc store.Document) (Result, error) {
	segments, err := r.store.ListSegments(ctx, doc.ID)
	if err != nil {
		return Result{}, fmt.Errorf("list segments: %w", err)
	}
	var pending diff.Result
	for _, seg := range segments {
		if seg.EpisodeID() == "" {
			pending.Added = append(pending.Added, seg)
		} else {
			pending.Unchanged = append(pending.Unchanged, seg)
		}
	}
	if len(pending.Added) == 0 {
		return Result{}, nil
	}
	validTime := time.Now().UTC()
	if doc.ModifiedAt != nil {
		validTime = *doc.ModifiedAt
	}
	return r.sync.Sync(ctx, doc, pending, doc.Title, validTime)
}
