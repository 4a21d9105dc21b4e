package graphsync

import "github.com/quarrylabs/quarry/internal/store"

// State is a document's graph synchronization state. Syncing exists only
// while a sync call is in flight and is never persisted.
type State string

const (
	StateUnsynced          State = "unsynced"
	StateSyncing           State = "syncing"
	StateSynced            State = "synced"
	StatePermanentlyFailed State = "permanently_failed"
)

// StateOf derives the persisted state from a document's flag and retry
// counter. Synced and PermanentlyFailed are terminal.
func StateOf(doc store.Document, ceiling int) State {
	if doc.GraphSynced {
		return StateSynced
	}
	if ceiling > 0 && doc.GraphSyncRetries >= ceiling {
		return StatePermanentlyFailed
	}
	return StateUnsynced
}
