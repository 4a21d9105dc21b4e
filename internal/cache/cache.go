// Package cache provides the query result cache. Entries are tagged with the
// documents that contributed to them so re-ingesting a document invalidates
// exactly the results it could have influenced.
package cache

import (
	"context"
	"time"
)

// Cache stores serialized search result lists under deterministic keys with a
// bounded TTL. Implementations must be safe for concurrent use.
type Cache interface {
	// Get returns the cached value for key, reporting whether it was present.
	Get(ctx context.Context, key string) ([]byte, bool, error)

	// Set stores value under key for ttl and tags it with the contributing
	// document ids.
	Set(ctx context.Context, key string, value []byte, ttl time.Duration, documentIDs []string) error

	// InvalidateDocument drops every cached entry tagged with documentID.
	InvalidateDocument(ctx context.Context, documentID string) error
}
