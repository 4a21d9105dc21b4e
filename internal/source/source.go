// Package source defines the document-source connector contract consumed by
// the ingestion pipeline.
package source

import (
	"context"
	"time"
)

// Meta identifies one source artifact. SourceType plus SourceID is the stable
// document identity.
type Meta struct {
	SourceType string
	SourceID   string
	Title      string
	// ModifiedAt is the source-reported modification time, nil when the
	// source reports none.
	ModifiedAt *time.Time
}

// RawDocument is one fetched artifact before parsing.
type RawDocument struct {
	Meta
	MediaType string
	Content   []byte
}

// Connector enumerates and fetches documents from one backing source.
type Connector interface {
	// Type returns the connector's source type tag.
	Type() string

	// ListDocuments enumerates the source's current artifacts.
	ListDocuments(ctx context.Context) ([]Meta, error)

	// FetchDocument retrieves one artifact's raw bytes and metadata.
	FetchDocument(ctx context.Context, sourceID string) (RawDocument, error)

	// ContentHash fingerprints raw bytes for change detection.
	ContentHash(content []byte) string
}
