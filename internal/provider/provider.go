// Package provider defines the external AI collaborator contracts consumed by
// ingestion, retrieval, and answer generation.
package provider

import "context"

// Embedder generates vector embeddings for text. Implementations must be safe
// for concurrent use.
type Embedder interface {
	// CreateEmbedding returns one vector per input text, in input order.
	CreateEmbedding(ctx context.Context, texts []string) ([][]float32, error)
}

// Reranker re-scores candidate passages against the raw query. An absent
// reranker degrades retrieval to fused-only ordering.
type Reranker interface {
	// Rerank returns one relevance score per passage, in passage order.
	// Higher is more relevant.
	Rerank(ctx context.Context, query string, passages []string) ([]float64, error)
}

// StreamingLLM produces completion tokens incrementally. emit is called once
// per token; returning an error from emit stops generation. Implementations
// must not retry transient upstream failures: the caller receives the error
// once and resubmits.
type StreamingLLM interface {
	CompleteStream(ctx context.Context, system, prompt string, emit func(token string) error) error
}
