// Package searchindex wraps the bleve full-text index. The index is a derived
// projection of the relational store: it may lag or diverge transiently and is
// always recoverable by re-indexing.
package searchindex

import (
	"fmt"
	"os"

	"github.com/blevesearch/bleve"
)

// Doc is the indexed representation of one segment.
type Doc struct {
	SegmentID   string `json:"segment_id"`
	DocumentID  string `json:"document_id"`
	SourceType  string `json:"source_type"`
	SourceID    string `json:"source_id"`
	Title       string `json:"title"`
	SectionPath string `json:"section_path"`
	Content     string `json:"content"`
}

// Hit is one ranked lexical match.
type Hit struct {
	SegmentID string
	Score     float64
	Rank      int
}

// Index wraps a bleve index handle shared across concurrent operations.
type Index struct {
	idx      bleve.Index
	batchCap int
}

// Open opens or creates the index at path. An empty path yields an in-memory
// index, used by tests and ephemeral deployments.
func Open(path string, batchCap int) (*Index, error) {
	if batchCap <= 0 {
		batchCap = 256
	}
	if path == "" {
		idx, err := bleve.NewMemOnly(bleve.NewIndexMapping())
		if err != nil {
			return nil, fmt.Errorf("open in-memory index: %w", err)
		}
		return &Index{idx: idx, batchCap: batchCap}, nil
	}
	idx, err := bleve.Open(path)
	if err != nil {
		if _, statErr := os.Stat(path); statErr == nil {
			return nil, fmt.Errorf("open index %s: %w", path, err)
		}
		idx, err = bleve.New(path, bleve.NewIndexMapping())
		if err != nil {
			return nil, fmt.Errorf("create index %s: %w", path, err)
		}
	}
	return &Index{idx: idx, batchCap: batchCap}, nil
}

// IndexSegments bulk-indexes segment docs, batched to bound memory.
func (x *Index) IndexSegments(docs []Doc) error {
	batch := x.idx.NewBatch()
	for i, doc := range docs {
		if doc.SegmentID == "" {
			return fmt.Errorf("segment %d missing id", i)
		}
		if err := batch.Index(doc.SegmentID, doc); err != nil {
			return fmt.Errorf("batch index segment %s: %w", doc.SegmentID, err)
		}
		if batch.Size() >= x.batchCap {
			if err := x.idx.Batch(batch); err != nil {
				return fmt.Errorf("flush index batch: %w", err)
			}
			batch = x.idx.NewBatch()
		}
	}
	if batch.Size() > 0 {
		if err := x.idx.Batch(batch); err != nil {
			return fmt.Errorf("flush index batch: %w", err)
		}
	}
	return nil
}

// DeleteSegments removes the given segment ids from the index.
func (x *Index) DeleteSegments(segmentIDs []string) error {
	batch := x.idx.NewBatch()
	for _, id := range segmentIDs {
		batch.Delete(id)
	}
	if err := x.idx.Batch(batch); err != nil {
		return fmt.Errorf("delete index batch: %w", err)
	}
	return nil
}

// Search runs a term-frequency ranked query and returns up to limit hits.
func (x *Index) Search(query string, limit int) ([]Hit, error) {
	if limit <= 0 {
		limit = 10
	}
	q := bleve.NewQueryStringQuery(query)
	req := bleve.NewSearchRequestOptions(q, limit, 0, false)
	res, err := x.idx.Search(req)
	if err != nil {
		return nil, fmt.Errorf("bleve search: %w", err)
	}
	out := make([]Hit, 0, len(res.Hits))
	for i, hit := range res.Hits {
		out = append(out, Hit{SegmentID: hit.ID, Score: hit.Score, Rank: i + 1})
	}
	return out, nil
}

// Close releases the underlying index.
func (x *Index) Close() error {
	return x.idx.Close()
}
