package retrieval

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"strings"
)

// CacheKey derives the deterministic cache key for a search: a full-length
// SHA-256 over the normalized query, topK, and filters. Two calls with
// equivalent parameters always map to the same entry.
func CacheKey(query string, topK int, filters Filters) string {
	normalized := strings.Join(strings.Fields(strings.ToLower(query)), " ")
	payload := fmt.Sprintf("q=%s|k=%d|source_type=%s", normalized, topK, filters.SourceType)
	sum := sha256.Sum256([]byte(payload))
	return hex.EncodeToString(sum[:])
}
