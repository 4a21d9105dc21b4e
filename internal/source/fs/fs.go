// Package fs implements a filesystem-backed source connector. Relative paths
// under the root directory are the source ids.
package fs

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"github.com/quarrylabs/quarry/internal/source"
)

// SourceType tags documents ingested from the local filesystem.
const SourceType = "fs"

var indexedExtensions = map[string]string{
	".md":   "text/markdown",
	".txt":  "text/plain",
	".html": "text/html",
	".htm":  "text/html",
}

// Connector walks a root directory for markdown, plaintext, and HTML files.
type Connector struct {
	root string
}

// New builds a connector rooted at dir.
func New(dir string) (*Connector, error) {
	info, err := os.Stat(dir)
	if err != nil {
		return nil, fmt.Errorf("stat source root: %w", err)
	}
	if !info.IsDir() {
		return nil, fmt.Errorf("source root %s is not a directory", dir)
	}
	return &Connector{root: dir}, nil
}

func (c *Connector) Type() string { return SourceType }

// ListDocuments enumerates indexable files under the root.
func (c *Connector) ListDocuments(ctx context.Context) ([]source.Meta, error) {
	var out []source.Meta
	err := filepath.WalkDir(c.root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if ctx.Err() != nil {
			return ctx.Err()
		}
		if d.IsDir() {
			if strings.HasPrefix(d.Name(), ".") && path != c.root {
				return filepath.SkipDir
			}
			return nil
		}
		if _, ok := indexedExtensions[strings.ToLower(filepath.Ext(path))]; !ok {
			return nil
		}
		rel, relErr := filepath.Rel(c.root, path)
		if relErr != nil {
			return relErr
		}
		info, infoErr := d.Info()
		if infoErr != nil {
			return infoErr
		}
		mod := info.ModTime()
		out = append(out, source.Meta{
			SourceType: SourceType,
			SourceID:   filepath.ToSlash(rel),
			Title:      strings.TrimSuffix(d.Name(), filepath.Ext(d.Name())),
			ModifiedAt: &mod,
		})
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("walk source root: %w", err)
	}
	return out, nil
}

// FetchDocument reads one file's bytes and metadata.
func (c *Connector) FetchDocument(_ context.Context, sourceID string) (source.RawDocument, error) {
	clean := filepath.Clean(filepath.FromSlash(sourceID))
	if strings.HasPrefix(clean, "..") || filepath.IsAbs(clean) {
		return source.RawDocument{}, fmt.Errorf("source id %q escapes root", sourceID)
	}
	path := filepath.Join(c.root, clean)
	info, err := os.Stat(path)
	if err != nil {
		return source.RawDocument{}, fmt.Errorf("stat document: %w", err)
	}
	content, err := os.ReadFile(path)
	if err != nil {
		return source.RawDocument{}, fmt.Errorf("read document: %w", err)
	}
	mediaType, ok := indexedExtensions[strings.ToLower(filepath.Ext(path))]
	if !ok {
		mediaType = "text/plain"
	}
	mod := info.ModTime()
	return source.RawDocument{
		Meta: source.Meta{
			SourceType: SourceType,
			SourceID:   sourceID,
			Title:      strings.TrimSuffix(filepath.Base(path), filepath.Ext(path)),
			ModifiedAt: &mod,
		},
		MediaType: mediaType,
		Content:   content,
	}, nil
}

// ContentHash fingerprints raw bytes with SHA-256.
func (c *Connector) ContentHash(content []byte) string {
	sum := sha256.Sum256(content)
	return hex.EncodeToString(sum[:])
}
