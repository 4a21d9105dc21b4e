package fs

import (
	"context"
	"os"
	"path/filepath"
	"testing"
)

func writeFile(t *testing.T, root, rel, content string) {
	t.Helper()
	path := filepath.Join(root, rel)
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		t.Fatalf("mkdir: %v", err)
	}
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("write: %v", err)
	}
}

func TestListDocumentsFiltersByExtension(t *testing.T) {
	root := t.TempDir()
	writeFile(t, root, "a.md", "# A")
	writeFile(t, root, "sub/b.txt", "b")
	writeFile(t, root, "c.bin", "binary")
	writeFile(t, root, ".git/d.md", "hidden")

	conn, err := New(root)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	metas, err := conn.ListDocuments(context.Background())
	if err != nil {
		t.Fatalf("ListDocuments: %v", err)
	}
	if len(metas) != 2 {
		t.Fatalf("expected 2 documents, got %d: %+v", len(metas), metas)
	}
	ids := map[string]bool{}
	for _, m := range metas {
		ids[m.SourceID] = true
		if m.ModifiedAt == nil {
			t.Fatalf("expected modified time for %s", m.SourceID)
		}
	}
	if !ids["a.md"] || !ids["sub/b.txt"] {
		t.Fatalf("unexpected source ids: %v", ids)
	}
}

func TestFetchDocument(t *testing.T) {
	root := t.TempDir()
	writeFile(t, root, "notes/a.md", "# Title\n\nbody")

	conn, err := New(root)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	raw, err := conn.FetchDocument(context.Background(), "notes/a.md")
	if err != nil {
		t.Fatalf("FetchDocument: %v", err)
	}
	if string(raw.Content) != "# Title\n\nbody" {
		t.Fatalf("unexpected content %q", raw.Content)
	}
	if raw.MediaType != "text/markdown" {
		t.Fatalf("unexpected media type %q", raw.MediaType)
	}
	if raw.Title != "a" {
		t.Fatalf("unexpected title %q", raw.Title)
	}
}

func TestFetchDocumentRejectsEscapes(t *testing.T) {
	root := t.TempDir()
	conn, err := New(root)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	for _, id := range []string{"../etc/passwd", "/etc/passwd", "a/../../x.md"} {
		if _, err := conn.FetchDocument(context.Background(), id); err == nil {
			t.Fatalf("source id %q must be rejected", id)
		}
	}
}

func TestContentHashIsStable(t *testing.T) {
	conn, err := New(t.TempDir())
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	a := conn.ContentHash([]byte("same"))
	b := conn.ContentHash([]byte("same"))
	if a != b {
		t.Fatalf("hash not deterministic")
	}
	if a == conn.ContentHash([]byte("different")) {
		t.Fatalf("different content must hash differently")
	}
}
