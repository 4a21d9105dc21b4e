package store

import (
	"context"
	"database/sql"
	"fmt"
	"regexp"
	"testing"
	"time"

	sqlmock "github.com/DATA-DOG/go-sqlmock"
)

func setupStore(t *testing.T) (*Store, sqlmock.Sqlmock, func()) {
	t.Helper()
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock.New: %v", err)
	}
	cleanup := func() { db.Close() }
	return &Store{DB: db}, mock, cleanup
}

func documentColumns() []string {
	return []string{"id", "source_type", "source_id", "title", "content_hash", "modified_at",
		"graph_synced", "graph_sync_retries", "created_at", "updated_at"}
}

func TestGetDocumentBySourceNotFound(t *testing.T) {
	st, mock, cleanup := setupStore(t)
	defer cleanup()

	mock.ExpectQuery("SELECT id, source_type").
		WithArgs("fs", "notes/missing.md").
		WillReturnError(sql.ErrNoRows)

	_, found, err := st.GetDocumentBySource(context.Background(), "fs", "notes/missing.md")
	if err != nil {
		t.Fatalf("GetDocumentBySource: %v", err)
	}
	if found {
		t.Fatalf("expected found=false for missing document")
	}
}

func TestReplaceDocumentSegmentsCommits(t *testing.T) {
	st, mock, cleanup := setupStore(t)
	defer cleanup()

	now := time.Now()
	mock.ExpectBegin()
	mock.ExpectQuery("INSERT INTO documents").
		WithArgs("fs", "notes/a.md", "A", "hash-a", nil).
		WillReturnRows(sqlmock.NewRows([]string{"id", "graph_synced", "graph_sync_retries", "created_at", "updated_at"}).
			AddRow("doc-1", false, 0, now, now))
	mock.ExpectExec(regexp.QuoteMeta(`DELETE FROM segments WHERE document_id=$1`)).
		WithArgs("doc-1").
		WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectExec("INSERT INTO segments").
		WithArgs("seg-1", "doc-1", 0, "A", "hello", "ch-1", "[0.1,0.2]", []byte("null")).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	doc, err := st.ReplaceDocumentSegments(context.Background(),
		Document{SourceType: "fs", SourceID: "notes/a.md", Title: "A", ContentHash: "hash-a"},
		[]Segment{{ID: "seg-1", Position: 0, SectionPath: "A", Content: "hello", ContentHash: "ch-1", Embedding: []float32{0.1, 0.2}}})
	if err != nil {
		t.Fatalf("ReplaceDocumentSegments: %v", err)
	}
	if doc.ID != "doc-1" {
		t.Fatalf("expected doc-1, got %s", doc.ID)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("expectations: %v", err)
	}
}

func TestReplaceDocumentSegmentsRollsBackOnSegmentFailure(t *testing.T) {
	st, mock, cleanup := setupStore(t)
	defer cleanup()

	now := time.Now()
	mock.ExpectBegin()
	mock.ExpectQuery("INSERT INTO documents").
		WillReturnRows(sqlmock.NewRows([]string{"id", "graph_synced", "graph_sync_retries", "created_at", "updated_at"}).
			AddRow("doc-1", false, 0, now, now))
	mock.ExpectExec(regexp.QuoteMeta(`DELETE FROM segments WHERE document_id=$1`)).
		WithArgs("doc-1").
		WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectExec("INSERT INTO segments").
		WillReturnError(fmt.Errorf("disk full"))
	mock.ExpectRollback()

	_, err := st.ReplaceDocumentSegments(context.Background(),
		Document{SourceType: "fs", SourceID: "notes/a.md", Title: "A", ContentHash: "hash-a"},
		[]Segment{{ID: "seg-1", Content: "hello", ContentHash: "ch-1"}})
	if err == nil {
		t.Fatalf("expected error when segment insert fails")
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("expectations: %v", err)
	}
}

func TestMarkGraphSyncFailedReturnsRetries(t *testing.T) {
	st, mock, cleanup := setupStore(t)
	defer cleanup()

	mock.ExpectQuery("UPDATE documents SET graph_synced=FALSE").
		WithArgs("doc-1").
		WillReturnRows(sqlmock.NewRows([]string{"graph_sync_retries"}).AddRow(3))

	retries, err := st.MarkGraphSyncFailed(context.Background(), "doc-1")
	if err != nil {
		t.Fatalf("MarkGraphSyncFailed: %v", err)
	}
	if retries != 3 {
		t.Fatalf("expected 3 retries, got %d", retries)
	}
}

func TestListGraphUnsyncedPassesCeiling(t *testing.T) {
	st, mock, cleanup := setupStore(t)
	defer cleanup()

	now := time.Now()
	mock.ExpectQuery("SELECT id, source_type").
		WithArgs(5, 10).
		WillReturnRows(sqlmock.NewRows(documentColumns()).
			AddRow("doc-1", "fs", "notes/a.md", "A", "hash-a", nil, false, 2, now, now))

	docs, err := st.ListGraphUnsynced(context.Background(), 5, 10)
	if err != nil {
		t.Fatalf("ListGraphUnsynced: %v", err)
	}
	if len(docs) != 1 || docs[0].GraphSyncRetries != 2 {
		t.Fatalf("unexpected docs: %+v", docs)
	}
}

func TestListDocumentsEmitsCursorWhenMorePagesExist(t *testing.T) {
	st, mock, cleanup := setupStore(t)
	defer cleanup()

	now := time.Now().UTC()
	mock.ExpectQuery(regexp.QuoteMeta(`SELECT COUNT(*) FROM documents`)).
		WillReturnRows(sqlmock.NewRows([]string{"count"}).AddRow(3))

	rows := sqlmock.NewRows(documentColumns())
	for i := 0; i < 3; i++ {
		rows.AddRow(fmt.Sprintf("doc-%d", i), "fs", fmt.Sprintf("notes/%d.md", i), "T", "h", nil, true, 0, now, now)
	}
	mock.ExpectQuery("SELECT id, source_type").
		WithArgs(nil, nil, 3).
		WillReturnRows(rows)

	docs, total, cursor, err := st.ListDocuments(context.Background(), "", 2)
	if err != nil {
		t.Fatalf("ListDocuments: %v", err)
	}
	if total != 3 {
		t.Fatalf("expected total 3, got %d", total)
	}
	if len(docs) != 2 {
		t.Fatalf("expected 2 docs on page, got %d", len(docs))
	}
	if cursor == "" {
		t.Fatalf("expected a next cursor")
	}
	decoded, err := DecodeCursor(cursor)
	if err != nil {
		t.Fatalf("DecodeCursor: %v", err)
	}
	if decoded.LastID != "doc-1" {
		t.Fatalf("cursor should point at last returned row, got %s", decoded.LastID)
	}
}
