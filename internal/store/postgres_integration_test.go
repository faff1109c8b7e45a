package store

import (
	"context"
	"database/sql"
	"errors"
	"os"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgconn"
)

func getTestDatabaseURL(t *testing.T) string {
	t.Helper()
	dsn := strings.TrimSpace(os.Getenv("SMARTDOCS_TEST_DATABASE_URL"))
	if dsn == "" {
		t.Skip("SMARTDOCS_TEST_DATABASE_URL is not set")
	}
	return dsn
}

func openTestStore(t *testing.T) (*PostgresStore, context.Context) {
	t.Helper()
	if testing.Short() {
		t.Skip("skipping integration test in short mode")
	}
	dsn := getTestDatabaseURL(t)

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Minute)
	t.Cleanup(cancel)

	db, err := Open(ctx, dsn)
	if err != nil {
		t.Fatalf("open database: %v", err)
	}
	t.Cleanup(func() { db.Close() })

	if err := ApplyMigrations(ctx, db, Migrations()); err != nil {
		t.Fatalf("apply migrations: %v", err)
	}
	return NewPostgresStore(db), ctx
}

func insertTestDocument(t *testing.T, ctx context.Context, s *PostgresStore, ownerID, kind string) Document {
	t.Helper()
	id := uuid.NewString()
	doc := Document{
		ID:          id,
		OwnerID:     ownerID,
		Name:        "notes-" + id[:8] + ".txt",
		StoragePath: ownerID + "/" + id + ".txt",
		ByteSize:    5,
		MediaKind:   kind,
		Status:      "pending",
		Tags:        []string{"a", "b"},
	}
	if err := s.InsertDocument(ctx, doc); err != nil {
		t.Fatalf("insert document: %v", err)
	}
	t.Cleanup(func() { _ = s.DeleteDocument(context.Background(), id) })
	return doc
}

func TestUpsertPermissionKeepsSingleRow(t *testing.T) {
	s, ctx := openTestStore(t)
	owner := "owner-" + uuid.NewString()
	recipient := "user-" + uuid.NewString()
	doc := insertTestDocument(t, ctx, s, owner, "text")

	first, created, err := s.UpsertPermission(ctx, Permission{DocumentID: doc.ID, UserID: recipient, Role: "viewer"})
	if err != nil {
		t.Fatalf("first upsert: %v", err)
	}
	if !created {
		t.Fatal("expected first grant to insert a row")
	}

	second, created, err := s.UpsertPermission(ctx, Permission{DocumentID: doc.ID, UserID: recipient, Role: "editor"})
	if err != nil {
		t.Fatalf("second upsert: %v", err)
	}
	if created {
		t.Fatal("expected second grant to update in place")
	}
	if second.Role != "editor" {
		t.Fatalf("expected role editor, got %q", second.Role)
	}
	if !second.GrantedAt.Equal(first.GrantedAt) {
		t.Fatalf("expected grant time to be kept, got %v then %v", first.GrantedAt, second.GrantedAt)
	}

	perms, err := s.ListPermissionsForDocument(ctx, doc.ID)
	if err != nil {
		t.Fatalf("list permissions: %v", err)
	}
	if len(perms) != 1 {
		t.Fatalf("expected exactly one permission row, got %d", len(perms))
	}
}

func TestListDocumentsByIDsWithEmptySet(t *testing.T) {
	s, ctx := openTestStore(t)
	insertTestDocument(t, ctx, s, "owner-"+uuid.NewString(), "pdf")

	items, err := s.ListDocumentsByIDs(ctx, nil)
	if err != nil {
		t.Fatalf("list by ids: %v", err)
	}
	if len(items) != 0 {
		t.Fatalf("expected empty result for empty id set, got %d", len(items))
	}
}

func TestVersionsNewestFirstAndImmutable(t *testing.T) {
	s, ctx := openTestStore(t)
	doc := insertTestDocument(t, ctx, s, "owner-"+uuid.NewString(), "text")

	for _, content := range []string{"a", "b", "c"} {
		if _, err := s.InsertVersion(ctx, Version{ID: uuid.NewString(), DocumentID: doc.ID, Content: content}); err != nil {
			t.Fatalf("insert version %q: %v", content, err)
		}
	}

	versions, err := s.ListVersions(ctx, doc.ID)
	if err != nil {
		t.Fatalf("list versions: %v", err)
	}
	if len(versions) != 3 {
		t.Fatalf("expected 3 versions, got %d", len(versions))
	}
	if versions[0].Content != "c" || versions[2].Content != "a" {
		t.Fatalf("expected newest first, got %q..%q", versions[0].Content, versions[2].Content)
	}

	_, err = s.DB().ExecContext(ctx, `UPDATE document_versions SET content='x' WHERE id=$1`, versions[0].ID)
	if err == nil {
		t.Fatal("expected UPDATE on document_versions to fail")
	}
	var pgErr *pgconn.PgError
	if !errors.As(err, &pgErr) {
		t.Fatalf("expected PostgreSQL error, got: %v", err)
	}
	if pgErr.SQLState() != "55000" {
		t.Fatalf("expected SQLSTATE 55000, got: %s", pgErr.SQLState())
	}
}

func TestTouchAndPatchDocument(t *testing.T) {
	s, ctx := openTestStore(t)
	owner := "owner-" + uuid.NewString()
	doc := insertTestDocument(t, ctx, s, owner, "text")

	if err := s.TouchDocumentContent(ctx, doc.ID, owner, 42); err != nil {
		t.Fatalf("touch: %v", err)
	}
	name := "renamed.txt"
	tags := []string{"finance"}
	updated, err := s.UpdateDocumentMetadata(ctx, doc.ID, DocumentPatch{Name: &name, Tags: &tags}, owner)
	if err != nil {
		t.Fatalf("update metadata: %v", err)
	}
	if updated.Name != name || updated.ByteSize != 42 || updated.UpdatedAt == nil {
		t.Fatalf("unexpected document after update: %+v", updated)
	}
	if len(updated.Tags) != 1 || updated.Tags[0] != "finance" {
		t.Fatalf("unexpected tags: %v", updated.Tags)
	}

	if err := s.TouchDocumentContent(ctx, uuid.NewString(), owner, 1); !errors.Is(err, sql.ErrNoRows) {
		t.Fatalf("expected sql.ErrNoRows for unknown document, got %v", err)
	}
}
