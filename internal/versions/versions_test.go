package versions

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"testing"
	"time"
)

type fakeRecords struct {
	rows      []Version
	insertErr error
	clock     time.Time
}

func (f *fakeRecords) InsertVersion(_ context.Context, v Version) (Version, error) {
	if f.insertErr != nil {
		return Version{}, f.insertErr
	}
	f.clock = f.clock.Add(time.Second)
	v.CreatedAt = f.clock
	f.rows = append(f.rows, v)
	return v, nil
}

// ListVersions deliberately returns insertion order to exercise re-sorting.
func (f *fakeRecords) ListVersions(_ context.Context, documentID string) ([]Version, error) {
	out := []Version{}
	for _, v := range f.rows {
		if v.DocumentID == documentID {
			out = append(out, v)
		}
	}
	return out, nil
}

func (f *fakeRecords) GetVersion(_ context.Context, documentID, versionID string) (Version, error) {
	for _, v := range f.rows {
		if v.DocumentID == documentID && v.ID == versionID {
			return v, nil
		}
	}
	return Version{}, sql.ErrNoRows
}

func newTestStore(records *fakeRecords) *Store {
	s := NewStore(records)
	n := 0
	s.newID = func() string {
		n++
		return fmt.Sprintf("v%d", n)
	}
	return s
}

func TestAppendAndListNewestFirst(t *testing.T) {
	records := &fakeRecords{clock: time.Unix(1000, 0)}
	s := newTestStore(records)
	ctx := context.Background()

	for _, content := range []string{"A", "B", "C"} {
		if _, err := s.Append(ctx, "doc-1", content); err != nil {
			t.Fatalf("append %q: %v", content, err)
		}
	}
	if _, err := s.Append(ctx, "doc-2", "other"); err != nil {
		t.Fatalf("append other doc: %v", err)
	}

	items, err := s.List(ctx, "doc-1")
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(items) != 3 {
		t.Fatalf("expected 3 versions, got %d", len(items))
	}
	want := []string{"C", "B", "A"}
	for i, v := range items {
		if v.Content != want[i] {
			t.Fatalf("position %d: expected %q, got %q", i, want[i], v.Content)
		}
		if i > 0 && v.CreatedAt.After(items[i-1].CreatedAt) {
			t.Fatalf("versions not in descending order at %d", i)
		}
	}
	if Label(0, len(items)) != "Version 3" || Label(2, len(items)) != "Version 1" {
		t.Fatalf("unexpected labels %q %q", Label(0, 3), Label(2, 3))
	}
}

func TestListKeepsOrderForEqualTimestamps(t *testing.T) {
	at := time.Unix(500, 0)
	records := &fakeRecords{rows: []Version{
		{ID: "x", DocumentID: "d", CreatedAt: at},
		{ID: "y", DocumentID: "d", CreatedAt: at},
		{ID: "z", DocumentID: "d", CreatedAt: at.Add(time.Second)},
	}}
	items, err := newTestStore(records).List(context.Background(), "d")
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	got := items[0].ID + items[1].ID + items[2].ID
	if got != "zxy" {
		t.Fatalf("expected stable order zxy, got %s", got)
	}
}

func TestRestoreDoesNotTouchHistory(t *testing.T) {
	records := &fakeRecords{clock: time.Unix(1000, 0)}
	s := newTestStore(records)
	ctx := context.Background()

	v, err := s.Append(ctx, "doc-1", "first draft")
	if err != nil {
		t.Fatalf("append: %v", err)
	}
	got, err := s.Get(ctx, "doc-1", v.ID)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if Restore(got) != "first draft" {
		t.Fatalf("unexpected restored content %q", Restore(got))
	}
	if len(records.rows) != 1 {
		t.Fatalf("restore must not add versions, have %d", len(records.rows))
	}
}

func TestGetMissingVersion(t *testing.T) {
	s := newTestStore(&fakeRecords{})
	if _, err := s.Get(context.Background(), "doc-1", "nope"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestAppendSurfacesStoreError(t *testing.T) {
	boom := errors.New("db down")
	s := newTestStore(&fakeRecords{insertErr: boom})
	if _, err := s.Append(context.Background(), "doc-1", "x"); !errors.Is(err, boom) || !errors.Is(err, ErrUnavailable) {
		t.Fatalf("expected wrapped store error, got %v", err)
	}
}
