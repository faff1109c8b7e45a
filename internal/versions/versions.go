// Package versions keeps the append-only history of pre-save snapshots for
// text documents.
package versions

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"sort"

	"smartdocs/api/internal/store"

	"github.com/google/uuid"
)

var (
	ErrNotFound    = errors.New("version not found")
	ErrUnavailable = errors.New("version store unavailable")
)

type Version = store.Version

// Records is the persistence surface. Implementations never update or delete
// rows.
type Records interface {
	InsertVersion(ctx context.Context, version store.Version) (store.Version, error)
	ListVersions(ctx context.Context, documentID string) ([]store.Version, error)
	GetVersion(ctx context.Context, documentID, versionID string) (store.Version, error)
}

type Store struct {
	records Records
	newID   func() string
}

func NewStore(records Records) *Store {
	return &Store{records: records, newID: uuid.NewString}
}

// Append records content as a new snapshot of documentID.
func (s *Store) Append(ctx context.Context, documentID, content string) (Version, error) {
	item, err := s.records.InsertVersion(ctx, Version{ID: s.newID(), DocumentID: documentID, Content: content})
	if err != nil {
		return Version{}, fmt.Errorf("%w: append version: %w", ErrUnavailable, err)
	}
	return item, nil
}

// List returns versions newest first. Rows with equal timestamps keep the
// order the record store returned them in.
func (s *Store) List(ctx context.Context, documentID string) ([]Version, error) {
	items, err := s.records.ListVersions(ctx, documentID)
	if err != nil {
		return nil, fmt.Errorf("%w: list versions: %w", ErrUnavailable, err)
	}
	sort.SliceStable(items, func(i, j int) bool {
		return items[i].CreatedAt.After(items[j].CreatedAt)
	})
	return items, nil
}

func (s *Store) Get(ctx context.Context, documentID, versionID string) (Version, error) {
	item, err := s.records.GetVersion(ctx, documentID, versionID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return Version{}, ErrNotFound
		}
		return Version{}, fmt.Errorf("%w: get version: %w", ErrUnavailable, err)
	}
	return item, nil
}

// Restore yields the content to load back into an edit session. It never
// mutates history.
func Restore(v Version) string {
	return v.Content
}

// Label renders the display name of the version at index in a newest-first
// list of count versions. The oldest version is "Version 1".
func Label(index, count int) string {
	return fmt.Sprintf("Version %d", count-index)
}
