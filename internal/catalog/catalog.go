// Package catalog merges the documents a user owns with the documents shared
// with them into one role-annotated list.
package catalog

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"sort"
	"time"

	"smartdocs/api/internal/media"
	"smartdocs/api/internal/rbac"
	"smartdocs/api/internal/store"

	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"
)

var (
	ErrNotFound           = errors.New("document not found")
	ErrCatalogUnavailable = errors.New("catalog unavailable")
)

type Records interface {
	ListDocumentsByOwner(ctx context.Context, ownerID string) ([]store.Document, error)
	ListPermissionsForUser(ctx context.Context, userID string) ([]store.Permission, error)
	ListDocumentsByIDs(ctx context.Context, ids []string) ([]store.Document, error)
	GetDocument(ctx context.Context, documentID string) (store.Document, error)
	GetPermission(ctx context.Context, documentID, userID string) (store.Permission, error)
}

// TextReader fetches the current content of a stored object.
type TextReader interface {
	ReadText(ctx context.Context, path string) (string, error)
}

// Entry is one document as seen by one user.
type Entry struct {
	Document    store.Document
	Role        rbac.Role
	RelevanceAt time.Time
	// SharedAt is the grant time; nil for owned documents.
	SharedAt *time.Time
	// Content is set only when eagerly loaded.
	Content *string
}

func (e Entry) Kind() media.Kind { return media.Parse(e.Document.MediaKind) }
func (e Entry) EffectiveRole() rbac.Role { return rbac.Effective(e.Role) }
func (e Entry) Owned() bool { return e.Role == rbac.RoleOwner }
func (e Entry) Can(action rbac.Action) bool { return rbac.Can(e.Role, action) }
func (e Entry) CanEdit() bool { return e.Can(rbac.ActionEdit) }
func (e Entry) CanShare() bool { return e.Can(rbac.ActionShare) }
func (e Entry) CanDelete() bool { return e.Can(rbac.ActionDelete) }

type Catalog struct {
	records Records
	reader  TextReader
	eager   bool
	log     zerolog.Logger
}

type Option func(*Catalog)

// WithEagerSharedText loads the content of shared text documents during List.
func WithEagerSharedText(reader TextReader) Option {
	return func(c *Catalog) {
		c.reader = reader
		c.eager = reader != nil
	}
}

func WithLogger(log zerolog.Logger) Option {
	return func(c *Catalog) {
		c.log = log
	}
}

func New(records Records, opts ...Option) *Catalog {
	c := &Catalog{records: records, log: zerolog.Nop()}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// List returns every document visible to userID ordered by relevance,
// most recent first.
func (c *Catalog) List(ctx context.Context, userID string) ([]Entry, error) {
	var owned []store.Document
	var perms []store.Permission

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		items, err := c.records.ListDocumentsByOwner(gctx, userID)
		if err != nil {
			return fmt.Errorf("owned documents: %w", err)
		}
		owned = items
		return nil
	})
	g.Go(func() error {
		items, err := c.records.ListPermissionsForUser(gctx, userID)
		if err != nil {
			return fmt.Errorf("permissions: %w", err)
		}
		perms = items
		return nil
	})
	if err := g.Wait(); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrCatalogUnavailable, err)
	}

	entries := make([]Entry, 0, len(owned)+len(perms))
	ownedIDs := make(map[string]struct{}, len(owned))
	for _, doc := range owned {
		ownedIDs[doc.ID] = struct{}{}
		entries = append(entries, Entry{
			Document:    doc,
			Role:        rbac.RoleOwner,
			RelevanceAt: doc.LastTouched(),
		})
	}

	grants := make(map[string]store.Permission, len(perms))
	ids := make([]string, 0, len(perms))
	for _, perm := range perms {
		if _, isOwned := ownedIDs[perm.DocumentID]; isOwned {
			continue
		}
		if _, dup := grants[perm.DocumentID]; dup {
			continue
		}
		grants[perm.DocumentID] = perm
		ids = append(ids, perm.DocumentID)
	}

	shared, err := c.records.ListDocumentsByIDs(ctx, ids)
	if err != nil {
		return nil, fmt.Errorf("%w: shared documents: %w", ErrCatalogUnavailable, err)
	}
	for _, doc := range shared {
		perm, ok := grants[doc.ID]
		if !ok || doc.OwnerID == userID {
			continue
		}
		grantedAt := perm.GrantedAt
		entry := Entry{
			Document:    doc,
			Role:        rbac.Normalize(perm.Role),
			RelevanceAt: grantedAt,
			SharedAt:    &grantedAt,
		}
		if c.eager && entry.Kind() == media.KindText {
			c.loadContent(ctx, &entry)
		}
		entries = append(entries, entry)
	}

	sort.SliceStable(entries, func(i, j int) bool {
		return entries[i].RelevanceAt.After(entries[j].RelevanceAt)
	})
	return entries, nil
}

func (c *Catalog) loadContent(ctx context.Context, entry *Entry) {
	content, err := c.reader.ReadText(ctx, entry.Document.StoragePath)
	if err != nil {
		c.log.Warn().Err(err).Str("document_id", entry.Document.ID).Msg("skip shared content load")
		return
	}
	entry.Content = &content
}

// Resolve returns the caller's view of a single document. A document the
// caller can't see is reported as ErrNotFound whether or not it exists.
func (c *Catalog) Resolve(ctx context.Context, userID, documentID string) (Entry, error) {
	doc, err := c.records.GetDocument(ctx, documentID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return Entry{}, ErrNotFound
		}
		return Entry{}, fmt.Errorf("%w: %w", ErrCatalogUnavailable, err)
	}
	if doc.OwnerID == userID {
		return Entry{Document: doc, Role: rbac.RoleOwner, RelevanceAt: doc.LastTouched()}, nil
	}

	perm, err := c.records.GetPermission(ctx, documentID, userID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return Entry{}, ErrNotFound
		}
		return Entry{}, fmt.Errorf("%w: %w", ErrCatalogUnavailable, err)
	}
	grantedAt := perm.GrantedAt
	return Entry{
		Document:    doc,
		Role:        rbac.Normalize(perm.Role),
		RelevanceAt: grantedAt,
		SharedAt:    &grantedAt,
	}, nil
}
