package app

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"smartdocs/api/internal/blob"
	"smartdocs/api/internal/catalog"
	"smartdocs/api/internal/editsession"
	"smartdocs/api/internal/media"
	"smartdocs/api/internal/metrics"
	"smartdocs/api/internal/rbac"
	"smartdocs/api/internal/search"
	"smartdocs/api/internal/store"
	"smartdocs/api/internal/versions"

	validation "github.com/go-ozzo/ozzo-validation/v4"
	"github.com/go-ozzo/ozzo-validation/v4/is"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

const (
	statusPending      = "pending"
	accessLevelPrivate = "private"
	maxNameLength      = 255
)

var accessLevels = []any{"private", "read_only", "edit"}

type Category struct {
	Slug  string `json:"slug"`
	Label string `json:"label"`
}

var categories = []Category{
	{Slug: "administrativos", Label: "Administrativos"},
	{Slug: "financieros", Label: "Financieros"},
	{Slug: "fiscales", Label: "Fiscales"},
	{Slug: "recursos_humanos", Label: "Recursos humanos"},
	{Slug: "ventas", Label: "Ventas"},
	{Slug: "compras", Label: "Compras"},
	{Slug: "operativos", Label: "Operativos"},
	{Slug: "marketing", Label: "Marketing"},
	{Slug: "tecnologia", Label: "Tecnología"},
}

type dataStore interface {
	catalog.Records
	versions.Records
	editsession.RecordToucher
	search.ReindexSource
	LookupUserIDByEmail(context.Context, string) (string, error)
	InsertDocument(context.Context, store.Document) error
	UpdateDocumentMetadata(context.Context, string, store.DocumentPatch, string) (store.Document, error)
	DeleteDocument(context.Context, string) error
	ListPermissionsForDocument(context.Context, string) ([]store.Permission, error)
	UpsertPermission(context.Context, store.Permission) (store.Permission, bool, error)
	DeletePermission(context.Context, string, string) error
	Ping(context.Context) error
}

// Check is a named readiness check.
type Check struct {
	Name string
	Ping func(context.Context) error
}

type Deps struct {
	Store dataStore
	// Blobs is usually a blob.CachedSigner wrapping the object store.
	Blobs   blob.Store
	Reader  catalog.TextReader
	Index   search.Backend
	Metrics *metrics.Metrics
	Log     zerolog.Logger
	Checks  []Check
}

type Options struct {
	SignedURLTTL    time.Duration
	MaxUploadBytes  int64
	EagerSharedText bool
	Editor          editsession.Config
}

type Service struct {
	store    dataStore
	blobs    blob.Store
	catalog  *catalog.Catalog
	versions *versions.Store
	sessions *editsession.Manager
	search   *search.Service
	metrics  *metrics.Metrics
	log      zerolog.Logger
	checks   []Check
	opts     Options
	newID    func() string
	now      func() time.Time
}

func NewService(deps Deps, opts Options) *Service {
	if opts.SignedURLTTL <= 0 {
		opts.SignedURLTTL = 60 * time.Second
	}
	if opts.MaxUploadBytes <= 0 {
		opts.MaxUploadBytes = 50 << 20
	}

	catalogOpts := []catalog.Option{catalog.WithLogger(deps.Log)}
	if opts.EagerSharedText && deps.Reader != nil {
		catalogOpts = append(catalogOpts, catalog.WithEagerSharedText(deps.Reader))
	}

	s := &Service{
		store:    deps.Store,
		blobs:    deps.Blobs,
		catalog:  catalog.New(deps.Store, catalogOpts...),
		versions: versions.NewStore(deps.Store),
		search:   search.NewService(deps.Index, deps.Store, deps.Reader, deps.Metrics, deps.Log),
		metrics:  deps.Metrics,
		log:      deps.Log,
		checks:   deps.Checks,
		opts:     opts,
		newID:    uuid.NewString,
		now:      time.Now,
	}
	s.sessions = editsession.NewManager(editsession.Deps{
		Versions: s.versions,
		Blobs:    deps.Blobs,
		Records:  deps.Store,
		Metrics:  deps.Metrics,
		Log:      deps.Log,
		OnSaved:  func(doc store.Document, _ string) { s.search.Refresh(doc.ID) },
	}, deps.Reader, opts.Editor)
	return s
}

// Ping checks the record store.
func (s *Service) Ping(ctx context.Context) error {
	return s.store.Ping(ctx)
}

// Checks returns the readiness checks, record store first.
func (s *Service) Checks() []Check {
	return append([]Check{{Name: "database", Ping: s.Ping}}, s.checks...)
}

// Shutdown flushes open edit sessions, then waits for pending index writes.
func (s *Service) Shutdown(ctx context.Context) error {
	err := s.sessions.Shutdown(ctx)
	if waitErr := s.search.Wait(ctx); waitErr != nil {
		err = errors.Join(err, fmt.Errorf("search index writes: %w", waitErr))
	}
	return err
}

// SweepSessions closes idle edit sessions periodically until ctx is done.
func (s *Service) SweepSessions(ctx context.Context) {
	s.sessions.RunSweeper(ctx)
}

// Reindex rebuilds the search index from the record store.
func (s *Service) Reindex(ctx context.Context) {
	s.search.ReindexAll(ctx, s.store)
}

func (s *Service) Categories() []Category {
	out := make([]Category, len(categories))
	copy(out, categories)
	return out
}

type ListQuery struct {
	Query    string
	Kind     string
	Category string
	Sort     string
}

func (s *Service) ListDocuments(ctx context.Context, userID string, q ListQuery) ([]catalog.Entry, error) {
	filter := catalog.Filter{Query: q.Query, Category: strings.TrimSpace(q.Category)}
	if raw := strings.TrimSpace(q.Kind); raw != "" {
		kind, ok := media.Lookup(raw)
		if !ok {
			return nil, validationError("Unknown document kind", map[string]any{"kind": raw, "allowed": media.Kinds})
		}
		filter.Kind = kind
	}

	entries, err := s.catalog.List(ctx, userID)
	if err != nil {
		return nil, translate(err)
	}
	entries = filter.Apply(entries)
	catalog.SortEntries(entries, catalog.ParseSortKey(q.Sort))
	return entries, nil
}

func (s *Service) Summary(ctx context.Context, userID string) (catalog.Summary, error) {
	entries, err := s.catalog.List(ctx, userID)
	if err != nil {
		return catalog.Summary{}, translate(err)
	}
	return catalog.Summarize(entries), nil
}

func (s *Service) GetDocument(ctx context.Context, userID, documentID string) (catalog.Entry, error) {
	entry, err := s.catalog.Resolve(ctx, userID, documentID)
	if err != nil {
		return catalog.Entry{}, translate(err)
	}
	return entry, nil
}

type UploadInput struct {
	Name        string
	ContentType string
	Data        []byte
	Description string
	Category    string
	LogicalType string
	Tags        []string
}

func (in UploadInput) validate(maxBytes int64) error {
	return validation.ValidateStruct(&in,
		validation.Field(&in.Name, validation.Required, validation.Length(1, maxNameLength)),
		validation.Field(&in.Data,
			validation.Required.Error("file is empty"),
			validation.By(func(any) error {
				if int64(len(in.Data)) > maxBytes {
					return fmt.Errorf("file exceeds %d bytes", maxBytes)
				}
				return nil
			}),
		),
		validation.Field(&in.Category, validation.Length(0, 100)),
		validation.Field(&in.LogicalType, validation.Length(0, 100)),
	)
}

// Upload stores the bytes under {owner}/{uuid}.{ext} and inserts the record.
// The object is never overwritten, and it is removed again when the record
// cannot be inserted.
func (s *Service) Upload(ctx context.Context, userID string, in UploadInput) (catalog.Entry, error) {
	in.Name = strings.TrimSpace(in.Name)
	if err := in.validate(s.opts.MaxUploadBytes); err != nil {
		return catalog.Entry{}, validationError("Invalid upload", err)
	}

	kind := media.Detect(in.ContentType, in.Name)
	contentType := strings.TrimSpace(in.ContentType)
	if contentType == "" {
		contentType = media.ContentType(kind)
	}
	id := s.newID()
	path := fmt.Sprintf("%s/%s.%s", userID, id, media.Extension(in.Name))

	if err := s.blobs.Put(ctx, path, in.Data, contentType, false); err != nil {
		s.metrics.ObserveUpload(string(kind), int64(len(in.Data)), err)
		if errors.Is(err, blob.ErrExists) {
			return catalog.Entry{}, translate(err)
		}
		s.log.Error().Err(err).Str("path", path).Msg("upload blob failed")
		return catalog.Entry{}, upstreamUnavailable("Could not store file")
	}

	doc := store.Document{
		ID:          id,
		OwnerID:     userID,
		Name:        in.Name,
		StoragePath: path,
		ByteSize:    int64(len(in.Data)),
		MediaKind:   string(kind),
		Description: strings.TrimSpace(in.Description),
		Category:    strings.TrimSpace(in.Category),
		LogicalType: strings.TrimSpace(in.LogicalType),
		Status:      statusPending,
		Tags:        cleanTags(in.Tags),
		AccessLevel: accessLevelPrivate,
		CreatedAt:   s.now().UTC(),
		UpdatedBy:   userID,
	}
	if err := s.store.InsertDocument(ctx, doc); err != nil {
		s.metrics.ObserveUpload(string(kind), doc.ByteSize, err)
		if delErr := s.blobs.Delete(context.WithoutCancel(ctx), []string{path}); delErr != nil {
			s.log.Error().Err(delErr).Str("path", path).Msg("remove orphaned upload")
		}
		s.log.Error().Err(err).Str("document_id", id).Msg("insert document failed")
		return catalog.Entry{}, upstreamUnavailable("Could not save document record")
	}
	s.metrics.ObserveUpload(string(kind), doc.ByteSize, nil)

	content := ""
	if kind == media.KindText {
		content = string(in.Data)
	}
	s.search.IndexDocument(doc, content)

	return catalog.Entry{Document: doc, Role: rbac.RoleOwner, RelevanceAt: doc.CreatedAt}, nil
}

func cleanTags(tags []string) []string {
	out := make([]string, 0, len(tags))
	seen := map[string]struct{}{}
	for _, tag := range tags {
		tag = strings.TrimSpace(tag)
		if tag == "" {
			continue
		}
		if _, ok := seen[tag]; ok {
			continue
		}
		seen[tag] = struct{}{}
		out = append(out, tag)
	}
	return out
}

type MetadataInput struct {
	Name        *string   `json:"name"`
	Description *string   `json:"description"`
	Category    *string   `json:"category"`
	LogicalType *string   `json:"logicalType"`
	Status      *string   `json:"status"`
	Tags        *[]string `json:"tags"`
	AccessLevel *string   `json:"accessLevel"`
}

func (in MetadataInput) validate() error {
	return validation.ValidateStruct(&in,
		validation.Field(&in.Name, validation.NilOrNotEmpty, validation.Length(1, maxNameLength)),
		validation.Field(&in.Category, validation.Length(0, 100)),
		validation.Field(&in.LogicalType, validation.Length(0, 100)),
		validation.Field(&in.Status, validation.Length(0, 64)),
		validation.Field(&in.AccessLevel, validation.NilOrNotEmpty, validation.In(accessLevels...)),
	)
}

func trimmed(v *string) *string {
	if v == nil {
		return nil
	}
	t := strings.TrimSpace(*v)
	return &t
}

func (in MetadataInput) normalized() MetadataInput {
	out := MetadataInput{
		Name:        trimmed(in.Name),
		Description: trimmed(in.Description),
		Category:    trimmed(in.Category),
		LogicalType: trimmed(in.LogicalType),
		Status:      trimmed(in.Status),
		AccessLevel: trimmed(in.AccessLevel),
	}
	if in.Tags != nil {
		tags := cleanTags(*in.Tags)
		out.Tags = &tags
	}
	return out
}

func (in MetadataInput) patch() store.DocumentPatch {
	return store.DocumentPatch{
		Name:        in.Name,
		Description: in.Description,
		Category:    in.Category,
		LogicalType: in.LogicalType,
		Status:      in.Status,
		Tags:        in.Tags,
		AccessLevel: in.AccessLevel,
	}
}

// UpdateMetadata applies a partial update. Owners and editors may call it.
func (s *Service) UpdateMetadata(ctx context.Context, userID, documentID string, in MetadataInput) (catalog.Entry, error) {
	entry, err := s.catalog.Resolve(ctx, userID, documentID)
	if err != nil {
		return catalog.Entry{}, translate(err)
	}
	if !entry.CanEdit() {
		return catalog.Entry{}, permissionDenied("Only the owner or an editor can change metadata")
	}
	in = in.normalized()
	if err := in.validate(); err != nil {
		return catalog.Entry{}, validationError("Invalid metadata", err)
	}
	patch := in.patch()
	if patch.Empty() {
		return catalog.Entry{}, validationError("No fields to update", nil)
	}

	doc, err := s.store.UpdateDocumentMetadata(ctx, documentID, patch, userID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return catalog.Entry{}, notFound("Document not found")
		}
		return catalog.Entry{}, s.storeFailure("update metadata", err)
	}
	entry.Document = doc
	s.search.Refresh(doc.ID)
	return entry, nil
}

// DeleteDocument removes the record first, which cascades shares and
// versions, then the blob. Blob failures are only logged.
func (s *Service) DeleteDocument(ctx context.Context, userID, documentID string) error {
	entry, err := s.catalog.Resolve(ctx, userID, documentID)
	if err != nil {
		return translate(err)
	}
	if !entry.CanDelete() {
		return permissionDenied("Only the owner can delete a document")
	}
	if err := s.store.DeleteDocument(ctx, documentID); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return notFound("Document not found")
		}
		return s.storeFailure("delete document", err)
	}
	s.sessions.Drop(documentID)
	if err := s.blobs.Delete(ctx, []string{entry.Document.StoragePath}); err != nil {
		s.log.Warn().Err(err).Str("document_id", documentID).Str("path", entry.Document.StoragePath).Msg("blob removal failed")
	}
	s.search.DeleteDocument(documentID)
	return nil
}

type DownloadLink struct {
	DocumentID string    `json:"documentId"`
	Name       string    `json:"name"`
	URL        string    `json:"url,omitempty"`
	ExpiresAt  time.Time `json:"expiresAt,omitzero"`
	Error      string    `json:"error,omitempty"`
}

func (s *Service) DownloadURL(ctx context.Context, userID, documentID string) (DownloadLink, error) {
	entry, err := s.catalog.Resolve(ctx, userID, documentID)
	if err != nil {
		return DownloadLink{}, translate(err)
	}
	link, err := s.signedLink(ctx, entry)
	if err != nil {
		s.log.Error().Err(err).Str("document_id", documentID).Msg("sign download url")
		return DownloadLink{}, upstreamUnavailable("Could not create download link")
	}
	return link, nil
}

// DownloadAll signs a link for every document in the caller's catalog.
// Failures are reported per document.
func (s *Service) DownloadAll(ctx context.Context, userID string) ([]DownloadLink, error) {
	entries, err := s.catalog.List(ctx, userID)
	if err != nil {
		return nil, translate(err)
	}
	links := make([]DownloadLink, 0, len(entries))
	for _, entry := range entries {
		link, err := s.signedLink(ctx, entry)
		if err != nil {
			link = DownloadLink{DocumentID: entry.Document.ID, Name: entry.Document.Name, Error: err.Error()}
		}
		links = append(links, link)
	}
	return links, nil
}

func (s *Service) signedLink(ctx context.Context, entry catalog.Entry) (DownloadLink, error) {
	issued := s.now()
	url, err := s.blobs.SignedURL(ctx, entry.Document.StoragePath, s.opts.SignedURLTTL)
	if err != nil {
		return DownloadLink{}, err
	}
	return DownloadLink{
		DocumentID: entry.Document.ID,
		Name:       entry.Document.Name,
		URL:        url,
		ExpiresAt:  issued.Add(s.opts.SignedURLTTL).UTC(),
	}, nil
}

type ShareInput struct {
	Email string `json:"email"`
	Role  string `json:"role"`
}

type ShareResult struct {
	Permission store.Permission
	Created    bool
}

// ShareDocument grants or updates a collaborator's role. Only the owner may
// share; a second grant to the same user updates the role in place.
func (s *Service) ShareDocument(ctx context.Context, userID, documentID string, in ShareInput) (ShareResult, error) {
	entry, err := s.catalog.Resolve(ctx, userID, documentID)
	if err != nil {
		return ShareResult{}, translate(err)
	}
	if !entry.CanShare() {
		return ShareResult{}, permissionDenied("Only the owner can share a document")
	}

	email := strings.ToLower(strings.TrimSpace(in.Email))
	role, err := parseShareInput(email, in.Role)
	if err != nil {
		return ShareResult{}, err
	}

	recipientID, err := s.store.LookupUserIDByEmail(ctx, email)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return ShareResult{}, domainError(http.StatusNotFound, CodeRecipientNotFound, "No user with that email", nil)
		}
		return ShareResult{}, s.storeFailure("lookup recipient", err)
	}
	if recipientID == userID || recipientID == entry.Document.OwnerID {
		return ShareResult{}, validationError("You cannot share a document with yourself", nil)
	}

	perm, created, err := s.store.UpsertPermission(ctx, store.Permission{
		DocumentID: documentID,
		UserID:     recipientID,
		Role:       string(role),
		GrantedAt:  s.now().UTC(),
	})
	if err != nil {
		return ShareResult{}, s.storeFailure("upsert permission", err)
	}
	perm.UserEmail = email
	s.metrics.ShareGranted(created)
	s.log.Info().Str("document_id", documentID).Str("recipient_id", recipientID).Str("role", string(role)).Bool("created", created).Msg("document shared")
	return ShareResult{Permission: perm, Created: created}, nil
}

func (s *Service) ListShares(ctx context.Context, userID, documentID string) ([]store.Permission, error) {
	entry, err := s.catalog.Resolve(ctx, userID, documentID)
	if err != nil {
		return nil, translate(err)
	}
	if !entry.CanShare() {
		return nil, permissionDenied("Only the owner can view shares")
	}
	perms, err := s.store.ListPermissionsForDocument(ctx, documentID)
	if err != nil {
		return nil, s.storeFailure("list shares", err)
	}
	return perms, nil
}

func (s *Service) RevokeShare(ctx context.Context, userID, documentID, recipientID string) error {
	entry, err := s.catalog.Resolve(ctx, userID, documentID)
	if err != nil {
		return translate(err)
	}
	if !entry.CanShare() {
		return permissionDenied("Only the owner can revoke shares")
	}
	if err := s.store.DeletePermission(ctx, documentID, recipientID); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return notFound("Share not found")
		}
		return s.storeFailure("revoke share", err)
	}
	return nil
}

type VersionView struct {
	ID        string    `json:"id"`
	Label     string    `json:"label"`
	Content   string    `json:"content"`
	CreatedAt time.Time `json:"createdAt"`
}

// ListVersions returns the history of a document newest first, readable by
// anyone who can see the document.
func (s *Service) ListVersions(ctx context.Context, userID, documentID string) ([]VersionView, error) {
	if _, err := s.catalog.Resolve(ctx, userID, documentID); err != nil {
		return nil, translate(err)
	}
	items, err := s.versions.List(ctx, documentID)
	if err != nil {
		return nil, translate(err)
	}
	out := make([]VersionView, 0, len(items))
	for i, v := range items {
		out = append(out, VersionView{
			ID:        v.ID,
			Label:     versions.Label(i, len(items)),
			Content:   v.Content,
			CreatedAt: v.CreatedAt,
		})
	}
	return out, nil
}

func (s *Service) OpenSession(ctx context.Context, userID, documentID string) (editsession.State, error) {
	entry, err := s.catalog.Resolve(ctx, userID, documentID)
	if err != nil {
		return editsession.State{}, translate(err)
	}
	if !entry.CanEdit() {
		return editsession.State{}, permissionDenied("You do not have edit access to this document")
	}
	session, err := s.sessions.Open(ctx, userID, entry.Document)
	if err != nil {
		return editsession.State{}, translate(err)
	}
	return session.State(), nil
}

func (s *Service) SessionState(userID, sessionID string) (editsession.State, error) {
	session, err := s.sessions.Get(sessionID, userID)
	if err != nil {
		return editsession.State{}, translate(err)
	}
	return session.State(), nil
}

func (s *Service) EditSession(userID, sessionID, content string) (editsession.State, error) {
	session, err := s.sessions.Get(sessionID, userID)
	if err != nil {
		return editsession.State{}, translate(err)
	}
	if err := session.Edit(content); err != nil {
		return editsession.State{}, translate(err)
	}
	return session.State(), nil
}

// SaveSession saves immediately. A failed save leaves the edits in the
// session; the error is returned alongside the current state.
func (s *Service) SaveSession(ctx context.Context, userID, sessionID string) (editsession.State, error) {
	session, err := s.sessions.Get(sessionID, userID)
	if err != nil {
		return editsession.State{}, translate(err)
	}
	if err := session.Save(ctx); err != nil {
		return session.State(), translate(err)
	}
	return session.State(), nil
}

// RestoreVersion loads a version's content into the session as unsaved work.
func (s *Service) RestoreVersion(ctx context.Context, userID, sessionID, versionID string) (editsession.State, error) {
	session, err := s.sessions.Get(sessionID, userID)
	if err != nil {
		return editsession.State{}, translate(err)
	}
	version, err := s.versions.Get(ctx, session.Document().ID, versionID)
	if err != nil {
		return editsession.State{}, translate(err)
	}
	if err := session.Restore(versions.Restore(version)); err != nil {
		return editsession.State{}, translate(err)
	}
	return session.State(), nil
}

func (s *Service) CloseSession(userID, sessionID string, discard bool) error {
	return translate(s.sessions.Close(sessionID, userID, discard))
}

func (s *Service) Search(ctx context.Context, userID, text string, deep bool) (search.Response, error) {
	entries, err := s.catalog.List(ctx, userID)
	if err != nil {
		return search.Response{}, translate(err)
	}
	return s.search.Search(ctx, text, entries, deep), nil
}

// storeFailure logs a failed record store call and reports it as
// UPSTREAM_UNAVAILABLE.
func (s *Service) storeFailure(op string, err error) error {
	s.log.Error().Err(err).Str("op", op).Msg("record store call failed")
	return upstreamUnavailable("The record store is unavailable")
}

func parseShareInput(email, role string) (rbac.Role, error) {
	var grant rbac.Role
	err := validation.Errors{
		"email": validation.Validate(email, validation.Required, is.EmailFormat),
		"role": validation.Validate(role, validation.By(func(any) error {
			var err error
			grant, err = rbac.ParseGrant(role)
			return err
		})),
	}.Filter()
	if err != nil {
		return "", validationError("Invalid share request", err)
	}
	return grant, nil
}
