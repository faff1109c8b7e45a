package app

import (
	"context"
	"database/sql"
	"sort"
	"sync"
	"time"

	"smartdocs/api/internal/editsession"
	"smartdocs/api/internal/search"
	"smartdocs/api/internal/store"

	"github.com/rs/zerolog"
)

// fakeStore is an in-memory record store. The Fn fields override individual
// methods to inject failures.
type fakeStore struct {
	mu          sync.Mutex
	docs        map[string]store.Document
	perms       map[string]store.Permission
	versions    []store.Version
	users       map[string]string
	touches     int
	nextVersion int

	insertDocumentFn  func(context.Context, store.Document) error
	listByOwnerFn     func(context.Context, string) ([]store.Document, error)
	upsertPermissionF func(context.Context, store.Permission) (store.Permission, bool, error)
	pingFn            func(context.Context) error
	// failFn, when set, is consulted by the write and lookup methods with
	// the method name; a non-nil result is returned as the call's error.
	failFn func(method string) error
}

func (f *fakeStore) fail(method string) error {
	if f.failFn == nil {
		return nil
	}
	return f.failFn(method)
}

func newFakeStore() *fakeStore {
	return &fakeStore{
		docs:  map[string]store.Document{},
		perms: map[string]store.Permission{},
		users: map[string]string{},
	}
}

func permKey(documentID, userID string) string { return documentID + "|" + userID }

func (f *fakeStore) addDocument(doc store.Document) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.docs[doc.ID] = doc
}

func (f *fakeStore) addPermission(p store.Permission) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.perms[permKey(p.DocumentID, p.UserID)] = p
}

func (f *fakeStore) ListDocumentsByOwner(ctx context.Context, ownerID string) ([]store.Document, error) {
	if f.listByOwnerFn != nil {
		return f.listByOwnerFn(ctx, ownerID)
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []store.Document
	for _, d := range f.docs {
		if d.OwnerID == ownerID {
			out = append(out, d)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (f *fakeStore) ListPermissionsForUser(_ context.Context, userID string) ([]store.Permission, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []store.Permission
	for _, p := range f.perms {
		if p.UserID == userID {
			out = append(out, p)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].DocumentID < out[j].DocumentID })
	return out, nil
}

func (f *fakeStore) ListDocumentsByIDs(_ context.Context, ids []string) ([]store.Document, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []store.Document
	for _, id := range ids {
		if d, ok := f.docs[id]; ok {
			out = append(out, d)
		}
	}
	return out, nil
}

func (f *fakeStore) GetDocument(_ context.Context, id string) (store.Document, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	d, ok := f.docs[id]
	if !ok {
		return store.Document{}, sql.ErrNoRows
	}
	return d, nil
}

func (f *fakeStore) GetPermission(_ context.Context, documentID, userID string) (store.Permission, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	p, ok := f.perms[permKey(documentID, userID)]
	if !ok {
		return store.Permission{}, sql.ErrNoRows
	}
	return p, nil
}

func (f *fakeStore) InsertVersion(_ context.Context, v store.Version) (store.Version, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.nextVersion++
	v.CreatedAt = time.Date(2026, 1, 1, 0, 0, f.nextVersion, 0, time.UTC)
	f.versions = append(f.versions, v)
	return v, nil
}

func (f *fakeStore) ListVersions(_ context.Context, documentID string) ([]store.Version, error) {
	if err := f.fail("ListVersions"); err != nil {
		return nil, err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []store.Version
	for i := len(f.versions) - 1; i >= 0; i-- {
		if f.versions[i].DocumentID == documentID {
			out = append(out, f.versions[i])
		}
	}
	return out, nil
}

func (f *fakeStore) GetVersion(_ context.Context, documentID, versionID string) (store.Version, error) {
	if err := f.fail("GetVersion"); err != nil {
		return store.Version{}, err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, v := range f.versions {
		if v.DocumentID == documentID && v.ID == versionID {
			return v, nil
		}
	}
	return store.Version{}, sql.ErrNoRows
}

func (f *fakeStore) TouchDocumentContent(_ context.Context, documentID, updatedBy string, byteSize int64) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	d, ok := f.docs[documentID]
	if !ok {
		return sql.ErrNoRows
	}
	now := time.Date(2026, 2, 1, 0, 0, 0, 0, time.UTC)
	d.UpdatedAt = &now
	d.UpdatedBy = updatedBy
	d.ByteSize = byteSize
	f.docs[documentID] = d
	f.touches++
	return nil
}

func (f *fakeStore) ListAllDocuments(context.Context) ([]store.Document, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]store.Document, 0, len(f.docs))
	for _, d := range f.docs {
		out = append(out, d)
	}
	return out, nil
}

func (f *fakeStore) LookupUserIDByEmail(_ context.Context, email string) (string, error) {
	if err := f.fail("LookupUserIDByEmail"); err != nil {
		return "", err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	id, ok := f.users[email]
	if !ok {
		return "", sql.ErrNoRows
	}
	return id, nil
}

func (f *fakeStore) InsertDocument(ctx context.Context, doc store.Document) error {
	if f.insertDocumentFn != nil {
		if err := f.insertDocumentFn(ctx, doc); err != nil {
			return err
		}
	}
	f.addDocument(doc)
	return nil
}

func (f *fakeStore) UpdateDocumentMetadata(_ context.Context, id string, patch store.DocumentPatch, updatedBy string) (store.Document, error) {
	if err := f.fail("UpdateDocumentMetadata"); err != nil {
		return store.Document{}, err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	d, ok := f.docs[id]
	if !ok {
		return store.Document{}, sql.ErrNoRows
	}
	set := func(dst *string, v *string) {
		if v != nil {
			*dst = *v
		}
	}
	set(&d.Name, patch.Name)
	set(&d.Description, patch.Description)
	set(&d.Category, patch.Category)
	set(&d.LogicalType, patch.LogicalType)
	set(&d.Status, patch.Status)
	set(&d.AccessLevel, patch.AccessLevel)
	if patch.Tags != nil {
		d.Tags = *patch.Tags
	}
	now := time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC)
	d.UpdatedAt = &now
	d.UpdatedBy = updatedBy
	f.docs[id] = d
	return d, nil
}

func (f *fakeStore) DeleteDocument(_ context.Context, id string) error {
	if err := f.fail("DeleteDocument"); err != nil {
		return err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	if _, ok := f.docs[id]; !ok {
		return sql.ErrNoRows
	}
	delete(f.docs, id)
	for k, p := range f.perms {
		if p.DocumentID == id {
			delete(f.perms, k)
		}
	}
	return nil
}

func (f *fakeStore) ListPermissionsForDocument(_ context.Context, documentID string) ([]store.Permission, error) {
	if err := f.fail("ListPermissionsForDocument"); err != nil {
		return nil, err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []store.Permission
	for _, p := range f.perms {
		if p.DocumentID == documentID {
			out = append(out, p)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].UserID < out[j].UserID })
	return out, nil
}

func (f *fakeStore) UpsertPermission(ctx context.Context, p store.Permission) (store.Permission, bool, error) {
	if err := f.fail("UpsertPermission"); err != nil {
		return store.Permission{}, false, err
	}
	if f.upsertPermissionF != nil {
		return f.upsertPermissionF(ctx, p)
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	key := permKey(p.DocumentID, p.UserID)
	if existing, ok := f.perms[key]; ok {
		existing.Role = p.Role
		f.perms[key] = existing
		return existing, false, nil
	}
	f.perms[key] = p
	return p, true, nil
}

func (f *fakeStore) DeletePermission(_ context.Context, documentID, userID string) error {
	if err := f.fail("DeletePermission"); err != nil {
		return err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	key := permKey(documentID, userID)
	if _, ok := f.perms[key]; !ok {
		return sql.ErrNoRows
	}
	delete(f.perms, key)
	return nil
}

func (f *fakeStore) Ping(ctx context.Context) error {
	if f.pingFn != nil {
		return f.pingFn(ctx)
	}
	return nil
}

// fakeBlobs is an in-memory object store that also serves ReadText.
type fakeBlobs struct {
	mu      sync.Mutex
	objects map[string][]byte
	deleted []string

	putFn    func(path string, overwrite bool) error
	signFn   func(path string) (string, error)
	deleteFn func(paths []string) error
	readFn   func(path string) error
}

func newFakeBlobs() *fakeBlobs {
	return &fakeBlobs{objects: map[string][]byte{}}
}

func (b *fakeBlobs) Put(_ context.Context, path string, data []byte, _ string, overwrite bool) error {
	if b.putFn != nil {
		if err := b.putFn(path, overwrite); err != nil {
			return err
		}
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	b.objects[path] = append([]byte(nil), data...)
	return nil
}

func (b *fakeBlobs) SignedURL(_ context.Context, path string, ttl time.Duration) (string, error) {
	if b.signFn != nil {
		return b.signFn(path)
	}
	return "https://blobs.test/" + path + "?ttl=" + ttl.String(), nil
}

func (b *fakeBlobs) Delete(_ context.Context, paths []string) error {
	if b.deleteFn != nil {
		if err := b.deleteFn(paths); err != nil {
			return err
		}
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	for _, p := range paths {
		delete(b.objects, p)
		b.deleted = append(b.deleted, p)
	}
	return nil
}

func (b *fakeBlobs) ReadText(_ context.Context, path string) (string, error) {
	if b.readFn != nil {
		if err := b.readFn(path); err != nil {
			return "", err
		}
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	data, ok := b.objects[path]
	if !ok {
		return "", sql.ErrNoRows
	}
	return string(data), nil
}

func (b *fakeBlobs) object(path string) (string, bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	data, ok := b.objects[path]
	return string(data), ok
}

type idleTimer struct{}

func (idleTimer) Stop() bool { return true }

// newTestService builds a Service whose autosave timers never fire.
func newTestService(fs *fakeStore, fb *fakeBlobs) *Service {
	return buildTestService(Deps{Store: fs, Blobs: fb, Reader: fb, Log: zerolog.Nop()})
}

func newIndexedTestService(fs *fakeStore, fb *fakeBlobs, idx *fakeIndex) *Service {
	return buildTestService(Deps{Store: fs, Blobs: fb, Reader: fb, Index: idx, Log: zerolog.Nop()})
}

func buildTestService(deps Deps) *Service {
	svc := NewService(deps, Options{
		SignedURLTTL:   time.Minute,
		MaxUploadBytes: 1024,
		Editor: editsession.Config{
			AfterFunc: func(time.Duration, func()) editsession.Timer { return idleTimer{} },
		},
	})
	ids := 0
	svc.newID = func() string {
		ids++
		return "doc-" + string(rune('a'+ids-1))
	}
	svc.now = func() time.Time { return time.Date(2026, 1, 15, 12, 0, 0, 0, time.UTC) }
	return svc
}

// fakeIndex is a healthy search backend that records writes. Writes arrive
// from background goroutines.
type fakeIndex struct {
	mu      sync.Mutex
	records []search.DocumentRecord
	deleted []string
}

func (f *fakeIndex) Healthy() bool { return true }

func (f *fakeIndex) Search(search.Query) ([]search.Hit, int, error) { return nil, 0, nil }

func (f *fakeIndex) IndexDocuments(docs []search.DocumentRecord) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.records = append(f.records, docs...)
	return nil
}

func (f *fakeIndex) DeleteDocument(id string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.deleted = append(f.deleted, id)
	return nil
}

func (f *fakeIndex) last(id string) (search.DocumentRecord, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for i := len(f.records) - 1; i >= 0; i-- {
		if f.records[i].ID == id {
			return f.records[i], true
		}
	}
	return search.DocumentRecord{}, false
}

func ownedDoc(id, owner, kind string) store.Document {
	return store.Document{
		ID:          id,
		OwnerID:     owner,
		Name:        id + ".txt",
		StoragePath: owner + "/" + id + ".txt",
		ByteSize:    5,
		MediaKind:   kind,
		Status:      "pending",
		AccessLevel: "private",
		CreatedAt:   time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC),
	}
}
