package search

import (
	"context"
	"database/sql"
	"errors"
	"strings"
	"sync"
	"time"

	"smartdocs/api/internal/catalog"
	"smartdocs/api/internal/media"
	"smartdocs/api/internal/metrics"
	"smartdocs/api/internal/store"

	"github.com/rs/zerolog"
)

const (
	BackendName = "name"
	BackendDeep = "deep-scan"
)

const indexWriteTimeout = 30 * time.Second

// DocumentSource loads the current record of a document.
type DocumentSource interface {
	GetDocument(ctx context.Context, id string) (store.Document, error)
}

type indexJob func(ctx context.Context)

// Service answers searches over a caller's catalog and keeps the index in
// step with the record and blob stores.
type Service struct {
	backend Backend
	source  DocumentSource
	reader  catalog.TextReader
	metrics *metrics.Metrics
	log     zerolog.Logger
	// async runs index writes; replaced in tests.
	async func(func())

	mu      sync.Mutex
	pending map[string]indexJob
	running map[string]bool
	writers sync.WaitGroup
}

// NewService creates a search service. backend may be nil when no index is
// configured.
func NewService(backend Backend, source DocumentSource, reader catalog.TextReader, m *metrics.Metrics, log zerolog.Logger) *Service {
	return &Service{
		backend: backend,
		source:  source,
		reader:  reader,
		metrics: m,
		log:     log,
		async:   func(f func()) { go f() },
		pending: map[string]indexJob{},
		running: map[string]bool{},
	}
}

func (s *Service) indexAvailable() bool {
	return s.backend != nil && s.backend.Healthy()
}

// Search looks for text among entries. A shallow search only matches names.
// A deep search also matches the raw content of text documents by substring.
// The scan decides the result set; the index only contributes highlighted
// snippets for documents the scan matched.
func (s *Service) Search(ctx context.Context, text string, entries []catalog.Entry, deep bool) Response {
	text = strings.TrimSpace(text)
	if !deep {
		s.metrics.SearchServed(BackendName)
		matches := catalog.Filter{Query: text}.Apply(entries)
		return Response{Results: fromEntries(matches, text), Total: len(matches), Query: text, Backend: BackendName}
	}

	s.metrics.SearchServed(BackendDeep)
	matches, failures := catalog.DeepSearch(ctx, s.reader, entries, text)
	resp := Response{Results: fromEntries(matches, text), Total: len(matches), Query: text, Backend: BackendDeep}
	for _, f := range failures {
		resp.Failures = append(resp.Failures, Failure{DocumentID: f.DocumentID, Error: f.Err.Error()})
	}
	if text != "" && len(resp.Results) > 0 && s.indexAvailable() {
		s.attachSnippets(text, resp.Results)
	}
	return resp
}

func (s *Service) attachSnippets(text string, results []Result) {
	ids := make([]string, 0, len(results))
	for _, r := range results {
		if r.MatchedIn == "content" {
			ids = append(ids, r.DocumentID)
		}
	}
	if len(ids) == 0 {
		return
	}

	hits, _, err := s.backend.Search(Query{Text: text, AllowedIDs: ids, Limit: len(ids)})
	if err != nil {
		s.log.Debug().Err(err).Msg("snippet lookup failed")
		return
	}
	snippets := make(map[string]string, len(hits))
	for _, hit := range hits {
		if hit.Snippet != "" {
			snippets[hit.DocumentID] = hit.Snippet
		}
	}
	for i := range results {
		if snippet, ok := snippets[results[i].DocumentID]; ok && results[i].MatchedIn == "content" {
			results[i].Snippet = snippet
		}
	}
}

func fromEntries(entries []catalog.Entry, text string) []Result {
	needle := strings.ToLower(text)
	out := make([]Result, 0, len(entries))
	for _, e := range entries {
		matchedIn := "content"
		if strings.Contains(strings.ToLower(e.Document.Name), needle) {
			matchedIn = "name"
		}
		out = append(out, resultFor(e, matchedIn))
	}
	return out
}

func resultFor(e catalog.Entry, matchedIn string) Result {
	return Result{
		DocumentID: e.Document.ID,
		Name:       e.Document.Name,
		MediaKind:  string(e.Kind()),
		Category:   e.Document.Category,
		Role:       string(e.Role),
		MatchedIn:  matchedIn,
	}
}

// RecordFor builds the index record for doc. content is only kept for text
// documents.
func RecordFor(doc store.Document, content string) DocumentRecord {
	rec := DocumentRecord{
		ID:          doc.ID,
		OwnerID:     doc.OwnerID,
		Name:        doc.Name,
		Description: doc.Description,
		Category:    doc.Category,
		MediaKind:   doc.MediaKind,
		Tags:        doc.Tags,
	}
	if media.Parse(doc.MediaKind) == media.KindText {
		rec.Content = content
	}
	return rec
}

// enqueue schedules job as the next index write for documentID. Writes for
// one document run one at a time in submission order, and a job still
// waiting is replaced by a newer one.
func (s *Service) enqueue(documentID string, job indexJob) {
	s.mu.Lock()
	s.pending[documentID] = job
	if s.running[documentID] {
		s.mu.Unlock()
		return
	}
	s.running[documentID] = true
	s.writers.Add(1)
	s.mu.Unlock()

	s.async(func() { s.drain(documentID) })
}

func (s *Service) drain(documentID string) {
	defer s.writers.Done()
	for {
		s.mu.Lock()
		job, ok := s.pending[documentID]
		if !ok {
			delete(s.running, documentID)
			s.mu.Unlock()
			return
		}
		delete(s.pending, documentID)
		s.mu.Unlock()

		ctx, cancel := context.WithTimeout(context.Background(), indexWriteTimeout)
		job(ctx)
		cancel()
	}
}

// Wait blocks until every queued index write has run.
func (s *Service) Wait(ctx context.Context) error {
	done := make(chan struct{})
	go func() {
		s.writers.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// IndexDocument indexes a freshly created document whose record and content
// are already in hand.
func (s *Service) IndexDocument(doc store.Document, content string) {
	if !s.indexAvailable() {
		return
	}
	rec := RecordFor(doc, content)
	s.enqueue(doc.ID, func(context.Context) {
		if err := s.backend.IndexDocuments([]DocumentRecord{rec}); err != nil {
			s.log.Warn().Err(err).Str("document_id", doc.ID).Msg("index document")
		}
	})
}

// Refresh re-indexes a document from the record store and, for text, the
// blob store, as they are when the write runs. A document that no longer
// exists is removed from the index.
func (s *Service) Refresh(documentID string) {
	if !s.indexAvailable() || s.source == nil {
		return
	}
	s.enqueue(documentID, func(ctx context.Context) {
		doc, err := s.source.GetDocument(ctx, documentID)
		if errors.Is(err, sql.ErrNoRows) {
			s.removeFromIndex(documentID)
			return
		}
		if err != nil {
			s.log.Warn().Err(err).Str("document_id", documentID).Msg("refresh index: load document")
			return
		}

		content := ""
		if media.Parse(doc.MediaKind) == media.KindText && s.reader != nil {
			content, err = s.reader.ReadText(ctx, doc.StoragePath)
			if err != nil {
				s.log.Warn().Err(err).Str("document_id", documentID).Msg("refresh index: read content")
				return
			}
		}
		if err := s.backend.IndexDocuments([]DocumentRecord{RecordFor(doc, content)}); err != nil {
			s.log.Warn().Err(err).Str("document_id", documentID).Msg("index document")
		}
	})
}

// DeleteDocument removes a document from the index.
func (s *Service) DeleteDocument(id string) {
	if !s.indexAvailable() {
		return
	}
	s.enqueue(id, func(context.Context) { s.removeFromIndex(id) })
}

func (s *Service) removeFromIndex(id string) {
	if err := s.backend.DeleteDocument(id); err != nil {
		s.log.Warn().Err(err).Str("document_id", id).Msg("delete document from index")
	}
}

// ReindexSource lists every document for a full rebuild.
type ReindexSource interface {
	ListAllDocuments(ctx context.Context) ([]store.Document, error)
}

// ReindexAll pushes every document into the index. Text content that cannot
// be read is indexed without content.
func (s *Service) ReindexAll(ctx context.Context, source ReindexSource) {
	if !s.indexAvailable() || source == nil {
		return
	}
	docs, err := source.ListAllDocuments(ctx)
	if err != nil {
		s.log.Warn().Err(err).Msg("reindex load failed")
		return
	}

	records := make([]DocumentRecord, 0, len(docs))
	for _, doc := range docs {
		content := ""
		if media.Parse(doc.MediaKind) == media.KindText && s.reader != nil {
			text, err := s.reader.ReadText(ctx, doc.StoragePath)
			if err != nil {
				s.log.Warn().Err(err).Str("document_id", doc.ID).Msg("reindex content skipped")
			} else {
				content = text
			}
		}
		records = append(records, RecordFor(doc, content))
	}
	if err := s.backend.IndexDocuments(records); err != nil {
		s.log.Warn().Err(err).Msg("reindex documents")
		return
	}
	s.log.Info().Int("documents", len(records)).Msg("search index rebuilt")
}
