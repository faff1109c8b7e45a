// Package editsession implements in-place editing of text documents with
// debounced autosave and a version snapshot before every overwrite.
package editsession

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"smartdocs/api/internal/media"
	"smartdocs/api/internal/metrics"
	"smartdocs/api/internal/store"

	"github.com/rs/zerolog"
)

type Status string

const (
	StatusSaved   Status = "saved"
	StatusUnsaved Status = "unsaved"
	StatusSaving  Status = "saving"
)

const (
	DefaultDelay       = 3 * time.Second
	DefaultSaveTimeout = 30 * time.Second
	DefaultIdleTimeout = 30 * time.Minute
)

var (
	ErrConflictOnWrite     = errors.New("content write failed")
	ErrUpstreamUnavailable = errors.New("upstream unavailable")
	ErrSaveInProgress      = errors.New("save already in progress")
	ErrUnsavedChanges      = errors.New("session has unsaved changes")
	ErrClosed              = errors.New("session closed")
	ErrNotEditable         = errors.New("document kind is not editable")
	ErrSessionNotFound     = errors.New("edit session not found")
)

type VersionAppender interface {
	Append(ctx context.Context, documentID, content string) (store.Version, error)
}

type BlobWriter interface {
	Put(ctx context.Context, path string, data []byte, contentType string, overwrite bool) error
}

type RecordToucher interface {
	TouchDocumentContent(ctx context.Context, documentID, updatedBy string, byteSize int64) error
}

// Timer is the subset of *time.Timer a session needs.
type Timer interface {
	Stop() bool
}

type AfterFunc func(d time.Duration, f func()) Timer

func realAfterFunc(d time.Duration, f func()) Timer {
	return time.AfterFunc(d, f)
}

type Deps struct {
	Versions VersionAppender
	Blobs    BlobWriter
	Records  RecordToucher
	Metrics  *metrics.Metrics
	Log      zerolog.Logger
	// OnSaved runs after content reaches the blob store, outside any lock.
	OnSaved func(doc store.Document, content string)
}

type Config struct {
	Delay       time.Duration
	SaveTimeout time.Duration
	// IdleTimeout is how long a session may go without Edit, Save or State
	// before the manager's sweep closes it.
	IdleTimeout time.Duration
	AfterFunc   AfterFunc
	Now         func() time.Time
}

func (c Config) withDefaults() Config {
	if c.Delay <= 0 {
		c.Delay = DefaultDelay
	}
	if c.SaveTimeout <= 0 {
		c.SaveTimeout = DefaultSaveTimeout
	}
	if c.IdleTimeout <= 0 {
		c.IdleTimeout = DefaultIdleTimeout
	}
	if c.AfterFunc == nil {
		c.AfterFunc = realAfterFunc
	}
	if c.Now == nil {
		c.Now = time.Now
	}
	return c
}

// State is a point-in-time view of a session.
type State struct {
	ID         string     `json:"id"`
	DocumentID string     `json:"documentId"`
	Status     Status     `json:"status"`
	Content    string     `json:"content"`
	Dirty      bool       `json:"dirty"`
	SavedAt    *time.Time `json:"savedAt,omitempty"`
	LastError  string     `json:"lastError,omitempty"`
}

// Session is the editing state of one open text document for one user.
// All methods are safe for concurrent use.
type Session struct {
	id       string
	userID   string
	document store.Document
	deps     Deps
	cfg      Config

	mu       sync.Mutex
	baseline string
	working  string
	status   Status
	// inFlight holds the content being written by the running save.
	inFlight *string
	deferred bool
	done     chan struct{}
	timer    Timer
	timerGen uint64
	closed   bool
	savedAt  *time.Time
	lastErr  error
	// lastActive is the last time the owner used the session.
	lastActive time.Time
}

func newSession(id, userID string, doc store.Document, content string, deps Deps, cfg Config) *Session {
	cfg = cfg.withDefaults()
	return &Session{
		id:         id,
		userID:     userID,
		document:   doc,
		deps:       deps,
		cfg:        cfg,
		baseline:   content,
		working:    content,
		status:     StatusSaved,
		lastActive: cfg.Now(),
	}
}

func (s *Session) ID() string { return s.id }
func (s *Session) UserID() string { return s.userID }
func (s *Session) Document() store.Document { return s.document }

func (s *Session) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.lastActive = s.cfg.Now()
	st := State{
		ID:         s.id,
		DocumentID: s.document.ID,
		Status:     s.status,
		Content:    s.working,
		Dirty:      s.hasUnsavedLocked(),
		SavedAt:    s.savedAt,
	}
	if s.lastErr != nil {
		st.LastError = s.lastErr.Error()
	}
	return st
}

// Edit replaces the working content. Every call restarts the autosave
// delay; only the last content within the delay is written.
func (s *Session) Edit(content string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return ErrClosed
	}

	s.lastActive = s.cfg.Now()
	s.working = content
	switch {
	case s.inFlight != nil:
		s.armLocked()
	case s.working == s.baseline:
		s.status = StatusSaved
		s.stopTimerLocked()
	default:
		s.status = StatusUnsaved
		s.armLocked()
	}
	return nil
}

// Restore loads historical content as a new unsaved change. History is not
// modified.
func (s *Session) Restore(content string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return ErrClosed
	}

	s.lastActive = s.cfg.Now()
	s.working = content
	if s.inFlight == nil {
		s.status = StatusUnsaved
	}
	s.armLocked()
	return nil
}

// Save writes the working content immediately, bypassing the autosave
// delay. It is a no-op when nothing changed since the last save.
func (s *Session) Save(ctx context.Context) error {
	return s.save(ctx, true)
}

// save is Save for the owner (active set) or for the manager flushing a
// session on its own, which must not count as activity.
func (s *Session) save(ctx context.Context, active bool) error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return ErrClosed
	}
	if active {
		s.lastActive = s.cfg.Now()
	}
	if s.inFlight != nil {
		s.mu.Unlock()
		return ErrSaveInProgress
	}
	s.stopTimerLocked()
	if s.working == s.baseline {
		s.status = StatusSaved
		s.mu.Unlock()
		return nil
	}
	job := s.beginSaveLocked()
	s.mu.Unlock()

	return s.runSave(ctx, job)
}

// Close ends the session. Unsaved changes are only dropped when discard is
// set. A save already running completes and its outcome is ignored.
func (s *Session) Close(discard bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil
	}
	if !discard && s.hasUnsavedLocked() {
		return ErrUnsavedChanges
	}
	s.closed = true
	s.stopTimerLocked()
	return nil
}

// LastActive is the last time the owner edited, saved or read the session.
func (s *Session) LastActive() time.Time {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lastActive
}

// closeIdle closes the session unless it was used after cutoff or holds
// unsaved changes.
func (s *Session) closeIdle(cutoff time.Time) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return true
	}
	if s.lastActive.After(cutoff) || s.hasUnsavedLocked() {
		return false
	}
	s.closed = true
	s.stopTimerLocked()
	return true
}

// WaitIdle blocks until no save is running.
func (s *Session) WaitIdle(ctx context.Context) error {
	for {
		s.mu.Lock()
		if s.inFlight == nil {
			s.mu.Unlock()
			return nil
		}
		done := s.done
		s.mu.Unlock()

		select {
		case <-done:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

func (s *Session) hasUnsavedLocked() bool {
	if s.inFlight != nil {
		return s.working != *s.inFlight
	}
	return s.status == StatusUnsaved || s.working != s.baseline
}

func (s *Session) armLocked() {
	s.stopTimerLocked()
	s.timerGen++
	gen := s.timerGen
	s.timer = s.cfg.AfterFunc(s.cfg.Delay, func() { s.fire(gen) })
}

func (s *Session) stopTimerLocked() {
	if s.timer != nil {
		s.timer.Stop()
		s.timer = nil
	}
	s.timerGen++
}

func (s *Session) fire(gen uint64) {
	s.mu.Lock()
	if s.closed || gen != s.timerGen {
		s.mu.Unlock()
		return
	}
	s.timer = nil
	if s.inFlight != nil {
		s.deferred = true
		s.mu.Unlock()
		return
	}
	if s.working == s.baseline {
		s.status = StatusSaved
		s.mu.Unlock()
		return
	}
	job := s.beginSaveLocked()
	s.mu.Unlock()

	if err := s.runSave(context.Background(), job); err != nil {
		s.deps.Log.Warn().Err(err).Str("document_id", s.document.ID).Str("session_id", s.id).Msg("autosave failed")
	}
}

type saveJob struct {
	baseline string
	content  string
}

func (s *Session) beginSaveLocked() saveJob {
	job := saveJob{baseline: s.baseline, content: s.working}
	s.inFlight = &job.content
	s.status = StatusSaving
	s.deferred = false
	s.done = make(chan struct{})
	return job
}

func (s *Session) runSave(parent context.Context, job saveJob) error {
	start := s.cfg.Now()
	ctx, cancel := context.WithTimeout(context.WithoutCancel(parent), s.cfg.SaveTimeout)
	defer cancel()

	advanced, err := s.persist(ctx, job)
	s.finishSave(job, advanced, err)
	s.deps.Metrics.ObserveSave(s.cfg.Now().Sub(start), err)
	if advanced && s.deps.OnSaved != nil {
		s.deps.OnSaved(s.document, job.content)
	}
	return err
}

// persist snapshots the previous content, overwrites the blob and then
// stamps the record. advanced reports whether the blob now holds
// job.content.
func (s *Session) persist(ctx context.Context, job saveJob) (advanced bool, err error) {
	if _, err := s.deps.Versions.Append(ctx, s.document.ID, job.baseline); err != nil {
		return false, fmt.Errorf("%w: snapshot previous content: %w", ErrUpstreamUnavailable, err)
	}
	s.deps.Metrics.VersionAppended()

	kind := media.Parse(s.document.MediaKind)
	if err := s.deps.Blobs.Put(ctx, s.document.StoragePath, []byte(job.content), media.ContentType(kind), true); err != nil {
		return false, fmt.Errorf("%w: %w", ErrConflictOnWrite, err)
	}

	if err := s.deps.Records.TouchDocumentContent(ctx, s.document.ID, s.userID, int64(len(job.content))); err != nil {
		return true, fmt.Errorf("%w: update document record: %w", ErrUpstreamUnavailable, err)
	}
	return true, nil
}

func (s *Session) finishSave(job saveJob, advanced bool, err error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.inFlight = nil
	close(s.done)
	if advanced {
		s.baseline = job.content
		now := s.cfg.Now()
		s.savedAt = &now
	}
	s.lastErr = err
	if s.closed {
		return
	}

	if s.working == s.baseline {
		s.status = StatusSaved
	} else {
		s.status = StatusUnsaved
	}
	if s.deferred {
		s.deferred = false
		if s.status == StatusUnsaved {
			s.armLocked()
		}
	}
}
