package editsession

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"smartdocs/api/internal/media"
	"smartdocs/api/internal/store"

	"github.com/google/uuid"
)

type TextReader interface {
	ReadText(ctx context.Context, path string) (string, error)
}

// Manager is the in-process registry of open sessions. Sessions are never
// persisted.
type Manager struct {
	deps   Deps
	reader TextReader
	cfg    Config
	newID  func() string

	mu       sync.Mutex
	sessions map[string]*Session
}

func NewManager(deps Deps, reader TextReader, cfg Config) *Manager {
	return &Manager{
		deps:     deps,
		reader:   reader,
		cfg:      cfg.withDefaults(),
		newID:    uuid.NewString,
		sessions: map[string]*Session{},
	}
}

// Open loads the current content of doc and starts a session for userID.
// The caller is responsible for checking that userID may edit doc.
func (m *Manager) Open(ctx context.Context, userID string, doc store.Document) (*Session, error) {
	if !media.Editable(media.Parse(doc.MediaKind)) {
		return nil, ErrNotEditable
	}
	content, err := m.reader.ReadText(ctx, doc.StoragePath)
	if err != nil {
		return nil, fmt.Errorf("%w: load content: %w", ErrUpstreamUnavailable, err)
	}

	s := newSession(m.newID(), userID, doc, content, m.deps, m.cfg)
	m.mu.Lock()
	m.sessions[s.id] = s
	m.mu.Unlock()
	m.deps.Metrics.SessionOpened()
	m.deps.Log.Debug().Str("session_id", s.id).Str("document_id", doc.ID).Str("user_id", userID).Msg("edit session opened")
	return s, nil
}

// Get returns the session only to the user who opened it.
func (m *Manager) Get(sessionID, userID string) (*Session, error) {
	m.mu.Lock()
	s, ok := m.sessions[sessionID]
	m.mu.Unlock()
	if !ok || s.userID != userID {
		return nil, ErrSessionNotFound
	}
	return s, nil
}

func (m *Manager) Close(sessionID, userID string, discard bool) error {
	s, err := m.Get(sessionID, userID)
	if err != nil {
		return err
	}
	if err := s.Close(discard); err != nil {
		return err
	}
	m.remove(sessionID)
	return nil
}

func (m *Manager) remove(sessionID string) {
	m.mu.Lock()
	_, ok := m.sessions[sessionID]
	delete(m.sessions, sessionID)
	m.mu.Unlock()
	if ok {
		m.deps.Metrics.SessionClosed()
	}
}

// ForDocument lists the open session ids for a document, sorted.
func (m *Manager) ForDocument(documentID string) []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := []string{}
	for id, s := range m.sessions {
		if s.document.ID == documentID {
			out = append(out, id)
		}
	}
	sort.Strings(out)
	return out
}

// Drop closes every session on a document without saving. Used when the
// document itself is deleted.
func (m *Manager) Drop(documentID string) {
	for _, id := range m.ForDocument(documentID) {
		m.mu.Lock()
		s := m.sessions[id]
		m.mu.Unlock()
		if s != nil {
			_ = s.Close(true)
		}
		m.remove(id)
	}
}

func (m *Manager) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.sessions)
}

// Shutdown flushes pending edits of every session, waits for running saves
// and closes everything.
func (m *Manager) Shutdown(ctx context.Context) error {
	m.mu.Lock()
	sessions := make([]*Session, 0, len(m.sessions))
	for _, s := range m.sessions {
		sessions = append(sessions, s)
	}
	m.mu.Unlock()

	var errs []error
	for _, s := range sessions {
		if err := flush(ctx, s); err != nil {
			errs = append(errs, fmt.Errorf("flush session %s: %w", s.id, err))
		}
		_ = s.Close(true)
		m.remove(s.id)
	}
	return errors.Join(errs...)
}

// flush waits for a running save and then writes whatever is still unsaved.
// It does not count as owner activity.
func flush(ctx context.Context, s *Session) error {
	if err := s.WaitIdle(ctx); err != nil {
		return err
	}
	err := s.save(ctx, false)
	if errors.Is(err, ErrSaveInProgress) {
		if err = s.WaitIdle(ctx); err == nil {
			err = s.save(ctx, false)
		}
	}
	if errors.Is(err, ErrClosed) {
		return nil
	}
	return err
}

// Sweep closes sessions whose owner has not used them for the idle timeout.
// Unsaved changes are saved first; a session whose save fails stays open
// and is retried on the next sweep. It returns the number of sessions
// closed.
func (m *Manager) Sweep(ctx context.Context) int {
	cutoff := m.cfg.Now().Add(-m.cfg.IdleTimeout)

	m.mu.Lock()
	sessions := make([]*Session, 0, len(m.sessions))
	for _, s := range m.sessions {
		sessions = append(sessions, s)
	}
	m.mu.Unlock()

	closed := 0
	for _, s := range sessions {
		if s.LastActive().After(cutoff) {
			continue
		}
		if err := flush(ctx, s); err != nil {
			m.deps.Log.Warn().Err(err).Str("session_id", s.id).Str("document_id", s.document.ID).Msg("idle session save failed")
			continue
		}
		if !s.closeIdle(cutoff) {
			continue
		}
		m.remove(s.id)
		closed++
		m.deps.Log.Info().Str("session_id", s.id).Str("document_id", s.document.ID).Str("user_id", s.userID).Msg("idle edit session closed")
	}
	return closed
}

// RunSweeper sweeps idle sessions periodically until ctx is done.
func (m *Manager) RunSweeper(ctx context.Context) {
	interval := m.cfg.IdleTimeout / 4
	if interval < time.Second {
		interval = time.Second
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			m.Sweep(ctx)
		}
	}
}
