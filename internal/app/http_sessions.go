package app

import (
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
)

func (s *HTTPServer) handleOpenSession(w http.ResponseWriter, r *http.Request) {
	state, err := s.service.OpenSession(r.Context(), userID(r), chi.URLParam(r, "documentID"))
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, state)
}

func (s *HTTPServer) handleGetSession(w http.ResponseWriter, r *http.Request) {
	state, err := s.service.SessionState(userID(r), chi.URLParam(r, "sessionID"))
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, state)
}

func (s *HTTPServer) handleEditSession(w http.ResponseWriter, r *http.Request) {
	var body struct {
		Content *string `json:"content"`
	}
	if err := decodeBody(r, &body); err != nil {
		writeError(w, http.StatusBadRequest, "INVALID_BODY", err.Error(), nil)
		return
	}
	if body.Content == nil {
		writeError(w, http.StatusUnprocessableEntity, CodeValidation, "content is required", nil)
		return
	}
	state, err := s.service.EditSession(userID(r), chi.URLParam(r, "sessionID"), *body.Content)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, state)
}

// handleSaveSession reports a failed save with the session state in the
// error details so the client can show that its edits are still held.
func (s *HTTPServer) handleSaveSession(w http.ResponseWriter, r *http.Request) {
	state, err := s.service.SaveSession(r.Context(), userID(r), chi.URLParam(r, "sessionID"))
	if err != nil {
		status, code, message, _ := mapError(err)
		if state.ID == "" {
			s.fail(w, r, err)
			return
		}
		if status >= http.StatusInternalServerError {
			s.cfg.Log.Error().Err(err).Str("session_id", state.ID).Msg("save failed")
		}
		writeError(w, status, code, message, map[string]any{"session": state})
		return
	}
	writeJSON(w, http.StatusOK, state)
}

func (s *HTTPServer) handleRestoreSession(w http.ResponseWriter, r *http.Request) {
	var body struct {
		VersionID string `json:"versionId"`
	}
	if err := decodeBody(r, &body); err != nil {
		writeError(w, http.StatusBadRequest, "INVALID_BODY", err.Error(), nil)
		return
	}
	if body.VersionID == "" {
		writeError(w, http.StatusUnprocessableEntity, CodeValidation, "versionId is required", nil)
		return
	}
	state, err := s.service.RestoreVersion(r.Context(), userID(r), chi.URLParam(r, "sessionID"), body.VersionID)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, state)
}

func (s *HTTPServer) handleCloseSession(w http.ResponseWriter, r *http.Request) {
	discard := false
	if raw := r.URL.Query().Get("discard"); raw != "" {
		parsed, err := strconv.ParseBool(raw)
		if err != nil {
			writeError(w, http.StatusUnprocessableEntity, CodeValidation, "discard must be a boolean", nil)
			return
		}
		discard = parsed
	}
	if err := s.service.CloseSession(userID(r), chi.URLParam(r, "sessionID"), discard); err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"ok": true})
}
