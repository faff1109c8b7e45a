package app

import (
	"errors"
	"io"
	"mime/multipart"
	"net/http"
	"strconv"
	"strings"
	"time"

	"smartdocs/api/internal/catalog"
	"smartdocs/api/internal/media"
	"smartdocs/api/internal/rbac"
	"smartdocs/api/internal/store"

	"github.com/go-chi/chi/v5"
)

type documentView struct {
	ID          string          `json:"id"`
	OwnerID     string          `json:"ownerId"`
	Name        string          `json:"name"`
	ByteSize    int64           `json:"byteSize"`
	MediaKind   media.Kind      `json:"mediaKind"`
	Preview     media.Preview   `json:"preview"`
	Description string          `json:"description"`
	Category    string          `json:"category"`
	LogicalType string          `json:"logicalType"`
	Status      string          `json:"status"`
	Tags        []string        `json:"tags"`
	AccessLevel string          `json:"accessLevel"`
	CreatedAt   time.Time       `json:"createdAt"`
	UpdatedAt   *time.Time      `json:"updatedAt,omitempty"`
	UpdatedBy   string          `json:"updatedBy,omitempty"`
	Role        rbac.Role       `json:"role"`
	Owned       bool            `json:"owned"`
	SharedAt    *time.Time      `json:"sharedAt,omitempty"`
	Permissions permissionsView `json:"permissions"`
	Content     *string         `json:"content,omitempty"`
}

type permissionsView struct {
	CanEdit   bool `json:"canEdit"`
	CanShare  bool `json:"canShare"`
	CanDelete bool `json:"canDelete"`
}

func viewEntry(e catalog.Entry) documentView {
	kind := e.Kind()
	tags := e.Document.Tags
	if tags == nil {
		tags = []string{}
	}
	return documentView{
		ID:          e.Document.ID,
		OwnerID:     e.Document.OwnerID,
		Name:        e.Document.Name,
		ByteSize:    e.Document.ByteSize,
		MediaKind:   kind,
		Preview:     media.PreviewFor(kind),
		Description: e.Document.Description,
		Category:    e.Document.Category,
		LogicalType: e.Document.LogicalType,
		Status:      e.Document.Status,
		Tags:        tags,
		AccessLevel: e.Document.AccessLevel,
		CreatedAt:   e.Document.CreatedAt,
		UpdatedAt:   e.Document.UpdatedAt,
		UpdatedBy:   e.Document.UpdatedBy,
		Role:        e.EffectiveRole(),
		Owned:       e.Owned(),
		SharedAt:    e.SharedAt,
		Permissions: permissionsView{
			CanEdit:   e.CanEdit(),
			CanShare:  e.CanShare(),
			CanDelete: e.CanDelete(),
		},
		Content: e.Content,
	}
}

func viewEntries(entries []catalog.Entry) []documentView {
	out := make([]documentView, 0, len(entries))
	for _, e := range entries {
		out = append(out, viewEntry(e))
	}
	return out
}

type shareView struct {
	UserID    string    `json:"userId"`
	Email     string    `json:"email,omitempty"`
	Role      rbac.Role `json:"role"`
	GrantedAt time.Time `json:"grantedAt"`
}

func viewShare(p store.Permission) shareView {
	return shareView{UserID: p.UserID, Email: p.UserEmail, Role: rbac.Normalize(p.Role), GrantedAt: p.GrantedAt}
}

func (s *HTTPServer) handleCategories(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{"categories": s.service.Categories()})
}

func (s *HTTPServer) handleListDocuments(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	entries, err := s.service.ListDocuments(r.Context(), userID(r), ListQuery{
		Query:    q.Get("q"),
		Kind:     q.Get("kind"),
		Category: q.Get("category"),
		Sort:     q.Get("sort"),
	})
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"documents": viewEntries(entries), "total": len(entries)})
}

func (s *HTTPServer) handleSummary(w http.ResponseWriter, r *http.Request) {
	summary, err := s.service.Summary(r.Context(), userID(r))
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, summary)
}

type uploadFailure struct {
	Name  string `json:"name"`
	Code  string `json:"code"`
	Error string `json:"error"`
}

// handleUpload accepts one or more "file" parts. Metadata fields apply to
// every file in the request.
func (s *HTTPServer) handleUpload(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, s.cfg.MaxUploadBytes+(1<<20))
	if err := r.ParseMultipartForm(32 << 20); err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			writeError(w, http.StatusRequestEntityTooLarge, CodeValidation, "Upload too large", nil)
			return
		}
		writeError(w, http.StatusBadRequest, "INVALID_BODY", "Expected multipart form data", nil)
		return
	}
	defer r.MultipartForm.RemoveAll()

	files := r.MultipartForm.File["file"]
	if len(files) == 0 {
		writeError(w, http.StatusUnprocessableEntity, CodeValidation, "file is required", nil)
		return
	}

	var tags []string
	if raw := strings.TrimSpace(r.FormValue("tags")); raw != "" {
		tags = strings.Split(raw, ",")
	}

	var (
		uploaded []documentView
		failures []uploadFailure
		firstErr error
	)
	for _, header := range files {
		data, err := readPart(header, s.cfg.MaxUploadBytes)
		if err != nil {
			writeError(w, http.StatusBadRequest, "INVALID_BODY", "Could not read upload", nil)
			return
		}
		name := header.Filename
		if len(files) == 1 && strings.TrimSpace(r.FormValue("name")) != "" {
			name = r.FormValue("name")
		}
		entry, err := s.service.Upload(r.Context(), userID(r), UploadInput{
			Name:        name,
			ContentType: header.Header.Get("Content-Type"),
			Data:        data,
			Description: r.FormValue("description"),
			Category:    r.FormValue("category"),
			LogicalType: r.FormValue("logicalType"),
			Tags:        tags,
		})
		if err != nil {
			if firstErr == nil {
				firstErr = err
			}
			_, code, message, _ := mapError(err)
			failures = append(failures, uploadFailure{Name: name, Code: code, Error: message})
			continue
		}
		uploaded = append(uploaded, viewEntry(entry))
	}

	if len(uploaded) == 0 {
		s.fail(w, r, firstErr)
		return
	}
	writeJSON(w, http.StatusCreated, map[string]any{"documents": uploaded, "failures": failures})
}

// readPart reads at most limit+1 bytes so oversize files fail validation.
func readPart(header *multipart.FileHeader, limit int64) ([]byte, error) {
	file, err := header.Open()
	if err != nil {
		return nil, err
	}
	defer file.Close()
	return io.ReadAll(io.LimitReader(file, limit+1))
}

func (s *HTTPServer) handleDownloadAll(w http.ResponseWriter, r *http.Request) {
	links, err := s.service.DownloadAll(r.Context(), userID(r))
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"downloads": links})
}

func (s *HTTPServer) handleGetDocument(w http.ResponseWriter, r *http.Request) {
	entry, err := s.service.GetDocument(r.Context(), userID(r), chi.URLParam(r, "documentID"))
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, viewEntry(entry))
}

func (s *HTTPServer) handleUpdateDocument(w http.ResponseWriter, r *http.Request) {
	var body MetadataInput
	if err := decodeBody(r, &body); err != nil {
		writeError(w, http.StatusBadRequest, "INVALID_BODY", err.Error(), nil)
		return
	}
	entry, err := s.service.UpdateMetadata(r.Context(), userID(r), chi.URLParam(r, "documentID"), body)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, viewEntry(entry))
}

func (s *HTTPServer) handleDeleteDocument(w http.ResponseWriter, r *http.Request) {
	if err := s.service.DeleteDocument(r.Context(), userID(r), chi.URLParam(r, "documentID")); err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"ok": true})
}

func (s *HTTPServer) handleDownload(w http.ResponseWriter, r *http.Request) {
	link, err := s.service.DownloadURL(r.Context(), userID(r), chi.URLParam(r, "documentID"))
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, link)
}

func (s *HTTPServer) handleListShares(w http.ResponseWriter, r *http.Request) {
	perms, err := s.service.ListShares(r.Context(), userID(r), chi.URLParam(r, "documentID"))
	if err != nil {
		s.fail(w, r, err)
		return
	}
	shares := make([]shareView, 0, len(perms))
	for _, p := range perms {
		shares = append(shares, viewShare(p))
	}
	writeJSON(w, http.StatusOK, map[string]any{"shares": shares})
}

func (s *HTTPServer) handleShare(w http.ResponseWriter, r *http.Request) {
	var body ShareInput
	if err := decodeBody(r, &body); err != nil {
		writeError(w, http.StatusBadRequest, "INVALID_BODY", err.Error(), nil)
		return
	}
	result, err := s.service.ShareDocument(r.Context(), userID(r), chi.URLParam(r, "documentID"), body)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	status := http.StatusOK
	if result.Created {
		status = http.StatusCreated
	}
	writeJSON(w, status, map[string]any{"share": viewShare(result.Permission), "created": result.Created})
}

func (s *HTTPServer) handleRevokeShare(w http.ResponseWriter, r *http.Request) {
	err := s.service.RevokeShare(r.Context(), userID(r), chi.URLParam(r, "documentID"), chi.URLParam(r, "userID"))
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"ok": true})
}

func (s *HTTPServer) handleListVersions(w http.ResponseWriter, r *http.Request) {
	items, err := s.service.ListVersions(r.Context(), userID(r), chi.URLParam(r, "documentID"))
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"versions": items})
}

func (s *HTTPServer) handleSearch(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	deep := false
	if raw := strings.TrimSpace(q.Get("deep")); raw != "" {
		parsed, err := strconv.ParseBool(raw)
		if err != nil {
			writeError(w, http.StatusUnprocessableEntity, CodeValidation, "deep must be a boolean", nil)
			return
		}
		deep = parsed
	}
	resp, err := s.service.Search(r.Context(), userID(r), q.Get("q"), deep)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, resp)
}
