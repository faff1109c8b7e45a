package app

import (
	"database/sql"
	"errors"
	"fmt"
	"net/http"

	"smartdocs/api/internal/blob"
	"smartdocs/api/internal/catalog"
	"smartdocs/api/internal/editsession"
	"smartdocs/api/internal/versions"
)

type DomainError struct {
	Status  int
	Code    string
	Message string
	Details any
}

func (e *DomainError) Error() string {
	if e == nil {
		return ""
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

func domainError(status int, code, message string, details any) *DomainError {
	return &DomainError{
		Status:  status,
		Code:    code,
		Message: message,
		Details: details,
	}
}

const (
	CodeNotFound            = "NOT_FOUND"
	CodePermissionDenied    = "PERMISSION_DENIED"
	CodeConflictOnWrite     = "CONFLICT_ON_WRITE"
	CodeUpstreamUnavailable = "UPSTREAM_UNAVAILABLE"
	CodeRecipientNotFound   = "RECIPIENT_NOT_FOUND"
	CodeValidation          = "VALIDATION_ERROR"
	CodeUnsavedChanges      = "UNSAVED_CHANGES"
	CodeSaveInProgress      = "SAVE_IN_PROGRESS"
	CodeUnsupportedMedia    = "UNSUPPORTED_MEDIA"
)

func notFound(message string) *DomainError {
	return domainError(http.StatusNotFound, CodeNotFound, message, nil)
}

func permissionDenied(message string) *DomainError {
	return domainError(http.StatusForbidden, CodePermissionDenied, message, nil)
}

func validationError(message string, details any) *DomainError {
	return domainError(http.StatusUnprocessableEntity, CodeValidation, message, details)
}

func upstreamUnavailable(message string) *DomainError {
	return domainError(http.StatusBadGateway, CodeUpstreamUnavailable, message, nil)
}

// translate maps package sentinels onto the HTTP-facing taxonomy. Errors it
// does not recognise are returned unchanged and surface as SERVER_ERROR.
func translate(err error) error {
	if err == nil {
		return nil
	}
	var domainErr *DomainError
	if errors.As(err, &domainErr) {
		return err
	}
	switch {
	case errors.Is(err, catalog.ErrNotFound), errors.Is(err, sql.ErrNoRows):
		return notFound("Document not found")
	case errors.Is(err, versions.ErrNotFound):
		return notFound("Version not found")
	case errors.Is(err, editsession.ErrSessionNotFound), errors.Is(err, editsession.ErrClosed):
		return notFound("Edit session not found")
	case errors.Is(err, editsession.ErrConflictOnWrite), errors.Is(err, blob.ErrExists):
		return domainError(http.StatusConflict, CodeConflictOnWrite, "Content could not be written", nil)
	case errors.Is(err, editsession.ErrSaveInProgress):
		return domainError(http.StatusConflict, CodeSaveInProgress, "A save is already in progress", nil)
	case errors.Is(err, editsession.ErrUnsavedChanges):
		return domainError(http.StatusConflict, CodeUnsavedChanges, "Session has unsaved changes", nil)
	case errors.Is(err, editsession.ErrNotEditable):
		return domainError(http.StatusUnsupportedMediaType, CodeUnsupportedMedia, "Only text documents can be edited", nil)
	case errors.Is(err, versions.ErrUnavailable):
		return upstreamUnavailable("The record store is unavailable")
	case errors.Is(err, catalog.ErrCatalogUnavailable), errors.Is(err, editsession.ErrUpstreamUnavailable):
		return upstreamUnavailable("A storage backend is unavailable")
	}
	return err
}
