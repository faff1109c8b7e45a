// Package media classifies uploaded files into the closed set of document kinds.
package media

import (
	"path/filepath"
	"strings"
)

type Kind string

const (
	KindPDF   Kind = "pdf"
	KindWord  Kind = "word"
	KindExcel Kind = "excel"
	KindImage Kind = "image"
	KindText  Kind = "text"
	KindOther Kind = "other"
)

// Kinds lists every kind in display order.
var Kinds = []Kind{KindPDF, KindWord, KindExcel, KindImage, KindText, KindOther}

var officeMIME = map[string]Kind{
	"application/msword": KindWord,
	"application/vnd.openxmlformats-officedocument.wordprocessingml.document": KindWord,
	"application/vnd.ms-excel": KindExcel,
	"application/vnd.openxmlformats-officedocument.spreadsheetml.sheet": KindExcel,
}

// Detect resolves a kind from the MIME type first and the file extension second.
func Detect(mime, filename string) Kind {
	mime = strings.ToLower(strings.TrimSpace(mime))
	if i := strings.IndexByte(mime, ';'); i >= 0 {
		mime = strings.TrimSpace(mime[:i])
	}

	switch {
	case mime == "application/pdf":
		return KindPDF
	case strings.HasPrefix(mime, "image/"):
		return KindImage
	case strings.HasPrefix(mime, "text/"):
		return KindText
	}
	if kind, ok := officeMIME[mime]; ok {
		return kind
	}

	switch Extension(filename) {
	case "doc", "docx":
		return KindWord
	case "xls", "xlsx":
		return KindExcel
	case "pdf":
		return KindPDF
	case "txt", "md":
		return KindText
	default:
		return KindOther
	}
}

// Extension returns the lowercased extension without the dot, or "bin".
func Extension(filename string) string {
	ext := strings.TrimPrefix(strings.ToLower(filepath.Ext(strings.TrimSpace(filename))), ".")
	if ext == "" {
		return "bin"
	}
	return ext
}

// Parse maps a stored value back to a Kind; anything unknown is KindOther.
func Parse(value string) Kind {
	if k, ok := Lookup(value); ok {
		return k
	}
	return KindOther
}

// Lookup is Parse for user input: ok is false for an unknown value.
func Lookup(value string) (Kind, bool) {
	switch k := Kind(strings.ToLower(strings.TrimSpace(value))); k {
	case KindPDF, KindWord, KindExcel, KindImage, KindText, KindOther:
		return k, true
	default:
		return "", false
	}
}

// Preview is how a client should render a document of a given kind.
type Preview string

const (
	PreviewInlineText  Preview = "inline-text"
	PreviewInlineImage Preview = "inline-image"
	PreviewEmbeddedPDF Preview = "embedded-pdf"
	PreviewDownload    Preview = "download-only"
)

func PreviewFor(kind Kind) Preview {
	switch kind {
	case KindText:
		return PreviewInlineText
	case KindImage:
		return PreviewInlineImage
	case KindPDF:
		return PreviewEmbeddedPDF
	case KindWord, KindExcel, KindOther:
		return PreviewDownload
	default:
		return PreviewDownload
	}
}

// Editable reports whether the kind supports in-place edit sessions.
func Editable(kind Kind) bool {
	return kind == KindText
}

// ContentType is the MIME type used when writing edited content back.
func ContentType(kind Kind) string {
	switch kind {
	case KindText:
		return "text/plain; charset=utf-8"
	case KindPDF:
		return "application/pdf"
	default:
		return "application/octet-stream"
	}
}
