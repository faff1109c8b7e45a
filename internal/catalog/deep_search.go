package catalog

import (
	"context"
	"strings"

	"smartdocs/api/internal/media"
)

type ItemError struct {
	DocumentID string
	Err        error
}

func (e ItemError) Error() string {
	return e.DocumentID + ": " + e.Err.Error()
}

// DeepSearch matches query against every entry's name and, for text
// documents, their stored content. Entries are visited one at a time. A
// content fetch failure is recorded and the search moves on.
func DeepSearch(ctx context.Context, reader TextReader, entries []Entry, query string) ([]Entry, []ItemError) {
	needle := strings.ToLower(strings.TrimSpace(query))
	if needle == "" {
		return entries, nil
	}

	var matches []Entry
	var failures []ItemError
	for _, e := range entries {
		if ctx.Err() != nil {
			failures = append(failures, ItemError{DocumentID: e.Document.ID, Err: ctx.Err()})
			continue
		}
		if strings.Contains(strings.ToLower(e.Document.Name), needle) {
			matches = append(matches, e)
			continue
		}
		if e.Kind() != media.KindText || reader == nil {
			continue
		}

		content := ""
		if e.Content != nil {
			content = *e.Content
		} else {
			fetched, err := reader.ReadText(ctx, e.Document.StoragePath)
			if err != nil {
				failures = append(failures, ItemError{DocumentID: e.Document.ID, Err: err})
				continue
			}
			content = fetched
		}
		if strings.Contains(strings.ToLower(content), needle) {
			matches = append(matches, e)
		}
	}
	return matches, failures
}
