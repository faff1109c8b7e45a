package catalog

import (
	"sort"
	"strings"

	"smartdocs/api/internal/media"
)

type Filter struct {
	Query    string
	Kind     media.Kind
	Category string
}

// Apply keeps entries whose name contains Query (case-insensitive) and whose
// kind and category equal the non-empty filter fields.
func (f Filter) Apply(entries []Entry) []Entry {
	query := strings.ToLower(strings.TrimSpace(f.Query))
	out := make([]Entry, 0, len(entries))
	for _, e := range entries {
		if query != "" && !strings.Contains(strings.ToLower(e.Document.Name), query) {
			continue
		}
		if f.Kind != "" && e.Kind() != f.Kind {
			continue
		}
		if f.Category != "" && e.Document.Category != f.Category {
			continue
		}
		out = append(out, e)
	}
	return out
}

type SortKey string

const (
	SortRelevance SortKey = "relevance"
	SortName      SortKey = "name"
	SortSize      SortKey = "size"
)

func ParseSortKey(value string) SortKey {
	switch SortKey(strings.ToLower(strings.TrimSpace(value))) {
	case SortName:
		return SortName
	case SortSize:
		return SortSize
	default:
		return SortRelevance
	}
}

// SortEntries sorts in place. Ties keep their existing order.
func SortEntries(entries []Entry, key SortKey) {
	switch key {
	case SortName:
		sort.SliceStable(entries, func(i, j int) bool {
			return strings.ToLower(entries[i].Document.Name) < strings.ToLower(entries[j].Document.Name)
		})
	case SortSize:
		sort.SliceStable(entries, func(i, j int) bool {
			return entries[i].Document.ByteSize > entries[j].Document.ByteSize
		})
	default:
		sort.SliceStable(entries, func(i, j int) bool {
			return entries[i].RelevanceAt.After(entries[j].RelevanceAt)
		})
	}
}

type Summary struct {
	Count      int                `json:"count"`
	Owned      int                `json:"owned"`
	Shared     int                `json:"shared"`
	TotalBytes int64              `json:"totalBytes"`
	ByKind     map[media.Kind]int `json:"byKind"`
}

// Summarize counts documents and sums their sizes. Only owned documents
// count towards TotalBytes.
func Summarize(entries []Entry) Summary {
	s := Summary{ByKind: map[media.Kind]int{}}
	for _, e := range entries {
		s.Count++
		s.ByKind[e.Kind()]++
		if e.Owned() {
			s.Owned++
			s.TotalBytes += e.Document.ByteSize
		} else {
			s.Shared++
		}
	}
	return s
}
