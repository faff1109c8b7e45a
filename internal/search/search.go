package search

// Result is a single search hit returned to the caller.
type Result struct {
	DocumentID string `json:"documentId"`
	Name       string `json:"name"`
	MediaKind  string `json:"mediaKind"`
	Category   string `json:"category,omitempty"`
	Role       string `json:"role"`
	Snippet    string `json:"snippet,omitempty"`
	MatchedIn  string `json:"matchedIn"`
}

// Query describes an index search restricted to a set of document ids.
type Query struct {
	Text       string
	AllowedIDs []string
	Limit      int
}

// Failure is a document that could not be searched.
type Failure struct {
	DocumentID string `json:"documentId"`
	Error      string `json:"error"`
}

// Response is the envelope returned by the search endpoint.
type Response struct {
	Results  []Result  `json:"results"`
	Total    int       `json:"total"`
	Query    string    `json:"query"`
	Backend  string    `json:"backend"`
	Failures []Failure `json:"failures,omitempty"`
}

// Hit is a raw index match before it is joined with the caller's catalog.
type Hit struct {
	DocumentID string
	Snippet    string
	MatchedIn  string
}

// Backend is a full-text index over document names and content.
type Backend interface {
	Healthy() bool
	Search(q Query) ([]Hit, int, error)
	IndexDocuments(docs []DocumentRecord) error
	DeleteDocument(id string) error
}

// DocumentRecord is the data we index for a document.
type DocumentRecord struct {
	ID          string   `json:"id"`
	OwnerID     string   `json:"ownerId"`
	Name        string   `json:"name"`
	Description string   `json:"description"`
	Category    string   `json:"category"`
	MediaKind   string   `json:"mediaKind"`
	Tags        []string `json:"tags"`
	Content     string   `json:"content"`
}
