package store

import "time"

type User struct {
	ID        string
	Email     string
	CreatedAt time.Time
}

type Document struct {
	ID          string
	OwnerID     string
	Name        string
	StoragePath string
	ByteSize    int64
	MediaKind   string
	Description string
	Category    string
	LogicalType string
	Status      string
	Tags        []string
	AccessLevel string
	CreatedAt   time.Time
	UpdatedAt   *time.Time
	UpdatedBy   string
}

// LastTouched is updated_at when the document has been modified, else created_at.
func (d Document) LastTouched() time.Time {
	if d.UpdatedAt != nil {
		return *d.UpdatedAt
	}
	return d.CreatedAt
}

// DocumentPatch carries a partial metadata update; nil fields are left unchanged.
type DocumentPatch struct {
	Name        *string
	Description *string
	Category    *string
	LogicalType *string
	Status      *string
	Tags        *[]string
	AccessLevel *string
}

// Empty reports whether the patch changes nothing.
func (p DocumentPatch) Empty() bool {
	return p.Name == nil && p.Description == nil && p.Category == nil && p.LogicalType == nil &&
		p.Status == nil && p.Tags == nil && p.AccessLevel == nil
}

type Permission struct {
	DocumentID string
	UserID     string
	Role       string
	GrantedAt  time.Time
	// Joined for share listings
	UserEmail string
}

type Version struct {
	ID         string
	DocumentID string
	Content    string
	CreatedAt  time.Time
}
