package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"
)

type PostgresStore struct {
	db *sql.DB
}

func NewPostgresStore(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

func (s *PostgresStore) DB() *sql.DB {
	return s.db
}

func (s *PostgresStore) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

const documentColumns = `
	id, owner_id, name, storage_path, byte_size, media_kind,
	COALESCE(description, ''), COALESCE(category, ''), COALESCE(logical_type, ''), COALESCE(status, ''),
	tags, access_level, created_at, updated_at, COALESCE(updated_by, '')
`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanDocument(row rowScanner) (Document, error) {
	var item Document
	var tagsRaw []byte
	var updatedAt sql.NullTime
	if err := row.Scan(
		&item.ID,
		&item.OwnerID,
		&item.Name,
		&item.StoragePath,
		&item.ByteSize,
		&item.MediaKind,
		&item.Description,
		&item.Category,
		&item.LogicalType,
		&item.Status,
		&tagsRaw,
		&item.AccessLevel,
		&item.CreatedAt,
		&updatedAt,
		&item.UpdatedBy,
	); err != nil {
		return Document{}, err
	}
	if updatedAt.Valid {
		t := updatedAt.Time
		item.UpdatedAt = &t
	}
	tags, err := decodeTags(tagsRaw)
	if err != nil {
		return Document{}, err
	}
	item.Tags = tags
	return item, nil
}

// decodeTags reads the jsonb tags column. NULL and empty values decode to no
// tags.
func decodeTags(raw []byte) ([]string, error) {
	if len(raw) == 0 {
		return nil, nil
	}
	var tags []string
	if err := json.Unmarshal(raw, &tags); err != nil {
		return nil, fmt.Errorf("decode document tags: %w", err)
	}
	return tags, nil
}

func (s *PostgresStore) queryDocuments(ctx context.Context, op, query string, args ...any) ([]Document, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	defer rows.Close()

	items := make([]Document, 0)
	for rows.Next() {
		item, err := scanDocument(rows)
		if err != nil {
			return nil, fmt.Errorf("scan document: %w", err)
		}
		items = append(items, item)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate documents: %w", err)
	}
	return items, nil
}

// LookupUserIDByEmail resolves an identity by email, case-insensitively.
// A miss is reported as sql.ErrNoRows.
func (s *PostgresStore) LookupUserIDByEmail(ctx context.Context, email string) (string, error) {
	var id string
	err := s.db.QueryRowContext(ctx, `SELECT id FROM users WHERE LOWER(email) = LOWER($1)`, strings.TrimSpace(email)).Scan(&id)
	if err != nil {
		return "", err
	}
	return id, nil
}

func (s *PostgresStore) ListDocumentsByOwner(ctx context.Context, ownerID string) ([]Document, error) {
	return s.queryDocuments(ctx, "list owned documents", `
		SELECT `+documentColumns+`
		FROM documents
		WHERE owner_id=$1
		ORDER BY created_at DESC
	`, ownerID)
}

func (s *PostgresStore) ListAllDocuments(ctx context.Context) ([]Document, error) {
	return s.queryDocuments(ctx, "list all documents", `
		SELECT `+documentColumns+`
		FROM documents
		ORDER BY created_at ASC
	`)
}

// ListDocumentsByIDs never issues a query for an empty id set.
func (s *PostgresStore) ListDocumentsByIDs(ctx context.Context, ids []string) ([]Document, error) {
	if len(ids) == 0 {
		return []Document{}, nil
	}
	return s.queryDocuments(ctx, "list documents by id", `
		SELECT `+documentColumns+`
		FROM documents
		WHERE id = ANY($1::text[])
		ORDER BY created_at DESC
	`, ids)
}

func (s *PostgresStore) GetDocument(ctx context.Context, documentID string) (Document, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+documentColumns+` FROM documents WHERE id=$1`, documentID)
	return scanDocument(row)
}

func (s *PostgresStore) InsertDocument(ctx context.Context, item Document) error {
	tags := item.Tags
	if tags == nil {
		tags = []string{}
	}
	encodedTags, err := json.Marshal(tags)
	if err != nil {
		return fmt.Errorf("marshal document tags: %w", err)
	}
	accessLevel := item.AccessLevel
	if accessLevel == "" {
		accessLevel = "private"
	}
	createdAt := item.CreatedAt
	if createdAt.IsZero() {
		createdAt = time.Now().UTC()
	}
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO documents (
			id, owner_id, name, storage_path, byte_size, media_kind,
			description, category, logical_type, status, tags, access_level,
			created_at, updated_at, updated_by
		)
		VALUES ($1, $2, $3, $4, $5, $6, NULLIF($7, ''), NULLIF($8, ''), NULLIF($9, ''), NULLIF($10, ''), $11::jsonb, $12, $13, $14, NULLIF($15, ''))
	`,
		item.ID, item.OwnerID, item.Name, item.StoragePath, item.ByteSize, item.MediaKind,
		item.Description, item.Category, item.LogicalType, item.Status, string(encodedTags), accessLevel,
		createdAt, item.UpdatedAt, item.UpdatedBy,
	)
	if err != nil {
		return fmt.Errorf("insert document: %w", err)
	}
	return nil
}

// UpdateDocumentMetadata applies patch and stamps updated_at/updated_by.
// It returns sql.ErrNoRows when the document does not exist.
func (s *PostgresStore) UpdateDocumentMetadata(ctx context.Context, documentID string, patch DocumentPatch, updatedBy string) (Document, error) {
	var tagsArg any
	if patch.Tags != nil {
		tags := *patch.Tags
		if tags == nil {
			tags = []string{}
		}
		encoded, err := json.Marshal(tags)
		if err != nil {
			return Document{}, fmt.Errorf("marshal document tags: %w", err)
		}
		tagsArg = string(encoded)
	}
	row := s.db.QueryRowContext(ctx, `
		UPDATE documents
		SET name = COALESCE($2, name),
			description = COALESCE($3, description),
			category = COALESCE($4, category),
			logical_type = COALESCE($5, logical_type),
			status = COALESCE($6, status),
			tags = COALESCE($7::jsonb, tags),
			access_level = COALESCE($8, access_level),
			updated_at = NOW(),
			updated_by = $9
		WHERE id=$1
		RETURNING `+documentColumns,
		documentID, patch.Name, patch.Description, patch.Category, patch.LogicalType, patch.Status, tagsArg, patch.AccessLevel, updatedBy,
	)
	item, err := scanDocument(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return Document{}, err
		}
		return Document{}, fmt.Errorf("update document metadata: %w", err)
	}
	return item, nil
}

// TouchDocumentContent records that the stored content changed.
func (s *PostgresStore) TouchDocumentContent(ctx context.Context, documentID, updatedBy string, byteSize int64) error {
	result, err := s.db.ExecContext(ctx, `
		UPDATE documents
		SET byte_size=$3, updated_by=$2, updated_at=NOW()
		WHERE id=$1
	`, documentID, updatedBy, byteSize)
	if err != nil {
		return fmt.Errorf("touch document: %w", err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("touch document rows: %w", err)
	}
	if affected == 0 {
		return sql.ErrNoRows
	}
	return nil
}

func (s *PostgresStore) DeleteDocument(ctx context.Context, documentID string) error {
	result, err := s.db.ExecContext(ctx, `DELETE FROM documents WHERE id=$1`, documentID)
	if err != nil {
		return fmt.Errorf("delete document: %w", err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("delete document rows: %w", err)
	}
	if affected == 0 {
		return sql.ErrNoRows
	}
	return nil
}

func (s *PostgresStore) ListPermissionsForUser(ctx context.Context, userID string) ([]Permission, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT document_id, user_id, role, created_at
		FROM document_permissions
		WHERE user_id=$1
		ORDER BY created_at DESC
	`, userID)
	if err != nil {
		return nil, fmt.Errorf("list user permissions: %w", err)
	}
	defer rows.Close()

	items := make([]Permission, 0)
	for rows.Next() {
		var item Permission
		if err := rows.Scan(&item.DocumentID, &item.UserID, &item.Role, &item.GrantedAt); err != nil {
			return nil, fmt.Errorf("scan permission: %w", err)
		}
		items = append(items, item)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate permissions: %w", err)
	}
	return items, nil
}

func (s *PostgresStore) ListPermissionsForDocument(ctx context.Context, documentID string) ([]Permission, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT p.document_id, p.user_id, p.role, p.created_at, COALESCE(u.email, '')
		FROM document_permissions p
		LEFT JOIN users u ON u.id = p.user_id
		WHERE p.document_id=$1
		ORDER BY p.created_at ASC
	`, documentID)
	if err != nil {
		return nil, fmt.Errorf("list document permissions: %w", err)
	}
	defer rows.Close()

	items := make([]Permission, 0)
	for rows.Next() {
		var item Permission
		if err := rows.Scan(&item.DocumentID, &item.UserID, &item.Role, &item.GrantedAt, &item.UserEmail); err != nil {
			return nil, fmt.Errorf("scan permission: %w", err)
		}
		items = append(items, item)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate permissions: %w", err)
	}
	return items, nil
}

func (s *PostgresStore) GetPermission(ctx context.Context, documentID, userID string) (Permission, error) {
	var item Permission
	err := s.db.QueryRowContext(ctx, `
		SELECT document_id, user_id, role, created_at
		FROM document_permissions
		WHERE document_id=$1 AND user_id=$2
	`, documentID, userID).Scan(&item.DocumentID, &item.UserID, &item.Role, &item.GrantedAt)
	if err != nil {
		return Permission{}, err
	}
	return item, nil
}

// UpsertPermission keeps at most one row per (document, user). A repeated
// grant updates the role in place and keeps the original grant time.
// created reports whether a new row was inserted.
func (s *PostgresStore) UpsertPermission(ctx context.Context, perm Permission) (Permission, bool, error) {
	var item Permission
	var created bool
	err := s.db.QueryRowContext(ctx, `
		INSERT INTO document_permissions (document_id, user_id, role)
		VALUES ($1, $2, $3)
		ON CONFLICT (document_id, user_id) DO UPDATE SET role = EXCLUDED.role
		RETURNING document_id, user_id, role, created_at, (xmax = 0) AS inserted
	`, perm.DocumentID, perm.UserID, perm.Role).Scan(&item.DocumentID, &item.UserID, &item.Role, &item.GrantedAt, &created)
	if err != nil {
		return Permission{}, false, fmt.Errorf("upsert permission: %w", err)
	}
	return item, created, nil
}

func (s *PostgresStore) DeletePermission(ctx context.Context, documentID, userID string) error {
	result, err := s.db.ExecContext(ctx, `DELETE FROM document_permissions WHERE document_id=$1 AND user_id=$2`, documentID, userID)
	if err != nil {
		return fmt.Errorf("delete permission: %w", err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("delete permission rows: %w", err)
	}
	if affected == 0 {
		return sql.ErrNoRows
	}
	return nil
}

func (s *PostgresStore) InsertVersion(ctx context.Context, version Version) (Version, error) {
	item := version
	err := s.db.QueryRowContext(ctx, `
		INSERT INTO document_versions (id, document_id, content)
		VALUES ($1, $2, $3)
		RETURNING created_at
	`, version.ID, version.DocumentID, version.Content).Scan(&item.CreatedAt)
	if err != nil {
		return Version{}, fmt.Errorf("insert version: %w", err)
	}
	return item, nil
}

func (s *PostgresStore) ListVersions(ctx context.Context, documentID string) ([]Version, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, document_id, content, created_at
		FROM document_versions
		WHERE document_id=$1
		ORDER BY created_at DESC, seq DESC
	`, documentID)
	if err != nil {
		return nil, fmt.Errorf("list versions: %w", err)
	}
	defer rows.Close()

	items := make([]Version, 0)
	for rows.Next() {
		var item Version
		if err := rows.Scan(&item.ID, &item.DocumentID, &item.Content, &item.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan version: %w", err)
		}
		items = append(items, item)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate versions: %w", err)
	}
	return items, nil
}

func (s *PostgresStore) GetVersion(ctx context.Context, documentID, versionID string) (Version, error) {
	var item Version
	err := s.db.QueryRowContext(ctx, `
		SELECT id, document_id, content, created_at
		FROM document_versions
		WHERE document_id=$1 AND id=$2
	`, documentID, versionID).Scan(&item.ID, &item.DocumentID, &item.Content, &item.CreatedAt)
	if err != nil {
		return Version{}, err
	}
	return item, nil
}
