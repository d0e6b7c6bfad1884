package store

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"

	"attachment-gateway/internal/model"
)

const attachmentColumns = `id, file_name, description, content_type, size_bytes,
	category, checksum, uploaded_at, expires_at, created_at, updated_at`

// GetAttachment loads one attachment by id. Returns ErrNotFound for unknown
// ids.
func (s *Store) GetAttachment(ctx context.Context, id uuid.UUID) (*model.Attachment, error) {
	row := s.DB.QueryRowContext(ctx,
		`SELECT `+attachmentColumns+` FROM attachments WHERE id = $1`, id)

	var a model.Attachment
	err := row.Scan(&a.ID, &a.FileName, &a.Description, &a.ContentType, &a.SizeBytes,
		&a.Category, &a.Checksum, &a.UploadedAt, &a.ExpiresAt, &a.CreatedAt, &a.UpdatedAt)
	if err != nil {
		return nil, mapError(err)
	}
	return &a, nil
}

// ListAttachments returns attachments ordered by upload time, newest first.
func (s *Store) ListAttachments(ctx context.Context, limit, offset int) ([]*model.Attachment, error) {
	if limit <= 0 || limit > 200 {
		limit = 50
	}
	rows, err := s.DB.QueryContext(ctx,
		`SELECT `+attachmentColumns+` FROM attachments
		 ORDER BY uploaded_at DESC LIMIT $1 OFFSET $2`, limit, offset)
	if err != nil {
		return nil, fmt.Errorf("list attachments: %w", err)
	}
	defer rows.Close()

	var out []*model.Attachment
	for rows.Next() {
		var a model.Attachment
		if err := rows.Scan(&a.ID, &a.FileName, &a.Description, &a.ContentType, &a.SizeBytes,
			&a.Category, &a.Checksum, &a.UploadedAt, &a.ExpiresAt, &a.CreatedAt, &a.UpdatedAt); err != nil {
			return nil, fmt.Errorf("scan attachment: %w", err)
		}
		out = append(out, &a)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("list attachments: %w", err)
	}
	return out, nil
}

// SaveAttachment persists the mutable columns of an existing attachment.
// Concurrent writers against the same id are last-write-wins; the store does
// not do conflict detection.
func (s *Store) SaveAttachment(ctx context.Context, a *model.Attachment) error {
	a.UpdatedAt = time.Now().UTC()
	result, err := s.DB.ExecContext(ctx,
		`UPDATE attachments
		 SET file_name = $2, description = $3, content_type = $4, size_bytes = $5,
		     category = $6, expires_at = $7, updated_at = $8
		 WHERE id = $1`,
		a.ID, a.FileName, a.Description, a.ContentType, a.SizeBytes,
		a.Category, a.ExpiresAt, a.UpdatedAt)
	if err != nil {
		return fmt.Errorf("save attachment %s: %w", a.ID, mapError(err))
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("save attachment %s: %w", a.ID, err)
	}
	if affected == 0 {
		return ErrNotFound
	}
	return nil
}

// CreateAttachment inserts a new attachment record.
func (s *Store) CreateAttachment(ctx context.Context, a *model.Attachment) error {
	now := time.Now().UTC()
	if a.ID == uuid.Nil {
		a.ID = uuid.New()
	}
	if a.UploadedAt.IsZero() {
		a.UploadedAt = now
	}
	a.CreatedAt = now
	a.UpdatedAt = now

	_, err := s.DB.ExecContext(ctx,
		`INSERT INTO attachments (`+attachmentColumns+`)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)`,
		a.ID, a.FileName, a.Description, a.ContentType, a.SizeBytes,
		a.Category, a.Checksum, a.UploadedAt, a.ExpiresAt, a.CreatedAt, a.UpdatedAt)
	if err != nil {
		return fmt.Errorf("create attachment: %w", mapError(err))
	}
	return nil
}
