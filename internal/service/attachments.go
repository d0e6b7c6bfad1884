// Package service orchestrates entity loads, patch application, and
// persistence. It owns no business rules of its own.
package service

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"attachment-gateway/internal/model"
	"attachment-gateway/internal/patch"
)

// AttachmentStore is the slice of the entity store this service needs.
type AttachmentStore interface {
	GetAttachment(ctx context.Context, id uuid.UUID) (*model.Attachment, error)
	SaveAttachment(ctx context.Context, a *model.Attachment) error
	CreateAttachment(ctx context.Context, a *model.Attachment) error
	ListAttachments(ctx context.Context, limit, offset int) ([]*model.Attachment, error)
}

type AttachmentService struct {
	store  AttachmentStore
	logger *zap.Logger
}

func NewAttachmentService(store AttachmentStore, logger *zap.Logger) *AttachmentService {
	return &AttachmentService{store: store, logger: logger}
}

// Get loads one attachment. Store sentinels pass through untouched.
func (s *AttachmentService) Get(ctx context.Context, id uuid.UUID) (*model.Attachment, error) {
	return s.store.GetAttachment(ctx, id)
}

// Create inserts a new attachment record.
func (s *AttachmentService) Create(ctx context.Context, a *model.Attachment) error {
	if err := s.store.CreateAttachment(ctx, a); err != nil {
		return fmt.Errorf("create attachment: %w", err)
	}
	s.logger.Info("attachment created",
		zap.String("id", a.ID.String()),
		zap.String("file_name", a.FileName),
	)
	return nil
}

// List returns a page of attachments.
func (s *AttachmentService) List(ctx context.Context, limit, offset int) ([]*model.Attachment, error) {
	return s.store.ListAttachments(ctx, limit, offset)
}

// Patch loads the attachment, applies the changes through its property table,
// and persists the result. The store is touched exactly once, and only when
// at least one property applied; patch.ErrNoChangesApplied surfaces with the
// outcome so callers see every per-property rejection.
func (s *AttachmentService) Patch(ctx context.Context, id uuid.UUID, changes []patch.Change) (*model.Attachment, *patch.Outcome, error) {
	attachment, err := s.store.GetAttachment(ctx, id)
	if err != nil {
		return nil, nil, err
	}

	outcome, err := patch.Apply(attachment.PatchTable(), changes)
	if err != nil {
		if errors.Is(err, patch.ErrNoChangesApplied) {
			return attachment, outcome, err
		}
		return nil, nil, err
	}

	if err := s.store.SaveAttachment(ctx, attachment); err != nil {
		return nil, nil, fmt.Errorf("persist attachment %s: %w", id, err)
	}

	s.logger.Info("attachment patched",
		zap.String("id", id.String()),
		zap.Int("applied", outcome.AppliedCount()),
		zap.Int("total", len(outcome.Results())),
	)
	return attachment, outcome, nil
}
