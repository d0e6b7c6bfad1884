package api

import (
	"errors"
	"slices"
	"strings"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/google/uuid"

	"attachment-gateway/internal/apperr"
	"attachment-gateway/internal/auth"
	"attachment-gateway/internal/mapping"
	"attachment-gateway/internal/model"
	"attachment-gateway/internal/patch"
	"attachment-gateway/internal/service"
	"attachment-gateway/internal/store"
)

type Handler struct {
	attachments *service.AttachmentService
	mapping     *mapping.Client
}

func NewHandler(attachments *service.AttachmentService, mappingClient *mapping.Client) *Handler {
	return &Handler{attachments: attachments, mapping: mappingClient}
}

type createAttachmentRequest struct {
	FileName    string     `json:"file_name"`
	Description string     `json:"description"`
	ContentType string     `json:"content_type"`
	SizeBytes   int64      `json:"size_bytes"`
	Category    string     `json:"category"`
	Checksum    string     `json:"checksum"`
	ExpiresAt   *time.Time `json:"expires_at"`
}

// CreateAttachment handles POST /api/attachments
func (h *Handler) CreateAttachment(c *fiber.Ctx) error {
	var req createAttachmentRequest
	if err := c.BodyParser(&req); err != nil {
		return apperr.InvalidPayload("Invalid JSON body")
	}
	if strings.TrimSpace(req.FileName) == "" {
		return apperr.InvalidPayload("file_name is required")
	}
	if req.SizeBytes < 0 {
		return apperr.InvalidPayload("size_bytes must be non-negative")
	}
	if req.Category != "" && !slices.Contains(model.AttachmentCategories, req.Category) {
		return apperr.InvalidPayload("unknown category " + req.Category)
	}

	attachment := &model.Attachment{
		FileName:    req.FileName,
		Description: req.Description,
		ContentType: req.ContentType,
		SizeBytes:   req.SizeBytes,
		Category:    req.Category,
		Checksum:    req.Checksum,
		ExpiresAt:   req.ExpiresAt,
	}
	if err := h.attachments.Create(c.Context(), attachment); err != nil {
		if errors.Is(err, store.ErrUniqueViolation) {
			return apperr.New("CONFLICT", fiber.StatusConflict, "Attachment already exists")
		}
		return apperr.Persistence("Failed to create attachment")
	}
	return c.Status(fiber.StatusCreated).JSON(fiber.Map{"data": attachment})
}

// GetAttachment handles GET /api/attachments/:id
func (h *Handler) GetAttachment(c *fiber.Ctx) error {
	id, err := parseID(c)
	if err != nil {
		return err
	}

	attachment, err := h.attachments.Get(c.Context(), id)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return apperr.NotFound("attachment", id.String())
		}
		return err
	}
	return c.JSON(fiber.Map{"data": attachment})
}

// ListAttachments handles GET /api/attachments
func (h *Handler) ListAttachments(c *fiber.Ctx) error {
	limit := c.QueryInt("limit", 50)
	offset := c.QueryInt("offset", 0)

	attachments, err := h.attachments.List(c.Context(), limit, offset)
	if err != nil {
		return err
	}
	// Ensure non-nil slice for JSON
	if attachments == nil {
		attachments = []*model.Attachment{}
	}
	return c.JSON(fiber.Map{"data": attachments})
}

// PatchAttachment handles PATCH /api/attachments/:id. The response carries
// the full per-property outcome alongside the entity so callers see exactly
// which pairs applied and which were rejected.
func (h *Handler) PatchAttachment(c *fiber.Ctx) error {
	id, err := parseID(c)
	if err != nil {
		return err
	}

	changes, err := patch.DecodeChanges(c.Body())
	if err != nil {
		return apperr.InvalidPayload("Request body must be a JSON object")
	}
	if len(changes) == 0 {
		return apperr.InvalidPayload("Request body names no properties")
	}

	attachment, outcome, err := h.attachments.Patch(c.Context(), id, changes)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return apperr.NotFound("attachment", id.String())
		}
		if errors.Is(err, patch.ErrNoChangesApplied) {
			return apperr.NoChangesApplied(rejectionDetails(outcome))
		}
		if errors.Is(err, store.ErrUniqueViolation) {
			return apperr.New("CONFLICT", 409, err.Error())
		}
		return apperr.Persistence("Failed to persist attachment")
	}

	return c.JSON(fiber.Map{
		"data":    attachment,
		"results": outcome.Results(),
	})
}

// ResolveMapping handles GET /api/attachments/:id/mapping. The caller's
// bearer token is handed explicitly to the outbound client.
func (h *Handler) ResolveMapping(c *fiber.Ctx) error {
	id, err := parseID(c)
	if err != nil {
		return err
	}

	// Ensure the attachment exists before calling downstream.
	if _, err := h.attachments.Get(c.Context(), id); err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return apperr.NotFound("attachment", id.String())
		}
		return err
	}

	m, err := h.mapping.Resolve(c.Context(), auth.TokenFrom(c), id)
	if err != nil {
		if errors.Is(err, mapping.ErrNotFound) {
			return apperr.NotFound("mapping", id.String())
		}
		return apperr.Upstream("Mapping service call failed")
	}
	return c.JSON(fiber.Map{"data": m})
}

func parseID(c *fiber.Ctx) (uuid.UUID, error) {
	id, err := uuid.Parse(c.Params("id"))
	if err != nil {
		return uuid.Nil, apperr.InvalidPayload("Invalid attachment id")
	}
	return id, nil
}

func rejectionDetails(outcome *patch.Outcome) []apperr.ErrorDetail {
	if outcome == nil {
		return nil
	}
	var details []apperr.ErrorDetail
	for _, r := range outcome.Results() {
		if r.Applied {
			continue
		}
		details = append(details, apperr.ErrorDetail{
			Property: r.Property,
			Reason:   r.Reason,
			Message:  r.Property + ": " + r.Reason,
		})
	}
	return details
}
