// Package model defines the stored entities and the patchable-property
// tables they expose to the patch engine.
package model

import (
	"time"

	"github.com/google/uuid"

	"attachment-gateway/internal/patch"
)

// Attachment categories accepted by the category property.
var AttachmentCategories = []string{"document", "image", "archive", "other"}

var (
	ruleFileNameNotEmpty = patch.MustRule(`len(trim(value)) > 0`, "file_name must not be empty")
	ruleSizeNonNegative  = patch.MustRule(`value >= 0`, "size_bytes must be non-negative")
)

// Attachment is the stored metadata record for an uploaded file. The blob
// itself lives elsewhere; this service only manages the record.
type Attachment struct {
	ID          uuid.UUID  `json:"id"`
	FileName    string     `json:"file_name"`
	Description string     `json:"description"`
	ContentType string     `json:"content_type"`
	SizeBytes   int64      `json:"size_bytes"`
	Category    string     `json:"category"`
	Checksum    string     `json:"checksum"`
	UploadedAt  time.Time  `json:"uploaded_at"`
	ExpiresAt   *time.Time `json:"expires_at,omitempty"`
	CreatedAt   time.Time  `json:"created_at"`
	UpdatedAt   time.Time  `json:"updated_at"`
}

// PatchTable exposes the attachment's patchable properties. Identity, content
// hash, and timestamps are declared read-only; everything else carries its
// type descriptor and validation rules. The table is bound to this instance.
func (a *Attachment) PatchTable() *patch.Table {
	return patch.NewTable(
		patch.Property{
			Name: "id", Type: patch.TypeUUID, ReadOnly: true,
			Get: func() any { return a.ID },
		},
		patch.Property{
			Name: "file_name", Type: patch.TypeString,
			Rules: []patch.Rule{ruleFileNameNotEmpty},
			Get:   func() any { return a.FileName },
			Set:   func(v any) { a.FileName = v.(string) },
		},
		patch.Property{
			Name: "description", Type: patch.TypeString,
			Get: func() any { return a.Description },
			Set: func(v any) { a.Description = v.(string) },
		},
		patch.Property{
			Name: "content_type", Type: patch.TypeString,
			Get: func() any { return a.ContentType },
			Set: func(v any) { a.ContentType = v.(string) },
		},
		patch.Property{
			Name: "size_bytes", Type: patch.TypeBigint,
			Rules: []patch.Rule{ruleSizeNonNegative},
			Get:   func() any { return a.SizeBytes },
			Set:   func(v any) { a.SizeBytes = v.(int64) },
		},
		patch.Property{
			Name: "category", Type: patch.TypeEnum, Enum: AttachmentCategories,
			Get: func() any { return a.Category },
			Set: func(v any) { a.Category = v.(string) },
		},
		patch.Property{
			Name: "expires_at", Type: patch.TypeTimestamp, Nullable: true,
			Get: func() any {
				if a.ExpiresAt == nil {
					return nil
				}
				return *a.ExpiresAt
			},
			Set: func(v any) {
				if v == nil {
					a.ExpiresAt = nil
					return
				}
				t := v.(time.Time)
				a.ExpiresAt = &t
			},
		},
		patch.Property{
			Name: "checksum", Type: patch.TypeString, ReadOnly: true,
			Get: func() any { return a.Checksum },
		},
		patch.Property{
			Name: "uploaded_at", Type: patch.TypeTimestamp, ReadOnly: true,
			Get: func() any { return a.UploadedAt },
		},
	)
}
