// Package mapping is the HTTP client for the downstream mapping service. The
// inbound bearer token is passed explicitly to every call; the client holds no
// ambient request state and never retains a token beyond the call it was
// given for.
package mapping

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"attachment-gateway/internal/config"
)

// ErrNotFound is returned when the mapping service has no mapping for the
// attachment.
var ErrNotFound = errors.New("mapping: not found")

// Mapping is the downstream service's record linking an attachment to its
// target resource.
type Mapping struct {
	AttachmentID uuid.UUID `json:"attachment_id"`
	TargetType   string    `json:"target_type"`
	TargetID     string    `json:"target_id"`
	MappedAt     time.Time `json:"mapped_at"`
}

type Client struct {
	baseURL string
	http    *http.Client
	logger  *zap.Logger
}

func NewClient(cfg config.MappingServiceConfig, logger *zap.Logger) *Client {
	timeout := cfg.Timeout()
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &Client{
		baseURL: strings.TrimRight(cfg.BaseURL, "/"),
		http:    &http.Client{Timeout: timeout},
		logger:  logger,
	}
}

// Resolve fetches the mapping for an attachment. The caller's bearer token is
// propagated onto the outgoing request; an empty token forwards the call
// unauthenticated and lets the downstream reject it.
func (c *Client) Resolve(ctx context.Context, token string, attachmentID uuid.UUID) (*Mapping, error) {
	url := fmt.Sprintf("%s/mappings/%s", c.baseURL, attachmentID)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, fmt.Errorf("mapping: build request: %w", err)
	}
	propagate(req, token)

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("mapping: resolve %s: %w", attachmentID, err)
	}
	defer resp.Body.Close()

	switch resp.StatusCode {
	case http.StatusOK:
		// fall through to decode
	case http.StatusNotFound:
		return nil, ErrNotFound
	case http.StatusUnauthorized, http.StatusForbidden:
		c.logger.Warn("mapping service rejected propagated credentials",
			zap.Int("status", resp.StatusCode),
			zap.String("attachment_id", attachmentID.String()),
		)
		return nil, fmt.Errorf("mapping: rejected with status %d", resp.StatusCode)
	default:
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return nil, fmt.Errorf("mapping: unexpected status %d: %s", resp.StatusCode, body)
	}

	var m Mapping
	if err := json.NewDecoder(resp.Body).Decode(&m); err != nil {
		return nil, fmt.Errorf("mapping: decode response: %w", err)
	}
	return &m, nil
}

// propagate copies the inbound bearer token onto the outgoing request. Calls
// without a token (background work, unauthenticated requests) go out without
// an Authorization header.
func propagate(req *http.Request, token string) {
	if token == "" {
		return
	}
	req.Header.Set("Authorization", "Bearer "+token)
}
