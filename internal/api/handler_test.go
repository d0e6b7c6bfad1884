package api

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"attachment-gateway/internal/apperr"
	"attachment-gateway/internal/auth"
	"attachment-gateway/internal/config"
	"attachment-gateway/internal/mapping"
	"attachment-gateway/internal/model"
	"attachment-gateway/internal/service"
	"attachment-gateway/internal/store"
)

type memStore struct {
	byID  map[uuid.UUID]*model.Attachment
	saves int
}

var _ service.AttachmentStore = (*memStore)(nil)

func (m *memStore) GetAttachment(_ context.Context, id uuid.UUID) (*model.Attachment, error) {
	a, ok := m.byID[id]
	if !ok {
		return nil, store.ErrNotFound
	}
	cpy := *a
	return &cpy, nil
}

func (m *memStore) SaveAttachment(_ context.Context, a *model.Attachment) error {
	m.saves++
	cpy := *a
	m.byID[a.ID] = &cpy
	return nil
}

func (m *memStore) CreateAttachment(_ context.Context, a *model.Attachment) error {
	if a.ID == uuid.Nil {
		a.ID = uuid.New()
	}
	cpy := *a
	m.byID[a.ID] = &cpy
	return nil
}

func (m *memStore) ListAttachments(_ context.Context, _, _ int) ([]*model.Attachment, error) {
	var out []*model.Attachment
	for _, a := range m.byID {
		cpy := *a
		out = append(out, &cpy)
	}
	return out, nil
}

type testEnv struct {
	app          *fiber.App
	store        *memStore
	issuer       *auth.Issuer
	mappingCalls *atomic.Int64
	mappingURL   string
}

func newTestEnv(t *testing.T, attachments ...*model.Attachment) *testEnv {
	t.Helper()

	cfg := &config.Config{
		Authentication: config.AuthenticationConfig{UseMockOAuth: true},
		JWT: config.JWTConfig{
			SecretKey:    "test-secret-key-of-decent-length",
			SigningKeyID: "dev-key-1",
		},
	}

	validator, err := auth.NewValidator(cfg, zap.NewNop())
	require.NoError(t, err)
	issuer := auth.NewIssuer(cfg.JWT)
	revocations := auth.NewRevocationList()

	ms := &memStore{byID: make(map[uuid.UUID]*model.Attachment)}
	for _, a := range attachments {
		ms.byID[a.ID] = a
	}

	var mappingCalls atomic.Int64
	mappingServer := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		mappingCalls.Add(1)
		if r.Header.Get("Authorization") == "" {
			w.WriteHeader(http.StatusUnauthorized)
			return
		}
		parts := strings.Split(r.URL.Path, "/")
		id, _ := uuid.Parse(parts[len(parts)-1])
		json.NewEncoder(w).Encode(mapping.Mapping{AttachmentID: id, TargetType: "invoice", TargetID: "inv-1"})
	}))
	t.Cleanup(mappingServer.Close)

	mappingClient := mapping.NewClient(config.MappingServiceConfig{
		BaseURL:        mappingServer.URL,
		TimeoutSeconds: 5,
	}, zap.NewNop())

	app := fiber.New(fiber.Config{
		ErrorHandler: func(c *fiber.Ctx, err error) error {
			var appErr *apperr.AppError
			if errors.As(err, &appErr) {
				return c.Status(appErr.Status).JSON(apperr.ErrorResponse{Error: appErr})
			}
			return c.Status(500).JSON(apperr.ErrorResponse{
				Error: &apperr.AppError{Code: "INTERNAL_ERROR", Message: err.Error()},
			})
		},
	})

	handler := NewHandler(service.NewAttachmentService(ms, zap.NewNop()), mappingClient)
	authHandler := NewAuthHandler(issuer, revocations, zap.NewNop())
	RegisterRoutes(app, handler, authHandler,
		auth.GuardMiddleware(revocations),
		auth.RequireAuth(validator),
		auth.RequireAdmin(),
		true,
	)

	return &testEnv{
		app:          app,
		store:        ms,
		issuer:       issuer,
		mappingCalls: &mappingCalls,
		mappingURL:   mappingServer.URL,
	}
}

func (e *testEnv) request(t *testing.T, method, path, token, body string) *http.Response {
	t.Helper()
	var reader io.Reader
	if body != "" {
		reader = strings.NewReader(body)
	}
	req := httptest.NewRequest(method, path, reader)
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	if body != "" {
		req.Header.Set("Content-Type", "application/json")
	}
	resp, err := e.app.Test(req, -1)
	require.NoError(t, err)
	return resp
}

func decodeBody(t *testing.T, resp *http.Response) map[string]any {
	t.Helper()
	defer resp.Body.Close()
	var out map[string]any
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&out))
	return out
}

func TestPatchAttachment_MixedOutcome(t *testing.T) {
	id := uuid.New()
	env := newTestEnv(t, &model.Attachment{ID: id, FileName: "f.pdf", Description: "old", SizeBytes: 100})

	token, err := env.issuer.Mint("user-1", nil)
	require.NoError(t, err)

	resp := env.request(t, http.MethodPatch, "/api/attachments/"+id.String(), token,
		`{"description": "new", "size_bytes": "abc"}`)
	assert.Equal(t, 200, resp.StatusCode)

	body := decodeBody(t, resp)
	data := body["data"].(map[string]any)
	assert.Equal(t, "new", data["description"])
	assert.Equal(t, float64(100), data["size_bytes"])

	results := body["results"].([]any)
	require.Len(t, results, 2)

	assert.Equal(t, 1, env.store.saves)
	assert.Equal(t, "new", env.store.byID[id].Description)
}

func TestPatchAttachment_NestedValueRejectedSiblingApplies(t *testing.T) {
	id := uuid.New()
	env := newTestEnv(t, &model.Attachment{ID: id, FileName: "f.pdf", Description: "old"})

	token, err := env.issuer.Mint("user-1", nil)
	require.NoError(t, err)

	resp := env.request(t, http.MethodPatch, "/api/attachments/"+id.String(), token,
		`{"description": "new", "expires_at": {"nested": 1}}`)
	assert.Equal(t, 200, resp.StatusCode)

	body := decodeBody(t, resp)
	data := body["data"].(map[string]any)
	assert.Equal(t, "new", data["description"])

	assert.Equal(t, 1, env.store.saves)
	assert.Equal(t, "new", env.store.byID[id].Description)
}

func TestPatchAttachment_NoChangesIs422(t *testing.T) {
	id := uuid.New()
	env := newTestEnv(t, &model.Attachment{ID: id, Description: "keep"})

	token, err := env.issuer.Mint("user-1", nil)
	require.NoError(t, err)

	resp := env.request(t, http.MethodPatch, "/api/attachments/"+id.String(), token,
		`{"nope": 1, "size_bytes": "abc"}`)
	assert.Equal(t, 422, resp.StatusCode)

	body := decodeBody(t, resp)
	errObj := body["error"].(map[string]any)
	assert.Equal(t, "NO_CHANGES_APPLIED", errObj["code"])
	assert.Len(t, errObj["details"].([]any), 2)
	assert.Equal(t, 0, env.store.saves)
	assert.Equal(t, "keep", env.store.byID[id].Description)
}

func TestCreateAttachment(t *testing.T) {
	env := newTestEnv(t)

	token, err := env.issuer.Mint("user-1", nil)
	require.NoError(t, err)

	resp := env.request(t, http.MethodPost, "/api/attachments", token,
		`{"file_name": "report.pdf", "content_type": "application/pdf", "size_bytes": 2048, "category": "document"}`)
	assert.Equal(t, 201, resp.StatusCode)

	body := decodeBody(t, resp)
	data := body["data"].(map[string]any)
	id, perr := uuid.Parse(data["id"].(string))
	require.NoError(t, perr)
	assert.Equal(t, "report.pdf", data["file_name"])

	// The created record is retrievable through the read endpoint.
	getResp := env.request(t, http.MethodGet, "/api/attachments/"+id.String(), token, "")
	assert.Equal(t, 200, getResp.StatusCode)
}

func TestCreateAttachment_RejectsInvalidPayload(t *testing.T) {
	env := newTestEnv(t)

	token, err := env.issuer.Mint("user-1", nil)
	require.NoError(t, err)

	resp := env.request(t, http.MethodPost, "/api/attachments", token, `{"content_type": "text/plain"}`)
	assert.Equal(t, 400, resp.StatusCode)

	resp = env.request(t, http.MethodPost, "/api/attachments", token,
		`{"file_name": "a.txt", "category": "nonsense"}`)
	assert.Equal(t, 400, resp.StatusCode)
	assert.Empty(t, env.store.byID)
}

func TestPatchAttachment_UnknownIDIs404(t *testing.T) {
	env := newTestEnv(t)

	token, err := env.issuer.Mint("user-1", nil)
	require.NoError(t, err)

	resp := env.request(t, http.MethodPatch, "/api/attachments/"+uuid.NewString(), token,
		`{"description": "x"}`)
	assert.Equal(t, 404, resp.StatusCode)
}

func TestProtectedEndpoints_ExpiredTokenNoHandlerNoOutbound(t *testing.T) {
	id := uuid.New()
	env := newTestEnv(t, &model.Attachment{ID: id})

	expired := mintExpired(t)

	resp := env.request(t, http.MethodGet, "/api/attachments/"+id.String()+"/mapping", expired, "")
	assert.Equal(t, 401, resp.StatusCode)
	assert.Equal(t, int64(0), env.mappingCalls.Load(), "no outbound call may happen for a rejected request")
	assert.Equal(t, 0, env.store.saves)
}

func TestResolveMapping_PropagatesToken(t *testing.T) {
	id := uuid.New()
	env := newTestEnv(t, &model.Attachment{ID: id})

	token, err := env.issuer.Mint("user-1", nil)
	require.NoError(t, err)

	resp := env.request(t, http.MethodGet, "/api/attachments/"+id.String()+"/mapping", token, "")
	assert.Equal(t, 200, resp.StatusCode)
	assert.Equal(t, int64(1), env.mappingCalls.Load())

	body := decodeBody(t, resp)
	data := body["data"].(map[string]any)
	assert.Equal(t, "invoice", data["target_type"])
}

func TestIssueToken_MockModeOnly(t *testing.T) {
	env := newTestEnv(t)

	resp := env.request(t, http.MethodPost, "/auth/token", "", `{"subject": "dev-user", "roles": ["admin"]}`)
	assert.Equal(t, 200, resp.StatusCode)

	body := decodeBody(t, resp)
	minted, _ := body["access_token"].(string)
	require.NotEmpty(t, minted)

	// The minted token works against the protected surface.
	listResp := env.request(t, http.MethodGet, "/api/attachments", minted, "")
	assert.Equal(t, 200, listResp.StatusCode)
}

func TestRevoke_RequiresAdmin(t *testing.T) {
	env := newTestEnv(t)

	reader, err := env.issuer.Mint("user-1", []string{"reader"})
	require.NoError(t, err)
	resp := env.request(t, http.MethodPost, "/auth/revoke", reader, `{"jti": "some-id"}`)
	assert.Equal(t, 403, resp.StatusCode)

	admin, err := env.issuer.Mint("root", []string{"admin"})
	require.NoError(t, err)
	resp = env.request(t, http.MethodPost, "/auth/revoke", admin, `{"jti": "some-id"}`)
	assert.Equal(t, 200, resp.StatusCode)
}

func TestListAttachments_FallbackDeny(t *testing.T) {
	env := newTestEnv(t)

	resp := env.request(t, http.MethodGet, "/api/attachments", "", "")
	assert.Equal(t, 401, resp.StatusCode)
}

// mintExpired signs a token with the test secret whose expiry is in the past.
func mintExpired(t *testing.T) string {
	t.Helper()
	now := time.Now()
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.MapClaims{
		"sub": "user-1",
		"iss": config.LocalIssuer,
		"aud": config.LocalAudience,
		"iat": jwt.NewNumericDate(now.Add(-time.Hour)),
		"exp": jwt.NewNumericDate(now.Add(-time.Minute)),
		"jti": uuid.NewString(),
	})
	token.Header["kid"] = "dev-key-1"
	signed, err := token.SignedString([]byte("test-secret-key-of-decent-length"))
	require.NoError(t, err)
	return signed
}
