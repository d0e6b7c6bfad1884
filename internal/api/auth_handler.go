package api

import (
	"github.com/gofiber/fiber/v2"
	"go.uber.org/zap"

	"attachment-gateway/internal/apperr"
	"attachment-gateway/internal/auth"
)

// AuthHandler serves the mock token issuer and the revocation endpoint. The
// issuer is nil in production mode and its route is never registered.
type AuthHandler struct {
	issuer      *auth.Issuer
	revocations *auth.RevocationList
	logger      *zap.Logger
}

func NewAuthHandler(issuer *auth.Issuer, revocations *auth.RevocationList, logger *zap.Logger) *AuthHandler {
	return &AuthHandler{issuer: issuer, revocations: revocations, logger: logger}
}

type issueTokenRequest struct {
	Subject  string   `json:"subject"`
	Roles    []string `json:"roles"`
	Password string   `json:"password"`
}

// IssueToken handles POST /auth/token (mock mode only).
func (h *AuthHandler) IssueToken(c *fiber.Ctx) error {
	var req issueTokenRequest
	if err := c.BodyParser(&req); err != nil {
		return apperr.InvalidPayload("Invalid JSON body")
	}
	if req.Subject == "" {
		return apperr.InvalidPayload("subject is required")
	}
	if !h.issuer.CheckCredential(req.Password) {
		return apperr.Unauthorized("Invalid dev credentials")
	}

	token, err := h.issuer.Mint(req.Subject, req.Roles)
	if err != nil {
		return err
	}

	h.logger.Info("dev token issued", zap.String("subject", req.Subject), zap.Strings("roles", req.Roles))
	return c.JSON(fiber.Map{
		"access_token": token,
		"token_type":   "Bearer",
		"expires_in":   int(auth.TokenTTL.Seconds()),
	})
}

type revokeRequest struct {
	JTI string `json:"jti"`
}

// RevokeToken handles POST /auth/revoke (admin only).
func (h *AuthHandler) RevokeToken(c *fiber.Ctx) error {
	var req revokeRequest
	if err := c.BodyParser(&req); err != nil {
		return apperr.InvalidPayload("Invalid JSON body")
	}
	if req.JTI == "" {
		return apperr.InvalidPayload("jti is required")
	}

	h.revocations.Revoke(req.JTI)

	principal, err := auth.PrincipalFrom(c)
	if err != nil {
		return err
	}
	h.logger.Info("token revoked", zap.String("jti", req.JTI), zap.String("by", principal.Subject))
	return c.JSON(fiber.Map{"data": fiber.Map{"jti": req.JTI, "revoked": true}})
}
