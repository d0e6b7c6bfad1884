package auth

import (
	"strings"

	"github.com/gofiber/fiber/v2"

	"attachment-gateway/internal/apperr"
)

// GuardMiddleware runs the delegated pre-validation check strictly before
// RequireAuth. On rejection the request is terminated with 401 and never
// reaches the token validator or any handler. The stage runs at most once per
// request.
func GuardMiddleware(guard Guard) fiber.Handler {
	return func(c *fiber.Ctx) error {
		if checked, _ := c.Locals(localsGuarded).(bool); checked {
			return c.Next()
		}
		c.Locals(localsGuarded, true)

		rawToken := bearerToken(c)
		if rawToken == "" {
			// Nothing to check; RequireAuth rejects the missing header.
			return c.Next()
		}

		if err := guard.Check(c.Context(), rawToken); err != nil {
			return apperr.Unauthorized("Token rejected")
		}
		return c.Next()
	}
}

// RequireAuth validates the bearer token and stores the resulting principal
// and the raw token on the request. Every protected route sits behind it;
// absence of a valid token is terminal for the request.
func RequireAuth(validator TokenValidator) fiber.Handler {
	return func(c *fiber.Ctx) error {
		rawToken := bearerToken(c)
		if rawToken == "" {
			return apperr.Unauthorized("Missing bearer token")
		}

		principal, err := validator.Validate(c.Context(), rawToken)
		if err != nil {
			return apperr.Unauthorized("Invalid or expired token")
		}

		c.Locals(localsPrincipal, principal)
		c.Locals(localsToken, rawToken)
		return c.Next()
	}
}

// RequireAdmin rejects authenticated callers without the admin role.
func RequireAdmin() fiber.Handler {
	return func(c *fiber.Ctx) error {
		principal, err := PrincipalFrom(c)
		if err != nil {
			return apperr.Unauthorized("Missing bearer token")
		}
		if !principal.IsAdmin() {
			return apperr.Forbidden("Admin role required")
		}
		return c.Next()
	}
}

func bearerToken(c *fiber.Ctx) string {
	header := c.Get(fiber.HeaderAuthorization)
	if header == "" {
		return ""
	}
	parts := strings.SplitN(header, " ", 2)
	if len(parts) != 2 || !strings.EqualFold(parts[0], "Bearer") {
		return ""
	}
	return strings.TrimSpace(parts[1])
}
