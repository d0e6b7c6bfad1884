package auth

import (
	"errors"

	"github.com/gofiber/fiber/v2"
)

// Locals keys set by RequireAuth.
const (
	localsPrincipal = "principal"
	localsToken     = "bearer_token"
	localsGuarded   = "guard_checked"
)

// ErrNoPrincipal is returned when a handler that requires an authenticated
// principal runs on a request that never passed through RequireAuth. Under the
// fallback-deny routing policy this indicates a mis-registered route.
var ErrNoPrincipal = errors.New("auth: no principal in request context")

// Claim is a single key-value assertion from a validated token. Keys are not
// unique; a token carrying three roles yields three "roles" claims.
type Claim struct {
	Key   string `json:"key"`
	Value string `json:"value"`
}

// Principal is the authenticated identity derived from a validated bearer
// token. It is built only by a TokenValidator, lives for one request, and is
// never persisted.
type Principal struct {
	Subject string  `json:"subject"`
	Claims  []Claim `json:"claims"`
}

// Get returns the first claim value for key, or "".
func (p *Principal) Get(key string) string {
	for _, c := range p.Claims {
		if c.Key == key {
			return c.Value
		}
	}
	return ""
}

// GetAll returns every claim value for key, in token order.
func (p *Principal) GetAll(key string) []string {
	var vals []string
	for _, c := range p.Claims {
		if c.Key == key {
			vals = append(vals, c.Value)
		}
	}
	return vals
}

// HasRole checks whether the principal carries a "roles" claim with the value.
func (p *Principal) HasRole(role string) bool {
	for _, c := range p.Claims {
		if c.Key == "roles" && c.Value == role {
			return true
		}
	}
	return false
}

// IsAdmin checks whether the principal has the admin role.
func (p *Principal) IsAdmin() bool {
	return p.HasRole("admin")
}

// PrincipalFrom extracts the authenticated principal set by RequireAuth. It
// performs no validation; it fails only when no principal is present.
func PrincipalFrom(c *fiber.Ctx) (*Principal, error) {
	p, _ := c.Locals(localsPrincipal).(*Principal)
	if p == nil {
		return nil, ErrNoPrincipal
	}
	return p, nil
}

// TokenFrom returns the raw bearer token of the current request, or "" when
// the request is unauthenticated. Callers pass it explicitly to outbound
// clients; it is never cached beyond the request.
func TokenFrom(c *fiber.Ctx) string {
	t, _ := c.Locals(localsToken).(string)
	return t
}
