package auth

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"go.uber.org/zap"

	"attachment-gateway/internal/config"
)

// ErrInvalidToken wraps every token validation failure. The API layer maps it
// to 401 regardless of the underlying cause.
var ErrInvalidToken = errors.New("auth: invalid token")

// DefaultClockSkew is the leeway allowed against the external authority's
// clock. Mock mode uses zero skew.
const DefaultClockSkew = 30 * time.Second

// TokenValidator validates a raw bearer token and returns the principal it
// proves. Exactly one implementation is constructed at startup; the mode never
// changes afterwards.
type TokenValidator interface {
	Validate(ctx context.Context, rawToken string) (*Principal, error)
}

// NewValidator constructs the validator for the configured mode. Missing
// mode-required configuration is a construction error; the process must not
// start serving with it.
func NewValidator(cfg *config.Config, logger *zap.Logger) (TokenValidator, error) {
	if cfg.Authentication.UseMockOAuth {
		if cfg.JWT.SecretKey == "" || cfg.JWT.SigningKeyID == "" {
			return nil, errors.New("auth: mock mode requires jwt.secret_key and jwt.signing_key_id")
		}
		logger.Info("token validation in mock mode", zap.String("kid", cfg.JWT.SigningKeyID))
		return &mockValidator{
			secret: []byte(cfg.JWT.SecretKey),
			keyID:  cfg.JWT.SigningKeyID,
			logger: logger,
		}, nil
	}

	if cfg.OAuth.Authority == "" || cfg.OAuth.Audience == "" {
		return nil, errors.New("auth: production mode requires oauth.authority and oauth.audience")
	}
	logger.Info("token validation in production mode", zap.String("authority", cfg.OAuth.Authority))
	return &oidcValidator{
		authority: strings.TrimRight(cfg.OAuth.Authority, "/"),
		audience:  cfg.OAuth.Audience,
		keys:      newKeySet(cfg.OAuth.Authority, time.Hour, nil),
		logger:    logger,
	}, nil
}

// mockValidator checks HS256 tokens minted by the in-process issuer: fixed
// local issuer and audience, configured key id, zero clock skew.
type mockValidator struct {
	secret []byte
	keyID  string
	logger *zap.Logger
}

func (v *mockValidator) Validate(_ context.Context, rawToken string) (*Principal, error) {
	token, err := jwt.Parse(rawToken, func(t *jwt.Token) (any, error) {
		kid, _ := t.Header["kid"].(string)
		if kid != v.keyID {
			return nil, fmt.Errorf("unknown signing key id %q", kid)
		}
		return v.secret, nil
	},
		jwt.WithValidMethods([]string{"HS256"}),
		jwt.WithIssuer(config.LocalIssuer),
		jwt.WithAudience(config.LocalAudience),
		jwt.WithExpirationRequired(),
	)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidToken, err)
	}
	return v.finish(token)
}

func (v *mockValidator) finish(token *jwt.Token) (*Principal, error) {
	mc, ok := token.Claims.(jwt.MapClaims)
	if !ok || !token.Valid {
		return nil, fmt.Errorf("%w: unreadable claims", ErrInvalidToken)
	}
	p := principalFromClaims(mc)
	logAuthenticated(v.logger, p)
	return p, nil
}

// oidcValidator checks RS256/ES256 tokens against the authority's published
// signing keys, with the standard skew tolerance.
type oidcValidator struct {
	authority string
	audience  string
	keys      *keySet
	logger    *zap.Logger
}

func (v *oidcValidator) Validate(ctx context.Context, rawToken string) (*Principal, error) {
	token, err := jwt.Parse(rawToken, func(t *jwt.Token) (any, error) {
		kid, _ := t.Header["kid"].(string)
		if kid == "" {
			return nil, errors.New("token header missing kid")
		}
		return v.keys.Key(ctx, kid)
	},
		jwt.WithValidMethods([]string{"RS256", "ES256"}),
		jwt.WithIssuer(v.authority),
		jwt.WithAudience(v.audience),
		jwt.WithLeeway(DefaultClockSkew),
		jwt.WithExpirationRequired(),
	)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidToken, err)
	}

	mc, ok := token.Claims.(jwt.MapClaims)
	if !ok || !token.Valid {
		return nil, fmt.Errorf("%w: unreadable claims", ErrInvalidToken)
	}
	p := principalFromClaims(mc)
	logAuthenticated(v.logger, p)
	return p, nil
}

// principalFromClaims flattens jwt.MapClaims into the multi-valued claim set.
// Array-valued claims become repeated entries under the same key.
func principalFromClaims(mc jwt.MapClaims) *Principal {
	sub, _ := mc["sub"].(string)
	p := &Principal{Subject: sub}
	for key, raw := range mc {
		switch val := raw.(type) {
		case []any:
			for _, item := range val {
				p.Claims = append(p.Claims, Claim{Key: key, Value: claimString(item)})
			}
		default:
			p.Claims = append(p.Claims, Claim{Key: key, Value: claimString(val)})
		}
	}
	return p
}

func claimString(v any) string {
	switch val := v.(type) {
	case string:
		return val
	case float64:
		// JWT numeric dates and numbers decode as float64.
		if val == float64(int64(val)) {
			return fmt.Sprintf("%d", int64(val))
		}
		return fmt.Sprintf("%g", val)
	case bool:
		return fmt.Sprintf("%t", val)
	default:
		return fmt.Sprintf("%v", val)
	}
}

func logAuthenticated(logger *zap.Logger, p *Principal) {
	fields := make([]string, 0, len(p.Claims))
	for _, c := range p.Claims {
		fields = append(fields, c.Key+"="+c.Value)
	}
	logger.Info("token validated",
		zap.String("subject", p.Subject),
		zap.Strings("claims", fields),
	)
}
