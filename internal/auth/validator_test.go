package auth

import (
	"context"
	"crypto/rand"
	"crypto/rsa"
	"encoding/base64"
	"encoding/json"
	"math/big"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"attachment-gateway/internal/config"
)

func mockConfig() *config.Config {
	return &config.Config{
		Authentication: config.AuthenticationConfig{UseMockOAuth: true},
		JWT: config.JWTConfig{
			SecretKey:    "test-secret-key-of-decent-length",
			SigningKeyID: "dev-key-1",
		},
	}
}

func TestMockValidator_ValidTokenClaimsRoundTrip(t *testing.T) {
	cfg := mockConfig()
	validator, err := NewValidator(cfg, zap.NewNop())
	require.NoError(t, err)

	issuer := NewIssuer(cfg.JWT)
	token, err := issuer.Mint("user-42", []string{"reader", "admin"})
	require.NoError(t, err)

	principal, err := validator.Validate(context.Background(), token)
	require.NoError(t, err)

	assert.Equal(t, "user-42", principal.Subject)
	assert.Equal(t, []string{"reader", "admin"}, principal.GetAll("roles"))
	assert.Equal(t, config.LocalIssuer, principal.Get("iss"))
	assert.Equal(t, config.LocalAudience, principal.Get("aud"))
	assert.True(t, principal.IsAdmin())
	assert.NotEmpty(t, principal.Get("jti"))
}

func TestMockValidator_TamperedSignature(t *testing.T) {
	cfg := mockConfig()
	validator, err := NewValidator(cfg, zap.NewNop())
	require.NoError(t, err)

	token, err := NewIssuer(cfg.JWT).Mint("user-42", nil)
	require.NoError(t, err)

	_, err = validator.Validate(context.Background(), tamper(token))
	require.ErrorIs(t, err, ErrInvalidToken)
}

func TestMockValidator_ExpiredToken(t *testing.T) {
	cfg := mockConfig()
	validator, err := NewValidator(cfg, zap.NewNop())
	require.NoError(t, err)

	token := signHS256(t, cfg.JWT, jwt.MapClaims{
		"sub": "user-42",
		"iss": config.LocalIssuer,
		"aud": config.LocalAudience,
		"exp": jwt.NewNumericDate(time.Now().Add(-time.Minute)),
	})

	_, err = validator.Validate(context.Background(), token)
	require.ErrorIs(t, err, ErrInvalidToken)
}

func TestMockValidator_WrongIssuerAudienceAndKid(t *testing.T) {
	cfg := mockConfig()
	validator, err := NewValidator(cfg, zap.NewNop())
	require.NoError(t, err)

	base := jwt.MapClaims{
		"sub": "user-42",
		"iss": config.LocalIssuer,
		"aud": config.LocalAudience,
		"exp": jwt.NewNumericDate(time.Now().Add(time.Minute)),
	}

	wrongIssuer := cloneClaims(base)
	wrongIssuer["iss"] = "someone-else"
	_, err = validator.Validate(context.Background(), signHS256(t, cfg.JWT, wrongIssuer))
	require.ErrorIs(t, err, ErrInvalidToken)

	wrongAudience := cloneClaims(base)
	wrongAudience["aud"] = "other-service"
	_, err = validator.Validate(context.Background(), signHS256(t, cfg.JWT, wrongAudience))
	require.ErrorIs(t, err, ErrInvalidToken)

	wrongKid := config.JWTConfig{SecretKey: cfg.JWT.SecretKey, SigningKeyID: "rotated-key"}
	_, err = validator.Validate(context.Background(), signHS256(t, wrongKid, base))
	require.ErrorIs(t, err, ErrInvalidToken)
}

func TestNewValidator_FailsFastOnMissingConfig(t *testing.T) {
	missingSecret := &config.Config{
		Authentication: config.AuthenticationConfig{UseMockOAuth: true},
		JWT:            config.JWTConfig{SigningKeyID: "dev-key-1"},
	}
	_, err := NewValidator(missingSecret, zap.NewNop())
	require.Error(t, err)

	missingAuthority := &config.Config{
		OAuth: config.OAuthConfig{Audience: "api://attachments"},
	}
	_, err = NewValidator(missingAuthority, zap.NewNop())
	require.Error(t, err)
}

func TestOIDCValidator_ValidAndTamperedTokens(t *testing.T) {
	key, err := rsa.GenerateKey(rand.Reader, 2048)
	require.NoError(t, err)

	authority := newFakeAuthority(t, key, "authority-key-1")
	defer authority.Close()

	cfg := &config.Config{
		OAuth: config.OAuthConfig{
			Authority: authority.URL,
			Audience:  "api://attachments",
		},
	}
	validator, err := NewValidator(cfg, zap.NewNop())
	require.NoError(t, err)

	token := signRS256(t, key, "authority-key-1", jwt.MapClaims{
		"sub":   "auth0|abc",
		"iss":   authority.URL,
		"aud":   "api://attachments",
		"exp":   jwt.NewNumericDate(time.Now().Add(time.Minute)),
		"roles": []string{"reader"},
	})

	principal, err := validator.Validate(context.Background(), token)
	require.NoError(t, err)
	assert.Equal(t, "auth0|abc", principal.Subject)
	assert.Equal(t, []string{"reader"}, principal.GetAll("roles"))

	_, err = validator.Validate(context.Background(), tamper(token))
	require.ErrorIs(t, err, ErrInvalidToken)
}

func TestOIDCValidator_RejectsWrongAudienceAndUnknownKid(t *testing.T) {
	key, err := rsa.GenerateKey(rand.Reader, 2048)
	require.NoError(t, err)

	authority := newFakeAuthority(t, key, "authority-key-1")
	defer authority.Close()

	cfg := &config.Config{
		OAuth: config.OAuthConfig{Authority: authority.URL, Audience: "api://attachments"},
	}
	validator, err := NewValidator(cfg, zap.NewNop())
	require.NoError(t, err)

	wrongAud := signRS256(t, key, "authority-key-1", jwt.MapClaims{
		"sub": "x", "iss": authority.URL, "aud": "api://other",
		"exp": jwt.NewNumericDate(time.Now().Add(time.Minute)),
	})
	_, err = validator.Validate(context.Background(), wrongAud)
	require.ErrorIs(t, err, ErrInvalidToken)

	unknownKid := signRS256(t, key, "mystery-key", jwt.MapClaims{
		"sub": "x", "iss": authority.URL, "aud": "api://attachments",
		"exp": jwt.NewNumericDate(time.Now().Add(time.Minute)),
	})
	_, err = validator.Validate(context.Background(), unknownKid)
	require.ErrorIs(t, err, ErrInvalidToken)
}

// ---- helpers ----

func signHS256(t *testing.T, cfg config.JWTConfig, claims jwt.MapClaims) string {
	t.Helper()
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	token.Header["kid"] = cfg.SigningKeyID
	signed, err := token.SignedString([]byte(cfg.SecretKey))
	require.NoError(t, err)
	return signed
}

func signRS256(t *testing.T, key *rsa.PrivateKey, kid string, claims jwt.MapClaims) string {
	t.Helper()
	token := jwt.NewWithClaims(jwt.SigningMethodRS256, claims)
	token.Header["kid"] = kid
	signed, err := token.SignedString(key)
	require.NoError(t, err)
	return signed
}

// tamper flips the first character of the signature segment.
func tamper(token string) string {
	dot := strings.LastIndexByte(token, '.')
	first := token[dot+1]
	replacement := byte('A')
	if first == 'A' {
		replacement = 'B'
	}
	return token[:dot+1] + string(replacement) + token[dot+2:]
}

func cloneClaims(claims jwt.MapClaims) jwt.MapClaims {
	out := make(jwt.MapClaims, len(claims))
	for k, v := range claims {
		out[k] = v
	}
	return out
}

// newFakeAuthority serves an OIDC discovery document and a JWKS endpoint for
// the given RSA key.
func newFakeAuthority(t *testing.T, key *rsa.PrivateKey, kid string) *httptest.Server {
	t.Helper()

	mux := http.NewServeMux()
	var server *httptest.Server

	mux.HandleFunc("/.well-known/openid-configuration", func(w http.ResponseWriter, _ *http.Request) {
		json.NewEncoder(w).Encode(map[string]string{
			"issuer":   server.URL,
			"jwks_uri": server.URL + "/keys",
		})
	})
	mux.HandleFunc("/keys", func(w http.ResponseWriter, _ *http.Request) {
		pub := key.Public().(*rsa.PublicKey)
		json.NewEncoder(w).Encode(map[string]any{
			"keys": []map[string]string{{
				"kty": "RSA",
				"kid": kid,
				"n":   base64.RawURLEncoding.EncodeToString(pub.N.Bytes()),
				"e":   base64.RawURLEncoding.EncodeToString(big.NewInt(int64(pub.E)).Bytes()),
			}},
		})
	})

	server = httptest.NewServer(mux)
	return server
}
