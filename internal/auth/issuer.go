package auth

import (
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"golang.org/x/crypto/bcrypt"

	"attachment-gateway/internal/config"
)

// TokenTTL is the lifetime of tokens minted by the mock issuer.
const TokenTTL = 15 * time.Minute

// Issuer mints HS256 development tokens accepted by the mock validator. It is
// only wired up when mock mode is selected; production deployments have no
// in-process issuer.
type Issuer struct {
	secret       []byte
	keyID        string
	passwordHash string
}

func NewIssuer(cfg config.JWTConfig) *Issuer {
	return &Issuer{
		secret:       []byte(cfg.SecretKey),
		keyID:        cfg.SigningKeyID,
		passwordHash: cfg.DevPasswordHash,
	}
}

// CheckCredential compares the supplied dev password against the configured
// bcrypt hash. An empty configured hash disables the credential check.
func (i *Issuer) CheckCredential(password string) bool {
	if i.passwordHash == "" {
		return true
	}
	return bcrypt.CompareHashAndPassword([]byte(i.passwordHash), []byte(password)) == nil
}

// Mint signs a token for the subject carrying the given roles, with the fixed
// local issuer/audience and the configured key id in the header.
func (i *Issuer) Mint(subject string, roles []string) (string, error) {
	now := time.Now()
	claims := jwt.MapClaims{
		"sub": subject,
		"iss": config.LocalIssuer,
		"aud": config.LocalAudience,
		"iat": jwt.NewNumericDate(now),
		"exp": jwt.NewNumericDate(now.Add(TokenTTL)),
		"jti": uuid.New().String(),
	}
	if len(roles) > 0 {
		claims["roles"] = roles
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	token.Header["kid"] = i.keyID

	signed, err := token.SignedString(i.secret)
	if err != nil {
		return "", fmt.Errorf("sign token: %w", err)
	}
	return signed, nil
}
