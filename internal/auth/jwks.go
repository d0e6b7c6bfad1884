package auth

import (
	"context"
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/rsa"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"math/big"
	"net/http"
	"strings"
	"sync"
	"time"
)

// keySet fetches and caches the authority's signing keys. The JWKS endpoint is
// discovered once from /.well-known/openid-configuration; keys are cached per
// kid and refetched when the cache expires or an unknown kid appears (key
// rotation). Safe for concurrent use; reads after the initial load are
// lock-free apart from the RWMutex read path.
type keySet struct {
	authority string
	ttl       time.Duration
	client    *http.Client

	mu        sync.RWMutex
	jwksURL   string
	keys      map[string]any // kid -> *rsa.PublicKey or *ecdsa.PublicKey
	fetchedAt time.Time
}

func newKeySet(authority string, ttl time.Duration, client *http.Client) *keySet {
	if client == nil {
		client = &http.Client{Timeout: 10 * time.Second}
	}
	return &keySet{
		authority: strings.TrimRight(authority, "/"),
		ttl:       ttl,
		client:    client,
	}
}

// Key returns the public key for kid, fetching or refreshing the JWKS as
// needed.
func (s *keySet) Key(ctx context.Context, kid string) (any, error) {
	s.mu.RLock()
	if s.keys != nil && time.Since(s.fetchedAt) < s.ttl {
		if key, ok := s.keys[kid]; ok {
			s.mu.RUnlock()
			return key, nil
		}
		// Unknown kid in a fresh cache: the authority may have rotated keys.
	}
	s.mu.RUnlock()

	if err := s.refresh(ctx); err != nil {
		return nil, err
	}

	s.mu.RLock()
	defer s.mu.RUnlock()
	key, ok := s.keys[kid]
	if !ok {
		return nil, fmt.Errorf("auth: signing key %q not found in authority JWKS", kid)
	}
	return key, nil
}

func (s *keySet) refresh(ctx context.Context) error {
	jwksURL, err := s.discoverJWKSURL(ctx)
	if err != nil {
		return err
	}

	body, err := s.fetch(ctx, jwksURL)
	if err != nil {
		return fmt.Errorf("auth: fetch JWKS: %w", err)
	}

	var doc struct {
		Keys []jwk `json:"keys"`
	}
	if err := json.Unmarshal(body, &doc); err != nil {
		return fmt.Errorf("auth: parse JWKS: %w", err)
	}

	keys := make(map[string]any, len(doc.Keys))
	for _, k := range doc.Keys {
		if k.Kid == "" {
			continue
		}
		pub, err := k.publicKey()
		if err != nil {
			continue // skip malformed or unsupported keys
		}
		keys[k.Kid] = pub
	}

	s.mu.Lock()
	s.keys = keys
	s.fetchedAt = time.Now()
	s.mu.Unlock()
	return nil
}

// discoverJWKSURL resolves the jwks_uri from the authority's OIDC discovery
// document. The result is cached for the lifetime of the key set.
func (s *keySet) discoverJWKSURL(ctx context.Context) (string, error) {
	s.mu.RLock()
	cached := s.jwksURL
	s.mu.RUnlock()
	if cached != "" {
		return cached, nil
	}

	body, err := s.fetch(ctx, s.authority+"/.well-known/openid-configuration")
	if err != nil {
		return "", fmt.Errorf("auth: OIDC discovery: %w", err)
	}

	var doc struct {
		JWKSURI string `json:"jwks_uri"`
	}
	if err := json.Unmarshal(body, &doc); err != nil {
		return "", fmt.Errorf("auth: parse discovery document: %w", err)
	}
	if doc.JWKSURI == "" {
		return "", fmt.Errorf("auth: discovery document missing jwks_uri")
	}

	s.mu.Lock()
	s.jwksURL = doc.JWKSURI
	s.mu.Unlock()
	return doc.JWKSURI, nil
}

func (s *keySet) fetch(ctx context.Context, url string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, err
	}
	resp, err := s.client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("unexpected status %d from %s", resp.StatusCode, url)
	}
	// 1 MB cap on authority responses.
	return io.ReadAll(io.LimitReader(resp.Body, 1<<20))
}

// jwk is a single key from a JWKS response. Only the fields needed for RSA and
// EC reconstruction are decoded.
type jwk struct {
	Kty string `json:"kty"`
	Kid string `json:"kid"`
	N   string `json:"n"`
	E   string `json:"e"`
	Crv string `json:"crv"`
	X   string `json:"x"`
	Y   string `json:"y"`
}

func (k jwk) publicKey() (any, error) {
	switch k.Kty {
	case "RSA":
		n, err := base64.RawURLEncoding.DecodeString(k.N)
		if err != nil {
			return nil, fmt.Errorf("decode RSA modulus: %w", err)
		}
		e, err := base64.RawURLEncoding.DecodeString(k.E)
		if err != nil {
			return nil, fmt.Errorf("decode RSA exponent: %w", err)
		}
		return &rsa.PublicKey{
			N: new(big.Int).SetBytes(n),
			E: int(new(big.Int).SetBytes(e).Int64()),
		}, nil
	case "EC":
		var curve elliptic.Curve
		switch k.Crv {
		case "P-256":
			curve = elliptic.P256()
		case "P-384":
			curve = elliptic.P384()
		case "P-521":
			curve = elliptic.P521()
		default:
			return nil, fmt.Errorf("unsupported EC curve %q", k.Crv)
		}
		x, err := base64.RawURLEncoding.DecodeString(k.X)
		if err != nil {
			return nil, fmt.Errorf("decode EC x: %w", err)
		}
		y, err := base64.RawURLEncoding.DecodeString(k.Y)
		if err != nil {
			return nil, fmt.Errorf("decode EC y: %w", err)
		}
		return &ecdsa.PublicKey{
			Curve: curve,
			X:     new(big.Int).SetBytes(x),
			Y:     new(big.Int).SetBytes(y),
		}, nil
	default:
		return nil, fmt.Errorf("unsupported key type %q", k.Kty)
	}
}
