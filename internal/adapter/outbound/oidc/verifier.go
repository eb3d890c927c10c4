// Package oidc verifies bearer tokens against an OIDC provider's JWKS,
// with a symmetric development fallback.
package oidc

import (
	"context"
	"crypto/rsa"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"log/slog"
	"math/big"
	"net/http"
	"sync"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/canopyiq/canopy-gateway/internal/domain/auth"
)

// Config selects the verification paths. With Issuer and JWKSURL set,
// RS256 tokens are accepted; DevSecret additionally (or alternatively)
// enables HS256 development tokens.
type Config struct {
	Issuer    string
	Audience  string
	JWKSURL   string
	DevSecret string
	DevIssuer string
}

// Verifier implements auth.Verifier on OIDC RS256 tokens with an HS256
// dev fallback. The JWKS document is cached in a single slot; the first
// miss blocks on the fetch.
type Verifier struct {
	cfg    Config
	client *http.Client
	logger *slog.Logger

	mu   sync.Mutex
	keys map[string]*rsa.PublicKey
}

var _ auth.Verifier = (*Verifier)(nil)

func NewVerifier(cfg Config, logger *slog.Logger) *Verifier {
	if logger == nil {
		logger = slog.Default()
	}
	return &Verifier{
		cfg:    cfg,
		client: &http.Client{Timeout: 5 * time.Second},
		logger: logger,
	}
}

// Verify validates the token and extracts claims. The OIDC RS256 path is
// tried first when configured; any failure there falls through to the
// HS256 development path.
func (v *Verifier) Verify(ctx context.Context, token string) (*auth.Claims, error) {
	if v.cfg.JWKSURL != "" && v.cfg.Issuer != "" {
		claims, err := v.verifyRS256(ctx, token)
		if err == nil {
			return claims, nil
		}
		v.logger.Debug("oidc verification failed, trying dev fallback", "error", err)
	}

	if v.cfg.DevSecret != "" {
		claims, err := v.verifyHS256(token)
		if err == nil {
			return claims, nil
		}
		v.logger.Debug("dev token verification failed", "error", err)
	}
	return nil, auth.ErrUnauthorized
}

type gatewayClaims struct {
	jwt.RegisteredClaims
	Tenant string     `json:"tenant"`
	Roles  rolesValue `json:"roles"`
}

// rolesValue accepts the roles claim as a single string or a list.
type rolesValue []string

func (r *rolesValue) UnmarshalJSON(data []byte) error {
	var list []string
	if err := json.Unmarshal(data, &list); err == nil {
		*r = list
		return nil
	}
	var single string
	if err := json.Unmarshal(data, &single); err != nil {
		return fmt.Errorf("roles claim must be a string or list of strings")
	}
	*r = rolesValue{single}
	return nil
}

func (v *Verifier) verifyRS256(ctx context.Context, token string) (*auth.Claims, error) {
	keyFunc := func(t *jwt.Token) (any, error) {
		if _, ok := t.Method.(*jwt.SigningMethodRSA); !ok {
			return nil, fmt.Errorf("unexpected signing method %v", t.Header["alg"])
		}
		kid, _ := t.Header["kid"].(string)
		if kid == "" {
			return nil, fmt.Errorf("token header has no kid")
		}
		return v.key(ctx, kid)
	}

	opts := []jwt.ParserOption{
		jwt.WithValidMethods([]string{"RS256"}),
		jwt.WithIssuer(v.cfg.Issuer),
		jwt.WithExpirationRequired(),
	}
	if v.cfg.Audience != "" {
		opts = append(opts, jwt.WithAudience(v.cfg.Audience))
	}

	claims := &gatewayClaims{}
	if _, err := jwt.ParseWithClaims(token, claims, keyFunc, opts...); err != nil {
		return nil, fmt.Errorf("parse RS256 token: %w", err)
	}
	return toDomain(claims), nil
}

func (v *Verifier) verifyHS256(token string) (*auth.Claims, error) {
	keyFunc := func(t *jwt.Token) (any, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method %v", t.Header["alg"])
		}
		return []byte(v.cfg.DevSecret), nil
	}

	opts := []jwt.ParserOption{
		jwt.WithValidMethods([]string{"HS256"}),
		jwt.WithExpirationRequired(),
	}
	if v.cfg.DevIssuer != "" {
		opts = append(opts, jwt.WithIssuer(v.cfg.DevIssuer))
	}
	if v.cfg.Audience != "" {
		opts = append(opts, jwt.WithAudience(v.cfg.Audience))
	}

	claims := &gatewayClaims{}
	if _, err := jwt.ParseWithClaims(token, claims, keyFunc, opts...); err != nil {
		return nil, fmt.Errorf("parse HS256 token: %w", err)
	}
	return toDomain(claims), nil
}

func toDomain(c *gatewayClaims) *auth.Claims {
	tenant := c.Tenant
	if tenant == "" {
		tenant = "default"
	}
	return &auth.Claims{Subject: c.Subject, Tenant: tenant, Roles: c.Roles}
}

// key returns the RSA public key for kid, fetching the JWKS document on
// first use or when the kid is unknown.
func (v *Verifier) key(ctx context.Context, kid string) (*rsa.PublicKey, error) {
	v.mu.Lock()
	defer v.mu.Unlock()

	if k, ok := v.keys[kid]; ok {
		return k, nil
	}
	keys, err := v.fetchJWKS(ctx)
	if err != nil {
		return nil, err
	}
	v.keys = keys

	k, ok := v.keys[kid]
	if !ok {
		return nil, fmt.Errorf("no JWKS key with kid %q", kid)
	}
	return k, nil
}

type jwksDocument struct {
	Keys []struct {
		Kty string `json:"kty"`
		Kid string `json:"kid"`
		N   string `json:"n"`
		E   string `json:"e"`
	} `json:"keys"`
}

func (v *Verifier) fetchJWKS(ctx context.Context) (map[string]*rsa.PublicKey, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, v.cfg.JWKSURL, nil)
	if err != nil {
		return nil, fmt.Errorf("build JWKS request: %w", err)
	}
	resp, err := v.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("fetch JWKS: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("fetch JWKS: status %d", resp.StatusCode)
	}

	var doc jwksDocument
	if err := json.NewDecoder(resp.Body).Decode(&doc); err != nil {
		return nil, fmt.Errorf("decode JWKS: %w", err)
	}

	keys := make(map[string]*rsa.PublicKey, len(doc.Keys))
	for _, k := range doc.Keys {
		if k.Kty != "RSA" || k.Kid == "" {
			continue
		}
		pub, err := rsaKeyFromJWK(k.N, k.E)
		if err != nil {
			v.logger.Warn("skipping unparseable JWKS key", "kid", k.Kid, "error", err)
			continue
		}
		keys[k.Kid] = pub
	}
	return keys, nil
}

func rsaKeyFromJWK(n, e string) (*rsa.PublicKey, error) {
	nb, err := base64.RawURLEncoding.DecodeString(n)
	if err != nil {
		return nil, fmt.Errorf("decode modulus: %w", err)
	}
	eb, err := base64.RawURLEncoding.DecodeString(e)
	if err != nil {
		return nil, fmt.Errorf("decode exponent: %w", err)
	}
	return &rsa.PublicKey{
		N: new(big.Int).SetBytes(nb),
		E: int(new(big.Int).SetBytes(eb).Int64()),
	}, nil
}
