package oidc

import (
	"context"
	"crypto/rand"
	"crypto/rsa"
	"encoding/base64"
	"encoding/json"
	"errors"
	"log/slog"
	"math/big"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/canopyiq/canopy-gateway/internal/domain/auth"
)

func devToken(t *testing.T, secret string, claims jwt.MapClaims) string {
	t.Helper()
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	s, err := token.SignedString([]byte(secret))
	if err != nil {
		t.Fatalf("sign dev token: %v", err)
	}
	return s
}

func TestVerifyDevToken(t *testing.T) {
	v := NewVerifier(Config{DevSecret: "dev-secret", DevIssuer: "canopyiq-dev"}, slog.Default())

	token := devToken(t, "dev-secret", jwt.MapClaims{
		"sub":    "alice",
		"tenant": "acme",
		"roles":  []string{"admin", "approver"},
		"iss":    "canopyiq-dev",
		"exp":    time.Now().Add(time.Hour).Unix(),
	})

	claims, err := v.Verify(context.Background(), token)
	if err != nil {
		t.Fatalf("Verify: %v", err)
	}
	if claims.Subject != "alice" || claims.Tenant != "acme" {
		t.Fatalf("claims = %+v", claims)
	}
	if !claims.HasRole("admin") || claims.HasRole("viewer") {
		t.Fatalf("roles = %v", claims.Roles)
	}
}

func TestVerifyRolesAsSingleString(t *testing.T) {
	v := NewVerifier(Config{DevSecret: "dev-secret"}, slog.Default())

	token := devToken(t, "dev-secret", jwt.MapClaims{
		"sub":   "bob",
		"roles": "viewer",
		"exp":   time.Now().Add(time.Hour).Unix(),
	})

	claims, err := v.Verify(context.Background(), token)
	if err != nil {
		t.Fatalf("Verify: %v", err)
	}
	if len(claims.Roles) != 1 || claims.Roles[0] != "viewer" {
		t.Fatalf("roles = %v", claims.Roles)
	}
	// Missing tenant claim falls back to the default tenant.
	if claims.Tenant != "default" {
		t.Fatalf("tenant = %q", claims.Tenant)
	}
}

func TestVerifyRejectsExpired(t *testing.T) {
	v := NewVerifier(Config{DevSecret: "dev-secret"}, slog.Default())

	token := devToken(t, "dev-secret", jwt.MapClaims{
		"sub": "alice",
		"exp": time.Now().Add(-time.Hour).Unix(),
	})

	if _, err := v.Verify(context.Background(), token); !errors.Is(err, auth.ErrUnauthorized) {
		t.Fatalf("want ErrUnauthorized, got %v", err)
	}
}

func TestVerifyRejectsWrongSecret(t *testing.T) {
	v := NewVerifier(Config{DevSecret: "dev-secret"}, slog.Default())

	token := devToken(t, "other-secret", jwt.MapClaims{
		"sub": "alice",
		"exp": time.Now().Add(time.Hour).Unix(),
	})

	if _, err := v.Verify(context.Background(), token); !errors.Is(err, auth.ErrUnauthorized) {
		t.Fatalf("want ErrUnauthorized, got %v", err)
	}
}

func TestVerifyRS256ViaJWKS(t *testing.T) {
	key, err := rsa.GenerateKey(rand.Reader, 2048)
	if err != nil {
		t.Fatalf("generate RSA key: %v", err)
	}

	jwksCalls := 0
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		jwksCalls++
		doc := map[string]any{
			"keys": []map[string]string{{
				"kty": "RSA",
				"kid": "test-key",
				"n":   base64.RawURLEncoding.EncodeToString(key.PublicKey.N.Bytes()),
				"e":   base64.RawURLEncoding.EncodeToString(big.NewInt(int64(key.PublicKey.E)).Bytes()),
			}},
		}
		json.NewEncoder(w).Encode(doc)
	}))
	defer srv.Close()

	v := NewVerifier(Config{
		Issuer:   "https://issuer.example.com",
		Audience: "canopy-gateway",
		JWKSURL:  srv.URL,
	}, slog.Default())

	mint := func(kid string) string {
		token := jwt.NewWithClaims(jwt.SigningMethodRS256, jwt.MapClaims{
			"sub":    "alice",
			"tenant": "acme",
			"roles":  []string{"admin"},
			"iss":    "https://issuer.example.com",
			"aud":    "canopy-gateway",
			"exp":    time.Now().Add(time.Hour).Unix(),
		})
		token.Header["kid"] = kid
		s, err := token.SignedString(key)
		if err != nil {
			t.Fatalf("sign RS256 token: %v", err)
		}
		return s
	}

	claims, err := v.Verify(context.Background(), mint("test-key"))
	if err != nil {
		t.Fatalf("Verify: %v", err)
	}
	if claims.Subject != "alice" || claims.Tenant != "acme" {
		t.Fatalf("claims = %+v", claims)
	}

	// The JWKS document is cached; a second verify does not refetch.
	if _, err := v.Verify(context.Background(), mint("test-key")); err != nil {
		t.Fatalf("second Verify: %v", err)
	}
	if jwksCalls != 1 {
		t.Fatalf("JWKS fetched %d times, want 1", jwksCalls)
	}

	// Unknown kid with no dev fallback fails closed.
	if _, err := v.Verify(context.Background(), mint("other-key")); !errors.Is(err, auth.ErrUnauthorized) {
		t.Fatalf("want ErrUnauthorized for unknown kid, got %v", err)
	}
}

func TestJWKSFailureFallsBackToDevSecret(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "boom", http.StatusInternalServerError)
	}))
	defer srv.Close()

	v := NewVerifier(Config{
		Issuer:    "https://issuer.example.com",
		JWKSURL:   srv.URL,
		DevSecret: "dev-secret",
	}, slog.Default())

	token := devToken(t, "dev-secret", jwt.MapClaims{
		"sub": "alice",
		"exp": time.Now().Add(time.Hour).Unix(),
	})

	claims, err := v.Verify(context.Background(), token)
	if err != nil {
		t.Fatalf("Verify: %v", err)
	}
	if claims.Subject != "alice" {
		t.Fatalf("claims = %+v", claims)
	}
}
