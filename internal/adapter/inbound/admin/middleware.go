package admin

import (
	"net/http"

	"github.com/canopyiq/canopy-gateway/internal/domain/auth"
)

// Role sets for the two endpoint tiers.
var (
	adminOnly  = []string{"admin"}
	viewerTier = []string{"admin", "approver", "viewer"}
)

// requireRole wraps a handler with bearer-token verification and a role
// check. Roles from the token are merged with the per-tenant assignments
// in the RBAC store, so an operator granted admin via the store needs no
// new token.
func (h *Handler) requireRole(allowed []string, next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		claims, err := h.verifier.Verify(r.Context(), bearerToken(r))
		if err != nil {
			writeJSON(w, http.StatusUnauthorized, map[string]string{"error": "unauthorized"})
			return
		}

		roles := claims.Roles
		if stored, err := h.rbac.Roles(r.Context(), claims.Tenant, claims.Subject); err != nil {
			h.logger.Warn("rbac store lookup failed, using token roles only",
				"tenant", claims.Tenant, "subject", claims.Subject, "error", err)
		} else {
			roles = mergeRoles(roles, stored)
		}

		if !anyRole(roles, allowed) {
			writeJSON(w, http.StatusForbidden, map[string]string{"error": "insufficient role"})
			return
		}

		merged := &auth.Claims{Subject: claims.Subject, Tenant: claims.Tenant, Roles: roles}
		next(w, r.WithContext(auth.WithClaims(r.Context(), merged)))
	}
}

func mergeRoles(a, b []string) []string {
	seen := make(map[string]bool, len(a)+len(b))
	var out []string
	for _, r := range append(append([]string{}, a...), b...) {
		if r == "" || seen[r] {
			continue
		}
		seen[r] = true
		out = append(out, r)
	}
	return out
}

func anyRole(have, allowed []string) bool {
	for _, want := range allowed {
		for _, r := range have {
			if r == want {
				return true
			}
		}
	}
	return false
}

func bearerToken(r *http.Request) string {
	header := r.Header.Get("Authorization")
	const prefix = "Bearer "
	if len(header) > len(prefix) {
		return header[len(prefix):]
	}
	return ""
}
