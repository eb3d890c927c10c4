// Package admin provides the RBAC-guarded management API: policy apply,
// rollback, status, diff, simulate, role assignment, and tenant settings.
package admin

import (
	"encoding/json"
	"io"
	"log/slog"
	"net/http"

	"github.com/canopyiq/canopy-gateway/internal/adapter/outbound/redisstore"
	"github.com/canopyiq/canopy-gateway/internal/adapter/outbound/sqlstore"
	"github.com/canopyiq/canopy-gateway/internal/domain/auth"
	"github.com/canopyiq/canopy-gateway/internal/service"
)

// maxBodyBytes bounds JSON request bodies; uploads use the multipart
// limit in policy_handlers.go.
const maxBodyBytes = 1 << 20

// Handler serves the admin API.
type Handler struct {
	verifier    auth.Verifier
	rbac        *redisstore.RBACStore
	versions    *sqlstore.VersionStore
	rollouts    *sqlstore.RolloutStore
	settings    *sqlstore.SettingsStore
	resolver    *service.RolloutResolver
	builtinPath string
	logger      *slog.Logger
}

func NewHandler(
	verifier auth.Verifier,
	rbac *redisstore.RBACStore,
	versions *sqlstore.VersionStore,
	rollouts *sqlstore.RolloutStore,
	settings *sqlstore.SettingsStore,
	resolver *service.RolloutResolver,
	builtinPath string,
	logger *slog.Logger,
) *Handler {
	if logger == nil {
		logger = slog.Default()
	}
	return &Handler{
		verifier:    verifier,
		rbac:        rbac,
		versions:    versions,
		rollouts:    rollouts,
		settings:    settings,
		resolver:    resolver,
		builtinPath: builtinPath,
		logger:      logger,
	}
}

// Routes returns an http.Handler with all admin routes, each behind its
// role tier.
func (h *Handler) Routes() http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("POST /policy/apply", h.requireRole(adminOnly, h.policyApply))
	mux.HandleFunc("POST /policy/rollback", h.requireRole(adminOnly, h.policyRollback))
	mux.HandleFunc("GET /policy/status", h.requireRole(viewerTier, h.policyStatus))
	mux.HandleFunc("POST /policy/diff", h.requireRole(viewerTier, h.policyDiff))
	mux.HandleFunc("POST /policy/simulate", h.requireRole(viewerTier, h.policySimulate))

	mux.HandleFunc("PUT /rbac/{tenant}/users/{subject}", h.requireRole(adminOnly, h.setRoles))
	mux.HandleFunc("GET /rbac/{tenant}/users/{subject}", h.requireRole(adminOnly, h.getRoles))

	mux.HandleFunc("PUT /tenants/{tenant}/quota", h.requireRole(adminOnly, h.setSetting("quota")))
	mux.HandleFunc("PUT /tenants/{tenant}/rate-limit", h.requireRole(adminOnly, h.setSetting("rate_limit")))

	return mux
}

// setRoles replaces the role assignment for (tenant, subject).
func (h *Handler) setRoles(w http.ResponseWriter, r *http.Request) {
	tenant := r.PathValue("tenant")
	subject := r.PathValue("subject")

	var payload struct {
		Roles []string `json:"roles"`
	}
	if err := json.NewDecoder(io.LimitReader(r.Body, maxBodyBytes)).Decode(&payload); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid JSON"})
		return
	}

	if err := h.rbac.SetRoles(r.Context(), tenant, subject, payload.Roles); err != nil {
		h.logger.Error("set roles", "tenant", tenant, "subject", subject, "error", err)
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "role store unavailable"})
		return
	}

	roles, err := h.rbac.Roles(r.Context(), tenant, subject)
	if err != nil {
		roles = payload.Roles
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"ok": true, "tenant": tenant, "subject": subject, "roles": roles,
	})
}

func (h *Handler) getRoles(w http.ResponseWriter, r *http.Request) {
	tenant := r.PathValue("tenant")
	subject := r.PathValue("subject")

	roles, err := h.rbac.Roles(r.Context(), tenant, subject)
	if err != nil {
		h.logger.Error("get roles", "tenant", tenant, "subject", subject, "error", err)
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "role store unavailable"})
		return
	}
	if roles == nil {
		roles = []string{}
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"tenant": tenant, "subject": subject, "roles": roles,
	})
}

// setSetting stores an opaque JSON settings payload for a tenant.
func (h *Handler) setSetting(kind string) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		tenant := r.PathValue("tenant")

		body, err := io.ReadAll(io.LimitReader(r.Body, maxBodyBytes))
		if err != nil || !json.Valid(body) {
			writeJSON(w, http.StatusBadRequest, map[string]string{"error": "body must be valid JSON"})
			return
		}

		if err := h.settings.Set(r.Context(), tenant, kind, string(body)); err != nil {
			h.logger.Error("store tenant setting", "tenant", tenant, "kind", kind, "error", err)
			writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "settings store unavailable"})
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"ok": true, "tenant": tenant, "kind": kind})
	}
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}
