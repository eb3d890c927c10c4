package admin

import (
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"strconv"
	"strings"

	"github.com/canopyiq/canopy-gateway/internal/adapter/outbound/sqlstore"
	"github.com/canopyiq/canopy-gateway/internal/domain/auth"
	"github.com/canopyiq/canopy-gateway/internal/domain/bundle"
	"github.com/canopyiq/canopy-gateway/internal/domain/policy"
	"github.com/canopyiq/canopy-gateway/internal/domain/rollout"
)

// maxUploadBytes bounds multipart policy uploads.
const maxUploadBytes = 8 << 20

// Rollout strategies accepted by policy/apply.
const (
	StrategyImmediateAll  = "immediate_all"
	StrategyCanaryPercent = "canary_percent"
	StrategyExplicit      = "explicit"
)

// policyApply registers a signed bundle and updates the rollout according
// to the requested strategy.
func (h *Handler) policyApply(w http.ResponseWriter, r *http.Request) {
	if err := r.ParseMultipartForm(maxUploadBytes); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "expected multipart form"})
		return
	}
	defer r.MultipartForm.RemoveAll()

	payloadPath, err := saveUpload(r, "proposed", "*.yaml")
	if err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": err.Error()})
		return
	}
	defer os.Remove(payloadPath)
	sigPath, err := saveUpload(r, "signature", "*.sig")
	if err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": err.Error()})
		return
	}
	defer os.Remove(sigPath)

	pubkey := r.FormValue("public_key_b64")
	if pubkey == "" {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "public_key_b64 is required"})
		return
	}

	strategy := r.FormValue("strategy")
	if strategy == "" {
		strategy = StrategyImmediateAll
	}
	canaryPercent := formInt(r, "canary_percent", 0)
	seed := int64(formInt(r, "seed", 1))

	result, err := h.versions.Register(r.Context(), payloadPath, sigPath, pubkey)
	if err != nil {
		var verr *bundle.VerifyError
		if errors.As(err, &verr) {
			writeJSON(w, http.StatusBadRequest, map[string]string{
				"error": "signature verification failed", "reason": string(verr.Kind),
			})
			return
		}
		h.logger.Error("register policy bundle", "error", err)
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "version store unavailable"})
		return
	}

	if err := h.applyStrategy(r, strategy, result.Version, canaryPercent, seed); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": err.Error()})
		return
	}

	by := ""
	if claims, ok := auth.ClaimsFrom(r.Context()); ok {
		by = claims.Subject
	}
	h.logger.Info("policy applied",
		"version", result.Version, "strategy", strategy, "by", by)

	writeJSON(w, http.StatusOK, map[string]any{
		"ok":             true,
		"version":        result.Version,
		"sha256":         hex.EncodeToString(result.SHA256),
		"strategy":       strategy,
		"canary_percent": canaryPercent,
		"seed":           seed,
	})
}

func (h *Handler) applyStrategy(r *http.Request, strategy, version string, canaryPercent int, seed int64) error {
	ctx := r.Context()
	switch strategy {
	case StrategyImmediateAll:
		return h.rollouts.Set(ctx, &rollout.State{ActiveVersion: version, Seed: seed})

	case StrategyCanaryPercent:
		// Get bootstraps a missing row from the newest version, which at
		// this point is the one just registered.
		state, err := h.rollouts.Get(ctx)
		if err != nil {
			return err
		}
		state.CanaryVersion = version
		state.CanaryPercent = canaryPercent
		state.Seed = seed
		return h.rollouts.Set(ctx, state)

	case StrategyExplicit:
		var tenants []string
		for _, t := range strings.Split(r.FormValue("tenants_csv"), ",") {
			if t = strings.TrimSpace(t); t != "" {
				tenants = append(tenants, t)
			}
		}
		if len(tenants) == 0 {
			return fmt.Errorf("strategy explicit requires tenants_csv")
		}
		for _, tenant := range tenants {
			if err := h.rollouts.SetOverride(ctx, tenant, version); err != nil {
				return err
			}
		}
		return nil
	}
	return fmt.Errorf("unknown strategy %q", strategy)
}

// policyRollback points the active version at an already-registered
// version and clears any canary.
func (h *Handler) policyRollback(w http.ResponseWriter, r *http.Request) {
	toVersion := r.URL.Query().Get("to_version")
	if toVersion == "" {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "to_version is required"})
		return
	}

	if toVersion != rollout.BuiltinVersion {
		if _, err := h.versions.Lookup(r.Context(), toVersion); err != nil {
			if errors.Is(err, sqlstore.ErrVersionNotFound) {
				writeJSON(w, http.StatusNotFound, map[string]string{"error": "unknown version"})
				return
			}
			h.logger.Error("lookup rollback version", "version", toVersion, "error", err)
			writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "version store unavailable"})
			return
		}
	}

	state, err := h.rollouts.Get(r.Context())
	if err != nil {
		h.logger.Error("read rollout", "error", err)
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "rollout store unavailable"})
		return
	}
	if err := h.rollouts.Set(r.Context(), &rollout.State{ActiveVersion: toVersion, Seed: state.Seed}); err != nil {
		h.logger.Error("rollback rollout", "version", toVersion, "error", err)
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "rollout store unavailable"})
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{"ok": true, "active_version": toVersion})
}

func (h *Handler) policyStatus(w http.ResponseWriter, r *http.Request) {
	state, err := h.rollouts.Get(r.Context())
	if err != nil {
		h.logger.Error("read rollout", "error", err)
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "rollout store unavailable"})
		return
	}
	count, err := h.rollouts.OverrideCount(r.Context())
	if err != nil {
		h.logger.Error("count overrides", "error", err)
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "rollout store unavailable"})
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"active_version":   state.ActiveVersion,
		"canary_version":   state.CanaryVersion,
		"canary_percent":   state.CanaryPercent,
		"seed":             state.Seed,
		"updated_at":       state.UpdatedAt,
		"tenant_overrides": count,
	})
}

// policyDiff compares a proposed bundle against the current one (uploaded
// or the server's active version).
func (h *Handler) policyDiff(w http.ResponseWriter, r *http.Request) {
	if err := r.ParseMultipartForm(maxUploadBytes); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "expected multipart form"})
		return
	}
	defer r.MultipartForm.RemoveAll()

	proposedData, err := readUpload(r, "proposed")
	if err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": err.Error()})
		return
	}
	proposed, err := policy.ParseBundle(proposedData)
	if err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "proposed bundle: " + err.Error()})
		return
	}

	var currentData []byte
	if currentData, err = readUpload(r, "current"); err != nil {
		currentData, err = h.activeBundleBytes(r)
		if err != nil {
			h.logger.Error("load active bundle for diff", "error", err)
			writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "cannot load active bundle"})
			return
		}
	}
	current, err := policy.ParseBundle(currentData)
	if err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "current bundle: " + err.Error()})
		return
	}

	writeJSON(w, http.StatusOK, policy.Compare(current, proposed))
}

// activeBundleBytes loads the bytes of the version the rollout marks
// active.
func (h *Handler) activeBundleBytes(r *http.Request) ([]byte, error) {
	state, err := h.rollouts.Get(r.Context())
	if err != nil {
		return nil, err
	}
	path := h.builtinPath
	if state.ActiveVersion != rollout.BuiltinVersion {
		if path, err = h.versions.Lookup(r.Context(), state.ActiveVersion); err != nil {
			return nil, err
		}
	}
	return os.ReadFile(path)
}

// policySimulate evaluates a tool call with a full trace, optionally
// against a bundle file on disk instead of the caller's resolved engine.
func (h *Handler) policySimulate(w http.ResponseWriter, r *http.Request) {
	var payload struct {
		Tool       string         `json:"tool"`
		Arguments  map[string]any `json:"arguments"`
		PolicyFile string         `json:"policy_file"`
	}
	if err := json.NewDecoder(io.LimitReader(r.Body, maxBodyBytes)).Decode(&payload); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid JSON"})
		return
	}
	if payload.Tool == "" {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "tool is required"})
		return
	}

	var engine *policy.Engine
	if payload.PolicyFile != "" {
		data, err := os.ReadFile(payload.PolicyFile)
		if err != nil {
			writeJSON(w, http.StatusBadRequest, map[string]string{"error": "read policy_file: " + err.Error()})
			return
		}
		b, err := policy.ParseBundle(data)
		if err != nil {
			writeJSON(w, http.StatusBadRequest, map[string]string{"error": err.Error()})
			return
		}
		engine = policy.NewEngine(b)
	} else {
		tenant := "default"
		if claims, ok := auth.ClaimsFrom(r.Context()); ok {
			tenant = claims.Tenant
		}
		var err error
		engine, _, err = h.resolver.EngineFor(r.Context(), tenant)
		if err != nil {
			h.logger.Error("resolve engine for simulate", "error", err)
			writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "cannot resolve active engine"})
			return
		}
	}

	writeJSON(w, http.StatusOK, engine.EvaluateWithTrace(payload.Tool, policy.Args(payload.Arguments)))
}

// saveUpload copies one multipart file to a temp file and returns its
// path. Callers remove the file.
func saveUpload(r *http.Request, field, pattern string) (string, error) {
	file, _, err := r.FormFile(field)
	if err != nil {
		return "", fmt.Errorf("%s file is required", field)
	}
	defer file.Close()

	tmp, err := os.CreateTemp("", pattern)
	if err != nil {
		return "", fmt.Errorf("stage %s upload: %w", field, err)
	}
	if _, err := io.Copy(tmp, file); err != nil {
		tmp.Close()
		os.Remove(tmp.Name())
		return "", fmt.Errorf("stage %s upload: %w", field, err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmp.Name())
		return "", fmt.Errorf("stage %s upload: %w", field, err)
	}
	return tmp.Name(), nil
}

// readUpload returns the bytes of one multipart file.
func readUpload(r *http.Request, field string) ([]byte, error) {
	file, _, err := r.FormFile(field)
	if err != nil {
		return nil, fmt.Errorf("%s file is required", field)
	}
	defer file.Close()
	return io.ReadAll(io.LimitReader(file, maxUploadBytes))
}

func formInt(r *http.Request, field string, fallback int) int {
	v := r.FormValue(field)
	if v == "" {
		return fallback
	}
	if n, err := strconv.Atoi(v); err == nil {
		return n
	}
	return fallback
}
