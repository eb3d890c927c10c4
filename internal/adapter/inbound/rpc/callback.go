package rpc

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"

	"github.com/canopyiq/canopy-gateway/internal/domain/approval"
	"github.com/canopyiq/canopy-gateway/internal/domain/audit"
	"github.com/canopyiq/canopy-gateway/internal/domain/callback"
)

// chatPayload is the interaction payload posted by the chat provider,
// form-encoded under the "payload" field.
type chatPayload struct {
	Actions []struct {
		ActionID string `json:"action_id"`
		Value    string `json:"value"`
	} `json:"actions"`
	User struct {
		Username string `json:"username"`
		ID       string `json:"id"`
	} `json:"user"`
}

// handleChatCallback processes an interactive button press relayed by the
// chat provider. The raw body is HMAC-verified before any parsing.
func (h *Handler) handleChatCallback(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(io.LimitReader(r.Body, maxBodyBytes))
	if err != nil {
		http.Error(w, `{"error":"read body"}`, http.StatusBadRequest)
		return
	}

	ts := r.Header.Get("X-Request-Timestamp")
	sig := r.Header.Get("X-Request-Signature")
	if err := h.webhook.Verify(ts, sig, body); err != nil {
		h.rejectCallback(w, "chat", err)
		return
	}

	form, err := url.ParseQuery(string(body))
	if err != nil {
		http.Error(w, `{"error":"malformed form body"}`, http.StatusBadRequest)
		return
	}
	var payload chatPayload
	if err := json.Unmarshal([]byte(form.Get("payload")), &payload); err != nil {
		http.Error(w, `{"error":"malformed payload"}`, http.StatusBadRequest)
		return
	}
	if len(payload.Actions) == 0 {
		http.Error(w, `{"error":"no actions in payload"}`, http.StatusBadRequest)
		return
	}

	action := payload.Actions[0]
	status, err := decisionStatus(action.ActionID)
	if err != nil {
		http.Error(w, `{"error":"unknown action"}`, http.StatusBadRequest)
		return
	}
	approver := payload.User.Username
	if approver == "" {
		approver = payload.User.ID
	}
	if approver == "" {
		approver = "unknown"
	}

	rec, err := h.decide(w, r, "chat", action.Value, approver, status)
	if err != nil {
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"text": statusText(rec)})
}

// handleURLCallback processes a signed approval link, typically from CI.
func (h *Handler) handleURLCallback(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	pendingID := q.Get("pending_id")
	decision := q.Get("decision")

	if err := h.urls.Verify(q.Get("ts"), pendingID, decision, q.Get("sig")); err != nil {
		h.rejectCallback(w, "url", err)
		return
	}
	status, err := decisionStatus(decision)
	if err != nil {
		http.Error(w, `{"error":"decision must be approve or deny"}`, http.StatusBadRequest)
		return
	}

	rec, err := h.decide(w, r, "url", pendingID, "ci-approver", status)
	if err != nil {
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{
		"pending_id": rec.ID,
		"status":     string(rec.Status),
		"text":       statusText(rec),
	})
}

// decide applies a callback decision and audits the terminal transition.
// HTTP errors are written before returning a non-nil error.
func (h *Handler) decide(w http.ResponseWriter, r *http.Request, source, pendingID, approver string, status approval.Status) (*approval.Record, error) {
	ctx := r.Context()

	prev, err := h.coordinator.Get(ctx, pendingID)
	if err != nil {
		if errors.Is(err, approval.ErrNotFound) {
			h.metrics.callbackOutcome(source, "not_found")
			http.Error(w, `{"error":"unknown or expired pending id"}`, http.StatusNotFound)
			return nil, err
		}
		h.logger.Error("load pending approval", "pending_id", pendingID, "error", err)
		http.Error(w, `{"error":"approval store unavailable"}`, http.StatusInternalServerError)
		return nil, err
	}

	rec, err := h.coordinator.Decide(ctx, pendingID, approver, status, "")
	if err != nil {
		h.logger.Error("apply approval decision", "pending_id", pendingID, "error", err)
		http.Error(w, `{"error":"approval store unavailable"}`, http.StatusInternalServerError)
		return nil, err
	}

	if !prev.Status.Terminal() && rec.Status.Terminal() {
		h.auditDecision(ctx, source, approver, rec)
	}
	h.metrics.callbackOutcome(source, string(rec.Status))
	return rec, nil
}

// auditDecision records the terminal resolution of a pending approval.
func (h *Handler) auditDecision(ctx context.Context, source, approver string, rec *approval.Record) {
	decision := "allow"
	if rec.Status == approval.StatusDeny {
		decision = "deny"
	}
	args := rec.ArgsJSON
	if args == "" {
		args = "{}"
	}
	h.auditor.Record(ctx, &audit.Entry{
		TS:         time.Now().UTC(),
		Tenant:     rec.Tenant,
		Subject:    rec.Requester,
		Tool:       rec.Tool,
		Args:       json.RawMessage(args),
		Decision:   decision,
		Rule:       "approval",
		ResultMeta: mustJSON(map[string]string{"source": source, "pending_id": rec.ID}),
		Approver:   approver,
	})
}

// rejectCallback maps a verification failure to an HTTP status.
func (h *Handler) rejectCallback(w http.ResponseWriter, source string, err error) {
	var verr *callback.VerifyError
	code := http.StatusUnauthorized
	kind := "invalid"
	if errors.As(err, &verr) {
		kind = string(verr.Kind)
		switch verr.Kind {
		case callback.FailBadTimestamp:
			code = http.StatusBadRequest
		case callback.FailNotConfigured:
			code = http.StatusServiceUnavailable
		}
	}
	h.metrics.callbackOutcome(source, kind)
	h.logger.Warn("callback rejected", "source", source, "reason", kind)
	writeJSON(w, code, map[string]string{"error": kind})
}

func decisionStatus(action string) (approval.Status, error) {
	switch action {
	case "approve":
		return approval.StatusAllow, nil
	case "deny":
		return approval.StatusDeny, nil
	}
	return "", fmt.Errorf("unknown action %q", action)
}

// statusText renders the operator-facing state of a record.
func statusText(rec *approval.Record) string {
	switch rec.Status {
	case approval.StatusAllow:
		return "APPROVED"
	case approval.StatusDeny:
		return "DENIED"
	}
	remaining := rec.RequiredApprovals - len(rec.Approvals)
	return fmt.Sprintf("%d/%d approvals needed", remaining, rec.RequiredApprovals)
}

func mustJSON(v any) json.RawMessage {
	b, err := json.Marshal(v)
	if err != nil {
		return json.RawMessage(`{}`)
	}
	return b
}
