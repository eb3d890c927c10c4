// Package rpc provides the HTTP transport: the JSON-RPC /mcp endpoint,
// approval callbacks, health probes, and metrics.
package rpc

import (
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"strings"

	"github.com/canopyiq/canopy-gateway/internal/domain/approval"
	"github.com/canopyiq/canopy-gateway/internal/domain/auth"
	"github.com/canopyiq/canopy-gateway/internal/domain/callback"
	"github.com/canopyiq/canopy-gateway/internal/service"
	"github.com/canopyiq/canopy-gateway/pkg/mcp"
)

// maxBodyBytes bounds the request body read on every endpoint.
const maxBodyBytes = 1 << 20

// Handler serves the JSON-RPC endpoint and the approval callbacks.
type Handler struct {
	dispatcher  *service.Dispatcher
	verifier    auth.Verifier
	coordinator approval.Coordinator
	auditor     *service.AuditService
	webhook     *callback.WebhookVerifier
	urls        *callback.URLVerifier
	metrics     *Metrics
	logger      *slog.Logger
}

// NewHandler wires the endpoint dependencies. Metrics are attached later
// by the Server once its registry exists; a nil metrics field is inert.
func NewHandler(
	dispatcher *service.Dispatcher,
	verifier auth.Verifier,
	coordinator approval.Coordinator,
	auditor *service.AuditService,
	webhook *callback.WebhookVerifier,
	urls *callback.URLVerifier,
	logger *slog.Logger,
) *Handler {
	if logger == nil {
		logger = slog.Default()
	}
	return &Handler{
		dispatcher:  dispatcher,
		verifier:    verifier,
		coordinator: coordinator,
		auditor:     auditor,
		webhook:     webhook,
		urls:        urls,
		logger:      logger,
	}
}

// Routes registers the handler's endpoints on the mux.
func (h *Handler) Routes(mux *http.ServeMux) {
	mux.Handle("POST /mcp", h.metrics.instrument("/mcp", http.HandlerFunc(h.handleMCP)))
	mux.Handle("POST /callback/chat", h.metrics.instrument("/callback/chat", http.HandlerFunc(h.handleChatCallback)))
	mux.Handle("GET /callback/url", h.metrics.instrument("/callback/url", http.HandlerFunc(h.handleURLCallback)))
}

// handleMCP serves one JSON-RPC request. Transport-level failures are
// still JSON-RPC replies: parse errors map to -32700 and authentication
// failures to -32003, both with HTTP 200.
func (h *Handler) handleMCP(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(io.LimitReader(r.Body, maxBodyBytes))
	if err != nil {
		writeReply(w, mcp.NewError(nil, mcp.CodeParseError, "read request body"))
		return
	}

	msg, err := mcp.WrapMessage(body)
	if err != nil {
		writeReply(w, mcp.NewError(nil, mcp.CodeParseError, "Parse error"))
		return
	}
	if !msg.IsRequest() {
		writeReply(w, mcp.NewError(msg.RawID(), mcp.CodeInvalidRequest, "expected a JSON-RPC request"))
		return
	}

	claims, err := h.verifier.Verify(r.Context(), bearerToken(r))
	if err != nil {
		writeReply(w, mcp.NewError(msg.RawID(), mcp.CodeUnauthorized, "Unauthorized"))
		return
	}

	reply := h.dispatcher.Dispatch(auth.WithClaims(r.Context(), claims), msg, claims, false)
	writeReply(w, reply)
}

// bearerToken extracts the token from an Authorization: Bearer header.
func bearerToken(r *http.Request) string {
	header := r.Header.Get("Authorization")
	const prefix = "Bearer "
	if len(header) > len(prefix) && strings.EqualFold(header[:len(prefix)], prefix) {
		return header[len(prefix):]
	}
	return ""
}

func writeReply(w http.ResponseWriter, reply *mcp.Reply) {
	data, err := reply.Encode()
	if err != nil {
		http.Error(w, `{"error":"encode response"}`, http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	w.Write(data)
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}
