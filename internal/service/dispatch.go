package service

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/canopyiq/canopy-gateway/internal/domain/approval"
	"github.com/canopyiq/canopy-gateway/internal/domain/audit"
	"github.com/canopyiq/canopy-gateway/internal/domain/auth"
	"github.com/canopyiq/canopy-gateway/internal/domain/policy"
	"github.com/canopyiq/canopy-gateway/internal/domain/tool"
	"github.com/canopyiq/canopy-gateway/pkg/mcp"
)

// Notifier announces a pending approval on the operator side channel.
type Notifier interface {
	RequestApproval(ctx context.Context, pendingID, summary string) error
}

// EngineResolver yields the policy engine for a tenant.
type EngineResolver interface {
	EngineFor(ctx context.Context, tenant string) (*policy.Engine, string, error)
}

// Dispatcher implements the shared JSON-RPC method set for the HTTP and
// stdio transports.
type Dispatcher struct {
	registry    *tool.Registry
	resolver    EngineResolver
	coordinator approval.Coordinator
	notifier    Notifier
	auditor     *AuditService
	fallback    *policy.Engine
	logger      *slog.Logger
	tracer      trace.Tracer

	approvalTTL time.Duration
	syncWait    time.Duration

	newID func() string
}

// DispatcherConfig carries the dispatch tunables.
type DispatcherConfig struct {
	// ApprovalTTL bounds how long a pending approval survives.
	ApprovalTTL time.Duration
	// SyncWait, when positive, makes tools/call block on pending approvals
	// for up to this long before returning the pending id.
	SyncWait time.Duration
}

func NewDispatcher(
	registry *tool.Registry,
	resolver EngineResolver,
	coordinator approval.Coordinator,
	notifier Notifier,
	auditor *AuditService,
	fallback *policy.Engine,
	cfg DispatcherConfig,
	logger *slog.Logger,
) *Dispatcher {
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.ApprovalTTL <= 0 {
		cfg.ApprovalTTL = approval.DefaultTTL
	}
	return &Dispatcher{
		registry:    registry,
		resolver:    resolver,
		coordinator: coordinator,
		notifier:    notifier,
		auditor:     auditor,
		fallback:    fallback,
		logger:      logger,
		tracer:      otel.Tracer("canopy-gateway/dispatch"),
		approvalTTL: cfg.ApprovalTTL,
		syncWait:    cfg.SyncWait,
		newID:       func() string { return uuid.NewString() },
	}
}

// Dispatch handles one decoded JSON-RPC request for an authenticated
// caller. allowShutdown is set only by the stdio transport.
func (d *Dispatcher) Dispatch(ctx context.Context, msg *mcp.Message, claims *auth.Claims, allowShutdown bool) *mcp.Reply {
	id := msg.RawID()

	switch msg.Method() {
	case "initialize":
		return mcp.NewResult(id, map[string]any{
			"capabilities":    map[string]any{"tools": map[string]any{"listChanged": true}},
			"protocolVersion": mcp.ProtocolVersion,
		})

	case "tools/list":
		return mcp.NewResult(id, map[string]any{
			"tools":      d.registry.List(),
			"nextCursor": nil,
		})

	case "tools/call":
		return d.toolsCall(ctx, msg, claims)

	case "shutdown":
		if allowShutdown {
			return mcp.NewResult(id, map[string]any{"ok": true})
		}
		return mcp.NewError(id, mcp.CodeMethodNotFound, fmt.Sprintf("Method not found: %s", msg.Method()))

	default:
		return mcp.NewError(id, mcp.CodeMethodNotFound, fmt.Sprintf("Method not found: %s", msg.Method()))
	}
}

func (d *Dispatcher) toolsCall(ctx context.Context, msg *mcp.Message, claims *auth.Claims) *mcp.Reply {
	id := msg.RawID()

	params := msg.ParseParams()
	if params == nil {
		return mcp.NewError(id, mcp.CodeInvalidRequest, "tools/call requires params")
	}
	name, _ := params["name"].(string)
	if name == "" {
		return mcp.NewError(id, mcp.CodeInvalidRequest, "tools/call requires a tool name")
	}
	args, _ := params["arguments"].(map[string]any)
	if args == nil {
		args = map[string]any{}
	}

	ctx, span := d.tracer.Start(ctx, "tools/call",
		trace.WithAttributes(
			attribute.String("tool.name", name),
			attribute.String("tenant", claims.Tenant),
		))
	defer span.End()

	engine := d.engineFor(ctx, claims.Tenant)
	decision := engine.Evaluate(name, policy.Args(args))
	span.SetAttributes(attribute.String("policy.decision", string(decision.Outcome)),
		attribute.String("policy.rule", decision.Rule))

	switch decision.Outcome {
	case policy.OutcomeDeny:
		reason := decision.Reason
		if reason == "" {
			reason = "Blocked by policy"
		}
		d.record(ctx, claims, name, args, string(policy.OutcomeDeny), decision.Rule, nil, "")
		return mcp.NewResult(id, blockedResult(reason))

	case policy.OutcomeApproval:
		return d.approvalFlow(ctx, id, name, args, claims, decision)

	default:
		return d.execute(ctx, id, name, args, claims, decision.Rule, "")
	}
}

// approvalFlow creates the pending record, fires the chat notification,
// and either waits synchronously or returns the pending id immediately.
func (d *Dispatcher) approvalFlow(ctx context.Context, id json.RawMessage, name string, args map[string]any, claims *auth.Claims, decision policy.Decision) *mcp.Reply {
	pendingID := d.newID()
	argsJSON, err := json.Marshal(args)
	if err != nil {
		return mcp.NewError(id, mcp.CodeInternalError, "encode arguments: "+err.Error())
	}

	_, err = d.coordinator.Create(ctx, approval.CreateRequest{
		ID:                pendingID,
		Tenant:            claims.Tenant,
		Requester:         claims.Subject,
		Tool:              name,
		ArgsJSON:          string(argsJSON),
		RequiredApprovals: decision.RequiredApprovals,
		TTL:               d.approvalTTL,
		Reason:            decision.Reason,
	})
	if err != nil {
		d.logger.Error("create pending approval", "tool", name, "error", err)
		return mcp.NewError(id, mcp.CodeInternalError, "approval coordinator unavailable")
	}

	summary := fmt.Sprintf("[%s] %s requested by %s", claims.Tenant, name, claims.Subject)
	if err := d.notifier.RequestApproval(ctx, pendingID, summary); err != nil {
		d.logger.Warn("approval notification failed", "pending_id", pendingID, "error", err)
	}

	if d.syncWait <= 0 {
		return mcp.NewResult(id, pendingResult(pendingID, decision.Reason))
	}

	waitCtx, cancel := context.WithTimeout(ctx, d.syncWait)
	defer cancel()
	rec, err := d.coordinator.Wait(waitCtx, pendingID)
	if err != nil {
		d.logger.Error("wait for approval", "pending_id", pendingID, "error", err)
		return mcp.NewResult(id, pendingResult(pendingID, decision.Reason))
	}
	if rec == nil {
		// Still pending at the deadline; the client polls via the id.
		return mcp.NewResult(id, pendingResult(pendingID, decision.Reason))
	}

	approver := lastApprover(rec)
	if rec.Status == approval.StatusDeny {
		d.record(ctx, claims, name, args, string(policy.OutcomeDeny), decision.Rule, nil, approver)
		reason := rec.Reason
		if reason == "" {
			reason = "Blocked by policy"
		}
		return mcp.NewResult(id, blockedResult(reason))
	}
	return d.execute(ctx, id, name, args, claims, decision.Rule, approver)
}

// execute runs the tool handler and audits the terminal outcome.
func (d *Dispatcher) execute(ctx context.Context, id json.RawMessage, name string, args map[string]any, claims *auth.Claims, rule, approver string) *mcp.Reply {
	handler, err := d.registry.Get(name)
	if err != nil {
		return mcp.NewError(id, mcp.CodeInvalidParams, err.Error())
	}

	result, err := handler(ctx, args, tool.Context{Tenant: claims.Tenant, Subject: claims.Subject})
	if err != nil {
		d.record(ctx, claims, name, args, "error", rule, mustRaw(map[string]any{"error": err.Error()}), approver)
		return mcp.NewResult(id, tool.Errorf("Tool error: %v", err))
	}

	var meta json.RawMessage
	if result.StructuredContent != nil {
		meta = mustRaw(result.StructuredContent)
	}
	d.record(ctx, claims, name, args, string(policy.OutcomeAllow), rule, meta, approver)
	return mcp.NewResult(id, result)
}

func (d *Dispatcher) engineFor(ctx context.Context, tenant string) *policy.Engine {
	engine, version, err := d.resolver.EngineFor(ctx, tenant)
	if err != nil {
		d.logger.Warn("policy resolution failed, using static fallback", "tenant", tenant, "error", err)
		return d.fallback
	}
	d.logger.Debug("resolved policy engine", "tenant", tenant, "version", version)
	return engine
}

func (d *Dispatcher) record(ctx context.Context, claims *auth.Claims, name string, args map[string]any, decision, rule string, meta json.RawMessage, approver string) {
	d.auditor.Record(ctx, &audit.Entry{
		TS:         time.Now().UTC(),
		Tenant:     claims.Tenant,
		Subject:    claims.Subject,
		Tool:       name,
		Args:       mustRaw(args),
		Decision:   decision,
		Rule:       rule,
		ResultMeta: meta,
		Approver:   approver,
	})
}

func blockedResult(reason string) *tool.Result {
	r := tool.Text(reason)
	r.IsError = true
	return r
}

func pendingResult(pendingID, reason string) *tool.Result {
	text := "Approval required. Pending id: " + pendingID
	if reason != "" {
		text += " (" + reason + ")"
	}
	r := tool.Text(text)
	r.IsError = true
	r.StructuredContent = map[string]any{"pending_id": pendingID, "status": string(approval.StatusPending)}
	return r
}

// lastApprover picks the approver to audit: the deciding rejector for a
// deny, the final approver otherwise.
func lastApprover(rec *approval.Record) string {
	if rec.Status == approval.StatusDeny && len(rec.Rejections) > 0 {
		return rec.Rejections[len(rec.Rejections)-1]
	}
	if len(rec.Approvals) > 0 {
		return rec.Approvals[len(rec.Approvals)-1]
	}
	return ""
}

func mustRaw(v any) json.RawMessage {
	b, err := json.Marshal(v)
	if err != nil {
		return json.RawMessage(`{}`)
	}
	return b
}
