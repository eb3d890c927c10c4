package service

import (
	"context"
	"log/slog"
	"sync"

	"github.com/canopyiq/canopy-gateway/internal/adapter/outbound/sqlstore"
	"github.com/canopyiq/canopy-gateway/internal/domain/audit"
)

// AuditService appends hash-chained audit entries. A writer lock around
// compute-and-persist preserves chain ordering; the chain head is loaded
// from the store on first use so restarts continue the chain.
type AuditService struct {
	store  *sqlstore.AuditStore
	logger *slog.Logger

	mu       sync.Mutex
	lastHash []byte
	loaded   bool
}

func NewAuditService(store *sqlstore.AuditStore, logger *slog.Logger) *AuditService {
	if logger == nil {
		logger = slog.Default()
	}
	return &AuditService{store: store, logger: logger}
}

// Record chains and persists one entry. Failures are logged and swallowed;
// audit writing never blocks a reply.
func (s *AuditService) Record(ctx context.Context, e *audit.Entry) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.loaded {
		head, err := s.store.LastHash(ctx)
		if err != nil {
			s.logger.Error("load audit chain head", "error", err)
			return
		}
		s.lastHash = head
		s.loaded = true
	}

	hash, err := audit.ComputeHash(e, s.lastHash)
	if err != nil {
		s.logger.Error("compute audit hash", "tool", e.Tool, "error", err)
		return
	}
	e.PrevHash = s.lastHash
	e.Hash = hash

	if err := s.store.Append(ctx, e); err != nil {
		s.logger.Error("append audit entry", "tool", e.Tool, "error", err)
		return
	}
	s.lastHash = hash
}
