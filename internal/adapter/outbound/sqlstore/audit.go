package sqlstore

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/canopyiq/canopy-gateway/internal/domain/audit"
)

// AuditStore appends hash-chained audit entries.
type AuditStore struct {
	db *sql.DB
}

func NewAuditStore(db *sql.DB) *AuditStore {
	return &AuditStore{db: db}
}

// LastHash returns the hash of the most recent entry, or nil when the log
// is empty.
func (s *AuditStore) LastHash(ctx context.Context) ([]byte, error) {
	var hash []byte
	err := s.db.QueryRowContext(ctx,
		`SELECT hash FROM audit_log ORDER BY id DESC LIMIT 1`).Scan(&hash)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("last audit hash: %w", err)
	}
	return hash, nil
}

// Append inserts one entry. Entry.Hash and Entry.PrevHash must already be
// computed; chain ordering is the caller's concern.
func (s *AuditStore) Append(ctx context.Context, e *audit.Entry) error {
	_, err := s.db.ExecContext(ctx, `
INSERT INTO audit_log (ts, tenant, subject, tool, args, decision, rule, result_meta, approver, hash, prev_hash)
VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		e.TS.Unix(), e.Tenant, e.Subject, e.Tool, string(e.Args),
		e.Decision, e.Rule, nullableString(e.ResultMeta), e.Approver, e.Hash, e.PrevHash)
	if err != nil {
		return fmt.Errorf("append audit entry: %w", err)
	}
	return nil
}

func nullableString(b []byte) any {
	if len(b) == 0 {
		return nil
	}
	return string(b)
}
