package sqlstore

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"
)

// SettingsStore keeps opaque per-tenant settings (quota, rate-limit)
// exactly as submitted.
type SettingsStore struct {
	db  *sql.DB
	now func() time.Time
}

func NewSettingsStore(db *sql.DB) *SettingsStore {
	return &SettingsStore{db: db, now: time.Now}
}

// Set stores the payload for (tenant, kind), replacing any previous value.
func (s *SettingsStore) Set(ctx context.Context, tenant, kind, payload string) error {
	_, err := s.db.ExecContext(ctx, `
INSERT INTO tenant_settings (tenant, kind, payload, updated_at) VALUES (?, ?, ?, ?)
ON CONFLICT(tenant, kind) DO UPDATE SET payload = excluded.payload, updated_at = excluded.updated_at`,
		tenant, kind, payload, s.now().Unix())
	if err != nil {
		return fmt.Errorf("set %s for %s: %w", kind, tenant, err)
	}
	return nil
}

// Get returns the stored payload, or "" when unset.
func (s *SettingsStore) Get(ctx context.Context, tenant, kind string) (string, error) {
	var payload string
	err := s.db.QueryRowContext(ctx,
		`SELECT payload FROM tenant_settings WHERE tenant = ? AND kind = ?`, tenant, kind).Scan(&payload)
	if errors.Is(err, sql.ErrNoRows) {
		return "", nil
	}
	if err != nil {
		return "", fmt.Errorf("get %s for %s: %w", kind, tenant, err)
	}
	return payload, nil
}
