package sqlstore

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/canopyiq/canopy-gateway/internal/domain/rollout"
)

// RolloutStore persists the singleton rollout row and per-tenant version
// overrides.
type RolloutStore struct {
	db  *sql.DB
	now func() time.Time
}

func NewRolloutStore(db *sql.DB) *RolloutStore {
	return &RolloutStore{db: db, now: time.Now}
}

// Get reads the rollout row. When none exists yet it bootstraps one:
// the newest registered version if any, otherwise the builtin sentinel.
func (s *RolloutStore) Get(ctx context.Context) (*rollout.State, error) {
	st, err := s.read(ctx)
	if err == nil {
		return st, nil
	}
	if !errors.Is(err, sql.ErrNoRows) {
		return nil, err
	}

	active, err := NewVersionStore(s.db, "").Newest(ctx)
	if err != nil {
		return nil, err
	}
	if active == "" {
		active = rollout.BuiltinVersion
	}
	bootstrap := &rollout.State{ActiveVersion: active, UpdatedAt: s.now().UTC()}
	if err := s.Set(ctx, bootstrap); err != nil {
		return nil, err
	}
	return bootstrap, nil
}

// Set writes the rollout row, replacing any previous state.
func (s *RolloutStore) Set(ctx context.Context, st *rollout.State) error {
	var canary sql.NullString
	if st.CanaryVersion != "" {
		canary = sql.NullString{String: st.CanaryVersion, Valid: true}
	}
	_, err := s.db.ExecContext(ctx, `
INSERT INTO policy_rollout (id, active_version, canary_version, canary_percent, seed, updated_at)
VALUES (1, ?, ?, ?, ?, ?)
ON CONFLICT(id) DO UPDATE SET
	active_version = excluded.active_version,
	canary_version = excluded.canary_version,
	canary_percent = excluded.canary_percent,
	seed           = excluded.seed,
	updated_at     = excluded.updated_at`,
		st.ActiveVersion, canary, st.CanaryPercent, st.Seed, s.now().Unix())
	if err != nil {
		return fmt.Errorf("set rollout: %w", err)
	}
	return nil
}

func (s *RolloutStore) read(ctx context.Context) (*rollout.State, error) {
	var (
		st      rollout.State
		canary  sql.NullString
		updated int64
	)
	err := s.db.QueryRowContext(ctx, `
SELECT active_version, canary_version, canary_percent, seed, updated_at
FROM policy_rollout WHERE id = 1`).Scan(
		&st.ActiveVersion, &canary, &st.CanaryPercent, &st.Seed, &updated)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, err
		}
		return nil, fmt.Errorf("read rollout: %w", err)
	}
	st.CanaryVersion = canary.String
	st.UpdatedAt = time.Unix(updated, 0).UTC()
	return &st, nil
}

// SetOverride pins a tenant to a version.
func (s *RolloutStore) SetOverride(ctx context.Context, tenant, version string) error {
	_, err := s.db.ExecContext(ctx, `
INSERT INTO tenant_policy_override (tenant, version, updated_at) VALUES (?, ?, ?)
ON CONFLICT(tenant) DO UPDATE SET version = excluded.version, updated_at = excluded.updated_at`,
		tenant, version, s.now().Unix())
	if err != nil {
		return fmt.Errorf("set override for %s: %w", tenant, err)
	}
	return nil
}

// Override returns the pinned version for a tenant, or "" when unpinned.
func (s *RolloutStore) Override(ctx context.Context, tenant string) (string, error) {
	var version string
	err := s.db.QueryRowContext(ctx,
		`SELECT version FROM tenant_policy_override WHERE tenant = ?`, tenant).Scan(&version)
	if errors.Is(err, sql.ErrNoRows) {
		return "", nil
	}
	if err != nil {
		return "", fmt.Errorf("override for %s: %w", tenant, err)
	}
	return version, nil
}

// OverrideCount returns the number of pinned tenants, for policy/status.
func (s *RolloutStore) OverrideCount(ctx context.Context) (int, error) {
	var n int
	if err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM tenant_policy_override`).Scan(&n); err != nil {
		return 0, fmt.Errorf("count overrides: %w", err)
	}
	return n, nil
}
