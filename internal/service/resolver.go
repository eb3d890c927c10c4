// Package service provides the gateway's business logic: tenant to engine
// resolution, hash-chained audit writing, and JSON-RPC dispatch.
package service

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"sync"

	"github.com/canopyiq/canopy-gateway/internal/adapter/outbound/sqlstore"
	"github.com/canopyiq/canopy-gateway/internal/domain/policy"
	"github.com/canopyiq/canopy-gateway/internal/domain/rollout"
)

// RolloutResolver maps a tenant to its compiled policy engine following
// override, canary, active precedence. Compiled engines are memoized per
// version; entries are pure functions of the immutable bundle file.
type RolloutResolver struct {
	versions    *sqlstore.VersionStore
	rollouts    *sqlstore.RolloutStore
	builtinPath string
	logger      *slog.Logger

	mu      sync.RWMutex
	engines map[string]*policy.Engine
}

func NewRolloutResolver(versions *sqlstore.VersionStore, rollouts *sqlstore.RolloutStore, builtinPath string, logger *slog.Logger) *RolloutResolver {
	if logger == nil {
		logger = slog.Default()
	}
	return &RolloutResolver{
		versions:    versions,
		rollouts:    rollouts,
		builtinPath: builtinPath,
		logger:      logger,
		engines:     make(map[string]*policy.Engine),
	}
}

// EngineFor resolves the engine for a tenant and reports which version it
// came from.
func (r *RolloutResolver) EngineFor(ctx context.Context, tenant string) (*policy.Engine, string, error) {
	version, err := r.VersionFor(ctx, tenant)
	if err != nil {
		return nil, "", err
	}
	eng, err := r.engine(ctx, version)
	if err != nil {
		return nil, "", err
	}
	return eng, version, nil
}

// VersionFor resolves only the version a tenant routes to: tenant override
// first, then canary bucketing, then the active version.
func (r *RolloutResolver) VersionFor(ctx context.Context, tenant string) (string, error) {
	if override, err := r.rollouts.Override(ctx, tenant); err != nil {
		return "", err
	} else if override != "" {
		return override, nil
	}

	state, err := r.rollouts.Get(ctx)
	if err != nil {
		return "", err
	}
	if state.InCanary(tenant) {
		return state.CanaryVersion, nil
	}
	return state.ActiveVersion, nil
}

// Invalidate drops a cached engine so the next resolution recompiles. Used
// when an admin re-applies a version id (which never happens for
// content-addressed versions, but keeps the cache droppable).
func (r *RolloutResolver) Invalidate(version string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.engines, version)
}

func (r *RolloutResolver) engine(ctx context.Context, version string) (*policy.Engine, error) {
	r.mu.RLock()
	eng, ok := r.engines[version]
	r.mu.RUnlock()
	if ok {
		return eng, nil
	}

	path := r.builtinPath
	if version != rollout.BuiltinVersion {
		var err error
		path, err = r.versions.Lookup(ctx, version)
		if err != nil {
			return nil, err
		}
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read policy %s: %w", version, err)
	}
	bundle, err := policy.ParseBundle(data)
	if err != nil {
		return nil, fmt.Errorf("compile policy %s: %w", version, err)
	}
	eng = policy.NewEngine(bundle)

	r.mu.Lock()
	defer r.mu.Unlock()
	// A racing goroutine may have compiled the same version; both results
	// are identical, last write wins.
	r.engines[version] = eng
	return eng, nil
}
