// Package rollout defines the staged-rollout state and the deterministic
// tenant bucketing used for canary routing.
package rollout

import (
	"crypto/sha256"
	"encoding/binary"
	"fmt"
	"time"
)

// BuiltinVersion is the bootstrap sentinel: resolve from the configured
// built-in policy file instead of the version store.
const BuiltinVersion = "__builtin__"

// State is the singleton rollout row.
type State struct {
	ActiveVersion string    `json:"active_version"`
	CanaryVersion string    `json:"canary_version,omitempty"`
	CanaryPercent int       `json:"canary_percent"`
	Seed          int64     `json:"seed"`
	UpdatedAt     time.Time `json:"updated_at"`
}

// Bucket maps a tenant to a stable bucket in [0,100) for the given seed.
// The same (tenant, seed) pair always lands in the same bucket; changing
// the seed reshuffles every tenant.
func Bucket(tenant string, seed int64) int {
	sum := sha256.Sum256(fmt.Appendf(nil, "%d:%s", seed, tenant))
	return int(binary.BigEndian.Uint16(sum[:2])) % 100
}

// InCanary reports whether the tenant routes to the canary version under
// the given state.
func (s *State) InCanary(tenant string) bool {
	if s.CanaryVersion == "" || s.CanaryPercent <= 0 {
		return false
	}
	return Bucket(tenant, s.Seed) < s.CanaryPercent
}
