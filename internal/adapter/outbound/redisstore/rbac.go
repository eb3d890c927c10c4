package redisstore

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/redis/go-redis/v9"
)

// RBACStore keeps per-tenant role assignments under "rbac:<tenant>:<subject>".
type RBACStore struct {
	rdb *redis.Client
}

func NewRBACStore(rdb *redis.Client) *RBACStore {
	return &RBACStore{rdb: rdb}
}

func rbacKey(tenant, subject string) string {
	return fmt.Sprintf("rbac:%s:%s", tenant, subject)
}

// SetRoles replaces the role list for a subject. An empty list clears the
// assignment.
func (s *RBACStore) SetRoles(ctx context.Context, tenant, subject string, roles []string) error {
	if len(roles) == 0 {
		if err := s.rdb.Del(ctx, rbacKey(tenant, subject)).Err(); err != nil {
			return fmt.Errorf("clear roles for %s/%s: %w", tenant, subject, err)
		}
		return nil
	}
	data, err := json.Marshal(roles)
	if err != nil {
		return fmt.Errorf("encode roles: %w", err)
	}
	if err := s.rdb.Set(ctx, rbacKey(tenant, subject), data, 0).Err(); err != nil {
		return fmt.Errorf("set roles for %s/%s: %w", tenant, subject, err)
	}
	return nil
}

// Roles returns the assigned roles for a subject, empty when none.
func (s *RBACStore) Roles(ctx context.Context, tenant, subject string) ([]string, error) {
	data, err := s.rdb.Get(ctx, rbacKey(tenant, subject)).Bytes()
	if err != nil {
		if err == redis.Nil {
			return nil, nil
		}
		return nil, fmt.Errorf("get roles for %s/%s: %w", tenant, subject, err)
	}
	var roles []string
	if err := json.Unmarshal(data, &roles); err != nil {
		return nil, fmt.Errorf("decode roles for %s/%s: %w", tenant, subject, err)
	}
	return roles, nil
}
