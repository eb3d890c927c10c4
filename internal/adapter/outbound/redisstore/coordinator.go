// Package redisstore implements the approval coordinator and RBAC role
// store on Redis. Pending approvals live in hashes with a TTL; waiters are
// woken over pub/sub with a polling fallback.
package redisstore

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/canopyiq/canopy-gateway/internal/domain/approval"
)

// decideRetries bounds optimistic-concurrency retries on contended records.
const decideRetries = 5

func approvalKey(id string) string     { return "appr:" + id }
func approvalChannel(id string) string { return "appr:notify:" + id }

// Coordinator is the Redis-backed approval coordinator.
type Coordinator struct {
	rdb *redis.Client
	now func() time.Time
}

var _ approval.Coordinator = (*Coordinator)(nil)

// NewCoordinator wraps an existing Redis client.
func NewCoordinator(rdb *redis.Client) *Coordinator {
	return &Coordinator{rdb: rdb, now: time.Now}
}

// Create persists a new pending record with the requested TTL.
func (c *Coordinator) Create(ctx context.Context, req approval.CreateRequest) (*approval.Record, error) {
	ttl := req.TTL
	if ttl <= 0 {
		ttl = approval.DefaultTTL
	}
	quorum := req.RequiredApprovals
	if quorum < 1 {
		quorum = 1
	}

	now := c.now()
	fields := map[string]any{
		"pending_id":         req.ID,
		"ts_created":         now.Unix(),
		"ts_decided":         0,
		"tenant":             req.Tenant,
		"requester":          req.Requester,
		"tool":               req.Tool,
		"args_json":          req.ArgsJSON,
		"status":             string(approval.StatusPending),
		"required_approvals": quorum,
		"approvals":          "[]",
		"rejections":         "[]",
		"reason":             req.Reason,
	}

	_, err := c.rdb.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.HSet(ctx, approvalKey(req.ID), fields)
		pipe.Expire(ctx, approvalKey(req.ID), ttl)
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("create approval %s: %w", req.ID, err)
	}
	return c.Get(ctx, req.ID)
}

// Get reads a record, returning approval.ErrNotFound when absent or expired.
func (c *Coordinator) Get(ctx context.Context, id string) (*approval.Record, error) {
	fields, err := c.rdb.HGetAll(ctx, approvalKey(id)).Result()
	if err != nil {
		return nil, fmt.Errorf("get approval %s: %w", id, err)
	}
	if len(fields) == 0 {
		return nil, approval.ErrNotFound
	}
	return recordFromHash(fields)
}

// Decide applies one approver's verdict under optimistic concurrency. The
// whole read-modify-write runs inside WATCH so two simultaneous approvers
// serialize; a terminal record is returned unchanged.
func (c *Coordinator) Decide(ctx context.Context, id, approver string, decision approval.Status, reason string) (*approval.Record, error) {
	if decision != approval.StatusAllow && decision != approval.StatusDeny {
		return nil, fmt.Errorf("decide approval %s: invalid decision %q", id, decision)
	}

	var final *approval.Record
	txn := func(tx *redis.Tx) error {
		fields, err := tx.HGetAll(ctx, approvalKey(id)).Result()
		if err != nil {
			return err
		}
		if len(fields) == 0 {
			return approval.ErrNotFound
		}
		rec, err := recordFromHash(fields)
		if err != nil {
			return err
		}

		// Terminal states are absorbing.
		if rec.Status.Terminal() {
			final = rec
			return nil
		}

		approvals := removeString(rec.Approvals, approver)
		rejections := removeString(rec.Rejections, approver)

		status := approval.StatusPending
		if decision == approval.StatusDeny {
			rejections = append(rejections, approver)
			status = approval.StatusDeny
		} else {
			approvals = append(approvals, approver)
			if len(approvals) >= rec.RequiredApprovals {
				status = approval.StatusAllow
			}
		}
		if reason == "" {
			reason = rec.Reason
		}

		update := map[string]any{
			"approvals":  mustJSON(approvals),
			"rejections": mustJSON(rejections),
			"status":     string(status),
			"reason":     reason,
		}
		var decidedAt time.Time
		if status.Terminal() {
			// decided_ts flips exactly once, in the same write as status;
			// the hash stores seconds, so the returned record matches.
			decidedAt = time.Unix(c.now().Unix(), 0).UTC()
			update["ts_decided"] = decidedAt.Unix()
		}

		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.HSet(ctx, approvalKey(id), update)
			return nil
		})
		if err != nil {
			return err
		}

		rec.Approvals = approvals
		rec.Rejections = rejections
		rec.Status = status
		rec.Reason = reason
		if status.Terminal() {
			rec.DecidedTS = decidedAt
		}
		final = rec
		return nil
	}

	var err error
	for i := 0; i < decideRetries; i++ {
		err = c.rdb.Watch(ctx, txn, approvalKey(id))
		if !errors.Is(err, redis.TxFailedErr) {
			break
		}
		final = nil
	}
	if err != nil {
		if errors.Is(err, approval.ErrNotFound) {
			return nil, approval.ErrNotFound
		}
		return nil, fmt.Errorf("decide approval %s: %w", id, err)
	}

	notify, _ := json.Marshal(map[string]string{"pending_id": id, "status": string(final.Status)})
	if err := c.rdb.Publish(ctx, approvalChannel(id), notify).Err(); err != nil {
		return nil, fmt.Errorf("notify approval %s: %w", id, err)
	}
	return final, nil
}

// Wait blocks until the record turns terminal or ctx expires. Pub/sub wakes
// the waiter early; a ~1s poll covers missed publishes. Returns (nil, nil)
// on timeout and ErrNotFound when the record expired while pending.
func (c *Coordinator) Wait(ctx context.Context, id string) (*approval.Record, error) {
	rec, err := c.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if rec.Status.Terminal() {
		return rec, nil
	}

	sub := c.rdb.Subscribe(ctx, approvalChannel(id))
	defer sub.Close()

	ticker := time.NewTicker(time.Second)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil, nil
		case <-sub.Channel():
		case <-ticker.C:
		}

		rec, err := c.Get(ctx, id)
		if err != nil {
			return nil, err
		}
		if rec.Status.Terminal() {
			return rec, nil
		}
	}
}

func recordFromHash(fields map[string]string) (*approval.Record, error) {
	rec := &approval.Record{
		ID:        fields["pending_id"],
		Tenant:    fields["tenant"],
		Requester: fields["requester"],
		Tool:      fields["tool"],
		ArgsJSON:  fields["args_json"],
		Status:    approval.Status(fields["status"]),
		Reason:    fields["reason"],
	}

	if created, err := strconv.ParseInt(fields["ts_created"], 10, 64); err == nil && created > 0 {
		rec.CreatedTS = time.Unix(created, 0).UTC()
	}
	if decided, err := strconv.ParseInt(fields["ts_decided"], 10, 64); err == nil && decided > 0 {
		rec.DecidedTS = time.Unix(decided, 0).UTC()
	}

	rec.RequiredApprovals = 1
	if q, err := strconv.Atoi(fields["required_approvals"]); err == nil && q > 0 {
		rec.RequiredApprovals = q
	}

	if err := json.Unmarshal([]byte(orEmptyList(fields["approvals"])), &rec.Approvals); err != nil {
		return nil, fmt.Errorf("decode approvals for %s: %w", rec.ID, err)
	}
	if err := json.Unmarshal([]byte(orEmptyList(fields["rejections"])), &rec.Rejections); err != nil {
		return nil, fmt.Errorf("decode rejections for %s: %w", rec.ID, err)
	}
	return rec, nil
}

func orEmptyList(s string) string {
	if s == "" {
		return "[]"
	}
	return s
}

func removeString(list []string, s string) []string {
	out := make([]string, 0, len(list))
	for _, e := range list {
		if e != s {
			out = append(out, e)
		}
	}
	return out
}

func mustJSON(v any) string {
	b, err := json.Marshal(v)
	if err != nil {
		return "[]"
	}
	return string(b)
}
