package redisstore

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"go.uber.org/goleak"

	"github.com/canopyiq/canopy-gateway/internal/domain/approval"
)

func newTestCoordinator(t *testing.T) (*Coordinator, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { rdb.Close() })
	return NewCoordinator(rdb), mr
}

func createPending(t *testing.T, c *Coordinator, id string, quorum int) *approval.Record {
	t.Helper()
	rec, err := c.Create(context.Background(), approval.CreateRequest{
		ID:                id,
		Tenant:            "acme",
		Requester:         "agent-7",
		Tool:              "cloud.ops",
		ArgsJSON:          `{"action":"scale","replicas":10}`,
		RequiredApprovals: quorum,
		TTL:               time.Minute,
		Reason:            "spend over budget",
	})
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	return rec
}

func TestCreateAndGet(t *testing.T) {
	c, mr := newTestCoordinator(t)
	ctx := context.Background()

	rec := createPending(t, c, "appr-1", 2)
	if rec.Status != approval.StatusPending {
		t.Fatalf("status = %s", rec.Status)
	}
	if rec.RequiredApprovals != 2 {
		t.Fatalf("required approvals = %d", rec.RequiredApprovals)
	}
	if rec.CreatedTS.IsZero() || !rec.DecidedTS.IsZero() {
		t.Fatalf("timestamps: created=%v decided=%v", rec.CreatedTS, rec.DecidedTS)
	}

	// TTL is set on the hash.
	if mr.TTL(approvalKey("appr-1")) <= 0 {
		t.Fatal("record has no TTL")
	}

	if _, err := c.Get(ctx, "missing"); !errors.Is(err, approval.ErrNotFound) {
		t.Fatalf("Get missing: %v", err)
	}
}

func TestSingleApproverAllow(t *testing.T) {
	c, _ := newTestCoordinator(t)
	ctx := context.Background()
	createPending(t, c, "appr-1", 1)

	rec, err := c.Decide(ctx, "appr-1", "alice", approval.StatusAllow, "")
	if err != nil {
		t.Fatalf("Decide: %v", err)
	}
	if rec.Status != approval.StatusAllow {
		t.Fatalf("status = %s, want allow", rec.Status)
	}
	if rec.DecidedTS.IsZero() {
		t.Fatal("decided_ts not set on terminal transition")
	}
	if len(rec.Approvals) != 1 || rec.Approvals[0] != "alice" {
		t.Fatalf("approvals = %v", rec.Approvals)
	}
}

func TestQuorumAccumulates(t *testing.T) {
	c, _ := newTestCoordinator(t)
	ctx := context.Background()
	createPending(t, c, "appr-1", 2)

	rec, err := c.Decide(ctx, "appr-1", "alice", approval.StatusAllow, "")
	if err != nil {
		t.Fatalf("first Decide: %v", err)
	}
	if rec.Status != approval.StatusPending {
		t.Fatalf("status after one of two approvals = %s", rec.Status)
	}
	if !rec.DecidedTS.IsZero() {
		t.Fatal("decided_ts set while still pending")
	}

	// The same approver approving again does not advance the quorum.
	rec, err = c.Decide(ctx, "appr-1", "alice", approval.StatusAllow, "")
	if err != nil {
		t.Fatalf("repeat Decide: %v", err)
	}
	if rec.Status != approval.StatusPending || len(rec.Approvals) != 1 {
		t.Fatalf("repeat approval advanced quorum: %+v", rec)
	}

	rec, err = c.Decide(ctx, "appr-1", "bob", approval.StatusAllow, "")
	if err != nil {
		t.Fatalf("second Decide: %v", err)
	}
	if rec.Status != approval.StatusAllow {
		t.Fatalf("status after quorum = %s", rec.Status)
	}
}

func TestDenyIsImmediatelyTerminal(t *testing.T) {
	c, _ := newTestCoordinator(t)
	ctx := context.Background()
	createPending(t, c, "appr-1", 3)

	rec, err := c.Decide(ctx, "appr-1", "alice", approval.StatusDeny, "too risky")
	if err != nil {
		t.Fatalf("Decide: %v", err)
	}
	if rec.Status != approval.StatusDeny {
		t.Fatalf("status = %s, want deny", rec.Status)
	}
	if rec.Reason != "too risky" {
		t.Fatalf("reason = %q", rec.Reason)
	}
}

func TestTerminalIsAbsorbing(t *testing.T) {
	c, _ := newTestCoordinator(t)
	ctx := context.Background()
	createPending(t, c, "appr-1", 1)

	first, err := c.Decide(ctx, "appr-1", "alice", approval.StatusDeny, "no")
	if err != nil {
		t.Fatalf("Decide: %v", err)
	}

	// A later opposing decision is a no-op and decided_ts does not move.
	second, err := c.Decide(ctx, "appr-1", "bob", approval.StatusAllow, "")
	if err != nil {
		t.Fatalf("Decide after terminal: %v", err)
	}
	if second.Status != approval.StatusDeny {
		t.Fatalf("terminal status changed to %s", second.Status)
	}
	if !second.DecidedTS.Equal(first.DecidedTS) {
		t.Fatalf("decided_ts moved: %v -> %v", first.DecidedTS, second.DecidedTS)
	}
	if len(second.Approvals) != 0 {
		t.Fatalf("approvals mutated after terminal: %v", second.Approvals)
	}
}

func TestChangeOfMind(t *testing.T) {
	c, _ := newTestCoordinator(t)
	ctx := context.Background()
	createPending(t, c, "appr-1", 2)

	if _, err := c.Decide(ctx, "appr-1", "alice", approval.StatusAllow, ""); err != nil {
		t.Fatalf("Decide: %v", err)
	}

	// Alice switches to deny: removed from approvals, record turns terminal.
	rec, err := c.Decide(ctx, "appr-1", "alice", approval.StatusDeny, "")
	if err != nil {
		t.Fatalf("Decide: %v", err)
	}
	if rec.Status != approval.StatusDeny {
		t.Fatalf("status = %s", rec.Status)
	}
	if len(rec.Approvals) != 0 {
		t.Fatalf("approvals = %v, want empty after change of mind", rec.Approvals)
	}
	if len(rec.Rejections) != 1 || rec.Rejections[0] != "alice" {
		t.Fatalf("rejections = %v", rec.Rejections)
	}
}

func TestDecideMissingRecord(t *testing.T) {
	c, _ := newTestCoordinator(t)
	_, err := c.Decide(context.Background(), "ghost", "alice", approval.StatusAllow, "")
	if !errors.Is(err, approval.ErrNotFound) {
		t.Fatalf("want ErrNotFound, got %v", err)
	}
}

func TestWaitReturnsImmediatelyWhenTerminal(t *testing.T) {
	c, _ := newTestCoordinator(t)
	ctx := context.Background()
	createPending(t, c, "appr-1", 1)
	if _, err := c.Decide(ctx, "appr-1", "alice", approval.StatusAllow, ""); err != nil {
		t.Fatalf("Decide: %v", err)
	}

	waitCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	rec, err := c.Wait(waitCtx, "appr-1")
	if err != nil {
		t.Fatalf("Wait: %v", err)
	}
	if rec == nil || rec.Status != approval.StatusAllow {
		t.Fatalf("Wait returned %+v", rec)
	}
}

func TestWaitWakesOnDecision(t *testing.T) {
	c, _ := newTestCoordinator(t)
	ctx := context.Background()
	createPending(t, c, "appr-1", 1)

	done := make(chan *approval.Record, 1)
	go func() {
		waitCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
		defer cancel()
		rec, err := c.Wait(waitCtx, "appr-1")
		if err != nil {
			t.Errorf("Wait: %v", err)
		}
		done <- rec
	}()

	time.Sleep(50 * time.Millisecond)
	if _, err := c.Decide(ctx, "appr-1", "alice", approval.StatusAllow, ""); err != nil {
		t.Fatalf("Decide: %v", err)
	}

	select {
	case rec := <-done:
		if rec == nil || rec.Status != approval.StatusAllow {
			t.Fatalf("Wait returned %+v", rec)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("Wait did not wake on decision")
	}
}

func TestWaitTimesOutAndReleasesSubscription(t *testing.T) {
	defer goleak.VerifyNone(t)

	mr := miniredis.RunT(t)
	// Close the server before the deferred goleak check; RunT's cleanup
	// would only run after it and its accept loop would be reported.
	defer mr.Close()
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	c := NewCoordinator(rdb)
	createPending(t, c, "appr-1", 1)

	waitCtx, cancel := context.WithTimeout(context.Background(), 200*time.Millisecond)
	defer cancel()

	rec, err := c.Wait(waitCtx, "appr-1")
	if err != nil {
		t.Fatalf("Wait: %v", err)
	}
	if rec != nil {
		t.Fatalf("Wait returned %+v on timeout, want nil", rec)
	}

	rdb.Close()
}

func TestWaitSurvivesExpiry(t *testing.T) {
	c, mr := newTestCoordinator(t)
	ctx := context.Background()
	createPending(t, c, "appr-1", 1)

	mr.FastForward(2 * time.Minute)

	waitCtx, cancel := context.WithTimeout(ctx, time.Second)
	defer cancel()
	if _, err := c.Wait(waitCtx, "appr-1"); !errors.Is(err, approval.ErrNotFound) {
		t.Fatalf("want ErrNotFound after expiry, got %v", err)
	}
}

func TestRBACRoles(t *testing.T) {
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { rdb.Close() })
	s := NewRBACStore(rdb)
	ctx := context.Background()

	roles, err := s.Roles(ctx, "acme", "alice")
	if err != nil {
		t.Fatalf("Roles: %v", err)
	}
	if roles != nil {
		t.Fatalf("roles for unknown subject = %v", roles)
	}

	if err := s.SetRoles(ctx, "acme", "alice", []string{"approver", "viewer"}); err != nil {
		t.Fatalf("SetRoles: %v", err)
	}
	roles, err = s.Roles(ctx, "acme", "alice")
	if err != nil {
		t.Fatalf("Roles: %v", err)
	}
	if len(roles) != 2 || roles[0] != "approver" {
		t.Fatalf("roles = %v", roles)
	}

	// Tenants are isolated.
	other, err := s.Roles(ctx, "globex", "alice")
	if err != nil {
		t.Fatalf("Roles: %v", err)
	}
	if other != nil {
		t.Fatalf("cross-tenant roles = %v", other)
	}

	if err := s.SetRoles(ctx, "acme", "alice", nil); err != nil {
		t.Fatalf("SetRoles clear: %v", err)
	}
	roles, err = s.Roles(ctx, "acme", "alice")
	if err != nil {
		t.Fatalf("Roles: %v", err)
	}
	if roles != nil {
		t.Fatalf("roles after clear = %v", roles)
	}
}
