package policy

import (
	"strings"
	"testing"
)

const testBundle = `
defaults:
  decision: deny
rules:
  - name: allow-read
    match: fs.read
    action: allow
  - name: net-allowlist
    match: net.http
    where:
      method: GET
      host_in: [api.example.com, internal.example.com]
    action: allow
  - name: big-write
    match: fs.write
    where:
      body_bytes_over: 1024
    action: approval
    required_approvals: 2
    reason: large write needs sign-off
    approver_group: platform
  - name: costly-ops
    match: cloud.ops
    where:
      estimated_cost_usd_over: 100
    action: approval
    reason: spend over budget
  - name: tmp-only
    match: fs.write
    where:
      path_not_under: [/tmp/, /var/tmp/]
    action: allow
`

func mustEngine(t *testing.T, doc string) *Engine {
	t.Helper()
	b, err := ParseBundle([]byte(doc))
	if err != nil {
		t.Fatalf("ParseBundle: %v", err)
	}
	return NewEngine(b)
}

func TestFirstMatchWins(t *testing.T) {
	e := mustEngine(t, testBundle)

	d := e.Evaluate("fs.read", Args{})
	if d.Outcome != OutcomeAllow || d.Rule != "allow-read" {
		t.Fatalf("got %+v, want allow by allow-read", d)
	}
}

func TestDefaultDeny(t *testing.T) {
	e := mustEngine(t, testBundle)

	d := e.Evaluate("shell.exec", Args{"cmd": "rm -rf /"})
	if d.Outcome != OutcomeDeny {
		t.Fatalf("outcome = %s, want deny", d.Outcome)
	}
	if d.Rule != DefaultRuleName {
		t.Fatalf("rule = %q, want %q", d.Rule, DefaultRuleName)
	}
	if d.Reason != "no rules matched" {
		t.Fatalf("reason = %q", d.Reason)
	}
}

func TestEmptyBundleDefaultsToDeny(t *testing.T) {
	e := mustEngine(t, "rules: []\n")
	if d := e.Evaluate("anything", Args{}); d.Outcome != OutcomeDeny {
		t.Fatalf("outcome = %s, want deny", d.Outcome)
	}
}

func TestHostAllowlist(t *testing.T) {
	e := mustEngine(t, testBundle)

	cases := []struct {
		name string
		args Args
		want Outcome
	}{
		{"allowed host", Args{"method": "GET", "url": "https://api.example.com/v1/x"}, OutcomeAllow},
		{"schemeless url", Args{"method": "GET", "url": "api.example.com/v1/x"}, OutcomeAllow},
		{"denied host", Args{"method": "GET", "url": "https://evil.example.com/"}, OutcomeDeny},
		{"missing url fails host_in", Args{"method": "GET"}, OutcomeDeny},
		{"wrong method", Args{"method": "POST", "url": "https://api.example.com/"}, OutcomeDeny},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if d := e.Evaluate("net.http", tc.args); d.Outcome != tc.want {
				t.Fatalf("outcome = %s, want %s", d.Outcome, tc.want)
			}
		})
	}
}

func TestBodyBytesBoundary(t *testing.T) {
	e := mustEngine(t, testBundle)

	// Threshold is strictly greater: exactly 1024 bytes does not trigger.
	at := Args{"body": strings.Repeat("a", 1024)}
	if d := e.Evaluate("fs.write", at); d.Rule == "big-write" {
		t.Fatalf("boundary value triggered big-write: %+v", d)
	}

	over := Args{"body": strings.Repeat("a", 1025)}
	d := e.Evaluate("fs.write", over)
	if d.Outcome != OutcomeApproval || d.Rule != "big-write" {
		t.Fatalf("got %+v, want approval by big-write", d)
	}
	if d.RequiredApprovals != 2 {
		t.Fatalf("required approvals = %d, want 2", d.RequiredApprovals)
	}
	if d.ApproverGroup != "platform" {
		t.Fatalf("approver group = %q", d.ApproverGroup)
	}
}

func TestBodyBytesNonString(t *testing.T) {
	e := mustEngine(t, testBundle)

	// Non-string bodies are measured by their JSON serialization.
	body := map[string]any{"blob": strings.Repeat("x", 2000)}
	d := e.Evaluate("fs.write", Args{"body": body})
	if d.Rule != "big-write" {
		t.Fatalf("rule = %q, want big-write", d.Rule)
	}
}

func TestCostBoundary(t *testing.T) {
	e := mustEngine(t, testBundle)

	if d := e.Evaluate("cloud.ops", Args{"estimated_cost_usd": 100.0}); d.Outcome != OutcomeDeny {
		t.Fatalf("boundary cost triggered rule: %+v", d)
	}
	if d := e.Evaluate("cloud.ops", Args{"estimated_cost_usd": 100.01}); d.Outcome != OutcomeApproval {
		t.Fatalf("over-budget cost not flagged: %+v", d)
	}
	// Numeric strings parse; missing cost defaults to 0.
	if d := e.Evaluate("cloud.ops", Args{"estimated_cost_usd": "250"}); d.Outcome != OutcomeApproval {
		t.Fatalf("string cost not parsed: %+v", d)
	}
	if d := e.Evaluate("cloud.ops", Args{}); d.Outcome != OutcomeDeny {
		t.Fatalf("missing cost triggered rule: %+v", d)
	}
}

func TestPathPrefix(t *testing.T) {
	e := mustEngine(t, testBundle)

	small := Args{"path": "/tmp/scratch.txt", "body": "ok"}
	if d := e.Evaluate("fs.write", small); d.Outcome != OutcomeAllow || d.Rule != "tmp-only" {
		t.Fatalf("got %+v, want allow by tmp-only", d)
	}
	if d := e.Evaluate("fs.write", Args{"path": "/etc/passwd"}); d.Outcome != OutcomeDeny {
		t.Fatalf("path outside prefixes not denied: %+v", d)
	}
	if d := e.Evaluate("fs.write", Args{}); d.Outcome != OutcomeDeny {
		t.Fatalf("missing path not denied: %+v", d)
	}
}

func TestTraceMatchesEvaluate(t *testing.T) {
	e := mustEngine(t, testBundle)

	inputs := []struct {
		tool string
		args Args
	}{
		{"fs.read", Args{}},
		{"net.http", Args{"method": "GET", "url": "https://api.example.com/"}},
		{"net.http", Args{"method": "DELETE", "url": "https://api.example.com/"}},
		{"fs.write", Args{"body": strings.Repeat("a", 4096)}},
		{"unknown.tool", Args{}},
	}
	for _, in := range inputs {
		plain := e.Evaluate(in.tool, in.args)
		traced := e.EvaluateWithTrace(in.tool, in.args)
		if plain != traced.Decision {
			t.Fatalf("tool %s: Evaluate %+v != EvaluateWithTrace %+v", in.tool, plain, traced.Decision)
		}
	}
}

func TestTraceShape(t *testing.T) {
	e := mustEngine(t, testBundle)

	ev := e.EvaluateWithTrace("net.http", Args{"method": "GET", "url": "https://evil.example.com/"})
	if len(ev.Trace) == 0 {
		t.Fatal("empty trace")
	}

	var sawSkip, sawFailedMatch, sawDefault bool
	for _, step := range ev.Trace {
		if step.Skipped && step.Why == "tool-mismatch" {
			sawSkip = true
		}
		if step.Rule == "net-allowlist" && !step.Matched {
			sawFailedMatch = true
			// method passes, host_in is the first failing predicate.
			if len(step.Checks) != 2 || !step.Checks[0].OK || step.Checks[1].OK {
				t.Fatalf("net-allowlist checks = %+v", step.Checks)
			}
		}
		if step.Rule == DefaultRuleName {
			sawDefault = true
		}
	}
	if !sawSkip || !sawFailedMatch || !sawDefault {
		t.Fatalf("trace missing expected steps: skip=%v failed=%v default=%v\n%+v",
			sawSkip, sawFailedMatch, sawDefault, ev.Trace)
	}
}

func TestUnknownPredicateVacuouslyTrue(t *testing.T) {
	e := mustEngine(t, `
rules:
  - name: future
    match: fs.read
    where:
      frobnication_level: 9
    action: allow
`)
	ev := e.EvaluateWithTrace("fs.read", Args{})
	if ev.Outcome != OutcomeAllow {
		t.Fatalf("unknown predicate blocked rule: %+v", ev.Decision)
	}

	var noted bool
	for _, step := range ev.Trace {
		for _, c := range step.Checks {
			if c.OK && strings.Contains(c.Msg, "unknown_predicate: frobnication_level") {
				noted = true
			}
		}
	}
	if !noted {
		t.Fatalf("trace does not flag unknown predicate: %+v", ev.Trace)
	}
}

func TestWildcardMatch(t *testing.T) {
	e := mustEngine(t, `
rules:
  - name: catch-all
    match: "*"
    action: deny
    reason: closed by default
  - name: never-reached
    match: fs.read
    action: allow
`)
	d := e.Evaluate("fs.read", Args{})
	if d.Rule != "catch-all" || d.Outcome != OutcomeDeny {
		t.Fatalf("wildcard did not win first-match: %+v", d)
	}
	if d.Reason != "closed by default" {
		t.Fatalf("reason = %q", d.Reason)
	}
}

func TestPredicateOrderPreserved(t *testing.T) {
	b, err := ParseBundle([]byte(`
rules:
  - name: ordered
    match: net.http
    where:
      host_in: [a.example.com]
      method: GET
      body_bytes_over: 10
    action: allow
`))
	if err != nil {
		t.Fatalf("ParseBundle: %v", err)
	}
	where := b.Rules[0].Where
	want := []string{"host_in", "method", "body_bytes_over"}
	if len(where) != len(want) {
		t.Fatalf("predicate count = %d", len(where))
	}
	for i, k := range want {
		if where[i].Key != k {
			t.Fatalf("predicate %d = %q, want %q", i, where[i].Key, k)
		}
	}
}

func TestQuorumFloor(t *testing.T) {
	e := mustEngine(t, `
rules:
  - name: zero-quorum
    match: x
    action: approval
    required_approvals: 0
`)
	if d := e.Evaluate("x", Args{}); d.RequiredApprovals != 1 {
		t.Fatalf("required approvals = %d, want floor of 1", d.RequiredApprovals)
	}
}
