package policy

import (
	"strings"
	"testing"
)

func parse(t *testing.T, doc string) *Bundle {
	t.Helper()
	b, err := ParseBundle([]byte(doc))
	if err != nil {
		t.Fatalf("ParseBundle: %v", err)
	}
	return b
}

func TestCompareAddedRemovedModified(t *testing.T) {
	current := parse(t, `
defaults:
  decision: deny
rules:
  - name: read
    match: fs.read
    action: allow
  - name: ops
    match: cloud.ops
    action: approval
    required_approvals: 1
`)
	proposed := parse(t, `
defaults:
  decision: deny
rules:
  - name: read
    match: fs.read
    action: allow
  - name: ops
    match: cloud.ops
    action: approval
    required_approvals: 3
  - name: net
    match: net.http
    action: allow
`)

	d := Compare(current, proposed)
	if len(d.Added) != 1 || d.Added[0].ID != "net.http/net" {
		t.Fatalf("added = %+v", d.Added)
	}
	if len(d.Removed) != 0 {
		t.Fatalf("removed = %+v", d.Removed)
	}
	if len(d.Modified) != 1 || d.Modified[0].ID != "cloud.ops/ops" {
		t.Fatalf("modified = %+v", d.Modified)
	}
	ch := d.Modified[0].Changes
	if len(ch) != 1 || ch[0].Field != "required_approvals" {
		t.Fatalf("changes = %+v", ch)
	}
}

func TestCompareKeyFormat(t *testing.T) {
	a := parse(t, "rules: []\n")
	b := parse(t, `
rules:
  - action: deny
`)
	d := Compare(a, b)
	if len(d.Added) != 1 || d.Added[0].ID != "*/_unnamed_" {
		t.Fatalf("added = %+v", d.Added)
	}
}

func TestRiskHeadline(t *testing.T) {
	current := parse(t, `
rules:
  - name: net
    match: net.http
    where:
      host_in: [a.example.com]
    action: allow
  - name: write
    match: fs.write
    action: deny
`)
	proposed := parse(t, `
rules:
  - name: net
    match: net.http
    where:
      host_in: [a.example.com, b.example.com]
    action: allow
  - name: write
    match: fs.write
    action: allow
  - name: ship
    match: deploy.prod
    action: approval
`)

	d := Compare(current, proposed)
	joined := strings.Join(d.Headline, "\n")
	for _, want := range []string{
		"New approval flow: deploy.prod/ship",
		"Action change fs.write/write: deny -> allow",
		"Changed host_in: net.http/net",
	} {
		if !strings.Contains(joined, want) {
			t.Fatalf("headline missing %q:\n%s", want, joined)
		}
	}
}

func TestNoChangesHeadline(t *testing.T) {
	a := parse(t, `
rules:
  - name: read
    match: fs.read
    action: allow
`)
	d := Compare(a, a)
	if len(d.Added)+len(d.Removed)+len(d.Modified) != 0 {
		t.Fatalf("identical bundles diffed: %+v", d)
	}
	if len(d.Headline) != 1 || d.Headline[0] != "No high-risk changes detected." {
		t.Fatalf("headline = %v", d.Headline)
	}
}

func TestWhereOrderInsensitiveEquality(t *testing.T) {
	a := parse(t, `
rules:
  - name: net
    match: net.http
    where:
      method: GET
      host_in: [a.example.com]
    action: allow
`)
	b := parse(t, `
rules:
  - name: net
    match: net.http
    where:
      host_in: [a.example.com]
      method: GET
    action: allow
`)
	if d := Compare(a, b); len(d.Modified) != 0 {
		t.Fatalf("reordered where flagged as modified: %+v", d.Modified)
	}
}
