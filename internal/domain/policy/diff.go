package policy

import "sort"

// RuleChange describes one changed field of a modified rule.
type RuleChange struct {
	Field string `json:"field"`
	From  any    `json:"from"`
	To    any    `json:"to"`
}

// DiffEntry is an added or removed rule keyed by "<match>/<name>".
type DiffEntry struct {
	ID   string `json:"id"`
	Rule Rule   `json:"rule"`
}

// ModifiedEntry is a rule present in both bundles with differing fields.
type ModifiedEntry struct {
	ID      string       `json:"id"`
	Before  Rule         `json:"before"`
	After   Rule         `json:"after"`
	Changes []RuleChange `json:"changes"`
}

// Diff is the result of comparing two bundles.
type Diff struct {
	Added    []DiffEntry     `json:"added"`
	Removed  []DiffEntry     `json:"removed"`
	Modified []ModifiedEntry `json:"modified"`
	Defaults struct {
		From Defaults `json:"from"`
		To   Defaults `json:"to"`
	} `json:"defaults"`
	// Headline lists human-readable risk notes for the change set.
	Headline []string `json:"headline"`
}

// ruleKey builds the diff identity for a rule: "<match>/<name>".
func ruleKey(r Rule) string {
	match := r.Match
	if match == "" {
		match = "*"
	}
	name := r.Name
	if name == "" {
		name = "_unnamed_"
	}
	return match + "/" + name
}

func indexRules(b *Bundle) map[string]Rule {
	idx := make(map[string]Rule, len(b.Rules))
	for _, r := range b.Rules {
		idx[ruleKey(r)] = r
	}
	return idx
}

// Compare diffs bundle a (current) against bundle b (proposed). Rule
// equality covers match, where, action, required_approvals, and reason.
func Compare(a, b *Bundle) Diff {
	ia, ib := indexRules(a), indexRules(b)

	var added, removed, common []string
	for k := range ib {
		if _, ok := ia[k]; !ok {
			added = append(added, k)
		} else {
			common = append(common, k)
		}
	}
	for k := range ia {
		if _, ok := ib[k]; !ok {
			removed = append(removed, k)
		}
	}
	sort.Strings(added)
	sort.Strings(removed)
	sort.Strings(common)

	d := Diff{Added: []DiffEntry{}, Removed: []DiffEntry{}, Modified: []ModifiedEntry{}}
	for _, k := range added {
		d.Added = append(d.Added, DiffEntry{ID: k, Rule: ib[k]})
	}
	for _, k := range removed {
		d.Removed = append(d.Removed, DiffEntry{ID: k, Rule: ia[k]})
	}
	for _, k := range common {
		ra, rb := ia[k], ib[k]
		changes := ruleChanges(ra, rb)
		if len(changes) == 0 {
			continue
		}
		d.Modified = append(d.Modified, ModifiedEntry{ID: k, Before: ra, After: rb, Changes: changes})
	}

	d.Defaults.From = a.Defaults
	d.Defaults.To = b.Defaults
	d.Headline = riskHeadline(d)
	return d
}

func ruleChanges(a, b Rule) []RuleChange {
	var out []RuleChange
	if a.Match != b.Match {
		out = append(out, RuleChange{Field: "match", From: a.Match, To: b.Match})
	}
	if !a.Where.Equal(b.Where) {
		out = append(out, RuleChange{Field: "where", From: a.Where, To: b.Where})
	}
	if a.Action != b.Action {
		out = append(out, RuleChange{Field: "action", From: a.Action, To: b.Action})
	}
	if a.Quorum() != b.Quorum() {
		out = append(out, RuleChange{Field: "required_approvals", From: a.Quorum(), To: b.Quorum()})
	}
	if a.Reason != b.Reason {
		out = append(out, RuleChange{Field: "reason", From: a.Reason, To: b.Reason})
	}
	return out
}

// riskHeadline flags new allow rules, new approval flows, action changes,
// host_in allowlist changes, and quorum changes.
func riskHeadline(d Diff) []string {
	var notes []string
	for _, e := range d.Added {
		switch e.Rule.Action {
		case OutcomeAllow:
			notes = append(notes, "New allow: "+e.ID)
		case OutcomeApproval:
			notes = append(notes, "New approval flow: "+e.ID)
		}
	}
	for _, m := range d.Modified {
		for _, ch := range m.Changes {
			switch ch.Field {
			case "action":
				notes = append(notes, "Action change "+m.ID+": "+string(m.Before.Action)+" -> "+string(m.After.Action))
			case "where":
				ha, _ := m.Before.Where.Get("host_in")
				hb, _ := m.After.Where.Get("host_in")
				before := Predicates{{Key: "host_in", Value: ha}}
				after := Predicates{{Key: "host_in", Value: hb}}
				if !before.Equal(after) {
					notes = append(notes, "Changed host_in: "+m.ID)
				}
			case "required_approvals":
				notes = append(notes, "Approval quorum change "+m.ID)
			}
		}
	}
	if len(notes) == 0 {
		notes = append(notes, "No high-risk changes detected.")
	}
	return notes
}
