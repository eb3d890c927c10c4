// Package policy contains the policy bundle model and the rule evaluation
// engine for tool-call authorization.
package policy

// Outcome is the result of a policy rule evaluation.
type Outcome string

const (
	// OutcomeAllow permits the tool call to proceed.
	OutcomeAllow Outcome = "allow"
	// OutcomeDeny blocks the tool call.
	OutcomeDeny Outcome = "deny"
	// OutcomeApproval requires human approval before the tool call proceeds.
	OutcomeApproval Outcome = "approval"
)

// DefaultRuleName is the synthetic rule name reported when no rule matched
// and the bundle default decision applied.
const DefaultRuleName = "__default__"

// Rule is a single ordered rule in a policy bundle. Rules are evaluated in
// declared order; the first fully-matching rule wins.
type Rule struct {
	// Name is an opaque label echoed in traces and audit entries.
	Name string `yaml:"name" json:"name"`
	// Match is an exact tool name; empty or "*" matches any tool.
	Match string `yaml:"match" json:"match"`
	// Where holds the predicate map, evaluated in declared key order.
	// An empty map always matches.
	Where Predicates `yaml:"where" json:"where,omitempty"`
	// Action is the outcome when the rule matches.
	Action Outcome `yaml:"action" json:"action"`
	// RequiredApprovals is the approval quorum; only meaningful when
	// Action is OutcomeApproval. Defaults to 1.
	RequiredApprovals int `yaml:"required_approvals" json:"required_approvals,omitempty"`
	// Reason is a human-readable string echoed in traces and audit.
	Reason string `yaml:"reason" json:"reason,omitempty"`
	// ApproverGroup is an opaque routing hint for the notification channel.
	ApproverGroup string `yaml:"approver_group" json:"approver_group,omitempty"`
}

// Quorum returns the effective approval quorum for the rule (minimum 1).
func (r Rule) Quorum() int {
	if r.RequiredApprovals < 1 {
		return 1
	}
	return r.RequiredApprovals
}

// Defaults holds the bundle-level fallback decision.
type Defaults struct {
	// Decision applies when no rule matches. Defaults to OutcomeDeny.
	Decision Outcome `yaml:"decision" json:"decision"`
}

// Bundle is the parsed contents of a policy bundle file.
type Bundle struct {
	Defaults Defaults `yaml:"defaults" json:"defaults"`
	Rules    []Rule   `yaml:"rules" json:"rules"`
}

// Decision is the outcome of evaluating a tool call against a bundle.
type Decision struct {
	// Outcome is allow, deny, or approval.
	Outcome Outcome `json:"decision"`
	// Rule is the name of the rule that produced this decision, or
	// DefaultRuleName when the bundle default applied.
	Rule string `json:"rule"`
	// Reason is the matching rule's reason, empty for the default.
	Reason string `json:"reason,omitempty"`
	// RequiredApprovals is the approval quorum from the matching rule.
	RequiredApprovals int `json:"required_approvals"`
	// ApproverGroup is the matching rule's approver group, if any.
	ApproverGroup string `json:"approver_group,omitempty"`
}

// TraceStep records why a single rule did or did not match.
type TraceStep struct {
	// Rule is the rule name this step describes.
	Rule string `json:"rule"`
	// Skipped is true when the rule was skipped on tool-name mismatch.
	Skipped bool `json:"skipped,omitempty"`
	// Matched is true when the rule fully matched.
	Matched bool `json:"match"`
	// Checks explains each predicate evaluated for this rule, in order.
	Checks []PredicateCheck `json:"explain,omitempty"`
	// Why is a short note for skipped or default steps.
	Why string `json:"why,omitempty"`
}

// PredicateCheck is the outcome of a single where-predicate.
type PredicateCheck struct {
	OK  bool   `json:"ok"`
	Msg string `json:"msg"`
}

// Evaluation is a Decision together with its per-rule trace, as returned by
// the simulator endpoint.
type Evaluation struct {
	Decision
	Trace []TraceStep `json:"trace"`
}
