package policy

import (
	"fmt"
	"strconv"
	"strings"

	"gopkg.in/yaml.v3"
)

// Engine evaluates tool calls against a compiled policy bundle. Evaluation
// is pure and deterministic for a given (bundle, tool, args) triple, so a
// single Engine is safe for concurrent use.
type Engine struct {
	defaults Defaults
	rules    []Rule
}

// ParseBundle decodes a YAML policy bundle document.
func ParseBundle(data []byte) (*Bundle, error) {
	var b Bundle
	if err := yaml.Unmarshal(data, &b); err != nil {
		return nil, fmt.Errorf("parse policy bundle: %w", err)
	}
	return &b, nil
}

// NewEngine compiles a bundle into an Engine. An absent default decision
// falls back to deny.
func NewEngine(b *Bundle) *Engine {
	defaults := b.Defaults
	if defaults.Decision == "" {
		defaults.Decision = OutcomeDeny
	}
	return &Engine{defaults: defaults, rules: b.Rules}
}

// Evaluate returns the decision for a tool call. Rules are checked in
// declared order; the first fully-matching rule wins. When no rule matches,
// the bundle default applies under the synthetic rule name "__default__".
func (e *Engine) Evaluate(tool string, args Args) Decision {
	return e.evaluate(tool, args, nil)
}

// EvaluateWithTrace returns the decision together with a per-rule trace
// explaining which predicates matched or failed. The decision is identical
// to Evaluate for the same inputs.
func (e *Engine) EvaluateWithTrace(tool string, args Args) Evaluation {
	trace := make([]TraceStep, 0, len(e.rules)+1)
	d := e.evaluate(tool, args, &trace)
	return Evaluation{Decision: d, Trace: trace}
}

// evaluate is the single evaluation path; trace is nil for plain Evaluate.
func (e *Engine) evaluate(tool string, args Args, trace *[]TraceStep) Decision {
	for _, rule := range e.rules {
		if rule.Match != "" && rule.Match != "*" && rule.Match != tool {
			if trace != nil {
				*trace = append(*trace, TraceStep{Rule: rule.Name, Skipped: true, Why: "tool-mismatch"})
			}
			continue
		}

		checks, ok := evalWhere(rule.Where, args)
		if trace != nil {
			*trace = append(*trace, TraceStep{Rule: rule.Name, Matched: ok, Checks: checks})
		}
		if !ok {
			continue
		}

		return Decision{
			Outcome:           rule.Action,
			Rule:              rule.Name,
			Reason:            rule.Reason,
			RequiredApprovals: rule.Quorum(),
			ApproverGroup:     rule.ApproverGroup,
		}
	}

	if trace != nil {
		*trace = append(*trace, TraceStep{Rule: DefaultRuleName, Matched: true, Why: "no rules matched"})
	}
	return Decision{
		Outcome:           e.defaults.Decision,
		Rule:              DefaultRuleName,
		Reason:            "no rules matched",
		RequiredApprovals: 1,
	}
}

// evalWhere checks predicates in declared key order and stops at the first
// failure. An empty predicate set always matches. Unknown keys are treated
// as vacuously true for forward compatibility, flagged in the checks.
func evalWhere(where Predicates, args Args) ([]PredicateCheck, bool) {
	if len(where) == 0 {
		return []PredicateCheck{{OK: true, Msg: "no conditions"}}, true
	}

	checks := make([]PredicateCheck, 0, len(where))
	for _, p := range where {
		c := evalPredicate(p, args)
		checks = append(checks, c)
		if !c.OK {
			return checks, false
		}
	}
	return checks, true
}

func evalPredicate(p Predicate, args Args) PredicateCheck {
	switch p.Key {
	case "method":
		want, _ := p.Value.(string)
		if args.String("method") != want {
			return PredicateCheck{Msg: fmt.Sprintf("method != %s", want)}
		}
		return PredicateCheck{OK: true, Msg: fmt.Sprintf("method %s", want)}

	case "host_in":
		host := args.Host()
		if !stringInList(host, p.Value) {
			return PredicateCheck{Msg: fmt.Sprintf("host %q not in allowlist", host)}
		}
		return PredicateCheck{OK: true, Msg: fmt.Sprintf("host %q allowed", host)}

	case "path_not_under":
		// Historical name: the tested semantics is "path is under a
		// permitted prefix". Preserved for bundle compatibility.
		path := args.String("path")
		if path == "" || !hasAnyPrefix(path, p.Value) {
			return PredicateCheck{Msg: "path is outside permitted prefixes"}
		}
		return PredicateCheck{OK: true, Msg: "path under permitted prefixes"}

	case "body_bytes_over":
		threshold := toInt(p.Value)
		size := args.BodyBytes()
		if size <= threshold {
			return PredicateCheck{Msg: fmt.Sprintf("body size %d <= threshold %d", size, threshold)}
		}
		return PredicateCheck{OK: true, Msg: fmt.Sprintf("body %d exceeds threshold %d", size, threshold)}

	case "estimated_cost_usd_over":
		threshold := toFloat(p.Value)
		cost := args.FloatOr("estimated_cost_usd", 0)
		if cost <= threshold {
			return PredicateCheck{Msg: fmt.Sprintf("estimated_cost_usd %g <= %g", cost, threshold)}
		}
		return PredicateCheck{OK: true, Msg: fmt.Sprintf("estimated cost %g exceeds threshold %g", cost, threshold)}

	default:
		return PredicateCheck{OK: true, Msg: "unknown_predicate: " + p.Key}
	}
}

// stringInList reports whether s equals any element of a YAML/JSON list
// value. Comparisons are case-sensitive.
func stringInList(s string, list any) bool {
	for _, v := range toStrings(list) {
		if v == s {
			return true
		}
	}
	return false
}

func hasAnyPrefix(path string, list any) bool {
	for _, prefix := range toStrings(list) {
		if strings.HasPrefix(path, prefix) {
			return true
		}
	}
	return false
}

func toStrings(v any) []string {
	switch list := v.(type) {
	case []string:
		return list
	case []any:
		out := make([]string, 0, len(list))
		for _, e := range list {
			if s, ok := e.(string); ok {
				out = append(out, s)
			}
		}
		return out
	case string:
		return []string{list}
	}
	return nil
}

func toInt(v any) int {
	switch n := v.(type) {
	case int:
		return n
	case int64:
		return int(n)
	case float64:
		return int(n)
	case string:
		if i, err := strconv.Atoi(n); err == nil {
			return i
		}
	}
	return 0
}

func toFloat(v any) float64 {
	switch n := v.(type) {
	case float64:
		return n
	case int:
		return float64(n)
	case int64:
		return float64(n)
	case string:
		if f, err := strconv.ParseFloat(n, 64); err == nil {
			return f
		}
	}
	return 0
}
