package policy

import (
	"encoding/json"
	"strconv"
	"strings"
)

// Args wraps the dynamically-shaped JSON arguments of a tool call. The
// engine reads fields through narrow accessors so a missing or mistyped
// field evaluates a predicate to false instead of failing the request.
type Args map[string]any

// String returns the string value for key, or "" when absent or not a string.
func (a Args) String(key string) string {
	s, _ := a[key].(string)
	return s
}

// FloatOr returns the numeric value for key, accepting JSON numbers and
// numeric strings, or def when absent or unparseable.
func (a Args) FloatOr(key string, def float64) float64 {
	switch v := a[key].(type) {
	case float64:
		return v
	case int:
		return float64(v)
	case int64:
		return float64(v)
	case json.Number:
		if f, err := v.Float64(); err == nil {
			return f
		}
	case string:
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			return f
		}
	}
	return def
}

// BodyBytes returns the UTF-8 byte length of args["body"]: the raw length
// for strings, the length of the JSON serialization otherwise. Absent body
// counts as zero.
func (a Args) BodyBytes() int {
	v, ok := a["body"]
	if !ok || v == nil {
		return 0
	}
	if s, ok := v.(string); ok {
		return len(s)
	}
	b, err := json.Marshal(v)
	if err != nil {
		return 0
	}
	return len(b)
}

// Host extracts the host from args["url"]: the segment after "://" up to
// the first "/". A URL without a scheme is treated as starting at the host.
// Missing url yields "".
func (a Args) Host() string {
	u := a.String("url")
	if u == "" {
		return ""
	}
	if i := strings.Index(u, "://"); i >= 0 {
		u = u[i+3:]
	}
	if i := strings.IndexByte(u, '/'); i >= 0 {
		return u[:i]
	}
	return u
}
