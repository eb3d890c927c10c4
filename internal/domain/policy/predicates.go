package policy

import (
	"bytes"
	"encoding/json"
	"fmt"

	"gopkg.in/yaml.v3"
)

// Predicate is a single where-clause entry. The key selects the check, the
// value carries its argument (string, number, or list of strings).
type Predicate struct {
	Key   string
	Value any
}

// Predicates preserves the declared order of where-clause keys, which the
// engine honors when reporting the first failing predicate. A plain Go map
// would lose that order.
type Predicates []Predicate

// Get returns the value for key and whether it is present.
func (p Predicates) Get(key string) (any, bool) {
	for _, e := range p {
		if e.Key == key {
			return e.Value, true
		}
	}
	return nil, false
}

// UnmarshalYAML decodes a YAML mapping into Predicates, keeping key order.
func (p *Predicates) UnmarshalYAML(node *yaml.Node) error {
	if node.Kind != yaml.MappingNode {
		return fmt.Errorf("where: expected a mapping, got %s", node.Tag)
	}
	out := make(Predicates, 0, len(node.Content)/2)
	for i := 0; i+1 < len(node.Content); i += 2 {
		var key string
		if err := node.Content[i].Decode(&key); err != nil {
			return fmt.Errorf("where: decode key: %w", err)
		}
		var val any
		if err := node.Content[i+1].Decode(&val); err != nil {
			return fmt.Errorf("where %q: decode value: %w", key, err)
		}
		out = append(out, Predicate{Key: key, Value: val})
	}
	*p = out
	return nil
}

// MarshalJSON renders Predicates as a JSON object in declared key order.
func (p Predicates) MarshalJSON() ([]byte, error) {
	var buf bytes.Buffer
	buf.WriteByte('{')
	for i, e := range p {
		if i > 0 {
			buf.WriteByte(',')
		}
		k, err := json.Marshal(e.Key)
		if err != nil {
			return nil, err
		}
		v, err := json.Marshal(e.Value)
		if err != nil {
			return nil, err
		}
		buf.Write(k)
		buf.WriteByte(':')
		buf.Write(v)
	}
	buf.WriteByte('}')
	return buf.Bytes(), nil
}

// Equal reports whether two predicate sets are equivalent, ignoring key
// order (rule diffing treats `where` as a map).
func (p Predicates) Equal(other Predicates) bool {
	if len(p) != len(other) {
		return false
	}
	for _, e := range p {
		ov, ok := other.Get(e.Key)
		if !ok {
			return false
		}
		a, err1 := json.Marshal(e.Value)
		b, err2 := json.Marshal(ov)
		if err1 != nil || err2 != nil || !bytes.Equal(a, b) {
			return false
		}
	}
	return true
}
