// Package audit defines the hash-chained audit entry and its hashing rule.
package audit

import (
	"crypto/sha256"
	"encoding/json"
	"fmt"
	"time"

	"github.com/gowebpki/jcs"
)

// Entry is one audit record. Hash and PrevHash form the per-writer chain
// and are excluded from the hashed representation.
type Entry struct {
	TS         time.Time       `json:"ts"`
	Tenant     string          `json:"tenant"`
	Subject    string          `json:"subject"`
	Tool       string          `json:"tool"`
	Args       json.RawMessage `json:"args"`
	Decision   string          `json:"decision"`
	Rule       string          `json:"rule"`
	ResultMeta json.RawMessage `json:"result_meta,omitempty"`
	Approver   string          `json:"approver,omitempty"`

	Hash     []byte `json:"-"`
	PrevHash []byte `json:"-"`
}

// ComputeHash chains an entry onto prevHash:
// SHA-256(prevHash || canonical_json(entry)). Canonicalization follows
// RFC 8785, so key order in Args never affects the chain. prevHash is nil
// for the first entry of a chain.
func ComputeHash(e *Entry, prevHash []byte) ([]byte, error) {
	raw, err := json.Marshal(e)
	if err != nil {
		return nil, fmt.Errorf("marshal audit entry: %w", err)
	}
	canonical, err := jcs.Transform(raw)
	if err != nil {
		return nil, fmt.Errorf("canonicalize audit entry: %w", err)
	}

	h := sha256.New()
	h.Write(prevHash)
	h.Write(canonical)
	return h.Sum(nil), nil
}
