// Package bundle implements policy bundle signing and verification. A
// bundle is signed by producing a JSON envelope carrying the SHA-256 digest
// of the payload bytes and an Ed25519 signature over that 32-byte digest.
package bundle

import (
	"crypto/ed25519"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"os"
)

// FailureKind classifies why verification failed.
type FailureKind string

const (
	FailBadAlgorithm   FailureKind = "bad_algorithm"
	FailDigestMismatch FailureKind = "digest_mismatch"
	FailBadSignature   FailureKind = "bad_signature"
	FailIO             FailureKind = "io_error"
)

// VerifyError is a typed verification failure.
type VerifyError struct {
	Kind FailureKind
	Msg  string
}

func (e *VerifyError) Error() string {
	return fmt.Sprintf("bundle verification failed (%s): %s", e.Kind, e.Msg)
}

// Envelope is the signature sidecar document stored next to a bundle.
type Envelope struct {
	Alg               string `json:"alg"`
	Created           string `json:"created"`
	SHA256            string `json:"sha256"`
	Sig               string `json:"sig"`
	PubkeyFingerprint string `json:"pubkey_fingerprint"`
}

// Verify checks payload and envelope files against the supplied Ed25519
// public key (base64 raw key bytes). The caller always supplies the
// expected key; there is no trust-on-first-use.
func Verify(payloadPath, sigPath, publicKeyB64 string) error {
	payload, err := os.ReadFile(payloadPath)
	if err != nil {
		return &VerifyError{Kind: FailIO, Msg: err.Error()}
	}
	envData, err := os.ReadFile(sigPath)
	if err != nil {
		return &VerifyError{Kind: FailIO, Msg: err.Error()}
	}

	var env Envelope
	if err := json.Unmarshal(envData, &env); err != nil {
		return &VerifyError{Kind: FailIO, Msg: "parse envelope: " + err.Error()}
	}
	return VerifyBytes(payload, &env, publicKeyB64)
}

// VerifyBytes verifies in-memory payload bytes against a parsed envelope.
func VerifyBytes(payload []byte, env *Envelope, publicKeyB64 string) error {
	if env.Alg != "Ed25519" {
		return &VerifyError{Kind: FailBadAlgorithm, Msg: "unsupported algorithm " + env.Alg}
	}

	claimed, err := base64.StdEncoding.DecodeString(env.SHA256)
	if err != nil {
		return &VerifyError{Kind: FailDigestMismatch, Msg: "decode sha256: " + err.Error()}
	}
	actual := sha256.Sum256(payload)
	if subtle.ConstantTimeCompare(claimed, actual[:]) != 1 {
		return &VerifyError{Kind: FailDigestMismatch, Msg: "sha256 mismatch"}
	}

	sig, err := base64.StdEncoding.DecodeString(env.Sig)
	if err != nil {
		return &VerifyError{Kind: FailBadSignature, Msg: "decode signature: " + err.Error()}
	}
	pub, err := base64.StdEncoding.DecodeString(publicKeyB64)
	if err != nil {
		return &VerifyError{Kind: FailBadSignature, Msg: "decode public key: " + err.Error()}
	}
	if len(pub) != ed25519.PublicKeySize {
		return &VerifyError{Kind: FailBadSignature, Msg: fmt.Sprintf("public key must be %d bytes", ed25519.PublicKeySize)}
	}

	// The signed message is the 32-byte digest, not the payload itself.
	if !ed25519.Verify(ed25519.PublicKey(pub), actual[:], sig) {
		return &VerifyError{Kind: FailBadSignature, Msg: "signature invalid"}
	}
	return nil
}
