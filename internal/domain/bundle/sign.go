package bundle

import (
	"crypto/ed25519"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"os"
	"time"
)

// Fingerprint derives the short public key identifier embedded in signature
// envelopes: "canopyiq:v1:" followed by the hex of the first four bytes of
// the key's SHA-256.
func Fingerprint(pub ed25519.PublicKey) string {
	sum := sha256.Sum256(pub)
	return "canopyiq:v1:" + hex.EncodeToString(sum[:4])
}

// GenerateKeypair produces a fresh Ed25519 keypair, both halves base64.
func GenerateKeypair() (publicB64, privateB64 string, err error) {
	pub, priv, err := ed25519.GenerateKey(rand.Reader)
	if err != nil {
		return "", "", fmt.Errorf("generate keypair: %w", err)
	}
	return base64.StdEncoding.EncodeToString(pub), base64.StdEncoding.EncodeToString(priv), nil
}

// SignBytes signs payload with the given Ed25519 private key (base64 raw
// 64-byte seed+public form) and returns the signature envelope.
func SignBytes(payload []byte, privateKeyB64 string) (*Envelope, error) {
	priv, err := base64.StdEncoding.DecodeString(privateKeyB64)
	if err != nil {
		return nil, fmt.Errorf("decode private key: %w", err)
	}
	if len(priv) != ed25519.PrivateKeySize {
		return nil, fmt.Errorf("private key must be %d bytes, got %d", ed25519.PrivateKeySize, len(priv))
	}
	key := ed25519.PrivateKey(priv)

	digest := sha256.Sum256(payload)
	sig := ed25519.Sign(key, digest[:])

	return &Envelope{
		Alg:               "Ed25519",
		Created:           time.Now().UTC().Format(time.RFC3339),
		SHA256:            base64.StdEncoding.EncodeToString(digest[:]),
		Sig:               base64.StdEncoding.EncodeToString(sig),
		PubkeyFingerprint: Fingerprint(key.Public().(ed25519.PublicKey)),
	}, nil
}

// SignFile signs the bundle at payloadPath and writes the envelope next to
// it at sigPath.
func SignFile(payloadPath, sigPath, privateKeyB64 string) error {
	payload, err := os.ReadFile(payloadPath)
	if err != nil {
		return fmt.Errorf("read bundle: %w", err)
	}
	env, err := SignBytes(payload, privateKeyB64)
	if err != nil {
		return err
	}
	data, err := json.MarshalIndent(env, "", "  ")
	if err != nil {
		return fmt.Errorf("encode envelope: %w", err)
	}
	if err := os.WriteFile(sigPath, append(data, '\n'), 0o644); err != nil {
		return fmt.Errorf("write envelope: %w", err)
	}
	return nil
}
