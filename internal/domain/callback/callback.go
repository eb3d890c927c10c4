// Package callback verifies inbound approval callbacks: timestamped HMAC
// webhooks from chat providers and signed approval URLs.
package callback

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/base64"
	"encoding/hex"
	"fmt"
	"strconv"
	"time"
)

// DefaultTolerance bounds the clock skew accepted on callback timestamps.
const DefaultTolerance = 300 * time.Second

// FailureKind classifies why callback verification failed.
type FailureKind string

const (
	FailStaleRequest  FailureKind = "stale_request"
	FailBadSignature  FailureKind = "bad_signature"
	FailBadTimestamp  FailureKind = "bad_timestamp"
	FailNotConfigured FailureKind = "not_configured"
)

// VerifyError is a typed callback verification failure.
type VerifyError struct {
	Kind FailureKind
	Msg  string
}

func (e *VerifyError) Error() string {
	return fmt.Sprintf("callback verification failed (%s): %s", e.Kind, e.Msg)
}

// WebhookVerifier checks provider webhook signatures of the form
// "v0=<hex HMAC-SHA256>" over "v0:<ts>:<body>".
type WebhookVerifier struct {
	secret    []byte
	tolerance time.Duration
	now       func() time.Time
}

// NewWebhookVerifier builds a verifier. An empty secret yields a verifier
// that rejects everything with not_configured.
func NewWebhookVerifier(secret string, tolerance time.Duration) *WebhookVerifier {
	if tolerance <= 0 {
		tolerance = DefaultTolerance
	}
	return &WebhookVerifier{secret: []byte(secret), tolerance: tolerance, now: time.Now}
}

// Verify checks the timestamp header and signature header against the raw
// request body.
func (v *WebhookVerifier) Verify(timestamp, signature string, body []byte) error {
	if len(v.secret) == 0 {
		return &VerifyError{Kind: FailNotConfigured, Msg: "webhook signing secret not configured"}
	}
	ts, err := parseTimestamp(timestamp)
	if err != nil {
		return err
	}
	if err := checkFreshness(v.now(), ts, v.tolerance); err != nil {
		return err
	}

	mac := hmac.New(sha256.New, v.secret)
	fmt.Fprintf(mac, "v0:%d:", ts)
	mac.Write(body)
	expected := "v0=" + hex.EncodeToString(mac.Sum(nil))

	if !hmac.Equal([]byte(expected), []byte(signature)) {
		return &VerifyError{Kind: FailBadSignature, Msg: "signature mismatch"}
	}
	return nil
}

// URLVerifier checks signed approval URLs of the form produced by
// SignURL: HMAC-SHA256 over "<ts>:<pending_id>:<decision>", URL-safe base64.
type URLVerifier struct {
	secret    []byte
	tolerance time.Duration
	now       func() time.Time
}

func NewURLVerifier(secret string, tolerance time.Duration) *URLVerifier {
	if tolerance <= 0 {
		tolerance = DefaultTolerance
	}
	return &URLVerifier{secret: []byte(secret), tolerance: tolerance, now: time.Now}
}

// Sign produces the URL signature for a pending id and decision at ts.
func (v *URLVerifier) Sign(ts int64, pendingID, decision string) string {
	mac := hmac.New(sha256.New, v.secret)
	fmt.Fprintf(mac, "%d:%s:%s", ts, pendingID, decision)
	return base64.URLEncoding.EncodeToString(mac.Sum(nil))
}

// Verify checks a signed approval URL's parameters.
func (v *URLVerifier) Verify(timestamp, pendingID, decision, signature string) error {
	if len(v.secret) == 0 {
		return &VerifyError{Kind: FailNotConfigured, Msg: "url signing secret not configured"}
	}
	ts, err := parseTimestamp(timestamp)
	if err != nil {
		return err
	}
	if err := checkFreshness(v.now(), ts, v.tolerance); err != nil {
		return err
	}

	expected := v.Sign(ts, pendingID, decision)
	if !hmac.Equal([]byte(expected), []byte(signature)) {
		return &VerifyError{Kind: FailBadSignature, Msg: "signature mismatch"}
	}
	return nil
}

func checkFreshness(now time.Time, ts int64, tolerance time.Duration) error {
	skew := now.Unix() - ts
	if skew < 0 {
		skew = -skew
	}
	if time.Duration(skew)*time.Second > tolerance {
		return &VerifyError{Kind: FailStaleRequest, Msg: fmt.Sprintf("timestamp %d outside tolerance", ts)}
	}
	return nil
}

func parseTimestamp(s string) (int64, error) {
	ts, err := strconv.ParseInt(s, 10, 64)
	if err != nil {
		return 0, &VerifyError{Kind: FailBadTimestamp, Msg: "timestamp is not an integer"}
	}
	return ts, nil
}
