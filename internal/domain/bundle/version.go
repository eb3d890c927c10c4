package bundle

import (
	"crypto/sha256"
	"encoding/hex"
	"time"
)

// VersionID derives the content-addressed version string for a bundle:
// the UTC timestamp plus a short code taken from the hex of the SHA-256 of
// the payload digest. Stores extend the short code when two registrations
// of different payloads land in the same second.
func VersionID(payload []byte, now time.Time) string {
	return now.UTC().Format("2006-01-02_150405") + "_" + ShortCode(payload, 4)
}

// ShortCode returns the first n hex characters of SHA-256(SHA-256(payload)).
func ShortCode(payload []byte, n int) string {
	digest := sha256.Sum256(payload)
	double := sha256.Sum256(digest[:])
	full := hex.EncodeToString(double[:])
	if n > len(full) {
		n = len(full)
	}
	return full[:n]
}

// Digest returns the SHA-256 of the payload bytes.
func Digest(payload []byte) []byte {
	sum := sha256.Sum256(payload)
	return sum[:]
}
