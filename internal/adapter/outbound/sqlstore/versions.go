package sqlstore

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/canopyiq/canopy-gateway/internal/domain/bundle"
)

// ErrVersionNotFound is returned by Lookup for unknown versions.
var ErrVersionNotFound = errors.New("sqlstore: policy version not found")

// RegisterResult describes a stored bundle version.
type RegisterResult struct {
	Version string
	Path    string
	SigPath string
	SHA256  []byte
}

// VersionStore verifies, copies, and records policy bundle versions.
// Stored bundles live under Dir as <version>.yaml plus <version>.yaml.sig.
type VersionStore struct {
	db  *sql.DB
	dir string
	now func() time.Time
}

func NewVersionStore(db *sql.DB, dir string) *VersionStore {
	return &VersionStore{db: db, dir: dir, now: time.Now}
}

// Register verifies the bundle signature, assigns a content-derived
// version, copies both files into the versions directory, and inserts the
// version row. Short-code collisions within the same second extend the hex
// until the version is unique.
func (s *VersionStore) Register(ctx context.Context, payloadPath, sigPath, pubkeyB64 string) (*RegisterResult, error) {
	if err := bundle.Verify(payloadPath, sigPath, pubkeyB64); err != nil {
		return nil, err
	}

	payload, err := os.ReadFile(payloadPath)
	if err != nil {
		return nil, fmt.Errorf("read bundle: %w", err)
	}
	sig, err := os.ReadFile(sigPath)
	if err != nil {
		return nil, fmt.Errorf("read signature: %w", err)
	}
	if err := os.MkdirAll(s.dir, 0o755); err != nil {
		return nil, fmt.Errorf("create versions dir: %w", err)
	}

	now := s.now()
	sha := bundle.Digest(payload)
	prefix := now.UTC().Format("2006-01-02_150405")

	for hexLen := 4; hexLen <= 64; hexLen += 4 {
		version := prefix + "_" + bundle.ShortCode(payload, hexLen)
		dstPayload := filepath.Join(s.dir, version+".yaml")
		dstSig := filepath.Join(s.dir, version+".yaml.sig")

		if err := os.WriteFile(dstPayload, payload, 0o644); err != nil {
			return nil, fmt.Errorf("store bundle: %w", err)
		}
		if err := os.WriteFile(dstSig, sig, 0o644); err != nil {
			return nil, fmt.Errorf("store signature: %w", err)
		}

		_, err := s.db.ExecContext(ctx,
			`INSERT INTO policy_version (version, sha256, path, sig_path, created_at) VALUES (?, ?, ?, ?, ?)`,
			version, sha, dstPayload, dstSig, now.Unix())
		if err == nil {
			return &RegisterResult{Version: version, Path: dstPayload, SigPath: dstSig, SHA256: sha}, nil
		}
		if !isUniqueViolation(err) {
			return nil, fmt.Errorf("insert version %s: %w", version, err)
		}
		// Same-second collision; retry with a longer short code.
	}
	return nil, fmt.Errorf("register bundle: could not allocate a unique version")
}

// Lookup returns the stored payload path for a version.
func (s *VersionStore) Lookup(ctx context.Context, version string) (string, error) {
	var path string
	err := s.db.QueryRowContext(ctx,
		`SELECT path FROM policy_version WHERE version = ?`, version).Scan(&path)
	if errors.Is(err, sql.ErrNoRows) {
		return "", ErrVersionNotFound
	}
	if err != nil {
		return "", fmt.Errorf("lookup version %s: %w", version, err)
	}
	return path, nil
}

// Newest returns the most recently created version, or "" when the store
// is empty. Used to bootstrap the rollout row.
func (s *VersionStore) Newest(ctx context.Context) (string, error) {
	var version string
	err := s.db.QueryRowContext(ctx,
		`SELECT version FROM policy_version ORDER BY created_at DESC, version DESC LIMIT 1`).Scan(&version)
	if errors.Is(err, sql.ErrNoRows) {
		return "", nil
	}
	if err != nil {
		return "", fmt.Errorf("newest version: %w", err)
	}
	return version, nil
}

func isUniqueViolation(err error) bool {
	// modernc sqlite reports constraint failures in the error text; the
	// driver does not expose a typed error for them.
	return err != nil && strings.Contains(err.Error(), "constraint failed")
}
