package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
)

// Validate checks the configuration using struct tags plus cross-field
// rules the tags cannot express.
func (c *Config) Validate() error {
	v := validator.New(validator.WithRequiredStructEnabled())

	if err := v.Struct(c); err != nil {
		return formatValidationErrors(err)
	}

	for name, value := range map[string]string{
		"approvals.ttl":       c.Approvals.TTL,
		"approvals.sync_wait": c.Approvals.SyncWait,
		"callbacks.tolerance": c.Callbacks.Tolerance,
	} {
		if _, err := time.ParseDuration(value); err != nil {
			return fmt.Errorf("%s: %q is not a valid duration", name, value)
		}
	}

	if c.Approvals.TTL != "" && c.ApprovalTTL() <= 0 {
		return errors.New("approvals.ttl must be positive")
	}
	if c.SyncWait() < 0 {
		return errors.New("approvals.sync_wait must not be negative")
	}
	if c.Auth.JWKSURL == "" && c.Auth.DevSecret == "" {
		return errors.New("auth: set jwks_url or dev_secret, otherwise no token can verify")
	}
	return nil
}

// formatValidationErrors turns validator errors into actionable messages.
func formatValidationErrors(err error) error {
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		return err
	}
	msgs := make([]string, 0, len(verrs))
	for _, fe := range verrs {
		msgs = append(msgs, fmt.Sprintf("%s: failed %q", fe.Namespace(), fe.Tag()))
	}
	return errors.New("invalid configuration: " + strings.Join(msgs, "; "))
}
