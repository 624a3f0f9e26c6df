package app

import (
	"errors"
	"fmt"
	"strings"

	"gatehouse/cmd/security/token"
)

// ValidateSecurityConfig fails startup on a missing or weak signing setup.
// There is no fallback key.
func ValidateSecurityConfig(cfg Config) error {
	if strings.TrimSpace(cfg.Session.TokenSecret) == "" {
		return errors.New("security policy: GATEHOUSE_TOKEN_SECRET is missing")
	}
	if len(cfg.Session.TokenSecret) < token.MinSecretBytes {
		return fmt.Errorf("security policy: GATEHOUSE_TOKEN_SECRET is too short (min %d bytes)", token.MinSecretBytes)
	}
	if err := cfg.Session.Validate(); err != nil {
		return fmt.Errorf("security policy: %w", err)
	}
	return nil
}
