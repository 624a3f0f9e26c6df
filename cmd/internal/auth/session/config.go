package session

import (
	"fmt"
	"os"
	"strings"

	"gatehouse/cmd/security/token"
)

// Config defines the runtime configuration for token transport and signing.
type Config struct {
	// TokenHeader carries the raw token on HTTP requests (no "Bearer " prefix).
	TokenHeader string

	// HandshakeParam is the query parameter carrying the token on WebSocket handshakes.
	HandshakeParam string

	// TokenAlgorithm is one of HS256, HS384, HS512.
	TokenAlgorithm string

	// TokenSecret is the HMAC signing key (>= token.MinSecretBytes).
	TokenSecret string
}

// DefaultConfig returns transport defaults. TokenSecret has no default.
func DefaultConfig() Config {
	return Config{
		TokenHeader:    "Authorization",
		HandshakeParam: "token",
		TokenAlgorithm: "HS256",
	}
}

// LoadConfigFromEnv returns DefaultConfig with GATEHOUSE_* overrides applied
// and validated.
func LoadConfigFromEnv() (Config, error) {
	c := DefaultConfig().WithEnv()
	if err := c.Validate(); err != nil {
		return Config{}, err
	}
	return c, nil
}

// WithEnv applies environment overrides on top of c. It does not validate;
// callers that assemble config from several layers validate once at the end.
//
// Required (unless already set on c):
//   - GATEHOUSE_TOKEN_SECRET
//
// Optional:
//   - GATEHOUSE_TOKEN_HEADER
//   - GATEHOUSE_TOKEN_ALGORITHM
//   - GATEHOUSE_HANDSHAKE_TOKEN_PARAM
func (c Config) WithEnv() Config {
	if v := strings.TrimSpace(os.Getenv("GATEHOUSE_TOKEN_HEADER")); v != "" {
		c.TokenHeader = v
	}
	if v := strings.TrimSpace(os.Getenv("GATEHOUSE_TOKEN_ALGORITHM")); v != "" {
		c.TokenAlgorithm = v
	}
	if v := strings.TrimSpace(os.Getenv("GATEHOUSE_HANDSHAKE_TOKEN_PARAM")); v != "" {
		c.HandshakeParam = v
	}
	if v := strings.TrimSpace(os.Getenv("GATEHOUSE_TOKEN_SECRET")); v != "" {
		c.TokenSecret = v
	}
	return c
}

// Validate checks transport names and the signing configuration.
func (c Config) Validate() error {
	if !validHeaderName(c.TokenHeader) {
		return fmt.Errorf("%w: invalid token header %q", ErrConfig, c.TokenHeader)
	}
	if strings.TrimSpace(c.HandshakeParam) == "" {
		return fmt.Errorf("%w: empty handshake param", ErrConfig)
	}
	if _, err := token.NewCodec(c.TokenConfig()); err != nil {
		return fmt.Errorf("%w: %v", ErrConfig, err)
	}
	return nil
}

// TokenConfig returns the codec configuration.
func (c Config) TokenConfig() token.Config {
	return token.Config{
		Algorithm: c.TokenAlgorithm,
		Secret:    []byte(c.TokenSecret),
	}
}

// validHeaderName accepts RFC 7230 token characters only.
func validHeaderName(s string) bool {
	if s == "" {
		return false
	}
	for _, r := range s {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9':
		case strings.ContainsRune("!#$%&'*+-.^_`|~", r):
		default:
			return false
		}
	}
	return true
}
