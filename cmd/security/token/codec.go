package token

import (
	"fmt"
	"strings"

	"github.com/golang-jwt/jwt/v5"
)

// MinSecretBytes is the minimum HMAC secret size accepted by NewCodec.
const MinSecretBytes = 32

// ClaimID is the sole claim carried by a gatehouse token.
const ClaimID = "id"

// Config selects the signing algorithm and key.
type Config struct {
	// Algorithm is one of HS256, HS384, HS512. Empty defaults to HS256.
	Algorithm string
	// Secret is the HMAC key. It must be at least MinSecretBytes long.
	Secret []byte
}

// Claims is the decoded token payload.
type Claims struct {
	ID string
}

// Codec encodes and decodes gatehouse tokens. It is safe for concurrent use.
type Codec struct {
	method *jwt.SigningMethodHMAC
	secret []byte
	parser *jwt.Parser
}

// NewCodec validates cfg and returns a Codec.
func NewCodec(cfg Config) (*Codec, error) {
	method, err := methodFor(cfg.Algorithm)
	if err != nil {
		return nil, err
	}
	if len(cfg.Secret) < MinSecretBytes {
		return nil, fmt.Errorf("%w: secret must be at least %d bytes", ErrConfig, MinSecretBytes)
	}

	secret := make([]byte, len(cfg.Secret))
	copy(secret, cfg.Secret)

	return &Codec{
		method: method,
		secret: secret,
		parser: jwt.NewParser(jwt.WithValidMethods([]string{method.Alg()})),
	}, nil
}

// Algorithm returns the configured JWT "alg".
func (c *Codec) Algorithm() string { return c.method.Alg() }

// Encode mints a token whose only claim is id.
// HMAC signing makes the output deterministic for a given key and algorithm.
func (c *Codec) Encode(id string) (string, error) {
	if id == "" {
		return "", fmt.Errorf("token: empty id")
	}
	tok := jwt.NewWithClaims(c.method, jwt.MapClaims{ClaimID: id})
	s, err := tok.SignedString(c.secret)
	if err != nil {
		return "", fmt.Errorf("token: sign: %w", err)
	}
	return s, nil
}

// Decode verifies tok and returns its claims.
func (c *Codec) Decode(tok string) (Claims, error) {
	claims := jwt.MapClaims{}
	parsed, err := c.parser.ParseWithClaims(tok, claims, func(*jwt.Token) (any, error) {
		return c.secret, nil
	})
	if err != nil {
		return Claims{}, fmt.Errorf("%w: %v", ErrInvalidToken, err)
	}
	if !parsed.Valid {
		return Claims{}, ErrInvalidToken
	}

	if len(claims) != 1 {
		return Claims{}, fmt.Errorf("%w: unexpected claims", ErrInvalidToken)
	}
	id, ok := claims[ClaimID].(string)
	if !ok || id == "" {
		return Claims{}, fmt.Errorf("%w: missing id claim", ErrInvalidToken)
	}
	return Claims{ID: id}, nil
}

func methodFor(alg string) (*jwt.SigningMethodHMAC, error) {
	switch strings.ToUpper(strings.TrimSpace(alg)) {
	case "", "HS256":
		return jwt.SigningMethodHS256, nil
	case "HS384":
		return jwt.SigningMethodHS384, nil
	case "HS512":
		return jwt.SigningMethodHS512, nil
	default:
		return nil, fmt.Errorf("%w: unsupported algorithm %q", ErrConfig, alg)
	}
}
