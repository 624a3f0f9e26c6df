package password

import (
	"fmt"
	"math"
	"os"
	"runtime"
	"strconv"
	"strings"

	"golang.org/x/crypto/bcrypt"
)

// Scheme names the algorithm used for new hashes.
type Scheme string

const (
	SchemeArgon2id Scheme = "argon2id"
	SchemeBcrypt   Scheme = "bcrypt"
)

// ParseScheme accepts "argon2id" or "bcrypt" (case-insensitive).
func ParseScheme(s string) (Scheme, error) {
	switch Scheme(strings.ToLower(strings.TrimSpace(s))) {
	case SchemeArgon2id:
		return SchemeArgon2id, nil
	case SchemeBcrypt:
		return SchemeBcrypt, nil
	default:
		return "", fmt.Errorf("%w: %q", ErrUnknownScheme, s)
	}
}

// Argon2idParams controls Argon2id hashing cost.
// MemoryKiB is in KiB as required by argon2.IDKey.
type Argon2idParams struct {
	MemoryKiB   uint32
	Iterations  uint32
	Parallelism uint8
	SaltLength  uint32
	KeyLength   uint32
}

// Policy controls password validation and anti-DoS boundaries.
type Policy struct {
	MinLength int
	MaxLength int
	// If true, enable an extra, minimal weak-pattern rejection.
	RejectVeryWeak bool
}

// Config is the single configuration surface for this package.
type Config struct {
	Scheme     Scheme
	Params     Argon2idParams
	BcryptCost int
	Policy     Policy
}

// DefaultConfig returns Argon2id with interactive-login costs.
func DefaultConfig() Config {
	// Clamp to [1..4] to keep resource usage predictable in containers.
	threads := runtime.NumCPU()
	if threads <= 0 {
		threads = 1
	}
	if threads > 4 {
		threads = 4
	}

	return Config{
		Scheme: SchemeArgon2id,
		Params: Argon2idParams{
			MemoryKiB:   64 * 1024,      // 64 MiB
			Iterations:  3,              // reasonable default for interactive logins
			Parallelism: uint8(threads), // #nosec G115 -- clamped to [1..4] above; safe conversion.
			SaltLength:  16,
			KeyLength:   32,
		},
		BcryptCost: 12,
		Policy: Policy{
			MinLength:      12,
			MaxLength:      256,
			RejectVeryWeak: false,
		},
	}
}

// FromEnv returns DefaultConfig with GATEHOUSE_* overrides applied.
func FromEnv() (Config, error) {
	return DefaultConfig().WithEnv()
}

// WithEnv applies environment overrides on top of c.
//
// Env surface:
// - GATEHOUSE_PASSWORD_SCHEME (argon2id|bcrypt)
// - GATEHOUSE_PASSWORD_MIN_LEN
// - GATEHOUSE_PASSWORD_MAX_LEN
// - GATEHOUSE_PASSWORD_REJECT_VERY_WEAK (true/false)
// - GATEHOUSE_ARGON2_MEMORY_KIB
// - GATEHOUSE_ARGON2_ITERATIONS
// - GATEHOUSE_ARGON2_PARALLELISM
// - GATEHOUSE_ARGON2_SALT_LEN
// - GATEHOUSE_ARGON2_KEY_LEN
// - GATEHOUSE_BCRYPT_COST
func (c Config) WithEnv() (Config, error) {
	type override struct {
		key   string
		apply func(string) error
	}

	overrides := []override{
		{"GATEHOUSE_PASSWORD_SCHEME", func(v string) (err error) {
			c.Scheme, err = ParseScheme(v)
			return err
		}},
		{"GATEHOUSE_PASSWORD_MIN_LEN", func(v string) (err error) {
			c.Policy.MinLength, err = atoiRange(v, 1, 1024)
			return err
		}},
		{"GATEHOUSE_PASSWORD_MAX_LEN", func(v string) (err error) {
			c.Policy.MaxLength, err = atoiRange(v, 1, 4096)
			return err
		}},
		{"GATEHOUSE_PASSWORD_REJECT_VERY_WEAK", func(v string) (err error) {
			c.Policy.RejectVeryWeak, err = parseBool(v)
			return err
		}},
		{"GATEHOUSE_ARGON2_MEMORY_KIB", func(v string) (err error) {
			c.Params.MemoryKiB, err = atou32(v, 8*1024, maxArgon2MemoryKiB)
			return err
		}},
		{"GATEHOUSE_ARGON2_ITERATIONS", func(v string) (err error) {
			c.Params.Iterations, err = atou32(v, 1, maxArgon2Iterations)
			return err
		}},
		{"GATEHOUSE_ARGON2_PARALLELISM", func(v string) error {
			u, err := atou32(v, 1, maxArgon2Parallelism)
			if err != nil {
				return err
			}
			c.Params.Parallelism, err = u32ToU8(u)
			return err
		}},
		{"GATEHOUSE_ARGON2_SALT_LEN", func(v string) (err error) {
			c.Params.SaltLength, err = atou32(v, 8, 64)
			return err
		}},
		{"GATEHOUSE_ARGON2_KEY_LEN", func(v string) (err error) {
			c.Params.KeyLength, err = atou32(v, 16, 64)
			return err
		}},
		{"GATEHOUSE_BCRYPT_COST", func(v string) (err error) {
			c.BcryptCost, err = atoiRange(v, bcrypt.MinCost, bcrypt.MaxCost)
			return err
		}},
	}

	for _, o := range overrides {
		v, ok := os.LookupEnv(o.key)
		if !ok {
			continue
		}
		if err := o.apply(v); err != nil {
			return Config{}, fmt.Errorf("%s: %w", o.key, err)
		}
	}

	if err := c.Check(); err != nil {
		return Config{}, err
	}
	return c, nil
}

// Check validates internal consistency.
func (c Config) Check() error {
	if c.Policy.MinLength > c.Policy.MaxLength {
		return fmt.Errorf(
			"password policy invalid: min_len(%d) > max_len(%d)",
			c.Policy.MinLength,
			c.Policy.MaxLength,
		)
	}
	switch c.Scheme {
	case SchemeArgon2id, SchemeBcrypt:
	default:
		return fmt.Errorf("%w: %q", ErrUnknownScheme, c.Scheme)
	}
	if c.Scheme == SchemeBcrypt && (c.BcryptCost < bcrypt.MinCost || c.BcryptCost > bcrypt.MaxCost) {
		return fmt.Errorf("password: bcrypt cost %d out of range [%d..%d]", c.BcryptCost, bcrypt.MinCost, bcrypt.MaxCost)
	}
	return nil
}

func atoiRange(s string, minVal, maxVal int) (int, error) {
	i64, err := strconv.ParseInt(strings.TrimSpace(s), 10, 32)
	if err != nil {
		return 0, fmt.Errorf("not an integer")
	}
	i := int(i64)
	if i < minVal || i > maxVal {
		return 0, fmt.Errorf("out of range [%d..%d]", minVal, maxVal)
	}
	return i, nil
}

func atou32(s string, minVal, maxVal uint32) (uint32, error) {
	u64, err := strconv.ParseUint(strings.TrimSpace(s), 10, 32)
	if err != nil {
		return 0, fmt.Errorf("not an unsigned integer")
	}
	u := uint32(u64)
	if u < minVal || u > maxVal {
		return 0, fmt.Errorf("out of range [%d..%d]", minVal, maxVal)
	}
	return u, nil
}

func u32ToU8(u uint32) (uint8, error) {
	if u > math.MaxUint8 {
		return 0, fmt.Errorf("out of range [0..%d]", math.MaxUint8)
	}
	return uint8(u), nil
}

func parseBool(s string) (bool, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "1", "true", "yes", "on":
		return true, nil
	case "0", "false", "no", "off":
		return false, nil
	default:
		return false, fmt.Errorf("invalid boolean")
	}
}
