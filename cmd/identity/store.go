package identity

import (
	"context"
	"strings"
	"time"

	"gatehouse/cmd/identity/ids"
)

// User is gatehouse's canonical security principal.
type User struct {
	ID        string
	Email     string
	Name      string
	CreatedAt time.Time
}

// Credential is the stored password hash for a user (one per user).
// IMPORTANT: PasswordHash is read only during login and must never be logged or serialized.
type Credential struct {
	UserID       string
	PasswordHash string
	CreatedAt    time.Time
	UpdatedAt    time.Time
}

// CreateUserInput describes a seeding request. The password is hashed by the caller.
type CreateUserInput struct {
	Email        string
	Name         string
	PasswordHash string
	Now          time.Time
}

// CreateUserResult returns the created user.
type CreateUserResult struct {
	User User
}

// UserFinder is the lookup surface the session resolver needs.
type UserFinder interface {
	// FindUserByID returns ErrMalformedID for identifiers outside the ULID scheme
	// and ErrNotFound when no row matches.
	FindUserByID(ctx context.Context, id string) (User, error)
}

// Store is the identity/credential persistence boundary.
//
// Every Find* call returns zero-or-one record: a found value, ErrNotFound, or an
// infrastructure error. Implementations must be safe for concurrent use.
type Store interface {
	UserFinder

	// FindUserByEmail performs an exact (case-sensitive) match on email.
	FindUserByEmail(ctx context.Context, email string) (User, error)
	FindCredential(ctx context.Context, userID string) (Credential, error)

	CreateUser(ctx context.Context, in CreateUserInput) (CreateUserResult, error)

	Ping(ctx context.Context) error
	Close() error
}

// NewULID returns a new ULID (26-char string).
func NewULID(now time.Time) (string, error) {
	return ids.NewULID(now)
}

// rowScanner is satisfied by both pgx.Row and *sql.Row.
type rowScanner interface {
	Scan(dest ...any) error
}

func normalizeCreateInput(op string, in CreateUserInput) (CreateUserInput, error) {
	in.Email = strings.TrimSpace(in.Email)
	in.Name = strings.TrimSpace(in.Name)

	if in.Email == "" || !strings.Contains(in.Email, "@") {
		return CreateUserInput{}, invalid(op, "valid email is required")
	}
	if strings.TrimSpace(in.PasswordHash) == "" {
		return CreateUserInput{}, invalid(op, "password hash is required")
	}
	if in.Now.IsZero() {
		in.Now = time.Now().UTC()
	}
	in.Now = in.Now.UTC().Truncate(time.Microsecond)
	return in, nil
}

func withTimeout(ctx context.Context, d time.Duration) (context.Context, context.CancelFunc) {
	if d <= 0 {
		return context.WithCancel(ctx)
	}
	return context.WithTimeout(ctx, d)
}
