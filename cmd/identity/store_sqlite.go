package identity

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"gatehouse/cmd/identity/ids"

	_ "modernc.org/sqlite"
)

// SQLiteStore implements Store on a local SQLite file (modernc.org/sqlite, no cgo).
// Intended for single-node deployments, local development and tests.
type SQLiteStore struct {
	db      *sql.DB
	timeout time.Duration
}

// SQLiteOption configures the store.
type SQLiteOption func(*SQLiteStore) error

// WithSQLiteTimeout bounds every store call. Zero disables the store-level timeout.
func WithSQLiteTimeout(d time.Duration) SQLiteOption {
	return func(s *SQLiteStore) error {
		if d < 0 {
			return fmt.Errorf("identity: negative query timeout")
		}
		s.timeout = d
		return nil
	}
}

// OpenSQLite opens (or creates) the database at path and ensures the schema.
// Parent directories are created if needed. The path ":memory:" is accepted
// and pinned to a single connection.
func OpenSQLite(path string, opts ...SQLiteOption) (*SQLiteStore, error) {
	path = strings.TrimSpace(path)
	if path == "" {
		return nil, fmt.Errorf("identity: empty sqlite path")
	}

	memory := path == ":memory:"
	if !memory {
		if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
			return nil, fmt.Errorf("identity: creating database directory: %w", err)
		}
	}

	// Pragmas go in the DSN so every pooled connection gets them.
	dsn := path + "?_pragma=foreign_keys(1)&_pragma=busy_timeout(5000)"
	if !memory {
		dsn += "&_pragma=journal_mode(WAL)"
	}

	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("identity: opening database: %w", err)
	}
	if memory {
		db.SetMaxOpenConns(1)
	}

	st := &SQLiteStore{db: db, timeout: 3 * time.Second}
	for _, opt := range opts {
		if opt == nil {
			continue
		}
		if err := opt(st); err != nil {
			_ = db.Close()
			return nil, err
		}
	}

	if err := st.EnsureSchema(context.Background()); err != nil {
		_ = db.Close()
		return nil, err
	}
	return st, nil
}

// EnsureSchema creates the tables if they don't exist.
func (s *SQLiteStore) EnsureSchema(ctx context.Context) error {
	const schema = `
CREATE TABLE IF NOT EXISTS users (
  id TEXT PRIMARY KEY CHECK (length(id) = 26),
  email TEXT NOT NULL UNIQUE,
  name TEXT NOT NULL DEFAULT '',
  created_at TEXT NOT NULL
);

CREATE TABLE IF NOT EXISTS user_credentials (
  user_id TEXT PRIMARY KEY REFERENCES users(id) ON DELETE CASCADE,
  password_hash TEXT NOT NULL,
  created_at TEXT NOT NULL,
  updated_at TEXT NOT NULL
);
`
	if _, err := s.db.ExecContext(ctx, schema); err != nil {
		return fmt.Errorf("identity: ensure schema: %w", err)
	}
	return nil
}

func (s *SQLiteStore) FindUserByID(ctx context.Context, id string) (User, error) {
	const op = "identity.FindUserByID"

	if !ids.Valid(id) {
		return User{}, malformedID(op)
	}

	ctx, cancel := withTimeout(ctx, s.timeout)
	defer cancel()

	row := s.db.QueryRowContext(ctx,
		`SELECT id, email, name, created_at FROM users WHERE id = ?`, id)
	return s.userFromRow(op, row)
}

func (s *SQLiteStore) FindUserByEmail(ctx context.Context, email string) (User, error) {
	const op = "identity.FindUserByEmail"

	ctx, cancel := withTimeout(ctx, s.timeout)
	defer cancel()

	row := s.db.QueryRowContext(ctx,
		`SELECT id, email, name, created_at FROM users WHERE email = ?`, email)
	return s.userFromRow(op, row)
}

func (s *SQLiteStore) FindCredential(ctx context.Context, userID string) (Credential, error) {
	const op = "identity.FindCredential"

	if !ids.Valid(userID) {
		return Credential{}, malformedID(op)
	}

	ctx, cancel := withTimeout(ctx, s.timeout)
	defer cancel()

	var (
		c                Credential
		created, updated string
	)
	err := s.db.QueryRowContext(ctx,
		`SELECT user_id, password_hash, created_at, updated_at FROM user_credentials WHERE user_id = ?`,
		userID,
	).Scan(&c.UserID, &c.PasswordHash, &created, &updated)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return Credential{}, NotFoundError{Op: op, Resource: "credential"}
		}
		return Credential{}, fmt.Errorf("%s: %w", op, err)
	}
	if c.CreatedAt, err = parseSQLiteTime(created); err != nil {
		return Credential{}, fmt.Errorf("%s: %w", op, err)
	}
	if c.UpdatedAt, err = parseSQLiteTime(updated); err != nil {
		return Credential{}, fmt.Errorf("%s: %w", op, err)
	}
	return c, nil
}

func (s *SQLiteStore) CreateUser(ctx context.Context, in CreateUserInput) (CreateUserResult, error) {
	const op = "identity.CreateUser"

	in, err := normalizeCreateInput(op, in)
	if err != nil {
		return CreateUserResult{}, err
	}

	userID, err := NewULID(in.Now)
	if err != nil {
		return CreateUserResult{}, err
	}

	ctx, cancel := withTimeout(ctx, s.timeout)
	defer cancel()

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return CreateUserResult{}, err
	}
	defer func() { _ = tx.Rollback() }()

	ts := in.Now.Format(time.RFC3339Nano)

	if _, err := tx.ExecContext(ctx,
		`INSERT INTO users (id, email, name, created_at) VALUES (?, ?, ?, ?)`,
		userID, in.Email, in.Name, ts,
	); err != nil {
		if sqliteUniqueViolation(err, "users.email") {
			return CreateUserResult{}, ConflictError{Op: op, Field: "email"}
		}
		return CreateUserResult{}, fmt.Errorf("%s: %w", op, err)
	}

	if _, err := tx.ExecContext(ctx,
		`INSERT INTO user_credentials (user_id, password_hash, created_at, updated_at) VALUES (?, ?, ?, ?)`,
		userID, in.PasswordHash, ts, ts,
	); err != nil {
		return CreateUserResult{}, fmt.Errorf("%s: %w", op, err)
	}

	if err := tx.Commit(); err != nil {
		return CreateUserResult{}, fmt.Errorf("%s: %w", op, err)
	}

	return CreateUserResult{User: User{
		ID:        userID,
		Email:     in.Email,
		Name:      in.Name,
		CreatedAt: in.Now,
	}}, nil
}

func (s *SQLiteStore) Ping(ctx context.Context) error {
	ctx, cancel := withTimeout(ctx, s.timeout)
	defer cancel()
	return s.db.PingContext(ctx)
}

// Close closes the underlying database handle.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

func (s *SQLiteStore) userFromRow(op string, row rowScanner) (User, error) {
	var (
		u       User
		created string
	)
	if err := row.Scan(&u.ID, &u.Email, &u.Name, &created); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return User{}, NotFoundError{Op: op, Resource: "user"}
		}
		return User{}, fmt.Errorf("%s: %w", op, err)
	}
	t, err := parseSQLiteTime(created)
	if err != nil {
		return User{}, fmt.Errorf("%s: %w", op, err)
	}
	u.CreatedAt = t
	return u, nil
}

func parseSQLiteTime(s string) (time.Time, error) {
	t, err := time.Parse(time.RFC3339Nano, s)
	if err != nil {
		return time.Time{}, fmt.Errorf("parse timestamp %q: %w", s, err)
	}
	return t.UTC(), nil
}

// sqliteUniqueViolation matches the driver's "UNIQUE constraint failed: <table.col>" message.
func sqliteUniqueViolation(err error, column string) bool {
	msg := err.Error()
	return strings.Contains(msg, "UNIQUE constraint failed") && strings.Contains(msg, column)
}
