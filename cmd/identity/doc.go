// Package identity implements gatehouse's credential store boundary.
//
// It owns the User and Credential records, the ULID addressing scheme for user
// identifiers, and the Store implementations (PostgreSQL via pgx, SQLite via
// modernc.org/sqlite) that the session resolver and the login handler read from.
//
// The core never mutates identities; CreateUser exists for seeding only.
package identity
