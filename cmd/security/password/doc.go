// Package password hashes and verifies gatehouse credentials.
//
// New hashes use the configured Scheme: Argon2id in a PHC-like encoded string
// (default) or bcrypt. Verify accepts either format regardless of Scheme, so
// credentials seeded by older tooling keep working.
//
// Security notes:
//   - Hash strings are untrusted input during Verify and are decoded strictly.
//   - Verification refuses hashes whose cost parameters exceed configured bounds (anti-DoS).
package password
