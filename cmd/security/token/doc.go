// Package token is gatehouse's bearer token codec.
//
// A token is a signed JWT whose payload carries exactly one claim, "id", naming
// the identity it was minted for. Tokens carry no expiry and are not persisted;
// possession of a validly signed token is the whole credential.
//
// Design goals:
//   - Signing key and algorithm are injected through Config (no process-wide secret).
//   - Only HMAC algorithms (HS256, HS384, HS512) are accepted, and only the configured one.
//   - Decode is strict: any extra claim, or a missing/empty/non-string "id", is ErrInvalidToken.
package token
