// Package session turns a presented bearer token into an authenticated caller.
//
// One Resolver performs the three-way resolution shared by every entry point:
//
//	no token presented            -> OutcomeNoToken
//	token unusable or store down  -> *ResolutionError
//	token decodes to an id        -> OutcomeIdentity (user found) or OutcomeDangling (no such user)
//
// Gates differ only in what they do with each outcome. Gate.HTTP lets anonymous
// requests through and rejects dangling tokens; Gate.Handshake rejects both before a
// WebSocket upgrade. RequireAuth is the stateless check placed on protected routes.
//
// Tokens have no expiry and there is no revocation list; a signed token stays valid
// for as long as its user exists and the signing key is unchanged.
package session
