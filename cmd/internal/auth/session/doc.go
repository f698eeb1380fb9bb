// Package session owns refresh sessions and the auth orchestrator.
//
// A refresh session backs one opaque refresh token. Only its keyed hash is
// stored. Rotation swaps the hash in place under a row lock, extends the idle
// expiry up to the absolute ceiling fixed at login, and never revives a
// revoked or expired row.
//
// Service composes the identity directory, password hasher, access-token
// codec and this package's Store into Login, Refresh, Logout and LogoutAll.
package session
