// Package identity owns users, roles and permissions for warden.
//
// It is the source of truth for token_version: the per-user epoch that
// invalidates previously issued access tokens when it moves forward. Password
// changes, deactivation and soft deletion all bump it.
//
// LoadSnapshot is the authorization snapshot loader: it returns live roles,
// sorted unique permission codes and the current token_version, or the zero
// Snapshot (token_version 0) when the user is missing, disabled or deleted.
package identity
