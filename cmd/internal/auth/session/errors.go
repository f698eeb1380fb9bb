package session

import "errors"

var (
	// ErrInvalidSession is returned by Store.Create for rows that would break
	// the session invariants (empty keys, expires_at past the absolute ceiling).
	ErrInvalidSession = errors.New("invalid session")

	// ErrConfig is returned for invalid configuration.
	ErrConfig = errors.New("invalid config")
)
