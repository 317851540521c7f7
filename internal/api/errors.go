package api

import "errors"

// Identity failures are terminal and routed, never retried. Anything else
// coming out of the client is a transient transport problem and retryable
// at the call site.
var (
	// ErrUnauthorized means no valid session; the UI routes to login.
	ErrUnauthorized = errors.New("unauthorized")

	// ErrBanned means the account is banned. Distinct from ErrUnauthorized:
	// the UI routes to the banned view and nothing is retried.
	ErrBanned = errors.New("account banned")

	// ErrNotFound maps 404 responses (unknown chat, deleted message).
	ErrNotFound = errors.New("not found")
)

// IsTerminal reports whether err is an identity failure that must not be
// retried.
func IsTerminal(err error) bool {
	return errors.Is(err, ErrUnauthorized) || errors.Is(err, ErrBanned)
}
