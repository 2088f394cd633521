package shared

import "errors"

var (
	// ErrNotFound indicates resource not found.
	ErrNotFound = errors.New("not found")
	// ErrStoreUnavailable wraps infrastructure failures from the backing
	// store or cache. Decision callers map it to a fail-closed Deny.
	ErrStoreUnavailable = errors.New("store unavailable")
)
