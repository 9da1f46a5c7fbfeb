// Package errors provides the structured error taxonomy used across the
// panel controller.
//
// # Error Categories
//
//   - Transient: temporary failures where retry may succeed (network, status I/O)
//   - Permanent: retry will not help (malformed payloads, unknown task keys)
//   - Resource: upstream quotas and rate limits
//   - Internal: bugs and launch failures
//
// # Usage
//
//	err := errors.FetchFailed("lastfm", cause)
//	if errors.IsTransient(err) {
//	    // skip this cycle, try again on the next poll
//	}
//
//	if errors.Is(err, errors.ErrCodeUnknownTask) {
//	    // ignore the request
//	}
package errors
