// Package query is the pull channel: one request per view kind against the
// collector's REST API.
//
// Failures are typed with github.com/juju/errors so callers can branch on
// the class of failure (errors.Is(err, errors.NotFound) and friends) and
// IsRetryable can tell a transient failure from a permanent one.
package query
