// Package apierr defines the typed error taxonomy shared by the
// Workers, Intakes, and Control Surface (spec §7), restructuring the
// teacher's friendlyError/friendlyHTTPError substring-matching
// translation in internal/core/engine.go into wrapped sentinel values
// testable with errors.Is/errors.As.
package apierr

import (
	"errors"
	"fmt"
	"net/http"
	"strings"
)

// Sentinel conditions. Wrap these with fmt.Errorf("...: %w", Sentinel)
// to attach context while keeping errors.Is working.
var (
	// ErrStorageFailure is a Job Store I/O error. Never treated as a
	// job failure — surfaced to the operator, the job continues using
	// in-memory state (spec §7).
	ErrStorageFailure = errors.New("storage failure")

	// ErrNotConfigured means a required external collaborator (the
	// chat session, most commonly) has no credentials yet.
	ErrNotConfigured = errors.New("not configured")

	// ErrNotFound means the requested Job/routing entry/user does not
	// exist (or is soft-deleted).
	ErrNotFound = errors.New("not found")

	// ErrValidation means the caller-supplied request is malformed.
	ErrValidation = errors.New("validation failed")

	// ErrInvalidRetryState means retry was attempted on a job whose
	// status is not in {failed, stopped}.
	ErrInvalidRetryState = errors.New("job is not in a retryable state")

	// ErrUnauthorized means the bearer token is missing, malformed, or
	// expired.
	ErrUnauthorized = errors.New("unauthorized")
)

// StorageFailure wraps a Job Store error with ErrStorageFailure.
func StorageFailure(cause error) error {
	return fmt.Errorf("%w: %v", ErrStorageFailure, cause)
}

// NotConfigured wraps a missing-configuration condition with a
// human-readable reason.
func NotConfigured(reason string) error {
	return fmt.Errorf("%w: %s", ErrNotConfigured, reason)
}

// NotFound wraps a missing-resource condition naming the resource.
func NotFound(what string) error {
	return fmt.Errorf("%w: %s", ErrNotFound, what)
}

// Validation wraps a malformed-request condition with its reason.
func Validation(reason string) error {
	return fmt.Errorf("%w: %s", ErrValidation, reason)
}

// HTTPStatus maps an apierr condition to the HTTP status the Control
// Surface should answer with; unrecognized errors map to 500.
func HTTPStatus(err error) int {
	switch {
	case err == nil:
		return http.StatusOK
	case errors.Is(err, ErrUnauthorized):
		return http.StatusUnauthorized
	case errors.Is(err, ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, ErrValidation), errors.Is(err, ErrInvalidRetryState):
		return http.StatusBadRequest
	case errors.Is(err, ErrNotConfigured):
		return http.StatusPreconditionFailed
	default:
		return http.StatusInternalServerError
	}
}

// FriendlyTransportError translates a raw network/transport error into
// a short operator-facing message. The extractor subprocess and the
// chat capability both surface errors with no structure beyond a
// message string, so — unlike the typed conditions above — this one
// function keeps the teacher's substring-matching style because
// there is genuinely nothing more structured to key off of.
func FriendlyTransportError(err error) string {
	if err == nil {
		return ""
	}
	msg := err.Error()
	switch {
	case strings.Contains(msg, "no such host"), strings.Contains(msg, "dial tcp"):
		return "network unreachable"
	case strings.Contains(msg, "context deadline exceeded"), strings.Contains(msg, "timeout"):
		return "request timed out"
	case strings.Contains(msg, "connection reset"):
		return "connection reset by peer"
	default:
		return msg
	}
}
