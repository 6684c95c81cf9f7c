package domain

import "errors"

// ─── Sentinel Errors ────────────────────────────────────────────────────────
// Domain errors carry no infrastructure dependency.
// Callers wrap them with fmt.Errorf("...: %w", err) and match with errors.Is.

var (
	// ErrInvalidArgument marks malformed input to a pure function or a bad
	// configuration table. Never clamped, always returned to the caller.
	ErrInvalidArgument = errors.New("invalid argument")

	// ErrStoreUnavailable marks any failed read, write or subscribe against
	// the progress store.
	ErrStoreUnavailable = errors.New("progress store unavailable")

	// ErrNotificationSink marks a single downstream sink failing to accept a
	// milestone notification.
	ErrNotificationSink = errors.New("notification sink failed")

	// Lookup errors for the REST surface
	ErrUserNotFound         = errors.New("user not found")
	ErrTaskNotFound         = errors.New("task not found")
	ErrNotificationNotFound = errors.New("notification not found")
)
