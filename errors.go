package wireflow

import "errors"

// Error sentinels for the engine's failure taxonomy. Components wrap these
// with fmt.Errorf("...: %w", ...) and callers test with errors.Is. The HTTP
// layer is the only place they are translated to status codes.
var (
	// ErrNotFound indicates an unknown session or version.
	ErrNotFound = errors.New("not found")

	// ErrConflict indicates an optimistic concurrency failure: the version
	// being written already exists, or a metadata CAS observed a different
	// current version.
	ErrConflict = errors.New("version conflict")

	// ErrBusy indicates per-session lock acquisition timed out.
	ErrBusy = errors.New("session busy")

	// ErrUnavailable indicates the state backend is unreachable. Retryable;
	// no local state was mutated.
	ErrUnavailable = errors.New("state store unavailable")

	// ErrModelFailure indicates the upstream model failed after retries.
	ErrModelFailure = errors.New("model request failed")

	// ErrInvalidOutput indicates the model returned a structurally invalid
	// wireframe. Never retried.
	ErrInvalidOutput = errors.New("invalid model output")

	// ErrDeadline indicates the end-to-end edit budget was exhausted before
	// the new version committed.
	ErrDeadline = errors.New("edit deadline exceeded")

	// ErrQuarantined indicates an integrity violation was detected for the
	// session. Writes are rejected; reads remain permitted.
	ErrQuarantined = errors.New("session quarantined")

	// ErrIntegrity indicates stored state failed verification, e.g. a
	// content hash mismatch or current_version pointing at a missing state.
	ErrIntegrity = errors.New("integrity violation")
)
