// Package domain defines the job entity, the ports driven by the lifecycle
// controller, and the sentinel errors shared across layers. Callers match
// sentinels with errors.Is.
package domain

import "errors"

var (
	// ErrValidation covers bad input; reported to the caller, no state change.
	ErrValidation = errors.New("validation error")

	// ErrNotFound covers unknown jobs and missing result artifacts.
	ErrNotFound = errors.New("not found")

	// ErrUnauthorized is returned for a download token mismatch.
	ErrUnauthorized = errors.New("unauthorized")

	// ErrGone is returned when a download grant has expired.
	ErrGone = errors.New("gone")

	// ErrIntegrity means a ciphertext authentication tag failed to verify.
	ErrIntegrity = errors.New("integrity check failed")

	// ErrExternalTool means a repair tool could not be spawned, timed out, or
	// exited non-zero. It drives the fallback chain, never a user-facing error.
	ErrExternalTool = errors.New("external tool failed")

	// ErrPersistence covers repository read/write failures.
	ErrPersistence = errors.New("persistence error")
)
