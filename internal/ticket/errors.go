package ticket

import "errors"

// Sentinel errors for the ticket lifecycle. They are wrapped with context
// via fmt.Errorf and matched with errors.Is at the transport layer.
var (
	// ErrValidation marks malformed or missing input (HTTP 400).
	ErrValidation = errors.New("invalid input")
	// ErrForbidden marks identity mismatches and writes against tickets
	// whose status does not allow them (HTTP 403).
	ErrForbidden = errors.New("forbidden")
	// ErrNotFound marks unknown ticket ids (HTTP 404).
	ErrNotFound = errors.New("ticket not found")
	// ErrConflict marks a decision against an already-decided ticket
	// (HTTP 409).
	ErrConflict = errors.New("ticket already decided")
)
