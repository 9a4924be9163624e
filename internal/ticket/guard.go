package ticket

import (
	"fmt"
	"strings"
)

// Visitor identity bounds. The id is an opaque client-generated string;
// anything shorter than the minimum is rejected, anything longer than the
// maximum is truncated.
const (
	VisitorIDMinLen = 8
	VisitorIDMaxLen = 80
)

// ResolveVisitorID picks the effective visitor id from the side-channel
// value (request header) and the in-body fallback. The header wins when
// both are present. The result is trimmed and truncated to the bound.
func ResolveVisitorID(header, fallback string) string {
	id := strings.TrimSpace(header)
	if id == "" {
		id = strings.TrimSpace(fallback)
	}
	return truncate(id, VisitorIDMaxLen)
}

// RequireVisitor validates a resolved visitor id and, when expected is
// non-empty, enforces that it matches exactly. This is the sole
// authorization mechanism for visitor data: there is no token binding the
// id to a real identity, so anyone holding a visitor id can act as that
// visitor. Documented limitation, kept as designed.
func RequireVisitor(resolved, expected string) error {
	if len(resolved) < VisitorIDMinLen {
		return fmt.Errorf("visitorId must be at least %d characters: %w", VisitorIDMinLen, ErrValidation)
	}
	if expected != "" && resolved != expected {
		return fmt.Errorf("visitorId does not own this ticket: %w", ErrForbidden)
	}
	return nil
}

// truncate trims s and caps it at max runes, never splitting a rune.
func truncate(s string, max int) string {
	s = strings.TrimSpace(s)
	if r := []rune(s); len(r) > max {
		return string(r[:max])
	}
	return s
}
