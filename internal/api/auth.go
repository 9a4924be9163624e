package api

import (
	"crypto/subtle"
	"strings"

	"github.com/gin-gonic/gin"
)

// tokenFromRequest extracts the caller-supplied admin token: an
// Authorization bearer value, or the X-API-Token header.
func tokenFromRequest(c *gin.Context) string {
	auth := strings.TrimSpace(c.GetHeader("Authorization"))
	if len(auth) > 7 && strings.EqualFold(auth[:7], "Bearer ") {
		return strings.TrimSpace(auth[7:])
	}
	return strings.TrimSpace(c.GetHeader("X-API-Token"))
}

// isAdmin reports whether the request is authenticated as administrator.
// An unconfigured token fails closed: no caller can authenticate, unless
// anonymous admin access was explicitly enabled for non-production use.
func (h *handlers) isAdmin(c *gin.Context) bool {
	if h.adminToken == "" {
		return h.anonymousAdmin
	}
	token := tokenFromRequest(c)
	if token == "" {
		return false
	}
	return subtle.ConstantTimeCompare([]byte(token), []byte(h.adminToken)) == 1
}
