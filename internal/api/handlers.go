package api

import (
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/parleyhq/parley/internal/models"
	"github.com/parleyhq/parley/internal/store"
	"github.com/parleyhq/parley/internal/ticket"
)

// visitorIDHeader is the side-channel visitor identity header. It takes
// precedence over any visitorId supplied in the body or query.
const visitorIDHeader = "X-Visitor-Id"

type handlers struct {
	manager        *ticket.Manager
	adminToken     string
	anonymousAdmin bool
	startedAt      time.Time
}

type createRequestBody struct {
	VisitorID   string `json:"visitorId"`
	VisitorName string `json:"visitorName"`
	Message     string `json:"message"`
}

type decisionBody struct {
	Decision       string `json:"decision"`
	OperatorChatID string `json:"operatorChatId"`
}

type messageBody struct {
	From           string `json:"from"`
	Text           string `json:"text"`
	VisitorID      string `json:"visitorId"`
	OperatorChatID string `json:"operatorChatId"`
}

func (h *handlers) health(c *gin.Context) {
	started := h.startedAt
	if started.IsZero() {
		started = time.Now()
	}
	c.JSON(http.StatusOK, gin.H{
		"ok":        true,
		"uptimeSec": int64(time.Since(started).Seconds()),
		"timestamp": time.Now().UTC().Format(time.RFC3339),
	})
}

// createRequest handles POST /api/support/request. Returns 201 for a newly
// created ticket, 200 when the visitor's active ticket already existed.
func (h *handlers) createRequest(c *gin.Context) {
	var body createRequestBody
	if !h.bindJSON(c, &body) {
		return
	}

	visitorID := ticket.ResolveVisitorID(c.GetHeader(visitorIDHeader), body.VisitorID)
	t, created, err := h.manager.CreateOrGet(visitorID, body.VisitorName, body.Message)
	if err != nil {
		h.fail(c, err)
		return
	}

	status := http.StatusOK
	if created {
		status = http.StatusCreated
	}
	c.JSON(status, gin.H{"item": t.Summary(false)})
}

// listRequests handles GET /api/support/requests. Admin callers may filter
// freely; everyone else is pinned to their own visitor id regardless of the
// filter they pass.
func (h *handlers) listRequests(c *gin.Context) {
	status := models.Status(c.Query("status"))
	admin := h.isAdmin(c)

	visitorID := c.Query("visitorId")
	if !admin {
		visitorID = ticket.ResolveVisitorID(c.GetHeader(visitorIDHeader), visitorID)
	}

	items, err := h.manager.List(status, visitorID, admin)
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"items": items})
}

// getRequest handles GET /api/support/requests/:id?after=N, the polling
// read: ticket snapshot plus messages with id > after.
func (h *handlers) getRequest(c *gin.Context) {
	id, ok := ticketID(c)
	if !ok {
		return
	}
	after, _ := strconv.ParseInt(c.Query("after"), 10, 64)

	admin := h.isAdmin(c)
	visitorID := ticket.ResolveVisitorID(c.GetHeader(visitorIDHeader), c.Query("visitorId"))

	snap, msgs, err := h.manager.Get(id, after, visitorID, admin)
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"item": snap, "messages": msgs})
}

// decide handles POST /api/support/requests/:id/decision (admin only).
func (h *handlers) decide(c *gin.Context) {
	if !h.isAdmin(c) {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "Unauthorized."})
		return
	}
	id, ok := ticketID(c)
	if !ok {
		return
	}
	var body decisionBody
	if !h.bindJSON(c, &body) {
		return
	}

	t, err := h.manager.Decide(id, models.Status(body.Decision), body.OperatorChatID)
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"item": t.Summary(true)})
}

// appendMessage handles POST /api/support/requests/:id/message. Operator
// messages require admin authentication; visitor messages pass the
// identity guard inside the manager.
func (h *handlers) appendMessage(c *gin.Context) {
	id, ok := ticketID(c)
	if !ok {
		return
	}
	var body messageBody
	if !h.bindJSON(c, &body) {
		return
	}

	from := models.AuthorVisitor
	if body.From == string(models.AuthorOperator) {
		from = models.AuthorOperator
		if !h.isAdmin(c) {
			c.JSON(http.StatusUnauthorized, gin.H{"error": "Unauthorized."})
			return
		}
	}

	visitorID := ticket.ResolveVisitorID(c.GetHeader(visitorIDHeader), body.VisitorID)
	t, msg, err := h.manager.Append(id, from, body.Text, visitorID, body.OperatorChatID)
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusCreated, gin.H{
		"item":    t.Summary(from == models.AuthorOperator),
		"message": msg,
	})
}

// ticketID parses the :id path segment, answering 400 on garbage.
func ticketID(c *gin.Context) (int64, bool) {
	id, err := strconv.ParseInt(c.Param("id"), 10, 64)
	if err != nil || id <= 0 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid support id."})
		return 0, false
	}
	return id, true
}

// bindJSON decodes the request body, answering 413 when the body limit
// tripped and 400 on malformed JSON.
func (h *handlers) bindJSON(c *gin.Context, out any) bool {
	if err := c.ShouldBindJSON(out); err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			c.JSON(http.StatusRequestEntityTooLarge, gin.H{"error": "Payload too large."})
			return false
		}
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid JSON body."})
		return false
	}
	return true
}

// fail maps lifecycle errors onto the HTTP taxonomy.
func (h *handlers) fail(c *gin.Context, err error) {
	switch {
	case errors.Is(err, ticket.ErrValidation):
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
	case errors.Is(err, ticket.ErrForbidden):
		c.JSON(http.StatusForbidden, gin.H{"error": err.Error()})
	case errors.Is(err, ticket.ErrNotFound):
		c.JSON(http.StatusNotFound, gin.H{"error": "Support ticket not found."})
	case errors.Is(err, ticket.ErrConflict):
		c.JSON(http.StatusConflict, gin.H{"error": err.Error()})
	case errors.Is(err, store.ErrStorage):
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Storage failure."})
	default:
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Internal server error."})
	}
}
