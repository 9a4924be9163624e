// Package api serves the support-ticket HTTP contract: visitor request
// creation, cursor-based polling, admin decisions, and message appends.
package api

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/parleyhq/parley/internal/ticket"
)

// Options holds configuration for the support API server.
type Options struct {
	Manager *ticket.Manager
	Port    int
	// AdminToken gates admin-only operations. An empty token fails closed
	// unless AllowAnonymousAdmin is set.
	AdminToken          string
	AllowAnonymousAdmin bool
	MaxBodyBytes        int64
	// Gate is an externally supplied request-volume limiter applied in
	// front of the support endpoints. Optional; rate limiting is a
	// collaborator, not owned by this package.
	Gate gin.HandlerFunc
	Out  io.Writer
}

// Start launches the support API server. It blocks until ctx is cancelled,
// then shuts down gracefully.
func Start(ctx context.Context, opts Options) error {
	router, err := NewRouter(opts)
	if err != nil {
		return err
	}
	if opts.Port <= 0 {
		opts.Port = 3001
	}

	srv := &http.Server{
		Addr:    fmt.Sprintf(":%d", opts.Port),
		Handler: router,
	}

	go func() {
		<-ctx.Done()
		srv.Shutdown(context.Background())
	}()

	if opts.Out != nil {
		fmt.Fprintf(opts.Out, "Support API listening on http://localhost:%d\n", opts.Port)
	}

	if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return fmt.Errorf("api: %w", err)
	}
	return nil
}

// NewRouter builds the gin engine with all support routes registered.
func NewRouter(opts Options) (*gin.Engine, error) {
	if opts.Manager == nil {
		return nil, fmt.Errorf("api: manager is required")
	}
	if opts.MaxBodyBytes <= 0 {
		opts.MaxBodyBytes = 2_000_000
	}

	gin.SetMode(gin.ReleaseMode)
	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(limitBody(opts.MaxBodyBytes))
	if opts.Gate != nil {
		router.Use(opts.Gate)
	}

	h := &handlers{
		manager:        opts.Manager,
		adminToken:     opts.AdminToken,
		anonymousAdmin: opts.AllowAnonymousAdmin,
		startedAt:      time.Now(),
	}
	registerRoutes(router, h)
	return router, nil
}

// registerRoutes sets up all support routes on the gin router.
func registerRoutes(router *gin.Engine, h *handlers) {
	router.GET("/api/health", h.health)
	router.POST("/api/support/request", h.createRequest)
	router.GET("/api/support/requests", h.listRequests)
	router.GET("/api/support/requests/:id", h.getRequest)
	router.POST("/api/support/requests/:id/decision", h.decide)
	router.POST("/api/support/requests/:id/message", h.appendMessage)
}

// limitBody caps request body size so oversized payloads fail as 413
// during JSON binding instead of being buffered whole.
func limitBody(max int64) gin.HandlerFunc {
	return func(c *gin.Context) {
		if c.Request.Body != nil {
			c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, max)
		}
		c.Next()
	}
}
