// Package api provides the HTTP surface for CoachLink.
//
// It exposes an inbound message webhook for channels that deliver over HTTP,
// read-only queries over relationships, invitations, and tasks, and a health
// endpoint. All conversation logic stays behind the router; the API is a thin
// transport adapter.
package api

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"time"

	"github.com/coachlinkhq/coachlink/internal/messaging"
	"github.com/coachlinkhq/coachlink/internal/router"
	"github.com/coachlinkhq/coachlink/internal/store"
	"github.com/coachlinkhq/coachlink/internal/tasks"
)

// DefaultAddr is the listen address used when none is configured.
const DefaultAddr = ":8080"

// Opts holds configuration options for the API server.
type Opts struct {
	Addr string
}

// Option defines a configuration option for the API server.
type Option func(*Opts)

// WithAddr overrides the listen address.
func WithAddr(addr string) Option {
	return func(o *Opts) {
		o.Addr = addr
	}
}

// Server wires HTTP handlers to the router and storage.
type Server struct {
	msgService messaging.Service
	router     *router.Router
	st         store.Store
	tasks      *tasks.Store
	httpServer *http.Server
	opts       Opts
}

// NewServer creates an API server. The listen address falls back to the
// COACHLINK_API_ADDR environment variable, then DefaultAddr.
func NewServer(msgService messaging.Service, rt *router.Router, st store.Store, taskStore *tasks.Store, options ...Option) *Server {
	opts := Opts{}
	for _, opt := range options {
		opt(&opts)
	}
	if opts.Addr == "" {
		opts.Addr = os.Getenv("COACHLINK_API_ADDR")
	}
	if opts.Addr == "" {
		opts.Addr = DefaultAddr
	}
	return &Server{
		msgService: msgService,
		router:     rt,
		st:         st,
		tasks:      taskStore,
		opts:       opts,
	}
}

// Handler returns the routed HTTP handler. Exposed for tests.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/health", s.healthHandler)
	mux.HandleFunc("/v1/inbound", s.inboundHandler)
	mux.HandleFunc("/v1/twilio/inbound", s.twilioInboundHandler)
	mux.HandleFunc("/v1/relationships", s.relationshipsHandler)
	mux.HandleFunc("/v1/invitations", s.invitationsHandler)
	mux.HandleFunc("/v1/tasks", s.tasksHandler)
	return mux
}

// Start begins serving in a background goroutine.
func (s *Server) Start(ctx context.Context) error {
	s.httpServer = &http.Server{
		Addr:              s.opts.Addr,
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}
	go func() {
		slog.Info("API server listening", "addr", s.opts.Addr)
		if err := s.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			slog.Error("API server terminated", "error", err)
		}
	}()
	return nil
}

// Stop gracefully shuts the server down.
func (s *Server) Stop(ctx context.Context) error {
	if s.httpServer == nil {
		return nil
	}
	if err := s.httpServer.Shutdown(ctx); err != nil {
		return fmt.Errorf("failed to shut down API server: %w", err)
	}
	slog.Info("API server stopped")
	return nil
}
