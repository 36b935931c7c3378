// Package server provides the HTTP REST API for the session engine.
package server

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"

	"github.com/jonathan/cv-session-engine/internal/presence"
	"github.com/jonathan/cv-session-engine/internal/queue"
	"github.com/jonathan/cv-session-engine/internal/session"
)

// Server represents the HTTP server
type Server struct {
	httpServer *http.Server
	manager    *session.Manager
	jobs       *queue.Queue
	presence   presence.Tracker
	logger     *zap.Logger
}

// Config holds server configuration
type Config struct {
	Port     int
	Manager  *session.Manager
	Jobs     *queue.Queue
	Presence presence.Tracker
	Logger   *zap.Logger
}

// New creates a new server instance
func New(cfg Config) (*Server, error) {
	if cfg.Manager == nil {
		return nil, fmt.Errorf("session manager is required")
	}
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}

	s := &Server{
		manager:  cfg.Manager,
		jobs:     cfg.Jobs,
		presence: cfg.Presence,
		logger:   logger,
	}

	// Setup router
	mux := http.NewServeMux()
	mux.HandleFunc("POST /sessions", s.handleCreateSession)
	mux.HandleFunc("GET /sessions/{id}", s.handleGetSession)
	mux.HandleFunc("POST /sessions/{id}/mutations", s.handleApplyMutation)
	mux.HandleFunc("GET /sessions/{id}/changes", s.handleListChanges)
	mux.HandleFunc("GET /sessions/{id}/events", s.handleEventStream)

	// Navigation endpoints
	mux.HandleFunc("GET /sessions/{id}/navigation", s.handleNavigationPaths)
	mux.HandleFunc("GET /sessions/{id}/resume-advice", s.handleResumeAdvice)

	// Sync endpoints
	mux.HandleFunc("POST /sessions/{id}/conflicts/{conflict_id}/resolve", s.handleResolveConflict)
	mux.HandleFunc("POST /sessions/{id}/connectivity", s.handleConnectivity)
	mux.HandleFunc("GET /sessions/{id}/offline-actions", s.handleOfflineBacklog)

	// Presence endpoints
	mux.HandleFunc("POST /sessions/{id}/presence", s.handleHeartbeat)
	mux.HandleFunc("GET /sessions/{id}/presence", s.handleActivePresence)

	// Processing queue endpoints
	mux.HandleFunc("POST /sessions/{id}/jobs", s.handleEnqueueJob)
	mux.HandleFunc("GET /jobs/{id}", s.handleGetJob)
	mux.HandleFunc("GET /queue/stats", s.handleQueueStats)

	mux.HandleFunc("GET /health", s.handleHealth)

	// Create HTTP server
	s.httpServer = &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Port),
		Handler:      s.withLogging(s.withCORS(mux)),
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 300 * time.Second, // Long timeout for SSE streams
		IdleTimeout:  60 * time.Second,
	}

	return s, nil
}

// Handler exposes the configured handler stack, mainly for tests.
func (s *Server) Handler() http.Handler {
	return s.httpServer.Handler
}

// Start begins listening for requests
func (s *Server) Start() error {
	// Graceful shutdown
	stop := make(chan os.Signal, 1)
	signal.Notify(stop, os.Interrupt, syscall.SIGTERM)

	go func() {
		s.logger.Info("server starting", zap.String("addr", s.httpServer.Addr))
		if err := s.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			s.logger.Fatal("server error", zap.Error(err))
		}
	}()

	<-stop
	s.logger.Info("shutting down server")

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := s.httpServer.Shutdown(ctx); err != nil {
		return fmt.Errorf("server shutdown failed: %w", err)
	}

	s.logger.Info("server stopped")
	return nil
}

// withCORS adds CORS headers
func (s *Server) withCORS(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type")

		if r.Method == "OPTIONS" {
			w.WriteHeader(http.StatusOK)
			return
		}

		next.ServeHTTP(w, r)
	})
}

// withLogging adds request logging
func (s *Server) withLogging(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		next.ServeHTTP(w, r)
		s.logger.Info("request",
			zap.String("method", r.Method),
			zap.String("path", r.URL.Path),
			zap.Duration("duration", time.Since(start)))
	})
}

// handleHealth returns server health status
func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	s.jsonResponse(w, http.StatusOK, map[string]string{"status": "ok"})
}

// jsonResponse writes a JSON response
func (s *Server) jsonResponse(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		s.logger.Error("error encoding JSON response", zap.Error(err))
	}
}

// errorResponse writes an error JSON response
func (s *Server) errorResponse(w http.ResponseWriter, status int, message string) {
	s.jsonResponse(w, status, map[string]string{"error": message})
}
