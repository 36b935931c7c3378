package server

import (
	"encoding/json"
	"net/http"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/jonathan/cv-session-engine/internal/navigation"
	"github.com/jonathan/cv-session-engine/internal/session"
	"github.com/jonathan/cv-session-engine/internal/types"
)

// sessionID extracts and parses the {id} path value.
func (s *Server) sessionID(w http.ResponseWriter, r *http.Request) (uuid.UUID, bool) {
	id, err := uuid.Parse(r.PathValue("id"))
	if err != nil {
		s.errorResponse(w, http.StatusBadRequest, "invalid session id")
		return uuid.Nil, false
	}
	return id, true
}

// loadStore resolves the session store for the request, writing the error
// response on failure.
func (s *Server) loadStore(w http.ResponseWriter, r *http.Request) (*session.Store, bool) {
	id, ok := s.sessionID(w, r)
	if !ok {
		return nil, false
	}
	store, err := s.manager.Get(r.Context(), id)
	if err != nil {
		s.errorResponse(w, HTTPStatus(err), err.Error())
		return nil, false
	}
	return store, true
}

type createSessionRequest struct {
	UserID *uuid.UUID `json:"user_id,omitempty"`
	JobID  *uuid.UUID `json:"job_id,omitempty"`
}

func (s *Server) handleCreateSession(w http.ResponseWriter, r *http.Request) {
	var req createSessionRequest
	if r.Body != nil {
		// An empty body creates an anonymous draft session.
		_ = json.NewDecoder(r.Body).Decode(&req)
	}

	_, state, err := s.manager.Create(r.Context(), types.Session{
		UserID: req.UserID,
		JobID:  req.JobID,
	})
	if err != nil {
		s.errorResponse(w, HTTPStatus(err), err.Error())
		return
	}
	s.jsonResponse(w, http.StatusCreated, state)
}

func (s *Server) handleGetSession(w http.ResponseWriter, r *http.Request) {
	store, ok := s.loadStore(w, r)
	if !ok {
		return
	}
	s.jsonResponse(w, http.StatusOK, store.Snapshot())
}

func (s *Server) handleApplyMutation(w http.ResponseWriter, r *http.Request) {
	store, ok := s.loadStore(w, r)
	if !ok {
		return
	}

	var m session.Mutation
	if err := json.NewDecoder(r.Body).Decode(&m); err != nil {
		s.errorResponse(w, http.StatusBadRequest, "invalid mutation body: "+err.Error())
		return
	}

	change, err := store.Apply(r.Context(), m)
	if err != nil {
		s.errorResponse(w, HTTPStatus(err), err.Error())
		return
	}
	s.jsonResponse(w, http.StatusOK, change)
}

func (s *Server) handleListChanges(w http.ResponseWriter, r *http.Request) {
	store, ok := s.loadStore(w, r)
	if !ok {
		return
	}
	s.jsonResponse(w, http.StatusOK, store.ChangeLog())
}

// handleEventStream streams applied changes over SSE until the client
// disconnects.
func (s *Server) handleEventStream(w http.ResponseWriter, r *http.Request) {
	store, ok := s.loadStore(w, r)
	if !ok {
		return
	}

	sse, err := NewSSEWriter(w)
	if err != nil {
		s.errorResponse(w, http.StatusInternalServerError, err.Error())
		return
	}

	events := make(chan []types.StateChange, 16)
	cancel := store.Subscribe(func(changes []types.StateChange) {
		select {
		case events <- changes:
		default:
			// A slow consumer drops batches rather than blocking the store.
		}
	})
	defer cancel()

	if err := sse.WriteEvent("snapshot", store.Snapshot()); err != nil {
		return
	}

	for {
		select {
		case <-r.Context().Done():
			return
		case changes := <-events:
			if err := sse.WriteChanges(changes); err != nil {
				return
			}
		}
	}
}

func (s *Server) handleNavigationPaths(w http.ResponseWriter, r *http.Request) {
	store, ok := s.loadStore(w, r)
	if !ok {
		return
	}
	s.jsonResponse(w, http.StatusOK, navigation.ComputeReachablePaths(store.Snapshot()))
}

func (s *Server) handleResumeAdvice(w http.ResponseWriter, r *http.Request) {
	store, ok := s.loadStore(w, r)
	if !ok {
		return
	}
	s.jsonResponse(w, http.StatusOK, navigation.RecommendResume(store.Snapshot()))
}

type resolveConflictRequest struct {
	Value      any    `json:"value"`
	ResolvedBy string `json:"resolved_by"`
}

func (s *Server) handleResolveConflict(w http.ResponseWriter, r *http.Request) {
	store, ok := s.loadStore(w, r)
	if !ok {
		return
	}
	conflictID, err := uuid.Parse(r.PathValue("conflict_id"))
	if err != nil {
		s.errorResponse(w, http.StatusBadRequest, "invalid conflict id")
		return
	}

	var req resolveConflictRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.errorResponse(w, http.StatusBadRequest, "invalid resolution body: "+err.Error())
		return
	}

	if err := store.ResolveConflict(r.Context(), conflictID, req.Value, req.ResolvedBy); err != nil {
		s.errorResponse(w, HTTPStatus(err), err.Error())
		return
	}
	s.jsonResponse(w, http.StatusOK, store.Snapshot().Sync)
}

type connectivityRequest struct {
	Online bool `json:"online"`
}

func (s *Server) handleConnectivity(w http.ResponseWriter, r *http.Request) {
	store, ok := s.loadStore(w, r)
	if !ok {
		return
	}

	var req connectivityRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.errorResponse(w, http.StatusBadRequest, "invalid connectivity body: "+err.Error())
		return
	}

	results := store.SetOnline(r.Context(), req.Online)
	s.jsonResponse(w, http.StatusOK, map[string]any{
		"online":       req.Online,
		"sync":         store.Snapshot().Sync,
		"replayed":     len(results),
		"sync_results": results,
	})
}

func (s *Server) handleOfflineBacklog(w http.ResponseWriter, r *http.Request) {
	store, ok := s.loadStore(w, r)
	if !ok {
		return
	}
	s.jsonResponse(w, http.StatusOK, store.OfflineBacklog())
}

type heartbeatRequest struct {
	UserID     uuid.UUID  `json:"user_id"`
	ClientID   string     `json:"client_id"`
	ActiveStep types.Step `json:"active_step,omitempty"`
}

func (s *Server) handleHeartbeat(w http.ResponseWriter, r *http.Request) {
	if s.presence == nil {
		s.errorResponse(w, http.StatusNotImplemented, "presence tracking not configured")
		return
	}
	id, ok := s.sessionID(w, r)
	if !ok {
		return
	}

	var req heartbeatRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.errorResponse(w, http.StatusBadRequest, "invalid heartbeat body: "+err.Error())
		return
	}
	if req.ClientID == "" {
		s.errorResponse(w, http.StatusBadRequest, "client_id is required")
		return
	}

	err := s.presence.Heartbeat(r.Context(), id, types.UserPresence{
		UserID:     req.UserID,
		ClientID:   req.ClientID,
		ActiveStep: req.ActiveStep,
	})
	if err != nil {
		s.errorResponse(w, HTTPStatus(err), err.Error())
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleActivePresence(w http.ResponseWriter, r *http.Request) {
	if s.presence == nil {
		s.errorResponse(w, http.StatusNotImplemented, "presence tracking not configured")
		return
	}
	id, ok := s.sessionID(w, r)
	if !ok {
		return
	}

	active, err := s.presence.Active(r.Context(), id)
	if err != nil {
		s.errorResponse(w, HTTPStatus(err), err.Error())
		return
	}
	s.jsonResponse(w, http.StatusOK, active)
}

type enqueueJobRequest struct {
	Type         string         `json:"type"`
	Priority     int            `json:"priority,omitempty"`
	MaxRetries   int            `json:"max_retries,omitempty"`
	Dependencies []uuid.UUID    `json:"dependencies,omitempty"`
	Payload      map[string]any `json:"payload,omitempty"`
	TimeoutMs    int64          `json:"timeout_ms,omitempty"`
}

func (s *Server) handleEnqueueJob(w http.ResponseWriter, r *http.Request) {
	store, ok := s.loadStore(w, r)
	if !ok {
		return
	}

	var req enqueueJobRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.errorResponse(w, http.StatusBadRequest, "invalid job body: "+err.Error())
		return
	}
	if req.Type == "" {
		s.errorResponse(w, http.StatusBadRequest, "job type is required")
		return
	}

	job := &types.ProcessingJob{
		ID:           uuid.New(),
		Type:         req.Type,
		Priority:     req.Priority,
		MaxRetries:   req.MaxRetries,
		Dependencies: req.Dependencies,
		Payload:      req.Payload,
		TimeoutMs:    req.TimeoutMs,
	}
	if err := store.EnqueueJob(job); err != nil {
		s.errorResponse(w, HTTPStatus(err), err.Error())
		return
	}

	s.logger.Info("job enqueued",
		zap.String("job_id", job.ID.String()),
		zap.String("type", job.Type))
	s.jsonResponse(w, http.StatusAccepted, job)
}

func (s *Server) handleGetJob(w http.ResponseWriter, r *http.Request) {
	if s.jobs == nil {
		s.errorResponse(w, http.StatusNotImplemented, "processing queue not configured")
		return
	}
	id, err := uuid.Parse(r.PathValue("id"))
	if err != nil {
		s.errorResponse(w, http.StatusBadRequest, "invalid job id")
		return
	}

	job := s.jobs.Job(id)
	if job == nil {
		s.errorResponse(w, http.StatusNotFound, "job not found")
		return
	}
	s.jsonResponse(w, http.StatusOK, job)
}

func (s *Server) handleQueueStats(w http.ResponseWriter, _ *http.Request) {
	if s.jobs == nil {
		s.errorResponse(w, http.StatusNotImplemented, "processing queue not configured")
		return
	}
	s.jsonResponse(w, http.StatusOK, s.jobs.Stats())
}
