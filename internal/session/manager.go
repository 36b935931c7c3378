package session

import (
	"context"
	"sync"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/jonathan/cv-session-engine/internal/queue"
	"github.com/jonathan/cv-session-engine/internal/store"
	"github.com/jonathan/cv-session-engine/internal/syncengine"
	"github.com/jonathan/cv-session-engine/internal/types"
)

// Manager hands out one Store per session, creating and hydrating them on
// demand. All stores share the same persistence, sync engine, and processing
// queue.
type Manager struct {
	mu     sync.Mutex
	stores map[uuid.UUID]*Store

	persist     store.Store
	engine      *syncengine.Engine
	jobs        *queue.Queue
	validateDoc func(*types.EnhancedSessionState) error
	logger      *zap.Logger
}

// NewManager creates a manager sharing the given backends across sessions.
func NewManager(opts Options) *Manager {
	logger := opts.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Manager{
		stores:      make(map[uuid.UUID]*Store),
		persist:     opts.Persistence,
		engine:      opts.SyncEngine,
		jobs:        opts.Jobs,
		validateDoc: opts.ValidateDocument,
		logger:      logger,
	}
}

func (m *Manager) newStore() *Store {
	return NewStore(Options{
		Persistence:      m.persist,
		SyncEngine:       m.engine,
		Jobs:             m.jobs,
		ValidateDocument: m.validateDoc,
		Logger:           m.logger,
	})
}

// Create initializes a new session and registers its store.
func (m *Manager) Create(ctx context.Context, session types.Session) (*Store, *types.EnhancedSessionState, error) {
	s := m.newStore()
	state, err := s.Create(ctx, session)
	if err != nil {
		return nil, nil, err
	}
	m.mu.Lock()
	m.stores[state.Session.ID] = s
	m.mu.Unlock()
	return s, state, nil
}

// Get returns the store for a session, loading it from persistence on first
// access.
func (m *Manager) Get(ctx context.Context, sessionID uuid.UUID) (*Store, error) {
	m.mu.Lock()
	if s, ok := m.stores[sessionID]; ok {
		m.mu.Unlock()
		return s, nil
	}
	m.mu.Unlock()

	s := m.newStore()
	if _, err := s.Load(ctx, sessionID); err != nil {
		return nil, err
	}

	m.mu.Lock()
	// Another caller may have loaded the same session concurrently; keep the
	// first registered store so all writers share one serialization point.
	if existing, ok := m.stores[sessionID]; ok {
		m.mu.Unlock()
		s.Close()
		return existing, nil
	}
	m.stores[sessionID] = s
	m.mu.Unlock()
	return s, nil
}

// Close stops every registered store's remote-change subscription.
func (m *Manager) Close() {
	m.mu.Lock()
	stores := make([]*Store, 0, len(m.stores))
	for _, s := range m.stores {
		stores = append(stores, s)
	}
	m.mu.Unlock()
	for _, s := range stores {
		s.Close()
	}
}

// Jobs exposes the shared processing queue.
func (m *Manager) Jobs() *queue.Queue { return m.jobs }

// HandleJobTerminal routes a terminally failed job to its session's store.
// Wire this as the shared queue's terminal callback.
func (m *Manager) HandleJobTerminal(job types.ProcessingJob, cause error) {
	m.mu.Lock()
	s, ok := m.stores[job.SessionID]
	m.mu.Unlock()
	if !ok {
		m.logger.Warn("terminal job for unloaded session",
			zap.String("job_id", job.ID.String()),
			zap.String("session_id", job.SessionID.String()))
		return
	}
	s.HandleJobTerminal(job, cause)
}
