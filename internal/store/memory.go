package store

import (
	"context"
	"sync"

	"github.com/google/uuid"

	"github.com/jonathan/cv-session-engine/internal/types"
)

// MemoryStore is an in-process Store used by tests and offline-first runs.
// Put/Get copy state both ways so callers never share live references with
// the stored documents.
type MemoryStore struct {
	mu          sync.Mutex
	docs        map[uuid.UUID]*memoryDoc
	subscribers map[uuid.UUID]map[int]RemoteChangeFunc
	nextSubID   int
}

type memoryDoc struct {
	state   *types.EnhancedSessionState
	version int64
}

// NewMemoryStore creates an empty MemoryStore.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		docs:        make(map[uuid.UUID]*memoryDoc),
		subscribers: make(map[uuid.UUID]map[int]RemoteChangeFunc),
	}
}

// Get implements Store.
func (m *MemoryStore) Get(_ context.Context, sessionID uuid.UUID) (*types.EnhancedSessionState, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	doc, ok := m.docs[sessionID]
	if !ok {
		return nil, &types.NotFoundError{SessionID: sessionID}
	}
	out := doc.state.Clone()
	out.Sync.SyncVersion = doc.version
	return out, nil
}

// Put implements Store.
func (m *MemoryStore) Put(_ context.Context, sessionID uuid.UUID, state *types.EnhancedSessionState, expectedVersion int64) (int64, error) {
	m.mu.Lock()
	doc, ok := m.docs[sessionID]
	if !ok {
		doc = &memoryDoc{}
		m.docs[sessionID] = doc
	}
	if doc.version != expectedVersion {
		remote := doc.state.Clone()
		if remote != nil {
			remote.Sync.SyncVersion = doc.version
		}
		version := doc.version
		m.mu.Unlock()
		return 0, &VersionConflictError{
			SessionID:       sessionID,
			RemoteVersion:   version,
			ExpectedVersion: expectedVersion,
			Remote:          remote,
		}
	}
	doc.state = state.Clone()
	doc.version = expectedVersion + 1
	doc.state.Sync.SyncVersion = doc.version
	newVersion := doc.version
	notify := make([]RemoteChangeFunc, 0, len(m.subscribers[sessionID]))
	for _, fn := range m.subscribers[sessionID] {
		notify = append(notify, fn)
	}
	snapshot := doc.state.Clone()
	m.mu.Unlock()

	for _, fn := range notify {
		fn(snapshot.Clone())
	}
	return newVersion, nil
}

// SubscribeRemoteChanges implements Store.
func (m *MemoryStore) SubscribeRemoteChanges(_ context.Context, sessionID uuid.UUID, fn RemoteChangeFunc) (func(), error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.subscribers[sessionID] == nil {
		m.subscribers[sessionID] = make(map[int]RemoteChangeFunc)
	}
	id := m.nextSubID
	m.nextSubID++
	m.subscribers[sessionID][id] = fn
	return func() {
		m.mu.Lock()
		defer m.mu.Unlock()
		delete(m.subscribers[sessionID], id)
	}, nil
}
