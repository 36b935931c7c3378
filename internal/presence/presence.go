// Package presence tracks which clients are actively editing a session.
// Heartbeats are written by the surrounding application; the sync engine
// only reads presence to annotate conflicts with who changed what.
package presence

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/jonathan/cv-session-engine/internal/types"
)

// DefaultTTL is how long a heartbeat stays valid without a refresh.
const DefaultTTL = 30 * time.Second

// Tracker is the presence collaborator interface.
type Tracker interface {
	// Heartbeat refreshes a client's presence record for a session.
	Heartbeat(ctx context.Context, sessionID uuid.UUID, p types.UserPresence) error
	// Active returns the presence records currently alive for a session.
	Active(ctx context.Context, sessionID uuid.UUID) ([]types.UserPresence, error)
}

// MemoryTracker is an in-process Tracker used in tests and single-node runs.
type MemoryTracker struct {
	mu      sync.Mutex
	ttl     time.Duration
	clock   func() time.Time
	records map[uuid.UUID]map[string]types.UserPresence // session -> client -> presence
}

// NewMemoryTracker creates a MemoryTracker with the given TTL (DefaultTTL
// when zero).
func NewMemoryTracker(ttl time.Duration) *MemoryTracker {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	return &MemoryTracker{
		ttl:     ttl,
		clock:   func() time.Time { return time.Now().UTC() },
		records: make(map[uuid.UUID]map[string]types.UserPresence),
	}
}

// Heartbeat implements Tracker.
func (m *MemoryTracker) Heartbeat(_ context.Context, sessionID uuid.UUID, p types.UserPresence) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if p.LastSeenAt.IsZero() {
		p.LastSeenAt = m.clock()
	}
	byClient, ok := m.records[sessionID]
	if !ok {
		byClient = make(map[string]types.UserPresence)
		m.records[sessionID] = byClient
	}
	byClient[p.ClientID] = p
	return nil
}

// Active implements Tracker.
func (m *MemoryTracker) Active(_ context.Context, sessionID uuid.UUID) ([]types.UserPresence, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	cutoff := m.clock().Add(-m.ttl)
	var out []types.UserPresence
	for clientID, p := range m.records[sessionID] {
		if p.LastSeenAt.Before(cutoff) {
			delete(m.records[sessionID], clientID)
			continue
		}
		out = append(out, p)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ClientID < out[j].ClientID })
	return out, nil
}
