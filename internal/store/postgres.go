package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/jonathan/cv-session-engine/internal/types"
)

// defaultPollInterval drives the remote-change subscription poller.
const defaultPollInterval = 2 * time.Second

// PostgresStore persists session documents in a single JSONB table with a
// sync_version column as the optimistic-concurrency token.
type PostgresStore struct {
	pool         *pgxpool.Pool
	pollInterval time.Duration
}

// ConnectPostgres establishes a connection pool and verifies it.
func ConnectPostgres(ctx context.Context, databaseURL string) (*PostgresStore, error) {
	pool, err := pgxpool.New(ctx, databaseURL)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}
	return &PostgresStore{pool: pool, pollInterval: defaultPollInterval}, nil
}

// Close closes the connection pool.
func (s *PostgresStore) Close() {
	if s.pool != nil {
		s.pool.Close()
	}
}

// Migrate creates the sessions table if it does not exist.
func (s *PostgresStore) Migrate(ctx context.Context) error {
	_, err := s.pool.Exec(ctx, `
		CREATE TABLE IF NOT EXISTS sessions (
			id UUID PRIMARY KEY,
			state JSONB NOT NULL,
			sync_version BIGINT NOT NULL DEFAULT 0,
			updated_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
		)`)
	if err != nil {
		return fmt.Errorf("failed to create sessions table: %w", err)
	}
	return nil
}

// Get implements Store.
func (s *PostgresStore) Get(ctx context.Context, sessionID uuid.UUID) (*types.EnhancedSessionState, error) {
	var (
		raw     []byte
		version int64
	)
	err := s.pool.QueryRow(ctx,
		`SELECT state, sync_version FROM sessions WHERE id = $1`,
		sessionID,
	).Scan(&raw, &version)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, &types.NotFoundError{SessionID: sessionID}
		}
		return nil, fmt.Errorf("failed to get session: %w", err)
	}

	var state types.EnhancedSessionState
	if err := json.Unmarshal(raw, &state); err != nil {
		return nil, fmt.Errorf("failed to decode session document: %w", err)
	}
	state.Sync.SyncVersion = version
	return &state, nil
}

// Put implements Store. The version check and increment happen in one
// statement so concurrent writers cannot interleave between check and write.
func (s *PostgresStore) Put(ctx context.Context, sessionID uuid.UUID, state *types.EnhancedSessionState, expectedVersion int64) (int64, error) {
	raw, err := json.Marshal(state)
	if err != nil {
		return 0, fmt.Errorf("failed to encode session document: %w", err)
	}

	var newVersion int64
	err = s.pool.QueryRow(ctx,
		`INSERT INTO sessions (id, state, sync_version)
		 VALUES ($1, $2, $3 + 1)
		 ON CONFLICT (id) DO UPDATE
		   SET state = EXCLUDED.state,
		       sync_version = sessions.sync_version + 1,
		       updated_at = NOW()
		   WHERE sessions.sync_version = $3
		 RETURNING sync_version`,
		sessionID, raw, expectedVersion,
	).Scan(&newVersion)
	if err == nil {
		return newVersion, nil
	}
	if !errors.Is(err, pgx.ErrNoRows) {
		return 0, fmt.Errorf("failed to put session: %w", err)
	}

	// No row returned: the version guard rejected the write. Fetch the
	// authoritative copy for the conflict error.
	remote, getErr := s.Get(ctx, sessionID)
	if getErr != nil {
		return 0, fmt.Errorf("failed to fetch remote state after version conflict: %w", getErr)
	}
	return 0, &VersionConflictError{
		SessionID:       sessionID,
		RemoteVersion:   remote.Sync.SyncVersion,
		ExpectedVersion: expectedVersion,
		Remote:          remote,
	}
}

// SubscribeRemoteChanges implements Store with a version-polling loop.
func (s *PostgresStore) SubscribeRemoteChanges(ctx context.Context, sessionID uuid.UUID, fn RemoteChangeFunc) (func(), error) {
	subCtx, cancel := context.WithCancel(ctx)
	var once sync.Once
	stop := func() { once.Do(cancel) }

	go func() {
		ticker := time.NewTicker(s.pollInterval)
		defer ticker.Stop()
		var lastSeen int64 = -1
		for {
			select {
			case <-subCtx.Done():
				return
			case <-ticker.C:
			}
			state, err := s.Get(subCtx, sessionID)
			if err != nil {
				continue // missing or transient; keep polling
			}
			if lastSeen >= 0 && state.Sync.SyncVersion > lastSeen {
				fn(state)
			}
			lastSeen = state.Sync.SyncVersion
		}
	}()
	return stop, nil
}
