package server

import (
	"bytes"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jonathan/cv-session-engine/internal/presence"
	"github.com/jonathan/cv-session-engine/internal/queue"
	"github.com/jonathan/cv-session-engine/internal/session"
	"github.com/jonathan/cv-session-engine/internal/store"
	"github.com/jonathan/cv-session-engine/internal/syncengine"
	"github.com/jonathan/cv-session-engine/internal/types"
)

func newTestServer(t *testing.T) *Server {
	t.Helper()
	persist := store.NewMemoryStore()
	tracker := presence.NewMemoryTracker(presence.DefaultTTL)
	engine := syncengine.New(persist, tracker, types.StrategyLocalWins, nil)
	jobs := queue.New(queue.Options{})
	manager := session.NewManager(session.Options{
		Persistence: persist,
		SyncEngine:  engine,
		Jobs:        jobs,
	})

	srv, err := New(Config{
		Port:     0,
		Manager:  manager,
		Jobs:     jobs,
		Presence: tracker,
	})
	require.NoError(t, err)
	return srv
}

func doJSON(t *testing.T, srv *Server, method, path string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, req)
	return rec
}

func createTestSession(t *testing.T, srv *Server) uuid.UUID {
	t.Helper()
	rec := doJSON(t, srv, http.MethodPost, "/sessions", map[string]any{})
	require.Equal(t, http.StatusCreated, rec.Code)

	var state types.EnhancedSessionState
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &state))
	return state.Session.ID
}

func TestHealthEndpoint(t *testing.T) {
	srv := newTestServer(t)

	rec := doJSON(t, srv, http.MethodGet, "/health", nil)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "ok")
}

func TestCreateAndGetSession(t *testing.T) {
	srv := newTestServer(t)
	id := createTestSession(t, srv)

	rec := doJSON(t, srv, http.MethodGet, "/sessions/"+id.String(), nil)
	require.Equal(t, http.StatusOK, rec.Code)

	var state types.EnhancedSessionState
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &state))
	assert.Equal(t, id, state.Session.ID)
	assert.Equal(t, types.StepUpload, state.Session.CurrentStep)
	assert.Equal(t, types.SessionDraft, state.Session.Status)
}

func TestGetSession_NotFound(t *testing.T) {
	srv := newTestServer(t)

	rec := doJSON(t, srv, http.MethodGet, "/sessions/"+uuid.NewString(), nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestGetSession_BadID(t *testing.T) {
	srv := newTestServer(t)

	rec := doJSON(t, srv, http.MethodGet, "/sessions/not-a-uuid", nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestApplyMutation(t *testing.T) {
	srv := newTestServer(t)
	id := createTestSession(t, srv)

	rec := doJSON(t, srv, http.MethodPost, "/sessions/"+id.String()+"/mutations", map[string]any{
		"kind": "set_ui_state",
		"key":  "theme",
		"value": map[string]any{
			"mode": "dark",
		},
	})
	require.Equal(t, http.StatusOK, rec.Code)

	var change types.StateChange
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &change))
	assert.Equal(t, "ui_state/theme", change.Path)

	rec = doJSON(t, srv, http.MethodGet, "/sessions/"+id.String()+"/changes", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var log []types.StateChange
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &log))
	assert.Len(t, log, 1)
}

func TestApplyMutation_ValidationFailure(t *testing.T) {
	srv := newTestServer(t)
	id := createTestSession(t, srv)

	rec := doJSON(t, srv, http.MethodPost, "/sessions/"+id.String()+"/mutations", map[string]any{
		"kind": "set_current_step",
		"step": "teleport",
	})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Contains(t, rec.Body.String(), "unknown step")
}

func TestApplyMutation_DependencyFailure(t *testing.T) {
	srv := newTestServer(t)
	id := createTestSession(t, srv)
	base := "/sessions/" + id.String() + "/mutations"

	rec := doJSON(t, srv, http.MethodPost, base, map[string]any{
		"kind":    "register_feature",
		"feature": map[string]any{"id": "keyword_highlighting", "enabled": false, "dependencies": []string{"ats_optimization"}},
	})
	require.Equal(t, http.StatusOK, rec.Code)

	rec = doJSON(t, srv, http.MethodPost, base, map[string]any{
		"kind":       "set_feature_enabled",
		"feature_id": "keyword_highlighting",
		"enabled":    true,
	})
	assert.Equal(t, http.StatusUnprocessableEntity, rec.Code)
}

func TestNavigationEndpoints(t *testing.T) {
	srv := newTestServer(t)
	id := createTestSession(t, srv)

	rec := doJSON(t, srv, http.MethodGet, "/sessions/"+id.String()+"/navigation", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var paths []map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &paths))
	assert.Len(t, paths, len(types.StepOrder))

	rec = doJSON(t, srv, http.MethodGet, "/sessions/"+id.String()+"/resume-advice", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var advice map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &advice))
	assert.Equal(t, "upload", advice["step"])
}

func TestEnqueueJobAndStats(t *testing.T) {
	srv := newTestServer(t)
	id := createTestSession(t, srv)

	rec := doJSON(t, srv, http.MethodPost, "/sessions/"+id.String()+"/jobs", map[string]any{
		"type":     "analysis",
		"priority": 5,
		"payload":  map[string]any{"content": "cv text"},
	})
	require.Equal(t, http.StatusAccepted, rec.Code)

	var job types.ProcessingJob
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &job))
	assert.Equal(t, id, job.SessionID)

	rec = doJSON(t, srv, http.MethodGet, "/jobs/"+job.ID.String(), nil)
	assert.Equal(t, http.StatusOK, rec.Code)

	rec = doJSON(t, srv, http.MethodGet, "/queue/stats", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var stats types.QueueStats
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &stats))
	assert.Equal(t, 1, stats.Total)
}

func TestEnqueueJob_MissingType(t *testing.T) {
	srv := newTestServer(t)
	id := createTestSession(t, srv)

	rec := doJSON(t, srv, http.MethodPost, "/sessions/"+id.String()+"/jobs", map[string]any{})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestPresenceRoundTrip(t *testing.T) {
	srv := newTestServer(t)
	id := createTestSession(t, srv)

	rec := doJSON(t, srv, http.MethodPost, "/sessions/"+id.String()+"/presence", map[string]any{
		"user_id":     uuid.NewString(),
		"client_id":   "browser-1",
		"active_step": "upload",
	})
	require.Equal(t, http.StatusNoContent, rec.Code)

	rec = doJSON(t, srv, http.MethodGet, "/sessions/"+id.String()+"/presence", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var active []types.UserPresence
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &active))
	require.Len(t, active, 1)
	assert.Equal(t, "browser-1", active[0].ClientID)
}

func TestConnectivityToggle(t *testing.T) {
	srv := newTestServer(t)
	id := createTestSession(t, srv)
	base := "/sessions/" + id.String()

	rec := doJSON(t, srv, http.MethodPost, base+"/connectivity", map[string]any{"online": false})
	require.Equal(t, http.StatusOK, rec.Code)

	rec = doJSON(t, srv, http.MethodPost, base+"/mutations", map[string]any{
		"kind": "set_ui_state", "key": "draft", "value": "saved offline",
	})
	require.Equal(t, http.StatusOK, rec.Code)

	rec = doJSON(t, srv, http.MethodGet, base+"/offline-actions", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var backlog []types.OfflineAction
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &backlog))
	assert.Len(t, backlog, 1)

	rec = doJSON(t, srv, http.MethodPost, base+"/connectivity", map[string]any{"online": true})
	require.Equal(t, http.StatusOK, rec.Code)
	var resp map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, float64(1), resp["replayed"])
}

func TestResolveConflictEndpoint_UnknownConflict(t *testing.T) {
	srv := newTestServer(t)
	id := createTestSession(t, srv)

	path := fmt.Sprintf("/sessions/%s/conflicts/%s/resolve", id, uuid.New())
	rec := doJSON(t, srv, http.MethodPost, path, map[string]any{
		"value":       "dark",
		"resolved_by": "user-1",
	})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestCORSPreflight(t *testing.T) {
	srv := newTestServer(t)

	req := httptest.NewRequest(http.MethodOptions, "/sessions", nil)
	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, req)

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "*", rec.Header().Get("Access-Control-Allow-Origin"))
}
