package live

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"podium/internal/content"
	"podium/internal/domain"
	"podium/internal/store/sqlite"
	"podium/internal/usecase"
)

func TestListActivities(t *testing.T) {
	t.Parallel()

	srv, _ := newTestServer(t)
	resp := do(t, srv, http.MethodGet, "/api/activities", "")
	require.Equal(t, http.StatusOK, resp.Code)

	var activities []activityView
	require.NoError(t, json.Unmarshal(resp.Body.Bytes(), &activities))
	require.NotEmpty(t, activities)

	var interview *activityView
	for i := range activities {
		if activities[i].ID == "behavioral_interview" {
			interview = &activities[i]
		}
	}
	require.NotNil(t, interview)
	assert.Equal(t, "interview", interview.Kind)
	assert.Contains(t, interview.Params, "role")
}

func TestStartSessionAndActions(t *testing.T) {
	t.Parallel()

	srv, practice := newTestServer(t)

	resp := do(t, srv, http.MethodPost, "/api/session", `{"activityId":"elevator_pitch"}`)
	require.Equal(t, http.StatusCreated, resp.Code)
	assert.Equal(t, "elevator_pitch", practice.selection().ActivityID)

	resp = do(t, srv, http.MethodPost, "/api/session/skip-preparation", "")
	require.Equal(t, http.StatusOK, resp.Code)

	var view sessionView
	require.NoError(t, json.Unmarshal(resp.Body.Bytes(), &view))
	require.NotNil(t, view.State)
	assert.Equal(t, domain.PhaseCapturing, view.State.Phase)
	assert.True(t, view.Status.Active)

	for _, action := range []string{"stop", "rerecord", "finish", "exit"} {
		resp = do(t, srv, http.MethodPost, "/api/session/"+action, "")
		assert.Equal(t, http.StatusOK, resp.Code, action)
	}
	assert.Equal(t, []string{"skip", "stop", "rerecord", "finish", "exit"}, practice.actions())
}

func TestSessionErrorsMapToStatus(t *testing.T) {
	t.Parallel()

	srv, practice := newTestServer(t)

	resp := do(t, srv, http.MethodPost, "/api/session/stop", "")
	assert.Equal(t, http.StatusNotFound, resp.Code)

	practice.mu.Lock()
	practice.state = &domain.SessionState{SessionID: "s", Phase: domain.PhasePreparation}
	practice.actionErr = domain.ErrActionNotAllowed
	practice.mu.Unlock()

	resp = do(t, srv, http.MethodPost, "/api/session/rerecord", "")
	assert.Equal(t, http.StatusConflict, resp.Code)

	var body errorBody
	require.NoError(t, json.Unmarshal(resp.Body.Bytes(), &body))
	require.NotNil(t, body.Error)

	resp = do(t, srv, http.MethodPost, "/api/session/dance", "")
	assert.Equal(t, http.StatusNotFound, resp.Code)

	resp = do(t, srv, http.MethodPost, "/api/session", `{"activityId":"nope"}`)
	assert.Equal(t, http.StatusBadRequest, resp.Code)

	resp = do(t, srv, http.MethodPost, "/api/session", `not json`)
	assert.Equal(t, http.StatusBadRequest, resp.Code)
}

func TestRetryCompletion(t *testing.T) {
	t.Parallel()

	srv, practice := newTestServer(t)
	practice.mu.Lock()
	practice.state = &domain.SessionState{SessionID: "s", Phase: domain.PhaseCompleted}
	practice.retryErr = &domain.PersistenceError{Op: "session record", Err: io.ErrUnexpectedEOF}
	practice.mu.Unlock()

	resp := do(t, srv, http.MethodPost, "/api/session/retry-completion", "")
	assert.Equal(t, http.StatusBadGateway, resp.Code)

	practice.mu.Lock()
	practice.retryErr = nil
	practice.mu.Unlock()

	resp = do(t, srv, http.MethodPost, "/api/session/retry-completion", "")
	require.Equal(t, http.StatusOK, resp.Code)

	var completion usecase.Completion
	require.NoError(t, json.Unmarshal(resp.Body.Bytes(), &completion))
	assert.Equal(t, "s", completion.Record.ID)
}

func TestProgressAndHistory(t *testing.T) {
	t.Parallel()

	srv, _ := newTestServer(t)

	resp := do(t, srv, http.MethodGet, "/api/progress", "")
	require.Equal(t, http.StatusOK, resp.Code)
	var progress domain.UserProgress
	require.NoError(t, json.Unmarshal(resp.Body.Bytes(), &progress))
	assert.Equal(t, "tester", progress.UserID)
	assert.Zero(t, progress.TotalSessions)

	ctx := context.Background()
	require.NoError(t, srv.deps.Store.UpsertSession(ctx, domain.SessionRecord{
		ID: "s-1", ActivityID: "elevator_pitch", Completed: true, UserID: "tester",
		StartedAt: time.Date(2026, 3, 5, 9, 0, 0, 0, time.UTC),
	}))
	require.NoError(t, srv.deps.Store.UpsertRecording(ctx, domain.RecordingRecord{
		ID: "r-1", SessionID: "s-1", Round: 1, URI: "file:///tmp/r-1.wav",
	}))
	require.NoError(t, srv.deps.Store.UpsertProgress(ctx, domain.UserProgress{UserID: "tester", TotalSessions: 1}))

	resp = do(t, srv, http.MethodGet, "/api/sessions?limit=5", "")
	require.Equal(t, http.StatusOK, resp.Code)
	var sessions []domain.SessionRecord
	require.NoError(t, json.Unmarshal(resp.Body.Bytes(), &sessions))
	require.Len(t, sessions, 1)
	assert.Equal(t, "s-1", sessions[0].ID)

	resp = do(t, srv, http.MethodGet, "/api/sessions/s-1/recordings", "")
	require.Equal(t, http.StatusOK, resp.Code)
	var recordings []domain.RecordingRecord
	require.NoError(t, json.Unmarshal(resp.Body.Bytes(), &recordings))
	require.Len(t, recordings, 1)

	resp = do(t, srv, http.MethodGet, "/api/progress", "")
	require.NoError(t, json.Unmarshal(resp.Body.Bytes(), &progress))
	assert.Equal(t, 1, progress.TotalSessions)
}

func TestCORSPreflight(t *testing.T) {
	t.Parallel()

	srv, _ := newTestServer(t)
	req := httptest.NewRequest(http.MethodOptions, "/api/session", nil)
	req.Header.Set("Origin", "http://localhost:5173")
	req.Header.Set("Access-Control-Request-Method", http.MethodPost)
	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, req)

	assert.Equal(t, "http://localhost:5173", rec.Header().Get("Access-Control-Allow-Origin"))
}

func TestWebsocketReceivesSnapshots(t *testing.T) {
	t.Parallel()

	srv, _ := newTestServer(t)
	hub := srv.deps.Hub
	httpSrv := httptest.NewServer(srv.Handler())
	t.Cleanup(httpSrv.Close)

	conn, _, err := websocket.DefaultDialer.Dial("ws"+strings.TrimPrefix(httpSrv.URL, "http")+"/ws", nil)
	require.NoError(t, err)
	t.Cleanup(func() { _ = conn.Close() })

	initial := readSnapshot(t, conn)
	assert.Nil(t, initial.State)

	hub.SessionStateChanged(domain.SessionState{SessionID: "s", Phase: domain.PhasePreparation, RemainingMs: 5000}, domain.SessionReasonPreparationStarted)
	snap := readSnapshot(t, conn)
	require.NotNil(t, snap.State)
	assert.Equal(t, domain.PhasePreparation, snap.State.Phase)
	assert.Equal(t, domain.SessionReasonPreparationStarted, snap.Reason)

	hub.CountdownTick("s", domain.PhasePreparation, 4*time.Second)
	snap = readSnapshot(t, conn)
	assert.Equal(t, int64(4000), snap.RemainingMs)
	assert.Equal(t, domain.SessionReasonPreparationStarted, snap.Reason, "every message is a full snapshot")
	require.NotNil(t, snap.State)
	assert.Equal(t, int64(4000), snap.State.RemainingMs)
}

func TestHubIgnoresStaleTicks(t *testing.T) {
	t.Parallel()

	hub := NewHub(nil, discardLogger())
	hub.SessionStateChanged(domain.SessionState{SessionID: "s", Phase: domain.PhaseCapturing, RemainingMs: 60000}, domain.SessionReasonPreparationElapsed)
	hub.CountdownTick("s", domain.PhasePreparation, time.Second)
	hub.CountdownTick("other", domain.PhaseCapturing, time.Second)

	latest := hub.Latest()
	assert.Equal(t, int64(60000), latest.RemainingMs)
	assert.Equal(t, uint64(3), latest.Sequence)

	hub.SessionError(domain.ErrorCodeDevice, "no input device")
	latest = hub.Latest()
	require.NotNil(t, latest.Error)
	assert.Equal(t, domain.ErrorCodeDevice, latest.Error.Code)
	require.NotNil(t, latest.State, "errors keep the current state")
}

func TestOfferKeepsOnlyLatest(t *testing.T) {
	t.Parallel()

	ch := make(chan Snapshot, 1)
	offer(ch, Snapshot{Sequence: 1})
	offer(ch, Snapshot{Sequence: 2})
	offer(ch, Snapshot{Sequence: 3})
	assert.Equal(t, uint64(3), (<-ch).Sequence)
}

func TestOriginChecker(t *testing.T) {
	t.Parallel()

	check := originChecker([]string{"http://localhost:5173"})
	req := httptest.NewRequest(http.MethodGet, "/ws", nil)
	assert.True(t, check(req), "same-origin requests carry no Origin header")
	req.Header.Set("Origin", "http://evil.example")
	assert.False(t, check(req))
	req.Header.Set("Origin", "http://localhost:5173")
	assert.True(t, check(req))

	assert.True(t, originChecker([]string{"*"})(req))
}

func newTestServer(t *testing.T) (*Server, *fakePractice) {
	t.Helper()

	catalog, err := content.Default()
	require.NoError(t, err)
	store, err := sqlite.Open(context.Background(), filepath.Join(t.TempDir(), "podium.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })

	practice := &fakePractice{resolver: content.NewResolver(catalog, nil)}
	hub := NewHub(nil, discardLogger())
	t.Cleanup(hub.Close)

	srv := NewServer(ServerDeps{
		Practice: practice,
		Catalog:  catalog,
		Store:    store,
		Hub:      hub,
		UserID:   "tester",
		Logger:   discardLogger(),
	}, []string{"http://localhost:5173"})
	return srv, practice
}

func do(t *testing.T, srv *Server, method, path, body string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, req)
	return rec
}

func readSnapshot(t *testing.T, conn *websocket.Conn) Snapshot {
	t.Helper()
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))
	var snap Snapshot
	require.NoError(t, conn.ReadJSON(&snap))
	return snap
}

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

type fakePractice struct {
	resolver *content.Resolver

	mu        sync.Mutex
	sel       domain.Selection
	state     *domain.SessionState
	calls     []string
	actionErr error
	retryErr  error
}

func (f *fakePractice) Start(_ context.Context, sel domain.Selection) (domain.SessionState, error) {
	cfg, err := f.resolver.Resolve(sel)
	if err != nil {
		return domain.SessionState{}, err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.sel = sel
	f.state = &domain.SessionState{SessionID: cfg.SessionID, ActivityID: cfg.ActivityID, Phase: domain.PhasePreparation, RoundCount: len(cfg.Rounds)}
	return *f.state, nil
}

func (f *fakePractice) act(name string, next domain.Phase) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.state == nil {
		return domain.ErrNoActiveSession
	}
	if f.actionErr != nil {
		return f.actionErr
	}
	f.calls = append(f.calls, name)
	f.state.Phase = next
	return nil
}

func (f *fakePractice) SkipPreparation() error { return f.act("skip", domain.PhaseCapturing) }
func (f *fakePractice) StopCapture() error     { return f.act("stop", domain.PhaseRoundCheck) }
func (f *fakePractice) Rerecord() error        { return f.act("rerecord", domain.PhaseCapturing) }
func (f *fakePractice) FinishEarly() error     { return f.act("finish", domain.PhaseCompleted) }
func (f *fakePractice) Exit() error            { return f.act("exit", domain.PhaseExited) }

func (f *fakePractice) RetryCompletion(context.Context) (usecase.Completion, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.state == nil {
		return usecase.Completion{}, domain.ErrNoActiveSession
	}
	if f.retryErr != nil {
		return usecase.Completion{}, f.retryErr
	}
	return usecase.Completion{Record: domain.SessionRecord{ID: f.state.SessionID, Completed: true}}, nil
}

func (f *fakePractice) Snapshot() (domain.SessionState, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.state == nil {
		return domain.SessionState{}, domain.ErrNoActiveSession
	}
	return f.state.Clone(), nil
}

func (f *fakePractice) Status() domain.Status {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.state == nil {
		return domain.Status{Phase: domain.PhaseSetup}
	}
	return domain.Status{Phase: f.state.Phase, Active: !f.state.Phase.Terminal(), SessionID: f.state.SessionID}
}

func (f *fakePractice) selection() domain.Selection {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.sel
}

func (f *fakePractice) actions() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.calls...)
}
