package daemon

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"tbloader/internal/config"
	"tbloader/internal/devicefs"
	"tbloader/internal/diskutil"
	"tbloader/internal/logging"
	"tbloader/internal/store"
	"tbloader/internal/testsupport"
	"tbloader/internal/workflow"
)

type apiFixture struct {
	cfg    *config.Config
	store  *store.Store
	daemon *Daemon
	server *httptest.Server
}

func newAPIFixture(t *testing.T, token string, opts ...Option) *apiFixture {
	t.Helper()
	cfg := testsupport.NewConfig(t)
	cfg.Daemon.APIToken = token
	st := testsupport.MustOpenStore(t, cfg)
	backends := workflow.Backends{
		Collected:   devicefs.NewMemory("collected"),
		Deployments: testsupport.NewDeployment(t).FS(),
		Temp:        devicefs.NewMemory("temp"),
	}
	mgr := workflow.NewManager(cfg, st, logging.NewNop(), backends, workflow.WithDiskUtilities(diskutil.Unsupported))
	d, err := New(cfg, st, logging.NewNop(), mgr, opts...)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	t.Cleanup(d.Stop)

	server := httptest.NewServer(d.api.routes(token))
	t.Cleanup(server.Close)
	return &apiFixture{cfg: cfg, store: st, daemon: d, server: server}
}

func (f *apiFixture) do(t *testing.T, method, path, token string, body any) *http.Response {
	t.Helper()
	var reader *bytes.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			t.Fatalf("marshal body: %v", err)
		}
		reader = bytes.NewReader(data)
	} else {
		reader = bytes.NewReader(nil)
	}
	req, err := http.NewRequest(method, f.server.URL+path, reader)
	if err != nil {
		t.Fatalf("new request: %v", err)
	}
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("%s %s: %v", method, path, err)
	}
	t.Cleanup(func() { resp.Body.Close() })
	return resp
}

func decode[T any](t *testing.T, resp *http.Response) T {
	t.Helper()
	var out T
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	return out
}

func TestAPIStatus(t *testing.T) {
	f := newAPIFixture(t, "")

	resp := f.do(t, http.MethodGet, "/api/status", "", nil)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("expected 200 OK, got %d", resp.StatusCode)
	}
	status := decode[Status](t, resp)
	if status.Running {
		t.Fatal("expected unstarted daemon to report not running")
	}
	if status.StorePath != f.cfg.StorePath() {
		t.Fatalf("unexpected store path %q", status.StorePath)
	}
	if status.Workflow.SerialsAvailable != 0 {
		t.Fatalf("expected no serials before a reservation, got %d", status.Workflow.SerialsAvailable)
	}
}

func TestAPIRequiresToken(t *testing.T) {
	f := newAPIFixture(t, "secret")

	if resp := f.do(t, http.MethodGet, "/api/status", "", nil); resp.StatusCode != http.StatusUnauthorized {
		t.Fatalf("expected 401 without token, got %d", resp.StatusCode)
	}
	if resp := f.do(t, http.MethodGet, "/api/status", "wrong", nil); resp.StatusCode != http.StatusUnauthorized {
		t.Fatalf("expected 401 with wrong token, got %d", resp.StatusCode)
	}
	if resp := f.do(t, http.MethodGet, "/api/status", "secret", nil); resp.StatusCode != http.StatusOK {
		t.Fatalf("expected 200 with token, got %d", resp.StatusCode)
	}
}

func TestAPISessions(t *testing.T) {
	f := newAPIFixture(t, "")
	ctx := context.Background()
	started := time.Date(2024, 3, 1, 10, 0, 0, 0, time.UTC)
	for i, serial := range []string{"B-000C0001", "B-000C0002", "B-000C0001"} {
		err := f.store.RecordSession(ctx, store.Session{
			ID:           "session-" + string(rune('a'+i)),
			StartedAt:    started.Add(time.Duration(i) * time.Minute),
			FinishedAt:   started.Add(time.Duration(i)*time.Minute + 30*time.Second),
			Device:       "/media/TB",
			Version:      "tbv2",
			SerialBefore: serial,
			SerialAfter:  serial,
			Action:       "stats-only",
			Success:      true,
		})
		if err != nil {
			t.Fatalf("RecordSession: %v", err)
		}
	}

	resp := f.do(t, http.MethodGet, "/api/sessions?serial=B-000C0001", "", nil)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("expected 200 OK, got %d", resp.StatusCode)
	}
	list := decode[SessionListResponse](t, resp)
	if len(list.Sessions) != 2 {
		t.Fatalf("expected 2 sessions for serial, got %d", len(list.Sessions))
	}

	resp = f.do(t, http.MethodGet, "/api/sessions?limit=1", "", nil)
	list = decode[SessionListResponse](t, resp)
	if len(list.Sessions) != 1 {
		t.Fatalf("expected limit to apply, got %d sessions", len(list.Sessions))
	}

	if resp := f.do(t, http.MethodGet, "/api/sessions?limit=abc", "", nil); resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("expected 400 for bad limit, got %d", resp.StatusCode)
	}
}

func TestAPIStartSession(t *testing.T) {
	f := newAPIFixture(t, "")

	resp := f.do(t, http.MethodPost, "/api/sessions", "", SessionStartRequest{MountPoint: t.TempDir(), StatsOnly: true})
	if resp.StatusCode != http.StatusServiceUnavailable {
		t.Fatalf("expected 503 before start, got %d", resp.StatusCode)
	}

	if err := f.daemon.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}

	resp = f.do(t, http.MethodPost, "/api/sessions", "", SessionStartRequest{StatsOnly: true})
	if resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("expected 400 without mount point, got %d", resp.StatusCode)
	}

	resp = f.do(t, http.MethodPost, "/api/sessions", "", SessionStartRequest{MountPoint: t.TempDir()})
	if resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("expected 400 for update without deployment, got %d", resp.StatusCode)
	}

	resp = f.do(t, http.MethodPost, "/api/sessions", "", map[string]any{"mount_point": "/x", "bogus": true})
	if resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("expected 400 for unknown field, got %d", resp.StatusCode)
	}
}

func TestAPIPauseResume(t *testing.T) {
	f := newAPIFixture(t, "")

	if resp := f.do(t, http.MethodPost, "/api/pause", "", nil); resp.StatusCode != http.StatusOK {
		t.Fatalf("pause: expected 200, got %d", resp.StatusCode)
	}
	if !f.daemon.paused.Load() {
		t.Fatal("expected daemon to be paused")
	}
	if resp := f.do(t, http.MethodPost, "/api/resume", "", nil); resp.StatusCode != http.StatusOK {
		t.Fatalf("resume: expected 200, got %d", resp.StatusCode)
	}
	if f.daemon.paused.Load() {
		t.Fatal("expected daemon to be resumed")
	}
	if resp := f.do(t, http.MethodGet, "/api/pause", "", nil); resp.StatusCode != http.StatusMethodNotAllowed {
		t.Fatalf("expected 405 for GET /api/pause, got %d", resp.StatusCode)
	}
	if resp := f.do(t, http.MethodGet, "/api/unknown", "", nil); resp.StatusCode != http.StatusNotFound {
		t.Fatalf("expected 404 for an unknown API path, got %d", resp.StatusCode)
	}
}

func TestAPIProgress(t *testing.T) {
	f := newAPIFixture(t, "")
	hub := f.daemon.Progress()
	hub.Publish(workflow.ProgressEvent{SessionID: "one", Kind: workflow.EventStarted})
	hub.Publish(workflow.ProgressEvent{SessionID: "two", Kind: workflow.EventStarted})
	hub.Publish(workflow.ProgressEvent{SessionID: "one", Kind: workflow.EventFinished, Message: "stats-only"})

	resp := f.do(t, http.MethodGet, "/api/progress?since=0", "", nil)
	progress := decode[ProgressResponse](t, resp)
	if len(progress.Events) != 3 {
		t.Fatalf("expected 3 events, got %d", len(progress.Events))
	}
	if progress.Next != 3 {
		t.Fatalf("expected next cursor 3, got %d", progress.Next)
	}

	resp = f.do(t, http.MethodGet, "/api/progress?session=one", "", nil)
	progress = decode[ProgressResponse](t, resp)
	if len(progress.Events) != 2 {
		t.Fatalf("expected 2 events for session one, got %d", len(progress.Events))
	}

	resp = f.do(t, http.MethodGet, "/api/progress?tail=1&limit=1", "", nil)
	progress = decode[ProgressResponse](t, resp)
	if len(progress.Events) != 1 || progress.Events[0].Message != "stats-only" {
		t.Fatalf("expected the last event from tail, got %+v", progress.Events)
	}
}

func TestAPIProgressSocket(t *testing.T) {
	f := newAPIFixture(t, "")
	url := "ws" + strings.TrimPrefix(f.server.URL, "http") + "/api/progress/ws"

	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer conn.Close()

	f.daemon.Progress().Publish(workflow.ProgressEvent{SessionID: "one", Kind: workflow.EventStep, Step: "copy", Percent: 40})

	_ = conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	var evt workflow.ProgressEvent
	if err := conn.ReadJSON(&evt); err != nil {
		t.Fatalf("read event: %v", err)
	}
	if evt.Kind != workflow.EventStep || evt.Percent != 40 {
		t.Fatalf("unexpected event %+v", evt)
	}
}

func TestAPIMetrics(t *testing.T) {
	metrics := http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte("tbloader_sessions_total 0\n"))
	})
	f := newAPIFixture(t, "secret", WithMetricsHandler(metrics))

	resp := f.do(t, http.MethodGet, "/metrics", "", nil)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("expected metrics without token, got %d", resp.StatusCode)
	}
}
