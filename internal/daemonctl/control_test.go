package daemonctl

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strconv"
	"testing"

	"tbloader/internal/daemon"
	"tbloader/internal/daemonrun"
	"tbloader/internal/store"
	"tbloader/internal/testsupport"
)

func TestClientStatusAndSessions(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("Authorization") != "Bearer secret" {
			w.WriteHeader(http.StatusUnauthorized)
			_, _ = w.Write([]byte(`{"error":"unauthorized"}`))
			return
		}
		switch r.URL.Path {
		case "/api/status":
			_, _ = w.Write([]byte(`{"running":true,"pid":42,"workflow":{"active":[],"serials_available":7}}`))
		case "/api/sessions":
			if r.URL.Query().Get("serial") != "B-000C0001" || r.URL.Query().Get("limit") != "5" {
				w.WriteHeader(http.StatusBadRequest)
				return
			}
			_, _ = w.Write([]byte(`{"sessions":[{"id":"s1","action":"update","success":true}]}`))
		default:
			w.WriteHeader(http.StatusNotFound)
		}
	}))
	defer srv.Close()

	client, err := NewClientURL(srv.URL, "secret")
	if err != nil {
		t.Fatalf("NewClientURL: %v", err)
	}
	status, err := client.Status(context.Background())
	if err != nil {
		t.Fatalf("Status: %v", err)
	}
	if !status.Running || status.PID != 42 || status.Workflow.SerialsAvailable != 7 {
		t.Fatalf("unexpected status %+v", status)
	}

	sessions, err := client.Sessions(context.Background(), store.SessionFilter{Serial: "B-000C0001", Limit: 5})
	if err != nil {
		t.Fatalf("Sessions: %v", err)
	}
	if len(sessions) != 1 || sessions[0].ID != "s1" {
		t.Fatalf("unexpected sessions %+v", sessions)
	}
}

func TestClientReportsAPIErrors(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusConflict)
		_, _ = w.Write([]byte(`{"error":"device is busy"}`))
	}))
	defer srv.Close()

	client, _ := NewClientURL(srv.URL, "")
	err := client.StartSession(context.Background(), daemon.SessionStartRequest{MountPoint: "/media/TB", StatsOnly: true})
	var apiErr *APIError
	if !errors.As(err, &apiErr) {
		t.Fatalf("expected APIError, got %v", err)
	}
	if apiErr.Status != http.StatusConflict || apiErr.Message != "device is busy" {
		t.Fatalf("unexpected api error %+v", apiErr)
	}
}

func TestClientDaemonNotRunning(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	url := srv.URL
	srv.Close()

	client, _ := NewClientURL(url, "")
	_, err := client.Status(context.Background())
	if !errors.Is(err, ErrDaemonNotRunning) {
		t.Fatalf("expected ErrDaemonNotRunning, got %v", err)
	}
}

func TestNewClientUsesLoopbackForWildcardBind(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	cfg.Paths.APIBind = "0.0.0.0:7488"
	client, err := NewClient(cfg)
	if err != nil {
		t.Fatalf("NewClient: %v", err)
	}
	if client.base.String() != "http://127.0.0.1:7488" {
		t.Fatalf("unexpected base url %s", client.base)
	}
}

func TestStopWithoutPIDFile(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	if _, err := Stop(cfg, 0); !errors.Is(err, ErrDaemonNotRunning) {
		t.Fatalf("expected ErrDaemonNotRunning, got %v", err)
	}
}

func TestStopRefusesOwnPID(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	if err := os.MkdirAll(cfg.Paths.StateDir, 0o755); err != nil {
		t.Fatal(err)
	}
	pidPath := filepath.Join(cfg.Paths.StateDir, daemonrun.PIDFileName)
	if err := os.WriteFile(pidPath, []byte(strconv.Itoa(os.Getpid())+"\n"), 0o644); err != nil {
		t.Fatal(err)
	}
	if _, err := Stop(cfg, 0); err == nil {
		t.Fatal("expected Stop to refuse signalling the current process")
	}
}
