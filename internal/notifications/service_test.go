package notifications_test

import (
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	"tbloader/internal/config"
	"tbloader/internal/notifications"
	"tbloader/internal/store"
)

func TestNewServiceReturnsNoopWhenTopicMissing(t *testing.T) {
	cfg := config.Default()
	svc := notifications.NewService(&cfg)
	if err := svc.NotifySessionFailed(context.Background(), store.Session{Action: "update"}); err != nil {
		t.Fatalf("expected noop notifier to return nil, got %v", err)
	}
	if err := notifications.NewService(nil).TestNotification(context.Background()); err != nil {
		t.Fatalf("expected nil config to yield a noop notifier, got %v", err)
	}
}

func TestNtfyServiceFormatsPayloads(t *testing.T) {
	failed := store.Session{
		Action:       "update",
		SerialBefore: "B-000C0123",
		Deployment:   "UNICEF-2-2026-1",
		ErrorMessage: "copy content: no space left on device",
	}
	corrupted := store.Session{Device: "/dev/sdb1", Reformat: "succeeded", HadCorruption: true}

	tests := []struct {
		name           string
		send           func(notifications.Service) error
		expectTitle    string
		expectMessage  string
		expectTags     string
		expectPriority string
	}{
		{
			name:           "session failed",
			send:           func(s notifications.Service) error { return s.NotifySessionFailed(context.Background(), failed) },
			expectTitle:    "TB-Loader 000c - Session Failed",
			expectMessage:  "update failed on B-000C0123: copy content: no space left on device\nDeployment: UNICEF-2-2026-1",
			expectTags:     "tbloader,session,failed",
			expectPriority: "high",
		},
		{
			name:          "corruption",
			send:          func(s notifications.Service) error { return s.NotifyCorruption(context.Background(), corrupted) },
			expectTitle:   "TB-Loader 000c - Disk Corruption",
			expectMessage: "Corrupted filesystem on /dev/sdb1; reformat succeeded",
			expectTags:    "tbloader,disk,corrupted",
		},
		{
			name:           "serials low",
			send:           func(s notifications.Service) error { return s.NotifySerialsLow(context.Background(), "000c", 7) },
			expectTitle:    "TB-Loader 000c - Serial Numbers Low",
			expectMessage:  "Only 7 serial numbers left for loader 000c; run tbloader srn reserve while online",
			expectTags:     "tbloader,srn,low",
			expectPriority: "high",
		},
		{
			name: "error",
			send: func(s notifications.Service) error {
				return s.NotifyError(context.Background(), errors.New("reservation refused"), "srn")
			},
			expectTitle:    "TB-Loader 000c - Error",
			expectMessage:  "Error with srn: reservation refused",
			expectTags:     "tbloader,error,alert",
			expectPriority: "high",
		},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			var captured struct {
				title    string
				tags     string
				priority string
				body     string
			}

			server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				if r.Method != http.MethodPost {
					t.Fatalf("unexpected method: %s", r.Method)
				}
				captured.title = r.Header.Get("Title")
				captured.tags = r.Header.Get("Tags")
				captured.priority = r.Header.Get("Priority")
				body, err := io.ReadAll(r.Body)
				if err != nil {
					t.Fatalf("read body: %v", err)
				}
				captured.body = string(body)
				_ = r.Body.Close()
				w.WriteHeader(http.StatusOK)
			}))
			defer server.Close()

			cfg := config.Default()
			cfg.Loader.ID = "000c"
			cfg.Notifications.NtfyTopic = server.URL
			cfg.Notifications.RequestTimeoutSeconds = 5

			if err := tc.send(notifications.NewService(&cfg)); err != nil {
				t.Fatalf("notification returned error: %v", err)
			}

			if captured.title != tc.expectTitle {
				t.Fatalf("expected title %q, got %q", tc.expectTitle, captured.title)
			}
			if captured.body != tc.expectMessage {
				t.Fatalf("expected message %q, got %q", tc.expectMessage, captured.body)
			}
			if captured.tags != tc.expectTags {
				t.Fatalf("expected tags %q, got %q", tc.expectTags, captured.tags)
			}
			if captured.priority != tc.expectPriority {
				t.Fatalf("expected priority %q, got %q", tc.expectPriority, captured.priority)
			}
		})
	}
}

func TestNtfyServiceReportsServerErrors(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "topic is read-only", http.StatusForbidden)
	}))
	defer server.Close()

	cfg := config.Default()
	cfg.Notifications.NtfyTopic = server.URL

	err := notifications.NewService(&cfg).TestNotification(context.Background())
	if err == nil {
		t.Fatal("expected error for a 403 response")
	}
}
