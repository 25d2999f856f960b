package notifications

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"tbloader/internal/config"
	"tbloader/internal/store"
)

const userAgent = "tbloader/1.0"

// Service defines the alerts raised by the daemon.
type Service interface {
	NotifySessionFailed(ctx context.Context, sess store.Session) error
	NotifyCorruption(ctx context.Context, sess store.Session) error
	NotifySerialsLow(ctx context.Context, loaderHexID string, available int) error
	NotifyError(ctx context.Context, err error, context string) error
	TestNotification(ctx context.Context) error
}

// NewService builds a notification service backed by ntfy when configured.
// When no ntfy topic is configured, a noop implementation is returned.
func NewService(cfg *config.Config) Service {
	if cfg == nil {
		return noopService{}
	}
	topic := strings.TrimSpace(cfg.Notifications.NtfyTopic)
	if topic == "" {
		return noopService{}
	}

	timeout := time.Duration(cfg.Notifications.RequestTimeoutSeconds) * time.Second
	if timeout <= 0 {
		timeout = 10 * time.Second
	}

	return &ntfyService{
		endpoint: topic,
		loader:   strings.TrimSpace(cfg.Loader.ID),
		client:   &http.Client{Timeout: timeout},
	}
}

type payload struct {
	title    string
	message  string
	tags     []string
	priority string
}

type ntfyService struct {
	endpoint string
	loader   string
	client   *http.Client
}

func (n *ntfyService) title(s string) string {
	if n.loader == "" {
		return "TB-Loader - " + s
	}
	return fmt.Sprintf("TB-Loader %s - %s", n.loader, s)
}

func deviceName(sess store.Session) string {
	for _, v := range []string{sess.SerialAfter, sess.SerialBefore, sess.Device} {
		if v = strings.TrimSpace(v); v != "" {
			return v
		}
	}
	return "unknown device"
}

func (n *ntfyService) NotifySessionFailed(ctx context.Context, sess store.Session) error {
	reason := strings.TrimSpace(sess.ErrorMessage)
	if reason == "" {
		reason = "no error recorded"
	}
	message := fmt.Sprintf("%s failed on %s: %s", sess.Action, deviceName(sess), reason)
	if sess.Deployment != "" {
		message += "\nDeployment: " + sess.Deployment
	}
	return n.send(ctx, payload{
		title:    n.title("Session Failed"),
		message:  message,
		tags:     []string{"tbloader", "session", "failed"},
		priority: "high",
	})
}

func (n *ntfyService) NotifyCorruption(ctx context.Context, sess store.Session) error {
	return n.send(ctx, payload{
		title:   n.title("Disk Corruption"),
		message: fmt.Sprintf("Corrupted filesystem on %s; reformat %s", deviceName(sess), orUnknown(sess.Reformat)),
		tags:    []string{"tbloader", "disk", "corrupted"},
	})
}

func (n *ntfyService) NotifySerialsLow(ctx context.Context, loaderHexID string, available int) error {
	return n.send(ctx, payload{
		title:    n.title("Serial Numbers Low"),
		message:  fmt.Sprintf("Only %d serial numbers left for loader %s; run tbloader srn reserve while online", available, orUnknown(loaderHexID)),
		tags:     []string{"tbloader", "srn", "low"},
		priority: "high",
	})
}

func (n *ntfyService) NotifyError(ctx context.Context, err error, contextLabel string) error {
	var builder strings.Builder
	builder.WriteString("Error")
	if contextLabel = strings.TrimSpace(contextLabel); contextLabel != "" {
		builder.WriteString(" with ")
		builder.WriteString(contextLabel)
	}
	builder.WriteString(": ")
	if err != nil {
		builder.WriteString(strings.TrimSpace(err.Error()))
	} else {
		builder.WriteString("unknown")
	}

	return n.send(ctx, payload{
		title:    n.title("Error"),
		message:  builder.String(),
		tags:     []string{"tbloader", "error", "alert"},
		priority: "high",
	})
}

func (n *ntfyService) TestNotification(ctx context.Context) error {
	return n.send(ctx, payload{
		title:    n.title("Test"),
		message:  "Notification system test",
		tags:     []string{"tbloader", "test"},
		priority: "low",
	})
}

func (n *ntfyService) send(ctx context.Context, data payload) error {
	if n == nil || n.client == nil {
		return nil
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, n.endpoint, strings.NewReader(data.message))
	if err != nil {
		return fmt.Errorf("build ntfy request: %w", err)
	}
	req.Header.Set("User-Agent", userAgent)
	req.Header.Set("Content-Type", "text/plain; charset=utf-8")
	if data.title != "" {
		req.Header.Set("Title", data.title)
	}
	if len(data.tags) > 0 {
		req.Header.Set("Tags", strings.Join(data.tags, ","))
	}
	if data.priority != "" && data.priority != "default" {
		req.Header.Set("Priority", data.priority)
	}

	resp, err := n.client.Do(req)
	if err != nil {
		return fmt.Errorf("send ntfy notification: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 2048))
		return fmt.Errorf("ntfy returned %d: %s", resp.StatusCode, strings.TrimSpace(string(body)))
	}
	_, _ = io.Copy(io.Discard, resp.Body)
	return nil
}

func orUnknown(s string) string {
	if strings.TrimSpace(s) == "" {
		return "unknown"
	}
	return s
}

type noopService struct{}

func (noopService) NotifySessionFailed(context.Context, store.Session) error { return nil }
func (noopService) NotifyCorruption(context.Context, store.Session) error    { return nil }
func (noopService) NotifySerialsLow(context.Context, string, int) error      { return nil }
func (noopService) NotifyError(context.Context, error, string) error         { return nil }
func (noopService) TestNotification(context.Context) error                   { return nil }
