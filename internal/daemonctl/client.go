package daemonctl

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/gorilla/websocket"

	"tbloader/internal/config"
	"tbloader/internal/daemon"
	"tbloader/internal/store"
	"tbloader/internal/workflow"
)

// ErrDaemonNotRunning indicates the daemon API is unreachable.
var ErrDaemonNotRunning = errors.New("daemon not running")

// APIError is a non-2xx answer from the daemon.
type APIError struct {
	Status  int
	Message string
}

func (e *APIError) Error() string {
	if e.Message == "" {
		return fmt.Sprintf("daemon api: %s", http.StatusText(e.Status))
	}
	return fmt.Sprintf("daemon api: %s", e.Message)
}

// Client talks to the tbloaderd HTTP API.
type Client struct {
	base  *url.URL
	token string
	http  *http.Client
}

// NewClient returns a client for the API bound at cfg.Paths.APIBind.
func NewClient(cfg *config.Config) (*Client, error) {
	bind := strings.TrimSpace(cfg.Paths.APIBind)
	if bind == "" {
		return nil, fmt.Errorf("paths.api_bind is not configured")
	}
	host, port, err := net.SplitHostPort(bind)
	if err != nil {
		return nil, fmt.Errorf("parse api bind %q: %w", bind, err)
	}
	if host == "" || host == "0.0.0.0" || host == "::" {
		host = "127.0.0.1"
	}
	return NewClientURL("http://"+net.JoinHostPort(host, port), cfg.Daemon.APIToken)
}

// NewClientURL returns a client for the API at baseURL.
func NewClientURL(baseURL, token string) (*Client, error) {
	base, err := url.Parse(strings.TrimRight(baseURL, "/"))
	if err != nil {
		return nil, fmt.Errorf("parse daemon url: %w", err)
	}
	return &Client{base: base, token: strings.TrimSpace(token), http: &http.Client{}}, nil
}

// Status returns the daemon status.
func (c *Client) Status(ctx context.Context) (*daemon.Status, error) {
	var out daemon.Status
	if err := c.do(ctx, http.MethodGet, "/api/status", nil, nil, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// Sessions lists recorded sessions, newest first.
func (c *Client) Sessions(ctx context.Context, filter store.SessionFilter) ([]store.Session, error) {
	query := url.Values{}
	if filter.Serial != "" {
		query.Set("serial", filter.Serial)
	}
	if filter.Limit > 0 {
		query.Set("limit", strconv.Itoa(filter.Limit))
	}
	var out daemon.SessionListResponse
	if err := c.do(ctx, http.MethodGet, "/api/sessions", query, nil, &out); err != nil {
		return nil, err
	}
	return out.Sessions, nil
}

// StartSession asks the daemon to run a session in the background.
func (c *Client) StartSession(ctx context.Context, req daemon.SessionStartRequest) error {
	return c.do(ctx, http.MethodPost, "/api/sessions", nil, req, nil)
}

// Progress returns progress events after since. With follow it long-polls
// until at least one event arrives.
func (c *Client) Progress(ctx context.Context, since uint64, follow bool) (*daemon.ProgressResponse, error) {
	query := url.Values{}
	query.Set("since", strconv.FormatUint(since, 10))
	if follow {
		query.Set("follow", "1")
	}
	var out daemon.ProgressResponse
	if err := c.do(ctx, http.MethodGet, "/api/progress", query, nil, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// WatchProgress streams progress events over the websocket until ctx ends
// or fn returns false.
func (c *Client) WatchProgress(ctx context.Context, since uint64, fn func(workflow.ProgressEvent) bool) error {
	u := *c.base
	switch u.Scheme {
	case "https":
		u.Scheme = "wss"
	default:
		u.Scheme = "ws"
	}
	u.Path = strings.TrimRight(u.Path, "/") + "/api/progress/ws"
	u.RawQuery = url.Values{"since": {strconv.FormatUint(since, 10)}}.Encode()

	header := http.Header{}
	if c.token != "" {
		header.Set("Authorization", "Bearer "+c.token)
	}
	conn, _, err := websocket.DefaultDialer.DialContext(ctx, u.String(), header)
	if err != nil {
		return c.unavailable(err)
	}
	defer conn.Close()

	go func() {
		<-ctx.Done()
		_ = conn.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""), time.Now().Add(time.Second))
		_ = conn.Close()
	}()

	for {
		var evt workflow.ProgressEvent
		if err := conn.ReadJSON(&evt); err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			return fmt.Errorf("read progress: %w", err)
		}
		if !fn(evt) {
			return nil
		}
	}
}

// Pause stops automatic collection.
func (c *Client) Pause(ctx context.Context) error {
	return c.do(ctx, http.MethodPost, "/api/pause", nil, nil, nil)
}

// Resume restarts automatic collection.
func (c *Client) Resume(ctx context.Context) error {
	return c.do(ctx, http.MethodPost, "/api/resume", nil, nil, nil)
}

func (c *Client) do(ctx context.Context, method, path string, query url.Values, body, out any) error {
	u := *c.base
	u.Path = strings.TrimRight(u.Path, "/") + path
	if query != nil {
		u.RawQuery = query.Encode()
	}

	var reader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("encode request: %w", err)
		}
		reader = bytes.NewReader(data)
	}
	req, err := http.NewRequestWithContext(ctx, method, u.String(), reader)
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return c.unavailable(err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		var payload struct {
			Error string `json:"error"`
		}
		_ = json.NewDecoder(io.LimitReader(resp.Body, 64<<10)).Decode(&payload)
		return &APIError{Status: resp.StatusCode, Message: payload.Error}
	}
	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}

func (c *Client) unavailable(err error) error {
	var opErr *net.OpError
	if errors.As(err, &opErr) && opErr.Op == "dial" {
		return fmt.Errorf("%w: %v", ErrDaemonNotRunning, err)
	}
	return err
}
