package daemon

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gorilla/mux"
	"github.com/gorilla/websocket"

	"tbloader/internal/config"
	"tbloader/internal/logging"
	"tbloader/internal/services"
	"tbloader/internal/store"
	"tbloader/internal/workflow"
)

const (
	defaultSessionLimit  = 50
	defaultProgressLimit = 200
	wsWriteWait          = 10 * time.Second
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
}

// SessionStartRequest is the body accepted by POST /api/sessions.
type SessionStartRequest struct {
	MountPoint       string   `json:"mount_point"`
	DevicePath       string   `json:"device_path,omitempty"`
	Project          string   `json:"project,omitempty"`
	Deployment       string   `json:"deployment,omitempty"`
	Community        string   `json:"community,omitempty"`
	Packages         []string `json:"packages,omitempty"`
	StatsOnly        bool     `json:"stats_only,omitempty"`
	RefreshFirmware  bool     `json:"refresh_firmware,omitempty"`
	TestDeployment   bool     `json:"test_deployment,omitempty"`
	DeploymentNumber int      `json:"deployment_number,omitempty"`
	RecipientID      string   `json:"recipient_id,omitempty"`
}

// Request converts the body into a workflow request.
func (r SessionStartRequest) Request() workflow.Request {
	return workflow.Request{
		MountPoint:       strings.TrimSpace(r.MountPoint),
		DevicePath:       strings.TrimSpace(r.DevicePath),
		Project:          strings.TrimSpace(r.Project),
		Deployment:       strings.TrimSpace(r.Deployment),
		Community:        strings.TrimSpace(r.Community),
		Packages:         r.Packages,
		StatsOnly:        r.StatsOnly,
		RefreshFirmware:  r.RefreshFirmware,
		TestDeployment:   r.TestDeployment,
		DeploymentNumber: r.DeploymentNumber,
		RecipientID:      strings.TrimSpace(r.RecipientID),
	}
}

// SessionListResponse is returned by GET /api/sessions.
type SessionListResponse struct {
	Sessions []store.Session `json:"sessions"`
}

// ProgressResponse is returned by GET /api/progress.
type ProgressResponse struct {
	Events []workflow.ProgressEvent `json:"events"`
	Next   uint64                   `json:"next"`
}

type apiServer struct {
	bind   string
	logger *slog.Logger
	daemon *Daemon

	listener net.Listener
	server   *http.Server
}

func newAPIServer(cfg *config.Config, d *Daemon, logger *slog.Logger) (*apiServer, error) {
	if cfg == nil || d == nil {
		return nil, nil
	}
	bind := strings.TrimSpace(cfg.Paths.APIBind)
	if bind == "" {
		return nil, nil
	}

	srv := &apiServer{
		bind:   bind,
		logger: logger,
		daemon: d,
	}
	srv.server = &http.Server{
		Handler:           srv.routes(cfg.Daemon.APIToken),
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       15 * time.Second,
		IdleTimeout:       60 * time.Second,
	}
	return srv, nil
}

// routes builds the API router. Long-poll and websocket progress streams
// outlive any fixed write timeout, so the server sets none.
func (s *apiServer) routes(token string) *mux.Router {
	router := mux.NewRouter()
	api := router.PathPrefix("/api").Subrouter()
	api.Use(s.requireToken(token))
	api.HandleFunc("/status", s.handleStatus).Methods(http.MethodGet)
	api.HandleFunc("/sessions", s.handleSessions).Methods(http.MethodGet)
	api.HandleFunc("/sessions", s.handleStartSession).Methods(http.MethodPost)
	api.HandleFunc("/progress", s.handleProgress).Methods(http.MethodGet)
	api.HandleFunc("/progress/ws", s.handleProgressSocket).Methods(http.MethodGet)
	api.HandleFunc("/pause", s.handlePause).Methods(http.MethodPost)
	api.HandleFunc("/resume", s.handleResume).Methods(http.MethodPost)
	if s.daemon != nil && s.daemon.metrics != nil {
		router.Handle("/metrics", s.daemon.metrics).Methods(http.MethodGet)
	}
	notAllowed := http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		s.writeError(w, http.StatusMethodNotAllowed, "method not allowed")
	})
	// A subrouter reports its own method mismatches.
	router.MethodNotAllowedHandler = notAllowed
	api.MethodNotAllowedHandler = notAllowed
	return router
}

func (s *apiServer) start(ctx context.Context) error {
	if s == nil {
		return nil
	}
	listener, err := net.Listen("tcp", s.bind)
	if err != nil {
		return fmt.Errorf("api listen: %w", err)
	}
	s.listener = listener

	go func() {
		if err := s.server.Serve(listener); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.log().Error("api server error", logging.Error(err))
		}
	}()

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = s.server.Shutdown(shutdownCtx)
	}()

	s.log().Info("api server listening", logging.String("address", listener.Addr().String()))
	return nil
}

func (s *apiServer) stop() {
	if s == nil {
		return
	}
	if s.server != nil {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = s.server.Shutdown(shutdownCtx)
	}
	if s.listener != nil {
		_ = s.listener.Close()
		s.listener = nil
	}
}

func (s *apiServer) handleStatus(w http.ResponseWriter, r *http.Request) {
	s.writeJSON(w, http.StatusOK, s.daemon.Status(r.Context()))
}

func (s *apiServer) handleSessions(w http.ResponseWriter, r *http.Request) {
	query := r.URL.Query()
	filter := store.SessionFilter{
		Serial: strings.TrimSpace(query.Get("serial")),
		Limit:  defaultSessionLimit,
	}
	if raw := strings.TrimSpace(query.Get("limit")); raw != "" {
		limit, err := strconv.Atoi(raw)
		if err != nil || limit < 0 {
			s.writeError(w, http.StatusBadRequest, "invalid limit")
			return
		}
		filter.Limit = limit
	}
	sessions, err := s.daemon.Sessions(r.Context(), filter)
	if err != nil {
		s.writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	if sessions == nil {
		sessions = []store.Session{}
	}
	s.writeJSON(w, http.StatusOK, SessionListResponse{Sessions: sessions})
}

func (s *apiServer) handleStartSession(w http.ResponseWriter, r *http.Request) {
	var body SessionStartRequest
	decoder := json.NewDecoder(r.Body)
	decoder.DisallowUnknownFields()
	if err := decoder.Decode(&body); err != nil {
		s.writeError(w, http.StatusBadRequest, "invalid request body: "+err.Error())
		return
	}
	err := s.daemon.StartSession(body.Request())
	switch {
	case err == nil:
		s.writeJSON(w, http.StatusAccepted, map[string]string{"status": "started"})
	case errors.Is(err, workflow.ErrDeviceBusy):
		s.writeError(w, http.StatusConflict, err.Error())
	case errors.Is(err, services.ErrValidation):
		s.writeError(w, http.StatusBadRequest, err.Error())
	default:
		s.writeError(w, http.StatusServiceUnavailable, err.Error())
	}
}

func (s *apiServer) handleProgress(w http.ResponseWriter, r *http.Request) {
	hub := s.daemon.Progress()
	if hub == nil {
		s.writeJSON(w, http.StatusOK, ProgressResponse{})
		return
	}

	query := r.URL.Query()
	since, _ := strconv.ParseUint(query.Get("since"), 10, 64)
	limit, _ := strconv.Atoi(query.Get("limit"))
	if limit <= 0 {
		limit = defaultProgressLimit
	}
	follow := query.Get("follow") == "1" || strings.EqualFold(query.Get("follow"), "true")
	tail := query.Get("tail") == "1" || strings.EqualFold(query.Get("tail"), "true")
	sessionID := strings.TrimSpace(query.Get("session"))

	var (
		events []workflow.ProgressEvent
		next   uint64
	)
	if tail && since == 0 && !follow {
		events, next = hub.Tail(limit)
	} else {
		var err error
		events, next, err = hub.Fetch(r.Context(), since, limit, follow)
		if err != nil && !errors.Is(err, context.Canceled) && !errors.Is(err, context.DeadlineExceeded) {
			s.writeError(w, http.StatusInternalServerError, err.Error())
			return
		}
	}

	s.writeJSON(w, http.StatusOK, ProgressResponse{
		Events: filterSession(events, sessionID),
		Next:   next,
	})
}

// handleProgressSocket pushes progress events over a websocket until the
// client goes away or the daemon stops.
func (s *apiServer) handleProgressSocket(w http.ResponseWriter, r *http.Request) {
	hub := s.daemon.Progress()
	if hub == nil {
		s.writeError(w, http.StatusNotFound, "progress unavailable")
		return
	}
	since, _ := strconv.ParseUint(r.URL.Query().Get("since"), 10, 64)
	sessionID := strings.TrimSpace(r.URL.Query().Get("session"))

	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.log().Debug("websocket upgrade failed", logging.Error(err))
		return
	}
	defer conn.Close()

	ctx, cancel := context.WithCancel(r.Context())
	defer cancel()
	go func() {
		// Drain client frames so close messages are noticed.
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				cancel()
				return
			}
		}
	}()

	for {
		events, next, err := hub.Fetch(ctx, since, defaultProgressLimit, true)
		if err != nil {
			return
		}
		since = next
		for _, evt := range filterSession(events, sessionID) {
			_ = conn.SetWriteDeadline(time.Now().Add(wsWriteWait))
			if err := conn.WriteJSON(evt); err != nil {
				return
			}
		}
	}
}

func (s *apiServer) handlePause(w http.ResponseWriter, _ *http.Request) {
	s.daemon.Pause()
	s.writeJSON(w, http.StatusOK, map[string]bool{"paused": true})
}

func (s *apiServer) handleResume(w http.ResponseWriter, _ *http.Request) {
	s.daemon.Resume()
	s.writeJSON(w, http.StatusOK, map[string]bool{"paused": false})
}

func filterSession(events []workflow.ProgressEvent, sessionID string) []workflow.ProgressEvent {
	if sessionID == "" {
		return events
	}
	filtered := make([]workflow.ProgressEvent, 0, len(events))
	for _, evt := range events {
		if evt.SessionID == sessionID {
			filtered = append(filtered, evt)
		}
	}
	return filtered
}

func (s *apiServer) writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if payload == nil {
		return
	}
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		s.log().Error("failed to encode response", logging.Error(err))
	}
}

func (s *apiServer) writeError(w http.ResponseWriter, status int, message string) {
	s.writeJSON(w, status, map[string]string{"error": message})
}

func (s *apiServer) log() *slog.Logger {
	if s.logger != nil {
		return s.logger.With(logging.String(logging.FieldComponent, "api-server"))
	}
	return logging.NewNop()
}
