package daemon

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"sync"
	"sync/atomic"

	"github.com/gofrs/flock"

	"tbloader/internal/config"
	"tbloader/internal/logging"
	"tbloader/internal/notifications"
	"tbloader/internal/store"
	"tbloader/internal/workflow"
)

// Daemon watches for Talking Books, runs sessions, and serves the API. It
// enforces single-instance execution.
type Daemon struct {
	cfg      *config.Config
	logger   *slog.Logger
	store    *store.Store
	workflow *workflow.Manager
	metrics  http.Handler
	mounts   mountResolver
	notifier notifications.Service

	lockPath string
	lock     *flock.Flock

	monitor *netlinkMonitor
	api     *apiServer

	running    atomic.Bool
	paused     atomic.Bool
	serialsLow atomic.Bool
	ctx        context.Context
	cancel     context.CancelFunc
	wg         sync.WaitGroup
}

// Status represents daemon runtime information.
type Status struct {
	Running      bool                   `json:"running"`
	Paused       bool                   `json:"paused"`
	AutoCollect  bool                   `json:"auto_collect"`
	Monitoring   bool                   `json:"monitoring"`
	PID          int                    `json:"pid"`
	Workflow     workflow.StatusSummary `json:"workflow"`
	StorePath    string                 `json:"store_path"`
	LockFilePath string                 `json:"lock_file_path"`
}

// Option configures optional daemon behavior.
type Option func(*Daemon)

// WithMetricsHandler serves h at /metrics.
func WithMetricsHandler(h http.Handler) Option {
	return func(d *Daemon) { d.metrics = h }
}

// WithNotifier replaces the ntfy notifier built from the configuration.
func WithNotifier(n notifications.Service) Option {
	return func(d *Daemon) { d.notifier = n }
}

// New constructs a daemon with initialized dependencies.
func New(cfg *config.Config, st *store.Store, logger *slog.Logger, wf *workflow.Manager, opts ...Option) (*Daemon, error) {
	if cfg == nil || st == nil || logger == nil || wf == nil {
		return nil, errors.New("daemon requires config, store, logger, and workflow manager")
	}

	lockPath := cfg.LockPath()
	d := &Daemon{
		cfg:      cfg,
		logger:   logging.NewComponentLogger(logger, "daemon"),
		store:    st,
		workflow: wf,
		mounts:   procMounts{path: "/proc/self/mounts", root: cfg.Daemon.MountRoot},
		lockPath: lockPath,
		lock:     flock.New(lockPath),
		notifier: notifications.NewService(cfg),
	}
	for _, opt := range opts {
		opt(d)
	}
	if cfg.Daemon.AutoCollect {
		d.monitor = newNetlinkMonitor(logger, d.HandleDevice, d.paused.Load)
	}
	api, err := newAPIServer(cfg, d, logger)
	if err != nil {
		return nil, err
	}
	d.api = api
	return d, nil
}

// Start acquires the daemon lock, then starts device monitoring and the API.
func (d *Daemon) Start(ctx context.Context) error {
	if d.running.Load() {
		return errors.New("daemon already running")
	}

	ok, err := d.lock.TryLock()
	if err != nil {
		return fmt.Errorf("acquire lock: %w", err)
	}
	if !ok {
		return errors.New("another tbloaderd instance is already running")
	}

	d.ctx, d.cancel = context.WithCancel(ctx)
	if err := d.api.start(d.ctx); err != nil {
		_ = d.lock.Unlock()
		d.cancel()
		d.ctx = nil
		d.cancel = nil
		return fmt.Errorf("start api: %w", err)
	}
	if err := d.monitor.Start(d.ctx); err != nil {
		d.logger.Warn("device monitor unavailable", logging.Error(err))
	}

	d.running.Store(true)
	d.logger.Info("tbloader daemon started",
		logging.String("lock", d.lockPath),
		logging.Bool("auto_collect", d.cfg.Daemon.AutoCollect),
	)
	return nil
}

// Stop stops monitoring, waits for running sessions, and releases the lock.
func (d *Daemon) Stop() {
	if !d.running.Load() {
		return
	}

	d.monitor.Stop()
	d.api.stop()
	if d.cancel != nil {
		d.cancel()
		d.cancel = nil
	}
	d.wg.Wait()
	if err := d.lock.Unlock(); err != nil {
		d.logger.Warn("failed to release daemon lock", logging.Error(err))
	}
	d.ctx = nil
	d.running.Store(false)
	d.logger.Info("tbloader daemon stopped")
}

// Close releases resources held by the daemon.
func (d *Daemon) Close() error {
	d.Stop()
	if d.store != nil {
		return d.store.Close()
	}
	return nil
}

// Pause stops automatic collection until Resume.
func (d *Daemon) Pause() {
	if !d.paused.Swap(true) {
		d.logger.Info("automatic collection paused")
	}
}

// Resume restarts automatic collection.
func (d *Daemon) Resume() {
	if d.paused.Swap(false) {
		d.logger.Info("automatic collection resumed")
	}
}

// Sessions returns the recorded session history.
func (d *Daemon) Sessions(ctx context.Context, filter store.SessionFilter) ([]store.Session, error) {
	return d.store.ListSessions(ctx, filter)
}

// Progress returns the hub session progress is published to.
func (d *Daemon) Progress() *workflow.ProgressHub {
	return d.workflow.Hub()
}

// Status returns the current daemon status.
func (d *Daemon) Status(ctx context.Context) Status {
	return Status{
		Running:      d.running.Load(),
		Paused:       d.paused.Load(),
		AutoCollect:  d.cfg.Daemon.AutoCollect,
		Monitoring:   d.monitor.Running(),
		PID:          os.Getpid(),
		Workflow:     d.workflow.Status(ctx),
		StorePath:    d.cfg.StorePath(),
		LockFilePath: d.lockPath,
	}
}
