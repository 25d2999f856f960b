package workflow

import (
	"log/slog"
	"sync"
	"time"

	"tbloader/internal/config"
	"tbloader/internal/diskutil"
	"tbloader/internal/logging"
	"tbloader/internal/metrics"
	"tbloader/internal/srn"
	"tbloader/internal/store"
	"tbloader/internal/updater"
)

// Manager coordinates sessions against the configured backends.
type Manager struct {
	cfg      *config.Config
	store    *store.Store
	logger   *slog.Logger
	backends Backends
	disk     diskutil.Utilities
	metrics  *metrics.Metrics
	serials  *srn.Manager
	hub      *ProgressHub
	clock    func() time.Time

	mu          sync.RWMutex
	active      map[string]*activeSession
	lastErr     error
	lastSession *store.Session
}

// ManagerOption configures optional Manager behavior.
type ManagerOption func(*managerOptions)

type managerOptions struct {
	backends *Backends
	disk     diskutil.Utilities
	metrics  *metrics.Metrics
	reserver srn.Reserver
	hub      *ProgressHub
	clock    func() time.Time
}

// WithBackends replaces the backends built from configuration.
func WithBackends(b Backends) ManagerOption {
	return func(o *managerOptions) { o.backends = &b }
}

// WithDiskUtilities overrides the disk utilities built from configuration.
func WithDiskUtilities(d diskutil.Utilities) ManagerOption {
	return func(o *managerOptions) { o.disk = d }
}

// WithMetrics records sessions, steps, and serials in m.
func WithMetrics(m *metrics.Metrics) ManagerOption {
	return func(o *managerOptions) { o.metrics = m }
}

// WithReserver overrides the serial number reservation client.
func WithReserver(r srn.Reserver) ManagerOption {
	return func(o *managerOptions) { o.reserver = r }
}

// WithProgressHub publishes session progress to hub.
func WithProgressHub(h *ProgressHub) ManagerOption {
	return func(o *managerOptions) { o.hub = h }
}

// WithClock overrides time.Now for sessions (used in tests).
func WithClock(clock func() time.Time) ManagerOption {
	return func(o *managerOptions) { o.clock = clock }
}

// NewManager constructs a session manager. Backends are opened from cfg
// unless WithBackends is given.
func NewManager(cfg *config.Config, st *store.Store, logger *slog.Logger, backends Backends, opts ...ManagerOption) *Manager {
	options := &managerOptions{}
	for _, opt := range opts {
		opt(options)
	}
	if logger == nil {
		logger = logging.NewNop()
	}
	if options.backends != nil {
		backends = *options.backends
	}
	disk := options.disk
	if disk == nil {
		disk = diskUtilities(cfg)
	}
	hub := options.hub
	if hub == nil {
		hub = NewProgressHub(0)
	}
	clock := options.clock
	if clock == nil {
		clock = time.Now
	}
	reserver := options.reserver
	if reserver == nil {
		reserver = newReserver(cfg, logger)
	}

	m := &Manager{
		cfg:      cfg,
		store:    st,
		logger:   logging.NewComponentLogger(logger, "workflow"),
		backends: backends,
		disk:     disk,
		metrics:  options.metrics,
		hub:      hub,
		clock:    clock,
		active:   make(map[string]*activeSession),
	}
	var persister srn.Persister
	if st != nil {
		persister = st
	}
	m.serials = srn.NewManager(srn.ManagerOptions{
		LoaderID:  cfg.Loader.ID,
		BlockSize: cfg.SRN.BlockSize,
		Persister: persister,
		Reserver:  reserver,
		Logger:    logger,
	})
	return m
}

// Hub returns the hub session progress is published to.
func (m *Manager) Hub() *ProgressHub { return m.hub }

// Serials returns the serial number manager shared by all sessions.
func (m *Manager) Serials() *srn.Manager { return m.serials }

func (m *Manager) observer() updater.StepObserver {
	if m.metrics == nil {
		return nil
	}
	return m.metrics
}
