package daemonrun

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"tbloader/internal/config"
	"tbloader/internal/daemon"
	"tbloader/internal/deps"
	"tbloader/internal/logging"
	"tbloader/internal/metrics"
	"tbloader/internal/notifications"
	"tbloader/internal/preflight"
	"tbloader/internal/store"
	"tbloader/internal/workflow"
)

const (
	// PIDFileName is written under paths.state_dir while the daemon runs.
	PIDFileName = "tbloaderd.pid"
	// CurrentLogName links to the log of the running daemon.
	CurrentLogName = "tbloaderd.log"
)

// Options configures daemon process runtime behavior.
type Options struct {
	LogLevel    string
	Development bool
}

// Run starts the tbloader daemon and blocks until cmdCtx ends or the
// process receives SIGINT or SIGTERM.
func Run(cmdCtx context.Context, cfg *config.Config, opts Options) error {
	if cfg == nil {
		return fmt.Errorf("config is required")
	}

	signalCtx, cancel := signal.NotifyContext(cmdCtx, syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	if err := cfg.EnsureDirectories(); err != nil {
		return fmt.Errorf("ensure directories: %w", err)
	}

	runID := time.Now().UTC().Format("20060102T150405.000Z")
	logPath := filepath.Join(cfg.Paths.LogDir, fmt.Sprintf("tbloaderd-%s.log", runID))
	level := opts.LogLevel
	if level == "" {
		level = cfg.Logging.Level
	}
	logger, err := logging.New(logging.Options{
		Level:       level,
		Format:      cfg.Logging.Format,
		OutputPaths: []string{"stdout", logPath},
		Development: opts.Development,
	})
	if err != nil {
		return fmt.Errorf("init logger: %w", err)
	}

	if err := ensureCurrentLogPointer(cfg.Paths.LogDir, logPath); err != nil {
		fmt.Fprintf(os.Stderr, "warn: unable to update %s link: %v\n", CurrentLogName, err)
	}
	logging.CleanupOldLogs(logger, cfg.Logging.RetentionDays, time.Now(),
		logging.RetentionTarget{Dir: cfg.Paths.LogDir, Pattern: "tbloaderd-*.log", Exclude: []string{logPath}},
		logging.RetentionTarget{Dir: filepath.Join(cfg.Paths.LogDir, workflow.TranscriptDir), Pattern: "*.log"},
	)
	logReadiness(signalCtx, logger, cfg)

	pidPath := filepath.Join(cfg.Paths.StateDir, PIDFileName)
	if err := writePIDFile(pidPath); err != nil {
		return fmt.Errorf("write pid file: %w", err)
	}
	defer os.Remove(pidPath)

	st, err := store.Open(cfg)
	if err != nil {
		logger.Error("open session store", logging.Error(err))
		return err
	}
	defer st.Close()

	backends, err := workflow.OpenBackends(signalCtx, cfg, logger)
	if err != nil {
		return fmt.Errorf("open collection backends: %w", err)
	}

	registry := prometheus.NewRegistry()
	registry.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	workflowManager := workflow.NewManager(cfg, st, logger, backends,
		workflow.WithMetrics(metrics.New(registry)))

	d, err := daemon.New(cfg, st, logger, workflowManager,
		daemon.WithMetricsHandler(promhttp.HandlerFor(registry, promhttp.HandlerOpts{})))
	if err != nil {
		return fmt.Errorf("create daemon: %w", err)
	}
	defer d.Close()

	if err := d.Start(signalCtx); err != nil {
		logging.ErrorWithContext(logger, "daemon start failed", "daemon_start_failed",
			logging.Error(err),
			logging.Hint("check that no other tbloaderd is running and api_bind is free"),
			logging.Impact("devices will not be collected"),
		)
		if notifyErr := notifications.NewService(cfg).NotifyError(context.WithoutCancel(signalCtx), err, "daemon start"); notifyErr != nil {
			logger.Debug("start failure notification not delivered", logging.Error(notifyErr))
		}
		return err
	}

	<-signalCtx.Done()
	logger.Info("tbloader daemon shutting down")
	return nil
}

// logReadiness records the preflight results and the disk utilities so a
// misconfigured station is visible before the first device arrives.
func logReadiness(ctx context.Context, logger *slog.Logger, cfg *config.Config) {
	for _, r := range preflight.Failed(preflight.RunAll(ctx, cfg)) {
		logging.WarnWithContext(logger, "preflight check failed", "preflight_failed",
			logging.String("check", r.Name),
			logging.String("detail", r.Detail),
			logging.Hint("run tbloader doctor for details"),
			logging.Impact("sessions may fail"),
		)
	}
	statuses := preflight.CheckSystemDeps(cfg)
	for _, s := range deps.MissingRequired(statuses) {
		logging.WarnWithContext(logger, "disk utility missing", "dependency_missing",
			logging.String("name", s.Name),
			logging.String("command", s.Command),
			logging.String("detail", s.Detail),
			logging.Hint("install dosfstools or set disk.enabled = false"),
			logging.Impact("corrupted devices cannot be repaired"),
		)
	}
	available := 0
	for _, s := range statuses {
		if s.Available {
			available++
		}
	}
	logger.Info("dependency snapshot",
		logging.String(logging.FieldEventType, "dependency_snapshot"),
		logging.Bool("disk_enabled", cfg.Disk.Enabled),
		logging.Int("disk_utilities_available", available),
		logging.String("collection_backend", cfg.Collection.Backend),
		logging.Bool("reservation_configured", cfg.SRN.ReservationURL != ""),
		logging.Bool("auto_collect", cfg.Daemon.AutoCollect),
	)
}

func ensureCurrentLogPointer(logDir, target string) error {
	if logDir == "" || target == "" {
		return nil
	}
	current := filepath.Join(logDir, CurrentLogName)
	if err := os.Remove(current); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("remove existing log pointer: %w", err)
	}
	if err := os.Symlink(target, current); err == nil {
		return nil
	}
	if err := os.Link(target, current); err != nil {
		return fmt.Errorf("link log pointer: %w", err)
	}
	return nil
}

func writePIDFile(path string) error {
	if path == "" {
		return nil
	}
	value := strconv.Itoa(os.Getpid()) + "\n"
	return os.WriteFile(path, []byte(value), 0o644)
}

// ReadPID returns the pid recorded by a running daemon.
func ReadPID(cfg *config.Config) (int, error) {
	data, err := os.ReadFile(filepath.Join(cfg.Paths.StateDir, PIDFileName))
	if err != nil {
		return 0, err
	}
	return strconv.Atoi(strings.TrimSpace(string(data)))
}
