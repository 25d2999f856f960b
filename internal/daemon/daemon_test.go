package daemon_test

import (
	"context"
	"sync"
	"testing"
	"time"

	"tbloader/internal/config"
	"tbloader/internal/daemon"
	"tbloader/internal/devicefs"
	"tbloader/internal/diskutil"
	"tbloader/internal/logging"
	"tbloader/internal/notifications"
	"tbloader/internal/store"
	"tbloader/internal/testsupport"
	"tbloader/internal/workflow"
)

func newTestDaemon(t *testing.T, opts ...func(*config.Config)) *daemon.Daemon {
	t.Helper()
	return newTestDaemonWith(t, nil, opts...)
}

func newTestDaemonWith(t *testing.T, daemonOpts []daemon.Option, opts ...func(*config.Config)) *daemon.Daemon {
	t.Helper()
	cfg := testsupport.NewConfig(t)
	for _, opt := range opts {
		opt(cfg)
	}
	st := testsupport.MustOpenStore(t, cfg)
	logger := logging.NewNop()
	backends := workflow.Backends{
		Collected:   devicefs.NewMemory("collected"),
		Deployments: testsupport.NewDeployment(t).FS(),
		Temp:        devicefs.NewMemory("temp"),
	}
	mgr := workflow.NewManager(cfg, st, logger, backends, workflow.WithDiskUtilities(diskutil.Unsupported))
	d, err := daemon.New(cfg, st, logger, mgr, daemonOpts...)
	if err != nil {
		t.Fatalf("daemon.New: %v", err)
	}
	t.Cleanup(func() {
		d.Close()
	})
	return d
}

func TestDaemonStartStop(t *testing.T) {
	d := newTestDaemon(t)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if err := d.Start(ctx); err != nil {
		t.Fatalf("Start failed: %v", err)
	}

	status := d.Status(ctx)
	if !status.Running {
		t.Fatal("expected daemon to report running")
	}
	if status.Monitoring {
		t.Fatal("expected no device monitor without auto_collect")
	}

	// Second start should fail
	if err := d.Start(ctx); err == nil {
		t.Fatal("expected second start to fail")
	}

	d.Stop()
	time.Sleep(50 * time.Millisecond)
	status = d.Status(ctx)
	if status.Running {
		t.Fatal("expected daemon to be stopped")
	}
}

func TestDaemonPauseResume(t *testing.T) {
	d := newTestDaemon(t)
	ctx := context.Background()

	d.Pause()
	if !d.Status(ctx).Paused {
		t.Fatal("expected daemon to report paused")
	}
	d.Resume()
	if d.Status(ctx).Paused {
		t.Fatal("expected daemon to report resumed")
	}
}

func TestStartSessionRequiresRunningDaemon(t *testing.T) {
	d := newTestDaemon(t)
	err := d.StartSession(workflow.Request{MountPoint: t.TempDir(), StatsOnly: true})
	if err == nil {
		t.Fatal("expected StartSession to fail before Start")
	}
}

func TestHandleDeviceIgnoresForeignLabels(t *testing.T) {
	d := newTestDaemon(t, func(cfg *config.Config) {
		cfg.Daemon.DeviceLabelPrefixes = []string{"TB"}
	})
	res, err := d.HandleDevice(context.Background(), "/dev/sdb1", "CAMERA")
	if err != nil {
		t.Fatalf("HandleDevice: %v", err)
	}
	if res.Handled {
		t.Fatalf("expected foreign label to be skipped, got %+v", res)
	}
}

type recordingNotifier struct {
	mu         sync.Mutex
	failed     []store.Session
	serialsLow []int
}

var _ notifications.Service = (*recordingNotifier)(nil)

func (r *recordingNotifier) NotifySessionFailed(_ context.Context, sess store.Session) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.failed = append(r.failed, sess)
	return nil
}

func (r *recordingNotifier) NotifyCorruption(context.Context, store.Session) error { return nil }

func (r *recordingNotifier) NotifySerialsLow(_ context.Context, _ string, available int) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.serialsLow = append(r.serialsLow, available)
	return nil
}

func (r *recordingNotifier) NotifyError(context.Context, error, string) error { return nil }
func (r *recordingNotifier) TestNotification(context.Context) error           { return nil }

func (r *recordingNotifier) lowCount() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.serialsLow)
}

func TestSessionsRaiseSerialsLowOnce(t *testing.T) {
	notifier := &recordingNotifier{}
	d := newTestDaemonWith(t, []daemon.Option{daemon.WithNotifier(notifier)}, func(cfg *config.Config) {
		cfg.Notifications.LowSerialThreshold = 1 << 30
	})
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	if err := d.Start(ctx); err != nil {
		t.Fatalf("Start failed: %v", err)
	}

	runUpdate := func() {
		t.Helper()
		req := workflow.Request{
			MountPoint: "/media/TB",
			Device:     testsupport.NewGen2Device(t),
			Project:    testsupport.Project,
			Deployment: testsupport.NextDeployment,
			Community:  testsupport.Community,
		}
		_, before := d.Progress().Tail(1)
		if err := d.StartSession(req); err != nil {
			t.Fatalf("StartSession: %v", err)
		}
		waitForFinished(t, d, before)
	}

	runUpdate()
	runUpdate()
	// Stop waits for the session goroutines, alerts included.
	d.Stop()

	if got := notifier.lowCount(); got != 1 {
		t.Fatalf("expected one serials-low alert, got %d", got)
	}
	notifier.mu.Lock()
	defer notifier.mu.Unlock()
	if len(notifier.failed) != 0 {
		t.Fatalf("expected no failure alerts, got %+v", notifier.failed)
	}
}

func waitForFinished(t *testing.T, d *daemon.Daemon, since uint64) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	for {
		events, next, err := d.Progress().Fetch(ctx, since, 100, true)
		if err != nil {
			t.Fatalf("session did not finish: %v", err)
		}
		for _, evt := range events {
			if evt.Kind == workflow.EventFinished {
				return
			}
		}
		since = next
	}
}
