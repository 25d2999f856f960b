package workflow

import (
	"context"
	"errors"
	"os"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"tbloader/internal/devicefs"
	"tbloader/internal/diskutil"
	"tbloader/internal/metrics"
	"tbloader/internal/services"
	"tbloader/internal/srn"
	"tbloader/internal/store"
	"tbloader/internal/testsupport"
)

type stubReserver struct {
	calls int
}

func (r *stubReserver) Reserve(_ context.Context, n int) (srn.Reservation, error) {
	r.calls++
	return srn.Reservation{LoaderID: 12, LoaderHexID: "000C", Begin: 0x200, End: 0x200 + n}, nil
}

type fixture struct {
	manager  *Manager
	store    *store.Store
	backends Backends
	registry *prometheus.Registry
	reserver *stubReserver
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	cfg := testsupport.NewConfig(t)
	st := testsupport.MustOpenStore(t, cfg)
	dep := testsupport.NewDeployment(t)
	backends := Backends{
		Collected:   devicefs.NewMemory("collected"),
		Deployments: dep.FS(),
		Temp:        devicefs.NewMemory("temp"),
	}
	reg := prometheus.NewRegistry()
	reserver := &stubReserver{}
	manager := NewManager(cfg, st, nil, backends,
		WithDiskUtilities(diskutil.Unsupported),
		WithMetrics(metrics.New(reg)),
		WithReserver(reserver),
	)
	return &fixture{manager: manager, store: st, backends: backends, registry: reg, reserver: reserver}
}

func updateRequest(device devicefs.FS) Request {
	return Request{
		Device:     device,
		MountPoint: "/media/TB",
		Project:    testsupport.Project,
		Deployment: testsupport.NextDeployment,
		Community:  testsupport.Community,
	}
}

func TestRunRecordsSession(t *testing.T) {
	f := newFixture(t)
	device := testsupport.NewGen1Device(t)

	res, err := f.manager.Run(context.Background(), updateRequest(device))
	require.NoError(t, err)
	require.True(t, res.Success, "session failed: %v", res.Err)

	sessions, err := f.store.ListSessions(context.Background(), store.SessionFilter{})
	require.NoError(t, err)
	require.Len(t, sessions, 1)
	sess := sessions[0]
	assert.Equal(t, res.SessionID, sess.ID)
	assert.Equal(t, "/media/TB", sess.Device)
	assert.Equal(t, "tbv1", sess.Version)
	assert.Equal(t, testsupport.Serial, sess.SerialBefore)
	assert.Equal(t, testsupport.Serial, sess.SerialAfter)
	assert.Equal(t, testsupport.NextDeployment, sess.Deployment)
	assert.Equal(t, "update", sess.Action)
	assert.True(t, sess.Success)
	assert.Empty(t, sess.ErrorMessage)

	status := f.manager.Status(context.Background())
	assert.Empty(t, status.Active)
	require.NotNil(t, status.LastSession)
	assert.Equal(t, res.SessionID, status.LastSession.ID)
	assert.Empty(t, status.LastError)

	count, err := testutil.GatherAndCount(f.registry, "tbloader_sessions_total")
	require.NoError(t, err)
	assert.Equal(t, 1, count)
}

func TestRunWritesTranscript(t *testing.T) {
	f := newFixture(t)
	req := updateRequest(testsupport.NewGen2Device(t))
	req.StatsOnly = true

	res, err := f.manager.Run(context.Background(), req)
	require.NoError(t, err)

	data, err := os.ReadFile(TranscriptPath(f.manager.cfg.Paths.LogDir, res.SessionID))
	require.NoError(t, err)
	assert.Contains(t, string(data), "session started")
}

func TestDeviceIsFreeWhenFinishedIsPublished(t *testing.T) {
	f := newFixture(t)
	req := updateRequest(testsupport.NewGen2Device(t))
	req.StatsOnly = true
	_, since := f.manager.Hub().Tail(1)

	type observation struct {
		busy    bool
		lockErr error
	}
	seen := make(chan observation, 1)
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		cursor := since
		for {
			events, next, err := f.manager.Hub().Fetch(ctx, cursor, 100, true)
			if err != nil {
				seen <- observation{lockErr: err}
				return
			}
			for _, evt := range events {
				if evt.Kind != EventFinished {
					continue
				}
				lock, err := lockDevice(f.manager.cfg.Paths.StateDir, req.MountPoint)
				if err == nil {
					_ = lock.Unlock()
				}
				seen <- observation{busy: f.manager.Busy(req.MountPoint), lockErr: err}
				return
			}
			cursor = next
		}
	}()

	_, err := f.manager.Run(context.Background(), req)
	require.NoError(t, err)
	obs := <-seen
	assert.False(t, obs.busy, "device still marked active after the finished event")
	assert.NoError(t, obs.lockErr)
}

func TestRunPublishesProgress(t *testing.T) {
	f := newFixture(t)
	device := testsupport.NewGen2Device(t)
	req := updateRequest(device)
	req.StatsOnly = true

	res, err := f.manager.Run(context.Background(), req)
	require.NoError(t, err)
	require.True(t, res.Success, "session failed: %v", res.Err)

	events, _ := f.manager.Hub().Tail(0)
	require.NotEmpty(t, events)
	assert.Equal(t, EventStarted, events[0].Kind)
	last := events[len(events)-1]
	assert.Equal(t, EventFinished, last.Kind)
	assert.Equal(t, "stats-only", last.Message)
	require.NotNil(t, last.Success)
	assert.True(t, *last.Success)
	for _, evt := range events {
		assert.Equal(t, res.SessionID, evt.SessionID)
		assert.Equal(t, "/media/TB", evt.Device)
	}
}

func TestRunAllocatesSerialForNewDevice(t *testing.T) {
	f := newFixture(t)
	device := testsupport.NewGen2Device(t, testsupport.WithoutSerial())

	res, err := f.manager.Run(context.Background(), updateRequest(device))
	require.NoError(t, err)
	require.True(t, res.Success, "session failed: %v", res.Err)
	assert.Equal(t, srn.FormatSerial("000C", 0x200), res.Next.SerialNumber)
	assert.Equal(t, 1, f.reserver.calls)

	alloc, err := f.manager.Serials().Snapshot(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 0x201, alloc.Next)

	persisted, ok, err := f.store.LoadAllocation(context.Background(), "000C")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, alloc, persisted)
}

func TestRunRequiresDeploymentToUpdate(t *testing.T) {
	f := newFixture(t)
	req := updateRequest(testsupport.NewGen1Device(t))
	req.Deployment = ""

	_, err := f.manager.Run(context.Background(), req)
	require.Error(t, err)
	assert.True(t, errors.Is(err, services.ErrValidation))
	assert.Contains(t, f.manager.Status(context.Background()).LastError, "project and deployment")
}

func TestRunRejectsBusyDevice(t *testing.T) {
	f := newFixture(t)
	req := updateRequest(testsupport.NewGen1Device(t))

	lock, err := lockDevice(f.manager.cfg.Paths.StateDir, req.deviceKey())
	require.NoError(t, err)
	t.Cleanup(func() { _ = lock.Unlock() })

	_, err = f.manager.Run(context.Background(), req)
	assert.ErrorIs(t, err, ErrDeviceBusy)
}

func TestProgressHubFetchWaits(t *testing.T) {
	hub := NewProgressHub(4)
	done := make(chan []ProgressEvent, 1)
	go func() {
		events, _, _ := hub.Fetch(context.Background(), 0, 10, true)
		done <- events
	}()
	time.Sleep(10 * time.Millisecond)
	hub.Publish(ProgressEvent{Kind: EventLog, Message: "hello"})

	select {
	case events := <-done:
		require.Len(t, events, 1)
		assert.Equal(t, uint64(1), events[0].Sequence)
	case <-time.After(2 * time.Second):
		t.Fatal("Fetch did not wake up")
	}
}

func TestProgressHubFetchHonoursCancel(t *testing.T) {
	hub := NewProgressHub(4)
	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	events, _, err := hub.Fetch(ctx, 0, 10, true)
	assert.Empty(t, events)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestProgressHubDropsOldest(t *testing.T) {
	hub := NewProgressHub(2)
	for i := 0; i < 3; i++ {
		hub.Publish(ProgressEvent{Kind: EventLog})
	}
	events, next, err := hub.Fetch(context.Background(), 0, 0, false)
	require.NoError(t, err)
	require.Len(t, events, 2)
	assert.Equal(t, uint64(2), events[0].Sequence)
	assert.Equal(t, uint64(3), next)
}

func TestDeviceLockPath(t *testing.T) {
	assert.Equal(t, "/state/locks/dev_sdb1.lock", deviceLockPath("/state", "/dev/sdb1"))
	assert.Equal(t, "/state/locks/device.lock", deviceLockPath("/state", "/"))
}
