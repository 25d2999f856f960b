package workflow

import (
	"context"
	"strings"
	"time"

	"github.com/google/uuid"

	"tbloader/internal/deployment"
	"tbloader/internal/devicefs"
	"tbloader/internal/identity"
	"tbloader/internal/logging"
	"tbloader/internal/services"
	"tbloader/internal/store"
	"tbloader/internal/updater"
)

// Request describes one session.
type Request struct {
	// MountPoint is where the device filesystem is mounted.
	MountPoint string
	// DevicePath is the block device handed to disk utilities; optional.
	DevicePath string
	// Device overrides the filesystem opened from MountPoint.
	Device devicefs.FS

	// Project and Deployment select the content; both are ignored when
	// collecting statistics only.
	Project    string
	Deployment string
	Community  string
	Packages   []string

	StatsOnly        bool
	RefreshFirmware  bool
	TestDeployment   bool
	DeploymentNumber int
	RecipientID      string

	// Progress additionally receives every progress callback.
	Progress updater.ProgressSink
}

type activeSession struct {
	id        string
	device    string
	statsOnly bool
	started   time.Time
	progress  *sessionProgress
}

func (r Request) deviceKey() string {
	if r.DevicePath != "" {
		return r.DevicePath
	}
	if r.MountPoint != "" {
		return r.MountPoint
	}
	if r.Device != nil {
		return r.Device.Root()
	}
	return ""
}

// Run performs one session and records it in the store. The returned error
// covers failures before the session could start; device failures are
// reported through Result.Err. The finished event is published once the
// device is free for the next session.
func (m *Manager) Run(ctx context.Context, req Request) (updater.Result, error) {
	res, progress, err := m.runExclusive(ctx, req)
	if progress != nil {
		success := res.Success
		progress.publish(ProgressEvent{Kind: EventFinished, Message: res.Action, Success: &success, Percent: 100})
	}
	return res, err
}

// runExclusive runs the session while holding the device lock and the
// active-session entry. progress is nil when the engine never ran.
func (m *Manager) runExclusive(ctx context.Context, req Request) (updater.Result, *sessionProgress, error) {
	key := req.deviceKey()
	if key == "" {
		return updater.Result{}, nil, services.Wrap(services.ErrValidation, "workflow", "run", "a mount point or device is required", nil)
	}
	if !req.StatsOnly && m.cfg.Update.StatsOnly {
		req.StatsOnly = true
	}

	lock, err := lockDevice(m.cfg.Paths.StateDir, key)
	if err != nil {
		return updater.Result{}, nil, err
	}
	defer func() {
		if err := lock.Unlock(); err != nil {
			m.logger.Warn("release device lock", logging.Device(key), logging.Error(err))
		}
	}()

	sessionID := uuid.NewString()
	progress := &sessionProgress{hub: m.hub, sessionID: sessionID, device: key, next: req.Progress}
	if err := m.begin(key, &activeSession{id: sessionID, device: key, statsOnly: req.StatsOnly, started: m.clock(), progress: progress}); err != nil {
		return updater.Result{}, nil, err
	}
	defer m.end(key)

	ctx = services.WithDevice(ctx, key)
	logger := logging.WithContext(ctx, m.logger)

	opts, err := m.sessionOptions(req)
	if err != nil {
		m.setLastError(err)
		return updater.Result{}, nil, err
	}
	opts.SessionID = sessionID
	opts.Progress = progress
	opts.Logger = m.logger
	if transcript, path, err := openTranscript(m.cfg.Paths.LogDir, sessionID); err != nil {
		logger.Debug("session transcript unavailable", logging.Error(err))
	} else if transcript != nil {
		defer transcript.Close()
		opts.Logger = logging.SessionLogger(m.logger, transcript)
		logger.Debug("writing session transcript", logging.String("path", path))
	}

	engine, err := updater.New(opts)
	if err != nil {
		m.setLastError(err)
		return updater.Result{}, nil, err
	}
	if !req.StatsOnly {
		if err := m.serials.Prepare(ctx); err != nil {
			logging.WarnWithContext(logger, "serial number block not refreshed", "srn_prepare_failed",
				logging.Hint("new devices can only be numbered from blocks already reserved"),
				logging.Error(err),
			)
		}
	}

	progress.publish(ProgressEvent{Kind: EventStarted, Message: engine.Strategy().Version().String()})
	started := m.clock()
	res := engine.Run(ctx)

	sess := sessionRecord(req, key, started, m.clock(), res)
	if m.store != nil {
		if err := m.store.RecordSession(context.WithoutCancel(ctx), sess); err != nil {
			logging.WarnWithContext(logger, "session history not recorded", "session_record_failed",
				logging.String(logging.FieldSessionID, res.SessionID),
				logging.Error(err),
			)
		}
	}
	m.finished(sess, res.Err)
	return res, progress, nil
}

// sessionOptions resolves the deployment and the per-session collaborators.
func (m *Manager) sessionOptions(req Request) (updater.Options, error) {
	device := req.Device
	if device == nil {
		device = devicefs.NewLocal(req.MountPoint)
	}
	if m.backends.Collected == nil || m.backends.Temp == nil {
		return updater.Options{}, services.Wrap(services.ErrConfiguration, "workflow", "run", "collected and temp backends are required", nil)
	}

	cfg := m.cfg
	opts := updater.Options{
		Device:     device,
		DevicePath: req.DevicePath,
		Collected:  m.backends.Collected,
		Temp:       m.backends.Temp,
		Identity: identity.Resolve(device, identity.Options{
			SerialPrefix: cfg.Loader.SerialPrefix,
			Logger:       m.logger,
		}),
		Allocator:          meteredSerials{manager: m.serials, metrics: m.metrics},
		DiskUtils:          m.disk,
		Publisher:          m.backends.Publisher,
		Observer:           m.observer(),
		Clock:              m.clock,
		LoaderID:           cfg.Loader.ID,
		LoaderHexID:        cfg.Loader.HexID,
		UserName:           cfg.Loader.UserName,
		UserEmail:          cfg.Loader.UserEmail,
		Location:           cfg.Loader.Location,
		Coordinates:        cfg.Loader.Coordinates,
		StatsOnly:          req.StatsOnly,
		RefreshFirmware:    req.RefreshFirmware || cfg.Update.RefreshFirmware,
		AcceptableFirmware: cfg.Update.AcceptableFirmware,
		PostUpdateDelay:    time.Duration(cfg.Update.PostUpdateDelayMS) * time.Millisecond,
		Target: updater.Target{
			Community:        req.Community,
			Packages:         req.Packages,
			TestDeployment:   req.TestDeployment,
			DeploymentNumber: req.DeploymentNumber,
			RecipientID:      req.RecipientID,
		},
	}
	if req.StatsOnly {
		return opts, nil
	}

	project := strings.TrimSpace(req.Project)
	name := strings.TrimSpace(req.Deployment)
	if project == "" || name == "" {
		return updater.Options{}, services.Wrap(services.ErrValidation, "workflow", "run", "project and deployment are required to update", nil)
	}
	if m.backends.Deployments == nil {
		return updater.Options{}, services.Wrap(services.ErrConfiguration, "workflow", "run", "deployments backend is not configured", nil)
	}
	dep, err := deployment.Open(m.backends.Deployments, project, name)
	if err != nil {
		return updater.Options{}, err
	}
	opts.Deployment = dep
	return opts, nil
}

func sessionRecord(req Request, key string, started, finished time.Time, res updater.Result) store.Session {
	sess := store.Session{
		ID:            res.SessionID,
		StartedAt:     started,
		FinishedAt:    finished,
		Device:        key,
		Version:       res.Version.String(),
		SerialBefore:  res.Previous.SerialNumber,
		SerialAfter:   res.Next.SerialNumber,
		Project:       res.Next.Project,
		Deployment:    res.Next.Deployment,
		Community:     res.Next.Community,
		Packages:      res.Next.Packages,
		Action:        res.Action,
		Success:       res.Success,
		Verified:      res.Verified,
		HadCorruption: res.HadCorruption,
		Reformat:      res.Reformat.String(),
	}
	if sess.Project == "" {
		sess.Project = req.Project
	}
	if res.Err != nil {
		sess.ErrorMessage = res.Err.Error()
	}
	return sess
}
