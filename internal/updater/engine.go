package updater

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"tbloader/internal/deployment"
	"tbloader/internal/diskutil"
	"tbloader/internal/identity"
	"tbloader/internal/logging"
	"tbloader/internal/oplog"
	"tbloader/internal/services"
)

const tracerName = "tbloader/internal/updater"

// Result describes exactly what a session did.
type Result struct {
	SessionID     string
	Version       identity.Version
	Success       bool
	HadCorruption bool
	Reformat      ReformatOutcome
	Verified      bool
	GotStatistics bool
	Duration      time.Duration
	Action        string
	// Err is the failure that ended the session early, if any.
	Err      error
	Steps    []StepRecord
	Previous identity.Descriptor
	Next     identity.Descriptor
	SynchDir string
	// ZipPath locates the gathered files on the collected-data tree.
	ZipPath string
}

// Engine runs one session. It is not reusable.
type Engine struct {
	opts     Options
	strategy Strategy
	version  identity.Version
	logger   *slog.Logger
	tracer   trace.Tracer
	oplog    *oplog.Logger
	plan     []Step
}

type stepFunc func(context.Context, *Session) error

// New validates opts and picks the strategy for the device generation.
func New(opts Options) (*Engine, error) {
	if opts.Device == nil {
		return nil, services.Wrap(services.ErrConfiguration, "updater", "new", "device filesystem is required", nil)
	}
	if opts.Collected == nil || opts.Temp == nil {
		return nil, services.Wrap(services.ErrConfiguration, "updater", "new", "collected and temp filesystems are required", nil)
	}
	if strings.TrimSpace(opts.LoaderID) == "" {
		return nil, services.Wrap(services.ErrConfiguration, "updater", "new", "loader id is required", nil)
	}
	if !opts.StatsOnly && opts.Deployment == nil {
		return nil, services.Wrap(services.ErrValidation, "updater", "new", "a deployment is required to update", nil)
	}
	logger := opts.Logger
	if logger == nil {
		logger = logging.NewNop()
	}
	logger = logging.NewComponentLogger(logger, "updater")
	if opts.Identity == nil {
		opts.Identity = identity.Resolve(opts.Device, identity.Options{Version: opts.Version, Logger: logger})
	}
	if opts.DiskUtils == nil {
		opts.DiskUtils = diskutil.Unsupported
	}
	if opts.Progress == nil {
		opts.Progress = nopProgress{}
	}
	if opts.Observer == nil {
		opts.Observer = nopObserver{}
	}
	if opts.Clock == nil {
		opts.Clock = time.Now
	}
	version := opts.Version
	if version == identity.VersionUnknown {
		version = opts.Identity.Version()
	}
	strategy, ok := StrategyFor(version)
	if !ok {
		return nil, services.Wrap(services.ErrValidation, "updater", "new",
			fmt.Sprintf("cannot tell the device generation of %s", opts.Device.Root()), nil)
	}
	return &Engine{
		opts:     opts,
		strategy: strategy,
		version:  version,
		logger:   logger,
		tracer:   otel.Tracer(tracerName),
		oplog:    oplog.New(opts.Collected, oplog.Options{LoaderID: opts.LoaderID, Publisher: opts.Publisher, Logger: logger}),
		plan:     plan(opts.StatsOnly),
	}, nil
}

// Strategy returns the generation strategy in use.
func (e *Engine) Strategy() Strategy { return e.strategy }

// Run walks the session through every step. It never panics on device
// failures; everything that went wrong is in the Result.
func (e *Engine) Run(ctx context.Context) Result {
	started := e.opts.Clock()
	sessionID := e.opts.SessionID
	if sessionID == "" {
		sessionID = uuid.NewString()
	}
	ctx = services.WithSessionID(ctx, sessionID)
	ctx = services.WithDevice(ctx, e.opts.Device.Root())
	ctx, span := e.tracer.Start(ctx, "updater.session", trace.WithAttributes(
		attribute.String("tbloader.session_id", sessionID),
		attribute.String("tbloader.version", e.version.String()),
		attribute.Bool("tbloader.stats_only", e.opts.StatsOnly),
	))
	defer span.End()

	state := &SessionState{SessionID: sessionID, Started: started, Version: e.version}
	s := &Session{Options: e.opts, State: state, logger: logging.WithContext(ctx, e.logger), now: started}
	e.opts.Observer.SessionStarted(e.version.String())
	s.logger.Info("session started",
		logging.String(logging.FieldEventType, "session_start"),
		logging.String("version", e.version.String()),
		logging.Bool("stats_only", e.opts.StatsOnly),
	)

	var runErr error
	if runErr = e.step(ctx, s, StepStarting, e.start); runErr == nil {
		if runErr = e.step(ctx, s, StepCheckDisk, e.checkDisk); runErr == nil {
			runErr = e.statsPhase(ctx, s)
			if runErr == nil && !e.opts.StatsOnly {
				runErr = e.updatePhase(ctx, s)
			}
		}
	}

	action := Action(e.opts.StatsOnly, state.GotStatistics, state.Verified, e.opts.RefreshFirmware)
	finalCtx := context.WithoutCancel(ctx)
	collectErr := e.step(finalCtx, s, StepCopyStatsAndFiles, func(ctx context.Context, s *Session) error {
		return e.collect(ctx, s, action)
	})
	_ = e.step(finalCtx, s, StepFinishing, e.finish)

	res := Result{
		SessionID:     sessionID,
		Version:       e.version,
		HadCorruption: state.HadCorruption,
		Reformat:      state.Reformat,
		Verified:      state.Verified,
		GotStatistics: state.GotStatistics,
		Duration:      e.opts.Clock().Sub(started),
		Action:        action,
		Steps:         append([]StepRecord(nil), state.Steps...),
		Previous:      state.Previous,
		Next:          state.Next,
		SynchDir:      state.SynchDir,
		ZipPath:       state.ZipPath,
	}
	switch {
	case runErr != nil:
		res.Err = runErr
	case collectErr != nil:
		res.Err = collectErr
	case !state.GotStatistics && e.opts.StatsOnly:
		res.Err = statsError(state)
	}
	res.Success = res.Err == nil && state.GotStatistics && (e.opts.StatsOnly || state.Verified)

	e.opts.Observer.SessionFinished(e.version.String(), res.Success, res.HadCorruption, res.Reformat.String(), res.Duration)
	span.SetAttributes(
		attribute.String("tbloader.action", action),
		attribute.Bool("tbloader.success", res.Success),
		attribute.String("tbloader.serial", state.Next.SerialNumber),
	)
	fields := []logging.Attr{
		logging.String(logging.FieldEventType, "session_complete"),
		logging.String("action", action),
		logging.Bool("success", res.Success),
		logging.Bool("corrupted", res.HadCorruption),
		logging.String("reformat", res.Reformat.String()),
		logging.Duration("duration", res.Duration),
	}
	if res.Err != nil {
		span.RecordError(res.Err)
		span.SetStatus(codes.Error, res.Err.Error())
		details := services.Details(res.Err)
		fields = append(fields,
			logging.Error(res.Err),
			logging.String(logging.FieldErrorKind, details.Kind),
			logging.Hint(details.Hint),
		)
		logging.ErrorWithContext(s.logger, "session failed", "session_failed", fields...)
	} else {
		span.SetStatus(codes.Ok, "")
		s.logger.Info("session finished", logging.Args(fields...)...)
	}
	return res
}

// Action is the operation name written to the logs.
func Action(statsOnly, gotStatistics, verified, refreshFirmware bool) string {
	if statsOnly {
		if gotStatistics {
			return "stats-only"
		}
		return "stats-error"
	}
	action := "update-failed verification"
	if verified {
		action = "update"
		if refreshFirmware {
			action = "update-fw"
		}
	}
	if !gotStatistics {
		action += "-stats-error"
	}
	return action
}

func statsError(state *SessionState) error {
	for _, r := range state.Steps {
		if r.Err != nil {
			return r.Err
		}
	}
	return services.Wrap(services.ErrIO, "updater", "gather", "statistics were not collected", nil)
}

func (e *Engine) percent(step Step) int {
	if step == StepRelabelling {
		step = StepReformatting
	}
	for i, p := range e.plan {
		if p == step {
			return i * 100 / len(e.plan)
		}
	}
	return 0
}

// step runs fn as one named step: progress, span, timing, and accounting.
// The context is only consulted before the step starts.
func (e *Engine) step(ctx context.Context, s *Session, step Step, fn stepFunc) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	ctx = services.WithStep(ctx, string(step))
	ctx, span := e.tracer.Start(ctx, "updater."+string(step))
	defer span.End()
	s.logger = logging.WithContext(ctx, e.logger)
	s.Progress.Step(step, e.percent(step), step.Label())

	s.State.current = StepRecord{Step: step}
	s.State.stepFrom = e.opts.Clock()
	err := fn(ctx, s)
	rec := s.State.current
	rec.Duration = e.opts.Clock().Sub(s.State.stepFrom)
	rec.Err = err
	s.State.Steps = append(s.State.Steps, rec)

	e.opts.Observer.ObserveStep(string(step), rec.Duration, rec.Files, rec.Bytes)
	span.SetAttributes(attribute.Int("tbloader.files", rec.Files), attribute.Int64("tbloader.bytes", rec.Bytes))
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return err
	}
	s.Progress.Log(fmt.Sprintf("%s: %s", step.Label(), rec.Summary()))
	s.logger.Debug("step completed",
		logging.String(logging.FieldEventType, "step_complete"),
		logging.Int("files", rec.Files),
		logging.Int64("bytes", rec.Bytes),
		logging.Duration("elapsed", rec.Duration),
	)
	return nil
}

// start resolves what the device carries and what it is about to receive.
func (e *Engine) start(ctx context.Context, s *Session) error {
	st := s.State
	st.Before = s.Identity.Identity()
	if st.Before.DiskLabel == "" {
		if label, err := s.DiskUtils.Label(ctx, s.DevicePath); err == nil {
			st.Before.DiskLabel = label
		}
	}
	st.Previous = st.Before.Descriptor()
	if flash, ok := s.Identity.Flash(); ok {
		st.Flash = flash
	}
	st.SynchDir = SynchDirName(s.now, s.LoaderID)
	st.StatsUUID = uuid.NewString()
	st.WorkDir = "tbloader-" + st.SessionID
	st.DataDir = st.WorkDir + "/" + st.SynchDir
	if err := s.Temp.MkdirAll(st.DataDir); err != nil {
		return s.ioError("start", "create temp dir", err)
	}
	s.logger.Info("device identified",
		logging.Serial(st.Before.SerialNumber),
		logging.String("project", st.Before.Project),
		logging.String("deployment", st.Before.Deployment),
		logging.String("community", st.Before.Community),
		logging.String("firmware", st.Before.Firmware),
		logging.String("label", st.Before.DiskLabel),
		logging.Bool("needs_serial", st.Before.NeedsNewSerial),
	)
	if s.StatsOnly {
		st.Next = st.Previous
		return nil
	}
	next, err := e.nextDescriptor(s)
	if err != nil {
		return err
	}
	st.Next = next
	return nil
}

func (e *Engine) nextDescriptor(s *Session) (identity.Descriptor, error) {
	dep := s.Deployment
	target := s.Target
	community := strings.TrimSpace(target.Community)
	if community == "" {
		community = s.State.Previous.Community
	}
	packages := target.Packages
	if len(packages) == 0 {
		image := dep.ImageForCommunity(e.version, community)
		if image == deployment.MissingPackage {
			return identity.Descriptor{}, services.Wrap(services.ErrValidation, "updater", "start",
				fmt.Sprintf("no package in %s fits community %q", dep.Name, community), nil)
		}
		packages = []string{image}
	}
	recipient := target.RecipientID
	if recipient == "" {
		recipient, _ = dep.RecipientID(community)
	}
	deploymentUUID := target.DeploymentUUID
	if deploymentUUID == "" {
		deploymentUUID = uuid.NewString()
	}
	next := identity.Descriptor{
		SerialNumber:     s.State.Previous.SerialNumber,
		Project:          dep.Project,
		Deployment:       dep.Name,
		Packages:         append([]string(nil), packages...),
		Firmware:         dep.FirmwareRevision(),
		Community:        community,
		RecipientID:      recipient,
		DeploymentUUID:   deploymentUUID,
		UpdateTimestamp:  fmt.Sprintf("%d/%d/%d", s.now.Year(), int(s.now.Month()), s.now.Day()),
		SynchDir:         s.State.SynchDir,
		TestDeployment:   target.TestDeployment,
		DeploymentNumber: target.DeploymentNumber,
	}
	return next, nil
}

func (e *Engine) checkDisk(ctx context.Context, s *Session) error {
	res, err := s.DiskUtils.Check(ctx, s.DevicePath)
	switch {
	case diskutil.IsUnsupported(err):
		s.log("Skipping disk check; not supported on this OS.")
		return nil
	case err != nil:
		s.warn("disk check failed", "disk_check_failed", err, "device is treated as healthy")
		return nil
	}
	if res.Corrupted {
		s.State.HadCorruption = true
		s.State.Before.Corrupted = true
		s.Identity.SetCorrupted()
		logging.WarnWithContext(s.logger, "disk corruption detected", "disk_corrupted",
			logging.Impact("statistics are salvaged before the device is reformatted"),
			logging.Hint("replace the card if corruption recurs"),
		)
	}
	return nil
}

// statsPhase copies statistics and recordings off the device and then
// clears them. A failure ends the phase without clearing anything further;
// it only fails the session when the context was cancelled.
func (e *Engine) statsPhase(ctx context.Context, s *Session) error {
	steps := []struct {
		step Step
		fn   stepFunc
	}{
		{StepListDeviceFiles, e.listDeviceFiles(dirListingFile)},
		{StepGatherDeviceFiles, e.strategy.GatherDeviceFiles},
		{StepGatherUserRecordings, e.strategy.GatherUserRecordings},
		{StepClearStats, e.strategy.ClearStatistics},
		{StepClearUserRecordings, e.strategy.ClearUserRecordings},
		{StepClearFeedbackCategories, e.strategy.ClearFeedbackCategories},
	}
	for _, st := range steps {
		if err := e.step(ctx, s, st.step, st.fn); err != nil {
			if ctx.Err() != nil {
				return err
			}
			s.warn("statistics not collected", "stats_collection_failed", err,
				"statistics stay on the device; the update continues")
			return nil
		}
	}
	s.State.GotStatistics = true
	return nil
}

// updatePhase writes the new deployment. The first failure aborts it.
func (e *Engine) updatePhase(ctx context.Context, s *Session) error {
	reformat := StepRelabelling
	if s.State.HadCorruption {
		reformat = StepReformatting
	}
	steps := []struct {
		step Step
		fn   stepFunc
	}{
		{reformat, e.reformatRelabel},
		{StepClearSystem, e.strategy.ClearSystemFiles},
		{StepUpdateSystem, e.strategy.UpdateSystemFiles},
		{StepUpdateSystemTime, e.strategy.UpdateSystemTime},
		{StepUpdateContent, e.strategy.UpdateContent},
		{StepUpdateCommunity, e.strategy.UpdateCommunity},
		{StepVerify, e.verify},
		{StepForceFirmwareRefresh, e.strategy.ForceFirmwareRefresh},
		{StepListDeviceFiles2, e.listDeviceFiles(dirListingPostFile)},
	}
	if s.PostUpdateDelay > 0 {
		steps = append(steps, struct {
			step Step
			fn   stepFunc
		}{StepDelay, e.delay})
	}
	for _, st := range steps {
		if err := e.step(ctx, s, st.step, st.fn); err != nil {
			return err
		}
	}
	return nil
}

// reformatRelabel issues a serial if the device has none, then lets the
// strategy reformat or relabel. Statistics have been salvaged by now.
func (e *Engine) reformatRelabel(ctx context.Context, s *Session) error {
	if s.State.Before.NeedsNewSerial {
		if s.Allocator == nil {
			return services.Wrap(services.ErrConfiguration, "updater", "allocate_serial",
				"device needs a serial number but no allocator is configured", nil)
		}
		serial, err := s.Allocator.Next(ctx)
		if err != nil {
			return err
		}
		s.State.Next.SerialNumber = serial
		s.State.Next.NewSerial = true
		s.logger.Info("serial number assigned", logging.Serial(serial))
		s.Progress.Log("Assigned serial number " + serial)
	}
	return e.strategy.ReformatRelabel(ctx, s)
}

func (e *Engine) verify(ctx context.Context, s *Session) error {
	ok, err := e.strategy.Verify(ctx, s)
	if err != nil {
		return err
	}
	s.State.Verified = ok
	if !ok {
		return services.Wrap(services.ErrVerificationFailed, "updater", "verify",
			"the completion marker is missing after the update", nil)
	}
	return nil
}

func (e *Engine) listDeviceFiles(name string) stepFunc {
	return func(_ context.Context, s *Session) error {
		return s.writeText(s.Temp, s.State.DataDir+"/"+name, deviceListing(s))
	}
}

func (e *Engine) delay(ctx context.Context, s *Session) error {
	s.Progress.Detail("Finalizing")
	t := time.NewTimer(s.PostUpdateDelay)
	defer t.Stop()
	select {
	case <-t.C:
	case <-ctx.Done():
	}
	return nil
}

// finish disconnects a healthy device and drops the scratch directory once
// it has been archived.
func (e *Engine) finish(ctx context.Context, s *Session) error {
	if !s.State.HadCorruption {
		if err := s.DiskUtils.Disconnect(ctx, s.DevicePath); err != nil && !diskutil.IsUnsupported(err) {
			s.warn("disconnect failed", "disconnect_failed", err, "eject the device manually")
		}
	}
	if s.State.ZipPath == "" {
		if s.State.WorkDir != "" {
			s.logger.Warn("gathered files kept for recovery",
				logging.String(logging.FieldEventType, "gathered_files_kept"),
				logging.String("dir", s.Temp.Root()+"/"+s.State.WorkDir),
			)
		}
		return nil
	}
	if _, err := s.Temp.Delete(s.State.WorkDir, true); err != nil {
		s.logger.Debug("temp cleanup failed", logging.Error(err))
	}
	return nil
}
