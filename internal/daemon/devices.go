package daemon

import (
	"bufio"
	"context"
	"errors"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"tbloader/internal/logging"
	"tbloader/internal/services"
	"tbloader/internal/store"
	"tbloader/internal/updater"
	"tbloader/internal/workflow"
)

// DeviceDetectedResult reports what the daemon did with a detected device.
type DeviceDetectedResult struct {
	Handled bool
	Message string
}

// mountResolver finds where a block device is mounted.
type mountResolver interface {
	MountPoint(device, label string) (string, bool)
}

// procMounts reads the kernel mount table, falling back to {root}/{label}
// for desktop automounters that have not updated it yet.
type procMounts struct {
	path string
	root string
}

func (p procMounts) MountPoint(device, label string) (string, bool) {
	if f, err := os.Open(p.path); err == nil {
		defer f.Close()
		if mnt, ok := parseMounts(bufio.NewScanner(f), device); ok {
			return mnt, true
		}
	}
	if label == "" || p.root == "" {
		return "", false
	}
	candidate := filepath.Join(p.root, label)
	if info, err := os.Stat(candidate); err == nil && info.IsDir() {
		return candidate, true
	}
	return "", false
}

// parseMounts scans fstab-formatted lines for device and returns its mount
// point with octal escapes decoded.
func parseMounts(sc *bufio.Scanner, device string) (string, bool) {
	for sc.Scan() {
		fields := strings.Fields(sc.Text())
		if len(fields) < 2 || fields[0] != device {
			continue
		}
		return unescapeMount(fields[1]), true
	}
	return "", false
}

func unescapeMount(s string) string {
	if !strings.Contains(s, `\`) {
		return s
	}
	var b strings.Builder
	for i := 0; i < len(s); i++ {
		if s[i] == '\\' && i+4 <= len(s) {
			if n, err := strconv.ParseUint(s[i+1:i+4], 8, 8); err == nil {
				b.WriteByte(byte(n))
				i += 3
				continue
			}
		}
		b.WriteByte(s[i])
	}
	return b.String()
}

// labelAccepted reports whether label starts with one of prefixes. An empty
// prefix list accepts every device.
func labelAccepted(prefixes []string, label string) bool {
	if len(prefixes) == 0 {
		return true
	}
	upper := strings.ToUpper(strings.TrimSpace(label))
	for _, p := range prefixes {
		if strings.HasPrefix(upper, p) {
			return true
		}
	}
	return false
}

// HandleDevice is called when a removable FAT partition appears. Devices
// whose label looks like a Talking Book get a statistics-only session once
// their filesystem is mounted.
func (d *Daemon) HandleDevice(ctx context.Context, device, label string) (*DeviceDetectedResult, error) {
	if !labelAccepted(d.cfg.Daemon.DeviceLabelPrefixes, label) {
		return &DeviceDetectedResult{Message: "volume label " + strconv.Quote(label) + " is not a Talking Book label"}, nil
	}
	if d.workflow.Busy(device) {
		return &DeviceDetectedResult{Message: "a session is already running on " + device}, nil
	}

	settle := time.Duration(d.cfg.Daemon.SettleSeconds) * time.Second
	d.wg.Add(1)
	go func() {
		defer d.wg.Done()
		if settle > 0 {
			timer := time.NewTimer(settle)
			select {
			case <-ctx.Done():
				timer.Stop()
				return
			case <-timer.C:
			}
		}
		mnt, ok := d.mounts.MountPoint(device, label)
		if !ok {
			logging.WarnWithContext(d.logger, "device is not mounted; skipping collection", "device_not_mounted",
				logging.Device(device),
				logging.String("label", label),
				logging.Hint("mount the device or set daemon.mount_root"),
				logging.Impact("statistics not collected"),
			)
			return
		}
		d.runSession(ctx, workflow.Request{MountPoint: mnt, DevicePath: device, StatsOnly: true})
	}()
	return &DeviceDetectedResult{Handled: true, Message: "collection scheduled"}, nil
}

// StartSession runs req in the background for the daemon's lifetime.
func (d *Daemon) StartSession(req workflow.Request) error {
	ctx := d.ctx
	if ctx == nil || !d.running.Load() {
		return errors.New("daemon is not running")
	}
	if strings.TrimSpace(req.MountPoint) == "" {
		return services.Wrap(services.ErrValidation, "daemon", "start session", "mount point is required", nil)
	}
	if !req.StatsOnly && (req.Project == "" || req.Deployment == "") {
		return services.Wrap(services.ErrValidation, "daemon", "start session", "project and deployment are required to update", nil)
	}
	key := req.DevicePath
	if key == "" {
		key = req.MountPoint
	}
	if d.workflow.Busy(key) {
		return workflow.ErrDeviceBusy
	}
	d.wg.Add(1)
	go func() {
		defer d.wg.Done()
		d.runSession(ctx, req)
	}()
	return nil
}

func (d *Daemon) runSession(ctx context.Context, req workflow.Request) {
	res, err := d.workflow.Run(ctx, req)
	if err != nil {
		logging.WarnWithContext(d.logger, "session did not start", "session_not_started",
			logging.String("mount_point", req.MountPoint),
			logging.Device(req.DevicePath),
			logging.Error(err),
		)
		return
	}
	d.logger.Info("session completed",
		logging.String(logging.FieldSessionID, res.SessionID),
		logging.String("mount_point", req.MountPoint),
		logging.String("action", res.Action),
		logging.Bool("success", res.Success),
	)
	d.alert(ctx, req, res)
}

// alert raises operator notifications for a finished session. Delivery
// failures are logged and otherwise ignored.
func (d *Daemon) alert(ctx context.Context, req workflow.Request, res updater.Result) {
	if d.notifier == nil {
		return
	}
	ctx = context.WithoutCancel(ctx)
	device := req.DevicePath
	if device == "" {
		device = req.MountPoint
	}
	sess := store.Session{
		ID:            res.SessionID,
		Device:        device,
		SerialBefore:  res.Previous.SerialNumber,
		SerialAfter:   res.Next.SerialNumber,
		Deployment:    res.Next.Deployment,
		Action:        res.Action,
		Success:       res.Success,
		HadCorruption: res.HadCorruption,
		Reformat:      res.Reformat.String(),
	}
	if res.Err != nil {
		sess.ErrorMessage = res.Err.Error()
	}
	if !res.Success {
		d.deliver("session failure", d.notifier.NotifySessionFailed(ctx, sess))
	}
	if res.HadCorruption {
		d.deliver("disk corruption", d.notifier.NotifyCorruption(ctx, sess))
	}
	if req.StatsOnly {
		return
	}

	alloc, err := d.workflow.Serials().Snapshot(ctx)
	if err != nil {
		return
	}
	threshold := d.cfg.Notifications.LowSerialThreshold
	if available := alloc.Available(); available < threshold {
		if !d.serialsLow.Swap(true) {
			hexID := alloc.LoaderHexID
			if hexID == "" {
				hexID = d.cfg.Loader.HexID
			}
			d.deliver("serials low", d.notifier.NotifySerialsLow(ctx, hexID, available))
		}
	} else {
		d.serialsLow.Store(false)
	}
}

func (d *Daemon) deliver(kind string, err error) {
	if err == nil {
		return
	}
	logging.WarnWithContext(d.logger, "notification not delivered", "notification_failed",
		logging.String("notification", kind),
		logging.Error(err),
		logging.Hint("check notifications.ntfy_topic and network access"),
	)
}
