package daemon

import (
	"context"
	"log/slog"
	"strings"
	"sync"

	"github.com/pilebones/go-udev/netlink"

	"tbloader/internal/logging"
)

type deviceHandler func(ctx context.Context, device, label string) (*DeviceDetectedResult, error)

// netlinkMonitor listens for udev netlink events and reports removable FAT
// partitions as they appear. A partition is reported once per insertion:
// the change events that follow an add, or a reformat, are ignored until
// the partition is removed.
type netlinkMonitor struct {
	logger   *slog.Logger
	handler  deviceHandler
	isPaused func() bool

	mu       sync.Mutex
	conn     *netlink.UEventConn
	quit     chan struct{}
	running  bool
	attached map[string]struct{}
}

// newNetlinkMonitor creates a netlink monitor that listens for device insertion events.
func newNetlinkMonitor(logger *slog.Logger, handler deviceHandler, isPaused func() bool) *netlinkMonitor {
	if logger == nil {
		logger = logging.NewNop()
	}
	return &netlinkMonitor{
		logger:   logging.NewComponentLogger(logger, "netlink-monitor"),
		handler:  handler,
		isPaused: isPaused,
		attached: make(map[string]struct{}),
	}
}

// Start begins listening for udev netlink events.
func (m *netlinkMonitor) Start(ctx context.Context) error {
	if m == nil {
		return nil
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if m.running {
		return nil
	}

	conn := new(netlink.UEventConn)
	if err := conn.Connect(netlink.UdevEvent); err != nil {
		m.logger.Warn("failed to connect to netlink socket; devices must be collected manually",
			logging.Error(err),
			logging.String(logging.FieldEventType, "netlink_connect_failed"),
			logging.Hint("ensure the daemon has permission to access netlink sockets"),
			logging.Impact("automatic collection unavailable"),
		)
		return nil
	}

	m.conn = conn
	m.quit = make(chan struct{})
	m.running = true

	quit := m.quit
	go m.monitorLoop(ctx, quit)

	m.logger.Info("netlink monitor started",
		logging.String(logging.FieldEventType, "netlink_monitor_started"),
	)
	return nil
}

// Stop shuts down the netlink monitor.
func (m *netlinkMonitor) Stop() {
	if m == nil {
		return
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if !m.running {
		return
	}

	if m.quit != nil {
		close(m.quit)
		m.quit = nil
	}
	if m.conn != nil {
		_ = m.conn.Close()
		m.conn = nil
	}
	m.running = false

	m.logger.Info("netlink monitor stopped",
		logging.String(logging.FieldEventType, "netlink_monitor_stopped"),
	)
}

// Running reports whether the netlink monitor is active.
func (m *netlinkMonitor) Running() bool {
	if m == nil {
		return false
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.running
}

func (m *netlinkMonitor) monitorLoop(ctx context.Context, quit <-chan struct{}) {
	queue := make(chan netlink.UEvent)
	errs := make(chan error)
	matcher := m.buildMatcher()

	m.mu.Lock()
	conn := m.conn
	m.mu.Unlock()
	if conn == nil {
		return
	}

	monitorQuit := conn.Monitor(queue, errs, matcher)
	for {
		select {
		case <-ctx.Done():
			close(monitorQuit)
			return
		case <-quit:
			close(monitorQuit)
			return
		case uevent := <-queue:
			m.handleEvent(ctx, uevent)
		case err := <-errs:
			m.logger.Warn("netlink monitor error",
				logging.Error(err),
				logging.String(logging.FieldEventType, "netlink_monitor_error"),
				logging.Hint("check kernel netlink subsystem"),
				logging.Impact("device detection may be affected"),
			)
		}
	}
}

// buildMatcher accepts add and change events of USB partitions carrying a
// FAT filesystem, and remove events of any USB partition.
func (m *netlinkMonitor) buildMatcher() netlink.Matcher {
	arrive, leave := "add|change", "remove"
	usbPartition := func(extra map[string]string) map[string]string {
		env := map[string]string{"SUBSYSTEM": "block", "DEVTYPE": "partition", "ID_BUS": "usb"}
		for k, v := range extra {
			env[k] = v
		}
		return env
	}
	rules := &netlink.RuleDefinitions{}
	rules.AddRule(netlink.RuleDefinition{Action: &arrive, Env: usbPartition(map[string]string{"ID_FS_TYPE": "vfat"})})
	rules.AddRule(netlink.RuleDefinition{Action: &leave, Env: usbPartition(nil)})
	return rules
}

// track records an arrival or removal of devname and reports whether the
// event is a new insertion.
func (m *netlinkMonitor) track(action netlink.KObjAction, devname string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	if action == netlink.REMOVE {
		delete(m.attached, devname)
		return false
	}
	if _, ok := m.attached[devname]; ok {
		return false
	}
	m.attached[devname] = struct{}{}
	return true
}

func (m *netlinkMonitor) handleEvent(ctx context.Context, uevent netlink.UEvent) {
	devname := extractDeviceName(uevent)
	if devname == "" {
		m.logger.Debug("ignoring event without device name",
			logging.String("action", string(uevent.Action)),
			logging.String("kobj", uevent.KObj),
		)
		return
	}

	if uevent.Action == netlink.REMOVE {
		m.track(uevent.Action, devname)
		m.logger.Debug("removable device detached", logging.Device(devname))
		return
	}
	if m.isPaused != nil && m.isPaused() {
		m.logger.Debug("automatic collection paused, ignoring netlink event",
			logging.Device(devname),
		)
		return
	}
	if !m.track(uevent.Action, devname) {
		m.logger.Debug("device already attached, ignoring netlink event",
			logging.Device(devname),
			logging.String("action", string(uevent.Action)),
		)
		return
	}

	label := uevent.Env["ID_FS_LABEL"]
	m.logger.Info("removable device detected via netlink",
		logging.String(logging.FieldEventType, "netlink_device_detected"),
		logging.Device(devname),
		logging.String("label", label),
		logging.String("action", string(uevent.Action)),
	)

	if m.handler == nil {
		return
	}
	result, err := m.handler(ctx, devname, label)
	if err != nil {
		m.logger.Warn("netlink device handler failed",
			logging.Error(err),
			logging.Device(devname),
			logging.String(logging.FieldEventType, "netlink_handler_failed"),
			logging.Hint("check daemon logs for details"),
			logging.Impact("device not collected"),
		)
		return
	}
	if result == nil {
		return
	}
	if result.Handled {
		m.logger.Info("device collection scheduled",
			logging.Device(devname),
			logging.String("message", result.Message),
			logging.String(logging.FieldEventType, "netlink_device_scheduled"),
		)
	} else {
		m.logger.Debug("device not handled",
			logging.Device(devname),
			logging.String("message", result.Message),
		)
	}
}

// extractDeviceName gets the device path from a uevent.
func extractDeviceName(uevent netlink.UEvent) string {
	if devname := uevent.Env["DEVNAME"]; devname != "" {
		if !strings.HasPrefix(devname, "/") {
			devname = "/dev/" + devname
		}
		return devname
	}

	devpath := uevent.Env["DEVPATH"]
	if devpath == "" {
		return ""
	}
	parts := strings.Split(devpath, "/")
	return "/dev/" + parts[len(parts)-1]
}
