package daemon

import (
	"context"
	"sync/atomic"
	"testing"

	"github.com/pilebones/go-udev/netlink"
)

func usbPartitionEvent(action netlink.KObjAction, env map[string]string) netlink.UEvent {
	base := map[string]string{
		"SUBSYSTEM":  "block",
		"DEVTYPE":    "partition",
		"ID_BUS":     "usb",
		"ID_FS_TYPE": "vfat",
	}
	for k, v := range env {
		base[k] = v
	}
	return netlink.UEvent{Action: action, Env: base}
}

func TestNetlinkMonitorRunning(t *testing.T) {
	t.Run("nil monitor returns false", func(t *testing.T) {
		var m *netlinkMonitor
		if m.Running() {
			t.Error("expected Running() to return false for nil monitor")
		}
	})

	t.Run("unstarted monitor returns false", func(t *testing.T) {
		m := newNetlinkMonitor(nil, nil, nil)
		if m.Running() {
			t.Error("expected Running() to return false for unstarted monitor")
		}
	})
}

func TestNetlinkMonitorStopStartIdempotency(t *testing.T) {
	t.Run("stop on nil monitor is safe", func(t *testing.T) {
		var m *netlinkMonitor
		m.Stop()
	})

	t.Run("start on nil monitor is safe", func(t *testing.T) {
		var m *netlinkMonitor
		if err := m.Start(context.Background()); err != nil {
			t.Fatalf("Start on nil monitor should return nil, got: %v", err)
		}
	})

	t.Run("double stop is safe", func(t *testing.T) {
		m := newNetlinkMonitor(nil, nil, nil)
		m.Stop()
		m.Stop()
		if m.Running() {
			t.Error("expected Running() to return false after Stop")
		}
	})
}

func TestBuildMatcher(t *testing.T) {
	m := newNetlinkMonitor(nil, nil, nil)
	matcher := m.buildMatcher()
	if matcher == nil {
		t.Fatal("expected non-nil matcher")
	}

	if !matcher.Evaluate(usbPartitionEvent(netlink.ADD, nil)) {
		t.Error("expected matcher to accept ADD of a usb vfat partition")
	}
	if !matcher.Evaluate(usbPartitionEvent(netlink.CHANGE, nil)) {
		t.Error("expected matcher to accept CHANGE of a usb vfat partition")
	}
	if !matcher.Evaluate(usbPartitionEvent(netlink.REMOVE, map[string]string{"ID_FS_TYPE": ""})) {
		t.Error("expected matcher to accept REMOVE of a usb partition")
	}
	if matcher.Evaluate(usbPartitionEvent("move", nil)) {
		t.Error("expected matcher to reject MOVE action")
	}
	if matcher.Evaluate(usbPartitionEvent(netlink.ADD, map[string]string{"ID_FS_TYPE": "ext4"})) {
		t.Error("expected matcher to reject non-FAT filesystems")
	}
	if matcher.Evaluate(usbPartitionEvent(netlink.ADD, map[string]string{"DEVTYPE": "disk"})) {
		t.Error("expected matcher to reject whole disks")
	}
	if matcher.Evaluate(usbPartitionEvent(netlink.ADD, map[string]string{"ID_BUS": "ata"})) {
		t.Error("expected matcher to reject internal drives")
	}
}

func TestHandleEvent(t *testing.T) {
	t.Run("ignores event without device name", func(t *testing.T) {
		var called bool
		handler := func(context.Context, string, string) (*DeviceDetectedResult, error) {
			called = true
			return &DeviceDetectedResult{Handled: true}, nil
		}

		m := newNetlinkMonitor(nil, handler, nil)
		m.handleEvent(context.Background(), netlink.UEvent{Action: netlink.ADD, Env: map[string]string{}})

		if called {
			t.Error("handler should not be called for event without device name")
		}
	})

	t.Run("ignores event when paused", func(t *testing.T) {
		var called bool
		handler := func(context.Context, string, string) (*DeviceDetectedResult, error) {
			called = true
			return &DeviceDetectedResult{Handled: true}, nil
		}

		m := newNetlinkMonitor(nil, handler, func() bool { return true })
		m.handleEvent(context.Background(), usbPartitionEvent(netlink.ADD, map[string]string{"DEVNAME": "/dev/sdb1"}))

		if called {
			t.Error("handler should not be called when paused")
		}
	})

	t.Run("passes device and volume label", func(t *testing.T) {
		var gotDevice, gotLabel string
		handler := func(_ context.Context, device, label string) (*DeviceDetectedResult, error) {
			gotDevice, gotLabel = device, label
			return &DeviceDetectedResult{Handled: true, Message: "collection scheduled"}, nil
		}

		m := newNetlinkMonitor(nil, handler, func() bool { return false })
		m.handleEvent(context.Background(), usbPartitionEvent(netlink.ADD, map[string]string{
			"DEVNAME":     "sdb1",
			"ID_FS_LABEL": "TB-B-000C0042",
		}))

		if gotDevice != "/dev/sdb1" {
			t.Errorf("expected device /dev/sdb1, got %s", gotDevice)
		}
		if gotLabel != "TB-B-000C0042" {
			t.Errorf("expected label TB-B-000C0042, got %s", gotLabel)
		}
	})

	t.Run("extracts device from DEVPATH when DEVNAME missing", func(t *testing.T) {
		var gotDevice string
		handler := func(_ context.Context, device, _ string) (*DeviceDetectedResult, error) {
			gotDevice = device
			return nil, nil
		}

		m := newNetlinkMonitor(nil, handler, nil)
		m.handleEvent(context.Background(), usbPartitionEvent(netlink.ADD, map[string]string{
			"DEVPATH": "/devices/pci0000:00/0000:00:14.0/usb1/1-2/1-2:1.0/host6/target6:0:0/6:0:0:0/block/sdb/sdb1",
		}))

		if gotDevice != "/dev/sdb1" {
			t.Errorf("expected device /dev/sdb1 from DEVPATH, got %s", gotDevice)
		}
	})

	t.Run("respects dynamic pause state", func(t *testing.T) {
		var calls int
		handler := func(context.Context, string, string) (*DeviceDetectedResult, error) {
			calls++
			return &DeviceDetectedResult{Handled: true}, nil
		}

		var paused atomic.Bool
		m := newNetlinkMonitor(nil, handler, paused.Load)
		event := usbPartitionEvent(netlink.ADD, map[string]string{"DEVNAME": "/dev/sdb1"})

		paused.Store(true)
		m.handleEvent(context.Background(), event)
		paused.Store(false)
		m.handleEvent(context.Background(), event)

		if calls != 1 {
			t.Errorf("expected 1 call, got %d", calls)
		}
	})

	t.Run("reports each insertion once", func(t *testing.T) {
		var calls int
		handler := func(context.Context, string, string) (*DeviceDetectedResult, error) {
			calls++
			return &DeviceDetectedResult{Handled: true}, nil
		}

		m := newNetlinkMonitor(nil, handler, nil)
		env := map[string]string{"DEVNAME": "/dev/sdb1"}
		ctx := context.Background()
		m.handleEvent(ctx, usbPartitionEvent(netlink.ADD, env))
		m.handleEvent(ctx, usbPartitionEvent(netlink.CHANGE, env))
		if calls != 1 {
			t.Fatalf("expected change after add to be ignored, got %d calls", calls)
		}

		m.handleEvent(ctx, usbPartitionEvent(netlink.REMOVE, env))
		m.handleEvent(ctx, usbPartitionEvent(netlink.ADD, env))
		if calls != 2 {
			t.Fatalf("expected reinsertion to be reported, got %d calls", calls)
		}
	})
}
