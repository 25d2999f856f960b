package diskutil

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"os/exec"
	"strings"
	"time"

	"tbloader/internal/config"
	"tbloader/internal/services"
)

// Runner executes name with args and returns its combined output and exit
// code. A non-nil error means the command could not be run at all.
type Runner func(ctx context.Context, name string, args ...string) ([]byte, int, error)

// ExecRunner runs commands with os/exec.
func ExecRunner(ctx context.Context, name string, args ...string) ([]byte, int, error) {
	out, err := exec.CommandContext(ctx, name, args...).CombinedOutput()
	var exitErr *exec.ExitError
	if errors.As(err, &exitErr) {
		return out, exitErr.ExitCode(), nil
	}
	if err != nil {
		return out, -1, err
	}
	return out, 0, nil
}

// Commands implements Utilities with the FAT command line tools.
type Commands struct {
	Fsck    string
	Mkfs    string
	Fatlbl  string
	Lsblk   string
	Timeout time.Duration
	Run     Runner
}

// New returns the utilities configured by cfg, or Unsupported when disk
// operations are disabled.
func New(cfg config.Disk) Utilities {
	if !cfg.Enabled {
		return Unsupported
	}
	return &Commands{
		Fsck:    cfg.FsckBinary,
		Mkfs:    cfg.MkfsBinary,
		Fatlbl:  cfg.LabelBinary,
		Lsblk:   cfg.LsblkBinary,
		Timeout: time.Duration(cfg.TimeoutSeconds) * time.Second,
		Run:     ExecRunner,
	}
}

func (c *Commands) run(ctx context.Context, op, name string, args ...string) ([]byte, int, error) {
	if c.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.Timeout)
		defer cancel()
	}
	run := c.Run
	if run == nil {
		run = ExecRunner
	}
	out, code, err := run(ctx, name, args...)
	if err != nil {
		if errors.Is(ctx.Err(), context.DeadlineExceeded) {
			return out, code, services.Wrap(services.ErrTimeout, "diskutil", op, name+" timed out", err)
		}
		if errors.Is(err, exec.ErrNotFound) {
			return out, code, services.Wrap(services.ErrUnsupportedOnPlatform, "diskutil", op, name+" not installed", err)
		}
		return out, code, services.Wrap(services.ErrExternalTool, "diskutil", op, "run "+name, err)
	}
	return out, code, nil
}

func requireDevice(op, device string) error {
	if strings.TrimSpace(device) == "" {
		return services.Wrap(services.ErrValidation, "diskutil", op, "no device specified", nil)
	}
	return nil
}

// Check runs fsck in no-write mode. Exit code 1 means the volume has
// errors; anything above that is a tool failure.
func (c *Commands) Check(ctx context.Context, device string) (CheckResult, error) {
	if err := requireDevice("check", device); err != nil {
		return CheckResult{}, err
	}
	out, code, err := c.run(ctx, "check", c.Fsck, "-n", device)
	if err != nil {
		return CheckResult{}, err
	}
	result := CheckResult{Output: strings.TrimSpace(string(out))}
	switch code {
	case 0:
	case 1:
		result.Corrupted = true
	default:
		return result, services.Wrap(services.ErrExternalTool, "diskutil", "check",
			fmt.Sprintf("%s exited with status %d: %s", c.Fsck, code, firstLine(result.Output)), nil)
	}
	return result, nil
}

// Format recreates a FAT32 filesystem labelled label.
func (c *Commands) Format(ctx context.Context, device, label string) error {
	if err := requireDevice("format", device); err != nil {
		return err
	}
	if err := ValidLabel(label); err != nil {
		return services.Wrap(services.ErrValidation, "diskutil", "format", err.Error(), nil)
	}
	out, code, err := c.run(ctx, "format", c.Mkfs, "-F", "32", "-n", label, device)
	if err != nil {
		return services.Wrap(services.ErrReformatFailed, "diskutil", "format", device, err)
	}
	if code != 0 {
		return services.Wrap(services.ErrReformatFailed, "diskutil", "format",
			fmt.Sprintf("%s exited with status %d: %s", c.Mkfs, code, firstLine(string(out))), nil)
	}
	return nil
}

// Relabel changes the volume label without touching the data.
func (c *Commands) Relabel(ctx context.Context, device, label string) error {
	if err := requireDevice("relabel", device); err != nil {
		return err
	}
	if err := ValidLabel(label); err != nil {
		return services.Wrap(services.ErrValidation, "diskutil", "relabel", err.Error(), nil)
	}
	out, code, err := c.run(ctx, "relabel", c.Fatlbl, device, label)
	if err != nil {
		return err
	}
	if code != 0 {
		return services.Wrap(services.ErrExternalTool, "diskutil", "relabel",
			fmt.Sprintf("%s exited with status %d: %s", c.Fatlbl, code, firstLine(string(out))), nil)
	}
	return nil
}

// Label reads the current volume label with lsblk.
func (c *Commands) Label(ctx context.Context, device string) (string, error) {
	if err := requireDevice("label", device); err != nil {
		return "", err
	}
	out, code, err := c.run(ctx, "label", c.Lsblk, "-P", "-o", "LABEL,FSTYPE", device)
	if err != nil {
		return "", err
	}
	if code != 0 {
		return "", services.Wrap(services.ErrExternalTool, "diskutil", "label",
			fmt.Sprintf("%s exited with status %d", c.Lsblk, code), nil)
	}
	label, _ := ParseLSBLKLabelFSType(string(out))
	return label, nil
}

// Disconnect is a no-op; the volume is unmounted by the desktop or daemon.
func (c *Commands) Disconnect(context.Context, string) error {
	return nil
}

// ParseLSBLKLabelFSType parses lsblk -P output and returns the first LABEL/FSTYPE pair.
func ParseLSBLKLabelFSType(output string) (string, string) {
	scanner := bufio.NewScanner(strings.NewReader(output))
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}
		data := parseLSBLKKeyValueLine(line)
		if len(data) == 0 {
			continue
		}
		return data["LABEL"], data["FSTYPE"]
	}
	return "", ""
}

func parseLSBLKKeyValueLine(line string) map[string]string {
	result := make(map[string]string)
	for _, field := range strings.Fields(line) {
		key, value, ok := strings.Cut(field, "=")
		if !ok {
			continue
		}
		result[strings.TrimSpace(key)] = strings.Trim(strings.TrimSpace(value), "\"")
	}
	return result
}

func firstLine(s string) string {
	s = strings.TrimSpace(s)
	if i := strings.IndexByte(s, '\n'); i >= 0 {
		return s[:i]
	}
	return s
}

var _ Utilities = (*Commands)(nil)
