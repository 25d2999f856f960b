package preflight

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"os"
	"strings"
	"time"

	"golang.org/x/sys/unix"

	"tbloader/internal/config"
	"tbloader/internal/deps"
)

// CheckReservationService verifies that the serial number reservation
// service answers and accepts the token.
func CheckReservationService(ctx context.Context, baseURL, token string) Result {
	const name = "Serial number service"

	base := strings.TrimRight(strings.TrimSpace(baseURL), "/")
	if base == "" {
		return Result{Name: name, Detail: "missing url"}
	}

	checkCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	client := &http.Client{Timeout: 5 * time.Second}
	req, err := http.NewRequestWithContext(checkCtx, http.MethodGet, base, nil)
	if err != nil {
		return Result{Name: name, Detail: fmt.Sprintf("reachability check failed (%v)", err)}
	}
	if token = strings.TrimSpace(token); token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}

	resp, err := client.Do(req)
	if err != nil {
		return Result{Name: name, Detail: summarizeNetError(err)}
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden:
		return Result{Name: name, Detail: "auth failed (invalid api token)"}
	case resp.StatusCode >= 500:
		return Result{Name: name, Detail: fmt.Sprintf("service error (%d)", resp.StatusCode)}
	default:
		return Result{Name: name, Passed: true, Detail: "Reachable"}
	}
}

// CheckDirectoryAccess verifies that the directory exists and is readable/writable.
func CheckDirectoryAccess(name, path string) Result {
	info, err := os.Stat(path)
	if err != nil {
		if os.IsNotExist(err) {
			return Result{Name: name, Detail: fmt.Sprintf("%s (error: does not exist)", path)}
		}
		return Result{Name: name, Detail: fmt.Sprintf("%s (error: stat: %v)", path, err)}
	}
	if !info.IsDir() {
		return Result{Name: name, Detail: fmt.Sprintf("%s (error: is not a directory)", path)}
	}
	if err := unix.Access(path, unix.R_OK|unix.W_OK|unix.X_OK); err != nil {
		return Result{Name: name, Detail: fmt.Sprintf("%s (error: insufficient permissions: %v)", path, err)}
	}
	return Result{Name: name, Passed: true, Detail: fmt.Sprintf("%s (read/write ok)", path)}
}

// CheckFreeSpace verifies that the filesystem holding path has at least
// minBytes available to unprivileged users.
func CheckFreeSpace(name, path string, minBytes uint64) Result {
	var st unix.Statfs_t
	if err := unix.Statfs(path, &st); err != nil {
		return Result{Name: name, Detail: fmt.Sprintf("%s (error: statfs: %v)", path, err)}
	}
	free := uint64(st.Bavail) * uint64(st.Bsize)
	detail := fmt.Sprintf("%s (%s free)", path, formatBytes(free))
	if free < minBytes {
		return Result{Name: name, Detail: detail + fmt.Sprintf(", need %s", formatBytes(minBytes))}
	}
	return Result{Name: name, Passed: true, Detail: detail}
}

// CheckS3Config verifies that the S3 collection backend has a bucket.
func CheckS3Config(c config.Collection) Result {
	const name = "S3 collection"
	if strings.TrimSpace(c.S3Bucket) == "" {
		return Result{Name: name, Detail: "missing bucket"}
	}
	detail := fmt.Sprintf("s3://%s/%s (%s)", c.S3Bucket, strings.TrimLeft(c.S3Prefix, "/"), c.S3Region)
	return Result{Name: name, Passed: true, Detail: detail}
}

// CheckSystemDeps evaluates the disk utilities for the given config. Both
// the daemon and the CLI doctor command use this to avoid duplicating the
// requirements list. The utilities are optional when disk repair is off.
func CheckSystemDeps(cfg *config.Config) []deps.Status {
	optional := !cfg.Disk.Enabled
	return deps.CheckBinaries([]deps.Requirement{
		{
			Name:        "fsck",
			Command:     cfg.Disk.FsckBinary,
			Description: "Checks and repairs corrupted device filesystems",
			Optional:    optional,
		},
		{
			Name:        "mkfs",
			Command:     cfg.Disk.MkfsBinary,
			Description: "Reformats devices that cannot be repaired",
			Optional:    optional,
		},
		{
			Name:        "fatlabel",
			Command:     cfg.Disk.LabelBinary,
			Description: "Writes the serial number into the volume label",
			Optional:    optional,
		},
		{
			Name:        "lsblk",
			Command:     cfg.Disk.LsblkBinary,
			Description: "Reads volume labels",
			Optional:    true,
		},
	})
}

// summarizeNetError produces a human-readable summary for reachability failures.
func summarizeNetError(err error) string {
	if errors.Is(err, context.DeadlineExceeded) {
		return "check timed out (service unresponsive)"
	}
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return "check timed out (service unreachable)"
	}
	return err.Error()
}

func formatBytes(n uint64) string {
	const unit = 1024
	if n < unit {
		return fmt.Sprintf("%d B", n)
	}
	div, exp := uint64(unit), 0
	for v := n / unit; v >= unit; v /= unit {
		div *= unit
		exp++
	}
	return fmt.Sprintf("%.1f %ciB", float64(n)/float64(div), "KMGTPE"[exp])
}
