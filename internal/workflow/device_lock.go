package workflow

import (
	"os"
	"path/filepath"
	"strings"

	"github.com/gofrs/flock"

	"tbloader/internal/services"
)

// ErrDeviceBusy is returned when another session, in this process or
// another, is already working on the device.
var ErrDeviceBusy = services.Wrap(services.ErrValidation, "workflow", "lock", "device is busy with another session", nil)

var lockNameReplacer = strings.NewReplacer("/", "_", "\\", "_", ":", "_", " ", "_")

func deviceLockPath(stateDir, key string) string {
	name := strings.Trim(lockNameReplacer.Replace(key), "_")
	if name == "" {
		name = "device"
	}
	return filepath.Join(stateDir, "locks", name+".lock")
}

// lockDevice takes an exclusive file lock so the CLI and the daemon never
// update the same device at once.
func lockDevice(stateDir, key string) (*flock.Flock, error) {
	path := deviceLockPath(stateDir, key)
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, services.Wrap(services.ErrIO, "workflow", "lock", "create lock directory", err)
	}
	lock := flock.New(path)
	ok, err := lock.TryLock()
	if err != nil {
		return nil, services.Wrap(services.ErrIO, "workflow", "lock", "acquire device lock", err)
	}
	if !ok {
		return nil, ErrDeviceBusy
	}
	return lock, nil
}
