package diskutil

import (
	"context"
	"errors"
	"fmt"

	"tbloader/internal/services"
)

//go:generate mockgen -destination=mock_utilities.go -package=diskutil tbloader/internal/diskutil Utilities

// CheckResult is the outcome of a read-only filesystem check.
type CheckResult struct {
	Corrupted bool
	Output    string
}

// Utilities are the disk operations the updater needs from the host.
type Utilities interface {
	Check(ctx context.Context, device string) (CheckResult, error)
	Format(ctx context.Context, device, label string) error
	Relabel(ctx context.Context, device, label string) error
	Label(ctx context.Context, device string) (string, error)
	Disconnect(ctx context.Context, device string) error
}

// Unsupported is used where the host cannot run the disk utilities.
var Unsupported Utilities = unsupported{}

type unsupported struct{}

func unsupportedErr(op string) error {
	return services.Wrap(services.ErrUnsupportedOnPlatform, "diskutil", op, "disk utilities are not available on this host", nil)
}

func (unsupported) Check(context.Context, string) (CheckResult, error) {
	return CheckResult{}, unsupportedErr("check")
}

func (unsupported) Format(context.Context, string, string) error {
	return unsupportedErr("format")
}

func (unsupported) Relabel(context.Context, string, string) error {
	return unsupportedErr("relabel")
}

func (unsupported) Label(context.Context, string) (string, error) {
	return "", unsupportedErr("label")
}

func (unsupported) Disconnect(context.Context, string) error {
	return nil
}

// IsUnsupported reports whether err came from a host without disk utilities.
func IsUnsupported(err error) bool {
	return errors.Is(err, services.ErrUnsupportedOnPlatform)
}

// MaxLabelLength is the FAT volume label limit.
const MaxLabelLength = 11

// ValidLabel reports whether label can be written to a FAT volume.
func ValidLabel(label string) error {
	if label == "" {
		return fmt.Errorf("empty volume label")
	}
	if len(label) > MaxLabelLength {
		return fmt.Errorf("volume label %q longer than %d characters", label, MaxLabelLength)
	}
	for _, r := range label {
		if r < 0x20 || r > 0x7e {
			return fmt.Errorf("volume label %q contains unsupported character %q", label, r)
		}
		switch r {
		case '"', '*', '+', ',', '.', '/', ':', ';', '<', '=', '>', '?', '[', '\\', ']', '|':
			return fmt.Errorf("volume label %q contains reserved character %q", label, r)
		}
	}
	return nil
}
