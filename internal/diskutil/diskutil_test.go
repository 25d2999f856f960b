package diskutil

import (
	"context"
	"errors"
	"os/exec"
	"reflect"
	"strings"
	"testing"

	"tbloader/internal/config"
	"tbloader/internal/services"
)

type call struct {
	name string
	args []string
}

type fakeRunner struct {
	calls []call
	out   string
	code  int
	err   error
}

func (f *fakeRunner) run(_ context.Context, name string, args ...string) ([]byte, int, error) {
	f.calls = append(f.calls, call{name: name, args: args})
	return []byte(f.out), f.code, f.err
}

func newCommands(f *fakeRunner) *Commands {
	cfg := config.Default()
	u := New(cfg.Disk).(*Commands)
	u.Run = f.run
	return u
}

func TestNewDisabledIsUnsupported(t *testing.T) {
	cfg := config.Default()
	cfg.Disk.Enabled = false
	if New(cfg.Disk) != Unsupported {
		t.Fatal("expected Unsupported when disk utilities are disabled")
	}
}

func TestUnsupportedReportsPlatformError(t *testing.T) {
	ctx := context.Background()
	if err := Unsupported.Format(ctx, "/dev/sdb1", "B-000C0100"); !IsUnsupported(err) {
		t.Fatalf("Format error = %v", err)
	}
	if err := Unsupported.Relabel(ctx, "/dev/sdb1", "B-000C0100"); !IsUnsupported(err) {
		t.Fatalf("Relabel error = %v", err)
	}
	if _, err := Unsupported.Check(ctx, "/dev/sdb1"); !IsUnsupported(err) {
		t.Fatalf("Check error = %v", err)
	}
	if err := Unsupported.Disconnect(ctx, "/dev/sdb1"); err != nil {
		t.Fatalf("Disconnect should be a no-op, got %v", err)
	}
}

func TestCheckExitCodes(t *testing.T) {
	cases := []struct {
		code      int
		corrupted bool
		wantErr   bool
	}{
		{0, false, false},
		{1, true, false},
		{4, false, true},
	}
	for _, tc := range cases {
		f := &fakeRunner{out: "fsck.fat 4.2\nDirty bit is set.\n", code: tc.code}
		res, err := newCommands(f).Check(context.Background(), "/dev/sdb1")
		if tc.wantErr {
			if !errors.Is(err, services.ErrExternalTool) {
				t.Fatalf("code %d: expected external tool error, got %v", tc.code, err)
			}
			continue
		}
		if err != nil {
			t.Fatalf("code %d: unexpected error %v", tc.code, err)
		}
		if res.Corrupted != tc.corrupted {
			t.Fatalf("code %d: corrupted = %v", tc.code, res.Corrupted)
		}
		want := call{name: "fsck.vfat", args: []string{"-n", "/dev/sdb1"}}
		if !reflect.DeepEqual(f.calls[0], want) {
			t.Fatalf("unexpected invocation %+v", f.calls[0])
		}
	}
}

func TestFormatFailureIsReformatFailed(t *testing.T) {
	f := &fakeRunner{out: "mkfs.fat: unable to open /dev/sdb1", code: 1}
	err := newCommands(f).Format(context.Background(), "/dev/sdb1", "B-000C0100")
	if !errors.Is(err, services.ErrReformatFailed) {
		t.Fatalf("expected ErrReformatFailed, got %v", err)
	}
	if !strings.Contains(err.Error(), "unable to open") {
		t.Fatalf("expected tool output in error, got %v", err)
	}
	want := []string{"-F", "32", "-n", "B-000C0100", "/dev/sdb1"}
	if !reflect.DeepEqual(f.calls[0].args, want) {
		t.Fatalf("mkfs args = %v", f.calls[0].args)
	}
}

func TestMissingBinaryIsUnsupported(t *testing.T) {
	f := &fakeRunner{err: exec.ErrNotFound, code: -1}
	err := newCommands(f).Relabel(context.Background(), "/dev/sdb1", "B-000C0100")
	if !IsUnsupported(err) {
		t.Fatalf("expected unsupported error, got %v", err)
	}
}

func TestRelabelRejectsBadLabel(t *testing.T) {
	f := &fakeRunner{}
	err := newCommands(f).Relabel(context.Background(), "/dev/sdb1", "B-000C0100-TOO-LONG")
	if !errors.Is(err, services.ErrValidation) {
		t.Fatalf("expected validation error, got %v", err)
	}
	if len(f.calls) != 0 {
		t.Fatalf("tool should not run for an invalid label")
	}
}

func TestLabelParsesLsblk(t *testing.T) {
	f := &fakeRunner{out: `LABEL="TB1A2B3C4" FSTYPE="vfat"` + "\n"}
	label, err := newCommands(f).Label(context.Background(), "/dev/sdb1")
	if err != nil {
		t.Fatalf("Label returned error: %v", err)
	}
	if label != "TB1A2B3C4" {
		t.Fatalf("label = %q", label)
	}
}

func TestRequiresDevice(t *testing.T) {
	if _, err := newCommands(&fakeRunner{}).Check(context.Background(), " "); !errors.Is(err, services.ErrValidation) {
		t.Fatalf("expected validation error, got %v", err)
	}
}

func TestValidLabel(t *testing.T) {
	for _, ok := range []string{"B-000C0100", "TB1A2B3C", "X"} {
		if err := ValidLabel(ok); err != nil {
			t.Fatalf("ValidLabel(%q) = %v", ok, err)
		}
	}
	for _, bad := range []string{"", "ABCDEFGHIJKL", "A.B", "A:B"} {
		if err := ValidLabel(bad); err == nil {
			t.Fatalf("ValidLabel(%q) should fail", bad)
		}
	}
}
