package main

import (
	"bytes"
	"context"
	"net"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/pelletier/go-toml/v2"

	"tbloader/internal/config"
	"tbloader/internal/daemon"
	"tbloader/internal/devicefs"
	"tbloader/internal/logging"
	"tbloader/internal/testsupport"
	"tbloader/internal/workflow"
)

type cliTestEnv struct {
	cfg        *config.Config
	configPath string
	baseDir    string
}

func setupCLITestEnv(t *testing.T, opts ...func(*config.Config)) *cliTestEnv {
	t.Helper()

	base := t.TempDir()
	homeDir := filepath.Join(base, "home")
	if err := os.MkdirAll(homeDir, 0o755); err != nil {
		t.Fatalf("mkdir home: %v", err)
	}
	t.Setenv("HOME", homeDir)

	cfg := testsupport.NewConfig(t, testsupport.WithDiskUtilities(false))
	// An unused port keeps daemon commands from reaching a real daemon.
	cfg.Paths.APIBind = "127.0.0.1:1"
	for _, opt := range opts {
		opt(cfg)
	}

	configPath := filepath.Join(homeDir, ".config", "tbloader", "config.toml")
	writeTestConfig(t, configPath, cfg)

	return &cliTestEnv{cfg: cfg, configPath: configPath, baseDir: base}
}

func runCLI(t *testing.T, args []string, configPath string) (string, string, error) {
	t.Helper()
	cmd := newRootCommand()
	var stdout, stderr bytes.Buffer
	cmd.SetOut(&stdout)
	cmd.SetErr(&stderr)
	var flags []string
	if configPath != "" {
		flags = append(flags, "--config", configPath)
	}
	cmd.SetArgs(append(flags, args...))
	err := cmd.ExecuteContext(context.Background())
	return stdout.String(), stderr.String(), err
}

func writeTestConfig(t *testing.T, path string, cfg *config.Config) {
	t.Helper()
	data, err := toml.Marshal(cfg)
	if err != nil {
		t.Fatalf("marshal config: %v", err)
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		t.Fatalf("mkdir config dir: %v", err)
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}
}

// mountDevice copies a fixture device into a directory standing in for its
// mount point.
func mountDevice(t *testing.T, device devicefs.FS) string {
	t.Helper()
	dir := filepath.Join(t.TempDir(), "TB")
	if err := os.MkdirAll(dir, 0o755); err != nil {
		t.Fatalf("mkdir mount: %v", err)
	}
	if _, err := devicefs.CopyTree(context.Background(), device, "", devicefs.NewLocal(dir), "", devicefs.CopyOptions{}); err != nil {
		t.Fatalf("copy device: %v", err)
	}
	return dir
}

// startDaemon runs a daemon for env on a free local port and rewrites the
// config so the CLI can reach it.
func startDaemon(t *testing.T, env *cliTestEnv) *daemon.Daemon {
	t.Helper()
	listener, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("reserve port: %v", err)
	}
	env.cfg.Paths.APIBind = listener.Addr().String()
	_ = listener.Close()
	writeTestConfig(t, env.configPath, env.cfg)

	st := testsupport.MustOpenStore(t, env.cfg)
	backends := workflow.Backends{
		Collected:   devicefs.NewMemory("collected"),
		Deployments: testsupport.NewDeployment(t).FS(),
		Temp:        devicefs.NewMemory("temp"),
	}
	mgr := workflow.NewManager(env.cfg, st, logging.NewNop(), backends)
	d, err := daemon.New(env.cfg, st, logging.NewNop(), mgr)
	if err != nil {
		t.Fatalf("daemon.New: %v", err)
	}
	ctx, cancel := context.WithCancel(context.Background())
	if err := d.Start(ctx); err != nil {
		cancel()
		t.Fatalf("daemon start: %v", err)
	}
	t.Cleanup(func() {
		cancel()
		d.Close()
	})
	return d
}

func requireContains(t *testing.T, output, substr string) {
	t.Helper()
	if !strings.Contains(output, substr) {
		t.Fatalf("expected %q to contain %q", output, substr)
	}
}
