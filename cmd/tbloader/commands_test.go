package main

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"tbloader/internal/config"
	"tbloader/internal/deps"
	"tbloader/internal/flashstats"
	"tbloader/internal/store"
	"tbloader/internal/testsupport"
)

func TestConfigInitAndValidate(t *testing.T) {
	env := setupCLITestEnv(t)

	out, _, err := runCLI(t, []string{"config", "validate"}, env.configPath)
	if err != nil {
		t.Fatalf("config validate: %v", err)
	}
	requireContains(t, out, "Configuration valid")

	target := filepath.Join(t.TempDir(), "config.toml")
	out, _, err = runCLI(t, []string{"config", "init", "--path", target}, env.configPath)
	if err != nil {
		t.Fatalf("config init: %v", err)
	}
	requireContains(t, out, "Wrote sample configuration")
	if _, err := os.Stat(target); err != nil {
		t.Fatalf("expected config file at %s: %v", target, err)
	}

	if _, _, err := runCLI(t, []string{"config", "init", "--path", target}, env.configPath); err == nil {
		t.Fatal("expected init to refuse overwriting without --overwrite")
	}
}

func TestConfigValidateRejectsBadHexID(t *testing.T) {
	env := setupCLITestEnv(t, func(cfg *config.Config) {
		cfg.Loader.HexID = "XYZ"
	})
	if _, _, err := runCLI(t, []string{"config", "validate"}, env.configPath); err == nil {
		t.Fatal("expected validation error for bad loader.hex_id")
	}
}

func TestIdentityCommand(t *testing.T) {
	env := setupCLITestEnv(t)
	mount := mountDevice(t, testsupport.NewGen2Device(t))

	out, _, err := runCLI(t, []string{"identity", mount, "--json"}, env.configPath)
	if err != nil {
		t.Fatalf("identity: %v", err)
	}
	var view identityView
	if err := json.Unmarshal([]byte(out), &view); err != nil {
		t.Fatalf("decode identity output: %v\n%s", err, out)
	}
	if view.SerialNumber != testsupport.Serial {
		t.Fatalf("expected serial %s, got %s", testsupport.Serial, view.SerialNumber)
	}
	if view.Project != testsupport.Project || view.Deployment != testsupport.OldDeployment {
		t.Fatalf("unexpected project/deployment %s/%s", view.Project, view.Deployment)
	}

	out, _, err = runCLI(t, []string{"identity", mount}, env.configPath)
	if err != nil {
		t.Fatalf("identity table: %v", err)
	}
	requireContains(t, out, testsupport.Serial)
	requireContains(t, out, testsupport.Community)
}

func TestIdentityCommandMissingMount(t *testing.T) {
	env := setupCLITestEnv(t)
	if _, _, err := runCLI(t, []string{"identity", filepath.Join(env.baseDir, "absent")}, env.configPath); err == nil {
		t.Fatal("expected error for missing mount point")
	}
}

func TestFlashCommand(t *testing.T) {
	path := filepath.Join(t.TempDir(), flashstats.FileName)
	if err := os.WriteFile(path, flashstats.Encode(testsupport.NewFlashStats()), 0o644); err != nil {
		t.Fatalf("write flash stats: %v", err)
	}

	out, _, err := runCLI(t, []string{"flash", path}, "")
	if err != nil {
		t.Fatalf("flash: %v", err)
	}
	requireContains(t, out, testsupport.Serial)
	requireContains(t, out, "TOTAL STATS")

	mount := mountDevice(t, testsupport.NewGen1Device(t))
	out, _, err = runCLI(t, []string{"flash", mount}, "")
	if err != nil {
		t.Fatalf("flash on mount point: %v", err)
	}
	requireContains(t, out, testsupport.OldDeployment)

	if _, _, err := runCLI(t, []string{"flash", t.TempDir()}, ""); err == nil {
		t.Fatal("expected error for a directory without flash statistics")
	}
}

func TestCollectAndHistory(t *testing.T) {
	env := setupCLITestEnv(t)
	mount := mountDevice(t, testsupport.NewGen2Device(t))

	out, _, err := runCLI(t, []string{"collect", mount, "--json"}, env.configPath)
	if err != nil {
		t.Fatalf("collect: %v\n%s", err, out)
	}
	var view sessionView
	if err := json.Unmarshal([]byte(out), &view); err != nil {
		t.Fatalf("decode collect output: %v\n%s", err, out)
	}
	if !view.Success || view.Action != "stats-only" {
		t.Fatalf("unexpected session result %+v", view)
	}
	if len(view.Steps) == 0 {
		t.Fatal("expected step records in the result")
	}

	out, _, err = runCLI(t, []string{"history", "--json"}, env.configPath)
	if err != nil {
		t.Fatalf("history: %v", err)
	}
	var sessions []store.Session
	if err := json.Unmarshal([]byte(out), &sessions); err != nil {
		t.Fatalf("decode history: %v\n%s", err, out)
	}
	if len(sessions) != 1 || sessions[0].ID != view.SessionID {
		t.Fatalf("expected the collected session in history, got %+v", sessions)
	}

	out, _, err = runCLI(t, []string{"history"}, env.configPath)
	if err != nil {
		t.Fatalf("history table: %v", err)
	}
	requireContains(t, out, "stats-only")
}

func TestHistoryEmpty(t *testing.T) {
	env := setupCLITestEnv(t)
	out, _, err := runCLI(t, []string{"history"}, env.configPath)
	if err != nil {
		t.Fatalf("history: %v", err)
	}
	requireContains(t, out, "No sessions recorded")
}

func TestUpdateRequiresDeployment(t *testing.T) {
	env := setupCLITestEnv(t)
	_, _, err := runCLI(t, []string{"update", t.TempDir(), "--project", testsupport.Project}, env.configPath)
	if err == nil {
		t.Fatal("expected update without --deployment to fail")
	}
	requireContains(t, err.Error(), "--deployment")
}

func TestSRNStatusWithoutReservation(t *testing.T) {
	env := setupCLITestEnv(t)

	out, _, err := runCLI(t, []string{"srn", "status"}, env.configPath)
	if err != nil {
		t.Fatalf("srn status: %v", err)
	}
	requireContains(t, out, "No serial numbers left")

	if _, _, err := runCLI(t, []string{"srn", "reserve"}, env.configPath); err == nil {
		t.Fatal("expected reserve to fail without a reservation service")
	}
}

func TestDoctorReportsSections(t *testing.T) {
	env := setupCLITestEnv(t)
	out, _, _ := runCLI(t, []string{"doctor"}, env.configPath)
	requireContains(t, out, "== Preflight ==")
	requireContains(t, out, "== Disk utilities ==")
}

func TestLogsShowsSessionTranscript(t *testing.T) {
	env := setupCLITestEnv(t)
	mount := mountDevice(t, testsupport.NewGen2Device(t))

	out, _, err := runCLI(t, []string{"collect", mount, "--json"}, env.configPath)
	if err != nil {
		t.Fatalf("collect: %v\n%s", err, out)
	}
	var view sessionView
	if err := json.Unmarshal([]byte(out), &view); err != nil {
		t.Fatalf("decode collect output: %v", err)
	}

	out, _, err = runCLI(t, []string{"logs", "--session", view.SessionID, "-n", "500"}, env.configPath)
	if err != nil {
		t.Fatalf("logs --session: %v", err)
	}
	if strings.TrimSpace(out) == "" || strings.Contains(out, "No log entries") {
		t.Fatalf("expected transcript lines, got %q", out)
	}

	out, _, err = runCLI(t, []string{"logs"}, env.configPath)
	if err != nil {
		t.Fatalf("logs: %v", err)
	}
	requireContains(t, out, "No log entries")

	if _, _, err := runCLI(t, []string{"logs", "--session", "x", "--cli"}, env.configPath); err == nil {
		t.Fatal("expected --session with --cli to fail")
	}
}

func TestDoctorSendsTestNotification(t *testing.T) {
	var titles []string
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		titles = append(titles, r.Header.Get("Title"))
		w.WriteHeader(http.StatusOK)
	}))
	defer server.Close()

	env := setupCLITestEnv(t, func(cfg *config.Config) {
		cfg.Notifications.NtfyTopic = server.URL
	})
	out, _, _ := runCLI(t, []string{"doctor", "--test-notification"}, env.configPath)
	requireContains(t, out, "== Notifications ==")
	requireContains(t, out, "Test notification sent")
	if len(titles) != 1 || !strings.HasSuffix(titles[0], "- Test") {
		t.Fatalf("expected one test notification, got %v", titles)
	}
}

func TestStatusReportLayout(t *testing.T) {
	var buf strings.Builder
	report := newStatusReport(&buf)
	report.section("Preflight")
	report.item("State directory", statusOK, "")
	report.section("Disk utilities")
	kind, detail := dependencyState(deps.Status{Name: "mkfs.vfat", Optional: true})
	report.item("mkfs.vfat", kind, detail)

	want := strings.Join([]string{
		"== Preflight ==",
		"---------------",
		"  State directory:         [OK]",
		"",
		"== Disk utilities ==",
		"--------------------",
		"  mkfs.vfat:               [WARN] not available",
		"",
	}, "\n")
	if buf.String() != want {
		t.Fatalf("unexpected report:\n%s\nwant:\n%s", buf.String(), want)
	}

	kind, detail = dependencyState(deps.Status{Name: "fsck.vfat", Available: true, Command: "fsck.vfat"})
	if kind != statusOK || detail != "Ready (command: fsck.vfat)" {
		t.Fatalf("available dependency = %v %q", kind, detail)
	}
}
