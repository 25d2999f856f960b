package preflight

import (
	"context"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"

	"tbloader/internal/config"
	"tbloader/internal/testsupport"
)

func TestCheckDirectoryAccess_OK(t *testing.T) {
	dir := t.TempDir()
	result := CheckDirectoryAccess("test", dir)
	if !result.Passed {
		t.Fatalf("expected pass for temp dir, got: %s", result.Detail)
	}
}

func TestCheckDirectoryAccess_NotExist(t *testing.T) {
	result := CheckDirectoryAccess("test", filepath.Join(t.TempDir(), "nope"))
	if result.Passed {
		t.Fatal("expected failure for missing dir")
	}
	if result.Detail == "" {
		t.Fatal("expected non-empty detail")
	}
}

func TestCheckDirectoryAccess_NotDir(t *testing.T) {
	f := filepath.Join(t.TempDir(), "file.txt")
	if err := os.WriteFile(f, []byte("x"), 0o644); err != nil {
		t.Fatal(err)
	}
	result := CheckDirectoryAccess("test", f)
	if result.Passed {
		t.Fatal("expected failure for file path")
	}
}

func TestCheckFreeSpace(t *testing.T) {
	dir := t.TempDir()
	if result := CheckFreeSpace("tmp", dir, 1); !result.Passed {
		t.Fatalf("expected pass for a 1 byte minimum, got: %s", result.Detail)
	}
	if result := CheckFreeSpace("tmp", dir, 1<<62); result.Passed {
		t.Fatal("expected failure for an impossible minimum")
	}
	if result := CheckFreeSpace("tmp", filepath.Join(dir, "missing"), 1); result.Passed {
		t.Fatal("expected failure for a missing path")
	}
}

func TestCheckReservationService_OK(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("Authorization") != "Bearer good-token" {
			w.WriteHeader(http.StatusUnauthorized)
			return
		}
		w.WriteHeader(http.StatusNotFound)
	}))
	defer srv.Close()

	result := CheckReservationService(context.Background(), srv.URL, "good-token")
	if !result.Passed {
		t.Fatalf("expected pass, got: %s", result.Detail)
	}
}

func TestCheckReservationService_BadToken(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusForbidden)
	}))
	defer srv.Close()

	result := CheckReservationService(context.Background(), srv.URL, "bad-token")
	if result.Passed {
		t.Fatal("expected failure for bad token")
	}
}

func TestCheckReservationService_ServerError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer srv.Close()

	if result := CheckReservationService(context.Background(), srv.URL, ""); result.Passed {
		t.Fatal("expected failure for server error")
	}
}

func TestCheckReservationService_MissingURL(t *testing.T) {
	if result := CheckReservationService(context.Background(), " ", "token"); result.Passed {
		t.Fatal("expected failure for missing URL")
	}
}

func TestCheckS3Config(t *testing.T) {
	if result := CheckS3Config(config.Collection{Backend: config.BackendS3}); result.Passed {
		t.Fatal("expected failure without bucket")
	}
	result := CheckS3Config(config.Collection{Backend: config.BackendS3, S3Bucket: "tb-stats", S3Prefix: "/collected", S3Region: "us-west-2"})
	if !result.Passed {
		t.Fatalf("expected pass, got: %s", result.Detail)
	}
	if result.Detail != "s3://tb-stats/collected (us-west-2)" {
		t.Fatalf("unexpected detail %q", result.Detail)
	}
}

func TestRunAll_NilConfig(t *testing.T) {
	results := RunAll(context.Background(), nil)
	if results != nil {
		t.Fatal("expected nil results for nil config")
	}
}

func TestRunAll_LocalBackend(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	if err := cfg.EnsureDirectories(); err != nil {
		t.Fatalf("EnsureDirectories: %v", err)
	}

	results := RunAll(context.Background(), cfg)
	names := make(map[string]Result, len(results))
	for _, r := range results {
		names[r.Name] = r
	}
	for _, name := range []string{"State directory", "Temp directory", "Collected directory", "Deployments directory"} {
		r, ok := names[name]
		if !ok {
			t.Fatalf("expected %q check in results", name)
		}
		if !r.Passed {
			t.Errorf("check %q failed: %s", name, r.Detail)
		}
	}
	if _, ok := names["Serial number service"]; ok {
		t.Fatal("did not expect a reservation check without a url")
	}
}

func TestRunAll_IncludesReservationServiceWhenConfigured(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	cfg := testsupport.NewConfig(t, testsupport.WithReservationURL(srv.URL))
	results := RunAll(context.Background(), cfg)
	found := false
	for _, r := range results {
		if r.Name == "Serial number service" {
			found = true
			if !r.Passed {
				t.Errorf("reservation check failed: %s", r.Detail)
			}
		}
	}
	if !found {
		t.Fatal("expected reservation check in results")
	}
	if len(Failed(results)) == 0 {
		t.Fatal("expected missing directories to fail before EnsureDirectories")
	}
}

func TestCheckSystemDeps(t *testing.T) {
	cfg := testsupport.NewConfig(t, testsupport.WithStubbedBinaries("fsck.vfat"))
	cfg.Disk.Enabled = true
	cfg.Disk.MkfsBinary = "clearly-not-present-mkfs"

	statuses := CheckSystemDeps(cfg)
	if len(statuses) != 4 {
		t.Fatalf("expected 4 statuses, got %d", len(statuses))
	}
	if statuses[1].Available || statuses[1].Optional {
		t.Fatalf("expected required missing mkfs, got %#v", statuses[1])
	}
	if !statuses[3].Optional {
		t.Fatal("expected lsblk to be optional")
	}
}
