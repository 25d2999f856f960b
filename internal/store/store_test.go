package store_test

import (
	"context"
	"database/sql"
	"errors"
	"path/filepath"
	"testing"
	"time"

	_ "modernc.org/sqlite"

	"tbloader/internal/srn"
	"tbloader/internal/store"
	"tbloader/internal/testsupport"
)

func TestOpenCreatesDatabase(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	st := testsupport.MustOpenStore(t, cfg)
	if st.Path() != cfg.StorePath() {
		t.Fatalf("path = %q, want %q", st.Path(), cfg.StorePath())
	}

	// Re-opening an initialized database must accept the recorded version.
	again, err := store.Open(cfg)
	if err != nil {
		t.Fatalf("reopen: %v", err)
	}
	again.Close()
}

func TestOpenRejectsOtherSchemaVersion(t *testing.T) {
	path := filepath.Join(t.TempDir(), "old.db")
	db, err := sql.Open("sqlite", path)
	if err != nil {
		t.Fatalf("open raw db: %v", err)
	}
	if _, err := db.Exec("CREATE TABLE schema_version (version INTEGER NOT NULL); INSERT INTO schema_version VALUES (99)"); err != nil {
		t.Fatalf("seed schema: %v", err)
	}
	db.Close()

	if _, err := store.OpenPath(path); !errors.Is(err, store.ErrSchemaMismatch) {
		t.Fatalf("expected ErrSchemaMismatch, got %v", err)
	}
}

func TestAllocationRoundTrip(t *testing.T) {
	st := testsupport.MustOpenStore(t, testsupport.NewConfig(t))
	ctx := context.Background()

	if _, ok, err := st.LoadAllocation(ctx, "000C"); err != nil || ok {
		t.Fatalf("expected no allocation, got ok=%v err=%v", ok, err)
	}

	want := srn.Allocator{LoaderID: 12, LoaderHexID: "000C", Next: 0x201, PrimaryBegin: 0x200, PrimaryEnd: 0x400, BackupBegin: 0x400, BackupEnd: 0x600}
	if err := st.SaveAllocation(ctx, "000C", want); err != nil {
		t.Fatalf("SaveAllocation: %v", err)
	}
	want.Next = 0x202
	if err := st.SaveAllocation(ctx, "000C", want); err != nil {
		t.Fatalf("SaveAllocation update: %v", err)
	}

	got, ok, err := st.LoadAllocation(ctx, "000C")
	if err != nil || !ok {
		t.Fatalf("LoadAllocation: ok=%v err=%v", ok, err)
	}
	if got != want {
		t.Fatalf("allocation = %+v, want %+v", got, want)
	}
}

func TestManagerPersistsThroughStore(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	st := testsupport.MustOpenStore(t, cfg)
	ctx := context.Background()
	if err := st.SaveAllocation(ctx, "000C", srn.Allocator{LoaderID: 12, LoaderHexID: "000C", Next: 0x300, PrimaryBegin: 0x300, PrimaryEnd: 0x310, BackupBegin: 0x400, BackupEnd: 0x410}); err != nil {
		t.Fatalf("seed allocation: %v", err)
	}

	m := srn.NewManager(srn.ManagerOptions{LoaderID: "000C", Persister: st})
	sn, err := m.Next(ctx)
	if err != nil {
		t.Fatalf("Next: %v", err)
	}
	if sn != "B-000C0300" {
		t.Fatalf("serial = %q", sn)
	}

	got, _, err := st.LoadAllocation(ctx, "000C")
	if err != nil {
		t.Fatalf("LoadAllocation: %v", err)
	}
	if got.Next != 0x301 {
		t.Fatalf("persisted next = %#x, want 0x301", got.Next)
	}
}

func TestSessionsNewestFirstAndFiltered(t *testing.T) {
	st := testsupport.MustOpenStore(t, testsupport.NewConfig(t))
	ctx := context.Background()
	base := time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)

	sessions := []store.Session{
		{ID: "s1", StartedAt: base, FinishedAt: base.Add(40 * time.Second), SerialAfter: "B-000C0200", Action: "update", Success: true, Verified: true, Packages: []string{"pkg-a", "pkg-b"}},
		{ID: "s2", StartedAt: base.Add(time.Hour), FinishedAt: base.Add(time.Hour + time.Minute), SerialBefore: "B-000C0200", SerialAfter: "B-000C0200", Action: "stats-only", Success: true},
		{ID: "s3", StartedAt: base.Add(2 * time.Hour), FinishedAt: base.Add(2*time.Hour + time.Second), SerialAfter: "B-000C0201", Action: "update-failed verification", ErrorMessage: "verification failed", Reformat: "failed", HadCorruption: true},
	}
	for _, sess := range sessions {
		if err := st.RecordSession(ctx, sess); err != nil {
			t.Fatalf("RecordSession %s: %v", sess.ID, err)
		}
	}

	all, err := st.ListSessions(ctx, store.SessionFilter{})
	if err != nil {
		t.Fatalf("ListSessions: %v", err)
	}
	if len(all) != 3 || all[0].ID != "s3" || all[2].ID != "s1" {
		t.Fatalf("unexpected order: %+v", all)
	}
	if !all[0].HadCorruption || all[0].Success || all[0].Reformat != "failed" {
		t.Fatalf("flags not preserved: %+v", all[0])
	}
	if got := all[2].Packages; len(got) != 2 || got[1] != "pkg-b" {
		t.Fatalf("packages = %v", got)
	}
	if all[2].Duration() != 40*time.Second {
		t.Fatalf("duration = %s", all[2].Duration())
	}

	bySerial, err := st.ListSessions(ctx, store.SessionFilter{Serial: "B-000C0200", Limit: 10})
	if err != nil {
		t.Fatalf("ListSessions filtered: %v", err)
	}
	if len(bySerial) != 2 {
		t.Fatalf("expected 2 sessions for serial, got %d", len(bySerial))
	}

	limited, err := st.ListSessions(ctx, store.SessionFilter{Limit: 1})
	if err != nil {
		t.Fatalf("ListSessions limited: %v", err)
	}
	if len(limited) != 1 || limited[0].ID != "s3" {
		t.Fatalf("unexpected limited result: %+v", limited)
	}
}

func TestRecordSessionRequiresID(t *testing.T) {
	st := testsupport.MustOpenStore(t, testsupport.NewConfig(t))
	if err := st.RecordSession(context.Background(), store.Session{}); err == nil {
		t.Fatal("expected error for missing id")
	}
}
