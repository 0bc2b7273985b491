package store

import (
	"io"
	"log/slog"
	"path/filepath"
	"testing"
	"time"
)

// newTestStore creates an in-memory SQLite store for testing
func newTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := New(":memory:", slog.New(slog.NewTextHandler(io.Discard, nil)))
	if err != nil {
		t.Fatalf("failed to create test store: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func TestNewOnDisk(t *testing.T) {
	path := filepath.Join(t.TempDir(), "hominum.db")
	s, err := New(path, slog.New(slog.NewTextHandler(io.Discard, nil)))
	if err != nil {
		t.Fatalf("New() failed: %v", err)
	}
	if err := s.Set(SectionUser, KeyEmail, "steve@example.org"); err != nil {
		t.Fatalf("Set: %v", err)
	}
	s.Close()

	// reopening must not rerun migrations or lose data
	s, err = New(path, slog.New(slog.NewTextHandler(io.Discard, nil)))
	if err != nil {
		t.Fatalf("reopen failed: %v", err)
	}
	defer s.Close()
	var email string
	if found, err := s.Get(SectionUser, KeyEmail, &email); err != nil || !found || email != "steve@example.org" {
		t.Fatalf("Get after reopen = %q, %v, %v", email, found, err)
	}
}

func TestSettingsRoundTrip(t *testing.T) {
	s := newTestStore(t)

	var missing bool
	found, err := s.Get(SectionGame, KeyAutoJoin, &missing)
	if err != nil || found {
		t.Fatalf("expected missing key, got found=%v err=%v", found, err)
	}

	args := []string{"-Xms4G", "-Xmx4G"}
	if err := s.Set(SectionGame, KeyRAMJVMArgs, args); err != nil {
		t.Fatalf("Set: %v", err)
	}
	var got []string
	if found, err := s.Get(SectionGame, KeyRAMJVMArgs, &got); err != nil || !found {
		t.Fatalf("Get: found=%v err=%v", found, err)
	}
	if len(got) != 2 || got[1] != "-Xmx4G" {
		t.Errorf("got %v", got)
	}

	if err := s.Set(SectionGame, KeyRAMJVMArgs, []string{"-Xmx1G"}); err != nil {
		t.Fatalf("overwrite: %v", err)
	}
	raw, found, err := s.GetRaw(SectionGame, KeyRAMJVMArgs)
	if err != nil || !found || raw != `["-Xmx1G"]` {
		t.Errorf("GetRaw = %q, %v, %v", raw, found, err)
	}

	if err := s.Delete(SectionGame, KeyRAMJVMArgs); err != nil {
		t.Fatalf("Delete: %v", err)
	}
	if found, _ := s.Get(SectionGame, KeyRAMJVMArgs, &got); found {
		t.Error("expected key to be deleted")
	}
}

func TestGetDecodeError(t *testing.T) {
	s := newTestStore(t)
	if err := s.Set(SectionGame, KeyFirstStart, "not a bool"); err != nil {
		t.Fatalf("Set: %v", err)
	}
	var b bool
	found, err := s.Get(SectionGame, KeyFirstStart, &b)
	if !found || err == nil {
		t.Fatalf("expected decode error, got found=%v err=%v", found, err)
	}
}

func TestSeedDefaults(t *testing.T) {
	s := newTestStore(t)
	if err := s.Set(SectionGame, KeyAutoJoin, false); err != nil {
		t.Fatalf("Set: %v", err)
	}
	if err := s.SeedDefaults(); err != nil {
		t.Fatalf("SeedDefaults: %v", err)
	}
	if err := s.SeedDefaults(); err != nil {
		t.Fatalf("second SeedDefaults: %v", err)
	}

	var autojoin bool
	if _, err := s.Get(SectionGame, KeyAutoJoin, &autojoin); err != nil {
		t.Fatalf("Get: %v", err)
	}
	if autojoin {
		t.Error("SeedDefaults overwrote an existing value")
	}

	var first bool
	if found, _ := s.Get(SectionGame, KeyFirstStart, &first); !found || !first {
		t.Errorf("first_start = %v (found %v), want true", first, found)
	}
	var extra []string
	if _, err := s.Get(SectionGame, KeyAdditionalJVMArgs, &extra); err != nil || len(extra) != 6 {
		t.Errorf("additional_jvm_args = %v, %v", extra, err)
	}

	all, err := s.ListSettings("")
	if err != nil {
		t.Fatalf("ListSettings: %v", err)
	}
	if len(all) != 5 {
		t.Errorf("expected 5 settings, got %d", len(all))
	}
	game, _ := s.ListSettings(SectionGame)
	if len(game) != 4 {
		t.Errorf("expected 4 game settings, got %d", len(game))
	}
}

func TestInstallRuns(t *testing.T) {
	s := newTestStore(t)
	base := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

	for i, id := range []string{"run-a", "run-b", "run-c"} {
		run := &InstallRun{ID: id, StartedAt: base.Add(time.Duration(i) * time.Minute), State: "start"}
		if err := s.CreateRun(run); err != nil {
			t.Fatalf("CreateRun(%s): %v", id, err)
		}
		if run.Status != RunRunning {
			t.Errorf("expected default status running, got %q", run.Status)
		}
	}

	run, err := s.GetRun("run-b")
	if err != nil {
		t.Fatalf("GetRun: %v", err)
	}
	run.Status = RunSuccess
	run.State = "done"
	run.Variant = "fabric"
	run.VersionID = "fabric-loader-latest-1.20.4"
	run.FilesSynced = 12
	run.EndedAt = base.Add(5 * time.Minute)
	if err := s.UpdateRun(run); err != nil {
		t.Fatalf("UpdateRun: %v", err)
	}

	got, err := s.GetRun("run-b")
	if err != nil {
		t.Fatalf("GetRun: %v", err)
	}
	if got.Status != RunSuccess || got.FilesSynced != 12 || got.VersionID != run.VersionID {
		t.Errorf("unexpected run %+v", got)
	}
	if !got.EndedAt.Equal(run.EndedAt) {
		t.Errorf("EndedAt = %v, want %v", got.EndedAt, run.EndedAt)
	}

	runs, err := s.ListRuns(2)
	if err != nil {
		t.Fatalf("ListRuns: %v", err)
	}
	if len(runs) != 2 || runs[0].ID != "run-c" || runs[1].ID != "run-b" {
		t.Errorf("unexpected order: %+v", runs)
	}

	if err := s.UpdateRun(&InstallRun{ID: "nope", StartedAt: base}); err == nil {
		t.Error("expected error updating unknown run")
	}
	if _, err := s.GetRun("nope"); err == nil {
		t.Error("expected error for unknown run")
	}
	if err := s.CreateRun(&InstallRun{}); err == nil {
		t.Error("expected error for run without id")
	}
}

func TestSyncedFiles(t *testing.T) {
	s := newTestStore(t)
	if err := s.CreateRun(&InstallRun{ID: "r1", StartedAt: time.Now(), State: "start"}); err != nil {
		t.Fatalf("CreateRun: %v", err)
	}

	for _, f := range []SyncedFile{
		{Path: "mods/a.jar", SyncPath: "mods/", Size: 10, RunID: "r1"},
		{Path: "mods/b.jar", SyncPath: "mods/", Size: 20, RunID: "r1"},
		{Path: "options.txt", SyncPath: "options.txt", Size: 5},
	} {
		f := f
		if err := s.RecordSyncedFile(&f); err != nil {
			t.Fatalf("RecordSyncedFile: %v", err)
		}
	}
	if err := s.RecordSyncedFile(&SyncedFile{Path: "mods/a.jar", SyncPath: "mods/", Size: 11}); err != nil {
		t.Fatalf("upsert: %v", err)
	}

	mods, err := s.ListSyncedFiles("mods/")
	if err != nil {
		t.Fatalf("ListSyncedFiles: %v", err)
	}
	if len(mods) != 2 || mods[0].Size != 11 || mods[0].RunID != "" {
		t.Errorf("unexpected mods records %+v", mods)
	}

	if err := s.ForgetSyncedFile("mods/b.jar"); err != nil {
		t.Fatalf("ForgetSyncedFile: %v", err)
	}
	all, _ := s.ListSyncedFiles("")
	if len(all) != 2 {
		t.Errorf("expected 2 records, got %d", len(all))
	}
}
