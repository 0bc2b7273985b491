package engine

import (
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/hominum/launcher/internal/syncer"
)

func TestTrackerObserverCalls(t *testing.T) {
	tr := NewTracker()
	tr.begin("run-1")
	tr.setState(StateSyncingContent)

	tr.UpdateTitle("mods")
	tr.UpdateItem("Downloading: a.jar")
	tr.SetIndeterminate()
	if !tr.Snapshot().Indeterminate {
		t.Error("expected indeterminate bar")
	}
	tr.UpdateProgress(1.5)

	snap := tr.Snapshot()
	if snap.RunID != "run-1" || snap.State != StateSyncingContent {
		t.Errorf("snapshot = %+v", snap)
	}
	if snap.Title != "mods" || snap.Item != "Downloading: a.jar" {
		t.Errorf("title/item = %q/%q", snap.Title, snap.Item)
	}
	if snap.Fraction != 1 || snap.Indeterminate {
		t.Errorf("fraction = %v indeterminate = %v", snap.Fraction, snap.Indeterminate)
	}

	tr.ResetProgress()
	if snap := tr.Snapshot(); snap.Fraction != 0 {
		t.Errorf("fraction after reset = %v", snap.Fraction)
	}
}

func TestTrackerWaitSignals(t *testing.T) {
	tr := NewTracker()
	ch := tr.Wait()

	select {
	case <-ch:
		t.Fatal("channel closed before any update")
	default:
	}

	go tr.UpdateItem("x")
	select {
	case <-ch:
	case <-time.After(2 * time.Second):
		t.Fatal("Wait channel not closed by update")
	}
	if tr.Wait() == ch {
		t.Error("Wait should hand out a fresh channel after an update")
	}
}

func TestTrackerRecentEventsCapped(t *testing.T) {
	tr := NewTracker()
	for i := 0; i < maxRecentEvents+5; i++ {
		tr.SyncEntry("mods/", syncer.Progress{Count: i + 1, Total: 30, Name: fmt.Sprintf("%d.jar", i), Action: syncer.ActionDownload})
	}
	tr.SyncEntry("mods/", syncer.Progress{Count: 26, Total: 30, Name: "bad.jar", Action: syncer.ActionFailed, Err: errors.New("boom")})
	tr.SyncEntry("mods/", syncer.Progress{Count: 27, Total: 30, Name: "same.jar", Action: syncer.ActionSkip})

	snap := tr.Snapshot()
	if len(snap.RecentEvents) != maxRecentEvents {
		t.Fatalf("recent events = %d, want %d", len(snap.RecentEvents), maxRecentEvents)
	}
	if ev := snap.RecentEvents[0]; ev.Path != "mods/bad.jar" || ev.Status != "failed" || ev.Error != "boom" {
		t.Errorf("newest event = %+v", ev)
	}
	if snap.SyncCount != 27 || snap.SyncTotal != 30 {
		t.Errorf("sync count = %d/%d", snap.SyncCount, snap.SyncTotal)
	}
}

func TestTrackerFinish(t *testing.T) {
	tr := NewTracker()
	tr.begin("run-2")
	tr.finish(false, ReasonProvisioning)

	snap := tr.Snapshot()
	if !snap.Done || snap.Success || snap.Reason != ReasonProvisioning || snap.State != StateDone {
		t.Errorf("snapshot = %+v", snap)
	}

	tr.begin("run-3")
	if snap := tr.Snapshot(); snap.Done || snap.Reason != "" || snap.RunID != "run-3" {
		t.Errorf("begin should reset the tracker: %+v", snap)
	}
}

func TestTrackerEventPathJoinsSyncKey(t *testing.T) {
	tests := []struct {
		remote, name, want string
	}{
		{"mods", "a.jar", "mods/a.jar"},
		{"mods/", "a.jar", "mods/a.jar"},
		{"config/options.txt", "", "config/options.txt"},
	}
	for _, tt := range tests {
		tr := NewTracker()
		tr.SyncEntry(tt.remote, syncer.Progress{Count: 1, Total: 1, Name: tt.name, Action: syncer.ActionDownload})
		if got := tr.Snapshot().RecentEvents[0].Path; got != tt.want {
			t.Errorf("SyncEntry(%q, %q) path = %q, want %q", tt.remote, tt.name, got, tt.want)
		}
	}
}
