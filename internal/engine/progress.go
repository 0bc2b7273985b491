package engine

import (
	"path"
	"sync"
	"time"

	"github.com/hominum/launcher/internal/syncer"
)

// State is a step of the install state machine.
type State string

const (
	StateStart           State = "start"
	StateResolvingConfig State = "resolving_config"
	StateProvisioning    State = "provisioning_environment"
	StateSyncingContent  State = "syncing_content"
	StateDone            State = "done"
)

const (
	maxRecentEvents        = 20
	recentStatusDownloaded = "downloaded"
	recentStatusFailed     = "failed"
)

// FileEvent records a synced or failed entry for the recent activity log.
type FileEvent struct {
	Path   string `json:"path"`
	Status string `json:"status"` // "downloaded", "failed"
	Error  string `json:"error,omitempty"`
}

// Progress is a snapshot of the current run, safe for JSON serialization.
type Progress struct {
	RunID         string      `json:"run_id"`
	State         State       `json:"state"`
	Title         string      `json:"title"`
	Item          string      `json:"item,omitempty"`
	Fraction      float64     `json:"fraction"`
	Indeterminate bool        `json:"indeterminate"`
	SyncCount     int         `json:"sync_count"`
	SyncTotal     int         `json:"sync_total"`
	Done          bool        `json:"done"`
	Success       bool        `json:"success"`
	Reason        string      `json:"reason,omitempty"`
	RecentEvents  []FileEvent `json:"recent_events,omitempty"`
	StartTime     time.Time   `json:"start_time"`
	Elapsed       string      `json:"elapsed"`
}

// Tracker is the observer a polling UI reads from. The worker goroutine
// writes through the provision.Observer methods; readers call Snapshot, or
// Wait to block until the next change.
type Tracker struct {
	mu sync.Mutex

	runID         string
	state         State
	title         string
	item          string
	fraction      float64
	indeterminate bool
	syncCount     int
	syncTotal     int
	done          bool
	success       bool
	reason        string
	startTime     time.Time

	recentEvents []FileEvent

	// Notification channel: close-and-replace pattern.
	// Listeners call Wait() to get the current channel, then block on it.
	// Any update closes the old channel and replaces it with a new one.
	notify chan struct{}
}

// NewTracker creates an idle tracker.
func NewTracker() *Tracker {
	return &Tracker{
		state:     StateStart,
		startTime: time.Now(),
		notify:    make(chan struct{}),
	}
}

// Snapshot returns a copy of the current progress state.
func (t *Tracker) Snapshot() Progress {
	t.mu.Lock()
	defer t.mu.Unlock()

	recentEvents := make([]FileEvent, len(t.recentEvents))
	copy(recentEvents, t.recentEvents)

	return Progress{
		RunID:         t.runID,
		State:         t.state,
		Title:         t.title,
		Item:          t.item,
		Fraction:      t.fraction,
		Indeterminate: t.indeterminate,
		SyncCount:     t.syncCount,
		SyncTotal:     t.syncTotal,
		Done:          t.done,
		Success:       t.success,
		Reason:        t.reason,
		RecentEvents:  recentEvents,
		StartTime:     t.startTime,
		Elapsed:       time.Since(t.startTime).Truncate(time.Second).String(),
	}
}

// Wait returns a channel that will be closed when the next update occurs.
func (t *Tracker) Wait() <-chan struct{} {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.notify
}

// signal closes the current notify channel and replaces it with a new one.
// Must be called with t.mu held.
func (t *Tracker) signal() {
	close(t.notify)
	t.notify = make(chan struct{})
}

func (t *Tracker) begin(runID string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.runID = runID
	t.state = StateStart
	t.startTime = time.Now()
	t.done, t.success, t.reason = false, false, ""
	t.recentEvents = nil
	t.signal()
}

func (t *Tracker) setState(s State) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.state = s
	t.signal()
}

func (t *Tracker) finish(success bool, reason string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.state = StateDone
	t.done = true
	t.success = success
	t.reason = reason
	t.indeterminate = false
	if success {
		t.fraction = 1
	}
	t.signal()
}

// UpdateTitle sets the coarse stage text.
func (t *Tracker) UpdateTitle(text string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.title = text
	t.signal()
}

// UpdateItem sets the current item text.
func (t *Tracker) UpdateItem(text string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.item = text
	t.signal()
}

// ResetProgress clears the bar.
func (t *Tracker) ResetProgress() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.fraction = 0
	t.indeterminate = false
	t.syncCount, t.syncTotal = 0, 0
	t.signal()
}

// SetIndeterminate switches the bar to an activity indicator.
func (t *Tracker) SetIndeterminate() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.indeterminate = true
	t.signal()
}

// UpdateProgress sets the bar to fraction, clamped to [0, 1].
func (t *Tracker) UpdateProgress(fraction float64) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.fraction = clamp(fraction)
	t.indeterminate = false
	t.signal()
}

// SyncEntry records one processed content-sync entry.
func (t *Tracker) SyncEntry(remote string, p syncer.Progress) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.syncCount, t.syncTotal = p.Count, p.Total
	switch {
	case p.Err != nil:
		t.addRecentEvent(FileEvent{Path: path.Join(remote, p.Name), Status: recentStatusFailed, Error: p.Err.Error()})
	case p.Action == syncer.ActionDownload:
		t.addRecentEvent(FileEvent{Path: path.Join(remote, p.Name), Status: recentStatusDownloaded})
	}
	t.signal()
}

// addRecentEvent prepends an event to the rolling log. Must be called with t.mu held.
func (t *Tracker) addRecentEvent(ev FileEvent) {
	t.recentEvents = append([]FileEvent{ev}, t.recentEvents...)
	if len(t.recentEvents) > maxRecentEvents {
		t.recentEvents = t.recentEvents[:maxRecentEvents]
	}
}

func clamp(f float64) float64 {
	switch {
	case f < 0:
		return 0
	case f > 1:
		return 1
	}
	return f
}
