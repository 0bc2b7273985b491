// Package engine runs the install state machine: resolve the remote config,
// provision the game environment, then sync content, reporting progress to
// an observer and recording each run in the store.
package engine

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"

	"github.com/hominum/launcher/internal/auth"
	"github.com/hominum/launcher/internal/provision"
	"github.com/hominum/launcher/internal/remote"
	"github.com/hominum/launcher/internal/remoteconfig"
	"github.com/hominum/launcher/internal/store"
	"github.com/hominum/launcher/internal/syncer"
	"github.com/hominum/launcher/internal/version"
)

// Failure reasons reported in Outcome.Reason.
const (
	ReasonAuthentication    = "authentication"
	ReasonRemoteConfig      = "remote configuration"
	ReasonVersionResolution = "version resolution"
	ReasonProvisioning      = "provisioning"
	ReasonContentSync       = "content sync"
	ReasonCancelled         = "cancelled"
)

var errNoProvisioner = errors.New("no environment provisioner configured")

// RunError is returned when a run ends in failure.
type RunError struct {
	State  State
	Reason string
	Err    error
}

func (e *RunError) Error() string {
	if e.Err == nil {
		return fmt.Sprintf("install failed (%s) during %s", e.Reason, e.State)
	}
	return fmt.Sprintf("install failed (%s) during %s: %v", e.Reason, e.State, e.Err)
}

func (e *RunError) Unwrap() error { return e.Err }

// TreeSource fetches the remote content listing.
type TreeSource interface {
	FetchTree(ctx context.Context) (*remote.Tree, error)
}

// ConfigSource resolves the remote config document from a listing.
type ConfigSource interface {
	FetchConfig(ctx context.Context, tree *remote.Tree) (*remoteconfig.Config, error)
}

// SessionSource supplies the authenticated session.
type SessionSource interface {
	GetSession(email string) (*auth.Session, error)
	RefreshOrValidate(s *auth.Session) (*auth.Session, error)
}

// EnvironmentProvisioner builds a runnable game environment.
type EnvironmentProvisioner interface {
	Provision(ctx context.Context, req provision.Request, obs provision.Observer) (*provision.Environment, error)
}

// SyncObserver is implemented by observers that also want every processed
// content-sync entry. Tracker implements it.
type SyncObserver interface {
	SyncEntry(remote string, p syncer.Progress)
}

// Deps are the collaborators of an Orchestrator.
type Deps struct {
	Tree        TreeSource
	Config      ConfigSource
	Sessions    SessionSource
	Versions    *version.Builder
	Provisioner EnvironmentProvisioner
	Syncer      *syncer.Syncer
	Store       *store.Store
}

// Outcome describes a finished run.
type Outcome struct {
	RunID       string
	State       State // last state entered before Done
	Success     bool
	Reason      string
	Descriptor  *version.Descriptor
	Environment *provision.Environment
	Reports     []*syncer.Report
	FilesSynced int
	StartTime   time.Time
	EndTime     time.Time
}

// Orchestrator runs install and sync passes. Callers must not run two
// passes against the same work directory at once.
type Orchestrator struct {
	deps   Deps
	logger *slog.Logger
}

// NewOrchestrator wires deps together. Files removed by content sync are
// also dropped from the store's synced-file index.
func NewOrchestrator(deps Deps, logger *slog.Logger) *Orchestrator {
	if logger == nil {
		logger = slog.Default()
	}
	if deps.Versions == nil {
		deps.Versions = version.NewBuilder(logger)
	}
	if deps.Syncer != nil && deps.Store != nil {
		st := deps.Store
		deps.Syncer.OnDeleted = func(rel string) {
			if err := st.ForgetSyncedFile(rel); err != nil {
				logger.Warn("failed to forget synced file", "path", rel, "error", err)
			}
		}
	}
	return &Orchestrator{deps: deps, logger: logger}
}

// run carries the mutable state of one pass.
type run struct {
	outcome *Outcome
	record  *store.InstallRun
	obs     provision.Observer
	tracker *Tracker
	tree    *remote.Tree
	cfg     *remoteconfig.Config
	session *auth.Session
	errors  bool
}

func (o *Orchestrator) newRun(obs provision.Observer) *run {
	if obs == nil {
		obs = provision.NopObserver{}
	}
	r := &run{
		outcome: &Outcome{RunID: uuid.NewString(), State: StateStart, StartTime: time.Now()},
		obs:     obs,
	}
	r.tracker, _ = obs.(*Tracker)
	if r.tracker != nil {
		r.tracker.begin(r.outcome.RunID)
	}
	r.record = &store.InstallRun{
		ID:        r.outcome.RunID,
		StartedAt: r.outcome.StartTime,
		State:     string(StateStart),
		Status:    store.RunRunning,
	}
	if err := o.deps.Store.CreateRun(r.record); err != nil {
		o.logger.Error("failed to create install run record", "run", r.outcome.RunID, "error", err)
	}
	return r
}

func (r *run) enter(s State) {
	r.outcome.State = s
	r.record.State = string(s)
	if r.tracker != nil {
		r.tracker.setState(s)
	}
}

// Install runs the full pass: session, remote config, version descriptor,
// environment, content sync. It returns the outcome and, on failure, a
// *RunError. Cancelling ctx aborts at the next check and the error wraps
// provision.ErrKilled.
func (o *Orchestrator) Install(ctx context.Context, obs provision.Observer) (*Outcome, error) {
	r := o.newRun(obs)
	o.logger.Info("install started", "run", r.outcome.RunID)
	if o.deps.Provisioner == nil {
		return o.fail(r, ReasonProvisioning, errNoProvisioner)
	}

	// Start: the session is a hard precondition.
	session, err := o.session()
	if err != nil {
		return o.fail(r, ReasonAuthentication, err)
	}
	if session == nil {
		return o.fail(r, ReasonAuthentication, auth.ErrNoSession)
	}
	r.session = session

	if err := o.resolve(ctx, r); err != nil {
		return o.fail(r, reasonFor(ctx, err, ReasonRemoteConfig), err)
	}

	desc, err := o.deps.Versions.Build(r.cfg)
	if err != nil {
		return o.fail(r, ReasonVersionResolution, err)
	}
	autojoin := true
	if _, err := o.deps.Store.Get(store.SectionGame, store.KeyAutoJoin, &autojoin); err != nil {
		o.logger.Warn("failed to read autojoin setting", "error", err)
	}
	o.deps.Versions.ApplyAutoJoin(desc, r.cfg.Server, autojoin)
	r.outcome.Descriptor = desc
	r.record.Variant = string(desc.Variant)
	r.record.VersionID = desc.ID()

	if err := killCheck(ctx); err != nil {
		return o.fail(r, ReasonCancelled, err)
	}

	r.enter(StateProvisioning)
	r.obs.UpdateTitle("Installing " + desc.String())
	r.obs.SetIndeterminate()
	env, err := o.deps.Provisioner.Provision(ctx, provision.Request{
		Descriptor: desc,
		Session:    session,
		JVMArgs:    o.jvmArgs(),
	}, r.obs)
	if err != nil {
		if errors.Is(err, provision.ErrKilled) {
			return o.fail(r, ReasonCancelled, err)
		}
		// a game that failed to install is not worth syncing content for
		r.errors = true
		return o.fail(r, ReasonProvisioning, err)
	}
	r.outcome.Environment = env
	r.record.VersionID = env.VersionID

	if err := o.syncAll(ctx, r, o.firstStart()); err != nil {
		return o.fail(r, reasonFor(ctx, err, ReasonContentSync), err)
	}
	if r.errors {
		return o.fail(r, ReasonContentSync, errSyncIncomplete(r.outcome.Reports))
	}

	if err := o.deps.Store.Set(store.SectionGame, store.KeyEnvironment, env); err != nil {
		return o.fail(r, ReasonContentSync, fmt.Errorf("persist environment: %w", err))
	}
	if err := o.deps.Store.Set(store.SectionGame, store.KeyFirstStart, false); err != nil {
		return o.fail(r, ReasonContentSync, fmt.Errorf("clear first start: %w", err))
	}
	return o.succeed(r), nil
}

// SyncContent fetches the remote config and runs the sync paths without
// provisioning. First-start-only paths follow the stored flag, which is left
// unchanged.
func (o *Orchestrator) SyncContent(ctx context.Context, obs provision.Observer) (*Outcome, error) {
	r := o.newRun(obs)
	o.logger.Info("content sync started", "run", r.outcome.RunID)

	if err := o.resolve(ctx, r); err != nil {
		return o.fail(r, reasonFor(ctx, err, ReasonRemoteConfig), err)
	}
	if err := o.syncAll(ctx, r, o.firstStart()); err != nil {
		return o.fail(r, reasonFor(ctx, err, ReasonContentSync), err)
	}
	if r.errors {
		return o.fail(r, ReasonContentSync, errSyncIncomplete(r.outcome.Reports))
	}
	return o.succeed(r), nil
}

func (o *Orchestrator) session() (*auth.Session, error) {
	var email string
	if _, err := o.deps.Store.Get(store.SectionUser, store.KeyEmail, &email); err != nil {
		return nil, fmt.Errorf("read user email: %w", err)
	}
	s, err := o.deps.Sessions.GetSession(email)
	if err != nil || s == nil {
		return nil, err
	}
	return o.deps.Sessions.RefreshOrValidate(s)
}

func (o *Orchestrator) resolve(ctx context.Context, r *run) error {
	r.enter(StateResolvingConfig)
	r.obs.UpdateTitle("Fetching remote configuration")
	r.obs.SetIndeterminate()

	tree, err := o.deps.Tree.FetchTree(ctx)
	if err != nil {
		return err
	}
	if tree.Len() == 0 {
		o.logger.Warn("remote tree is empty")
	}
	cfg, err := o.deps.Config.FetchConfig(ctx, tree)
	if err != nil {
		return err
	}
	r.tree, r.cfg = tree, cfg
	o.logger.Info("remote config resolved", "game", cfg.SelectedGame, "sync_paths", len(cfg.SyncPaths))
	return killCheck(ctx)
}

// syncAll runs the configured sync paths in order. Entry failures are
// accumulated in r.errors; only cancellation or a broken local root stops
// the loop with an error.
func (o *Orchestrator) syncAll(ctx context.Context, r *run, firstStart bool) error {
	r.enter(StateSyncingContent)
	r.obs.UpdateTitle("Beginning Sync")
	r.obs.SetIndeterminate()
	so, _ := r.obs.(SyncObserver)

	for _, sp := range r.cfg.SyncPaths {
		if err := killCheck(ctx); err != nil {
			return err
		}
		if sp.Policy.FirstStartOnly && !firstStart {
			o.logger.Debug("skipping first-start-only path", "path", sp.Remote)
			continue
		}

		r.obs.UpdateTitle(sp.Remote)
		r.obs.ResetProgress()
		report, err := o.deps.Syncer.Sync(ctx, r.tree, sp, func(p syncer.Progress) {
			verb := "Preparing"
			if p.Action == syncer.ActionDownload {
				verb = "Downloading"
			}
			r.obs.UpdateItem(fmt.Sprintf("%s: %s", verb, p.Name))
			if p.Total > 0 {
				r.obs.UpdateProgress(float64(p.Count) / float64(p.Total))
			}
			if so != nil {
				so.SyncEntry(sp.Remote, p)
			}
			if p.Action == syncer.ActionDownload {
				o.recordSynced(r, sp.Remote, p.Local)
			}
		})
		if report != nil {
			r.outcome.Reports = append(r.outcome.Reports, report)
			r.outcome.FilesSynced += report.Downloaded
		}
		if err != nil {
			if ctx.Err() != nil {
				return killCheck(ctx)
			}
			o.logger.Error("sync path failed", "path", sp.Remote, "error", err)
			r.errors = true
			continue
		}
		if !report.OK() {
			r.errors = true
		}
	}
	return nil
}

func (o *Orchestrator) recordSynced(r *run, syncPath, rel string) {
	if rel == "" {
		return
	}
	f := &store.SyncedFile{Path: rel, SyncPath: syncPath, RunID: r.outcome.RunID, SyncedAt: time.Now()}
	if fi, err := os.Stat(filepath.Join(o.deps.Syncer.WorkDir(), filepath.FromSlash(rel))); err == nil {
		f.Size = fi.Size()
	}
	if err := o.deps.Store.RecordSyncedFile(f); err != nil {
		o.logger.Warn("failed to record synced file", "path", rel, "error", err)
	}
}

func (o *Orchestrator) jvmArgs() []string {
	var heap, extra []string
	if _, err := o.deps.Store.Get(store.SectionGame, store.KeyRAMJVMArgs, &heap); err != nil {
		o.logger.Warn("failed to read heap jvm args", "error", err)
	}
	if _, err := o.deps.Store.Get(store.SectionGame, store.KeyAdditionalJVMArgs, &extra); err != nil {
		o.logger.Warn("failed to read extra jvm args", "error", err)
	}
	return append(heap, extra...)
}

func (o *Orchestrator) firstStart() bool {
	first := true
	if _, err := o.deps.Store.Get(store.SectionGame, store.KeyFirstStart, &first); err != nil {
		o.logger.Warn("failed to read first start flag", "error", err)
	}
	return first
}

func (o *Orchestrator) succeed(r *run) *Outcome {
	r.outcome.Success = true
	r.outcome.EndTime = time.Now()
	r.obs.UpdateTitle("Install complete")
	r.obs.UpdateItem("")
	if r.tracker != nil {
		r.tracker.finish(true, "")
	}
	r.record.Status = store.RunSuccess
	r.record.EndedAt = r.outcome.EndTime
	r.record.FilesSynced = r.outcome.FilesSynced
	o.saveRecord(r)
	o.logger.Info("install finished", "run", r.outcome.RunID, "files_synced", r.outcome.FilesSynced,
		"elapsed", r.outcome.EndTime.Sub(r.outcome.StartTime).Truncate(time.Millisecond))
	return r.outcome
}

func (o *Orchestrator) fail(r *run, reason string, err error) (*Outcome, error) {
	r.outcome.Reason = reason
	r.outcome.EndTime = time.Now()
	r.record.EndedAt = r.outcome.EndTime
	r.record.FilesSynced = r.outcome.FilesSynced
	if err != nil {
		r.record.ErrorMessage = err.Error()
	}

	if reason == ReasonCancelled {
		if !errors.Is(err, provision.ErrKilled) {
			err = fmt.Errorf("%w: %w", provision.ErrKilled, err)
		}
		r.record.Status = store.RunCancelled
		r.obs.UpdateTitle("Install cancelled")
		o.logger.Info("install cancelled", "run", r.outcome.RunID, "state", r.outcome.State)
	} else {
		r.record.Status = store.RunFailed
		r.obs.UpdateTitle("Install failed: " + reason)
		o.logger.Error("install failed", "run", r.outcome.RunID, "state", r.outcome.State,
			"reason", reason, "error", err)
	}
	if r.tracker != nil {
		r.tracker.finish(false, reason)
	}
	o.saveRecord(r)
	return r.outcome, &RunError{State: r.outcome.State, Reason: reason, Err: err}
}

func (o *Orchestrator) saveRecord(r *run) {
	if err := o.deps.Store.UpdateRun(r.record); err != nil {
		o.logger.Error("failed to update install run record", "run", r.record.ID, "error", err)
	}
}

// killCheck reports cancellation as provision.ErrKilled.
func killCheck(ctx context.Context) error {
	if ctx.Err() == nil {
		return nil
	}
	if cause := context.Cause(ctx); cause != nil && !errors.Is(cause, context.Canceled) {
		return fmt.Errorf("%w: %w", provision.ErrKilled, cause)
	}
	return provision.ErrKilled
}

func reasonFor(ctx context.Context, err error, fallback string) string {
	if ctx.Err() != nil || errors.Is(err, provision.ErrKilled) {
		return ReasonCancelled
	}
	return fallback
}

func errSyncIncomplete(reports []*syncer.Report) error {
	failed := 0
	for _, r := range reports {
		failed += len(r.Failed)
	}
	if failed == 0 {
		return fmt.Errorf("content sync reported errors")
	}
	return fmt.Errorf("content sync: %d entries failed", failed)
}
