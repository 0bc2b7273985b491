// Package syncer reconciles local files with the remote content tree
// according to each sync path's policy.
package syncer

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path"
	"path/filepath"
	"strings"
	"time"

	"github.com/hominum/launcher/internal/remote"
	"github.com/hominum/launcher/internal/remoteconfig"
	"github.com/hominum/launcher/internal/safety"
)

// ActionType is what happened to one entry during a sync.
type ActionType string

const (
	ActionDownload ActionType = "download"
	ActionSkip     ActionType = "skip"
	ActionMkdir    ActionType = "mkdir"
	ActionMissing  ActionType = "missing"
	ActionFailed   ActionType = "failed"
)

// Progress is reported after every processed entry of a sync path.
type Progress struct {
	Count  int    // entries processed so far
	Total  int    // entries to process for this sync path
	Name   string // entry path relative to the sync path
	Local  string // destination relative to the work directory
	Action ActionType
	Err    error // non-nil when this entry failed
}

// ProgressFunc receives Progress from the syncing goroutine.
type ProgressFunc func(Progress)

// Report summarizes one sync path.
type Report struct {
	Remote     string
	StartTime  time.Time
	EndTime    time.Time
	Downloaded int
	Skipped    int
	Dirs       int
	Deleted    int
	Missing    int
	Failed     []FailedEntry
}

// FailedEntry is an entry that could not be synced.
type FailedEntry struct {
	Path  string
	Error string
}

// OK reports whether every entry synced.
func (r *Report) OK() bool { return len(r.Failed) == 0 }

// BlobDownloader writes remote blobs to local files atomically.
type BlobDownloader interface {
	DownloadBlob(ctx context.Context, ref remote.BlobRef, dest string) error
}

// Syncer writes remote content under a work directory.
type Syncer struct {
	blobs   BlobDownloader
	workDir string
	logger  *slog.Logger

	// OnSynced is called after a file was downloaded, with the remote path
	// and the path relative to the work directory.
	OnSynced func(remotePath, localRel string, size int64)
	// OnDeleted is called after delete_others removed a file.
	OnDeleted func(localRel string)
}

// New creates a Syncer rooted at workDir.
func New(blobs BlobDownloader, workDir string, logger *slog.Logger) *Syncer {
	if logger == nil {
		logger = slog.Default()
	}
	return &Syncer{blobs: blobs, workDir: workDir, logger: logger}
}

// WorkDir returns the directory all local roots are resolved under.
func (s *Syncer) WorkDir() string { return s.workDir }

// Sync runs one configured sync path, as a single file or as a directory.
func (s *Syncer) Sync(ctx context.Context, tree *remote.Tree, sp remoteconfig.SyncPath, progress ProgressFunc) (*Report, error) {
	if sp.Policy.IsDirectory {
		return s.SyncDirectory(ctx, tree, sp.Remote, sp.Policy, progress)
	}

	report := &Report{Remote: sp.Remote, StartTime: time.Now()}
	defer func() { report.EndTime = time.Now() }()

	p := Progress{Count: 1, Total: 1, Name: path.Base(sp.Remote), Local: sp.Policy.LocalRoot}
	downloaded, err := s.SyncFile(ctx, tree, sp.Remote, sp.Policy.LocalRoot, sp.Policy.OverwriteExisting)
	switch {
	case err != nil && ctx.Err() != nil:
		return report, ctx.Err()
	case err != nil:
		p.Action, p.Err = ActionFailed, err
		report.Failed = append(report.Failed, FailedEntry{Path: sp.Remote, Error: err.Error()})
	case downloaded:
		p.Action = ActionDownload
		report.Downloaded++
	default:
		if _, ok := tree.Resolve(sp.Remote); !ok {
			p.Action = ActionMissing
			report.Missing++
		} else {
			p.Action = ActionSkip
			report.Skipped++
		}
	}
	if progress != nil {
		progress(p)
	}
	return report, nil
}

// SyncFile downloads remotePath to localRel (relative to the work directory).
// A remote path missing from tree is skipped with a warning. With overwrite
// an existing local file is replaced; otherwise it is left alone. It reports
// whether a download happened.
func (s *Syncer) SyncFile(ctx context.Context, tree *remote.Tree, remotePath, localRel string, overwrite bool) (bool, error) {
	ref, ok := tree.Resolve(remotePath)
	if !ok {
		s.logger.Warn("remote path not found", "path", remotePath)
		return false, nil
	}
	dest, err := safety.JoinUnder(s.workDir, localRel)
	if err != nil {
		return false, fmt.Errorf("local path for %s: %w", remotePath, err)
	}
	return s.syncBlob(ctx, ref, remotePath, dest, overwrite)
}

func (s *Syncer) syncBlob(ctx context.Context, ref remote.BlobRef, remotePath, dest string, overwrite bool) (bool, error) {
	if err := os.MkdirAll(filepath.Dir(dest), 0o755); err != nil {
		return false, fmt.Errorf("create parent of %s: %w", dest, err)
	}

	if overwrite {
		if err := os.Remove(dest); err == nil {
			s.logger.Debug("removed existing file", "path", dest)
		} else if !errors.Is(err, fs.ErrNotExist) {
			return false, fmt.Errorf("remove %s: %w", dest, err)
		}
	}
	fi, err := os.Stat(dest)
	if err == nil {
		if fi.IsDir() {
			return false, fmt.Errorf("%s is a directory", dest)
		}
		s.logger.Debug("already exists, skipping", "path", remotePath)
		return false, nil
	}
	if !errors.Is(err, fs.ErrNotExist) {
		return false, err
	}

	if err := s.blobs.DownloadBlob(ctx, ref, dest); err != nil {
		return false, fmt.Errorf("download %s: %w", remotePath, err)
	}
	if s.OnSynced != nil {
		var size int64
		if fi, err := os.Stat(dest); err == nil {
			size = fi.Size()
		}
		s.OnSynced(remotePath, s.rel(dest), size)
	}
	return true, nil
}

// SyncDirectory mirrors every remote entry under prefix into policy.LocalRoot.
// Entries matching an exclude substring are ignored. An entry whose last
// segment has no extension is a directory marker and is created empty.
// With DeleteOthers, local files whose name does not occur in any remaining
// remote entry are removed first. A failing entry is reported through
// progress and the sync moves on; only cancellation stops it early.
func (s *Syncer) SyncDirectory(ctx context.Context, tree *remote.Tree, prefix string, policy remoteconfig.SyncPolicy, progress ProgressFunc) (*Report, error) {
	report := &Report{Remote: prefix, StartTime: time.Now()}
	defer func() { report.EndTime = time.Now() }()

	root, err := safety.JoinUnder(s.workDir, policy.LocalRoot)
	if err != nil {
		return report, fmt.Errorf("local root for %s: %w", prefix, err)
	}
	if err := os.MkdirAll(root, 0o755); err != nil {
		return report, fmt.Errorf("create %s: %w", root, err)
	}

	var entries []string
	for _, p := range tree.ListUnder(prefix) {
		if policy.Excluded(p) {
			s.logger.Debug("excluded", "path", p)
			continue
		}
		if relative(prefix, p) == "" {
			continue
		}
		entries = append(entries, p)
	}
	if len(entries) == 0 {
		s.logger.Warn("no remote files under sync path", "path", prefix)
	}

	if policy.DeleteOthers {
		n, err := s.deleteOthers(ctx, root, prefix, entries, policy)
		report.Deleted = n
		if err != nil {
			return report, err
		}
	}

	for i, p := range entries {
		if err := ctx.Err(); err != nil {
			return report, err
		}
		rel := relative(prefix, p)
		ev := Progress{Count: i + 1, Total: len(entries), Name: rel}
		var dest string
		ev.Action, dest, ev.Err = s.syncEntry(ctx, tree, p, root, rel, policy.OverwriteExisting)
		if dest != "" {
			ev.Local = s.rel(dest)
		}
		if ev.Err != nil && ctx.Err() != nil {
			return report, ctx.Err()
		}

		switch ev.Action {
		case ActionDownload:
			report.Downloaded++
		case ActionSkip:
			report.Skipped++
		case ActionMkdir:
			report.Dirs++
		case ActionMissing:
			report.Missing++
		case ActionFailed:
			s.logger.Warn("sync entry failed", "path", p, "error", ev.Err)
			report.Failed = append(report.Failed, FailedEntry{Path: p, Error: ev.Err.Error()})
		}
		if progress != nil {
			progress(ev)
		}
	}

	s.logger.Info("synced path", "path", prefix, "downloaded", report.Downloaded,
		"skipped", report.Skipped, "deleted", report.Deleted, "failed", len(report.Failed))
	return report, nil
}

func (s *Syncer) syncEntry(ctx context.Context, tree *remote.Tree, remotePath, root, rel string, overwrite bool) (ActionType, string, error) {
	dest, err := safety.JoinUnder(root, rel)
	if err != nil {
		return ActionFailed, "", err
	}

	if isDirMarker(rel) {
		if err := os.MkdirAll(dest, 0o755); err != nil {
			return ActionFailed, dest, fmt.Errorf("create directory %s: %w", rel, err)
		}
		return ActionMkdir, dest, nil
	}

	ref, ok := tree.Resolve(remotePath)
	if !ok {
		s.logger.Warn("remote path not found", "path", remotePath)
		return ActionMissing, dest, nil
	}
	downloaded, err := s.syncBlob(ctx, ref, remotePath, dest, overwrite)
	if err != nil {
		return ActionFailed, dest, err
	}
	if downloaded {
		return ActionDownload, dest, nil
	}
	return ActionSkip, dest, nil
}

// deleteOthers removes local files under root that no remote entry names.
// The comparison is by file name only: a local file survives when its base
// name occurs anywhere in a remote entry path. Exclude substrings are matched
// against both the local relative path and its remote form under prefix.
func (s *Syncer) deleteOthers(ctx context.Context, root, prefix string, entries []string, policy remoteconfig.SyncPolicy) (int, error) {
	deleted := 0
	err := filepath.WalkDir(root, func(p string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if err := ctx.Err(); err != nil {
			return err
		}
		if !d.Type().IsRegular() {
			return nil
		}
		rel, err := filepath.Rel(root, p)
		if err != nil {
			return err
		}
		rel = filepath.ToSlash(rel)
		if policy.Excluded(rel) || policy.Excluded(remotePath(prefix, rel)) || listed(d.Name(), entries) {
			return nil
		}
		if err := os.Remove(p); err != nil {
			s.logger.Warn("failed to remove stale file", "path", p, "error", err)
			return nil
		}
		deleted++
		s.logger.Info("removed stale file", "path", p)
		if s.OnDeleted != nil {
			s.OnDeleted(s.rel(p))
		}
		return nil
	})
	if err != nil {
		return deleted, fmt.Errorf("delete stale files in %s: %w", root, err)
	}
	return deleted, nil
}

func (s *Syncer) rel(p string) string {
	abs, err := filepath.Abs(s.workDir)
	if err != nil {
		return p
	}
	r, err := filepath.Rel(abs, p)
	if err != nil {
		return p
	}
	return filepath.ToSlash(r)
}

// remotePath is the tree path a local file under prefix would have.
func remotePath(prefix, rel string) string {
	return path.Join(strings.TrimSuffix(prefix, "/"), rel)
}

// relative strips prefix and any leading slash left behind.
func relative(prefix, p string) string {
	return strings.TrimLeft(strings.TrimPrefix(p, prefix), "/")
}

// isDirMarker reports whether the last segment lacks an extension. A
// directory named "v1.2" counts as a file and a file without an extension
// counts as a directory; the remote listing carries no type to tell them apart.
func isDirMarker(rel string) bool {
	return path.Ext(strings.TrimRight(rel, "/")) == ""
}

func listed(name string, entries []string) bool {
	for _, e := range entries {
		if strings.Contains(e, name) {
			return true
		}
	}
	return false
}
