package gamelib

import (
	"context"
	"fmt"
	"log/slog"
	"net/url"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/hominum/launcher/internal/download"
	"github.com/hominum/launcher/internal/provision"
	"github.com/hominum/launcher/internal/safety"
	"github.com/hominum/launcher/internal/version"
)

// MirrorInstaller implements provision.Installer against a version mirror.
type MirrorInstaller struct {
	mirror  *url.URL
	dir     string
	client  *download.Client
	workers int
	logger  *slog.Logger
}

// NewMirrorInstaller installs into dir from the mirror at mirrorURL using
// workers parallel downloads.
func NewMirrorInstaller(mirrorURL, dir string, workers int, client *download.Client, logger *slog.Logger) (*MirrorInstaller, error) {
	u, err := safety.ValidateHTTPURL(mirrorURL)
	if err != nil {
		return nil, fmt.Errorf("mirror url: %w", err)
	}
	// manifest file URLs resolve relative to the mirror root
	if !strings.HasSuffix(u.Path, "/") {
		u.Path += "/"
	}
	if dir == "" {
		return nil, fmt.Errorf("install directory is required")
	}
	if logger == nil {
		logger = slog.Default()
	}
	if client == nil {
		client = download.NewClient(logger)
	}
	if workers <= 0 {
		workers = 4
	}
	return &MirrorInstaller{mirror: u, dir: dir, client: client, workers: workers, logger: logger}, nil
}

// Install resolves the manifest for d, reports the install lifecycle to watch
// and downloads whatever is missing.
func (m *MirrorInstaller) Install(ctx context.Context, d *version.Descriptor, watch provision.Watcher) (*provision.Environment, error) {
	id := d.ID()
	if err := watch(provision.VersionLoading{Version: id}); err != nil {
		return nil, err
	}

	man, err := m.loadManifest(ctx, id, watch)
	if err != nil {
		return nil, err
	}

	if err := watch(provision.JvmLoading{Version: id}); err != nil {
		return nil, err
	}
	if err := watch(provision.JvmLoaded{Kind: man.Java.Component, Version: strconv.Itoa(man.Java.Major)}); err != nil {
		return nil, err
	}
	if man.Count(KindClient) > 0 {
		if err := watch(provision.JarFound{Version: id}); err != nil {
			return nil, err
		}
	}
	if err := watch(provision.AssetsResolve{Index: man.AssetIndex.ID, Count: man.AssetIndex.Count}); err != nil {
		return nil, err
	}
	if err := watch(provision.LibrariesResolving{Version: id}); err != nil {
		return nil, err
	}
	if err := watch(provision.LibrariesResolved{Count: man.Count(KindLibrary)}); err != nil {
		return nil, err
	}
	if man.Logging != "" {
		if err := watch(provision.LoggerFound{Version: man.Logging}); err != nil {
			return nil, err
		}
	}
	switch {
	case man.Loader != nil:
		if err := watch(provision.LoaderResolve{Loader: man.Loader.Name, Version: man.Loader.Version}); err != nil {
			return nil, err
		}
	case man.Forge != nil:
		if err := watch(provision.ForgeResolve{Version: man.Forge.Version}); err != nil {
			return nil, err
		}
	}

	if err := m.downloadFiles(ctx, man, watch); err != nil {
		return nil, err
	}

	if man.Forge != nil {
		for _, task := range man.Forge.Processors {
			if err := watch(provision.ForgePostProcessing{Task: task}); err != nil {
				return nil, err
			}
		}
		if err := watch(provision.ForgePostProcessed{}); err != nil {
			return nil, err
		}
	}

	return m.environment(man, d)
}

// loadManifest reuses an installed manifest or fetches it from the mirror.
func (m *MirrorInstaller) loadManifest(ctx context.Context, id string, watch provision.Watcher) (*Manifest, error) {
	local, err := safety.JoinUnder(m.dir, "versions/"+id+"/"+id+".json")
	if err != nil {
		return nil, fmt.Errorf("version %q: %w", id, err)
	}

	if man, err := readManifest(local); err == nil {
		m.logger.Debug("using installed manifest", "version", id)
		return man, watch(provision.VersionLoaded{Version: id})
	}

	if err := watch(provision.VersionFetching{Version: id}); err != nil {
		return nil, err
	}
	src := m.mirror.JoinPath("versions", id+".json")
	if _, err := m.client.Fetch(ctx, download.FileRequest{URL: src.String(), DestPath: local}); err != nil {
		return nil, fmt.Errorf("fetch manifest %s: %w", id, err)
	}
	man, err := readManifest(local)
	if err != nil {
		_ = os.Remove(local)
		return nil, err
	}
	return man, watch(provision.VersionLoaded{Version: id, Fetched: true})
}

// pending returns jobs for files that are absent or have the wrong size.
func (m *MirrorInstaller) pending(man *Manifest) ([]download.Job, int64, error) {
	var jobs []download.Job
	var total int64
	for _, f := range man.Files {
		dest, err := safety.JoinUnder(m.dir, f.Path)
		if err != nil {
			return nil, 0, fmt.Errorf("manifest %s: %w", man.ID, err)
		}
		if fi, err := os.Stat(dest); err == nil && (f.Size == 0 || fi.Size() == f.Size) {
			continue
		}
		src, err := m.mirror.Parse(f.URL)
		if err != nil {
			return nil, 0, fmt.Errorf("manifest %s: file url %q: %w", man.ID, f.URL, err)
		}
		jobs = append(jobs, download.Job{
			URL:      src.String(),
			DestPath: dest,
			SHA256:   f.SHA256,
			Size:     f.Size,
			Name:     filepath.Base(f.Path),
		})
		total += f.Size
	}
	return jobs, total, nil
}

// workerStats tracks one pool worker for progress events.
type workerStats struct {
	finished int64 // bytes of jobs this worker completed
	current  int64 // bytes of the job in flight
}

func (m *MirrorInstaller) downloadFiles(ctx context.Context, man *Manifest, watch provision.Watcher) error {
	jobs, total, err := m.pending(man)
	if err != nil {
		return err
	}
	if len(jobs) == 0 {
		return nil
	}

	pool := download.NewPool(m.client, m.workers, m.logger)
	if err := watch(provision.DownloadStart{Entries: len(jobs), Size: total, Threads: pool.Workers()}); err != nil {
		return err
	}

	dctx, cancel := context.WithCancel(ctx)
	defer cancel()

	var (
		mu       sync.Mutex
		stats    = make(map[int]*workerStats)
		count    int
		watchErr error
		started  = time.Now()
	)
	// report must be called with mu held; it serializes the watcher.
	report := func(worker int, entry string, done bool) {
		if watchErr != nil {
			return
		}
		st := stats[worker]
		size := st.finished + st.current
		speed := 0.0
		if secs := time.Since(started).Seconds(); secs > 0 {
			speed = float64(size) / secs
		}
		err := watch(provision.DownloadProgress{
			ThreadID: worker,
			Count:    count,
			Entry:    entry,
			Size:     size,
			Speed:    speed,
			Done:     done,
		})
		if err != nil {
			watchErr = err
			cancel()
		}
	}
	stat := func(worker int) *workerStats {
		st, ok := stats[worker]
		if !ok {
			st = &workerStats{}
			stats[worker] = st
		}
		return st
	}

	pool.OnProgress = func(worker int, job download.Job, written, _ int64) {
		mu.Lock()
		defer mu.Unlock()
		stat(worker).current = written
		report(worker, job.Name, false)
	}
	pool.OnComplete = func(worker int, res download.Result) {
		mu.Lock()
		defer mu.Unlock()
		st := stat(worker)
		st.current = 0
		if res.OK() {
			st.finished += res.File.Size
		}
		count++
		report(worker, res.Job.Name, true)
	}

	results := pool.Execute(dctx, jobs)

	mu.Lock()
	err = watchErr
	mu.Unlock()
	if err != nil {
		return err
	}

	failed := 0
	var firstErr error
	for _, r := range results {
		if !r.OK() {
			failed++
			if firstErr == nil {
				firstErr = fmt.Errorf("%s: %w", r.Job.Name, r.Err)
			}
		}
	}
	if failed > 0 {
		return fmt.Errorf("%d of %d files failed: %w", failed, len(jobs), firstErr)
	}
	return watch(provision.DownloadComplete{})
}

func (m *MirrorInstaller) environment(man *Manifest, d *version.Descriptor) (*provision.Environment, error) {
	env := &provision.Environment{
		VersionID: man.ID,
		Dir:       m.dir,
		MainClass: man.MainClass,
		JVMArgs:   append([]string(nil), man.JVMArgs...),
		GameArgs:  append([]string(nil), man.GameArgs...),
	}
	for _, f := range man.Files {
		if f.Kind == KindLibrary || f.Kind == KindClient {
			p, err := safety.JoinUnder(m.dir, f.Path)
			if err != nil {
				return nil, err
			}
			env.ClassPath = append(env.ClassPath, p)
		}
	}
	if d.Session != nil {
		env.GameArgs = append(env.GameArgs, "--username", d.Session.Username, "--uuid", d.Session.UUID)
	}
	if d.QuickPlay != nil {
		env.GameArgs = append(env.GameArgs, d.QuickPlay.Args()...)
	}
	return env, nil
}
