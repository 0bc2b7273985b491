package gamelib

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"sync/atomic"
	"testing"

	"github.com/hominum/launcher/internal/auth"
	"github.com/hominum/launcher/internal/provision"
	"github.com/hominum/launcher/internal/version"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func sum(b []byte) string {
	s := sha256.Sum256(b)
	return hex.EncodeToString(s[:])
}

// mirror serves manifests under /versions and file bodies under /files.
type mirror struct {
	*httptest.Server
	manifests map[string]*Manifest
	files     map[string][]byte
	fileHits  atomic.Int32
}

func newMirror(t *testing.T) *mirror {
	t.Helper()
	m := &mirror{manifests: map[string]*Manifest{}, files: map[string][]byte{}}
	m.Server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch {
		case strings.HasPrefix(r.URL.Path, "/versions/"):
			id := strings.TrimSuffix(strings.TrimPrefix(r.URL.Path, "/versions/"), ".json")
			man, ok := m.manifests[id]
			if !ok {
				http.NotFound(w, r)
				return
			}
			_ = json.NewEncoder(w).Encode(man)
		case strings.HasPrefix(r.URL.Path, "/files/"):
			data, ok := m.files[strings.TrimPrefix(r.URL.Path, "/files/")]
			if !ok {
				http.NotFound(w, r)
				return
			}
			m.fileHits.Add(1)
			_, _ = w.Write(data)
		default:
			http.NotFound(w, r)
		}
	}))
	t.Cleanup(m.Close)
	return m
}

func (m *mirror) addFile(man *Manifest, path, kind string, data []byte) {
	m.files[path] = data
	man.Files = append(man.Files, ManifestFile{
		Path:   path,
		URL:    "files/" + path,
		SHA256: sum(data),
		Size:   int64(len(data)),
		Kind:   kind,
	})
}

func eventNames(events []provision.Event) []string {
	var out []string
	for _, ev := range events {
		out = append(out, strings.TrimPrefix(fmt.Sprintf("%T", ev), "provision."))
	}
	return out
}

func collapse(names []string) string {
	var out []string
	for _, n := range names {
		if len(out) > 0 && out[len(out)-1] == n {
			continue
		}
		out = append(out, n)
	}
	return strings.Join(out, ",")
}

func TestInstallFabric(t *testing.T) {
	mr := newMirror(t)
	man := &Manifest{ID: "fabric-loader-latest-1.20.4", MainClass: "net.fabricmc.loader.impl.launch.knot.KnotClient"}
	man.Java.Component = "java-runtime-gamma"
	man.Java.Major = 17
	man.AssetIndex.ID = "12"
	man.AssetIndex.Count = 2
	man.Logging = "client-1.12.xml"
	man.Loader = &struct {
		Name    string `json:"name"`
		Version string `json:"version"`
	}{Name: "fabric", Version: "0.15.7"}
	mr.addFile(man, "versions/1.20.4/1.20.4.jar", KindClient, []byte("client jar"))
	mr.addFile(man, "libraries/net/fabricmc/loader.jar", KindLibrary, []byte("loader"))
	mr.addFile(man, "assets/objects/ab/abcd", KindAsset, []byte("sound"))
	mr.manifests[man.ID] = man

	dir := t.TempDir()
	inst, err := NewMirrorInstaller(mr.URL+"/", dir, 2, nil, testLogger())
	if err != nil {
		t.Fatalf("NewMirrorInstaller: %v", err)
	}

	d := &version.Descriptor{
		Variant:     version.Fabric,
		GameVersion: "1.20.4",
		Version:     "1.20.4",
		Session:     &auth.Session{Username: "Steve", UUID: "uuid-1", AccessToken: "tok"},
		QuickPlay:   &version.QuickPlay{Host: "mc.example.org", Port: 25565},
	}

	var events []provision.Event
	env, err := inst.Install(context.Background(), d, func(ev provision.Event) error {
		events = append(events, ev)
		return nil
	})
	if err != nil {
		t.Fatalf("Install: %v", err)
	}

	want := "VersionLoading,VersionFetching,VersionLoaded,JvmLoading,JvmLoaded,JarFound,AssetsResolve," +
		"LibrariesResolving,LibrariesResolved,LoggerFound,LoaderResolve,DownloadStart,DownloadProgress,DownloadComplete"
	if got := collapse(eventNames(events)); got != want {
		t.Errorf("event order:\n got %s\nwant %s", got, want)
	}

	var start provision.DownloadStart
	lastCount := 0
	for _, ev := range events {
		switch e := ev.(type) {
		case provision.DownloadStart:
			start = e
		case provision.DownloadProgress:
			if e.Count < lastCount {
				t.Errorf("download count went backwards: %d < %d", e.Count, lastCount)
			}
			lastCount = e.Count
		}
	}
	if start.Entries != 3 || start.Threads != 2 {
		t.Errorf("DownloadStart = %+v", start)
	}
	if lastCount != 3 {
		t.Errorf("final count = %d, want 3", lastCount)
	}

	got, err := os.ReadFile(filepath.Join(dir, "libraries", "net", "fabricmc", "loader.jar"))
	if err != nil || string(got) != "loader" {
		t.Errorf("library not installed: %q, %v", got, err)
	}
	if env.VersionID != man.ID || len(env.ClassPath) != 2 {
		t.Errorf("unexpected env %+v", env)
	}
	args := strings.Join(env.GameArgs, " ")
	if !strings.Contains(args, "--username Steve") || !strings.Contains(args, "--quickPlayMultiplayer mc.example.org:25565") {
		t.Errorf("game args = %q", args)
	}
	if strings.Contains(args, "tok") {
		t.Error("access token must not be written into game args")
	}

	// a second install reuses the manifest and downloads nothing
	hits := mr.fileHits.Load()
	events = nil
	if _, err := inst.Install(context.Background(), d, func(ev provision.Event) error {
		events = append(events, ev)
		return nil
	}); err != nil {
		t.Fatalf("second Install: %v", err)
	}
	if mr.fileHits.Load() != hits {
		t.Errorf("second install downloaded %d files", mr.fileHits.Load()-hits)
	}
	for _, ev := range events {
		switch e := ev.(type) {
		case provision.VersionLoaded:
			if e.Fetched {
				t.Error("second install should load the local manifest")
			}
		case provision.VersionFetching, provision.DownloadStart:
			t.Errorf("unexpected %T on second install", ev)
		}
	}
}

func TestInstallForgePostProcessing(t *testing.T) {
	mr := newMirror(t)
	man := &Manifest{ID: "forge-1.20.1-47.2.0", MainClass: "cpw.mods.bootstraplauncher.BootstrapLauncher"}
	man.Forge = &struct {
		Version    string   `json:"version"`
		Processors []string `json:"processors"`
	}{Version: "1.20.1-47.2.0", Processors: []string{"MCP_DATA", "DOWNLOAD_MOJMAPS"}}
	mr.manifests[man.ID] = man

	inst, err := NewMirrorInstaller(mr.URL, t.TempDir(), 1, nil, testLogger())
	if err != nil {
		t.Fatalf("NewMirrorInstaller: %v", err)
	}
	d := &version.Descriptor{Variant: version.Forge, GameVersion: "1.20.1", Version: "1.20.1-47.2.0"}

	var tasks []string
	var names []string
	_, err = inst.Install(context.Background(), d, func(ev provision.Event) error {
		names = append(names, strings.TrimPrefix(fmt.Sprintf("%T", ev), "provision."))
		if e, ok := ev.(provision.ForgePostProcessing); ok {
			tasks = append(tasks, e.Task)
		}
		return nil
	})
	if err != nil {
		t.Fatalf("Install: %v", err)
	}
	if strings.Join(tasks, ",") != "MCP_DATA,DOWNLOAD_MOJMAPS" {
		t.Errorf("post processing tasks = %v", tasks)
	}
	joined := strings.Join(names, ",")
	if !strings.Contains(joined, "ForgeResolve") || !strings.HasSuffix(joined, "ForgePostProcessed") {
		t.Errorf("events = %s", joined)
	}
}

func TestInstallWatcherErrorAborts(t *testing.T) {
	mr := newMirror(t)
	man := &Manifest{ID: "1.20.4", MainClass: "net.minecraft.client.main.Main"}
	mr.addFile(man, "a.bin", KindAsset, []byte("a"))
	mr.manifests[man.ID] = man

	inst, err := NewMirrorInstaller(mr.URL, t.TempDir(), 1, nil, testLogger())
	if err != nil {
		t.Fatalf("NewMirrorInstaller: %v", err)
	}
	stop := errors.New("stop")
	_, err = inst.Install(context.Background(), &version.Descriptor{Variant: version.Vanilla, GameVersion: "1.20.4", Version: "1.20.4"},
		func(ev provision.Event) error {
			if _, ok := ev.(provision.DownloadStart); ok {
				return stop
			}
			return nil
		})
	if !errors.Is(err, stop) {
		t.Fatalf("expected watcher error, got %v", err)
	}
	if mr.fileHits.Load() != 0 {
		t.Error("no file should be downloaded after the watcher aborted")
	}
}

func TestInstallUnknownVersion(t *testing.T) {
	mr := newMirror(t)
	inst, err := NewMirrorInstaller(mr.URL, t.TempDir(), 1, nil, testLogger())
	if err != nil {
		t.Fatalf("NewMirrorInstaller: %v", err)
	}
	_, err = inst.Install(context.Background(), &version.Descriptor{Variant: version.Vanilla, GameVersion: "0.0.1", Version: "0.0.1"},
		func(provision.Event) error { return nil })
	if err == nil {
		t.Fatal("expected missing manifest to fail")
	}
}

func TestInstallRejectsEscapingPaths(t *testing.T) {
	mr := newMirror(t)
	man := &Manifest{ID: "1.20.4", MainClass: "Main"}
	man.Files = []ManifestFile{{Path: "../outside.jar", URL: "files/x"}}
	mr.manifests[man.ID] = man

	inst, _ := NewMirrorInstaller(mr.URL, t.TempDir(), 1, nil, testLogger())
	_, err := inst.Install(context.Background(), &version.Descriptor{Variant: version.Vanilla, GameVersion: "1.20.4", Version: "1.20.4"},
		func(provision.Event) error { return nil })
	if err == nil {
		t.Fatal("expected path escape to be rejected")
	}
}
