package download

import (
	"context"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"testing"
	"time"
)

func TestNewPoolDefaultWorkers(t *testing.T) {
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	for _, n := range []int{0, -3} {
		if got := NewPool(newTestClient(), n, logger).Workers(); got != 1 {
			t.Errorf("NewPool(%d) workers = %d, want 1", n, got)
		}
	}
}

func TestPoolExecuteKeepsOrder(t *testing.T) {
	files := map[string]string{
		"a.jar": "alpha",
		"b.jar": "bravo",
		"c.jar": "charlie",
		"d.jar": "delta",
	}
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body, ok := files[filepath.Base(r.URL.Path)]
		if !ok {
			http.NotFound(w, r)
			return
		}
		_, _ = w.Write([]byte(body))
	}))
	defer server.Close()

	dir := t.TempDir()
	var jobs []Job
	for _, name := range []string{"a.jar", "b.jar", "c.jar", "d.jar"} {
		jobs = append(jobs, Job{URL: server.URL + "/" + name, DestPath: filepath.Join(dir, name)})
	}

	pool := NewPool(newTestClient(), 3, slog.New(slog.NewTextHandler(io.Discard, nil)))
	results := pool.Execute(context.Background(), jobs)
	if len(results) != len(jobs) {
		t.Fatalf("expected %d results, got %d", len(jobs), len(results))
	}
	for i, res := range results {
		if res.Job.DestPath != jobs[i].DestPath {
			t.Errorf("result %d out of order: %s", i, res.Job.DestPath)
		}
		if !res.OK() {
			t.Errorf("job %s failed: %v", res.Job.Name, res.Err)
			continue
		}
		got, _ := os.ReadFile(res.Job.DestPath)
		if string(got) != files[filepath.Base(res.Job.DestPath)] {
			t.Errorf("content mismatch for %s", res.Job.DestPath)
		}
	}
}

func TestPoolCallbacks(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write(make([]byte, 2048))
	}))
	defer server.Close()

	dir := t.TempDir()
	jobs := []Job{
		{URL: server.URL + "/1", DestPath: filepath.Join(dir, "1.bin")},
		{URL: server.URL + "/2", DestPath: filepath.Join(dir, "2.bin")},
	}

	var mu sync.Mutex
	progressed := map[string]bool{}
	var completed atomic.Int32

	pool := NewPool(newTestClient(), 2, slog.New(slog.NewTextHandler(io.Discard, nil)))
	pool.OnProgress = func(worker int, job Job, written, total int64) {
		if worker < 0 || worker >= 2 {
			t.Errorf("unexpected worker id %d", worker)
		}
		mu.Lock()
		progressed[job.Name] = true
		mu.Unlock()
	}
	pool.OnComplete = func(worker int, res Result) {
		completed.Add(1)
	}

	pool.Execute(context.Background(), jobs)

	if completed.Load() != 2 {
		t.Errorf("expected 2 completions, got %d", completed.Load())
	}
	if !progressed["1.bin"] || !progressed["2.bin"] {
		t.Errorf("expected progress for both jobs, got %v", progressed)
	}
}

func TestPoolWithFailures(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/bad" {
			w.WriteHeader(http.StatusForbidden)
			return
		}
		_, _ = w.Write([]byte("good"))
	}))
	defer server.Close()

	dir := t.TempDir()
	pool := NewPool(newTestClient(), 2, slog.New(slog.NewTextHandler(io.Discard, nil)))
	results := pool.Execute(context.Background(), []Job{
		{URL: server.URL + "/good", DestPath: filepath.Join(dir, "good")},
		{URL: server.URL + "/bad", DestPath: filepath.Join(dir, "bad")},
	})
	if !results[0].OK() {
		t.Errorf("expected first job to succeed: %v", results[0].Err)
	}
	if results[1].OK() {
		t.Error("expected second job to fail")
	}
}

func TestPoolContextCancellation(t *testing.T) {
	release := make(chan struct{})
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-release:
		case <-r.Context().Done():
		}
	}))
	defer server.Close()
	defer close(release)

	dir := t.TempDir()
	var jobs []Job
	for i := 0; i < 5; i++ {
		jobs = append(jobs, Job{URL: server.URL, DestPath: filepath.Join(dir, string(rune('a'+i)))})
	}

	ctx, cancel := context.WithTimeout(context.Background(), 100*time.Millisecond)
	defer cancel()

	pool := NewPool(newTestClient(), 1, slog.New(slog.NewTextHandler(io.Discard, nil)))
	results := pool.Execute(ctx, jobs)
	if len(results) != len(jobs) {
		t.Fatalf("expected %d results, got %d", len(jobs), len(results))
	}
	for i, res := range results {
		if res.OK() {
			t.Errorf("job %d unexpectedly succeeded", i)
		}
	}
}

func TestPoolEmptyJobs(t *testing.T) {
	pool := NewPool(newTestClient(), 2, nil)
	if got := pool.Execute(context.Background(), nil); len(got) != 0 {
		t.Errorf("expected no results, got %d", len(got))
	}
}
