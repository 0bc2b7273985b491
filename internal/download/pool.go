package download

import (
	"context"
	"log/slog"
	"path/filepath"
	"sync"
)

// Job is one file handed to the pool.
type Job struct {
	URL      string
	DestPath string
	SHA256   string
	Size     int64
	Name     string // display name, defaults to the base of DestPath
}

// Result is the outcome of a Job. Results keep the order of the input jobs.
type Result struct {
	Job    Job
	Err    error
	File   *FileResult
	Worker int
}

// OK reports whether the job finished successfully.
func (r Result) OK() bool { return r.Err == nil }

// WorkerProgressFunc receives byte progress for the job a worker is running.
type WorkerProgressFunc func(worker int, job Job, written, total int64)

// WorkerDoneFunc is called once per finished job, from the worker goroutine.
type WorkerDoneFunc func(worker int, res Result)

// Pool runs downloads on a fixed number of workers.
type Pool struct {
	client  *Client
	workers int
	logger  *slog.Logger

	// OnProgress and OnComplete are invoked concurrently from worker
	// goroutines; callers synchronize their own state.
	OnProgress WorkerProgressFunc
	OnComplete WorkerDoneFunc
}

// NewPool creates a pool with the given worker count (minimum 1).
func NewPool(client *Client, workers int, logger *slog.Logger) *Pool {
	if workers <= 0 {
		workers = 1
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Pool{client: client, workers: workers, logger: logger}
}

// Workers returns the number of worker goroutines.
func (p *Pool) Workers() int { return p.workers }

type indexedJob struct {
	job   Job
	index int
}

// Execute runs all jobs and waits for them. When ctx is cancelled, jobs that
// were not started carry ctx.Err().
func (p *Pool) Execute(ctx context.Context, jobs []Job) []Result {
	results := make([]Result, len(jobs))
	if len(jobs) == 0 {
		return results
	}

	queue := make(chan indexedJob)
	var wg sync.WaitGroup
	for w := 0; w < p.workers; w++ {
		wg.Add(1)
		go func(worker int) {
			defer wg.Done()
			for ij := range queue {
				results[ij.index] = p.run(ctx, worker, ij.job)
			}
		}(w)
	}

	next := 0
feed:
	for ; next < len(jobs); next++ {
		select {
		case queue <- indexedJob{job: jobs[next], index: next}:
		case <-ctx.Done():
			break feed
		}
	}
	close(queue)
	wg.Wait()

	for i := next; i < len(jobs); i++ {
		results[i] = Result{Job: jobs[i], Err: ctx.Err(), Worker: -1}
	}
	return results
}

func (p *Pool) run(ctx context.Context, worker int, job Job) Result {
	if job.Name == "" {
		job.Name = filepath.Base(job.DestPath)
	}
	res := Result{Job: job, Worker: worker}
	if err := ctx.Err(); err != nil {
		res.Err = err
		p.complete(worker, res)
		return res
	}

	req := FileRequest{
		URL:      job.URL,
		DestPath: job.DestPath,
		SHA256:   job.SHA256,
		Size:     job.Size,
		Attempts: 3,
	}
	if p.OnProgress != nil {
		req.OnProgress = func(written, total int64) {
			p.OnProgress(worker, job, written, total)
		}
	}

	file, err := p.client.Fetch(ctx, req)
	res.File = file
	res.Err = err
	if err != nil {
		p.logger.Error("download job failed", "url", job.URL, "dest", job.Name, "worker", worker, "error", err)
	} else {
		p.logger.Debug("download job completed", "dest", job.Name, "worker", worker, "size", file.Size)
	}
	p.complete(worker, res)
	return res
}

func (p *Pool) complete(worker int, res Result) {
	if p.OnComplete != nil {
		p.OnComplete(worker, res)
	}
}
