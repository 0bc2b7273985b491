package gamelib

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"sort"
	"strings"
	"sync"
	"time"
)

const (
	probeTimeout    = 5 * time.Second
	probeMaxWorkers = 10
	userAgent       = "hominum/1.0"
)

// MirrorResult is the outcome of probing one mirror.
type MirrorResult struct {
	URL     string
	Latency time.Duration
	Error   string
}

// RankMirrors probes every mirror's version index concurrently and returns
// the results sorted by latency, unreachable mirrors last.
func RankMirrors(ctx context.Context, client *http.Client, urls []string) []MirrorResult {
	if client == nil {
		client = http.DefaultClient
	}
	results := make([]MirrorResult, len(urls))
	sem := make(chan struct{}, probeMaxWorkers)
	var wg sync.WaitGroup

	for i, u := range urls {
		wg.Add(1)
		go func(idx int, base string) {
			defer wg.Done()
			sem <- struct{}{}
			defer func() { <-sem }()

			results[idx] = probeMirror(ctx, client, base)
		}(i, u)
	}
	wg.Wait()

	sort.SliceStable(results, func(i, j int) bool {
		if (results[i].Error == "") != (results[j].Error == "") {
			return results[i].Error == ""
		}
		return results[i].Latency < results[j].Latency
	})
	return results
}

func probeMirror(ctx context.Context, client *http.Client, base string) MirrorResult {
	res := MirrorResult{URL: base}

	reqCtx, cancel := context.WithTimeout(ctx, probeTimeout)
	defer cancel()

	target := strings.TrimRight(base, "/") + "/versions/"
	req, err := http.NewRequestWithContext(reqCtx, http.MethodHead, target, nil)
	if err != nil {
		res.Error = err.Error()
		return res
	}
	req.Header.Set("User-Agent", userAgent)

	start := time.Now()
	resp, err := client.Do(req)
	res.Latency = time.Since(start)
	if err != nil {
		res.Error = err.Error()
		return res
	}
	resp.Body.Close()
	if resp.StatusCode >= http.StatusInternalServerError {
		res.Error = fmt.Sprintf("HTTP %d", resp.StatusCode)
	}
	return res
}

// SelectMirror returns the fastest reachable mirror. A single candidate is
// returned without probing.
func SelectMirror(ctx context.Context, client *http.Client, urls []string, logger *slog.Logger) (string, error) {
	if logger == nil {
		logger = slog.Default()
	}
	switch len(urls) {
	case 0:
		return "", fmt.Errorf("no mirrors configured")
	case 1:
		return urls[0], nil
	}

	ranked := RankMirrors(ctx, client, urls)
	for _, r := range ranked {
		if r.Error != "" {
			logger.Warn("mirror unreachable", "url", r.URL, "error", r.Error)
		}
	}
	if ranked[0].Error != "" {
		return "", fmt.Errorf("no reachable mirror among %d candidates", len(urls))
	}
	logger.Info("selected mirror", "url", ranked[0].URL, "latency", ranked[0].Latency.Round(time.Millisecond))
	return ranked[0].URL, nil
}
