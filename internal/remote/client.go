package remote

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"math"
	"math/rand"
	"net"
	"net/http"
	"net/url"
	"syscall"
	"time"

	"github.com/hominum/launcher/internal/safety"
)

const (
	defaultAttempts     = 3
	defaultMaxTreeBytes = 32 << 20
)

// Options configures a Client.
type Options struct {
	// TreeURL is the recursive tree listing endpoint, e.g.
	// https://api.github.com/repos/<owner>/<repo>/git/trees/master?recursive=1
	TreeURL string
	Token   string

	// Attempts bounds transport retries per request. Defaults to 3.
	Attempts int
	// BaseDelay is the first backoff delay. Defaults to 1s.
	BaseDelay time.Duration
	// Timeout bounds tree and config requests. Blob bodies are bounded by ctx only.
	Timeout time.Duration

	MaxTreeBytes int64

	HTTPClient *http.Client
}

// Client talks to the content repository.
type Client struct {
	treeURL      *url.URL
	token        string
	attempts     int
	maxTreeBytes int64
	timeout      time.Duration
	httpClient   *http.Client
	logger       *slog.Logger

	backoffFunc func(attempt int) time.Duration
	sleepFunc   func(ctx context.Context, d time.Duration) error
}

// NewClient validates opts and builds a Client.
func NewClient(opts Options, logger *slog.Logger) (*Client, error) {
	if logger == nil {
		logger = slog.Default()
	}
	u, err := safety.ValidateHTTPURL(opts.TreeURL)
	if err != nil {
		return nil, fmt.Errorf("tree url: %w", err)
	}
	if opts.Token != "" && !safety.CanCarryToken(u) {
		return nil, fmt.Errorf("refusing to send API token over plain http to %s", u.Host)
	}

	c := &Client{
		treeURL:      u,
		token:        opts.Token,
		attempts:     opts.Attempts,
		maxTreeBytes: opts.MaxTreeBytes,
		timeout:      opts.Timeout,
		httpClient:   opts.HTTPClient,
		logger:       logger,
		sleepFunc:    sleepCtx,
	}
	if c.attempts <= 0 {
		c.attempts = defaultAttempts
	}
	if c.maxTreeBytes <= 0 {
		c.maxTreeBytes = defaultMaxTreeBytes
	}
	if c.httpClient == nil {
		c.httpClient = safety.NewHTTPClient(0)
	}
	base := opts.BaseDelay
	if base <= 0 {
		base = time.Second
	}
	c.backoffFunc = func(attempt int) time.Duration { return backoffDelay(base, attempt) }
	return c, nil
}

type treeResponse struct {
	Tree      []Entry `json:"tree"`
	Truncated bool    `json:"truncated"`
}

// FetchTree fetches the full recursive listing. A successful empty listing
// yields an empty Tree, not an error.
func (c *Client) FetchTree(ctx context.Context) (*Tree, error) {
	reqCtx, cancel := c.withTimeout(ctx)
	defer cancel()

	resp, err := c.get(reqCtx, c.treeURL.String())
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if err := checkStatus(resp); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrRemoteUnavailable, err)
	}

	body, err := safety.ReadAllWithLimit(resp.Body, c.maxTreeBytes)
	if err != nil {
		return nil, fmt.Errorf("%w: read tree: %w", ErrRemoteUnavailable, err)
	}
	var tr treeResponse
	if err := json.Unmarshal(body, &tr); err != nil {
		return nil, fmt.Errorf("%w: decode tree: %w", ErrRemoteUnavailable, err)
	}
	if tr.Truncated {
		c.logger.Warn("remote tree listing is truncated", "entries", len(tr.Tree))
	}

	tree := NewTree(tr.Tree)
	c.logger.Debug("fetched remote tree", "entries", tree.Len())
	return tree, nil
}

// get issues an authenticated GET, retrying transport failures with
// exponential backoff. HTTP status codes are left to the caller.
func (c *Client) get(ctx context.Context, rawURL string) (*http.Response, error) {
	u, err := safety.ValidateHTTPURL(rawURL)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrRemoteUnavailable, err)
	}

	var lastErr error
	for attempt := 1; attempt <= c.attempts; attempt++ {
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, u.String(), nil)
		if err != nil {
			return nil, fmt.Errorf("build request: %w", err)
		}
		req.Header.Set("Accept", "application/json")
		req.Header.Set("User-Agent", "hominum/1.0")
		if c.token != "" && safety.CanCarryToken(u) {
			req.Header.Set("Authorization", "token "+c.token)
		}

		resp, err := c.httpClient.Do(req)
		if err == nil {
			return resp, nil
		}
		if ctxErr := ctx.Err(); ctxErr != nil {
			return nil, ctxErr
		}
		lastErr = err
		if !isTransient(err) {
			break
		}
		c.logger.Warn("remote request failed", "url", u.Redacted(), "attempt", attempt, "error", err)

		if attempt < c.attempts {
			delay := c.backoffFunc(attempt)
			if err := c.sleepFunc(ctx, delay); err != nil {
				return nil, err
			}
		}
	}
	return nil, fmt.Errorf("%w: %w", ErrRemoteUnavailable, lastErr)
}

func (c *Client) withTimeout(ctx context.Context) (context.Context, context.CancelFunc) {
	if c.timeout <= 0 {
		return context.WithCancel(ctx)
	}
	return context.WithTimeout(ctx, c.timeout)
}

func checkStatus(resp *http.Response) error {
	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		return nil
	}
	body, _ := safety.ReadAllWithLimit(resp.Body, 4096)
	return &HTTPError{
		URL:        resp.Request.URL.Redacted(),
		StatusCode: resp.StatusCode,
		Status:     resp.Status,
		Body:       string(body),
	}
}

// isTransient reports timeouts and connection-level failures.
func isTransient(err error) bool {
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return true
	}
	var opErr *net.OpError
	if errors.As(err, &opErr) {
		return true
	}
	return errors.Is(err, syscall.ECONNREFUSED) ||
		errors.Is(err, syscall.ECONNRESET) ||
		errors.Is(err, io.ErrUnexpectedEOF) ||
		errors.Is(err, io.EOF)
}

// backoffDelay doubles base per attempt and adds jitter below half of it, so
// consecutive delays are strictly increasing.
func backoffDelay(base time.Duration, attempt int) time.Duration {
	d := time.Duration(math.Pow(2, float64(attempt-1))) * base
	half := int64(d / 2)
	if half <= 0 {
		return d
	}
	return d + time.Duration(rand.Int63n(half))
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
