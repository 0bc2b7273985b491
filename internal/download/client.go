package download

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"math"
	"math/rand"
	"net/http"
	"os"
	"path/filepath"
	"time"

	"github.com/hominum/launcher/internal/safety"
)

// ProgressFunc reports bytes written so far for one file and its expected
// total (0 when unknown).
type ProgressFunc func(written, total int64)

// FileRequest describes one game file to fetch.
type FileRequest struct {
	URL      string
	DestPath string
	SHA256   string // hex digest, empty to skip validation
	Size     int64  // 0 to skip the size check
	Attempts int    // 0 defaults to 3
	Headers  map[string]string

	OnProgress ProgressFunc
}

// FileResult is returned for a file that landed on disk and passed validation.
type FileResult struct {
	Path     string
	Size     int64
	SHA256   string
	Resumed  bool
	Attempts int
	Elapsed  time.Duration
}

// Client fetches game files with resume, retry and checksum validation.
type Client struct {
	httpClient  *http.Client
	logger      *slog.Logger
	userAgent   string
	backoffFunc func(attempt int) time.Duration
}

// NewClient creates a download client. The underlying http.Client has no
// overall timeout so large jars can stream; cancel through ctx instead.
func NewClient(logger *slog.Logger) *Client {
	if logger == nil {
		logger = slog.Default()
	}
	return &Client{
		httpClient:  safety.NewHTTPClient(0),
		logger:      logger,
		userAgent:   "hominum/1.0",
		backoffFunc: backoffDelay,
	}
}

// Fetch downloads req.URL to req.DestPath. A partial file smaller than the
// expected size is resumed with a Range request.
func (c *Client) Fetch(ctx context.Context, req FileRequest) (*FileResult, error) {
	attempts := req.Attempts
	if attempts <= 0 {
		attempts = 3
	}

	started := time.Now()
	resumed := false
	var lastErr error

	for attempt := 1; attempt <= attempts; attempt++ {
		if err := ctx.Err(); err != nil {
			return nil, fmt.Errorf("download cancelled: %w", err)
		}

		offset := c.resumeOffset(req)
		if offset > 0 && attempt == 1 {
			resumed = true
		}

		if err := os.MkdirAll(filepath.Dir(req.DestPath), 0o755); err != nil {
			return nil, fmt.Errorf("create parent of %s: %w", req.DestPath, err)
		}

		res, err := c.attempt(ctx, req, offset)
		if err == nil {
			res.Resumed = resumed
			res.Attempts = attempt
			res.Elapsed = time.Since(started)
			return res, nil
		}
		lastErr = err
		c.logger.Warn("file download attempt failed", "url", req.URL, "attempt", attempt, "error", err)

		// partial data is kept for the next resume
		if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
			return nil, err
		}
		if isPermanent(err) {
			_ = os.Remove(req.DestPath)
			return nil, err
		}

		if attempt < attempts {
			delay := c.backoffFunc(attempt)
			c.logger.Debug("retrying file download", "url", req.URL, "delay", delay)
			select {
			case <-time.After(delay):
			case <-ctx.Done():
				return nil, fmt.Errorf("download cancelled during retry: %w", ctx.Err())
			}
		}
	}

	return nil, fmt.Errorf("download failed after %d attempts: %w", attempts, lastErr)
}

// resumeOffset returns how many bytes of DestPath can be kept. Files that are
// already as large as expected, or whose size is unknown, are discarded.
func (c *Client) resumeOffset(req FileRequest) int64 {
	fi, err := os.Stat(req.DestPath)
	if err != nil || fi.Size() == 0 {
		return 0
	}
	if req.Size > 0 && fi.Size() < req.Size {
		return fi.Size()
	}
	_ = os.Remove(req.DestPath)
	return 0
}

func (c *Client) attempt(ctx context.Context, req FileRequest, offset int64) (*FileResult, error) {
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodGet, req.URL, nil)
	if err != nil {
		return nil, fmt.Errorf("build request: %w", err)
	}
	httpReq.Header.Set("User-Agent", c.userAgent)
	for k, v := range req.Headers {
		httpReq.Header.Set(k, v)
	}
	if offset > 0 {
		httpReq.Header.Set("Range", fmt.Sprintf("bytes=%d-", offset))
	}

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("http request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		body, _ := safety.ReadAllWithLimit(resp.Body, 4096)
		return nil, &HTTPError{StatusCode: resp.StatusCode, Status: resp.Status, Body: string(body)}
	}

	flags := os.O_CREATE | os.O_WRONLY
	if offset > 0 && resp.StatusCode == http.StatusPartialContent {
		flags |= os.O_APPEND
	} else {
		// server ignored the range
		flags |= os.O_TRUNC
		offset = 0
	}
	f, err := os.OpenFile(req.DestPath, flags, 0o644)
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", req.DestPath, err)
	}

	total := req.Size
	if resp.ContentLength > 0 {
		total = offset + resp.ContentLength
	}
	var src io.Reader = resp.Body
	if req.OnProgress != nil {
		src = &progressReader{r: resp.Body, fn: req.OnProgress, n: offset, total: total}
	}

	n, copyErr := io.Copy(f, src)
	closeErr := f.Close()
	if copyErr != nil {
		return nil, fmt.Errorf("write %s: %w", req.DestPath, copyErr)
	}
	if closeErr != nil {
		return nil, fmt.Errorf("close %s: %w", req.DestPath, closeErr)
	}
	size := offset + n

	// hash the whole file, a resumed attempt only saw the tail
	sum, err := hashFile(req.DestPath)
	if err != nil {
		return nil, fmt.Errorf("hash %s: %w", req.DestPath, err)
	}

	switch {
	case req.SHA256 != "":
		if sum != req.SHA256 {
			_ = os.Remove(req.DestPath)
			return nil, fmt.Errorf("checksum mismatch: got %s, expected %s", sum, req.SHA256)
		}
		if req.Size > 0 && size != req.Size {
			c.logger.Warn("size differs from manifest but checksum matches",
				"path", req.DestPath, "got_size", size, "expected_size", req.Size)
		}
	case req.Size > 0 && size != req.Size:
		_ = os.Remove(req.DestPath)
		return nil, fmt.Errorf("size mismatch: got %d bytes, expected %d", size, req.Size)
	}

	return &FileResult{Path: req.DestPath, Size: size, SHA256: sum}, nil
}

// HashFile returns the hex SHA-256 of the file at path.
func HashFile(path string) (string, error) {
	return hashFile(path)
}

func hashFile(path string) (string, error) {
	f, err := os.Open(path)
	if err != nil {
		return "", err
	}
	defer f.Close()

	h := sha256.New()
	if _, err := io.Copy(h, f); err != nil {
		return "", err
	}
	return hex.EncodeToString(h.Sum(nil)), nil
}

// backoffDelay is 1s doubled per attempt plus up to half of that as jitter.
func backoffDelay(attempt int) time.Duration {
	d := time.Duration(math.Pow(2, float64(attempt-1))) * time.Second
	return d + time.Duration(rand.Int63n(int64(d/2)+1))
}

// isPermanent reports 4xx responses other than 429.
func isPermanent(err error) bool {
	var httpErr *HTTPError
	if !errors.As(err, &httpErr) {
		return false
	}
	return httpErr.StatusCode >= 400 && httpErr.StatusCode < 500 && httpErr.StatusCode != http.StatusTooManyRequests
}

// HTTPError is a non-2xx response from a file mirror.
type HTTPError struct {
	StatusCode int
	Status     string
	Body       string
}

func (e *HTTPError) Error() string {
	return fmt.Sprintf("http error %d: %s", e.StatusCode, e.Status)
}

type progressReader struct {
	r     io.Reader
	fn    ProgressFunc
	n     int64
	total int64
}

func (p *progressReader) Read(b []byte) (int, error) {
	n, err := p.r.Read(b)
	if n > 0 {
		p.n += int64(n)
		p.fn(p.n, p.total)
	}
	return n, err
}
