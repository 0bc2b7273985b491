package remote

import (
	"errors"
	"fmt"
)

var (
	// ErrRemoteUnavailable is returned when the repository cannot be reached
	// after retries or answers with an error status.
	ErrRemoteUnavailable = errors.New("remote repository unavailable")

	// ErrDownloadFailed marks every DownloadError.
	ErrDownloadFailed = errors.New("blob download failed")
)

// HTTPError is a non-2xx response from the repository.
type HTTPError struct {
	URL        string
	StatusCode int
	Status     string
	Body       string
}

func (e *HTTPError) Error() string {
	return fmt.Sprintf("http error %d from %s: %s", e.StatusCode, e.URL, e.Status)
}

// DownloadError wraps the cause of a failed blob download. Partial output has
// already been removed when it is returned.
type DownloadError struct {
	Ref BlobRef
	Err error
}

func (e *DownloadError) Error() string {
	return fmt.Sprintf("download %s: %v", e.Ref, e.Err)
}

func (e *DownloadError) Unwrap() error { return e.Err }

// Is makes errors.Is(err, ErrDownloadFailed) hold for any DownloadError.
func (e *DownloadError) Is(target error) bool { return target == ErrDownloadFailed }
