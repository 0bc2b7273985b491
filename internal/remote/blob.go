package remote

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/hominum/launcher/internal/safety"
)

// blobChunk is one JSON object of the blob stream. The repository API sends a
// single object; mirrors may split large files into many.
type blobChunk struct {
	Content  string `json:"content"`
	Encoding string `json:"encoding"`
}

var lineBreaks = strings.NewReplacer("\n", "", "\r", "")

// DownloadBlob streams the blob behind ref into dest. Content is decoded one
// chunk at a time into a temporary file next to dest, which is renamed over
// dest only after the whole stream decoded cleanly. On failure the temporary
// file is removed and a *DownloadError is returned.
func (c *Client) DownloadBlob(ctx context.Context, ref BlobRef, dest string) (err error) {
	dir := filepath.Dir(dest)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return &DownloadError{Ref: ref, Err: fmt.Errorf("create %s: %w", dir, err)}
	}

	tmp, err := os.CreateTemp(dir, "."+filepath.Base(dest)+".*.part")
	if err != nil {
		return &DownloadError{Ref: ref, Err: fmt.Errorf("create temp file: %w", err)}
	}
	defer func() {
		if err != nil {
			tmp.Close()
			os.Remove(tmp.Name())
		}
	}()

	n, err := c.streamBlob(ctx, ref, tmp)
	if err != nil {
		return &DownloadError{Ref: ref, Err: err}
	}
	if err = tmp.Close(); err != nil {
		return &DownloadError{Ref: ref, Err: fmt.Errorf("close temp file: %w", err)}
	}
	if err = os.Rename(tmp.Name(), dest); err != nil {
		return &DownloadError{Ref: ref, Err: fmt.Errorf("move into place: %w", err)}
	}
	c.logger.Debug("downloaded blob", "dest", dest, "bytes", n)
	return nil
}

// ReadBlob decodes a small blob fully into memory, failing when the decoded
// content exceeds limit bytes.
func (c *Client) ReadBlob(ctx context.Context, ref BlobRef, limit int64) ([]byte, error) {
	var buf bytes.Buffer
	w := &limitWriter{w: &buf, remaining: limit}
	if _, err := c.streamBlob(ctx, ref, w); err != nil {
		return nil, &DownloadError{Ref: ref, Err: err}
	}
	return buf.Bytes(), nil
}

func (c *Client) streamBlob(ctx context.Context, ref BlobRef, w io.Writer) (int64, error) {
	resp, err := c.get(ctx, string(ref))
	if err != nil {
		return 0, err
	}
	defer resp.Body.Close()
	if err := checkStatus(resp); err != nil {
		return 0, err
	}

	var written int64
	dec := json.NewDecoder(resp.Body)
	for i := 0; ; i++ {
		var chunk blobChunk
		if err := dec.Decode(&chunk); err != nil {
			if errors.Is(err, io.EOF) {
				break
			}
			return written, fmt.Errorf("decode chunk %d: %w", i, err)
		}
		if chunk.Encoding != "" && chunk.Encoding != "base64" {
			return written, fmt.Errorf("chunk %d: unsupported encoding %q", i, chunk.Encoding)
		}
		data, err := base64.StdEncoding.DecodeString(lineBreaks.Replace(chunk.Content))
		if err != nil {
			return written, fmt.Errorf("base64 chunk %d: %w", i, err)
		}
		n, err := w.Write(data)
		written += int64(n)
		if err != nil {
			return written, err
		}
	}
	return written, nil
}

type limitWriter struct {
	w         io.Writer
	remaining int64
}

func (l *limitWriter) Write(p []byte) (int, error) {
	if int64(len(p)) > l.remaining {
		return 0, safety.ErrBodyTooLarge
	}
	l.remaining -= int64(len(p))
	return l.w.Write(p)
}
