package remoteconfig

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/hominum/launcher/internal/remote"
)

// DefaultPath is where the config document lives in the repository.
const DefaultPath = "config.yaml"

const maxConfigBytes = 1 << 20

// ErrRemote is returned when the config document is missing, unreadable or
// malformed. It is fatal to an install run.
var ErrRemote = errors.New("remote config error")

// BlobReader reads a small blob into memory.
type BlobReader interface {
	ReadBlob(ctx context.Context, ref remote.BlobRef, limit int64) ([]byte, error)
}

// Resolver locates and parses the config document in a fetched tree.
type Resolver struct {
	blobs  BlobReader
	path   string
	logger *slog.Logger
}

// NewResolver creates a Resolver. An empty path selects DefaultPath.
func NewResolver(blobs BlobReader, path string, logger *slog.Logger) *Resolver {
	if path == "" {
		path = DefaultPath
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Resolver{blobs: blobs, path: path, logger: logger}
}

// Path returns the repository path of the config document.
func (r *Resolver) Path() string { return r.path }

// FetchConfig resolves, downloads and parses the config. Transport retries
// already happened in the client, so nothing is retried here.
func (r *Resolver) FetchConfig(ctx context.Context, tree *remote.Tree) (*Config, error) {
	ref, ok := tree.Resolve(r.path)
	if !ok {
		return nil, fmt.Errorf("%w: config not found at %q", ErrRemote, r.path)
	}

	data, err := r.blobs.ReadBlob(ctx, ref, maxConfigBytes)
	if err != nil {
		return nil, fmt.Errorf("%w: download %s: %w", ErrRemote, r.path, err)
	}

	cfg, err := Parse(data)
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %w", ErrRemote, r.path, err)
	}

	r.logger.Info("resolved remote config",
		"game", cfg.SelectedGame,
		"server", cfg.Server.String(),
		"sync_paths", len(cfg.SyncPaths))
	return cfg, nil
}
