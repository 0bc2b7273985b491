// Package provision drives the game-provisioning dependency: a retried,
// stall-guarded install of the base game and the selected variant.
package provision

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/hominum/launcher/internal/auth"
	"github.com/hominum/launcher/internal/version"
)

var (
	// ErrInstallTimeout is returned when an install shows no activity for the
	// idle window. The retry loop treats it like any other failure.
	ErrInstallTimeout = errors.New("version install timed out")

	// ErrKilled is returned when the run context is cancelled. It is never
	// retried.
	ErrKilled = errors.New("install killed")
)

// Environment is a runnable game installation.
type Environment struct {
	VersionID string   `json:"version_id"`
	Dir       string   `json:"dir"`
	MainClass string   `json:"main_class"`
	ClassPath []string `json:"class_path,omitempty"`
	JVMArgs   []string `json:"jvm_args"`
	GameArgs  []string `json:"game_args"`
	Username  string   `json:"username,omitempty"`
}

// Installer is the provisioning dependency. Install must pass every watcher
// error back unchanged.
type Installer interface {
	Install(ctx context.Context, d *version.Descriptor, watch Watcher) (*Environment, error)
}

// Options tunes the retry loop and stall detection.
type Options struct {
	Attempts     int
	IdleInterval time.Duration
	IdleTimeout  time.Duration
	CPUThreshold float64
	// Grace bounds how long a cancelled install may take to return before
	// the next attempt starts.
	Grace time.Duration
}

// DefaultOptions returns the stock tuning.
func DefaultOptions() Options {
	return Options{
		Attempts:     3,
		IdleInterval: 5 * time.Second,
		IdleTimeout:  30 * time.Second,
		CPUThreshold: 1,
		Grace:        5 * time.Second,
	}
}

// Request is one provisioning job.
type Request struct {
	Descriptor *version.Descriptor
	Session    *auth.Session
	// JVMArgs are appended to the environment, heap flags first.
	JVMArgs []string
}

// Provisioner runs installs through an Installer.
type Provisioner struct {
	installer Installer
	probe     MetricsProbe
	opts      Options
	logger    *slog.Logger
	now       func() time.Time
}

// New creates a Provisioner. probe may be nil to disable stall detection.
func New(installer Installer, probe MetricsProbe, opts Options, logger *slog.Logger) *Provisioner {
	def := DefaultOptions()
	if opts.Attempts <= 0 {
		opts.Attempts = def.Attempts
	}
	if opts.IdleInterval <= 0 {
		opts.IdleInterval = def.IdleInterval
	}
	if opts.IdleTimeout <= 0 {
		opts.IdleTimeout = def.IdleTimeout
	}
	if opts.CPUThreshold <= 0 {
		opts.CPUThreshold = def.CPUThreshold
	}
	if opts.Grace <= 0 {
		opts.Grace = def.Grace
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Provisioner{installer: installer, probe: probe, opts: opts, logger: logger, now: time.Now}
}

// Provision installs the base game, then the requested variant with the
// session attached, retrying the pair up to Attempts times. Cancelling ctx
// aborts immediately with ErrKilled.
func (p *Provisioner) Provision(ctx context.Context, req Request, obs Observer) (*Environment, error) {
	if obs == nil {
		obs = NopObserver{}
	}
	if req.Descriptor == nil {
		return nil, fmt.Errorf("provision: descriptor is required")
	}

	var lastErr error
	for attempt := 1; attempt <= p.opts.Attempts; attempt++ {
		if ctx.Err() != nil {
			return nil, killed(ctx)
		}

		env, err := p.attempt(ctx, req, obs)
		if err == nil {
			env.JVMArgs = append(env.JVMArgs, req.JVMArgs...)
			if req.Session != nil {
				env.Username = req.Session.Username
			}
			p.logger.Info("environment ready", "version", env.VersionID, "attempt", attempt)
			return env, nil
		}
		if errors.Is(err, ErrKilled) || ctx.Err() != nil {
			return nil, killed(ctx)
		}

		lastErr = err
		p.logger.Warn("provisioning attempt failed",
			"version", req.Descriptor.ID(), "attempt", attempt, "of", p.opts.Attempts, "error", err)
		if attempt < p.opts.Attempts {
			obs.UpdateTitle(fmt.Sprintf("Install failed, retrying (%d/%d)", attempt+1, p.opts.Attempts))
		}
	}
	return nil, fmt.Errorf("provisioning failed after %d attempts: %w", p.opts.Attempts, lastErr)
}

func (p *Provisioner) attempt(ctx context.Context, req Request, obs Observer) (*Environment, error) {
	variant := req.Descriptor.WithSession(req.Session)

	if _, err := p.install(ctx, variant.Base(), obs); err != nil {
		return nil, fmt.Errorf("install base %s: %w", variant.GameVersion, err)
	}
	env, err := p.install(ctx, variant, obs)
	if err != nil {
		return nil, fmt.Errorf("install %s: %w", variant.ID(), err)
	}
	return env, nil
}

type installResult struct {
	env *Environment
	err error
}

// install runs one Installer call on its own goroutine while sampling process
// activity on a ticker.
func (p *Provisioner) install(ctx context.Context, d *version.Descriptor, obs Observer) (*Environment, error) {
	ictx, cancel := context.WithCancelCause(ctx)
	defer cancel(nil)

	// An installer that ignores cancellation may outlive this call. Once
	// install returns, its watcher calls fail and never reach obs.
	var (
		mu      sync.Mutex
		stopped bool
	)
	defer func() {
		mu.Lock()
		stopped = true
		mu.Unlock()
	}()

	tr := newTranslator(obs)
	watch := func(ev Event) error {
		mu.Lock()
		defer mu.Unlock()
		if ctx.Err() != nil {
			return killed(ctx)
		}
		if stopped || ictx.Err() != nil {
			if cause := context.Cause(ictx); cause != nil {
				return cause
			}
			return context.Canceled
		}
		tr.handle(ev)
		return nil
	}

	done := make(chan installResult, 1)
	go func() {
		env, err := p.installer.Install(ictx, d, watch)
		done <- installResult{env: env, err: err}
	}()

	var tick <-chan time.Time
	var det *IdleDetector
	if p.probe != nil {
		ticker := time.NewTicker(p.opts.IdleInterval)
		defer ticker.Stop()
		tick = ticker.C
		det = NewIdleDetector(p.opts.CPUThreshold, p.opts.IdleTimeout)
	}

	for {
		select {
		case r := <-done:
			if r.err == nil && r.env == nil {
				return nil, fmt.Errorf("installer returned no environment")
			}
			return r.env, r.err

		case <-ctx.Done():
			cancel(ErrKilled)
			p.awaitExit(done)
			return nil, killed(ctx)

		case <-tick:
			s, err := p.probe.Sample()
			if err != nil {
				p.logger.Debug("process sample failed", "error", err)
				continue
			}
			if det.Observe(s, p.now()) {
				p.logger.Warn("install stalled", "version", d.ID(), "idle_for", det.IdleFor(p.now()))
				cancel(ErrInstallTimeout)
				p.awaitExit(done)
				return nil, ErrInstallTimeout
			}
		}
	}
}

// awaitExit gives a cancelled installer a bounded time to unwind.
func (p *Provisioner) awaitExit(done <-chan installResult) {
	t := time.NewTimer(p.opts.Grace)
	defer t.Stop()
	select {
	case <-done:
	case <-t.C:
		p.logger.Warn("installer did not stop after cancellation", "grace", p.opts.Grace)
	}
}

func killed(ctx context.Context) error {
	if cause := context.Cause(ctx); cause != nil && !errors.Is(cause, ErrKilled) {
		return fmt.Errorf("%w: %w", ErrKilled, cause)
	}
	return ErrKilled
}
