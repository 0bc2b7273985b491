// Package version turns the remote game selection into an installable
// version descriptor.
package version

import (
	"errors"
	"fmt"
	"log/slog"
	"net"
	"strconv"

	"github.com/hominum/launcher/internal/auth"
	"github.com/hominum/launcher/internal/remoteconfig"
)

// Release is the symbolic tag for the latest stable game release.
const Release = "release"

// Recommended is the symbolic Forge build used when none is configured.
const Recommended = "recommended"

// ErrInvalidConfig is returned for an unknown game variant.
var ErrInvalidConfig = errors.New("invalid game configuration")

// Variant is a game flavor.
type Variant string

const (
	Vanilla Variant = "vanilla"
	Fabric  Variant = "fabric"
	Quilt   Variant = "quilt"
	Forge   Variant = "forge"
)

// QuickPlay holds multiplayer auto-join parameters.
type QuickPlay struct {
	Host string `json:"host"`
	Port int    `json:"port"`
}

// Args returns the game arguments that join the server on startup.
func (q QuickPlay) Args() []string {
	return []string{"--quickPlayMultiplayer", net.JoinHostPort(q.Host, strconv.Itoa(q.Port))}
}

// Descriptor identifies what the provisioning dependency installs.
type Descriptor struct {
	Variant Variant `json:"variant"`
	// GameVersion is the base game version, possibly Release.
	GameVersion string `json:"game_version"`
	// Version is the variant's own version string. For Forge it is
	// "<game>-<build>", for the others it equals GameVersion.
	Version string `json:"version"`
	// LoaderVersion is the Fabric/Quilt loader, empty for latest.
	LoaderVersion string `json:"loader_version,omitempty"`

	QuickPlay *QuickPlay    `json:"quick_play,omitempty"`
	Session   *auth.Session `json:"-"`
}

// ID is the name of the installed version directory.
func (d *Descriptor) ID() string {
	switch d.Variant {
	case Fabric, Quilt:
		loader := d.LoaderVersion
		if loader == "" {
			loader = "latest"
		}
		return fmt.Sprintf("%s-loader-%s-%s", d.Variant, loader, d.GameVersion)
	case Forge:
		return "forge-" + d.Version
	default:
		return d.GameVersion
	}
}

// Base returns the plain game descriptor installed before any variant.
func (d *Descriptor) Base() *Descriptor {
	return &Descriptor{
		Variant:     Vanilla,
		GameVersion: d.GameVersion,
		Version:     d.GameVersion,
		Session:     d.Session,
	}
}

// WithSession returns a copy of d carrying s.
func (d *Descriptor) WithSession(s *auth.Session) *Descriptor {
	cp := *d
	cp.Session = s
	return &cp
}

func (d *Descriptor) String() string {
	return fmt.Sprintf("%s %s", d.Variant, d.ID())
}

// Builder builds descriptors from the remote config.
type Builder struct {
	logger *slog.Logger
}

// NewBuilder creates a Builder.
func NewBuilder(logger *slog.Logger) *Builder {
	if logger == nil {
		logger = slog.Default()
	}
	return &Builder{logger: logger}
}

// Build returns the descriptor for cfg.SelectedGame.
func (b *Builder) Build(cfg *remoteconfig.Config) (*Descriptor, error) {
	params, _ := cfg.Variant()
	game := params.MCVersion

	switch Variant(cfg.SelectedGame) {
	case Vanilla:
		if game == "" {
			game = Release
		}
		return &Descriptor{Variant: Vanilla, GameVersion: game, Version: game}, nil

	case Fabric, Quilt:
		if game == "" {
			game = Release
		}
		return &Descriptor{
			Variant:       Variant(cfg.SelectedGame),
			GameVersion:   game,
			Version:       game,
			LoaderVersion: params.LoaderVersion,
		}, nil

	case Forge:
		// Without a game version the configured build cannot be pinned, so
		// the latest release is installed and forge_version is ignored.
		if game == "" {
			if params.ForgeVersion != "" {
				b.logger.Warn("forge_version ignored because mc_version is not set",
					"forge_version", params.ForgeVersion)
			}
			return &Descriptor{Variant: Forge, GameVersion: Release, Version: Release}, nil
		}
		build := params.ForgeVersion
		if build == "" {
			build = Recommended
		}
		return &Descriptor{Variant: Forge, GameVersion: game, Version: game + "-" + build}, nil

	default:
		return nil, fmt.Errorf("%w: unknown game variant %q", ErrInvalidConfig, cfg.SelectedGame)
	}
}

// ApplyAutoJoin attaches quick-play parameters when enabled and a server is
// configured. Enabled without a server only logs a warning.
func (b *Builder) ApplyAutoJoin(d *Descriptor, server remoteconfig.ServerAddress, enabled bool) {
	if !enabled {
		return
	}
	if server.Host == "" {
		b.logger.Warn("autojoin enabled but no server configured")
		return
	}
	port := server.Port
	if port == 0 {
		port = remoteconfig.DefaultPort
	}
	d.QuickPlay = &QuickPlay{Host: server.Host, Port: port}
}
