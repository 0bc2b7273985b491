package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/hominum/launcher/internal/auth"
	"github.com/hominum/launcher/internal/config"
	"github.com/hominum/launcher/internal/download"
	"github.com/hominum/launcher/internal/engine"
	"github.com/hominum/launcher/internal/gamelib"
	"github.com/hominum/launcher/internal/provision"
	"github.com/hominum/launcher/internal/remote"
	"github.com/hominum/launcher/internal/remoteconfig"
	"github.com/hominum/launcher/internal/safety"
	"github.com/hominum/launcher/internal/store"
	"github.com/hominum/launcher/internal/syncer"
	"github.com/hominum/launcher/internal/version"
)

var (
	// Global flags
	cfgPath   string
	storeDir  string
	logLevel  string
	logFormat string
	quiet     bool
	globalCfg *config.Config
	logger    *slog.Logger

	// Global components
	globalStore        *store.Store
	globalSessions     *auth.Provider
	globalOrchestrator *engine.Orchestrator
)

// initializeComponents opens the store and wires the install pipeline. The
// game installer is only built for commands that provision the game, since
// choosing a mirror may probe the network.
func initializeComponents(ctx context.Context, withInstaller bool) error {
	if globalCfg == nil {
		return fmt.Errorf("config not loaded")
	}

	if err := os.MkdirAll(globalCfg.Store.Dir, 0o755); err != nil {
		return fmt.Errorf("failed to create store directory: %w", err)
	}
	st, err := store.New(globalCfg.DBFile(), logger)
	if err != nil {
		return fmt.Errorf("failed to initialize store: %w", err)
	}
	globalStore = st
	if err := st.SeedDefaults(); err != nil {
		return fmt.Errorf("failed to seed settings: %w", err)
	}

	globalSessions = auth.NewProvider(st, logger)

	rc, err := remote.NewClient(remote.Options{
		TreeURL:   globalCfg.Remote.TreeURL,
		Token:     globalCfg.Remote.Token,
		Attempts:  globalCfg.Remote.RetryAttempts,
		BaseDelay: globalCfg.Remote.RetryDelay,
		Timeout:   globalCfg.Remote.Timeout,
	}, logger)
	if err != nil {
		return fmt.Errorf("failed to initialize remote client: %w", err)
	}

	deps := engine.Deps{
		Tree:     rc,
		Config:   remoteconfig.NewResolver(rc, globalCfg.Remote.ConfigPath, logger),
		Sessions: globalSessions,
		Versions: version.NewBuilder(logger),
		Syncer:   syncer.New(rc, globalCfg.WorkDir(), logger),
		Store:    st,
	}

	if withInstaller && len(globalCfg.MirrorCandidates()) > 0 {
		p, err := newProvisioner(ctx)
		if err != nil {
			return err
		}
		deps.Provisioner = p
	}

	globalOrchestrator = engine.NewOrchestrator(deps, logger)

	logger.Debug("components initialized", "store", globalCfg.DBFile(), "work_dir", globalCfg.WorkDir())
	return nil
}

// newProvisioner picks a version mirror and builds the retrying provisioner
// around its installer.
func newProvisioner(ctx context.Context) (*provision.Provisioner, error) {
	mirrorURL, err := gamelib.SelectMirror(ctx, safety.NewHTTPClient(globalCfg.Remote.Timeout),
		globalCfg.MirrorCandidates(), logger)
	if err != nil {
		return nil, fmt.Errorf("failed to select mirror: %w", err)
	}
	installer, err := gamelib.NewMirrorInstaller(mirrorURL, globalCfg.WorkDir(),
		globalCfg.Provision.Workers, download.NewClient(logger), logger)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize installer: %w", err)
	}

	var probe provision.MetricsProbe
	if p, err := provision.NewSelfProbe(); err != nil {
		logger.Warn("process metrics unavailable, stall detection disabled", "error", err)
	} else {
		probe = p
	}
	return provision.New(installer, probe, provision.Options{
		Attempts:     globalCfg.Provision.Attempts,
		IdleInterval: globalCfg.Provision.IdleInterval,
		IdleTimeout:  globalCfg.Provision.IdleTimeout,
		CPUThreshold: globalCfg.Provision.CPUThreshold,
		Grace:        globalCfg.Provision.Grace,
	}, logger), nil
}

// shouldSkipComponentInit checks if a command should skip component initialization
func shouldSkipComponentInit(cmdName string) bool {
	skipInitCmds := map[string]bool{
		"help":    true,
		"version": true,
		"show":    true,
		"init":    true,
	}
	return skipInitCmds[cmdName]
}

// closeStore closes the global store connection
func closeStore() {
	if globalStore != nil {
		if err := globalStore.Close(); err != nil {
			logger.Error("failed to close store", "error", err)
		}
	}
}

// NewRootCmd creates and returns the root command
func NewRootCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "hominum",
		Short: "Install and keep the Hominum modpack in sync",
		Long: `hominum installs the game version selected by the remote modpack
configuration, then synchronizes mods, resource packs and config files from the
content repository into the local game directory.`,
		Example: `  hominum auth import --email steve@example.org --file session.json
  hominum install
  hominum sync
  hominum status
  hominum settings set game autojoin false`,
		Version:       "1.0.0",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			setupLogging()

			if shouldSkipConfig(cmd.Name()) {
				return nil
			}

			if cfgPath == "" {
				var err error
				cfgPath, err = config.FindConfigFile()
				if err != nil {
					logger.Debug("config file not found, using defaults", "error", err)
				}
			}

			if cfgPath != "" {
				var err error
				globalCfg, err = config.Load(cfgPath)
				if err != nil {
					return fmt.Errorf("failed to load config: %w", err)
				}
			} else {
				globalCfg = config.DefaultConfig()
			}
			globalCfg.ApplyEnv()

			// Override with command-line flags if provided
			if storeDir != "" {
				globalCfg.Store.Dir = storeDir
			}
			if err := globalCfg.Validate(); err != nil {
				return fmt.Errorf("invalid config: %w", err)
			}

			logger.Debug("config loaded", "path", cfgPath, "store_dir", globalCfg.Store.Dir)

			if !shouldSkipComponentInit(cmd.Name()) {
				ctx := cmd.Context()
				if ctx == nil {
					ctx = context.Background()
				}
				if err := initializeComponents(ctx, cmd.Name() == "install"); err != nil {
					return fmt.Errorf("failed to initialize components: %w", err)
				}
			}
			return nil
		},
		PersistentPostRun: func(cmd *cobra.Command, args []string) {
			closeStore()
		},
	}

	cmd.PersistentFlags().StringVar(&cfgPath, "config", "", "path to config file (auto-discovered if not specified)")
	cmd.PersistentFlags().StringVar(&storeDir, "store-dir", "", "override store directory")
	cmd.PersistentFlags().StringVar(&logLevel, "log-level", "info", "log level (debug, info, warn, error)")
	cmd.PersistentFlags().StringVar(&logFormat, "log-format", "text", "log format (text or json)")
	cmd.PersistentFlags().BoolVar(&quiet, "quiet", false, "suppress progress output and info logs")

	cmd.AddCommand(
		newInstallCmd(),
		newSyncCmd(),
		newStatusCmd(),
		newConfigCmd(),
		newAuthCmd(),
		newSettingsCmd(),
	)

	return cmd
}

// parseLevel maps a --log-level value to a slog level.
func parseLevel(s string) slog.Level {
	switch strings.ToLower(s) {
	case "debug":
		return slog.LevelDebug
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// setupLogging initializes the slog logger based on flags
func setupLogging() {
	level := parseLevel(logLevel)
	if quiet && level < slog.LevelWarn {
		level = slog.LevelWarn
	}

	var handler slog.Handler
	if strings.ToLower(logFormat) == "json" {
		handler = slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{Level: level})
	} else {
		handler = slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level})
	}

	logger = slog.New(handler)
	slog.SetDefault(logger)
}

// shouldSkipConfig checks if a command should skip config loading
func shouldSkipConfig(cmdName string) bool {
	skipConfigCmds := map[string]bool{
		"help":    true,
		"version": true,
	}
	return skipConfigCmds[cmdName]
}
