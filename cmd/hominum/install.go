package main

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/hominum/launcher/internal/engine"
)

func newInstallCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "install",
		Short: "Install the selected game version and sync modpack content",
		Long: `Run a full install pass:
  1. Load the stored session for user.email and refresh it if needed
  2. Fetch the content tree and the remote modpack configuration
  3. Install the selected game version (vanilla, fabric, quilt or forge)
  4. Synchronize every configured sync path into the game directory

Installation is retried when it fails or stalls. Press Ctrl+C to cancel.`,
		Example: `  hominum install
  hominum install --quiet
  hominum install --log-level debug`,
		RunE: installRun,
	}
	return cmd
}

func installRun(cmd *cobra.Command, args []string) error {
	if globalCfg == nil {
		return fmt.Errorf("config not loaded")
	}
	if len(globalCfg.MirrorCandidates()) == 0 {
		return fmt.Errorf("no version mirror configured (provision.mirror_url or provision.mirrors); use 'hominum sync' to update content only")
	}
	if globalOrchestrator == nil {
		return fmt.Errorf("orchestrator not initialized")
	}

	logger.Info("install starting", "work_dir", globalCfg.WorkDir())
	return runPass("install", func(ctx context.Context, tr *engine.Tracker) (*engine.Outcome, error) {
		return globalOrchestrator.Install(ctx, tr)
	})
}
