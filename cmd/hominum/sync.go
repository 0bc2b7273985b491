package main

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/hominum/launcher/internal/engine"
)

func newSyncCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "sync",
		Short: "Synchronize modpack content without reinstalling the game",
		Long: `Fetch the content tree and remote configuration, then synchronize every
configured sync path into the game directory. The game version is not
installed and the first start flag is left unchanged, so paths marked
first_start_only are synced only until the first successful install.`,
		Example: `  hominum sync
  hominum sync --store-dir /tmp/hominum`,
		RunE: syncRun,
	}
	return cmd
}

func syncRun(cmd *cobra.Command, args []string) error {
	if globalCfg == nil {
		return fmt.Errorf("config not loaded")
	}
	if globalOrchestrator == nil {
		return fmt.Errorf("orchestrator not initialized")
	}

	logger.Info("content sync starting", "work_dir", globalCfg.WorkDir())
	return runPass("sync", func(ctx context.Context, tr *engine.Tracker) (*engine.Outcome, error) {
		return globalOrchestrator.SyncContent(ctx, tr)
	})
}
