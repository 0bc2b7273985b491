package main

import (
	"fmt"
	"sort"
	"strings"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"

	"github.com/hominum/launcher/internal/engine"
	"github.com/hominum/launcher/internal/provision"
	"github.com/hominum/launcher/internal/store"
)

var (
	statusLimit int
	statusFiles bool
)

func newStatusCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "status",
		Short: "Display recent runs and the installed environment",
		Long: `Display the most recent install and sync runs, the launch environment
saved by the last successful install, and a summary of synced content grouped
by sync path.`,
		Example: `  hominum status
  hominum status --limit 20
  hominum status --files`,
		RunE: statusRun,
	}

	cmd.Flags().IntVar(&statusLimit, "limit", 10, "number of runs to show")
	cmd.Flags().BoolVar(&statusFiles, "files", false, "list every synced file")

	return cmd
}

func statusRun(cmd *cobra.Command, args []string) error {
	if globalStore == nil {
		return fmt.Errorf("store not initialized")
	}

	runs, err := globalStore.ListRuns(statusLimit)
	if err != nil {
		return fmt.Errorf("failed to list runs: %w", err)
	}

	fmt.Println("Recent Runs")
	fmt.Println("===========")
	fmt.Println("")
	if len(runs) == 0 {
		fmt.Println("No runs recorded")
	} else {
		fmt.Printf("%-10s %-10s %-26s %-8s %8s  %s\n", "Run", "Status", "Version", "Reached", "Files", "Started")
		fmt.Println(strings.Repeat("-", 84))
		for _, r := range runs {
			fmt.Printf("%-10s %-10s %-26s %-8s %8d  %s\n",
				shortID(r.ID),
				r.Status,
				orDash(r.VersionID),
				orDash(shortState(r.State)),
				r.FilesSynced,
				humanize.Time(r.StartedAt),
			)
			if r.ErrorMessage != "" {
				fmt.Printf("           error: %s\n", r.ErrorMessage)
			}
		}
	}
	fmt.Println("")

	var env provision.Environment
	found, err := globalStore.Get(store.SectionGame, store.KeyEnvironment, &env)
	if err != nil {
		return fmt.Errorf("failed to read environment: %w", err)
	}
	var firstStart bool
	if _, err := globalStore.Get(store.SectionGame, store.KeyFirstStart, &firstStart); err != nil {
		return fmt.Errorf("failed to read first start flag: %w", err)
	}

	fmt.Println("Environment")
	fmt.Println("===========")
	fmt.Println("")
	if !found {
		fmt.Println("Not installed")
	} else {
		fmt.Printf("Version:     %s\n", env.VersionID)
		fmt.Printf("Directory:   %s\n", env.Dir)
		fmt.Printf("Main class:  %s\n", env.MainClass)
		fmt.Printf("Libraries:   %d\n", len(env.ClassPath))
		fmt.Printf("Player:      %s\n", env.Username)
	}
	fmt.Printf("First start: %t\n", firstStart)
	fmt.Println("")

	files, err := globalStore.ListSyncedFiles("")
	if err != nil {
		return fmt.Errorf("failed to list synced files: %w", err)
	}
	printSyncedFiles(files)
	return nil
}

func printSyncedFiles(files []store.SyncedFile) {
	fmt.Println("Synced Content")
	fmt.Println("==============")
	fmt.Println("")
	if len(files) == 0 {
		fmt.Println("No synced files")
		return
	}

	type group struct {
		count int
		size  int64
	}
	groups := make(map[string]*group)
	var names []string
	for _, f := range files {
		g, ok := groups[f.SyncPath]
		if !ok {
			g = &group{}
			groups[f.SyncPath] = g
			names = append(names, f.SyncPath)
		}
		g.count++
		g.size += f.Size
	}
	sort.Strings(names)

	fmt.Printf("%-30s %10s %12s\n", "Sync Path", "Files", "Size")
	fmt.Println(strings.Repeat("-", 54))
	for _, name := range names {
		g := groups[name]
		fmt.Printf("%-30s %10d %12s\n", name, g.count, humanize.Bytes(uint64(g.size)))
	}

	if statusFiles {
		fmt.Println("")
		for _, f := range files {
			fmt.Printf("  %s (%s, %s)\n", f.Path, humanize.Bytes(uint64(f.Size)), humanize.Time(f.SyncedAt))
		}
	}
	fmt.Println("")
}

func shortID(id string) string {
	if len(id) > 8 {
		return id[:8]
	}
	return id
}

// shortState trims the state names down to fit the table.
func shortState(s string) string {
	switch engine.State(s) {
	case engine.StateResolvingConfig:
		return "config"
	case engine.StateProvisioning:
		return "install"
	case engine.StateSyncingContent:
		return "sync"
	}
	return s
}

func orDash(s string) string {
	if s == "" {
		return "-"
	}
	return s
}
