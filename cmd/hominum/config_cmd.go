package main

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/hominum/launcher/internal/config"
)

var configInitForce bool

func newConfigCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "config",
		Short: "Manage launcher configuration",
		Long: `Manage the local launcher configuration file. The modpack configuration
itself lives in the content repository and is fetched on every run.`,
		Example: `  hominum config show
  hominum config init ~/.config/hominum/hominum.yaml`,
	}

	cmd.AddCommand(
		newConfigShowCmd(),
		newConfigInitCmd(),
	)

	return cmd
}

func newConfigShowCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "show",
		Short: "Display current configuration",
		Long: `Display the effective configuration in YAML format, with environment
and command-line overrides applied. The API token is never shown.`,
		Example: `  hominum config show
  hominum config show --config ./hominum.yaml`,
		RunE: configShowRun,
	}

	return cmd
}

func configShowRun(cmd *cobra.Command, args []string) error {
	if globalCfg == nil {
		return fmt.Errorf("config not loaded")
	}

	data, err := globalCfg.Marshal()
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}

	fmt.Println("Current Configuration:")
	fmt.Println("======================")
	if cfgPath != "" {
		fmt.Printf("# loaded from %s\n", cfgPath)
	}
	fmt.Println(string(data))
	if globalCfg.Remote.Token != "" {
		fmt.Printf("# API token: set via $%s\n", globalCfg.Remote.TokenEnv)
	}

	return nil
}

func newConfigInitCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "init [PATH]",
		Short: "Write a default configuration file",
		Long: `Write the default configuration to PATH (hominum.yaml in the current
directory when omitted). An existing file is left alone unless --force is given.`,
		Example: `  hominum config init
  hominum config init ~/.config/hominum/hominum.yaml --force`,
		Args: cobra.MaximumNArgs(1),
		RunE: configInitRun,
	}

	cmd.Flags().BoolVar(&configInitForce, "force", false, "overwrite an existing file")

	return cmd
}

func configInitRun(cmd *cobra.Command, args []string) error {
	path := "hominum.yaml"
	if len(args) == 1 {
		path = args[0]
	}
	if err := writeDefaultConfig(path, configInitForce); err != nil {
		return err
	}
	fmt.Printf("Wrote default configuration to %s\n", path)
	return nil
}

func writeDefaultConfig(path string, force bool) error {
	if !force {
		if _, err := os.Stat(path); err == nil {
			return fmt.Errorf("%s already exists (use --force to overwrite)", path)
		} else if !errors.Is(err, fs.ErrNotExist) {
			return fmt.Errorf("failed to check %s: %w", path, err)
		}
	}

	data, err := config.DefaultConfig().Marshal()
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("failed to write config: %w", err)
	}
	return nil
}
