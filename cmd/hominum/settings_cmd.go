package main

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/hominum/launcher/internal/store"
)

func newSettingsCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "settings",
		Short: "View and change stored launcher settings",
		Long: `View and change the settings kept in the local store. Values are JSON;
anything that does not parse as JSON is stored as a plain string.

Known keys:
  game.first_start           sync first_start_only paths on the next run
  game.autojoin              join the configured server on launch
  game.ram_jvm_args          heap arguments for the game JVM
  game.additional_jvm_args   extra JVM arguments
  user.email                 active account`,
		Example: `  hominum settings list
  hominum settings get game ram_jvm_args
  hominum settings set game autojoin false
  hominum settings set game ram_jvm_args '["-Xms4G","-Xmx4G"]'`,
	}

	cmd.AddCommand(
		newSettingsListCmd(),
		newSettingsGetCmd(),
		newSettingsSetCmd(),
	)

	return cmd
}

func newSettingsListCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "list [SECTION]",
		Short: "List stored settings",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if globalStore == nil {
				return fmt.Errorf("store not initialized")
			}
			section := ""
			if len(args) == 1 {
				section = args[0]
			}
			settings, err := globalStore.ListSettings(section)
			if err != nil {
				return fmt.Errorf("failed to list settings: %w", err)
			}
			for _, s := range settings {
				// session blobs carry access tokens
				if s.Section == store.SectionAuth {
					fmt.Printf("%s.%s = <redacted>\n", s.Section, s.Key)
					continue
				}
				fmt.Printf("%s.%s = %s\n", s.Section, s.Key, s.Value)
			}
			return nil
		},
	}
}

func newSettingsGetCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "get SECTION KEY",
		Short: "Print one setting",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			if globalStore == nil {
				return fmt.Errorf("store not initialized")
			}
			raw, found, err := globalStore.GetRaw(args[0], args[1])
			if err != nil {
				return fmt.Errorf("failed to read setting: %w", err)
			}
			if !found {
				return fmt.Errorf("setting %s.%s not found", args[0], args[1])
			}
			fmt.Println(raw)
			return nil
		},
	}
}

func newSettingsSetCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "set SECTION KEY VALUE",
		Short: "Change one setting",
		Args:  cobra.ExactArgs(3),
		RunE: func(cmd *cobra.Command, args []string) error {
			if globalStore == nil {
				return fmt.Errorf("store not initialized")
			}
			value := parseSettingValue(args[2])
			if err := globalStore.Set(args[0], args[1], value); err != nil {
				return fmt.Errorf("failed to write setting: %w", err)
			}
			logger.Info("setting updated", "section", args[0], "key", args[1])
			return nil
		},
	}
}

// parseSettingValue decodes s as JSON, falling back to the raw string.
func parseSettingValue(s string) any {
	trimmed := strings.TrimSpace(s)
	var v any
	if err := json.Unmarshal([]byte(trimmed), &v); err == nil {
		return v
	}
	return s
}
