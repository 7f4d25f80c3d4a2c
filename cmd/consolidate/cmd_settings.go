package main

import (
	"fmt"
	"strconv"

	"github.com/spf13/cobra"

	"github.com/kimcharli/apstra-bp-consolidate/pkg/cli"
	"github.com/kimcharli/apstra-bp-consolidate/pkg/settings"
)

var settingsCmd = &cobra.Command{
	Use:   "settings",
	Short: "Manage persistent settings",
	Long: `Manage persistent settings stored in ~/.consolidate/settings.json.

Settings provide defaults when flags and environment are unset:
  - default_order: order file used when -o is not specified
  - journal_redis: Redis host:port of the run journal
  - journal_db:    Redis database of the run journal

Examples:
  consolidate settings show
  consolidate settings set default_order ~/orders/r5r14.yaml
  consolidate settings set journal_redis 127.0.0.1:6379
  consolidate settings clear`,
}

var settingsShowCmd = &cobra.Command{
	Use:   "show",
	Short: "Show current settings",
	RunE: func(cmd *cobra.Command, args []string) error {
		s, err := settings.Load()
		if err != nil {
			return fmt.Errorf("loading settings: %w", err)
		}

		fmt.Printf("Settings file: %s\n\n", settings.DefaultSettingsPath())

		t := cli.NewTable("SETTING", "VALUE")
		printSetting := func(name, value string) {
			if value == "" {
				value = "(not set)"
			}
			t.Row(name, value)
		}
		printSetting("default_order", s.DefaultOrder)
		printSetting("journal_redis", s.JournalRedis)
		printSetting("journal_db", strconv.Itoa(s.JournalDB))
		t.Flush()
		return nil
	},
}

var settingsSetCmd = &cobra.Command{
	Use:   "set <setting> <value>",
	Short: "Set a setting value",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		s, err := settings.Load()
		if err != nil {
			s = &settings.Settings{}
		}
		if err := s.Set(args[0], args[1]); err != nil {
			return err
		}
		if err := s.Save(); err != nil {
			return fmt.Errorf("saving settings: %w", err)
		}
		fmt.Printf("%s set to: %s\n", args[0], args[1])
		return nil
	},
}

var settingsClearCmd = &cobra.Command{
	Use:   "clear",
	Short: "Clear all settings",
	RunE: func(cmd *cobra.Command, args []string) error {
		s := &settings.Settings{}
		s.Clear()
		if err := s.Save(); err != nil {
			return fmt.Errorf("saving settings: %w", err)
		}
		fmt.Println("Settings cleared")
		return nil
	},
}

var settingsPathCmd = &cobra.Command{
	Use:   "path",
	Short: "Show settings file path",
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Println(settings.DefaultSettingsPath())
	},
}

func init() {
	settingsCmd.AddCommand(settingsShowCmd)
	settingsCmd.AddCommand(settingsSetCmd)
	settingsCmd.AddCommand(settingsClearCmd)
	settingsCmd.AddCommand(settingsPathCmd)
}
