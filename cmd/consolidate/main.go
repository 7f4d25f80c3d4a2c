// Consolidate - move a ToR switch pair between Apstra blueprints
//
// The switch pair of a ToR blueprint, every generic system cabled to it,
// its virtual networks, connectivity templates and device assignments are
// moved into the main blueprint, replacing the generic system that stood in
// for the pair there. Each phase skips what the target already has, so a
// phase or the whole move can be rerun after a partial failure.
//
// Examples:
//
//	consolidate -o r5r14.yaml move-all
//	consolidate -o r5r14.yaml move-generic-systems -v
//	consolidate -o r5r14.yaml find-missing-vns --json
//	consolidate status
package main

import (
	"errors"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/kimcharli/apstra-bp-consolidate/pkg/config"
	"github.com/kimcharli/apstra-bp-consolidate/pkg/settings"
	"github.com/kimcharli/apstra-bp-consolidate/pkg/util"
	"github.com/kimcharli/apstra-bp-consolidate/pkg/version"
)

// Exit codes
const (
	exitError     = 1
	exitInvariant = 2
)

var (
	orderFile  string
	verbose    bool
	jsonOutput bool
	logJSON    bool

	userSettings *settings.Settings
	cfg          *config.Config
)

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(exitCode(err))
	}
}

// exitCode maps an error to the process exit status. A broken invariant
// means the blueprint is in a state the tool does not understand.
func exitCode(err error) int {
	if errors.Is(err, util.ErrInvariant) {
		return exitInvariant
	}
	return exitError
}

var rootCmd = &cobra.Command{
	Use:               "consolidate",
	Short:             "Move a ToR switch pair into the main blueprint",
	SilenceUsage:      true,
	SilenceErrors:     true,
	CompletionOptions: cobra.CompletionOptions{HiddenDefaultCmd: true},
	Long: `Consolidate moves a switch pair and everything cabled to it from a ToR
blueprint into the main blueprint.

The order file names the controller, both blueprints and the pair. It is
taken from -o, then $CONSOLIDATION_ORDER, then 'consolidate settings'.
Environment variables override values in the file.

  consolidate -o <order.yaml> <command>`,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		if skipsConfig(cmd) {
			return nil
		}

		var err error
		userSettings, err = settings.Load()
		if err != nil {
			util.Warnf("Could not load settings: %v", err)
			userSettings = &settings.Settings{}
		}

		if orderFile == "" {
			orderFile = os.Getenv("CONSOLIDATION_ORDER")
		}
		if orderFile == "" {
			orderFile = userSettings.DefaultOrder
		}
		cfg, err = config.Load(orderFile)
		if err != nil {
			return err
		}
		if cfg.Journal.RedisAddr == "" {
			cfg.Journal.RedisAddr = userSettings.JournalRedis
			cfg.Journal.RedisDB = userSettings.JournalDB
		}

		if logJSON {
			util.SetJSONFormat()
		}
		level := cfg.LogLevel
		if verbose {
			level = "debug"
		}
		if level == "" {
			level = "info"
		}
		return util.SetLogLevel(level)
	},
}

// skipsConfig reports whether cmd runs without an order file
func skipsConfig(cmd *cobra.Command) bool {
	for c := cmd; c != nil; c = c.Parent() {
		switch c.Name() {
		case "settings", "version", "help", "audit":
			return true
		}
	}
	return false
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&orderFile, "order", "o", "", "Order file (YAML)")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "Verbose output")
	rootCmd.PersistentFlags().BoolVar(&jsonOutput, "json", false, "JSON output")
	rootCmd.PersistentFlags().BoolVar(&logJSON, "log-json", false, "Log as JSON lines on stderr")

	rootCmd.AddGroup(
		&cobra.Group{ID: "move", Title: "Move Phases:"},
		&cobra.Group{ID: "report", Title: "Reports:"},
		&cobra.Group{ID: "meta", Title: "Configuration & Meta:"},
	)

	for _, cmd := range moveCommands() {
		cmd.GroupID = "move"
		rootCmd.AddCommand(cmd)
	}
	for _, cmd := range []*cobra.Command{findMissingVNsCmd, collectCablingMapsCmd, pullConfigurationsCmd} {
		cmd.GroupID = "report"
		rootCmd.AddCommand(cmd)
	}
	for _, cmd := range []*cobra.Command{statusCmd, auditCmd, settingsCmd, versionCmd} {
		cmd.GroupID = "meta"
		rootCmd.AddCommand(cmd)
	}
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print version information",
	Run: func(cmd *cobra.Command, args []string) {
		if version.Version == "dev" {
			fmt.Println("consolidate dev build")
		} else {
			fmt.Printf("consolidate %s (%s)\n", version.Version, version.GitCommit)
		}
	},
}
