package main

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/kimcharli/apstra-bp-consolidate/pkg/blueprint"
	"github.com/kimcharli/apstra-bp-consolidate/pkg/report"
)

var findMissingVNsCmd = &cobra.Command{
	Use:   "find-missing-vns",
	Short: "List virtual networks other blueprints have but main lacks",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		s, err := connect(ctx, false)
		if err != nil {
			return err
		}
		defer s.Close()

		mainBP, err := blueprint.Open(ctx, s.client, cfg.Blueprint.Main.Name)
		if err != nil {
			return err
		}
		all, err := blueprint.All(ctx, s.client)
		if err != nil {
			return err
		}
		missing, err := report.FindMissingVNs(ctx, mainBP, all)
		if err != nil {
			return err
		}
		if jsonOutput {
			if missing == nil {
				missing = []report.MissingVNs{}
			}
			return printJSON(missing)
		}
		if len(missing) == 0 {
			fmt.Printf("%s carries every virtual network of the other %d blueprints\n", mainBP.Label, len(all)-1)
			return nil
		}
		for _, m := range missing {
			fmt.Printf("%s: %d missing %v\n", m.Blueprint, len(m.VNIs), m.VNIs)
		}
		return nil
	},
}

var collectCablingMapsCmd = &cobra.Command{
	Use:   "collect-cabling-maps",
	Short: "Write the generic systems cabled to the pair in both blueprints as YAML",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		s, err := connect(ctx, true)
		if err != nil {
			return err
		}
		defer s.Close()

		source, target, err := s.openPair(ctx)
		if err != nil {
			return err
		}
		files, err := report.CollectCablingMaps(ctx, []*blueprint.Blueprint{target, source},
			cfg.Blueprint.Tor.SwitchNames, cfg.Output.CablingDir)
		return printFiles(files, err)
	},
}

var pullConfigurationsCmd = &cobra.Command{
	Use:   "pull-configurations",
	Short: "Save the rendered configuration of the pair from both blueprints",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		s, err := connect(ctx, true)
		if err != nil {
			return err
		}
		defer s.Close()

		source, target, err := s.openPair(ctx)
		if err != nil {
			return err
		}
		files, err := report.PullConfigurations(ctx, []*blueprint.Blueprint{target, source},
			cfg.Blueprint.Tor.SwitchNames, cfg.Output.ConfigDir)
		return printFiles(files, err)
	},
}

func printFiles(files []report.File, err error) error {
	if jsonOutput {
		if files == nil {
			files = []report.File{}
		}
		if jerr := printJSON(files); jerr != nil {
			return jerr
		}
		return err
	}
	for _, f := range files {
		fmt.Println(f)
	}
	if len(files) > 0 {
		fmt.Printf("%d files, %s\n", len(files), report.TotalBytes(files))
	}
	return err
}

func printJSON(v any) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
