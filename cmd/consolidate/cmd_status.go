package main

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/kimcharli/apstra-bp-consolidate/pkg/cli"
	"github.com/kimcharli/apstra-bp-consolidate/pkg/journal"
	"github.com/kimcharli/apstra-bp-consolidate/pkg/migrate"
)

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show the last recorded run",
	Long: `Show the phases of the most recent run recorded in the run journal.
The journal is kept in Redis when journal.redis_addr, $CONSOLIDATION_REDIS
or 'consolidate settings set journal_redis' names a server.

  consolidate status
  consolidate status --json`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		if cfg.Journal.RedisAddr == "" {
			return fmt.Errorf("no run journal configured: set journal.redis_addr or $CONSOLIDATION_REDIS")
		}
		ctx := cmd.Context()
		j := journal.NewRedisJournal(cfg.Journal.RedisAddr, cfg.Journal.RedisDB)
		defer j.Close()
		if err := j.Ping(ctx); err != nil {
			return err
		}
		run, err := j.Last(ctx)
		if err != nil {
			return err
		}
		if run == nil {
			if jsonOutput {
				fmt.Println("null")
				return nil
			}
			fmt.Println("No runs recorded.")
			return nil
		}
		if jsonOutput {
			return printJSON(run)
		}
		printRun(run)
		return nil
	},
}

func printRun(run *journal.Run) {
	fmt.Printf("%s  %s -> %s  %v\n", cli.Bold("Run "+run.ID), run.Source, run.Target, run.Pair)
	fmt.Printf("Started %s\n\n", run.Started.Local().Format(time.RFC1123))

	t := cli.NewTable("PHASE", "STATUS", "UPDATED", "SKIPPED", "MISSING", "FAILED", "DURATION").Indent(2)
	for _, phase := range migrate.Phases() {
		rec, ok := run.Phases[phase]
		if !ok {
			t.Row(phase, cli.Dim("not run"), "", "", "", "", "")
			continue
		}
		t.Row(phase, cli.Paint(migrate.StatusTone(rec.Status), rec.Status),
			rec.Updated, rec.Skipped, rec.Missing, rec.Failed, rec.Duration.Round(time.Millisecond))
	}
	t.Flush()

	for _, phase := range migrate.Phases() {
		if rec, ok := run.Phases[phase]; ok && rec.Error != "" {
			fmt.Printf("\n%s: %s\n", phase, cli.Paint(cli.Bad, rec.Error))
		}
	}
}
