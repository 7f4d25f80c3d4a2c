package main

import (
	"fmt"
	"os"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/kimcharli/apstra-bp-consolidate/pkg/audit"
	"github.com/kimcharli/apstra-bp-consolidate/pkg/config"
)

var auditCmd = &cobra.Command{
	Use:   "audit",
	Short: "View the mutation audit log",
	Long: `View the controller requests made by past runs. The log is written
when the order file sets audit_log.

Examples:
  consolidate -o r5r14.yaml audit list --last 24h
  consolidate -o r5r14.yaml audit list --run <run id> --failures`,
}

var (
	auditRun      string
	auditPhase    string
	auditLast     string
	auditLimit    int
	auditFailures bool
)

var auditListCmd = &cobra.Command{
	Use:   "list",
	Short: "List audit events",
	RunE: func(cmd *cobra.Command, args []string) error {
		if orderFile == "" {
			orderFile = os.Getenv("CONSOLIDATION_ORDER")
		}
		c, err := config.Load(orderFile)
		if err != nil {
			return err
		}
		if c.AuditLog == "" {
			return fmt.Errorf("no audit log configured: set audit_log in the order file")
		}

		filter := audit.Filter{
			RunID:       auditRun,
			Phase:       auditPhase,
			Limit:       auditLimit,
			FailureOnly: auditFailures,
		}
		if auditLast != "" {
			d, err := time.ParseDuration(auditLast)
			if err != nil {
				return fmt.Errorf("invalid duration: %s", auditLast)
			}
			filter.StartTime = time.Now().Add(-d)
		}

		l, err := audit.NewFileLogger(c.Resolve(c.AuditLog), auditRotation)
		if err != nil {
			return err
		}
		defer l.Close()
		events, err := l.Query(filter)
		if err != nil {
			return fmt.Errorf("querying audit log: %w", err)
		}

		if jsonOutput {
			return printJSON(events)
		}
		if len(events) == 0 {
			fmt.Println("No audit events found")
			return nil
		}
		w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
		fmt.Fprintln(w, "TIMESTAMP\tPHASE\tMETHOD\tPATH\tSTATUS\tDURATION")
		for _, e := range events {
			status := fmt.Sprint(e.Status)
			if !e.Success {
				status += " " + e.Error
			}
			fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\t%s\n",
				e.Timestamp.Local().Format("2006-01-02 15:04:05"), e.Phase, e.Method, e.Path, status,
				e.Duration.Round(time.Millisecond))
		}
		return w.Flush()
	},
}

func init() {
	auditListCmd.Flags().StringVar(&auditRun, "run", "", "Filter by run id")
	auditListCmd.Flags().StringVar(&auditPhase, "phase", "", "Filter by phase")
	auditListCmd.Flags().StringVar(&auditLast, "last", "", "Show events from last duration (e.g., 24h)")
	auditListCmd.Flags().IntVar(&auditLimit, "limit", 100, "Maximum events to show")
	auditListCmd.Flags().BoolVar(&auditFailures, "failures", false, "Show only failures")

	auditCmd.AddCommand(auditListCmd)
}
