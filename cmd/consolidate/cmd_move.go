package main

import (
	"context"
	"fmt"
	"path/filepath"
	"time"

	"github.com/spf13/cobra"

	"github.com/kimcharli/apstra-bp-consolidate/pkg/journal"
	"github.com/kimcharli/apstra-bp-consolidate/pkg/migrate"
	"github.com/kimcharli/apstra-bp-consolidate/pkg/settings"
	"github.com/kimcharli/apstra-bp-consolidate/pkg/util"
)

// moveCommands returns one command per phase plus move-all
func moveCommands() []*cobra.Command {
	phases := []struct {
		use, phase, short string
	}{
		{"move-access-switch", migrate.PhaseAccessSwitchPair, "Replace the legacy generic system with the switch pair"},
		{"move-generic-systems", migrate.PhaseGenericSystems, "Recreate the generic systems cabled to the pair"},
		{"move-virtual-networks", migrate.PhaseVirtualNetworks, "Extend the pair's virtual networks to the new pair"},
		{"move-cts", migrate.PhaseConnectivityTemplates, "Reattach VLAN connectivity templates"},
		{"move-devices", migrate.PhaseDevices, "Move device assignments and mark them for deploy"},
	}
	var cmds []*cobra.Command
	for _, p := range phases {
		phase := p.phase
		cmds = append(cmds, &cobra.Command{
			Use:   p.use,
			Short: p.short,
			Args:  cobra.NoArgs,
			RunE: func(cmd *cobra.Command, args []string) error {
				return runMove(cmd.Context(), phase)
			},
		})
	}
	cmds = append(cmds, &cobra.Command{
		Use:   "move-all",
		Short: "Run every phase in order",
		Long: `Run every phase in order, stopping at the first phase that cannot
continue. Rerunning after a failure skips the work already done.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runMove(cmd.Context(), migrate.Phases()...)
		},
	})
	return cmds
}

func runMove(ctx context.Context, phases ...string) error {
	s, err := connect(ctx, true)
	if err != nil {
		return err
	}
	defer s.Close()

	source, target, err := s.openPair(ctx)
	if err != nil {
		return err
	}
	order, err := cfg.Order()
	if err != nil {
		return err
	}

	run := &journal.Run{
		TorName: order.TorName,
		Source:  source.Label,
		Target:  target.Label,
		Pair:    order.SwitchPair,
	}
	runID, err := s.journal.Begin(ctx, run)
	if err != nil {
		util.Warnf("Run journal disabled: %v", err)
		s.journal = journal.Nop{}
		runID, _ = s.journal.Begin(ctx, run)
	}
	s.client.SetAudit(s.audit, runID)
	util.WithField("run", runID).Debugf("moving %v from %s to %s", order.SwitchPair, source.Label, target.Label)

	var console migrate.Progress = migrate.NewConsoleProgress(verbose)
	if jsonOutput {
		console = nil
	}
	progress := multiProgress{console, &journalProgress{ctx: ctx, j: s.journal, runID: runID}}

	orch, err := migrate.New(source, target, order, migrate.Options{
		Renamer:  cfg.Renamer(),
		Batch:    cfg.BatchOptions(),
		Waiter:   cfg.Waiter(),
		Progress: progress,
		Pending:  migrate.NewFilePending(filepath.Join(filepath.Dir(settings.DefaultSettingsPath()), "pending")),
	})
	if err != nil {
		return err
	}

	results, runErr := orch.Run(ctx, phases...)
	if jsonOutput {
		if err := printJSON(summaryViews(runID, results)); err != nil {
			return err
		}
	}
	if runErr != nil {
		return runErr
	}
	failed := 0
	for _, r := range results {
		if r.Status() == migrate.StatusFailed {
			failed++
		}
	}
	if failed > 0 {
		return fmt.Errorf("%d of %d phases had failures (run %s)", failed, len(results), runID)
	}
	return nil
}

type summaryView struct {
	*migrate.PhaseSummary
	Status string `json:"status"`
	Error  string `json:"error,omitempty"`
}

type runView struct {
	RunID  string        `json:"run_id"`
	Phases []summaryView `json:"phases"`
}

func summaryViews(runID string, results []*migrate.PhaseSummary) runView {
	v := runView{RunID: runID, Phases: []summaryView{}}
	for _, r := range results {
		sv := summaryView{PhaseSummary: r, Status: r.Status()}
		if r.Err != nil {
			sv.Error = r.Err.Error()
		}
		v.Phases = append(v.Phases, sv)
	}
	return v
}

// multiProgress fans callbacks out to several reporters; nil entries are skipped
type multiProgress []migrate.Progress

func (m multiProgress) RunStart(phases []string) {
	for _, p := range m {
		if p != nil {
			p.RunStart(phases)
		}
	}
}

func (m multiProgress) PhaseStart(phase string, index, total int) {
	for _, p := range m {
		if p != nil {
			p.PhaseStart(phase, index, total)
		}
	}
}

func (m multiProgress) PhaseEnd(s *migrate.PhaseSummary, index, total int) {
	for _, p := range m {
		if p != nil {
			p.PhaseEnd(s, index, total)
		}
	}
}

func (m multiProgress) RunEnd(results []*migrate.PhaseSummary, d time.Duration) {
	for _, p := range m {
		if p != nil {
			p.RunEnd(results, d)
		}
	}
}

// journalProgress records each finished phase in the run journal
type journalProgress struct {
	ctx   context.Context
	j     journal.Journal
	runID string
}

func (p *journalProgress) RunStart([]string)                             {}
func (p *journalProgress) PhaseStart(string, int, int)                   {}
func (p *journalProgress) RunEnd([]*migrate.PhaseSummary, time.Duration) {}

func (p *journalProgress) PhaseEnd(s *migrate.PhaseSummary, _, _ int) {
	if err := p.j.Record(p.ctx, p.runID, phaseRecord(s)); err != nil {
		util.WithPhase(s.Phase).Warnf("not journaled: %v", err)
	}
}

func phaseRecord(s *migrate.PhaseSummary) *journal.PhaseRecord {
	rec := &journal.PhaseRecord{
		Phase:    s.Phase,
		Status:   s.Status(),
		Updated:  s.Updated,
		Skipped:  s.Skipped,
		Missing:  s.Missing,
		Failed:   s.Failed,
		Duration: s.Duration,
	}
	if s.Err != nil {
		rec.Error = s.Err.Error()
	}
	return rec
}
