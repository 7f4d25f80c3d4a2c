package migrate

import (
	"context"

	"github.com/kimcharli/apstra-bp-consolidate/pkg/ctassoc"
	"github.com/kimcharli/apstra-bp-consolidate/pkg/util"
)

func (o *Orchestrator) connectivityTemplates(ctx context.Context, s *PhaseSummary) error {
	pair := o.order.SwitchPair
	table, err := ctassoc.PullInterfaceVlanTable(ctx, o.source, pair)
	if err != nil {
		return err
	}
	if table.Len() == 0 {
		util.WithPhase(PhaseConnectivityTemplates).Infof("no VLAN assignment on %v in %s", pair, o.source.Label)
		return nil
	}
	sum, err := ctassoc.NewEngine(o.target, o.applier).Associate(ctx, table, pair)
	s.Updated += sum.Attached
	s.Skipped += sum.AlreadyAttached
	s.Missing += sum.Missing
	s.Failed += sum.Failed
	return err
}
