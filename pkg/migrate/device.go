package migrate

import (
	"context"

	"github.com/kimcharli/apstra-bp-consolidate/pkg/model"
	"github.com/kimcharli/apstra-bp-consolidate/pkg/util"
)

// devices moves the device serials of the pair: released in the source
// first, since a serial can be bound in one blueprint only, then claimed
// and marked for deploy in the target.
func (o *Orchestrator) devices(ctx context.Context, s *PhaseSummary) error {
	log := util.WithPhase(PhaseDevices)

	var release, claim []map[string]any
	serials := map[string]string{}
	for _, label := range o.order.SwitchPair {
		dlog := log.WithField("system", label)
		tgt, found, err := o.targetIDs.System(ctx, label)
		if err != nil {
			return err
		}
		if !found {
			dlog.Warnf("absent from %s", o.target.Label)
			s.Missing++
			continue
		}
		if sn, ok := tgt.Serial(); ok {
			dlog.Debugf("already bound to %s", sn)
			s.Skipped++
			continue
		}
		src, found, err := o.sourceIDs.System(ctx, label)
		if err != nil {
			return err
		}
		var sn string
		if found {
			sn, found = src.Serial()
		}
		if !found {
			dlog.Warnf("no device serial in %s", o.source.Label)
			s.Missing++
			continue
		}
		serials[label] = sn
		release = append(release, map[string]any{"id": src.ID, "system_id": nil, "deploy_mode": nil})
		claim = append(claim, map[string]any{"id": tgt.ID, "system_id": sn, "deploy_mode": model.DeployModeDeploy})
	}
	if len(claim) == 0 {
		return nil
	}

	if err := o.source.PatchNodes(ctx, release); err != nil {
		log.Errorf("releasing %v in %s: %v", serials, o.source.Label, err)
		s.Failed += len(release)
		return nil
	}
	if err := o.target.PatchNodes(ctx, claim); err != nil {
		// the serials are released and unbound now; they are logged for recovery
		log.Errorf("claiming %v in %s: %v", serials, o.target.Label, err)
		s.Failed += len(claim)
		return nil
	}
	log.Infof("moved %v to %s", serials, o.target.Label)
	s.Updated += len(claim)
	return nil
}
