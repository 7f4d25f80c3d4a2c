package migrate

import (
	"context"
	"fmt"
	"sort"

	"github.com/kimcharli/apstra-bp-consolidate/pkg/model"
	"github.com/kimcharli/apstra-bp-consolidate/pkg/qe"
	"github.com/kimcharli/apstra-bp-consolidate/pkg/util"
)

// pairVNIQuery matches the virtual networks instantiated on the pair
func pairVNIQuery(pair []string) *qe.Query {
	return qe.Match(
		qe.Node(model.NodeSystem, qe.IsIn("label", pair)).
			Out(model.RelHostedVNInstances).Node(model.NodeVNInstance).
			Out(model.RelInstantiatedBy).Node(model.NodeVirtualNetwork, qe.Name("vn")),
	).Distinct("vn")
}

// pairGroupsQuery matches the redundancy group of the access pair together
// with the group of the leaf pair it uplinks to.
func pairGroupsQuery(pair []string) *qe.Query {
	return qe.From(qe.Node(model.NodeRedundancyGroup, qe.Name("rg")).
		In(model.RelPartOfRG).Node(model.NodeSystem, qe.IsIn("label", pair), qe.Name("access")).
		Out(model.RelHostedInterfaces).Node(model.NodeInterface).
		Out(model.RelLink).Node(model.NodeLink).
		In(model.RelLink).Node(model.NodeInterface).
		In(model.RelHostedInterfaces).Node(model.NodeSystem, qe.Eq("role", model.RoleLeaf)).
		Out(model.RelPartOfRG).Node(model.NodeRedundancyGroup, qe.Name("leaf_rg")))
}

// pullVNIs returns the sorted VNIs of the virtual networks in rows
func pullVNIs(rows qe.Result) (map[int]string, []int, error) {
	ids := map[int]string{}
	var vnis []int
	for _, row := range rows {
		var vn model.VirtualNetwork
		if _, err := row.Decode("vn", &vn); err != nil {
			return nil, nil, err
		}
		vni, err := vn.VNI()
		if err != nil {
			return nil, nil, err
		}
		if _, dup := ids[vni]; !dup {
			vnis = append(vnis, vni)
		}
		ids[vni] = vn.ID
	}
	sort.Ints(vnis)
	return ids, vnis, nil
}

func (o *Orchestrator) virtualNetworks(ctx context.Context, s *PhaseSummary) error {
	pair := o.order.SwitchPair
	log := util.WithPhase(PhaseVirtualNetworks)

	srcRows, err := o.source.Query(ctx, pairVNIQuery(pair))
	if err != nil {
		return fmt.Errorf("pulling virtual networks of %v: %w", pair, err)
	}
	_, vnis, err := pullVNIs(srcRows)
	if err != nil {
		return err
	}
	if len(vnis) == 0 {
		log.Infof("%v carries no virtual network in %s", pair, o.source.Label)
		return nil
	}

	groups, err := o.target.Query(ctx, pairGroupsQuery(pair))
	if err != nil {
		return fmt.Errorf("pulling redundancy groups of %v: %w", pair, err)
	}
	row, ok := groups.First()
	if !ok {
		log.Warnf("%v has no leaf pair uplink in %s", pair, o.target.Label)
		s.Missing += len(vnis)
		return nil
	}
	rgID, leafRGID := row.ID("rg"), row.ID("leaf_rg")

	vnRows, err := o.target.Query(ctx, qe.From(qe.Node(model.NodeVirtualNetwork, qe.Name("vn"))))
	if err != nil {
		return fmt.Errorf("pulling virtual networks of %s: %w", o.target.Label, err)
	}
	targetVNs, _, err := pullVNIs(vnRows)
	if err != nil {
		return err
	}

	for i, vni := range vnis {
		vlog := log.WithField("vni", vni)
		count := fmt.Sprintf("%d/%d", i+1, len(vnis))
		vnID, ok := targetVNs[vni]
		if !ok {
			vlog.Warnf("%s absent from %s", count, o.target.Label)
			s.Missing++
			continue
		}
		spec, err := o.target.VirtualNetwork(ctx, vnID)
		if err != nil {
			vlog.Errorf("%s reading %s: %v", count, vnID, err)
			s.Failed++
			continue
		}
		binding, ok := spec.BindingFor(leafRGID)
		switch {
		case !ok:
			vlog.Warnf("%s not bound to the leaf pair", count)
			s.Missing++
			continue
		case binding.HasAccessSwitch(rgID):
			vlog.Debugf("%s already bound", count)
			s.Skipped++
			continue
		}
		binding.AccessSwitchNodeIDs = append(binding.AccessSwitchNodeIDs, rgID)
		if err := o.target.PatchVirtualNetwork(ctx, spec); err != nil {
			vlog.Errorf("%s updating %s: %v", count, spec.Label, err)
			s.Failed++
			continue
		}
		vlog.Infof("%s %s extended to %v", count, spec.Label, pair)
		s.Updated++
	}
	return nil
}
