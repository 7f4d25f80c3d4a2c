// Package topology extracts the generic systems cabled to a switch pair.
package topology

import (
	"context"
	"fmt"

	"github.com/kimcharli/apstra-bp-consolidate/pkg/blueprint"
	"github.com/kimcharli/apstra-bp-consolidate/pkg/model"
	"github.com/kimcharli/apstra-bp-consolidate/pkg/qe"
	"github.com/kimcharli/apstra-bp-consolidate/pkg/util"
)

// Binding names used by the extraction queries.
const (
	bGS     = "gs"
	bGSIntf = "gs_intf"
	bLink   = "link"
	bSwIntf = "sw_intf"
	bSwitch = "switch"
	bEVPN   = "evpn"
	bTag    = "tag"
	bMember = "member"
)

// LinksQuery matches every ethernet link between a generic system and a
// switch of the pair.
func LinksQuery(pair []string) *qe.Query {
	return qe.From(qe.Node(model.NodeSystem, qe.Eq("role", model.RoleGeneric), qe.Name(bGS)).
		Out(model.RelHostedInterfaces).Node(model.NodeInterface, qe.Eq("if_type", model.IfTypeEthernet), qe.Name(bGSIntf)).
		Out(model.RelLink).Node(model.NodeLink, qe.Name(bLink)).
		In(model.RelLink).Node(model.NodeInterface, qe.Eq("if_type", model.IfTypeEthernet), qe.Name(bSwIntf)).
		In(model.RelHostedInterfaces).Node(model.NodeSystem, qe.IsIn("label", pair), qe.Name(bSwitch)))
}

// AggregateQuery matches switch member interfaces under an evpn aggregate.
func AggregateQuery(pair []string) *qe.Query {
	return qe.From(qe.Node(model.NodeInterface, qe.Eq("po_control_protocol", model.POControlEVPN), qe.Name(bEVPN)).
		Out(model.RelComposedOf).Node(model.NodeInterface).
		Out(model.RelComposedOf).Node(model.NodeInterface, qe.Name(bMember)).
		In(model.RelHostedInterfaces).Node(model.NodeSystem, qe.IsIn("label", pair), qe.Name(bSwitch)))
}

// TagsQuery matches tags on links that terminate on the pair.
func TagsQuery(pair []string) *qe.Query {
	return qe.From(qe.Node(model.NodeTag, qe.Name(bTag)).
		Out(model.RelTag).Node(model.NodeLink, qe.Name(bLink)).
		In(model.RelLink).Node(model.NodeInterface).
		In(model.RelHostedInterfaces).Node(model.NodeSystem, qe.IsIn("label", pair), qe.Name(bSwitch)))
}

// Row is one extracted link binding before merging
type Row struct {
	GSLabel   string
	LinkID    string
	GSIfName  string
	SwLabel   string
	SwIfName  string
	Speed     string
	Aggregate string
	Tags      []string
}

// Merge folds a row into topo. Rows on a reserved uplink are dropped. A row
// for a (label, link) already present adds its tags to the existing record
// instead of replacing it. It reports whether the row was kept.
func Merge(topo model.Topology, r Row) bool {
	if model.IsReservedUplink(r.SwIfName) {
		return false
	}
	gs, ok := topo[r.GSLabel]
	if !ok {
		gs = model.GenericSystem{}
		topo[r.GSLabel] = gs
	}
	if rec, ok := gs[r.LinkID]; ok {
		rec.Tags = append(rec.Tags, r.Tags...)
		if rec.AggregateLink == "" {
			rec.AggregateLink = r.Aggregate
		}
		return true
	}
	gs[r.LinkID] = &model.GenericSystemLink{
		LinkID:        r.LinkID,
		SwLabel:       r.SwLabel,
		SwIfName:      r.SwIfName,
		GsIfName:      r.GSIfName,
		Speed:         r.Speed,
		AggregateLink: r.Aggregate,
		Tags:          append([]string{}, r.Tags...),
	}
	return true
}

// PullGenericSystems returns the generic systems cabled to the switch pair,
// keyed by label, then by link id. Links on the reserved uplink ports are
// never included. Every switch of the pair must exist in bp.
func PullGenericSystems(ctx context.Context, bp *blueprint.Blueprint, pair []string) (model.Topology, error) {
	topo := model.Topology{}
	if len(pair) == 0 {
		return topo, nil
	}
	log := util.WithBlueprint(bp.Label).WithField("pair", pair)

	if err := requireSwitches(ctx, bp, pair); err != nil {
		return nil, err
	}

	aggRows, err := bp.Query(ctx, AggregateQuery(pair))
	if err != nil {
		return nil, fmt.Errorf("pulling aggregates: %w", err)
	}
	aggregateOf := map[string]string{} // member interface id -> evpn interface id
	for _, row := range aggRows {
		aggregateOf[row.ID(bMember)] = row.ID(bEVPN)
	}

	linkRows, err := bp.Query(ctx, LinksQuery(pair))
	if err != nil {
		return nil, fmt.Errorf("pulling generic system links: %w", err)
	}
	skipped := 0
	for _, row := range linkRows {
		var link model.Link
		if _, err := row.Decode(bLink, &link); err != nil {
			return nil, err
		}
		r := Row{
			GSLabel:   row.String(bGS, "label"),
			LinkID:    link.ID,
			GSIfName:  row.String(bGSIntf, "if_name"),
			SwLabel:   row.String(bSwitch, "label"),
			SwIfName:  row.String(bSwIntf, "if_name"),
			Speed:     link.Speed,
			Aggregate: aggregateOf[row.ID(bSwIntf)],
		}
		if !Merge(topo, r) {
			log.Debugf("skipping uplink %s:%s", r.SwLabel, r.SwIfName)
			skipped++
		}
	}

	tags, err := PullLinkTags(ctx, bp, pair)
	if err != nil {
		return nil, err
	}
	for _, gs := range topo {
		for id, rec := range gs {
			rec.Tags = append(rec.Tags, tags[id]...)
		}
	}

	log.Infof("pulled %d generic systems with %d links (%d uplinks skipped)", len(topo), topo.LinkCount(), skipped)
	return topo, nil
}

// PullLinkTags returns the tag labels of every tagged link on the pair,
// keyed by link id.
func PullLinkTags(ctx context.Context, bp *blueprint.Blueprint, pair []string) (map[string][]string, error) {
	rows, err := bp.Query(ctx, TagsQuery(pair))
	if err != nil {
		return nil, fmt.Errorf("pulling link tags: %w", err)
	}
	out := map[string][]string{}
	for _, row := range rows {
		id := row.ID(bLink)
		out[id] = append(out[id], row.String(bTag, "label"))
	}
	return out, nil
}

func requireSwitches(ctx context.Context, bp *blueprint.Blueprint, pair []string) error {
	rows, err := bp.Query(ctx, qe.From(qe.Node(model.NodeSystem, qe.IsIn("label", pair), qe.Name(bSwitch))))
	if err != nil {
		return fmt.Errorf("looking up switch pair: %w", err)
	}
	present := map[string]bool{}
	for _, row := range rows {
		present[row.String(bSwitch, "label")] = true
	}
	for _, label := range pair {
		if !present[label] {
			return util.NewNotFoundError("switch", label, bp.Label)
		}
	}
	return nil
}
