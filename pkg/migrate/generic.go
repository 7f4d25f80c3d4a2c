package migrate

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"

	"github.com/sirupsen/logrus"

	"github.com/kimcharli/apstra-bp-consolidate/pkg/apstra"
	"github.com/kimcharli/apstra-bp-consolidate/pkg/model"
	"github.com/kimcharli/apstra-bp-consolidate/pkg/qe"
	"github.com/kimcharli/apstra-bp-consolidate/pkg/topology"
	"github.com/kimcharli/apstra-bp-consolidate/pkg/util"
)

// Logical device panel numbering used for generated generic systems.
const (
	panelOrder      = "T-B, L-R"
	panelStartIndex = 1
	panelSchema     = "absolute"
)

// autoLogicalDevice builds the inline logical device of a generic system:
// one row with a port per link, grouped by speed in link order.
func autoLogicalDevice(links []*model.GenericSystemLink) (*apstra.LogicalDevice, error) {
	var groups []apstra.PortGroup
	index := map[string]int{}
	for _, l := range links {
		sp, err := model.ParseSpeed(l.Speed)
		if err != nil {
			return nil, fmt.Errorf("link %s: %w", l.LinkID, err)
		}
		key := sp.String()
		if i, ok := index[key]; ok {
			groups[i].Count++
			continue
		}
		index[key] = len(groups)
		groups = append(groups, apstra.PortGroup{
			Count: 1,
			Speed: apstra.PortSpeed{Unit: sp.Unit, Value: sp.Value},
			Roles: []string{model.RoleLeaf, model.RoleAccess},
		})
	}
	var parts []string
	for _, g := range groups {
		parts = append(parts, fmt.Sprintf("%d%sx%d", g.Speed.Value, g.Speed.Unit, g.Count))
	}
	name := "auto-" + strings.Join(parts, "+")
	return &apstra.LogicalDevice{
		ID:          name,
		DisplayName: name,
		Panels: []apstra.Panel{{
			PanelLayout:  apstra.PanelLayout{RowCount: 1, ColumnCount: len(links)},
			PortIndexing: apstra.PortIndexing{Order: panelOrder, StartIndex: panelStartIndex, Schema: panelSchema},
			PortGroups:   groups,
		}},
	}, nil
}

// lagGroups numbers the source aggregates of a generic system link1, link2,
// ... in link order and returns the group label per link index.
func lagGroups(links []*model.GenericSystemLink) map[int]string {
	out := map[int]string{}
	label := map[string]string{}
	for i, l := range links {
		if !l.InAggregate() {
			continue
		}
		g, ok := label[l.AggregateLink]
		if !ok {
			g = fmt.Sprintf("link%d", len(label)+1)
			label[l.AggregateLink] = g
		}
		out[i] = g
	}
	return out
}

// genericInterfacesQuery matches the links of a generic system in the target
// with the interfaces at both ends.
func genericInterfacesQuery(label string, pair []string) *qe.Query {
	return qe.From(qe.Node(model.NodeSystem, qe.Label(label), qe.Eq("system_type", model.SystemTypeServer), qe.Name("gs")).
		Out(model.RelHostedInterfaces).Node(model.NodeInterface, qe.Eq("if_type", model.IfTypeEthernet), qe.Name("gs_intf")).
		Out(model.RelLink).Node(model.NodeLink, qe.Name("link")).
		In(model.RelLink).Node(model.NodeInterface, qe.Name("sw_intf")).
		In(model.RelHostedInterfaces).Node(model.NodeSystem, qe.IsIn("label", pair), qe.Name("switch")))
}

func (o *Orchestrator) genericSystems(ctx context.Context, s *PhaseSummary) error {
	pair := o.order.SwitchPair
	log := util.WithPhase(PhaseGenericSystems)

	err := o.waiter.Until(ctx, "switch pair in "+o.target.Label, func(ctx context.Context) (bool, error) {
		rows, err := o.target.Query(ctx, qe.From(qe.Node(model.NodeSystem, qe.IsIn("label", pair), qe.Name("switch"))))
		return len(rows) == len(pair), err
	})
	if err != nil {
		return err
	}

	topo, err := topology.PullGenericSystems(ctx, o.source, pair)
	if err != nil {
		return err
	}
	var targetTags map[string][]string
	labels := topo.Labels()
	for i, label := range labels {
		newLabel := o.renamer.Rename(label)
		glog := log.WithField("generic_system", newLabel)
		if _, found, err := o.targetIDs.SystemID(ctx, newLabel); err != nil {
			return err
		} else if found {
			if targetTags == nil {
				if targetTags, err = topology.PullLinkTags(ctx, o.target, pair); err != nil {
					return err
				}
			}
			links := topo[label].Sorted()
			changed, err := o.completeGenericSystem(ctx, newLabel, links, targetTags)
			if err == nil {
				o.fixInterfaceNames(ctx, glog, newLabel, links)
			}
			switch {
			case err == nil && changed:
				glog.Infof("%d/%d present, aggregates and tags completed", i+1, len(labels))
				s.Updated++
			case err == nil:
				glog.Debugf("%d/%d already present", i+1, len(labels))
				s.Skipped++
			case IsFatal(err) || ctx.Err() != nil:
				return err
			default:
				glog.Errorf("%d/%d completing: %v", i+1, len(labels), err)
				s.Failed++
			}
			continue
		}
		err := o.createGenericSystem(ctx, glog, newLabel, topo[label].Sorted())
		switch {
		case err == nil:
			glog.Infof("%d/%d created from %s", i+1, len(labels), label)
			s.Updated++
		case errors.Is(err, util.ErrNotFound):
			glog.Warnf("%d/%d not created: %v", i+1, len(labels), err)
			s.Missing++
		case IsFatal(err) || ctx.Err() != nil:
			return err
		default:
			glog.Errorf("%d/%d: %v", i+1, len(labels), err)
			s.Failed++
		}
	}
	return nil
}

// createGenericSystem creates one generic system with its links, then
// restores the aggregates, link tags and server-side interface names.
func (o *Orchestrator) createGenericSystem(ctx context.Context, log *logrus.Entry, label string, links []*model.GenericSystemLink) error {
	ld, err := autoLogicalDevice(links)
	if err != nil {
		return err
	}
	spec := &apstra.SwitchSystemLinksSpec{}
	for _, l := range links {
		swID, err := o.targetIDs.MustSystemID(ctx, l.SwLabel)
		if err != nil {
			return err
		}
		speed, err := model.ParseSpeed(l.Speed)
		if err != nil {
			return err
		}
		tr, err := o.targetIDs.TransformationID(ctx, l.SwLabel, l.SwIfName, speed)
		if err != nil {
			return err
		}
		spec.Links = append(spec.Links, apstra.SwitchSystemLink{
			Switch: apstra.LinkEnd{SystemID: &swID, TransformationID: tr, IfName: l.SwIfName},
		})
	}
	err = spec.AddNewSystem(&apstra.NewSystem{
		SystemType:    model.SystemTypeServer,
		Label:         label,
		Hostname:      label,
		LogicalDevice: ld,
	})
	if err != nil {
		return err
	}
	linkIDs, err := o.target.CreateSwitchSystemLinks(ctx, spec)
	if err != nil {
		return err
	}
	if len(linkIDs) != len(links) {
		return util.NewInvariantError("create generic system", "%s: asked for %d links, got %d", label, len(links), len(linkIDs))
	}

	if groups := lagGroups(links); len(groups) > 0 {
		labels := map[string]apstra.LinkLabel{}
		for i, g := range groups {
			labels[linkIDs[i]] = apstra.LinkLabel{GroupLabel: g, LagMode: model.LAGModeActive}
		}
		if err := o.target.SetLinkLabels(ctx, labels); err != nil {
			return fmt.Errorf("setting aggregates: %w", err)
		}
	}

	byTag := map[string][]string{}
	for i, l := range links {
		for _, t := range l.Tags {
			byTag[t] = util.AppendUnique(byTag[t], linkIDs[i])
		}
	}
	for _, t := range sortedKeys(byTag) {
		if err := o.target.Tag(ctx, byTag[t], []string{t}); err != nil {
			return fmt.Errorf("tagging %s: %w", t, err)
		}
	}

	o.fixInterfaceNames(ctx, log, label, links)
	return nil
}

// completeGenericSystem reapplies the aggregates and tags of a generic system
// created by an earlier run whose follow-up patches did not all land. Both
// are set operations, so only links that differ from the source are sent.
// tags holds the current tag labels of the target links by link id.
func (o *Orchestrator) completeGenericSystem(ctx context.Context, label string, links []*model.GenericSystemLink, tags map[string][]string) (bool, error) {
	rows, err := o.target.Query(ctx, genericInterfacesQuery(label, o.order.SwitchPair))
	if err != nil {
		return false, fmt.Errorf("pulling links of %s: %w", label, err)
	}
	byPort := map[string]qe.Binding{} // switch label:if name
	for _, row := range rows {
		byPort[row.String("switch", "label")+":"+row.String("sw_intf", "if_name")] = row
	}
	linkID := func(l *model.GenericSystemLink) (string, qe.Binding, bool) {
		row, ok := byPort[l.SwLabel+":"+l.SwIfName]
		if !ok {
			return "", nil, false
		}
		return row.ID("link"), row, true
	}
	changed := false

	labels := map[string]apstra.LinkLabel{}
	stale := false
	for i, g := range lagGroups(links) {
		id, row, ok := linkID(links[i])
		if !ok {
			continue
		}
		labels[id] = apstra.LinkLabel{GroupLabel: g, LagMode: model.LAGModeActive}
		if row.String("link", "group_label") != g || row.String("link", "lag_mode") != model.LAGModeActive {
			stale = true
		}
	}
	if stale {
		if err := o.target.SetLinkLabels(ctx, labels); err != nil {
			return changed, fmt.Errorf("setting aggregates: %w", err)
		}
		changed = true
	}

	byTag := map[string][]string{}
	for _, l := range links {
		id, _, ok := linkID(l)
		if !ok {
			continue
		}
		for _, t := range l.Tags {
			if !util.Contains(tags[id], t) {
				byTag[t] = util.AppendUnique(byTag[t], id)
			}
		}
	}
	for _, t := range sortedKeys(byTag) {
		if err := o.target.Tag(ctx, byTag[t], []string{t}); err != nil {
			return changed, fmt.Errorf("tagging %s: %w", t, err)
		}
		for _, id := range byTag[t] {
			tags[id] = append(tags[id], t)
		}
		changed = true
	}
	return changed, nil
}

// fixInterfaceNames copies the server-side interface names from the source.
// The controller assigns its own names on creation. A timeout leaves the
// generated names in place. Names that already match are left alone.
func (o *Orchestrator) fixInterfaceNames(ctx context.Context, log *logrus.Entry, label string, links []*model.GenericSystemLink) {
	want := map[string]string{} // switch label:if name -> server if name
	for _, l := range links {
		if l.GsIfName != "" {
			want[l.SwLabel+":"+l.SwIfName] = l.GsIfName
		}
	}
	if len(want) == 0 {
		return
	}
	var rows qe.Result
	err := o.waiter.Until(ctx, "links of "+label, func(ctx context.Context) (bool, error) {
		var err error
		rows, err = o.target.Query(ctx, genericInterfacesQuery(label, o.order.SwitchPair))
		return len(rows) >= len(links), err
	})
	if err != nil {
		log.Warnf("interface names not restored: %v", err)
		return
	}
	sort.SliceStable(rows, func(i, j int) bool { return rows[i].ID("gs_intf") < rows[j].ID("gs_intf") })
	for _, row := range rows {
		ifName, ok := want[row.String("switch", "label")+":"+row.String("sw_intf", "if_name")]
		if !ok || row.String("gs_intf", "if_name") == ifName {
			continue
		}
		if err := o.target.PatchNode(ctx, row.ID("gs_intf"), map[string]any{"if_name": ifName}); err != nil {
			log.Warnf("renaming %s to %s: %v", row.String("gs_intf", "if_name"), ifName, err)
		}
	}
}
