package migrate

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"strings"

	"github.com/sirupsen/logrus"

	"github.com/kimcharli/apstra-bp-consolidate/pkg/apstra"
	"github.com/kimcharli/apstra-bp-consolidate/pkg/model"
	"github.com/kimcharli/apstra-bp-consolidate/pkg/qe"
	"github.com/kimcharli/apstra-bp-consolidate/pkg/util"
)

// Transformations used on the fabric uplinks of the pair: the leaf side
// runs its port broken out, the access side at native speed.
const (
	leafUplinkTransformation   = 2
	accessUplinkTransformation = 1
)

type uplinkPeer struct {
	peer   string // "first" or "second" member of the new pair
	ifName string
}

// uplinkTranslation maps the legacy generic system's interface names to the
// member and port of the new pair. Both spellings occur in the field.
var uplinkTranslation = map[string]uplinkPeer{
	"et-0/0/48-a": {"first", "et-0/0/48"},
	"et-0/0/48-b": {"second", "et-0/0/48"},
	"et-0/0/49-a": {"first", "et-0/0/49"},
	"et-0/0/49-b": {"second", "et-0/0/49"},
	"et-0/0/48a":  {"first", "et-0/0/48"},
	"et-0/0/48b":  {"second", "et-0/0/48"},
	"et-0/0/49a":  {"first", "et-0/0/49"},
	"et-0/0/49b":  {"second", "et-0/0/49"},
}

// legacyLinksQuery matches the legacy generic system's links to the leaves
// together with the evpn aggregate of the leaf side.
func legacyLinksQuery(tor string) *qe.Query {
	return qe.Match(
		qe.Node(model.NodeSystem, qe.Label(tor), qe.Eq("role", model.RoleGeneric), qe.Name("gs")).
			Out(model.RelHostedInterfaces).Node(model.NodeInterface, qe.Eq("if_type", model.IfTypeEthernet), qe.Name("gs_intf")).
			Out(model.RelLink).Node(model.NodeLink, qe.Name("link")).
			In(model.RelLink).Node(model.NodeInterface, qe.Name("member")).
			In(model.RelHostedInterfaces).Node(model.NodeSystem, qe.NotIn("role", []string{model.RoleGeneric}), qe.Name("member_switch")),
		qe.Optional(qe.Node(model.NodeInterface, qe.Eq("po_control_protocol", model.POControlEVPN), qe.Name("evpn")).
			Out(model.RelComposedOf).Node(model.NodeInterface).
			Out(model.RelComposedOf).Node("", qe.Name("member"))),
	)
}

// legacyCTQuery matches the templates on the leaf-side aggregate of the
// legacy generic system.
func legacyCTQuery(tor string) *qe.Query {
	return qe.Match(
		qe.Node(model.NodeSystem, qe.Label(tor)).
			Out(model.RelHostedInterfaces).Node(model.NodeInterface, qe.Eq("if_type", model.IfTypePortChannel), qe.Name("ae2")).
			Out(model.RelLink).Node(model.NodeLink).
			In(model.RelLink).Node("", qe.Name("ae1")).
			Out(model.RelEpMemberOf).Node(model.NodeEndpointGroup).
			In(model.RelEpAffectedBy).Node(model.NodeAppInstance).
			Out(model.RelEpTopLevel).Node(model.NodeEndpointPolicy, qe.Eq("policy_type_name", model.PolicyTypeBatch), qe.Name("batch")),
	).Where(qe.NotEqual("ae1", "ae2")).Distinct("ae1", "batch")
}

// pairGroupQuery matches the members of the newly created pair with their
// redundancy group.
func pairGroupQuery(labels []string) *qe.Query {
	return qe.From(qe.Node(model.NodeSystem, qe.IsIn("label", labels), qe.Name("leaf")).
		Out(model.RelPartOfRG).Node(model.NodeRedundancyGroup, qe.Name("rg")))
}

// pairLinks builds the switch-system links of the new pair from the legacy
// generic system's links. Interfaces outside the translation table are
// logged and left out.
func pairLinks(rows qe.Result, log *logrus.Entry) []apstra.SwitchSystemLink {
	var links []apstra.SwitchSystemLink
	seen := map[string]bool{}
	for _, row := range rows {
		linkID := row.ID("link")
		if seen[linkID] {
			continue
		}
		seen[linkID] = true
		gsIf := row.String("gs_intf", "if_name")
		tr, ok := uplinkTranslation[gsIf]
		if !ok {
			log.Warnf("no uplink translation for %s, link %s left out", gsIf, linkID)
			continue
		}
		swID := row.ID("member_switch")
		lag := model.LAGModeActive
		links = append(links, apstra.SwitchSystemLink{
			LagMode:    &lag,
			SystemPeer: tr.peer,
			Switch: apstra.LinkEnd{
				SystemID:         &swID,
				TransformationID: leafUplinkTransformation,
				IfName:           row.String("member", "if_name"),
			},
			System: apstra.LinkEnd{
				TransformationID: accessUplinkTransformation,
				IfName:           tr.ifName,
			},
		})
	}
	sort.SliceStable(links, func(i, j int) bool {
		if links[i].SystemPeer != links[j].SystemPeer {
			return links[i].SystemPeer < links[j].SystemPeer
		}
		return links[i].System.IfName < links[j].System.IfName
	})
	return links
}

// pairSystem renders the new_systems entry of the pair from the template
func pairSystem(template json.RawMessage, label string) (json.RawMessage, error) {
	sys := map[string]any{}
	if len(template) > 0 {
		if err := json.Unmarshal(template, &sys); err != nil {
			return nil, fmt.Errorf("switch pair template: %w", err)
		}
	} else {
		sys["system_type"] = model.SystemTypeSwitch
	}
	sys["label"] = label
	return json.Marshal(sys)
}

// pairLabels lists every label a member of the pair can carry: the
// positional labels the controller assigns and the final ones.
func pairLabels(tor string) []string {
	return []string{tor + "1", tor + "2", tor + "a", tor + "b"}
}

// memberRename maps a member label to its final label by positional suffix.
// Final labels map to themselves.
func memberRename(tor, given string) (string, error) {
	switch given {
	case tor + "1", tor + "a":
		return tor + "a", nil
	case tor + "2", tor + "b":
		return tor + "b", nil
	}
	return "", util.NewInvariantError("rename switch pair member",
		"%q does not end in the positional suffix 1 or 2 of %s", given, tor)
}

// accessSwitchPair replaces the legacy generic system with the switch pair.
// A run stopped part way resumes where it left off: members already in the
// target go straight to the rename step, and links saved before the legacy
// system was deleted are used to create the pair.
func (o *Orchestrator) accessSwitchPair(ctx context.Context, s *PhaseSummary) error {
	tor := o.order.TorName
	log := util.WithPhase(PhaseAccessSwitchPair).WithField("tor", tor)

	members, err := o.target.Query(ctx, qe.From(qe.Node(model.NodeSystem, qe.IsIn("label", pairLabels(tor)), qe.Name("leaf"))))
	if err != nil {
		return fmt.Errorf("pulling members of %s: %w", tor, err)
	}
	if len(members) > 0 {
		return o.finishPair(ctx, log, s, tor, false)
	}

	rows, err := o.target.Query(ctx, legacyLinksQuery(tor))
	if err != nil {
		return fmt.Errorf("pulling links of %s: %w", tor, err)
	}
	if len(rows) == 0 {
		spec, found, err := o.pending.Load(tor)
		if err != nil {
			return err
		}
		if found {
			log.Warnf("%s was removed by an earlier run, creating the pair from its saved links", tor)
			return o.createPair(ctx, log, s, tor, spec)
		}
		log.Warnf("%s does not exist in %s", tor, o.target.Label)
		s.Missing++
		return nil
	}
	aeIDs := rows.IDs("evpn")
	if len(aeIDs) == 0 {
		log.Warnf("%s has no aggregate in %s", tor, o.target.Label)
		s.Missing++
		return nil
	}
	links := pairLinks(rows, log)
	if len(links) == 0 {
		return util.NewInvariantError("build switch pair links", "none of the links of %s has a known uplink name", tor)
	}
	newSystem, err := pairSystem(o.order.PairTemplate, tor)
	if err != nil {
		return err
	}
	spec := &apstra.SwitchSystemLinksSpec{Links: links, NewSystems: []json.RawMessage{newSystem}}

	// detach, then delete the legacy generic system
	ctRows, err := o.target.Query(ctx, legacyCTQuery(tor))
	if err != nil {
		return fmt.Errorf("pulling connectivity templates of %s: %w", tor, err)
	}
	for _, aeID := range aeIDs {
		var cts []string
		for _, row := range ctRows {
			if row.ID("ae1") == aeID {
				cts = append(cts, row.ID("batch"))
			}
		}
		if len(cts) == 0 {
			continue
		}
		log.Infof("detaching %d connectivity templates from %s", len(cts), aeID)
		if res := o.applier.ApplyPolicies(ctx, aeID, cts, false); res.Failed > 0 {
			s.Failed++
			log.Errorf("legacy generic system kept: %v", res.Err())
			return nil
		}
	}
	if err := o.pending.Save(tor, spec); err != nil {
		return err
	}
	linkIDs := rows.IDs("link")
	if err := o.applier.DeleteLinks(ctx, linkIDs); err != nil {
		s.Failed++
		log.Errorf("legacy generic system kept: %v", err)
		if err := o.pending.Clear(tor); err != nil {
			log.Warnf("%v", err)
		}
		return nil
	}
	err = o.waiter.Until(ctx, "removal of "+tor, func(ctx context.Context) (bool, error) {
		_, found, err := o.targetIDs.System(ctx, tor)
		return !found, err
	})
	if err != nil {
		return err
	}
	log.Infof("removed %s with %d links", tor, len(linkIDs))
	return o.createPair(ctx, log, s, tor, spec)
}

// createPair creates the pair from spec. On failure the saved links are
// kept for the next run.
func (o *Orchestrator) createPair(ctx context.Context, log *logrus.Entry, s *PhaseSummary, tor string, spec *apstra.SwitchSystemLinksSpec) error {
	if _, err := o.target.CreateSwitchSystemLinks(ctx, spec); err != nil {
		s.Failed++
		log.Errorf("creating switch pair, links kept for the next run: %v", err)
		return nil
	}
	if err := o.pending.Clear(tor); err != nil {
		log.Warnf("%v", err)
	}
	log.Infof("created %s with %d uplinks", strings.Join(o.order.SwitchPair, ", "), len(spec.Links))
	return o.finishPair(ctx, log, s, tor, true)
}

// finishPair waits for the redundancy group of the pair and applies the
// labels still missing: <tor>-pair on the group, <tor>a and <tor>b on the
// members. created reports whether this run created the pair.
func (o *Orchestrator) finishPair(ctx context.Context, log *logrus.Entry, s *PhaseSummary, tor string, created bool) error {
	var group qe.Result
	err := o.waiter.Until(ctx, "redundancy group of "+tor, func(ctx context.Context) (bool, error) {
		rows, err := o.target.Query(ctx, pairGroupQuery(pairLabels(tor)))
		group = rows
		return len(rows) == 2, err
	})
	if err != nil {
		return err
	}
	if rgs := group.IDs("rg"); len(rgs) != 1 {
		return util.NewInvariantError("rename switch pair", "members of %s are in %d redundancy groups", tor, len(rgs))
	}

	renames := map[string]string{}
	for _, row := range group {
		label, err := memberRename(tor, row.String("leaf", "label"))
		if err != nil {
			return err
		}
		if row.String("leaf", "label") != label || row.String("leaf", "hostname") != label {
			renames[row.ID("leaf")] = label
		}
	}
	patched, failed := 0, 0
	rgLabel := tor + "-pair"
	if group[0].String("rg", "label") != rgLabel {
		if err := o.target.PatchNode(ctx, group[0].ID("rg"), map[string]any{"label": rgLabel}); err != nil {
			failed++
			log.Errorf("renaming redundancy group: %v", err)
		} else {
			patched++
		}
	}
	for _, id := range sortedKeys(renames) {
		label := renames[id]
		if err := o.target.PatchNode(ctx, id, map[string]any{"label": label, "hostname": label}); err != nil {
			failed++
			log.Errorf("renaming %s: %v", label, err)
		} else {
			patched++
		}
	}
	s.Failed += failed
	switch {
	case created || patched > 0:
		s.Updated++
	case failed == 0:
		log.Infof("%s already in %s", strings.Join(o.order.SwitchPair, ", "), o.target.Label)
		s.Skipped++
	}
	return nil
}
