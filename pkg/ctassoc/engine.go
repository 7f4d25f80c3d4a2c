package ctassoc

import (
	"context"
	"errors"
	"fmt"
	"sort"

	"github.com/kimcharli/apstra-bp-consolidate/pkg/batch"
	"github.com/kimcharli/apstra-bp-consolidate/pkg/blueprint"
	"github.com/kimcharli/apstra-bp-consolidate/pkg/model"
	"github.com/kimcharli/apstra-bp-consolidate/pkg/qe"
	"github.com/kimcharli/apstra-bp-consolidate/pkg/util"
)

// Summary counts the outcome of one association run
type Summary struct {
	ApplicationPoints int // application points in the source table
	Attached          int // templates submitted and accepted
	AlreadyAttached   int // application points needing nothing
	Missing           int // application points or VNIs absent from the target
	Failed            int // application points with a rejected chunk or template
	CTsCreated        int
}

// Engine attaches templates on the target blueprint
type Engine struct {
	target  *blueprint.Blueprint
	applier *batch.Applier
}

// NewEngine creates an engine writing to target through applier
func NewEngine(target *blueprint.Blueprint, applier *batch.Applier) *Engine {
	return &Engine{target: target, applier: applier}
}

// TargetInterfaceQuery matches the pair's ethernet interfaces in the target
// with the evpn aggregate they belong to, if any.
func TargetInterfaceQuery(pair []string) *qe.Query {
	return qe.Match(
		qe.Node(model.NodeSystem, qe.IsIn("label", pair), qe.Name(bSwitch)).
			Out(model.RelHostedInterfaces).Node(model.NodeInterface, qe.Eq("if_type", model.IfTypeEthernet), qe.Name(bMember)),
		qe.Optional(qe.Node(model.NodeInterface, qe.Eq("po_control_protocol", model.POControlEVPN), qe.Name(bEVPN)).
			Out(model.RelComposedOf).Node(model.NodeInterface).
			Out(model.RelComposedOf).Node("", qe.Name(bMember))),
	)
}

// AttachedQuery matches the templates already applied to the given
// application points.
func AttachedQuery(apIDs []string) *qe.Query {
	return qe.From(qe.Node("", qe.IsIn("id", apIDs), qe.Name(bIntf)).
		Out(model.RelEpMemberOf).Node(model.NodeEndpointGroup).
		In(model.RelEpAffectedBy).Node(model.NodeAppInstance).
		Out(model.RelEpTopLevel).Node(model.NodeEndpointPolicy, qe.Eq("policy_type_name", model.PolicyTypeBatch), qe.Name(bBatch)))
}

type targetPort struct {
	id        string
	aggregate string
}

// remap indexes the target's pair interfaces by system label and if name
type remap map[string]map[string]targetPort

func (e *Engine) pullRemap(ctx context.Context, pair []string) (remap, error) {
	rows, err := e.target.Query(ctx, TargetInterfaceQuery(pair))
	if err != nil {
		return nil, fmt.Errorf("pulling target interfaces: %w", err)
	}
	m := remap{}
	for _, row := range rows {
		label := row.String(bSwitch, "label")
		if m[label] == nil {
			m[label] = map[string]targetPort{}
		}
		m[label][row.String(bMember, "if_name")] = targetPort{id: row.ID(bMember), aggregate: row.ID(bEVPN)}
	}
	return m, nil
}

func (m remap) aggregateOf(agg *Aggregate) (string, bool) {
	for _, label := range sortedLabels(agg.Members) {
		for _, ifName := range agg.Members[label] {
			if p, ok := m[label][ifName]; ok && p.aggregate != "" {
				return p.aggregate, true
			}
		}
	}
	return "", false
}

func sortedLabels[V any](m map[string]V) []string {
	out := make([]string, 0, len(m))
	for k := range m {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}

type desired struct {
	source string
	a      *Assignment
}

func (e *Engine) attached(ctx context.Context, apIDs []string) (map[string]map[string]bool, error) {
	out := map[string]map[string]bool{}
	if len(apIDs) == 0 {
		return out, nil
	}
	rows, err := e.target.Query(ctx, AttachedQuery(apIDs))
	if err != nil {
		return nil, fmt.Errorf("pulling attached connectivity templates: %w", err)
	}
	for _, row := range rows {
		ap := row.ID(bIntf)
		if out[ap] == nil {
			out[ap] = map[string]bool{}
		}
		out[ap][row.ID(bBatch)] = true
	}
	return out, nil
}

// Associate reproduces the table's VLAN assignments on the target pair.
// Source ids are remapped by (system label, if name) for interfaces and by
// member port for aggregates. Only templates missing from an application
// point are submitted, so a rerun performs no mutation.
func (e *Engine) Associate(ctx context.Context, table *InterfaceVlanTable, pair []string) (Summary, error) {
	var sum Summary
	log := util.WithBlueprint(e.target.Label)
	sum.ApplicationPoints = table.Len()
	if table.Len() == 0 {
		return sum, nil
	}

	cts, err := PullVniCtTable(ctx, e.target)
	if err != nil {
		return sum, err
	}
	ports, err := e.pullRemap(ctx, pair)
	if err != nil {
		return sum, err
	}

	want := map[string]desired{}
	var order []string
	add := func(apID, source string, a *Assignment) {
		if _, dup := want[apID]; !dup {
			order = append(order, apID)
		}
		want[apID] = desired{source: source, a: a}
	}
	for _, aeID := range sortedLabels(table.Aggregates) {
		agg := table.Aggregates[aeID]
		id, ok := ports.aggregateOf(agg)
		if !ok {
			log.Warnf("aggregate %s: no target aggregate on members %v", aeID, agg.Members)
			sum.Missing++
			continue
		}
		add(id, aeID, &agg.Assignment)
	}
	for _, label := range sortedLabels(table.Interfaces) {
		for _, ifName := range sortedLabels(table.Interfaces[label]) {
			p, ok := ports[label][ifName]
			if !ok {
				log.Warnf("interface %s:%s not found in target", label, ifName)
				sum.Missing++
				continue
			}
			add(p.id, label+":"+ifName, table.Interfaces[label][ifName])
		}
	}

	have, err := e.attached(ctx, order)
	if err != nil {
		return sum, err
	}

	for i, apID := range order {
		d := want[apID]
		ids, missing, refused, err := e.policyIDs(ctx, cts, d.a)
		if err != nil {
			return sum, err
		}
		sum.Missing += missing
		if refused > 0 {
			sum.Failed++
		}

		var todo []string
		for _, id := range ids {
			if !have[apID][id] {
				todo = append(todo, id)
			}
		}
		if len(todo) == 0 {
			if refused == 0 {
				sum.AlreadyAttached++
			}
			continue
		}
		log.Infof("%d/%d %s -> %s: attaching %d connectivity templates", i+1, len(order), d.source, apID, len(todo))
		res := e.applier.ApplyPolicies(ctx, apID, todo, true)
		if res.Failed > 0 {
			if refused == 0 {
				sum.Failed++
			}
			if ctx.Err() != nil {
				return sum, ctx.Err()
			}
			continue
		}
		sum.Attached += len(todo)
	}
	sum.CTsCreated = cts.Created
	log.Infof("connectivity templates: %d attached, %d application points unchanged, %d missing, %d failed, %d created",
		sum.Attached, sum.AlreadyAttached, sum.Missing, sum.Failed, sum.CTsCreated)
	return sum, nil
}

// policyIDs resolves the template ids of an assignment, tagged VLANs first.
// A VNI without a virtual network in the target is counted as missing and a
// template the controller refused to create as refused; the ids that did
// resolve are still returned.
func (e *Engine) policyIDs(ctx context.Context, cts *VniCtTable, a *Assignment) (ids []string, missing, refused int, err error) {
	log := util.WithBlueprint(e.target.Label)
	resolve := func(vlan int, tagged bool) error {
		id, err := cts.Get(model.VNIForVLAN(vlan)).ID(ctx, tagged)
		var cerr *CreateError
		switch {
		case err == nil:
			ids = util.AppendUnique(ids, id)
		case errors.Is(err, util.ErrNotFound):
			log.Warnf("vlan %d: %v", vlan, err)
			missing++
		case errors.As(err, &cerr) && ctx.Err() == nil:
			log.Errorf("vlan %d: %v", vlan, err)
			refused++
		default:
			return err
		}
		return nil
	}
	for _, vlan := range a.TaggedVLANs {
		if err := resolve(vlan, true); err != nil {
			return nil, 0, 0, err
		}
	}
	if a.UntaggedVLAN != nil {
		if err := resolve(*a.UntaggedVLAN, false); err != nil {
			return nil, 0, 0, err
		}
	}
	return ids, missing, refused, nil
}
