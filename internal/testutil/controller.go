package testutil

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"

	"github.com/kimcharli/apstra-bp-consolidate/pkg/apstra"
	"github.com/kimcharli/apstra-bp-consolidate/pkg/model"
	"github.com/kimcharli/apstra-bp-consolidate/pkg/qe"
)

// Mutation kinds counted by FakeController.
const (
	MutBatch       = "batch"
	MutSystemLinks = "switch-system-links"
	MutPatchNode   = "patch-node"
	MutPatchNodes  = "patch-nodes"
	MutLinkLabels  = "leaf-server-link-labels"
	MutTagging     = "tagging"
	MutPatchVN     = "patch-virtual-network"
	MutCreateCT    = "obj-policy-import"
)

// FakeBlueprint is one in-memory blueprint
type FakeBlueprint struct {
	ID    string
	Label string
	*Graph

	vns map[string]*apstra.VirtualNetworkSpec
}

type pendingChange struct {
	bpID      string
	remaining int
	apply     func()
}

// FakeController implements the controller API over in-memory graphs.
//
// Changes the real controller materializes asynchronously (removing a
// system whose links were deleted, the redundancy group of a new switch
// pair) become visible only after MaterializeAfter queries against the
// blueprint.
type FakeController struct {
	MaterializeAfter int

	// FailBatch, when set, is consulted before each batch operation; a
	// non-nil error rejects the whole request.
	FailBatch func(bpID string, op apstra.BatchOperation) error

	// FailMutation, when set, is consulted before every other mutating call
	// with its kind (MutPatchNode, MutTagging, ...); a non-nil error rejects
	// the call without changing the graph.
	FailMutation func(kind, bpID string) error

	Profiles map[string]*apstra.DeviceProfile
	Rendered map[string]string // node id -> rendered config

	Batches []*apstra.BatchRequest
	Queries []string

	blueprints []*FakeBlueprint
	mutations  map[string]int
	pending    []*pendingChange
}

// NewFakeController returns an empty controller with the default device profile registered
func NewFakeController() *FakeController {
	return &FakeController{
		Profiles:  map[string]*apstra.DeviceProfile{DefaultProfileID: DefaultProfile()},
		Rendered:  map[string]string{},
		mutations: map[string]int{},
	}
}

// AddBlueprint registers an empty blueprint
func (f *FakeController) AddBlueprint(id, label string) *FakeBlueprint {
	bp := &FakeBlueprint{ID: id, Label: label, Graph: NewGraph(), vns: map[string]*apstra.VirtualNetworkSpec{}}
	f.blueprints = append(f.blueprints, bp)
	return bp
}

// Blueprint returns a registered blueprint by id
func (f *FakeController) Blueprint(id string) *FakeBlueprint {
	for _, bp := range f.blueprints {
		if bp.ID == id {
			return bp
		}
	}
	return nil
}

// Mutations returns the number of mutating calls made so far
func (f *FakeController) Mutations() int {
	n := 0
	for _, c := range f.mutations {
		n += c
	}
	return n
}

// MutationsOf returns the number of mutating calls of one kind
func (f *FakeController) MutationsOf(kind string) int {
	return f.mutations[kind]
}

// ResetCounters clears mutation counters and recorded requests
func (f *FakeController) ResetCounters() {
	f.mutations = map[string]int{}
	f.Batches = nil
	f.Queries = nil
}

// Settle applies every pending change immediately
func (f *FakeController) Settle() {
	for _, p := range f.pending {
		p.apply()
	}
	f.pending = nil
}

func (f *FakeController) later(bpID string, apply func()) {
	if f.MaterializeAfter <= 0 {
		apply()
		return
	}
	f.pending = append(f.pending, &pendingChange{bpID: bpID, remaining: f.MaterializeAfter, apply: apply})
}

func (f *FakeController) tick(bpID string) {
	kept := f.pending[:0]
	for _, p := range f.pending {
		if p.bpID == bpID {
			p.remaining--
			if p.remaining <= 0 {
				p.apply()
				continue
			}
		}
		kept = append(kept, p)
	}
	f.pending = kept
}

func (f *FakeController) rejected(kind, bpID string) error {
	if f.FailMutation == nil {
		return nil
	}
	return f.FailMutation(kind, bpID)
}

func (f *FakeController) lookup(method, bpID string) (*FakeBlueprint, error) {
	bp := f.Blueprint(bpID)
	if bp == nil {
		return nil, notFound(method, "/blueprints/"+bpID)
	}
	return bp, nil
}

func notFound(method, path string) error {
	return &apstra.APIError{Method: method, Path: path, Status: http.StatusNotFound}
}

func unprocessable(method, path, format string, args ...any) error {
	return &apstra.APIError{Method: method, Path: path, Status: http.StatusUnprocessableEntity, Body: fmt.Sprintf(format, args...)}
}

// ListBlueprints implements the controller API.
func (f *FakeController) ListBlueprints(ctx context.Context) ([]apstra.BlueprintSummary, error) {
	out := make([]apstra.BlueprintSummary, len(f.blueprints))
	for i, bp := range f.blueprints {
		out[i] = apstra.BlueprintSummary{ID: bp.ID, Label: bp.Label}
	}
	return out, nil
}

// Query evaluates q against the blueprint graph after ticking pending changes.
func (f *FakeController) Query(ctx context.Context, bpID string, q *qe.Query) (qe.Result, error) {
	f.Queries = append(f.Queries, q.String())
	bp := f.Blueprint(bpID)
	if bp == nil {
		return qe.Result{}, nil
	}
	f.tick(bpID)
	return bp.Eval(q), nil
}

// Batch applies policy attach/detach and link deletion operations.
func (f *FakeController) Batch(ctx context.Context, bpID string, req *apstra.BatchRequest) error {
	bp, err := f.lookup(http.MethodPost, bpID)
	if err != nil {
		return err
	}
	f.mutations[MutBatch]++
	f.Batches = append(f.Batches, req)
	for _, op := range req.Operations {
		if f.FailBatch != nil {
			if err := f.FailBatch(bpID, op); err != nil {
				return err
			}
		}
	}
	for _, op := range req.Operations {
		switch op.Path {
		case apstra.PathPolicyBatchApply:
			var p apstra.PolicyApplyPayload
			if err := remarshal(op.Payload, &p); err != nil {
				return unprocessable(op.Method, op.Path, "%v", err)
			}
			for _, ap := range p.ApplicationPoints {
				if _, ok := bp.Node(ap.ID); !ok {
					return unprocessable(op.Method, op.Path, "application point %s not found", ap.ID)
				}
				for _, ref := range ap.Policies {
					if ref.Used {
						if err := bp.Attach(ap.ID, ref.Policy); err != nil {
							return unprocessable(op.Method, op.Path, "%v", err)
						}
					} else {
						bp.Detach(ap.ID, ref.Policy)
					}
				}
			}
		case apstra.PathDeleteSwitchSystemLinks:
			var p apstra.DeleteLinksPayload
			if err := remarshal(op.Payload, &p); err != nil {
				return unprocessable(op.Method, op.Path, "%v", err)
			}
			f.deleteLinks(bp, p.LinkIDs)
		default:
			return unprocessable(op.Method, op.Path, "unsupported batch path")
		}
	}
	return nil
}

// deleteLinks removes links with their generic-side interfaces. Generic
// systems left without links disappear later.
func (f *FakeController) deleteLinks(bp *FakeBlueprint, linkIDs []string) {
	orphans := map[string]bool{}
	for _, id := range linkIDs {
		for _, intf := range bp.In(id, model.RelLink) {
			sys := bp.SystemOf(intf.ID)
			if sys != nil && sys.Str("role") == model.RoleGeneric {
				orphans[sys.ID] = true
				bp.RemoveNode(intf.ID)
			}
		}
		bp.RemoveNode(id)
	}
	for sysID := range orphans {
		sysID := sysID
		f.later(bp.ID, func() {
			for _, intf := range bp.Out(sysID, model.RelHostedInterfaces) {
				for _, l := range bp.Out(intf.ID, model.RelLink) {
					bp.RemoveNode(l.ID)
				}
				bp.RemoveNode(intf.ID)
			}
			bp.RemoveNode(sysID)
		})
	}
}

// CreateSwitchSystemLinks creates either an access switch pair (new system
// of type switch) or a generic system with its links.
func (f *FakeController) CreateSwitchSystemLinks(ctx context.Context, bpID string, spec *apstra.SwitchSystemLinksSpec) ([]string, error) {
	const path = "/switch-system-links"
	bp, err := f.lookup(http.MethodPost, bpID)
	if err != nil {
		return nil, err
	}
	if len(spec.NewSystems) != 1 {
		return nil, unprocessable(http.MethodPost, path, "expected one new system, got %d", len(spec.NewSystems))
	}
	var sys apstra.NewSystem
	if err := json.Unmarshal(spec.NewSystems[0], &sys); err != nil {
		return nil, unprocessable(http.MethodPost, path, "%v", err)
	}
	if _, exists := bp.Find(model.NodeSystem, "label", sys.Label); exists {
		return nil, unprocessable(http.MethodPost, path, "system %s already exists", sys.Label)
	}
	for _, l := range spec.Links {
		if l.Switch.SystemID == nil {
			return nil, unprocessable(http.MethodPost, path, "link without switch")
		}
		if _, ok := bp.Node(*l.Switch.SystemID); !ok {
			return nil, unprocessable(http.MethodPost, path, "switch %s not found", *l.Switch.SystemID)
		}
	}
	if err := f.rejected(MutSystemLinks, bpID); err != nil {
		return nil, err
	}
	f.mutations[MutSystemLinks]++
	if sys.SystemType == model.SystemTypeSwitch {
		return f.createAccessPair(bp, sys.Label, spec.Links), nil
	}
	return f.createGenericSystem(bp, &sys, spec.Links), nil
}

func (f *FakeController) createAccessPair(bp *FakeBlueprint, label string, links []apstra.SwitchSystemLink) []string {
	first := bp.AddSystem(label+"1", model.RoleAccess)
	second := bp.AddSystem(label+"2", model.RoleAccess)
	bp.AddInterfaceMap(first.ID, DefaultProfileID)
	bp.AddInterfaceMap(second.ID, DefaultProfileID)

	var ids []string
	for _, l := range links {
		peer := first
		if l.SystemPeer == "second" {
			peer = second
		}
		link := bp.Connect(*l.Switch.SystemID, l.Switch.IfName, peer.ID, l.System.IfName, "100G")
		ids = append(ids, link.ID)
	}
	f.later(bp.ID, func() {
		bp.AddRedundancyGroup(label+"-rg", first.ID, second.ID)
	})
	return ids
}

func (f *FakeController) createGenericSystem(bp *FakeBlueprint, sys *apstra.NewSystem, links []apstra.SwitchSystemLink) []string {
	gs := bp.AddSystem(sys.Label, model.RoleGeneric)
	speed := "10G"
	if ld := sys.LogicalDevice; ld != nil && len(ld.Panels) > 0 && len(ld.Panels[0].PortGroups) > 0 {
		s := ld.Panels[0].PortGroups[0].Speed
		speed = strconv.Itoa(s.Value) + s.Unit
	}
	ids := make([]string, 0, len(links))
	for i, l := range links {
		link := bp.Connect(*l.Switch.SystemID, l.Switch.IfName, gs.ID, fmt.Sprintf("eth%d", i), speed)
		if l.LagMode != nil {
			bp.Set(link.ID, map[string]any{"lag_mode": *l.LagMode, "group_label": l.GroupLabel})
		}
		ids = append(ids, link.ID)
	}
	return ids
}

// PatchNode updates node attributes.
func (f *FakeController) PatchNode(ctx context.Context, bpID, nodeID string, patch map[string]any) error {
	bp, err := f.lookup(http.MethodPatch, bpID)
	if err != nil {
		return err
	}
	if _, ok := bp.Node(nodeID); !ok {
		return notFound(http.MethodPatch, "/nodes/"+nodeID)
	}
	if err := f.rejected(MutPatchNode, bpID); err != nil {
		return err
	}
	f.mutations[MutPatchNode]++
	return bp.Set(nodeID, patch)
}

// PatchNodes updates several nodes; each patch carries its node id.
func (f *FakeController) PatchNodes(ctx context.Context, bpID string, patches []map[string]any) error {
	bp, err := f.lookup(http.MethodPatch, bpID)
	if err != nil {
		return err
	}
	for _, p := range patches {
		id, _ := p["id"].(string)
		if _, ok := bp.Node(id); !ok {
			return notFound(http.MethodPatch, "/nodes/"+id)
		}
	}
	if err := f.rejected(MutPatchNodes, bpID); err != nil {
		return err
	}
	f.mutations[MutPatchNodes]++
	for _, p := range patches {
		id := p["id"].(string)
		if err := bp.Set(id, p); err != nil {
			return err
		}
	}
	return nil
}

// PatchLeafServerLinkLabels groups links into aggregates by group label.
func (f *FakeController) PatchLeafServerLinkLabels(ctx context.Context, bpID string, spec *apstra.LinkLabelsSpec) error {
	bp, err := f.lookup(http.MethodPatch, bpID)
	if err != nil {
		return err
	}
	for id := range spec.Links {
		if _, ok := bp.Node(id); !ok {
			return unprocessable(http.MethodPatch, "/leaf-server-link-labels", "link %s not found", id)
		}
	}
	if err := f.rejected(MutLinkLabels, bpID); err != nil {
		return err
	}
	f.mutations[MutLinkLabels]++
	groups := map[string][]string{}
	var order []string
	for _, id := range sortedKeys(spec.Links) {
		l := spec.Links[id]
		bp.Set(id, map[string]any{"group_label": l.GroupLabel, "lag_mode": l.LagMode})
		if _, seen := groups[l.GroupLabel]; !seen {
			order = append(order, l.GroupLabel)
		}
		groups[l.GroupLabel] = append(groups[l.GroupLabel], id)
	}
	for _, g := range order {
		bp.Bundle(groups[g])
	}
	return nil
}

// Tagging adds tag nodes to links.
func (f *FakeController) Tagging(ctx context.Context, bpID string, payload *apstra.TaggingPayload) error {
	bp, err := f.lookup(http.MethodPost, bpID)
	if err != nil {
		return err
	}
	for _, id := range payload.Nodes {
		if _, ok := bp.Node(id); !ok {
			return unprocessable(http.MethodPost, "/tagging", "node %s not found", id)
		}
	}
	if err := f.rejected(MutTagging, bpID); err != nil {
		return err
	}
	f.mutations[MutTagging]++
	for _, id := range payload.Nodes {
		for _, t := range payload.Add {
			bp.TagLink(id, t)
		}
	}
	return nil
}

// GetVirtualNetwork returns a copy of the stored virtual network object.
func (f *FakeController) GetVirtualNetwork(ctx context.Context, bpID, vnID string) (*apstra.VirtualNetworkSpec, error) {
	bp, err := f.lookup(http.MethodGet, bpID)
	if err != nil {
		return nil, err
	}
	vn, ok := bp.vns[vnID]
	if !ok {
		return nil, notFound(http.MethodGet, "/virtual-networks/"+vnID)
	}
	var out apstra.VirtualNetworkSpec
	if err := remarshal(vn, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// PatchVirtualNetwork stores the object as sent.
func (f *FakeController) PatchVirtualNetwork(ctx context.Context, bpID string, vn *apstra.VirtualNetworkSpec) error {
	bp, err := f.lookup(http.MethodPatch, bpID)
	if err != nil {
		return err
	}
	if _, ok := bp.vns[vn.ID]; !ok {
		return notFound(http.MethodPatch, "/virtual-networks/"+vn.ID)
	}
	if err := f.rejected(MutPatchVN, bpID); err != nil {
		return err
	}
	f.mutations[MutPatchVN]++
	var stored apstra.VirtualNetworkSpec
	if err := remarshal(vn, &stored); err != nil {
		return err
	}
	bp.vns[vn.ID] = &stored
	return nil
}

// CreateSingleVLANCT builds the batch, pipeline and AttachSingleVLAN nodes.
func (f *FakeController) CreateSingleVLANCT(ctx context.Context, bpID string, ct *apstra.SingleVLANCT) (string, error) {
	bp, err := f.lookup(http.MethodPut, bpID)
	if err != nil {
		return "", err
	}
	if _, ok := bp.Node(ct.VNID); !ok {
		return "", unprocessable(http.MethodPut, "/obj-policy-import", "virtual network %s not found", ct.VNID)
	}
	if err := f.rejected(MutCreateCT, bpID); err != nil {
		return "", err
	}
	f.mutations[MutCreateCT]++
	return bp.AddSingleVLANCT(ct.ID, ct.Label, ct.VNID, ct.Tagged), nil
}

// GetDeviceProfile returns a registered device profile.
func (f *FakeController) GetDeviceProfile(ctx context.Context, id string) (*apstra.DeviceProfile, error) {
	dp, ok := f.Profiles[id]
	if !ok {
		return nil, notFound(http.MethodGet, "/device-profiles/"+id)
	}
	return dp, nil
}

// GetRenderedConfig returns the configured rendering of a node, or "".
func (f *FakeController) GetRenderedConfig(ctx context.Context, bpID, nodeID string) (string, error) {
	bp, err := f.lookup(http.MethodGet, bpID)
	if err != nil {
		return "", err
	}
	if _, ok := bp.Node(nodeID); !ok {
		return "", notFound(http.MethodGet, "/nodes/"+nodeID+"/config-rendering")
	}
	return f.Rendered[nodeID], nil
}

func remarshal(in, out any) error {
	raw, err := json.Marshal(in)
	if err != nil {
		return err
	}
	return json.Unmarshal(raw, out)
}
