// Package blueprint binds a controller session to one blueprint.
//
// Every component that reads or writes a graph takes a *Blueprint. The
// Controller interface is satisfied by *apstra.Client and by the in-memory
// controller used in tests.
package blueprint

import (
	"context"
	"fmt"
	"net/http"

	"github.com/kimcharli/apstra-bp-consolidate/pkg/apstra"
	"github.com/kimcharli/apstra-bp-consolidate/pkg/qe"
	"github.com/kimcharli/apstra-bp-consolidate/pkg/util"
)

// Controller is the subset of the controller API the consolidation uses
type Controller interface {
	ListBlueprints(ctx context.Context) ([]apstra.BlueprintSummary, error)
	Query(ctx context.Context, bpID string, q *qe.Query) (qe.Result, error)
	Batch(ctx context.Context, bpID string, req *apstra.BatchRequest) error
	CreateSwitchSystemLinks(ctx context.Context, bpID string, spec *apstra.SwitchSystemLinksSpec) ([]string, error)
	PatchNode(ctx context.Context, bpID, nodeID string, patch map[string]any) error
	PatchNodes(ctx context.Context, bpID string, patches []map[string]any) error
	PatchLeafServerLinkLabels(ctx context.Context, bpID string, spec *apstra.LinkLabelsSpec) error
	Tagging(ctx context.Context, bpID string, payload *apstra.TaggingPayload) error
	GetVirtualNetwork(ctx context.Context, bpID, vnID string) (*apstra.VirtualNetworkSpec, error)
	PatchVirtualNetwork(ctx context.Context, bpID string, vn *apstra.VirtualNetworkSpec) error
	CreateSingleVLANCT(ctx context.Context, bpID string, ct *apstra.SingleVLANCT) (string, error)
	GetDeviceProfile(ctx context.Context, id string) (*apstra.DeviceProfile, error)
	GetRenderedConfig(ctx context.Context, bpID, nodeID string) (string, error)
}

var _ Controller = (*apstra.Client)(nil)

// Blueprint is one configuration graph on the controller
type Blueprint struct {
	ID    string
	Label string
	ctl   Controller
}

// New wraps a known blueprint id
func New(ctl Controller, id, label string) *Blueprint {
	return &Blueprint{ID: id, Label: label, ctl: ctl}
}

// Open resolves a blueprint by label. A missing blueprint is fatal for the
// run, so it is reported as a NotFoundError.
func Open(ctx context.Context, ctl Controller, label string) (*Blueprint, error) {
	bps, err := ctl.ListBlueprints(ctx)
	if err != nil {
		return nil, fmt.Errorf("listing blueprints: %w", err)
	}
	for _, bp := range bps {
		if bp.Label == label {
			util.WithBlueprint(label).Debugf("blueprint id %s", bp.ID)
			return New(ctl, bp.ID, bp.Label), nil
		}
	}
	return nil, util.NewNotFoundError("blueprint", label, "")
}

// All opens every blueprint on the controller
func All(ctx context.Context, ctl Controller) ([]*Blueprint, error) {
	bps, err := ctl.ListBlueprints(ctx)
	if err != nil {
		return nil, fmt.Errorf("listing blueprints: %w", err)
	}
	out := make([]*Blueprint, len(bps))
	for i, bp := range bps {
		out[i] = New(ctl, bp.ID, bp.Label)
	}
	return out, nil
}

// Controller returns the underlying controller
func (b *Blueprint) Controller() Controller { return b.ctl }

func (b *Blueprint) String() string {
	return b.Label
}

// Query runs a graph query against this blueprint
func (b *Blueprint) Query(ctx context.Context, q *qe.Query) (qe.Result, error) {
	return b.ctl.Query(ctx, b.ID, q)
}

// Batch submits one batch envelope
func (b *Blueprint) Batch(ctx context.Context, ops ...apstra.BatchOperation) error {
	return b.ctl.Batch(ctx, b.ID, &apstra.BatchRequest{Operations: ops})
}

// ApplyPolicies attaches (used) or detaches CTs on one application point in one batch call
func (b *Blueprint) ApplyPolicies(ctx context.Context, apID string, policyIDs []string, used bool) error {
	return b.Batch(ctx, apstra.BatchOperation{
		Path:    apstra.PathPolicyBatchApply,
		Method:  http.MethodPatch,
		Payload: apstra.NewPolicyApply(apID, policyIDs, used),
	})
}

// DeleteLinks deletes switch-system links in one batch call
func (b *Blueprint) DeleteLinks(ctx context.Context, linkIDs []string) error {
	return b.Batch(ctx, apstra.BatchOperation{
		Path:    apstra.PathDeleteSwitchSystemLinks,
		Method:  http.MethodPost,
		Payload: &apstra.DeleteLinksPayload{LinkIDs: linkIDs},
	})
}

// CreateSwitchSystemLinks creates systems with their links
func (b *Blueprint) CreateSwitchSystemLinks(ctx context.Context, spec *apstra.SwitchSystemLinksSpec) ([]string, error) {
	return b.ctl.CreateSwitchSystemLinks(ctx, b.ID, spec)
}

// PatchNode patches one node
func (b *Blueprint) PatchNode(ctx context.Context, nodeID string, patch map[string]any) error {
	return b.ctl.PatchNode(ctx, b.ID, nodeID, patch)
}

// PatchNodes patches several nodes in one call
func (b *Blueprint) PatchNodes(ctx context.Context, patches []map[string]any) error {
	return b.ctl.PatchNodes(ctx, b.ID, patches)
}

// SetLinkLabels sets LAG group labels and modes
func (b *Blueprint) SetLinkLabels(ctx context.Context, links map[string]apstra.LinkLabel) error {
	return b.ctl.PatchLeafServerLinkLabels(ctx, b.ID, &apstra.LinkLabelsSpec{Links: links})
}

// Tag adds tags to nodes
func (b *Blueprint) Tag(ctx context.Context, nodes, tags []string) error {
	return b.ctl.Tagging(ctx, b.ID, apstra.NewTagging(nodes, tags))
}

// VirtualNetwork fetches the live virtual network object
func (b *Blueprint) VirtualNetwork(ctx context.Context, vnID string) (*apstra.VirtualNetworkSpec, error) {
	return b.ctl.GetVirtualNetwork(ctx, b.ID, vnID)
}

// PatchVirtualNetwork writes back a virtual network
func (b *Blueprint) PatchVirtualNetwork(ctx context.Context, vn *apstra.VirtualNetworkSpec) error {
	return b.ctl.PatchVirtualNetwork(ctx, b.ID, vn)
}

// CreateSingleVLANCT creates a single-VLAN connectivity template
func (b *Blueprint) CreateSingleVLANCT(ctx context.Context, ct *apstra.SingleVLANCT) (string, error) {
	return b.ctl.CreateSingleVLANCT(ctx, b.ID, ct)
}

// DeviceProfile fetches a device profile
func (b *Blueprint) DeviceProfile(ctx context.Context, id string) (*apstra.DeviceProfile, error) {
	return b.ctl.GetDeviceProfile(ctx, id)
}

// RenderedConfig returns the rendered configuration of a system
func (b *Blueprint) RenderedConfig(ctx context.Context, nodeID string) (string, error) {
	return b.ctl.GetRenderedConfig(ctx, b.ID, nodeID)
}
