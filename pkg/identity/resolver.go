// Package identity maps labels to node ids within one blueprint and derives
// the labels systems take when they move to the target blueprint.
package identity

import (
	"context"
	"fmt"

	"github.com/kimcharli/apstra-bp-consolidate/pkg/apstra"
	"github.com/kimcharli/apstra-bp-consolidate/pkg/blueprint"
	"github.com/kimcharli/apstra-bp-consolidate/pkg/model"
	"github.com/kimcharli/apstra-bp-consolidate/pkg/qe"
	"github.com/kimcharli/apstra-bp-consolidate/pkg/util"
)

// Resolver caches system identities of one blueprint for one run. Only
// positive lookups are cached and entries are never invalidated: the
// blueprint is assumed not to be changed by other actors during the run.
type Resolver struct {
	bp *blueprint.Blueprint

	ids      map[string]string // label -> id
	labels   map[string]string // id -> label
	profiles map[string]*apstra.DeviceProfile
}

// NewResolver creates a resolver bound to bp
func NewResolver(bp *blueprint.Blueprint) *Resolver {
	return &Resolver{
		bp:       bp,
		ids:      map[string]string{},
		labels:   map[string]string{},
		profiles: map[string]*apstra.DeviceProfile{},
	}
}

// Blueprint returns the blueprint the resolver is bound to
func (r *Resolver) Blueprint() *blueprint.Blueprint { return r.bp }

func (r *Resolver) remember(id, label string) {
	r.ids[label] = id
	r.labels[id] = label
}

// System looks up a system by label. The record is always read fresh since
// callers need its current assignment state; the id is cached.
func (r *Resolver) System(ctx context.Context, label string) (*model.System, bool, error) {
	rows, err := r.bp.Query(ctx, qe.From(qe.Node(model.NodeSystem, qe.Label(label), qe.Name("system"))))
	if err != nil {
		return nil, false, fmt.Errorf("looking up system %s: %w", label, err)
	}
	row, ok := rows.First()
	if !ok {
		return nil, false, nil
	}
	var sys model.System
	if _, err := row.Decode("system", &sys); err != nil {
		return nil, false, err
	}
	r.remember(sys.ID, sys.Label)
	return &sys, true, nil
}

// SystemID returns the id of the system labeled label
func (r *Resolver) SystemID(ctx context.Context, label string) (string, bool, error) {
	if id, ok := r.ids[label]; ok {
		return id, true, nil
	}
	sys, found, err := r.System(ctx, label)
	if err != nil || !found {
		return "", found, err
	}
	return sys.ID, true, nil
}

// MustSystemID is SystemID with absence reported as a NotFoundError
func (r *Resolver) MustSystemID(ctx context.Context, label string) (string, error) {
	id, found, err := r.SystemID(ctx, label)
	if err != nil {
		return "", err
	}
	if !found {
		return "", util.NewNotFoundError("system", label, r.bp.Label)
	}
	return id, nil
}

// SystemLabel returns the label of the system with the given id
func (r *Resolver) SystemLabel(ctx context.Context, id string) (string, bool, error) {
	if label, ok := r.labels[id]; ok {
		return label, true, nil
	}
	rows, err := r.bp.Query(ctx, qe.From(qe.Node(model.NodeSystem, qe.ID(id), qe.Name("system"))))
	if err != nil {
		return "", false, fmt.Errorf("looking up system %s: %w", id, err)
	}
	row, ok := rows.First()
	if !ok {
		return "", false, nil
	}
	label := row.String("system", "label")
	r.remember(id, label)
	return label, true, nil
}

// DeviceProfile returns the device profile behind a system's interface map
func (r *Resolver) DeviceProfile(ctx context.Context, label string) (*apstra.DeviceProfile, error) {
	if dp, ok := r.profiles[label]; ok {
		return dp, nil
	}
	q := qe.From(qe.Node(model.NodeSystem, qe.Label(label), qe.Name("system")).
		Out(model.RelInterfaceMap).
		Node(model.NodeInterfaceMap, qe.Name("im")))
	rows, err := r.bp.Query(ctx, q)
	if err != nil {
		return nil, fmt.Errorf("looking up interface map of %s: %w", label, err)
	}
	row, ok := rows.First()
	if !ok {
		return nil, util.NewNotFoundError("interface map of system", label, r.bp.Label)
	}
	var im model.InterfaceMap
	if _, err := row.Decode("im", &im); err != nil {
		return nil, err
	}
	r.remember(row.ID("system"), label)

	dp, err := r.bp.DeviceProfile(ctx, im.DeviceProfileID)
	if err != nil {
		return nil, fmt.Errorf("fetching device profile %s: %w", im.DeviceProfileID, err)
	}
	r.profiles[label] = dp
	return dp, nil
}

// TransformationID returns the port transformation of a switch that exposes
// ifName at speed
func (r *Resolver) TransformationID(ctx context.Context, label, ifName string, speed model.Speed) (int, error) {
	dp, err := r.DeviceProfile(ctx, label)
	if err != nil {
		return 0, err
	}
	id, ok := dp.TransformationFor(ifName, apstra.PortSpeed{Unit: speed.Unit, Value: speed.Value})
	if !ok {
		return 0, util.NewNotFoundError("transformation", fmt.Sprintf("%s:%s at %s", label, ifName, speed), r.bp.Label)
	}
	return id, nil
}
