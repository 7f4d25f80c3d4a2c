// Package migrate moves a switch pair and everything cabled to it from the
// ToR blueprint into the main blueprint.
//
// The move runs as five phases in a fixed order:
//
//	access-switch-pair     replace the legacy generic system with the new pair
//	generic-systems        recreate the servers cabled to the pair
//	virtual-networks       extend the pair's VNs to the new pair
//	connectivity-templates reattach VLAN templates on interfaces and LAGs
//	devices                move device serials and mark them for deploy
//
// Each phase looks for its own result in the target before acting and skips
// what is already there, so any phase, or the whole run, can be repeated
// after a partial failure.
package migrate

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/kimcharli/apstra-bp-consolidate/pkg/apstra"
	"github.com/kimcharli/apstra-bp-consolidate/pkg/batch"
	"github.com/kimcharli/apstra-bp-consolidate/pkg/blueprint"
	"github.com/kimcharli/apstra-bp-consolidate/pkg/identity"
	"github.com/kimcharli/apstra-bp-consolidate/pkg/util"
)

// Phase names, in execution order.
const (
	PhaseAccessSwitchPair      = "access-switch-pair"
	PhaseGenericSystems        = "generic-systems"
	PhaseVirtualNetworks       = "virtual-networks"
	PhaseConnectivityTemplates = "connectivity-templates"
	PhaseDevices               = "devices"
)

// Phases returns every phase name in execution order
func Phases() []string {
	return []string{
		PhaseAccessSwitchPair,
		PhaseGenericSystems,
		PhaseVirtualNetworks,
		PhaseConnectivityTemplates,
		PhaseDevices,
	}
}

// Order names what moves. TorName is the label of the generic system that
// stands in for the pair in the main blueprint; the pair itself is labeled
// TorName+"a" and TorName+"b" in both blueprints.
type Order struct {
	TorName    string
	SwitchPair []string

	// PairTemplate is the new_systems entry used to create the switch pair.
	// Its label is replaced by TorName. Empty selects a bare switch system.
	PairTemplate json.RawMessage
}

// Validate checks the order is internally consistent
func (o *Order) Validate() error {
	v := &util.ValidationBuilder{}
	v.Add(o.TorName != "", "tor name is required")
	v.Add(len(o.SwitchPair) == 2, fmt.Sprintf("switch pair needs exactly two labels, got %d", len(o.SwitchPair)))
	if o.TorName != "" && len(o.SwitchPair) == 2 {
		v.Add(o.SwitchPair[0] == o.TorName+"a" && o.SwitchPair[1] == o.TorName+"b",
			fmt.Sprintf("switch pair %v must be %sa and %sb", o.SwitchPair, o.TorName, o.TorName))
	}
	if len(o.PairTemplate) > 0 {
		v.Add(json.Valid(o.PairTemplate), "switch pair template is not valid JSON")
	}
	return v.Build()
}

// Options tunes an Orchestrator; zero values select defaults
type Options struct {
	Renamer  *identity.Renamer
	Batch    batch.Options
	Waiter   *batch.Waiter
	Progress Progress

	// Pending keeps the links of a pair between deleting the legacy generic
	// system and creating the pair. Nil keeps them in memory only.
	Pending PendingPairs
}

// PhaseSummary is the outcome of one phase
type PhaseSummary struct {
	Phase    string        `json:"phase"`
	Updated  int           `json:"updated"`
	Skipped  int           `json:"skipped"`
	Missing  int           `json:"missing"`
	Failed   int           `json:"failed"`
	Duration time.Duration `json:"duration"`
	Err      error         `json:"-"`
}

// Status classifies the summary for display
func (s *PhaseSummary) Status() string {
	switch {
	case s.Err != nil || s.Failed > 0:
		return StatusFailed
	case s.Missing > 0:
		return StatusIncomplete
	case s.Updated == 0:
		return StatusUnchanged
	default:
		return StatusDone
	}
}

// Phase statuses.
const (
	StatusDone       = "DONE"
	StatusUnchanged  = "UNCHANGED"
	StatusIncomplete = "INCOMPLETE"
	StatusFailed     = "FAILED"
)

func (s *PhaseSummary) String() string {
	return fmt.Sprintf("%s: %d updated, %d skipped, %d missing, %d failed",
		s.Phase, s.Updated, s.Skipped, s.Missing, s.Failed)
}

// Orchestrator runs the phases against one source and one target blueprint.
// It is not safe for concurrent use; the identity caches assume it is the
// only writer of both blueprints for the run.
type Orchestrator struct {
	source *blueprint.Blueprint
	target *blueprint.Blueprint
	order  Order

	sourceIDs *identity.Resolver
	targetIDs *identity.Resolver
	renamer   *identity.Renamer
	applier   *batch.Applier
	waiter    *batch.Waiter
	progress  Progress
	pending   PendingPairs
}

// New creates an orchestrator. The order is validated here so a bad order
// fails before anything is read from the controller.
func New(source, target *blueprint.Blueprint, order Order, opts Options) (*Orchestrator, error) {
	if err := order.Validate(); err != nil {
		return nil, err
	}
	o := &Orchestrator{
		source:    source,
		target:    target,
		order:     order,
		sourceIDs: identity.NewResolver(source),
		targetIDs: identity.NewResolver(target),
		renamer:   opts.Renamer,
		applier:   batch.NewApplier(target, opts.Batch),
		waiter:    opts.Waiter,
		progress:  opts.Progress,
		pending:   opts.Pending,
	}
	if o.renamer == nil {
		o.renamer = identity.NewRenamer("", nil)
	}
	if o.waiter == nil {
		o.waiter = batch.NewWaiter(0, 0)
	}
	if o.progress == nil {
		o.progress = nopProgress{}
	}
	if o.pending == nil {
		o.pending = memoryPending{}
	}
	return o, nil
}

func (o *Orchestrator) phaseFunc(name string) (func(context.Context, *PhaseSummary) error, bool) {
	switch name {
	case PhaseAccessSwitchPair:
		return o.accessSwitchPair, true
	case PhaseGenericSystems:
		return o.genericSystems, true
	case PhaseVirtualNetworks:
		return o.virtualNetworks, true
	case PhaseConnectivityTemplates:
		return o.connectivityTemplates, true
	case PhaseDevices:
		return o.devices, true
	}
	return nil, false
}

func (o *Orchestrator) runPhase(ctx context.Context, name string, index, total int) *PhaseSummary {
	s := &PhaseSummary{Phase: name}
	fn, ok := o.phaseFunc(name)
	if !ok {
		s.Err = fmt.Errorf("unknown phase %q", name)
		return s
	}
	log := util.WithPhase(name)
	log.Infof("moving %v from %s to %s", o.order.SwitchPair, o.source.Label, o.target.Label)
	o.progress.PhaseStart(name, index, total)

	start := time.Now()
	s.Err = fn(apstra.WithPhase(ctx, name), s)
	s.Duration = time.Since(start)

	if s.Err != nil {
		log.Errorf("%s: %v", s, s.Err)
	} else {
		log.Info(s.String())
	}
	o.progress.PhaseEnd(s, index, total)
	return s
}

// Run executes the named phases in the given order. It stops at the first
// phase that returns an error; counted mutation failures do not stop it.
func (o *Orchestrator) Run(ctx context.Context, names ...string) ([]*PhaseSummary, error) {
	o.progress.RunStart(names)
	start := time.Now()
	var results []*PhaseSummary
	var err error
	for i, name := range names {
		s := o.runPhase(ctx, name, i, len(names))
		results = append(results, s)
		if s.Err != nil {
			err = fmt.Errorf("phase %s: %w", name, s.Err)
			break
		}
	}
	o.progress.RunEnd(results, time.Since(start))
	return results, err
}

// All runs every phase in order
func (o *Orchestrator) All(ctx context.Context) ([]*PhaseSummary, error) {
	return o.Run(ctx, Phases()...)
}

// AccessSwitchPair runs that phase alone
func (o *Orchestrator) AccessSwitchPair(ctx context.Context) (*PhaseSummary, error) {
	return o.single(ctx, PhaseAccessSwitchPair)
}

// GenericSystems runs that phase alone
func (o *Orchestrator) GenericSystems(ctx context.Context) (*PhaseSummary, error) {
	return o.single(ctx, PhaseGenericSystems)
}

// VirtualNetworks runs that phase alone
func (o *Orchestrator) VirtualNetworks(ctx context.Context) (*PhaseSummary, error) {
	return o.single(ctx, PhaseVirtualNetworks)
}

// ConnectivityTemplates runs that phase alone
func (o *Orchestrator) ConnectivityTemplates(ctx context.Context) (*PhaseSummary, error) {
	return o.single(ctx, PhaseConnectivityTemplates)
}

// Devices runs that phase alone
func (o *Orchestrator) Devices(ctx context.Context) (*PhaseSummary, error) {
	return o.single(ctx, PhaseDevices)
}

func (o *Orchestrator) single(ctx context.Context, name string) (*PhaseSummary, error) {
	results, err := o.Run(ctx, name)
	return results[0], err
}

// IsFatal reports whether err must abort the run rather than be counted
func IsFatal(err error) bool {
	return errors.Is(err, util.ErrInvariant)
}

func sortedKeys[V any](m map[string]V) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
