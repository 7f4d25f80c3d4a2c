// Package ctassoc moves single-VLAN connectivity template assignments from
// the switch pair of one blueprint to the same interfaces in another.
package ctassoc

import (
	"context"
	"fmt"
	"sort"

	"github.com/kimcharli/apstra-bp-consolidate/pkg/blueprint"
	"github.com/kimcharli/apstra-bp-consolidate/pkg/model"
	"github.com/kimcharli/apstra-bp-consolidate/pkg/qe"
	"github.com/kimcharli/apstra-bp-consolidate/pkg/util"
)

// Binding names.
const (
	bBatch   = "batch"
	bApp     = "ep_application_instance"
	bIntf    = "interface"
	bSingle  = "AttachSingleVLAN"
	bVN      = "virtual_network"
	bMember  = "member_interface"
	bMSwitch = "member_switch"
	bSwitch  = "switch"
	bEVPN    = "evpn_interface"
)

// Assignment is the VLAN set of one application point
type Assignment struct {
	ID           string `yaml:"id"`
	TaggedVLANs  []int  `yaml:"tagged_vlans"`
	UntaggedVLAN *int   `yaml:"untagged_vlan"`
}

func (a *Assignment) add(vlan int, tagged bool) {
	if tagged {
		a.TaggedVLANs = util.AppendUnique(a.TaggedVLANs, vlan)
		return
	}
	v := vlan
	a.UntaggedVLAN = &v
}

// Empty reports whether no VLAN is assigned
func (a *Assignment) Empty() bool {
	return len(a.TaggedVLANs) == 0 && a.UntaggedVLAN == nil
}

// Aggregate is an assignment on an evpn aggregate with its member ports
type Aggregate struct {
	Assignment `yaml:",inline"`
	Members    map[string][]string `yaml:"member_interfaces"` // system label -> member if names
}

// HasMember reports whether label:ifName is a member
func (a *Aggregate) HasMember(label, ifName string) bool {
	return util.Contains(a.Members[label], ifName)
}

// InterfaceVlanTable holds the VLAN assignments of a switch pair. Aggregates
// are keyed by their source evpn interface id, plain interfaces by system
// label and interface name.
type InterfaceVlanTable struct {
	Interfaces map[string]map[string]*Assignment `yaml:"interfaces"`
	Aggregates map[string]*Aggregate             `yaml:"redundancy_group"`
}

// NewInterfaceVlanTable returns an empty table
func NewInterfaceVlanTable() *InterfaceVlanTable {
	return &InterfaceVlanTable{
		Interfaces: map[string]map[string]*Assignment{},
		Aggregates: map[string]*Aggregate{},
	}
}

// Len returns the number of application points
func (t *InterfaceVlanTable) Len() int {
	n := len(t.Aggregates)
	for _, m := range t.Interfaces {
		n += len(m)
	}
	return n
}

// Labels returns every system label the table references, sorted
func (t *InterfaceVlanTable) Labels() []string {
	seen := map[string]bool{}
	for label := range t.Interfaces {
		seen[label] = true
	}
	for _, agg := range t.Aggregates {
		for label := range agg.Members {
			seen[label] = true
		}
	}
	out := make([]string, 0, len(seen))
	for l := range seen {
		out = append(out, l)
	}
	sort.Strings(out)
	return out
}

// AddInterface records a VLAN on a plain interface
func (t *InterfaceVlanTable) AddInterface(label, ifName, id string, vlan int, tagged bool) {
	byName, ok := t.Interfaces[label]
	if !ok {
		byName = map[string]*Assignment{}
		t.Interfaces[label] = byName
	}
	a, ok := byName[ifName]
	if !ok {
		a = &Assignment{ID: id}
		byName[ifName] = a
	}
	a.add(vlan, tagged)
}

// AddAggregate records a VLAN on an aggregate seen through one member port
func (t *InterfaceVlanTable) AddAggregate(aeID, label, ifName string, vlan int, tagged bool) {
	agg, ok := t.Aggregates[aeID]
	if !ok {
		agg = &Aggregate{Assignment: Assignment{ID: aeID}, Members: map[string][]string{}}
		t.Aggregates[aeID] = agg
	}
	agg.Members[label] = util.AppendUnique(agg.Members[label], ifName)
	agg.add(vlan, tagged)
}

// InterfaceVlanQuery matches every single-VLAN template applied to an
// interface or aggregate of the pair. Exactly one of the optional branches
// binds for an application point on the pair.
func InterfaceVlanQuery(pair []string) *qe.Query {
	return qe.Match(
		qe.Node(model.NodeEndpointPolicy, qe.Eq("policy_type_name", model.PolicyTypeBatch), qe.Name(bBatch)).
			In(model.RelEpTopLevel).Node(model.NodeAppInstance, qe.Name(bApp)).
			Out(model.RelEpAffectedBy).Node(model.NodeEndpointGroup).
			In(model.RelEpMemberOf).Node("", qe.Name(bIntf)),
		qe.Node("", qe.Name(bApp)).
			Out(model.RelEpNested).Node(model.NodeEndpointPolicy, qe.Eq("policy_type_name", model.PolicyTypeAttachSingleVLAN), qe.Name(bSingle)).
			Out(model.RelVNToAttach).Node(model.NodeVirtualNetwork, qe.Name(bVN)),
		qe.Optional(qe.Node("", qe.Name(bIntf)).
			Out(model.RelComposedOf).Node(model.NodeInterface).
			Out(model.RelComposedOf).Node(model.NodeInterface, qe.Name(bMember)).
			In(model.RelHostedInterfaces).Node(model.NodeSystem, qe.IsIn("label", pair), qe.Name(bMSwitch))),
		qe.Optional(qe.Node("", qe.Name(bIntf)).
			In(model.RelHostedInterfaces).Node(model.NodeSystem, qe.IsIn("label", pair), qe.Name(bSwitch))),
	)
}

// PullInterfaceVlanTable reads the VLAN assignments of the pair's interfaces
// and aggregates. Reserved uplink ports are skipped.
func PullInterfaceVlanTable(ctx context.Context, bp *blueprint.Blueprint, pair []string) (*InterfaceVlanTable, error) {
	table := NewInterfaceVlanTable()
	if len(pair) == 0 {
		return table, nil
	}
	rows, err := bp.Query(ctx, InterfaceVlanQuery(pair))
	if err != nil {
		return nil, fmt.Errorf("pulling interface vlan table: %w", err)
	}
	log := util.WithBlueprint(bp.Label)
	for _, row := range rows {
		var vn model.VirtualNetwork
		if _, err := row.Decode(bVN, &vn); err != nil {
			return nil, err
		}
		vni, err := vn.VNI()
		if err != nil {
			log.Warnf("skipping: %v", err)
			continue
		}
		var single model.EndpointPolicy
		if _, err := row.Decode(bSingle, &single); err != nil {
			return nil, err
		}
		vlan := model.VLANForVNI(vni)

		switch {
		case row.Has(bMember):
			ifName := row.String(bMember, "if_name")
			if model.IsReservedUplink(ifName) {
				continue
			}
			table.AddAggregate(row.ID(bIntf), row.String(bMSwitch, "label"), ifName, vlan, single.Tagged())
		case row.Has(bSwitch):
			ifName := row.String(bIntf, "if_name")
			if model.IsReservedUplink(ifName) {
				continue
			}
			table.AddInterface(row.String(bSwitch, "label"), ifName, row.ID(bIntf), vlan, single.Tagged())
		}
	}
	log.Infof("pulled vlan assignments of %d application points on %v", table.Len(), pair)
	return table, nil
}
