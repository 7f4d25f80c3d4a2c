package testutil

import (
	"fmt"
	"sort"
	"strconv"

	"github.com/kimcharli/apstra-bp-consolidate/pkg/apstra"
	"github.com/kimcharli/apstra-bp-consolidate/pkg/model"
)

// DefaultProfileID is the device profile registered by NewFakeController.
const DefaultProfileID = "dp-access-48x10-2x100"

// DefaultProfile returns an access switch profile: xe-0/0/0..47 at 10G
// (transformation 1) or 1G (transformation 2), et-0/0/48..49 at 100G.
func DefaultProfile() *apstra.DeviceProfile {
	dp := &apstra.DeviceProfile{ID: DefaultProfileID, Label: "access 48x10G 2x100G"}
	for i := 0; i < 48; i++ {
		name := fmt.Sprintf("xe-0/0/%d", i)
		dp.Ports = append(dp.Ports, apstra.DeviceProfilePort{
			PortID: i + 1,
			Transformations: []apstra.Transformation{
				{TransformationID: 1, IsDefault: true, Interfaces: []apstra.DeviceProfileInterface{{Name: name, Speed: apstra.PortSpeed{Unit: "G", Value: 10}}}},
				{TransformationID: 2, Interfaces: []apstra.DeviceProfileInterface{{Name: name, Speed: apstra.PortSpeed{Unit: "G", Value: 1}}}},
			},
		})
	}
	for i := 48; i < 50; i++ {
		name := fmt.Sprintf("et-0/0/%d", i)
		dp.Ports = append(dp.Ports, apstra.DeviceProfilePort{
			PortID: i + 1,
			Transformations: []apstra.Transformation{
				{TransformationID: 1, IsDefault: true, Interfaces: []apstra.DeviceProfileInterface{{Name: name, Speed: apstra.PortSpeed{Unit: "G", Value: 100}}}},
			},
		})
	}
	return dp
}

// AddSystem adds a system node. Generic systems are servers, the rest switches.
func (b *FakeBlueprint) AddSystem(label, role string) *Node {
	systemType := model.SystemTypeSwitch
	if role == model.RoleGeneric {
		systemType = model.SystemTypeServer
	}
	return b.AddNode(model.NodeSystem, "", map[string]any{
		"label":       label,
		"hostname":    label,
		"role":        role,
		"system_type": systemType,
		"system_id":   nil,
		"deploy_mode": nil,
	})
}

// System returns a system by label
func (b *FakeBlueprint) System(label string) *Node {
	n, _ := b.Find(model.NodeSystem, "label", label)
	return n
}

// SystemOf returns the system hosting an interface
func (b *FakeBlueprint) SystemOf(ifID string) *Node {
	if hosts := b.In(ifID, model.RelHostedInterfaces); len(hosts) > 0 {
		return hosts[0]
	}
	return nil
}

// Interface returns the interface ifName of a system, creating an ethernet
// interface when absent.
func (b *FakeBlueprint) Interface(sysID, ifName string) *Node {
	for _, intf := range b.Out(sysID, model.RelHostedInterfaces) {
		if intf.Str("if_name") == ifName {
			return intf
		}
	}
	return b.AddInterface(sysID, ifName, model.IfTypeEthernet)
}

// AddInterface adds an interface hosted by a system
func (b *FakeBlueprint) AddInterface(sysID, ifName, ifType string) *Node {
	intf := b.AddNode(model.NodeInterface, "", map[string]any{"if_name": ifName, "if_type": ifType})
	b.AddEdge(sysID, model.RelHostedInterfaces, intf.ID)
	return intf
}

// Connect cables aIf on system a to bIf on system b
func (b *FakeBlueprint) Connect(aSys, aIf, bSys, bIf, speed string) *Node {
	ai := b.Interface(aSys, aIf)
	bi := b.Interface(bSys, bIf)
	link := b.AddNode(model.NodeLink, "", map[string]any{"speed": speed, "link_type": "ethernet", "role": "to_generic"})
	b.Set(link.ID, map[string]any{"label": fmt.Sprintf("%s<->%s", b.labelOf(aSys), b.labelOf(bSys))})
	b.AddEdge(ai.ID, model.RelLink, link.ID)
	b.AddEdge(bi.ID, model.RelLink, link.ID)
	return link
}

func (b *FakeBlueprint) labelOf(id string) string {
	if n, ok := b.Node(id); ok {
		return n.Str("label")
	}
	return id
}

// Bundle groups links into one aggregate: a port-channel on the generic
// side, one port-channel per switch, an evpn interface composed of the
// switch port-channels and an aggregate link joining the two sides. It
// returns the evpn interface.
func (b *FakeBlueprint) Bundle(linkIDs []string) *Node {
	var gsPO, evpn *Node
	switchPO := map[string]*Node{}
	for _, id := range linkIDs {
		for _, intf := range b.In(id, model.RelLink) {
			sys := b.SystemOf(intf.ID)
			if sys == nil {
				continue
			}
			if sys.Str("role") == model.RoleGeneric {
				if gsPO == nil {
					gsPO = b.AddInterface(sys.ID, "ae1", model.IfTypePortChannel)
				}
				b.AddEdge(gsPO.ID, model.RelComposedOf, intf.ID)
				continue
			}
			if evpn == nil {
				evpn = b.AddNode(model.NodeInterface, "", map[string]any{
					"if_type":             model.IfTypePortChannel,
					"po_control_protocol": model.POControlEVPN,
				})
			}
			po, ok := switchPO[sys.ID]
			if !ok {
				po = b.AddInterface(sys.ID, fmt.Sprintf("ae%d", len(b.NodesOfType(model.NodeInterface))), model.IfTypePortChannel)
				switchPO[sys.ID] = po
				b.AddEdge(evpn.ID, model.RelComposedOf, po.ID)
			}
			b.AddEdge(po.ID, model.RelComposedOf, intf.ID)
		}
	}
	if gsPO != nil && evpn != nil {
		agg := b.AddNode(model.NodeLink, "", map[string]any{"link_type": "aggregate_link"})
		b.AddEdge(gsPO.ID, model.RelLink, agg.ID)
		b.AddEdge(evpn.ID, model.RelLink, agg.ID)
	}
	return evpn
}

// TagLink attaches the tag label to a node, creating the tag once per label
func (b *FakeBlueprint) TagLink(nodeID, label string) {
	tag, ok := b.Find(model.NodeTag, "label", label)
	if !ok {
		tag = b.AddNode(model.NodeTag, "", map[string]any{"label": label})
	}
	b.AddEdge(tag.ID, model.RelTag, nodeID)
}

// TagsOn returns the sorted tag labels on a node
func (b *FakeBlueprint) TagsOn(nodeID string) []string {
	var out []string
	for _, t := range b.In(nodeID, model.RelTag) {
		out = append(out, t.Str("label"))
	}
	sort.Strings(out)
	return out
}

// LinksOf returns the ethernet links of a system
func (b *FakeBlueprint) LinksOf(sysID string) []*Node {
	var out []*Node
	for _, intf := range b.Out(sysID, model.RelHostedInterfaces) {
		for _, l := range b.Out(intf.ID, model.RelLink) {
			if l.Str("link_type") == "ethernet" {
				out = append(out, l)
			}
		}
	}
	return out
}

// AddRedundancyGroup groups systems into a redundancy group
func (b *FakeBlueprint) AddRedundancyGroup(label string, sysIDs ...string) *Node {
	rg := b.AddNode(model.NodeRedundancyGroup, "", map[string]any{"label": label, "rg_type": "esi"})
	for _, id := range sysIDs {
		b.AddEdge(id, model.RelPartOfRG, rg.ID)
	}
	return rg
}

// AddInterfaceMap assigns an interface map with a device profile to a system
func (b *FakeBlueprint) AddInterfaceMap(sysID, deviceProfileID string) *Node {
	im := b.AddNode(model.NodeInterfaceMap, "", map[string]any{"label": deviceProfileID, "device_profile_id": deviceProfileID})
	b.AddEdge(sysID, model.RelInterfaceMap, im.ID)
	return im
}

// AddVirtualNetwork adds a virtual network node and its full object
func (b *FakeBlueprint) AddVirtualNetwork(label string, vni int, boundTo ...apstra.BoundTo) *Node {
	vn := b.AddNode(model.NodeVirtualNetwork, "", map[string]any{
		"label":   label,
		"vn_id":   strconv.Itoa(vni),
		"vn_type": "vxlan",
	})
	spec := &apstra.VirtualNetworkSpec{
		ID:             vn.ID,
		Label:          label,
		VNType:         "vxlan",
		VNID:           strconv.Itoa(vni),
		BoundTo:        boundTo,
		SecurityZoneID: "sz-default",
		RouteTarget:    fmt.Sprintf("%d:1", vni),
	}
	if spec.BoundTo == nil {
		spec.BoundTo = []apstra.BoundTo{}
	}
	b.vns[vn.ID] = spec
	return vn
}

// VirtualNetworkSpec returns the stored virtual network object
func (b *FakeBlueprint) VirtualNetworkSpec(vnID string) *apstra.VirtualNetworkSpec {
	return b.vns[vnID]
}

// AddVNInstance instantiates a virtual network on a system
func (b *FakeBlueprint) AddVNInstance(sysID, vnID string) *Node {
	inst := b.AddNode(model.NodeVNInstance, "", nil)
	b.AddEdge(sysID, model.RelHostedVNInstances, inst.ID)
	b.AddEdge(inst.ID, model.RelInstantiatedBy, vnID)
	return inst
}

// AddSingleVLANCT builds a batch policy wrapping a pipeline whose first
// subpolicy attaches vnID. An empty id is generated.
func (b *FakeBlueprint) AddSingleVLANCT(id, label, vnID string, tagged bool) string {
	tagType := "untagged"
	if tagged {
		tagType = "vlan_tagged"
	}
	if label == "" {
		label = fmt.Sprintf("%s-%s", b.labelOf(vnID), tagType)
	}
	ct := b.AddNode(model.NodeEndpointPolicy, id, map[string]any{"label": label, "policy_type_name": model.PolicyTypeBatch})
	pipeline := b.AddNode(model.NodeEndpointPolicy, "", map[string]any{"label": label + " (pipeline)", "policy_type_name": "pipeline"})
	attach := b.AddNode(model.NodeEndpointPolicy, "", map[string]any{
		"label":            label + " (single vlan)",
		"policy_type_name": model.PolicyTypeAttachSingleVLAN,
		"attributes":       fmt.Sprintf(`{"vn_node_id": %q, "tag_type": %q}`, vnID, tagType),
	})
	b.AddEdge(ct.ID, model.RelEpSubpolicy, pipeline.ID)
	b.AddEdge(pipeline.ID, model.RelEpFirstSubpolicy, attach.ID)
	b.AddEdge(attach.ID, model.RelVNToAttach, vnID)
	return ct.ID
}

func (b *FakeBlueprint) singleVLAN(ctID string) *Node {
	for _, p := range b.Out(ctID, model.RelEpSubpolicy) {
		for _, a := range b.Out(p.ID, model.RelEpFirstSubpolicy) {
			return a
		}
	}
	return nil
}

// Attach applies a connectivity template to an application point
func (b *FakeBlueprint) Attach(apID, ctID string) error {
	ct, ok := b.Node(ctID)
	if !ok || ct.Str("policy_type_name") != model.PolicyTypeBatch {
		return fmt.Errorf("policy %s not found", ctID)
	}
	for _, id := range b.AttachedPolicies(apID) {
		if id == ctID {
			return nil
		}
	}
	app := b.AddNode(model.NodeAppInstance, "", nil)
	grp := b.AddNode(model.NodeEndpointGroup, "", nil)
	b.AddEdge(app.ID, model.RelEpTopLevel, ctID)
	b.AddEdge(app.ID, model.RelEpAffectedBy, grp.ID)
	b.AddEdge(apID, model.RelEpMemberOf, grp.ID)
	if attach := b.singleVLAN(ctID); attach != nil {
		b.AddEdge(app.ID, model.RelEpNested, attach.ID)
	}
	return nil
}

// Detach removes a connectivity template from an application point
func (b *FakeBlueprint) Detach(apID, ctID string) {
	for _, grp := range b.Out(apID, model.RelEpMemberOf) {
		for _, app := range b.In(grp.ID, model.RelEpAffectedBy) {
			if b.HasEdge(app.ID, model.RelEpTopLevel, ctID) {
				b.RemoveNode(app.ID)
				b.RemoveNode(grp.ID)
			}
		}
	}
}

// AttachedPolicies returns the connectivity templates applied to a node
func (b *FakeBlueprint) AttachedPolicies(apID string) []string {
	var out []string
	for _, grp := range b.Out(apID, model.RelEpMemberOf) {
		for _, app := range b.In(grp.ID, model.RelEpAffectedBy) {
			for _, ct := range b.Out(app.ID, model.RelEpTopLevel) {
				out = append(out, ct.ID)
			}
		}
	}
	sort.Strings(out)
	return out
}

func sortedKeys[V any](m map[string]V) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
