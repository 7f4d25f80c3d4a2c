package apstra

import (
	"encoding/json"
	"fmt"
)

// BlueprintSummary is one entry of the blueprint list
type BlueprintSummary struct {
	ID    string `json:"id"`
	Label string `json:"label"`
}

// BatchOperation is one request inside a batch envelope. Path is relative to
// the blueprint.
type BatchOperation struct {
	Path    string `json:"path"`
	Method  string `json:"method"`
	Payload any    `json:"payload"`
}

// BatchRequest is the batch envelope; it is submitted as one HTTP call.
type BatchRequest struct {
	Operations []BatchOperation `json:"operations"`
}

// Batch operation paths.
const (
	PathPolicyBatchApply        = "/obj-policy-batch-apply"
	PathDeleteSwitchSystemLinks = "/delete-switch-system-links"
)

// PolicyRef attaches (Used) or detaches a policy on an application point
type PolicyRef struct {
	Policy string `json:"policy"`
	Used   bool   `json:"used"`
}

// ApplicationPoint is an interface or aggregate a policy is applied to
type ApplicationPoint struct {
	ID       string      `json:"id"`
	Policies []PolicyRef `json:"policies"`
}

// PolicyApplyPayload is the body of obj-policy-batch-apply
type PolicyApplyPayload struct {
	ApplicationPoints []ApplicationPoint `json:"application_points"`
}

// NewPolicyApply builds a single-application-point payload
func NewPolicyApply(apID string, policyIDs []string, used bool) *PolicyApplyPayload {
	refs := make([]PolicyRef, len(policyIDs))
	for i, id := range policyIDs {
		refs[i] = PolicyRef{Policy: id, Used: used}
	}
	return &PolicyApplyPayload{ApplicationPoints: []ApplicationPoint{{ID: apID, Policies: refs}}}
}

// DeleteLinksPayload is the body of delete-switch-system-links
type DeleteLinksPayload struct {
	LinkIDs []string `json:"link_ids"`
}

// TaggingPayload adds or removes tags on nodes
type TaggingPayload struct {
	Add           []string `json:"add"`
	Remove        []string `json:"remove"`
	Tags          []string `json:"tags"`
	Nodes         []string `json:"nodes"`
	AssignedToAll []string `json:"assigned_to_all"`
}

// NewTagging builds a payload adding tags to nodes
func NewTagging(nodes, add []string) *TaggingPayload {
	return &TaggingPayload{
		Add:           add,
		Remove:        []string{},
		Tags:          []string{},
		Nodes:         nodes,
		AssignedToAll: []string{},
	}
}

// LinkEnd is one side of a switch-system link request
type LinkEnd struct {
	SystemID         *string `json:"system_id"`
	TransformationID int     `json:"transformation_id,omitempty"`
	IfName           string  `json:"if_name,omitempty"`
}

// SwitchSystemLink is one link to create
type SwitchSystemLink struct {
	LagMode    *string  `json:"lag_mode"`
	GroupLabel string   `json:"group_label,omitempty"`
	SystemPeer string   `json:"system_peer,omitempty"`
	Switch     LinkEnd  `json:"switch"`
	System     LinkEnd  `json:"system"`
	Tags       []string `json:"tags,omitempty"`
}

// PortSpeed is a speed as the controller encodes it
type PortSpeed struct {
	Unit  string `json:"unit"`
	Value int    `json:"value"`
}

// PortGroup is a group of identical ports on a logical device panel
type PortGroup struct {
	Count int       `json:"count"`
	Speed PortSpeed `json:"speed"`
	Roles []string  `json:"roles"`
}

// PanelLayout sets the panel's rows and columns
type PanelLayout struct {
	RowCount    int `json:"row_count"`
	ColumnCount int `json:"column_count"`
}

// PortIndexing sets how panel ports are numbered
type PortIndexing struct {
	Order      string `json:"order"`
	StartIndex int    `json:"start_index"`
	Schema     string `json:"schema"`
}

// Panel is one logical device panel
type Panel struct {
	PanelLayout  PanelLayout  `json:"panel_layout"`
	PortIndexing PortIndexing `json:"port_indexing"`
	PortGroups   []PortGroup  `json:"port_groups"`
}

// LogicalDevice is an inline logical device for a new generic system
type LogicalDevice struct {
	ID          string  `json:"id"`
	DisplayName string  `json:"display_name"`
	Panels      []Panel `json:"panels"`
}

// NewSystem describes a generic system created together with its links
type NewSystem struct {
	SystemType       string         `json:"system_type,omitempty"`
	Label            string         `json:"label"`
	Hostname         string         `json:"hostname,omitempty"`
	PortChannelIDMin int            `json:"port_channel_id_min"`
	PortChannelIDMax int            `json:"port_channel_id_max"`
	LogicalDevice    *LogicalDevice `json:"logical_device,omitempty"`
}

// SwitchSystemLinksSpec is the body of switch-system-links. New systems are
// kept raw because the access switch pair template carries more fields than
// NewSystem models.
type SwitchSystemLinksSpec struct {
	Links      []SwitchSystemLink `json:"links"`
	NewSystems []json.RawMessage  `json:"new_systems"`
}

// AddNewSystem appends a typed new system
func (s *SwitchSystemLinksSpec) AddNewSystem(sys *NewSystem) error {
	raw, err := json.Marshal(sys)
	if err != nil {
		return err
	}
	s.NewSystems = append(s.NewSystems, raw)
	return nil
}

// NewSystemLabel returns the label of the first new system
func (s *SwitchSystemLinksSpec) NewSystemLabel() string {
	if len(s.NewSystems) == 0 {
		return ""
	}
	var head struct {
		Label string `json:"label"`
	}
	if err := json.Unmarshal(s.NewSystems[0], &head); err != nil {
		return ""
	}
	return head.Label
}

// LinkLabel sets LAG grouping on one link
type LinkLabel struct {
	GroupLabel string `json:"group_label"`
	LagMode    string `json:"lag_mode"`
}

// LinkLabelsSpec is the body of leaf-server-link-labels, keyed by link id
type LinkLabelsSpec struct {
	Links map[string]LinkLabel `json:"links"`
}

// BoundTo is one leaf (or leaf pair) binding of a virtual network
type BoundTo struct {
	SystemID            string   `json:"system_id"`
	AccessSwitchNodeIDs []string `json:"access_switch_node_ids"`
	VlanID              *int     `json:"vlan_id,omitempty"`
}

// HasAccessSwitch reports whether id is already bound
func (b *BoundTo) HasAccessSwitch(id string) bool {
	for _, a := range b.AccessSwitchNodeIDs {
		if a == id {
			return true
		}
	}
	return false
}

// VirtualNetworkSpec is the full virtual network object. Fields not modeled are
// carried through unchanged so a PATCH does not drop them; endpoints are
// never sent back because the controller rejects them without labels.
type VirtualNetworkSpec struct {
	ID             string          `json:"id"`
	Label          string          `json:"label"`
	VNType         string          `json:"vn_type,omitempty"`
	VNID           string          `json:"vn_id,omitempty"`
	BoundTo        []BoundTo       `json:"bound_to"`
	SviIPs         json.RawMessage `json:"svi_ips,omitempty"`
	SecurityZoneID string          `json:"security_zone_id,omitempty"`
	VniIDs         json.RawMessage `json:"vni_ids,omitempty"`
	RouteTarget    string          `json:"route_target,omitempty"`

	extra map[string]json.RawMessage
}

var vnKnownFields = map[string]bool{
	"id": true, "label": true, "vn_type": true, "vn_id": true, "bound_to": true,
	"svi_ips": true, "security_zone_id": true, "vni_ids": true, "route_target": true,
	"endpoints": true,
}

type vnAlias VirtualNetworkSpec

// UnmarshalJSON keeps unknown fields for the round trip
func (v *VirtualNetworkSpec) UnmarshalJSON(data []byte) error {
	var a vnAlias
	if err := json.Unmarshal(data, &a); err != nil {
		return err
	}
	var all map[string]json.RawMessage
	if err := json.Unmarshal(data, &all); err != nil {
		return err
	}
	*v = VirtualNetworkSpec(a)
	for k, raw := range all {
		if vnKnownFields[k] {
			continue
		}
		if v.extra == nil {
			v.extra = map[string]json.RawMessage{}
		}
		v.extra[k] = raw
	}
	return nil
}

// MarshalJSON merges the carried fields back in
func (v VirtualNetworkSpec) MarshalJSON() ([]byte, error) {
	known, err := json.Marshal(vnAlias(v))
	if err != nil {
		return nil, err
	}
	if len(v.extra) == 0 {
		return known, nil
	}
	out := map[string]json.RawMessage{}
	if err := json.Unmarshal(known, &out); err != nil {
		return nil, err
	}
	for k, raw := range v.extra {
		if _, ok := out[k]; !ok {
			out[k] = raw
		}
	}
	return json.Marshal(out)
}

// BindingFor returns the bound_to entry for a leaf (pair) id
func (v *VirtualNetworkSpec) BindingFor(systemID string) (*BoundTo, bool) {
	for i := range v.BoundTo {
		if v.BoundTo[i].SystemID == systemID {
			return &v.BoundTo[i], true
		}
	}
	return nil, false
}

// DeviceProfileInterface is one interface a port transformation exposes
type DeviceProfileInterface struct {
	Name  string    `json:"name"`
	Speed PortSpeed `json:"speed"`
}

// Transformation is one breakout/speed variant of a port
type Transformation struct {
	TransformationID int                      `json:"transformation_id"`
	IsDefault        bool                     `json:"is_default"`
	Interfaces       []DeviceProfileInterface `json:"interfaces"`
}

// DeviceProfilePort is a physical port and its transformations
type DeviceProfilePort struct {
	PortID          int              `json:"port_id"`
	Transformations []Transformation `json:"transformations"`
}

// DeviceProfile is the hardware description used to resolve transformation ids
type DeviceProfile struct {
	ID    string              `json:"id"`
	Label string              `json:"label"`
	Ports []DeviceProfilePort `json:"ports"`
}

// TransformationFor returns the transformation id exposing ifName at speed
func (d *DeviceProfile) TransformationFor(ifName string, speed PortSpeed) (int, bool) {
	for _, p := range d.Ports {
		for _, t := range p.Transformations {
			for _, i := range t.Interfaces {
				if i.Name == ifName && i.Speed == speed {
					return t.TransformationID, true
				}
			}
		}
	}
	return 0, false
}

// SingleVLANCT describes a connectivity template attaching one virtual network
type SingleVLANCT struct {
	ID     string
	Label  string
	VNID   string // virtual network node id
	Tagged bool
}

func (c *SingleVLANCT) tagType() string {
	if c.Tagged {
		return "vlan_tagged"
	}
	return "untagged"
}

// policyImport renders the obj-policy-import body: a batch policy wrapping
// a pipeline whose first subpolicy is AttachSingleVLAN.
func (c *SingleVLANCT) policyImport(newID func() string) map[string]any {
	pipeline := newID()
	attach := newID()
	return map[string]any{
		"policies": []map[string]any{
			{
				"id":               c.ID,
				"label":            c.Label,
				"description":      "",
				"policy_type_name": "batch",
				"visible":          true,
				"tags":             []string{},
				"attributes":       map[string]any{"subpolicies": []string{pipeline}},
			},
			{
				"id":               pipeline,
				"label":            fmt.Sprintf("%s (pipeline)", c.Label),
				"policy_type_name": "pipeline",
				"visible":          false,
				"attributes":       map[string]any{"first_subpolicy": attach, "second_subpolicy": nil},
			},
			{
				"id":               attach,
				"label":            fmt.Sprintf("%s (single vlan)", c.Label),
				"policy_type_name": "AttachSingleVLAN",
				"visible":          false,
				"attributes":       map[string]any{"vn_node_id": c.VNID, "tag_type": c.tagType()},
			},
		},
	}
}
