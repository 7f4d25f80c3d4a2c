package model

import (
	"fmt"
	"strconv"
	"strings"
)

// VNIBase is added to a VLAN id to form the conventional VNI.
const VNIBase = 100000

// Endpoint policy type names.
const (
	PolicyTypeBatch            = "batch"
	PolicyTypeAttachSingleVLAN = "AttachSingleVLAN"
)

// VNIForVLAN returns the conventional VNI of a VLAN
func VNIForVLAN(vlan int) int {
	return VNIBase + vlan
}

// VLANForVNI returns the VLAN id encoded in a conventional VNI
func VLANForVNI(vni int) int {
	return vni - VNIBase
}

// VirtualNetwork is the fabric VLAN abstraction. The controller reports vn_id
// as a string.
type VirtualNetwork struct {
	ID     string `json:"id"`
	Label  string `json:"label,omitempty"`
	VNID   string `json:"vn_id"`
	VNType string `json:"vn_type,omitempty"`
}

// VNI returns the numeric VNI
func (v *VirtualNetwork) VNI() (int, error) {
	n, err := strconv.Atoi(strings.TrimSpace(v.VNID))
	if err != nil {
		return 0, fmt.Errorf("virtual network %s: invalid vn_id %q", v.ID, v.VNID)
	}
	return n, nil
}

// VNInstance is a per-system instantiation of a virtual network
type VNInstance struct {
	ID     string `json:"id"`
	VLANID int    `json:"vlan_id,omitempty"`
}

// EndpointPolicy is a connectivity template node: the top-level "batch"
// policy or one of its AttachSingleVLAN primitives.
type EndpointPolicy struct {
	ID             string `json:"id"`
	Label          string `json:"label,omitempty"`
	PolicyTypeName string `json:"policy_type_name"`
	Attributes     string `json:"attributes,omitempty"`
}

// Tagged reports whether an AttachSingleVLAN policy attaches its VLAN tagged
func (p *EndpointPolicy) Tagged() bool {
	return strings.Contains(p.Attributes, "vlan_tagged")
}
