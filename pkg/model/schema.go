package model

// Graph node types.
const (
	NodeSystem          = "system"
	NodeInterface       = "interface"
	NodeLink            = "link"
	NodeTag             = "tag"
	NodeRedundancyGroup = "redundancy_group"
	NodeVirtualNetwork  = "virtual_network"
	NodeVNInstance      = "vn_instance"
	NodeInterfaceMap    = "interface_map"
	NodeEndpointPolicy  = "ep_endpoint_policy"
	NodeAppInstance     = "ep_application_instance"
	NodeEndpointGroup   = "ep_group"
)

// Graph relationship types.
const (
	RelHostedInterfaces  = "hosted_interfaces"
	RelLink              = "link"
	RelComposedOf        = "composed_of"
	RelPartOfRG          = "part_of_redundancy_group"
	RelHostedVNInstances = "hosted_vn_instances"
	RelInstantiatedBy    = "instantiated_by"
	RelTag               = "tag"
	RelInterfaceMap      = "interface_map"
	RelEpSubpolicy       = "ep_subpolicy"
	RelEpFirstSubpolicy  = "ep_first_subpolicy"
	RelVNToAttach        = "vn_to_attach"
	RelEpTopLevel        = "ep_top_level"
	RelEpAffectedBy      = "ep_affected_by"
	RelEpMemberOf        = "ep_member_of"
	RelEpNested          = "ep_nested"
)
