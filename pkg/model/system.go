// Package model defines the typed records read from and written to a blueprint graph.
package model

// System roles as reported by the controller.
const (
	RoleLeaf    = "leaf"
	RoleAccess  = "access"
	RoleGeneric = "generic"
	RoleSpine   = "spine"
)

// System types.
const (
	SystemTypeSwitch = "switch"
	SystemTypeServer = "server"
)

// DeployModeDeploy marks a system for configuration push.
const DeployModeDeploy = "deploy"

// System is a switch or generic (server) node
type System struct {
	ID         string  `json:"id"`
	Label      string  `json:"label"`
	Role       string  `json:"role,omitempty"`
	SystemType string  `json:"system_type,omitempty"`
	Hostname   string  `json:"hostname,omitempty"`
	SerialID   *string `json:"system_id,omitempty"` // device serial bound to the node, nil when unassigned
	DeployMode *string `json:"deploy_mode,omitempty"`
}

// IsGeneric reports whether the system is a generic (server) node
func (s *System) IsGeneric() bool {
	return s.Role == RoleGeneric || s.SystemType == SystemTypeServer
}

// Serial returns the assigned device serial and whether one is assigned
func (s *System) Serial() (string, bool) {
	if s.SerialID == nil || *s.SerialID == "" {
		return "", false
	}
	return *s.SerialID, true
}

// RedundancyGroup groups exactly two systems (an MLAG/ESI pair)
type RedundancyGroup struct {
	ID     string `json:"id"`
	Label  string `json:"label,omitempty"`
	RGType string `json:"rg_type,omitempty"`
}

// InterfaceMap ties a system to its device profile
type InterfaceMap struct {
	ID              string `json:"id"`
	Label           string `json:"label,omitempty"`
	DeviceProfileID string `json:"device_profile_id"`
}
