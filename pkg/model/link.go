package model

import (
	"fmt"
	"strconv"
	"strings"
)

// Interface types.
const (
	IfTypeEthernet    = "ethernet"
	IfTypePortChannel = "port_channel"
)

// POControlEVPN is the po_control_protocol of an ESI aggregate.
const POControlEVPN = "evpn"

// LAGModeActive is the LACP mode applied to migrated aggregates.
const LAGModeActive = "lacp_active"

// ReservedUplinks are the fabric uplink ports of an access switch. They never
// carry generic-system links or connectivity templates.
var ReservedUplinks = []string{"et-0/0/48", "et-0/0/49"}

// IsReservedUplink reports whether ifName is one of the reserved uplink ports
func IsReservedUplink(ifName string) bool {
	for _, u := range ReservedUplinks {
		if ifName == u {
			return true
		}
	}
	return false
}

// Interface belongs to exactly one system
type Interface struct {
	ID                string `json:"id"`
	IfName            string `json:"if_name,omitempty"`
	IfType            string `json:"if_type,omitempty"`
	POControlProtocol string `json:"po_control_protocol,omitempty"`
}

// IsAggregate reports whether the interface is a port-channel
func (i *Interface) IsAggregate() bool {
	return i.IfType == IfTypePortChannel
}

// Link connects two interfaces on two different systems
type Link struct {
	ID         string `json:"id"`
	Label      string `json:"label,omitempty"`
	Speed      string `json:"speed,omitempty"`
	LinkType   string `json:"link_type,omitempty"`
	GroupLabel string `json:"group_label,omitempty"`
	Role       string `json:"role,omitempty"`
}

// Tag is a label attachable to a link
type Tag struct {
	ID    string `json:"id"`
	Label string `json:"label"`
}

// Speed is a link speed such as "10G" split into value and unit
type Speed struct {
	Value int    `json:"value"`
	Unit  string `json:"unit"`
}

// ParseSpeed parses "10G", "100G" or "1000M"
func ParseSpeed(s string) (Speed, error) {
	s = strings.TrimSpace(s)
	if len(s) < 2 {
		return Speed{}, fmt.Errorf("invalid speed %q", s)
	}
	unit := s[len(s)-1:]
	if unit != "G" && unit != "M" && unit != "T" {
		return Speed{}, fmt.Errorf("invalid speed unit in %q", s)
	}
	v, err := strconv.Atoi(s[:len(s)-1])
	if err != nil || v <= 0 {
		return Speed{}, fmt.Errorf("invalid speed value in %q", s)
	}
	return Speed{Value: v, Unit: unit}, nil
}

func (s Speed) String() string {
	return strconv.Itoa(s.Value) + s.Unit
}

// Equal compares value and unit
func (s Speed) Equal(o Speed) bool {
	return s.Value == o.Value && s.Unit == o.Unit
}
