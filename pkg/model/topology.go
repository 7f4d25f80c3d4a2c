package model

import "sort"

// GenericSystemLink is one link of a generic system as seen from the switch
// pair. It is the unit of work for generic-system migration.
type GenericSystemLink struct {
	LinkID        string   `json:"link_id" yaml:"link_id"`
	SwLabel       string   `json:"sw_label" yaml:"sw_label"`
	SwIfName      string   `json:"sw_if_name" yaml:"sw_if_name"`
	GsIfName      string   `json:"gs_if_name,omitempty" yaml:"gs_if_name,omitempty"`
	Speed         string   `json:"speed" yaml:"speed"`
	AggregateLink string   `json:"aggregate_link,omitempty" yaml:"aggregate_link,omitempty"`
	Tags          []string `json:"tags" yaml:"tags"`
}

// InAggregate reports whether the link is a member of an aggregate
func (l *GenericSystemLink) InAggregate() bool {
	return l.AggregateLink != ""
}

// GenericSystem holds the links of one generic system keyed by link id
type GenericSystem map[string]*GenericSystemLink

// Sorted returns the links ordered by switch label, then switch interface.
// Link ids are not stable across blueprints so they are not used for ordering.
func (g GenericSystem) Sorted() []*GenericSystemLink {
	out := make([]*GenericSystemLink, 0, len(g))
	for _, l := range g {
		out = append(out, l)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].SwLabel != out[j].SwLabel {
			return out[i].SwLabel < out[j].SwLabel
		}
		if out[i].SwIfName != out[j].SwIfName {
			return out[i].SwIfName < out[j].SwIfName
		}
		return out[i].LinkID < out[j].LinkID
	})
	return out
}

// Topology maps generic-system label to its links
type Topology map[string]GenericSystem

// Labels returns the generic-system labels sorted
func (t Topology) Labels() []string {
	labels := make([]string, 0, len(t))
	for l := range t {
		labels = append(labels, l)
	}
	sort.Strings(labels)
	return labels
}

// LinkCount returns the total number of links across all generic systems
func (t Topology) LinkCount() int {
	n := 0
	for _, g := range t {
		n += len(g)
	}
	return n
}
