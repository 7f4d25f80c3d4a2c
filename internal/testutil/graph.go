// Package testutil provides an in-memory controller for unit tests: one
// graph per blueprint, a query evaluator for qe.Query and the mutation
// endpoints the consolidation calls.
package testutil

import (
	"fmt"
	"sort"
)

// Node is a graph vertex. Attrs always carries "id" and "type".
type Node struct {
	ID    string
	Type  string
	Attrs map[string]any
}

// Get returns an attribute
func (n *Node) Get(key string) any { return n.Attrs[key] }

// Str returns a string attribute or ""
func (n *Node) Str(key string) string {
	if s, ok := n.Attrs[key].(string); ok {
		return s
	}
	return ""
}

// Edge is a directed, typed relationship
type Edge struct {
	Type string
	Src  string
	Dst  string
}

// Graph is a small property graph with deterministic iteration order
type Graph struct {
	nodes map[string]*Node
	order []string
	edges []*Edge
	seq   map[string]int
}

// NewGraph returns an empty graph
func NewGraph() *Graph {
	return &Graph{nodes: map[string]*Node{}, seq: map[string]int{}}
}

// NextID returns prefix-NNN, unique within the graph
func (g *Graph) NextID(prefix string) string {
	for {
		g.seq[prefix]++
		id := fmt.Sprintf("%s-%03d", prefix, g.seq[prefix])
		if _, taken := g.nodes[id]; !taken {
			return id
		}
	}
}

// AddNode adds a node; an empty id is generated from the type
func (g *Graph) AddNode(typ, id string, attrs map[string]any) *Node {
	if id == "" {
		id = g.NextID(typ)
	}
	a := map[string]any{}
	for k, v := range attrs {
		a[k] = v
	}
	a["id"] = id
	a["type"] = typ
	n := &Node{ID: id, Type: typ, Attrs: a}
	if _, exists := g.nodes[id]; !exists {
		g.order = append(g.order, id)
	}
	g.nodes[id] = n
	return n
}

// Node returns a node by id
func (g *Graph) Node(id string) (*Node, bool) {
	n, ok := g.nodes[id]
	return n, ok
}

// Nodes returns every node in insertion order
func (g *Graph) Nodes() []*Node {
	out := make([]*Node, 0, len(g.nodes))
	for _, id := range g.order {
		if n, ok := g.nodes[id]; ok {
			out = append(out, n)
		}
	}
	return out
}

// NodesOfType returns nodes of typ in insertion order
func (g *Graph) NodesOfType(typ string) []*Node {
	var out []*Node
	for _, n := range g.Nodes() {
		if n.Type == typ {
			out = append(out, n)
		}
	}
	return out
}

// Find returns the first node of typ whose attribute key equals value
func (g *Graph) Find(typ, key string, value any) (*Node, bool) {
	for _, n := range g.NodesOfType(typ) {
		if sameValue(n.Attrs[key], value) {
			return n, true
		}
	}
	return nil, false
}

// Set updates attributes of a node
func (g *Graph) Set(id string, attrs map[string]any) error {
	n, ok := g.nodes[id]
	if !ok {
		return fmt.Errorf("node %s not found", id)
	}
	for k, v := range attrs {
		if k == "id" || k == "type" {
			continue
		}
		n.Attrs[k] = v
	}
	return nil
}

// AddEdge adds src -rel-> dst unless it already exists
func (g *Graph) AddEdge(src, rel, dst string) {
	if g.HasEdge(src, rel, dst) {
		return
	}
	g.edges = append(g.edges, &Edge{Type: rel, Src: src, Dst: dst})
}

// HasEdge reports whether src -rel-> dst exists
func (g *Graph) HasEdge(src, rel, dst string) bool {
	for _, e := range g.edges {
		if e.Src == src && e.Dst == dst && e.Type == rel {
			return true
		}
	}
	return false
}

// RemoveNode deletes a node and its edges
func (g *Graph) RemoveNode(id string) {
	if _, ok := g.nodes[id]; !ok {
		return
	}
	delete(g.nodes, id)
	for i, o := range g.order {
		if o == id {
			g.order = append(g.order[:i], g.order[i+1:]...)
			break
		}
	}
	kept := g.edges[:0]
	for _, e := range g.edges {
		if e.Src != id && e.Dst != id {
			kept = append(kept, e)
		}
	}
	g.edges = kept
}

// Out returns the targets of id's outgoing rel edges ("" for any)
func (g *Graph) Out(id, rel string) []*Node {
	var out []*Node
	for _, e := range g.edges {
		if e.Src == id && (rel == "" || e.Type == rel) {
			if n, ok := g.nodes[e.Dst]; ok {
				out = append(out, n)
			}
		}
	}
	return out
}

// In returns the sources of id's incoming rel edges ("" for any)
func (g *Graph) In(id, rel string) []*Node {
	var out []*Node
	for _, e := range g.edges {
		if e.Dst == id && (rel == "" || e.Type == rel) {
			if n, ok := g.nodes[e.Src]; ok {
				out = append(out, n)
			}
		}
	}
	return out
}

// CountType returns the number of nodes of typ
func (g *Graph) CountType(typ string) int {
	return len(g.NodesOfType(typ))
}

// Labels returns the sorted labels of nodes of typ
func (g *Graph) Labels(typ string) []string {
	var out []string
	for _, n := range g.NodesOfType(typ) {
		out = append(out, n.Str("label"))
	}
	sort.Strings(out)
	return out
}

func sameValue(a, b any) bool {
	if a == nil || b == nil {
		return a == nil && b == nil
	}
	return fmt.Sprint(a) == fmt.Sprint(b)
}
