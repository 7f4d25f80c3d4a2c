package testutil

import (
	"github.com/kimcharli/apstra-bp-consolidate/pkg/qe"
)

// row maps binding names to node ids; "" marks a name bound to null by an
// unmatched optional branch.
type row map[string]string

func (r row) clone() row {
	c := make(row, len(r))
	for k, v := range r {
		c[k] = v
	}
	return c
}

// Eval runs q against g the way the controller's query engine does:
// match() terms are joined on shared names, optional() terms bind null when
// they do not match, where() drops rows binding equal nodes, distinct()
// projects and deduplicates.
func (g *Graph) Eval(q *qe.Query) qe.Result {
	rows := []row{{}}
	for _, term := range q.Terms() {
		var next []row
		for _, r := range rows {
			ext := g.walk(term.Path.Steps(), r)
			if len(ext) == 0 && term.Optional {
				nr := r.clone()
				for _, s := range term.Path.Steps() {
					if n := s.BindingName(); n != "" {
						if _, bound := nr[n]; !bound {
							nr[n] = ""
						}
					}
				}
				next = append(next, nr)
				continue
			}
			next = append(next, ext...)
		}
		rows = next
	}

	for _, w := range q.Wheres() {
		kept := rows[:0]
		for _, r := range rows {
			a, b := r[w.A], r[w.B]
			if a == "" || b == "" || a != b {
				kept = append(kept, r)
			}
		}
		rows = kept
	}

	names := q.Names()
	if d := q.DistinctNames(); len(d) > 0 {
		names = d
		seen := map[string]bool{}
		var uniq []row
		for _, r := range rows {
			key := ""
			for _, n := range d {
				key += r[n] + "\x00"
			}
			if seen[key] {
				continue
			}
			seen[key] = true
			uniq = append(uniq, r)
		}
		rows = uniq
	}

	out := make(qe.Result, 0, len(rows))
	for _, r := range rows {
		b := qe.Binding{}
		for _, n := range names {
			id := r[n]
			node, ok := g.nodes[id]
			if id == "" || !ok {
				b[n] = nil
				continue
			}
			attrs := make(map[string]any, len(node.Attrs))
			for k, v := range node.Attrs {
				attrs[k] = v
			}
			b[n] = attrs
		}
		out = append(out, b)
	}
	return out
}

// walk returns every extension of r that matches the path.
func (g *Graph) walk(steps []qe.Step, r row) []row {
	if len(steps) == 0 {
		return []row{r}
	}
	first := steps[0]
	var out []row
	for _, n := range g.candidates(first, r) {
		nr, ok := bind(first, n, r)
		if !ok {
			continue
		}
		out = append(out, g.follow(steps[1:], n, nr)...)
	}
	return out
}

// follow continues a path from node cur. Steps alternate edge, node.
func (g *Graph) follow(steps []qe.Step, cur *Node, r row) []row {
	if len(steps) == 0 {
		return []row{r}
	}
	if len(steps) < 2 {
		return nil
	}
	edge, node := steps[0], steps[1]
	var nexts []*Node
	switch edge.Kind {
	case qe.StepOut:
		nexts = g.Out(cur.ID, edge.Rel)
	case qe.StepIn:
		nexts = g.In(cur.ID, edge.Rel)
	default:
		return nil
	}
	var out []row
	for _, n := range nexts {
		if !g.matches(node, n) {
			continue
		}
		nr, ok := bind(node, n, r)
		if !ok {
			continue
		}
		out = append(out, g.follow(steps[2:], n, nr)...)
	}
	return out
}

// candidates returns the nodes a path may start at.
func (g *Graph) candidates(s qe.Step, r row) []*Node {
	if name := s.BindingName(); name != "" {
		if id, bound := r[name]; bound {
			if n, ok := g.nodes[id]; ok && g.matches(s, n) {
				return []*Node{n}
			}
			return nil
		}
	}
	var out []*Node
	for _, n := range g.Nodes() {
		if g.matches(s, n) {
			out = append(out, n)
		}
	}
	return out
}

func bind(s qe.Step, n *Node, r row) (row, bool) {
	name := s.BindingName()
	if name == "" {
		return r, true
	}
	if id, bound := r[name]; bound {
		return r, id == n.ID
	}
	nr := r.clone()
	nr[name] = n.ID
	return nr, true
}

func (g *Graph) matches(s qe.Step, n *Node) bool {
	if s.Type != "" && s.Type != n.Type {
		return false
	}
	for _, a := range s.Attrs {
		if a.Key == "name" {
			continue
		}
		v, present := n.Attrs[a.Key]
		switch a.Kind {
		case qe.AttrEq:
			want := a.Values[0]
			if want == nil {
				if present && v != nil {
					return false
				}
				continue
			}
			if !present || !sameValue(v, want) {
				return false
			}
		case qe.AttrIn:
			if !present || !containsValue(a.Values, v) {
				return false
			}
		case qe.AttrNotIn:
			if present && containsValue(a.Values, v) {
				return false
			}
		}
	}
	return true
}

func containsValue(values []any, v any) bool {
	for _, x := range values {
		if sameValue(x, v) {
			return true
		}
	}
	return false
}
