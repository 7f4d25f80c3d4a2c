// Package qe builds graph pattern queries for the controller's query engine.
//
// Queries are assembled from typed constructors instead of string formatting,
// so labels taken from a blueprint are always rendered as escaped literals:
//
//	q := qe.From(qe.Node("system", qe.Label(label), qe.Name("system")).
//		Out("hosted_interfaces").
//		Node("interface", qe.Eq("if_type", "port_channel"), qe.Name("ae")))
//
//	q.String() // node('system', label='...', name='system').out('hosted_interfaces').node(...)
package qe

import (
	"fmt"
	"sort"
	"strconv"
	"strings"
)

// AttrKind selects how an attribute constrains a node.
type AttrKind int

const (
	AttrEq AttrKind = iota
	AttrIn
	AttrNotIn
)

// Attr is a single node constraint (or the binding name).
type Attr struct {
	Key    string
	Kind   AttrKind
	Values []any
}

// Eq constrains key to equal value.
func Eq(key string, value any) Attr {
	return Attr{Key: key, Kind: AttrEq, Values: []any{value}}
}

// Name binds the matched node under name in every result row.
func Name(name string) Attr {
	return Eq("name", name)
}

// ID constrains the node id.
func ID(id string) Attr {
	return Eq("id", id)
}

// Label constrains the node label.
func Label(label string) Attr {
	return Eq("label", label)
}

// Type constrains the node type; used when a node() step has no positional type.
func Type(t string) Attr {
	return Eq("type", t)
}

// IsIn constrains key to one of values.
func IsIn[T any](key string, values []T) Attr {
	return Attr{Key: key, Kind: AttrIn, Values: toAny(values)}
}

// NotIn constrains key to none of values.
func NotIn[T any](key string, values []T) Attr {
	return Attr{Key: key, Kind: AttrNotIn, Values: toAny(values)}
}

func toAny[T any](values []T) []any {
	out := make([]any, len(values))
	for i, v := range values {
		out[i] = v
	}
	return out
}

// StepKind identifies a traversal step.
type StepKind int

const (
	StepNode StepKind = iota
	StepOut
	StepIn
)

// Step is one element of a path: a node match or an edge traversal.
type Step struct {
	Kind  StepKind
	Type  string // node type for StepNode
	Rel   string // relationship type for StepOut/StepIn, "" for any
	Attrs []Attr
}

// BindingName returns the name attribute of a node step, or "".
func (s Step) BindingName() string {
	for _, a := range s.Attrs {
		if a.Key == "name" && a.Kind == AttrEq && len(a.Values) == 1 {
			if n, ok := a.Values[0].(string); ok {
				return n
			}
		}
	}
	return ""
}

// Path is a chain of node and edge steps starting with a node.
type Path struct {
	steps []Step
}

// Node starts a path at a node of type t ("" matches any type).
func Node(t string, attrs ...Attr) *Path {
	return &Path{steps: []Step{{Kind: StepNode, Type: t, Attrs: attrs}}}
}

// Out follows an outgoing edge of relationship rel ("" for any).
func (p *Path) Out(rel string) *Path {
	p.steps = append(p.steps, Step{Kind: StepOut, Rel: rel})
	return p
}

// In follows an incoming edge of relationship rel ("" for any).
func (p *Path) In(rel string) *Path {
	p.steps = append(p.steps, Step{Kind: StepIn, Rel: rel})
	return p
}

// Node appends a node match after an edge step.
func (p *Path) Node(t string, attrs ...Attr) *Path {
	p.steps = append(p.steps, Step{Kind: StepNode, Type: t, Attrs: attrs})
	return p
}

// Steps returns the path steps in order.
func (p *Path) Steps() []Step {
	return p.steps
}

func (p *Path) String() string {
	var sb strings.Builder
	for i, s := range p.steps {
		if i > 0 {
			sb.WriteByte('.')
		}
		switch s.Kind {
		case StepNode:
			sb.WriteString("node(")
			args := make([]string, 0, len(s.Attrs)+1)
			if s.Type != "" {
				args = append(args, quote(s.Type))
			}
			for _, a := range s.Attrs {
				args = append(args, a.Key+"="+renderAttr(a))
			}
			sb.WriteString(strings.Join(args, ", "))
			sb.WriteByte(')')
		case StepOut:
			sb.WriteString("out(" + relArg(s.Rel) + ")")
		case StepIn:
			sb.WriteString("in_(" + relArg(s.Rel) + ")")
		}
	}
	return sb.String()
}

// Pattern is anything accepted by Match: a path or an optional path.
type Pattern interface {
	term() Term
}

// Term is a path inside a match() and whether it may be absent.
type Term struct {
	Path     *Path
	Optional bool
}

func (p *Path) term() Term { return Term{Path: p} }

type optional struct{ p *Path }

func (o optional) term() Term { return Term{Path: o.p, Optional: true} }

// Optional wraps a path whose bindings are null when it does not match.
func Optional(p *Path) Pattern {
	return optional{p: p}
}

// Where is an inequality filter between two bound names.
type Where struct {
	A, B string
}

// NotEqual keeps rows where names a and b bind different nodes.
func NotEqual(a, b string) Where {
	return Where{A: a, B: b}
}

// Query is a complete query: one path, or a match() of several.
type Query struct {
	terms    []Term
	match    bool
	wheres   []Where
	distinct []string
}

// From builds a single-path query.
func From(p *Path) *Query {
	return &Query{terms: []Term{{Path: p}}}
}

// Match joins several patterns on their shared binding names.
func Match(patterns ...Pattern) *Query {
	q := &Query{match: true}
	for _, p := range patterns {
		q.terms = append(q.terms, p.term())
	}
	return q
}

// Where adds an inequality filter.
func (q *Query) Where(w Where) *Query {
	q.wheres = append(q.wheres, w)
	return q
}

// Distinct restricts rows to the given names, deduplicated.
func (q *Query) Distinct(names ...string) *Query {
	q.distinct = append(q.distinct, names...)
	return q
}

// Terms returns the query's paths.
func (q *Query) Terms() []Term { return q.terms }

// Wheres returns the inequality filters.
func (q *Query) Wheres() []Where { return q.wheres }

// DistinctNames returns the names passed to Distinct.
func (q *Query) DistinctNames() []string { return q.distinct }

// String renders the query in the controller's pattern language.
func (q *Query) String() string {
	var sb strings.Builder
	if q.match {
		parts := make([]string, len(q.terms))
		for i, t := range q.terms {
			if t.Optional {
				parts[i] = "optional(" + t.Path.String() + ")"
			} else {
				parts[i] = t.Path.String()
			}
		}
		sb.WriteString("match(" + strings.Join(parts, ", ") + ")")
	} else if len(q.terms) > 0 {
		sb.WriteString(q.terms[0].Path.String())
	}
	for _, w := range q.wheres {
		fmt.Fprintf(&sb, ".where(lambda %s, %s: %s != %s)", ident(w.A), ident(w.B), ident(w.A), ident(w.B))
	}
	if len(q.distinct) > 0 {
		names := make([]string, len(q.distinct))
		for i, n := range q.distinct {
			names[i] = quote(n)
		}
		sb.WriteString(".distinct([" + strings.Join(names, ", ") + "])")
	}
	return sb.String()
}

// Names returns every binding name the query produces, sorted.
func (q *Query) Names() []string {
	seen := map[string]bool{}
	for _, t := range q.terms {
		for _, s := range t.Path.steps {
			if n := s.BindingName(); n != "" {
				seen[n] = true
			}
		}
	}
	names := make([]string, 0, len(seen))
	for n := range seen {
		names = append(names, n)
	}
	sort.Strings(names)
	return names
}

func relArg(rel string) string {
	if rel == "" {
		return ""
	}
	return quote(rel)
}

func renderAttr(a Attr) string {
	switch a.Kind {
	case AttrIn:
		return "is_in(" + renderList(a.Values) + ")"
	case AttrNotIn:
		return "not_in(" + renderList(a.Values) + ")"
	}
	if len(a.Values) == 0 {
		return "None"
	}
	return renderValue(a.Values[0])
}

func renderList(values []any) string {
	parts := make([]string, len(values))
	for i, v := range values {
		parts[i] = renderValue(v)
	}
	return "[" + strings.Join(parts, ", ") + "]"
}

func renderValue(v any) string {
	switch x := v.(type) {
	case nil:
		return "None"
	case string:
		return quote(x)
	case bool:
		if x {
			return "True"
		}
		return "False"
	case int:
		return strconv.Itoa(x)
	case int64:
		return strconv.FormatInt(x, 10)
	case float64:
		return strconv.FormatFloat(x, 'f', -1, 64)
	default:
		return quote(fmt.Sprint(x))
	}
}

// quote renders s as a single-quoted literal with backslashes and quotes escaped.
func quote(s string) string {
	r := strings.NewReplacer(`\`, `\\`, `'`, `\'`, "\n", `\n`, "\r", `\r`)
	return "'" + r.Replace(s) + "'"
}

// ident keeps only identifier characters; lambda parameters cannot be quoted.
func ident(s string) string {
	var sb strings.Builder
	for _, c := range s {
		if c == '_' || (c >= 'a' && c <= 'z') || (c >= 'A' && c <= 'Z') || (c >= '0' && c <= '9') {
			sb.WriteRune(c)
		}
	}
	return sb.String()
}
