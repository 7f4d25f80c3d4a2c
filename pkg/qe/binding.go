package qe

import (
	"encoding/json"
	"fmt"
	"reflect"

	"github.com/mitchellh/mapstructure"
)

// Binding is one result row: binding name to node attributes. Names bound
// inside an optional() branch that did not match map to nil.
type Binding map[string]map[string]any

// Has reports whether name is bound to a node in this row
func (b Binding) Has(name string) bool {
	return b[name] != nil
}

// ID returns the id of the node bound to name, or "".
func (b Binding) ID(name string) string {
	return b.String(name, "id")
}

// Attr returns a raw attribute of the node bound to name
func (b Binding) Attr(name, key string) (any, bool) {
	node := b[name]
	if node == nil {
		return nil, false
	}
	v, ok := node[key]
	return v, ok
}

// String returns a string attribute, or "" when absent or null
func (b Binding) String(name, key string) string {
	v, ok := b.Attr(name, key)
	if !ok || v == nil {
		return ""
	}
	if s, ok := v.(string); ok {
		return s
	}
	return fmt.Sprint(v)
}

// Decode decodes the node bound to name into out, a pointer to a record.
// found is false when name is unbound (for example an unmatched optional branch).
func (b Binding) Decode(name string, out any) (found bool, err error) {
	node := b[name]
	if node == nil {
		return false, nil
	}
	dec, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{
		TagName:          "json",
		WeaklyTypedInput: true,
		DecodeHook:       structuredToString,
		Result:           out,
	})
	if err != nil {
		return false, err
	}
	if err := dec.Decode(node); err != nil {
		return true, fmt.Errorf("decoding %s: %w", name, err)
	}
	return true, nil
}

// structuredToString renders object attributes as JSON when the record field
// is a string. Policy attributes arrive either way depending on the release.
func structuredToString(from, to reflect.Type, data any) (any, error) {
	if to.Kind() != reflect.String {
		return data, nil
	}
	switch from.Kind() {
	case reflect.Map, reflect.Slice:
		raw, err := json.Marshal(data)
		if err != nil {
			return nil, err
		}
		return string(raw), nil
	}
	return data, nil
}

// Result is the outcome of running a query.
type Result []Binding

// First returns the first row and whether there was one
func (r Result) First() (Binding, bool) {
	if len(r) == 0 {
		return nil, false
	}
	return r[0], true
}

// IDs returns the distinct ids bound to name, in row order
func (r Result) IDs(name string) []string {
	seen := map[string]bool{}
	var ids []string
	for _, row := range r {
		id := row.ID(name)
		if id == "" || seen[id] {
			continue
		}
		seen[id] = true
		ids = append(ids, id)
	}
	return ids
}
