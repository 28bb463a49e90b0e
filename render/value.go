// Package render renders sandboxed templates against query bindings.
// Templates run with a fixed allow-list of pure formatting functions, an
// output-size ceiling, and a wall-clock timeout; identical inputs always
// render identical bytes.
package render

import (
	"fmt"
	"sort"

	"github.com/c360studio/semgen/ontology"
	"github.com/c360studio/semgen/query"
	"github.com/c360studio/semgen/semerr"
)

// ValueKind tags the variant of a context value.
type ValueKind int

const (
	// KindString is a text value.
	KindString ValueKind = iota
	// KindNumber is a float64 value.
	KindNumber
	// KindBool is a boolean value.
	KindBool
	// KindList is an ordered sequence of values.
	KindList
	// KindMap is a string-keyed mapping of values.
	KindMap
)

// Value is a tagged-variant context value. Template contexts and query
// bindings are converted to Values at the sandbox boundary so only
// plain data crosses into template execution.
type Value struct {
	Kind   ValueKind
	Str    string
	Num    float64
	Bool   bool
	List   []Value
	Fields map[string]Value
}

// String returns a string Value.
func String(s string) Value { return Value{Kind: KindString, Str: s} }

// Number returns a numeric Value.
func Number(n float64) Value { return Value{Kind: KindNumber, Num: n} }

// Bool returns a boolean Value.
func Bool(b bool) Value { return Value{Kind: KindBool, Bool: b} }

// List returns a list Value.
func List(items ...Value) Value { return Value{Kind: KindList, List: items} }

// Map returns a map Value.
func Map(fields map[string]Value) Value { return Value{Kind: KindMap, Fields: fields} }

// FromAny converts loosely typed data (as produced by YAML or JSON
// decoding) into a Value, rejecting anything outside the permitted
// variants. This is the sandbox boundary check for dynamic context data.
func FromAny(v any) (Value, error) {
	switch x := v.(type) {
	case nil:
		return String(""), nil
	case string:
		return String(x), nil
	case bool:
		return Bool(x), nil
	case int:
		return Number(float64(x)), nil
	case int64:
		return Number(float64(x)), nil
	case float64:
		return Number(x), nil
	case []any:
		items := make([]Value, 0, len(x))
		for i, item := range x {
			val, err := FromAny(item)
			if err != nil {
				return Value{}, fmt.Errorf("list index %d: %w", i, err)
			}
			items = append(items, val)
		}
		return List(items...), nil
	case map[string]any:
		fields := make(map[string]Value, len(x))
		for k, item := range x {
			val, err := FromAny(item)
			if err != nil {
				return Value{}, fmt.Errorf("key %q: %w", k, err)
			}
			fields[k] = val
		}
		return Map(fields), nil
	default:
		return Value{}, semerr.New(semerr.KindSecurity, "TEMPLATE_CONTEXT",
			"unsupported context value type %T", v)
	}
}

// FromTerm converts an RDF term to a context value: IRIs and plain
// literals become strings, typed numeric and boolean literals keep
// their type.
func FromTerm(t ontology.Term) Value {
	if t.IsLiteral() {
		switch t.Datatype {
		case ontology.XSDNamespace + "integer", ontology.XSDNamespace + "decimal",
			ontology.XSDNamespace + "double", ontology.XSDNamespace + "float":
			var n float64
			if _, err := fmt.Sscanf(t.Value, "%g", &n); err == nil {
				return Number(n)
			}
		case ontology.XSDNamespace + "boolean":
			return Bool(t.Value == "true")
		}
	}
	return String(t.Value)
}

// FromBindings builds the template context for a generation rule: the
// "rows" key holds one map per solution, and "count" the solution
// count. Extra manifest-supplied context appears under its own keys but
// cannot shadow the binding keys.
func FromBindings(bs *query.BindingSet, extra map[string]Value) Value {
	rows := make([]Value, 0, bs.Len())
	for _, sol := range bs.Solutions {
		fields := make(map[string]Value, len(sol))
		for name, term := range sol {
			fields[name] = FromTerm(term)
		}
		rows = append(rows, Map(fields))
	}

	top := make(map[string]Value, len(extra)+2)
	for k, v := range extra {
		top[k] = v
	}
	top["rows"] = List(rows...)
	top["count"] = Number(float64(bs.Len()))
	return Map(top)
}

// plain lowers a Value tree to the plain Go representation handed to
// template execution. Map keys iterate deterministically because
// text/template sorts map keys; the conversion itself preserves order
// for lists.
func (v Value) plain() any {
	switch v.Kind {
	case KindString:
		return v.Str
	case KindNumber:
		// Render whole numbers without a decimal point.
		if v.Num == float64(int64(v.Num)) {
			return int64(v.Num)
		}
		return v.Num
	case KindBool:
		return v.Bool
	case KindList:
		items := make([]any, len(v.List))
		for i, item := range v.List {
			items[i] = item.plain()
		}
		return items
	case KindMap:
		fields := make(map[string]any, len(v.Fields))
		for _, k := range v.sortedKeys() {
			fields[k] = v.Fields[k].plain()
		}
		return fields
	default:
		return nil
	}
}

func (v Value) sortedKeys() []string {
	keys := make([]string, 0, len(v.Fields))
	for k := range v.Fields {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
