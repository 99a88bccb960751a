package object

import (
	"fmt"
	"sort"

	"github.com/tangramdotdev/tangram/pkg/tgerror"
)

// ValueKind tags the variant of a Value.
type ValueKind int

const (
	ValueKindNull ValueKind = iota
	ValueKindBool
	ValueKindNumber
	ValueKindString
	ValueKindArray
	ValueKindMap
	ValueKindBytes
	ValueKindObject
	ValueKindMutation
	ValueKindTemplate
	ValueKindPlaceholder
)

// Value is tangram's recursive data value: the payload carried by
// command arguments/environment, file/directory contents references,
// and template components. Exactly one of the typed fields is
// meaningful, selected by Kind.
type Value struct {
	Kind ValueKind

	Bool        bool
	Number      float64
	Str         string
	Array       []Value
	Map         map[string]Value
	Bytes       []byte
	Object      ID
	Mutation    *Mutation
	Template    *Template
	Placeholder string // ValueKindPlaceholder: the name being substituted
}

func Null() Value                   { return Value{Kind: ValueKindNull} }
func Bool(b bool) Value             { return Value{Kind: ValueKindBool, Bool: b} }
func Number(n float64) Value        { return Value{Kind: ValueKindNumber, Number: n} }
func String(s string) Value         { return Value{Kind: ValueKindString, Str: s} }
func Array(v ...Value) Value        { return Value{Kind: ValueKindArray, Array: v} }
func Map(m map[string]Value) Value  { return Value{Kind: ValueKindMap, Map: m} }
func Bytes(b []byte) Value          { return Value{Kind: ValueKindBytes, Bytes: b} }
func Object(id ID) Value            { return Value{Kind: ValueKindObject, Object: id} }
func Placeholder(name string) Value { return Value{Kind: ValueKindPlaceholder, Placeholder: name} }

// Template is an ordered sequence of components, interleaving literal
// string spans, artifact references, and placeholders (unresolved
// names like "output" substituted by the caller at render time), used
// to build argv entries and environment variable values that embed
// build outputs.
type Template struct {
	Components []Value // each is ValueKindString, ValueKindObject, or ValueKindPlaceholder
}

// MutationKind selects the operation a Mutation applies to an
// existing map entry or environment variable. Supplemented from
// original_source's mutation application (packages/server's value
// mutation semantics): set, unset, and four ways of merging into an
// existing array/template-like value.
type MutationKind int

const (
	MutationKindSet MutationKind = iota
	MutationKindUnset
	MutationKindSetIfUnset
	MutationKindPrepend
	MutationKindAppend
	MutationKindPrefix
	MutationKindSuffix
	MutationKindMerge
)

// Mutation describes an edit to apply to a named slot in a map,
// rather than a literal replacement value. Used for command
// environment variables so that a command can express "prepend to
// PATH" instead of needing to know the existing value.
type Mutation struct {
	Kind      MutationKind
	Value     *Value    // Set, SetIfUnset, Prepend, Append
	Template  *Template // Prefix, Suffix (template-shaped, joined with Separator)
	Separator string    // Prefix, Suffix
	Values    []Value   // Merge (map values to merge in)
}

// Apply applies m to existing (the current value at the slot, or nil
// if the slot is unset), returning the new value for the slot, or nil
// if the slot should be removed (Unset).
func (m *Mutation) Apply(existing *Value) (*Value, error) {
	switch m.Kind {
	case MutationKindSet:
		v := *m.Value
		return &v, nil
	case MutationKindUnset:
		return nil, nil
	case MutationKindSetIfUnset:
		if existing != nil {
			return existing, nil
		}
		v := *m.Value
		return &v, nil
	case MutationKindPrepend:
		return prependAppend(existing, *m.Value, true)
	case MutationKindAppend:
		return prependAppend(existing, *m.Value, false)
	case MutationKindPrefix:
		return joinTemplate(existing, m.Template, m.Separator, true)
	case MutationKindSuffix:
		return joinTemplate(existing, m.Template, m.Separator, false)
	case MutationKindMerge:
		return mergeMaps(existing, m.Values)
	default:
		return nil, tgerror.New(tgerror.CodeOther, "unknown mutation kind %d", m.Kind)
	}
}

func prependAppend(existing *Value, v Value, prepend bool) (*Value, error) {
	var arr []Value
	if existing != nil {
		switch existing.Kind {
		case ValueKindArray:
			arr = append(arr, existing.Array...)
		default:
			arr = append(arr, *existing)
		}
	}
	var items []Value
	if v.Kind == ValueKindArray {
		items = v.Array
	} else {
		items = []Value{v}
	}
	if prepend {
		out := append([]Value{}, items...)
		out = append(out, arr...)
		return &Value{Kind: ValueKindArray, Array: out}, nil
	}
	out := append([]Value{}, arr...)
	out = append(out, items...)
	return &Value{Kind: ValueKindArray, Array: out}, nil
}

func joinTemplate(existing *Value, tmpl *Template, sep string, prefix bool) (*Value, error) {
	if tmpl == nil {
		return nil, tgerror.New(tgerror.CodeOther, "prefix/suffix mutation missing template")
	}
	existingTemplate := &Template{}
	if existing != nil {
		switch existing.Kind {
		case ValueKindTemplate:
			existingTemplate = existing.Template
		case ValueKindString:
			existingTemplate = &Template{Components: []Value{*existing}}

		default:
			return nil, tgerror.New(tgerror.CodeOther, "cannot apply prefix/suffix mutation to non-string value")
		}
	}
	var components []Value
	if prefix {
		components = append(components, tmpl.Components...)
		if sep != "" && len(existingTemplate.Components) > 0 {
			components = append(components, String(sep))
		}
		components = append(components, existingTemplate.Components...)
	} else {
		components = append(components, existingTemplate.Components...)
		if sep != "" && len(tmpl.Components) > 0 {
			components = append(components, String(sep))
		}
		components = append(components, tmpl.Components...)
	}
	return &Value{Kind: ValueKindTemplate, Template: &Template{Components: components}}, nil
}

func mergeMaps(existing *Value, values []Value) (*Value, error) {
	result := map[string]Value{}
	if existing != nil {
		if existing.Kind != ValueKindMap {
			return nil, tgerror.New(tgerror.CodeOther, "cannot merge into non-map value")
		}
		for k, v := range existing.Map {
			result[k] = v
		}
	}
	for _, v := range values {
		if v.Kind != ValueKindMap {
			return nil, tgerror.New(tgerror.CodeOther, "merge mutation values must be maps")
		}
		for k, mv := range v.Map {
			result[k] = mv
		}
	}
	return &Value{Kind: ValueKindMap, Map: result}, nil
}

// Children returns the object IDs directly referenced by v, recursing
// through arrays, maps, templates, and mutations. Used by codec.go's
// Children when computing an object's child set for indexing.
func (v Value) Children() []ID {
	var ids []ID
	v.walkChildren(&ids)
	sort.Slice(ids, func(i, j int) bool { return ids[i].String() < ids[j].String() })
	return ids
}

func (v Value) walkChildren(out *[]ID) {
	switch v.Kind {
	case ValueKindObject:
		*out = append(*out, v.Object)
	case ValueKindArray:
		for _, e := range v.Array {
			e.walkChildren(out)
		}
	case ValueKindMap:
		for _, e := range v.Map {
			e.walkChildren(out)
		}
	case ValueKindTemplate:
		if v.Template != nil {
			for _, c := range v.Template.Components {
				c.walkChildren(out)
			}
		}
	case ValueKindMutation:
		if v.Mutation != nil {
			if v.Mutation.Value != nil {
				v.Mutation.Value.walkChildren(out)
			}
			if v.Mutation.Template != nil {
				for _, c := range v.Mutation.Template.Components {
					c.walkChildren(out)
				}
			}
			for _, e := range v.Mutation.Values {
				e.walkChildren(out)
			}
		}
	}
}

func (v Value) String() string {
	switch v.Kind {
	case ValueKindNull:
		return "null"
	case ValueKindBool:
		return fmt.Sprintf("%t", v.Bool)
	case ValueKindNumber:
		return fmt.Sprintf("%g", v.Number)
	case ValueKindString:
		return v.Str
	case ValueKindObject:
		return v.Object.String()
	case ValueKindPlaceholder:
		return fmt.Sprintf("tg.placeholder(%q)", v.Placeholder)
	default:
		return fmt.Sprintf("<%v>", v.Kind)
	}
}
