package ir

import (
	"encoding/json"
	"fmt"
	"reflect"
	"sort"
	"strings"
)

// RefScheme prefixes attribute values that point at another resource,
// e.g. "ref://vpc.main/id" or "ref://subnet.private[*]/id".
const RefScheme = "ref://"

// Reference is a pointer from one resource's attribute to an attribute of
// another resource. AllInstances marks a collection reference ("[*]") that
// fans in to every instance of the target.
type Reference struct {
	Target       Address `json:"target"`
	Attr         string  `json:"attr"`
	AllInstances bool    `json:"all_instances,omitempty"`
}

// String renders the reference back to its wire form.
func (r Reference) String() string {
	target := string(r.Target)
	if r.AllInstances {
		target += "[*]"
	}
	return RefScheme + target + "/" + r.Attr
}

// ParseReference decodes a "ref://type.name/attr" string.
func ParseReference(s string) (Reference, error) {
	if !strings.HasPrefix(s, RefScheme) {
		return Reference{}, fmt.Errorf("reference %q missing %s prefix", s, RefScheme)
	}
	rest := strings.TrimPrefix(s, RefScheme)
	slash := strings.Index(rest, "/")
	if slash <= 0 || slash == len(rest)-1 {
		return Reference{}, fmt.Errorf("reference %q must have the form %stype.name/attr", s, RefScheme)
	}
	target, attr := rest[:slash], rest[slash+1:]

	ref := Reference{Attr: attr}
	if strings.HasSuffix(target, "[*]") {
		ref.AllInstances = true
		target = strings.TrimSuffix(target, "[*]")
	}
	addr, err := ParseAddress(target)
	if err != nil {
		return Reference{}, fmt.Errorf("reference %q: %w", s, err)
	}
	ref.Target = addr
	return ref, nil
}

// IsReference reports whether a raw string carries the reference scheme.
func IsReference(s string) bool {
	return strings.HasPrefix(s, RefScheme)
}

// ValueKind discriminates the cases of a Value.
type ValueKind int

const (
	// KindLiteral is a plain scalar (string, number, bool, nil).
	KindLiteral ValueKind = iota
	// KindList is an ordered sequence of Values.
	KindList
	// KindMap is a string-keyed mapping of Values.
	KindMap
	// KindRef is an unresolved pointer to another resource's attribute.
	KindRef
	// KindUnknown stands for a value that only materializes once the
	// referenced resource has been created or replaced.
	KindUnknown
)

// Value is one attribute value in a resource declaration: a literal, a
// container of further Values, a Reference, or Unknown. Keeping the
// unresolved cases explicit lets the planner tell "resolved to X" apart
// from "not resolvable yet".
type Value struct {
	Kind ValueKind
	Lit  any
	List []Value
	Map  map[string]Value
	Ref  Reference
}

// Lit returns a literal scalar Value.
func Lit(v any) Value { return Value{Kind: KindLiteral, Lit: v} }

// Unknown returns the unknown Value.
func Unknown() Value { return Value{Kind: KindUnknown} }

// RefValue wraps a Reference as a Value.
func RefValue(r Reference) Value { return Value{Kind: KindRef, Ref: r} }

// DecodeValue converts raw JSON-decoded data into a Value tree. Strings
// carrying the ref:// scheme become References, containers are walked
// recursively, everything else stays literal.
func DecodeValue(raw any) (Value, error) {
	switch v := raw.(type) {
	case string:
		if IsReference(v) {
			ref, err := ParseReference(v)
			if err != nil {
				return Value{}, err
			}
			return RefValue(ref), nil
		}
		return Lit(v), nil
	case []any:
		list := make([]Value, 0, len(v))
		for i, elem := range v {
			ev, err := DecodeValue(elem)
			if err != nil {
				return Value{}, fmt.Errorf("index %d: %w", i, err)
			}
			list = append(list, ev)
		}
		return Value{Kind: KindList, List: list}, nil
	case map[string]any:
		m := make(map[string]Value, len(v))
		for k, elem := range v {
			ev, err := DecodeValue(elem)
			if err != nil {
				return Value{}, fmt.Errorf("key %q: %w", k, err)
			}
			m[k] = ev
		}
		return Value{Kind: KindMap, Map: m}, nil
	default:
		return Lit(normalizeScalar(raw)), nil
	}
}

// DecodeAttrs decodes a whole attribute map.
func DecodeAttrs(raw map[string]any) (map[string]Value, error) {
	attrs := make(map[string]Value, len(raw))
	for k, v := range raw {
		dv, err := DecodeValue(v)
		if err != nil {
			return nil, fmt.Errorf("attribute %q: %w", k, err)
		}
		attrs[k] = dv
	}
	return attrs, nil
}

// References collects every Reference in the value tree. Traversal order
// is deterministic: list elements in order, map keys sorted.
func (v Value) References() []Reference {
	var refs []Reference
	v.walkRefs(&refs)
	return refs
}

func (v Value) walkRefs(out *[]Reference) {
	switch v.Kind {
	case KindRef:
		*out = append(*out, v.Ref)
	case KindList:
		for _, e := range v.List {
			e.walkRefs(out)
		}
	case KindMap:
		for _, k := range sortedKeys(v.Map) {
			v.Map[k].walkRefs(out)
		}
	}
}

// MapStrings applies fn to every literal string and every reference in the
// tree, returning the rewritten value. References are re-parsed after
// rewriting so index substitution inside a target stays well formed.
func (v Value) MapStrings(fn func(string) string) (Value, error) {
	switch v.Kind {
	case KindLiteral:
		if s, ok := v.Lit.(string); ok {
			return Lit(fn(s)), nil
		}
		return v, nil
	case KindRef:
		rewritten := fn(v.Ref.String())
		if !IsReference(rewritten) {
			return Lit(rewritten), nil
		}
		ref, err := ParseReference(rewritten)
		if err != nil {
			return Value{}, err
		}
		return RefValue(ref), nil
	case KindList:
		list := make([]Value, len(v.List))
		for i, e := range v.List {
			ev, err := e.MapStrings(fn)
			if err != nil {
				return Value{}, err
			}
			list[i] = ev
		}
		return Value{Kind: KindList, List: list}, nil
	case KindMap:
		m := make(map[string]Value, len(v.Map))
		for k, e := range v.Map {
			ev, err := e.MapStrings(fn)
			if err != nil {
				return Value{}, err
			}
			m[fn(k)] = ev
		}
		return Value{Kind: KindMap, Map: m}, nil
	default:
		return v, nil
	}
}

// MarshalJSON renders the value in its wire form: literals as themselves,
// references as ref:// strings, unknown as a sentinel string.
func (v Value) MarshalJSON() ([]byte, error) {
	switch v.Kind {
	case KindLiteral:
		return json.Marshal(v.Lit)
	case KindRef:
		return json.Marshal(v.Ref.String())
	case KindUnknown:
		return json.Marshal(UnknownSentinel)
	case KindList:
		return json.Marshal(v.List)
	case KindMap:
		return json.Marshal(v.Map)
	default:
		return nil, fmt.Errorf("unhandled value kind %d", v.Kind)
	}
}

// UnmarshalJSON is the inverse of MarshalJSON.
func (v *Value) UnmarshalJSON(data []byte) error {
	var raw any
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	if s, ok := raw.(string); ok && s == UnknownSentinel {
		*v = Unknown()
		return nil
	}
	dv, err := DecodeValue(raw)
	if err != nil {
		return err
	}
	*v = dv
	return nil
}

// UnknownSentinel is the textual stand-in for unknown values in rendered
// plans and serialized diffs.
const UnknownSentinel = "(known after apply)"

// Normalize converts raw data into the canonical shape used for
// comparisons: all numbers as float64, all maps string-keyed. Data that
// went through encoding/json is already in this shape; this covers values
// constructed in code.
func Normalize(raw any) any {
	switch v := raw.(type) {
	case nil, string, bool, float64:
		return v
	case int:
		return float64(v)
	case int32:
		return float64(v)
	case int64:
		return float64(v)
	case float32:
		return float64(v)
	case uint:
		return float64(v)
	case []any:
		out := make([]any, len(v))
		for i, e := range v {
			out[i] = Normalize(e)
		}
		return out
	case map[string]any:
		out := make(map[string]any, len(v))
		for k, e := range v {
			out[k] = Normalize(e)
		}
		return out
	case map[any]any:
		out := make(map[string]any, len(v))
		for k, e := range v {
			out[fmt.Sprintf("%v", k)] = Normalize(e)
		}
		return out
	default:
		return v
	}
}

func normalizeScalar(raw any) any {
	return Normalize(raw)
}

// Equal compares two raw attribute values after normalization. A value
// containing the unknown sentinel never compares equal.
func Equal(a, b any) bool {
	if ContainsUnknown(a) || ContainsUnknown(b) {
		return false
	}
	return reflect.DeepEqual(Normalize(a), Normalize(b))
}

// UnknownValue marks a not-yet-computable attribute in resolved data.
type UnknownValue struct{}

// MarshalJSON renders the sentinel string.
func (UnknownValue) MarshalJSON() ([]byte, error) {
	return json.Marshal(UnknownSentinel)
}

// String implements fmt.Stringer.
func (UnknownValue) String() string { return UnknownSentinel }

// ContainsUnknown reports whether raw holds an UnknownValue anywhere.
func ContainsUnknown(raw any) bool {
	switch v := raw.(type) {
	case UnknownValue:
		return true
	case []any:
		for _, e := range v {
			if ContainsUnknown(e) {
				return true
			}
		}
	case map[string]any:
		for _, e := range v {
			if ContainsUnknown(e) {
				return true
			}
		}
	}
	return false
}

func sortedKeys[V any](m map[string]V) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
