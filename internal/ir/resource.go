package ir

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"
)

// Resource is one declared resource before expansion and resolution.
type Resource struct {
	Type      string           `json:"type"`
	Name      string           `json:"name"`
	Provider  string           `json:"provider,omitempty"`
	Count     *int             `json:"count,omitempty"`
	ForEach   map[string]any   `json:"for_each,omitempty"`
	DependsOn []Address        `json:"depends_on,omitempty"`
	Lifecycle Lifecycle        `json:"lifecycle,omitempty"`
	Timeout   Duration         `json:"timeout,omitempty"`
	Attrs     map[string]Value `json:"attrs,omitempty"`
}

// Lifecycle carries the per-resource behavior overrides.
type Lifecycle struct {
	PreventDestroy      bool     `json:"prevent_destroy,omitempty"`
	IgnoreChanges       []string `json:"ignore_changes,omitempty"`
	CreateBeforeDestroy *bool    `json:"create_before_destroy,omitempty"`
}

// Address returns the resource's collection address ("type.name").
func (r *Resource) Address() Address {
	return MakeAddress(r.Type, r.Name)
}

// DeepCopy clones the resource including its attribute tree.
func (r *Resource) DeepCopy() *Resource {
	clone := *r
	if r.Count != nil {
		c := *r.Count
		clone.Count = &c
	}
	if r.ForEach != nil {
		clone.ForEach = make(map[string]any, len(r.ForEach))
		for k, v := range r.ForEach {
			clone.ForEach[k] = v
		}
	}
	if r.DependsOn != nil {
		clone.DependsOn = append([]Address(nil), r.DependsOn...)
	}
	if r.Lifecycle.IgnoreChanges != nil {
		clone.Lifecycle.IgnoreChanges = append([]string(nil), r.Lifecycle.IgnoreChanges...)
	}
	if r.Lifecycle.CreateBeforeDestroy != nil {
		b := *r.Lifecycle.CreateBeforeDestroy
		clone.Lifecycle.CreateBeforeDestroy = &b
	}
	if r.Attrs != nil {
		clone.Attrs = make(map[string]Value, len(r.Attrs))
		for k, v := range r.Attrs {
			clone.Attrs[k] = copyValue(v)
		}
	}
	return &clone
}

func copyValue(v Value) Value {
	switch v.Kind {
	case KindList:
		list := make([]Value, len(v.List))
		for i, e := range v.List {
			list[i] = copyValue(e)
		}
		return Value{Kind: KindList, List: list}
	case KindMap:
		m := make(map[string]Value, len(v.Map))
		for k, e := range v.Map {
			m[k] = copyValue(e)
		}
		return Value{Kind: KindMap, Map: m}
	default:
		return v
	}
}

// Duration wraps time.Duration with the "30s"/"5m" JSON form.
type Duration time.Duration

// MarshalJSON renders the duration string.
func (d Duration) MarshalJSON() ([]byte, error) {
	return json.Marshal(time.Duration(d).String())
}

// UnmarshalJSON accepts a duration string or a number of seconds.
func (d *Duration) UnmarshalJSON(data []byte) error {
	var raw any
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	switch v := raw.(type) {
	case string:
		parsed, err := time.ParseDuration(v)
		if err != nil {
			return fmt.Errorf("invalid timeout %q: %w", v, err)
		}
		*d = Duration(parsed)
	case float64:
		*d = Duration(time.Duration(v) * time.Second)
	default:
		return fmt.Errorf("invalid timeout %v", raw)
	}
	return nil
}

// Declarations is the top-level shape of a declarations document.
type Declarations struct {
	Resources []*Resource `json:"resources"`
}

// DecodeDeclarations parses a declarations document. Attribute values are
// decoded into Value trees, so ref:// strings come back as References.
// Semantic checks beyond well-formedness (duplicate addresses, reference
// targets, cycles) belong to the planner.
func DecodeDeclarations(data []byte) ([]*Resource, error) {
	var doc struct {
		Resources []json.RawMessage `json:"resources"`
	}
	if err := json.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("parsing declarations: %w", err)
	}

	resources := make([]*Resource, 0, len(doc.Resources))
	for i, raw := range doc.Resources {
		res, err := decodeResource(raw)
		if err != nil {
			return nil, fmt.Errorf("resource %d: %w", i, err)
		}
		resources = append(resources, res)
	}
	return resources, nil
}

func decodeResource(raw json.RawMessage) (*Resource, error) {
	var decl struct {
		Type      string         `json:"type"`
		Name      string         `json:"name"`
		Provider  string         `json:"provider"`
		Count     *int           `json:"count"`
		ForEach   map[string]any `json:"for_each"`
		DependsOn []string       `json:"depends_on"`
		Lifecycle Lifecycle      `json:"lifecycle"`
		Timeout   Duration       `json:"timeout"`
		Attrs     map[string]any `json:"attrs"`
	}
	if err := json.Unmarshal(raw, &decl); err != nil {
		return nil, err
	}
	if decl.Type == "" {
		return nil, fmt.Errorf("missing resource type")
	}
	if decl.Name == "" {
		return nil, fmt.Errorf("%s: missing resource name", decl.Type)
	}
	if strings.ContainsAny(decl.Name, `.[]"/`) {
		return nil, fmt.Errorf("%s: resource name %q contains reserved characters", decl.Type, decl.Name)
	}

	res := &Resource{
		Type:      decl.Type,
		Name:      decl.Name,
		Provider:  decl.Provider,
		Count:     decl.Count,
		ForEach:   decl.ForEach,
		Lifecycle: decl.Lifecycle,
		Timeout:   decl.Timeout,
	}
	if res.Provider == "" {
		res.Provider = DefaultProvider(res.Type)
	}
	for _, dep := range decl.DependsOn {
		addr, err := ParseAddress(dep)
		if err != nil {
			return nil, fmt.Errorf("%s.%s: depends_on: %w", decl.Type, decl.Name, err)
		}
		res.DependsOn = append(res.DependsOn, addr)
	}
	attrs, err := DecodeAttrs(decl.Attrs)
	if err != nil {
		return nil, fmt.Errorf("%s.%s: %w", decl.Type, decl.Name, err)
	}
	res.Attrs = attrs
	return res, nil
}

// DefaultProvider maps a resource type to its provider when the
// declaration leaves the provider implicit. Types follow the usual
// naming convention of a provider prefix; everything unprefixed belongs
// to the simulator.
func DefaultProvider(typ string) string {
	switch {
	case typ == "null_resource":
		return "null"
	case strings.HasPrefix(typ, "aws_"):
		return "aws"
	case strings.HasPrefix(typ, "docker_"):
		return "docker"
	default:
		return "sim"
	}
}
