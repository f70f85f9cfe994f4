package ir

import (
	"sort"

	"github.com/google/uuid"
)

// StateVersion is the current snapshot schema version.
const StateVersion = 1

// Snapshot is the persistent record of everything under management. The
// serial increases monotonically with every successful write; the lineage
// identifies the state's lifetime across backend moves.
type Snapshot struct {
	Version   int                        `json:"version"`
	Serial    uint64                     `json:"serial"`
	Lineage   string                     `json:"lineage"`
	Resources map[Address]*ResourceState `json:"resources"`
}

// ResourceState is the recorded outcome of the last successful operation
// on one resource instance.
type ResourceState struct {
	Type     string         `json:"type"`
	Name     string         `json:"name"`
	Provider string         `json:"provider"`
	ID       string         `json:"id"`
	Inputs   map[string]any `json:"inputs,omitempty"`
	Attrs    map[string]any `json:"attrs,omitempty"`
	Deps     []Address      `json:"deps,omitempty"`
	Tainted  bool           `json:"tainted,omitempty"`
}

// NewSnapshot returns an empty snapshot with a fresh lineage.
func NewSnapshot() *Snapshot {
	return &Snapshot{
		Version:   StateVersion,
		Lineage:   uuid.New().String(),
		Resources: map[Address]*ResourceState{},
	}
}

// Resource looks up the state entry for an address, nil if absent.
func (s *Snapshot) Resource(addr Address) *ResourceState {
	if s == nil || s.Resources == nil {
		return nil
	}
	return s.Resources[addr]
}

// Put stores or replaces the entry for an address.
func (s *Snapshot) Put(addr Address, rs *ResourceState) {
	if s.Resources == nil {
		s.Resources = map[Address]*ResourceState{}
	}
	s.Resources[addr] = rs
}

// Remove drops the entry for an address.
func (s *Snapshot) Remove(addr Address) {
	delete(s.Resources, addr)
}

// Addresses returns every recorded address in sorted order.
func (s *Snapshot) Addresses() []Address {
	if s == nil {
		return nil
	}
	addrs := make([]Address, 0, len(s.Resources))
	for addr := range s.Resources {
		addrs = append(addrs, addr)
	}
	sort.Slice(addrs, func(i, j int) bool { return addrs[i] < addrs[j] })
	return addrs
}

// Empty reports whether the snapshot tracks no resources.
func (s *Snapshot) Empty() bool {
	return s == nil || len(s.Resources) == 0
}

// DeepCopy clones the snapshot.
func (s *Snapshot) DeepCopy() *Snapshot {
	if s == nil {
		return nil
	}
	clone := &Snapshot{
		Version:   s.Version,
		Serial:    s.Serial,
		Lineage:   s.Lineage,
		Resources: make(map[Address]*ResourceState, len(s.Resources)),
	}
	for addr, rs := range s.Resources {
		clone.Resources[addr] = rs.DeepCopy()
	}
	return clone
}

// DeepCopy clones one state entry.
func (rs *ResourceState) DeepCopy() *ResourceState {
	if rs == nil {
		return nil
	}
	clone := *rs
	clone.Inputs = copyAnyMap(rs.Inputs)
	clone.Attrs = copyAnyMap(rs.Attrs)
	if rs.Deps != nil {
		clone.Deps = append([]Address(nil), rs.Deps...)
	}
	return &clone
}

// Attr reads one attribute from the entry, preferring provider-returned
// attributes over recorded inputs. "id" resolves to the provider ID.
func (rs *ResourceState) Attr(name string) (any, bool) {
	if rs == nil {
		return nil, false
	}
	if name == "id" {
		return rs.ID, rs.ID != ""
	}
	if v, ok := rs.Attrs[name]; ok {
		return v, true
	}
	if v, ok := rs.Inputs[name]; ok {
		return v, true
	}
	return nil, false
}

func copyAnyMap(m map[string]any) map[string]any {
	if m == nil {
		return nil
	}
	out := make(map[string]any, len(m))
	for k, v := range m {
		out[k] = copyAny(v)
	}
	return out
}

func copyAny(v any) any {
	switch t := v.(type) {
	case []any:
		out := make([]any, len(t))
		for i, e := range t {
			out[i] = copyAny(e)
		}
		return out
	case map[string]any:
		return copyAnyMap(t)
	default:
		return v
	}
}
