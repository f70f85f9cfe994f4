package engine

import (
	"fmt"
	"sort"

	"github.com/converge-io/converge/internal/ir"
)

// attrRef is one reference found in a resource, remembering which
// top-level attribute holds it.
type attrRef struct {
	Attr string
	Ref  ir.Reference
}

// collectRefs lists every reference in a resource's attributes with
// deterministic ordering.
func collectRefs(res *ir.Resource) []attrRef {
	var out []attrRef
	for _, key := range sortedKeys(res.Attrs) {
		for _, ref := range res.Attrs[key].References() {
			out = append(out, attrRef{Attr: key, Ref: ref})
		}
	}
	return out
}

// buildGraph wires the dependency graph for a set of expanded instances.
// Edges come from attribute references and explicit depends_on. A
// reference target that is not declared produces a diagnostic; stateHas
// distinguishes "never declared" from "still in state but going away".
func buildGraph(x *Expansion, stateHas func(ir.Address) bool) (*Graph, ir.Diagnostics) {
	var diags ir.Diagnostics
	g := NewGraph()
	for _, res := range x.Resources {
		g.AddNode(res.Address())
	}

	missing := func(addr ir.Address, attr string, target ir.Address) {
		kind := ir.DiagUnresolvedReference
		detail := fmt.Sprintf("%s is not declared", target)
		if stateHas != nil && stateHas(target) {
			kind = ir.DiagDanglingReference
			detail = fmt.Sprintf("%s is planned for deletion but still referenced", target)
		}
		diags = append(diags, &ir.Diagnostic{
			Kind:    kind,
			Address: addr,
			Attr:    attr,
			Detail:  detail,
		})
	}

	for _, res := range x.Resources {
		addr := res.Address()

		for _, ar := range collectRefs(res) {
			targets, ok := refTargets(x, ar.Ref)
			if !ok {
				missing(addr, ar.Attr, ar.Ref.Target)
				continue
			}
			for _, target := range targets {
				// a self-reference becomes a self-edge and surfaces
				// as a one-node cycle
				g.AddEdge(addr, target)
			}
		}

		for _, dep := range res.DependsOn {
			targets, ok := dependsOnTargets(x, dep)
			if !ok {
				missing(addr, "depends_on", dep)
				continue
			}
			for _, target := range targets {
				g.AddEdge(addr, target)
			}
		}
	}
	return g, diags
}

// refTargets resolves a reference to the concrete instance addresses it
// points at. An all-instances reference fans out to the whole collection,
// which may legitimately be empty.
func refTargets(x *Expansion, ref ir.Reference) ([]ir.Address, bool) {
	if ref.AllInstances {
		instances, ok := x.Instances[ref.Target]
		return instances, ok
	}
	if _, ok := x.byAddr[ref.Target]; ok {
		return []ir.Address{ref.Target}, true
	}
	return nil, false
}

// dependsOnTargets resolves a depends_on entry. Naming a collection's
// base address depends on all of its instances.
func dependsOnTargets(x *Expansion, dep ir.Address) ([]ir.Address, bool) {
	if _, ok := x.byAddr[dep]; ok {
		return []ir.Address{dep}, true
	}
	if instances, ok := x.Instances[dep]; ok {
		return instances, true
	}
	return nil, false
}

// evalContext resolves attribute values against a snapshot. Addresses in
// unknown are being created or replaced this run, so their attributes
// cannot be read yet.
type evalContext struct {
	snap      *ir.Snapshot
	instances map[ir.Address][]ir.Address
	unknown   map[ir.Address]bool
}

func newEvalContext(snap *ir.Snapshot, x *Expansion) *evalContext {
	return &evalContext{
		snap:      snap,
		instances: x.Instances,
		unknown:   make(map[ir.Address]bool),
	}
}

// markUnknown flags addr's attributes as unavailable until applied.
func (ec *evalContext) markUnknown(addr ir.Address) {
	ec.unknown[addr] = true
}

// clearUnknown flags addr as resolvable again, once its apply committed.
func (ec *evalContext) clearUnknown(addr ir.Address) {
	delete(ec.unknown, addr)
}

// expandResource rewrites all-instances references into concrete
// per-instance reference lists, pinning collection membership at plan
// time. The executor then only ever sees direct references.
func (ec *evalContext) expandResource(res *ir.Resource) (*ir.Resource, error) {
	out := res.DeepCopy()
	for key, v := range out.Attrs {
		rewritten, err := ec.expandValue(v)
		if err != nil {
			return nil, fmt.Errorf("attribute %q: %w", key, err)
		}
		out.Attrs[key] = rewritten
	}
	return out, nil
}

func (ec *evalContext) expandValue(v ir.Value) (ir.Value, error) {
	switch v.Kind {
	case ir.KindRef:
		if !v.Ref.AllInstances {
			return v, nil
		}
		instances, ok := ec.instances[v.Ref.Target]
		if !ok {
			return ir.Value{}, fmt.Errorf("%s has no instances", v.Ref.Target)
		}
		list := make([]ir.Value, len(instances))
		for i, addr := range instances {
			list[i] = ir.RefValue(ir.Reference{Target: addr, Attr: v.Ref.Attr})
		}
		return ir.Value{Kind: ir.KindList, List: list}, nil
	case ir.KindList:
		list := make([]ir.Value, len(v.List))
		for i, e := range v.List {
			expanded, err := ec.expandValue(e)
			if err != nil {
				return ir.Value{}, err
			}
			list[i] = expanded
		}
		return ir.Value{Kind: ir.KindList, List: list}, nil
	case ir.KindMap:
		m := make(map[string]ir.Value, len(v.Map))
		for k, e := range v.Map {
			expanded, err := ec.expandValue(e)
			if err != nil {
				return ir.Value{}, err
			}
			m[k] = expanded
		}
		return ir.Value{Kind: ir.KindMap, Map: m}, nil
	default:
		return v, nil
	}
}

// resolveAttrs materializes a resource's attributes into plain values.
// References to applied resources read from state; references to pending
// creations come back as ir.UnknownValue sentinels.
func (ec *evalContext) resolveAttrs(res *ir.Resource) (map[string]any, error) {
	out := make(map[string]any, len(res.Attrs))
	for key, v := range res.Attrs {
		resolved, err := ec.resolveValue(v)
		if err != nil {
			return nil, fmt.Errorf("attribute %q: %w", key, err)
		}
		out[key] = resolved
	}
	return out, nil
}

func (ec *evalContext) resolveValue(v ir.Value) (any, error) {
	switch v.Kind {
	case ir.KindLiteral:
		return v.Lit, nil
	case ir.KindUnknown:
		return ir.UnknownValue{}, nil
	case ir.KindRef:
		return ec.resolveRef(v.Ref)
	case ir.KindList:
		out := make([]any, len(v.List))
		for i, e := range v.List {
			resolved, err := ec.resolveValue(e)
			if err != nil {
				return nil, err
			}
			out[i] = resolved
		}
		return out, nil
	case ir.KindMap:
		out := make(map[string]any, len(v.Map))
		for k, e := range v.Map {
			resolved, err := ec.resolveValue(e)
			if err != nil {
				return nil, err
			}
			out[k] = resolved
		}
		return out, nil
	default:
		return nil, fmt.Errorf("unhandled value kind %d", v.Kind)
	}
}

func (ec *evalContext) resolveRef(ref ir.Reference) (any, error) {
	if ref.AllInstances {
		instances, ok := ec.instances[ref.Target]
		if !ok {
			return nil, fmt.Errorf("%s has no instances", ref.Target)
		}
		out := make([]any, len(instances))
		for i, addr := range instances {
			attr, err := ec.resolveAddrAttr(addr, ref.Attr)
			if err != nil {
				return nil, err
			}
			out[i] = attr
		}
		return out, nil
	}
	return ec.resolveAddrAttr(ref.Target, ref.Attr)
}

func (ec *evalContext) resolveAddrAttr(addr ir.Address, attr string) (any, error) {
	if ec.unknown[addr] {
		return ir.UnknownValue{}, nil
	}
	rs := ec.snap.Resource(addr)
	if rs == nil {
		// not applied yet; its value materializes later this run
		return ir.UnknownValue{}, nil
	}
	v, ok := rs.Attr(attr)
	if !ok {
		return nil, fmt.Errorf("%s has no attribute %q", addr, attr)
	}
	return v, nil
}

func sortedKeys(m map[string]ir.Value) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
