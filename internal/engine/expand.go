package engine

import (
	"fmt"
	"sort"
	"strings"

	"github.com/converge-io/converge/internal/ir"
)

// Expansion is the result of flattening count/for_each declarations into
// concrete resource instances.
type Expansion struct {
	// Resources holds one entry per instance, in declaration order with
	// indices ascending and for_each keys sorted.
	Resources []*ir.Resource
	// Instances maps each declared collection address to its instance
	// addresses. Singletons map to themselves; a count of zero maps to
	// an empty slice.
	Instances map[ir.Address][]ir.Address

	byAddr map[ir.Address]*ir.Resource
}

// Resource finds the instance declared at addr.
func (x *Expansion) Resource(addr ir.Address) *ir.Resource {
	return x.byAddr[addr]
}

// Expand flattens every declaration into its instances. Indices are
// stable: shrinking a count removes only the tail, and for_each keys name
// their instances independently of declaration order.
func Expand(decls []*ir.Resource) (*Expansion, ir.Diagnostics) {
	var diags ir.Diagnostics
	x := &Expansion{
		Instances: make(map[ir.Address][]ir.Address),
		byAddr:    make(map[ir.Address]*ir.Resource),
	}

	seen := make(map[ir.Address]bool)
	for _, decl := range decls {
		base := decl.Address()
		if seen[base] {
			diags = append(diags, &ir.Diagnostic{
				Kind:    ir.DiagDuplicateAddress,
				Address: base,
				Detail:  fmt.Sprintf("resource %s is declared more than once", base),
			})
			continue
		}
		seen[base] = true

		instances, err := expandOne(decl)
		if err != nil {
			diags = append(diags, &ir.Diagnostic{
				Kind:    ir.DiagInvalidDeclaration,
				Address: base,
				Detail:  err.Error(),
			})
			continue
		}

		addrs := make([]ir.Address, 0, len(instances))
		for _, inst := range instances {
			addr := inst.Address()
			addrs = append(addrs, addr)
			x.byAddr[addr] = inst
		}
		x.Resources = append(x.Resources, instances...)
		x.Instances[base] = addrs
	}

	if diags.HasErrors() {
		return nil, diags
	}
	return x, nil
}

func expandOne(decl *ir.Resource) ([]*ir.Resource, error) {
	switch {
	case decl.Count != nil && len(decl.ForEach) > 0:
		return nil, fmt.Errorf("count and for_each are mutually exclusive")

	case decl.Count != nil:
		n := *decl.Count
		if n < 0 {
			return nil, fmt.Errorf("count must be >= 0, got %d", n)
		}
		instances := make([]*ir.Resource, 0, n)
		for i := 0; i < n; i++ {
			inst, err := instantiate(decl, fmt.Sprintf("%s[%d]", decl.Name, i), map[string]string{
				"${count.index}": fmt.Sprintf("%d", i),
			})
			if err != nil {
				return nil, err
			}
			instances = append(instances, inst)
		}
		return instances, nil

	case len(decl.ForEach) > 0:
		keys := make([]string, 0, len(decl.ForEach))
		for k := range decl.ForEach {
			keys = append(keys, k)
		}
		sort.Strings(keys)

		instances := make([]*ir.Resource, 0, len(keys))
		for _, key := range keys {
			inst, err := instantiate(decl, fmt.Sprintf("%s[%q]", decl.Name, key), map[string]string{
				"${each.key}":   key,
				"${each.value}": fmt.Sprintf("%v", decl.ForEach[key]),
			})
			if err != nil {
				return nil, err
			}
			instances = append(instances, inst)
		}
		return instances, nil

	default:
		return []*ir.Resource{decl.DeepCopy()}, nil
	}
}

// instantiate clones the declaration under an instance name and replaces
// iteration placeholders throughout its attributes.
func instantiate(decl *ir.Resource, name string, repl map[string]string) (*ir.Resource, error) {
	inst := decl.DeepCopy()
	inst.Name = name
	inst.Count = nil
	inst.ForEach = nil

	substitute := func(s string) string {
		for old, new := range repl {
			s = strings.ReplaceAll(s, old, new)
		}
		return s
	}
	for k, v := range inst.Attrs {
		rewritten, err := v.MapStrings(substitute)
		if err != nil {
			return nil, fmt.Errorf("%s attribute %q: %w", inst.Address(), k, err)
		}
		inst.Attrs[k] = rewritten
	}
	return inst, nil
}
