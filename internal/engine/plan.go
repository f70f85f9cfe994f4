package engine

import (
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/converge-io/converge/internal/ir"
	"github.com/converge-io/converge/internal/logging"
	"github.com/converge-io/converge/internal/provider"
)

// Plan compares declarations against recorded state and produces the
// ordered change list that would converge them. The returned diagnostics
// are exhaustive: when any validation fails, no plan is produced at all.
func (e *Engine) Plan(decls []*ir.Resource, snap *ir.Snapshot) (*ir.Plan, ir.Diagnostics) {
	if snap == nil {
		snap = ir.NewSnapshot()
	}
	logging.Debug("planning", "declared", len(decls), "state_resources", len(snap.Resources), "targets", len(e.targets))

	// 1. Expand, wire the graph, reject cycles and bad references.
	x, graph, diags := e.analyze(decls, snap)
	if diags.HasErrors() {
		return nil, diags
	}

	// 2. Restrict to targets plus their transitive dependencies.
	targetSet, targetDiags := e.targetSet(x, graph, snap)
	if targetDiags.HasErrors() {
		return nil, targetDiags
	}

	plan := &ir.Plan{CreatedAt: time.Now().UTC()}
	ec := newEvalContext(snap, x)

	// 3. Walk desired instances in creation order, diffing each against
	// its prior state. Creation order matters: whether a reference
	// resolves or stays unknown depends on what its target is planned to
	// do, and targets always come earlier in the order.
	for _, addr := range graph.CreationOrder() {
		res := x.Resource(addr)
		if res == nil {
			continue
		}
		if targetSet != nil && !targetSet[addr] {
			plan.Summary.NoOp++
			continue
		}

		change, diag := e.planResource(ec, res, snap.Resource(addr), graph.Dependencies(addr))
		if diag != nil {
			diags = append(diags, diag)
			continue
		}
		if change == nil {
			plan.Summary.NoOp++
			continue
		}

		plan.Changes = append(plan.Changes, change)
		switch change.Op {
		case ir.OpCreate:
			plan.Summary.Create++
		case ir.OpUpdate:
			plan.Summary.Update++
		case ir.OpReplace:
			plan.Summary.Replace++
		}
	}

	// 4. State entries with no surviving declaration become deletes,
	// dependents before their dependencies.
	doomed := e.doomedAddresses(x, snap, targetSet)
	deletes, deleteDiags := orderDeletes(snap, doomed)
	diags = append(diags, deleteDiags...)
	plan.Changes = append(plan.Changes, deletes...)
	plan.Summary.Delete += len(deletes)

	if diags.HasErrors() {
		return nil, diags
	}
	return plan, nil
}

// PlanDestroy produces a plan that deletes state-tracked resources in
// reverse dependency order: everything without targets, or each target's
// instances plus their recorded dependents with them. Declarations are
// consulted only for prevent_destroy.
func (e *Engine) PlanDestroy(decls []*ir.Resource, snap *ir.Snapshot) (*ir.Plan, ir.Diagnostics) {
	if snap == nil {
		snap = ir.NewSnapshot()
	}
	logging.Debug("planning destroy", "state_resources", len(snap.Resources), "targets", len(e.targets))

	var diags ir.Diagnostics
	protected := make(map[ir.Address]bool)
	for _, decl := range decls {
		if decl.Lifecycle.PreventDestroy {
			protected[decl.Address()] = true
		}
	}

	selected := e.destroySelection(snap, &diags)

	doomed := make([]ir.Address, 0, len(snap.Resources))
	for _, addr := range snap.Addresses() {
		if selected != nil && !selected[addr] {
			continue
		}
		if protected[addr.Base()] {
			diags = append(diags, &ir.Diagnostic{
				Kind:    ir.DiagInvalidDeclaration,
				Address: addr,
				Detail:  "prevent_destroy is set but the plan would destroy this resource",
			})
			continue
		}
		if rs := snap.Resource(addr); rs != nil && !e.registry.Has(rs.Provider) {
			diags = append(diags, &ir.Diagnostic{
				Kind:    ir.DiagInvalidDeclaration,
				Address: addr,
				Detail:  "unknown provider " + rs.Provider,
			})
			continue
		}
		doomed = append(doomed, addr)
	}

	deletes, deleteDiags := orderDeletes(snap, doomed)
	diags = append(diags, deleteDiags...)
	if diags.HasErrors() {
		return nil, diags
	}

	plan := &ir.Plan{CreatedAt: time.Now().UTC(), Changes: deletes}
	plan.Summary.Delete = len(deletes)
	return plan, nil
}

// destroySelection expands destroy targets into the set of addresses to
// delete: each target's instances plus every recorded dependent, since
// nothing may outlive a dependency. Nil means no targets, delete all.
func (e *Engine) destroySelection(snap *ir.Snapshot, diags *ir.Diagnostics) map[ir.Address]bool {
	if len(e.targets) == 0 {
		return nil
	}

	dependents := make(map[ir.Address][]ir.Address)
	for _, addr := range snap.Addresses() {
		for _, dep := range snap.Resource(addr).Deps {
			dependents[dep] = append(dependents[dep], addr)
		}
	}

	set := make(map[ir.Address]bool)
	var include func(addr ir.Address)
	include = func(addr ir.Address) {
		if set[addr] {
			return
		}
		set[addr] = true
		for _, dep := range dependents[addr] {
			include(dep)
		}
	}

	for _, target := range e.targets {
		matched := false
		for _, addr := range snap.Addresses() {
			if addr == target || addr.Base() == target {
				include(addr)
				matched = true
			}
		}
		if !matched {
			*diags = append(*diags, &ir.Diagnostic{
				Kind:    ir.DiagInvalidDeclaration,
				Address: target,
				Detail:  "target matches no state entry",
			})
		}
	}
	return set
}

// planResource decides the transition for one desired instance. A nil
// change with nil diagnostic means no-op.
func (e *Engine) planResource(ec *evalContext, res *ir.Resource, prior *ir.ResourceState, deps []ir.Address) (*ir.Change, *ir.Diagnostic) {
	addr := res.Address()

	prov, err := e.registry.Get(res.Provider)
	if err != nil {
		return nil, &ir.Diagnostic{Kind: ir.DiagInvalidDeclaration, Address: addr, Detail: err.Error()}
	}
	schema, err := prov.Schema(res.Type)
	if err != nil {
		return nil, &ir.Diagnostic{Kind: ir.DiagInvalidDeclaration, Address: addr, Detail: err.Error()}
	}

	// Pin collection membership now: fan-in references become explicit
	// per-instance references, so the plan carries them concretely.
	res, err = ec.expandResource(res)
	if err != nil {
		return nil, &ir.Diagnostic{Kind: ir.DiagUnresolvedReference, Address: addr, Detail: err.Error()}
	}

	resolved, err := ec.resolveAttrs(res)
	if err != nil {
		return nil, &ir.Diagnostic{Kind: ir.DiagUnresolvedReference, Address: addr, Detail: err.Error()}
	}

	if prior == nil {
		ec.markUnknown(addr)
		return &ir.Change{
			Address: addr,
			Op:      ir.OpCreate,
			Desired: res,
			Diff:    createDiff(resolved),
			Deps:    deps,
		}, nil
	}

	diff := diffAttrs(prior.Inputs, resolved, schema, res.Lifecycle.IgnoreChanges)

	var op ir.Op
	var reason string
	switch {
	case prior.Tainted:
		op = ir.OpReplace
		reason = "tainted, forcing replacement"
	case len(diff) == 0:
		return nil, nil
	case forcesReplacement(diff):
		op = ir.OpReplace
		reason = fmt.Sprintf("%s cannot be updated in place", strings.Join(forcingAttrs(diff), ", "))
	default:
		op = ir.OpUpdate
	}

	if op == ir.OpReplace && res.Lifecycle.PreventDestroy {
		return nil, &ir.Diagnostic{
			Kind:    ir.DiagInvalidDeclaration,
			Address: addr,
			Detail:  "prevent_destroy is set but the plan requires replacement",
		}
	}

	change := &ir.Change{
		Address: addr,
		Op:      op,
		Reason:  reason,
		Desired: res,
		Prior:   prior,
		Diff:    diff,
		Deps:    deps,
	}
	if op == ir.OpReplace {
		ec.markUnknown(addr)
		change.ReplaceOrder = replaceOrder(schema, res.Lifecycle)
	}
	return change, nil
}

// doomedAddresses lists state entries with no surviving declaration.
func (e *Engine) doomedAddresses(x *Expansion, snap *ir.Snapshot, targetSet map[ir.Address]bool) []ir.Address {
	var doomed []ir.Address
	for _, addr := range snap.Addresses() {
		if x.Resource(addr) != nil {
			continue
		}
		if targetSet != nil && !targetSet[addr] {
			continue
		}
		doomed = append(doomed, addr)
	}
	return doomed
}

// orderDeletes emits delete changes with dependents ahead of their
// dependencies, using the dependency edges recorded in state.
func orderDeletes(snap *ir.Snapshot, doomed []ir.Address) ([]*ir.Change, ir.Diagnostics) {
	if len(doomed) == 0 {
		return nil, nil
	}
	doomedSet := make(map[ir.Address]bool, len(doomed))
	for _, addr := range doomed {
		doomedSet[addr] = true
	}

	g := NewGraph()
	for _, addr := range doomed {
		g.AddNode(addr)
		for _, dep := range snap.Resource(addr).Deps {
			if doomedSet[dep] {
				g.AddEdge(addr, dep)
			}
		}
	}
	if cycle := g.Cycle(); cycle != nil {
		d := &ir.Diagnostic{Kind: ir.DiagCycle, Address: cycle[0], Cycle: cycle}
		d.Detail = "recorded state dependencies form a cycle: " + d.CycleString()
		return nil, ir.Diagnostics{d}
	}

	changes := make([]*ir.Change, 0, len(doomed))
	for _, addr := range g.DestructionOrder() {
		rs := snap.Resource(addr)
		var deps []ir.Address
		for _, dep := range rs.Deps {
			if doomedSet[dep] {
				deps = append(deps, dep)
			}
		}
		changes = append(changes, &ir.Change{
			Address: addr,
			Op:      ir.OpDelete,
			Prior:   rs,
			Diff:    deleteDiff(rs.Inputs),
			Deps:    deps,
		})
	}
	return changes, nil
}

// targetSet expands -target selections into the full set of addresses a
// run may touch: each target's instances plus everything they depend on.
func (e *Engine) targetSet(x *Expansion, graph *Graph, snap *ir.Snapshot) (map[ir.Address]bool, ir.Diagnostics) {
	if len(e.targets) == 0 {
		return nil, nil
	}

	var diags ir.Diagnostics
	set := make(map[ir.Address]bool)
	include := func(addr ir.Address) {
		set[addr] = true
		for _, dep := range graph.TransitiveDeps(addr) {
			set[dep] = true
		}
	}

	for _, target := range e.targets {
		switch {
		case graph.Has(target):
			include(target)
		case len(x.Instances[target]) > 0:
			for _, addr := range x.Instances[target] {
				include(addr)
			}
		case snap.Resource(target) != nil:
			// targeting a state-only address selects its deletion
			set[target] = true
		default:
			diags = append(diags, &ir.Diagnostic{
				Kind:    ir.DiagInvalidDeclaration,
				Address: target,
				Detail:  "target matches no declared resource or state entry",
			})
		}
	}
	if diags.HasErrors() {
		return nil, diags
	}
	return set, nil
}

// diffAttrs compares recorded inputs against newly resolved ones. An
// unknown resolved value always registers as a change: it cannot be
// proven equal until its referenced resource exists.
func diffAttrs(prior, desired map[string]any, schema provider.TypeSchema, ignore []string) map[string]ir.AttrDiff {
	ignoreSet := make(map[string]bool, len(ignore))
	for _, attr := range ignore {
		ignoreSet[attr] = true
	}

	keys := make(map[string]bool, len(prior)+len(desired))
	for k := range prior {
		keys[k] = true
	}
	for k := range desired {
		keys[k] = true
	}

	diff := make(map[string]ir.AttrDiff)
	for k := range keys {
		if ignoreSet[k] {
			continue
		}
		pv, inPrior := prior[k]
		dv, inDesired := desired[k]
		switch {
		case !inPrior:
			diff[k] = ir.AttrDiff{After: dv, Action: ir.OpCreate, ForcesReplacement: schema.ForcesReplacement(k)}
		case !inDesired:
			diff[k] = ir.AttrDiff{Before: pv, Action: ir.OpDelete, ForcesReplacement: schema.ForcesReplacement(k)}
		case !ir.Equal(pv, dv):
			diff[k] = ir.AttrDiff{Before: pv, After: dv, Action: ir.OpUpdate, ForcesReplacement: schema.ForcesReplacement(k)}
		}
	}
	if len(diff) == 0 {
		return nil
	}
	return diff
}

func createDiff(desired map[string]any) map[string]ir.AttrDiff {
	diff := make(map[string]ir.AttrDiff, len(desired))
	for k, v := range desired {
		diff[k] = ir.AttrDiff{After: v, Action: ir.OpCreate}
	}
	return diff
}

func deleteDiff(prior map[string]any) map[string]ir.AttrDiff {
	diff := make(map[string]ir.AttrDiff, len(prior))
	for k, v := range prior {
		diff[k] = ir.AttrDiff{Before: v, Action: ir.OpDelete}
	}
	return diff
}

func forcesReplacement(diff map[string]ir.AttrDiff) bool {
	for _, d := range diff {
		if d.ForcesReplacement {
			return true
		}
	}
	return false
}

func forcingAttrs(diff map[string]ir.AttrDiff) []string {
	var attrs []string
	for k, d := range diff {
		if d.ForcesReplacement {
			attrs = append(attrs, k)
		}
	}
	sort.Strings(attrs)
	return attrs
}

// replaceOrder picks the replacement strategy: the type schema sets the
// default, the declaration's lifecycle block may override it.
func replaceOrder(schema provider.TypeSchema, lc ir.Lifecycle) ir.ReplaceOrder {
	cbd := schema.CreateBeforeDestroy
	if lc.CreateBeforeDestroy != nil {
		cbd = *lc.CreateBeforeDestroy
	}
	if cbd {
		return ir.CreateThenDelete
	}
	return ir.DeleteThenCreate
}
