// Package engine turns declared resources into provider operations: it
// expands collections, resolves references, builds the dependency graph,
// computes plans against recorded state, and applies them with bounded
// parallelism.
package engine

import (
	"context"

	"github.com/converge-io/converge/internal/ir"
	"github.com/converge-io/converge/internal/provider"
)

// DefaultParallelism bounds concurrent provider operations during apply.
const DefaultParallelism = 10

// Persister receives the snapshot after every committed node, so progress
// survives an interrupted run.
type Persister interface {
	Save(ctx context.Context, snap *ir.Snapshot) error
}

// Engine orchestrates planning and applying.
type Engine struct {
	registry    *provider.Registry
	parallelism int
	retry       *RetryPolicy
	events      EventFunc
	persist     Persister
	targets     []ir.Address
}

// Option configures an Engine.
type Option func(*Engine)

// WithParallelism bounds the apply worker pool.
func WithParallelism(n int) Option {
	return func(e *Engine) {
		if n > 0 {
			e.parallelism = n
		}
	}
}

// WithRetryPolicy overrides the transient-failure retry policy.
func WithRetryPolicy(p *RetryPolicy) Option {
	return func(e *Engine) {
		if p != nil {
			e.retry = p
		}
	}
}

// WithEvents registers a callback for apply progress events.
func WithEvents(fn EventFunc) Option {
	return func(e *Engine) { e.events = fn }
}

// WithPersister saves state incrementally during apply.
func WithPersister(p Persister) Option {
	return func(e *Engine) { e.persist = p }
}

// WithTargets restricts planning to the given addresses plus everything
// they depend on.
func WithTargets(targets []ir.Address) Option {
	return func(e *Engine) { e.targets = targets }
}

func New(registry *provider.Registry, opts ...Option) *Engine {
	e := &Engine{
		registry:    registry,
		parallelism: DefaultParallelism,
		retry:       DefaultRetryPolicy(),
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Validate checks declarations without consulting state: expansion,
// duplicate addresses, reference targets, and cycles.
func (e *Engine) Validate(decls []*ir.Resource) ir.Diagnostics {
	_, _, diags := e.analyze(decls, nil)
	return diags
}

// BuildGraph exposes the dependency graph of a declaration set, for
// rendering and inspection.
func (e *Engine) BuildGraph(decls []*ir.Resource) (*Graph, ir.Diagnostics) {
	_, graph, diags := e.analyze(decls, nil)
	if diags.HasErrors() {
		return nil, diags
	}
	return graph, nil
}

// analyze runs the state-independent pipeline stages: expand, wire the
// graph, check for cycles. snap is only consulted to classify missing
// reference targets.
func (e *Engine) analyze(decls []*ir.Resource, snap *ir.Snapshot) (*Expansion, *Graph, ir.Diagnostics) {
	var diags ir.Diagnostics

	for _, decl := range decls {
		if !e.registry.Has(decl.Provider) {
			diags = append(diags, &ir.Diagnostic{
				Kind:    ir.DiagInvalidDeclaration,
				Address: decl.Address(),
				Detail:  "unknown provider " + decl.Provider,
			})
		}
	}
	if diags.HasErrors() {
		return nil, nil, diags
	}

	x, expandDiags := Expand(decls)
	if expandDiags.HasErrors() {
		return nil, nil, expandDiags
	}

	var stateHas func(ir.Address) bool
	if snap != nil {
		stateHas = func(addr ir.Address) bool { return snap.Resource(addr) != nil }
	}
	graph, graphDiags := buildGraph(x, stateHas)
	diags = append(diags, graphDiags...)

	if cycle := graph.Cycle(); cycle != nil {
		d := &ir.Diagnostic{
			Kind:    ir.DiagCycle,
			Address: cycle[0],
			Cycle:   cycle,
		}
		d.Detail = "dependency cycle: " + d.CycleString()
		diags = append(diags, d)
	}

	if diags.HasErrors() {
		return nil, nil, diags
	}
	return x, graph, nil
}

// providerFor picks the provider name recorded on a change.
func providerFor(c *ir.Change) string {
	if c.Desired != nil {
		return c.Desired.Provider
	}
	if c.Prior != nil {
		return c.Prior.Provider
	}
	return ""
}

// typeFor picks the resource type recorded on a change.
func typeFor(c *ir.Change) string {
	if c.Desired != nil {
		return c.Desired.Type
	}
	if c.Prior != nil {
		return c.Prior.Type
	}
	return ""
}
