package engine

import (
	"sort"
	"strconv"
	"strings"

	"github.com/converge-io/converge/internal/ir"
)

// Graph is the dependency graph over resource instances. An edge from A
// to B means A depends on B: B must be created before A and destroyed
// after A.
type Graph struct {
	nodes map[ir.Address]bool
	adj   map[ir.Address][]ir.Address // dependencies
	radj  map[ir.Address][]ir.Address // dependents

	sorted bool
	order  []ir.Address // creation order
	cycle  []ir.Address
}

func NewGraph() *Graph {
	return &Graph{
		nodes: make(map[ir.Address]bool),
		adj:   make(map[ir.Address][]ir.Address),
		radj:  make(map[ir.Address][]ir.Address),
	}
}

// AddNode registers an address.
func (g *Graph) AddNode(addr ir.Address) {
	if !g.nodes[addr] {
		g.nodes[addr] = true
		g.sorted = false
	}
}

// AddEdge records that from depends on to. Both endpoints are added as
// nodes; duplicate edges collapse.
func (g *Graph) AddEdge(from, to ir.Address) {
	g.AddNode(from)
	g.AddNode(to)
	for _, existing := range g.adj[from] {
		if existing == to {
			return
		}
	}
	g.adj[from] = append(g.adj[from], to)
	g.radj[to] = append(g.radj[to], from)
	g.sorted = false
}

// Has reports whether addr is a node.
func (g *Graph) Has(addr ir.Address) bool { return g.nodes[addr] }

// Len counts nodes.
func (g *Graph) Len() int { return len(g.nodes) }

// Addresses returns all nodes in sorted order.
func (g *Graph) Addresses() []ir.Address {
	addrs := make([]ir.Address, 0, len(g.nodes))
	for addr := range g.nodes {
		addrs = append(addrs, addr)
	}
	sortAddresses(addrs)
	return addrs
}

// Dependencies returns the direct dependencies of addr in sorted order.
func (g *Graph) Dependencies(addr ir.Address) []ir.Address {
	deps := append([]ir.Address(nil), g.adj[addr]...)
	sortAddresses(deps)
	return deps
}

// Dependents returns the direct dependents of addr in sorted order.
func (g *Graph) Dependents(addr ir.Address) []ir.Address {
	deps := append([]ir.Address(nil), g.radj[addr]...)
	sortAddresses(deps)
	return deps
}

// TransitiveDeps returns everything addr depends on, directly or not.
func (g *Graph) TransitiveDeps(addr ir.Address) []ir.Address {
	return g.closure(addr, g.adj)
}

// TransitiveDependents returns everything that depends on addr, directly
// or not.
func (g *Graph) TransitiveDependents(addr ir.Address) []ir.Address {
	return g.closure(addr, g.radj)
}

func (g *Graph) closure(start ir.Address, edges map[ir.Address][]ir.Address) []ir.Address {
	seen := map[ir.Address]bool{start: true}
	stack := []ir.Address{start}
	var out []ir.Address
	for len(stack) > 0 {
		cur := stack[len(stack)-1]
		stack = stack[:len(stack)-1]
		for _, next := range edges[cur] {
			if !seen[next] {
				seen[next] = true
				out = append(out, next)
				stack = append(stack, next)
			}
		}
	}
	sortAddresses(out)
	return out
}

// Cycle returns one dependency cycle as a path ("a, b, a"), or nil if the
// graph is acyclic.
func (g *Graph) Cycle() []ir.Address {
	g.sort()
	return g.cycle
}

// CreationOrder returns a deterministic topological linearization: every
// node appears after all of its dependencies. Meaningless if the graph
// has a cycle; check Cycle first.
func (g *Graph) CreationOrder() []ir.Address {
	g.sort()
	return g.order
}

// DestructionOrder is CreationOrder reversed: dependents before their
// dependencies.
func (g *Graph) DestructionOrder() []ir.Address {
	g.sort()
	out := make([]ir.Address, len(g.order))
	for i, addr := range g.order {
		out[len(g.order)-1-i] = addr
	}
	return out
}

const (
	white = iota // unvisited
	grey         // on the active DFS path
	black        // fully explored
)

// sort runs an iterative depth-first traversal with three-color marking.
// Postorder yields the creation order; hitting a grey node yields the
// cycle path straight off the DFS stack. Roots and neighbors are visited
// in sorted address order, so the linearization is stable across runs.
func (g *Graph) sort() {
	if g.sorted {
		return
	}
	g.sorted = true
	g.order = nil
	g.cycle = nil

	color := make(map[ir.Address]int, len(g.nodes))
	neighbors := make(map[ir.Address][]ir.Address, len(g.nodes))
	for addr := range g.nodes {
		neighbors[addr] = g.Dependencies(addr)
	}

	type frame struct {
		addr ir.Address
		next int
	}

	for _, root := range g.Addresses() {
		if color[root] != white {
			continue
		}
		stack := []frame{{addr: root}}
		color[root] = grey

		for len(stack) > 0 {
			top := &stack[len(stack)-1]
			adj := neighbors[top.addr]
			if top.next < len(adj) {
				next := adj[top.next]
				top.next++
				switch color[next] {
				case white:
					color[next] = grey
					stack = append(stack, frame{addr: next})
				case grey:
					// The stack from next's frame down to here is the cycle.
					start := 0
					for i := range stack {
						if stack[i].addr == next {
							start = i
							break
						}
					}
					cycle := make([]ir.Address, 0, len(stack)-start+1)
					for _, f := range stack[start:] {
						cycle = append(cycle, f.addr)
					}
					g.cycle = append(cycle, next)
					g.order = nil
					return
				}
				continue
			}
			color[top.addr] = black
			g.order = append(g.order, top.addr)
			stack = stack[:len(stack)-1]
		}
	}
}

// sortAddresses orders addresses with numeric index awareness, so
// "subnet.a[2]" sorts before "subnet.a[10]".
func sortAddresses(addrs []ir.Address) {
	sort.Slice(addrs, func(i, j int) bool {
		return addressLess(addrs[i], addrs[j])
	})
}

func addressLess(a, b ir.Address) bool {
	if a.Base() != b.Base() {
		return a.Base() < b.Base()
	}
	ai, aNum := numericIndex(a)
	bi, bNum := numericIndex(b)
	if aNum && bNum {
		return ai < bi
	}
	return a < b
}

func numericIndex(a ir.Address) (int, bool) {
	s := string(a)
	open := strings.Index(s, "[")
	if open < 0 || !strings.HasSuffix(s, "]") {
		return 0, false
	}
	n, err := strconv.Atoi(s[open+1 : len(s)-1])
	if err != nil {
		return 0, false
	}
	return n, true
}
