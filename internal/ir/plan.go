package ir

import "time"

// Op is the planned action for one resource instance.
type Op string

const (
	OpCreate  Op = "create"
	OpUpdate  Op = "update"
	OpReplace Op = "replace"
	OpDelete  Op = "delete"
	OpNoOp    Op = "noop"
)

// ReplaceOrder selects how a replacement interleaves its two steps.
type ReplaceOrder string

const (
	// DeleteThenCreate destroys the old resource before creating the new
	// one. This is the default.
	DeleteThenCreate ReplaceOrder = "delete_then_create"
	// CreateThenDelete creates the replacement first and deletes the old
	// resource only after the new one exists.
	CreateThenDelete ReplaceOrder = "create_then_delete"
)

// Plan is an ordered list of changes. The order is a topological
// linearization of the dependency graph: every change appears after the
// changes it depends on, and deletes appear in reverse dependency order.
type Plan struct {
	CreatedAt time.Time `json:"created_at"`
	Changes   []*Change `json:"changes"`
	Summary   Summary   `json:"summary"`
}

// Change is the planned transition for one resource instance.
type Change struct {
	Address      Address             `json:"address"`
	Op           Op                  `json:"op"`
	ReplaceOrder ReplaceOrder        `json:"replace_order,omitempty"`
	Reason       string              `json:"reason,omitempty"`
	Desired      *Resource           `json:"desired,omitempty"`
	Prior        *ResourceState      `json:"prior,omitempty"`
	Diff         map[string]AttrDiff `json:"diff,omitempty"`
	Deps         []Address           `json:"deps,omitempty"`
}

// AttrDiff describes one attribute's transition.
type AttrDiff struct {
	Before            any  `json:"before"`
	After             any  `json:"after"`
	Action            Op   `json:"action"`
	ForcesReplacement bool `json:"forces_replacement,omitempty"`
}

// Summary counts the plan's changes by action.
type Summary struct {
	Create  int `json:"create"`
	Update  int `json:"update"`
	Replace int `json:"replace"`
	Delete  int `json:"delete"`
	NoOp    int `json:"noop"`
}

// Empty reports whether the plan changes anything.
func (p *Plan) Empty() bool {
	return p == nil || len(p.Changes) == 0
}

// Change finds the planned change for an address, nil if the plan leaves
// it untouched.
func (p *Plan) Change(addr Address) *Change {
	if p == nil {
		return nil
	}
	for _, c := range p.Changes {
		if c.Address == addr {
			return c
		}
	}
	return nil
}

// Step is one primitive provider call implied by the plan.
type Step struct {
	Address Address
	Kind    Op
}

// Operations flattens the plan into primitive provider steps. A replace
// contributes two steps whose order follows its ReplaceOrder; every other
// change contributes one.
func (p *Plan) Operations() []Step {
	if p == nil {
		return nil
	}
	steps := make([]Step, 0, len(p.Changes))
	for _, c := range p.Changes {
		switch c.Op {
		case OpReplace:
			if c.ReplaceOrder == CreateThenDelete {
				steps = append(steps,
					Step{Address: c.Address, Kind: OpCreate},
					Step{Address: c.Address, Kind: OpDelete})
			} else {
				steps = append(steps,
					Step{Address: c.Address, Kind: OpDelete},
					Step{Address: c.Address, Kind: OpCreate})
			}
		case OpNoOp:
			// no provider call
		default:
			steps = append(steps, Step{Address: c.Address, Kind: c.Op})
		}
	}
	return steps
}
