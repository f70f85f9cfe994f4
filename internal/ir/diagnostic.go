package ir

import (
	"fmt"
	"strings"
)

// DiagKind classifies a validation failure.
type DiagKind string

const (
	// DiagInvalidDeclaration covers malformed declarations: bad count or
	// for_each, unknown providers, unparseable fields.
	DiagInvalidDeclaration DiagKind = "invalid_declaration"
	// DiagDuplicateAddress marks two declarations claiming one address.
	DiagDuplicateAddress DiagKind = "duplicate_address"
	// DiagUnresolvedReference marks a reference or depends_on entry whose
	// target is not declared anywhere.
	DiagUnresolvedReference DiagKind = "unresolved_reference"
	// DiagDanglingReference marks a reference to a resource that is in
	// state but planned for deletion, which would strand the referrer.
	DiagDanglingReference DiagKind = "dangling_reference"
	// DiagCycle marks a dependency cycle.
	DiagCycle DiagKind = "cycle"
)

// Diagnostic is one validation failure. Plans are only produced when
// validation yields no diagnostics at all.
type Diagnostic struct {
	Kind    DiagKind  `json:"kind"`
	Address Address   `json:"address,omitempty"`
	Attr    string    `json:"attr,omitempty"`
	Cycle   []Address `json:"cycle,omitempty"`
	Detail  string    `json:"detail"`
}

// Error implements the error interface.
func (d *Diagnostic) Error() string {
	var b strings.Builder
	b.WriteString(string(d.Kind))
	if d.Address != "" {
		fmt.Fprintf(&b, " at %s", d.Address)
	}
	if d.Attr != "" {
		fmt.Fprintf(&b, " (attribute %q)", d.Attr)
	}
	if d.Detail != "" {
		b.WriteString(": ")
		b.WriteString(d.Detail)
	}
	return b.String()
}

// CycleString renders a cycle path as "a -> b -> a".
func (d *Diagnostic) CycleString() string {
	if len(d.Cycle) == 0 {
		return ""
	}
	parts := make([]string, len(d.Cycle))
	for i, addr := range d.Cycle {
		parts[i] = string(addr)
	}
	return strings.Join(parts, " -> ")
}

// Diagnostics aggregates validation failures.
type Diagnostics []*Diagnostic

// HasErrors reports whether any diagnostics were collected.
func (ds Diagnostics) HasErrors() bool { return len(ds) > 0 }

// Error joins all diagnostics into one message.
func (ds Diagnostics) Error() string {
	if len(ds) == 0 {
		return "no diagnostics"
	}
	parts := make([]string, len(ds))
	for i, d := range ds {
		parts[i] = d.Error()
	}
	return strings.Join(parts, "; ")
}
