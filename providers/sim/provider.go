// Package sim implements an in-memory cloud. Resources live in a map,
// identifiers are deterministic per type, and operations take effect
// immediately. Test hooks inject failures and latency so scheduler
// behavior (retries, skips, parallelism) can be exercised without a real
// cloud account.
package sim

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/converge-io/converge/internal/provider"
)

// Call records one provider invocation.
type Call struct {
	Op   string
	Type string
	ID   string
}

type failureRule struct {
	err   error
	times int // remaining injected failures; <0 means always
}

type object struct {
	typ   string
	attrs map[string]any
}

// Provider is the simulated cloud. Safe for concurrent use.
type Provider struct {
	mu       sync.Mutex
	seq      map[string]int
	objects  map[string]*object
	calls    []Call
	failures map[string]*failureRule
	latency  time.Duration

	inFlight    int
	maxInFlight int
}

var _ provider.Interface = (*Provider)(nil)

func New() *Provider {
	return &Provider{
		seq:      make(map[string]int),
		objects:  make(map[string]*object),
		failures: make(map[string]*failureRule),
	}
}

func (p *Provider) Name() string { return "sim" }

func (p *Provider) Schema(typ string) (provider.TypeSchema, error) {
	return schemaFor(typ)
}

func (p *Provider) Create(ctx context.Context, typ string, attrs map[string]any) (string, map[string]any, error) {
	def, err := lookupType(typ)
	if err != nil {
		return "", nil, err
	}
	if err := p.begin("create", typ, ""); err != nil {
		return "", nil, err
	}
	defer p.end()
	if err := p.simulate(ctx); err != nil {
		return "", nil, err
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	p.seq[typ]++
	id := fmt.Sprintf("sim-%s-%04d", typ, p.seq[typ])
	stored := copyAttrs(attrs)
	for k, v := range def.computed(id, stored) {
		stored[k] = v
	}
	p.objects[id] = &object{typ: typ, attrs: stored}
	return id, copyAttrs(stored), nil
}

func (p *Provider) Read(ctx context.Context, typ, id string) (map[string]any, error) {
	if err := p.begin("read", typ, id); err != nil {
		return nil, err
	}
	defer p.end()
	if err := p.simulate(ctx); err != nil {
		return nil, err
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	obj, ok := p.objects[id]
	if !ok || obj.typ != typ {
		return nil, &provider.NotFoundError{Type: typ, ID: id}
	}
	return copyAttrs(obj.attrs), nil
}

func (p *Provider) Update(ctx context.Context, typ, id string, attrs map[string]any) (map[string]any, error) {
	def, err := lookupType(typ)
	if err != nil {
		return nil, err
	}
	if err := p.begin("update", typ, id); err != nil {
		return nil, err
	}
	defer p.end()
	if err := p.simulate(ctx); err != nil {
		return nil, err
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	obj, ok := p.objects[id]
	if !ok || obj.typ != typ {
		return nil, &provider.NotFoundError{Type: typ, ID: id}
	}
	stored := copyAttrs(attrs)
	for k, v := range def.computed(id, stored) {
		stored[k] = v
	}
	obj.attrs = stored
	return copyAttrs(stored), nil
}

func (p *Provider) Delete(ctx context.Context, typ, id string) error {
	if err := p.begin("delete", typ, id); err != nil {
		return err
	}
	defer p.end()
	if err := p.simulate(ctx); err != nil {
		return err
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	// deleting an absent resource is a no-op
	delete(p.objects, id)
	return nil
}

// FailWith makes every subsequent op on typ fail with err.
func (p *Provider) FailWith(op, typ string, err error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.failures[op+"/"+typ] = &failureRule{err: err, times: -1}
}

// FailTimes makes the next n ops on typ fail with err, then succeed.
func (p *Provider) FailTimes(op, typ string, n int, err error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.failures[op+"/"+typ] = &failureRule{err: err, times: n}
}

// ClearFailures removes all injected failures.
func (p *Provider) ClearFailures() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.failures = make(map[string]*failureRule)
}

// SetLatency adds an artificial delay to every operation.
func (p *Provider) SetLatency(d time.Duration) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.latency = d
}

// Calls returns the recorded invocations in order.
func (p *Provider) Calls() []Call {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]Call(nil), p.calls...)
}

// CallsFor filters the call log by op and type.
func (p *Provider) CallsFor(op, typ string) []Call {
	var out []Call
	for _, c := range p.Calls() {
		if c.Op == op && c.Type == typ {
			out = append(out, c)
		}
	}
	return out
}

// MaxInFlight reports the highest number of concurrently running ops
// observed, which is how tests verify parallel scheduling.
func (p *Provider) MaxInFlight() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.maxInFlight
}

// Object returns a copy of a live resource's attributes.
func (p *Provider) Object(id string) (map[string]any, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	obj, ok := p.objects[id]
	if !ok {
		return nil, false
	}
	return copyAttrs(obj.attrs), true
}

// Len counts live resources.
func (p *Provider) Len() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.objects)
}

// SetAttr mutates a live resource out of band, simulating drift.
func (p *Provider) SetAttr(id, key string, v any) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if obj, ok := p.objects[id]; ok {
		obj.attrs[key] = v
	}
}

// Destroy removes a resource out of band, so the next Read sees it gone.
func (p *Provider) Destroy(id string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	delete(p.objects, id)
}

func (p *Provider) begin(op, typ, id string) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.calls = append(p.calls, Call{Op: op, Type: typ, ID: id})
	if rule, ok := p.failures[op+"/"+typ]; ok {
		if rule.times < 0 {
			return rule.err
		}
		if rule.times > 0 {
			rule.times--
			return rule.err
		}
	}
	p.inFlight++
	if p.inFlight > p.maxInFlight {
		p.maxInFlight = p.inFlight
	}
	return nil
}

func (p *Provider) end() {
	p.mu.Lock()
	p.inFlight--
	p.mu.Unlock()
}

// simulate waits out the configured latency, honoring cancellation.
func (p *Provider) simulate(ctx context.Context) error {
	p.mu.Lock()
	d := p.latency
	p.mu.Unlock()
	if d <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-timer.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func copyAttrs(attrs map[string]any) map[string]any {
	out := make(map[string]any, len(attrs))
	for k, v := range attrs {
		out[k] = copyVal(v)
	}
	return out
}

func copyVal(v any) any {
	switch t := v.(type) {
	case []any:
		out := make([]any, len(t))
		for i, e := range t {
			out[i] = copyVal(e)
		}
		return out
	case map[string]any:
		return copyAttrs(t)
	default:
		return v
	}
}

// seqOf extracts the numeric suffix of a sim id for derived attributes.
func seqOf(id string) int {
	i := strings.LastIndex(id, "-")
	if i < 0 {
		return 0
	}
	n, err := strconv.Atoi(id[i+1:])
	if err != nil {
		return 0
	}
	return n
}
