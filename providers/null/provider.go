// Package null implements the no-op provider. A null_resource owns no
// real infrastructure; its "triggers" map exists purely to force
// replacement when its contents change, which makes it handy for chaining
// side effects onto other resources.
package null

import (
	"context"
	"fmt"
	"sync"

	"github.com/converge-io/converge/internal/provider"
)

const resourceType = "null_resource"

type Provider struct {
	mu   sync.Mutex
	seq  int
	live map[string]map[string]any
}

var _ provider.Interface = (*Provider)(nil)

func New() *Provider {
	return &Provider{live: make(map[string]map[string]any)}
}

func (p *Provider) Name() string { return "null" }

func (p *Provider) Schema(typ string) (provider.TypeSchema, error) {
	if typ != resourceType {
		return provider.TypeSchema{}, fmt.Errorf("null: unknown resource type %q", typ)
	}
	return provider.TypeSchema{
		Type:      resourceType,
		Immutable: []string{"triggers"},
	}, nil
}

func (p *Provider) Create(ctx context.Context, typ string, attrs map[string]any) (string, map[string]any, error) {
	if typ != resourceType {
		return "", nil, fmt.Errorf("null: unknown resource type %q", typ)
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	p.seq++
	id := fmt.Sprintf("null-%04d", p.seq)
	out := map[string]any{}
	for k, v := range attrs {
		out[k] = v
	}
	p.live[id] = out
	return id, out, nil
}

func (p *Provider) Read(ctx context.Context, typ, id string) (map[string]any, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	attrs, ok := p.live[id]
	if !ok {
		return nil, &provider.NotFoundError{Type: typ, ID: id}
	}
	return attrs, nil
}

func (p *Provider) Update(ctx context.Context, typ, id string, attrs map[string]any) (map[string]any, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if _, ok := p.live[id]; !ok {
		return nil, &provider.NotFoundError{Type: typ, ID: id}
	}
	out := map[string]any{}
	for k, v := range attrs {
		out[k] = v
	}
	p.live[id] = out
	return out, nil
}

func (p *Provider) Delete(ctx context.Context, typ, id string) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	delete(p.live, id)
	return nil
}
