package provider

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type stub struct{ name string }

func (s *stub) Name() string                      { return s.name }
func (s *stub) Schema(string) (TypeSchema, error) { return TypeSchema{}, nil }
func (s *stub) Read(context.Context, string, string) (map[string]any, error) {
	return nil, nil
}
func (s *stub) Create(context.Context, string, map[string]any) (string, map[string]any, error) {
	return "", nil, nil
}
func (s *stub) Update(context.Context, string, string, map[string]any) (map[string]any, error) {
	return nil, nil
}
func (s *stub) Delete(context.Context, string, string) error { return nil }

func TestRegistry(t *testing.T) {
	r := NewRegistry()
	assert.False(t, r.Has("alpha"))
	assert.Empty(t, r.Names())

	r.Register(&stub{name: "beta"})
	r.Register(&stub{name: "alpha"})

	assert.True(t, r.Has("alpha"))
	assert.Equal(t, []string{"alpha", "beta"}, r.Names())

	p, err := r.Get("beta")
	require.NoError(t, err)
	assert.Equal(t, "beta", p.Name())

	_, err = r.Get("gamma")
	assert.ErrorContains(t, err, "provider not registered: gamma")

	// Re-registering under the same name replaces.
	second := &stub{name: "alpha"}
	r.Register(second)
	got, err := r.Get("alpha")
	require.NoError(t, err)
	assert.Same(t, second, got.(*stub))
}

func TestErrorTaxonomy(t *testing.T) {
	nf := &NotFoundError{Type: "vpc", ID: "sim-vpc-1"}
	assert.Equal(t, `vpc "sim-vpc-1" not found`, nf.Error())
	assert.True(t, IsNotFound(nf))
	assert.True(t, IsNotFound(fmt.Errorf("read: %w", nf)))
	assert.False(t, IsNotFound(errors.New("other")))

	te := Transient(errors.New("throttled"))
	assert.True(t, IsTransient(te))
	assert.True(t, IsTransient(fmt.Errorf("apply: %w", te)))
	assert.False(t, IsTransient(errors.New("fatal")))
	assert.Nil(t, Transient(nil))

	var unwrapped *TransientError
	require.True(t, errors.As(te, &unwrapped))
	assert.EqualError(t, unwrapped.Unwrap(), "throttled")
}

func TestTypeSchemaForcesReplacement(t *testing.T) {
	schema := TypeSchema{Type: "subnet", Immutable: []string{"vpc_id", "cidr_block"}}
	assert.True(t, schema.ForcesReplacement("vpc_id"))
	assert.False(t, schema.ForcesReplacement("tags"))
}
