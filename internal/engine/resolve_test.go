package engine

import (
	"testing"

	"github.com/converge-io/converge/internal/ir"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func mustExpand(t *testing.T, decls []*ir.Resource) *Expansion {
	t.Helper()
	x, diags := Expand(decls)
	require.False(t, diags.HasErrors(), "expand: %v", diags)
	return x
}

func TestBuildGraph_ReferenceEdges(t *testing.T) {
	x := mustExpand(t, []*ir.Resource{
		{Type: "vpc", Name: "main", Provider: "sim"},
		{Type: "subnet", Name: "a", Provider: "sim", Attrs: map[string]ir.Value{
			"vpc_id": ir.RefValue(ir.Reference{Target: "vpc.main", Attr: "id"}),
		}},
	})

	g, diags := buildGraph(x, nil)
	require.False(t, diags.HasErrors())
	assert.Equal(t, []ir.Address{"vpc.main"}, g.Dependencies("subnet.a"))
}

func TestBuildGraph_DependsOn(t *testing.T) {
	x := mustExpand(t, []*ir.Resource{
		{Type: "bucket", Name: "a", Provider: "sim", DependsOn: []ir.Address{"bucket.b"}},
		{Type: "bucket", Name: "b", Provider: "sim"},
	})

	g, diags := buildGraph(x, nil)
	require.False(t, diags.HasErrors())
	assert.Equal(t, []ir.Address{"bucket.b"}, g.Dependencies("bucket.a"))
}

func TestBuildGraph_DependsOnCollection(t *testing.T) {
	count := 2
	x := mustExpand(t, []*ir.Resource{
		{Type: "subnet", Name: "private", Provider: "sim", Count: &count},
		{Type: "load_balancer", Name: "app", Provider: "sim", DependsOn: []ir.Address{"subnet.private"}},
	})

	g, diags := buildGraph(x, nil)
	require.False(t, diags.HasErrors())
	// Naming the collection base depends on every instance.
	assert.Equal(t, []ir.Address{"subnet.private[0]", "subnet.private[1]"}, g.Dependencies("load_balancer.app"))
}

func TestBuildGraph_AllInstancesFanIn(t *testing.T) {
	count := 3
	x := mustExpand(t, []*ir.Resource{
		{Type: "instance", Name: "web", Provider: "sim", Count: &count},
		{Type: "load_balancer", Name: "app", Provider: "sim", Attrs: map[string]ir.Value{
			"targets": ir.RefValue(ir.Reference{Target: "instance.web", Attr: "id", AllInstances: true}),
		}},
	})

	g, diags := buildGraph(x, nil)
	require.False(t, diags.HasErrors())
	assert.Equal(t, []ir.Address{
		"instance.web[0]",
		"instance.web[1]",
		"instance.web[2]",
	}, g.Dependencies("load_balancer.app"))
}

func TestBuildGraph_MissingTarget(t *testing.T) {
	x := mustExpand(t, []*ir.Resource{
		{Type: "subnet", Name: "a", Provider: "sim", Attrs: map[string]ir.Value{
			"vpc_id": ir.RefValue(ir.Reference{Target: "vpc.ghost", Attr: "id"}),
		}},
	})

	_, diags := buildGraph(x, nil)
	require.True(t, diags.HasErrors())
	assert.Equal(t, ir.DiagUnresolvedReference, diags[0].Kind)
	assert.Equal(t, ir.Address("subnet.a"), diags[0].Address)
	assert.Equal(t, "vpc_id", diags[0].Attr)
}

func TestBuildGraph_DanglingReference(t *testing.T) {
	x := mustExpand(t, []*ir.Resource{
		{Type: "subnet", Name: "a", Provider: "sim", Attrs: map[string]ir.Value{
			"vpc_id": ir.RefValue(ir.Reference{Target: "vpc.old", Attr: "id"}),
		}},
	})

	// vpc.old exists only in state, so this plan would delete it while
	// subnet.a still points at it.
	stateHas := func(addr ir.Address) bool { return addr == "vpc.old" }
	_, diags := buildGraph(x, stateHas)
	require.True(t, diags.HasErrors())
	assert.Equal(t, ir.DiagDanglingReference, diags[0].Kind)
	assert.Contains(t, diags[0].Detail, "planned for deletion")
}

func TestBuildGraph_SelfReferenceIsCycle(t *testing.T) {
	x := mustExpand(t, []*ir.Resource{
		{Type: "bucket", Name: "a", Provider: "sim", Attrs: map[string]ir.Value{
			"source": ir.RefValue(ir.Reference{Target: "bucket.a", Attr: "id"}),
		}},
	})

	g, diags := buildGraph(x, nil)
	require.False(t, diags.HasErrors())
	assert.NotNil(t, g.Cycle())
}

func TestEvalContext_ResolvesFromState(t *testing.T) {
	snap := ir.NewSnapshot()
	snap.Put("vpc.main", &ir.ResourceState{
		Type: "vpc", Name: "main", Provider: "sim", ID: "sim-vpc-0001",
		Attrs: map[string]any{"arn": "arn:sim:vpc/sim-vpc-0001"},
	})

	x := mustExpand(t, []*ir.Resource{
		{Type: "vpc", Name: "main", Provider: "sim"},
		{Type: "subnet", Name: "a", Provider: "sim", Attrs: map[string]ir.Value{
			"vpc_id":     ir.RefValue(ir.Reference{Target: "vpc.main", Attr: "id"}),
			"cidr_block": ir.Lit("10.0.1.0/24"),
		}},
	})
	ec := newEvalContext(snap, x)

	attrs, err := ec.resolveAttrs(x.Resource("subnet.a"))
	require.NoError(t, err)
	assert.Equal(t, "sim-vpc-0001", attrs["vpc_id"])
	assert.Equal(t, "10.0.1.0/24", attrs["cidr_block"])
}

func TestEvalContext_UnknownForPendingCreate(t *testing.T) {
	x := mustExpand(t, []*ir.Resource{
		{Type: "vpc", Name: "main", Provider: "sim"},
		{Type: "subnet", Name: "a", Provider: "sim", Attrs: map[string]ir.Value{
			"vpc_id": ir.RefValue(ir.Reference{Target: "vpc.main", Attr: "id"}),
		}},
	})
	ec := newEvalContext(ir.NewSnapshot(), x)
	ec.markUnknown("vpc.main")

	attrs, err := ec.resolveAttrs(x.Resource("subnet.a"))
	require.NoError(t, err)
	assert.True(t, ir.ContainsUnknown(attrs["vpc_id"]))

	// Once the target commits, the same reference resolves.
	ec.clearUnknown("vpc.main")
	ec.snap.Put("vpc.main", &ir.ResourceState{ID: "sim-vpc-0001"})
	attrs, err = ec.resolveAttrs(x.Resource("subnet.a"))
	require.NoError(t, err)
	assert.Equal(t, "sim-vpc-0001", attrs["vpc_id"])
}

func TestEvalContext_MissingAttr(t *testing.T) {
	snap := ir.NewSnapshot()
	snap.Put("vpc.main", &ir.ResourceState{ID: "sim-vpc-0001"})

	x := mustExpand(t, []*ir.Resource{
		{Type: "vpc", Name: "main", Provider: "sim"},
		{Type: "subnet", Name: "a", Provider: "sim", Attrs: map[string]ir.Value{
			"vpc_id": ir.RefValue(ir.Reference{Target: "vpc.main", Attr: "nonexistent"}),
		}},
	})
	ec := newEvalContext(snap, x)

	_, err := ec.resolveAttrs(x.Resource("subnet.a"))
	require.Error(t, err)
	assert.Contains(t, err.Error(), `has no attribute "nonexistent"`)
}

func TestEvalContext_ExpandResourcePinsInstances(t *testing.T) {
	count := 2
	x := mustExpand(t, []*ir.Resource{
		{Type: "instance", Name: "web", Provider: "sim", Count: &count},
		{Type: "load_balancer", Name: "app", Provider: "sim", Attrs: map[string]ir.Value{
			"targets": ir.RefValue(ir.Reference{Target: "instance.web", Attr: "id", AllInstances: true}),
		}},
	})
	ec := newEvalContext(ir.NewSnapshot(), x)

	expanded, err := ec.expandResource(x.Resource("load_balancer.app"))
	require.NoError(t, err)

	targets := expanded.Attrs["targets"]
	require.Equal(t, ir.KindList, targets.Kind)
	require.Len(t, targets.List, 2)
	assert.Equal(t, ir.Address("instance.web[0]"), targets.List[0].Ref.Target)
	assert.Equal(t, ir.Address("instance.web[1]"), targets.List[1].Ref.Target)
	assert.False(t, targets.List[0].Ref.AllInstances)

	// The original declaration is untouched.
	assert.Equal(t, ir.KindRef, x.Resource("load_balancer.app").Attrs["targets"].Kind)
}
