package engine

import (
	"testing"

	"github.com/converge-io/converge/internal/ir"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestExpand_Singleton(t *testing.T) {
	decls := []*ir.Resource{
		{Type: "vpc", Name: "main", Provider: "sim", Attrs: map[string]ir.Value{
			"cidr_block": ir.Lit("10.0.0.0/16"),
		}},
	}

	x, diags := Expand(decls)
	require.False(t, diags.HasErrors())
	require.Len(t, x.Resources, 1)
	assert.Equal(t, ir.Address("vpc.main"), x.Resources[0].Address())
	assert.Equal(t, []ir.Address{"vpc.main"}, x.Instances["vpc.main"])
	assert.NotNil(t, x.Resource("vpc.main"))
}

func TestExpand_Count(t *testing.T) {
	count := 3
	decls := []*ir.Resource{
		{Type: "subnet", Name: "private", Provider: "sim", Count: &count, Attrs: map[string]ir.Value{
			"cidr_block": ir.Lit("10.0.${count.index}.0/24"),
		}},
	}

	x, diags := Expand(decls)
	require.False(t, diags.HasErrors())
	require.Len(t, x.Resources, 3)

	assert.Equal(t, []ir.Address{
		"subnet.private[0]",
		"subnet.private[1]",
		"subnet.private[2]",
	}, x.Instances["subnet.private"])

	// The index placeholder is substituted per instance.
	inst := x.Resource("subnet.private[1]")
	require.NotNil(t, inst)
	assert.Equal(t, ir.Lit("10.0.1.0/24"), inst.Attrs["cidr_block"])
	assert.Nil(t, inst.Count)
}

func TestExpand_CountZero(t *testing.T) {
	count := 0
	decls := []*ir.Resource{
		{Type: "subnet", Name: "spare", Provider: "sim", Count: &count},
	}

	x, diags := Expand(decls)
	require.False(t, diags.HasErrors())
	assert.Empty(t, x.Resources)

	// The collection exists, with zero instances.
	instances, ok := x.Instances["subnet.spare"]
	require.True(t, ok)
	assert.Empty(t, instances)
}

func TestExpand_ForEach(t *testing.T) {
	decls := []*ir.Resource{
		{Type: "bucket", Name: "logs", Provider: "sim", ForEach: map[string]any{
			"audit": "audit-bucket",
			"app":   "app-bucket",
		}, Attrs: map[string]ir.Value{
			"bucket": ir.Lit("${each.value}"),
			"tag":    ir.Lit("${each.key}"),
		}},
	}

	x, diags := Expand(decls)
	require.False(t, diags.HasErrors())
	require.Len(t, x.Resources, 2)

	// Keys come out sorted regardless of map order.
	assert.Equal(t, []ir.Address{
		`bucket.logs["app"]`,
		`bucket.logs["audit"]`,
	}, x.Instances["bucket.logs"])

	app := x.Resource(`bucket.logs["app"]`)
	require.NotNil(t, app)
	assert.Equal(t, ir.Lit("app-bucket"), app.Attrs["bucket"])
	assert.Equal(t, ir.Lit("app"), app.Attrs["tag"])
}

func TestExpand_CountIndexInReference(t *testing.T) {
	count := 2
	v, err := ir.DecodeValue("ref://subnet.private[${count.index}]/id")
	require.NoError(t, err)

	decls := []*ir.Resource{
		{Type: "instance", Name: "web", Provider: "sim", Count: &count, Attrs: map[string]ir.Value{
			"subnet_id": v,
		}},
	}

	x, diags := Expand(decls)
	require.False(t, diags.HasErrors())

	inst := x.Resource("instance.web[1]")
	require.NotNil(t, inst)
	ref := inst.Attrs["subnet_id"]
	require.Equal(t, ir.KindRef, ref.Kind)
	assert.Equal(t, ir.Address("subnet.private[1]"), ref.Ref.Target)
}

func TestExpand_PreservesLifecycle(t *testing.T) {
	count := 2
	decls := []*ir.Resource{
		{Type: "vpc", Name: "main", Provider: "sim", Count: &count, Lifecycle: ir.Lifecycle{
			PreventDestroy: true,
			IgnoreChanges:  []string{"tags"},
		}},
	}

	x, diags := Expand(decls)
	require.False(t, diags.HasErrors())
	require.Len(t, x.Resources, 2)
	for _, inst := range x.Resources {
		assert.True(t, inst.Lifecycle.PreventDestroy)
		assert.Equal(t, []string{"tags"}, inst.Lifecycle.IgnoreChanges)
	}
}

func TestExpand_DuplicateAddress(t *testing.T) {
	decls := []*ir.Resource{
		{Type: "vpc", Name: "main", Provider: "sim"},
		{Type: "vpc", Name: "main", Provider: "sim"},
	}

	_, diags := Expand(decls)
	require.True(t, diags.HasErrors())
	assert.Equal(t, ir.DiagDuplicateAddress, diags[0].Kind)
	assert.Equal(t, ir.Address("vpc.main"), diags[0].Address)
}

func TestExpand_CountForEachConflict(t *testing.T) {
	count := 2
	decls := []*ir.Resource{
		{Type: "vpc", Name: "main", Provider: "sim", Count: &count, ForEach: map[string]any{"a": 1}},
	}

	_, diags := Expand(decls)
	require.True(t, diags.HasErrors())
	assert.Equal(t, ir.DiagInvalidDeclaration, diags[0].Kind)
	assert.Contains(t, diags[0].Detail, "mutually exclusive")
}

func TestExpand_NegativeCount(t *testing.T) {
	count := -1
	decls := []*ir.Resource{
		{Type: "vpc", Name: "main", Provider: "sim", Count: &count},
	}

	_, diags := Expand(decls)
	require.True(t, diags.HasErrors())
	assert.Equal(t, ir.DiagInvalidDeclaration, diags[0].Kind)
}
