package ir

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDecodeDeclarations(t *testing.T) {
	data := []byte(`{
		"resources": [
			{
				"type": "vpc",
				"name": "main",
				"attrs": {"cidr_block": "10.0.0.0/16"}
			},
			{
				"type": "subnet",
				"name": "private",
				"count": 2,
				"depends_on": ["vpc.main"],
				"timeout": "90s",
				"attrs": {
					"vpc_id": "ref://vpc.main/id",
					"cidr_block": "10.0.${count.index}.0/24"
				}
			},
			{
				"type": "null_resource",
				"name": "marker",
				"attrs": {"triggers": {"rev": "1"}}
			}
		]
	}`)

	resources, err := DecodeDeclarations(data)
	require.NoError(t, err)
	require.Len(t, resources, 3)

	vpc := resources[0]
	assert.Equal(t, Address("vpc.main"), vpc.Address())
	assert.Equal(t, "sim", vpc.Provider, "provider defaults when omitted")
	assert.Nil(t, vpc.Count)

	subnet := resources[1]
	require.NotNil(t, subnet.Count)
	assert.Equal(t, 2, *subnet.Count)
	assert.Equal(t, []Address{"vpc.main"}, subnet.DependsOn)
	assert.Equal(t, Duration(90*time.Second), subnet.Timeout)
	assert.Equal(t, KindRef, subnet.Attrs["vpc_id"].Kind)

	assert.Equal(t, "null", resources[2].Provider)
}

func TestDefaultProvider(t *testing.T) {
	assert.Equal(t, "null", DefaultProvider("null_resource"))
	assert.Equal(t, "aws", DefaultProvider("aws_s3_bucket"))
	assert.Equal(t, "docker", DefaultProvider("docker_container"))
	assert.Equal(t, "sim", DefaultProvider("vpc"))
	assert.Equal(t, "sim", DefaultProvider("load_balancer"))
}

func TestDecodeDeclarationsErrors(t *testing.T) {
	tests := []struct {
		name string
		data string
	}{
		{"not json", `{resources: []`},
		{"missing type", `{"resources": [{"name": "x"}]}`},
		{"missing name", `{"resources": [{"type": "vpc"}]}`},
		{"reserved name", `{"resources": [{"type": "vpc", "name": "a.b"}]}`},
		{"bad depends_on", `{"resources": [{"type": "vpc", "name": "x", "depends_on": ["nodot"]}]}`},
		{"bad ref", `{"resources": [{"type": "vpc", "name": "x", "attrs": {"a": "ref://broken"}}]}`},
		{"bad timeout", `{"resources": [{"type": "vpc", "name": "x", "timeout": "soon"}]}`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := DecodeDeclarations([]byte(tt.data))
			assert.Error(t, err)
		})
	}
}

func TestResourceDeepCopy(t *testing.T) {
	count := 2
	cbd := true
	res := &Resource{
		Type:      "subnet",
		Name:      "private",
		Provider:  "sim",
		Count:     &count,
		DependsOn: []Address{"vpc.main"},
		Lifecycle: Lifecycle{
			IgnoreChanges:       []string{"tags"},
			CreateBeforeDestroy: &cbd,
		},
		Attrs: map[string]Value{
			"tags": {Kind: KindMap, Map: map[string]Value{"env": Lit("prod")}},
		},
	}

	clone := res.DeepCopy()
	clone.Name = "other"
	*clone.Count = 9
	clone.DependsOn[0] = "vpc.other"
	clone.Attrs["tags"].Map["env"] = Lit("dev")
	clone.Lifecycle.IgnoreChanges[0] = "nothing"

	assert.Equal(t, "private", res.Name)
	assert.Equal(t, 2, *res.Count)
	assert.Equal(t, Address("vpc.main"), res.DependsOn[0])
	assert.Equal(t, "prod", res.Attrs["tags"].Map["env"].Lit)
	assert.Equal(t, "tags", res.Lifecycle.IgnoreChanges[0])
}

func TestSnapshotBasics(t *testing.T) {
	snap := NewSnapshot()
	assert.Equal(t, StateVersion, snap.Version)
	assert.NotEmpty(t, snap.Lineage)
	assert.True(t, snap.Empty())

	snap.Put("vpc.main", &ResourceState{Type: "vpc", Name: "main", ID: "sim-vpc-1"})
	snap.Put("subnet.a", &ResourceState{Type: "subnet", Name: "a", ID: "sim-subnet-1"})

	assert.Equal(t, []Address{"subnet.a", "vpc.main"}, snap.Addresses())
	assert.NotNil(t, snap.Resource("vpc.main"))

	snap.Remove("subnet.a")
	assert.Nil(t, snap.Resource("subnet.a"))
}

func TestSnapshotDeepCopy(t *testing.T) {
	snap := NewSnapshot()
	snap.Serial = 4
	snap.Put("vpc.main", &ResourceState{
		Type:   "vpc",
		Name:   "main",
		ID:     "sim-vpc-1",
		Inputs: map[string]any{"cidr_block": "10.0.0.0/16"},
		Attrs:  map[string]any{"arn": "arn:sim:vpc/sim-vpc-1"},
		Deps:   []Address{"igw.main"},
	})

	clone := snap.DeepCopy()
	clone.Serial = 9
	clone.Resource("vpc.main").Inputs["cidr_block"] = "changed"
	clone.Resource("vpc.main").Deps[0] = "other.dep"

	assert.Equal(t, uint64(4), snap.Serial)
	assert.Equal(t, "10.0.0.0/16", snap.Resource("vpc.main").Inputs["cidr_block"])
	assert.Equal(t, Address("igw.main"), snap.Resource("vpc.main").Deps[0])
}

func TestResourceStateAttr(t *testing.T) {
	rs := &ResourceState{
		ID:     "sim-vpc-1",
		Inputs: map[string]any{"cidr_block": "10.0.0.0/16"},
		Attrs:  map[string]any{"arn": "arn:sim:vpc/sim-vpc-1", "cidr_block": "10.0.0.0/16"},
	}

	id, ok := rs.Attr("id")
	require.True(t, ok)
	assert.Equal(t, "sim-vpc-1", id)

	arn, ok := rs.Attr("arn")
	require.True(t, ok)
	assert.Equal(t, "arn:sim:vpc/sim-vpc-1", arn)

	_, ok = rs.Attr("missing")
	assert.False(t, ok)
}

func TestAddressParts(t *testing.T) {
	addr := MakeAddress("subnet", "private").Indexed(2)
	assert.Equal(t, Address("subnet.private[2]"), addr)
	assert.True(t, addr.HasIndex())
	assert.Equal(t, Address("subnet.private"), addr.Base())

	typ, name := addr.Split()
	assert.Equal(t, "subnet", typ)
	assert.Equal(t, "private[2]", name)

	keyed := MakeAddress("subnet", "zones").Keyed("us-east-1a")
	assert.Equal(t, Address(`subnet.zones["us-east-1a"]`), keyed)
	assert.Equal(t, Address("subnet.zones"), keyed.Base())
}

func TestPlanOperations(t *testing.T) {
	plan := &Plan{
		Changes: []*Change{
			{Address: "vpc.main", Op: OpCreate},
			{Address: "subnet.a", Op: OpReplace, ReplaceOrder: CreateThenDelete},
			{Address: "bucket.logs", Op: OpReplace, ReplaceOrder: DeleteThenCreate},
			{Address: "sg.web", Op: OpUpdate},
		},
	}

	steps := plan.Operations()
	require.Len(t, steps, 6)

	assert.Equal(t, Step{Address: "vpc.main", Kind: OpCreate}, steps[0])
	// create-before-destroy: create strictly precedes delete
	assert.Equal(t, Step{Address: "subnet.a", Kind: OpCreate}, steps[1])
	assert.Equal(t, Step{Address: "subnet.a", Kind: OpDelete}, steps[2])
	// default replace order: delete first
	assert.Equal(t, Step{Address: "bucket.logs", Kind: OpDelete}, steps[3])
	assert.Equal(t, Step{Address: "bucket.logs", Kind: OpCreate}, steps[4])
	assert.Equal(t, Step{Address: "sg.web", Kind: OpUpdate}, steps[5])
}
