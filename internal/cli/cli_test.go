package cli

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/converge-io/converge/internal/ir"
)

func TestFormatDeclaration(t *testing.T) {
	tests := []struct {
		name     string
		input    string
		expected string
	}{
		{
			name:     "compact input",
			input:    `{"resources":[{"type":"vpc","name":"main"}]}`,
			expected: "{\n  \"resources\": [\n    {\n      \"type\": \"vpc\",\n      \"name\": \"main\"\n    }\n  ]\n}\n",
		},
		{
			name:     "already formatted",
			input:    "{\n  \"resources\": []\n}\n",
			expected: "{\n  \"resources\": []\n}\n",
		},
		{
			name:     "missing trailing newline",
			input:    "{\n  \"resources\": []\n}",
			expected: "{\n  \"resources\": []\n}\n",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			result, err := formatDeclaration([]byte(tt.input))
			require.NoError(t, err)
			assert.Equal(t, tt.expected, string(result))
		})
	}
}

func TestFormatDeclaration_InvalidJSON(t *testing.T) {
	_, err := formatDeclaration([]byte(`{"resources": [`))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "invalid JSON")
}

func TestColorize(t *testing.T) {
	// When noColor is false, colorize should return the code
	noColor = false
	assert.Equal(t, "\033[31m", colorize("\033[31m"))

	// When noColor is true, colorize should return empty string
	noColor = true
	assert.Equal(t, "", colorize("\033[31m"))

	// Reset
	noColor = false
}

func TestCurrentWorkspace(t *testing.T) {
	t.Chdir(t.TempDir())

	// When no workspace file exists, should return "default"
	assert.Equal(t, "default", currentWorkspace())

	require.NoError(t, os.MkdirAll(".converge", 0755))
	require.NoError(t, os.WriteFile(filepath.Join(".converge", "workspace"), []byte("staging\n"), 0644))
	assert.Equal(t, "staging", currentWorkspace())
}

func TestWorkspaceStatePath(t *testing.T) {
	t.Chdir(t.TempDir())

	assert.Equal(t, filepath.Join(".converge", "state.json"), WorkspaceStatePath())

	require.NoError(t, os.MkdirAll(".converge", 0755))
	require.NoError(t, os.WriteFile(filepath.Join(".converge", "workspace"), []byte("staging"), 0644))
	assert.Equal(t, filepath.Join(".converge", "state.staging.json"), WorkspaceStatePath())
}

func TestListWorkspaces(t *testing.T) {
	t.Chdir(t.TempDir())
	require.NoError(t, os.MkdirAll(".converge", 0755))
	for _, name := range []string{"state.json", "state.staging.json", "state.dev.json", "state.json.lock"} {
		require.NoError(t, os.WriteFile(filepath.Join(".converge", name), []byte("{}"), 0644))
	}

	workspaces, err := listWorkspaces()
	require.NoError(t, err)
	assert.Equal(t, []string{"default", "dev", "staging"}, workspaces)
}

func TestMapTFProvider(t *testing.T) {
	tests := []struct {
		input    string
		expected string
	}{
		{"registry.terraform.io/hashicorp/aws", "aws"},
		{"registry.terraform.io/hashicorp/null", "null"},
		{`provider["registry.terraform.io/hashicorp/null"]`, "null"},
		{`provider["registry.terraform.io/kreuzwerker/docker"]`, "docker"},
		{"registry.terraform.io/hashicorp/google", "sim"},
		{"aws", "aws"},
	}

	for _, tt := range tests {
		t.Run(tt.input, func(t *testing.T) {
			assert.Equal(t, tt.expected, mapTFProvider(tt.input))
		})
	}
}

func TestMapTFResource(t *testing.T) {
	registry := newRegistry()
	awsProvider := `provider["registry.terraform.io/hashicorp/aws"]`

	tests := []struct {
		tfType       string
		tfProvider   string
		wantType     string
		wantProvider string
	}{
		// Types the native provider serves keep their names.
		{"aws_s3_bucket", awsProvider, "aws_s3_bucket", "aws"},
		{"aws_sqs_queue", awsProvider, "aws_sqs_queue", "aws"},
		{"docker_container", `provider["registry.terraform.io/kreuzwerker/docker"]`, "docker_container", "docker"},
		{"null_resource", `provider["registry.terraform.io/hashicorp/null"]`, "null_resource", "null"},
		// Types it does not serve fold into the simulator.
		{"aws_vpc", awsProvider, "vpc", "sim"},
		{"aws_db_instance", awsProvider, "database", "sim"},
		// Foreign providers always simulate.
		{"google_compute_instance", `provider["registry.terraform.io/hashicorp/google"]`, "instance", "sim"},
		{"google_custom_widget", `provider["registry.terraform.io/hashicorp/google"]`, "custom_widget", "sim"},
	}

	for _, tt := range tests {
		t.Run(tt.tfType, func(t *testing.T) {
			typ, prov := mapTFResource(registry, tt.tfType, tt.tfProvider)
			assert.Equal(t, tt.wantType, typ)
			assert.Equal(t, tt.wantProvider, prov)
		})
	}
}

func TestSimType(t *testing.T) {
	assert.Equal(t, "vpc", simType("aws_vpc"))
	assert.Equal(t, "bucket", simType("google_storage_bucket"))
	assert.Equal(t, "custom_widget", simType("aws_custom_widget"))
	assert.Equal(t, "singleword", simType("singleword"))
}

func TestMapTFDependencies(t *testing.T) {
	registry := newRegistry()
	deps := mapTFDependencies(registry, []string{"aws_vpc.main", "module.net.aws_subnet.a", "aws_s3_bucket.logs", "garbage"})
	assert.Equal(t, []ir.Address{"vpc.main", "subnet.a", "aws_s3_bucket.logs"}, deps)
}

func TestInstanceAddress(t *testing.T) {
	base := ir.Address("subnet.private")

	assert.Equal(t, base, instanceAddress(base, nil, 0, 1))
	assert.Equal(t, ir.Address("subnet.private[1]"), instanceAddress(base, nil, 1, 3))
	assert.Equal(t, ir.Address("subnet.private[2]"), instanceAddress(base, float64(2), 0, 3))
	assert.Equal(t, ir.Address(`subnet.private["blue"]`), instanceAddress(base, "blue", 0, 2))
}

func TestEvaluatePolicies(t *testing.T) {
	t.Run("deny_action", func(t *testing.T) {
		plan := &ir.Plan{
			Changes: []*ir.Change{{
				Address: "bucket.logs",
				Op:      ir.OpDelete,
				Prior:   &ir.ResourceState{Type: "bucket", Name: "logs", Provider: "sim"},
			}},
		}
		policies := &PolicyFile{
			Rules: []PolicyRule{{
				Name:      "no-delete",
				Condition: "deny_action",
				Value:     "delete",
				Severity:  "error",
			}},
		}
		violations := evaluatePolicies(plan, policies)
		assert.Len(t, violations, 1)
	})

	t.Run("require_property", func(t *testing.T) {
		plan := testPolicyPlan(ir.OpCreate, "bucket", "assets", map[string]ir.Value{
			"bucket": ir.Lit("assets"),
		})
		policies := &PolicyFile{
			Rules: []PolicyRule{{
				Name:         "require-tags",
				Condition:    "require_property",
				Property:     "tags",
				ResourceType: "bucket",
				Severity:     "error",
			}},
		}
		violations := evaluatePolicies(plan, policies)
		assert.Len(t, violations, 1)
	})

	t.Run("require_property skips deletes", func(t *testing.T) {
		plan := &ir.Plan{
			Changes: []*ir.Change{{
				Address: "bucket.logs",
				Op:      ir.OpDelete,
				Prior:   &ir.ResourceState{Type: "bucket", Name: "logs", Provider: "sim"},
			}},
		}
		policies := &PolicyFile{
			Rules: []PolicyRule{{
				Name:      "require-tags",
				Condition: "require_property",
				Property:  "tags",
				Severity:  "error",
			}},
		}
		assert.Empty(t, evaluatePolicies(plan, policies))
	})

	t.Run("property_equals", func(t *testing.T) {
		plan := testPolicyPlan(ir.OpCreate, "bucket", "assets", map[string]ir.Value{
			"acl": ir.Lit("public-read"),
		})
		policies := &PolicyFile{
			Rules: []PolicyRule{{
				Name:         "no-public-acl",
				Description:  "Buckets must not be public",
				Condition:    "property_equals",
				Property:     "acl",
				Value:        "public-read",
				ResourceType: "bucket",
				Severity:     "error",
			}},
		}
		violations := evaluatePolicies(plan, policies)
		assert.Len(t, violations, 1)
	})

	t.Run("property_not_equals", func(t *testing.T) {
		policies := &PolicyFile{
			Rules: []PolicyRule{{
				Name:      "private-only",
				Condition: "property_not_equals",
				Property:  "acl",
				Value:     "private",
				Severity:  "warning",
			}},
		}

		ok := testPolicyPlan(ir.OpCreate, "bucket", "assets", map[string]ir.Value{
			"acl": ir.Lit("private"),
		})
		assert.Empty(t, evaluatePolicies(ok, policies))

		bad := testPolicyPlan(ir.OpCreate, "bucket", "assets", map[string]ir.Value{
			"acl": ir.Lit("public-read"),
		})
		assert.Len(t, evaluatePolicies(bad, policies), 1)
	})

	t.Run("resource_type filter", func(t *testing.T) {
		plan := testPolicyPlan(ir.OpCreate, "vpc", "main", map[string]ir.Value{
			"acl": ir.Lit("public-read"),
		})
		policies := &PolicyFile{
			Rules: []PolicyRule{{
				Name:         "no-public-acl",
				Condition:    "property_equals",
				Property:     "acl",
				Value:        "public-read",
				ResourceType: "bucket",
				Severity:     "error",
			}},
		}
		assert.Empty(t, evaluatePolicies(plan, policies))
	})
}

func testPolicyPlan(op ir.Op, typ, name string, attrs map[string]ir.Value) *ir.Plan {
	return &ir.Plan{
		Changes: []*ir.Change{{
			Address: ir.MakeAddress(typ, name),
			Op:      op,
			Desired: &ir.Resource{Type: typ, Name: name, Provider: "sim", Attrs: attrs},
		}},
	}
}

func TestFormatAttr(t *testing.T) {
	assert.Equal(t, "null", formatAttr(nil))
	assert.Equal(t, `"web-1"`, formatAttr("web-1"))
	assert.Equal(t, "42", formatAttr(float64(42)))
	assert.Equal(t, ir.UnknownSentinel, formatAttr(ir.UnknownValue{}))
	assert.Equal(t, `"10.0.0.0/16"`, formatAttr(ir.Lit("10.0.0.0/16")))
	assert.Equal(t, `["a","b"]`, formatAttr([]string{"a", "b"}))
}

func TestOpSymbol(t *testing.T) {
	assert.Equal(t, "+", opSymbol(ir.OpCreate))
	assert.Equal(t, "-", opSymbol(ir.OpDelete))
	assert.Equal(t, "-/+", opSymbol(ir.OpReplace))
	assert.Equal(t, "~", opSymbol(ir.OpUpdate))
}

func TestOpVerb(t *testing.T) {
	assert.Equal(t, "created", opVerb(ir.OpCreate))
	assert.Equal(t, "updated in-place", opVerb(ir.OpUpdate))
	assert.Equal(t, "replaced", opVerb(ir.OpReplace))
	assert.Equal(t, "destroyed", opVerb(ir.OpDelete))
	assert.Equal(t, "left unchanged", opVerb(ir.OpNoOp))
}

func TestTargetAddresses(t *testing.T) {
	addrs, err := targetAddresses([]string{"vpc.main", "subnet.private[2]"})
	require.NoError(t, err)
	assert.Equal(t, []ir.Address{"vpc.main", "subnet.private[2]"}, addrs)

	_, err = targetAddresses([]string{"notanaddress"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "invalid target")
}
