package docker

import (
	"context"
	"sort"
	"testing"

	"github.com/docker/go-connections/nat"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// These run without a daemon: schema lookups and declaration mapping
// never touch the client.

func TestSchema(t *testing.T) {
	p := New()

	schema, err := p.Schema("docker_container")
	require.NoError(t, err)
	assert.True(t, schema.ForcesReplacement("image"))
	assert.True(t, schema.ForcesReplacement("ports"))
	assert.False(t, schema.ForcesReplacement("restart"))

	schema, err = p.Schema("docker_volume")
	require.NoError(t, err)
	assert.True(t, schema.ForcesReplacement("name"))

	_, err = p.Schema("docker_service")
	assert.ErrorContains(t, err, `unknown resource type "docker_service"`)
}

func TestUnknownTypeRejected(t *testing.T) {
	p := New()
	ctx := context.Background()

	_, _, err := p.Create(ctx, "docker_swarm", map[string]any{})
	assert.ErrorContains(t, err, "unknown resource type")

	err = p.Delete(ctx, "docker_swarm", "id")
	assert.ErrorContains(t, err, "unknown resource type")
}

func TestContainerPorts(t *testing.T) {
	bindings := containerPorts(map[string]any{
		"8080": float64(80),
		"8443": float64(443),
	})

	require.Len(t, bindings, 2)
	web := bindings[nat.Port("80/tcp")]
	require.Len(t, web, 1)
	assert.Equal(t, "0.0.0.0", web[0].HostIP)
	assert.Equal(t, "8080", web[0].HostPort)
	assert.Equal(t, "8443", bindings[nat.Port("443/tcp")][0].HostPort)

	assert.Empty(t, containerPorts(nil))
	assert.Empty(t, containerPorts("not-a-map"))
}

func TestContainerBinds(t *testing.T) {
	binds := containerBinds([]string{
		"data:/var/lib/data",
		"/abs/path:/mnt",
		"./relative:/srv",
	})

	require.Len(t, binds, 3)
	assert.Equal(t, "data:/var/lib/data", binds[0])
	assert.Equal(t, "/abs/path:/mnt", binds[1])
	// Relative host paths come out absolute.
	assert.NotEqual(t, "./relative:/srv", binds[2])
	assert.True(t, len(binds[2]) > len("./relative:/srv"))
	assert.Contains(t, binds[2], ":/srv")
}

func TestEnvList(t *testing.T) {
	env := envList(map[string]string{"A": "1", "B": "two"})
	sort.Strings(env)
	assert.Equal(t, []string{"A=1", "B=two"}, env)
	assert.Nil(t, envList(nil))
}

func TestValueHelpers(t *testing.T) {
	assert.Equal(t, "x", str("x"))
	assert.Equal(t, "", str(42))
	assert.True(t, toBool(true))
	assert.False(t, toBool("true"))
	assert.Equal(t, 8080, toInt(float64(8080)))
	assert.Equal(t, 0, toInt("8080"))
	assert.Equal(t, []string{"a", "b"}, strList([]any{"a", 1, "b"}))
	assert.Equal(t, map[string]string{"k": "1"}, strMap(map[string]any{"k": float64(1)}))
	assert.Nil(t, strMap(nil))
}
