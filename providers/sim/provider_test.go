package sim

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/converge-io/converge/internal/provider"
)

func TestLifecycle(t *testing.T) {
	p := New()
	ctx := context.Background()

	// 1. Create a vpc
	id, attrs, err := p.Create(ctx, "vpc", map[string]any{"cidr_block": "10.0.0.0/16"})
	require.NoError(t, err)
	assert.Equal(t, "sim-vpc-0001", id)
	assert.Equal(t, "10.0.0.0/16", attrs["cidr_block"])
	assert.Equal(t, "arn:sim:vpc/sim-vpc-0001", attrs["arn"])

	// 2. Read it back
	got, err := p.Read(ctx, "vpc", id)
	require.NoError(t, err)
	assert.Equal(t, attrs, got)

	// 3. Update keeps the id, replaces attributes, recomputes derived ones
	got, err = p.Update(ctx, "vpc", id, map[string]any{
		"cidr_block": "10.0.0.0/16",
		"tags":       map[string]any{"env": "prod"},
	})
	require.NoError(t, err)
	assert.Equal(t, map[string]any{"env": "prod"}, got["tags"])
	assert.Equal(t, "arn:sim:vpc/sim-vpc-0001", got["arn"])

	// 4. Delete, then Read reports not found
	require.NoError(t, p.Delete(ctx, "vpc", id))
	_, err = p.Read(ctx, "vpc", id)
	assert.True(t, provider.IsNotFound(err))

	// 5. Delete again is a no-op
	assert.NoError(t, p.Delete(ctx, "vpc", id))
}

func TestIDsAreSequencedPerType(t *testing.T) {
	p := New()
	ctx := context.Background()

	id1, _, err := p.Create(ctx, "subnet", map[string]any{"cidr_block": "10.0.0.0/24"})
	require.NoError(t, err)
	id2, _, err := p.Create(ctx, "subnet", map[string]any{"cidr_block": "10.0.1.0/24"})
	require.NoError(t, err)
	id3, _, err := p.Create(ctx, "vpc", map[string]any{"cidr_block": "10.0.0.0/16"})
	require.NoError(t, err)

	assert.Equal(t, "sim-subnet-0001", id1)
	assert.Equal(t, "sim-subnet-0002", id2)
	assert.Equal(t, "sim-vpc-0001", id3)
}

func TestSchema(t *testing.T) {
	p := New()

	schema, err := p.Schema("subnet")
	require.NoError(t, err)
	assert.True(t, schema.ForcesReplacement("cidr_block"))
	assert.True(t, schema.ForcesReplacement("vpc_id"))
	assert.False(t, schema.ForcesReplacement("tags"))
	assert.False(t, schema.CreateBeforeDestroy)

	schema, err = p.Schema("instance")
	require.NoError(t, err)
	assert.True(t, schema.CreateBeforeDestroy)

	_, err = p.Schema("mainframe")
	assert.Error(t, err)
}

func TestUnknownType(t *testing.T) {
	p := New()
	_, _, err := p.Create(context.Background(), "mainframe", nil)
	assert.Error(t, err)
}

func TestFailureInjection(t *testing.T) {
	p := New()
	ctx := context.Background()
	boom := errors.New("quota exceeded")

	p.FailWith("create", "bucket", boom)
	_, _, err := p.Create(ctx, "bucket", map[string]any{"bucket": "logs"})
	assert.ErrorIs(t, err, boom)

	// other types are unaffected
	_, _, err = p.Create(ctx, "vpc", map[string]any{"cidr_block": "10.0.0.0/16"})
	assert.NoError(t, err)

	p.ClearFailures()
	_, _, err = p.Create(ctx, "bucket", map[string]any{"bucket": "logs"})
	assert.NoError(t, err)
}

func TestFailTimesThenRecover(t *testing.T) {
	p := New()
	ctx := context.Background()
	throttled := provider.Transient(errors.New("throttled"))

	p.FailTimes("create", "instance", 2, throttled)

	for i := 0; i < 2; i++ {
		_, _, err := p.Create(ctx, "instance", map[string]any{"ami": "ami-1"})
		require.Error(t, err)
		assert.True(t, provider.IsTransient(err))
	}

	id, _, err := p.Create(ctx, "instance", map[string]any{"ami": "ami-1"})
	require.NoError(t, err)
	assert.NotEmpty(t, id)
}

func TestCallLog(t *testing.T) {
	p := New()
	ctx := context.Background()

	id, _, err := p.Create(ctx, "vpc", map[string]any{"cidr_block": "10.0.0.0/16"})
	require.NoError(t, err)
	_, err = p.Read(ctx, "vpc", id)
	require.NoError(t, err)
	require.NoError(t, p.Delete(ctx, "vpc", id))

	calls := p.Calls()
	require.Len(t, calls, 3)
	assert.Equal(t, Call{Op: "create", Type: "vpc"}, calls[0])
	assert.Equal(t, Call{Op: "read", Type: "vpc", ID: id}, calls[1])
	assert.Equal(t, Call{Op: "delete", Type: "vpc", ID: id}, calls[2])

	assert.Len(t, p.CallsFor("create", "vpc"), 1)
	assert.Empty(t, p.CallsFor("update", "vpc"))
}

func TestConcurrentOpsTracked(t *testing.T) {
	p := New()
	p.SetLatency(20 * time.Millisecond)
	ctx := context.Background()

	var wg sync.WaitGroup
	for i := 0; i < 4; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, _, err := p.Create(ctx, "bucket", map[string]any{"bucket": "b"})
			assert.NoError(t, err)
		}()
	}
	wg.Wait()

	assert.Equal(t, 4, p.Len())
	assert.Greater(t, p.MaxInFlight(), 1, "overlapping creates should be observed")
}

func TestLatencyHonorsCancellation(t *testing.T) {
	p := New()
	p.SetLatency(5 * time.Second)

	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		time.Sleep(10 * time.Millisecond)
		cancel()
	}()

	start := time.Now()
	_, _, err := p.Create(ctx, "vpc", map[string]any{"cidr_block": "10.0.0.0/16"})
	assert.ErrorIs(t, err, context.Canceled)
	assert.Less(t, time.Since(start), time.Second)
}

func TestDriftHooks(t *testing.T) {
	p := New()
	ctx := context.Background()

	id, _, err := p.Create(ctx, "bucket", map[string]any{"bucket": "logs", "acl": "private"})
	require.NoError(t, err)

	p.SetAttr(id, "acl", "public-read")
	attrs, err := p.Read(ctx, "bucket", id)
	require.NoError(t, err)
	assert.Equal(t, "public-read", attrs["acl"])

	p.Destroy(id)
	_, err = p.Read(ctx, "bucket", id)
	assert.True(t, provider.IsNotFound(err))
}
