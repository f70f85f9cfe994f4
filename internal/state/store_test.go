package state

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/converge-io/converge/internal/ir"
)

func testSnapshot() *ir.Snapshot {
	snap := ir.NewSnapshot()
	snap.Serial = 3
	snap.Put("vpc.main", &ir.ResourceState{
		Type:     "vpc",
		Name:     "main",
		Provider: "sim",
		ID:       "sim-vpc-0001",
		Inputs:   map[string]any{"cidr_block": "10.0.0.0/16"},
		Attrs:    map[string]any{"arn": "arn:sim:vpc/sim-vpc-0001"},
	})
	snap.Put("subnet.a", &ir.ResourceState{
		Type:     "subnet",
		Name:     "a",
		Provider: "sim",
		ID:       "sim-subnet-0001",
		Inputs:   map[string]any{"vpc_id": "sim-vpc-0001"},
		Deps:     []ir.Address{"vpc.main"},
	})
	return snap
}

func TestOpen_Local(t *testing.T) {
	path := filepath.Join(t.TempDir(), "state.json")
	store, err := Open(Config{Type: "local", Options: map[string]string{"path": path}})
	require.NoError(t, err)

	local, ok := store.(*Local)
	require.True(t, ok)
	assert.Equal(t, path, local.Path())
}

func TestOpen_EmptyTypeMeansLocal(t *testing.T) {
	path := filepath.Join(t.TempDir(), "state.json")
	store, err := Open(Config{Options: map[string]string{"path": path}})
	require.NoError(t, err)
	assert.IsType(t, &Local{}, store)
}

func TestOpen_LocalRequiresPath(t *testing.T) {
	_, err := Open(Config{Type: "local"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "requires 'path'")
}

func TestOpen_UnknownType(t *testing.T) {
	_, err := Open(Config{Type: "consul"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), `unknown backend type "consul"`)
}

func TestEncodeDecodeSnapshot(t *testing.T) {
	snap := testSnapshot()

	data, err := EncodeSnapshot(snap)
	require.NoError(t, err)

	got, err := DecodeSnapshot(data)
	require.NoError(t, err)
	assert.Equal(t, snap.Serial, got.Serial)
	assert.Equal(t, snap.Lineage, got.Lineage)
	require.NotNil(t, got.Resource("vpc.main"))
	assert.Equal(t, "sim-vpc-0001", got.Resource("vpc.main").ID)
	assert.Equal(t, []ir.Address{"vpc.main"}, got.Resource("subnet.a").Deps)
}

func TestDecodeSnapshot_FutureVersion(t *testing.T) {
	_, err := DecodeSnapshot([]byte(`{"version":99,"serial":0,"lineage":"x"}`))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "newer than supported")
}

func TestDecodeSnapshot_MissingResources(t *testing.T) {
	snap, err := DecodeSnapshot([]byte(`{"version":1,"serial":7,"lineage":"x"}`))
	require.NoError(t, err)
	require.NotNil(t, snap.Resources)
	assert.True(t, snap.Empty())
	assert.Equal(t, uint64(7), snap.Serial)
}

func TestDecodeSnapshot_Garbage(t *testing.T) {
	_, err := DecodeSnapshot([]byte("not json at all"))
	assert.Error(t, err)
}

func TestMem_LoadFreshWhenEmpty(t *testing.T) {
	m := NewMem()
	snap, err := m.Load(context.Background())
	require.NoError(t, err)
	assert.True(t, snap.Empty())
	assert.NotEmpty(t, snap.Lineage)
}

func TestMem_SaveLoadRoundTrip(t *testing.T) {
	ctx := context.Background()
	m := NewMem()
	snap := testSnapshot()
	require.NoError(t, m.Save(ctx, snap))

	got, err := m.Load(ctx)
	require.NoError(t, err)
	assert.Equal(t, snap.Serial, got.Serial)
	require.NotNil(t, got.Resource("subnet.a"))

	// Loads return copies: mutating one must not leak into the store.
	got.Resource("subnet.a").ID = "mutated"
	again, err := m.Load(ctx)
	require.NoError(t, err)
	assert.Equal(t, "sim-subnet-0001", again.Resource("subnet.a").ID)
}

func TestCheckSerial(t *testing.T) {
	snap := testSnapshot()
	snap.Serial = 5

	// Incremental commits within one run re-save the run's serial, so an
	// equal stored serial must not conflict.
	assert.NoError(t, checkSerial(snap.Lineage, 5, snap))
	assert.NoError(t, checkSerial(snap.Lineage, 4, snap))

	var conflict *ConflictError
	require.ErrorAs(t, checkSerial(snap.Lineage, 6, snap), &conflict)

	// A different lineage is a different state's history.
	assert.NoError(t, checkSerial("some-other-lineage", 6, snap))
}

func TestMem_SaveEqualSerialTwice(t *testing.T) {
	ctx := context.Background()
	m := NewMem()

	snap := testSnapshot()
	require.NoError(t, m.Save(ctx, snap))

	// Second commit of the same run: same lineage, same serial, one more
	// resource.
	snap.Put("bucket.logs", &ir.ResourceState{
		Type: "bucket", Name: "logs", Provider: "sim", ID: "sim-bucket-0001",
	})
	require.NoError(t, m.Save(ctx, snap))

	got, err := m.Load(ctx)
	require.NoError(t, err)
	require.NotNil(t, got.Resource("bucket.logs"))
}

func TestMem_SerialRegressionConflicts(t *testing.T) {
	ctx := context.Background()
	m := NewMem()

	snap := testSnapshot()
	snap.Serial = 5
	require.NoError(t, m.Save(ctx, snap))

	stale := snap.DeepCopy()
	stale.Serial = 4
	err := m.Save(ctx, stale)
	require.Error(t, err)
	var conflict *ConflictError
	assert.ErrorAs(t, err, &conflict)

	// A different lineage is a different state's history, not a conflict.
	other := ir.NewSnapshot()
	other.Serial = 1
	assert.NoError(t, m.Save(ctx, other))
}

func TestMem_Lock(t *testing.T) {
	ctx := context.Background()
	m := NewMem()

	require.NoError(t, m.Lock(ctx, time.Minute))

	err := m.Lock(ctx, time.Minute)
	require.Error(t, err)
	var locked *LockedError
	assert.ErrorAs(t, err, &locked)

	require.NoError(t, m.Unlock(ctx))
	assert.NoError(t, m.Lock(ctx, time.Minute))
}

func TestLockedError_Message(t *testing.T) {
	err := &LockedError{
		Holder:  "pid 4242",
		Since:   time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC),
		Expires: time.Date(2026, 3, 1, 10, 10, 0, 0, time.UTC),
	}
	assert.Contains(t, err.Error(), "locked by another process")
	assert.Contains(t, err.Error(), "pid 4242")
	assert.Contains(t, err.Error(), "2026-03-01T10:10:00Z")
}
