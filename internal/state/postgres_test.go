package state

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewPostgresStore_RequiresDSN(t *testing.T) {
	_, err := newPostgresStore(map[string]string{})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "dsn")
}

func TestPostgres_UnlockWithoutLock(t *testing.T) {
	// No pinned lock connection means nothing to release.
	p := &postgresStore{name: "default"}
	assert.NoError(t, p.Unlock(context.Background()))
}

func TestStateLockKey(t *testing.T) {
	// The advisory lock key must be stable across processes and binaries.
	assert.Equal(t, stateLockKey("default"), stateLockKey("default"))
	assert.NotEqual(t, stateLockKey("default"), stateLockKey("production"))
	assert.GreaterOrEqual(t, stateLockKey("default"), int64(0))
	assert.GreaterOrEqual(t, stateLockKey(""), int64(0))
}
