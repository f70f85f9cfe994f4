// Package state persists snapshots across runs. Stores share one
// contract: load the latest snapshot, save a new one, and hold an
// exclusive lock around the whole plan/apply cycle.
package state

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/converge-io/converge/internal/ir"
)

// DefaultLockTTL bounds how long an abandoned lock blocks other runs.
const DefaultLockTTL = 10 * time.Minute

// Store is a state backend.
type Store interface {
	// Load returns the stored snapshot, or a fresh one if none exists.
	Load(ctx context.Context) (*ir.Snapshot, error)

	// Save persists the snapshot.
	Save(ctx context.Context, snap *ir.Snapshot) error

	// Lock acquires the exclusive state lock. A lock older than its ttl
	// counts as abandoned and may be taken over.
	Lock(ctx context.Context, ttl time.Duration) error

	// Unlock releases the state lock.
	Unlock(ctx context.Context) error
}

// LockedError reports that another process holds the state lock.
type LockedError struct {
	Holder  string
	Since   time.Time
	Expires time.Time
}

func (e *LockedError) Error() string {
	msg := "state is locked by another process"
	if e.Holder != "" {
		msg += " (holder " + e.Holder + ")"
	}
	if !e.Expires.IsZero() {
		msg += ", lock expires " + e.Expires.UTC().Format(time.RFC3339)
	}
	return msg
}

// ConflictError reports a rejected save, typically a serial that went
// backwards because another run wrote in between.
type ConflictError struct {
	Reason string
}

func (e *ConflictError) Error() string {
	return "state conflict: " + e.Reason
}

// Config selects and parameterizes a backend.
type Config struct {
	// Type is "local", "s3" or "postgres". Empty means local.
	Type string
	// Options carries backend-specific settings, e.g. bucket/region for
	// s3 or dsn for postgres.
	Options map[string]string
}

// checkSerial rejects a save whose serial went backwards on the same
// lineage. Equal serials are allowed: the executor bumps the serial once
// per run and then persists the same snapshot after every committed
// node.
func checkSerial(storedLineage string, storedSerial uint64, snap *ir.Snapshot) error {
	if storedLineage == snap.Lineage && storedSerial > snap.Serial {
		return &ConflictError{Reason: fmt.Sprintf("serial %d is behind stored serial %d", snap.Serial, storedSerial)}
	}
	return nil
}

// Open builds the configured store.
func Open(cfg Config) (Store, error) {
	switch cfg.Type {
	case "", "local":
		path := cfg.Options["path"]
		if path == "" {
			return nil, fmt.Errorf("local backend requires 'path'")
		}
		return NewLocal(path), nil
	case "s3":
		return newS3Store(cfg.Options)
	case "postgres":
		return newPostgresStore(cfg.Options)
	default:
		return nil, fmt.Errorf("unknown backend type %q", cfg.Type)
	}
}

// EncodeSnapshot renders a snapshot as indented JSON.
func EncodeSnapshot(snap *ir.Snapshot) ([]byte, error) {
	data, err := json.MarshalIndent(snap, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("encoding state: %w", err)
	}
	return append(data, '\n'), nil
}

// DecodeSnapshot parses a snapshot and rejects versions newer than this
// binary understands.
func DecodeSnapshot(data []byte) (*ir.Snapshot, error) {
	var snap ir.Snapshot
	if err := json.Unmarshal(data, &snap); err != nil {
		return nil, fmt.Errorf("decoding state: %w", err)
	}
	if snap.Version > ir.StateVersion {
		return nil, fmt.Errorf("state version %d is newer than supported version %d", snap.Version, ir.StateVersion)
	}
	if snap.Resources == nil {
		snap.Resources = map[ir.Address]*ir.ResourceState{}
	}
	return &snap, nil
}

// Mem is an in-memory store for tests and ephemeral runs.
type Mem struct {
	mu     sync.Mutex
	snap   *ir.Snapshot
	locked bool
}

func NewMem() *Mem {
	return &Mem{}
}

func (m *Mem) Load(context.Context) (*ir.Snapshot, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.snap == nil {
		return ir.NewSnapshot(), nil
	}
	return m.snap.DeepCopy(), nil
}

func (m *Mem) Save(_ context.Context, snap *ir.Snapshot) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.snap != nil {
		if err := checkSerial(m.snap.Lineage, m.snap.Serial, snap); err != nil {
			return err
		}
	}
	m.snap = snap.DeepCopy()
	return nil
}

func (m *Mem) Lock(context.Context, time.Duration) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.locked {
		return &LockedError{}
	}
	m.locked = true
	return nil
}

func (m *Mem) Unlock(context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.locked = false
	return nil
}
