package state

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"

	"github.com/converge-io/converge/internal/ir"
	"github.com/converge-io/converge/internal/logging"
)

// Local stores the snapshot as a JSON file next to a ".lock" marker.
type Local struct {
	path   string
	holder string
}

func NewLocal(path string) *Local {
	return &Local{path: path}
}

// Path returns the state file location.
func (l *Local) Path() string { return l.path }

// Load reads the state file. A missing file yields a fresh snapshot;
// encrypted content is transparently decrypted.
func (l *Local) Load(ctx context.Context) (*ir.Snapshot, error) {
	raw, err := os.ReadFile(l.path)
	if os.IsNotExist(err) {
		return ir.NewSnapshot(), nil
	}
	if err != nil {
		return nil, fmt.Errorf("reading state file %s: %w", l.path, err)
	}

	plain, err := DecryptState(raw)
	if err != nil {
		return nil, err
	}
	snap, err := DecodeSnapshot(plain)
	if err != nil {
		return nil, fmt.Errorf("state file %s: %w", l.path, err)
	}
	return snap, nil
}

// Save writes the snapshot atomically: to a temp file first, then into
// place. Content is encrypted when a key is configured.
func (l *Local) Save(ctx context.Context, snap *ir.Snapshot) error {
	if err := os.MkdirAll(filepath.Dir(l.path), 0o755); err != nil {
		return fmt.Errorf("creating state directory: %w", err)
	}

	data, err := EncodeSnapshot(snap)
	if err != nil {
		return err
	}
	data, err = EncryptState(data)
	if err != nil {
		return err
	}

	tmp := l.path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o600); err != nil {
		return fmt.Errorf("writing state file: %w", err)
	}
	if err := os.Rename(tmp, l.path); err != nil {
		os.Remove(tmp)
		return fmt.Errorf("replacing state file: %w", err)
	}
	return nil
}

// lockInfo is what the ".lock" file records about its holder.
type lockInfo struct {
	ID      string    `json:"id"`
	PID     int       `json:"pid"`
	Created time.Time `json:"created"`
	TTL     string    `json:"ttl"`
}

// Lock creates the lock file exclusively. An existing lock older than
// its ttl is treated as abandoned and taken over.
func (l *Local) Lock(ctx context.Context, ttl time.Duration) error {
	if ttl <= 0 {
		ttl = DefaultLockTTL
	}
	lockPath := l.lockPath()
	if err := os.MkdirAll(filepath.Dir(lockPath), 0o755); err != nil {
		return fmt.Errorf("creating lock directory: %w", err)
	}

	info := lockInfo{
		ID:      uuid.New().String(),
		PID:     os.Getpid(),
		Created: time.Now().UTC(),
		TTL:     ttl.String(),
	}
	data, err := json.Marshal(info)
	if err != nil {
		return err
	}

	for attempt := 0; attempt < 2; attempt++ {
		f, err := os.OpenFile(lockPath, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0o644)
		if err == nil {
			_, werr := f.Write(data)
			f.Close()
			if werr != nil {
				os.Remove(lockPath)
				return fmt.Errorf("writing lock file: %w", werr)
			}
			l.holder = info.ID
			return nil
		}
		if !os.IsExist(err) {
			return fmt.Errorf("creating lock file: %w", err)
		}

		existing, stale := l.readLock(lockPath)
		if !stale {
			return existing
		}
		logging.Warn("taking over stale state lock", "path", lockPath)
		os.Remove(lockPath)
	}
	return &LockedError{}
}

// readLock inspects an existing lock file and decides whether it is
// stale. A malformed lock is judged by file age alone.
func (l *Local) readLock(lockPath string) (*LockedError, bool) {
	raw, err := os.ReadFile(lockPath)
	if err != nil {
		return &LockedError{}, os.IsNotExist(err)
	}

	var info lockInfo
	if err := json.Unmarshal(raw, &info); err != nil {
		st, serr := os.Stat(lockPath)
		if serr != nil {
			return &LockedError{}, true
		}
		return &LockedError{Since: st.ModTime()}, time.Since(st.ModTime()) > DefaultLockTTL
	}

	ttl, err := time.ParseDuration(info.TTL)
	if err != nil || ttl <= 0 {
		ttl = DefaultLockTTL
	}
	expires := info.Created.Add(ttl)
	held := &LockedError{
		Holder:  fmt.Sprintf("pid %d", info.PID),
		Since:   info.Created,
		Expires: expires,
	}
	return held, time.Now().After(expires)
}

// Unlock removes the lock file. Removing an already absent lock is fine.
func (l *Local) Unlock(ctx context.Context) error {
	l.holder = ""
	if err := os.Remove(l.lockPath()); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("removing lock file: %w", err)
	}
	return nil
}

func (l *Local) lockPath() string {
	return l.path + ".lock"
}
