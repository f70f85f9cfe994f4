package state

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	_ "github.com/jackc/pgx/v5/stdlib"

	"github.com/converge-io/converge/internal/ir"
)

const postgresMigration = `
CREATE TABLE IF NOT EXISTS converge_states (
    name       TEXT PRIMARY KEY,
    version    INTEGER NOT NULL,
    serial     BIGINT NOT NULL,
    lineage    TEXT NOT NULL,
    snapshot   JSONB NOT NULL,
    updated_at TIMESTAMPTZ NOT NULL DEFAULT now()
);

CREATE TABLE IF NOT EXISTS converge_locks (
    name        TEXT PRIMARY KEY,
    holder      TEXT NOT NULL,
    acquired_at TIMESTAMPTZ NOT NULL DEFAULT now(),
    expires_at  TIMESTAMPTZ NOT NULL
);
`

// postgresStore keeps the snapshot in a JSONB column and guards writers
// with a session-scoped advisory lock. The lock lives on a single pinned
// connection for its whole lifetime; going through the pool would
// acquire on one session and try to release on another. The
// converge_locks table only records who holds the lock so that a
// blocked caller can name the holder.
type postgresStore struct {
	db       *sql.DB
	name     string
	holder   string
	lockConn *sql.Conn
}

func newPostgresStore(options map[string]string) (Store, error) {
	dsn := options["dsn"]
	if dsn == "" {
		return nil, fmt.Errorf("postgres backend requires 'dsn' configuration")
	}
	name := options["name"]
	if name == "" {
		name = "default"
	}

	db, err := sql.Open("pgx", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open postgres backend: %w", err)
	}
	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to reach postgres backend: %w", err)
	}
	if _, err := db.Exec(postgresMigration); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to migrate postgres backend: %w", err)
	}

	return &postgresStore{db: db, name: name}, nil
}

func (p *postgresStore) Load(ctx context.Context) (*ir.Snapshot, error) {
	var raw []byte
	err := p.db.QueryRowContext(ctx,
		`SELECT snapshot FROM converge_states WHERE name = $1`, p.name,
	).Scan(&raw)
	if errors.Is(err, sql.ErrNoRows) {
		return ir.NewSnapshot(), nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read state %q from postgres: %w", p.name, err)
	}
	snap, err := DecodeSnapshot(raw)
	if err != nil {
		return nil, fmt.Errorf("state %q: %w", p.name, err)
	}
	return snap, nil
}

// Save upserts the snapshot. A stored serial beyond the incoming one on
// the same lineage means another writer got there first, which surfaces
// as a ConflictError rather than a silent overwrite. Equal serials pass:
// incremental commits within one run all carry the run's serial.
func (p *postgresStore) Save(ctx context.Context, snap *ir.Snapshot) error {
	data, err := EncodeSnapshot(snap)
	if err != nil {
		return err
	}

	tx, err := p.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin postgres transaction: %w", err)
	}
	defer tx.Rollback()

	var storedSerial uint64
	var storedLineage string
	err = tx.QueryRowContext(ctx,
		`SELECT serial, lineage FROM converge_states WHERE name = $1 FOR UPDATE`, p.name,
	).Scan(&storedSerial, &storedLineage)
	switch {
	case errors.Is(err, sql.ErrNoRows):
		// First write for this name.
	case err != nil:
		return fmt.Errorf("failed to read stored serial: %w", err)
	default:
		if err := checkSerial(storedLineage, storedSerial, snap); err != nil {
			return err
		}
	}

	_, err = tx.ExecContext(ctx, `
        INSERT INTO converge_states (name, version, serial, lineage, snapshot, updated_at)
        VALUES ($1, $2, $3, $4, $5, now())
        ON CONFLICT (name) DO UPDATE SET
            version = EXCLUDED.version,
            serial = EXCLUDED.serial,
            lineage = EXCLUDED.lineage,
            snapshot = EXCLUDED.snapshot,
            updated_at = now()`,
		p.name, ir.StateVersion, snap.Serial, snap.Lineage, data)
	if err != nil {
		return fmt.Errorf("failed to write state %q to postgres: %w", p.name, err)
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit state %q: %w", p.name, err)
	}
	return nil
}

func (p *postgresStore) Lock(ctx context.Context, ttl time.Duration) error {
	if ttl <= 0 {
		ttl = DefaultLockTTL
	}
	if p.lockConn != nil {
		return &LockedError{Holder: p.holder}
	}

	// Pin one connection for the lock's lifetime. Advisory locks also
	// stack within a session, so running the probe on a fresh connection
	// keeps a second Lock in the same process from being granted by the
	// session that already holds it.
	conn, err := p.db.Conn(ctx)
	if err != nil {
		return fmt.Errorf("failed to acquire postgres connection: %w", err)
	}

	var acquired bool
	err = conn.QueryRowContext(ctx,
		`SELECT pg_try_advisory_lock($1)`, stateLockKey(p.name),
	).Scan(&acquired)
	if err != nil {
		conn.Close()
		return fmt.Errorf("failed to acquire postgres lock: %w", err)
	}
	if !acquired {
		conn.Close()
		return p.describeLock(ctx)
	}

	holder := uuid.New().String()
	now := time.Now().UTC()
	_, err = conn.ExecContext(ctx, `
        INSERT INTO converge_locks (name, holder, acquired_at, expires_at)
        VALUES ($1, $2, $3, $4)
        ON CONFLICT (name) DO UPDATE SET
            holder = EXCLUDED.holder,
            acquired_at = EXCLUDED.acquired_at,
            expires_at = EXCLUDED.expires_at`,
		p.name, holder, now, now.Add(ttl))
	if err != nil {
		conn.QueryRowContext(ctx, `SELECT pg_advisory_unlock($1)`, stateLockKey(p.name)).Scan(new(bool))
		conn.Close()
		return fmt.Errorf("failed to record postgres lock: %w", err)
	}
	p.lockConn = conn
	p.holder = holder
	return nil
}

func (p *postgresStore) describeLock(ctx context.Context) error {
	locked := &LockedError{}
	p.db.QueryRowContext(ctx,
		`SELECT holder, acquired_at, expires_at FROM converge_locks WHERE name = $1`, p.name,
	).Scan(&locked.Holder, &locked.Since, &locked.Expires)
	return locked
}

// Unlock releases the advisory lock on the pinned connection and
// returns the connection to the pool. Unlocking without holding the
// lock is a no-op.
func (p *postgresStore) Unlock(ctx context.Context) error {
	if p.lockConn == nil {
		return nil
	}
	conn := p.lockConn
	p.lockConn = nil
	p.holder = ""
	defer conn.Close()

	var released bool
	err := conn.QueryRowContext(ctx,
		`SELECT pg_advisory_unlock($1)`, stateLockKey(p.name),
	).Scan(&released)
	if err != nil {
		return fmt.Errorf("failed to release postgres lock: %w", err)
	}
	conn.ExecContext(ctx, `DELETE FROM converge_locks WHERE name = $1`, p.name)
	return nil
}

func (p *postgresStore) Close() error {
	return p.db.Close()
}

// stateLockKey hashes the state name into the advisory lock keyspace
// using FNV-1a, masked to stay within int64 range.
func stateLockKey(name string) int64 {
	var h uint64 = 14695981039346656037
	for i := 0; i < len(name); i++ {
		h ^= uint64(name[i])
		h *= 1099511628211
	}
	return int64(h & 0x7FFFFFFFFFFFFFFF)
}
