// Package leaselock coordinates housekeeping between snapshot workers. A
// lease is a row in worker_leases naming the worker that holds it and when
// the claim runs out; a holder that dies simply lets it expire.
package leaselock

import (
	"context"
	"errors"
	"fmt"
	"os"
	"sync"
	"time"

	"github.com/folio-graph/folio/pkg/logger"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	gonanoid "github.com/matoous/go-nanoid/v2"
)

const (
	// ArchivePrune guards the deletion of old snapshots.
	ArchivePrune = "archive/prune"

	DefaultTTL     = time.Minute
	releaseTimeout = 5 * time.Second
)

var (
	// ErrHeld is returned by Run when another worker holds the lease.
	ErrHeld = errors.New("lease held by another worker")
	// ErrLost means the lease expired or was taken over while fn ran.
	ErrLost = errors.New("lease lost")
)

// Conn is satisfied by *pgxpool.Pool, *pgx.Conn and pgx.Tx.
type Conn interface {
	Exec(ctx context.Context, sql string, arguments ...any) (pgconn.CommandTag, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

type Params struct {
	// Holder names this worker in worker_leases. Defaults to the host name
	// plus a random suffix.
	Holder string
	TTL    time.Duration
}

// Locker claims leases on behalf of one worker.
type Locker struct {
	db     Conn
	holder string
	ttl    time.Duration
}

func New(db Conn, params Params) (*Locker, error) {
	holder := params.Holder
	if holder == "" {
		host, err := os.Hostname()
		if err != nil || host == "" {
			host = "worker"
		}
		suffix, err := gonanoid.New(8)
		if err != nil {
			return nil, err
		}
		holder = host + "-" + suffix
	}
	ttl := params.TTL
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	return &Locker{db: db, holder: holder, ttl: ttl}, nil
}

func (l *Locker) Holder() string {
	return l.holder
}

// Run calls fn while holding the lease name and releases it afterwards.
// It returns ErrHeld without calling fn when another worker holds the
// lease. The lease is extended every third of its TTL; when that fails the
// context passed to fn is cancelled and Run returns ErrLost.
func (l *Locker) Run(ctx context.Context, name string, fn func(ctx context.Context) error) error {
	claimed, err := l.claim(ctx, name)
	if err != nil {
		return fmt.Errorf("failed to claim lease %s: %w", name, err)
	}
	if !claimed {
		return ErrHeld
	}

	leaseCtx, cancel := context.WithCancelCause(ctx)
	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		l.heartbeat(leaseCtx, cancel, name)
	}()

	err = fn(leaseCtx)
	lost := errors.Is(context.Cause(leaseCtx), ErrLost)

	cancel(nil)
	wg.Wait()
	l.release(ctx, name)

	if lost {
		return ErrLost
	}
	return err
}

// HeldBy returns the current holder of name, or "" when the lease is free
// or expired.
func (l *Locker) HeldBy(ctx context.Context, name string) (string, error) {
	var holder string
	err := l.db.QueryRow(ctx, heldBySQL, name).Scan(&holder)
	if errors.Is(err, pgx.ErrNoRows) {
		return "", nil
	}
	if err != nil {
		return "", fmt.Errorf("failed to read lease %s: %w", name, err)
	}
	return holder, nil
}

func (l *Locker) claim(ctx context.Context, name string) (bool, error) {
	var holder string
	err := l.db.QueryRow(ctx, claimSQL, name, l.holder, l.ttl.Seconds()).Scan(&holder)
	if errors.Is(err, pgx.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return holder == l.holder, nil
}

func (l *Locker) heartbeat(ctx context.Context, cancel context.CancelCauseFunc, name string) {
	t := time.NewTicker(max(l.ttl/3, 10*time.Millisecond))
	defer t.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-t.C:
		}

		var holder string
		err := l.db.QueryRow(ctx, extendSQL, name, l.holder, l.ttl.Seconds()).Scan(&holder)
		switch {
		case ctx.Err() != nil:
			return
		case errors.Is(err, pgx.ErrNoRows):
			logger.Warn("[Lease] Lost lease", "name", name, "holder", l.holder)
			cancel(ErrLost)
			return
		case err != nil:
			// the claim still runs until expires_at, try again next tick
			logger.Warn("[Lease] Failed to extend lease", "name", name, "err", err)
		}
	}
}

func (l *Locker) release(ctx context.Context, name string) {
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), releaseTimeout)
	defer cancel()
	if _, err := l.db.Exec(ctx, releaseSQL, name, l.holder); err != nil {
		logger.Warn("[Lease] Failed to release lease", "name", name, "err", err)
	}
}

const claimSQL = `
INSERT INTO worker_leases (name, holder, acquired_at, expires_at)
VALUES ($1, $2, now(), now() + make_interval(secs => $3))
ON CONFLICT (name) DO UPDATE
SET holder      = EXCLUDED.holder,
    acquired_at = EXCLUDED.acquired_at,
    expires_at  = EXCLUDED.expires_at
WHERE worker_leases.expires_at < now()
   OR worker_leases.holder = EXCLUDED.holder
RETURNING holder`

const extendSQL = `
UPDATE worker_leases
SET expires_at = now() + make_interval(secs => $3)
WHERE name = $1 AND holder = $2 AND expires_at >= now()
RETURNING holder`

const releaseSQL = `
DELETE FROM worker_leases
WHERE name = $1 AND holder = $2`

const heldBySQL = `
SELECT holder FROM worker_leases
WHERE name = $1 AND expires_at >= now()`
