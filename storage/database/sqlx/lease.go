package sqlxrepos

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	"github.com/pkg/errors"

	"github.com/trezcool/masomo-sync/core"
	"github.com/trezcool/masomo-sync/core/offline"
)

// leaseLocker implements named locks as rows of sync_locks: an owner token and an expiry.
// A lock is taken by a compare-and-swap upsert that only wins over an expired row, and is
// renewed every TTL/3 while held so a crashed holder frees it after at most one TTL.
// A holder that loses its row learns it through the context of TryLockContext.
type leaseLocker struct {
	db     *sqlx.DB
	ttl    time.Duration
	logger core.Logger
}

var _ offline.ScopedLocker = (*leaseLocker)(nil) // interface compliance check

func NewLeaseLocker(db *sqlx.DB, ttl time.Duration, logger core.Logger) *leaseLocker {
	if ttl <= 0 {
		ttl = time.Minute
	}
	return &leaseLocker{db: db, ttl: ttl, logger: logger}
}

func (l *leaseLocker) acquire(ctx context.Context, name, owner string) (bool, error) {
	now := core.NowFunc()
	q := l.db.Rebind(`
		INSERT INTO sync_locks (name, owner, expires_at) VALUES (?, ?, ?)
		ON CONFLICT (name) DO UPDATE SET owner = excluded.owner, expires_at = excluded.expires_at
		WHERE sync_locks.expires_at <= ?`)
	res, err := l.db.ExecContext(ctx, q, name, owner, core.UnixMilli(now.Add(l.ttl)), core.UnixMilli(now))
	if err != nil {
		return false, errors.Wrap(err, "upserting lease")
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, errors.Wrap(err, "reading lease result")
	}
	return n == 1, nil
}

// renew pushes the expiry of a held lease. It fails with offline.ErrLockLost once another
// owner took the row over.
func (l *leaseLocker) renew(name, owner string) error {
	ctx, cancel := context.WithTimeout(context.Background(), l.ttl/3)
	defer cancel()

	q := l.db.Rebind("UPDATE sync_locks SET expires_at = ? WHERE name = ? AND owner = ?")
	res, err := l.db.ExecContext(ctx, q, core.UnixMilli(core.NowFunc().Add(l.ttl)), name, owner)
	if err != nil {
		return errors.Wrap(err, "renewing lease")
	}
	n, err := res.RowsAffected()
	if err != nil {
		return errors.Wrap(err, "reading lease result")
	}
	if n == 0 {
		return offline.ErrLockLost
	}
	return nil
}

func (l *leaseLocker) release(name, owner string) error {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	q := l.db.Rebind("DELETE FROM sync_locks WHERE name = ? AND owner = ?")
	_, err := l.db.ExecContext(ctx, q, name, owner)
	return errors.Wrap(err, "releasing lease")
}

func (l *leaseLocker) TryLock(ctx context.Context, name string) (func(), bool, error) {
	_, release, ok, err := l.TryLockContext(ctx, name)
	return release, ok, err
}

// TryLockContext takes the lease and keeps renewing it until release. The returned context is
// cancelled with offline.ErrLockLost when a renewal finds the row taken over, or when renewals
// keep failing for a whole TTL: past that point another owner may hold it.
func (l *leaseLocker) TryLockContext(ctx context.Context, name string) (context.Context, func(), bool, error) {
	owner := uuid.New().String()
	ok, err := l.acquire(ctx, name, owner)
	if err != nil || !ok {
		return nil, nil, false, err
	}

	lockCtx, cancel := context.WithCancelCause(ctx)
	stop := make(chan struct{})
	done := make(chan struct{})
	go func() {
		defer close(done)
		ticker := time.NewTicker(l.ttl / 3)
		defer ticker.Stop()

		renewed := core.NowFunc()
		for {
			select {
			case <-stop:
				return
			case <-ticker.C:
				err := l.renew(name, owner)
				switch {
				case err == nil:
					renewed = core.NowFunc()
					continue
				case errors.Is(err, offline.ErrLockLost):
				case core.NowFunc().Sub(renewed) < l.ttl:
					l.logger.Error(fmt.Sprintf("renewing %q lease: %v", name, err), err)
					continue
				}
				l.logger.Error(fmt.Sprintf("%q lease lost: %v", name, err), err)
				cancel(offline.ErrLockLost)
				return
			}
		}
	}()

	var once sync.Once
	release := func() {
		once.Do(func() {
			close(stop)
			<-done
			cancel(nil)
			if err := l.release(name, owner); err != nil {
				l.logger.Error(fmt.Sprintf("releasing %q lease: %v", name, err), err)
			}
		})
	}
	return lockCtx, release, true, nil
}
