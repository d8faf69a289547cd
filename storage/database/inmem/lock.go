package inmemdb

import (
	"context"
	"sync"

	"github.com/trezcool/masomo-sync/core/offline"
)

// locker holds named locks inside one process: each Coordinator sharing the DB plays a separate tab.
type locker struct {
	db *lockTable
}

var _ offline.Locker = (*locker)(nil) // interface compliance check

func NewLocker(db *DB) *locker {
	return &locker{db: db.locks}
}

func (l *locker) TryLock(ctx context.Context, name string) (func(), bool, error) {
	l.db.Lock()
	defer l.db.Unlock()

	if l.db.held[name] {
		return nil, false, nil
	}
	l.db.held[name] = true

	var once sync.Once
	release := func() {
		once.Do(func() {
			l.db.Lock()
			delete(l.db.held, name)
			l.db.Unlock()
		})
	}
	return release, true, nil
}

// IsHeld reports whether the named lock is currently held.
func (l *locker) IsHeld(name string) bool {
	l.db.Lock()
	defer l.db.Unlock()
	return l.db.held[name]
}
