package offline

import (
	"context"

	"github.com/trezcool/masomo-sync/core"
)

type (
	// QueueStore is the durable local queue of pending mutations.
	// List returns the items of one store in queue (FIFO) order.
	QueueStore interface {
		StoreNames(ctx context.Context) ([]string, error)
		List(ctx context.Context, storeName string) ([]QueueItem, error)
		QueryAll(ctx context.Context) ([]QueueItem, error)
		Get(ctx context.Context, id string) (QueueItem, error)
		Enqueue(ctx context.Context, item QueueItem) (QueueItem, error)
		Remove(ctx context.Context, id string) error
		UpdateAttempts(ctx context.Context, id string, attempt Attempt) error
	}

	// Locker hands out named cooperative locks without blocking.
	// acquired is false when another holder owns the lock; release is then nil.
	// release must be safe to call once acquired, whatever happened in between.
	Locker interface {
		TryLock(ctx context.Context, name string) (release func(), acquired bool, err error)
	}

	// ScopedLocker is a Locker whose locks can be lost while held, such as expiring leases.
	// lockCtx derives from ctx; it is cancelled with ErrLockLost as its cause when the lock is lost.
	ScopedLocker interface {
		Locker
		TryLockContext(ctx context.Context, name string) (lockCtx context.Context, release func(), acquired bool, err error)
	}

	// Submitter performs the remote call of one queued mutation.
	Submitter interface {
		Submit(ctx context.Context, item QueueItem) error
	}

	// Connectivity reports the device's connectivity signal.
	Connectivity interface {
		IsOnline() bool
	}

	// HealthChecker checks whether the remote side is reachable.
	HealthChecker interface {
		Check(ctx context.Context) bool
	}

	// RunObserver is told about every finished drain.
	RunObserver interface {
		RunFinished(ctx context.Context, run Run)
	}

	RunRepository interface {
		CreateRun(ctx context.Context, run Run, exec ...core.DBExecutor) (Run, error)
		QueryRuns(ctx context.Context, filter RunFilter, exec ...core.DBExecutor) ([]Run, error)
	}

	RunFilter struct {
		LockName  string
		Status    Status
		Limit     int
		Orderings []core.DBOrdering
	}
)

// RunObserverFunc adapts a function to a RunObserver.
type RunObserverFunc func(ctx context.Context, run Run)

func (f RunObserverFunc) RunFinished(ctx context.Context, run Run) { f(ctx, run) }

// alwaysOnline is used when no Connectivity is given.
type alwaysOnline struct{}

func (alwaysOnline) IsOnline() bool { return true }
