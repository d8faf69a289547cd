package offline

import (
	"context"
	"fmt"
	"math"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/pkg/errors"

	"github.com/trezcool/masomo-sync/core"
)

// Options configures a Coordinator. Store, Locker, Handlers and Logger are required.
type Options struct {
	LockName     string
	Store        QueueStore
	Locker       Locker
	Connectivity Connectivity
	Handlers     *Handlers
	Logger       core.Logger

	UnknownStorePolicy UnknownStorePolicy
	Retry              RetryPolicy
	SubmitTimeout      time.Duration // per remote call; 0: bounded by the Sync context only
	AlertThreshold     int           // attempts at which a failing item is reported to observers
	Observers          []RunObserver
}

// Coordinator drains a QueueStore through its Handlers, one run at a time per lock name.
type Coordinator struct {
	opts       Options
	inProgress atomic.Bool
	listeners  *listeners

	mu         sync.RWMutex
	status     Status
	progress   int
	lastResult *SyncResult
}

func NewCoordinator(opts Options) *Coordinator {
	if opts.Connectivity == nil {
		opts.Connectivity = alwaysOnline{}
	}
	if opts.UnknownStorePolicy == "" {
		opts.UnknownStorePolicy = UnknownStoreRetry
	}
	return &Coordinator{
		opts:      opts,
		listeners: newListeners(opts.Logger),
		status:    StatusIdle,
	}
}

func (c *Coordinator) LockName() string {
	return c.opts.LockName
}

func (c *Coordinator) IsOnline() bool {
	return c.opts.Connectivity.IsOnline()
}

func (c *Coordinator) AddListener(l Listener) ListenerID {
	return c.listeners.add(l)
}

func (c *Coordinator) RemoveListener(id ListenerID) {
	c.listeners.remove(id)
}

// Notify records the status and broadcasts it to the listeners.
func (c *Coordinator) Notify(status Status, progress int) {
	c.mu.Lock()
	c.status = status
	c.progress = progress
	c.mu.Unlock()

	c.listeners.broadcast(status, progress)
}

// Status returns the last broadcast status and the result of the last Sync.
func (c *Coordinator) Status() Snapshot {
	c.mu.RLock()
	defer c.mu.RUnlock()

	snap := Snapshot{Status: c.status, Progress: c.progress, Online: c.IsOnline()}
	if c.lastResult != nil {
		res := *c.lastResult
		snap.LastResult = &res
	}
	return snap
}

func (c *Coordinator) setLastResult(res SyncResult) {
	c.mu.Lock()
	c.lastResult = &res
	c.mu.Unlock()
}

// Sync drains the queue. It never fails: every problem is folded into the returned SyncResult.
//   - offline: status error, the lock and the store are left alone
//   - lock held elsewhere: status idle
//   - a run already in progress in this process: status syncing, unless force is set
func (c *Coordinator) Sync(ctx context.Context, force bool) (res SyncResult) {
	defer func() {
		if r := recover(); r != nil {
			err := fmt.Errorf("unexpected sync failure: %v", r)
			c.opts.Logger.Error(err.Error(), err)
			res = newResult(StatusError, err.Error())
			res.FinishedAt = core.NowFunc()
			c.Notify(StatusError, 100)
		}
		c.setLastResult(res)
	}()

	if !c.opts.Connectivity.IsOnline() {
		c.opts.Logger.Debug("sync requested while offline")
		return newResult(StatusError, msgOffline)
	}

	lockCtx, release, acquired, err := c.tryLock(ctx)
	if err != nil {
		err = errors.Wrap(err, "acquiring sync lock")
		c.opts.Logger.Error(err.Error(), err)
		return newResult(StatusError, err.Error())
	}
	if !acquired {
		c.opts.Logger.Info(fmt.Sprintf("%s (%s)", msgLockNotAcquire, c.opts.LockName))
		return newResult(StatusIdle, msgLockNotAcquire)
	}
	defer release()

	if c.inProgress.CompareAndSwap(false, true) {
		defer c.inProgress.Store(false)
	} else if !force {
		return newResult(StatusSyncing, msgInProgress)
	}

	return c.drain(lockCtx, force)
}

// tryLock takes the run lock. With a ScopedLocker the returned context ends when the lock is lost.
func (c *Coordinator) tryLock(ctx context.Context) (context.Context, func(), bool, error) {
	if sl, ok := c.opts.Locker.(ScopedLocker); ok {
		return sl.TryLockContext(ctx, c.opts.LockName)
	}
	release, acquired, err := c.opts.Locker.TryLock(ctx, c.opts.LockName)
	return ctx, release, acquired, err
}

func (c *Coordinator) drain(ctx context.Context, force bool) SyncResult {
	res := newResult(StatusSyncing)
	res.StartedAt = core.NowFunc()
	c.Notify(StatusSyncing, 0)

	items := c.readQueue(ctx, force, &res)
	total := len(items)

	var exhausted []QueueItem
	interrupted := false

	for i, item := range items {
		if ctx.Err() != nil {
			interrupted = true
			res.Errors = append(res.Errors, SyncError{Message: errors.Wrap(context.Cause(ctx), "sync interrupted").Error()})
			break
		}
		if left := c.process(ctx, item, &res); left != nil {
			exhausted = append(exhausted, *left)
		}
		c.Notify(StatusSyncing, progress(i+1, total))
	}

	res.Status = StatusSuccess
	if res.FailedCount > 0 || res.HasStoreErrors() || interrupted {
		res.Status = StatusError
	}
	res.FinishedAt = core.NowFunc()
	c.Notify(res.Status, 100)

	c.opts.Logger.Info(fmt.Sprintf(
		"sync %s (%s): %d synced, %d failed, %d skipped in %v",
		res.Status, c.opts.LockName, res.SyncedCount, res.FailedCount, res.SkippedCount, res.Duration(),
	))

	c.observe(ctx, Run{
		ID:        uuid.New().String(),
		LockName:  c.opts.LockName,
		Forced:    force,
		Result:    res,
		Exhausted: exhausted,
	})
	return res
}

// readQueue reads the registered stores in order, then any other store found in the queue.
// A failing store is recorded and contributes no items.
// Items at the retry cap, or not due yet, are skipped.
func (c *Coordinator) readQueue(ctx context.Context, force bool, res *SyncResult) (items []QueueItem) {
	stores := c.opts.Handlers.Stores()

	names, err := c.opts.Store.StoreNames(ctx)
	if err != nil {
		c.opts.Logger.Error(fmt.Sprintf("listing queued stores: %v", err), err)
		res.addStoreError("*", errors.Wrap(err, "listing queued stores"))
	}
	var unknown []string
	for _, name := range names {
		if !c.opts.Handlers.Has(name) {
			unknown = append(unknown, name)
		}
	}
	sort.Strings(unknown)
	stores = append(stores, unknown...)

	now := core.NowFunc()
	for _, store := range stores {
		queued, err := c.opts.Store.List(ctx, store)
		if err != nil {
			c.opts.Logger.Error(fmt.Sprintf("reading %q queue: %v", store, err), err)
			res.addStoreError(store, errors.Wrapf(err, "reading %q queue", store))
			continue
		}
		for _, item := range queued {
			switch {
			case c.opts.Retry.Exhausted(item):
				res.SkippedCount++
			case !force && !c.opts.Retry.Due(item, now):
				res.SkippedCount++
			default:
				items = append(items, item)
			}
		}
	}
	return items
}

// process submits one item and books the outcome. It returns the item when its attempts
// just reached AlertThreshold or the retry cap, or when the remote refused it on its first attempt.
func (c *Coordinator) process(ctx context.Context, item QueueItem, res *SyncResult) *QueueItem {
	err := c.submit(ctx, item)
	if err == nil {
		if err = c.opts.Store.Remove(ctx, item.ID); err != nil {
			// accepted remotely but still queued: the next run replays it
			err = errors.Wrap(err, "removing synced item")
			c.opts.Logger.Error(err.Error(), err, item)
			res.FailedCount++
			res.addError(item, err)
			return nil
		}
		res.SyncedCount++
		return nil
	}

	res.FailedCount++
	res.addError(item, err)

	if errors.Is(err, ErrUnknownStore) && c.opts.UnknownStorePolicy == UnknownStoreDiscard {
		if rmErr := c.opts.Store.Remove(ctx, item.ID); rmErr != nil {
			rmErr = errors.Wrap(rmErr, "discarding item of unknown store")
			c.opts.Logger.Error(rmErr.Error(), rmErr, item)
			res.addError(item, rmErr)
		}
		return nil
	}

	item.Attempts++
	item.LastError = err.Error()
	item.LastAttemptAt = core.NowFunc()
	attempt := Attempt{Attempts: item.Attempts, Error: item.LastError, AttemptedAt: item.LastAttemptAt}
	if upErr := c.opts.Store.UpdateAttempts(ctx, item.ID, attempt); upErr != nil {
		upErr = errors.Wrap(upErr, "updating attempts")
		c.opts.Logger.Error(upErr.Error(), upErr, item)
		res.addError(item, upErr)
	}

	switch {
	case errors.Is(err, ErrRejected) && item.Attempts == 1:
		// retries rarely fix a refused payload: report it without waiting for the threshold
		return &item
	case c.opts.AlertThreshold > 0 && item.Attempts == c.opts.AlertThreshold:
		return &item
	case c.opts.Retry.Exhausted(item):
		return &item
	}
	return nil
}

func (c *Coordinator) submit(ctx context.Context, item QueueItem) error {
	if c.opts.SubmitTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.opts.SubmitTimeout)
		defer cancel()
	}
	return c.opts.Handlers.Dispatch(ctx, item)
}

func (c *Coordinator) observe(ctx context.Context, run Run) {
	ctx = context.WithoutCancel(ctx) // the run is booked even when the caller gave up
	for _, o := range c.opts.Observers {
		func() {
			defer func() {
				if r := recover(); r != nil {
					c.opts.Logger.Error(fmt.Sprintf("run observer panicked: %v", r), fmt.Errorf("%v", r))
				}
			}()
			o.RunFinished(ctx, run)
		}()
	}
}

func progress(processed, total int) int {
	if total == 0 {
		return 100
	}
	return int(math.Round(float64(processed) / float64(total) * 100))
}
