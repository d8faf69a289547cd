package offline

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/trezcool/masomo-sync/core"
)

// Syncer is what the ConnectivityWatcher drives; *Coordinator implements it.
type Syncer interface {
	Sync(ctx context.Context, force bool) SyncResult
	Notify(status Status, progress int)
}

type WatcherOptions struct {
	Checker       HealthChecker // optional: without it only SetOnline changes the signal
	CheckInterval time.Duration // defaults to 15s
	SyncInterval  time.Duration // periodic sync while online; 0 disables it
	InitialOnline bool
	Logger        core.Logger
}

// ConnectivityWatcher tracks the online signal and syncs when the device comes back online.
type ConnectivityWatcher struct {
	opts   WatcherOptions
	online atomic.Bool

	mu     sync.Mutex
	syncer Syncer
	cancel context.CancelFunc
	done   chan struct{}
}

var _ Connectivity = (*ConnectivityWatcher)(nil)

func NewConnectivityWatcher(opts WatcherOptions) *ConnectivityWatcher {
	if opts.CheckInterval <= 0 {
		opts.CheckInterval = 15 * time.Second
	}
	w := &ConnectivityWatcher{opts: opts}
	w.online.Store(opts.InitialOnline)
	return w
}

func (w *ConnectivityWatcher) IsOnline() bool {
	return w.online.Load()
}

// Attach sets the Syncer notified and triggered on transitions.
func (w *ConnectivityWatcher) Attach(s Syncer) {
	w.mu.Lock()
	w.syncer = s
	w.mu.Unlock()
}

func (w *ConnectivityWatcher) getSyncer() Syncer {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.syncer
}

// SetOnline updates the signal. Going offline notifies idle; going online notifies, then syncs.
// The auto sync runs in the caller's goroutine; its failure is only logged.
func (w *ConnectivityWatcher) SetOnline(ctx context.Context, online bool) {
	if was := w.online.Swap(online); was == online {
		return
	}

	s := w.getSyncer()
	if !online {
		w.opts.Logger.Info("connectivity lost")
		if s != nil {
			s.Notify(StatusIdle, 0)
		}
		return
	}

	w.opts.Logger.Info("connectivity restored")
	if s == nil {
		return
	}
	s.Notify(StatusIdle, 0)
	w.autoSync(ctx, s, "reconnect")
}

func (w *ConnectivityWatcher) autoSync(ctx context.Context, s Syncer, trigger string) {
	res := s.Sync(ctx, false)
	if res.Status == StatusError {
		w.opts.Logger.Warn(fmt.Sprintf("auto sync on %s failed: %d failed, %d errors", trigger, res.FailedCount, len(res.Errors)), res.Errors)
	}
}

// Start checks the remote side every CheckInterval and, when SyncInterval is set, syncs
// periodically while online. It returns immediately; Stop ends the loop.
func (w *ConnectivityWatcher) Start(ctx context.Context) {
	w.mu.Lock()
	if w.cancel != nil {
		w.mu.Unlock()
		return
	}
	ctx, w.cancel = context.WithCancel(ctx)
	w.done = make(chan struct{})
	w.mu.Unlock()

	go w.loop(ctx)
}

func (w *ConnectivityWatcher) loop(ctx context.Context) {
	defer close(w.done)

	var checkC, syncC <-chan time.Time
	if w.opts.Checker != nil {
		check := time.NewTicker(w.opts.CheckInterval)
		defer check.Stop()
		checkC = check.C
		w.SetOnline(ctx, w.opts.Checker.Check(ctx))
	}
	if w.opts.SyncInterval > 0 {
		periodic := time.NewTicker(w.opts.SyncInterval)
		defer periodic.Stop()
		syncC = periodic.C
	}

	for {
		select {
		case <-ctx.Done():
			return
		case <-checkC:
			w.SetOnline(ctx, w.opts.Checker.Check(ctx))
		case <-syncC:
			if s := w.getSyncer(); s != nil && w.IsOnline() {
				w.autoSync(ctx, s, "schedule")
			}
		}
	}
}

// Stop ends the loop started by Start and waits for it.
func (w *ConnectivityWatcher) Stop() {
	w.mu.Lock()
	cancel, done := w.cancel, w.done
	w.cancel, w.done = nil, nil
	w.mu.Unlock()

	if cancel == nil {
		return
	}
	cancel()
	<-done
}
