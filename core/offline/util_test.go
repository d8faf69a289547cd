package offline_test

import (
	"context"
	"sync"
	"testing"

	"github.com/pkg/errors"

	"github.com/trezcool/masomo-sync/core"
	"github.com/trezcool/masomo-sync/core/offline"
	inmemdb "github.com/trezcool/masomo-sync/storage/database/inmem"
	"github.com/trezcool/masomo-sync/tests"
)

// spyStore records the calls made to an in-memory queue store and can fail some of them.
type spyStore struct {
	offline.QueueStore

	mu        sync.Mutex
	calls     []string
	removed   []string
	listErrs  map[string]error
	namesErr  error
	removeErr error
}

func newSpyStore() *spyStore {
	return &spyStore{
		QueueStore: inmemdb.NewQueueStore(inmemdb.Open()),
		listErrs:   make(map[string]error),
	}
}

func (s *spyStore) record(call string) {
	s.mu.Lock()
	s.calls = append(s.calls, call)
	s.mu.Unlock()
}

func (s *spyStore) Calls() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.calls...)
}

func (s *spyStore) StoreNames(ctx context.Context) ([]string, error) {
	s.record("StoreNames")
	if s.namesErr != nil {
		return nil, s.namesErr
	}
	return s.QueueStore.StoreNames(ctx)
}

func (s *spyStore) List(ctx context.Context, storeName string) ([]offline.QueueItem, error) {
	s.record("List:" + storeName)
	if err := s.listErrs[storeName]; err != nil {
		return nil, err
	}
	return s.QueueStore.List(ctx, storeName)
}

func (s *spyStore) Remove(ctx context.Context, id string) error {
	s.record("Remove:" + id)
	if s.removeErr != nil {
		return s.removeErr
	}
	s.mu.Lock()
	s.removed = append(s.removed, id)
	s.mu.Unlock()
	return s.QueueStore.Remove(ctx, id)
}

func (s *spyStore) UpdateAttempts(ctx context.Context, id string, attempt offline.Attempt) error {
	s.record("UpdateAttempts:" + id)
	return s.QueueStore.UpdateAttempts(ctx, id, attempt)
}

// spyLocker hands out a lock, or refuses it when held is set.
type spyLocker struct {
	mu       sync.Mutex
	held     bool
	err      error
	tries    int
	releases int
}

func (l *spyLocker) TryLock(_ context.Context, _ string) (func(), bool, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.tries++
	if l.err != nil {
		return nil, false, l.err
	}
	if l.held {
		return nil, false, nil
	}
	return func() {
		l.mu.Lock()
		l.releases++
		l.mu.Unlock()
	}, true, nil
}

// fakeRemote accepts every item whose EntityID is not failing.
type fakeRemote struct {
	mu        sync.Mutex
	submitted []offline.QueueItem
	failing   map[string]bool
	block     chan struct{} // when set, Submit waits on it
}

func newFakeRemote(failing ...string) *fakeRemote {
	r := &fakeRemote{failing: make(map[string]bool)}
	for _, id := range failing {
		r.failing[id] = true
	}
	return r
}

func (r *fakeRemote) Submit(ctx context.Context, item offline.QueueItem) error {
	if r.block != nil {
		select {
		case <-r.block:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.failing[item.EntityID] {
		return errors.Errorf("remote rejected %s", item.EntityID)
	}
	r.submitted = append(r.submitted, item)
	return nil
}

func (r *fakeRemote) Submitted() []offline.QueueItem {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]offline.QueueItem(nil), r.submitted...)
}

type onlineSwitch struct {
	mu     sync.Mutex
	online bool
}

func (o *onlineSwitch) IsOnline() bool {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.online
}

type notification struct {
	status   offline.Status
	progress int
}

type recorder struct {
	mu    sync.Mutex
	notes []notification
}

func (r *recorder) listen(status offline.Status, progress int) {
	r.mu.Lock()
	r.notes = append(r.notes, notification{status, progress})
	r.mu.Unlock()
}

func (r *recorder) Notes() []notification {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]notification(nil), r.notes...)
}

type fixture struct {
	store       *spyStore
	locker      *spyLocker
	remote      *fakeRemote
	conn        *onlineSwitch
	logger      core.Logger
	coordinator *offline.Coordinator
}

func newFixture(t *testing.T, opts offline.Options, failing ...string) *fixture {
	t.Helper()
	conf := testutil.NewConfig(t)
	f := &fixture{
		store:  newSpyStore(),
		locker: &spyLocker{},
		remote: newFakeRemote(failing...),
		conn:   &onlineSwitch{online: true},
		logger: testutil.NewLogger(conf),
	}
	if opts.LockName == "" {
		opts.LockName = offline.TeacherProfile.LockName
	}
	opts.Store = f.store
	opts.Locker = f.locker
	opts.Connectivity = f.conn
	opts.Logger = f.logger
	if opts.Handlers == nil {
		opts.Handlers = offline.TeacherProfile.Handlers(f.remote, f.logger)
	}
	f.coordinator = offline.NewCoordinator(opts)
	return f
}

func (f *fixture) enqueue(t *testing.T, storeName, entityID string) offline.QueueItem {
	return testutil.EnqueueItem(t, f.store.QueueStore, storeName, offline.OpUpdate, entityID, map[string]string{"value": "present"})
}
