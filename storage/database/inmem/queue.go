package inmemdb

import (
	"context"
	"sort"

	"github.com/trezcool/masomo-sync/core/offline"
)

type queueStore struct {
	db *queueTable
}

var _ offline.QueueStore = (*queueStore)(nil) // interface compliance check

func NewQueueStore(db *DB) *queueStore {
	return &queueStore{db: db.queue}
}

// query returns copies of the items matching keep, in queue order. Callers hold the lock.
func (store *queueStore) query(keep func(offline.QueueItem) bool) []offline.QueueItem {
	items := make([]offline.QueueItem, 0, len(store.db.table))
	for _, item := range store.db.table {
		if keep == nil || keep(*item) {
			items = append(items, *item)
		}
	}
	sort.Slice(items, func(i, j int) bool {
		return store.db.seq[items[i].ID] < store.db.seq[items[j].ID]
	})
	return items
}

func (store *queueStore) StoreNames(ctx context.Context) ([]string, error) {
	store.db.RLock()
	defer store.db.RUnlock()

	seen := make(map[string]bool)
	names := make([]string, 0)
	for _, item := range store.db.table {
		if !seen[item.StoreName] {
			seen[item.StoreName] = true
			names = append(names, item.StoreName)
		}
	}
	sort.Strings(names)
	return names, nil
}

func (store *queueStore) List(ctx context.Context, storeName string) ([]offline.QueueItem, error) {
	store.db.RLock()
	defer store.db.RUnlock()
	return store.query(func(item offline.QueueItem) bool { return item.StoreName == storeName }), nil
}

func (store *queueStore) QueryAll(ctx context.Context) ([]offline.QueueItem, error) {
	store.db.RLock()
	defer store.db.RUnlock()
	return store.query(nil), nil
}

func (store *queueStore) Get(ctx context.Context, id string) (offline.QueueItem, error) {
	store.db.RLock()
	defer store.db.RUnlock()

	if item, ok := store.db.table[id]; ok {
		return *item, nil
	}
	return offline.QueueItem{}, offline.ErrNotFound
}

func (store *queueStore) Enqueue(ctx context.Context, item offline.QueueItem) (offline.QueueItem, error) {
	store.db.Lock()
	defer store.db.Unlock()

	store.db.next++
	store.db.seq[item.ID] = store.db.next
	store.db.table[item.ID] = &item
	return item, nil
}

func (store *queueStore) Remove(ctx context.Context, id string) error {
	store.db.Lock()
	defer store.db.Unlock()

	delete(store.db.table, id)
	delete(store.db.seq, id)
	return nil
}

func (store *queueStore) UpdateAttempts(ctx context.Context, id string, attempt offline.Attempt) error {
	store.db.Lock()
	defer store.db.Unlock()

	item, ok := store.db.table[id]
	if !ok {
		return offline.ErrNotFound
	}
	item.Attempts = attempt.Attempts
	item.LastError = attempt.Error
	item.LastAttemptAt = attempt.AttemptedAt
	return nil
}
