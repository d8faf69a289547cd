package offline

import (
	"fmt"
	"sort"
	"sync"

	"github.com/trezcool/masomo-sync/core"
)

// Listener observes status changes; progress is a 0..100 percentage.
type Listener func(status Status, progress int)

// ListenerID identifies a registered Listener.
type ListenerID uint64

type listeners struct {
	mu     sync.RWMutex
	nextID ListenerID
	byID   map[ListenerID]Listener
	logger core.Logger
}

func newListeners(logger core.Logger) *listeners {
	return &listeners{byID: make(map[ListenerID]Listener), logger: logger}
}

func (ls *listeners) add(l Listener) ListenerID {
	ls.mu.Lock()
	defer ls.mu.Unlock()
	ls.nextID++
	ls.byID[ls.nextID] = l
	return ls.nextID
}

func (ls *listeners) remove(id ListenerID) {
	ls.mu.Lock()
	defer ls.mu.Unlock()
	delete(ls.byID, id)
}

func (ls *listeners) snapshot() []Listener {
	ls.mu.RLock()
	defer ls.mu.RUnlock()

	ids := make([]ListenerID, 0, len(ls.byID))
	for id := range ls.byID {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })

	out := make([]Listener, 0, len(ids))
	for _, id := range ids {
		out = append(out, ls.byID[id])
	}
	return out
}

// broadcast calls every listener; a panicking listener is logged and skipped.
func (ls *listeners) broadcast(status Status, progress int) {
	for _, l := range ls.snapshot() {
		ls.call(l, status, progress)
	}
}

func (ls *listeners) call(l Listener, status Status, progress int) {
	defer func() {
		if r := recover(); r != nil {
			ls.logger.Error(fmt.Sprintf("sync listener panicked: %v", r), fmt.Errorf("%v", r))
		}
	}()
	l(status, progress)
}
