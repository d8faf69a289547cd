package offline

import (
	"context"
	"fmt"
	"sync"

	"github.com/pkg/errors"

	"github.com/trezcool/masomo-sync/core"
)

// HandlerFunc submits one queued item; a nil error means the remote side accepted it.
type HandlerFunc func(ctx context.Context, item QueueItem) error

// StoreHandlers holds the per-operation handlers of one store. A nil handler means the
// operation is not supported for that store.
type StoreHandlers struct {
	Create HandlerFunc
	Update HandlerFunc
	Delete HandlerFunc
}

func (sh StoreHandlers) forOperation(op Operation) HandlerFunc {
	switch op {
	case OpCreate:
		return sh.Create
	case OpUpdate:
		return sh.Update
	case OpDelete:
		return sh.Delete
	}
	return nil
}

// SubmitterHandlers routes every operation of a store to s.
func SubmitterHandlers(s Submitter) StoreHandlers {
	return StoreHandlers{Create: s.Submit, Update: s.Submit, Delete: s.Submit}
}

// Handlers maps store names to their operation handlers.
// Stores are kept in registration order: that is the order a drain visits them in.
type Handlers struct {
	mu     sync.RWMutex
	stores map[string]StoreHandlers
	order  []string
	logger core.Logger
}

func NewHandlers(logger core.Logger) *Handlers {
	return &Handlers{
		stores: make(map[string]StoreHandlers),
		logger: logger,
	}
}

// Register sets the handlers of storeName, replacing any previous ones.
func (h *Handlers) Register(storeName string, sh StoreHandlers) *Handlers {
	h.mu.Lock()
	defer h.mu.Unlock()

	if _, ok := h.stores[storeName]; !ok {
		h.order = append(h.order, storeName)
	}
	h.stores[storeName] = sh
	return h
}

// Stores returns the registered store names in registration order.
func (h *Handlers) Stores() []string {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return append([]string(nil), h.order...)
}

func (h *Handlers) Has(storeName string) bool {
	h.mu.RLock()
	defer h.mu.RUnlock()
	_, ok := h.stores[storeName]
	return ok
}

// Dispatch runs the handler matching the item's store and operation.
// It never panics: unknown stores, unsupported operations and handler panics all come back as errors.
func (h *Handlers) Dispatch(ctx context.Context, item QueueItem) (err error) {
	h.mu.RLock()
	sh, ok := h.stores[item.StoreName]
	h.mu.RUnlock()

	if !ok {
		h.logger.Warn(fmt.Sprintf("no handler for store %q", item.StoreName), item)
		return errors.Wrapf(ErrUnknownStore, "%q", item.StoreName)
	}
	fn := sh.forOperation(item.Operation)
	if fn == nil {
		h.logger.Warn(fmt.Sprintf("store %q does not support %q", item.StoreName, item.Operation), item)
		return errors.Wrapf(ErrUnsupportedOperation, "%s on %q", item.Operation, item.StoreName)
	}

	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("handler panic: %v", r)
		}
	}()
	return fn(ctx, item)
}
