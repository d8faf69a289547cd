package offline

import (
	"context"
	"encoding/json"

	ut "github.com/go-playground/universal-translator"
	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	"github.com/pkg/errors"

	"github.com/trezcool/masomo-sync/core"
)

type (
	NewQueueItem struct {
		StoreName string          `json:"store_name" validate:"required,storename"`
		Operation Operation       `json:"operation" validate:"required,oneof=create update delete"`
		EntityID  string          `json:"entity_id"`
		Data      json.RawMessage `json:"data"`
	}

	// Service is the entry point of offline mutations: it validates and queues them, and
	// exposes the queue and the run history.
	Service struct {
		store      QueueStore
		runs       RunRepository
		validate   *validator.Validate
		translator ut.Translator
		stores     map[string]bool
	}
)

// NewService returns a Service accepting mutations for the given stores only (any store when none is given).
func NewService(store QueueStore, runs RunRepository, validate *validator.Validate, translator ut.Translator, stores ...string) *Service {
	svc := &Service{
		store:      store,
		runs:       runs,
		validate:   validate,
		translator: translator,
		stores:     make(map[string]bool, len(stores)),
	}
	for _, s := range stores {
		svc.stores[s] = true
	}
	return svc
}

func (svc *Service) clean(ni NewQueueItem) (NewQueueItem, error) {
	ni.StoreName = core.CleanString(ni.StoreName, true)
	ni.Operation = Operation(core.CleanString(string(ni.Operation), true))
	ni.EntityID = core.CleanString(ni.EntityID)

	if err := svc.validate.Struct(ni); err != nil {
		return ni, core.TranslateValidationErrors(err, svc.translator)
	}

	var fields []core.FieldError
	if len(svc.stores) > 0 && !svc.stores[ni.StoreName] {
		fields = append(fields, core.FieldError{Field: "store_name", Error: "unknown store"})
	}
	if ni.Operation != OpCreate && ni.EntityID == "" {
		fields = append(fields, core.FieldError{Field: "entity_id", Error: "this field is required"})
	}
	switch {
	case len(ni.Data) == 0 && ni.Operation == OpDelete:
		ni.Data = json.RawMessage(`{}`)
	case len(ni.Data) == 0:
		fields = append(fields, core.FieldError{Field: "data", Error: "this field is required"})
	case !json.Valid(ni.Data):
		fields = append(fields, core.FieldError{Field: "data", Error: "must be valid JSON"})
	}
	if len(fields) > 0 {
		return ni, core.NewValidationError(errors.New("invalid data"), fields...)
	}
	return ni, nil
}

func (svc *Service) Enqueue(ctx context.Context, ni NewQueueItem) (QueueItem, error) {
	ni, err := svc.clean(ni)
	if err != nil {
		return QueueItem{}, err
	}
	item := QueueItem{
		ID:        uuid.New().String(),
		StoreName: ni.StoreName,
		Operation: ni.Operation,
		EntityID:  ni.EntityID,
		Data:      ni.Data,
		CreatedAt: core.NowFunc().UTC(),
	}
	item, err = svc.store.Enqueue(ctx, item)
	return item, errors.Wrap(err, "enqueueing item")
}

// Query returns the queued items of storeName, or of every store when it is empty.
func (svc *Service) Query(ctx context.Context, storeName string) ([]QueueItem, error) {
	if storeName = core.CleanString(storeName, true); storeName != "" {
		return svc.store.List(ctx, storeName)
	}
	return svc.store.QueryAll(ctx)
}

func (svc *Service) Get(ctx context.Context, id string) (QueueItem, error) {
	return svc.store.Get(ctx, id)
}

// Discard drops a queued item without submitting it.
func (svc *Service) Discard(ctx context.Context, id string) error {
	if _, err := svc.store.Get(ctx, id); err != nil {
		return err
	}
	return svc.store.Remove(ctx, id)
}

func (svc *Service) QueryRuns(ctx context.Context, filter RunFilter) ([]Run, error) {
	if filter.Limit <= 0 || filter.Limit > 500 {
		filter.Limit = 50
	}
	return svc.runs.QueryRuns(ctx, filter)
}
