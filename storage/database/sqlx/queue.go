package sqlxrepos

import (
	"context"
	"database/sql"
	"encoding/json"

	"github.com/jmoiron/sqlx"
	"github.com/pkg/errors"
	"github.com/volatiletech/null/v8"

	"github.com/trezcool/masomo-sync/core"
	"github.com/trezcool/masomo-sync/core/offline"
)

const queueColumns = "id, store_name, operation, entity_id, data, attempts, last_error, last_attempt_at, created_at"

type queueRow struct {
	ID            string      `db:"id"`
	StoreName     string      `db:"store_name"`
	Operation     string      `db:"operation"`
	EntityID      string      `db:"entity_id"`
	Data          string      `db:"data"`
	Attempts      int         `db:"attempts"`
	LastError     null.String `db:"last_error"`
	LastAttemptAt null.Int64  `db:"last_attempt_at"`
	CreatedAt     int64       `db:"created_at"`
}

func (row queueRow) item() offline.QueueItem {
	return offline.QueueItem{
		ID:            row.ID,
		StoreName:     row.StoreName,
		Operation:     offline.Operation(row.Operation),
		EntityID:      row.EntityID,
		Data:          json.RawMessage(row.Data),
		Attempts:      row.Attempts,
		LastError:     row.LastError.String,
		LastAttemptAt: core.FromUnixMilli(row.LastAttemptAt.Int64),
		CreatedAt:     core.FromUnixMilli(row.CreatedAt),
	}
}

// queueStore keeps the queue in the sync_queue table, shared by every process using the same database.
type queueStore struct {
	db *sqlx.DB
}

var _ offline.QueueStore = (*queueStore)(nil) // interface compliance check

func NewQueueStore(db *sqlx.DB) *queueStore {
	return &queueStore{db: db}
}

func (store queueStore) selectItems(ctx context.Context, where string, args ...interface{}) ([]offline.QueueItem, error) {
	q := "SELECT " + queueColumns + " FROM sync_queue"
	if where != "" {
		q += " WHERE " + where
	}
	q += " ORDER BY seq ASC, created_at ASC"

	var rows []queueRow
	if err := store.db.SelectContext(ctx, &rows, store.db.Rebind(q), args...); err != nil {
		return nil, err
	}
	items := make([]offline.QueueItem, 0, len(rows))
	for _, row := range rows {
		items = append(items, row.item())
	}
	return items, nil
}

func (store queueStore) StoreNames(ctx context.Context) ([]string, error) {
	names := make([]string, 0)
	err := store.db.SelectContext(ctx, &names, "SELECT DISTINCT store_name FROM sync_queue ORDER BY store_name")
	return names, errors.Wrap(err, "selecting store names")
}

func (store queueStore) List(ctx context.Context, storeName string) ([]offline.QueueItem, error) {
	items, err := store.selectItems(ctx, "store_name = ?", storeName)
	return items, errors.Wrap(err, "selecting queue items")
}

func (store queueStore) QueryAll(ctx context.Context) ([]offline.QueueItem, error) {
	items, err := store.selectItems(ctx, "")
	return items, errors.Wrap(err, "selecting queue items")
}

func (store queueStore) Get(ctx context.Context, id string) (offline.QueueItem, error) {
	var row queueRow
	q := store.db.Rebind("SELECT " + queueColumns + " FROM sync_queue WHERE id = ?")
	if err := store.db.GetContext(ctx, &row, q, id); err != nil {
		if err == sql.ErrNoRows {
			return offline.QueueItem{}, offline.ErrNotFound
		}
		return offline.QueueItem{}, errors.Wrap(err, "selecting queue item")
	}
	return row.item(), nil
}

func (store queueStore) Enqueue(ctx context.Context, item offline.QueueItem) (offline.QueueItem, error) {
	// seq keeps FIFO order independent of clock resolution
	q := store.db.Rebind(`
		INSERT INTO sync_queue (id, seq, store_name, operation, entity_id, data, attempts, created_at)
		SELECT ?, COALESCE(MAX(seq), 0) + 1, ?, ?, ?, ?, ?, ? FROM sync_queue`)
	_, err := store.db.ExecContext(
		ctx, q,
		item.ID, item.StoreName, string(item.Operation), item.EntityID, string(item.Data), item.Attempts,
		core.UnixMilli(item.CreatedAt),
	)
	if err != nil {
		return offline.QueueItem{}, errors.Wrap(err, "inserting queue item")
	}
	return item, nil
}

func (store queueStore) Remove(ctx context.Context, id string) error {
	_, err := store.db.ExecContext(ctx, store.db.Rebind("DELETE FROM sync_queue WHERE id = ?"), id)
	return errors.Wrap(err, "deleting queue item")
}

func (store queueStore) UpdateAttempts(ctx context.Context, id string, attempt offline.Attempt) error {
	q := store.db.Rebind("UPDATE sync_queue SET attempts = ?, last_error = ?, last_attempt_at = ? WHERE id = ?")
	res, err := store.db.ExecContext(
		ctx, q,
		attempt.Attempts,
		null.NewString(attempt.Error, attempt.Error != ""),
		null.NewInt64(core.UnixMilli(attempt.AttemptedAt), !attempt.AttemptedAt.IsZero()),
		id,
	)
	if err != nil {
		return errors.Wrap(err, "updating queue item attempts")
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return offline.ErrNotFound
	}
	return nil
}
