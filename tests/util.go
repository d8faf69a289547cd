package testutil

import (
	"context"
	"database/sql"
	"encoding/json"
	"io"
	"log"
	"path/filepath"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/trezcool/masomo-sync/core"
	"github.com/trezcool/masomo-sync/core/offline"
	logsvc "github.com/trezcool/masomo-sync/services/logger"
	"github.com/trezcool/masomo-sync/storage/database"
)

// NewConfig returns the TEST config, with its sqlite file and lock dir under t.TempDir().
func NewConfig(t *testing.T) *core.Config {
	t.Helper()
	conf := core.NewConfig()
	dir := t.TempDir()

	conf.Debug = true
	conf.TestMode = true
	conf.LogFile = ""
	conf.Database.Engine = "sqlite"
	conf.Database.Path = filepath.Join(dir, "queue.db")
	conf.Sync.LockDir = filepath.Join(dir, "locks")
	return conf
}

// NewLogger returns a logger discarding everything.
func NewLogger(conf *core.Config) core.Logger {
	logger := logsvc.NewRollbarLogger(log.New(io.Discard, "", 0), conf)
	logger.Enable(false)
	return logger
}

// PrepareDB opens and migrates the sqlite database of conf; it is closed when the test ends.
func PrepareDB(t *testing.T, conf *core.Config) *sql.DB {
	t.Helper()
	if err := database.CreateIfNotExist(conf); err != nil {
		t.Fatalf("PrepareDB() failed: %v", err)
	}
	db, err := database.Open(conf)
	if err != nil {
		t.Fatalf("PrepareDB() failed: %v", err)
	}
	t.Cleanup(func() { _ = db.Close() })

	if err = database.Migrate(db, conf); err != nil {
		t.Fatalf("PrepareDB() failed: %v", err)
	}
	return db
}

// EnqueueItem queues a mutation of storeName directly in the store.
func EnqueueItem(
	t *testing.T,
	store offline.QueueStore,
	storeName string,
	op offline.Operation,
	entityID string,
	data interface{},
	createdAt ...time.Time,
) offline.QueueItem {
	t.Helper()
	tstamp := time.Now().UTC()
	if len(createdAt) > 0 {
		tstamp = createdAt[0].UTC()
	}
	raw, err := json.Marshal(data)
	if err != nil {
		t.Fatalf("EnqueueItem() failed: %v", err)
	}
	item, err := store.Enqueue(context.Background(), offline.QueueItem{
		ID:        uuid.New().String(),
		StoreName: storeName,
		Operation: op,
		EntityID:  entityID,
		Data:      raw,
		CreatedAt: tstamp,
	})
	if err != nil {
		t.Fatalf("EnqueueItem() failed: %v", err)
	}
	return item
}
