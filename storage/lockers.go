package storage

import (
	"fmt"

	"github.com/jmoiron/sqlx"

	"github.com/trezcool/masomo-sync/core"
	"github.com/trezcool/masomo-sync/core/offline"
	inmemdb "github.com/trezcool/masomo-sync/storage/database/inmem"
	sqlxrepos "github.com/trezcool/masomo-sync/storage/database/sqlx"
	"github.com/trezcool/masomo-sync/storage/filelock"
)

// NewLocker returns the lock backend configured in conf.Sync.LockBackend:
//
//	file:     a lock file per name, shared by the processes of one device
//	database: a lease row in sync_locks, shared by the processes using the same database
//	local:    an in-process lock
func NewLocker(conf *core.Config, x *sqlx.DB, logger core.Logger) (offline.Locker, error) {
	switch conf.Sync.LockBackend {
	case "file":
		l, err := filelock.NewLocker(conf.Sync.LockDir, logger)
		if err != nil {
			return nil, err
		}
		return l, nil
	case "database":
		return sqlxrepos.NewLeaseLocker(x, conf.Sync.LockTTL, logger), nil
	case "local":
		return inmemdb.NewLocker(inmemdb.Open()), nil
	}
	return nil, fmt.Errorf("unknown lock backend %q", conf.Sync.LockBackend)
}
