package inmemdb

import (
	"context"
	"sort"

	"github.com/trezcool/masomo-sync/core"
	"github.com/trezcool/masomo-sync/core/offline"
)

type runRepository struct {
	db *runTable
}

var _ offline.RunRepository = (*runRepository)(nil) // interface compliance check

func NewRunRepository(db *DB) *runRepository {
	return &runRepository{db: db.runs}
}

func (repo *runRepository) CreateRun(ctx context.Context, run offline.Run, _ ...core.DBExecutor) (offline.Run, error) {
	repo.db.Lock()
	defer repo.db.Unlock()

	run.Exhausted = nil
	repo.db.table = append(repo.db.table, run)
	return run, nil
}

// QueryRuns only knows the started_at ordering; newest first by default.
func (repo *runRepository) QueryRuns(ctx context.Context, filter offline.RunFilter, _ ...core.DBExecutor) ([]offline.Run, error) {
	repo.db.RLock()
	defer repo.db.RUnlock()

	ascending := false
	for _, ord := range filter.Orderings {
		if ord.Field == "started_at" {
			ascending = ord.Ascending
		}
	}

	runs := make([]offline.Run, 0, len(repo.db.table))
	for _, run := range repo.db.table {
		if filter.LockName != "" && run.LockName != filter.LockName {
			continue
		}
		if filter.Status != "" && run.Result.Status != filter.Status {
			continue
		}
		runs = append(runs, run)
	}
	sort.SliceStable(runs, func(i, j int) bool {
		if ascending {
			return runs[i].Result.StartedAt.Before(runs[j].Result.StartedAt)
		}
		return runs[i].Result.StartedAt.After(runs[j].Result.StartedAt)
	})
	if filter.Limit > 0 && len(runs) > filter.Limit {
		runs = runs[:filter.Limit]
	}
	return runs, nil
}
