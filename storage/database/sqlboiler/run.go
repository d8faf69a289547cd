package boiledrepos

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/pkg/errors"
	"github.com/volatiletech/sqlboiler/v4/drivers"
	"github.com/volatiletech/sqlboiler/v4/queries"
	"github.com/volatiletech/sqlboiler/v4/queries/qm"

	"github.com/trezcool/masomo-sync/core"
	"github.com/trezcool/masomo-sync/core/offline"
)

var (
	runColumns = []string{
		"id", "lock_name", "status", "forced", "synced_count", "failed_count", "skipped_count",
		"errors", "started_at", "finished_at",
	}

	// API field -> column
	runOrderings = map[string]string{
		"started_at":   "started_at",
		"finished_at":  "finished_at",
		"status":       "status",
		"synced_count": "synced_count",
		"failed_count": "failed_count",
	}
)

type runRow struct {
	ID           string `boil:"id"`
	LockName     string `boil:"lock_name"`
	Status       string `boil:"status"`
	Forced       bool   `boil:"forced"`
	SyncedCount  int    `boil:"synced_count"`
	FailedCount  int    `boil:"failed_count"`
	SkippedCount int    `boil:"skipped_count"`
	Errors       string `boil:"errors"`
	StartedAt    int64  `boil:"started_at"`
	FinishedAt   int64  `boil:"finished_at"`
}

type runRepository struct {
	exec    core.DBExecutor
	dialect drivers.Dialect
}

var _ offline.RunRepository = (*runRepository)(nil) // interface compliance check

// NewRunRepository returns the sync_runs repository; engine is "postgres" or "sqlite".
func NewRunRepository(exec core.DBExecutor, engine string) *runRepository {
	return &runRepository{
		exec: exec,
		dialect: drivers.Dialect{
			LQ:                   '"',
			RQ:                   '"',
			UseIndexPlaceholders: engine != "sqlite",
		},
	}
}

func (repo runRepository) getExec(svcExec []core.DBExecutor) core.DBExecutor {
	if len(svcExec) > 0 {
		return svcExec[0]
	}
	return repo.exec
}

func (repo runRepository) newQuery(mods ...qm.QueryMod) *queries.Query {
	q := &queries.Query{}
	queries.SetDialect(q, &repo.dialect)
	qm.Apply(q, mods...)
	return q
}

func (repo runRepository) placeholders(n int) string {
	ph := make([]string, n)
	for i := range ph {
		if repo.dialect.UseIndexPlaceholders {
			ph[i] = fmt.Sprintf("$%d", i+1)
		} else {
			ph[i] = "?"
		}
	}
	return strings.Join(ph, ", ")
}

func (repo runRepository) boil(run offline.Run) (runRow, error) {
	errs := run.Result.Errors
	if errs == nil {
		errs = []offline.SyncError{}
	}
	encoded, err := json.Marshal(errs)
	if err != nil {
		return runRow{}, err
	}
	return runRow{
		ID:           run.ID,
		LockName:     run.LockName,
		Status:       string(run.Result.Status),
		Forced:       run.Forced,
		SyncedCount:  run.Result.SyncedCount,
		FailedCount:  run.Result.FailedCount,
		SkippedCount: run.Result.SkippedCount,
		Errors:       string(encoded),
		StartedAt:    core.UnixMilli(run.Result.StartedAt),
		FinishedAt:   core.UnixMilli(run.Result.FinishedAt),
	}, nil
}

func (repo runRepository) unboil(row runRow) (offline.Run, error) {
	var errs []offline.SyncError
	if err := json.Unmarshal([]byte(row.Errors), &errs); err != nil {
		return offline.Run{}, errors.Wrapf(err, "decoding errors of run %s", row.ID)
	}
	return offline.Run{
		ID:       row.ID,
		LockName: row.LockName,
		Forced:   row.Forced,
		Result: offline.SyncResult{
			Status:       offline.Status(row.Status),
			SyncedCount:  row.SyncedCount,
			FailedCount:  row.FailedCount,
			SkippedCount: row.SkippedCount,
			Errors:       errs,
			StartedAt:    core.FromUnixMilli(row.StartedAt),
			FinishedAt:   core.FromUnixMilli(row.FinishedAt),
		},
	}, nil
}

func (repo runRepository) CreateRun(ctx context.Context, run offline.Run, exec ...core.DBExecutor) (offline.Run, error) {
	row, err := repo.boil(run)
	if err != nil {
		return offline.Run{}, errors.Wrap(err, "encoding run")
	}

	q := fmt.Sprintf(
		"INSERT INTO sync_runs (%s) VALUES (%s)",
		strings.Join(runColumns, ", "), repo.placeholders(len(runColumns)),
	)
	_, err = queries.Raw(
		q,
		row.ID, row.LockName, row.Status, row.Forced, row.SyncedCount, row.FailedCount, row.SkippedCount,
		row.Errors, row.StartedAt, row.FinishedAt,
	).ExecContext(ctx, repo.getExec(exec))
	if err != nil {
		return offline.Run{}, errors.Wrap(err, "inserting run")
	}
	run.Exhausted = nil
	return run, nil
}

func (repo runRepository) QueryRuns(ctx context.Context, filter offline.RunFilter, exec ...core.DBExecutor) ([]offline.Run, error) {
	mods := []qm.QueryMod{
		qm.Select(runColumns...),
		qm.From("sync_runs"),
	}
	if filter.LockName != "" {
		mods = append(mods, qm.Where("lock_name = ?", filter.LockName))
	}
	if filter.Status != "" {
		mods = append(mods, qm.Where("status = ?", string(filter.Status)))
	}
	mods = append(mods, qm.OrderBy(core.OrderBy(runOrderings, "started_at DESC", filter.Orderings...)))
	if filter.Limit > 0 {
		mods = append(mods, qm.Limit(filter.Limit))
	}

	var rows []runRow
	if err := repo.newQuery(mods...).Bind(ctx, repo.getExec(exec), &rows); err != nil {
		return nil, errors.Wrap(err, "selecting runs")
	}

	runs := make([]offline.Run, 0, len(rows))
	for _, row := range rows {
		run, err := repo.unboil(row)
		if err != nil {
			return nil, err
		}
		runs = append(runs, run)
	}
	return runs, nil
}
