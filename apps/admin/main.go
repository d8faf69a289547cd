package main

import (
	"fmt"
	"os"

	"github.com/trezcool/masomo-sync/core"
	"github.com/trezcool/masomo-sync/core/offline"
	logsvc "github.com/trezcool/masomo-sync/services/logger"
	remotesvc "github.com/trezcool/masomo-sync/services/remote"
	"github.com/trezcool/masomo-sync/storage"
	"github.com/trezcool/masomo-sync/storage/database"
	boiledrepos "github.com/trezcool/masomo-sync/storage/database/sqlboiler"
	sqlxrepos "github.com/trezcool/masomo-sync/storage/database/sqlx"
)

var logger core.Logger

func main() {
	defer os.Exit(0)

	conf := core.NewConfig()
	logger = logsvc.New("ADMIN : ", conf)

	// set up DB
	errAndDie(database.CreateIfNotExist(conf))
	db, err := database.Open(conf)
	errAndDie(err)
	defer db.Close()

	x := database.NewX(db, conf)
	store := sqlxrepos.NewQueueStore(x)
	runs := boiledrepos.NewRunRepository(db, conf.Database.Engine)

	locker, err := storage.NewLocker(conf, x, logger)
	errAndDie(err)
	profile, err := offline.ProfileByName(conf.Sync.Profile)
	errAndDie(err)
	policy, err := offline.ParseUnknownStorePolicy(conf.Sync.UnknownStorePolicy)
	errAndDie(err)

	remote := remotesvc.NewClient(conf, logger)
	coordinator := offline.NewCoordinator(offline.Options{
		LockName:           profile.LockName,
		Store:              store,
		Locker:             locker,
		Handlers:           profile.Handlers(remote, logger),
		Logger:             logger,
		UnknownStorePolicy: policy,
		Retry: offline.RetryPolicy{
			MaxAttempts:     conf.Sync.MaxAttempts,
			InitialInterval: conf.Sync.BackoffInitial,
			MaxInterval:     conf.Sync.BackoffMax,
		},
		SubmitTimeout: conf.Sync.SubmitTimeout,
		Observers:     []offline.RunObserver{offline.NewRunRecorder(runs, logger)},
	})

	// start CLI
	cli := commandLine{
		conf:        conf,
		db:          db,
		store:       store,
		coordinator: coordinator,
		remote:      remote,
		out:         os.Stdout,
	}
	if err := cli.run(os.Args); err != nil {
		if err != errHelp {
			logger.Error(fmt.Sprintf("\nerror: %s\n", err), err)
		}
		os.Exit(1)
	}
}

func errAndDie(err error) {
	if err != nil {
		logger.Fatal(err.Error(), err)
	}
}
