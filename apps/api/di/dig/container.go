package dig_container

import (
	"database/sql"
	"fmt"
	"log"

	ut "github.com/go-playground/universal-translator"
	"github.com/go-playground/validator/v10"
	"github.com/jmoiron/sqlx"
	"github.com/pkg/errors"
	"go.uber.org/dig"

	echoapi "github.com/trezcool/masomo-sync/apps/api/echo"
	"github.com/trezcool/masomo-sync/core"
	"github.com/trezcool/masomo-sync/core/offline"
	emailsvc "github.com/trezcool/masomo-sync/services/email"
	logsvc "github.com/trezcool/masomo-sync/services/logger"
	metricsvc "github.com/trezcool/masomo-sync/services/metrics"
	remotesvc "github.com/trezcool/masomo-sync/services/remote"
	"github.com/trezcool/masomo-sync/storage"
	"github.com/trezcool/masomo-sync/storage/database"
	boiledrepos "github.com/trezcool/masomo-sync/storage/database/sqlboiler"
	sqlxrepos "github.com/trezcool/masomo-sync/storage/database/sqlx"
)

type (
	DBLoggerParam struct {
		dig.In
		Logger core.Logger `name:"dbLogger"`
	}

	SyncLoggerParam struct {
		dig.In
		Logger core.Logger `name:"syncLogger"`
	}

	SyncDeps struct {
		dig.In
		Conf    *core.Config
		Logger  core.Logger `name:"syncLogger"`
		Store   offline.QueueStore
		Runs    offline.RunRepository
		Locker  offline.Locker
		Watcher *offline.ConnectivityWatcher
		Remote  *remotesvc.Client
		MailSvc core.EmailService
		Metrics *metricsvc.Metrics
		Profile offline.Profile
		Policy  offline.UnknownStorePolicy
	}
)

func newLogger(conf *core.Config) core.Logger {
	return logsvc.New("API : ", conf)
}

func newDBLogger(conf *core.Config) core.Logger {
	return logsvc.New("DB : ", conf)
}

func newSyncLogger(conf *core.Config) core.Logger {
	return logsvc.New("SYNC : ", conf)
}

func newDB(conf *core.Config, loggerParam DBLoggerParam) (*sql.DB, core.DB) {
	setUp := func() (*sql.DB, error) {
		if err := database.CreateIfNotExist(conf); err != nil {
			return nil, err
		}

		db, err := database.Open(conf)
		if err != nil {
			return nil, err
		}

		if err = database.Migrate(db, conf); err != nil {
			return nil, err
		}
		return db, nil
	}

	db, err := setUp()
	if err != nil {
		loggerParam.Logger.Fatal(fmt.Sprintf("setting up database: %v", err), err)
	}
	return db, db
}

func newQueueStore(db *sql.DB, conf *core.Config) (*sqlx.DB, offline.QueueStore) {
	x := database.NewX(db, conf)
	return x, sqlxrepos.NewQueueStore(x)
}

func newRunRepository(db *sql.DB, conf *core.Config) offline.RunRepository {
	return boiledrepos.NewRunRepository(db, conf.Database.Engine)
}

func newLocker(conf *core.Config, x *sqlx.DB, loggerParam SyncLoggerParam) (offline.Locker, error) {
	return storage.NewLocker(conf, x, loggerParam.Logger)
}

func newProfile(conf *core.Config) (offline.Profile, offline.UnknownStorePolicy, error) {
	profile, err := offline.ProfileByName(conf.Sync.Profile)
	if err != nil {
		return offline.Profile{}, "", err
	}
	policy, err := offline.ParseUnknownStorePolicy(conf.Sync.UnknownStorePolicy)
	if err != nil {
		return offline.Profile{}, "", err
	}
	return profile, policy, nil
}

func newEmailService(conf *core.Config, logger core.Logger) core.EmailService {
	return emailsvc.NewService(conf, logger)
}

func newRemoteClient(conf *core.Config, loggerParam SyncLoggerParam) *remotesvc.Client {
	return remotesvc.NewClient(conf, loggerParam.Logger)
}

func newWatcher(conf *core.Config, loggerParam SyncLoggerParam) *offline.ConnectivityWatcher {
	return offline.NewConnectivityWatcher(offline.WatcherOptions{
		Checker:       remotesvc.NewHealthChecker(conf, loggerParam.Logger),
		CheckInterval: conf.Sync.CheckInterval,
		SyncInterval:  conf.Sync.Interval,
		Logger:        loggerParam.Logger,
	})
}

func newCoordinator(deps SyncDeps) *offline.Coordinator {
	conf := deps.Conf
	observers := []offline.RunObserver{
		offline.NewRunRecorder(deps.Runs, deps.Logger),
		deps.Metrics,
	}
	if conf.HasAdmins() {
		observers = append(observers, offline.NewFailureMailer(deps.MailSvc, conf.AdminEmails, conf.ClientID))
	}

	c := offline.NewCoordinator(offline.Options{
		LockName:           deps.Profile.LockName,
		Store:              deps.Store,
		Locker:             deps.Locker,
		Connectivity:       deps.Watcher,
		Handlers:           deps.Profile.Handlers(deps.Remote, deps.Logger),
		Logger:             deps.Logger,
		UnknownStorePolicy: deps.Policy,
		Retry: offline.RetryPolicy{
			MaxAttempts:     conf.Sync.MaxAttempts,
			InitialInterval: conf.Sync.BackoffInitial,
			MaxInterval:     conf.Sync.BackoffMax,
		},
		SubmitTimeout:  conf.Sync.SubmitTimeout,
		AlertThreshold: conf.Sync.AlertThreshold,
		Observers:      observers,
	})
	c.AddListener(deps.Metrics.Listener())
	deps.Watcher.Attach(c)
	return c
}

func newValidator(translator ut.Translator) *validator.Validate {
	validate := validator.New()
	core.InitValidators(validate, translator)
	return validate
}

func newService(
	store offline.QueueStore,
	runs offline.RunRepository,
	validate *validator.Validate,
	translator ut.Translator,
	profile offline.Profile,
) *offline.Service {
	return offline.NewService(store, runs, validate, translator, profile.Stores...)
}

func newServer(
	conf *core.Config,
	logger core.Logger,
	svc *offline.Service,
	coordinator *offline.Coordinator,
	watcher *offline.ConnectivityWatcher,
	validate *validator.Validate,
	translator ut.Translator,
) *echoapi.Server {
	return echoapi.NewServer(conf, logger, &echoapi.Deps{
		Service:     svc,
		Coordinator: coordinator,
		Watcher:     watcher,
		Validate:    validate,
		Translator:  translator,
	})
}

// New returns a new dependency injection dig.Container
func New() *dig.Container {
	c := dig.New()

	must(c.Provide(core.NewConfig))
	must(c.Provide(newLogger))
	must(c.Provide(newDBLogger, dig.Name("dbLogger")))
	must(c.Provide(newSyncLogger, dig.Name("syncLogger")))
	must(c.Provide(newDB))
	must(c.Provide(newQueueStore))
	must(c.Provide(newRunRepository))
	must(c.Provide(newLocker))
	must(c.Provide(newProfile))
	must(c.Provide(newEmailService))
	must(c.Provide(newRemoteClient))
	must(c.Provide(metricsvc.New))
	must(c.Provide(newWatcher))
	must(c.Provide(newCoordinator))
	must(c.Provide(core.NewTranslator))
	must(c.Provide(newValidator))
	must(c.Provide(newService))
	must(c.Provide(newServer))

	return c
}

// must exits program if err happened
func must(err error) {
	if err != nil {
		log.Fatal(errors.Wrap(err, "failed to provide dependency").Error())
	}
}
