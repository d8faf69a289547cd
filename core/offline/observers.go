package offline

import (
	"context"
	"fmt"
	"net/mail"

	"github.com/trezcool/masomo-sync/core"
)

// RunRecorder books every finished run into the run history.
type RunRecorder struct {
	repo   RunRepository
	logger core.Logger
}

var _ RunObserver = (*RunRecorder)(nil) // interface compliance check

func NewRunRecorder(repo RunRepository, logger core.Logger) *RunRecorder {
	return &RunRecorder{repo: repo, logger: logger}
}

func (rec *RunRecorder) RunFinished(ctx context.Context, run Run) {
	if _, err := rec.repo.CreateRun(ctx, run); err != nil {
		rec.logger.Error(fmt.Sprintf("recording sync run %s: %v", run.ID, err), err)
	}
}

// FailureMailer emails the admins about items that keep failing.
type FailureMailer struct {
	mailSvc core.EmailService
	admins  []mail.Address
	client  string
}

var _ RunObserver = (*FailureMailer)(nil) // interface compliance check

func NewFailureMailer(mailSvc core.EmailService, admins []mail.Address, clientID string) *FailureMailer {
	return &FailureMailer{mailSvc: mailSvc, admins: admins, client: clientID}
}

type failureReport struct {
	Client   string
	LockName string
	RunID    string
	Items    []QueueItem
}

func (fm *FailureMailer) RunFinished(_ context.Context, run Run) {
	if len(run.Exhausted) == 0 || len(fm.admins) == 0 {
		return
	}
	fm.mailSvc.SendMessages(&core.EmailMessage{
		To:           fm.admins,
		Subject:      fmt.Sprintf("%d offline changes cannot be synced", len(run.Exhausted)),
		TemplateName: "sync_failures",
		TemplateData: failureReport{
			Client:   fm.client,
			LockName: run.LockName,
			RunID:    run.ID,
			Items:    run.Exhausted,
		},
	})
}
