package emailsvc

import (
	"context"
	"fmt"
	"net/http"
	"net/mail"
	"strconv"
	"time"

	"github.com/cenkalti/backoff/v5"
	"github.com/pkg/errors"
	"github.com/sendgrid/rest"
	"github.com/sendgrid/sendgrid-go"
	sgmail "github.com/sendgrid/sendgrid-go/helpers/mail"

	"github.com/trezcool/masomo-sync/core"
)

const (
	sendgridHost     = "https://api.sendgrid.com"
	sendgridMailPath = "/v3/mail/send"

	// alertCategory tags every mail so sync alerts can be filtered in the SendGrid activity feed.
	alertCategory = "sync-alert"

	deliveryMaxTries   = 5
	deliveryMaxElapsed = 2 * time.Minute
)

// sendgridAPI is replaced in tests.
var sendgridAPI = sendgrid.API

// sendgridService delivers alert mails (sync failure reports) through the SendGrid v3 API.
// Throttled (429) and failed (5xx) deliveries are retried with exponential backoff; any other
// refusal is logged once and dropped.
type sendgridService struct {
	key        string
	host       string
	from       *sgmail.Email
	subjPrefix string
	categories []string
	logger     core.Logger
	newBackOff func() backoff.BackOff
}

var _ core.EmailService = (*sendgridService)(nil)

func NewSendgridService(conf *core.Config, logger core.Logger) *sendgridService {
	return &sendgridService{
		key:        conf.SendgridApiKey,
		host:       sendgridHost,
		from:       sgmail.NewEmail(conf.DefaultFromEmail.Name, conf.DefaultFromEmail.Address),
		subjPrefix: "[" + conf.AppName + "] ",
		categories: []string{alertCategory, conf.ClientID},
		logger:     logger,
		newBackOff: func() backoff.BackOff {
			b := backoff.NewExponentialBackOff()
			b.InitialInterval = time.Second
			b.MaxInterval = 30 * time.Second
			return b
		},
	}
}

func (svc *sendgridService) SendMessages(messages ...*core.EmailMessage) {
	for _, msg := range messages {
		go svc.sendMessage(context.Background(), msg)
	}
}

func (svc *sendgridService) sendMessage(ctx context.Context, msg *core.EmailMessage) {
	if err := msg.Render(); err != nil {
		svc.logger.Error(fmt.Sprintf("%+v", errors.Wrap(err, "rendering alert mail")), err)
		return
	}
	if !msg.HasRecipients() || !msg.HasContent() {
		return
	}
	if err := svc.deliver(ctx, *msg); err != nil {
		svc.logger.Error(fmt.Sprintf("delivering alert mail %q: %v", msg.Subject, err), err)
	}
}

func (svc *sendgridService) deliver(ctx context.Context, msg core.EmailMessage) error {
	body := sgmail.GetRequestBody(svc.build(msg))

	_, err := backoff.Retry(ctx, func() (struct{}, error) {
		req := sendgrid.GetRequest(svc.key, sendgridMailPath, svc.host)
		req.Method = http.MethodPost
		req.Body = body

		res, err := sendgridAPI(req)
		if err != nil {
			return struct{}{}, errors.Wrap(err, "calling sendgrid")
		}
		return struct{}{}, deliveryError(res)
	},
		backoff.WithBackOff(svc.newBackOff()),
		backoff.WithMaxTries(deliveryMaxTries),
		backoff.WithMaxElapsedTime(deliveryMaxElapsed),
	)
	return err
}

// deliveryError maps a SendGrid answer to nil (accepted), a retryable error, or a permanent one.
func deliveryError(res *rest.Response) error {
	if res.StatusCode < http.StatusBadRequest {
		return nil
	}
	err := errors.Errorf("sendgrid answered %d: %s", res.StatusCode, res.Body)

	switch {
	case res.StatusCode == http.StatusTooManyRequests:
		if secs := retryAfter(res.Headers); secs > 0 {
			return backoff.RetryAfter(secs)
		}
		return err
	case res.StatusCode >= http.StatusInternalServerError:
		return err
	}
	return backoff.Permanent(err)
}

func retryAfter(headers map[string][]string) int {
	vals := http.Header(headers).Values("Retry-After")
	if len(vals) == 0 {
		return 0
	}
	secs, err := strconv.Atoi(vals[0])
	if err != nil {
		return 0
	}
	return secs
}

func (svc *sendgridService) build(msg core.EmailMessage) *sgmail.SGMailV3 {
	p := sgmail.NewPersonalization()
	p.Subject = svc.subjPrefix + msg.Subject
	p.AddTos(sgAddresses(msg.To)...)
	if len(msg.Cc) > 0 {
		p.AddCCs(sgAddresses(msg.Cc)...)
	}

	m := sgmail.NewV3Mail()
	m.SetFrom(svc.from)
	m.AddPersonalizations(p)
	m.AddContent(sgmail.NewContent("text/plain", msg.TextContent))
	for _, c := range svc.categories {
		if c != "" {
			m.AddCategories(c)
		}
	}
	return m
}

func sgAddresses(addrs []mail.Address) []*sgmail.Email {
	emails := make([]*sgmail.Email, 0, len(addrs))
	for _, a := range addrs {
		emails = append(emails, sgmail.NewEmail(a.Name, a.Address))
	}
	return emails
}

// NewService picks the console service in debug mode or without a SendGrid key, and SendGrid otherwise.
func NewService(conf *core.Config, logger core.Logger) core.EmailService {
	if conf.Debug || conf.SendgridApiKey == "" {
		return NewConsoleService(conf, logger)
	}
	return NewSendgridService(conf, logger)
}
