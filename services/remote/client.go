package remotesvc

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/pkg/errors"
	"github.com/sendgrid/rest"
	"golang.org/x/time/rate"

	"github.com/trezcool/masomo-sync/core"
	"github.com/trezcool/masomo-sync/core/offline"
)

var sendFunc = rest.SendWithContext // mockable

// RemoteError is a non-2xx answer of the remote API.
type RemoteError struct {
	StatusCode int
	Body       string
}

func (err *RemoteError) Error() string {
	body := err.Body
	if len(body) > 200 {
		body = body[:200] + "..."
	}
	return fmt.Sprintf("remote answered %d: %s", err.StatusCode, body)
}

// Is matches offline.ErrRejected when the remote side refused the item itself (4xx) rather than
// failing to process it. Timeouts and throttling (408, 429) are not refusals.
func (err *RemoteError) Is(target error) bool {
	if target != offline.ErrRejected {
		return false
	}
	switch err.StatusCode {
	case http.StatusRequestTimeout, http.StatusTooManyRequests:
		return false
	}
	return err.StatusCode >= 400 && err.StatusCode < 500
}

// Client submits queued mutations to the LMS REST API:
//
//	create: POST   <base>/v1/<store>
//	update: PUT    <base>/v1/<store>/<entity_id>
//	delete: DELETE <base>/v1/<store>/<entity_id>
type Client struct {
	baseURL  string
	token    string
	clientID string
	timeout  time.Duration
	limiter  *rate.Limiter
	logger   core.Logger
}

var _ offline.Submitter = (*Client)(nil) // interface compliance check

func NewClient(conf *core.Config, logger core.Logger) *Client {
	limit := rate.Inf
	if conf.Remote.RatePerSecond > 0 {
		limit = rate.Limit(conf.Remote.RatePerSecond)
	}
	burst := conf.Remote.Burst
	if burst <= 0 {
		burst = 1
	}
	return &Client{
		baseURL:  strings.TrimRight(conf.Remote.BaseURL, "/"),
		token:    conf.Remote.Token,
		clientID: conf.ClientID,
		timeout:  conf.Remote.Timeout,
		limiter:  rate.NewLimiter(limit, burst),
		logger:   logger,
	}
}

// SetToken replaces the bearer token sent with every request.
func (c *Client) SetToken(token string) {
	c.token = token
}

func (c *Client) Submit(ctx context.Context, item offline.QueueItem) error {
	req, err := c.request(item)
	if err != nil {
		return err
	}
	if err = c.limiter.Wait(ctx); err != nil {
		return errors.Wrap(err, "waiting for rate limiter")
	}
	if c.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.timeout)
		defer cancel()
	}

	res, err := sendFunc(ctx, req)
	if err != nil {
		return errors.Wrapf(err, "%s %s", req.Method, req.BaseURL)
	}
	switch {
	case res.StatusCode >= 200 && res.StatusCode < 300:
		return nil
	case res.StatusCode == http.StatusNotFound && item.Operation == offline.OpDelete:
		// already gone remotely
		c.logger.Debug(fmt.Sprintf("%s %s: already deleted", item.StoreName, item.EntityID))
		return nil
	}
	return &RemoteError{StatusCode: res.StatusCode, Body: res.Body}
}

func (c *Client) request(item offline.QueueItem) (rest.Request, error) {
	endpoint := c.baseURL + "/v1/" + url.PathEscape(item.StoreName)

	var method rest.Method
	switch item.Operation {
	case offline.OpCreate:
		method = rest.Post
	case offline.OpUpdate:
		method = rest.Put
	case offline.OpDelete:
		method = rest.Delete
	default:
		return rest.Request{}, errors.Wrapf(offline.ErrUnsupportedOperation, "%q", item.Operation)
	}
	if item.Operation != offline.OpCreate {
		if item.EntityID == "" {
			return rest.Request{}, errors.Errorf("%s on %q: missing entity id", item.Operation, item.StoreName)
		}
		endpoint += "/" + url.PathEscape(item.EntityID)
	}

	req := rest.Request{
		Method:  method,
		BaseURL: endpoint,
		Headers: c.headers(),
	}
	// idempotent replays: the remote side dedupes on the queue item id
	req.Headers["Idempotency-Key"] = item.ID
	if item.Operation != offline.OpDelete {
		req.Headers["Content-Type"] = "application/json"
		req.Body = item.Data
	}
	return req, nil
}

func (c *Client) headers() map[string]string {
	h := map[string]string{
		"Accept":      "application/json",
		"X-Client-ID": c.clientID,
	}
	if c.token != "" {
		h["Authorization"] = "Bearer " + c.token
	}
	return h
}
