package remotesvc

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/sendgrid/rest"

	"github.com/trezcool/masomo-sync/core"
	"github.com/trezcool/masomo-sync/core/offline"
)

// HealthChecker reports the remote API reachable when its health endpoint answers 2xx.
type HealthChecker struct {
	url     string
	timeout time.Duration
	logger  core.Logger
}

var _ offline.HealthChecker = (*HealthChecker)(nil) // interface compliance check

func NewHealthChecker(conf *core.Config, logger core.Logger) *HealthChecker {
	timeout := conf.Remote.Timeout
	if timeout <= 0 || timeout > 5*time.Second {
		timeout = 5 * time.Second
	}
	return &HealthChecker{
		url:     strings.TrimRight(conf.Remote.BaseURL, "/") + "/" + strings.TrimLeft(conf.Remote.HealthPath, "/"),
		timeout: timeout,
		logger:  logger,
	}
}

func (p *HealthChecker) Check(ctx context.Context) bool {
	ctx, cancel := context.WithTimeout(ctx, p.timeout)
	defer cancel()

	res, err := sendFunc(ctx, rest.Request{Method: rest.Get, BaseURL: p.url})
	if err != nil {
		p.logger.Debug(fmt.Sprintf("health check: %v", err))
		return false
	}
	return res.StatusCode >= 200 && res.StatusCode < 300
}
