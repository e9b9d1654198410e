package healthstatus

import (
	"context"
	"sync"

	"go.uber.org/zap"
)

// DelayedErrorHealthCheck hides up to maxIgnoredErrors consecutive errors of
// a check behind its last successful result. Further errors are returned.
// This is meant for leaf checks that are served without a stateful wrapper,
// where every error would otherwise surface as an internal server error.
type DelayedErrorHealthCheck struct {
	maxIgnoredErrors int
	healthCheck      HealthCheck
	log              *zap.SugaredLogger

	lock                   sync.Mutex
	errorCountSinceSuccess int
	lastSuccess            HealthStatus
}

func DelayErrors(log *zap.SugaredLogger, maxIgnoredErrors int, hc HealthCheck) *DelayedErrorHealthCheck {
	return &DelayedErrorHealthCheck{
		maxIgnoredErrors: maxIgnoredErrors,
		healthCheck:      hc,
		log:              log.With("type", "delayed-error", "service", hc.ServiceName()),
		// trick the check to always start with the actual state
		errorCountSinceSuccess: maxIgnoredErrors,
	}
}

func (c *DelayedErrorHealthCheck) ServiceName() string {
	return c.healthCheck.ServiceName()
}

func (c *DelayedErrorHealthCheck) Check(ctx context.Context) (HealthStatus, error) {
	c.lock.Lock()
	defer c.lock.Unlock()

	status, err := c.healthCheck.Check(ctx)
	if err == nil {
		c.errorCountSinceSuccess = 0
		c.lastSuccess = status
		return status, nil
	}

	c.errorCountSinceSuccess++
	if c.errorCountSinceSuccess > c.maxIgnoredErrors {
		return status, err
	}

	c.log.Infow("ignoring check error", "count", c.errorCountSinceSuccess, "max", c.maxIgnoredErrors, "error", err)
	return c.lastSuccess, nil
}
