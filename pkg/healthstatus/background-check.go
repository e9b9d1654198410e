package healthstatus

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/metal-stack/failover/pkg/units"
	"go.uber.org/zap"
)

// BackgroundHealthCheck runs an underlying check periodically on its own
// goroutine and serves the last result. This decouples slow checks from the
// callers: Check never blocks on, nor triggers, the underlying check.
//
// Until the first interval has elapsed Check returns the initial state.
// Errors of the underlying check are logged and the cached state is kept.
type BackgroundHealthCheck struct {
	healthCheck HealthCheck
	log         *zap.SugaredLogger
	poller      *poller

	lock    sync.RWMutex
	current HealthStatus
}

// Background creates a background check polling hc every interval. Nothing
// is polled before Start is called, until then Check returns initial. Use
// StartBackground to construct and start in one step.
func Background(log *zap.SugaredLogger, interval time.Duration, hc HealthCheck, initial HealthStatus) (*BackgroundHealthCheck, error) {
	if interval <= 0 {
		return nil, fmt.Errorf("%w: interval must be positive, got %s", units.ErrInvalidArgument, interval)
	}
	if hc == nil {
		return nil, fmt.Errorf("%w: background needs an underlying check", units.ErrInvalidArgument)
	}
	initial, err := stateOrDefault(initial, HealthStatusHealthy, "initial_state")
	if err != nil {
		return nil, err
	}

	c := &BackgroundHealthCheck{
		healthCheck: hc,
		log:         log.With("type", "background", "service", hc.ServiceName()),
		current:     initial,
	}
	c.poller = newPoller(interval, c.updateStatus)

	return c, nil
}

// StartBackground is Background followed by Start(ctx). Polling ends when
// ctx is done or Stop is called.
func StartBackground(ctx context.Context, log *zap.SugaredLogger, interval time.Duration, hc HealthCheck, initial HealthStatus) (*BackgroundHealthCheck, error) {
	c, err := Background(log, interval, hc, initial)
	if err != nil {
		return nil, err
	}
	c.Start(ctx)
	return c, nil
}

func (c *BackgroundHealthCheck) ServiceName() string {
	return c.healthCheck.ServiceName()
}

// Check returns the cached state and never returns an error.
func (c *BackgroundHealthCheck) Check(_ context.Context) (HealthStatus, error) {
	c.lock.RLock()
	defer c.lock.RUnlock()
	return c.current, nil
}

// Start begins polling. Cancelling ctx stops polling like Stop does.
func (c *BackgroundHealthCheck) Start(ctx context.Context) {
	c.log.Debugw("started background updates")
	c.poller.Start(ctx)
}

// Stop ends polling and waits until the polling goroutine has exited. No
// update of the cached state happens after Stop returns.
func (c *BackgroundHealthCheck) Stop() {
	c.poller.Stop()
	c.log.Debugw("stopped background updates")
}

func (c *BackgroundHealthCheck) updateStatus(ctx context.Context) {
	result, err := c.healthCheck.Check(ctx)
	if err != nil {
		c.log.Errorw("failed to execute background check, keeping cached state", "error", err)
		return
	}
	if ctx.Err() != nil {
		// stopped while the check was running
		return
	}

	c.lock.Lock()
	c.current = FromBool(result.Healthy())
	c.lock.Unlock()

	c.log.Debugw("updated cached state", "current", stateString(result))
}
