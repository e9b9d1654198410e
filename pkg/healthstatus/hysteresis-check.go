package healthstatus

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/metal-stack/failover/pkg/units"
	"go.uber.org/zap"
)

// HysteresisHealthCheck delays state changes of an underlying check. To move
// from healthy to unhealthy the check has to disagree with the current state
// for FailAfter, to move back it has to disagree for OKAfter. Both thresholds
// are either a number of consecutive samples or an elapsed time.
//
// Errors of the underlying check are logged and dropped, they neither change
// the state nor the accumulated disagreement.
type HysteresisHealthCheck struct {
	healthCheck HealthCheck
	log         *zap.SugaredLogger
	okAfter     units.Threshold
	failAfter   units.Threshold
	now         func() time.Time

	lock          sync.Mutex
	current       HealthStatus
	disagreeCount int64
	disagreeSince time.Time
}

// HysteresisConfig holds the parameters of a hysteresis check.
type HysteresisConfig struct {
	// InitialState defaults to healthy.
	InitialState HealthStatus
	// OKAfter is the disagreement required to go from unhealthy to healthy.
	OKAfter units.Threshold
	// FailAfter is the disagreement required to go from healthy to unhealthy.
	FailAfter units.Threshold
}

// Hysteresis wraps hc into a debounced check.
func Hysteresis(log *zap.SugaredLogger, hc HealthCheck, c HysteresisConfig) (*HysteresisHealthCheck, error) {
	if err := c.OKAfter.Validate(); err != nil {
		return nil, fmt.Errorf("ok_after: %w", err)
	}
	if err := c.FailAfter.Validate(); err != nil {
		return nil, fmt.Errorf("fail_after: %w", err)
	}
	if hc == nil {
		return nil, fmt.Errorf("%w: hysteresis needs an underlying check", units.ErrInvalidArgument)
	}

	initial, err := stateOrDefault(c.InitialState, HealthStatusHealthy, "initial_state")
	if err != nil {
		return nil, err
	}

	return &HysteresisHealthCheck{
		healthCheck: hc,
		log:         log.With("type", "hysteresis", "service", hc.ServiceName()),
		okAfter:     c.OKAfter,
		failAfter:   c.FailAfter,
		now:         time.Now,
		current:     initial,
	}, nil
}

func (c *HysteresisHealthCheck) ServiceName() string {
	return c.healthCheck.ServiceName()
}

// Check never returns an error.
func (c *HysteresisHealthCheck) Check(ctx context.Context) (HealthStatus, error) {
	c.lock.Lock()
	defer c.lock.Unlock()

	result, err := c.healthCheck.Check(ctx)
	if err != nil {
		c.log.Errorw("underlying check failed, ignoring this response", "current", stateString(c.current), "error", err)
		return c.current, nil
	}
	next := FromBool(result.Healthy())

	if next == c.current {
		// a single agreeing sample ends the disagreement window
		c.disagreeCount = 0
		c.disagreeSince = time.Time{}
		return c.current, nil
	}

	now := c.now()
	c.disagreeCount++
	if c.disagreeSince.IsZero() {
		c.disagreeSince = now
	}
	elapsed := now.Sub(c.disagreeSince)

	after := c.failAfter
	if next.Healthy() {
		after = c.okAfter
	}

	if !after.Reached(c.disagreeCount, elapsed) {
		c.log.Debugw("disagreement below threshold, keeping current state",
			"next", stateString(next), "current", stateString(c.current),
			"disagree-count", c.disagreeCount, "disagree-time", elapsed.String(), "threshold", after.String())
		return c.current, nil
	}

	c.log.Infow("disagreement reached threshold, changing state",
		"from", stateString(c.current), "to", stateString(next),
		"disagree-count", c.disagreeCount, "disagree-time", elapsed.String(), "threshold", after.String())
	c.current = next
	c.disagreeCount = 0
	c.disagreeSince = time.Time{}

	return c.current, nil
}
