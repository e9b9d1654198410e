package healthstatus

import (
	"context"
	"errors"
	"sync"

	"go.uber.org/zap"
)

// OneshotHealthCheck stays in its default state until fired. Once fired, the
// next Check returns the opposite state exactly once.
type OneshotHealthCheck struct {
	name         string
	defaultState HealthStatus
	auth         HealthCheck
	log          *zap.SugaredLogger

	lock  sync.Mutex
	armed bool
}

// Oneshot creates a latch. defaultState falls back to unhealthy when empty.
// If auth is not nil it has to report healthy for Fire to arm the latch.
func Oneshot(log *zap.SugaredLogger, name string, defaultState HealthStatus, auth HealthCheck) (*OneshotHealthCheck, error) {
	defaultState, err := stateOrDefault(defaultState, HealthStatusUnhealthy, "default_state")
	if err != nil {
		return nil, err
	}
	return &OneshotHealthCheck{
		name:         name,
		defaultState: defaultState,
		auth:         auth,
		log:          log.With("type", "oneshot", "service", name),
	}, nil
}

func (c *OneshotHealthCheck) ServiceName() string {
	return c.name
}

// Check returns the flipped state if armed and disarms the latch.
func (c *OneshotHealthCheck) Check(_ context.Context) (HealthStatus, error) {
	c.lock.Lock()
	defer c.lock.Unlock()

	result := c.defaultState
	if c.armed {
		result = c.defaultState.Opposite()
		c.log.Infow("consumed armed state", "result", stateString(result))
	}
	c.armed = false

	return result, nil
}

// Fire arms the latch and returns true. With an auth check configured, the
// latch stays untouched and false is returned unless auth reports healthy.
// Errors of the auth check count as denial, except for ErrNoRequest which is
// returned because it indicates Fire was called outside of a request.
func (c *OneshotHealthCheck) Fire(ctx context.Context) (bool, error) {
	if c.auth != nil {
		granted, err := c.auth.Check(ctx)
		if errors.Is(err, ErrNoRequest) {
			c.log.Errorw("cannot authorize without a request", "error", err)
			return false, err
		}
		if err != nil {
			c.log.Errorw("auth check failed, denying", "error", err)
			return false, nil
		}
		if !granted.Healthy() {
			c.log.Infow("auth check denied firing")
			return false, nil
		}
	}

	c.lock.Lock()
	c.armed = true
	c.lock.Unlock()

	c.log.Infow("armed")
	return true, nil
}
