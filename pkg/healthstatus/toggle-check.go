package healthstatus

import (
	"context"
	"fmt"
	"sync"

	"github.com/metal-stack/failover/pkg/units"
	"go.uber.org/zap"
)

// ToggleHealthCheck switches between healthy and unhealthy using two
// different checks. While healthy only toFail is consulted and the state
// flips as soon as it reports unhealthy. While unhealthy only toOK is
// consulted and the state flips back as soon as it reports healthy.
//
// Pairing an automatic toFail with a Oneshot as toOK gives automatic
// failover with manual fail-back.
type ToggleHealthCheck struct {
	toFail HealthCheck
	toOK   HealthCheck
	log    *zap.SugaredLogger

	lock    sync.Mutex
	current HealthStatus
}

// Toggle creates a toggle starting in initial, healthy if empty.
func Toggle(log *zap.SugaredLogger, toFail, toOK HealthCheck, initial HealthStatus) (*ToggleHealthCheck, error) {
	if toFail == nil || toOK == nil {
		return nil, fmt.Errorf("%w: toggle needs a to_fail and a to_ok check", units.ErrInvalidArgument)
	}
	initial, err := stateOrDefault(initial, HealthStatusHealthy, "initial_state")
	if err != nil {
		return nil, err
	}
	return &ToggleHealthCheck{
		toFail:  toFail,
		toOK:    toOK,
		log:     log.With("type", "toggle", "service", toFail.ServiceName()),
		current: initial,
	}, nil
}

func (c *ToggleHealthCheck) ServiceName() string {
	return c.toFail.ServiceName()
}

// ToOK returns the check consulted while unhealthy.
func (c *ToggleHealthCheck) ToOK() HealthCheck {
	return c.toOK
}

// Check never returns an error.
func (c *ToggleHealthCheck) Check(ctx context.Context) (HealthStatus, error) {
	c.lock.Lock()
	defer c.lock.Unlock()

	task := c.toFail
	if !c.current.Healthy() {
		task = c.toOK
	}
	c.log.Debugw("invoking task", "current", stateString(c.current), "task", task.ServiceName())

	result, err := task.Check(ctx)
	if err != nil {
		c.log.Errorw("task failed, preserving current state", "task", task.ServiceName(), "current", stateString(c.current), "error", err)
		return c.current, nil
	}

	if result.Healthy() != c.current.Healthy() {
		c.current = c.current.Opposite()
		c.log.Infow("task requested toggle", "task", task.ServiceName(), "current", stateString(c.current))
	}

	return c.current, nil
}
