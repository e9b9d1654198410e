// Package healthstatus provides health checks and stateful combinators that
// debounce, toggle, latch or cache the result of other checks. All of them
// implement HealthCheck and can be nested freely.
package healthstatus

import (
	"context"
	"errors"
	"fmt"

	"github.com/metal-stack/failover/pkg/units"
)

// HealthStatus indicates the health of a service. Checks only ever resolve to
// one of the two values below.
type HealthStatus string

const (
	// HealthStatusHealthy is returned when the service is healthy.
	HealthStatusHealthy HealthStatus = "healthy"
	// HealthStatusUnhealthy is returned when the service is not healthy.
	HealthStatusUnhealthy HealthStatus = "unhealthy"
)

// ErrNoRequest is returned by checks that need the caller's HTTP request but
// were invoked with a context that does not carry one.
var ErrNoRequest = errors.New("no current http request available")

// FromBool maps true to healthy and false to unhealthy.
func FromBool(ok bool) HealthStatus {
	if ok {
		return HealthStatusHealthy
	}
	return HealthStatusUnhealthy
}

// Healthy reports whether s is HealthStatusHealthy.
func (s HealthStatus) Healthy() bool {
	return s == HealthStatusHealthy
}

// Opposite returns the other state.
func (s HealthStatus) Opposite() HealthStatus {
	return FromBool(!s.Healthy())
}

// Validate fails with units.ErrInvalidArgument unless s is healthy or
// unhealthy.
func (s HealthStatus) Validate() error {
	switch s {
	case HealthStatusHealthy, HealthStatusUnhealthy:
		return nil
	default:
		return fmt.Errorf("%w: unknown health status %q", units.ErrInvalidArgument, s)
	}
}

// stateOrDefault returns fallback for an empty s and rejects unknown values.
func stateOrDefault(s, fallback HealthStatus, parameter string) (HealthStatus, error) {
	if s == "" {
		return fallback, nil
	}
	if err := s.Validate(); err != nil {
		return "", fmt.Errorf("%s: %w", parameter, err)
	}
	return s, nil
}

// HealthCheck defines an interface for health checks.
type HealthCheck interface {
	// ServiceName returns the name of the service that is health checked.
	ServiceName() string
	// Check returns the current state of the service. An error means the
	// check could not decide; callers wrapping the check keep their previous
	// state in that case.
	Check(ctx context.Context) (HealthStatus, error)
}

type checkFunc struct {
	name string
	fn   func(ctx context.Context) (HealthStatus, error)
}

// CheckFunc adapts an ordinary function to the HealthCheck interface.
func CheckFunc(name string, fn func(ctx context.Context) (HealthStatus, error)) HealthCheck {
	return &checkFunc{name: name, fn: fn}
}

func (c *checkFunc) ServiceName() string {
	return c.name
}

func (c *checkFunc) Check(ctx context.Context) (HealthStatus, error) {
	return c.fn(ctx)
}

func stateString(s HealthStatus) string {
	if s.Healthy() {
		return "OK"
	}
	return "FAIL"
}
