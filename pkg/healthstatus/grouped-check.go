package healthstatus

import (
	"context"
	"sync"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

// GroupedHealthCheck is healthy only if all of its checks are healthy. The
// checks run in parallel.
type GroupedHealthCheck struct {
	serviceName string
	log         *zap.SugaredLogger

	lock sync.RWMutex
	hcs  []HealthCheck
}

func Grouped(log *zap.SugaredLogger, serviceName string, checks ...HealthCheck) *GroupedHealthCheck {
	return &GroupedHealthCheck{
		serviceName: serviceName,
		hcs:         checks,
		log:         log.With("group", serviceName, "type", "group"),
	}
}

func (c *GroupedHealthCheck) Add(hc HealthCheck) {
	c.lock.Lock()
	defer c.lock.Unlock()
	c.hcs = append(c.hcs, hc)
}

func (c *GroupedHealthCheck) ServiceName() string {
	return c.serviceName
}

// Check returns the first error of any member check together with an
// unhealthy state.
func (c *GroupedHealthCheck) Check(ctx context.Context) (HealthStatus, error) {
	c.lock.RLock()
	hcs := make([]HealthCheck, len(c.hcs))
	copy(hcs, c.hcs)
	c.lock.RUnlock()

	results := make([]HealthStatus, len(hcs))

	g, gctx := errgroup.WithContext(ctx)
	for i, healthCheck := range hcs {
		g.Go(func() error {
			status, err := healthCheck.Check(gctx)
			if err != nil {
				c.log.Errorw("member check failed", "name", healthCheck.ServiceName(), "error", err)
				return err
			}
			results[i] = status
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		return HealthStatusUnhealthy, err
	}

	for i, status := range results {
		if !status.Healthy() {
			c.log.Debugw("member unhealthy", "name", hcs[i].ServiceName())
			return HealthStatusUnhealthy, nil
		}
	}
	return HealthStatusHealthy, nil
}
