package healthstatus

import (
	"context"
	"sync"
	"time"
)

// poller runs fn on its own goroutine once per interval, measured from Start.
type poller struct {
	interval time.Duration
	fn       func(ctx context.Context)

	startOnce sync.Once
	cancel    context.CancelFunc
	done      chan struct{}
}

func newPoller(interval time.Duration, fn func(ctx context.Context)) *poller {
	return &poller{
		interval: interval,
		fn:       fn,
		cancel:   func() {},
		done:     make(chan struct{}),
	}
}

// Start launches the goroutine, subsequent calls do nothing. The poller exits
// when ctx is done or Stop is called.
func (p *poller) Start(ctx context.Context) {
	p.startOnce.Do(func() {
		ctx, p.cancel = context.WithCancel(ctx)
		go p.run(ctx)
	})
}

func (p *poller) run(ctx context.Context) {
	defer close(p.done)

	ticker := time.NewTicker(p.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			p.fn(ctx)
		}
	}
}

// Stop signals the goroutine and blocks until it has returned. It is safe to
// call Stop more than once and before Start.
func (p *poller) Stop() {
	// a poller that was never started has nothing to wait for
	p.startOnce.Do(func() { close(p.done) })
	p.cancel()
	<-p.done
}
