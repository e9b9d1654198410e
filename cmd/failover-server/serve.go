package main

import (
	"context"
	"fmt"
	"time"

	"github.com/metal-stack/failover/auth"
	"github.com/metal-stack/failover/pkg/healthstatus"
	"github.com/metal-stack/failover/pkg/units"
	"github.com/metal-stack/failover/rest"
	"github.com/metal-stack/v"
	"github.com/spf13/afero"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"go.uber.org/zap"
)

type serveOptions struct {
	listen       string
	targets      []target
	timeout      time.Duration
	attempts     uint
	okAfter      units.Threshold
	failAfter    units.Threshold
	interval     time.Duration
	manualReset  bool
	htpasswd     string
	initialState healthstatus.HealthStatus
	aggregate    string

	maxIgnoredErrors int
}

const serveExample = `failover-server serve --tcp db=10.0.0.5:5432 --fail-after 3 --ok-after 30s --interval 1s
failover-server serve --tcp db=10.0.0.5:5432 --manual-reset --htpasswd /etc/failover/users`

func newServeCmd(c *cli) *cobra.Command {
	serveCmd := &cobra.Command{
		Use:     "serve",
		Short:   "serve health checks of the given tcp targets",
		Example: serveExample,
		RunE: func(cmd *cobra.Command, args []string) error {
			return c.serve(cmd.Context())
		},
	}

	serveCmd.Flags().String("listen", ":8080", "address to listen on")
	serveCmd.Flags().StringArray("tcp", nil, "tcp target as name=host:port, can be given multiple times")
	serveCmd.Flags().String("timeout", "1s", "timeout of a single connection attempt")
	serveCmd.Flags().Uint("attempts", 1, "connection attempts per check")
	serveCmd.Flags().String("ok-after", "", "count (e.g. 3) or duration (e.g. 30s) a failed target needs to succeed before it is healthy again")
	serveCmd.Flags().String("fail-after", "", "count or duration a healthy target needs to fail before it is unhealthy")
	serveCmd.Flags().String("interval", "", "poll targets in the background at this interval instead of on request")
	serveCmd.Flags().Bool("manual-reset", false, "keep a failed target unhealthy until a POST to its path resets it")
	serveCmd.Flags().String("htpasswd", "", "apache htpasswd file guarding manual resets")
	serveCmd.Flags().String("initial-state", "healthy", "state of all checks before the first sample")
	serveCmd.Flags().String("aggregate", "", "also serve a component of this name that is healthy only if all targets are")
	serveCmd.Flags().Int("max-ignored-errors", 1, "consecutive check errors answered with the last result, applies to plain targets and the aggregate")

	return serveCmd
}

func parseServeOptions(v *viper.Viper) (*serveOptions, error) {
	targets, err := parseTargets(v.GetStringSlice("tcp"))
	if err != nil {
		return nil, err
	}
	if len(targets) == 0 {
		return nil, fmt.Errorf("%w: at least one tcp target is required", units.ErrInvalidArgument)
	}

	timeout, err := units.ParseDuration(v.GetString("timeout"))
	if err != nil {
		return nil, fmt.Errorf("timeout: %w", err)
	}

	initialState, err := parseState(v.GetString("initial-state"))
	if err != nil {
		return nil, fmt.Errorf("initial-state: %w", err)
	}

	opts := &serveOptions{
		listen:       v.GetString("listen"),
		targets:      targets,
		timeout:      timeout,
		attempts:     v.GetUint("attempts"),
		manualReset:  v.GetBool("manual-reset"),
		htpasswd:     v.GetString("htpasswd"),
		initialState: initialState,
		aggregate:    v.GetString("aggregate"),

		maxIgnoredErrors: v.GetInt("max-ignored-errors"),
	}
	if opts.maxIgnoredErrors < 0 {
		return nil, fmt.Errorf("%w: max-ignored-errors must not be negative", units.ErrInvalidArgument)
	}

	if s := v.GetString("interval"); s != "" {
		opts.interval, err = units.ParseDuration(s)
		if err != nil {
			return nil, fmt.Errorf("interval: %w", err)
		}
		if opts.interval == 0 {
			return nil, fmt.Errorf("%w: interval must be positive", units.ErrInvalidArgument)
		}
	}

	okAfter, failAfter := v.GetString("ok-after"), v.GetString("fail-after")
	if okAfter != "" || failAfter != "" {
		opts.okAfter, opts.failAfter = units.Count(1), units.Count(1)
		if okAfter != "" {
			opts.okAfter, err = units.ParseThreshold(okAfter)
			if err != nil {
				return nil, fmt.Errorf("ok-after: %w", err)
			}
		}
		if failAfter != "" {
			opts.failAfter, err = units.ParseThreshold(failAfter)
			if err != nil {
				return nil, fmt.Errorf("fail-after: %w", err)
			}
		}
	}

	if opts.htpasswd != "" && !opts.manualReset {
		return nil, fmt.Errorf("%w: htpasswd requires manual-reset", units.ErrInvalidArgument)
	}

	return opts, nil
}

type assembly struct {
	registry    *rest.Registry
	backgrounds []*healthstatus.BackgroundHealthCheck
}

func (a *assembly) start(ctx context.Context) {
	for _, b := range a.backgrounds {
		b.Start(ctx)
	}
}

func (a *assembly) stop() {
	for _, b := range a.backgrounds {
		b.Stop()
	}
}

// assemble registers one component per target. The TCP check is wrapped
// innermost first into Hysteresis, Background and Toggle as configured. A
// target without any of them and the aggregate get DelayErrors instead.
func assemble(log *zap.SugaredLogger, fs afero.Fs, opts *serveOptions) (*assembly, error) {
	a := &assembly{
		registry: rest.NewRegistry(),
	}

	var resetAuth healthstatus.HealthCheck
	if opts.htpasswd != "" {
		resetAuth = auth.PasswdFile(log, fs, opts.htpasswd)
	}

	var all []healthstatus.HealthCheck
	for _, t := range opts.targets {
		tcp, err := healthstatus.TCP(log, healthstatus.TCPConfig{
			Name:     t.name,
			Host:     t.host,
			Port:     t.port,
			Timeout:  opts.timeout,
			Attempts: opts.attempts,
		})
		if err != nil {
			return nil, fmt.Errorf("tcp target %q: %w", t.name, err)
		}

		var check healthstatus.HealthCheck = tcp

		if opts.okAfter.Kind != units.KindNone {
			check, err = healthstatus.Hysteresis(log, check, healthstatus.HysteresisConfig{
				InitialState: opts.initialState,
				OKAfter:      opts.okAfter,
				FailAfter:    opts.failAfter,
			})
			if err != nil {
				return nil, fmt.Errorf("tcp target %q: %w", t.name, err)
			}
		}

		if opts.interval > 0 {
			background, err := healthstatus.Background(log, opts.interval, check, opts.initialState)
			if err != nil {
				return nil, fmt.Errorf("tcp target %q: %w", t.name, err)
			}
			a.backgrounds = append(a.backgrounds, background)
			check = background
		}

		if opts.okAfter.Kind == units.KindNone && opts.interval == 0 && !opts.manualReset {
			// nothing stateful absorbs errors of the leaf
			check = healthstatus.DelayErrors(log, opts.maxIgnoredErrors, check)
		}

		// the aggregate must not consume a manual reset
		all = append(all, check)

		var onPost rest.Action
		if opts.manualReset {
			reset, err := healthstatus.Oneshot(log, t.name+"-reset", healthstatus.HealthStatusUnhealthy, resetAuth)
			if err != nil {
				return nil, fmt.Errorf("tcp target %q: %w", t.name, err)
			}
			check, err = healthstatus.Toggle(log, check, reset, opts.initialState)
			if err != nil {
				return nil, fmt.Errorf("tcp target %q: %w", t.name, err)
			}
			onPost = reset.Fire
		}

		if err := a.registry.AddComponent(t.name, check, onPost); err != nil {
			return nil, err
		}
	}

	if opts.aggregate != "" {
		if _, err := a.registry.Check(opts.aggregate); err == nil {
			return nil, fmt.Errorf("%w: aggregate %q collides with a tcp target", units.ErrInvalidArgument, opts.aggregate)
		}
		aggregate := healthstatus.DelayErrors(log, opts.maxIgnoredErrors, healthstatus.Grouped(log, opts.aggregate, all...))
		if err := a.registry.AddComponent(opts.aggregate, aggregate, nil); err != nil {
			return nil, err
		}
	}

	return a, nil
}

func (c *cli) serve(ctx context.Context) error {
	opts, err := parseServeOptions(c.v)
	if err != nil {
		return err
	}

	a, err := assemble(c.log, afero.NewOsFs(), opts)
	if err != nil {
		return err
	}

	a.start(ctx)
	defer a.stop()

	c.log.Infow("starting failover server", "version", v.V.String(), "listen", opts.listen, "components", a.registry.Names())

	return rest.NewServer(c.log, opts.listen, rest.NewFailover(c.log, a.registry)).Run(ctx)
}
