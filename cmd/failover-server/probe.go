package main

import (
	"context"
	"fmt"
	"time"

	"github.com/fatih/color"
	"github.com/metal-stack/failover/pkg/healthstatus"
	"github.com/metal-stack/failover/pkg/units"
	"github.com/olekukonko/tablewriter"
	"github.com/spf13/cobra"
)

type probeResult struct {
	target   target
	status   healthstatus.HealthStatus
	err      error
	duration time.Duration
}

func newProbeCmd(c *cli) *cobra.Command {
	probeCmd := &cobra.Command{
		Use:     "probe",
		Short:   "check the given tcp targets once and print the result",
		Example: "failover-server probe --tcp db=10.0.0.5:5432 --tcp web=10.0.0.6:https",
		RunE: func(cmd *cobra.Command, args []string) error {
			return c.probe(cmd.Context())
		},
	}

	probeCmd.Flags().StringArray("tcp", nil, "tcp target as name=host:port, can be given multiple times")
	probeCmd.Flags().String("timeout", "1s", "timeout of a single connection attempt")
	probeCmd.Flags().Uint("attempts", 1, "connection attempts per check")

	return probeCmd
}

func (c *cli) probe(ctx context.Context) error {
	targets, err := parseTargets(c.v.GetStringSlice("tcp"))
	if err != nil {
		return err
	}
	if len(targets) == 0 {
		return fmt.Errorf("%w: at least one tcp target is required", units.ErrInvalidArgument)
	}
	timeout, err := units.ParseDuration(c.v.GetString("timeout"))
	if err != nil {
		return fmt.Errorf("timeout: %w", err)
	}

	var results []probeResult
	for _, t := range targets {
		check, err := healthstatus.TCP(c.log, healthstatus.TCPConfig{
			Name:     t.name,
			Host:     t.host,
			Port:     t.port,
			Timeout:  timeout,
			Attempts: c.v.GetUint("attempts"),
		})
		if err != nil {
			return fmt.Errorf("tcp target %q: %w", t.name, err)
		}

		start := time.Now()
		status, err := check.Check(ctx)
		results = append(results, probeResult{
			target:   t,
			status:   status,
			err:      err,
			duration: time.Since(start),
		})
	}

	if err := c.printProbeResults(results); err != nil {
		return err
	}

	failed := 0
	for _, r := range results {
		if r.err != nil || !r.status.Healthy() {
			failed++
		}
	}
	if failed > 0 {
		return fmt.Errorf("%d of %d targets unhealthy", failed, len(results))
	}
	return nil
}

func (c *cli) printProbeResults(results []probeResult) error {
	table := tablewriter.NewWriter(c.out)
	table.Header("Name", "Target", "State", "Duration")

	for _, r := range results {
		state := color.GreenString("OK")
		switch {
		case r.err != nil:
			state = color.RedString("ERROR")
		case !r.status.Healthy():
			state = color.RedString("FAIL")
		}

		if err := table.Append([]string{
			r.target.name,
			r.target.address(),
			state,
			r.duration.Round(time.Millisecond).String(),
		}); err != nil {
			return err
		}
	}

	return table.Render()
}
