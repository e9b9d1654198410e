package main

import (
	"fmt"
	"net"
	"strings"

	"github.com/metal-stack/failover/pkg/healthstatus"
	"github.com/metal-stack/failover/pkg/units"
)

type target struct {
	name string
	host string
	port string
}

func (t target) address() string {
	return net.JoinHostPort(t.host, t.port)
}

// parseTarget parses "name=host:port" or "host:port", the latter is named
// after its address.
func parseTarget(s string) (target, error) {
	name, address, found := strings.Cut(strings.TrimSpace(s), "=")
	if !found {
		address = name
		name = ""
	}

	host, port, err := net.SplitHostPort(address)
	if err != nil {
		return target{}, fmt.Errorf("%w: tcp target %q: %w", units.ErrInvalidArgument, s, err)
	}
	if host == "" || port == "" {
		return target{}, fmt.Errorf("%w: tcp target %q needs a host and a port", units.ErrInvalidArgument, s)
	}

	t := target{name: name, host: host, port: port}
	if t.name == "" {
		t.name = t.address()
	}
	return t, nil
}

func parseTargets(values []string) ([]target, error) {
	var (
		targets []target
		seen    = map[string]bool{}
	)
	for _, value := range values {
		t, err := parseTarget(value)
		if err != nil {
			return nil, err
		}
		if seen[t.name] {
			return nil, fmt.Errorf("%w: tcp target %q given twice", units.ErrInvalidArgument, t.name)
		}
		seen[t.name] = true
		targets = append(targets, t)
	}
	return targets, nil
}

func parseState(s string) (healthstatus.HealthStatus, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "healthy", "ok":
		return healthstatus.HealthStatusHealthy, nil
	case "unhealthy", "fail":
		return healthstatus.HealthStatusUnhealthy, nil
	default:
		return "", fmt.Errorf("%w: unknown state %q, use healthy or unhealthy", units.ErrInvalidArgument, s)
	}
}
