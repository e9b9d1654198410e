package healthstatus

import (
	"context"
	"fmt"
	"net"
	"strconv"
	"strings"
	"time"

	"github.com/avast/retry-go/v4"
	"github.com/metal-stack/failover/pkg/units"
	"go.uber.org/zap"
	"k8s.io/apimachinery/pkg/util/validation"
)

// TCPConfig describes a TCP reachability check.
type TCPConfig struct {
	// Name is reported as service name, defaults to host:port.
	Name string
	// Host is an IPv4 or IPv6 address or a DNS name.
	Host string
	// Port is a port number or a service name like "smtp".
	Port string
	// Timeout bounds a single connection attempt.
	Timeout time.Duration
	// SourceHost optionally selects the local address used for the connection.
	SourceHost string
	// SourcePort optionally selects the local port used for the connection.
	SourcePort string
	// Attempts is the number of connection attempts per check, defaults to 1.
	Attempts uint
}

// TCPHealthCheck is healthy if a TCP connection to the target can be
// established. Connection failures are reported as unhealthy, not as errors.
// A done context is returned as error so wrappers do not take it as a sample.
type TCPHealthCheck struct {
	name     string
	address  string
	attempts uint
	dialer   net.Dialer
	log      *zap.SugaredLogger
}

func TCP(log *zap.SugaredLogger, c TCPConfig) (*TCPHealthCheck, error) {
	host, err := validateHost(c.Host, "host", false)
	if err != nil {
		return nil, err
	}
	port, err := validatePort(c.Port, "port", false)
	if err != nil {
		return nil, err
	}
	if c.Timeout < 0 {
		return nil, fmt.Errorf("%w: timeout must not be negative, got %s", units.ErrInvalidArgument, c.Timeout)
	}
	sourceHost, err := validateHost(c.SourceHost, "source_host", true)
	if err != nil {
		return nil, err
	}
	sourcePort, err := validatePort(c.SourcePort, "source_port", true)
	if err != nil {
		return nil, err
	}

	address := net.JoinHostPort(host, strconv.Itoa(port))
	name := c.Name
	if name == "" {
		name = address
	}
	attempts := c.Attempts
	if attempts == 0 {
		attempts = 1
	}

	dialer := net.Dialer{Timeout: c.Timeout}
	if sourceHost != "" || sourcePort != 0 {
		local, err := net.ResolveTCPAddr("tcp", net.JoinHostPort(sourceHost, strconv.Itoa(sourcePort)))
		if err != nil {
			return nil, fmt.Errorf("%w: unable to resolve source address: %w", units.ErrInvalidArgument, err)
		}
		dialer.LocalAddr = local
	}

	return &TCPHealthCheck{
		name:     name,
		address:  address,
		attempts: attempts,
		dialer:   dialer,
		log:      log.With("type", "tcp", "service", name),
	}, nil
}

func (c *TCPHealthCheck) ServiceName() string {
	return c.name
}

func (c *TCPHealthCheck) Check(ctx context.Context) (HealthStatus, error) {
	c.log.Debugw("connecting", "address", c.address)

	err := retry.Do(
		func() error {
			conn, err := c.dialer.DialContext(ctx, "tcp", c.address)
			if err != nil {
				return err
			}
			return conn.Close()
		},
		retry.Context(ctx),
		retry.Attempts(c.attempts),
		retry.Delay(100*time.Millisecond),
		retry.LastErrorOnly(true),
	)
	if err != nil && ctx.Err() != nil {
		// the caller went away, this sample says nothing about the target
		c.log.Debugw("check cancelled", "address", c.address, "error", ctx.Err())
		return HealthStatusUnhealthy, ctx.Err()
	}
	if err != nil {
		c.log.Infow("connection failed", "address", c.address, "error", err)
		return HealthStatusUnhealthy, nil
	}

	c.log.Debugw("connection succeeded", "address", c.address)
	return HealthStatusHealthy, nil
}

func validateHost(host, parameter string, optional bool) (string, error) {
	h := strings.TrimSuffix(strings.TrimSuffix(strings.TrimPrefix(host, "["), "]"), ".")
	if h == "" {
		if optional {
			return "", nil
		}
		return "", fmt.Errorf("%w: %s must be a valid hostname or IPv4 or IPv6 address", units.ErrInvalidArgument, parameter)
	}
	if net.ParseIP(h) != nil {
		return h, nil
	}
	if errs := validation.IsDNS1123Subdomain(strings.ToLower(h)); len(errs) > 0 {
		return "", fmt.Errorf("%w: %s %q is not a valid hostname: %s", units.ErrInvalidArgument, parameter, host, strings.Join(errs, ", "))
	}
	return h, nil
}

func validatePort(port, parameter string, optional bool) (int, error) {
	if port == "" {
		if optional {
			return 0, nil
		}
		return 0, fmt.Errorf("%w: %s must be a port number from 1-65535 or a service name", units.ErrInvalidArgument, parameter)
	}
	p, err := net.LookupPort("tcp", port)
	if err != nil {
		return 0, fmt.Errorf("%w: %s: unknown service name %q", units.ErrInvalidArgument, parameter, port)
	}
	if optional && p == 0 {
		// any local port
		return 0, nil
	}
	if errs := validation.IsValidPortNum(p); len(errs) > 0 {
		return 0, fmt.Errorf("%w: %s: %s", units.ErrInvalidArgument, parameter, strings.Join(errs, ", "))
	}
	return p, nil
}
