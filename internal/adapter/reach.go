package adapter

import (
	"context"
	"fmt"
	"net"
	"strconv"
	"sync"
	"time"

	nmap "github.com/Ullaakut/nmap/v3"

	"monview/internal/domain"
	"monview/internal/logger"
)

// NmapChecker tells whether a machine's SSH port is open, which decides
// whether the agent can be installed automatically
type NmapChecker struct {
	timeout           time.Duration
	skipHostDiscovery bool
	tcpFallback       bool
	log               logger.Logger

	availableOnce sync.Once
	available     bool
}

// NewNmapChecker creates a checker
func NewNmapChecker(log logger.Logger, opts ...NmapOption) *NmapChecker {
	if log == nil {
		log = logger.Noop()
	}
	c := &NmapChecker{
		timeout:           30 * time.Second,
		skipHostDiscovery: true,
		tcpFallback:       true,
		log:               log,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Reachable scans the machine's SSH port. Without an nmap binary it falls
// back to a plain TCP connect, unless that was disabled.
func (c *NmapChecker) Reachable(ctx context.Context, machine *domain.Machine) (bool, error) {
	if machine.Host == "" {
		return false, nil
	}
	port := machine.Port
	if port == 0 {
		port = 22
	}

	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	if c.nmapAvailable(ctx) {
		return c.scan(ctx, machine.Host, port)
	}
	if !c.tcpFallback {
		return false, fmt.Errorf("nmap binary not found in PATH")
	}
	return c.dial(ctx, machine.Host, port), nil
}

func (c *NmapChecker) nmapAvailable(ctx context.Context) bool {
	c.availableOnce.Do(func() {
		scanner, err := nmap.NewScanner(
			ctx,
			nmap.WithTargets("localhost"),
			nmap.WithListScan(),
		)
		if err != nil {
			return
		}
		_, _, err = scanner.Run()
		c.available = err == nil
		if !c.available {
			c.log.Info("nmap unavailable, probing with TCP connect")
		}
	})
	return c.available
}

func (c *NmapChecker) scan(ctx context.Context, host string, port int) (bool, error) {
	opts := []nmap.Option{
		nmap.WithTargets(host),
		nmap.WithPorts(strconv.Itoa(port)),
	}
	if c.skipHostDiscovery {
		opts = append(opts, nmap.WithSkipHostDiscovery())
	}

	scanner, err := nmap.NewScanner(ctx, opts...)
	if err != nil {
		return false, fmt.Errorf("failed to create scanner: %w", err)
	}

	result, warnings, err := scanner.Run()
	if err != nil {
		return false, fmt.Errorf("scan failed: %w", err)
	}
	if warnings != nil && len(*warnings) > 0 {
		c.log.Debug("nmap warnings for %s: %v", host, *warnings)
	}
	return portOpen(result, port), nil
}

func (c *NmapChecker) dial(ctx context.Context, host string, port int) bool {
	d := net.Dialer{Timeout: c.timeout}
	conn, err := d.DialContext(ctx, "tcp", net.JoinHostPort(host, strconv.Itoa(port)))
	if err != nil {
		return false
	}
	conn.Close()
	return true
}

// portOpen reports whether any host that is up has port open
func portOpen(result *nmap.Run, port int) bool {
	if result == nil {
		return false
	}
	for _, host := range result.Hosts {
		if host.Status.State != "up" {
			continue
		}
		for _, p := range host.Ports {
			if int(p.ID) == port && p.State.State == "open" {
				return true
			}
		}
	}
	return false
}
