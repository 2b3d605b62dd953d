package adapter

import "time"

// NmapOption is a functional option for configuring NmapChecker
type NmapOption func(*NmapChecker)

// WithTimeout bounds a single reachability check
func WithTimeout(d time.Duration) NmapOption {
	return func(c *NmapChecker) {
		if d > 0 {
			c.timeout = d
		}
	}
}

// WithSkipHostDiscovery sets whether to skip ping and treat hosts as online (-Pn)
// Useful for networks that block ICMP
func WithSkipHostDiscovery(skip bool) NmapOption {
	return func(c *NmapChecker) {
		c.skipHostDiscovery = skip
	}
}

// WithTCPFallback sets whether a plain TCP connect replaces nmap when the
// binary is missing
func WithTCPFallback(enabled bool) NmapOption {
	return func(c *NmapChecker) {
		c.tcpFallback = enabled
	}
}

// withNmapAvailable pins nmap detection, for tests
func withNmapAvailable(available bool) NmapOption {
	return func(c *NmapChecker) {
		c.availableOnce.Do(func() {})
		c.available = available
	}
}
