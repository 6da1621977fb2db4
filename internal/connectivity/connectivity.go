// Package connectivity provides a lightweight reachability check used to
// decide between the online and offline license validation paths.
package connectivity

import (
	"context"
	"net"
	"time"

	"github.com/rs/zerolog"
)

// DefaultProbeHost is resolved to decide whether the machine is online.
const DefaultProbeHost = "dns.google"

// DefaultTimeout bounds the reachability probe.
const DefaultTimeout = 3 * time.Second

// Checker reports whether the machine currently has network connectivity.
type Checker interface {
	IsOnline(ctx context.Context) bool
}

// DNSChecker resolves a probe host to determine connectivity. Any
// resolution failure is treated as offline, never as an error.
type DNSChecker struct {
	host     string
	timeout  time.Duration
	resolver *net.Resolver
	logger   zerolog.Logger
}

// Option configures a DNSChecker.
type Option func(*DNSChecker)

// WithProbeHost overrides the hostname resolved by the check.
func WithProbeHost(host string) Option {
	return func(c *DNSChecker) { c.host = host }
}

// WithTimeout overrides the probe timeout.
func WithTimeout(d time.Duration) Option {
	return func(c *DNSChecker) { c.timeout = d }
}

// NewDNSChecker creates a connectivity checker backed by DNS resolution.
func NewDNSChecker(logger zerolog.Logger, opts ...Option) *DNSChecker {
	c := &DNSChecker{
		host:     DefaultProbeHost,
		timeout:  DefaultTimeout,
		resolver: net.DefaultResolver,
		logger:   logger.With().Str("component", "connectivity").Logger(),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// IsOnline returns true if the probe host resolves within the timeout.
func (c *DNSChecker) IsOnline(ctx context.Context) bool {
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	addrs, err := c.resolver.LookupHost(ctx, c.host)
	if err != nil {
		c.logger.Debug().Err(err).Str("host", c.host).Msg("connectivity probe failed, treating as offline")
		return false
	}
	return len(addrs) > 0
}

// StaticChecker always reports a fixed connectivity state. Used in tests
// and by the CLI's --offline flag.
type StaticChecker bool

// IsOnline implements Checker.
func (s StaticChecker) IsOnline(context.Context) bool { return bool(s) }
