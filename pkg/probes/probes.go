// Package probes implements the pre-flight reachability checks a
// device must pass before a backup session dials it.
package probes

import (
	"context"
	"fmt"
	"net"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"
)

const (
	defaultProbeTimeout  = 2 * time.Second
	defaultProbeInterval = 1 * time.Second
)

// Probe defines the interface for reachability probes.
type Probe interface {
	// ProbeUntilReady blocks until the target is reachable or the context is cancelled.
	// Returns nil on success, a wrapped ctx.Err() on cancellation/timeout.
	ProbeUntilReady(ctx context.Context) error
}

// DNSProbe resolves a hostname until it yields at least one address.
// Literal IP addresses are ready immediately.
type DNSProbe struct {
	host string
	Ch   chan struct{}
	once sync.Once
}

// NewDNSProbe creates a DNSProbe for the given hostname or address.
func NewDNSProbe(host string) *DNSProbe {
	return &DNSProbe{
		host: host,
		Ch:   make(chan struct{}, 1),
	}
}

// ProbeUntilReady resolves the host until at least one address comes
// back. The Ch channel is closed once resolution succeeds.
func (d *DNSProbe) ProbeUntilReady(ctx context.Context) error {
	// Fast-path: already ready
	select {
	case <-d.Ch:
		return nil
	default:
	}

	if net.ParseIP(d.host) != nil {
		d.once.Do(func() { close(d.Ch) })
		return nil
	}

	ticker := time.NewTicker(defaultProbeInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return fmt.Errorf("resolve %s: %w", d.host, ctx.Err())
		case <-ticker.C:
			lookupCtx, cancel := context.WithTimeout(ctx, defaultProbeTimeout)
			addrs, err := net.DefaultResolver.LookupHost(lookupCtx, d.host)
			cancel()
			if err != nil || len(addrs) == 0 {
				logrus.Warnf("DNS probe for %s failed: %v, retrying", d.host, err)
				continue
			}

			d.once.Do(func() { close(d.Ch) })
			logrus.Debugf("%s resolves to %s", d.host, addrs[0])
			return nil
		}
	}
}

// TCPProbe dials an address until the connection is accepted. It
// stands in for the reachability ping an operator would run by hand;
// ICMP needs raw sockets, the management port answering is a stronger
// signal anyway.
type TCPProbe struct {
	addr string
	Ch   chan struct{}
	once sync.Once
}

// NewTCPProbe creates a TCPProbe for the given "host:port" address.
func NewTCPProbe(addr string) *TCPProbe {
	return &TCPProbe{
		addr: addr,
		Ch:   make(chan struct{}, 1),
	}
}

// ProbeUntilReady dials the address until a connection is accepted.
// The Ch channel is closed when the target becomes reachable.
func (p *TCPProbe) ProbeUntilReady(ctx context.Context) error {
	// Fast-path: already ready
	select {
	case <-p.Ch:
		return nil
	default:
	}

	dialer := &net.Dialer{Timeout: defaultProbeTimeout}

	ticker := time.NewTicker(defaultProbeInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return fmt.Errorf("reach %s: %w", p.addr, ctx.Err())
		case <-ticker.C:
			conn, err := dialer.DialContext(ctx, "tcp", p.addr)
			if err != nil {
				logrus.Warnf("TCP probe of %s failed: %v, retrying", p.addr, err)
				continue
			}
			if err := conn.Close(); err != nil {
				logrus.Warnf("failed to close probe connection: %v", err)
			}

			p.once.Do(func() { close(p.Ch) })
			logrus.Debugf("%s accepts connections", p.addr)
			return nil
		}
	}
}

// WaitAll waits for all probes to be ready in parallel.
// Returns the first error encountered, or nil if all probes succeed.
func WaitAll(ctx context.Context, probeList ...Probe) error {
	g, ctx := errgroup.WithContext(ctx)
	for _, p := range probeList {
		g.Go(func() error {
			return p.ProbeUntilReady(ctx)
		})
	}
	return g.Wait()
}
