// SPDX-License-Identifier: MIT

package probe

import (
	"context"
	"log/slog"
	"net"
	"sync"
	"time"

	"github.com/picommcapp/kiosk-supervisor/internal/config"
	"github.com/picommcapp/kiosk-supervisor/internal/metrics"
	"github.com/picommcapp/kiosk-supervisor/internal/util"
)

// Network measures reachability and round-trip latency to the configured
// hosts, each dial bounded by a per-host timeout. It dials a TCP
// connection rather than sending raw ICMP echo requests: ICMP sockets
// require elevated privilege this supervisor otherwise has no need for.
type Network struct {
	cfg       config.NetworkProbeConfig
	collector *metrics.Collector
	logger    *slog.Logger
	dial      func(ctx context.Context, network, address string) (net.Conn, error)
}

// NewNetwork builds a Network probe.
func NewNetwork(cfg config.NetworkProbeConfig, collector *metrics.Collector, logger *slog.Logger) *Network {
	if logger == nil {
		logger = slog.Default()
	}
	d := &net.Dialer{}
	return &Network{cfg: cfg, collector: collector, logger: logger, dial: d.DialContext}
}

// Name identifies this task to the supervision tree.
func (n *Network) Name() string { return "network-probe" }

// Run probes every configured host on cfg.Interval until ctx is cancelled.
func (n *Network) Run(ctx context.Context) error {
	interval := n.cfg.Interval
	if interval <= 0 {
		interval = 30 * time.Second
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			n.probeAll(ctx)
		}
	}
}

func (n *Network) probeAll(ctx context.Context) {
	if len(n.cfg.Hosts) == 0 {
		return
	}

	timeout := n.cfg.HostTimeout
	if timeout <= 0 {
		timeout = 3 * time.Second
	}

	var wg sync.WaitGroup
	for _, host := range n.cfg.Hosts {
		wg.Add(1)
		util.SafeGo("network-probe:"+host, n.logger, func() {
			defer wg.Done()
			n.probeOne(ctx, host, timeout)
		})
	}
	wg.Wait()
}

func (n *Network) probeOne(ctx context.Context, host string, timeout time.Duration) {
	hostCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	start := time.Now()
	conn, err := n.dial(hostCtx, "tcp", host)
	latency := time.Since(start)

	if err != nil {
		n.logger.Warn("network probe: host unreachable", "host", host, "err", err)
		n.collector.SetNetworkReachable(host, false)
		return
	}
	_ = conn.Close()

	n.collector.SetNetworkReachable(host, true)
	n.collector.SetNetworkLatency(host, latency)
}
