// Copyright (C) 2026 Ben Grimm. Licensed under AGPL-3.0 (https://www.gnu.org/licenses/agpl-3.0.txt)

// Package netgate implements the network-down gate: a background
// ICMP check against a small set of well-known hosts, surfaced as a gauge
// and a log line. It never pauses the selection loop or forwarders — a
// downed uplink is diagnostic information, not a safety interlock, since a
// flapping default route would otherwise stall every rule at once.
//
// Adapted from the ticker-plus-RWMutex-results-map shape of the route
// monitor this repo used to carry, now pinging fixed reachability probes
// instead of per-route monitor targets.
package netgate

import (
	"fmt"
	"sync"
	"time"

	"forwardkit.dev/smartforward/internal/logging"

	probing "github.com/prometheus-community/pro-bing"
)

// DefaultProbeHosts are the ping targets New falls back to when given no
// hosts; the daemon passes them explicitly.
var DefaultProbeHosts = []string{"8.8.8.8"}

const defaultInterval = 30 * time.Second

// Status is a point-in-time snapshot of the gate's last check.
type Status struct {
	Reachable bool
	LastCheck time.Time
	Error     string
}

// Gate pings a fixed set of hosts on an interval and reports whether any of
// them answered. The network is considered reachable unless every probe
// host fails.
type Gate struct {
	logger   *logging.Logger
	hosts    []string
	interval time.Duration

	stopCh chan struct{}
	wg     sync.WaitGroup

	mu     sync.RWMutex
	status Status
}

// New builds a Gate. hosts are the ping targets (IP literals); if empty,
// DefaultProbeHosts is used. interval <= 0 defaults to 30s.
func New(logger *logging.Logger, hosts []string, interval time.Duration) *Gate {
	if logger == nil {
		logger = logging.New(logging.DefaultConfig())
	}
	if len(hosts) == 0 {
		hosts = DefaultProbeHosts
	}
	if interval <= 0 {
		interval = defaultInterval
	}
	return &Gate{
		logger:   logger.WithComponent("netgate"),
		hosts:    hosts,
		interval: interval,
		stopCh:   make(chan struct{}),
		status:   Status{Reachable: true},
	}
}

// Start begins the background ping loop, performing one check immediately.
func (g *Gate) Start() {
	g.check()
	g.wg.Add(1)
	go g.run()
}

// Stop halts the ping loop and waits for it to exit.
func (g *Gate) Stop() {
	close(g.stopCh)
	g.wg.Wait()
}

// Reachable reports whether the most recent check considered the uplink up.
func (g *Gate) Reachable() bool {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return g.status.Reachable
}

// Snapshot returns the full last-check status.
func (g *Gate) Snapshot() Status {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return g.status
}

func (g *Gate) run() {
	defer g.wg.Done()
	ticker := time.NewTicker(g.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			g.check()
		case <-g.stopCh:
			return
		}
	}
}

func (g *Gate) check() {
	var up bool
	var lastErr error
	for _, host := range g.hosts {
		if _, err := PingFunc(host); err == nil {
			up = true
			break
		} else {
			lastErr = err
		}
	}

	g.mu.Lock()
	prev := g.status.Reachable
	g.status = Status{Reachable: up, LastCheck: time.Now()}
	if !up && lastErr != nil {
		g.status.Error = lastErr.Error()
	}
	g.mu.Unlock()

	switch {
	case !up:
		g.logger.Warn("network reachability check failed", "hosts", g.hosts, "error", lastErr)
	case up && !prev:
		g.logger.Info("network reachability restored", "hosts", g.hosts)
	}
}

// PingFunc performs a single ICMP echo against host, returning its RTT.
// Overridable in tests.
var PingFunc = func(host string) (time.Duration, error) {
	pinger, err := probing.NewPinger(host)
	if err != nil {
		return 0, fmt.Errorf("netgate: create pinger: %w", err)
	}
	pinger.Count = 1
	pinger.Timeout = 2 * time.Second
	pinger.SetPrivileged(false)

	if err := pinger.Run(); err != nil {
		return 0, err
	}

	stats := pinger.Statistics()
	if stats.PacketsRecv == 0 {
		return 0, fmt.Errorf("netgate: no reply from %s", host)
	}
	return stats.AvgRtt, nil
}
