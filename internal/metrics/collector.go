// Copyright (C) 2026 Ben Grimm. Licensed under AGPL-3.0 (https://www.gnu.org/licenses/agpl-3.0.txt)

// Package metrics implements the Prometheus surface: a small set of gauges
// and counters sampled periodically from the Rule
// Registry, the per-rule forwarders, and the Network-Down Gate: a struct of
// metric vectors built in a constructor and registered as a group.
package metrics

import (
	"context"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"forwardkit.dev/smartforward/internal/forwarder"
	"forwardkit.dev/smartforward/internal/logging"
	"forwardkit.dev/smartforward/internal/netgate"
	"forwardkit.dev/smartforward/internal/registry"
)

const defaultSampleInterval = 5 * time.Second

// Collector holds every metric this repo exposes and the state needed to
// turn cumulative forwarder counters into Prometheus counter increments.
type Collector struct {
	RuleTargetHealthy *prometheus.GaugeVec
	SwitchesTotal     *prometheus.CounterVec
	BytesTotal        *prometheus.CounterVec
	UDPSessions       *prometheus.GaugeVec
	NetworkReachable  prometheus.Gauge

	registry   *registry.Registry
	gate       *netgate.Gate
	forwarders map[string]*forwarder.Unified
	logger     *logging.Logger

	mu           sync.Mutex
	lastSelected map[string]string
	lastBytes    map[bytesKey]uint64
}

type bytesKey struct {
	rule      string
	proto     string
	direction string
}

// NewCollector builds a Collector wired to the live rule registry, network
// gate, and the set of running per-rule forwarders (keyed by rule name).
func NewCollector(reg *registry.Registry, gate *netgate.Gate, forwarders map[string]*forwarder.Unified, logger *logging.Logger) *Collector {
	if logger == nil {
		logger = logging.New(logging.DefaultConfig())
	}

	return &Collector{
		RuleTargetHealthy: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "smartforward_rule_target_healthy",
			Help: "Whether a rule's candidate target is currently healthy (1) or not (0).",
		}, []string{"rule", "target"}),

		SwitchesTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "smartforward_rule_selected_switches_total",
			Help: "Total number of times a rule's selected target changed.",
		}, []string{"rule"}),

		BytesTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "smartforward_bytes_total",
			Help: "Total bytes relayed per rule, protocol, and direction.",
		}, []string{"rule", "proto", "direction"}),

		UDPSessions: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "smartforward_udp_sessions",
			Help: "Number of active UDP client sessions per rule.",
		}, []string{"rule"}),

		NetworkReachable: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "smartforward_network_reachable",
			Help: "Whether the network-down gate currently considers the network reachable (1) or not (0).",
		}),

		registry:     reg,
		gate:         gate,
		forwarders:   forwarders,
		logger:       logger.WithComponent("metrics"),
		lastSelected: make(map[string]string),
		lastBytes:    make(map[bytesKey]uint64),
	}
}

// Register registers every metric with reg.
func (c *Collector) Register(reg prometheus.Registerer) error {
	for _, collector := range []prometheus.Collector{
		c.RuleTargetHealthy, c.SwitchesTotal, c.BytesTotal, c.UDPSessions, c.NetworkReachable,
	} {
		if err := reg.Register(collector); err != nil {
			return err
		}
	}
	return nil
}

// Run samples the registry, forwarders, and network gate every interval
// until ctx is canceled. interval <= 0 uses defaultSampleInterval.
func (c *Collector) Run(ctx context.Context, interval time.Duration) {
	if interval <= 0 {
		interval = defaultSampleInterval
	}

	c.sample()
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			c.sample()
		}
	}
}

func (c *Collector) sample() {
	if c.gate != nil {
		if c.gate.Reachable() {
			c.NetworkReachable.Set(1)
		} else {
			c.NetworkReachable.Set(0)
		}
	}

	c.sampleRegistry()
	c.sampleForwarders()
}

func (c *Collector) sampleRegistry() {
	if c.registry == nil {
		return
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	for rule, info := range c.registry.All() {
		for _, candidate := range info.Candidates {
			healthy := 0.0
			if candidate.Healthy {
				healthy = 1.0
			}
			c.RuleTargetHealthy.WithLabelValues(rule, candidate.Original).Set(healthy)
		}

		prev, seen := c.lastSelected[rule]
		if seen && prev != info.Selected {
			c.SwitchesTotal.WithLabelValues(rule).Inc()
		}
		c.lastSelected[rule] = info.Selected
	}
}

func (c *Collector) sampleForwarders() {
	c.mu.Lock()
	defer c.mu.Unlock()

	for rule, uf := range c.forwarders {
		for kind, stats := range uf.Stats() {
			c.addBytesDelta(rule, kind.String(), "sent", stats.BytesSent)
			c.addBytesDelta(rule, kind.String(), "received", stats.BytesReceived)
		}

		sessions := 0
		for _, member := range uf.Members() {
			if udp, ok := member.(*forwarder.Udp); ok {
				sessions += udp.SessionCount()
			}
		}
		c.UDPSessions.WithLabelValues(rule).Set(float64(sessions))
	}
}

// addBytesDelta converts a forwarder's cumulative byte count into the
// incremental Add a Prometheus counter requires, tracking the last-seen
// cumulative value per rule/proto/direction. Must be called with c.mu held.
func (c *Collector) addBytesDelta(rule, proto, direction string, cumulative uint64) {
	key := bytesKey{rule: rule, proto: proto, direction: direction}
	prev := c.lastBytes[key]
	if cumulative < prev {
		// Counter reset (forwarder restarted); start the delta over from zero.
		prev = 0
	}
	delta := cumulative - prev
	c.lastBytes[key] = cumulative
	if delta > 0 {
		c.BytesTotal.WithLabelValues(rule, proto, direction).Add(float64(delta))
	}
}
