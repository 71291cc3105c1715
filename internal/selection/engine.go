// Copyright (C) 2026 Ben Grimm. Licensed under AGPL-3.0 (https://www.gnu.org/licenses/agpl-3.0.txt)

// Package selection implements the Health & Selection Loop: on a
// fixed cadence it re-resolves every hostname-form target, probes every
// target's reachability, and recomputes each rule's selected endpoint by
// priority order. Exactly one SwitchEvent is emitted per rule per tick in
// which its selected endpoint changed.
//
// Per the REDESIGN FLAGS, consumers subscribe through a bounded channel
// rather than registering a callback, and DNS refresh fan-out is capped by
// a semaphore rather than left unbounded.
package selection

import (
	"context"
	"net"
	"sync"
	"time"

	"forwardkit.dev/smartforward/internal/config"
	"forwardkit.dev/smartforward/internal/logging"
	"forwardkit.dev/smartforward/internal/probe"
	"forwardkit.dev/smartforward/internal/registry"
	"forwardkit.dev/smartforward/internal/resolver"
	"forwardkit.dev/smartforward/internal/store"
)

const (
	// failThreshold is the number of consecutive probe failures before a
	// target is marked unhealthy. failover should be fast, so one
	// failure is enough.
	failThreshold = 1

	// dnsConcurrency bounds how many hostname targets are resolved in
	// parallel during a single tick.
	dnsConcurrency = 16

	// probeConcurrency bounds how many targets are probed in parallel
	// during a single tick.
	probeConcurrency = 32

	// eventBufferSize sizes the switch-event channel. A tick that cannot
	// fit its events in an already-full buffer drops them; the log line a
	// subscriber misses is not a correctness gap, since the registry
	// itself always reflects the latest selection.
	eventBufferSize = 256

	// unavailableLogInterval rate-limits the "no healthy candidate"
	// diagnostic per rule.
	unavailableLogInterval = 30 * time.Second

	defaultCheckInterval = 5 * time.Second
	defaultConnTimeout   = 3 * time.Second
)

// SwitchEvent reports that a rule's selected endpoint changed.
type SwitchEvent struct {
	Rule string
	Old  string
	New  string
}

// Engine runs the Health & Selection Loop.
type Engine struct {
	cfg      *config.Config
	store    *store.Store
	registry *registry.Registry
	resolver *resolver.Resolver
	dialer   probe.Dialer
	logger   *logging.Logger

	checkInterval time.Duration
	connTimeout   time.Duration

	ruleTargets map[string][]string         // rule name -> ordered original target strings
	targetProto map[string]probe.Protocol   // original target string -> probe strategy
	allTargets  []string                    // distinct original target strings, stable order

	events chan SwitchEvent

	unavailMu   sync.Mutex
	lastUnavail map[string]time.Time
}

// New builds an Engine from cfg. store and registry may be freshly
// constructed by the caller and shared with the forwarders and kernel sync.
func New(cfg *config.Config, st *store.Store, reg *registry.Registry, logger *logging.Logger) *Engine {
	if logger == nil {
		logger = logging.New(logging.DefaultConfig())
	}

	var servers []string
	timeout := 2 * time.Second
	attempts := 2
	if cfg.DNS != nil {
		servers = cfg.DNS.Servers
		timeout = cfg.DNS.TimeoutDuration(timeout)
		if cfg.DNS.Attempts > 0 {
			attempts = cfg.DNS.Attempts
		}
	}
	if len(servers) == 0 {
		servers = config.DefaultDNSServers
	}

	checkInterval := defaultCheckInterval
	connTimeout := defaultConnTimeout
	if cfg.DynamicUpdate != nil {
		checkInterval = cfg.DynamicUpdate.CheckIntervalDuration(checkInterval)
		connTimeout = cfg.DynamicUpdate.ConnectionTimeoutDuration(connTimeout)
	}

	e := &Engine{
		cfg:           cfg,
		store:         st,
		registry:      reg,
		resolver:      resolver.New(servers, timeout, attempts),
		dialer:        nil,
		logger:        logger.WithComponent("selection"),
		checkInterval: checkInterval,
		connTimeout:   connTimeout,
		ruleTargets:   make(map[string][]string),
		targetProto:   make(map[string]probe.Protocol),
		events:        make(chan SwitchEvent, eventBufferSize),
		lastUnavail:   make(map[string]time.Time),
	}
	e.indexRules()
	return e
}

// Events returns the channel of rule selection changes.
func (e *Engine) Events() <-chan SwitchEvent {
	return e.events
}

func (e *Engine) indexRules() {
	seen := make(map[string]bool)
	for _, rule := range e.cfg.Rules {
		e.ruleTargets[rule.Name] = append([]string(nil), rule.Targets...)

		tcpCapable := rule.HasProtocol(config.ProtocolTCP) || rule.HasProtocol(config.ProtocolHTTP)
		for _, target := range rule.Targets {
			if tcpCapable {
				e.targetProto[target] = probe.ProtocolTCP
			} else if _, exists := e.targetProto[target]; !exists {
				e.targetProto[target] = probe.ProtocolUDPOnly
			}
			if !seen[target] {
				seen[target] = true
				e.allTargets = append(e.allTargets, target)
			}
		}
	}
}

// Run initializes every rule in the registry, performs one immediate
// resolve/probe/select pass, and then ticks on checkInterval until ctx is
// canceled.
func (e *Engine) Run(ctx context.Context) error {
	for name := range e.ruleTargets {
		e.registry.Init(name)
	}

	e.tick(ctx)

	ticker := time.NewTicker(e.checkInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			e.tick(ctx)
		}
	}
}

func (e *Engine) tick(ctx context.Context) {
	e.refreshDNS(ctx)
	e.probeAll(ctx)
	e.selectAll()
}

// refreshDNS re-resolves every target whose original form is a hostname; an
// "ip:port" literal target is never re-resolved.
func (e *Engine) refreshDNS(ctx context.Context) {
	sem := make(chan struct{}, dnsConcurrency)
	var wg sync.WaitGroup

	for _, target := range e.allTargets {
		if isLiteralAddr(target) {
			e.store.UpdateResolved(target, target)
			continue
		}

		wg.Add(1)
		sem <- struct{}{}
		go func(original string) {
			defer wg.Done()
			defer func() { <-sem }()

			resolved, err := e.resolver.Resolve(ctx, original)
			if err != nil {
				e.logger.Debug("target resolution failed", "target", original, "error", err)
				return
			}
			e.store.UpdateResolved(original, resolved)
		}(target)
	}
	wg.Wait()
}

// probeAll checks reachability of every target's currently resolved
// address.
func (e *Engine) probeAll(ctx context.Context) {
	sem := make(chan struct{}, probeConcurrency)
	var wg sync.WaitGroup

	for _, target := range e.allTargets {
		wg.Add(1)
		sem <- struct{}{}
		go func(original string) {
			defer wg.Done()
			defer func() { <-sem }()
			e.probeOne(ctx, original)
		}(target)
	}
	wg.Wait()
}

func (e *Engine) probeOne(ctx context.Context, original string) {
	info, ok := e.store.Get(original)
	now := time.Now()
	if !ok || info.Resolved == "" {
		e.store.RecordProbeResult(original, false, 0, now, failThreshold)
		return
	}

	proto := e.targetProto[original]
	latency, err := probe.Probe(ctx, e.dialer, proto, info.Resolved, e.connTimeout)
	e.store.RecordProbeResult(original, err == nil, latency, now, failThreshold)
}

// selectAll recomputes every rule's selected endpoint by priority order and
// emits at most one SwitchEvent per rule.
//
// Per §4.1: among healthy candidates (H), the highest-priority one wins. If
// H is empty but a target is already selected (C), that selection is kept
// rather than churned to "no target". If H is empty and nothing was ever
// selected, the first configured candidate is chosen regardless of health so
// downstream forwarders and the kernel sync always have an address to bind.
func (e *Engine) selectAll() {
	for ruleName, targets := range e.ruleTargets {
		prev, _ := e.registry.Get(ruleName)

		candidates := make([]store.TargetInfo, 0, len(targets))
		healthyFirst := ""
		for _, original := range targets {
			info, ok := e.store.Get(original)
			if !ok {
				info = store.TargetInfo{Original: original}
			}
			candidates = append(candidates, info)
			if healthyFirst == "" && info.Healthy && info.Resolved != "" {
				healthyFirst = info.Resolved
			}
		}

		selected := healthyFirst
		noHealthy := healthyFirst == ""
		if noHealthy {
			switch {
			case prev.Selected != "":
				selected = prev.Selected
			case len(candidates) > 0:
				selected = candidates[0].Resolved
			}
		}

		switched, old, newEndpoint := e.registry.Update(ruleName, candidates, selected)
		if noHealthy {
			e.logUnavailable(ruleName)
		}
		if !switched {
			continue
		}

		e.logger.Info("rule selection changed", "rule", ruleName, "old", old, "new", newEndpoint)
		select {
		case e.events <- SwitchEvent{Rule: ruleName, Old: old, New: newEndpoint}:
		default:
			e.logger.Warn("switch event dropped, subscriber too slow", "rule", ruleName)
		}
	}
}

func (e *Engine) logUnavailable(rule string) {
	e.unavailMu.Lock()
	defer e.unavailMu.Unlock()

	last, ok := e.lastUnavail[rule]
	now := time.Now()
	if ok && now.Sub(last) < unavailableLogInterval {
		return
	}
	e.lastUnavail[rule] = now
	e.logger.Warn("rule has no healthy candidate", "rule", rule)
}

func isLiteralAddr(target string) bool {
	host, _, err := net.SplitHostPort(target)
	if err != nil {
		return false
	}
	return net.ParseIP(host) != nil
}
