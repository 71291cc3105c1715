// Copyright (C) 2026 Ben Grimm. Licensed under AGPL-3.0 (https://www.gnu.org/licenses/agpl-3.0.txt)

package kernel

import (
	"context"

	"forwardkit.dev/smartforward/internal/config"
	"forwardkit.dev/smartforward/internal/logging"
	"forwardkit.dev/smartforward/internal/registry"
	"forwardkit.dev/smartforward/internal/selection"
)

// Syncer subscribes to the Health & Selection Loop's switch events and
// reconciles the kernel backend's managed table whenever a rule's selected
// target changes.
type Syncer struct {
	backend    Backend
	registry   *registry.Registry
	rules      []config.Rule
	listenAddr string
	logger     *logging.Logger
}

// NewSyncer builds a Syncer. rules supplies each rule's listen port and
// protocol set; listenAddr is the base bind address from the config's
// network.listen_addrs (the first entry) used as the DNAT match's daddr —
// left empty or "0.0.0.0" it matches any destination address, per §4.5.
func NewSyncer(backend Backend, reg *registry.Registry, rules []config.Rule, listenAddr string, logger *logging.Logger) *Syncer {
	if logger == nil {
		logger = logging.New(logging.DefaultConfig())
	}
	if ifaces, err := EgressInterfaces(); err != nil {
		logger.Warn("egress interface detection failed", "error", err)
	} else {
		logger.Debug("egress interfaces detected", "interfaces", ifaces)
	}

	return &Syncer{
		backend:    backend,
		registry:   reg,
		rules:      rules,
		listenAddr: listenAddr,
		logger:     logger.WithComponent("kernel"),
	}
}

// Run performs an initial reconciliation against the registry's current
// state, then reconciles again on every switch event until ctx is canceled,
// tearing the managed table down on exit.
func (s *Syncer) Run(ctx context.Context, events <-chan selection.SwitchEvent) error {
	defer func() {
		if err := s.backend.Teardown(); err != nil {
			s.logger.Warn("teardown failed", "error", err)
		}
	}()

	s.reconcile()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case ev, ok := <-events:
			if !ok {
				return nil
			}
			s.logger.Debug("switch event received", "rule", ev.Rule, "old", ev.Old, "new", ev.New)
			s.reconcile()
		}
	}
}

func (s *Syncer) reconcile() {
	pairs := s.buildPairs()
	if err := s.backend.Reconcile(pairs); err != nil {
		s.logger.Error("reconciliation failed", "backend", s.backend.Name(), "error", err)
		return
	}
	s.logger.Info("reconciled kernel table", "backend", s.backend.Name(), "pairs", len(pairs))
}

// buildPairs derives the current NATPair set from the configured rules and
// the registry's live selections, skipping any rule with no selected
// endpoint yet (its selected endpoint is empty).
func (s *Syncer) buildPairs() []NATPair {
	var pairs []NATPair
	for _, rule := range s.rules {
		info, ok := s.registry.Get(rule.Name)
		if !ok || info.Selected == "" {
			continue
		}

		for _, proto := range rule.ResolvedProtocols() {
			if proto == config.ProtocolHTTP {
				continue // the HTTP redirect responder terminates locally, no NAT.
			}
			pairs = append(pairs, NATPair{
				RuleName:   rule.Name,
				Protocol:   string(proto),
				ListenAddr: s.listenAddr,
				ListenPort: rule.ListenPort,
				TargetAddr: info.Selected,
			})
		}
	}
	return pairs
}
