// Copyright (C) 2026 Ben Grimm. Licensed under AGPL-3.0 (https://www.gnu.org/licenses/agpl-3.0.txt)

package forwarder

import (
	"context"

	"forwardkit.dev/smartforward/internal/config"
	"forwardkit.dev/smartforward/internal/logging"
)

// Unified runs one underlying Forwarder per protocol a rule requests,
// forwarding UpdateTarget to each and aggregating their stats.
type Unified struct {
	name    string
	members []Forwarder
}

// NewUnified builds the per-protocol forwarders for rule and binds each to
// listenAddr. initialTarget seeds every member's target; call UpdateTarget
// later as the selection loop picks a new one.
func NewUnified(rule config.Rule, listenAddr, initialTarget string, bufferSize int, logger *logging.Logger) *Unified {
	u := &Unified{name: rule.Name}

	for _, proto := range rule.ResolvedProtocols() {
		switch proto {
		case config.ProtocolTCP:
			u.members = append(u.members, NewTcp(rule.Name, listenAddr, initialTarget, bufferSize, logger))
		case config.ProtocolUDP:
			u.members = append(u.members, NewUdp(rule.Name, listenAddr, initialTarget, bufferSize, logger))
		case config.ProtocolHTTP:
			u.members = append(u.members, NewHttp(rule.Name, listenAddr, logger))
		}
	}
	return u
}

// Name returns the owning rule's name.
func (u *Unified) Name() string { return u.name }

// Start starts every member forwarder, stopping any already-started members
// if one fails to bind.
func (u *Unified) Start(ctx context.Context) error {
	started := make([]Forwarder, 0, len(u.members))
	for _, m := range u.members {
		if err := m.Start(ctx); err != nil {
			for _, s := range started {
				s.Stop()
			}
			return err
		}
		started = append(started, m)
	}
	return nil
}

// Stop stops every member forwarder.
func (u *Unified) Stop() {
	for _, m := range u.members {
		m.Stop()
	}
}

// UpdateTarget propagates a new selected endpoint to every member.
func (u *Unified) UpdateTarget(addr string) {
	for _, m := range u.members {
		m.UpdateTarget(addr)
	}
}

// Stats returns each member's stats keyed by its Kind.
func (u *Unified) Stats() map[Kind]Stats {
	out := make(map[Kind]Stats, len(u.members))
	for _, m := range u.members {
		out[m.Kind()] = m.Stats()
	}
	return out
}

// Members exposes the underlying per-protocol forwarders, for callers (the
// metrics collector) that need to know exactly which protocols this rule
// runs.
func (u *Unified) Members() []Forwarder {
	return u.members
}
