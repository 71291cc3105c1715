// Copyright (C) 2026 Ben Grimm. Licensed under AGPL-3.0 (https://www.gnu.org/licenses/agpl-3.0.txt)

package config

import (
	"forwardkit.dev/smartforward/internal/errors"
)

var validProtocols = map[string]bool{"tcp": true, "udp": true, "http": true}

// Validate checks structural and semantic invariants and returns a
// KindConfig error describing the first problem found, or nil.
// Validate should be called after ApplyDefaults.
func (cfg *Config) Validate() error {
	if len(cfg.Rules) == 0 {
		return errors.New(errors.KindConfig, "config: at least one rule is required")
	}

	seenNames := make(map[string]bool, len(cfg.Rules))

	for i := range cfg.Rules {
		r := &cfg.Rules[i]

		if r.Name == "" {
			return errors.Errorf(errors.KindConfig, "config: rule[%d]: name must not be empty", i)
		}
		if seenNames[r.Name] {
			return errors.Errorf(errors.KindConfig, "config: rule %q: duplicate name", r.Name)
		}
		seenNames[r.Name] = true

		if r.ListenPort < 1 || r.ListenPort > 65535 {
			return errors.Errorf(errors.KindConfig, "config: rule %q: listen_port must be 1..65535, got %d", r.Name, r.ListenPort)
		}

		if len(r.Targets) == 0 {
			return errors.Errorf(errors.KindConfig, "config: rule %q: at least one target is required", r.Name)
		}

		protocols := r.ResolvedProtocols()
		for _, p := range protocols {
			if !validProtocols[string(p)] {
				return errors.Errorf(errors.KindConfig, "config: rule %q: unrecognized protocol %q", r.Name, p)
			}
		}
	}

	if err := cfg.validateListenPortOverlap(); err != nil {
		return err
	}

	return nil
}

// validateListenPortOverlap rejects two rules claiming the same port unless
// they're disjoint on protocol (the OS independently binds TCP and UDP on
// the same port, so e.g. a tcp rule and a udp rule may legitimately share
// one).
func (cfg *Config) validateListenPortOverlap() error {
	type claim struct {
		rule, proto string
	}
	claims := make(map[int][]claim)

	for _, r := range cfg.Rules {
		for _, p := range r.ResolvedProtocols() {
			for _, c := range claims[r.ListenPort] {
				if c.proto == string(p) {
					return errors.Errorf(errors.KindConfig,
						"config: rules %q and %q both claim port %d for protocol %s",
						c.rule, r.Name, r.ListenPort, p)
				}
			}
			claims[r.ListenPort] = append(claims[r.ListenPort], claim{rule: r.Name, proto: string(p)})
		}
	}
	return nil
}
