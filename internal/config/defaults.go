// Copyright (C) 2026 Ben Grimm. Licensed under AGPL-3.0 (https://www.gnu.org/licenses/agpl-3.0.txt)

package config

const (
	DefaultBufferSize        = 16384
	DefaultCheckInterval     = "5s"
	DefaultConnectionTimeout = "3s"
	DefaultDNSTimeout        = "2s"
	DefaultDNSAttempts       = 2
)

var DefaultDNSServers = []string{"223.5.5.5:53", "223.6.6.6:53"}

// ApplyDefaults fills in zero-valued fields with smart-forward's documented
// defaults. It mutates cfg in place and is idempotent.
func (cfg *Config) ApplyDefaults() {
	if cfg.Logging.Level == "" {
		cfg.Logging.Level = "info"
	}
	if cfg.Logging.Format == "" {
		cfg.Logging.Format = "text"
	}
	if len(cfg.Network.ListenAddrs) == 0 {
		cfg.Network.ListenAddrs = []string{"0.0.0.0"}
	}
	if cfg.BufferSize == 0 {
		cfg.BufferSize = DefaultBufferSize
	}
	if cfg.DynamicUpdate == nil {
		cfg.DynamicUpdate = &DynamicUpdateConfig{}
	}
	if cfg.DynamicUpdate.CheckInterval == "" {
		cfg.DynamicUpdate.CheckInterval = DefaultCheckInterval
	}
	if cfg.DynamicUpdate.ConnectionTimeout == "" {
		cfg.DynamicUpdate.ConnectionTimeout = DefaultConnectionTimeout
	}
	if cfg.DNS == nil {
		cfg.DNS = &DNSConfig{}
	}
	if len(cfg.DNS.Servers) == 0 {
		cfg.DNS.Servers = append([]string(nil), DefaultDNSServers...)
	}
	if cfg.DNS.Timeout == "" {
		cfg.DNS.Timeout = DefaultDNSTimeout
	}
	if cfg.DNS.Attempts == 0 {
		cfg.DNS.Attempts = DefaultDNSAttempts
	}

	for i := range cfg.Rules {
		r := &cfg.Rules[i]
		if r.BufferSize == 0 {
			r.BufferSize = cfg.BufferSize
		}
		if len(r.Protocols) == 0 && r.Protocol == "" {
			r.Protocols = []string{"tcp", "udp"}
		}
		if r.DynamicUpdate == nil {
			r.DynamicUpdate = &DynamicUpdateConfig{
				CheckInterval:     cfg.DynamicUpdate.CheckInterval,
				ConnectionTimeout: cfg.DynamicUpdate.ConnectionTimeout,
			}
			continue
		}
		if r.DynamicUpdate.CheckInterval == "" {
			r.DynamicUpdate.CheckInterval = cfg.DynamicUpdate.CheckInterval
		}
		if r.DynamicUpdate.ConnectionTimeout == "" {
			r.DynamicUpdate.ConnectionTimeout = cfg.DynamicUpdate.ConnectionTimeout
		}
	}
}

// WantsAutoHTTPRedirect reports whether the configuration has a rule on port
// 443 but none on port 80, triggering the auto HTTP->HTTPS redirect listener.
func (cfg *Config) WantsAutoHTTPRedirect() bool {
	has443, has80 := false, false
	for _, r := range cfg.Rules {
		switch r.ListenPort {
		case 443:
			has443 = true
		case 80:
			has80 = true
		}
	}
	return has443 && !has80
}
