// Copyright (C) 2026 Ben Grimm. Licensed under AGPL-3.0 (https://www.gnu.org/licenses/agpl-3.0.txt)

// Package config defines smart-forward's configuration schema and its HCL
// (and JSON) loaders.
package config

import "time"

// Protocol is one of the three protocols a rule can forward.
type Protocol string

const (
	ProtocolTCP  Protocol = "tcp"
	ProtocolUDP  Protocol = "udp"
	ProtocolHTTP Protocol = "http"
)

// LoggingConfig controls diagnostic emission.
type LoggingConfig struct {
	// @enum: debug, info, warn, error
	// @default: "info"
	Level string `hcl:"level,optional" json:"level,omitempty"`
	// @enum: text, json
	// @default: "text"
	Format string `hcl:"format,optional" json:"format,omitempty"`

	// Forward every log record to a remote syslog collector in addition to
	// stderr; disabled by default.
	Syslog *SyslogConfig `hcl:"syslog,block" json:"syslog,omitempty"`
}

// SyslogConfig controls the optional remote syslog sink.
type SyslogConfig struct {
	// @default: false
	Enabled bool `hcl:"enabled,optional" json:"enabled,omitempty"`
	Host    string `hcl:"host,optional" json:"host,omitempty"`
	// @default: 514
	Port int `hcl:"port,optional" json:"port,omitempty"`
	// @enum: udp, tcp
	// @default: "udp"
	Protocol string `hcl:"protocol,optional" json:"protocol,omitempty"`
	// @default: "smartforward"
	Tag string `hcl:"tag,optional" json:"tag,omitempty"`
}

// NetworkConfig controls listener bind addresses.
type NetworkConfig struct {
	// Ordered list of bind addresses; the first is the base address every
	// rule's listeners bind to. Later entries are not used.
	// @default: ["0.0.0.0"]
	ListenAddrs []string `hcl:"listen_addrs,optional" json:"listen_addrs,omitempty"`
}

// DynamicUpdateConfig controls the Health & Selection Loop's cadence.
// Durations are stored as Go duration strings (e.g. "5s") at the wire layer
// because the HCL and JSON decoders only round-trip through cty/JSON
// primitive types; use CheckIntervalDuration/ConnectionTimeoutDuration for
// the parsed values.
type DynamicUpdateConfig struct {
	// @default: "5s"
	CheckInterval string `hcl:"check_interval,optional" json:"check_interval,omitempty"`
	// @default: "3s"
	ConnectionTimeout string `hcl:"connection_timeout,optional" json:"connection_timeout,omitempty"`
}

// CheckIntervalDuration parses CheckInterval, falling back to def if unset
// or unparsable.
func (d *DynamicUpdateConfig) CheckIntervalDuration(def time.Duration) time.Duration {
	return parseDurationOr(d.CheckInterval, def)
}

// ConnectionTimeoutDuration parses ConnectionTimeout, falling back to def if
// unset or unparsable.
func (d *DynamicUpdateConfig) ConnectionTimeoutDuration(def time.Duration) time.Duration {
	return parseDurationOr(d.ConnectionTimeout, def)
}

func parseDurationOr(s string, def time.Duration) time.Duration {
	if s == "" {
		return def
	}
	if d, err := time.ParseDuration(s); err == nil {
		return d
	}
	return def
}

// DNSConfig controls the explicit resolver used by the Target Resolution
// Engine. The host stub resolver is never consulted.
type DNSConfig struct {
	// @default: ["223.5.5.5:53", "223.6.6.6:53"]
	Servers []string `hcl:"servers,optional" json:"servers,omitempty"`
	// @default: "2s"
	Timeout string `hcl:"timeout,optional" json:"timeout,omitempty"`
	// @default: 2
	Attempts int `hcl:"attempts,optional" json:"attempts,omitempty"`
}

// TimeoutDuration parses Timeout, falling back to def if unset or unparsable.
func (d *DNSConfig) TimeoutDuration(def time.Duration) time.Duration {
	return parseDurationOr(d.Timeout, def)
}

// Rule is one forwarding intent: a listen port, a protocol set, and an
// ordered list of candidate targets.
type Rule struct {
	Name string `hcl:"name,label" json:"name"`

	// @example: 8443
	ListenPort int `hcl:"listen_port" json:"listen_port"`

	// Deprecated: use Protocols.
	Protocol string `hcl:"protocol,optional" json:"protocol,omitempty"`

	// @enum: tcp, udp, http
	// @default: ["tcp", "udp"]
	Protocols []string `hcl:"protocols,optional" json:"protocols,omitempty"`

	// @default: inherited from the global buffer_size
	BufferSize int `hcl:"buffer_size,optional" json:"buffer_size,omitempty"`

	// Ordered candidate target strings: "ip:port", "host:port", or "host"
	// (TXT record carrying an "ip:port" value).
	Targets []string `hcl:"targets" json:"targets"`

	DynamicUpdate *DynamicUpdateConfig `hcl:"dynamic_update,block" json:"dynamic_update,omitempty"`
}

// ResolvedProtocols returns the rule's effective protocol set, applying the
// precedence rule: Protocols[] wins, then the deprecated singular Protocol,
// then the default {tcp, udp}.
func (r *Rule) ResolvedProtocols() []Protocol {
	if len(r.Protocols) > 0 {
		out := make([]Protocol, 0, len(r.Protocols))
		for _, p := range r.Protocols {
			out = append(out, Protocol(p))
		}
		return out
	}
	if r.Protocol != "" {
		return []Protocol{Protocol(r.Protocol)}
	}
	return []Protocol{ProtocolTCP, ProtocolUDP}
}

// HasProtocol reports whether the rule's resolved protocol set contains p.
func (r *Rule) HasProtocol(p Protocol) bool {
	for _, rp := range r.ResolvedProtocols() {
		if rp == p {
			return true
		}
	}
	return false
}

// Config is the top-level smart-forward configuration.
type Config struct {
	Logging LoggingConfig `hcl:"logging,block" json:"logging,omitempty"`
	Network NetworkConfig `hcl:"network,block" json:"network,omitempty"`

	// Global default per-connection copy buffer size, in bytes.
	// @default: 16384
	BufferSize int `hcl:"buffer_size,optional" json:"buffer_size,omitempty"`

	DynamicUpdate *DynamicUpdateConfig `hcl:"dynamic_update,block" json:"dynamic_update,omitempty"`
	DNS           *DNSConfig           `hcl:"dns,block" json:"dns,omitempty"`

	Rules []Rule `hcl:"rule,block" json:"rules,omitempty"`

	// Address to serve Prometheus metrics on; empty disables the endpoint.
	MetricsAddr string `hcl:"metrics_addr,optional" json:"metrics_addr,omitempty"`
	// Address to serve the read-only JSON status endpoint on; empty disables it.
	ControlAddr string `hcl:"control_addr,optional" json:"control_addr,omitempty"`
}
