// Copyright (C) 2026 Ben Grimm. Licensed under AGPL-3.0 (https://www.gnu.org/licenses/agpl-3.0.txt)

package logging

import (
	"fmt"
	"io"
	"log/syslog"
)

// SyslogConfig configures forwarding of log output to a remote syslog
// collector, in addition to the regular stdout/stderr sink.
type SyslogConfig struct {
	Enabled  bool
	Host     string
	Port     int
	Protocol string // udp|tcp
	Tag      string
	Facility syslog.Priority
}

// DefaultSyslogConfig returns syslog forwarding in its disabled, default
// state: port 514, UDP, tagged "smartforward", facility 1 (user-level).
func DefaultSyslogConfig() SyslogConfig {
	return SyslogConfig{
		Enabled:  false,
		Port:     514,
		Protocol: "udp",
		Tag:      "smartforward",
		Facility: 1,
	}
}

// NewSyslogWriter dials the configured syslog collector and returns an
// io.Writer suitable for use as a slog handler's output (or a secondary
// io.MultiWriter target).
func NewSyslogWriter(cfg SyslogConfig) (io.Writer, error) {
	if cfg.Host == "" {
		return nil, fmt.Errorf("logging: syslog host must not be empty")
	}
	if cfg.Port == 0 {
		cfg.Port = 514
	}
	if cfg.Protocol == "" {
		cfg.Protocol = "udp"
	}
	if cfg.Tag == "" {
		cfg.Tag = "smartforward"
	}
	if cfg.Facility == 0 {
		cfg.Facility = 1
	}

	addr := fmt.Sprintf("%s:%d", cfg.Host, cfg.Port)
	// Facility is a facility code (1 = user-level); syslog.Priority keeps
	// the facility above the three severity bits.
	w, err := syslog.Dial(cfg.Protocol, addr, (cfg.Facility<<3)|syslog.LOG_INFO, cfg.Tag)
	if err != nil {
		return nil, fmt.Errorf("logging: dial syslog %s://%s: %w", cfg.Protocol, addr, err)
	}
	return w, nil
}
