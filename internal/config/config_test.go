// Copyright (C) 2026 Ben Grimm. Licensed under AGPL-3.0 (https://www.gnu.org/licenses/agpl-3.0.txt)

package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestApplyDefaults(t *testing.T) {
	cfg := &Config{
		Rules: []Rule{{Name: "r1", ListenPort: 8080, Targets: []string{"10.0.0.1:8080"}}},
	}
	cfg.ApplyDefaults()

	assert.Equal(t, DefaultBufferSize, cfg.BufferSize)
	assert.Equal(t, []string{"0.0.0.0"}, cfg.Network.ListenAddrs)
	require.NotNil(t, cfg.DynamicUpdate)
	assert.Equal(t, DefaultCheckInterval, cfg.DynamicUpdate.CheckInterval)
	require.NotNil(t, cfg.DNS)
	assert.Equal(t, DefaultDNSServers, cfg.DNS.Servers)
	assert.Equal(t, []string{"tcp", "udp"}, cfg.Rules[0].Protocols)
	assert.Equal(t, DefaultBufferSize, cfg.Rules[0].BufferSize)
}

func TestValidate_RejectsEmptyRules(t *testing.T) {
	cfg := &Config{}
	err := cfg.Validate()
	require.Error(t, err)
}

func TestValidate_RejectsMissingTargets(t *testing.T) {
	cfg := &Config{Rules: []Rule{{Name: "r1", ListenPort: 80}}}
	err := cfg.Validate()
	require.Error(t, err)
}

func TestValidate_RejectsBadPort(t *testing.T) {
	cfg := &Config{Rules: []Rule{{Name: "r1", ListenPort: 0, Targets: []string{"a:1"}}}}
	err := cfg.Validate()
	require.Error(t, err)
}

func TestValidate_RejectsUnrecognizedProtocol(t *testing.T) {
	cfg := &Config{Rules: []Rule{{Name: "r1", ListenPort: 80, Targets: []string{"a:1"}, Protocols: []string{"sctp"}}}}
	err := cfg.Validate()
	require.Error(t, err)
}

func TestValidate_RejectsPortProtocolOverlap(t *testing.T) {
	cfg := &Config{Rules: []Rule{
		{Name: "r1", ListenPort: 80, Targets: []string{"a:1"}, Protocols: []string{"tcp"}},
		{Name: "r2", ListenPort: 80, Targets: []string{"b:1"}, Protocols: []string{"tcp"}},
	}}
	err := cfg.Validate()
	require.Error(t, err)
}

func TestValidate_AllowsSharedPortAcrossProtocols(t *testing.T) {
	cfg := &Config{Rules: []Rule{
		{Name: "r1", ListenPort: 80, Targets: []string{"a:1"}, Protocols: []string{"tcp"}},
		{Name: "r2", ListenPort: 80, Targets: []string{"b:1"}, Protocols: []string{"udp"}},
	}}
	require.NoError(t, cfg.Validate())
}

func TestResolvedProtocols_Precedence(t *testing.T) {
	r := Rule{Protocols: []string{"http"}, Protocol: "tcp"}
	assert.Equal(t, []Protocol{ProtocolHTTP}, r.ResolvedProtocols())

	r2 := Rule{Protocol: "udp"}
	assert.Equal(t, []Protocol{ProtocolUDP}, r2.ResolvedProtocols())

	r3 := Rule{}
	assert.Equal(t, []Protocol{ProtocolTCP, ProtocolUDP}, r3.ResolvedProtocols())
}

func TestWantsAutoHTTPRedirect(t *testing.T) {
	cfg := &Config{Rules: []Rule{{Name: "r1", ListenPort: 443, Targets: []string{"a:1"}}}}
	assert.True(t, cfg.WantsAutoHTTPRedirect())

	cfg.Rules = append(cfg.Rules, Rule{Name: "r2", ListenPort: 80, Targets: []string{"a:1"}})
	assert.False(t, cfg.WantsAutoHTTPRedirect())
}

func TestLoadFile_JSON(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.json")
	body := `{
		"rules": [{"name": "r1", "listen_port": 9000, "targets": ["10.0.0.1:9000"]}]
	}`
	require.NoError(t, os.WriteFile(path, []byte(body), 0o644))

	cfg, err := LoadFile(path)
	require.NoError(t, err)
	require.Len(t, cfg.Rules, 1)
	assert.Equal(t, "r1", cfg.Rules[0].Name)
	assert.Equal(t, DefaultBufferSize, cfg.BufferSize)
}

func TestLoadFile_JSON_WithSyslog(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.json")
	body := `{
		"logging": {"syslog": {"enabled": true, "host": "log.internal", "tag": "sf"}},
		"rules": [{"name": "r1", "listen_port": 9000, "targets": ["10.0.0.1:9000"]}]
	}`
	require.NoError(t, os.WriteFile(path, []byte(body), 0o644))

	cfg, err := LoadFile(path)
	require.NoError(t, err)
	require.NotNil(t, cfg.Logging.Syslog)
	assert.True(t, cfg.Logging.Syslog.Enabled)
	assert.Equal(t, "log.internal", cfg.Logging.Syslog.Host)
	assert.Equal(t, "sf", cfg.Logging.Syslog.Tag)
}

func TestLoadFile_HCL(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.hcl")
	body := `
buffer_size = 8192

rule "r1" {
  listen_port = 9000
  protocols   = ["tcp"]
  targets     = ["10.0.0.1:9000"]
}
`
	require.NoError(t, os.WriteFile(path, []byte(body), 0o644))

	cfg, err := LoadFile(path)
	require.NoError(t, err)
	require.Len(t, cfg.Rules, 1)
	assert.Equal(t, 9000, cfg.Rules[0].ListenPort)
	assert.Equal(t, 8192, cfg.BufferSize)
}
