// Copyright (C) 2026 Ben Grimm. Licensed under AGPL-3.0 (https://www.gnu.org/licenses/agpl-3.0.txt)

package kernel

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestRender_OneDNATOneSNATPerPair(t *testing.T) {
	pairs := []NATPair{
		{RuleName: "web", Protocol: "tcp", ListenPort: 8080, TargetAddr: "10.0.0.1:8080"},
		{RuleName: "web", Protocol: "udp", ListenPort: 8080, TargetAddr: "10.0.0.1:8080"},
	}

	script := render(pairs)
	assert.Equal(t, 2, strings.Count(script, "dnat to"))
	assert.Equal(t, 2, strings.Count(script, "masquerade"))
	assert.Contains(t, script, `"web_tcp_dnat"`)
	assert.Contains(t, script, `"web_udp_snat"`)
	assert.Contains(t, script, "add table ip \"smart_forward\"")
}

func TestRender_ListenAddrWildcardOmitsDaddrMatch(t *testing.T) {
	script := render([]NATPair{{RuleName: "web", Protocol: "tcp", ListenAddr: "0.0.0.0", ListenPort: 80, TargetAddr: "10.0.0.1:80"}})
	assert.NotContains(t, script, "ip daddr 0.0.0.0")
}

func TestRender_SpecificListenAddrAddsDaddrMatch(t *testing.T) {
	script := render([]NATPair{{RuleName: "web", Protocol: "tcp", ListenAddr: "192.0.2.1", ListenPort: 80, TargetAddr: "10.0.0.1:80"}})
	assert.Contains(t, script, "ip daddr 192.0.2.1")
}

func TestNATPair_ID(t *testing.T) {
	p := NATPair{RuleName: "web", Protocol: "tcp"}
	assert.Equal(t, "web_tcp_dnat", p.ID("dnat"))
	assert.Equal(t, "web_tcp_snat", p.ID("snat"))
}

func TestIsIPv6Target(t *testing.T) {
	assert.False(t, IsIPv6Target("10.0.0.1:8080"))
	assert.False(t, IsIPv6Target("example.test:8080"))
	assert.True(t, IsIPv6Target("[2001:db8::1]:8080"))
	assert.True(t, IsIPv6Target("2001:db8::1"))
	assert.True(t, IsIPv6Target("fe80:0:0:0:0:0:0:1"))
}

func TestRender_IPv6PairGoesToSeparateTable(t *testing.T) {
	pairs := []NATPair{
		{RuleName: "web", Protocol: "tcp", ListenPort: 443, TargetAddr: "[2001:db8::1]:443"},
	}

	script := render(pairs)
	assert.Contains(t, script, `add table ip6 "smart_forward6"`)
	assert.Contains(t, script, "dnat to [2001:db8::1]:443")
	assert.NotContains(t, script, `add table ip "smart_forward"`)
}

func TestRender_MixedFamilyPairsSplitAcrossTables(t *testing.T) {
	pairs := []NATPair{
		{RuleName: "web", Protocol: "tcp", ListenPort: 443, TargetAddr: "10.0.0.1:443"},
		{RuleName: "web6", Protocol: "tcp", ListenPort: 443, TargetAddr: "[2001:db8::1]:443"},
	}

	script := render(pairs)
	assert.Contains(t, script, `add table ip "smart_forward"`)
	assert.Contains(t, script, `add table ip6 "smart_forward6"`)
}
