// Copyright (C) 2026 Ben Grimm. Licensed under AGPL-3.0 (https://www.gnu.org/licenses/agpl-3.0.txt)

// Package kernel implements the Kernel-Offload Synchronizer: it
// renders the Rule Registry's current selections into DNAT (pre-routing)
// and masquerade/SNAT (post-routing) rules in a dedicated "smart_forward"
// table, and reconciles the live kernel ruleset to match on every switch
// event by a full flush-and-replay rather than a differential patch.
//
// Per the REDESIGN FLAGS, the synchronizer targets a closed, typed
// intermediate representation (NATPair) instead of building backend syntax
// directly from rule-registry state, and a Backend renders that IR however
// fits its transport (netlink for nftables, a text script for the nft(8)
// CLI fallback).
package kernel

import (
	"fmt"
	"strings"
)

// NATPair is the produced kernel rule pair for one (rule, protocol): a
// DNAT/SNAT pair sharing an id.
type NATPair struct {
	RuleName   string
	Protocol   string // "tcp" or "udp"
	ListenAddr string // "" or "0.0.0.0" means match any destination address
	ListenPort int
	TargetAddr string // resolved "host:port" currently selected
}

// ID returns the pair's identifier, `<name>_<proto>_dnat`/`_snat`.
func (p NATPair) ID(kind string) string {
	return fmt.Sprintf("%s_%s_%s", p.RuleName, p.Protocol, kind)
}

const (
	TableName = "smart_forward"
	// TableName6 is the IPv6 counterpart table; nftables requires a
	// single address family per table, so IPv4 and IPv6 NATPairs are
	// reconciled into separate tables rather than one mixed-family table.
	TableName6 = "smart_forward6"

	// DNATPriority and SNATPriority win against a typical OpenWrt
	// Firewall4 install's default DNAT@-100 / SNAT@100 hooks.
	DNATPriority = -150
	SNATPriority = 50
)

// IsIPv6Target reports whether an endpoint string (a NATPair.TargetAddr or
// ListenAddr) should be treated as IPv6, per §4.5's detection rule: it
// contains "::", is bracketed ("[...]"), or splits into more than two
// colon-separated tokens. A plain "host:port" or bare IPv4 literal has at
// most one colon and is treated as IPv4.
func IsIPv6Target(addr string) bool {
	if strings.Contains(addr, "::") {
		return true
	}
	if strings.HasPrefix(addr, "[") {
		return true
	}
	return strings.Count(addr, ":") > 1
}

// IsIPv6 reports whether this pair's target endpoint is IPv6.
func (p NATPair) IsIPv6() bool {
	return IsIPv6Target(p.TargetAddr)
}

// Backend applies a generation of NATPairs to the host's packet filter and
// tears its managed table down on shutdown.
type Backend interface {
	Name() string
	Reconcile(pairs []NATPair) error
	Teardown() error
}
