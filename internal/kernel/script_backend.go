// Copyright (C) 2026 Ben Grimm. Licensed under AGPL-3.0 (https://www.gnu.org/licenses/agpl-3.0.txt)

package kernel

import (
	"fmt"
	"strings"
)

// ScriptBackend renders each reconciliation as an `nft -f` script and
// applies it through the nft(8) binary, guarded by a checkpoint/rollback so
// a bad generation never leaves the host mid-transition. This is the
// text-script path this repo has always used for nftables, kept for hosts
// or CI environments where netlink access isn't available but the `nft`
// binary is.
type ScriptBackend struct {
	rollback *rollbackManager
}

// NewScriptBackend builds a ScriptBackend. checkpointPath is where the
// pre-apply ruleset snapshot is kept for rollback.
func NewScriptBackend(checkpointPath string) *ScriptBackend {
	if checkpointPath == "" {
		checkpointPath = "/tmp/smartforward_rollback.nft"
	}
	return &ScriptBackend{rollback: newRollbackManager(checkpointPath)}
}

func (b *ScriptBackend) Name() string { return "nftables-script" }

// Reconcile renders pairs into a full table replay and applies it
// atomically, rolling back on failure.
func (b *ScriptBackend) Reconcile(pairs []NATPair) error {
	script := render(pairs)
	return b.rollback.safeApply(func() error {
		return applyScript(script)
	})
}

// Validate renders pairs and checks the script with `nft -c`, without
// applying it. Used by the CLI's --validate-config path.
func (b *ScriptBackend) Validate(pairs []NATPair) error {
	return validateScript(render(pairs))
}

// Teardown removes both managed tables. "add table" is idempotent (a no-op
// if the table already exists), so adding then deleting in the same
// transaction tears the table down whether or not an IPv6 generation was
// ever reconciled, without a separate "does it exist" check.
func (b *ScriptBackend) Teardown() error {
	script := fmt.Sprintf(
		"add table ip %s\ndelete table ip %s\nadd table ip6 %s\ndelete table ip6 %s\n",
		quote(TableName), quote(TableName), quote(TableName6), quote(TableName6))
	return applyScript(script)
}

// render builds the nft script for one reconciliation generation. nftables
// requires a single address family per table, so pairs are split by
// NATPair.IsIPv6 into the "ip" family table (TableName) and the "ip6"
// family table (TableName6). The ip table is emitted whenever there are
// IPv4 pairs or no IPv6 pairs (so an empty generation flushes it); the ip6
// table only when there are IPv6 pairs. A table that is not emitted is left
// as it is in the kernel.
func render(pairs []NATPair) string {
	var v4, v6 []NATPair
	for _, p := range pairs {
		if p.IsIPv6() {
			v6 = append(v6, p)
		} else {
			v4 = append(v4, p)
		}
	}

	var script strings.Builder
	if len(v4) > 0 || len(v6) == 0 {
		script.WriteString(renderFamily(TableName, "ip", v4))
	}
	if len(v6) > 0 {
		script.WriteString(renderFamily(TableName6, "ip6", v6))
	}
	return script.String()
}

func renderFamily(tableName, family string, pairs []NATPair) string {
	sb := newScriptBuilder(tableName, family)
	sb.addChain("prerouting", "nat", "prerouting", DNATPriority, "accept")
	sb.addChain("postrouting", "nat", "postrouting", SNATPriority, "accept")

	daddrKeyword := "ip daddr"
	if family == "ip6" {
		daddrKeyword = "ip6 daddr"
	}

	for _, p := range pairs {
		daddrMatch := ""
		if p.ListenAddr != "" && p.ListenAddr != "0.0.0.0" {
			daddrMatch = fmt.Sprintf("%s %s ", daddrKeyword, p.ListenAddr)
		}
		match := fmt.Sprintf("%smeta l4proto %s %s dport %d", daddrMatch, p.Protocol, p.Protocol, p.ListenPort)
		sb.addRule("prerouting", fmt.Sprintf("%s dnat to %s", match, p.TargetAddr), p.ID("dnat"))
		sb.addRule("postrouting", fmt.Sprintf("meta l4proto %s masquerade", p.Protocol), p.ID("snat"))
	}

	return sb.build()
}

// available reports whether the nft(8) binary can be used on this host.
func available() bool {
	return strings.TrimSpace(lookPathNft()) != ""
}
