// Copyright (C) 2026 Ben Grimm. Licensed under AGPL-3.0 (https://www.gnu.org/licenses/agpl-3.0.txt)

package kernel

import (
	"os/exec"
	"strconv"

	"forwardkit.dev/smartforward/internal/errors"
	"forwardkit.dev/smartforward/internal/logging"
)

const (
	iptablesPreChain  = "SMART_FORWARD_PREROUTING"
	iptablesPostChain = "SMART_FORWARD_POSTROUTING"
)

// IptablesBackend implements the legacy-iptables NAT backend: precedence
// over the host's own NAT rules is achieved by inserting jumps
// to two dedicated custom chains at position 1 of the built-in PREROUTING
// and POSTROUTING chains, since classic iptables has no chain-priority
// concept to set directly. No Go iptables client library appears anywhere
// in the retrieved corpus, so this shells out to the `iptables` binary, the
// same mechanism the nftables script backend uses for `nft`.
//
// classic iptables is IPv4-only (ip6tables is a distinct binary with its own
// chains); an IPv6 pair is logged and skipped rather than silently handed to
// the IPv4-only tool, the same contained-skip this repo uses for the
// netlink nftables backend.
type IptablesBackend struct {
	logger *logging.Logger
}

// NewIptablesBackend builds an IptablesBackend.
func NewIptablesBackend(logger *logging.Logger) *IptablesBackend {
	if logger == nil {
		logger = logging.New(logging.DefaultConfig())
	}
	return &IptablesBackend{logger: logger.WithComponent("kernel.iptables")}
}

func (b *IptablesBackend) Name() string { return "iptables" }

func (b *IptablesBackend) Reconcile(pairs []NATPair) error {
	if err := b.ensureChains(); err != nil {
		return err
	}
	if err := run("iptables", "-t", "nat", "-F", iptablesPreChain); err != nil {
		return err
	}
	if err := run("iptables", "-t", "nat", "-F", iptablesPostChain); err != nil {
		return err
	}

	for _, p := range pairs {
		if p.IsIPv6() {
			b.logger.Warn("skipping ipv6 pair, iptables backend is ipv4-only", "rule", p.RuleName, "protocol", p.Protocol)
			continue
		}

		dnatArgs := []string{"-t", "nat", "-A", iptablesPreChain, "-p", p.Protocol}
		if p.ListenAddr != "" && p.ListenAddr != "0.0.0.0" {
			dnatArgs = append(dnatArgs, "-d", p.ListenAddr)
		}
		dnatArgs = append(dnatArgs, "--dport", strconv.Itoa(p.ListenPort), "-j", "DNAT", "--to-destination", p.TargetAddr)
		if err := run("iptables", dnatArgs...); err != nil {
			return err
		}
		if err := run("iptables", "-t", "nat", "-A", iptablesPostChain,
			"-p", p.Protocol, "-j", "MASQUERADE"); err != nil {
			return err
		}
	}
	return nil
}

// ensureChains creates the two custom chains if absent and makes sure each
// is jumped to from position 1 of its built-in chain, so it is evaluated
// before the host's own NAT rules.
func (b *IptablesBackend) ensureChains() error {
	_ = exec.Command("iptables", "-t", "nat", "-N", iptablesPreChain).Run()
	_ = exec.Command("iptables", "-t", "nat", "-N", iptablesPostChain).Run()

	if !b.jumpExists("PREROUTING", iptablesPreChain) {
		if err := run("iptables", "-t", "nat", "-I", "PREROUTING", "1", "-j", iptablesPreChain); err != nil {
			return err
		}
	}
	if !b.jumpExists("POSTROUTING", iptablesPostChain) {
		if err := run("iptables", "-t", "nat", "-I", "POSTROUTING", "1", "-j", iptablesPostChain); err != nil {
			return err
		}
	}
	return nil
}

func (b *IptablesBackend) jumpExists(builtin, target string) bool {
	return exec.Command("iptables", "-t", "nat", "-C", builtin, "-j", target).Run() == nil
}

// Teardown removes the jumps and flushes/deletes both custom chains.
func (b *IptablesBackend) Teardown() error {
	_ = exec.Command("iptables", "-t", "nat", "-D", "PREROUTING", "-j", iptablesPreChain).Run()
	_ = exec.Command("iptables", "-t", "nat", "-D", "POSTROUTING", "-j", iptablesPostChain).Run()
	_ = exec.Command("iptables", "-t", "nat", "-F", iptablesPreChain).Run()
	_ = exec.Command("iptables", "-t", "nat", "-F", iptablesPostChain).Run()
	_ = exec.Command("iptables", "-t", "nat", "-X", iptablesPreChain).Run()
	_ = exec.Command("iptables", "-t", "nat", "-X", iptablesPostChain).Run()
	return nil
}

func run(name string, args ...string) error {
	cmd := exec.Command(name, args...)
	output, err := cmd.CombinedOutput()
	if err != nil {
		return errors.Wrapf(err, errors.KindKernelApply, "kernel: %s %v failed: %s", name, args, string(output))
	}
	return nil
}
