// Copyright (C) 2026 Ben Grimm. Licensed under AGPL-3.0 (https://www.gnu.org/licenses/agpl-3.0.txt)

package kernel

import (
	"github.com/vishvananda/netlink"

	"forwardkit.dev/smartforward/internal/errors"
)

// EgressInterfaces returns every non-loopback interface the host could
// masquerade traffic out of. NewSyncer logs the list as a startup
// diagnostic; the masquerade rules the backends produce match on protocol
// only and do not exclude the loopback interface.
func EgressInterfaces() ([]string, error) {
	links, err := netlink.LinkList()
	if err != nil {
		return nil, errors.Wrap(err, errors.KindKernelApply, "kernel: list network links")
	}

	var names []string
	for _, link := range links {
		attrs := link.Attrs()
		if attrs.Flags&netlink.FlagLoopback != 0 {
			continue
		}
		if attrs.Name == "lo" {
			continue
		}
		names = append(names, attrs.Name)
	}
	return names, nil
}

// HasIPv6 reports whether any interface carries a global unicast IPv6
// address. No backend consults it: ip6 NAT coverage follows from each
// NATPair's target address (NATPair.IsIPv6).
func HasIPv6() (bool, error) {
	links, err := netlink.LinkList()
	if err != nil {
		return false, errors.Wrap(err, errors.KindKernelApply, "kernel: list network links")
	}

	for _, link := range links {
		addrs, err := netlink.AddrList(link, netlink.FAMILY_V6)
		if err != nil {
			continue
		}
		for _, a := range addrs {
			if a.IP.IsGlobalUnicast() {
				return true, nil
			}
		}
	}
	return false, nil
}
