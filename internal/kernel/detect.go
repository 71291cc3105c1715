// Copyright (C) 2026 Ben Grimm. Licensed under AGPL-3.0 (https://www.gnu.org/licenses/agpl-3.0.txt)

package kernel

import (
	"os/exec"
	"runtime"

	"forwardkit.dev/smartforward/internal/errors"
	"forwardkit.dev/smartforward/internal/logging"
)

func lookPathNft() string {
	p, _ := exec.LookPath("nft")
	return p
}

func lookPathIptables() string {
	p, _ := exec.LookPath("iptables")
	return p
}

func lookPathPfctl() string {
	p, _ := exec.LookPath("pfctl")
	return p
}

// Detect picks the usable backend: prefer an nftables backend (the
// netlink-based NftablesBackend, falling back to the nft(8) CLI if netlink
// access is unavailable), then a legacy iptables chain-insertion backend.
// There is no pfctl backend: on macOS with pfctl present it returns a
// "not implemented" error. It returns a KindKernelApply error if no backend
// is usable; run treats that as fatal for an explicit --kernel-mode.
func Detect(logger *logging.Logger, preferred string) (Backend, error) {
	if logger == nil {
		logger = logging.New(logging.DefaultConfig())
	}

	switch preferred {
	case "nftables":
		return newNftablesOrScript(logger)
	case "iptables":
		if lookPathIptables() == "" {
			return nil, errors.New(errors.KindKernelApply, "kernel: iptables requested but binary not found")
		}
		return NewIptablesBackend(logger), nil
	case "", "auto":
		// fall through to auto-detection below
	default:
		return nil, errors.Errorf(errors.KindKernelApply, "kernel: unknown firewall backend %q", preferred)
	}

	if lookPathNft() != "" {
		return newNftablesOrScript(logger)
	}
	if lookPathIptables() != "" {
		return NewIptablesBackend(logger), nil
	}
	if runtime.GOOS == "darwin" && lookPathPfctl() != "" {
		return nil, errors.New(errors.KindKernelApply, "kernel: pfctl anchor backend is not implemented in this build")
	}
	return nil, errors.New(errors.KindKernelApply, "kernel: no usable firewall backend found")
}

func newNftablesOrScript(logger *logging.Logger) (Backend, error) {
	if b, err := NewNftablesBackend(logger); err == nil {
		return b, nil
	} else {
		logger.Warn("netlink nftables backend unavailable, falling back to nft(8) CLI", "error", err)
	}
	if lookPathNft() == "" {
		return nil, errors.New(errors.KindKernelApply, "kernel: nftables requested but neither netlink nor the nft binary is usable")
	}
	return NewScriptBackend(""), nil
}
