// Copyright (C) 2026 Ben Grimm. Licensed under AGPL-3.0 (https://www.gnu.org/licenses/agpl-3.0.txt)

// Command smartforward is the smart-forward daemon: it loads a rule set,
// runs the Health & Selection Loop against it, and forwards traffic for
// every configured rule, either in user-space (per-connection forwarders)
// or kernel-offload mode (NAT rules synced to the selected target).
//
// It is built with the standard library flag package rather than a CLI framework, since the
// flag set is small and fixed.
package main

import (
	"context"
	"flag"
	"fmt"
	"io"
	"net"
	"os"
	"os/signal"
	"strconv"
	"syscall"

	"forwardkit.dev/smartforward/internal/config"
	"forwardkit.dev/smartforward/internal/errors"
	"forwardkit.dev/smartforward/internal/forwarder"
	"forwardkit.dev/smartforward/internal/httpapi"
	"forwardkit.dev/smartforward/internal/kernel"
	"forwardkit.dev/smartforward/internal/logging"
	"forwardkit.dev/smartforward/internal/metrics"
	"forwardkit.dev/smartforward/internal/netgate"
	"forwardkit.dev/smartforward/internal/registry"
	"forwardkit.dev/smartforward/internal/selection"
	"forwardkit.dev/smartforward/internal/services"
	"forwardkit.dev/smartforward/internal/store"
)

func main() {
	var (
		configPath     = flag.String("config", "/etc/smartforward/smartforward.hcl", "Path to config file (HCL or JSON)")
		daemon         = flag.Bool("daemon", false, "Fork into the background and run as a daemon")
		pidFile        = flag.String("pid-file", "", "Write the daemon's PID to this path (requires --daemon)")
		validateConfig = flag.Bool("validate-config", false, "Parse and validate the config file, then exit")
		kernelMode     = flag.Bool("kernel-mode", false, "Forward with kernel-offload NAT instead of user-space forwarders")
		userMode       = flag.Bool("user-mode", false, "Force user-space forwarding even if a kernel backend is available")
		firewallBack   = flag.String("firewall-backend", "auto", "Kernel backend to use: auto, nftables, or iptables")
	)
	flag.Parse()

	if *kernelMode && *userMode {
		fmt.Fprintln(os.Stderr, "smartforward: --kernel-mode and --user-mode are mutually exclusive")
		os.Exit(2)
	}

	cfg, err := config.LoadFile(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "smartforward: %v\n", err)
		os.Exit(1)
	}

	if *validateConfig {
		if *kernelMode {
			if err := validateKernelBackend(*firewallBack, cfg); err != nil {
				fmt.Fprintf(os.Stderr, "smartforward: %v\n", err)
				os.Exit(1)
			}
		}
		fmt.Println("smartforward: configuration is valid")
		return
	}

	if lvl := os.Getenv("SMARTFORWARD_LOG_LEVEL"); lvl != "" {
		cfg.Logging.Level = lvl
	}

	logOutput := io.Writer(os.Stderr)
	if sc := cfg.Logging.Syslog; sc != nil && sc.Enabled {
		w, err := logging.NewSyslogWriter(logging.SyslogConfig{
			Enabled:  sc.Enabled,
			Host:     sc.Host,
			Port:     sc.Port,
			Protocol: sc.Protocol,
			Tag:      sc.Tag,
		})
		if err != nil {
			fmt.Fprintf(os.Stderr, "smartforward: syslog unavailable, logging to stderr only: %v\n", err)
		} else {
			logOutput = io.MultiWriter(os.Stderr, w)
		}
	}

	logger := logging.New(logging.Config{
		Level:  cfg.Logging.Level,
		Format: cfg.Logging.Format,
		Output: logOutput,
	})
	logging.SetDefault(logger)

	if *daemon {
		if err := daemonize(*pidFile); err != nil {
			logger.Error("failed to daemonize", "error", err)
			os.Exit(1)
		}
	}

	if err := run(cfg, *kernelMode, *userMode, *firewallBack, logger); err != nil {
		logger.Error("smartforward exited with error", "error", err)
		os.Exit(1)
	}
}

// validateKernelBackend exercises Detect/Validate against the configured
// backend without applying anything, for --validate-config --kernel-mode.
func validateKernelBackend(preferred string, cfg *config.Config) error {
	logger := logging.New(logging.DefaultConfig())
	backend, err := kernel.Detect(logger, preferred)
	if err != nil {
		return err
	}
	sb, ok := backend.(*kernel.ScriptBackend)
	if !ok {
		return nil // nftables/iptables backends have no offline dry-run syntax check
	}
	return sb.Validate(nil)
}

func run(cfg *config.Config, kernelMode, userMode bool, firewallBackend string, logger *logging.Logger) error {
	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	st := store.New()
	reg := registry.New()
	engine := selection.New(cfg, st, reg, logger)

	gate := netgate.New(logger, netgate.DefaultProbeHosts, 0)
	gate.Start()
	defer gate.Stop()

	useKernel := kernelMode && !userMode
	var backend kernel.Backend
	if useKernel {
		var err error
		backend, err = kernel.Detect(logger, firewallBackend)
		if err != nil {
			return errors.Wrap(err, errors.KindKernelApply, "smartforward: kernel backend detection")
		}
		logger.Info("kernel-offload mode enabled", "backend", backend.Name())
	}

	listenAddr := "0.0.0.0"
	if len(cfg.Network.ListenAddrs) > 0 {
		listenAddr = cfg.Network.ListenAddrs[0]
	}

	forwarders := make(map[string]*forwarder.Unified)
	if !useKernel {
		for _, rule := range cfg.Rules {
			bufferSize := cfg.BufferSize
			if rule.BufferSize > 0 {
				bufferSize = rule.BufferSize
			}
			addr := net.JoinHostPort(listenAddr, strconv.Itoa(rule.ListenPort))
			forwarders[rule.Name] = forwarder.NewUnified(rule, addr, "", bufferSize, logger)
		}
	}

	// §4.4: a rule on 443 with none on 80 gets a free-standing HTTP->HTTPS
	// redirect listener on port 80. This runs even in kernel-offload mode —
	// the one user-space component kernel mode doesn't turn off, per the
	// spec's open question on side-by-side operation — and is skipped with a
	// warning if port 80 cannot be bound.
	var autoRedirect *forwarder.Http
	if cfg.WantsAutoHTTPRedirect() {
		addr := net.JoinHostPort(listenAddr, "80")
		autoRedirect = forwarder.NewHttp("auto-http-redirect", addr, logger)
		if err := autoRedirect.Start(ctx); err != nil {
			logger.Warn("auto http redirect listener unavailable", "addr", addr, "error", err)
			autoRedirect = nil
		} else {
			logger.Info("auto http redirect listener bound", "addr", addr)
			defer autoRedirect.Stop()
		}
	}

	collector := metrics.NewCollector(reg, gate, forwarders, logger)
	httpServer, err := httpapi.NewServer(cfg.MetricsAddr, cfg.ControlAddr, collector, reg, forwarders, logger)
	if err != nil {
		return errors.Wrap(err, errors.KindBind, "smartforward: build http surface")
	}

	mgr := services.NewManager()
	mgr.Register(newSelectionService(engine))
	if useKernel {
		syncer := kernel.NewSyncer(backend, reg, cfg.Rules, listenAddr, logger)
		mgr.Register(newKernelSyncService(syncer, engine.Events()))
	} else {
		for name, uf := range forwarders {
			mgr.Register(newForwarderService(name, uf))
		}
	}

	if err := mgr.Start(ctx); err != nil {
		return errors.Wrap(err, errors.KindBind, "smartforward: start services")
	}
	defer mgr.Stop(context.Background())

	errCh := make(chan error, 2)
	go collector.Run(ctx, 0)
	go func() { errCh <- httpServer.Run(ctx) }()

	if !useKernel {
		go relayTargetUpdates(ctx, engine, forwarders)
	}

	logger.Info("smartforward started", "rules", len(cfg.Rules), "kernel_mode", useKernel)

	select {
	case <-ctx.Done():
		logger.Info("shutting down")
		return nil
	case err := <-errCh:
		if err != nil && !errors.Is(err, context.Canceled) {
			return err
		}
		return nil
	}
}

// relayTargetUpdates forwards every switch event to the matching rule's
// user-space forwarder, so a failover takes effect on already-bound
// listeners without restarting them.
func relayTargetUpdates(ctx context.Context, engine *selection.Engine, forwarders map[string]*forwarder.Unified) {
	for {
		select {
		case <-ctx.Done():
			return
		case ev, ok := <-engine.Events():
			if !ok {
				return
			}
			if uf, ok := forwarders[ev.Rule]; ok {
				uf.UpdateTarget(ev.New)
			}
		}
	}
}

