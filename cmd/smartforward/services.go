// Copyright (C) 2026 Ben Grimm. Licensed under AGPL-3.0 (https://www.gnu.org/licenses/agpl-3.0.txt)

package main

import (
	"context"
	"sync/atomic"

	"forwardkit.dev/smartforward/internal/config"
	"forwardkit.dev/smartforward/internal/forwarder"
	"forwardkit.dev/smartforward/internal/kernel"
	"forwardkit.dev/smartforward/internal/selection"
	"forwardkit.dev/smartforward/internal/services"
)

// These adapters let the Health & Selection Loop, the per-rule forwarders,
// and the kernel sync run under one services.Manager's
// register-then-start lifecycle. None of the three support a live config reload
// (a changed rule set requires a restart), so Reload always reports no
// restart and no error.

type selectionService struct {
	engine  *selection.Engine
	running atomic.Bool
	cancel  context.CancelFunc
	done    chan error
}

func newSelectionService(engine *selection.Engine) *selectionService {
	return &selectionService{engine: engine}
}

func (s *selectionService) Name() string { return "selection" }

func (s *selectionService) Reload(*config.Config) (bool, error) { return false, nil }

func (s *selectionService) Start(ctx context.Context) error {
	runCtx, cancel := context.WithCancel(ctx)
	s.cancel = cancel
	s.done = make(chan error, 1)
	s.running.Store(true)
	go func() { s.done <- s.engine.Run(runCtx) }()
	return nil
}

func (s *selectionService) Stop(context.Context) error {
	if s.cancel != nil {
		s.cancel()
	}
	s.running.Store(false)
	return nil
}

func (s *selectionService) Status() services.ServiceStatus {
	return services.ServiceStatus{Name: s.Name(), Running: s.running.Load()}
}

type forwarderService struct {
	name    string
	fwd     *forwarder.Unified
	running atomic.Bool
}

func newForwarderService(name string, fwd *forwarder.Unified) *forwarderService {
	return &forwarderService{name: name, fwd: fwd}
}

func (s *forwarderService) Name() string { return "forwarder." + s.name }

func (s *forwarderService) Reload(*config.Config) (bool, error) { return false, nil }

func (s *forwarderService) Start(ctx context.Context) error {
	if err := s.fwd.Start(ctx); err != nil {
		return err
	}
	s.running.Store(true)
	return nil
}

func (s *forwarderService) Stop(context.Context) error {
	s.fwd.Stop()
	s.running.Store(false)
	return nil
}

func (s *forwarderService) Status() services.ServiceStatus {
	return services.ServiceStatus{Name: s.Name(), Running: s.running.Load()}
}

type kernelSyncService struct {
	syncer  *kernel.Syncer
	events  <-chan selection.SwitchEvent
	running atomic.Bool
	cancel  context.CancelFunc
	done    chan error
}

func newKernelSyncService(syncer *kernel.Syncer, events <-chan selection.SwitchEvent) *kernelSyncService {
	return &kernelSyncService{syncer: syncer, events: events}
}

func (s *kernelSyncService) Name() string { return "kernel-sync" }

func (s *kernelSyncService) Reload(*config.Config) (bool, error) { return false, nil }

func (s *kernelSyncService) Start(ctx context.Context) error {
	runCtx, cancel := context.WithCancel(ctx)
	s.cancel = cancel
	s.done = make(chan error, 1)
	s.running.Store(true)
	go func() { s.done <- s.syncer.Run(runCtx, s.events) }()
	return nil
}

func (s *kernelSyncService) Stop(context.Context) error {
	if s.cancel != nil {
		s.cancel()
	}
	s.running.Store(false)
	return nil
}

func (s *kernelSyncService) Status() services.ServiceStatus {
	return services.ServiceStatus{Name: s.Name(), Running: s.running.Load()}
}
