// Copyright (C) 2026 Ben Grimm. Licensed under AGPL-3.0 (https://www.gnu.org/licenses/agpl-3.0.txt)

package services

import (
	"context"
	"sync"
)

// Manager runs a fixed set of Services together, in a register-then-start
// shape.
type Manager struct {
	mu       sync.Mutex
	services []Service
}

// NewManager creates an empty Manager.
func NewManager() *Manager {
	return &Manager{}
}

// Register adds a service. Must be called before Start.
func (m *Manager) Register(svc Service) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.services = append(m.services, svc)
}

// Start starts every registered service, stopping any already-started
// service if one fails.
func (m *Manager) Start(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	started := make([]Service, 0, len(m.services))
	for _, svc := range m.services {
		if err := svc.Start(ctx); err != nil {
			for i := len(started) - 1; i >= 0; i-- {
				_ = started[i].Stop(ctx)
			}
			return err
		}
		started = append(started, svc)
	}
	return nil
}

// Stop stops every registered service in reverse registration order.
func (m *Manager) Stop(ctx context.Context) {
	m.mu.Lock()
	defer m.mu.Unlock()

	for i := len(m.services) - 1; i >= 0; i-- {
		_ = m.services[i].Stop(ctx)
	}
}

// Status returns every registered service's current status.
func (m *Manager) Status() []ServiceStatus {
	m.mu.Lock()
	defer m.mu.Unlock()

	out := make([]ServiceStatus, 0, len(m.services))
	for _, svc := range m.services {
		out = append(out, svc.Status())
	}
	return out
}
