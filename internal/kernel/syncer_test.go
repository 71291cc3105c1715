// Copyright (C) 2026 Ben Grimm. Licensed under AGPL-3.0 (https://www.gnu.org/licenses/agpl-3.0.txt)

package kernel

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"forwardkit.dev/smartforward/internal/config"
	"forwardkit.dev/smartforward/internal/registry"
	"forwardkit.dev/smartforward/internal/selection"
)

type fakeBackend struct {
	mu             sync.Mutex
	reconcileCalls int
	lastPairs      []NATPair
	tornDown       bool
}

func (f *fakeBackend) Name() string { return "fake" }

func (f *fakeBackend) Reconcile(pairs []NATPair) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.reconcileCalls++
	f.lastPairs = pairs
	return nil
}

func (f *fakeBackend) Teardown() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.tornDown = true
	return nil
}

func (f *fakeBackend) snapshot() (int, []NATPair) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.reconcileCalls, f.lastPairs
}

func TestSyncer_InitialReconcileSkipsRulesWithNoSelection(t *testing.T) {
	reg := registry.New()
	reg.Init("web")

	backend := &fakeBackend{}
	rules := []config.Rule{{Name: "web", ListenPort: 8080, Protocols: []string{"tcp"}}}
	syncer := NewSyncer(backend, reg, rules, "", nil)

	syncer.reconcile()

	calls, pairs := backend.snapshot()
	assert.Equal(t, 1, calls)
	assert.Empty(t, pairs)
}

func TestSyncer_BuildsOnePairPerNonHTTPProtocol(t *testing.T) {
	reg := registry.New()
	reg.Update("web", nil, "10.0.0.1:8080")

	backend := &fakeBackend{}
	rules := []config.Rule{{Name: "web", ListenPort: 8080, Protocols: []string{"tcp", "udp", "http"}}}
	syncer := NewSyncer(backend, reg, rules, "", nil)

	syncer.reconcile()

	_, pairs := backend.snapshot()
	require.Len(t, pairs, 2)
	for _, p := range pairs {
		assert.Equal(t, "10.0.0.1:8080", p.TargetAddr)
		assert.Contains(t, []string{"tcp", "udp"}, p.Protocol)
	}
}

func TestSyncer_ReconcilesOnSwitchEventAndTearsDownOnExit(t *testing.T) {
	reg := registry.New()
	reg.Update("web", nil, "10.0.0.1:8080")

	backend := &fakeBackend{}
	rules := []config.Rule{{Name: "web", ListenPort: 8080, Protocols: []string{"tcp"}}}
	syncer := NewSyncer(backend, reg, rules, "", nil)

	ctx, cancel := context.WithCancel(context.Background())
	events := make(chan selection.SwitchEvent, 1)

	done := make(chan error, 1)
	go func() { done <- syncer.Run(ctx, events) }()

	events <- selection.SwitchEvent{Rule: "web", Old: "10.0.0.1:8080", New: "10.0.0.2:8080"}
	time.Sleep(50 * time.Millisecond)
	cancel()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("syncer did not exit after cancel")
	}

	calls, _ := backend.snapshot()
	assert.GreaterOrEqual(t, calls, 2)
	backend.mu.Lock()
	assert.True(t, backend.tornDown)
	backend.mu.Unlock()
}
