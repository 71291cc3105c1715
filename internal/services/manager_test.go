// Copyright (C) 2026 Ben Grimm. Licensed under AGPL-3.0 (https://www.gnu.org/licenses/agpl-3.0.txt)

package services

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"forwardkit.dev/smartforward/internal/config"
)

type fakeService struct {
	name      string
	startErr  error
	started   bool
	stopped   bool
	startedAt int
	stopLog   *[]string
}

func (f *fakeService) Name() string { return f.name }

func (f *fakeService) Reload(*config.Config) (bool, error) { return false, nil }

func (f *fakeService) Status() ServiceStatus {
	return ServiceStatus{Name: f.name, Running: f.started && !f.stopped}
}

func (f *fakeService) Start(context.Context) error {
	if f.startErr != nil {
		return f.startErr
	}
	f.started = true
	return nil
}

func (f *fakeService) Stop(context.Context) error {
	f.stopped = true
	if f.stopLog != nil {
		*f.stopLog = append(*f.stopLog, f.name)
	}
	return nil
}

func TestManager_StartsAllRegisteredServices(t *testing.T) {
	a := &fakeService{name: "a"}
	b := &fakeService{name: "b"}

	mgr := NewManager()
	mgr.Register(a)
	mgr.Register(b)

	require.NoError(t, mgr.Start(context.Background()))
	assert.True(t, a.started)
	assert.True(t, b.started)
}

func TestManager_StopRollsBackAlreadyStartedServicesOnFailure(t *testing.T) {
	a := &fakeService{name: "a"}
	failing := &fakeService{name: "b", startErr: errors.New("boom")}

	mgr := NewManager()
	mgr.Register(a)
	mgr.Register(failing)

	err := mgr.Start(context.Background())
	require.Error(t, err)
	assert.True(t, a.started)
	assert.True(t, a.stopped, "already-started service should be rolled back")
}

func TestManager_StopStopsEveryServiceInReverseOrder(t *testing.T) {
	var order []string
	a := &fakeService{name: "a", stopLog: &order}
	b := &fakeService{name: "b", stopLog: &order}

	mgr := NewManager()
	mgr.Register(a)
	mgr.Register(b)

	require.NoError(t, mgr.Start(context.Background()))
	mgr.Stop(context.Background())

	assert.True(t, a.stopped)
	assert.True(t, b.stopped)
	assert.Equal(t, []string{"b", "a"}, order)
}

func TestManager_StatusAggregatesEveryService(t *testing.T) {
	a := &fakeService{name: "a"}
	b := &fakeService{name: "b"}

	mgr := NewManager()
	mgr.Register(a)
	mgr.Register(b)
	require.NoError(t, mgr.Start(context.Background()))

	statuses := mgr.Status()
	require.Len(t, statuses, 2)
	assert.Equal(t, "a", statuses[0].Name)
	assert.True(t, statuses[0].Running)
	assert.Equal(t, "b", statuses[1].Name)
	assert.True(t, statuses[1].Running)
}
