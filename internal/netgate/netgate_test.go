// Copyright (C) 2026 Ben Grimm. Licensed under AGPL-3.0 (https://www.gnu.org/licenses/agpl-3.0.txt)

package netgate

import (
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func withPingFunc(t *testing.T, f func(string) (time.Duration, error)) {
	t.Helper()
	orig := PingFunc
	PingFunc = f
	t.Cleanup(func() { PingFunc = orig })
}

func TestGate_ReachableWhenAnyHostAnswers(t *testing.T) {
	withPingFunc(t, func(host string) (time.Duration, error) {
		if host == "203.0.113.1" {
			return 0, fmt.Errorf("no reply")
		}
		return time.Millisecond, nil
	})

	g := New(nil, []string{"203.0.113.1", "8.8.8.8"}, time.Hour)
	g.check()
	assert.True(t, g.Reachable())
}

func TestGate_UnreachableWhenAllHostsFail(t *testing.T) {
	withPingFunc(t, func(host string) (time.Duration, error) {
		return 0, fmt.Errorf("no reply")
	})

	g := New(nil, []string{"203.0.113.1"}, time.Hour)
	g.check()
	status := g.Snapshot()
	assert.False(t, status.Reachable)
	assert.NotEmpty(t, status.Error)
}

func TestGate_DefaultsApplied(t *testing.T) {
	g := New(nil, nil, 0)
	assert.Equal(t, DefaultProbeHosts, g.hosts)
	assert.Equal(t, defaultInterval, g.interval)
}
