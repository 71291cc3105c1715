// Copyright (C) 2026 Ben Grimm. Licensed under AGPL-3.0 (https://www.gnu.org/licenses/agpl-3.0.txt)

package resolver

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestResolve_LiteralIPPort(t *testing.T) {
	r := New(nil, time.Second, 1)
	addr, err := r.Resolve(context.Background(), "10.0.0.1:8080")
	require.NoError(t, err)
	assert.Equal(t, "10.0.0.1:8080", addr)
}

func TestResolve_LiteralIPv6Port(t *testing.T) {
	r := New(nil, time.Second, 1)
	addr, err := r.Resolve(context.Background(), "[::1]:8080")
	require.NoError(t, err)
	assert.Equal(t, "[::1]:8080", addr)
}

func TestResolve_InvalidPort(t *testing.T) {
	r := New([]string{"223.5.5.5:53"}, time.Second, 1)
	_, err := r.Resolve(context.Background(), "example.test:notaport")
	require.Error(t, err)
}

func TestParseIPPort(t *testing.T) {
	addr, ok := parseIPPort("192.0.2.9:53")
	assert.True(t, ok)
	assert.Equal(t, "192.0.2.9:53", addr)

	_, ok = parseIPPort("not-an-ip:53")
	assert.False(t, ok)

	_, ok = parseIPPort("192.0.2.9")
	assert.False(t, ok)
}

func TestResolve_NoServersConfigured(t *testing.T) {
	r := New(nil, time.Second, 1)
	_, err := r.Resolve(context.Background(), "example.test:80")
	require.Error(t, err)
}
