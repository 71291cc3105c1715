// Copyright (C) 2026 Ben Grimm. Licensed under AGPL-3.0 (https://www.gnu.org/licenses/agpl-3.0.txt)

package probe

import (
	"context"
	"net"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestProbe_TCPSuccess(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	defer ln.Close()

	go func() {
		for {
			c, err := ln.Accept()
			if err != nil {
				return
			}
			c.Close()
		}
	}()

	_, err = Probe(context.Background(), nil, ProtocolTCP, ln.Addr().String(), time.Second)
	assert.NoError(t, err)
}

func TestProbe_TCPFailure(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	addr := ln.Addr().String()
	ln.Close()

	_, err = Probe(context.Background(), nil, ProtocolTCP, addr, 200*time.Millisecond)
	assert.Error(t, err)
}

func TestProbe_UDPOnlyAlwaysHealthy(t *testing.T) {
	_, err := Probe(context.Background(), nil, ProtocolUDPOnly, "203.0.113.1:9", time.Millisecond)
	assert.NoError(t, err)
}
