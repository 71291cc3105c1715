// Copyright (C) 2026 Ben Grimm. Licensed under AGPL-3.0 (https://www.gnu.org/licenses/agpl-3.0.txt)

package forwarder

import (
	"context"
	"net"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func udpEchoServer(t *testing.T) *net.UDPConn {
	t.Helper()
	addr, err := net.ResolveUDPAddr("udp", "127.0.0.1:0")
	require.NoError(t, err)
	conn, err := net.ListenUDP("udp", addr)
	require.NoError(t, err)

	go func() {
		buf := make([]byte, 4096)
		for {
			n, from, err := conn.ReadFromUDP(buf)
			if err != nil {
				return
			}
			conn.WriteToUDP(buf[:n], from)
		}
	}()
	t.Cleanup(func() { conn.Close() })
	return conn
}

func TestUdp_RelaysDatagramRoundTrip(t *testing.T) {
	upstream := udpEchoServer(t)

	fwd := NewUdp("dns", "127.0.0.1:0", upstream.LocalAddr().String(), 4096, nil)
	require.NoError(t, fwd.Start(context.Background()))
	defer fwd.Stop()

	client, err := net.Dial("udp", fwd.conn.LocalAddr().String())
	require.NoError(t, err)
	defer client.Close()

	_, err = client.Write([]byte("query"))
	require.NoError(t, err)

	client.SetReadDeadline(time.Now().Add(2 * time.Second))
	buf := make([]byte, 16)
	n, err := client.Read(buf)
	require.NoError(t, err)
	assert.Equal(t, "query", string(buf[:n]))
}

func TestUdp_NoTargetDropsDatagram(t *testing.T) {
	fwd := NewUdp("dns", "127.0.0.1:0", "", 4096, nil)
	require.NoError(t, fwd.Start(context.Background()))
	defer fwd.Stop()

	_, err := fwd.sessionFor(&net.UDPAddr{IP: net.ParseIP("127.0.0.1"), Port: 12345})
	assert.Error(t, err)
}
