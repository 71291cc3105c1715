// Copyright (C) 2026 Ben Grimm. Licensed under AGPL-3.0 (https://www.gnu.org/licenses/agpl-3.0.txt)

package forwarder

import (
	"bufio"
	"context"
	"net"
	"net/http"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestHttp_RedirectsToHttps(t *testing.T) {
	fwd := NewHttp("web", "127.0.0.1:0", nil)
	require.NoError(t, fwd.Start(context.Background()))
	defer fwd.Stop()

	conn, err := net.Dial("tcp", fwd.listener.Addr().String())
	require.NoError(t, err)
	defer conn.Close()

	_, err = conn.Write([]byte("GET /path HTTP/1.1\r\nHost: example.test\r\n\r\n"))
	require.NoError(t, err)

	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	resp, err := http.ReadResponse(bufio.NewReader(conn), nil)
	require.NoError(t, err)
	defer resp.Body.Close()

	assert.Equal(t, 301, resp.StatusCode)
	assert.Equal(t, "https://example.test/path", resp.Header.Get("Location"))
	assert.True(t, strings.Contains(resp.Header.Get("Connection"), "close"))
	assert.Equal(t, "0", resp.Header.Get("Content-Length"))
}

func TestHttp_RootPathOmittedFromLocation(t *testing.T) {
	fwd := NewHttp("web", "127.0.0.1:0", nil)
	require.NoError(t, fwd.Start(context.Background()))
	defer fwd.Stop()

	conn, err := net.Dial("tcp", fwd.listener.Addr().String())
	require.NoError(t, err)
	defer conn.Close()

	_, err = conn.Write([]byte("GET / HTTP/1.1\r\nHost: example.test\r\n\r\n"))
	require.NoError(t, err)

	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	resp, err := http.ReadResponse(bufio.NewReader(conn), nil)
	require.NoError(t, err)
	defer resp.Body.Close()

	assert.Equal(t, "https://example.test", resp.Header.Get("Location"))
}
