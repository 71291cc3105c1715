// Copyright (C) 2026 Ben Grimm. Licensed under AGPL-3.0 (https://www.gnu.org/licenses/agpl-3.0.txt)

package forwarder

import (
	"context"
	"io"
	"net"
	"sync"
	"time"

	"forwardkit.dev/smartforward/internal/errors"
	"forwardkit.dev/smartforward/internal/logging"
)

const tcpDialTimeout = 5 * time.Second

// Tcp accepts client connections on a fixed listen address and relays bytes
// to whichever target is currently selected for its rule.
// Connections already dialed to a prior target keep running after
// UpdateTarget swaps the pick.
type Tcp struct {
	counters

	name       string
	listenAddr string
	bufferSize int
	logger     *logging.Logger

	target   *targetBox
	listener net.Listener
	wg       sync.WaitGroup
	stopOnce sync.Once
	stopCh   chan struct{}
}

// NewTcp builds a Tcp forwarder bound to listenAddr, initially pointing at
// target.
func NewTcp(name, listenAddr, target string, bufferSize int, logger *logging.Logger) *Tcp {
	if logger == nil {
		logger = logging.New(logging.DefaultConfig())
	}
	if bufferSize <= 0 {
		bufferSize = 16384
	}
	return &Tcp{
		name:       name,
		listenAddr: listenAddr,
		bufferSize: bufferSize,
		logger:     logger.WithComponent("forwarder.tcp"),
		target:     newTargetBox(target),
		stopCh:     make(chan struct{}),
	}
}

func (t *Tcp) Kind() Kind   { return KindTCP }
func (t *Tcp) Name() string { return t.name }
func (t *Tcp) Stats() Stats { return t.snapshot() }

func (t *Tcp) UpdateTarget(addr string) {
	old := t.target.get()
	if old == addr {
		return
	}
	t.logger.Info("target updated", "rule", t.name, "old", old, "new", addr)
	t.target.set(addr)
}

// Start binds the listener and begins accepting connections in a background
// goroutine.
func (t *Tcp) Start(ctx context.Context) error {
	ln, err := net.Listen("tcp", t.listenAddr)
	if err != nil {
		return errors.Wrapf(err, errors.KindBind, "forwarder.tcp: listen %s", t.listenAddr)
	}
	t.listener = ln

	t.wg.Add(1)
	go t.acceptLoop(ctx)
	return nil
}

func (t *Tcp) Stop() {
	t.stopOnce.Do(func() {
		close(t.stopCh)
		if t.listener != nil {
			t.listener.Close()
		}
	})
	t.wg.Wait()
}

func (t *Tcp) acceptLoop(ctx context.Context) {
	defer t.wg.Done()
	for {
		conn, err := t.listener.Accept()
		if err != nil {
			select {
			case <-t.stopCh:
				return
			default:
				t.logger.Error("accept failed", "rule", t.name, "error", err)
				return
			}
		}
		t.connections.Add(1)
		t.wg.Add(1)
		go func() {
			defer t.wg.Done()
			t.handle(ctx, conn)
		}()
	}
}

func (t *Tcp) handle(ctx context.Context, client net.Conn) {
	defer client.Close()

	target := t.target.get()
	if target == "" {
		t.logger.Warn("no target selected, dropping connection", "rule", t.name)
		return
	}

	if tc, ok := client.(*net.TCPConn); ok {
		tc.SetNoDelay(true)
	}

	dialCtx, cancel := context.WithTimeout(ctx, tcpDialTimeout)
	defer cancel()

	upstream, err := (&net.Dialer{}).DialContext(dialCtx, "tcp", target)
	if err != nil {
		t.logger.Warn("dial upstream failed", "rule", t.name, "target", target, "error", err)
		return
	}
	defer upstream.Close()
	if tc, ok := upstream.(*net.TCPConn); ok {
		tc.SetNoDelay(true)
	}

	var wg sync.WaitGroup
	wg.Add(2)
	go func() {
		defer wg.Done()
		n, _ := io.Copy(upstream, client)
		t.bytesSent.Add(uint64(n))
		closeWrite(upstream)
	}()
	go func() {
		defer wg.Done()
		n, _ := io.Copy(client, upstream)
		t.bytesReceived.Add(uint64(n))
		closeWrite(client)
	}()
	wg.Wait()
}

// closeWrite half-closes conn's write side if it supports it, so the peer
// sees EOF without tearing down the other direction's in-flight copy.
func closeWrite(conn net.Conn) {
	type writeCloser interface {
		CloseWrite() error
	}
	if wc, ok := conn.(writeCloser); ok {
		wc.CloseWrite()
	}
}
