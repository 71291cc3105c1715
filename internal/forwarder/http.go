// Copyright (C) 2026 Ben Grimm. Licensed under AGPL-3.0 (https://www.gnu.org/licenses/agpl-3.0.txt)

package forwarder

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"net"
	"strings"
	"sync"
	"time"

	"forwardkit.dev/smartforward/internal/errors"
	"forwardkit.dev/smartforward/internal/logging"
)

const (
	httpRequestBufferSize = 4096
	httpReadTimeout       = 5 * time.Second
)

// Http answers every request on its listen address with a 301 redirect to
// the same host and path over https. It never forwards a
// request body and never dials a target; UpdateTarget is a no-op.
type Http struct {
	counters

	name       string
	listenAddr string
	logger     *logging.Logger

	listener net.Listener
	wg       sync.WaitGroup
	stopOnce sync.Once
	stopCh   chan struct{}
}

// NewHttp builds an Http redirect responder bound to listenAddr.
func NewHttp(name, listenAddr string, logger *logging.Logger) *Http {
	if logger == nil {
		logger = logging.New(logging.DefaultConfig())
	}
	return &Http{
		name:       name,
		listenAddr: listenAddr,
		logger:     logger.WithComponent("forwarder.http"),
		stopCh:     make(chan struct{}),
	}
}

func (h *Http) Kind() Kind          { return KindHTTP }
func (h *Http) Name() string        { return h.name }
func (h *Http) Stats() Stats        { return h.snapshot() }
func (h *Http) UpdateTarget(string) {}

func (h *Http) Start(ctx context.Context) error {
	ln, err := net.Listen("tcp", h.listenAddr)
	if err != nil {
		return errors.Wrapf(err, errors.KindBind, "forwarder.http: listen %s", h.listenAddr)
	}
	h.listener = ln

	h.wg.Add(1)
	go h.acceptLoop()
	return nil
}

func (h *Http) Stop() {
	h.stopOnce.Do(func() {
		close(h.stopCh)
		if h.listener != nil {
			h.listener.Close()
		}
	})
	h.wg.Wait()
}

func (h *Http) acceptLoop() {
	defer h.wg.Done()
	for {
		conn, err := h.listener.Accept()
		if err != nil {
			select {
			case <-h.stopCh:
				return
			default:
				h.logger.Error("accept failed", "rule", h.name, "error", err)
				return
			}
		}
		h.connections.Add(1)
		h.wg.Add(1)
		go func() {
			defer h.wg.Done()
			h.handle(conn)
		}()
	}
}

func (h *Http) handle(conn net.Conn) {
	defer conn.Close()
	conn.SetReadDeadline(time.Now().Add(httpReadTimeout))

	reqLine, host, err := readRequestLine(conn)
	if err != nil {
		return
	}

	parts := strings.Fields(reqLine)
	if len(parts) < 2 {
		return
	}
	path := parts[1]
	if path == "/" {
		path = ""
	}
	if host == "" {
		host = "localhost"
	}

	location := fmt.Sprintf("https://%s%s", host, path)
	response := fmt.Sprintf(
		"HTTP/1.1 301 Moved Permanently\r\nLocation: %s\r\nConnection: close\r\nContent-Length: 0\r\n\r\n",
		location)

	n, _ := conn.Write([]byte(response))
	h.bytesSent.Add(uint64(n))
}

// readRequestLine reads up to httpRequestBufferSize bytes and extracts the
// request line and Host header, without consuming any request body.
func readRequestLine(conn net.Conn) (requestLine, host string, err error) {
	r := bufio.NewReaderSize(io.LimitReader(conn, httpRequestBufferSize), httpRequestBufferSize)

	requestLine, err = r.ReadString('\n')
	if err != nil {
		return "", "", err
	}
	requestLine = strings.TrimSpace(requestLine)

	for {
		line, err := r.ReadString('\n')
		if err != nil {
			break
		}
		line = strings.TrimSpace(line)
		if line == "" {
			break
		}
		if strings.HasPrefix(strings.ToLower(line), "host:") {
			host = strings.TrimSpace(line[len("host:"):])
		}
	}
	return requestLine, host, nil
}
