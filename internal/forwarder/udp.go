// Copyright (C) 2026 Ben Grimm. Licensed under AGPL-3.0 (https://www.gnu.org/licenses/agpl-3.0.txt)

package forwarder

import (
	"context"
	"net"
	"sync"
	"sync/atomic"
	"time"

	"forwardkit.dev/smartforward/internal/errors"
	"forwardkit.dev/smartforward/internal/logging"
)

// atomicTime is a lock-free last-activity timestamp shared between a
// session's forward-path, reply-path, and GC goroutines.
type atomicTime struct {
	v atomic.Pointer[time.Time]
}

func (a *atomicTime) store(t time.Time) { a.v.Store(&t) }

func (a *atomicTime) load() time.Time {
	p := a.v.Load()
	if p == nil {
		return time.Time{}
	}
	return *p
}

const (
	udpSessionIdleTTL  = 60 * time.Second
	udpSessionGCPeriod = 30 * time.Second
	udpReplyBufferSize = 4096
)

// udpSession tracks one client's dedicated upstream socket: every
// client gets its own upstream source port so replies demultiplex cleanly
// even when many clients share one target.
type udpSession struct {
	client   net.Addr
	upstream *net.UDPConn
	target   string
	lastSeen atomicTime
}

// Udp listens on a fixed UDP address and relays datagrams to the currently
// selected target, maintaining one upstream socket per client source
// address and reaping idle sessions.
type Udp struct {
	counters

	name       string
	listenAddr string
	bufferSize int
	logger     *logging.Logger

	target *targetBox
	conn   *net.UDPConn

	mu       sync.Mutex
	sessions map[string]*udpSession

	wg       sync.WaitGroup
	stopOnce sync.Once
	stopCh   chan struct{}
}

// NewUdp builds a Udp forwarder bound to listenAddr, initially pointing at
// target.
func NewUdp(name, listenAddr, target string, bufferSize int, logger *logging.Logger) *Udp {
	if logger == nil {
		logger = logging.New(logging.DefaultConfig())
	}
	if bufferSize <= 0 {
		bufferSize = 16384
	}
	return &Udp{
		name:       name,
		listenAddr: listenAddr,
		bufferSize: bufferSize,
		logger:     logger.WithComponent("forwarder.udp"),
		target:     newTargetBox(target),
		sessions:   make(map[string]*udpSession),
		stopCh:     make(chan struct{}),
	}
}

func (u *Udp) Kind() Kind   { return KindUDP }
func (u *Udp) Name() string { return u.name }
func (u *Udp) Stats() Stats { return u.snapshot() }

// SessionCount returns the number of active client sessions, exposed as a
// gauge on the metrics surface.
func (u *Udp) SessionCount() int {
	u.mu.Lock()
	defer u.mu.Unlock()
	return len(u.sessions)
}

func (u *Udp) UpdateTarget(addr string) {
	old := u.target.get()
	if old == addr {
		return
	}
	u.logger.Info("target updated", "rule", u.name, "old", old, "new", addr)
	u.target.set(addr)
}

func (u *Udp) Start(ctx context.Context) error {
	addr, err := net.ResolveUDPAddr("udp", u.listenAddr)
	if err != nil {
		return errors.Wrapf(err, errors.KindBind, "forwarder.udp: resolve %s", u.listenAddr)
	}
	conn, err := net.ListenUDP("udp", addr)
	if err != nil {
		return errors.Wrapf(err, errors.KindBind, "forwarder.udp: listen %s", u.listenAddr)
	}
	u.conn = conn

	u.wg.Add(2)
	go u.receiveLoop()
	go u.gcLoop()
	return nil
}

func (u *Udp) Stop() {
	u.stopOnce.Do(func() {
		close(u.stopCh)
		if u.conn != nil {
			u.conn.Close()
		}
	})
	u.wg.Wait()

	u.mu.Lock()
	for key, sess := range u.sessions {
		sess.upstream.Close()
		delete(u.sessions, key)
	}
	u.mu.Unlock()
}

func (u *Udp) receiveLoop() {
	defer u.wg.Done()
	buf := make([]byte, u.bufferSize)

	for {
		n, clientAddr, err := u.conn.ReadFromUDP(buf)
		if err != nil {
			select {
			case <-u.stopCh:
				return
			default:
				u.logger.Debug("udp read failed", "rule", u.name, "error", err)
				continue
			}
		}
		u.bytesReceived.Add(uint64(n))

		sess, err := u.sessionFor(clientAddr)
		if err != nil {
			u.logger.Warn("no target selected, dropping datagram", "rule", u.name)
			continue
		}

		if _, err := sess.upstream.Write(buf[:n]); err != nil {
			u.logger.Debug("udp write to upstream failed", "rule", u.name, "target", sess.target, "error", err)
			continue
		}
		sess.lastSeen.store(time.Now())
	}
}

// sessionFor returns the client's session, dialing a fresh upstream socket
// if this is a new client or the selected target changed since the
// session's upstream was dialed.
func (u *Udp) sessionFor(clientAddr *net.UDPAddr) (*udpSession, error) {
	target := u.target.get()
	if target == "" {
		return nil, errors.New(errors.KindDial, "forwarder.udp: no target selected")
	}

	key := clientAddr.String()

	u.mu.Lock()
	sess, ok := u.sessions[key]
	if ok && sess.target == target {
		u.mu.Unlock()
		return sess, nil
	}
	u.mu.Unlock()

	targetAddr, err := net.ResolveUDPAddr("udp", target)
	if err != nil {
		return nil, errors.Wrapf(err, errors.KindDial, "forwarder.udp: resolve target %s", target)
	}
	upstream, err := net.DialUDP("udp", nil, targetAddr)
	if err != nil {
		return nil, errors.Wrapf(err, errors.KindDial, "forwarder.udp: dial upstream %s", target)
	}

	if ok {
		sess.upstream.Close()
	} else {
		u.connections.Add(1)
	}

	sess = &udpSession{client: clientAddr, upstream: upstream, target: target}
	sess.lastSeen.store(time.Now())

	u.mu.Lock()
	u.sessions[key] = sess
	u.mu.Unlock()

	u.wg.Add(1)
	go u.replyLoop(sess, clientAddr)
	return sess, nil
}

// replyLoop reads the upstream's responses and relays them back to the
// originating client, independent of the forward-path goroutine.
func (u *Udp) replyLoop(sess *udpSession, clientAddr *net.UDPAddr) {
	defer u.wg.Done()
	buf := make([]byte, udpReplyBufferSize)

	for {
		sess.upstream.SetReadDeadline(time.Now().Add(udpSessionIdleTTL))
		n, err := sess.upstream.Read(buf)
		if err != nil {
			return
		}
		if n == 0 {
			continue
		}
		if _, err := u.conn.WriteToUDP(buf[:n], clientAddr); err != nil {
			u.logger.Debug("udp reply write failed", "rule", u.name, "error", err)
			continue
		}
		u.bytesSent.Add(uint64(n))
		sess.lastSeen.store(time.Now())
	}
}

// gcLoop reaps sessions idle for longer than udpSessionIdleTTL.
func (u *Udp) gcLoop() {
	defer u.wg.Done()
	ticker := time.NewTicker(udpSessionGCPeriod)
	defer ticker.Stop()

	for {
		select {
		case <-u.stopCh:
			return
		case <-ticker.C:
			u.reapIdle()
		}
	}
}

func (u *Udp) reapIdle() {
	now := time.Now()
	u.mu.Lock()
	defer u.mu.Unlock()
	for key, sess := range u.sessions {
		if now.Sub(sess.lastSeen.load()) > udpSessionIdleTTL {
			sess.upstream.Close()
			delete(u.sessions, key)
		}
	}
}
