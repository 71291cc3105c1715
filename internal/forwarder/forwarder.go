// Copyright (C) 2026 Ben Grimm. Licensed under AGPL-3.0 (https://www.gnu.org/licenses/agpl-3.0.txt)

// Package forwarder implements the per-rule data plane: TCP connect-and-copy
// forwarding, UDP session demultiplexing, the HTTP-to-HTTPS
// redirect responder, and the composite forwarder a rule with
// multiple protocols runs.
//
// Per the REDESIGN FLAGS, Forwarder is a closed sum type over exactly the
// three supported kinds rather than a runtime-type-asserted interface: a
// caller switches on Kind() instead of type-asserting toward an unknown set
// of implementations.
package forwarder

import (
	"context"
	"sync/atomic"
)

// Kind identifies which concrete forwarder a Forwarder value is.
type Kind int

const (
	KindTCP Kind = iota
	KindUDP
	KindHTTP
)

func (k Kind) String() string {
	switch k {
	case KindTCP:
		return "tcp"
	case KindUDP:
		return "udp"
	case KindHTTP:
		return "http"
	default:
		return "unknown"
	}
}

// Forwarder is implemented by exactly Tcp, Udp, and Http. Start must be
// called once; Stop is idempotent; UpdateTarget may be called concurrently
// with a running forwarder and takes effect for connections/datagrams
// accepted after it returns.
type Forwarder interface {
	Kind() Kind
	Name() string
	Start(ctx context.Context) error
	Stop()
	UpdateTarget(addr string)
	Stats() Stats
}

// Stats is the uniform counter set every forwarder exposes, mirroring the
// connection accounting this repo has always kept per listener.
type Stats struct {
	Connections   uint64
	BytesSent     uint64
	BytesReceived uint64
}

// counters is the shared atomic accounting embedded by each concrete
// forwarder.
type counters struct {
	connections   atomic.Uint64
	bytesSent     atomic.Uint64
	bytesReceived atomic.Uint64
}

func (c *counters) snapshot() Stats {
	return Stats{
		Connections:   c.connections.Load(),
		BytesSent:     c.bytesSent.Load(),
		BytesReceived: c.bytesReceived.Load(),
	}
}

// targetBox holds a forwarder's currently selected target, swappable
// without synchronizing with in-flight connections: a connection already
// dialed to the old target keeps running to completion.
type targetBox struct {
	v atomic.Pointer[string]
}

func newTargetBox(initial string) *targetBox {
	b := &targetBox{}
	b.set(initial)
	return b
}

func (b *targetBox) set(addr string) {
	b.v.Store(&addr)
}

func (b *targetBox) get() string {
	p := b.v.Load()
	if p == nil {
		return ""
	}
	return *p
}
