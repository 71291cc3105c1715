// Copyright (C) 2026 Ben Grimm. Licensed under AGPL-3.0 (https://www.gnu.org/licenses/agpl-3.0.txt)

// Package resolver implements the target string grammar of the Target
// Resolution & Selection Engine: "ip:port" used verbatim, "host:port"
// resolved via A/AAAA, and bare "host" resolved via a TXT record carrying an
// embedded "ip:port" value. Resolution goes through an explicit DNS client
// against an operator-provided resolver list; the host stub resolver is
// never consulted, so behavior is reproducible across platforms.
package resolver

import (
	"context"
	"net"
	"strconv"
	"strings"
	"time"

	"github.com/miekg/dns"

	"forwardkit.dev/smartforward/internal/errors"
)

// Resolver resolves target strings using an explicit list of DNS servers.
type Resolver struct {
	servers  []string
	timeout  time.Duration
	attempts int
	client   *dns.Client
}

// New builds a Resolver. servers are "ip:port" resolver addresses queried in
// order; timeout bounds each individual exchange; attempts is how many
// servers are tried (in order) before giving up.
func New(servers []string, timeout time.Duration, attempts int) *Resolver {
	if timeout <= 0 {
		timeout = 2 * time.Second
	}
	if attempts <= 0 {
		attempts = 2
	}
	return &Resolver{
		servers:  servers,
		timeout:  timeout,
		attempts: attempts,
		client:   &dns.Client{Net: "udp", Timeout: timeout},
	}
}

// Resolve resolves target per the grammar and returns a "host:port" (or
// "[ipv6]:port") string ready to dial.
func (r *Resolver) Resolve(ctx context.Context, target string) (string, error) {
	host, port, err := net.SplitHostPort(target)
	if err != nil {
		// No colon at all: bare hostname, resolved via TXT.
		return r.resolveTXT(ctx, target)
	}

	if ip := net.ParseIP(host); ip != nil {
		// Already an IP:PORT literal; used verbatim.
		return target, nil
	}

	if _, err := strconv.Atoi(port); err != nil {
		return "", errors.Errorf(errors.KindResolve, "resolver: invalid port in target %q", target)
	}

	addr, err := r.resolveHost(ctx, host)
	if err != nil {
		return "", err
	}
	return net.JoinHostPort(addr, port), nil
}

// resolveHost performs an A lookup, preferring IPv4; if no A record answers,
// it falls back to AAAA.
func (r *Resolver) resolveHost(ctx context.Context, host string) (string, error) {
	if addr, err := r.lookup(ctx, host, dns.TypeA); err == nil {
		return addr, nil
	}
	if addr, err := r.lookup(ctx, host, dns.TypeAAAA); err == nil {
		return addr, nil
	}
	return "", errors.Errorf(errors.KindResolve, "resolver: no A/AAAA answer for %q", host)
}

func (r *Resolver) lookup(ctx context.Context, host string, qtype uint16) (string, error) {
	fqdn := dns.Fqdn(host)
	msg := new(dns.Msg)
	msg.SetQuestion(fqdn, qtype)
	msg.RecursionDesired = true

	reply, err := r.exchange(ctx, msg)
	if err != nil {
		return "", err
	}

	for _, ans := range reply.Answer {
		switch rec := ans.(type) {
		case *dns.A:
			return rec.A.String(), nil
		case *dns.AAAA:
			return rec.AAAA.String(), nil
		}
	}
	return "", errors.Errorf(errors.KindResolve, "resolver: empty answer for %q", host)
}

func (r *Resolver) resolveTXT(ctx context.Context, host string) (string, error) {
	fqdn := dns.Fqdn(host)
	msg := new(dns.Msg)
	msg.SetQuestion(fqdn, dns.TypeTXT)
	msg.RecursionDesired = true

	reply, err := r.exchange(ctx, msg)
	if err != nil {
		return "", err
	}

	for _, ans := range reply.Answer {
		txt, ok := ans.(*dns.TXT)
		if !ok {
			continue
		}
		candidate := strings.Join(txt.Txt, "")
		if addr, ok := parseIPPort(candidate); ok {
			return addr, nil
		}
	}
	return "", errors.Errorf(errors.KindResolve, "resolver: no TXT record of %q parses as ip:port", host)
}

func parseIPPort(s string) (string, bool) {
	host, port, err := net.SplitHostPort(strings.TrimSpace(s))
	if err != nil {
		return "", false
	}
	if net.ParseIP(host) == nil {
		return "", false
	}
	if _, err := strconv.Atoi(port); err != nil {
		return "", false
	}
	return net.JoinHostPort(host, port), true
}

// exchange tries each configured server in order, up to r.attempts total
// tries, returning the first non-error, non-empty-rcode reply.
func (r *Resolver) exchange(ctx context.Context, msg *dns.Msg) (*dns.Msg, error) {
	if len(r.servers) == 0 {
		return nil, errors.New(errors.KindResolve, "resolver: no DNS servers configured")
	}

	var lastErr error
	for i := 0; i < r.attempts; i++ {
		server := r.servers[i%len(r.servers)]

		reply, _, err := r.client.ExchangeContext(ctx, msg, server)
		if err != nil {
			lastErr = err
			continue
		}
		if reply.Rcode != dns.RcodeSuccess {
			lastErr = errors.Errorf(errors.KindResolve, "resolver: %s answered rcode %s", server, dns.RcodeToString[reply.Rcode])
			continue
		}
		return reply, nil
	}

	return nil, errors.Wrap(lastErr, errors.KindResolve, "resolver: exchange failed on all configured servers")
}
