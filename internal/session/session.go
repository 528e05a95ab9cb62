// Package session implements the per-tracker session (probe/send/token
// refresh), the query responder, the answer ingester, and the push
// subsystem — spec §4.3-§4.5 and §4.7.
package session

import (
	"context"
	"fmt"
	"net"
	"strconv"

	"github.com/miekg/dns"

	"github.com/quietsignal/dnsdisco/internal/secret"
	"github.com/quietsignal/dnsdisco/internal/store"
	"github.com/quietsignal/dnsdisco/internal/wire"
)

// Kind identifies which of the three TXT additionals shapes a Send call
// builds (spec §4.3: "type 1 lookup, type 2 announce, type 3 unannounce").
type Kind int

const (
	KindLookup Kind = iota + 1
	KindAnnounce
	KindUnannounce
)

// Transport is the subset of the unicast transport a Session needs.
type Transport interface {
	Query(ctx context.Context, msg *dns.Msg, host net.IP, port int, retries int) (*dns.Msg, net.IP, int, error)
}

// Session drives the probe/send/probe_and_send protocol against one
// configured tracker (spec §4.3).
type Session struct {
	Index   int
	Tracker *store.TrackerRecord
	Tokens  *secret.TokenTable
	Tr      Transport
	Domain  string
	Retries int

	lastProbeReply *dns.Msg
}

// Probe sends a TXT query for the bare domain to acquire a token (spec
// §4.3 step 1), retrying s.Retries times. If the tracker's SecondaryPort
// is set, both ports are queried concurrently and the loser is cancelled
// once either succeeds.
func (s *Session) Probe(ctx context.Context) error {
	return s.probeWithRetries(ctx, s.Retries)
}

func (s *Session) probeWithRetries(ctx context.Context, retries int) error {
	host, err := resolveHost(s.Tracker.Host)
	if err != nil {
		return fmt.Errorf("session: resolve tracker %s: %w", s.Tracker.Host, err)
	}

	msg := new(dns.Msg)
	msg.SetQuestion(dns.Fqdn(s.Domain), dns.TypeTXT)

	var reply *dns.Msg
	var winPort int

	if s.Tracker.SecondaryPort != 0 {
		reply, winPort, err = s.raceDualPort(ctx, msg, host, retries)
	} else {
		reply, _, _, err = s.Tr.Query(ctx, msg, host, s.Tracker.Port, retries)
		winPort = s.Tracker.Port
	}
	if err != nil {
		return fmt.Errorf("session: probe tracker %s: %w", s.Tracker.Host, err)
	}

	s.Tracker.WinPort(winPort)
	s.applyProbeReply(reply)
	return nil
}

func (s *Session) raceDualPort(ctx context.Context, msg *dns.Msg, host net.IP, retries int) (*dns.Msg, int, error) {
	type result struct {
		reply *dns.Msg
		port  int
		err   error
	}

	ctxA, cancelA := context.WithCancel(ctx)
	ctxB, cancelB := context.WithCancel(ctx)
	ch := make(chan result, 2)

	go func() {
		reply, _, _, err := s.Tr.Query(ctxA, msg, host, s.Tracker.Port, retries)
		ch <- result{reply, s.Tracker.Port, err}
	}()
	go func() {
		reply, _, _, err := s.Tr.Query(ctxB, msg, host, s.Tracker.SecondaryPort, retries)
		ch <- result{reply, s.Tracker.SecondaryPort, err}
	}()

	first := <-ch
	if first.err == nil {
		cancelA()
		cancelB()
		return first.reply, first.port, nil
	}
	second := <-ch
	cancelA()
	cancelB()
	if second.err == nil {
		return second.reply, second.port, nil
	}
	return nil, 0, fmt.Errorf("both ports failed: %v, %v", first.err, second.err)
}

// ProbeObserve probes like Probe, additionally returning the "host"/
// "port" fields the tracker's probe answer carries — the tracker's
// observation of this instance's own apparent address, consumed by
// whoami (spec §4.4, §4.8). It retries independently of s.Retries:
// whoami probes with retries=2 per spec §4.8 regardless of how the
// session's general announce/lookup fan-out is configured.
func (s *Session) ProbeObserve(ctx context.Context, retries int) (host string, port int, err error) {
	if err := s.probeWithRetries(ctx, retries); err != nil {
		return "", 0, err
	}
	kv := decodeFirstTXT(s.lastProbeReply)
	host = kv[wire.KeyHost]
	port, _ = strconv.Atoi(kv[wire.KeyPort])
	return host, port, nil
}

func (s *Session) applyProbeReply(reply *dns.Msg) {
	s.lastProbeReply = reply
	kv := decodeFirstTXT(reply)
	if token, ok := kv[wire.KeyToken]; ok {
		s.Tokens.Set(s.Index, token)
	}
}

// Send issues the TXT query named "<topic>.<domain>" carrying the
// additionals for kind (spec §4.3 step 2). impliedPort, when true, sends
// "0" as the textual announce/unannounce port regardless of port.
func (s *Session) Send(ctx context.Context, kind Kind, topic string, port int, impliedPort bool) (*dns.Msg, error) {
	host, err := resolveHost(s.Tracker.Host)
	if err != nil {
		return nil, fmt.Errorf("session: resolve tracker %s: %w", s.Tracker.Host, err)
	}
	token, _ := s.Tokens.Get(s.Index)

	kv := map[string]string{}
	var order []string
	portStr := strconv.Itoa(port)
	if impliedPort {
		portStr = "0"
	}

	switch kind {
	case KindLookup:
		kv[wire.KeySubscribe] = "true"
		kv[wire.KeyToken] = token
		order = []string{wire.KeySubscribe, wire.KeyToken}
	case KindAnnounce:
		kv[wire.KeySubscribe] = "true"
		kv[wire.KeyToken] = token
		kv[wire.KeyAnnounce] = portStr
		order = []string{wire.KeySubscribe, wire.KeyToken, wire.KeyAnnounce}
	case KindUnannounce:
		kv[wire.KeyToken] = token
		kv[wire.KeyUnannounce] = portStr
		order = []string{wire.KeyToken, wire.KeyUnannounce}
	}

	msg := new(dns.Msg)
	name := topic + "." + s.Domain
	msg.SetQuestion(dns.Fqdn(name), dns.TypeTXT)
	msg.Extra = append(msg.Extra, &dns.TXT{
		Hdr: dns.RR_Header{Name: dns.Fqdn(name), Rrtype: dns.TypeTXT, Class: dns.ClassINET},
		Txt: wire.EncodeTXTOrdered(kv, order),
	})

	reply, _, _, err := s.Tr.Query(ctx, msg, host, s.Tracker.Port, s.Retries)
	if err != nil {
		return nil, fmt.Errorf("session: send to tracker %s: %w", s.Tracker.Host, err)
	}

	// Refresh the cached token from whatever this tracker handed back,
	// per spec §4.6 step 5.
	s.applyProbeReply(reply)
	return reply, nil
}

// ProbeAndSend probes for a token first if none is cached, then sends.
func (s *Session) ProbeAndSend(ctx context.Context, kind Kind, topic string, port int, impliedPort bool) (*dns.Msg, error) {
	if _, ok := s.Tokens.Get(s.Index); !ok {
		if err := s.Probe(ctx); err != nil {
			return nil, err
		}
	}
	return s.Send(ctx, kind, topic, port, impliedPort)
}

func decodeFirstTXT(msg *dns.Msg) map[string]string {
	if msg == nil {
		return nil
	}
	for _, rr := range msg.Answer {
		if txt, ok := rr.(*dns.TXT); ok {
			return wire.DecodeTXT(txt.Txt)
		}
	}
	return nil
}

func resolveHost(host string) (net.IP, error) {
	if ip := net.ParseIP(host); ip != nil {
		return ip, nil
	}
	addr, err := net.ResolveIPAddr("ip4", host)
	if err != nil {
		return nil, err
	}
	return addr.IP, nil
}
