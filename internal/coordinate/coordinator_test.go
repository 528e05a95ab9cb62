package coordinate

import (
	"context"
	"net"
	"testing"

	"github.com/miekg/dns"

	"github.com/quietsignal/dnsdisco/internal/secret"
	"github.com/quietsignal/dnsdisco/internal/session"
	"github.com/quietsignal/dnsdisco/internal/store"
)

type scriptedTransport struct {
	fail bool
}

func (s *scriptedTransport) Query(ctx context.Context, msg *dns.Msg, host net.IP, port int, retries int) (*dns.Msg, net.IP, int, error) {
	if s.fail {
		return nil, nil, 0, context.DeadlineExceeded
	}
	reply := new(dns.Msg)
	reply.Id = msg.Id
	reply.Response = true
	reply.Answer = append(reply.Answer, &dns.TXT{
		Hdr: dns.RR_Header{Rrtype: dns.TypeTXT, Class: dns.ClassINET},
		Txt: []string{"token=tok"},
	})
	return reply, host, port, nil
}

func newSessionWithTransport(idx int, tr session.Transport) *session.Session {
	return &session.Session{
		Index:   idx,
		Tracker: &store.TrackerRecord{Host: "198.51.100.1", Port: 53},
		Tokens:  secret.NewTokenTable(),
		Tr:      tr,
		Domain:  "dns-discovery.local",
		Retries: 0,
	}
}

// TestVisitAnnounceInsertsSentinelLocally matches spec §8 scenario S1's
// local-store expectation (the multicast leg is omitted here: the
// Coordinator has no multicast transport, so only the tracker legs run).
func TestVisitAnnounceInsertsSentinelLocally(t *testing.T) {
	s1 := newSessionWithTransport(0, &scriptedTransport{})
	s2 := newSessionWithTransport(1, &scriptedTransport{})

	mainStore := store.New(0, 0)
	c := &Coordinator{
		Sessions: []*session.Session{s1, s2},
		Store:    mainStore,
		Domain:   "dns-discovery.local",
		EmitPeer: func(string, store.Peer) {},
	}

	if err := c.Visit(context.Background(), session.KindAnnounce, "abcd", 4000, false); err != nil {
		t.Fatalf("Visit: %v", err)
	}

	peers := mainStore.Get("abcd", 10)
	if len(peers) != 1 || peers[0].Port != 4000 || !peers[0].Host.Equal(net.IPv4zero) {
		t.Fatalf("expected local sentinel entry, got %#v", peers)
	}
}

func TestVisitSucceedsIfAnyLegSucceeds(t *testing.T) {
	ok := newSessionWithTransport(0, &scriptedTransport{})
	bad := newSessionWithTransport(1, &scriptedTransport{fail: true})

	c := &Coordinator{
		Sessions: []*session.Session{ok, bad},
		Store:    store.New(0, 0),
		Domain:   "dns-discovery.local",
		EmitPeer: func(string, store.Peer) {},
	}

	if err := c.Visit(context.Background(), session.KindLookup, "abcd", 0, false); err != nil {
		t.Fatalf("expected success with one good leg, got %v", err)
	}
}

func TestVisitFailsWhenAllLegsFail(t *testing.T) {
	bad1 := newSessionWithTransport(0, &scriptedTransport{fail: true})
	bad2 := newSessionWithTransport(1, &scriptedTransport{fail: true})

	c := &Coordinator{
		Sessions: []*session.Session{bad1, bad2},
		Store:    store.New(0, 0),
		Domain:   "dns-discovery.local",
		EmitPeer: func(string, store.Peer) {},
	}

	if err := c.Visit(context.Background(), session.KindLookup, "abcd", 0, false); err == nil {
		t.Fatalf("expected failure when every leg fails")
	}
}

func TestVisitFailsWithNoLegs(t *testing.T) {
	c := &Coordinator{
		Store:    store.New(0, 0),
		Domain:   "dns-discovery.local",
		EmitPeer: func(string, store.Peer) {},
	}
	if err := c.Visit(context.Background(), session.KindLookup, "abcd", 0, false); err == nil {
		t.Fatalf("expected failure with zero fan-out legs")
	}
}

// TestVisitUnannounceRemovesSentinelLocally matches spec §8 scenario S5.
func TestVisitUnannounceRemovesSentinelLocally(t *testing.T) {
	mainStore := store.New(0, 0)
	mainStore.Add("abcd", store.NewPeer(net.IPv4zero, 4000))

	sess := newSessionWithTransport(0, &scriptedTransport{})
	c := &Coordinator{
		Sessions: []*session.Session{sess},
		Store:    mainStore,
		Domain:   "dns-discovery.local",
		EmitPeer: func(string, store.Peer) {},
	}

	if err := c.Visit(context.Background(), session.KindUnannounce, "abcd", 4000, false); err != nil {
		t.Fatalf("Visit: %v", err)
	}
	if mainStore.Len() != 0 {
		t.Fatalf("expected sentinel entry removed")
	}
}
