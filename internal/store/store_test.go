package store

import (
	"fmt"
	"net"
	"testing"
	"time"
)

func TestAddIdempotence(t *testing.T) {
	s := New(0, 0)
	p := NewPeer(net.ParseIP("10.0.0.1"), 4000)

	if !s.Add("abcd", p) {
		t.Fatalf("expected first add to report inserted")
	}
	if s.Add("abcd", p) {
		t.Fatalf("expected duplicate add to report already present")
	}
	if got := len(s.Get("abcd", 10)); got != 1 {
		t.Fatalf("peer set size mismatch: %d", got)
	}
}

func TestRemove(t *testing.T) {
	s := New(0, 0)
	p := NewPeer(net.ParseIP("10.0.0.1"), 4000)
	s.Add("abcd", p)
	s.Remove("abcd", p)
	if got := len(s.Get("abcd", 10)); got != 0 {
		t.Fatalf("expected peer removed, got %d", got)
	}
}

func TestRemoveAbsentIsNoop(t *testing.T) {
	s := New(0, 0)
	s.Remove("abcd", NewPeer(net.ParseIP("10.0.0.1"), 4000))
}

func TestEmptyTopicNotRetained(t *testing.T) {
	s := New(0, 0)
	p := NewPeer(net.ParseIP("10.0.0.1"), 4000)
	s.Add("abcd", p)
	s.Remove("abcd", p)

	s.mu.Lock()
	_, ok := s.byTopic["abcd"]
	s.mu.Unlock()
	if ok {
		t.Fatalf("invariant I3 violated: empty topic retained a container")
	}
}

func TestTTLExpiry(t *testing.T) {
	now := time.Now()
	s := New(time.Second, 0)
	s.clock = func() time.Time { return now }

	p := NewPeer(net.ParseIP("10.0.0.1"), 4000)
	s.Add("abcd", p)

	s.clock = func() time.Time { return now.Add(2 * time.Second) }
	if got := len(s.Get("abcd", 10)); got != 0 {
		t.Fatalf("expected peer to have expired, got %d", got)
	}
}

func TestTTLZeroDisablesExpiry(t *testing.T) {
	now := time.Now()
	s := New(0, 0)
	s.clock = func() time.Time { return now }
	p := NewPeer(net.ParseIP("10.0.0.1"), 4000)
	s.Add("abcd", p)

	s.clock = func() time.Time { return now.Add(365 * 24 * time.Hour) }
	if got := len(s.Get("abcd", 10)); got != 1 {
		t.Fatalf("expected peer to survive with ttl=0, got %d", got)
	}
}

func TestLimitEvictsOldest(t *testing.T) {
	s := New(0, 2)
	a := NewPeer(net.ParseIP("10.0.0.1"), 1)
	b := NewPeer(net.ParseIP("10.0.0.2"), 2)
	c := NewPeer(net.ParseIP("10.0.0.3"), 3)

	s.Add("t1", a)
	s.Add("t1", b)
	s.Add("t2", c) // evicts a, the globally oldest

	if s.Len() != 2 {
		t.Fatalf("expected total peers capped at 2, got %d", s.Len())
	}
	if got := len(s.Get("t1", 10)); got != 1 {
		t.Fatalf("expected a evicted from t1, got %d peers", got)
	}
	if got := len(s.Get("t2", 10)); got != 1 {
		t.Fatalf("expected c present in t2, got %d peers", got)
	}
}

func TestGetSamplesWithoutReplacement(t *testing.T) {
	s := New(0, 0)
	for i := 0; i < 20; i++ {
		s.Add("abcd", NewPeer(net.IPv4(10, 0, 0, byte(i)), uint16(i)))
	}
	got := s.Get("abcd", 5)
	if len(got) != 5 {
		t.Fatalf("expected 5 sampled peers, got %d", len(got))
	}
	seen := make(map[string]struct{})
	for _, p := range got {
		key := fmt.Sprintf("%s:%d", p.Host.String(), p.Port)
		if _, dup := seen[key]; dup {
			t.Fatalf("sample returned a duplicate peer")
		}
		seen[key] = struct{}{}
	}
}

func TestGetMaxExceedingSizeReturnsAll(t *testing.T) {
	s := New(0, 0)
	s.Add("abcd", NewPeer(net.ParseIP("10.0.0.1"), 1))
	s.Add("abcd", NewPeer(net.ParseIP("10.0.0.2"), 2))
	if got := len(s.Get("abcd", 100)); got != 2 {
		t.Fatalf("expected all peers returned, got %d", got)
	}
}

func TestIterateIsInsertionOrderedAndNotRandomized(t *testing.T) {
	s := New(0, 0)
	for i := 0; i < 10; i++ {
		s.Add("abcd", NewPeer(net.IPv4(10, 0, 0, byte(i)), uint16(4000+i)))
	}
	all := s.Iterate()
	peers := all["abcd"]
	if len(peers) != 10 {
		t.Fatalf("expected 10 peers, got %d", len(peers))
	}
	for i, p := range peers {
		if p.Port != uint16(4000+i) {
			t.Fatalf("expected insertion order at index %d, got port %d", i, p.Port)
		}
	}
}

func TestWireRoundTrip(t *testing.T) {
	p := NewPeer(net.ParseIP("203.0.113.9"), 12345)
	w := p.Wire()
	decoded := net.IPv4(w[0], w[1], w[2], w[3])
	port := uint16(w[4])<<8 | uint16(w[5])
	if !decoded.Equal(p.Host.To4()) || port != p.Port {
		t.Fatalf("wire round-trip mismatch: %v:%d", decoded, port)
	}
}

func TestZeroHostSubstitution(t *testing.T) {
	p := NewPeer(net.IPv4zero, 4000)
	if !p.isSentinel() {
		t.Fatalf("expected 0.0.0.0 to be recognised as the sentinel host")
	}
	substituted := p.WithHost(net.ParseIP("1.2.3.4"))
	if substituted.isSentinel() {
		t.Fatalf("expected substitution to clear sentinel status")
	}
	if !substituted.Host.Equal(net.ParseIP("1.2.3.4")) {
		t.Fatalf("host not substituted: %v", substituted.Host)
	}
}
