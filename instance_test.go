package dnsdisco

import (
	"context"
	"encoding/hex"
	"errors"
	"net"
	"strings"
	"testing"
	"time"

	"github.com/miekg/dns"

	"github.com/quietsignal/dnsdisco/internal/store"
)

func newTestInstance(t *testing.T, opts ...Option) *Instance {
	t.Helper()
	all := append([]Option{WithMulticast(false), WithBeacon(false)}, opts...)
	inst, err := New(all...)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	t.Cleanup(func() { _ = inst.Close() })
	return inst
}

func TestNewDefaultsConfig(t *testing.T) {
	inst := newTestInstance(t)
	if inst.cfg.Domain != DefaultDomain {
		t.Fatalf("unexpected default domain: %q", inst.cfg.Domain)
	}
	if inst.cfg.Multicast {
		t.Fatalf("expected multicast disabled by WithMulticast(false)")
	}
}

func TestListenIsIdempotent(t *testing.T) {
	inst := newTestInstance(t)
	if err := inst.Listen(0, 0); err != nil {
		t.Fatalf("first Listen: %v", err)
	}
	if err := inst.Listen(0, 0); !errors.Is(err, ErrAlreadyListening) {
		t.Fatalf("expected ErrAlreadyListening on second Listen, got %v", err)
	}
}

func TestVisitWrapsQueryFailed(t *testing.T) {
	inst := newTestInstance(t, WithTrackers([]string{"127.0.0.1:39999"}))

	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()

	id, err := hex.DecodeString("abcd")
	if err != nil {
		t.Fatalf("decode id: %v", err)
	}
	if err := inst.Lookup(ctx, id); !errors.Is(err, ErrQueryFailed) {
		t.Fatalf("expected ErrQueryFailed against an unreachable tracker, got %v", err)
	}
}

func TestWhoamiWrapsProbeFailed(t *testing.T) {
	inst := newTestInstance(t, WithTrackers([]string{"127.0.0.1:39999", "127.0.0.1:39998"}))

	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()

	if _, err := inst.Whoami(ctx); !errors.Is(err, ErrProbeFailed) {
		t.Fatalf("expected ErrProbeFailed against unreachable trackers, got %v", err)
	}
}

func TestOperationsAfterCloseReturnErrClosed(t *testing.T) {
	inst := newTestInstance(t, WithTrackers([]string{"127.0.0.1:39999"}))
	if err := inst.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}

	id, err := hex.DecodeString("abcd")
	if err != nil {
		t.Fatalf("decode id: %v", err)
	}

	ctx := context.Background()
	if err := inst.Announce(ctx, id, 4000); !errors.Is(err, ErrClosed) {
		t.Fatalf("expected ErrClosed from Announce after Close, got %v", err)
	}
	if err := inst.Unannounce(ctx, id, 4000); !errors.Is(err, ErrClosed) {
		t.Fatalf("expected ErrClosed from Unannounce after Close, got %v", err)
	}
	if err := inst.Lookup(ctx, id); !errors.Is(err, ErrClosed) {
		t.Fatalf("expected ErrClosed from Lookup after Close, got %v", err)
	}
	if _, err := inst.Whoami(ctx); !errors.Is(err, ErrClosed) {
		t.Fatalf("expected ErrClosed from Whoami after Close, got %v", err)
	}
	if err := inst.Listen(); !errors.Is(err, ErrClosed) {
		t.Fatalf("expected ErrClosed from Listen after Close, got %v", err)
	}
}

func TestCloseEmitsOnce(t *testing.T) {
	inst := newTestInstance(t)
	events := inst.Subscribe(8)

	if err := inst.Close(); err != nil {
		t.Fatalf("first Close: %v", err)
	}
	if err := inst.Close(); err != nil {
		t.Fatalf("second Close: %v", err)
	}

	closes := 0
drain:
	for {
		select {
		case ev := <-events:
			if ev.Kind == EventClose {
				closes++
			}
		default:
			break drain
		}
	}
	if closes != 1 {
		t.Fatalf("expected exactly 1 EventClose, got %d", closes)
	}
}

func probeQuery(domain string) *dns.Msg {
	msg := new(dns.Msg)
	msg.SetQuestion(dns.Fqdn(domain), dns.TypeTXT)
	return msg
}

func TestNonListeningInstanceDoesNotAnswerQueries(t *testing.T) {
	inst := newTestInstance(t)

	reply := inst.handleUnicastQuery(probeQuery(inst.cfg.Domain), net.IPv4(10, 0, 0, 9), 4000)
	if reply != nil {
		t.Fatalf("expected no reply from a non-listening instance, got %v", reply)
	}
}

func TestListeningInstanceAnswersQueries(t *testing.T) {
	inst := newTestInstance(t)
	if err := inst.Listen(0, 0); err != nil {
		t.Fatalf("Listen: %v", err)
	}

	reply := inst.handleUnicastQuery(probeQuery(inst.cfg.Domain), net.IPv4(10, 0, 0, 9), 4000)
	if reply == nil {
		t.Fatalf("expected a reply from a listening instance")
	}
}

func TestPeersAndSubscribersReadBackStoredPeers(t *testing.T) {
	inst := newTestInstance(t)

	id, err := hex.DecodeString("abcd")
	if err != nil {
		t.Fatalf("decode id: %v", err)
	}

	peer := store.NewPeer(net.IPv4(10, 0, 0, 1), 4000)
	inst.store.Add("abcd", peer)
	inst.subscriptions.Add("abcd", peer)

	peers := inst.Peers(id)
	if len(peers) != 1 || !peers[0].Host.Equal(peer.Host) || peers[0].Port != peer.Port {
		t.Fatalf("unexpected Peers result: %v", peers)
	}

	subs := inst.Subscribers(id)
	if len(subs) != 1 || !subs[0].Host.Equal(peer.Host) || subs[0].Port != peer.Port {
		t.Fatalf("unexpected Subscribers result: %v", subs)
	}

	otherID, err := hex.DecodeString("ffff")
	if err != nil {
		t.Fatalf("decode id: %v", err)
	}
	if got := inst.Peers(otherID); got != nil {
		t.Fatalf("expected nil Peers for an empty topic, got %v", got)
	}
}

func TestMarshalJSONSchema(t *testing.T) {
	inst := newTestInstance(t)
	inst.store.Add("abcd", store.NewPeer(net.IPv4(10, 0, 0, 1), 4000))

	raw, err := inst.ToJSON()
	if err != nil {
		t.Fatalf("ToJSON: %v", err)
	}
	if !strings.Contains(string(raw), `"host":"10.0.0.1"`) {
		t.Fatalf("expected host field in %s", raw)
	}
}
