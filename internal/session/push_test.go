package session

import (
	"context"
	"net"
	"testing"
	"time"

	"github.com/miekg/dns"

	"github.com/quietsignal/dnsdisco/internal/store"
)

type recordingTransport struct {
	done chan struct{}
	msg  *dns.Msg
	host net.IP
	port int
}

func (r *recordingTransport) Query(ctx context.Context, msg *dns.Msg, host net.IP, port int, retries int) (*dns.Msg, net.IP, int, error) {
	r.msg, r.host, r.port = msg, host, port
	close(r.done)
	return new(dns.Msg), host, port, nil
}

func TestPushSendsSRVAdditionalToSubscriber(t *testing.T) {
	subs := store.New(0, 0)
	subs.Add("abcd", store.NewPeer(net.IPv4(10, 0, 0, 9), 6000))

	tr := &recordingTransport{done: make(chan struct{})}
	Push(subs, tr, "dns-discovery.local", "abcd", store.NewPeer(net.IPv4(10, 0, 0, 1), 4000), 60)

	select {
	case <-tr.done:
	case <-time.After(time.Second):
		t.Fatalf("timed out waiting for push query")
	}

	if tr.port != 6000 || !tr.host.Equal(net.IPv4(10, 0, 0, 9)) {
		t.Fatalf("unexpected push destination: %s:%d", tr.host, tr.port)
	}
	srv, ok := tr.msg.Extra[0].(*dns.SRV)
	if !ok {
		t.Fatalf("expected SRV additional, got %#v", tr.msg.Extra)
	}
	if srv.Port != 4000 {
		t.Fatalf("unexpected SRV port: %d", srv.Port)
	}
}
