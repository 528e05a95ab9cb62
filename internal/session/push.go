package session

import (
	"context"
	"time"

	"github.com/miekg/dns"

	"github.com/quietsignal/dnsdisco/internal/store"
)

const (
	pushRetries = 2
	pushTimeout = 2 * time.Second
)

// Push notifies up to 16 subscribers of topic that peer just registered
// (spec §4.7). Each subscriber gets a DNS query carrying an SRV
// additional describing the new peer; delivery is fire-and-forget and
// failures are not surfaced to the caller.
func Push(subscriptions *store.Store, tr Transport, domain string, topic string, peer store.Peer, ttl uint32) {
	subs := subscriptions.Get(topic, pushSampleMax)
	for _, sub := range subs {
		go pushOne(tr, domain, topic, peer, sub, ttl)
	}
}

func pushOne(tr Transport, domain, topic string, peer store.Peer, sub store.Peer, ttl uint32) {
	ctx, cancel := context.WithTimeout(context.Background(), pushTimeout)
	defer cancel()

	name := dns.Fqdn(topic + "." + domain)
	msg := new(dns.Msg)
	msg.SetQuestion(name, dns.TypeSRV)
	msg.Extra = append(msg.Extra, &dns.SRV{
		Hdr:    dns.RR_Header{Name: name, Rrtype: dns.TypeSRV, Class: dns.ClassINET, Ttl: ttl},
		Port:   peer.Port,
		Target: dns.Fqdn(peer.Host.String()),
	})

	tr.Query(ctx, msg, sub.Host, int(sub.Port), pushRetries)
}
