package session

import (
	"encoding/base64"
	"net"
	"strconv"
	"strings"

	"github.com/miekg/dns"

	"github.com/quietsignal/dnsdisco/internal/secret"
	"github.com/quietsignal/dnsdisco/internal/store"
	"github.com/quietsignal/dnsdisco/internal/wire"
)

// ResponderDeps are the collaborators the query responder needs to answer
// an inbound question (spec §4.4).
type ResponderDeps struct {
	Store   *store.Store
	Ring    *secret.Ring
	Domain  string
	LocalIP net.IP
}

const (
	lookupSampleMax = 100
	recordSampleMax = 10
)

// BuildReply answers every question in query using deps, returning the
// reply to send back to srcHost:srcPort. multicast distinguishes the one
// case (empty-peer-set TXT lookup) that behaves differently by transport.
// Returns nil if the query carries no recognized questions at all.
func BuildReply(query *dns.Msg, deps ResponderDeps, srcHost net.IP, srcPort int, multicast bool) *dns.Msg {
	domainFQDN := dns.Fqdn(deps.Domain)
	reply := new(dns.Msg)
	reply.SetReply(query)

	answered := false
	for _, q := range query.Question {
		name := q.Name
		switch {
		case strings.EqualFold(name, domainFQDN) && q.Qtype == dns.TypeTXT:
			reply.Answer = append(reply.Answer, probeAnswer(deps, srcHost, srcPort))
			answered = true

		case strings.HasSuffix(strings.ToLower(name), "."+domainFQDN):
			topic := name[:len(name)-len("."+domainFQDN)]
			switch q.Qtype {
			case dns.TypeTXT:
				if rr := lookupAnswer(deps, name, topic, srcHost, multicast); rr != nil {
					reply.Answer = append(reply.Answer, rr)
				}
				answered = true
			case dns.TypeA:
				reply.Answer = append(reply.Answer, aAnswers(deps, name, topic)...)
				answered = true
			case dns.TypeSRV:
				reply.Answer = append(reply.Answer, srvAnswers(deps, name, topic)...)
				answered = true
			}
		}
	}

	if !answered {
		return nil
	}
	return reply
}

func probeAnswer(deps ResponderDeps, srcHost net.IP, srcPort int) dns.RR {
	kv := map[string]string{
		wire.KeyToken: deps.Ring.Issue(srcHost),
		wire.KeyHost:  srcHost.String(),
		wire.KeyPort:  strconv.Itoa(srcPort),
	}
	order := []string{wire.KeyToken, wire.KeyHost, wire.KeyPort}
	return &dns.TXT{
		Hdr: dns.RR_Header{Name: dns.Fqdn(deps.Domain), Rrtype: dns.TypeTXT, Class: dns.ClassINET},
		Txt: wire.EncodeTXTOrdered(kv, order),
	}
}

func lookupAnswer(deps ResponderDeps, name, topic string, srcHost net.IP, multicast bool) dns.RR {
	peers := deps.Store.Get(topic, lookupSampleMax)
	if multicast && len(peers) == 0 {
		// Reduces multicast noise (spec §4.4): an empty answer to a
		// link-local lookup is omitted rather than sent.
		return nil
	}

	recs := make([]wire.PeerRecord, len(peers))
	for i, p := range peers {
		recs[i] = wire.PeerRecord{Host: p.Host, Port: p.Port}
	}
	packed := wire.PackPeers(recs)

	kv := map[string]string{
		wire.KeyToken: deps.Ring.Issue(srcHost),
		wire.KeyPeers: base64.StdEncoding.EncodeToString(packed),
	}
	order := []string{wire.KeyToken, wire.KeyPeers}
	return &dns.TXT{
		Hdr: dns.RR_Header{Name: name, Rrtype: dns.TypeTXT, Class: dns.ClassINET},
		Txt: wire.EncodeTXTOrdered(kv, order),
	}
}

func aAnswers(deps ResponderDeps, name, topic string) []dns.RR {
	peers := deps.Store.Get(topic, recordSampleMax)
	out := make([]dns.RR, 0, len(peers))
	for _, p := range peers {
		host := resolvePeerHost(p, deps.LocalIP)
		out = append(out, &dns.A{
			Hdr: dns.RR_Header{Name: name, Rrtype: dns.TypeA, Class: dns.ClassINET},
			A:   host,
		})
	}
	return out
}

func srvAnswers(deps ResponderDeps, name, topic string) []dns.RR {
	peers := deps.Store.Get(topic, recordSampleMax)
	out := make([]dns.RR, 0, len(peers))
	for _, p := range peers {
		host := resolvePeerHost(p, deps.LocalIP)
		out = append(out, &dns.SRV{
			Hdr:    dns.RR_Header{Name: name, Rrtype: dns.TypeSRV, Class: dns.ClassINET},
			Port:   p.Port,
			Target: dns.Fqdn(host.String()),
		})
	}
	return out
}

// resolvePeerHost substitutes the server's own address for the sentinel
// 0.0.0.0, mirroring the substitution spec §4.4 spells out for A answers
// (scenario S4); applied identically to SRV for consistency.
func resolvePeerHost(p store.Peer, localIP net.IP) net.IP {
	if p.Host.Equal(net.IPv4zero) {
		return localIP
	}
	return p.Host
}
