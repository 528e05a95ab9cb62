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

const pushSampleMax = 16

// IngestDeps are the collaborators the answer ingester needs (spec §4.5).
// The same ingester runs over answers arriving from the unicast
// transport, the multicast transport, and the additionals section of
// inbound queries in server mode.
type IngestDeps struct {
	Ring          *secret.Ring
	Store         *store.Store
	Subscriptions *store.Store
	Domain        string
	Listening     bool

	EmitPeer func(topic string, peer store.Peer)
	// Push is invoked with a freshly-inserted (topic, peer) so the push
	// subsystem (§4.7) can notify subscribers. Only called when Listening
	// is true; may be nil.
	Push func(topic string, peer store.Peer)
}

// IngestAnswer runs one answer record (SRV or TXT) through the §4.5
// decision tree. srcHost/srcPort are the address the record arrived
// from, used both for 0.0.0.0 substitution and for token validation.
func IngestAnswer(rr dns.RR, srcHost net.IP, srcPort int, deps IngestDeps) {
	domainFQDN := dns.Fqdn(deps.Domain)
	name := rr.Header().Name
	if !strings.HasSuffix(strings.ToLower(name), "."+domainFQDN) {
		return
	}
	topic := name[:len(name)-len("."+domainFQDN)]
	if topic == "" {
		return
	}

	switch v := rr.(type) {
	case *dns.SRV:
		ingestSRV(v, topic, srcHost, srcPort, deps)
	case *dns.TXT:
		ingestTXT(v, topic, srcHost, srcPort, deps)
	}
}

func ingestSRV(rr *dns.SRV, topic string, srcHost net.IP, srcPort int, deps IngestDeps) {
	target := strings.TrimSuffix(rr.Target, ".")
	targetIP := net.ParseIP(target)
	if targetIP == nil || targetIP.To4() == nil {
		return // not a dotted-quad IPv4, dropped per spec §4.5
	}

	host := targetIP
	if targetIP.Equal(net.IPv4zero) {
		host = srcHost
	}
	port := rr.Port
	if port == 0 {
		port = uint16(srcPort)
	}
	deps.EmitPeer(topic, store.NewPeer(host, port))
}

func ingestTXT(rr *dns.TXT, topic string, srcHost net.IP, srcPort int, deps IngestDeps) {
	kv := wire.DecodeTXT(rr.Txt)
	if kv == nil {
		return
	}

	match := deps.Ring.Validate(kv[wire.KeyToken], srcHost)

	if match == secret.MatchNone {
		// Not an echo of a token we issued: treat as another peer's
		// announcement and surface its peer list, if any (spec §4.5.1).
		ingestPeerList(kv, topic, srcHost, deps)
		return
	}

	if !deps.Listening {
		return
	}
	// match is now MatchFresh or MatchGrace; both authorize store
	// mutation, the grace generation for one more cycle only (spec §4.5
	// steps 2-3).

	if raw, ok := kv[wire.KeyAnnounce]; ok {
		port := srcPort
		if p, err := strconv.Atoi(raw); err == nil && p > 0 {
			port = p
		}
		peer := store.NewPeer(srcHost, uint16(port))
		deps.EmitPeer(topic, peer)
		if fresh := deps.Store.Add(topic, peer); fresh && deps.Push != nil {
			deps.Push(topic, peer)
		}
	}

	if raw, ok := kv[wire.KeyUnannounce]; ok {
		port := srcPort
		if p, err := strconv.Atoi(raw); err == nil && p > 0 {
			port = p
		}
		deps.Store.Remove(topic, store.NewPeer(srcHost, uint16(port)))
	}

	// Spec §4.5 step 6 is unconditional: every processed announcement or
	// unannounce record either (re)subscribes or unsubscribes its sender,
	// regardless of whether "subscribe" was present at all.
	if truthy(kv[wire.KeySubscribe]) {
		deps.Subscriptions.Add(topic, store.NewPeer(srcHost, uint16(srcPort)))
	} else {
		deps.Subscriptions.Remove(topic, store.NewPeer(srcHost, uint16(srcPort)))
	}
}

func ingestPeerList(kv map[string]string, topic string, srcHost net.IP, deps IngestDeps) {
	raw, ok := kv[wire.KeyPeers]
	if !ok {
		return
	}
	packed, err := base64.StdEncoding.DecodeString(raw)
	if err != nil {
		return
	}
	for _, rec := range wire.UnpackPeers(packed) {
		host := rec.Host
		if host.Equal(net.IPv4zero) {
			host = srcHost
		}
		deps.EmitPeer(topic, store.NewPeer(host, rec.Port))
	}
}

func truthy(s string) bool {
	return s == "true" || s == "1"
}

// EmitPeersFromReply decodes every TXT answer's "peers" field in reply
// and emits one peer event per entry, substituting srcHost for the
// sentinel 0.0.0.0. This is the coordinator's lighter-weight parse of a
// tracker's own reply to our query (spec §4.6 step 5) — unlike
// IngestAnswer it does not validate a token or mutate any store, since a
// reply to our own query is never itself an announcement to accept.
func EmitPeersFromReply(reply *dns.Msg, topic string, srcHost net.IP, emit func(topic string, peer store.Peer)) {
	if reply == nil {
		return
	}
	for _, rr := range reply.Answer {
		txt, ok := rr.(*dns.TXT)
		if !ok {
			continue
		}
		kv := wire.DecodeTXT(txt.Txt)
		raw, ok := kv[wire.KeyPeers]
		if !ok {
			continue
		}
		packed, err := base64.StdEncoding.DecodeString(raw)
		if err != nil {
			continue
		}
		for _, rec := range wire.UnpackPeers(packed) {
			host := rec.Host
			if host.Equal(net.IPv4zero) {
				host = srcHost
			}
			emit(topic, store.NewPeer(host, rec.Port))
		}
	}
}
