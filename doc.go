// Package dnsdisco provides a peer discovery service that repurposes the
// DNS protocol.
//
// # Overview
//
// Given an opaque topic id, a participant can announce that it serves a
// host:port for that topic, retract the announcement, or look up other
// participants serving the same topic. Discovery runs over two transports
// at once: unicast DNS toward a configured list of tracker servers, and
// link-local multicast DNS on the local network. The same Instance can act
// as a client (no bound ports) or as a tracker (bound ports, server mode).
//
// # Protocol
//
// A topic id is rendered as lowercase hex and suffixed with a configured
// domain (default "dns-discovery.local"), e.g. "abcd.dns-discovery.local".
// Announce/lookup/unannounce are TXT queries against that name, carrying a
// short-lived token in the additionals section that binds the request to
// the sender's apparent address. Trackers issue tokens by answering a TXT
// probe against the bare domain.
//
// # Networking
//
// New joins the mDNS group when multicast is enabled (the default).
// Listen binds the unicast transport to server ports (default 53 and
// 5300); an Instance that has not called Listen only sends, never
// answers, queries.
//
// # Events
//
// Subscribe to an Instance's event channel to observe Peer, Error,
// Listening, and Close events as they occur.
//
// Example
//
//	inst, err := dnsdisco.New(
//		dnsdisco.WithTrackers([]string{"tracker.example.com:53"}),
//	)
//	if err != nil {
//		// handle error
//	}
//	defer inst.Close()
//	_ = inst.Announce(context.Background(), []byte("my-topic"), 4000)
package dnsdisco
