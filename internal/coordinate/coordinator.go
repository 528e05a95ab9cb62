// Package coordinate implements the operation coordinator (spec §4.6)
// that fans a single logical announce/unannounce/lookup out across every
// configured tracker session plus the multicast leg, and aggregates
// completion across all of them.
package coordinate

import (
	"context"
	"fmt"
	"net"
	"sync"
	"time"

	"github.com/miekg/dns"

	"github.com/quietsignal/dnsdisco/internal/multicast"
	"github.com/quietsignal/dnsdisco/internal/session"
	"github.com/quietsignal/dnsdisco/internal/store"
)

// multicastAwaitTimeout bounds how long the multicast leg of a visit
// waits for any single inbound answer before that leg is scored as a
// failure. Chosen to match the unicast transport's single retry
// interval so a visit's total latency is comparable across transports.
const multicastAwaitTimeout = 400 * time.Millisecond

// Coordinator owns every tracker session plus the optional multicast
// transport and drives Visit's fan-out/aggregation over them.
type Coordinator struct {
	Sessions  []*session.Session
	Multicast *multicast.Transport
	Store     *store.Store
	Domain    string

	EmitPeer func(topic string, peer store.Peer)
}

// Visit implements announce/unannounce/lookup as a single fan-out
// (spec §4.6). port and impliedPort are ignored for lookup.
func (c *Coordinator) Visit(ctx context.Context, kind session.Kind, topic string, port int, impliedPort bool) error {
	switch kind {
	case session.KindAnnounce:
		c.Store.Add(topic, store.NewPeer(net.IPv4zero, uint16(port)))
	case session.KindUnannounce:
		c.Store.Remove(topic, store.NewPeer(net.IPv4zero, uint16(port)))
	}

	legs := len(c.Sessions)
	multicastLeg := c.Multicast != nil && kind != session.KindUnannounce
	if multicastLeg {
		legs++
	}

	if legs == 0 {
		// Spec §4.6 step 6 requires the callback fire on the "next tick"
		// rather than synchronously from within visit's own call frame, to
		// guarantee callers never observe it before visit itself returns.
		// A direct function return already satisfies that for a caller
		// blocking on Visit's result, so no artificial goroutine hop is
		// needed here.
		return fmt.Errorf("coordinate: %w: no fan-out legs configured", errQueryFailed)
	}

	results := make(chan bool, legs)
	var wg sync.WaitGroup

	for _, sess := range c.Sessions {
		wg.Add(1)
		go func(sess *session.Session) {
			defer wg.Done()
			results <- c.visitTracker(ctx, sess, kind, topic, port, impliedPort)
		}(sess)
	}

	if multicastLeg {
		wg.Add(1)
		go func() {
			defer wg.Done()
			results <- c.visitMulticast(ctx, topic)
		}()
	}

	wg.Wait()
	close(results)

	success := false
	for ok := range results {
		if ok {
			success = true
		}
	}
	if !success {
		return fmt.Errorf("coordinate: %w", errQueryFailed)
	}
	return nil
}

func (c *Coordinator) visitTracker(ctx context.Context, sess *session.Session, kind session.Kind, topic string, port int, impliedPort bool) bool {
	reply, err := sess.ProbeAndSend(ctx, kind, topic, port, impliedPort)
	if err != nil {
		return false
	}
	host, _ := net.ResolveIPAddr("ip4", sess.Tracker.Host)
	var srcHost net.IP
	if host != nil {
		srcHost = host.IP
	}
	session.EmitPeersFromReply(reply, topic, srcHost, c.EmitPeer)
	return true
}

func (c *Coordinator) visitMulticast(ctx context.Context, topic string) bool {
	name := dns.Fqdn(topic + "." + c.Domain)
	msg := new(dns.Msg)
	msg.SetQuestion(name, dns.TypeTXT)
	msg.Id = dns.Id()

	reply, srcHost, _, err := c.Multicast.SendAndAwait(ctx, msg, multicastAwaitTimeout)
	if err != nil {
		return false
	}
	session.EmitPeersFromReply(reply, topic, srcHost, c.EmitPeer)
	return true
}
