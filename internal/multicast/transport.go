// Package multicast implements the mDNS transport the core consumes per
// spec §6: multicast query/response framing on the link-local mDNS group,
// sharing the same dns.Msg shape as the unicast transport.
//
// Grounded on saljam-mdns/mdns.go's direct use of github.com/miekg/dns
// against the 224.0.0.251:5353 multicast group, generalized from a
// one-shot PTR/SRV/A/TXT discovery tool into a long-lived bidirectional
// transport.
package multicast

import (
	"context"
	"fmt"
	"net"
	"sync"
	"time"

	"github.com/miekg/dns"
)

// GroupAddr is the IPv4 link-local multicast DNS group and port.
var GroupAddr = &net.UDPAddr{IP: net.IPv4(224, 0, 0, 251), Port: 5353}

// MessageHandler is invoked for every inbound message on the group,
// whether it carries a question (a query this instance should consider
// answering) or answers/additionals (to feed the answer ingester).
type MessageHandler func(msg *dns.Msg, host net.IP, port int)

// Transport sends and receives mDNS messages on the local link.
type Transport struct {
	mu      sync.Mutex
	conn    *net.UDPConn // joined to the multicast group, for receiving
	sendTo  *net.UDPConn // unicast-bound socket used to transmit to the group
	handler MessageHandler
	pending map[uint16]chan response
	errFn   func(error)
	wg      sync.WaitGroup
	closed  bool
}

type response struct {
	msg  *dns.Msg
	host net.IP
	port int
}

// New joins the mDNS multicast group on iface (nil picks the default
// multicast-capable interface) and starts listening.
func New(iface *net.Interface, onError func(error)) (*Transport, error) {
	conn, err := net.ListenMulticastUDP("udp4", iface, GroupAddr)
	if err != nil {
		return nil, fmt.Errorf("multicast: join group: %w", err)
	}
	sendTo, err := net.ListenUDP("udp4", &net.UDPAddr{Port: 0})
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("multicast: send socket: %w", err)
	}
	t := &Transport{conn: conn, sendTo: sendTo, errFn: onError, pending: make(map[uint16]chan response)}
	t.wg.Add(1)
	go t.readLoop()
	return t, nil
}

// OnMessage installs the handler invoked for every inbound message.
func (t *Transport) OnMessage(h MessageHandler) {
	t.mu.Lock()
	t.handler = h
	t.mu.Unlock()
}

// Send broadcasts msg to the mDNS group. Fire-and-forget: mDNS has no
// per-query response channel, only the ambient stream of inbound messages
// delivered to OnMessage (spec §6: query(message, cb) / response(message)
// / events query, response).
func (t *Transport) Send(msg *dns.Msg) error {
	packed, err := msg.Pack()
	if err != nil {
		return fmt.Errorf("multicast: pack: %w", err)
	}
	t.mu.Lock()
	sendTo := t.sendTo
	t.mu.Unlock()
	_, err = sendTo.WriteToUDP(packed, GroupAddr)
	return err
}

// SendAndAwait broadcasts msg and waits up to timeout for any single
// inbound response carrying a matching id (the group's loopback copy of
// msg itself is a query and does not count), in addition to delivering it
// to the ambient OnMessage handler as usual. Used by the operation
// coordinator to treat the multicast leg of a fan-out as a settling leg
// (spec §4.6 step 5) despite mDNS having no per-query response channel
// in the general case.
func (t *Transport) SendAndAwait(ctx context.Context, msg *dns.Msg, timeout time.Duration) (*dns.Msg, net.IP, int, error) {
	ch := make(chan response, 1)
	t.mu.Lock()
	t.pending[msg.Id] = ch
	t.mu.Unlock()
	defer func() {
		t.mu.Lock()
		delete(t.pending, msg.Id)
		t.mu.Unlock()
	}()

	if err := t.Send(msg); err != nil {
		return nil, nil, 0, err
	}

	timer := time.NewTimer(timeout)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return nil, nil, 0, ctx.Err()
	case r := <-ch:
		return r.msg, r.host, r.port, nil
	case <-timer.C:
		return nil, nil, 0, fmt.Errorf("multicast: no response within %s", timeout)
	}
}

// Close leaves the multicast group and stops the read loop.
func (t *Transport) Close() error {
	t.mu.Lock()
	if t.closed {
		t.mu.Unlock()
		return nil
	}
	t.closed = true
	t.mu.Unlock()

	err1 := t.conn.Close()
	err2 := t.sendTo.Close()
	t.wg.Wait()
	if err1 != nil {
		return err1
	}
	return err2
}

func (t *Transport) readLoop() {
	defer t.wg.Done()
	buf := make([]byte, 4096)
	for {
		n, addr, err := t.conn.ReadFromUDP(buf)
		if err != nil {
			if t.isClosed() {
				return
			}
			t.reportErr(fmt.Errorf("multicast: read: %w", err))
			continue
		}

		msg := new(dns.Msg)
		if err := msg.Unpack(buf[:n]); err != nil {
			continue // malformed packets dropped silently, spec §7
		}

		t.mu.Lock()
		handler := t.handler
		waiter, hasWaiter := t.pending[msg.Id]
		t.mu.Unlock()

		if hasWaiter && msg.Response {
			select {
			case waiter <- response{msg: msg, host: addr.IP, port: addr.Port}:
			default:
			}
		}
		if handler != nil {
			handler(msg, addr.IP, addr.Port)
		}
	}
}

func (t *Transport) isClosed() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.closed
}

func (t *Transport) reportErr(err error) {
	if t.errFn != nil {
		t.errFn(err)
	}
}
