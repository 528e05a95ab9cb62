// Package unicast implements the unicast DNS-over-UDP transport the core
// consumes per spec §6: per-transaction query/response with retries and
// cancellation, plus an on_query hook for server mode.
package unicast

import (
	"context"
	"fmt"
	"net"
	"sync"
	"time"

	"github.com/cenkalti/backoff"
	"github.com/miekg/dns"
)

// QueryHandler answers an inbound query (server mode). A nil return means
// no reply is sent.
type QueryHandler func(msg *dns.Msg, host net.IP, port int) *dns.Msg

// Transport is the concrete unicast DNS transport: one or more bound UDP
// sockets, a transaction table keyed by DNS message id, and retry
// scheduling via github.com/cenkalti/backoff.
//
// Grounded on internal/gossip/node.go's bind/readLoop/Stop shape in the
// teacher, generalized from fire-and-forget gossip messages to a
// request/response transaction table.
type Transport struct {
	mu           sync.Mutex
	conns        []*net.UDPConn
	sendConn     *net.UDPConn
	pending      map[uint16]chan response
	queryHandler QueryHandler
	errorHandler func(error)
	wg           sync.WaitGroup
	closed       bool
}

type response struct {
	msg  *dns.Msg
	host net.IP
	port int
}

// RetryInterval is the delay between retry attempts for a single query.
const RetryInterval = 400 * time.Millisecond

// New creates a transport with an ephemeral client-side send socket. Call
// Bind to additionally listen on specific ports (server mode).
func New(onError func(error)) (*Transport, error) {
	conn, err := net.ListenUDP("udp4", &net.UDPAddr{Port: 0})
	if err != nil {
		return nil, fmt.Errorf("unicast: listen ephemeral: %w", err)
	}
	t := &Transport{
		conns:        []*net.UDPConn{conn},
		sendConn:     conn,
		pending:      make(map[uint16]chan response),
		errorHandler: onError,
	}
	t.wg.Add(1)
	go t.readLoop(conn)
	return t, nil
}

// Bind adds a listening socket for each port, promoting the first bound
// socket to the transport's send socket so replies and outbound probes
// share the source port clients observe.
func (t *Transport) Bind(ports []int) error {
	for i, port := range ports {
		conn, err := net.ListenUDP("udp4", &net.UDPAddr{Port: port})
		if err != nil {
			return fmt.Errorf("unicast: bind %d: %w", port, err)
		}
		t.mu.Lock()
		t.conns = append(t.conns, conn)
		if i == 0 {
			t.sendConn = conn
		}
		t.mu.Unlock()
		t.wg.Add(1)
		go t.readLoop(conn)
	}
	return nil
}

// OnQuery installs the handler invoked for inbound queries (server mode).
func (t *Transport) OnQuery(h QueryHandler) {
	t.mu.Lock()
	t.queryHandler = h
	t.mu.Unlock()
}

// Query sends msg to host:port and waits for a matching reply, retrying
// up to retries additional times (so retries=0 is a single attempt,
// retries=2 is up to three attempts total) on timeout. It returns early
// with ctx.Err() if ctx is cancelled — used to cancel the losing leg of a
// dual-port probe race.
func (t *Transport) Query(ctx context.Context, msg *dns.Msg, host net.IP, port int, retries int) (*dns.Msg, net.IP, int, error) {
	id := dns.Id()
	m := msg.Copy()
	m.Id = id

	ch := make(chan response, 1)
	t.mu.Lock()
	t.pending[id] = ch
	sendConn := t.sendConn
	t.mu.Unlock()
	defer func() {
		t.mu.Lock()
		delete(t.pending, id)
		t.mu.Unlock()
	}()

	addr := &net.UDPAddr{IP: host, Port: port}
	bo := backoff.NewConstantBackOff(RetryInterval)

	attempts := retries + 1
	for attempt := 0; attempt < attempts; attempt++ {
		packed, err := m.Pack()
		if err != nil {
			return nil, nil, 0, fmt.Errorf("unicast: pack query: %w", err)
		}
		if _, err := sendConn.WriteToUDP(packed, addr); err != nil {
			return nil, nil, 0, fmt.Errorf("unicast: send query: %w", err)
		}

		wait := bo.NextBackOff()
		timer := time.NewTimer(wait)
		select {
		case <-ctx.Done():
			timer.Stop()
			return nil, nil, 0, ctx.Err()
		case r := <-ch:
			timer.Stop()
			return r.msg, r.host, r.port, nil
		case <-timer.C:
			continue
		}
	}
	return nil, nil, 0, fmt.Errorf("unicast: query to %s:%d timed out after %d attempts", host, port, attempts)
}

// Response sends an already-computed reply to host:port from the
// transport's send socket, without going through Query's request path.
// Inbound queries answered by the OnQuery handler do not use it: their
// replies are written back on the socket the query arrived on.
func (t *Transport) Response(reply *dns.Msg, host net.IP, port int) error {
	packed, err := reply.Pack()
	if err != nil {
		return fmt.Errorf("unicast: pack response: %w", err)
	}
	t.mu.Lock()
	conn := t.sendConn
	t.mu.Unlock()
	_, err = conn.WriteToUDP(packed, &net.UDPAddr{IP: host, Port: port})
	return err
}

// Close stops every read loop and closes every bound socket.
func (t *Transport) Close() error {
	t.mu.Lock()
	if t.closed {
		t.mu.Unlock()
		return nil
	}
	t.closed = true
	conns := t.conns
	t.mu.Unlock()

	var firstErr error
	for _, c := range conns {
		if err := c.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	t.wg.Wait()
	return firstErr
}

func (t *Transport) readLoop(conn *net.UDPConn) {
	defer t.wg.Done()
	buf := make([]byte, 4096)
	for {
		n, addr, err := conn.ReadFromUDP(buf)
		if err != nil {
			if t.isClosed() {
				return
			}
			t.reportErr(fmt.Errorf("unicast: read: %w", err))
			continue
		}

		msg := new(dns.Msg)
		if err := msg.Unpack(buf[:n]); err != nil {
			// Malformed packets arise routinely from byzantine network
			// participants; dropped silently per spec §7.
			continue
		}
		t.dispatch(conn, msg, addr)
	}
}

func (t *Transport) dispatch(conn *net.UDPConn, msg *dns.Msg, addr *net.UDPAddr) {
	if msg.Response {
		t.mu.Lock()
		ch, ok := t.pending[msg.Id]
		t.mu.Unlock()
		if ok {
			select {
			case ch <- response{msg: msg, host: addr.IP, port: addr.Port}:
			default:
			}
		}
		return
	}

	t.mu.Lock()
	handler := t.queryHandler
	t.mu.Unlock()
	if handler == nil {
		return
	}
	reply := handler(msg, addr.IP, addr.Port)
	if reply == nil {
		return
	}
	reply.Id = msg.Id
	reply.Response = true
	packed, err := reply.Pack()
	if err != nil {
		t.reportErr(fmt.Errorf("unicast: pack reply: %w", err))
		return
	}
	if _, err := conn.WriteToUDP(packed, addr); err != nil {
		t.reportErr(fmt.Errorf("unicast: send reply: %w", err))
	}
}

func (t *Transport) isClosed() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.closed
}

func (t *Transport) reportErr(err error) {
	if t.errorHandler != nil {
		t.errorHandler(err)
	}
}
