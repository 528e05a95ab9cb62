package dnsdisco

import (
	"context"
	"errors"
	"fmt"
	"net"
	"sync"
	"time"

	"github.com/miekg/dns"

	"github.com/quietsignal/dnsdisco/internal/coordinate"
	"github.com/quietsignal/dnsdisco/internal/multicast"
	"github.com/quietsignal/dnsdisco/internal/secret"
	"github.com/quietsignal/dnsdisco/internal/session"
	"github.com/quietsignal/dnsdisco/internal/store"
	"github.com/quietsignal/dnsdisco/internal/unicast"
)

// rotationInterval is how often the secret ring rotates and the client
// token table ages, per spec §3 "A background process rotates secrets
// every 5 minutes".
const rotationInterval = 5 * time.Minute

// Instance is a running discovery participant: it may act purely as a
// client (no bound ports), purely as a tracker (bound ports answering
// queries), or both at once. The zero value is not usable; construct
// with New.
type Instance struct {
	cfg Config

	store         *store.Store
	subscriptions *store.Store
	ring          *secret.Ring
	tokens        *secret.TokenTable

	uni   *unicast.Transport
	multi *multicast.Transport
	beac  *multicast.Beacon

	sessions    []*session.Session
	coordinator *coordinate.Coordinator

	localIP net.IP
	bus     eventBus

	mu        sync.Mutex
	listening bool
	closed    bool
	closeOnce sync.Once

	rotateStop chan struct{}
	rotateDone chan struct{}
}

// New creates a discovery instance configured by opts. The returned
// instance does not bind any server ports until Listen is called, but
// its multicast transport joins the link-local mDNS group immediately
// (mDNS has no separate "server mode" the way the unicast trackers do).
func New(opts ...Option) (*Instance, error) {
	cfg := defaultConfig()
	for _, opt := range opts {
		if opt == nil {
			continue
		}
		if err := opt(&cfg); err != nil {
			return nil, err
		}
	}
	if err := cfg.finalize(); err != nil {
		return nil, err
	}

	ring, err := secret.NewRing()
	if err != nil {
		return nil, fmt.Errorf("dnsdisco: %w", err)
	}

	inst := &Instance{
		cfg:           cfg,
		store:         store.New(cfg.StoreTTL, cfg.StoreLimit),
		subscriptions: store.New(cfg.SubscriptionTTL, cfg.SubscriptionLimit),
		ring:          ring,
		tokens:        secret.NewTokenTable(),
		localIP:       localPrimaryIPv4(),
		rotateStop:    make(chan struct{}),
		rotateDone:    make(chan struct{}),
	}

	uni, err := unicast.New(inst.reportError)
	if err != nil {
		return nil, fmt.Errorf("dnsdisco: %w", err)
	}
	inst.uni = uni
	uni.OnQuery(inst.handleUnicastQuery)

	inst.sessions = make([]*session.Session, len(cfg.Trackers))
	for i := range cfg.Trackers {
		inst.sessions[i] = &session.Session{
			Index:   i,
			Tracker: &cfg.Trackers[i],
			Tokens:  inst.tokens,
			Tr:      inst.uni,
			Domain:  cfg.Domain,
			Retries: 0,
		}
	}

	if cfg.Multicast {
		multi, err := multicast.New(nil, inst.reportError)
		if err != nil {
			_ = uni.Close()
			return nil, fmt.Errorf("dnsdisco: %w", err)
		}
		inst.multi = multi
		multi.OnMessage(inst.handleMulticastMessage)
	}

	inst.coordinator = &coordinate.Coordinator{
		Sessions:  inst.sessions,
		Multicast: inst.multi,
		Store:     inst.store,
		Domain:    cfg.Domain,
		EmitPeer:  inst.emitPeer,
	}

	go inst.rotateLoop()
	return inst, nil
}

// Listen binds the unicast transport to ports (default [53, 5300]) and
// registers the operator-visibility beacon, if enabled. Calling Listen
// more than once returns ErrAlreadyListening (spec §4.9).
func (inst *Instance) Listen(ports ...int) error {
	if len(ports) == 0 {
		ports = []int{store.DefaultTrackerPort, store.DefaultTrackerSecondaryPort}
	}

	inst.mu.Lock()
	if inst.closed {
		inst.mu.Unlock()
		return ErrClosed
	}
	if inst.listening {
		inst.mu.Unlock()
		return ErrAlreadyListening
	}
	inst.mu.Unlock()

	if err := inst.uni.Bind(ports); err != nil {
		return fmt.Errorf("dnsdisco: %w", err)
	}

	if inst.cfg.Beacon {
		beac, err := multicast.NewBeacon(inst.cfg.instanceID, inst.cfg.Domain, ports[0])
		if err != nil {
			inst.reportError(err)
		} else {
			inst.beac = beac
		}
	}

	inst.mu.Lock()
	inst.listening = true
	inst.mu.Unlock()

	inst.bus.emit(Event{Kind: EventListening})
	return nil
}

// Announce publishes that this instance serves port for topic id,
// fanning out to every configured tracker and, if enabled, to
// multicast.
func (inst *Instance) Announce(ctx context.Context, id []byte, port int) error {
	return inst.visit(ctx, session.KindAnnounce, id, port)
}

// Unannounce retracts a previous Announce.
func (inst *Instance) Unannounce(ctx context.Context, id []byte, port int) error {
	return inst.visit(ctx, session.KindUnannounce, id, port)
}

// Lookup discovers other participants serving topic id. Discovered
// peers arrive as EventPeer values on the Subscribe channel; Lookup's
// return value only reports whether the fan-out itself succeeded.
func (inst *Instance) Lookup(ctx context.Context, id []byte) error {
	return inst.visit(ctx, session.KindLookup, id, 0)
}

func (inst *Instance) visit(ctx context.Context, kind session.Kind, id []byte, port int) error {
	if inst.isClosed() {
		return ErrClosed
	}
	topic := TopicID(id)
	err := inst.coordinator.Visit(ctx, kind, topic, port, inst.cfg.ImpliedPort)
	if err != nil {
		return fmt.Errorf("%w", ErrQueryFailed)
	}
	return nil
}

// Whoami asks at least two configured trackers how they observe this
// instance's own address, returning their consensus (spec §4.8).
func (inst *Instance) Whoami(ctx context.Context) (PeerInfo, error) {
	if inst.isClosed() {
		return PeerInfo{}, ErrClosed
	}
	obs, err := inst.coordinator.Whoami(ctx)
	if err != nil {
		if errors.Is(err, coordinate.ErrInconsistentObservation) {
			return PeerInfo{}, fmt.Errorf("%w", ErrInconsistentObservation)
		}
		return PeerInfo{}, fmt.Errorf("%w", ErrProbeFailed)
	}
	host := net.ParseIP(obs.Host)
	return PeerInfo{Host: host, Port: uint16(obs.Port)}, nil
}

// Peers returns the peers currently held in the main store for topic id,
// in the same insertion order ToJSON's per-topic list reflects.
func (inst *Instance) Peers(id []byte) []PeerInfo {
	return peerInfos(inst.store.Iterate()[TopicID(id)])
}

// Subscribers returns the peers currently subscribed to topic id (the
// push-notification subscriber set, distinct from the main store).
func (inst *Instance) Subscribers(id []byte) []PeerInfo {
	return peerInfos(inst.subscriptions.Iterate()[TopicID(id)])
}

func peerInfos(peers []store.Peer) []PeerInfo {
	if len(peers) == 0 {
		return nil
	}
	out := make([]PeerInfo, len(peers))
	for i, p := range peers {
		out[i] = PeerInfo{Host: p.Host, Port: p.Port}
	}
	return out
}

// Subscribe returns a channel of every Event this instance emits.
// Delivery is best-effort: a full channel drops the event rather than
// blocking the instance's internal processing.
func (inst *Instance) Subscribe(buffer int) <-chan Event {
	return inst.bus.subscribe(buffer)
}

// ToJSON returns the main peer store's contents keyed by topic id, per
// the schema SPEC_FULL §3 defines to resolve spec §9's open question.
func (inst *Instance) ToJSON() ([]byte, error) {
	return inst.MarshalJSON()
}

// Close tears down every transport, stops the rotation timer, and
// emits EventClose exactly once.
func (inst *Instance) Close() error {
	var err error
	inst.closeOnce.Do(func() {
		close(inst.rotateStop)
		<-inst.rotateDone

		if inst.beac != nil {
			inst.beac.Stop()
		}
		if inst.multi != nil {
			if e := inst.multi.Close(); e != nil {
				err = e
			}
		}
		if e := inst.uni.Close(); e != nil && err == nil {
			err = e
		}

		inst.mu.Lock()
		inst.closed = true
		inst.mu.Unlock()

		inst.bus.emit(Event{Kind: EventClose})
	})
	return err
}

func (inst *Instance) rotateLoop() {
	defer close(inst.rotateDone)
	ticker := time.NewTicker(rotationInterval)
	defer ticker.Stop()
	for {
		select {
		case <-inst.rotateStop:
			return
		case <-ticker.C:
			if inst.isListening() {
				if err := inst.ring.Rotate(); err != nil {
					inst.reportError(err)
				}
			}
			inst.tokens.Advance()
		}
	}
}

func (inst *Instance) isListening() bool {
	inst.mu.Lock()
	defer inst.mu.Unlock()
	return inst.listening
}

func (inst *Instance) isClosed() bool {
	inst.mu.Lock()
	defer inst.mu.Unlock()
	return inst.closed
}

func (inst *Instance) emitPeer(topic string, peer store.Peer) {
	inst.bus.emit(Event{
		Kind:  EventPeer,
		Topic: topic,
		Peer:  PeerInfo{Host: peer.Host, Port: peer.Port},
	})
}

func (inst *Instance) reportError(err error) {
	inst.bus.emit(Event{Kind: EventError, Err: err})
	if inst.cfg.errorHandler != nil {
		inst.cfg.errorHandler(err)
	}
}

func (inst *Instance) handleUnicastQuery(msg *dns.Msg, host net.IP, port int) *dns.Msg {
	inst.ingestMessageRecords(msg, host, port)
	if !inst.isListening() {
		return nil
	}
	return session.BuildReply(msg, inst.responderDeps(), host, port, false)
}

func (inst *Instance) handleMulticastMessage(msg *dns.Msg, host net.IP, port int) {
	if inst.isListening() && len(msg.Question) > 0 && !msg.Response {
		if reply := session.BuildReply(msg, inst.responderDeps(), host, port, true); reply != nil {
			if err := inst.multi.Send(reply); err != nil {
				inst.reportError(err)
			}
		}
	}
	inst.ingestMessageRecords(msg, host, port)
}

func (inst *Instance) ingestMessageRecords(msg *dns.Msg, host net.IP, port int) {
	deps := inst.ingestDeps()
	for _, rr := range msg.Answer {
		session.IngestAnswer(rr, host, port, deps)
	}
	for _, rr := range msg.Extra {
		session.IngestAnswer(rr, host, port, deps)
	}
}

func (inst *Instance) responderDeps() session.ResponderDeps {
	return session.ResponderDeps{
		Store:   inst.store,
		Ring:    inst.ring,
		Domain:  inst.cfg.Domain,
		LocalIP: inst.localIP,
	}
}

func (inst *Instance) ingestDeps() session.IngestDeps {
	return session.IngestDeps{
		Ring:          inst.ring,
		Store:         inst.store,
		Subscriptions: inst.subscriptions,
		Domain:        inst.cfg.Domain,
		Listening:     inst.isListening(),
		EmitPeer:      inst.emitPeer,
		Push:          inst.triggerPush,
	}
}

func (inst *Instance) triggerPush(topic string, peer store.Peer) {
	ttl := uint32(inst.cfg.SubscriptionTTL / time.Second)
	session.Push(inst.subscriptions, inst.uni, inst.cfg.Domain, topic, peer, ttl)
}

