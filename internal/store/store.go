package store

import (
	"container/list"
	"crypto/rand"
	"math/big"
	"sync"
	"time"
)

// entry is one peer tagged with its insertion/refresh time and its
// position in the store-wide insertion-order list, used to find the
// globally oldest entry in O(1) when limit eviction kicks in.
type entry struct {
	peer       Peer
	insertedAt time.Time
	topic      string
	elem       *list.Element
}

// Store is a bounded, TTL-evicting collection of topic -> set of peers.
// It is safe for concurrent use. ttl == 0 disables expiration; limit == 0
// disables the total-peer cap.
//
// Store backs both the main peer set and the push-notification subscriber
// set (spec: "Subscription store... identical shape to the main store").
type Store struct {
	mu      sync.Mutex
	ttl     time.Duration
	limit   int
	clock   func() time.Time
	byTopic map[string][]*entry
	order   *list.List // global insertion order, oldest at Front
	total   int
}

// New creates a peer store with the given ttl and limit.
func New(ttl time.Duration, limit int) *Store {
	return &Store{
		ttl:     ttl,
		limit:   limit,
		clock:   time.Now,
		byTopic: make(map[string][]*entry),
		order:   list.New(),
	}
}

// Add inserts (topic, peer) and returns true iff the tuple was not already
// present. A duplicate insertion refreshes the timestamp and returns
// false. Enforces limit by evicting the globally oldest entry before
// inserting a genuinely new tuple.
func (s *Store) Add(topic string, peer Peer) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.purgeLocked(topic)

	entries := s.byTopic[topic]
	for _, e := range entries {
		if e.peer.Equal(peer) {
			e.insertedAt = s.clock()
			s.order.MoveToBack(e.elem)
			return false
		}
	}

	if s.limit > 0 && s.total >= s.limit {
		s.evictOldestLocked()
	}

	e := &entry{peer: peer, insertedAt: s.clock(), topic: topic}
	e.elem = s.order.PushBack(e)
	s.byTopic[topic] = append(entries, e)
	s.total++
	return true
}

// Remove deletes the exact (topic, peer) tuple. No-op if absent.
func (s *Store) Remove(topic string, peer Peer) {
	s.mu.Lock()
	defer s.mu.Unlock()

	entries := s.byTopic[topic]
	for i, e := range entries {
		if e.peer.Equal(peer) {
			s.order.Remove(e.elem)
			entries = append(entries[:i], entries[i+1:]...)
			s.total--
			break
		}
	}
	if len(entries) == 0 {
		delete(s.byTopic, topic) // invariant I3
	} else {
		s.byTopic[topic] = entries
	}
}

// Get returns up to max peers for topic, sampled uniformly at random
// without replacement (spec: "Callers rely on this randomization to
// fairly spread load" — never the head of the list).
func (s *Store) Get(topic string, max int) []Peer {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.purgeLocked(topic)

	entries := s.byTopic[topic]
	if len(entries) == 0 || max <= 0 {
		return nil
	}

	pool := make([]Peer, len(entries))
	for i, e := range entries {
		pool[i] = e.peer
	}
	if max >= len(pool) {
		shuffle(pool)
		return pool
	}
	return partialShuffleSample(pool, max)
}

// Iterate returns every topic's peers in insertion order, for JSON export.
// Unlike Get, this is not randomized.
func (s *Store) Iterate() map[string][]Peer {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make(map[string][]Peer, len(s.byTopic))
	for topic := range s.byTopic {
		s.purgeLocked(topic)
	}
	for topic, entries := range s.byTopic {
		peers := make([]Peer, len(entries))
		for i, e := range entries {
			peers[i] = e.peer
		}
		out[topic] = peers
	}
	return out
}

// Len returns the total number of peers across all topics.
func (s *Store) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.total
}

func (s *Store) purgeLocked(topic string) {
	if s.ttl == 0 {
		return
	}
	entries := s.byTopic[topic]
	if len(entries) == 0 {
		return
	}
	now := s.clock()
	kept := entries[:0:0]
	for _, e := range entries {
		if now.Sub(e.insertedAt) <= s.ttl {
			kept = append(kept, e)
			continue
		}
		s.order.Remove(e.elem)
		s.total--
	}
	if len(kept) == 0 {
		delete(s.byTopic, topic)
	} else {
		s.byTopic[topic] = kept
	}
}

func (s *Store) evictOldestLocked() {
	front := s.order.Front()
	if front == nil {
		return
	}
	oldest := front.Value.(*entry)
	s.order.Remove(front)
	entries := s.byTopic[oldest.topic]
	for i, e := range entries {
		if e == oldest {
			entries = append(entries[:i], entries[i+1:]...)
			break
		}
	}
	if len(entries) == 0 {
		delete(s.byTopic, oldest.topic)
	} else {
		s.byTopic[oldest.topic] = entries
	}
	s.total--
}

// shuffle performs an in-place Fisher-Yates shuffle using a
// cryptographically random index, matching the teacher's cryptoIntn
// idiom in internal/gossip/node.go.
func shuffle(peers []Peer) {
	for i := len(peers) - 1; i > 0; i-- {
		j := cryptoIntn(i + 1)
		peers[i], peers[j] = peers[j], peers[i]
	}
}

// partialShuffleSample runs a partial Fisher-Yates shuffle over pool in
// place (Get passes it a scratch copy) and returns a copy of the first n
// elements, avoiding a full shuffle when only a small sample is needed.
func partialShuffleSample(pool []Peer, n int) []Peer {
	for i := 0; i < n; i++ {
		j := i + cryptoIntn(len(pool)-i)
		pool[i], pool[j] = pool[j], pool[i]
	}
	return append([]Peer(nil), pool[:n]...)
}

func cryptoIntn(n int) int {
	if n <= 0 {
		return 0
	}
	v, err := rand.Int(rand.Reader, big.NewInt(int64(n)))
	if err != nil {
		return 0
	}
	return int(v.Int64())
}
