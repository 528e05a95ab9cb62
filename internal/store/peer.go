// Package store implements the bounded, TTL-evicting peer collection used
// both as the main peer-set store and as the push-notification subscriber
// store.
package store

import (
	"encoding/binary"
	"net"
)

// Peer is a single (host, port) tuple announced under a topic.
//
// The zero IPv4 address 0.0.0.0 is a sentinel meaning "the sender's
// apparent address"; callers substitute it with the observed source
// address before emitting a peer event, never inside the store itself.
type Peer struct {
	Host net.IP
	Port uint16

	// wire caches the 6-byte encoding computed at insertion time. Peers
	// are treated as immutable once inserted (see spec note on buffer
	// caching) so this is never invalidated after construction.
	wire [6]byte
}

// NewPeer builds a Peer and pre-computes its wire encoding.
func NewPeer(host net.IP, port uint16) Peer {
	p := Peer{Host: host, Port: port}
	ip4 := host.To4()
	if ip4 != nil {
		copy(p.wire[0:4], ip4)
	}
	binary.BigEndian.PutUint16(p.wire[4:6], port)
	return p
}

// Wire returns the cached 6-byte wire encoding: 4 address octets followed
// by the big-endian port.
func (p Peer) Wire() [6]byte {
	return p.wire
}

// Equal reports whether two peers share the same host and port. IPv4
// addresses are compared in their 4-byte form so "0.0.0.0" and an
// equivalent 16-byte representation compare equal.
func (p Peer) Equal(other Peer) bool {
	return p.Host.Equal(other.Host) && p.Port == other.Port
}

func (p Peer) isSentinel() bool {
	ip4 := p.Host.To4()
	return ip4 != nil && ip4.Equal(net.IPv4zero)
}

// WithHost returns a copy of p with its host replaced, re-deriving the
// wire cache. Used to substitute the sentinel 0.0.0.0 for an observed
// source address.
func (p Peer) WithHost(host net.IP) Peer {
	return NewPeer(host, p.Port)
}
