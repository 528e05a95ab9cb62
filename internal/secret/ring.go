// Package secret implements the two-generation secret ring and per-tracker
// token table described in spec §3 and §4.2.
package secret

import (
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"fmt"
	"net"
	"sync"
)

// SecretSize is the length in bytes of each generation's random secret.
const SecretSize = 32

// Match is the outcome of validating a submitted token against the ring.
type Match int

const (
	MatchNone  Match = iota // no generation produced this token for this host
	MatchFresh              // matches the current generation
	MatchGrace              // matches the prior generation
)

// Ring holds the current and prior 32-byte secrets used to mint and
// validate tokens. A token issued to a peer at address H is
// base64(SHA-256(current ‖ H)); the prior generation is accepted for one
// more rotation cycle (the "grace" generation).
//
// Safe for concurrent use: Issue/Validate are called from every transport
// readLoop goroutine while Rotate runs from the instance's rotation timer,
// matching the locking TokenTable already does for its own state.
type Ring struct {
	mu             sync.Mutex
	prior, current [SecretSize]byte
}

// NewRing creates a ring with two freshly generated secrets.
func NewRing() (*Ring, error) {
	r := &Ring{}
	if _, err := rand.Read(r.prior[:]); err != nil {
		return nil, fmt.Errorf("secret: generate prior: %w", err)
	}
	if _, err := rand.Read(r.current[:]); err != nil {
		return nil, fmt.Errorf("secret: generate current: %w", err)
	}
	return r, nil
}

// Issue computes the current generation's token for host.
func (r *Ring) Issue(host net.IP) string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return hash(r.current, host)
}

// Validate reports how (if at all) token matches host against either
// generation.
func (r *Ring) Validate(token string, host net.IP) Match {
	if token == "" {
		return MatchNone
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if token == hash(r.current, host) {
		return MatchFresh
	}
	if token == hash(r.prior, host) {
		return MatchGrace
	}
	return MatchNone
}

// Rotate shifts the current generation into the grace slot and generates
// a new current secret. Called by the instance's 5-minute rotation timer
// when the instance is listening (server mode).
func (r *Ring) Rotate() error {
	var fresh [SecretSize]byte
	if _, err := rand.Read(fresh[:]); err != nil {
		return fmt.Errorf("secret: rotate: %w", err)
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.prior = r.current
	r.current = fresh
	return nil
}

// hash computes base64(SHA-256(secret ‖ H)) where H is the host's textual
// dotted-quad form, matching spec §8 scenario S6 literally
// (token = base64(SHA-256(S1‖"203.0.113.9"))) — the hash input is the
// address's string representation, not its 4 raw octets.
func hash(secret [SecretSize]byte, host net.IP) string {
	h := sha256.New()
	h.Write(secret[:])
	h.Write([]byte(host.String()))
	return base64.StdEncoding.EncodeToString(h.Sum(nil))
}
