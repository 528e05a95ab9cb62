package coordinate

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/quietsignal/dnsdisco/internal/session"
)

// Observation is the tracker's view of this instance's own apparent
// address, as reported in one probe answer (spec §4.4 "host"/"port").
type Observation struct {
	Host string
	Port int
}

// ErrProbeFailed and ErrInconsistentObservation are wrapped into the
// errors Whoami returns so callers can distinguish them with errors.Is.
var (
	ErrProbeFailed             = errors.New("probe failed")
	ErrInconsistentObservation = errors.New("inconsistent remote port/host")
)

// whoamiRetries is the retry count spec §4.8 requires whoami probes to
// use ("probe every tracker with retries=2"), independent of whatever
// Session.Retries each session carries for its general announce/lookup
// fan-out.
const whoamiRetries = 2

// Whoami implements spec §4.8: with a single tracker there is no
// independent cross-check and the call fails outright; with two or more,
// every tracker is probed concurrently and the first pair of responses
// agreeing on both host and port wins.
func (c *Coordinator) Whoami(ctx context.Context) (Observation, error) {
	if len(c.Sessions) < 2 {
		return Observation{}, fmt.Errorf("coordinate: %w", ErrProbeFailed)
	}

	type result struct {
		obs Observation
		ok  bool
	}
	results := make([]result, len(c.Sessions))
	var wg sync.WaitGroup
	for i, sess := range c.Sessions {
		wg.Add(1)
		go func(i int, sess *session.Session) {
			defer wg.Done()
			host, port, err := sess.ProbeObserve(ctx, whoamiRetries)
			results[i] = result{obs: Observation{Host: host, Port: port}, ok: err == nil}
		}(i, sess)
	}
	wg.Wait()

	var agreeing []Observation
	for _, r := range results {
		if r.ok {
			agreeing = append(agreeing, r.obs)
		}
	}

	// Spec §9 open question: two agreeing responses are accepted here
	// purely because they came from two distinct configured tracker
	// slots, without re-verifying the UDP packets that carried them
	// actually originated from two distinct physical source hosts — the
	// same loophole the original exhibits under retry duplication.
	// Mirrored intentionally, not "fixed".
	for i := 0; i < len(agreeing); i++ {
		for j := i + 1; j < len(agreeing); j++ {
			if agreeing[i] == agreeing[j] {
				return agreeing[i], nil
			}
		}
	}

	if len(agreeing) >= 2 {
		return Observation{}, fmt.Errorf("coordinate: %w", ErrInconsistentObservation)
	}
	return Observation{}, fmt.Errorf("coordinate: %w", ErrProbeFailed)
}
