package dnsdisco

import (
	"crypto/rand"
	"encoding/base64"
	"fmt"
	"time"

	"github.com/quietsignal/dnsdisco/internal/store"
)

// DefaultDomain is the domain suffix topic ids are rendered under when no
// domain is configured (spec §3: "<domain> is a configuration constant,
// default dns-discovery.local").
const DefaultDomain = "dns-discovery.local"

// Option configures an Instance on creation. Return an error to reject an
// invalid option value.
type Option func(*Config) error

// Config holds runtime configuration for a dnsdisco Instance. Users
// typically set it via the With* option helpers.
type Config struct {
	Domain            string
	Trackers          []store.TrackerRecord
	Multicast         bool
	ImpliedPort       bool
	StoreTTL          time.Duration
	StoreLimit        int
	SubscriptionTTL   time.Duration
	SubscriptionLimit int
	Beacon            bool
	instanceID        string
	errorHandler      func(error)
}

func defaultConfig() Config {
	return Config{
		Domain:            DefaultDomain,
		Multicast:         true,
		StoreLimit:        10000,
		SubscriptionTTL:   60 * time.Second,
		SubscriptionLimit: 1000,
		Beacon:            true,
	}
}

func (c *Config) finalize() error {
	if c.instanceID == "" {
		id, err := randomInstanceID()
		if err != nil {
			return err
		}
		c.instanceID = id
	}
	if c.Domain == "" {
		return fmt.Errorf("%w: domain cannot be empty", ErrConfig)
	}
	return nil
}

// WithDomain overrides the default "dns-discovery.local" suffix topic ids
// are rendered under.
func WithDomain(domain string) Option {
	return func(c *Config) error {
		if domain == "" {
			return fmt.Errorf("%w: domain cannot be empty", ErrConfig)
		}
		c.Domain = domain
		return nil
	}
}

// WithTrackers configures the authoritative trackers to fan out to,
// parsing each address with ParseTracker.
func WithTrackers(addrs []string) Option {
	return func(c *Config) error {
		trackers := make([]store.TrackerRecord, 0, len(addrs))
		for _, addr := range addrs {
			rec, err := ParseTracker(addr)
			if err != nil {
				return err
			}
			trackers = append(trackers, rec)
		}
		c.Trackers = trackers
		return nil
	}
}

// WithMulticast enables or disables the mDNS transport leg of every visit.
func WithMulticast(enabled bool) Option {
	return func(c *Config) error {
		c.Multicast = enabled
		return nil
	}
}

// WithImpliedPort sets the implied-port flag: when true, announce and
// unannounce send the textual port "0" regardless of the supplied port,
// signaling the tracker to use the observed UDP source port instead
// (spec §4.3 "Implied port").
func WithImpliedPort(enabled bool) Option {
	return func(c *Config) error {
		c.ImpliedPort = enabled
		return nil
	}
}

// WithStoreLimits sets the main peer store's ttl (0 disables expiry) and
// limit (0 disables the cap).
func WithStoreLimits(ttl time.Duration, limit int) Option {
	return func(c *Config) error {
		if ttl < 0 {
			return fmt.Errorf("%w: store ttl cannot be negative", ErrConfig)
		}
		if limit < 0 {
			return fmt.Errorf("%w: store limit cannot be negative", ErrConfig)
		}
		c.StoreTTL = ttl
		c.StoreLimit = limit
		return nil
	}
}

// WithSubscriptionLimits sets the push-subscriber store's ttl and limit.
// Defaults to 60s ttl per spec §3.
func WithSubscriptionLimits(ttl time.Duration, limit int) Option {
	return func(c *Config) error {
		if ttl < 0 {
			return fmt.Errorf("%w: subscription ttl cannot be negative", ErrConfig)
		}
		if limit < 0 {
			return fmt.Errorf("%w: subscription limit cannot be negative", ErrConfig)
		}
		c.SubscriptionTTL = ttl
		c.SubscriptionLimit = limit
		return nil
	}
}

// WithBeacon enables or disables the operator-visibility zeroconf beacon
// registered while listening. It has no effect on the discovery protocol
// itself.
func WithBeacon(enabled bool) Option {
	return func(c *Config) error {
		c.Beacon = enabled
		return nil
	}
}

// WithInstanceID overrides the random 32-byte instance id (primarily for
// tests needing deterministic ids).
func WithInstanceID(id string) Option {
	return func(c *Config) error {
		if id == "" {
			return fmt.Errorf("%w: instance id cannot be empty", ErrConfig)
		}
		c.instanceID = id
		return nil
	}
}

// WithErrorHandler sets a callback for internal errors (transport,
// decode). It is best-effort and must be fast and non-blocking.
func WithErrorHandler(handler func(error)) Option {
	return func(c *Config) error {
		if handler == nil {
			return fmt.Errorf("%w: error handler cannot be nil", ErrConfig)
		}
		c.errorHandler = handler
		return nil
	}
}

func randomInstanceID() (string, error) {
	var buf [32]byte
	if _, err := rand.Read(buf[:]); err != nil {
		return "", fmt.Errorf("dnsdisco: generate instance id: %w", err)
	}
	return base64.StdEncoding.EncodeToString(buf[:]), nil
}
