package dnsdisco

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/quietsignal/dnsdisco/internal/store"
)

// ParseTracker parses a tracker address of the form "host[:port[,secondaryPort]]".
// Missing ports default to store.DefaultTrackerPort (53) and
// store.DefaultTrackerSecondaryPort (5300).
func ParseTracker(s string) (store.TrackerRecord, error) {
	rec := store.TrackerRecord{
		Port:          store.DefaultTrackerPort,
		SecondaryPort: store.DefaultTrackerSecondaryPort,
	}

	host, rest, hasPort := strings.Cut(s, ":")
	if host == "" {
		return store.TrackerRecord{}, fmt.Errorf("%w: empty tracker host in %q", ErrConfig, s)
	}
	rec.Host = host
	if !hasPort {
		return rec, nil
	}

	portStr, secondaryStr, hasSecondary := strings.Cut(rest, ",")
	port, err := strconv.Atoi(portStr)
	if err != nil || port <= 0 || port > 65535 {
		return store.TrackerRecord{}, fmt.Errorf("%w: invalid port in %q", ErrConfig, s)
	}
	rec.Port = port

	if hasSecondary {
		secondary, err := strconv.Atoi(secondaryStr)
		if err != nil || secondary <= 0 || secondary > 65535 {
			return store.TrackerRecord{}, fmt.Errorf("%w: invalid secondary port in %q", ErrConfig, s)
		}
		rec.SecondaryPort = secondary
	}
	// Missing ports, primary or secondary, default individually (spec §6:
	// "Missing ports default to primary=53, secondary=5300") — a tracker
	// with an explicit primary port but no secondary still keeps the
	// default secondary of 5300.
	return rec, nil
}
