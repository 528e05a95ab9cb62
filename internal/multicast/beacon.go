package multicast

import (
	"fmt"

	"github.com/grandcat/zeroconf"
)

// ServiceName is the mDNS service type dnsdisco registers itself under
// for operator visibility (dns-sd -B _dnsdisco._udp, avahi-browse).
const ServiceName = "_dnsdisco._udp"

// Beacon is a courtesy zeroconf registration, separate from the protocol
// transport above: it exists so `dns-sd`/`avahi-browse`-style tooling can
// see that a dnsdisco instance is running on the LAN. It does not
// participate in announce/lookup/unannounce — that traffic is the custom
// TXT/SRV/A framing in Transport, which zeroconf's PTR/SRV/TXT-for-
// "_service._proto.local" model cannot express.
//
// Grounded on DobryySoul-gossipkv/internal/discovery/mdns.go's
// zeroconf.Register/NewResolver usage, trimmed to registration only.
type Beacon struct {
	server *zeroconf.Server
}

// NewBeacon registers instanceID as present on port, tagged with domain so
// peers running the same dnsdisco domain can recognize each other's
// beacons (though, again, this is advisory only — not the discovery
// protocol itself).
func NewBeacon(instanceID, domain string, port int) (*Beacon, error) {
	server, err := zeroconf.Register(instanceID, ServiceName, "local.", port, []string{
		"domain=" + domain,
	}, nil)
	if err != nil {
		return nil, fmt.Errorf("multicast: beacon register: %w", err)
	}
	return &Beacon{server: server}, nil
}

// Stop withdraws the beacon registration.
func (b *Beacon) Stop() {
	if b == nil || b.server == nil {
		return
	}
	b.server.Shutdown()
}
