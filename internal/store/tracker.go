package store

// TrackerRecord describes one configured tracker and the mutable
// dual-port-probe state spec §3 assigns to it.
//
// Port defaults to 53 and SecondaryPort to 5300 when unset by the caller.
// On the first successful probe to either port, SecondaryPort is cleared
// and Port becomes the winning port; this is persistent for the lifetime
// of the instance (spec §9: "no fallback to the losing port is attempted
// later").
type TrackerRecord struct {
	Host          string
	Port          int
	SecondaryPort int
}

const (
	DefaultTrackerPort          = 53
	DefaultTrackerSecondaryPort = 5300
)

// WinPort records that port won a dual-port probe race, clearing
// SecondaryPort for the rest of the instance's lifetime.
func (t *TrackerRecord) WinPort(port int) {
	t.Port = port
	t.SecondaryPort = 0
}
