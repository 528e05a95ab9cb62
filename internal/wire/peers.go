package wire

import (
	"encoding/binary"
	"net"
)

// PeerRecord is the minimal (host, port) pair needed to pack/unpack the
// TXT "peers" field; kept independent of internal/store.Peer so this
// package has no dependency on the store.
type PeerRecord struct {
	Host net.IP
	Port uint16
}

// PackPeers concatenates each peer's 6-byte encoding (4 address octets,
// then big-endian port) in order.
func PackPeers(peers []PeerRecord) []byte {
	out := make([]byte, 0, len(peers)*6)
	for _, p := range peers {
		var rec [6]byte
		if ip4 := p.Host.To4(); ip4 != nil {
			copy(rec[0:4], ip4)
		}
		binary.BigEndian.PutUint16(rec[4:6], p.Port)
		out = append(out, rec[:]...)
	}
	return out
}

// UnpackPeers decodes a concatenation of 6-byte peer records. A trailing
// partial record (length not a multiple of 6) is silently ignored, per
// spec §6: "Truncation at non-multiple-of-6 is silently ignored."
func UnpackPeers(data []byte) []PeerRecord {
	n := len(data) / 6
	out := make([]PeerRecord, 0, n)
	for i := 0; i < n; i++ {
		rec := data[i*6 : i*6+6]
		host := net.IPv4(rec[0], rec[1], rec[2], rec[3])
		port := binary.BigEndian.Uint16(rec[4:6])
		out = append(out, PeerRecord{Host: host, Port: port})
	}
	return out
}
