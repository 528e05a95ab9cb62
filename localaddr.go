package dnsdisco

import "net"

// localPrimaryIPv4 returns the IPv4 address the OS would route traffic
// to the public internet from, used to substitute the sentinel 0.0.0.0
// when answering A/SRV queries about self-announced peers (spec §4.4).
// IPv4-address lookup for the local host is named in spec §1 as an
// external collaborator the core only consumes an interface from; this
// is that interface's minimal concrete implementation — no library in
// the retrieval pack resolves a host's own outbound address, so this is
// the one piece of networking plumbing dnsdisco owns outright rather
// than delegating to the unicast/multicast transports.
func localPrimaryIPv4() net.IP {
	conn, err := net.Dial("udp4", "203.0.113.1:53")
	if err != nil {
		return net.IPv4zero
	}
	defer conn.Close()
	addr, ok := conn.LocalAddr().(*net.UDPAddr)
	if !ok {
		return net.IPv4zero
	}
	return addr.IP.To4()
}
