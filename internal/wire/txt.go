// Package wire implements the two small, domain-specific wire formats the
// core consumes as external collaborators per spec §6: the TXT record
// key/value encoding, and the 6-byte peer-list packing used inside TXT
// "peers" fields.
package wire

import "strings"

// Recognized TXT keys (spec §6).
const (
	KeyToken      = "token"
	KeyHost       = "host"
	KeyPort       = "port"
	KeyPeers      = "peers"
	KeyAnnounce   = "announce"
	KeyUnannounce = "unannounce"
	KeySubscribe  = "subscribe"
)

// EncodeTXT renders a key/value map as the strings a dns.TXT record's Txt
// field holds, one "key=value" string per entry. Order is not significant
// to decoders; callers that care about deterministic wire bytes should
// pass entries through in a fixed key order (the session package does).
func EncodeTXT(kv map[string]string) []string {
	out := make([]string, 0, len(kv))
	for k, v := range kv {
		out = append(out, k+"="+v)
	}
	return out
}

// EncodeTXTOrdered renders kv using the given key order, skipping keys
// absent from kv. Used where the spec's wire scenarios list fields in a
// specific order (announce/unannounce payloads).
func EncodeTXTOrdered(kv map[string]string, order []string) []string {
	out := make([]string, 0, len(order))
	for _, k := range order {
		if v, ok := kv[k]; ok {
			out = append(out, k+"="+v)
		}
	}
	return out
}

// DecodeTXT parses a dns.TXT record's Txt strings back into a key/value
// map. Malformed entries (no "=") are silently skipped, matching spec §7:
// "Decode failures on TXT payloads... are dropped silently."
func DecodeTXT(txt []string) map[string]string {
	out := make(map[string]string, len(txt))
	for _, s := range txt {
		i := strings.IndexByte(s, '=')
		if i < 0 {
			continue
		}
		out[s[:i]] = s[i+1:]
	}
	return out
}
