package dnsdisco

import "encoding/hex"

// TopicID renders a topic identifier for the wire: lowercase hex (spec
// §3 "rendered on the wire as lowercase hex"). hex.EncodeToString always
// produces lowercase, so any two callers holding the same underlying
// bytes map to the same topic regardless of how they obtained them (spec
// §6: "The same id in distinct encodings must map to the same topic").
func TopicID(id []byte) string {
	return hex.EncodeToString(id)
}

// FQDN joins a rendered topic id with the configured domain, e.g.
// "abcd.dns-discovery.local.".
func FQDN(topic, domain string) string {
	return topic + "." + domain + "."
}
