package dnsdisco

import "encoding/json"

// jsonPeer is the wire shape for one peer entry in MarshalJSON's output.
type jsonPeer struct {
	Host string `json:"host"`
	Port uint16 `json:"port"`
}

// MarshalJSON serializes the main peer store as
// {"<hex topic id>": [{"host", "port"}, ...]}, in each topic's insertion
// order (Store.Iterate, not the randomized Store.Get), resolving spec
// §9's open question on the toJSON schema per SPEC_FULL §3. Topics with
// no peers are never present, matching invariant I3.
func (inst *Instance) MarshalJSON() ([]byte, error) {
	byTopic := inst.store.Iterate()
	out := make(map[string][]jsonPeer, len(byTopic))
	for topic, peers := range byTopic {
		entries := make([]jsonPeer, len(peers))
		for i, p := range peers {
			entries[i] = jsonPeer{Host: p.Host.String(), Port: p.Port}
		}
		out[topic] = entries
	}
	return json.Marshal(out)
}
