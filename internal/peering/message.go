package peering

import (
	"encoding/json"
	"sort"
	"time"

	"github.com/pkg/errors"
)

const (
	// MessageTypeHello is the only datagram type this protocol speaks
	// (spec §4.1). Non-goals rule out any richer ZRE-style message
	// vocabulary (WHISPER/SHOUT/JOIN/...).
	MessageTypeHello = "Hello"

	// MaxDatagramBytes is the MTU named in spec §4.1 / §6.
	MaxDatagramBytes = 1000
)

// Address is the sender's "src" address pair carried in every Hello.
type Address struct {
	IP   string `json:"IP"`
	Port Port   `json:"port"`
}

// Hello is the wire format of spec §4.1: a JSON object naming the
// sender, its current uni/bi sets, and its last-send/last-receive
// timestamps with respect to the specific recipient.
type Hello struct {
	ID            Port       `json:"id"`
	Src           Address    `json:"src"`
	Type          string     `json:"type"`
	UniNeighbours []Port     `json:"uniNeighbours"`
	BiNeighbours  []Port     `json:"biNeighbours"`
	LastSent      *time.Time `json:"lastSent"`
	LastReceived  *time.Time `json:"lastReceived"`
}

// timeOrNil turns a zero Time (spec's "timestamp or zero") into a nil
// pointer so it serializes as JSON null rather than the zero instant.
func timeOrNil(t time.Time) *time.Time {
	if t.IsZero() {
		return nil
	}
	return &t
}

// buildHello recomputes the sender's last-send/last-receive timestamps
// with respect to dst immediately before transmission, as spec §4.1
// requires, rather than sharing one mutable message struct across
// concurrent senders (see DESIGN.md).
func buildHello(self Port, uni, bi []Port, lastSent, lastReceived time.Time) Hello {
	return Hello{
		ID:            self,
		Src:           Address{IP: Loopback, Port: self},
		Type:          MessageTypeHello,
		UniNeighbours: sortedPorts(uni),
		BiNeighbours:  sortedPorts(bi),
		LastSent:      timeOrNil(lastSent),
		LastReceived:  timeOrNil(lastReceived),
	}
}

func sortedPorts(ports []Port) []Port {
	out := append([]Port(nil), ports...)
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

// marshalHello serializes h and enforces the MTU named in spec §4.1.
func marshalHello(h Hello) ([]byte, error) {
	data, err := json.Marshal(h)
	if err != nil {
		return nil, errors.Wrap(err, "marshal hello datagram")
	}
	if len(data) > MaxDatagramBytes {
		return nil, errors.Errorf("hello datagram is %d bytes, exceeds MTU of %d", len(data), MaxDatagramBytes)
	}
	return data, nil
}

// unmarshalHello parses a received datagram. A parse failure is a
// malformed-datagram condition (spec §7): the caller discards it and
// continues, it is never fatal.
func unmarshalHello(data []byte) (Hello, error) {
	var h Hello
	if err := json.Unmarshal(data, &h); err != nil {
		return Hello{}, errors.Wrap(err, "unmarshal hello datagram")
	}
	return h, nil
}

// mutuallyVisible implements the mutual-visibility test M of spec
// §4.1: true iff self is named in the sender's advertised uni or bi
// sets.
func mutuallyVisible(self Port, h Hello) bool {
	for _, p := range h.UniNeighbours {
		if p == self {
			return true
		}
	}
	for _, p := range h.BiNeighbours {
		if p == self {
			return true
		}
	}
	return false
}
