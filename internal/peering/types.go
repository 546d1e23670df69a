// Package peering implements the per-node neighbour-discovery and
// maintenance state machine: a bounded datagram handshake that grows a
// set of bidirectional ("bi") neighbours out of a pool of candidate
// ports, demotes and evicts them on silence, and survives outages.
package peering

import "time"

// Port names a node within the simulation and doubles as its loopback
// transport address.
type Port int

// Loopback is the only address family this simulation runs on.
const Loopback = "127.0.0.1"

// PeerInfo is the per-(self,other) record described in spec §3. One is
// created for every port a node is seeded with at construction and it
// lives for the node's whole lifetime, regardless of how many times
// the peer cycles through unknown/uni/bi.
type PeerInfo struct {
	LastSent     time.Time
	LastReceived time.Time

	PacketsSent     int
	PacketsReceived int

	// BecameNeighbour is sticky: set the first time the peer enters
	// bi and never cleared again.
	BecameNeighbour bool

	// ConnectionStartingTime is the zero Time unless the peer is
	// currently in bi (invariant I3).
	ConnectionStartingTime time.Time
	ConnectionLength       time.Duration

	// Neighbours is the peer's own most recently reported bi set.
	Neighbours []Port
}

// finalizeConnection accumulates ConnectionLength for time spent as bi
// up to now and clears ConnectionStartingTime. Safe to call even when
// the peer was never connected (ConnectionStartingTime is zero).
func (p *PeerInfo) finalizeConnection(now time.Time) {
	if p.ConnectionStartingTime.IsZero() {
		return
	}
	p.ConnectionLength += now.Sub(p.ConnectionStartingTime)
	p.ConnectionStartingTime = time.Time{}
}
