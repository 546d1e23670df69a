package peering

import "time"

// receiveBufferSize is sized comfortably above MaxDatagramBytes; it is
// just a receive buffer, not a protocol limit.
const receiveBufferSize = 2048

// runReceiver blocks on the datagram socket for the node's whole
// lifetime. It is acceptable (spec §5 Cancellation) for it to remain
// blocked on the read syscall at done; Terminate closes the socket to
// unblock it.
func (n *Node) runReceiver() {
	defer n.wg.Done()

	buf := make([]byte, receiveBufferSize)
	for {
		size, _, err := n.conn.ReadFromUDP(buf)
		if err != nil {
			// Terminate closed the socket out from under us.
			if n.isDone() {
				return
			}
			continue
		}
		if n.isDone() {
			return
		}
		if n.isDisabled() {
			// Edge rule (spec §4.1): disabled nodes do not service
			// packets, but we keep draining the socket.
			continue
		}
		if n.rollPacketLoss() {
			// Simulated transport loss (spec §4.1 step 1); expected,
			// not logged.
			continue
		}

		data := append([]byte(nil), buf[:size]...)
		hello, err := unmarshalHello(data)
		if err != nil {
			n.log.WithError(err).Debug("malformed datagram discarded")
			continue
		}
		n.handleHello(hello, n.clock.Now())
	}
}

// handleHello applies the transition rules of spec §4.1 Receiver for
// one parsed datagram.
func (n *Node) handleHello(h Hello, now time.Time) {
	n.mu.Lock()
	defer n.mu.Unlock()

	if n.done || n.disabled {
		return
	}

	p := h.ID
	info, known := n.peers[p]
	if !known {
		// The data model fixes the peer universe at construction
		// (spec §3); a datagram from a port outside it has no record
		// to update.
		return
	}

	info.LastReceived = now
	mutual := mutuallyVisible(n.port, h)

	if _, isBi := n.bi[p]; isBi {
		if mutual {
			info.Neighbours = h.BiNeighbours
			info.PacketsReceived++
			return
		}
		delete(n.bi, p)
		n.uni[p] = struct{}{}
		info.finalizeConnection(now)
		n.spawnDiscovererLocked()
		return
	}

	if len(n.bi) < n.target {
		if mutual {
			delete(n.uni, p)
			delete(n.unknown, p)
			n.bi[p] = struct{}{}
			info.BecameNeighbour = true
			info.ConnectionStartingTime = now
			info.Neighbours = h.BiNeighbours
			info.PacketsReceived++
			return
		}
		if _, isUnknown := n.unknown[p]; isUnknown {
			delete(n.unknown, p)
			n.uni[p] = struct{}{}
		}
		return
	}

	// |bi| == target and p is not in bi: quota is full, no
	// classification change (spec §9 open question, preserved as-is).
}

func (n *Node) isDisabled() bool {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.disabled
}

func (n *Node) rollPacketLoss() bool {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.rng.Float64() < n.lossProbability
}

// spawnDiscovererLocked starts one more concurrent discoverer run.
// Caller must hold n.mu.
func (n *Node) spawnDiscovererLocked() {
	n.wg.Add(1)
	go n.runDiscoverer()
}
