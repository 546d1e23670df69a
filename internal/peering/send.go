package peering

import "net"

// sendHello transmits a single Hello datagram to dst, stamping
// peerInfo[dst].LastSent and, if dst is currently a bi neighbour,
// incrementing PacketsSent (spec §4.1 Beaconer/Discoverer send rule).
func (n *Node) sendHello(dst Port) {
	n.mu.Lock()
	if n.done {
		n.mu.Unlock()
		return
	}
	info, ok := n.peers[dst]
	if !ok {
		n.mu.Unlock()
		return
	}
	now := n.clock.Now()
	hello := buildHello(n.port, n.sortedSetLocked(n.uni), n.sortedSetLocked(n.bi), info.LastSent, info.LastReceived)

	info.LastSent = now
	if _, isBi := n.bi[dst]; isBi {
		info.PacketsSent++
	}
	n.mu.Unlock()

	data, err := marshalHello(hello)
	if err != nil {
		n.log.WithError(err).WithField("dst", int(dst)).Warn("failed to encode hello datagram")
		return
	}

	addr := &net.UDPAddr{IP: net.ParseIP(Loopback), Port: int(dst)}
	if _, err := n.conn.WriteToUDP(data, addr); err != nil {
		// Transport loss is expected (spec §7); a write error here
		// just means the datagram never went out, which the protocol
		// already tolerates.
		n.log.WithError(err).WithField("dst", int(dst)).Debug("hello send failed")
	}
}

// sortedSetLocked returns the ports of set as a sorted slice. Caller
// must hold n.mu.
func (n *Node) sortedSetLocked(set map[Port]struct{}) []Port {
	ports := make([]Port, 0, len(set))
	for p := range set {
		ports = append(ports, p)
	}
	return sortedPorts(ports)
}
