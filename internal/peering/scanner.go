package peering

import "time"

// runScanner evicts stale peers every ScanInterval (spec §4.1
// Scanner). Terminate must be observed within one tick, which bounds
// the teardown latency named in spec §4.1 terminate().
func (n *Node) runScanner() {
	defer n.wg.Done()

	ticker := n.clock.NewTicker(ScanInterval)
	defer ticker.Stop()

	for {
		select {
		case <-n.quit:
			return
		case <-ticker.C():
			n.scanOnce()
		}
	}
}

func (n *Node) scanOnce() {
	n.mu.Lock()
	defer n.mu.Unlock()

	if n.done || n.disabled {
		return
	}

	now := n.clock.Now()

	for p := range n.uni {
		info := n.peers[p]
		if staleLocked(info, now) {
			delete(n.uni, p)
			n.unknown[p] = struct{}{}
			info.Neighbours = nil
		}
	}

	for p := range n.bi {
		info := n.peers[p]
		if staleLocked(info, now) {
			delete(n.bi, p)
			n.unknown[p] = struct{}{}
			info.Neighbours = nil
			info.finalizeConnection(now)
			n.spawnDiscovererLocked()
		}
	}
}

// staleLocked reports whether info has gone silent for longer than
// StalenessThreshold (spec §4.1 Scanner). A peer that has never sent
// anything (LastReceived is zero) is not stale by this rule; it is
// simply not yet in uni/bi, so it never reaches here with a zero
// LastReceived in practice.
func staleLocked(info *PeerInfo, now time.Time) bool {
	if info.LastReceived.IsZero() {
		return false
	}
	return now.Sub(info.LastReceived) > StalenessThreshold
}
