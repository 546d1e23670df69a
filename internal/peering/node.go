package peering

import (
	"math/rand"
	"net"
	"sync"
	"time"

	"code.cloudfoundry.org/clock"
	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
)

// Timing constants from spec §6. Jitter of ±1s is tolerated per §5; we
// do not add any deliberately.
const (
	BeaconInterval     = 2 * time.Second
	DiscoverInterval   = 2 * time.Second
	ScanInterval       = 8 * time.Second
	StalenessThreshold = 8 * time.Second

	// PacketLossProbability models the unreliable transport of spec §1
	// even though the underlying loopback socket never drops packets.
	PacketLossProbability = 0.05
)

// Node owns one datagram endpoint and the discovery/maintenance state
// machine for every other port it was seeded with (spec §4.1).
type Node struct {
	mu sync.Mutex

	port   Port
	target int // N, the target bidirectional degree

	clock clock.Clock
	log   *logrus.Entry
	rng   *rand.Rand

	lossProbability float64

	conn *net.UDPConn

	unknown map[Port]struct{}
	uni     map[Port]struct{}
	bi      map[Port]struct{}
	peers   map[Port]*PeerInfo

	disabled bool
	done     bool

	quit    chan struct{} // closed once by Terminate
	wg      sync.WaitGroup
	started bool
}

// Option customizes a Node at construction time.
type Option func(*Node)

// WithClock injects a clock.Clock, letting tests replace wall time
// with a fake, deterministically-advanced one (spec §8).
func WithClock(c clock.Clock) Option {
	return func(n *Node) { n.clock = c }
}

// WithRand seeds the node's nominee-selection and packet-loss RNG,
// letting scenario tests in spec §8 fix a seed.
func WithRand(r *rand.Rand) Option {
	return func(n *Node) { n.rng = r }
}

// WithLossProbability overrides PacketLossProbability, used by the
// lossy-link scenario of spec §8 (50% synthetic loss).
func WithLossProbability(p float64) Option {
	return func(n *Node) { n.lossProbability = p }
}

// WithLogger overrides the default logrus logger.
func WithLogger(l *logrus.Entry) Option {
	return func(n *Node) { n.log = l }
}

// NewNode constructs a node bound to port, seeded with the list of all
// other known ports, targeting bidirectional degree n. Binding the UDP
// socket is the only fallible step; a bind failure is fatal to the
// caller (spec §7) and is returned, not logged and swallowed.
func NewNode(port Port, otherPorts []Port, n int, opts ...Option) (*Node, error) {
	node := &Node{
		port:            port,
		target:          n,
		clock:           clock.NewClock(),
		rng:             rand.New(rand.NewSource(time.Now().UnixNano())),
		lossProbability: PacketLossProbability,
		unknown:         make(map[Port]struct{}, len(otherPorts)),
		uni:             make(map[Port]struct{}),
		bi:              make(map[Port]struct{}),
		peers:           make(map[Port]*PeerInfo, len(otherPorts)),
		quit:            make(chan struct{}),
	}
	for _, opt := range opts {
		opt(node)
	}
	if node.log == nil {
		node.log = logrus.WithField("port", int(port))
	}

	for _, p := range otherPorts {
		node.unknown[p] = struct{}{}
		node.peers[p] = &PeerInfo{}
	}

	addr := &net.UDPAddr{IP: net.ParseIP(Loopback), Port: int(port)}
	conn, err := net.ListenUDP("udp", addr)
	if err != nil {
		return nil, errors.Wrapf(err, "bind node on port %d", port)
	}
	node.conn = conn

	return node, nil
}

// Port returns the node's own identity.
func (n *Node) Port() Port { return n.port }

// Start begins the receiver, beaconer, discoverer and scanner
// activities and issues the initial broadcast Hello to every peer in
// the initial peer list (spec §4.1). Idempotent: a second call is a
// no-op.
func (n *Node) Start() {
	n.mu.Lock()
	if n.started {
		n.mu.Unlock()
		return
	}
	n.started = true
	allPeers := n.allKnownPortsLocked()
	n.mu.Unlock()

	n.wg.Add(1)
	go n.runReceiver()

	n.wg.Add(1)
	go n.runBeaconer()

	n.wg.Add(1)
	go n.runDiscoverer()

	n.wg.Add(1)
	go n.runScanner()

	for _, p := range allPeers {
		n.sendHello(p)
	}
}

// Stop enters outage (spec §4.1): disables sends/receives and returns
// every peer in uni∪bi back to unknown, finalising ConnectionLength
// for anyone leaving bi.
func (n *Node) Stop() {
	n.mu.Lock()
	defer n.mu.Unlock()

	n.disabled = true
	now := n.clock.Now()

	for p := range n.uni {
		delete(n.uni, p)
		n.unknown[p] = struct{}{}
	}
	for p := range n.bi {
		delete(n.bi, p)
		n.unknown[p] = struct{}{}
		info := n.peers[p]
		info.finalizeConnection(now)
	}

	n.log.Debug("node stopped")
}

// Resume clears the outage flag and restarts discovery. If the node
// has already been terminated this is a no-op: wg.Add must never race
// Terminate's wg.Wait, so both the done check and the Add happen
// under the same lock Terminate uses to flip done.
func (n *Node) Resume() {
	n.mu.Lock()
	if n.done {
		n.mu.Unlock()
		return
	}
	n.disabled = false
	n.wg.Add(1)
	n.mu.Unlock()

	n.log.Debug("node resumed")
	go n.runDiscoverer()
}

// Terminate ends the node: all loops exit within their next tick (at
// most one ScanInterval) and the socket is closed, unblocking the
// receiver's blocking read (spec §4.1).
func (n *Node) Terminate() {
	n.mu.Lock()
	if n.done {
		n.mu.Unlock()
		return
	}
	n.done = true
	n.mu.Unlock()

	close(n.quit)
	n.conn.Close()
	n.wg.Wait()
}

// allKnownPortsLocked returns every port this node has ever been
// seeded with, across all three sets. Caller must hold n.mu.
func (n *Node) allKnownPortsLocked() []Port {
	all := make([]Port, 0, len(n.peers))
	for p := range n.peers {
		all = append(all, p)
	}
	return all
}

// isDone reports whether Terminate has been called.
func (n *Node) isDone() bool {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.done
}

// Export is a read-only, lock-consistent extraction of a node's state,
// for the log/topology snapshot of spec §6. PeerInfo values are copied
// so the caller cannot observe (or race with) further mutation.
type Export struct {
	Port       Port
	Bi         []Port
	Uni        []Port
	KnownPorts []Port
	Peers      map[Port]PeerInfo
}

// Export takes a snapshot of the node's entire state under one lock
// acquisition (spec §4.1 snapshot()).
func (n *Node) Export() Export {
	n.mu.Lock()
	defer n.mu.Unlock()

	peers := make(map[Port]PeerInfo, len(n.peers))
	for p, info := range n.peers {
		peers[p] = *info
	}

	known := n.allKnownPortsLocked()
	return Export{
		Port:       n.port,
		Bi:         n.sortedSetLocked(n.bi),
		Uni:        n.sortedSetLocked(n.uni),
		KnownPorts: sortedPorts(known),
		Peers:      peers,
	}
}
