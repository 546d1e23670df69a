// Package topology assembles the per-node log/topology payload of
// spec §6 from a peering.Export and persists it under logs/port_<P>/,
// plus the pluggable image-rendering sink spec §1 treats as an
// external collaborator.
package topology

import (
	"fmt"
	"math"
	"strconv"

	"github.com/arianhaddadi/P2P-Network/internal/peering"
)

const simulationLifetimeSeconds = 300.0

// NeighbourRecord describes one peer this node ever became bi with.
type NeighbourRecord struct {
	IP              string `json:"IP"`
	Port            int    `json:"Port"`
	ReceivedPackets int    `json:"Number of Received Packets"`
	SentPackets     int    `json:"Number of Sent Packets"`
}

// Edge is one directed edge of the topology graph, addresses rendered
// as "127.0.0.1:<port>" per spec §6.
type Edge struct {
	From string `json:"From"`
	To   string `json:"To"`
}

// Graph is the "Topology" field of the per-node log payload.
type Graph struct {
	Vertexes []int  `json:"Vertexes"`
	Edges    []Edge `json:"Edges"`
}

// Snapshot is the exact JSON schema of spec §6's port_<P>_logs.json.
type Snapshot struct {
	NeighboursConnected    []NeighbourRecord  `json:"Neighbours That Got Connected"`
	CurrentNeighbours      []int              `json:"Current Neighbours"`
	OtherNodesAvailability map[string]float64 `json:"Other Nodes Availability"`
	Topology               Graph              `json:"Topology"`
}

func address(p peering.Port) string {
	return fmt.Sprintf("%s:%d", peering.Loopback, int(p))
}

// Build assembles the snapshot the way original_source/classes/node.py
// does (logNeighbourshipHistory / logNodesAvailability /
// logCurrentNeighbours / logTopology), field for field.
func Build(export peering.Export) Snapshot {
	snap := Snapshot{
		NeighboursConnected:    []NeighbourRecord{},
		CurrentNeighbours:      []int{},
		OtherNodesAvailability: map[string]float64{},
		Topology: Graph{
			Vertexes: []int{},
			Edges:    []Edge{},
		},
	}

	for _, port := range export.KnownPorts {
		info := export.Peers[port]
		if !info.BecameNeighbour {
			continue
		}
		snap.NeighboursConnected = append(snap.NeighboursConnected, NeighbourRecord{
			IP:              peering.Loopback,
			Port:            int(port),
			ReceivedPackets: info.PacketsReceived,
			SentPackets:     info.PacketsSent,
		})
		availability := info.ConnectionLength.Seconds() / simulationLifetimeSeconds
		snap.OtherNodesAvailability[strconv.Itoa(int(port))] = round2(availability)
	}

	for _, port := range export.Bi {
		snap.CurrentNeighbours = append(snap.CurrentNeighbours, int(port))
	}

	buildTopology(&snap, export)

	return snap
}

// buildTopology mirrors logTopology: every known port is a vertex,
// edges come from each peer's self-reported bi list plus this node's
// own uni/bi sets.
func buildTopology(snap *Snapshot, export peering.Export) {
	self := export.Port

	for _, port := range export.KnownPorts {
		snap.Topology.Vertexes = append(snap.Topology.Vertexes, int(port))

		info := export.Peers[port]
		for _, reported := range info.Neighbours {
			if reported == self {
				continue
			}
			snap.Topology.Edges = append(snap.Topology.Edges,
				Edge{From: address(port), To: address(reported)},
				Edge{From: address(reported), To: address(port)},
			)
		}
	}

	for _, port := range export.Uni {
		snap.Topology.Edges = append(snap.Topology.Edges, Edge{From: address(self), To: address(port)})
	}

	for _, port := range export.Bi {
		snap.Topology.Edges = append(snap.Topology.Edges,
			Edge{From: address(self), To: address(port)},
			Edge{From: address(port), To: address(self)},
		)
	}
}

func round2(v float64) float64 {
	return math.Round(v*100) / 100
}
