// Command meshsim runs one simulation of the neighbour-discovery
// overlay. Parsing numOfNodes and N is the only job of this entry
// point; spec §1 treats it as an external collaborator, so it stays a
// thin wrapper around internal/network (see DESIGN.md).
package main

import (
	"context"
	"flag"
	"os"

	"github.com/sirupsen/logrus"

	"github.com/arianhaddadi/P2P-Network/internal/network"
)

func main() {
	numOfNodes := flag.Int("numOfNodes", 10, "number of nodes to simulate")
	n := flag.Int("N", 3, "target bidirectional degree per node")
	flag.Parse()

	log := logrus.WithField("component", "main")

	net := network.New(network.Config{
		NumOfNodes: *numOfNodes,
		N:          *n,
	})

	if err := net.Run(context.Background()); err != nil {
		log.WithError(err).Error("simulation run failed")
		os.Exit(1)
	}
}
